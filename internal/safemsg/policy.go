// Package safemsg decides which error messages may be shown to end users.
package safemsg

import (
	"errors"
	"strings"

	"github.com/fyrsmithlabs/taskflow/internal/clustering"
	"github.com/fyrsmithlabs/taskflow/internal/config"
)

const fallbackGeneric = "Processing failed, please try again."

// Policy maps errors to user-facing messages. Messages starting with one
// of SafePrefixes are shown verbatim; everything else is replaced by the
// generic message for the caller's locale.
type Policy struct {
	SafePrefixes  []string
	Generic       map[string]string
	DefaultLocale string
}

// FromConfig builds a Policy from the messages section.
func FromConfig(cfg config.MessagesConfig) *Policy {
	return &Policy{
		SafePrefixes:  cfg.SafePrefixes,
		Generic:       cfg.Generic,
		DefaultLocale: cfg.DefaultLocale,
	}
}

// UserMessage returns the message to show for err. Configuration errors are
// passed through unchanged.
func (p *Policy) UserMessage(err error, locale string) string {
	if err == nil {
		return ""
	}

	var cfgErr *clustering.ConfigError
	if errors.As(err, &cfgErr) {
		return cfgErr.Message
	}

	msg := err.Error()
	for _, prefix := range p.SafePrefixes {
		if prefix != "" && strings.HasPrefix(msg, prefix) {
			return msg
		}
	}
	return p.GenericMessage(locale)
}

// GenericMessage returns the generic failure message for locale, falling
// back to the default locale. Locale tags like "ko-KR" match "ko".
func (p *Policy) GenericMessage(locale string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if msg, ok := p.Generic[locale]; ok {
		return msg
	}
	if i := strings.IndexAny(locale, "-_"); i > 0 {
		if msg, ok := p.Generic[locale[:i]]; ok {
			return msg
		}
	}
	if msg, ok := p.Generic[p.DefaultLocale]; ok {
		return msg
	}
	return fallbackGeneric
}
