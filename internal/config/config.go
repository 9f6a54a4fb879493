// Package config provides configuration loading for taskflow.
//
// Configuration is read from an optional YAML file, overridden by
// environment variables, completed with defaults and then validated.
// See LoadWithFile for precedence and the environment variable mapping.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Storage providers.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageMongo    = "mongo"
	StorageRedis    = "redis"
	StorageNotion   = "notion"
)

// Page source providers.
const (
	PagesNotion = "notion"
	PagesStatic = "static"
)

// Clustering model providers.
const (
	ModelGemini = "gemini"
	ModelOpenAI = "openai"
)

// Config holds the complete taskflow configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Storage       StorageConfig       `koanf:"storage"`
	Databases     DatabasesConfig     `koanf:"databases"`
	Clustering    ClusteringConfig    `koanf:"clustering"`
	Pages         PagesConfig         `koanf:"pages"`
	Messages      MessagesConfig      `koanf:"messages"`
	NATS          NATSConfig          `koanf:"nats"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// StorageConfig selects and configures the record storage backend.
// Keys are flat so every field is reachable as STORAGE_<FIELD>.
type StorageConfig struct {
	Provider      string `koanf:"provider"`
	SQLitePath    string `koanf:"sqlite_path"`
	PostgresDSN   Secret `koanf:"postgres_dsn"`
	MongoURI      Secret `koanf:"mongo_uri"`
	MongoDatabase string `koanf:"mongo_database"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword Secret `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	NotionToken   Secret `koanf:"notion_token"`
	NotionBaseURL string `koanf:"notion_base_url"`
	NotionVersion string `koanf:"notion_version"`
}

// DatabasesConfig holds the collection (database) identifiers the
// transaction writes to and the keyword database pages are read from.
type DatabasesConfig struct {
	Templates string `koanf:"templates"`
	Steps     string `koanf:"steps"`
	Instances string `koanf:"instances"`
	Keywords  string `koanf:"keywords"`
}

// ClusteringConfig configures the generative model used for keyword clustering.
type ClusteringConfig struct {
	Provider    string   `koanf:"provider"`
	APIKey      Secret   `koanf:"api_key"`
	Model       string   `koanf:"model"`
	BaseURL     string   `koanf:"base_url"`
	Timeout     Duration `koanf:"timeout"`
	RateLimit   float64  `koanf:"rate_limit"` // requests per second
	Burst       int      `koanf:"burst"`
	Temperature float64  `koanf:"temperature"`
}

// PagesConfig configures where keyword pages are fetched from.
type PagesConfig struct {
	Provider         string `koanf:"provider"`
	StaticFile       string `koanf:"static_file"`
	TitleProperty    string `koanf:"title_property"`
	KeywordsProperty string `koanf:"keywords_property"`
}

// MessagesConfig holds the user-facing error message policy.
type MessagesConfig struct {
	SafePrefixes  []string          `koanf:"safe_prefixes"`
	Generic       map[string]string `koanf:"generic"`
	DefaultLocale string            `koanf:"default_locale"`
}

// NATSConfig configures transaction event publishing.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ObservabilityConfig holds logging and OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry   bool   `koanf:"enable_telemetry"`
	ServiceName       string `koanf:"service_name"`
	OTLPEndpoint      string `koanf:"otlp_endpoint"`
	OTLPProtocol      string `koanf:"otlp_protocol"`
	OTLPInsecure      bool   `koanf:"otlp_insecure"`
	OTLPTLSSkipVerify bool   `koanf:"otlp_tls_skip_verify"`
	LogLevel          string `koanf:"log_level"`
	LogFormat         string `koanf:"log_format"`
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate validates the configuration.
//
// Returns an error if:
//   - Server port is not between 1 and 65535
//   - Shutdown timeout is not positive
//   - The storage, pages or clustering provider is unknown
//   - A provider is selected without its connection settings
//   - Any database identifier is missing
//   - The default locale has no generic message
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if err := c.Storage.validate(); err != nil {
		return err
	}

	if c.Databases.Templates == "" || c.Databases.Steps == "" || c.Databases.Instances == "" {
		return errors.New("databases.templates, databases.steps and databases.instances are required")
	}

	switch c.Pages.Provider {
	case PagesNotion:
		if c.Databases.Keywords == "" {
			return errors.New("databases.keywords is required for the notion page source")
		}
		if !c.Storage.NotionToken.IsSet() {
			return errors.New("storage.notion_token is required for the notion page source")
		}
	case PagesStatic:
		// An empty static_file yields an empty page corpus.
	default:
		return fmt.Errorf("unknown pages provider: %q", c.Pages.Provider)
	}

	switch c.Clustering.Provider {
	case ModelGemini, ModelOpenAI:
	default:
		return fmt.Errorf("unknown clustering provider: %q", c.Clustering.Provider)
	}
	if c.Clustering.RateLimit <= 0 {
		return errors.New("clustering.rate_limit must be positive")
	}

	if _, ok := c.Messages.Generic[c.Messages.DefaultLocale]; !ok {
		return fmt.Errorf("messages.generic has no entry for default locale %q", c.Messages.DefaultLocale)
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("nats.url is required when nats is enabled")
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	return nil
}

func (s StorageConfig) validate() error {
	switch s.Provider {
	case StorageMemory:
	case StorageSQLite:
		if s.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required for sqlite storage")
		}
	case StoragePostgres:
		if !s.PostgresDSN.IsSet() {
			return errors.New("storage.postgres_dsn is required for postgres storage")
		}
	case StorageMongo:
		if !s.MongoURI.IsSet() {
			return errors.New("storage.mongo_uri is required for mongo storage")
		}
	case StorageRedis:
		if s.RedisAddr == "" {
			return errors.New("storage.redis_addr is required for redis storage")
		}
	case StorageNotion:
		if !s.NotionToken.IsSet() {
			return errors.New("storage.notion_token is required for notion storage")
		}
	default:
		return fmt.Errorf("unknown storage provider: %q", s.Provider)
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9190
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Storage.Provider == "" {
		cfg.Storage.Provider = StorageMemory
	}
	if cfg.Storage.MongoDatabase == "" {
		cfg.Storage.MongoDatabase = "taskflow"
	}
	if cfg.Storage.NotionBaseURL == "" {
		cfg.Storage.NotionBaseURL = "https://api.notion.com"
	}
	if cfg.Storage.NotionVersion == "" {
		cfg.Storage.NotionVersion = "2022-06-28"
	}

	// Non-notion backends address collections by name.
	if cfg.Storage.Provider != StorageNotion {
		if cfg.Databases.Templates == "" {
			cfg.Databases.Templates = "templates"
		}
		if cfg.Databases.Steps == "" {
			cfg.Databases.Steps = "steps"
		}
		if cfg.Databases.Instances == "" {
			cfg.Databases.Instances = "instances"
		}
	}

	if cfg.Pages.Provider == "" {
		if cfg.Storage.Provider == StorageNotion {
			cfg.Pages.Provider = PagesNotion
		} else {
			cfg.Pages.Provider = PagesStatic
		}
	}
	if cfg.Pages.TitleProperty == "" {
		cfg.Pages.TitleProperty = "Name"
	}
	if cfg.Pages.KeywordsProperty == "" {
		cfg.Pages.KeywordsProperty = "Keywords"
	}

	if cfg.Clustering.Provider == "" {
		cfg.Clustering.Provider = ModelGemini
	}
	if cfg.Clustering.Timeout == 0 {
		cfg.Clustering.Timeout = Duration(60 * time.Second)
	}
	if cfg.Clustering.RateLimit == 0 {
		cfg.Clustering.RateLimit = 50.0 / 60.0
	}
	if cfg.Clustering.Burst == 0 {
		cfg.Clustering.Burst = 5
	}
	if cfg.Clustering.Temperature == 0 {
		cfg.Clustering.Temperature = 0.2
	}

	if len(cfg.Messages.SafePrefixes) == 0 {
		cfg.Messages.SafePrefixes = []string{"no matching page found", "search text is empty"}
	}
	if cfg.Messages.Generic == nil {
		cfg.Messages.Generic = map[string]string{
			"en": "Processing failed, please try again.",
			"ko": "처리에 실패했습니다. 다시 시도해 주세요.",
		}
	}
	if cfg.Messages.DefaultLocale == "" {
		cfg.Messages.DefaultLocale = "en"
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "taskflow"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "taskflow"
	}
	if cfg.Observability.OTLPEndpoint == "" {
		cfg.Observability.OTLPEndpoint = "localhost:4317"
	}
	if cfg.Observability.OTLPProtocol == "" {
		cfg.Observability.OTLPProtocol = "grpc"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.LogFormat == "" {
		cfg.Observability.LogFormat = "json"
	}
	cfg.Observability.LogFormat = strings.ToLower(cfg.Observability.LogFormat)
}
