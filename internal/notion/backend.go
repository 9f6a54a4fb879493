package notion

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/taskflow/internal/storage"
)

var _ storage.Backend = (*Backend)(nil)

// Backend stores records as pages of Notion databases. The collection of a
// record is the id of the database it lives in.
type Backend struct {
	client *Client
}

// NewBackend returns a storage backend over client.
func NewBackend(client *Client) *Backend {
	return &Backend{client: client}
}

func (b *Backend) CreateRecord(ctx context.Context, collection string, fields storage.Fields) (string, error) {
	if collection == "" {
		return "", storage.ErrEmptyCollection
	}
	props, err := encodeProperties(fields)
	if err != nil {
		return "", err
	}
	id, err := b.client.CreatePage(ctx, collection, props)
	if err != nil {
		return "", fmt.Errorf("create page in %s: %w", collection, err)
	}
	return id, nil
}

func (b *Backend) ArchiveRecord(ctx context.Context, id string) error {
	if err := b.client.ArchivePage(ctx, id); err != nil {
		if IsNotFound(err) {
			return fmt.Errorf("archive page %s: %w", id, storage.ErrNotFound)
		}
		return fmt.Errorf("archive page %s: %w", id, err)
	}
	return nil
}

func (b *Backend) UpdateRecord(ctx context.Context, id string, fields storage.Fields) error {
	props, err := encodeProperties(fields)
	if err != nil {
		return err
	}
	if err := b.client.UpdatePageProperties(ctx, id, props); err != nil {
		if IsNotFound(err) {
			return fmt.Errorf("update page %s: %w", id, storage.ErrNotFound)
		}
		return fmt.Errorf("update page %s: %w", id, err)
	}
	return nil
}

type textContent struct {
	Content string `json:"content"`
}

type richText struct {
	Text textContent `json:"text"`
}

type named struct {
	Name string `json:"name"`
}

type reference struct {
	ID string `json:"id"`
}

type dateValue struct {
	Start string `json:"start"`
}

func encodeProperties(fields storage.Fields) (map[string]interface{}, error) {
	props := make(map[string]interface{}, len(fields))
	for name, v := range fields {
		p, err := encodeProperty(v)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		props[name] = p
	}
	return props, nil
}

func encodeProperty(v storage.Value) (map[string]interface{}, error) {
	switch v.Kind {
	case storage.KindTitle:
		return map[string]interface{}{"title": []richText{{Text: textContent{v.String}}}}, nil
	case storage.KindText:
		return map[string]interface{}{"rich_text": []richText{{Text: textContent{v.String}}}}, nil
	case storage.KindSelect:
		return map[string]interface{}{"select": named{v.String}}, nil
	case storage.KindMultiSelect:
		opts := make([]named, 0, len(v.List))
		for _, s := range v.List {
			opts = append(opts, named{s})
		}
		return map[string]interface{}{"multi_select": opts}, nil
	case storage.KindCheckbox:
		return map[string]interface{}{"checkbox": v.Bool}, nil
	case storage.KindNumber:
		return map[string]interface{}{"number": v.Number}, nil
	case storage.KindDate:
		return map[string]interface{}{"date": dateValue{v.String}}, nil
	case storage.KindRelation:
		refs := make([]reference, 0, len(v.List))
		for _, id := range v.List {
			refs = append(refs, reference{id})
		}
		return map[string]interface{}{"relation": refs}, nil
	default:
		return nil, fmt.Errorf("unsupported kind %q", v.Kind)
	}
}
