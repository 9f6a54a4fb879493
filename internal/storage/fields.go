package storage

import (
	"encoding/json"
	"fmt"
)

// Kind is the property type of a field value.
type Kind string

const (
	KindTitle       Kind = "title"
	KindText        Kind = "rich_text"
	KindSelect      Kind = "select"
	KindMultiSelect Kind = "multi_select"
	KindCheckbox    Kind = "checkbox"
	KindNumber      Kind = "number"
	KindDate        Kind = "date"
	KindRelation    Kind = "relation"
)

// Value is one typed property value. Only the member matching Kind is used.
type Value struct {
	Kind   Kind
	String string   // title, rich_text, select, date
	List   []string // multi_select, relation
	Bool   bool     // checkbox
	Number float64  // number
}

func Title(s string) Value      { return Value{Kind: KindTitle, String: s} }
func Text(s string) Value       { return Value{Kind: KindText, String: s} }
func Select(s string) Value     { return Value{Kind: KindSelect, String: s} }
func Checkbox(b bool) Value     { return Value{Kind: KindCheckbox, Bool: b} }
func Number(n float64) Value    { return Value{Kind: KindNumber, Number: n} }
func Date(instant string) Value { return Value{Kind: KindDate, String: instant} }
func MultiSelect(opts ...string) Value {
	return Value{Kind: KindMultiSelect, List: nonNil(opts)}
}

// Relation references other records by id. No ids encodes an empty relation.
func Relation(ids ...string) Value {
	return Value{Kind: KindRelation, List: nonNil(ids)}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Fields maps property names to values. A property that is not set is
// absent from the map.
type Fields map[string]Value

// Merge returns a copy of f with every entry of update applied.
func (f Fields) Merge(update Fields) Fields {
	out := make(Fields, len(f)+len(update))
	for k, v := range f {
		out[k] = v
	}
	for k, v := range update {
		out[k] = v
	}
	return out
}

type valueDoc struct {
	Type  Kind            `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes v as {"type": kind, "value": ...}.
func (v Value) MarshalJSON() ([]byte, error) {
	var payload interface{}
	switch v.Kind {
	case KindTitle, KindText, KindSelect, KindDate:
		payload = v.String
	case KindMultiSelect, KindRelation:
		payload = nonNil(v.List)
	case KindCheckbox:
		payload = v.Bool
	case KindNumber:
		payload = v.Number
	default:
		return nil, fmt.Errorf("unknown field kind %q", v.Kind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(valueDoc{Type: v.Kind, Value: raw})
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var doc valueDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	out := Value{Kind: doc.Type}
	var err error
	switch doc.Type {
	case KindTitle, KindText, KindSelect, KindDate:
		err = json.Unmarshal(doc.Value, &out.String)
	case KindMultiSelect, KindRelation:
		err = json.Unmarshal(doc.Value, &out.List)
		out.List = nonNil(out.List)
	case KindCheckbox:
		err = json.Unmarshal(doc.Value, &out.Bool)
	case KindNumber:
		err = json.Unmarshal(doc.Value, &out.Number)
	default:
		return fmt.Errorf("unknown field kind %q", doc.Type)
	}
	if err != nil {
		return fmt.Errorf("decode %s value: %w", doc.Type, err)
	}
	*v = out
	return nil
}

// EncodeFields serializes fields for document and SQL stores.
func EncodeFields(f Fields) ([]byte, error) {
	if f == nil {
		f = Fields{}
	}
	return json.Marshal(f)
}

// DecodeFields is the inverse of EncodeFields.
func DecodeFields(data []byte) (Fields, error) {
	f := Fields{}
	if len(data) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return f, nil
}
