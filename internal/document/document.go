// Package document defines the field and document models submitted to and
// returned from an index location.
package document

import (
	"fmt"
	"strings"
)

// Kind controls how a field value is indexed and whether it can be
// retrieved again.
type Kind int

const (
	// TokenizedStored is analyzed into terms and keeps its value. Summaries,
	// descriptions.
	TokenizedStored Kind = iota
	// TokenizedUnstored is analyzed into terms only. File contents, large text.
	TokenizedUnstored
	// ExactStored is indexed as one opaque term and keeps its value. Keys,
	// paths, proper names.
	ExactStored
	// ExactUnstored is indexed as one opaque term only.
	ExactUnstored
)

func (k Kind) Tokenized() bool { return k == TokenizedStored || k == TokenizedUnstored }

func (k Kind) Stored() bool { return k == TokenizedStored || k == ExactStored }

func (k Kind) String() string {
	switch k {
	case TokenizedStored:
		return "tokenized_stored"
	case TokenizedUnstored:
		return "tokenized_unstored"
	case ExactStored:
		return "exact_stored"
	case ExactUnstored:
		return "exact_unstored"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tokenized_stored", "text", "":
		return TokenizedStored, nil
	case "tokenized_unstored":
		return TokenizedUnstored, nil
	case "exact_stored", "string", "keyword":
		return ExactStored, nil
	case "exact_unstored":
		return ExactUnstored, nil
	}
	return 0, fmt.Errorf("unknown field kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Field is one named value of a document. A nil Value means the field is
// absent; projections passed to a search carry only Name, IsKey and
// Highlight.
type Field struct {
	Name      string  `json:"name"`
	Value     *string `json:"value,omitempty"`
	Kind      Kind    `json:"kind"`
	IsKey     bool    `json:"is_key,omitempty"`
	Highlight bool    `json:"highlight,omitempty"`
}

// NewField returns a field carrying value.
func NewField(name, value string, kind Kind) Field {
	return Field{Name: name, Value: &value, Kind: kind}
}

// Key returns a key field with an exact, stored value.
func Key(name, value string) Field {
	f := NewField(name, value, ExactStored)
	f.IsKey = true
	return f
}

// Project returns a value-less field used to request name from a hit.
func Project(name string, highlight bool) Field {
	return Field{Name: name, Highlight: highlight}
}

func (f Field) AsKey() Field {
	f.IsKey = true
	return f
}

func (f Field) WithHighlight() Field {
	f.Highlight = true
	return f
}

// StringValue returns the value or "" when absent.
func (f Field) StringValue() string {
	if f.Value == nil {
		return ""
	}
	return *f.Value
}

// Validate reports whether f can be appended to an index.
func (f Field) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("field name is empty")
	}
	if f.Value == nil {
		return fmt.Errorf("field %q has no value", f.Name)
	}
	if f.Kind < TokenizedStored || f.Kind > ExactUnstored {
		return fmt.Errorf("field %q: invalid kind %d", f.Name, int(f.Kind))
	}
	return nil
}

// Document is an ordered set of fields forming one logical record.
type Document []Field

// KeyFields returns exactly the fields flagged IsKey, in order.
func (d Document) KeyFields() []Field {
	keys := make([]Field, 0, 1)
	for _, f := range d {
		if f.IsKey {
			keys = append(keys, f)
		}
	}
	return keys
}

// Get returns the first field named name.
func (d Document) Get(name string) (Field, bool) {
	for _, f := range d {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Value returns the value of the first field named name, or "" if absent.
func (d Document) Value(name string) string {
	f, _ := d.Get(name)
	return f.StringValue()
}
