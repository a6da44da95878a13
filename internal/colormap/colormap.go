// Package colormap holds the categorical value to color lookup used to paint features.
package colormap

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultAttribute = "CYCLE"

//go:embed default.yaml
var defaultTable []byte

type Entry struct {
	Category string `yaml:"category"`
	Color    string `yaml:"color"`
}

type file struct {
	Attribute string  `yaml:"attribute"`
	Fallback  string  `yaml:"fallback"`
	Entries   []Entry `yaml:"entries"`
}

// Table is read-only after construction.
type Table struct {
	attribute string
	fallback  string
	entries   []Entry
	index     map[string]string
}

// Default returns the built-in table.
func Default() *Table {
	t, err := Parse(defaultTable)
	if err != nil {
		panic(fmt.Errorf("colormap: built-in table: %w", err))
	}
	return t
}

// Load reads a YAML table from path. An empty path yields the built-in table.
func Load(path string) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read color table %q: %w", path, err)
	}
	t, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("color table %q: %w", path, err)
	}
	return t, nil
}

func Parse(b []byte) (*Table, error) {
	var f file
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if f.Attribute == "" {
		f.Attribute = DefaultAttribute
	}
	return New(f.Attribute, f.Fallback, f.Entries...)
}

// New builds a table. Entry order is kept as given.
func New(attribute, fallback string, entries ...Entry) (*Table, error) {
	attribute = strings.TrimSpace(attribute)
	if attribute == "" {
		return nil, errors.New("attribute is required")
	}
	fallback = strings.TrimSpace(fallback)
	if fallback == "" {
		return nil, errors.New("fallback color is required")
	}
	t := &Table{
		attribute: attribute,
		fallback:  fallback,
		entries:   make([]Entry, 0, len(entries)),
		index:     make(map[string]string, len(entries)),
	}
	for i, e := range entries {
		if strings.TrimSpace(e.Color) == "" {
			return nil, fmt.Errorf("entry %d (%q): color is required", i, e.Category)
		}
		if _, dup := t.index[e.Category]; dup {
			return nil, fmt.Errorf("duplicate category %q", e.Category)
		}
		t.index[e.Category] = e.Color
		t.entries = append(t.entries, e)
	}
	return t, nil
}

func (t *Table) Attribute() string { return t.attribute }
func (t *Table) Fallback() string  { return t.fallback }
func (t *Table) Len() int          { return len(t.entries) }

func (t *Table) Entries() []Entry {
	return append([]Entry(nil), t.entries...)
}

// Lookup returns the color for a categorical value, or the fallback for
// unmatched and absent (nil) values.
func (t *Table) Lookup(v any) string {
	if v == nil {
		return t.fallback
	}
	if c, ok := t.index[categoryString(v)]; ok {
		return c
	}
	return t.fallback
}

// MatchExpression compiles the table into a style "match" expression:
//
//	["match", ["to-string", ["get", attr]], cat1, color1, ..., fallback]
//
// The value is coerced to a string so numeric attributes hit string categories.
// An empty table compiles to the fallback literal since "match" needs at least one arm.
func (t *Table) MatchExpression() any {
	if len(t.entries) == 0 {
		return t.fallback
	}
	expr := make([]any, 0, 3+2*len(t.entries))
	expr = append(expr, "match", []any{"to-string", []any{"get", t.attribute}})
	for _, e := range t.entries {
		expr = append(expr, e.Category, e.Color)
	}
	return append(expr, t.fallback)
}

func categoryString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprint(x)
	default:
		return fmt.Sprint(x)
	}
}
