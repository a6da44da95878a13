// Package detail renders the selected feature: a JSON payload for API
// consumers and an HTML fragment for the side panel.
package detail

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geoatlas/internal/core/model"
)

// BackControlID is the element id of the control that returns to the layer panel.
const BackControlID = "back-to-layers"

//go:embed detail.html
var detailHTML string

var tmpl = template.Must(template.New("detail.html").Parse(detailHTML))

// Payload is the wire contract of the detail view.
type Payload struct {
	Kind       model.LayerKind    `json:"kind,omitempty"`
	Properties geojson.Properties `json:"properties"`
	PhotoURL   *string            `json:"photoUrl"`
}

// FromSelection returns the payload for s. An inactive selection yields an
// empty payload with a null photo URL.
func FromSelection(s model.SelectionState) Payload {
	props := s.Properties.Clone()
	if props == nil {
		props = geojson.Properties{}
	}
	var url *string
	if s.Active && s.PhotoURL != nil && *s.PhotoURL != "" {
		u := *s.PhotoURL
		url = &u
	}
	return Payload{Kind: s.Kind, Properties: props, PhotoURL: url}
}

func (p Payload) JSON() ([]byte, error) {
	return json.Marshal(p)
}

// Row is one attribute line of the detail view.
type Row struct {
	Label string
	Value string
}

type view struct {
	Kind     model.LayerKind
	BackID   string
	Title    string
	PhotoURL string
	Rows     []Row
}

// Render writes the HTML fragment for p.
func Render(w io.Writer, p Payload) error {
	v := view{
		Kind:   p.Kind,
		BackID: BackControlID,
		Title:  title(p.Properties),
		Rows:   Rows(p.Properties),
	}
	if p.PhotoURL != nil {
		v.PhotoURL = *p.PhotoURL
	}
	if err := tmpl.ExecuteTemplate(w, "detail", v); err != nil {
		return fmt.Errorf("render detail: %w", err)
	}
	return nil
}

// Rows returns the attribute list sorted by key. Null and empty values are
// left out.
func Rows(props geojson.Properties) []Row {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Row, 0, len(keys))
	for _, k := range keys {
		v := FormatValue(props[k])
		if v == "" {
			continue
		}
		out = append(out, Row{Label: k, Value: v})
	}
	return out
}

// FormatValue renders a property value for people.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case bool:
		if x {
			return "Yes"
		}
		return "No"
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case json.Number:
		return x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

func title(props geojson.Properties) string {
	for _, k := range []string{"Name", "NAME", "name"} {
		if s := FormatValue(props[k]); s != "" {
			return s
		}
	}
	return ""
}
