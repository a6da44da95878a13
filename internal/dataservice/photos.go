package dataservice

import (
	"encoding/json"
	"net/url"

	"github.com/mohammed-shakir/geoatlas/internal/core/model"
)

const (
	photoTable        = "photo_panels"
	defaultPhotoLimit = 100
	maxPhotoLimit     = 1000
)

// Photo is one photo panel record.
type Photo struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Hyperlink     *string         `json:"hyperlink"`
	MapSymbol     *string         `json:"map_symbol"`
	StratInterval *string         `json:"strat_interval"`
	FeatureType   *string         `json:"feature_type"`
	Length        *float64        `json:"length"`
	Geometry      json.RawMessage `json:"geometry"`
}

// PhotoQuery pages through photo panels, optionally narrowed by a partial
// name match and a bounding box.
type PhotoQuery struct {
	Limit  int
	Offset int
	Name   string
	BBox   *model.BBox
}

// ParsePhotoQuery reads limit, offset, name and bbox. Limit defaults to 100
// and may not exceed 1000.
func ParsePhotoQuery(q url.Values) (PhotoQuery, error) {
	f, err := ParseFilter(q, maxPhotoLimit)
	if err != nil {
		return PhotoQuery{}, err
	}
	out := PhotoQuery{Limit: f.Limit, Offset: f.Offset, Name: f.Name, BBox: f.BBox}
	if out.Limit == 0 {
		out.Limit = defaultPhotoLimit
	}
	return out, nil
}
