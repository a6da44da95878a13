// Package geojsonagg decodes and merges GeoJSON FeatureCollections.
package geojsonagg

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb/geojson"
)

// Empty returns a FeatureCollection with no features.
func Empty() *geojson.FeatureCollection {
	return geojson.NewFeatureCollection()
}

// Decode validates that b is a FeatureCollection whose members are Features
// and parses it.
func Decode(b []byte) (*geojson.FeatureCollection, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(b, &root); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}

	var typ string
	if tRaw, ok := root["type"]; !ok {
		return nil, fmt.Errorf(`missing required member "type"`)
	} else if err := json.Unmarshal(tRaw, &typ); err != nil {
		return nil, fmt.Errorf(`parse "type": %w`, err)
	} else if typ != "FeatureCollection" {
		return nil, fmt.Errorf(`type is %q (want "FeatureCollection")`, typ)
	}

	featuresRaw, ok := root["features"]
	if !ok {
		return nil, fmt.Errorf(`missing required member "features"`)
	}
	var feats []json.RawMessage
	if err := json.Unmarshal(featuresRaw, &feats); err != nil {
		return nil, fmt.Errorf(`"features" must be an array: %w`, err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		return nil, fmt.Errorf("decode feature collection: %w", err)
	}
	if fc.Features == nil {
		fc.Features = []*geojson.Feature{}
	}
	return fc, nil
}

// Flatten concatenates the features of every part. Features keep their order
// within a part; parts are appended in argument order. Nil parts are skipped.
// Features are shared, not copied.
func Flatten(parts ...*geojson.FeatureCollection) *geojson.FeatureCollection {
	n := 0
	for _, p := range parts {
		if p != nil {
			n += len(p.Features)
		}
	}
	out := geojson.NewFeatureCollection()
	out.Features = make([]*geojson.Feature, 0, n)
	for _, p := range parts {
		if p == nil {
			continue
		}
		out.Features = append(out.Features, p.Features...)
	}
	return out
}

// Len reports the feature count of fc, treating nil as empty.
func Len(fc *geojson.FeatureCollection) int {
	if fc == nil {
		return 0
	}
	return len(fc.Features)
}
