package dataservice

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/geoatlas/internal/core/model"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidFilter = errors.New("invalid filter")
)

// Filter narrows a layer query. A zero Limit means no limit.
type Filter struct {
	Limit       int
	Offset      int
	BBox        *model.BBox
	Name        string
	MapSymbol   string
	FeatureType string
	Region      string
	FanID       *int
}

// ParseFilter reads a Filter from query parameters. maxLimit bounds an
// explicit limit; it does not impose one.
func ParseFilter(q url.Values, maxLimit int) (Filter, error) {
	var f Filter

	if s := strings.TrimSpace(q.Get("limit")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return Filter{}, fmt.Errorf("%w: limit must be a positive integer", ErrInvalidFilter)
		}
		if maxLimit > 0 && n > maxLimit {
			return Filter{}, fmt.Errorf("%w: limit must be <= %d", ErrInvalidFilter, maxLimit)
		}
		f.Limit = n
	}
	if s := strings.TrimSpace(q.Get("offset")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return Filter{}, fmt.Errorf("%w: offset must be a non-negative integer", ErrInvalidFilter)
		}
		f.Offset = n
	}
	if s := strings.TrimSpace(q.Get("bbox")); s != "" {
		bb, err := parseBBox(s)
		if err != nil {
			return Filter{}, fmt.Errorf("%w: bbox: %v", ErrInvalidFilter, err)
		}
		f.BBox = &bb
	}
	f.Name = strings.TrimSpace(q.Get("name"))
	f.MapSymbol = strings.TrimSpace(q.Get("map_symbol"))
	f.FeatureType = strings.TrimSpace(q.Get("feature_type"))
	f.Region = strings.TrimSpace(q.Get("region"))
	if s := strings.TrimSpace(q.Get("fan_id")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return Filter{}, fmt.Errorf("%w: fan_id must be an integer", ErrInvalidFilter)
		}
		f.FanID = &n
	}
	return f, nil
}

// bbox format: min_lng,min_lat,max_lng,max_lat (EPSG:4326)
func parseBBox(s string) (model.BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return model.BBox{}, errors.New("need min_lng,min_lat,max_lng,max_lat")
	}
	var v [4]float64
	for i, p := range parts {
		x, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return model.BBox{}, fmt.Errorf("coordinate %d: %w", i, err)
		}
		v[i] = x
	}
	bb := model.BBox{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3], SRID: "EPSG:4326"}
	if bb.X1 < -180 || bb.X1 > 180 || bb.X2 < -180 || bb.X2 > 180 {
		return model.BBox{}, errors.New("longitude out of range")
	}
	if bb.Y1 < -90 || bb.Y1 > 90 || bb.Y2 < -90 || bb.Y2 > 90 {
		return model.BBox{}, errors.New("latitude out of range")
	}
	if bb.X2 <= bb.X1 || bb.Y2 <= bb.Y1 {
		return model.BBox{}, errors.New("max must exceed min")
	}
	return bb, nil
}

// Canonical renders f as a stable string; equal filters render equal.
func (f Filter) Canonical() string {
	v := url.Values{}
	if f.Limit > 0 {
		v.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		v.Set("offset", strconv.Itoa(f.Offset))
	}
	if f.BBox != nil {
		v.Set("bbox", fmt.Sprintf("%g,%g,%g,%g", f.BBox.X1, f.BBox.Y1, f.BBox.X2, f.BBox.Y2))
	}
	if f.Name != "" {
		v.Set("name", strings.ToLower(f.Name))
	}
	if f.MapSymbol != "" {
		v.Set("map_symbol", f.MapSymbol)
	}
	if f.FeatureType != "" {
		v.Set("feature_type", f.FeatureType)
	}
	if f.Region != "" {
		v.Set("region", f.Region)
	}
	if f.FanID != nil {
		v.Set("fan_id", strconv.Itoa(*f.FanID))
	}
	return v.Encode()
}
