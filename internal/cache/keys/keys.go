// Package keys names the redis entries that hold layer responses.
package keys

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const prefix = "geoatlas:layer:"

// Layer is the key of the full, unfiltered response of layer.
func Layer(layer string) string {
	return prefix + clean(layer)
}

// Query is the key of a filtered response. canonical is the stable encoding
// of the filter; an empty one is the unfiltered response.
func Query(layer, canonical string) string {
	canonical = strings.TrimSpace(canonical)
	if canonical == "" {
		return Layer(layer)
	}
	return fmt.Sprintf("%s:q=%016x", Layer(layer), xxhash.Sum64String(canonical))
}

// QueryPattern is a SCAN glob matching every filtered key of layer, but not
// the unfiltered one.
func QueryPattern(layer string) string {
	return Layer(layer) + ":q=*"
}

// clean keeps [A-Za-z0-9_-] and folds every other run of runes into one '-'.
// Glob metacharacters never survive, so QueryPattern cannot match across layers.
func clean(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	b.Grow(len(s))
	dash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
			dash = false
		default:
			if !dash {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return b.String()
}
