// Package invalidation defines the layer change events that expire cached
// layer responses and refresh the layers being viewed.
package invalidation

import (
	"fmt"
	"time"

	"github.com/mohammed-shakir/geoatlas/internal/core/model"
)

const (
	OpInsert  = "insert"
	OpUpdate  = "update"
	OpDelete  = "delete"
	OpRefresh = "refresh"
)

type Event struct {
	Version int       `json:"version"`
	Op      string    `json:"op"`
	Layer   string    `json:"layer"`
	Seq     uint64    `json:"seq,omitempty"`
	TS      time.Time `json:"ts"`
	Source  string    `json:"source,omitempty"`
}

func (e Event) LayerID() model.LayerID { return model.LayerID(e.Layer) }

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case OpInsert, OpUpdate, OpDelete, OpRefresh:
	default:
		return fmt.Errorf("op must be insert|update|delete|refresh")
	}
	if e.Layer == "" {
		return fmt.Errorf("layer is required")
	}
	if !e.LayerID().Valid() {
		return fmt.Errorf("layer %q is not a valid layer id", e.Layer)
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}
