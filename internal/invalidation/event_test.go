package invalidation

import (
	"encoding/json"
	"testing"
	"time"
)

func mustTS() time.Time { return time.Date(2025, 10, 26, 12, 30, 45, 0, time.UTC) }

func TestEvent_Validate_HappyPath(t *testing.T) {
	for _, op := range []string{OpInsert, OpUpdate, OpDelete, OpRefresh} {
		ev := Event{Version: 1, Op: op, Layer: "faults", Seq: 4, TS: mustTS()}
		if err := ev.Validate(); err != nil {
			t.Fatalf("%s: unexpected: %v", op, err)
		}
	}
}

func TestEvent_Validate_Rejects(t *testing.T) {
	cases := map[string]Event{
		"version": {Version: 2, Op: OpUpdate, Layer: "faults", TS: mustTS()},
		"op":      {Version: 1, Op: "truncate", Layer: "faults", TS: mustTS()},
		"layer":   {Version: 1, Op: OpUpdate, TS: mustTS()},
		"bad id":  {Version: 1, Op: OpUpdate, Layer: "demo:places", TS: mustTS()},
		"ts":      {Version: 1, Op: OpUpdate, Layer: "faults"},
	}
	for name, ev := range cases {
		if err := ev.Validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestEvent_JSONShape(t *testing.T) {
	raw := `{"version":1,"op":"update","layer":"fan_geology","seq":12,"ts":"2025-10-26T12:30:45Z"}`
	var ev Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.LayerID() != "fan_geology" || ev.Seq != 12 || !ev.TS.Equal(mustTS()) {
		t.Fatalf("decoded %+v", ev)
	}
	if err := ev.Validate(); err != nil {
		t.Fatal(err)
	}
}
