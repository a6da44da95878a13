package main

import (
	"testing"

	"github.com/mohammed-shakir/geoatlas/internal/core/model"
)

func TestParseLayers(t *testing.T) {
	got, err := parseLayers(" faults, ,fan_geology ")
	if err != nil {
		t.Fatal(err)
	}
	want := []model.LayerID{"faults", "fan_geology"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v want %v", got, want)
	}
	if _, err := parseLayers("faults,Drop Table"); err == nil {
		t.Fatal("want error for invalid id")
	}
}
