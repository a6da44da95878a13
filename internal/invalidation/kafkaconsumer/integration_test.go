package kafkaconsumer_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/geoatlas/internal/cache/keys"
	"github.com/mohammed-shakir/geoatlas/internal/cache/redisstore"
	"github.com/mohammed-shakir/geoatlas/internal/core/model"
	"github.com/mohammed-shakir/geoatlas/internal/fetchmerge"
	"github.com/mohammed-shakir/geoatlas/internal/invalidation"
	"github.com/mohammed-shakir/geoatlas/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/geoatlas/internal/layersource"
)

type versionedFetcher struct {
	calls atomic.Int32
}

// each fetch returns one more feature than the last
func (f *versionedFetcher) FetchLayer(_ context.Context, _ model.LayerID) ([]byte, error) {
	n := int(f.calls.Add(1))
	fc := `{"type":"FeatureCollection","features":[`
	for i := range n {
		if i > 0 {
			fc += ","
		}
		fc += `{"type":"Feature","geometry":{"type":"Point","coordinates":[-116.5,36.4]},"properties":{}}`
	}
	return []byte(fc + "]}"), nil
}

func TestInvalidation_EndToEnd_RedisAndController(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rc, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	defer func() { _ = rc.Close() }()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &versionedFetcher{}
	src := layersource.New(f,
		layersource.WithCache(rc, func(string) time.Duration { return time.Minute }, time.Second),
		layersource.WithLogger(logger))
	ctrl := fetchmerge.New(src, nil, fetchmerge.WithLogger(logger))

	ctrl.SetActiveLayers(ctx, model.Faults)
	ctrl.Wait()
	if got := len(ctrl.CurrentMerged().Features); got != 1 {
		t.Fatalf("first round features=%d want 1", got)
	}
	key := keys.Layer(string(model.Faults))
	if !mr.Exists(key) {
		t.Fatalf("layer response not cached under %s", key)
	}

	c := kafkaconsumer.New(kafkaconsumer.Config{Topic: "atlas-layer-changes"}, logger, src, ctrl)
	b, _ := json.Marshal(invalidation.Event{Version: 1, Op: "update", Layer: "faults", Seq: 1, TS: time.Now().UTC()})
	if err := c.ProcessOne(ctx, &sarama.ConsumerMessage{Topic: "atlas-layer-changes", Value: b}); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	ctrl.Wait()

	if got := f.calls.Load(); got != 2 {
		t.Fatalf("upstream fetches=%d want 2", got)
	}
	if got := len(ctrl.CurrentMerged().Features); got != 2 {
		t.Fatalf("refreshed features=%d want 2", got)
	}
	if !mr.Exists(key) {
		t.Fatalf("refreshed response not re-cached")
	}
}
