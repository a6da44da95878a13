package photos

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammed-shakir/geoatlas/internal/core/executor"
)

type fakeFetcher struct {
	calls atomic.Int32
	body  map[string]string
	err   error
}

func (f *fakeFetcher) FetchPhoto(_ context.Context, ref string) ([]byte, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	b, ok := f.body[ref]
	if !ok {
		return nil, &executor.StatusError{URL: "/photos/" + ref, StatusCode: http.StatusNotFound}
	}
	return []byte(b), nil
}

func TestResolve_URLAndNotFound(t *testing.T) {
	f := &fakeFetcher{body: map[string]string{
		"IMG_1.jpg": `{"reference":"IMG_1.jpg","url":"https://photos.example/IMG_1.jpg"}`,
		"IMG_2.jpg": `{"reference":"IMG_2.jpg","url":""}`,
	}}
	r, err := New(f)
	if err != nil {
		t.Fatal(err)
	}

	for ref, want := range map[string]string{
		"IMG_1.jpg": "https://photos.example/IMG_1.jpg",
		"IMG_2.jpg": "",
		"missing":   "",
	} {
		got, err := r.Resolve(context.Background(), ref)
		if err != nil {
			t.Fatalf("%s: %v", ref, err)
		}
		if got != want {
			t.Fatalf("%s: got %q want %q", ref, got, want)
		}
	}
}

func TestResolve_UpstreamErrorIsReturned(t *testing.T) {
	boom := errors.New("connection refused")
	r, _ := New(&fakeFetcher{err: boom})
	if _, err := r.Resolve(context.Background(), "x.jpg"); !errors.Is(err, boom) {
		t.Fatalf("err=%v want wrapped boom", err)
	}
}

func TestResolve_BadBody(t *testing.T) {
	r, _ := New(&fakeFetcher{body: map[string]string{"x": "not json"}})
	if _, err := r.Resolve(context.Background(), "x"); err == nil {
		t.Fatal("want decode error")
	}
}

func TestResolve_CachesHitsAndMisses(t *testing.T) {
	f := &fakeFetcher{body: map[string]string{
		"a.jpg": `{"reference":"a.jpg","url":"https://photos.example/a.jpg"}`,
	}}
	r, err := New(f, WithCache(100, time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	for range 3 {
		if got, _ := r.Resolve(context.Background(), "a.jpg"); got != "https://photos.example/a.jpg" {
			t.Fatalf("got %q", got)
		}
		if got, _ := r.Resolve(context.Background(), "nope.jpg"); got != "" {
			t.Fatalf("got %q", got)
		}
	}
	if n := f.calls.Load(); n != 2 {
		t.Fatalf("fetches=%d want 2", n)
	}
}

func TestResolve_EmptyReferenceSkipsFetch(t *testing.T) {
	f := &fakeFetcher{}
	r, _ := New(f)
	if got, err := r.Resolve(context.Background(), "  "); got != "" || err != nil {
		t.Fatalf("got %q err=%v", got, err)
	}
	if f.calls.Load() != 0 {
		t.Fatal("fetched for empty reference")
	}
}
