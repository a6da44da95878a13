// Package executor performs GET requests against the geometry and photo data service.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mohammed-shakir/geoatlas/internal/core/model"
	"github.com/mohammed-shakir/geoatlas/internal/core/observability"
)

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err carries an upstream 404.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

type Executor struct {
	logger   *slog.Logger
	client   *http.Client
	baseURL  *url.URL
	startNow func() time.Time // for tests
}

func New(logger *slog.Logger, client *http.Client, base string) (*Executor, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse data service url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("data service url %q must be absolute", base)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Executor{
		logger:   logger,
		client:   client,
		baseURL:  u,
		startNow: time.Now,
	}, nil
}

// FetchLayer issues GET {base}/layers/{id}.
func (e *Executor) FetchLayer(ctx context.Context, id model.LayerID) ([]byte, error) {
	return e.get(ctx, "layers", "layers", string(id))
}

// FetchPhoto issues GET {base}/photos/{reference}.
func (e *Executor) FetchPhoto(ctx context.Context, reference string) ([]byte, error) {
	return e.get(ctx, "photos", "photos", reference)
}

// FetchLayerIndex issues GET {base}/layers.
func (e *Executor) FetchLayerIndex(ctx context.Context) ([]byte, error) {
	return e.get(ctx, "layers", "layers")
}

func (e *Executor) get(ctx context.Context, upstream string, segments ...string) ([]byte, error) {
	u := e.resolve(segments...)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := e.startNow()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	dur := time.Since(start)
	observability.ObserveUpstreamLatency(upstream, dur.Seconds())
	e.logger.DebugContext(ctx, "upstream done",
		"url", u.String(), "status", resp.StatusCode, "duration", dur.String())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, &StatusError{URL: u.String(), StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return b, nil
}

// each segment is escaped on its own so references containing "/" or spaces stay one segment
func (e *Executor) resolve(segments ...string) *url.URL {
	u := *e.baseURL
	raw := []string{e.baseURL.EscapedPath()}
	plain := []string{e.baseURL.Path}
	for _, s := range segments {
		raw = append(raw, url.PathEscape(s))
		plain = append(plain, s)
	}
	u.Path = strings.Join(plain, "/")
	u.RawPath = strings.Join(raw, "/")
	u.RawQuery = ""
	return &u
}
