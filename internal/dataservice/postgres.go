package dataservice

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/mohammed-shakir/geoatlas/internal/core/model"
	"github.com/mohammed-shakir/geoatlas/internal/core/observability"
)

const defaultGeometryColumn = "geometry"

// postgres error code for a missing relation
const undefinedTable = "42P01"

var _ Store = (*PGStore)(nil)

type PGStore struct {
	db         *sql.DB
	storageURL string
	logger     *slog.Logger
}

type PGOption func(*PGStore)

func WithStorageURL(u string) PGOption { return func(s *PGStore) { s.storageURL = u } }

func WithPGLogger(l *slog.Logger) PGOption {
	return func(s *PGStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, opts ...PGOption) (*PGStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return AttachDB(db, opts...), nil
}

func AttachDB(db *sql.DB, opts ...PGOption) *PGStore {
	s := &PGStore{db: db, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *PGStore) Close() error { return s.db.Close() }

func (s *PGStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *PGStore) ListLayers(ctx context.Context) ([]LayerInfo, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `
SELECT t.table_name, gc.type
FROM information_schema.tables t
LEFT JOIN geometry_columns gc
  ON gc.f_table_name = t.table_name AND gc.f_table_schema = 'public'
WHERE t.table_schema = 'public' AND t.table_type = 'BASE TABLE'
ORDER BY t.table_name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []LayerInfo
	for rows.Next() {
		var name string
		var geomType sql.NullString
		if err := rows.Scan(&name, &geomType); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		if isExcluded(name) {
			continue
		}
		li := LayerInfo{Name: name, DisplayName: model.DisplayName(model.LayerID(name))}
		if geomType.Valid {
			gt := geomType.String
			li.GeometryType = &gt
		}
		out = append(out, li)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	for i := range out {
		// a table we cannot count is still listed
		n, err := s.count(ctx, out[i].Name)
		if err != nil {
			s.logger.WarnContext(ctx, "count features failed", "table", out[i].Name, "err", err)
		}
		out[i].FeatureCount = n
	}
	observability.ObserveUpstreamLatency("postgres", time.Since(start).Seconds())
	return out, nil
}

func (s *PGStore) count(ctx context.Context, table string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+pq.QuoteIdentifier(table)).Scan(&n)
	return n, err
}

// DescribeLayer reports one table the way ListLayers does. Unknown, excluded
// and missing tables are ErrNotFound.
func (s *PGStore) DescribeLayer(ctx context.Context, layer string) (LayerInfo, error) {
	if !model.LayerID(layer).Valid() || isExcluded(layer) {
		return LayerInfo{}, fmt.Errorf("layer %q: %w", layer, ErrNotFound)
	}
	start := time.Now()

	n, err := s.count(ctx, layer)
	switch {
	case isUndefinedTable(err):
		return LayerInfo{}, fmt.Errorf("layer %q: %w", layer, ErrNotFound)
	case err != nil:
		return LayerInfo{}, fmt.Errorf("count features of %q: %w", layer, err)
	}

	li := LayerInfo{Name: layer, DisplayName: model.DisplayName(model.LayerID(layer)), FeatureCount: n}
	var gt string
	err = s.db.QueryRowContext(ctx, `
SELECT type FROM geometry_columns
WHERE f_table_schema = 'public' AND f_table_name = $1
LIMIT 1`, layer).Scan(&gt)
	switch {
	case err == nil:
		li.GeometryType = &gt
	case !errors.Is(err, sql.ErrNoRows):
		return LayerInfo{}, fmt.Errorf("geometry type of %q: %w", layer, err)
	}
	observability.ObserveUpstreamLatency("postgres", time.Since(start).Seconds())
	return li, nil
}

func (s *PGStore) LayerGeoJSON(ctx context.Context, layer string, f Filter) ([]byte, error) {
	if !model.LayerID(layer).Valid() || isExcluded(layer) {
		return nil, fmt.Errorf("layer %q: %w", layer, ErrNotFound)
	}
	start := time.Now()

	cols, err := s.columns(ctx, layer)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("layer %q: %w", layer, ErrNotFound)
	}
	geomCol, err := s.geometryColumn(ctx, layer)
	if err != nil {
		return nil, err
	}

	q, args := buildFeatureQuery(layer, geomCol, cols, f)
	var body []byte
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&body); err != nil {
		return nil, fmt.Errorf("query layer %q: %w", layer, err)
	}
	observability.ObserveUpstreamLatency("postgres", time.Since(start).Seconds())
	return body, nil
}

// columns returns the table's columns; empty when the table does not exist.
func (s *PGStore) columns(ctx context.Context, table string) (columnSet, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT column_name FROM information_schema.columns
WHERE table_schema = 'public' AND table_name = $1`, table)
	if err != nil {
		return nil, fmt.Errorf("columns of %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		names = append(names, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("columns of %q: %w", table, err)
	}
	return newColumnSet(names...), nil
}

func (s *PGStore) geometryColumn(ctx context.Context, table string) (string, error) {
	var c string
	err := s.db.QueryRowContext(ctx, `
SELECT f_geometry_column FROM geometry_columns
WHERE f_table_schema = 'public' AND f_table_name = $1
LIMIT 1`, table).Scan(&c)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return defaultGeometryColumn, nil
	case err != nil:
		return "", fmt.Errorf("geometry column of %q: %w", table, err)
	}
	return c, nil
}

// PhotoURL looks the reference up as a stored photo filename, then as a
// photo panel hyperlink.
func (s *PGStore) PhotoURL(ctx context.Context, reference string) (string, error) {
	var u sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT "url" FROM "photos" WHERE "filename" = $1 LIMIT 1`, reference).Scan(&u)
	switch {
	case err == nil && u.Valid && u.String != "":
		return photoURL(s.storageURL, u.String), nil
	case err != nil && !errors.Is(err, sql.ErrNoRows) && !isUndefinedTable(err):
		return "", fmt.Errorf("lookup photo %q: %w", reference, err)
	}

	var link sql.NullString
	err = s.db.QueryRowContext(ctx, `SELECT "Hyperlink" FROM "photo_panels" WHERE "Hyperlink" = $1 LIMIT 1`, reference).Scan(&link)
	switch {
	case err == nil && link.Valid && link.String != "":
		return photoURL(s.storageURL, link.String), nil
	case err == nil, errors.Is(err, sql.ErrNoRows), isUndefinedTable(err):
		return "", fmt.Errorf("photo %q: %w", reference, ErrNotFound)
	default:
		return "", fmt.Errorf("lookup photo panel %q: %w", reference, err)
	}
}

// ListPhotos pages through photo panels. A database without the photo table
// has no photos.
func (s *PGStore) ListPhotos(ctx context.Context, q PhotoQuery) ([]Photo, error) {
	start := time.Now()
	cols, err := s.columns(ctx, photoTable)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return []Photo{}, nil
	}
	geomCol, err := s.geometryColumn(ctx, photoTable)
	if err != nil {
		return nil, err
	}

	query, args := buildPhotoQuery(geomCol, cols, q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []Photo{}
	for rows.Next() {
		var (
			p                          Photo
			link, sym, strat, featType sql.NullString
			length                     sql.NullFloat64
			geom                       sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Name, &link, &sym, &strat, &featType, &length, &geom); err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		p.Hyperlink = nullString(link)
		p.MapSymbol = nullString(sym)
		p.StratInterval = nullString(strat)
		p.FeatureType = nullString(featType)
		if length.Valid {
			v := length.Float64
			p.Length = &v
		}
		if geom.Valid {
			p.Geometry = json.RawMessage(geom.String)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	observability.ObserveUpstreamLatency("postgres", time.Since(start).Seconds())
	return out, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func isUndefinedTable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == undefinedTable
}
