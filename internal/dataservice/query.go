package dataservice

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

var (
	nameColumns      = []string{"Name", "NAME", "name"}
	mapSymbolColumns = []string{"MAP_SYMBOL", "MAPSYMBOL", "map_symbol"}
)

const (
	featureTypeColumn = "FEATURETYP"
	regionColumn      = "REGION"
	fanIDColumn       = "FanID"
)

// columnSet holds the columns a table actually has. Conditions on columns
// the table lacks collapse to FALSE instead of failing the query.
type columnSet map[string]struct{}

func newColumnSet(cols ...string) columnSet {
	s := make(columnSet, len(cols))
	for _, c := range cols {
		s[c] = struct{}{}
	}
	return s
}

func (s columnSet) has(c string) bool {
	_, ok := s[c]
	return ok
}

type queryBuilder struct {
	conds []string
	args  []any
}

func (b *queryBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

// anyOf ORs "CAST(col AS cast) op $n" over the columns present in cols.
func (b *queryBuilder) anyOf(cols columnSet, candidates []string, cast, op string, v any) {
	var parts []string
	var p string
	for _, c := range candidates {
		if !cols.has(c) {
			continue
		}
		if p == "" {
			p = b.arg(v)
		}
		parts = append(parts, fmt.Sprintf("CAST(%s AS %s) %s %s", pq.QuoteIdentifier(c), cast, op, p))
	}
	if len(parts) == 0 {
		b.conds = append(b.conds, "FALSE")
		return
	}
	b.conds = append(b.conds, "("+strings.Join(parts, " OR ")+")")
}

// buildFeatureQuery returns a query yielding one json FeatureCollection
// built by PostGIS, plus its positional arguments.
func buildFeatureQuery(table, geomCol string, cols columnSet, f Filter) (string, []any) {
	b := &queryBuilder{}
	geom := pq.QuoteIdentifier(geomCol)

	if f.BBox != nil {
		b.conds = append(b.conds, fmt.Sprintf("ST_Intersects(%s, ST_MakeEnvelope(%s, %s, %s, %s, 4326))",
			geom, b.arg(f.BBox.X1), b.arg(f.BBox.Y1), b.arg(f.BBox.X2), b.arg(f.BBox.Y2)))
	}
	if f.Name != "" {
		b.anyOf(cols, nameColumns, "TEXT", "ILIKE", "%"+escapeLike(f.Name)+"%")
	}
	if f.MapSymbol != "" {
		b.anyOf(cols, mapSymbolColumns, "TEXT", "=", f.MapSymbol)
	}
	if f.FeatureType != "" {
		b.anyOf(cols, []string{featureTypeColumn}, "TEXT", "=", f.FeatureType)
	}
	if f.Region != "" {
		b.anyOf(cols, []string{regionColumn}, "TEXT", "=", f.Region)
	}
	if f.FanID != nil {
		b.anyOf(cols, []string{fanIDColumn}, "INTEGER", "=", *f.FanID)
	}

	var sb strings.Builder
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(pq.QuoteIdentifier(table))
	if len(b.conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.conds, " AND "))
	}
	if f.Limit > 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(b.arg(f.Limit))
	}
	if f.Offset > 0 {
		sb.WriteString(" OFFSET ")
		sb.WriteString(b.arg(f.Offset))
	}

	q := fmt.Sprintf(`SELECT json_build_object(
	'type', 'FeatureCollection',
	'features', COALESCE(json_agg(json_build_object(
		'type', 'Feature',
		'geometry', ST_AsGeoJSON(t.%s)::json,
		'properties', to_jsonb(t) - %s
	)), '[]'::json)
) FROM (%s) t`, geom, pq.QuoteLiteral(geomCol), sb.String())
	return q, b.args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

var photoNameColumns = []string{"NAME", "PM_NAME"}

// buildPhotoQuery lists photo panel rows ordered by ID. Columns the table
// lacks read as NULL.
func buildPhotoQuery(geomCol string, cols columnSet, q PhotoQuery) (string, []any) {
	b := &queryBuilder{}
	geom := pq.QuoteIdentifier(geomCol)
	col := func(c, cast string) string {
		if !cols.has(c) {
			return "NULL::" + cast
		}
		return fmt.Sprintf("CAST(%s AS %s)", pq.QuoteIdentifier(c), cast)
	}

	if q.BBox != nil {
		b.conds = append(b.conds, fmt.Sprintf("ST_Intersects(%s, ST_MakeEnvelope(%s, %s, %s, %s, 4326))",
			geom, b.arg(q.BBox.X1), b.arg(q.BBox.Y1), b.arg(q.BBox.X2), b.arg(q.BBox.Y2)))
	}
	if q.Name != "" {
		b.anyOf(cols, photoNameColumns, "TEXT", "ILIKE", "%"+escapeLike(q.Name)+"%")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `SELECT
	COALESCE(%s, 0),
	COALESCE(%s, %s, 'Unknown'),
	%s, %s, %s, %s, %s,
	ST_AsGeoJSON(%s)::text
FROM %s`,
		col("ID", "BIGINT"),
		col("NAME", "TEXT"), col("PM_NAME", "TEXT"),
		col("Hyperlink", "TEXT"), col("MAPSYMBOL", "TEXT"), col("STRAT_INTE", "TEXT"),
		col("FEATURETYP", "TEXT"), col("LENGTH", "DOUBLE PRECISION"),
		geom, pq.QuoteIdentifier(photoTable))
	if len(b.conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.conds, " AND "))
	}
	if cols.has("ID") {
		sb.WriteString(` ORDER BY "ID"`)
	}
	sb.WriteString(" LIMIT ")
	sb.WriteString(b.arg(q.Limit))
	sb.WriteString(" OFFSET ")
	sb.WriteString(b.arg(q.Offset))
	return sb.String(), b.args
}
