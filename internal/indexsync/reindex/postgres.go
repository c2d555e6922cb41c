package reindex

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/syntrixbase/indexsync/internal/indexsync/types"
)

// PostgresSource reads entities from PostgreSQL tables. Each row is
// serialized with row_to_json so the payload carries every column. The
// version column may be an integer, a numeric or a timestamp; timestamps
// become Unix milliseconds like Mongo dates do.
type PostgresSource struct {
	db *sql.DB
}

func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

func (s *PostgresSource) Tenants(ctx context.Context, e Entity) ([]string, error) {
	query := fmt.Sprintf(`SELECT DISTINCT %s::text FROM %s WHERE %s IS NOT NULL ORDER BY 1`,
		pq.QuoteIdentifier(e.TenantField), pq.QuoteIdentifier(e.Collection), pq.QuoteIdentifier(e.TenantField))

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func (s *PostgresSource) Page(ctx context.Context, e Entity, tenantID, after string, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, pageQuery(e, after != ""), pageArgs(tenantID, after, limit)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec     Record
			version any
			data    []byte
		)
		if err := rows.Scan(&rec.ID, &version, &data); err != nil {
			return nil, err
		}
		if rec.Version, err = postgresVersion(version); err != nil {
			return nil, fmt.Errorf("row %s: %s: %w", rec.ID, e.VersionField, err)
		}
		if err := types.DecodeJSON(data, &rec.Data); err != nil {
			return nil, fmt.Errorf("failed to decode row %s: %w", rec.ID, err)
		}
		delete(rec.Data, e.IDField)
		delete(rec.Data, e.TenantField)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func pageQuery(e Entity, withCursor bool) string {
	id := pq.QuoteIdentifier(e.IDField)
	tenant := pq.QuoteIdentifier(e.TenantField)
	version := "NULL"
	if e.VersionField != "" {
		version = "t." + pq.QuoteIdentifier(e.VersionField)
	}

	where := fmt.Sprintf("t.%s = $1", tenant)
	limit := "$2"
	if withCursor {
		where += fmt.Sprintf(" AND t.%s > $2", id)
		limit = "$3"
	}
	return fmt.Sprintf(`SELECT t.%s::text, %s, row_to_json(t) FROM %s t WHERE %s ORDER BY t.%s LIMIT %s`,
		id, version, pq.QuoteIdentifier(e.Collection), where, id, limit)
}

func pageArgs(tenantID, after string, limit int) []any {
	if after == "" {
		return []any{tenantID, limit}
	}
	return []any{tenantID, after, limit}
}

// postgresVersion converts a scanned version column to the job version.
func postgresVersion(v any) (int64, error) {
	switch v := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return v, nil
	case float64:
		if v < 0 || v > math.MaxInt64 {
			return 0, fmt.Errorf("version %v out of range", v)
		}
		return int64(v), nil
	case time.Time:
		return v.UnixMilli(), nil
	case []byte:
		return parseVersion(string(v))
	case string:
		return parseVersion(v)
	default:
		return 0, fmt.Errorf("unsupported version type %T", v)
	}
}

// parseVersion reads numeric columns, which the driver returns as text.
func parseVersion(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || f > math.MaxInt64 {
		return 0, fmt.Errorf("unsupported version value %q", s)
	}
	return int64(f), nil
}
