package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/BartekS5/refpull/internal/etl"
	"github.com/BartekS5/refpull/pkg/database"
)

// SQLSource pages through a table in a stable order.
type SQLSource struct {
	DB       *sql.DB
	Dialect  string // database driver name, see pkg/database
	Table    string
	OrderBy  string
	Columns  []string // empty selects every column
	PageSize int

	// Endpoint labels the database in the handshake cache. Empty disables
	// the handshake.
	Endpoint string
}

var _ Source = (*SQLSource)(nil)

func (s *SQLSource) Fetch(ctx context.Context, index int) (*etl.Page, error) {
	size := pageSize(s.PageSize)
	offset, err := offsetFor(index, size)
	if err != nil {
		return nil, err
	}
	query, err := s.pageQuery(offset, size)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.Table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	var records []etl.Record
	for rows.Next() {
		values := make([]any, len(cols))
		pointers := make([]any, len(cols))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		rec := make(etl.Record, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				rec[col] = string(b)
			} else {
				rec[col] = values[i]
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	meta := pageMetadata(KindSQL, offset, time.Since(start))
	meta["table"] = s.Table
	return &etl.Page{Records: records, Metadata: meta}, nil
}

func (s *SQLSource) pageQuery(offset, limit int) (string, error) {
	if s.Table == "" || s.OrderBy == "" {
		return "", fmt.Errorf("sql source needs a table and an order-by column")
	}
	cols := "*"
	if len(s.Columns) > 0 {
		cols = strings.Join(s.Columns, ", ")
	}
	base := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", cols, s.Table, s.OrderBy)

	switch s.dialect() {
	case database.DriverSQLServer, database.DriverPostgres:
		return fmt.Sprintf("%s OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", base, offset, limit), nil
	case database.DriverSQLite:
		return fmt.Sprintf("%s LIMIT %d OFFSET %d", base, limit, offset), nil
	default:
		return "", fmt.Errorf("unsupported SQL dialect %q", s.Dialect)
	}
}

func (s *SQLSource) dialect() string {
	if s.Dialect == "" {
		return database.DriverSQLServer
	}
	return s.Dialect
}

func (s *SQLSource) HandshakeEndpoint() string { return s.Endpoint }

// Handshake reports the server version.
func (s *SQLSource) Handshake(ctx context.Context, endpoint string) (map[string]any, error) {
	var query string
	switch s.dialect() {
	case database.DriverSQLServer:
		query = "SELECT @@VERSION"
	case database.DriverPostgres:
		query = "SELECT version()"
	case database.DriverSQLite:
		query = "SELECT sqlite_version()"
	default:
		return nil, fmt.Errorf("unsupported SQL dialect %q", s.Dialect)
	}

	var version string
	if err := s.DB.QueryRowContext(ctx, query).Scan(&version); err != nil {
		return nil, fmt.Errorf("query server version: %w", err)
	}
	return map[string]any{
		"endpoint": endpoint,
		"dialect":  s.dialect(),
		"version":  version,
	}, nil
}
