// Package source provides page fetchers for SQL tables, MongoDB collections
// and paged JSON APIs.
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/BartekS5/refpull/internal/etl"
)

// Source kinds accepted in job files.
const (
	KindSQL   = "sql"
	KindMongo = "mongo"
	KindHTTP  = "http"
)

// DefaultPageSize is used when a source is configured without one.
const DefaultPageSize = 500

// Source fetches 1-based pages and optionally answers a version handshake.
type Source interface {
	Fetch(ctx context.Context, index int) (*etl.Page, error)

	// HandshakeEndpoint identifies the handshake target; empty disables it.
	HandshakeEndpoint() string
	Handshake(ctx context.Context, endpoint string) (map[string]any, error)
}

func pageSize(n int) int {
	if n <= 0 {
		return DefaultPageSize
	}
	return n
}

func offsetFor(index, size int) (int, error) {
	if index < 1 {
		return 0, fmt.Errorf("page index must be >= 1, got %d", index)
	}
	return (index - 1) * size, nil
}

func pageMetadata(kind string, offset int, elapsed time.Duration) map[string]any {
	return map[string]any{
		"source":      kind,
		"offset":      offset,
		"duration_ms": float64(elapsed.Microseconds()) / 1000,
	}
}
