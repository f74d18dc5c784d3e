package etl

import "context"

// Record is one row flowing through the pipeline, keyed by column name.
type Record = map[string]any

// Page is one unit returned by a fetch call. Index is 1-based.
type Page struct {
	Index    int
	Records  []Record
	Metadata map[string]any
}

// Job is the part a concrete pipeline supplies. The engine owns paging,
// retries, validation gating and persistence.
type Job interface {
	// Fetch returns the page at index, or nil when there is nothing more.
	// Errors are retried under the run's RetryPolicy.
	Fetch(ctx context.Context, index int) (*Page, error)

	// Normalize turns the concatenated raw records into flat tabular records.
	Normalize(ctx context.Context, raw []Record) ([]Record, error)

	// MapSchema maps one normalized record onto the output schema.
	MapSchema(ctx context.Context, rec Record) (Record, error)

	// RowID returns the identity of a mapped record.
	RowID(rec Record) string
}

// Handshaker is implemented by jobs whose source exposes a cheap release or
// version call. An empty HandshakeEndpoint skips the handshake stage.
type Handshaker interface {
	HandshakeEndpoint() string
	Handshake(ctx context.Context, endpoint string) (map[string]any, error)
}

// Validator is implemented by jobs that gate their output on a schema check.
// failOpen tells the validator which policy the gate will apply.
type Validator interface {
	Validate(ctx context.Context, records []Record, failOpen bool) ([]Record, error)
}
