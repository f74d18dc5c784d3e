package models

import "time"

// JobSpec represents the root of a YAML job file. One job file describes one
// pipeline producing one dataset.
type JobSpec struct {
	Pipeline    string                 `yaml:"pipeline"`
	Dataset     string                 `yaml:"dataset"`
	Source      SourceConfig           `yaml:"source"`
	IDStrategy  IDStrategy             `yaml:"idStrategy"`
	Fields      map[string]FieldConfig `yaml:"fields"`
	Required    []string               `yaml:"required,omitempty"`
	Determinism DeterminismSpec        `yaml:"determinism"`
	Hashing     HashingSpec            `yaml:"hashing"`
	Retry       RetrySpec              `yaml:"retry"`
	Handshake   HandshakeSpec          `yaml:"handshake"`
	Validation  ValidationSpec         `yaml:"validation"`
	Output      OutputSpec             `yaml:"output"`
	Publish     PublishSpec            `yaml:"publish,omitempty"`
}

// SourceConfig selects and parameterises the page source.
type SourceConfig struct {
	Kind     string `yaml:"kind"` // "sql", "mongo" or "http"
	PageSize int    `yaml:"pageSize"`
	Endpoint string `yaml:"endpoint,omitempty"`

	// sql
	Driver  string   `yaml:"driver,omitempty"`
	DSN     string   `yaml:"dsn,omitempty"`
	Table   string   `yaml:"table,omitempty"`
	OrderBy string   `yaml:"orderBy,omitempty"`
	Columns []string `yaml:"columns,omitempty"`

	// mongo
	URI        string         `yaml:"uri,omitempty"`
	Database   string         `yaml:"database,omitempty"`
	Collection string         `yaml:"collection,omitempty"`
	SortField  string         `yaml:"sortField,omitempty"`
	Filter     map[string]any `yaml:"filter,omitempty"`

	// http
	URL        string  `yaml:"url,omitempty"`
	PageParam  string  `yaml:"pageParam,omitempty"`
	SizeParam  string  `yaml:"sizeParam,omitempty"`
	ResultsKey string  `yaml:"resultsKey,omitempty"`
	VersionURL string  `yaml:"versionUrl,omitempty"`
	RateLimit  float64 `yaml:"rateLimit,omitempty"`
}

// IDStrategy names the source field holding a record's identity and the
// output column it is copied to.
type IDStrategy struct {
	SourceField string `yaml:"sourceField"`
	Field       string `yaml:"field"`
	Type        string `yaml:"type,omitempty"`
}

// FieldConfig maps one source column onto one output column.
type FieldConfig struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
	Type   string `yaml:"type"`
	Format string `yaml:"format,omitempty"`
}

type DeterminismSpec struct {
	SortBy       []string `yaml:"sortBy,omitempty"`
	ColumnOrder  []string `yaml:"columnOrder,omitempty"`
	DropUnlisted bool     `yaml:"dropUnlisted,omitempty"`
	FloatFormat  string   `yaml:"floatFormat,omitempty"`
}

type HashingSpec struct {
	RowHashColumn     string   `yaml:"rowHashColumn,omitempty"`
	RowHashFields     []string `yaml:"rowHashFields,omitempty"`
	BusinessKeyColumn string   `yaml:"businessKeyColumn,omitempty"`
	BusinessKeyFields []string `yaml:"businessKeyFields,omitempty"`
}

type RetrySpec struct {
	MaxAttempts   int           `yaml:"maxAttempts"`
	BaseDelay     time.Duration `yaml:"baseDelay"`
	BackoffFactor float64       `yaml:"backoffFactor"`
	MaxDelay      time.Duration `yaml:"maxDelay"`
	Jitter        time.Duration `yaml:"jitter,omitempty"`
	RandomJitter  bool          `yaml:"randomJitter,omitempty"`
	Strict        bool          `yaml:"strict,omitempty"`
}

// HandshakeSpec leaves the handshake on unless enabled is set to false.
type HandshakeSpec struct {
	Enabled *bool         `yaml:"enabled,omitempty"`
	TTL     time.Duration `yaml:"ttl"`
}

func (h HandshakeSpec) IsEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}

type ValidationSpec struct {
	FailOpen bool `yaml:"failOpen"`
}

type OutputSpec struct {
	Dir              string `yaml:"dir,omitempty"`
	Delimiter        string `yaml:"delimiter,omitempty"`
	ContentAddressed bool   `yaml:"contentAddressed,omitempty"`
	RowIDColumn      string `yaml:"rowIdColumn,omitempty"`
}

// PublishSpec is optional; an empty Bucket disables publishing.
type PublishSpec struct {
	Bucket string `yaml:"bucket,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
}
