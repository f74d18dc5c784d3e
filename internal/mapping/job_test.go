package mapping

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/BartekS5/refpull/internal/etl"
	"github.com/BartekS5/refpull/pkg/models"
)

type stubSource struct {
	pages    [][]etl.Record
	endpoint string
}

func (s *stubSource) Fetch(_ context.Context, index int) (*etl.Page, error) {
	if index > len(s.pages) {
		return &etl.Page{}, nil
	}
	return &etl.Page{Records: s.pages[index-1]}, nil
}

func (s *stubSource) HandshakeEndpoint() string { return s.endpoint }

func (s *stubSource) Handshake(_ context.Context, endpoint string) (map[string]any, error) {
	return map[string]any{"endpoint": endpoint, "version": "1.0"}, nil
}

func usersSpec() *models.JobSpec {
	return &models.JobSpec{
		Pipeline:   "crm",
		Dataset:    "users",
		IDStrategy: models.IDStrategy{SourceField: "id", Field: "user_id", Type: "int"},
		Fields: map[string]models.FieldConfig{
			"userName":     {Source: "user_name", Target: "username", Type: "string"},
			"points":       {Source: "points", Target: "points", Type: "int"},
			"registeredAt": {Source: "registered_at", Target: "registered_at", Type: "datetime", Format: "ISO8601"},
			"rank":         {Source: "taxon.rank", Target: "rank", Type: "enum"},
		},
		Required: []string{"username"},
	}
}

func TestNormalize_FlattensNestedDocuments(t *testing.T) {
	job := NewJob(usersSpec(), &stubSource{})
	raw := []etl.Record{
		{
			"id":    1,
			"taxon": map[string]any{"rank": "species", "lineage": map[string]any{"kingdom": "Animalia"}},
			"tags":  []any{"b", "a"},
		},
		{
			"id":     primitive.NewObjectIDFromTimestamp(time.Unix(0, 0)),
			"status": primitive.M{"active": true},
			"roles":  primitive.A{primitive.M{"name": "admin"}},
			"attrs":  primitive.D{{Key: "x", Value: int32(1)}},
		},
	}

	got, err := job.Normalize(context.Background(), raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := []etl.Record{
		{
			"id":                    1,
			"taxon.rank":            "species",
			"taxon.lineage.kingdom": "Animalia",
			"tags":                  `["b","a"]`,
		},
		{
			"id":            raw[1]["id"],
			"status.active": true,
			"roles":         `[{"name":"admin"}]`,
			"attrs.x":       int32(1),
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Normalize mismatch (-want +got):\n%s", diff)
	}
	if _, ok := raw[0]["taxon.rank"]; ok {
		t.Error("Normalize modified its input")
	}
}

func TestMapSchema_ConvertsAndRenames(t *testing.T) {
	job := NewJob(usersSpec(), &stubSource{})
	rec := etl.Record{
		"id":            "42",
		"user_name":     "jdoe",
		"points":        "150",
		"registered_at": "2024-03-01T10:00:00+02:00",
		"taxon.rank":    "gold",
		"password":      "secret",
	}

	got, err := job.MapSchema(context.Background(), rec)
	if err != nil {
		t.Fatalf("MapSchema: %v", err)
	}
	want := etl.Record{
		"user_id":       int64(42),
		"username":      "jdoe",
		"points":        int64(150),
		"registered_at": time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
		"rank":          "gold",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("MapSchema mismatch (-want +got):\n%s", diff)
	}
	if id := job.RowID(got); id != "42" {
		t.Errorf("RowID = %q, want %q", id, "42")
	}
}

func TestMapSchema_MissingFieldsAreSkipped(t *testing.T) {
	job := NewJob(usersSpec(), &stubSource{})
	got, err := job.MapSchema(context.Background(), etl.Record{"id": 7})
	if err != nil {
		t.Fatalf("MapSchema: %v", err)
	}
	if diff := cmp.Diff(etl.Record{"user_id": int64(7)}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestMapSchema_ConversionError(t *testing.T) {
	job := NewJob(usersSpec(), &stubSource{})
	_, err := job.MapSchema(context.Background(), etl.Record{"id": 1, "points": "lots"})
	if err == nil {
		t.Fatal("expected a conversion error")
	}
}

func TestMapSchema_PassThroughWithoutFields(t *testing.T) {
	spec := &models.JobSpec{Dataset: "raw", IDStrategy: models.IDStrategy{SourceField: "code", Field: "id"}}
	job := NewJob(spec, &stubSource{})

	got, err := job.MapSchema(context.Background(), etl.Record{"code": "PL", "name": "Poland"})
	if err != nil {
		t.Fatalf("MapSchema: %v", err)
	}
	want := etl.Record{"code": "PL", "name": "Poland", "id": "PL"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	job := NewJob(usersSpec(), &stubSource{})
	ctx := context.Background()

	valid := []etl.Record{{"user_id": int64(1), "username": "a"}, {"user_id": int64(2), "username": "b"}}
	got, err := job.Validate(ctx, valid, false)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if diff := cmp.Diff(valid, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	invalid := []etl.Record{{"user_id": int64(1), "username": ""}, {"username": "b"}, {"user_id": int64(3), "username": "c"}}
	if _, err := job.Validate(ctx, invalid, false); err == nil {
		t.Fatal("expected validation to fail")
	}
}

func TestJob_RunsThroughPipeline(t *testing.T) {
	spec := usersSpec()
	spec.Determinism.SortBy = []string{"user_id"}
	src := &stubSource{
		endpoint: "stub://users",
		pages: [][]etl.Record{
			{{"id": 2, "user_name": "bob", "points": 5}, {"id": 1, "user_name": "alice", "points": "10"}},
		},
	}

	p := etl.NewPipeline(NewJob(spec, src))
	res, err := p.Run(context.Background(), etl.RunConfig{
		PipelineName: spec.Pipeline,
		DatasetName:  spec.Dataset,
		Determinism:  etl.DeterminismConfig{SortBy: spec.Determinism.SortBy},
		Handshake:    etl.HandshakeConfig{Enabled: true},
		Output:       etl.OutputConfig{Dir: t.TempDir()},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.RecordCount != 2 {
		t.Errorf("RecordCount = %d, want 2", res.RecordCount)
	}
	if res.Handshake["version"] != "1.0" {
		t.Errorf("handshake = %v", res.Handshake)
	}
}
