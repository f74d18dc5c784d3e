package source

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/BartekS5/refpull/internal/etl"
)

// MongoSource pages through a collection with skip/limit, sorted by SortField
// so pages stay consistent between calls.
type MongoSource struct {
	Client     *mongo.Client
	Database   string
	Collection string
	SortField  string // defaults to _id
	Filter     map[string]any
	PageSize   int
	Endpoint   string
}

var _ Source = (*MongoSource)(nil)

func (m *MongoSource) Fetch(ctx context.Context, index int) (*etl.Page, error) {
	size := pageSize(m.PageSize)
	offset, err := offsetFor(index, size)
	if err != nil {
		return nil, err
	}
	coll := m.Client.Database(m.Database).Collection(m.Collection)

	findOpts := options.Find().
		SetSkip(int64(offset)).
		SetLimit(int64(size)).
		SetSort(bson.D{{Key: m.sortField(), Value: 1}})

	filter := bson.M{}
	for k, v := range m.Filter {
		filter[k] = v
	}

	start := time.Now()
	cursor, err := coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("find in %s.%s: %w", m.Database, m.Collection, err)
	}
	defer cursor.Close(ctx)

	var records []etl.Record
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		records = append(records, etl.Record(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate cursor: %w", err)
	}

	meta := pageMetadata(KindMongo, offset, time.Since(start))
	meta["collection"] = m.Collection
	return &etl.Page{Records: records, Metadata: meta}, nil
}

func (m *MongoSource) sortField() string {
	if m.SortField == "" {
		return "_id"
	}
	return m.SortField
}

func (m *MongoSource) HandshakeEndpoint() string { return m.Endpoint }

// Handshake runs buildInfo against the admin database.
func (m *MongoSource) Handshake(ctx context.Context, endpoint string) (map[string]any, error) {
	var info bson.M
	err := m.Client.Database("admin").RunCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}}).Decode(&info)
	if err != nil {
		return nil, fmt.Errorf("buildInfo: %w", err)
	}
	return map[string]any{
		"endpoint":   endpoint,
		"version":    info["version"],
		"gitVersion": info["gitVersion"],
	}, nil
}
