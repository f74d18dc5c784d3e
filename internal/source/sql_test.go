package source

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BartekS5/refpull/internal/etl"
	"github.com/BartekS5/refpull/pkg/database"
)

func openCountries(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.ConnectSQL(database.DriverSQLite, ":memory:")
	require.NoError(t, err)
	// every pooled connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE countries (code TEXT PRIMARY KEY, name TEXT, population INTEGER, area REAL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO countries VALUES
		('PL', 'Poland', 37750000, 312696.0),
		('DE', 'Germany', 83200000, 357588.5),
		('FR', 'France', 68000000, 551695.0),
		('CZ', 'Czechia', 10900000, 78871.0),
		('SK', 'Slovakia', 5430000, 49035.0)`)
	require.NoError(t, err)
	return db
}

func TestSQLSource_FetchPages(t *testing.T) {
	src := &SQLSource{
		DB:       openCountries(t),
		Dialect:  database.DriverSQLite,
		Table:    "countries",
		OrderBy:  "code",
		Columns:  []string{"code", "name", "population"},
		PageSize: 2,
	}
	ctx := context.Background()

	var codes []any
	for index := 1; ; index++ {
		page, err := src.Fetch(ctx, index)
		require.NoError(t, err)
		require.Equal(t, KindSQL, page.Metadata["source"])
		require.Equal(t, (index-1)*2, page.Metadata["offset"])
		if len(page.Records) == 0 {
			require.Equal(t, 4, index)
			break
		}
		for _, rec := range page.Records {
			require.Len(t, rec, 3)
			codes = append(codes, rec["code"])
		}
	}
	require.Equal(t, []any{"CZ", "DE", "FR", "PL", "SK"}, codes)
}

func TestSQLSource_RunsUnderExtractor(t *testing.T) {
	src := &SQLSource{DB: openCountries(t), Dialect: database.DriverSQLite, Table: "countries", OrderBy: "population", PageSize: 3}
	ext := etl.NewExtractor(etl.DefaultRetryPolicy(), nil)

	total := 0
	for page, err := range ext.Pages(context.Background(), src.Fetch) {
		require.NoError(t, err)
		total += len(page.Records)
	}
	require.Equal(t, 5, total)
}

func TestSQLSource_PageQuery(t *testing.T) {
	tests := []struct {
		dialect string
		want    string
	}{
		{"", "SELECT * FROM t ORDER BY id OFFSET 20 ROWS FETCH NEXT 10 ROWS ONLY"},
		{database.DriverSQLServer, "SELECT * FROM t ORDER BY id OFFSET 20 ROWS FETCH NEXT 10 ROWS ONLY"},
		{database.DriverPostgres, "SELECT * FROM t ORDER BY id OFFSET 20 ROWS FETCH NEXT 10 ROWS ONLY"},
		{database.DriverSQLite, "SELECT * FROM t ORDER BY id LIMIT 10 OFFSET 20"},
	}
	for _, tt := range tests {
		t.Run(tt.dialect, func(t *testing.T) {
			s := &SQLSource{Dialect: tt.dialect, Table: "t", OrderBy: "id"}
			got, err := s.pageQuery(20, 10)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	_, err := (&SQLSource{Dialect: "oracle", Table: "t", OrderBy: "id"}).pageQuery(0, 1)
	require.ErrorContains(t, err, "unsupported SQL dialect")

	_, err = (&SQLSource{Table: "t"}).pageQuery(0, 1)
	require.Error(t, err)
}

func TestSQLSource_Handshake(t *testing.T) {
	src := &SQLSource{DB: openCountries(t), Dialect: database.DriverSQLite, Endpoint: "sqlite://memory"}
	require.Equal(t, "sqlite://memory", src.HandshakeEndpoint())

	info, err := src.Handshake(context.Background(), src.HandshakeEndpoint())
	require.NoError(t, err)
	require.Equal(t, "sqlite", info["dialect"])
	require.NotEmpty(t, info["version"])
}

func TestSQLSource_RejectsZeroIndex(t *testing.T) {
	src := &SQLSource{Dialect: database.DriverSQLite, Table: "t", OrderBy: "id"}
	_, err := src.Fetch(context.Background(), 0)
	require.Error(t, err)
}
