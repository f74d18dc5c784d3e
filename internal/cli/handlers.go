package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"github.com/BartekS5/refpull/internal/config"
	"github.com/BartekS5/refpull/internal/etl"
	"github.com/BartekS5/refpull/internal/mapping"
	"github.com/BartekS5/refpull/internal/publish"
	"github.com/BartekS5/refpull/internal/source"
	"github.com/BartekS5/refpull/pkg/database"
	"github.com/BartekS5/refpull/pkg/logger"
	"github.com/BartekS5/refpull/pkg/models"
)

// summaryStages are the table columns, in pipeline order.
var summaryStages = []etl.Stage{
	etl.StageHandshake, etl.StageExtract, etl.StageNormalize,
	etl.StageMapSchema, etl.StageValidate, etl.StageWrite,
}

type jobOutcome struct {
	file      string
	spec      *models.JobSpec
	result    *etl.RunResult
	published *publish.Result
	err       error
}

func runJobs(ctx context.Context, out io.Writer, opts *RunOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = cfg.OutputDir
	}

	specs := make([]*models.JobSpec, len(opts.JobFiles))
	for i, f := range opts.JobFiles {
		spec, err := config.LoadJob(f)
		if err != nil {
			return err
		}
		specs[i] = spec
	}

	conns := newConnections(cfg)
	defer conns.Close()
	cache := etl.NewHandshakeCache(logger.New("handshake"))
	log := logger.New("cli")

	outcomes := make([]jobOutcome, len(specs))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Parallel, 1))
	for i, spec := range specs {
		g.Go(func() error {
			outcomes[i] = runJob(gCtx, cfg, conns, cache, spec, outputDir, opts)
			outcomes[i].file = opts.JobFiles[i]
			if err := outcomes[i].err; err != nil {
				log.Error("job failed", slog.String("job", opts.JobFiles[i]), slog.String("error", err.Error()))
			}
			return nil
		})
	}
	_ = g.Wait()

	fmt.Fprintln(out, renderSummary(outcomes))

	var errs []error
	for _, o := range outcomes {
		if o.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.file, o.err))
		}
	}
	return errors.Join(errs...)
}

func runJob(ctx context.Context, cfg *config.Config, conns *connections, cache *etl.HandshakeCache, spec *models.JobSpec, outputDir string, opts *RunOptions) jobOutcome {
	outcome := jobOutcome{spec: spec}

	src, err := buildSource(spec.Source, conns)
	if err != nil {
		outcome.err = err
		return outcome
	}

	runCfg := config.RunConfig(spec, outputDir)
	runCfg.DryRun = opts.DryRun
	runCfg.StrictPaging = runCfg.StrictPaging || opts.Strict

	p := etl.NewPipeline(mapping.NewJob(spec, src),
		etl.WithHandshakeCache(cache),
		etl.WithLogger(logger.New("pipeline")))
	outcome.result, outcome.err = p.Run(ctx, runCfg)
	if outcome.err != nil || opts.DryRun || spec.Publish.Bucket == "" {
		return outcome
	}

	store, err := publish.NewMinIOStore(publish.Config{
		Endpoint:  cfg.MinIO.Endpoint,
		AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey,
		UseSSL:    cfg.MinIO.UseSSL,
	})
	if err != nil {
		outcome.err = fmt.Errorf("publish: %w", err)
		return outcome
	}
	pub := publish.NewPublisher(store, spec.Publish.Bucket, spec.Publish.Prefix)
	outcome.published, err = pub.Publish(ctx, spec.Pipeline, spec.Dataset, outcome.result.DatasetPath, outcome.result.MetadataPath)
	if err != nil {
		outcome.err = fmt.Errorf("publish: %w", err)
	}
	return outcome
}

func buildSource(sc models.SourceConfig, conns *connections) (source.Source, error) {
	switch sc.Kind {
	case source.KindSQL:
		db, driver, err := conns.SQL(sc.Driver, sc.DSN)
		if err != nil {
			return nil, err
		}
		return &source.SQLSource{
			DB:       db,
			Dialect:  driver,
			Table:    sc.Table,
			OrderBy:  sc.OrderBy,
			Columns:  sc.Columns,
			PageSize: sc.PageSize,
			Endpoint: sc.Endpoint,
		}, nil
	case source.KindMongo:
		client, err := conns.Mongo(sc.URI)
		if err != nil {
			return nil, err
		}
		return &source.MongoSource{
			Client:     client,
			Database:   sc.Database,
			Collection: sc.Collection,
			SortField:  sc.SortField,
			Filter:     sc.Filter,
			PageSize:   sc.PageSize,
			Endpoint:   sc.Endpoint,
		}, nil
	case source.KindHTTP:
		src := source.NewHTTPSource(sc.URL, sc.RateLimit)
		src.PageParam = sc.PageParam
		src.SizeParam = sc.SizeParam
		src.PageSize = sc.PageSize
		src.ResultsKey = sc.ResultsKey
		src.VersionURL = sc.VersionURL
		return src, nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", sc.Kind)
	}
}

// connections opens each database once and shares it between jobs.
type connections struct {
	cfg *config.Config

	mu    sync.Mutex
	sql   map[string]*sql.DB
	mongo map[string]*mongo.Client
}

func newConnections(cfg *config.Config) *connections {
	return &connections{
		cfg:   cfg,
		sql:   make(map[string]*sql.DB),
		mongo: make(map[string]*mongo.Client),
	}
}

// SQL returns a pool for driver and dsn, falling back to SQL_DRIVER and
// SQL_CONNECTION_STRING.
func (c *connections) SQL(driver, dsn string) (*sql.DB, string, error) {
	if driver == "" {
		driver = c.cfg.SQLDriver
	}
	if dsn == "" {
		dsn = c.cfg.SQLConnString
	}
	if dsn == "" {
		return nil, "", errors.New("sql source has no dsn and SQL_CONNECTION_STRING is not set")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	key := driver + "|" + dsn
	if db, ok := c.sql[key]; ok {
		return db, driver, nil
	}
	db, err := database.ConnectSQL(driver, dsn)
	if err != nil {
		return nil, "", err
	}
	c.sql[key] = db
	return db, driver, nil
}

// Mongo returns a client for uri, falling back to MONGO_CONNECTION_STRING.
func (c *connections) Mongo(uri string) (*mongo.Client, error) {
	if uri == "" {
		uri = c.cfg.MongoConnString
	}
	if uri == "" {
		return nil, errors.New("mongo source has no uri and MONGO_CONNECTION_STRING is not set")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.mongo[uri]; ok {
		return client, nil
	}
	client, err := database.ConnectMongo(uri)
	if err != nil {
		return nil, err
	}
	c.mongo[uri] = client
	return client, nil
}

func (c *connections) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, db := range c.sql {
		db.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, client := range c.mongo {
		_ = client.Disconnect(ctx)
	}
}

func renderSummary(outcomes []jobOutcome) string {
	w := table.NewWriter()
	w.SetStyle(table.StyleLight)

	header := table.Row{"Dataset", "Records"}
	for _, s := range summaryStages {
		header = append(header, string(s)+" ms")
	}
	header = append(header, "Status", "Output")
	w.AppendHeader(header)

	configs := []table.ColumnConfig{{Number: 2, Align: text.AlignRight}}
	for i := range summaryStages {
		configs = append(configs, table.ColumnConfig{Number: 3 + i, Align: text.AlignRight})
	}
	w.SetColumnConfigs(configs)

	for _, o := range outcomes {
		name := o.file
		if o.spec != nil {
			name = o.spec.Pipeline + "/" + o.spec.Dataset
		}
		row := table.Row{name}
		var durations etl.StageDurations
		if o.result != nil {
			row = append(row, o.result.RecordCount)
			durations = o.result.StageDurations
		} else {
			row = append(row, "-")
		}
		for _, s := range summaryStages {
			if d, ok := durations[string(s)]; ok {
				row = append(row, fmt.Sprintf("%.1f", d))
			} else {
				row = append(row, "-")
			}
		}

		switch {
		case o.err != nil:
			row = append(row, "failed", o.err.Error())
		case o.published != nil:
			row = append(row, "published", o.published.Bucket+"/"+o.published.DatasetKey)
		case o.result != nil && o.result.DatasetPath == "":
			row = append(row, "dry run", o.result.ContentHash)
		default:
			row = append(row, "ok", o.result.DatasetPath)
		}
		w.AppendRow(row)
	}
	return w.Render()
}
