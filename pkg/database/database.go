package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	_ "modernc.org/sqlite"

	"github.com/BartekS5/refpull/pkg/logger"
)

// Supported database/sql driver names.
const (
	DriverSQLServer = "sqlserver"
	DriverPostgres  = "pgx"
	DriverSQLite    = "sqlite"
)

// ConnectSQL opens a database/sql pool for driver and pings it. An empty
// driver means SQL Server.
func ConnectSQL(driver, connString string) (*sql.DB, error) {
	if driver == "" {
		driver = DriverSQLServer
	}
	switch driver {
	case DriverSQLServer, DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported SQL driver %q", driver)
	}

	db, err := sql.Open(driver, connString)
	if err != nil {
		return nil, fmt.Errorf("error opening SQL database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = db.PingContext(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to SQL database (ping failed): %w", err)
	}

	logger.New("database").Info("connected to SQL database", "driver", driver)
	return db, nil
}

func ConnectMongo(connString string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connString))
	if err != nil {
		return nil, fmt.Errorf("error creating MongoDB client: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()

	err = client.Ping(pingCtx, readpref.Primary())
	if err != nil {
		disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer disconnectCancel()
		_ = client.Disconnect(disconnectCtx)

		return nil, fmt.Errorf("error connecting to MongoDB (ping failed): %w", err)
	}

	logger.New("database").Info("connected to MongoDB")
	return client, nil
}
