package database

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v4"
	"github.com/pkg/errors"

	"github.com/G-Research/conduit/internal/common/util"
)

// TestPostgresEnv must be set for tests that need a real Postgres instance.
const TestPostgresEnv = "CONDUIT_TEST_POSTGRES"

// TestConfig points at the local Postgres used by integration tests. If CONDUIT_TEST_POSTGRES holds a host name,
// that host is used instead of localhost.
func TestConfig() DatabaseConfig {
	host := "localhost"
	if value := os.Getenv(TestPostgresEnv); value != "" && value != "1" && value != "true" {
		host = value
	}
	return DatabaseConfig{
		User:     "postgres",
		Password: "psw",
		Dbname:   "postgres",
		Host:     host,
		Port:     5432,
		SslMode:  SslModeDisable,
	}
}

func HasTestDb() bool {
	return os.Getenv(TestPostgresEnv) != ""
}

// WithTestDb creates a dedicated database for the test
//
//	migrations: perform the list of migrations before entering the action callback
//	action: callback for client code, given the config of the new database
//
// The database is dropped afterwards.
func WithTestDb(migrations []Migration, action func(config DatabaseConfig) error) error {
	ctx := context.Background()
	config := TestConfig()

	// Connect and create a dedicated database for the test
	dbName := "test_" + util.NewULID()
	db, err := pgx.Connect(ctx, config.ConnectionString())
	if err != nil {
		return errors.WithStack(err)
	}
	defer db.Close(ctx)

	_, err = db.Exec(ctx, "CREATE DATABASE "+dbName)
	if err != nil {
		return errors.WithStack(err)
	}

	defer func() {
		// disconnect all db user before cleanup
		_, err = db.Exec(ctx,
			`SELECT pg_terminate_backend(pg_stat_activity.pid)
			 FROM pg_stat_activity WHERE pg_stat_activity.datname = '`+dbName+`';`)
		if err != nil {
			fmt.Println("Failed to disconnect users")
		}

		_, err = db.Exec(ctx, "DROP DATABASE "+dbName)
		if err != nil {
			fmt.Println("Failed to drop database")
		}
	}()

	// Connect again: this time to the database we just created.
	config.Dbname = dbName
	testDb, err := pgx.Connect(ctx, config.ConnectionString())
	if err != nil {
		return errors.WithStack(err)
	}
	err = UpdateDatabase(ctx, testDb, migrations)
	testDb.Close(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return action(config)
}
