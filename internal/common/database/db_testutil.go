package database

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/capstan/internal/common/util"
)

// ErrNoTestDatabase is returned by WithTestDb when no Postgres instance is reachable.
var ErrNoTestDatabase = errors.New("no postgres instance available for testing")

const testConnectionString = "host=localhost port=5432 user=postgres password=psw sslmode=disable"

// WithTestDb spins up a Postgres database for testing
//
//	migrations: perform the list of migrations before entering the action callback
//	action: callback for client code
//
// A dedicated database named test_<ulid> is created and dropped afterwards.
func WithTestDb(migrations []Migration, action func(db *pgxpool.Pool) error) error {
	ctx := context.Background()

	db, err := pgx.Connect(ctx, testConnectionString)
	if err != nil {
		return errors.Wrap(ErrNoTestDatabase, err.Error())
	}
	defer db.Close(ctx)

	dbName := "test_" + util.NewULID()
	_, err = db.Exec(ctx, "CREATE DATABASE "+dbName)
	if err != nil {
		return errors.WithStack(err)
	}

	// Connect again: this time to the database we just created.
	testDbPool, err := pgxpool.Connect(ctx, testConnectionString+" dbname="+dbName)
	if err != nil {
		return errors.WithStack(err)
	}

	defer func() {
		testDbPool.Close()
		// disconnect all db users before cleanup
		_, err = db.Exec(ctx,
			`SELECT pg_terminate_backend(pg_stat_activity.pid)
			 FROM pg_stat_activity WHERE pg_stat_activity.datname = '`+dbName+`';`)
		if err != nil {
			log.WithError(err).Warn("Failed to disconnect users")
		}

		_, err = db.Exec(ctx, "DROP DATABASE "+dbName)
		if err != nil {
			log.WithError(err).Warn("Failed to drop database")
		}
	}()

	err = UpdateDatabase(ctx, testDbPool, migrations)
	if err != nil {
		return errors.WithStack(err)
	}

	return action(testDbPool)
}
