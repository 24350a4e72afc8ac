package database

import (
	"context"
	"embed"

	"github.com/jackc/pgtype/pgxtype"

	commondb "github.com/G-Research/capstan/internal/common/database"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

func Migrations() ([]commondb.Migration, error) {
	return commondb.ReadMigrations(migrationFiles, "migrations")
}

// Migrate brings the schema up to date.
func Migrate(ctx context.Context, db pgxtype.Querier) error {
	migrations, err := Migrations()
	if err != nil {
		return err
	}
	return commondb.UpdateDatabase(ctx, db, migrations)
}
