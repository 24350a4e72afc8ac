package database

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_add_index.sql":      {Data: []byte("CREATE INDEX foo ON bar (baz);")},
		"migrations/001_create_tables.sql":  {Data: []byte("CREATE TABLE bar (baz text);")},
		"migrations/README.md":              {Data: []byte("not a migration")},
		"migrations/nested/003_ignored.sql": {Data: []byte("SELECT 1;")},
	}

	migrations, err := ReadMigrations(fsys, "migrations")
	require.NoError(t, err)
	assert.Equal(t, []Migration{
		{id: 1, name: "001_create_tables.sql", sql: "CREATE TABLE bar (baz text);"},
		{id: 2, name: "002_add_index.sql", sql: "CREATE INDEX foo ON bar (baz);"},
	}, migrations)
}

func TestReadMigrations_BadName(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/create_tables.sql": {Data: []byte("CREATE TABLE bar (baz text);")},
	}
	_, err := ReadMigrations(fsys, "migrations")
	assert.Error(t, err)
}

func TestCreateConnectionString(t *testing.T) {
	connection := map[string]string{
		"host":     "localhost",
		"password": `it's\secret`,
		"port":     "5432",
	}
	assert.Equal(t,
		`host='localhost' password='it\'s\\secret' port='5432'`,
		CreateConnectionString(connection))
}
