package database

import "time"

type PostgresConfig struct {
	// libpq key/value connection parameters, e.g. host, port, user, password, dbname, sslmode
	Connection      map[string]string
	MaxOpenConns    int `validate:"gte=0"`
	MaxIdleConns    int `validate:"gte=0"`
	ConnMaxLifetime time.Duration
}
