package state

import (
	"database/sql"
	"strings"

	_ "github.com/lib/pq"
)

var postgresDialect = sqlDialect{
	driver: "postgres",
	createTable: `
		CREATE TABLE IF NOT EXISTS %s (
			state_key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	upsert: `
		INSERT INTO %s (state_key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (state_key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
	selectAll: `SELECT state_key, value FROM %s`,
}

func NewPostgresBackend(dsn string) (Backend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &sqlBackend{
		dsn:       dsn,
		tableName: sqlStateTableName,
		dialect:   postgresDialect,
		openDB:    sql.Open,
	}, nil
}
