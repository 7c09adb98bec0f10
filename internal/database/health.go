package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Health captures diagnostic information about the database file.
type Health struct {
	Path             string         `json:"path"`
	SchemaVersion    int            `json:"schema_version"`
	DatabaseExists   bool           `json:"database_exists"`
	DatabaseReadable bool           `json:"database_readable"`
	MissingTables    []string       `json:"missing_tables,omitempty"`
	RowCounts        map[string]int `json:"row_counts,omitempty"`
	IntegrityCheck   bool           `json:"integrity_check"`
	Error            string         `json:"error,omitempty"`
}

// CheckHealth returns diagnostic information about the database.
func (d *DB) CheckHealth(ctx context.Context) (Health, error) {
	ctx = EnsureContext(ctx)
	health := Health{Path: d.path}

	info, err := os.Stat(d.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("database path %q is a directory", d.path)
	}
	health.DatabaseExists = true

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := d.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping database: %w", err)
	}
	health.DatabaseReadable = true

	if err := d.db.QueryRowContext(connCtx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("read schema version: %w", err)
	}

	health.RowCounts = make(map[string]int)
	for _, table := range managedTables {
		var name string
		row := d.db.QueryRowContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table)
		if err := row.Scan(&name); err != nil {
			health.MissingTables = append(health.MissingTables, table)
			continue
		}
		var count int
		if err := d.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count %s: %w", table, err)
		}
		health.RowCounts[table] = count
	}

	var integrity string
	if err := d.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrity, "ok")
	return health, nil
}
