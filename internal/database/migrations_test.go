package database

import (
	"context"
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrationsEmbedded(t *testing.T) {
	t.Parallel()

	entries, err := fs.ReadDir(Migrations(), migrationsDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	body, err := fs.ReadFile(Migrations(), migrationsDir+"/"+entries[0].Name())
	require.NoError(t, err)
	sql := string(body)
	require.True(t, strings.HasPrefix(sql, "-- +goose Up"))
	require.Contains(t, sql, "-- +goose Down")
	for _, table := range []string{
		"companies", "scan_runs", "snapshots", "documents", "financial_metrics",
		"changes", "llm_events", "dead_letters", "scheduler_state",
	} {
		require.Contains(t, sql, "CREATE TABLE "+table+" (", table)
	}
	require.Contains(t, sql, "UNIQUE (company_id, page_hash)")
}

func TestMigrateRequiresDSN(t *testing.T) {
	t.Parallel()

	err := Migrate(context.Background(), "", nil)
	require.ErrorContains(t, err, "database.dsn")
}
