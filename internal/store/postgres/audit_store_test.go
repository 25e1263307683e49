package postgres

import (
	"io/fs"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lendliquidator/internal/domain"
)

func TestListQueryNoFilters(t *testing.T) {
	q, args := listQuery(domain.ListOpts{})
	assert.Equal(t, "SELECT id, event, detail, created_at FROM audit_log ORDER BY created_at DESC, id DESC", q)
	assert.Empty(t, args)
}

func TestListQueryAllFilters(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(24 * time.Hour)

	q, args := listQuery(domain.ListOpts{
		Event:  "liquidation",
		Since:  &since,
		Until:  &until,
		Limit:  50,
		Offset: 100,
	})
	assert.Equal(t,
		"SELECT id, event, detail, created_at FROM audit_log"+
			" WHERE event = $1 AND created_at >= $2 AND created_at <= $3"+
			" ORDER BY created_at DESC, id DESC LIMIT $4 OFFSET $5", q)
	assert.Equal(t, []any{"liquidation", since, until, 50, 100}, args)
}

func TestListQueryEventPrefix(t *testing.T) {
	q, args := listQuery(domain.ListOpts{Event: "activity.*", Limit: 10})
	assert.Contains(t, q, "WHERE event LIKE $1")
	assert.Equal(t, []any{"activity.%", 10}, args)
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/audit?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "audit"}))
	assert.Equal(t, "postgres://u:p%40ss@db:6432/audit?sslmode=require",
		DSN(ClientConfig{User: "u", Password: "p@ss", Host: "db", Port: 6432, Database: "audit", SSLMode: "require"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "001_audit_log.sql", entries[0].Name())
}

func TestPendingMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_b.sql":   {Data: []byte("SELECT 2")},
		"migrations/001_a.sql":   {Data: []byte("SELECT 1")},
		"migrations/README.md":   {Data: []byte("notes")},
		"migrations/003_c.sql":   {Data: []byte("SELECT 3")},
		"migrations/old/004.sql": {Data: []byte("SELECT 4")},
	}

	todo, err := pendingMigrations(fsys, []string{"002_b.sql"})
	require.NoError(t, err)
	assert.Equal(t, []string{"001_a.sql", "003_c.sql"}, todo)

	todo, err = pendingMigrations(migrationsFS, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_audit_log.sql", "002_audit_signature.sql"}, todo)
}
