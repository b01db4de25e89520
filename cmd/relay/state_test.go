package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/punchamoorthee/claimrelay/internal/config"
	"github.com/punchamoorthee/claimrelay/internal/registry"
	"github.com/punchamoorthee/claimrelay/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteConfig(path string) *config.Config {
	return &config.Config{StoreDriver: config.DriverSQLite, SQLitePath: path}
}

func TestOpenStateRestoresRegistry(t *testing.T) {
	ctx := context.Background()
	cfg := sqliteConfig(filepath.Join(t.TempDir(), "relay.sqlite"))

	st, err := openState(ctx, cfg, nil)
	require.NoError(t, err)
	st.rooms.SetKind(ctx, -200, registry.KindTarget)
	require.NoError(t, st.Close())

	st, err = openState(ctx, cfg, nil)
	require.NoError(t, err)
	defer st.Close()
	assert.True(t, st.rooms.IsTarget(-200))
}

func TestOpenStateFailsOnBrokenSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.sqlite")
	db, err := store.OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, db.Exec("CREATE VIEW assets AS SELECT 1 AS id").Error)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = openState(context.Background(), sqliteConfig(path), nil)
	require.Error(t, err)
}
