package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/punchamoorthee/claimrelay/internal/domain"
	"github.com/punchamoorthee/claimrelay/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLite(t *testing.T) store.AssetStore {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "assets.sqlite"))
	require.NoError(t, err)
	s, err := store.NewSQLiteStore(db, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func backends() map[string]func(t *testing.T) store.AssetStore {
	return map[string]func(t *testing.T) store.AssetStore{
		"memory": func(*testing.T) store.AssetStore { return store.NewMemoryStore() },
		"sqlite": newSQLite,
	}
}

func TestAssetStoreContract(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			_, err := s.RandomOpen(ctx)
			require.ErrorIs(t, err, store.ErrAssetNotFound)

			require.NoError(t, s.Create(ctx, domain.Asset{ID: "a1", GroupNumber: 7, Handle: "h1"}))
			require.NoError(t, s.Create(ctx, domain.Asset{
				ID: "a2", GroupNumber: 7, Handle: "h2",
				Metadata: domain.AssetMetadata{TargetRoomID: -100},
			}))
			require.NoError(t, s.Create(ctx, domain.Asset{
				ID: "a3", GroupNumber: 8, Handle: "h3",
				Metadata: domain.AssetMetadata{TargetRoomID: -100},
			}))
			require.ErrorIs(t, s.Create(ctx, domain.Asset{ID: "a1", GroupNumber: 1}), store.ErrAssetExists)

			a, err := s.Get(ctx, "a1")
			require.NoError(t, err)
			assert.Equal(t, domain.StatusOpen, a.Status)
			assert.False(t, a.Metadata.Bound())

			_, err = s.Get(ctx, "missing")
			require.ErrorIs(t, err, store.ErrAssetNotFound)

			require.NoError(t, s.SetStatus(ctx, "a1", domain.StatusClosed))
			require.ErrorIs(t, s.SetStatus(ctx, "missing", domain.StatusClosed), store.ErrAssetNotFound)

			meta := domain.AssetMetadata{TargetRoomID: -200, SourceRoomID: -1}
			require.NoError(t, s.SetMetadata(ctx, "a1", meta))
			a, err = s.Get(ctx, "a1")
			require.NoError(t, err)
			assert.Equal(t, meta, a.Metadata)
			assert.Equal(t, domain.StatusClosed, a.Status)

			open, closed, err := s.CountByStatus(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, open)
			assert.Equal(t, 1, closed)

			for range 10 {
				r, err := s.RandomOpen(ctx)
				require.NoError(t, err)
				assert.NotEqual(t, "a1", r.ID)
			}

			ids, err := s.DeleteByGroupNumber(ctx, 7, -100)
			require.NoError(t, err)
			assert.Equal(t, []string{"a2"}, ids)

			ids, err = s.DeleteForTargetRoom(ctx, -100)
			require.NoError(t, err)
			assert.Equal(t, []string{"a3"}, ids)

			all, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, "a1", all[0].ID)
		})
	}
}

func TestSQLiteCorruptMetadataIsUnbound(t *testing.T) {
	ctx := context.Background()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "assets.sqlite"))
	require.NoError(t, err)
	s, err := store.NewSQLiteStore(db, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Create(ctx, domain.Asset{ID: "bad", GroupNumber: 3, Handle: "h"}))
	require.NoError(t, db.Exec("UPDATE assets SET metadata = ? WHERE id = ?", "{not json", "bad").Error)

	a, err := s.Get(ctx, "bad")
	require.NoError(t, err)
	assert.Equal(t, domain.AssetMetadata{}, a.Metadata)
}
