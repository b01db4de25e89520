package allocator_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/punchamoorthee/claimrelay/internal/allocator"
	"github.com/punchamoorthee/claimrelay/internal/domain"
	"github.com/punchamoorthee/claimrelay/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rooms []int64

func (r rooms) TargetRooms() []int64 { return r }

func seed(t *testing.T, s store.AssetStore, n int, meta domain.AssetMetadata) {
	t.Helper()
	for i := range n {
		require.NoError(t, s.Create(context.Background(), domain.Asset{
			ID:          fmt.Sprintf("asset-%02d", i),
			GroupNumber: i + 1,
			Handle:      "h",
			Metadata:    meta,
		}))
	}
}

func TestRoomForIsStable(t *testing.T) {
	targets := []int64{-30, -10, -20}
	shuffled := []int64{-20, -30, -10}
	for i := range 50 {
		id := fmt.Sprintf("asset-%d", i)
		first := allocator.RoomFor(id, targets)
		assert.Contains(t, targets, first)
		for range 5 {
			assert.Equal(t, first, allocator.RoomFor(id, targets))
		}
		assert.Equal(t, first, allocator.RoomFor(id, shuffled), "independent of registry order")
	}
	assert.Zero(t, allocator.RoomFor("x", nil))
}

func TestBindPersistsAndRepeats(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seed(t, s, 1, domain.AssetMetadata{})
	a := allocator.New(s, rooms{-1, -2, -3}, nil)

	asset, err := s.Get(ctx, "asset-00")
	require.NoError(t, err)
	first, err := a.Bind(ctx, asset)
	require.NoError(t, err)

	stored, err := s.Get(ctx, "asset-00")
	require.NoError(t, err)
	assert.Equal(t, first, stored.Metadata.TargetRoomID)

	for range 10 {
		again, err := a.Bind(ctx, stored)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestBindReplacesUnregisteredRoom(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seed(t, s, 1, domain.AssetMetadata{TargetRoomID: -99})
	a := allocator.New(s, rooms{-1}, nil)

	asset, err := s.Get(ctx, "asset-00")
	require.NoError(t, err)
	room, err := a.Bind(ctx, asset)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), room)
}

func TestBindWithoutRooms(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seed(t, s, 1, domain.AssetMetadata{})
	asset, err := s.Get(ctx, "asset-00")
	require.NoError(t, err)

	_, err = allocator.New(s, rooms{}, nil).Bind(ctx, asset)
	require.ErrorIs(t, err, allocator.ErrNoTargetRooms)

	room, err := allocator.New(s, rooms{}, nil).WithFallbackRoom(-7).Bind(ctx, asset)
	require.NoError(t, err)
	assert.Equal(t, int64(-7), room)
}

func TestAllocateEmpty(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	a := allocator.New(s, rooms{-1}, nil)

	_, err := a.Allocate(ctx, 0)
	require.ErrorIs(t, err, allocator.ErrEmpty)

	seed(t, s, 3, domain.AssetMetadata{})
	for i := range 3 {
		require.NoError(t, s.SetStatus(ctx, fmt.Sprintf("asset-%02d", i), domain.StatusClosed))
	}
	_, err = a.Allocate(ctx, 0)
	require.ErrorIs(t, err, allocator.ErrEmpty)
}

func TestAllocateFallsBackWhenNothingMatches(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seed(t, s, 10, domain.AssetMetadata{})
	a := allocator.New(s, rooms{-1, -2}, nil)

	for range 25 {
		got, err := a.Allocate(ctx, -500)
		require.NoError(t, err)
		assert.LessOrEqual(t, got.Attempts, allocator.MaxAttempts)
		assert.Contains(t, []int64{-1, -2}, got.TargetRoomID)
	}
}

func TestAllocatePrefersRequestedRoom(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seed(t, s, 4, domain.AssetMetadata{TargetRoomID: -1})
	a := allocator.New(s, rooms{-1, -2}, nil)

	got, err := a.Allocate(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, int64(-1), got.TargetRoomID)
}

func TestDistributeRoundRobin(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seed(t, s, 7, domain.AssetMetadata{})
	a := allocator.New(s, rooms{-1, -2, -3}, nil)

	counts, err := a.Distribute(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{-1: 3, -2: 2, -3: 2}, counts)

	require.NoError(t, a.Rebind(ctx, "asset-00", -9))
	asset, err := s.Get(ctx, "asset-00")
	require.NoError(t, err)
	assert.Equal(t, int64(-9), asset.Metadata.TargetRoomID)

	require.ErrorIs(t, a.Rebind(ctx, "missing", -9), store.ErrAssetNotFound)
}
