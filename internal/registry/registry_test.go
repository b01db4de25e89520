package registry_test

import (
	"context"
	"testing"

	"github.com/punchamoorthee/claimrelay/internal/domain"
	"github.com/punchamoorthee/claimrelay/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomKinds(t *testing.T) {
	ctx := context.Background()
	r := registry.New(nil)

	assert.Equal(t, registry.KindNone, r.Kind(-1))
	assert.True(t, r.SetKind(ctx, -1, registry.KindSource))
	assert.False(t, r.SetKind(ctx, -1, registry.KindSource))
	assert.True(t, r.IsSource(-1))

	assert.True(t, r.SetKind(ctx, -1, registry.KindTarget))
	assert.False(t, r.IsSource(-1))
	assert.True(t, r.IsTarget(-1))

	r.SetKind(ctx, -3, registry.KindTarget)
	r.SetKind(ctx, -2, registry.KindTarget)
	assert.Equal(t, []int64{-3, -2, -1}, r.TargetRooms())

	assert.Equal(t, registry.KindTarget, r.Remove(ctx, -2))
	assert.Equal(t, registry.KindNone, r.Remove(ctx, -2))
	assert.Equal(t, []int64{-3, -1}, r.TargetRooms())
}

func TestAuthorization(t *testing.T) {
	ctx := context.Background()
	r := registry.New([]domain.Admin{{ID: 1, Handle: "boss"}})

	assert.True(t, r.IsGlobalAdmin(1))
	assert.True(t, r.Authorized(-5, 1))
	assert.False(t, r.Authorized(-5, 2))

	assert.True(t, r.AddRoomAdmin(ctx, -5, 2))
	assert.False(t, r.AddRoomAdmin(ctx, -5, 2))
	assert.True(t, r.Authorized(-5, 2))
	assert.False(t, r.Authorized(-6, 2))
}

func TestChangesAreReported(t *testing.T) {
	ctx := context.Background()
	r := registry.New(nil)
	calls := 0
	r.OnChange(func(context.Context) { calls++ })

	r.SetKind(ctx, -1, registry.KindSource)
	r.SetKind(ctx, -1, registry.KindSource)
	r.AddRoomAdmin(ctx, -1, 9)
	r.SetForwarding(ctx, false)
	assert.Equal(t, 3, calls)
}

func TestSnapshotRoundTripKeepsGlobals(t *testing.T) {
	ctx := context.Background()
	r := registry.New([]domain.Admin{{ID: 1}})
	r.SetKind(ctx, -1, registry.KindSource)
	r.SetKind(ctx, -2, registry.KindTarget)
	r.AddRoomAdmin(ctx, -2, 7)
	assert.False(t, r.ToggleForwarding(ctx))

	body, err := r.Snapshot()
	require.NoError(t, err)

	restored := registry.New([]domain.Admin{{ID: 1}})
	require.NoError(t, restored.Restore(body))
	assert.True(t, restored.IsSource(-1))
	assert.True(t, restored.IsTarget(-2))
	assert.True(t, restored.IsRoomAdmin(-2, 7))
	assert.False(t, restored.Forwarding())
	assert.True(t, restored.IsGlobalAdmin(1))
}
