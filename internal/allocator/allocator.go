package allocator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/punchamoorthee/claimrelay/internal/domain"
	"github.com/punchamoorthee/claimrelay/internal/store"
)

const MaxAttempts = 5

var (
	// ErrEmpty means there is nothing to hand out. Callers stay silent.
	ErrEmpty = errors.New("no open asset")
	// ErrNoTargetRooms means an asset cannot be bound because no Target room is registered.
	ErrNoTargetRooms = errors.New("no target rooms registered")
)

// Rooms is the view of the registry the allocator needs.
type Rooms interface {
	TargetRooms() []int64
}

type Allocator struct {
	assets   store.AssetStore
	rooms    Rooms
	fallback int64
	log      *slog.Logger
}

func New(assets store.AssetStore, rooms Rooms, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Allocator{assets: assets, rooms: rooms, log: logger.With("component", "allocator")}
}

// WithFallbackRoom sets the Target room used while none is registered.
func (a *Allocator) WithFallbackRoom(roomID int64) *Allocator {
	a.fallback = roomID
	return a
}

func (a *Allocator) targetRooms() []int64 {
	rooms := a.rooms.TargetRooms()
	if len(rooms) == 0 && a.fallback != 0 {
		return []int64{a.fallback}
	}
	return rooms
}

// Allocation is a drawn asset and the Target room it is bound to.
type Allocation struct {
	Asset        domain.Asset
	TargetRoomID int64
	Attempts     int
}

// Allocate draws an open asset. The first draw must be bound to preferredRoom (0 means no
// preference), the next two to any registered Target room, the fourth to any room at all,
// and the last draw is taken as is. Allocate never returns ErrEmpty while an asset is open.
func (a *Allocator) Allocate(ctx context.Context, preferredRoom int64) (*Allocation, error) {
	open, _, err := a.assets.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count assets: %w", err)
	}
	if open == 0 {
		return nil, ErrEmpty
	}

	registered := a.targetRooms()
	var (
		drawn    *domain.Asset
		attempts int
	)
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		candidate, err := a.assets.RandomOpen(ctx)
		if errors.Is(err, store.ErrAssetNotFound) {
			if drawn != nil {
				break
			}
			return nil, ErrEmpty
		}
		if err != nil {
			return nil, fmt.Errorf("draw asset: %w", err)
		}
		drawn, attempts = candidate, attempt
		if accept(attempt, candidate.Metadata, preferredRoom, registered) {
			break
		}
	}

	target, err := a.Bind(ctx, drawn)
	if err != nil {
		return nil, err
	}
	a.log.Debug("asset allocated",
		slog.String("asset_id", drawn.ID),
		slog.Int64("room_id", target),
		slog.Int("attempts", attempts),
	)
	return &Allocation{Asset: *drawn, TargetRoomID: target, Attempts: attempts}, nil
}

func accept(attempt int, meta domain.AssetMetadata, preferred int64, registered []int64) bool {
	switch {
	case attempt == 1:
		return preferred != 0 && meta.TargetRoomID == preferred
	case attempt <= 3:
		return meta.Bound() && slices.Contains(registered, meta.TargetRoomID)
	case attempt < MaxAttempts:
		return meta.Bound()
	default:
		return true
	}
}

// RoomFor is the stable binding of assetID over the sorted Target-room list.
func RoomFor(assetID string, rooms []int64) int64 {
	if len(rooms) == 0 {
		return 0
	}
	sorted := slices.Clone(rooms)
	slices.Sort(sorted)
	return sorted[xxhash.Sum64String(assetID)%uint64(len(sorted))]
}

// Bind returns the Target room that owns asset. A binding to a registered room is kept;
// otherwise one is computed from the asset id and written back to the store.
func (a *Allocator) Bind(ctx context.Context, asset *domain.Asset) (int64, error) {
	rooms := a.targetRooms()
	meta := asset.Metadata
	if meta.Bound() {
		if slices.Contains(rooms, meta.TargetRoomID) {
			return meta.TargetRoomID, nil
		}
		a.log.Warn("asset bound to unregistered room, rebinding",
			slog.String("asset_id", asset.ID),
			slog.Int64("room_id", meta.TargetRoomID),
		)
	}

	target := RoomFor(asset.ID, rooms)
	if target == 0 {
		return 0, ErrNoTargetRooms
	}
	meta.TargetRoomID = target
	if err := a.assets.SetMetadata(ctx, asset.ID, meta); err != nil {
		return 0, fmt.Errorf("persist binding for %s: %w", asset.ID, err)
	}
	asset.Metadata = meta
	return target, nil
}

// Rebind pins an asset to roomID regardless of the registry.
func (a *Allocator) Rebind(ctx context.Context, assetID string, roomID int64) error {
	asset, err := a.assets.Get(ctx, assetID)
	if err != nil {
		return err
	}
	meta := asset.Metadata
	meta.TargetRoomID = roomID
	return a.assets.SetMetadata(ctx, assetID, meta)
}

// Distribute rebinds every asset round-robin across the registered Target rooms and
// returns the number of assets per room.
func (a *Allocator) Distribute(ctx context.Context) (map[int64]int, error) {
	rooms := a.targetRooms()
	if len(rooms) == 0 {
		return nil, ErrNoTargetRooms
	}
	assets, err := a.assets.List(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[int64]int, len(rooms))
	for i, asset := range assets {
		room := rooms[i%len(rooms)]
		meta := asset.Metadata
		meta.TargetRoomID = room
		if err := a.assets.SetMetadata(ctx, asset.ID, meta); err != nil {
			return counts, fmt.Errorf("rebind %s: %w", asset.ID, err)
		}
		counts[room]++
	}
	return counts, nil
}
