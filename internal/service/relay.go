package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/punchamoorthee/claimrelay/internal/allocator"
	"github.com/punchamoorthee/claimrelay/internal/approval"
	"github.com/punchamoorthee/claimrelay/internal/classifier"
	"github.com/punchamoorthee/claimrelay/internal/correlation"
	"github.com/punchamoorthee/claimrelay/internal/domain"
	"github.com/punchamoorthee/claimrelay/internal/registry"
	"github.com/punchamoorthee/claimrelay/internal/store"
	"github.com/punchamoorthee/claimrelay/internal/transport"
)

var (
	ErrUnauthorized     = errors.New("not authorized")
	ErrRelayFailed      = errors.New("relay to source room failed")
	ErrAlreadyFinalized = errors.New("exchange already finalized")
	ErrStaleApproval    = errors.New("approval refers to an exchange that no longer exists")
)

type Options struct {
	MinAmount         int
	MaxAmount         int
	DefaultSourceRoom int64
	DefaultTargetRoom int64
	LooseMatching     bool
	ConfirmButtons    bool
}

// Deps are the stores and the transport the relay works over.
type Deps struct {
	Assets       store.AssetStore
	Rooms        *registry.Registry
	Correlations *correlation.Store
	Responses    *correlation.ResponseLog
	Approvals    *approval.Store
	Transport    transport.Transport
}

// Relay is the claim/confirm engine between Source and Target rooms.
type Relay struct {
	assets    store.AssetStore
	rooms     *registry.Registry
	corr      *correlation.Store
	responses *correlation.ResponseLog
	approvals *approval.Store
	tr        transport.Transport
	alloc     *allocator.Allocator
	cls       *classifier.Classifier
	opts      Options
	log       *slog.Logger

	// claimMu spans read-open -> select -> mark-closed.
	claimMu sync.Mutex
	// approvalMu spans find-pending -> finalize -> delete.
	approvalMu sync.Mutex
	// finalizing serializes finalization per asset.
	finalizing keyedMutex
}

func New(d Deps, opts Options, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if opts.MaxAmount == 0 {
		opts.MinAmount, opts.MaxAmount = 100, 200
	}
	return &Relay{
		assets:    d.Assets,
		rooms:     d.Rooms,
		corr:      d.Correlations,
		responses: d.Responses,
		approvals: d.Approvals,
		tr:        d.Transport,
		alloc:     allocator.New(d.Assets, d.Rooms, logger).WithFallbackRoom(opts.DefaultTargetRoom),
		cls:       classifier.New(d.Correlations, d.Rooms, opts.LooseMatching),
		opts:      opts,
		log:       logger.With("component", "relay"),
	}
}

// reply answers msg in its own room. Failures are logged only.
func (r *Relay) reply(ctx context.Context, msg domain.Message, text string) {
	if _, err := r.tr.SendText(ctx, msg.RoomID, text, msg.MessageID); err != nil {
		r.log.Warn("reply failed",
			slog.Int64("room_id", msg.RoomID),
			slog.Int64("message_id", msg.MessageID),
			slog.Any("error", err),
		)
	}
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// Lock acquires the mutex for key and returns its unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Status is a read-only view of the relay state.
type Status struct {
	SourceRooms       []int64           `json:"source_rooms"`
	TargetRooms       []int64           `json:"target_rooms"`
	RoomAdmins        map[int64][]int64 `json:"room_admins"`
	GlobalAdmins      []domain.Admin    `json:"global_admins"`
	ForwardingEnabled bool              `json:"forwarding_enabled"`
	OpenAssets        int               `json:"open_assets"`
	ClosedAssets      int               `json:"closed_assets"`
	OpenExchanges     int               `json:"open_exchanges"`
	Correlations      int               `json:"correlations"`
	Responses         int               `json:"responses"`
	PendingApprovals  int               `json:"pending_approvals"`
}

func (r *Relay) Status(ctx context.Context) (Status, error) {
	open, closed, err := r.assets.CountByStatus(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		SourceRooms:       r.rooms.SourceRooms(),
		TargetRooms:       r.rooms.TargetRooms(),
		RoomAdmins:        r.rooms.RoomAdmins(),
		GlobalAdmins:      r.rooms.GlobalAdmins(),
		ForwardingEnabled: r.rooms.Forwarding(),
		OpenAssets:        open,
		ClosedAssets:      closed,
		OpenExchanges:     len(r.corr.OpenRecords()),
		Correlations:      r.corr.Len(),
		Responses:         r.responses.Len(),
		PendingApprovals:  r.approvals.Len(),
	}, nil
}
