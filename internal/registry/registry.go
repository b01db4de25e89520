package registry

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/punchamoorthee/claimrelay/internal/domain"
)

// Kind classifies a chat room.
type Kind int

const (
	KindNone Kind = iota
	KindSource
	KindTarget
)

func (k Kind) String() string {
	switch k {
	case KindSource:
		return "source"
	case KindTarget:
		return "target"
	default:
		return "none"
	}
}

type snapshot struct {
	SourceRooms       []int64           `json:"source_rooms"`
	TargetRooms       []int64           `json:"target_rooms"`
	RoomAdmins        map[int64][]int64 `json:"room_admins"`
	ForwardingEnabled bool              `json:"forwarding_enabled"`
}

// Registry holds room kinds, delegated room admins and the forwarding flag.
// Global admins are fixed at construction and never persisted.
type Registry struct {
	mu         sync.RWMutex
	source     map[int64]struct{}
	target     map[int64]struct{}
	roomAdmins map[int64]map[int64]struct{}
	forwarding bool

	globals   []domain.Admin
	globalSet map[int64]struct{}

	onChange func(context.Context)
}

func New(globalAdmins []domain.Admin) *Registry {
	r := &Registry{
		source:     make(map[int64]struct{}),
		target:     make(map[int64]struct{}),
		roomAdmins: make(map[int64]map[int64]struct{}),
		forwarding: true,
		globals:    append([]domain.Admin(nil), globalAdmins...),
		globalSet:  make(map[int64]struct{}, len(globalAdmins)),
	}
	for _, a := range globalAdmins {
		r.globalSet[a.ID] = struct{}{}
	}
	return r
}

func (r *Registry) Name() string { return "registry" }

func (r *Registry) OnChange(fn func(context.Context)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

func (r *Registry) changed(ctx context.Context) {
	r.mu.RLock()
	fn := r.onChange
	r.mu.RUnlock()
	if fn != nil {
		fn(ctx)
	}
}

func (r *Registry) Kind(roomID int64) Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.source[roomID]; ok {
		return KindSource
	}
	if _, ok := r.target[roomID]; ok {
		return KindTarget
	}
	return KindNone
}

func (r *Registry) IsSource(roomID int64) bool { return r.Kind(roomID) == KindSource }
func (r *Registry) IsTarget(roomID int64) bool { return r.Kind(roomID) == KindTarget }

// SetKind registers a room as Source or Target, dropping any previous kind.
// It reports whether anything changed.
func (r *Registry) SetKind(ctx context.Context, roomID int64, kind Kind) bool {
	r.mu.Lock()
	_, wasSource := r.source[roomID]
	_, wasTarget := r.target[roomID]
	var changed bool
	switch kind {
	case KindSource:
		changed = !wasSource || wasTarget
		delete(r.target, roomID)
		r.source[roomID] = struct{}{}
	case KindTarget:
		changed = wasSource || !wasTarget
		delete(r.source, roomID)
		r.target[roomID] = struct{}{}
	default:
		changed = wasSource || wasTarget
		delete(r.source, roomID)
		delete(r.target, roomID)
	}
	r.mu.Unlock()

	if changed {
		r.changed(ctx)
	}
	return changed
}

// Remove unregisters a room and returns the kind it had.
func (r *Registry) Remove(ctx context.Context, roomID int64) Kind {
	kind := r.Kind(roomID)
	if kind == KindNone {
		return KindNone
	}
	r.SetKind(ctx, roomID, KindNone)
	return kind
}

func (r *Registry) SourceRooms() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.source)
}

// TargetRooms returns the registered Target rooms in ascending order.
func (r *Registry) TargetRooms() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.target)
}

func (r *Registry) IsGlobalAdmin(userID int64) bool {
	_, ok := r.globalSet[userID]
	return ok
}

func (r *Registry) GlobalAdmins() []domain.Admin {
	return append([]domain.Admin(nil), r.globals...)
}

// AddRoomAdmin reports false when the user already administers the room.
func (r *Registry) AddRoomAdmin(ctx context.Context, roomID, userID int64) bool {
	r.mu.Lock()
	admins, ok := r.roomAdmins[roomID]
	if !ok {
		admins = make(map[int64]struct{})
		r.roomAdmins[roomID] = admins
	}
	_, exists := admins[userID]
	admins[userID] = struct{}{}
	r.mu.Unlock()

	if !exists {
		r.changed(ctx)
	}
	return !exists
}

func (r *Registry) IsRoomAdmin(roomID, userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.roomAdmins[roomID][userID]
	return ok
}

// Authorized reports whether the user may administer the room.
func (r *Registry) Authorized(roomID, userID int64) bool {
	return r.IsGlobalAdmin(userID) || r.IsRoomAdmin(roomID, userID)
}

func (r *Registry) RoomAdmins() map[int64][]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int64][]int64, len(r.roomAdmins))
	for room, admins := range r.roomAdmins {
		out[room] = sortedKeys(admins)
	}
	return out
}

func (r *Registry) Forwarding() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.forwarding
}

func (r *Registry) SetForwarding(ctx context.Context, enabled bool) {
	r.mu.Lock()
	r.forwarding = enabled
	r.mu.Unlock()
	r.changed(ctx)
}

// ToggleForwarding flips the flag and returns the new value.
func (r *Registry) ToggleForwarding(ctx context.Context) bool {
	r.mu.Lock()
	r.forwarding = !r.forwarding
	enabled := r.forwarding
	r.mu.Unlock()
	r.changed(ctx)
	return enabled
}

func (r *Registry) Snapshot() ([]byte, error) {
	r.mu.RLock()
	snap := snapshot{
		SourceRooms:       sortedKeys(r.source),
		TargetRooms:       sortedKeys(r.target),
		RoomAdmins:        make(map[int64][]int64, len(r.roomAdmins)),
		ForwardingEnabled: r.forwarding,
	}
	for room, admins := range r.roomAdmins {
		snap.RoomAdmins[room] = sortedKeys(admins)
	}
	r.mu.RUnlock()
	return json.Marshal(snap)
}

func (r *Registry) Restore(body []byte) error {
	var snap snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.source = make(map[int64]struct{}, len(snap.SourceRooms))
	for _, id := range snap.SourceRooms {
		r.source[id] = struct{}{}
	}
	r.target = make(map[int64]struct{}, len(snap.TargetRooms))
	for _, id := range snap.TargetRooms {
		r.target[id] = struct{}{}
	}
	r.roomAdmins = make(map[int64]map[int64]struct{}, len(snap.RoomAdmins))
	for room, ids := range snap.RoomAdmins {
		set := make(map[int64]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		r.roomAdmins[room] = set
	}
	r.forwarding = snap.ForwardingEnabled
	return nil
}

func sortedKeys(m map[int64]struct{}) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
