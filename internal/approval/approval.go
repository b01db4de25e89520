package approval

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/punchamoorthee/claimrelay/internal/domain"
)

var ErrNotFound = errors.New("no pending approval")

// Store is the registry of custom amounts waiting for a global admin.
type Store struct {
	mu       sync.RWMutex
	pending  map[int64]domain.PendingApproval
	onChange func(context.Context)
}

func NewStore() *Store {
	return &Store{pending: make(map[int64]domain.PendingApproval)}
}

func (s *Store) Name() string { return "approvals" }

func (s *Store) OnChange(fn func(context.Context)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Store) changed(ctx context.Context) {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn(ctx)
	}
}

func (s *Store) Put(ctx context.Context, p domain.PendingApproval) {
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	s.pending[p.ID] = p
	s.mu.Unlock()
	s.changed(ctx)
}

func (s *Store) Get(id int64) (domain.PendingApproval, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pending[id]
	return p, ok
}

// Latest returns the pending approval with the highest id. With several outstanding
// approvals this is last-writer-wins.
func (s *Store) Latest() (domain.PendingApproval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  domain.PendingApproval
		found bool
	)
	for id, p := range s.pending {
		if !found || id > best.ID {
			best, found = p, true
		}
	}
	if !found {
		return domain.PendingApproval{}, ErrNotFound
	}
	return best, nil
}

// Match finds the approval an admin's reply refers to: first by id, then by either stored
// message id, then by "+amount" appearing in the replied-to text.
func (s *Store) Match(replyToID int64, replyToText string) (domain.PendingApproval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.pending[replyToID]; ok {
		return p, nil
	}
	ordered := s.orderedLocked()
	for _, p := range ordered {
		if p.OriginalMessageID == replyToID || (p.ReplyToMessageID != 0 && p.ReplyToMessageID == replyToID) {
			return p, nil
		}
	}
	if replyToText != "" {
		for _, p := range ordered {
			if strings.Contains(replyToText, "+"+p.ProposedAmount) {
				return p, nil
			}
		}
	}
	return domain.PendingApproval{}, ErrNotFound
}

// Delete reports whether id was still pending.
func (s *Store) Delete(ctx context.Context, id int64) bool {
	s.mu.Lock()
	_, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if ok {
		s.changed(ctx)
	}
	return ok
}

// DeleteForAssets drops approvals for the given assets and returns how many were removed.
func (s *Store) DeleteForAssets(ctx context.Context, assetIDs ...string) int {
	want := make(map[string]struct{}, len(assetIDs))
	for _, id := range assetIDs {
		want[id] = struct{}{}
	}
	s.mu.Lock()
	n := 0
	for id, p := range s.pending {
		if _, ok := want[p.AssetID]; ok {
			delete(s.pending, id)
			n++
		}
	}
	s.mu.Unlock()
	if n > 0 {
		s.changed(ctx)
	}
	return n
}

func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	s.pending = make(map[int64]domain.PendingApproval)
	s.mu.Unlock()
	s.changed(ctx)
}

// List returns pending approvals in ascending id order.
func (s *Store) List() []domain.PendingApproval {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orderedLocked()
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

func (s *Store) orderedLocked() []domain.PendingApproval {
	out := make([]domain.PendingApproval, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(s.orderedLocked())
}

func (s *Store) Restore(body []byte) error {
	var list []domain.PendingApproval
	if err := json.Unmarshal(body, &list); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = make(map[int64]domain.PendingApproval, len(list))
	for _, p := range list {
		s.pending[p.ID] = p
	}
	return nil
}
