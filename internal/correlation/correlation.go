package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/punchamoorthee/claimrelay/internal/domain"
)

// ErrNotFound means no exchange is recorded for an asset.
var ErrNotFound = errors.New("correlation not found")

type targetKey struct {
	room int64
	msg  int64
}

// Store holds at most one correlation record per asset, indexed by the
// Target-room message it was forwarded as.
type Store struct {
	mu       sync.RWMutex
	byAsset  map[string]domain.CorrelationRecord
	byTarget map[targetKey]string
	seq      uint64
	now      func() time.Time
	onChange func(context.Context)
}

func NewStore() *Store {
	return &Store{
		byAsset:  make(map[string]domain.CorrelationRecord),
		byTarget: make(map[targetKey]string),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Name() string { return "correlations" }

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

// Put stores rec as the live exchange of its asset, replacing any earlier one.
func (s *Store) Put(ctx context.Context, rec domain.CorrelationRecord) domain.CorrelationRecord {
	s.mu.Lock()
	if old, ok := s.byAsset[rec.AssetID]; ok {
		delete(s.byTarget, targetKey{old.TargetRoomID, old.TargetMessageID})
	}
	s.seq++
	rec.Seq = s.seq
	rec.ResolvedAt = nil
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	s.byAsset[rec.AssetID] = rec
	s.byTarget[targetKey{rec.TargetRoomID, rec.TargetMessageID}] = rec.AssetID
	s.mu.Unlock()

	s.changed(ctx)
	return rec
}

func (s *Store) Get(assetID string) (domain.CorrelationRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byAsset[assetID]
	return rec, ok
}

// FindByTargetMessage returns the open record forwarded as messageID in roomID.
func (s *Store) FindByTargetMessage(roomID, messageID int64) (domain.CorrelationRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	assetID, ok := s.byTarget[targetKey{roomID, messageID}]
	if !ok {
		return domain.CorrelationRecord{}, false
	}
	rec := s.byAsset[assetID]
	if !rec.Open() {
		return domain.CorrelationRecord{}, false
	}
	return rec, true
}

// MarkResolved closes the live exchange of assetID. Only the first caller for a given
// exchange gets true; seq guards against resolving a record that was replaced meanwhile.
func (s *Store) MarkResolved(ctx context.Context, assetID string, seq uint64) bool {
	s.mu.Lock()
	rec, ok := s.byAsset[assetID]
	if !ok || !rec.Open() || rec.Seq != seq {
		s.mu.Unlock()
		return false
	}
	at := s.now()
	rec.ResolvedAt = &at
	s.byAsset[assetID] = rec
	s.mu.Unlock()

	s.changed(ctx)
	return true
}

func (s *Store) Remove(ctx context.Context, assetID string) bool {
	s.mu.Lock()
	rec, ok := s.byAsset[assetID]
	if ok {
		delete(s.byAsset, assetID)
		delete(s.byTarget, targetKey{rec.TargetRoomID, rec.TargetMessageID})
	}
	s.mu.Unlock()

	if ok {
		s.changed(ctx)
	}
	return ok
}

// RemoveWhere deletes every record matching pred and returns their asset ids.
func (s *Store) RemoveWhere(ctx context.Context, pred func(domain.CorrelationRecord) bool) []string {
	s.mu.Lock()
	var removed []string
	for id, rec := range s.byAsset {
		if pred(rec) {
			delete(s.byAsset, id)
			delete(s.byTarget, targetKey{rec.TargetRoomID, rec.TargetMessageID})
			removed = append(removed, id)
		}
	}
	s.mu.Unlock()

	if len(removed) > 0 {
		sort.Strings(removed)
		s.changed(ctx)
	}
	return removed
}

// OpenRecords returns unresolved records in creation order.
func (s *Store) OpenRecords() []domain.CorrelationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.CorrelationRecord
	for _, rec := range s.byAsset {
		if rec.Open() {
			out = append(out, rec)
		}
	}
	sortBySeq(out)
	return out
}

func (s *Store) All() []domain.CorrelationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allLocked()
}

func (s *Store) allLocked() []domain.CorrelationRecord {
	out := make([]domain.CorrelationRecord, 0, len(s.byAsset))
	for _, rec := range s.byAsset {
		out = append(out, rec)
	}
	sortBySeq(out)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byAsset)
}

func (s *Store) Snapshot() ([]byte, error) {
	s.mu.RLock()
	all := s.allLocked()
	s.mu.RUnlock()
	return json.Marshal(all)
}

func (s *Store) Restore(body []byte) error {
	var records []domain.CorrelationRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byAsset = make(map[string]domain.CorrelationRecord, len(records))
	s.byTarget = make(map[targetKey]string, len(records))
	s.seq = 0
	for _, rec := range records {
		s.byAsset[rec.AssetID] = rec
		s.byTarget[targetKey{rec.TargetRoomID, rec.TargetMessageID}] = rec.AssetID
		if rec.Seq > s.seq {
			s.seq = rec.Seq
		}
	}
	return nil
}

func sortBySeq(records []domain.CorrelationRecord) {
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })
}
