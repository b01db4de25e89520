package correlation_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/punchamoorthee/claimrelay/internal/correlation"
	"github.com/punchamoorthee/claimrelay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(asset string, targetMsg int64) domain.CorrelationRecord {
	return domain.CorrelationRecord{
		AssetID:         asset,
		SourceRoomID:    -1,
		SourceMessageID: 10,
		TargetRoomID:    -2,
		TargetMessageID: targetMsg,
		ClaimedAmount:   "150",
		GroupNumber:     "7",
	}
}

func TestPutReplacesPriorExchange(t *testing.T) {
	ctx := context.Background()
	s := correlation.NewStore()

	first := s.Put(ctx, record("a1", 100))
	second := s.Put(ctx, record("a1", 200))
	assert.Greater(t, second.Seq, first.Seq)
	assert.Equal(t, 1, s.Len())

	_, ok := s.FindByTargetMessage(-2, 100)
	assert.False(t, ok, "abandoned exchange must not be found")

	got, ok := s.FindByTargetMessage(-2, 200)
	require.True(t, ok)
	assert.Equal(t, "a1", got.AssetID)

	_, ok = s.FindByTargetMessage(-3, 200)
	assert.False(t, ok)
}

func TestMarkResolvedOnce(t *testing.T) {
	ctx := context.Background()
	s := correlation.NewStore()
	rec := s.Put(ctx, record("a1", 100))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.MarkResolved(ctx, "a1", rec.Seq) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())

	_, ok := s.FindByTargetMessage(-2, 100)
	assert.False(t, ok)
	kept, ok := s.Get("a1")
	require.True(t, ok)
	assert.False(t, kept.Open())
}

func TestMarkResolvedIgnoresReplacedRecord(t *testing.T) {
	ctx := context.Background()
	s := correlation.NewStore()
	old := s.Put(ctx, record("a1", 100))
	s.Put(ctx, record("a1", 200))
	assert.False(t, s.MarkResolved(ctx, "a1", old.Seq))
}

func TestRemoveWhere(t *testing.T) {
	ctx := context.Background()
	s := correlation.NewStore()
	s.Put(ctx, record("a1", 100))
	s.Put(ctx, record("a2", 101))
	other := record("a3", 102)
	other.TargetRoomID = -9
	s.Put(ctx, other)

	removed := s.RemoveWhere(ctx, func(r domain.CorrelationRecord) bool { return r.TargetRoomID == -2 })
	assert.Equal(t, []string{"a1", "a2"}, removed)
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Remove(ctx, "a3"))
	assert.False(t, s.Remove(ctx, "a3"))
}

func TestSnapshotRestoreKeepsOrder(t *testing.T) {
	ctx := context.Background()
	s := correlation.NewStore()
	s.Put(ctx, record("b", 1))
	s.Put(ctx, record("a", 2))

	body, err := s.Snapshot()
	require.NoError(t, err)

	restored := correlation.NewStore()
	require.NoError(t, restored.Restore(body))
	open := restored.OpenRecords()
	require.Len(t, open, 2)
	assert.Equal(t, "b", open[0].AssetID)
	assert.Equal(t, "a", open[1].AssetID)

	next := restored.Put(ctx, record("c", 3))
	assert.Equal(t, uint64(3), next.Seq)
}

func TestResponseLog(t *testing.T) {
	ctx := context.Background()
	l := correlation.NewResponseLog()
	changes := 0
	l.OnChange(func(context.Context) { changes++ })

	l.Put(ctx, "a1", "+150")
	l.Put(ctx, "a2", "+0")
	r, ok := l.Get("a1")
	require.True(t, ok)
	assert.Equal(t, "+150", r.Text)

	assert.Equal(t, 1, l.Remove(ctx, "a2", "missing"))
	assert.Equal(t, 0, l.Remove(ctx, "missing"))

	body, err := l.Snapshot()
	require.NoError(t, err)
	restored := correlation.NewResponseLog()
	require.NoError(t, restored.Restore(body))
	assert.Equal(t, 1, restored.Len())

	l.Clear(ctx)
	assert.Equal(t, 0, l.Len())
	assert.Equal(t, 4, changes)
}
