package approval_test

import (
	"context"
	"testing"

	"github.com/punchamoorthee/claimrelay/internal/approval"
	"github.com/punchamoorthee/claimrelay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pending(id int64, asset, amount string) domain.PendingApproval {
	return domain.PendingApproval{
		ID:                id,
		AssetID:           asset,
		ProposedAmount:    amount,
		OriginalMessageID: id,
		ReplyToMessageID:  id - 1,
	}
}

func TestLatestIsHighestID(t *testing.T) {
	ctx := context.Background()
	s := approval.NewStore()

	_, err := s.Latest()
	require.ErrorIs(t, err, approval.ErrNotFound)

	s.Put(ctx, pending(30, "a1", "180"))
	s.Put(ctx, pending(50, "a2", "190"))
	s.Put(ctx, pending(40, "a3", "170"))

	p, err := s.Latest()
	require.NoError(t, err)
	assert.Equal(t, int64(50), p.ID)
}

func TestMatch(t *testing.T) {
	ctx := context.Background()
	s := approval.NewStore()
	s.Put(ctx, pending(30, "a1", "180"))
	s.Put(ctx, pending(50, "a2", "190"))

	p, err := s.Match(50, "")
	require.NoError(t, err)
	assert.Equal(t, "a2", p.AssetID)

	p, err = s.Match(29, "")
	require.NoError(t, err)
	assert.Equal(t, "a1", p.AssetID, "matched through the replied-to message id")

	p, err = s.Match(999, "用户 提交的自定义金额 +190 需要确认")
	require.NoError(t, err)
	assert.Equal(t, "a2", p.AssetID, "matched through the notice text")

	_, err = s.Match(999, "nothing here")
	require.ErrorIs(t, err, approval.ErrNotFound)
}

func TestDeleteOnce(t *testing.T) {
	ctx := context.Background()
	s := approval.NewStore()
	s.Put(ctx, pending(30, "a1", "180"))

	assert.True(t, s.Delete(ctx, 30))
	assert.False(t, s.Delete(ctx, 30))
	_, ok := s.Get(30)
	assert.False(t, ok)
}

func TestDeleteForAssetsAndRestore(t *testing.T) {
	ctx := context.Background()
	s := approval.NewStore()
	s.Put(ctx, pending(30, "a1", "180"))
	s.Put(ctx, pending(31, "a2", "181"))
	s.Put(ctx, pending(32, "a1", "182"))

	assert.Equal(t, 2, s.DeleteForAssets(ctx, "a1"))

	body, err := s.Snapshot()
	require.NoError(t, err)
	restored := approval.NewStore()
	require.NoError(t, restored.Restore(body))
	require.Len(t, restored.List(), 1)
	assert.Equal(t, "a2", restored.List()[0].AssetID)
}
