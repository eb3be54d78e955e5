package repository

import (
	"context"
	"testing"

	"github.com/nimasrn/video-report/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchAttemptRepository(t *testing.T) {
	db := SetupTestDB(t)
	repo := NewDispatchAttemptRepository(db.DB)
	ctx := context.Background()
	_, items := seedItems(t, db, &model.Item{Name: "a", Phone: "1", VideoStatus: model.VideoStatusDone})
	itemID := items[0].ID

	first, err := repo.Create(ctx, &model.DispatchAttempt{
		ItemID:  itemID,
		Message: "hello",
		Status:  model.AttemptStatusAttempting,
	})
	require.NoError(t, err)
	assert.NotZero(t, first.ID)
	assert.NotZero(t, first.AttemptedAt)

	t.Run("complete with delivery id", func(t *testing.T) {
		require.NoError(t, repo.Complete(ctx, first.ID, model.AttemptStatusSent, "dlv-1", ""))

		got, err := repo.FindByDeliveryID(ctx, "dlv-1")
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)
		assert.Equal(t, model.AttemptStatusSent, got.Status)
		assert.NotNil(t, got.CompletedAt)
	})

	t.Run("complete keeps delivery id when none given", func(t *testing.T) {
		require.NoError(t, repo.Complete(ctx, first.ID, model.AttemptStatusDelivered, "", ""))

		got, err := repo.FindByDeliveryID(ctx, "dlv-1")
		require.NoError(t, err)
		assert.Equal(t, model.AttemptStatusDelivered, got.Status)
	})

	t.Run("unknown delivery id", func(t *testing.T) {
		_, err := repo.FindByDeliveryID(ctx, "nope")
		assert.ErrorIs(t, err, model.ErrNotFound)

		_, err = repo.FindByDeliveryID(ctx, "")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("list newest first", func(t *testing.T) {
		second, err := repo.Create(ctx, &model.DispatchAttempt{ItemID: itemID, Status: model.AttemptStatusAttempting})
		require.NoError(t, err)

		list, err := repo.ListByItem(ctx, itemID)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, second.ID, list[0].ID)

		n, err := repo.CountByItem(ctx, itemID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("complete unknown attempt", func(t *testing.T) {
		err := repo.Complete(ctx, 999, model.AttemptStatusError, "", "x")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}
