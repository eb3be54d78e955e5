package repository

import (
	"context"
	"testing"

	"github.com/nimasrn/video-report/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReport(name string, total int) *model.Report {
	return &model.Report{
		Name:              name,
		Kind:              model.ReportKindLearningVideo,
		TemplateRef:       "tpl-1",
		WaMessageTemplate: "Hi :name :linkvideo",
		ReportStats: model.ReportStats{
			TotalRecords: total,
			Status:       model.ReportStatusPending,
		},
	}
}

func TestReportRepository_Create(t *testing.T) {
	db := SetupTestDB(t).DB
	repo := NewReportRepository(db)
	ctx := context.Background()

	created, err := repo.Create(ctx, newTestReport("october", 3))
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, "october", created.Name)
	assert.Equal(t, model.ReportKindLearningVideo, created.Kind)
	assert.Equal(t, 3, created.TotalRecords)
	assert.NotZero(t, created.CreatedAt)

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "tpl-1", got.TemplateRef)
	assert.Equal(t, model.ReportStatusPending, got.Status)
}

func TestReportRepository_GetByID_NotFound(t *testing.T) {
	db := SetupTestDB(t).DB
	repo := NewReportRepository(db)

	_, err := repo.GetByID(context.Background(), 404)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestReportRepository_List(t *testing.T) {
	db := SetupTestDB(t).DB
	repo := NewReportRepository(db)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		r := newTestReport("r", 1)
		if i%2 == 0 {
			r.Kind = model.ReportKindPersonalSales
		}
		_, err := repo.Create(ctx, r)
		require.NoError(t, err)
	}

	t.Run("list all", func(t *testing.T) {
		reports, total, err := repo.List(ctx, model.ReportFilter{})
		require.NoError(t, err)
		assert.Equal(t, int64(4), total)
		assert.Len(t, reports, 4)
	})

	t.Run("list by kind", func(t *testing.T) {
		kind := model.ReportKindPersonalSales
		reports, total, err := repo.List(ctx, model.ReportFilter{Kind: &kind})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		for _, r := range reports {
			assert.Equal(t, kind, r.Kind)
		}
	})

	t.Run("list with pagination", func(t *testing.T) {
		reports, total, err := repo.List(ctx, model.ReportFilter{Limit: 3, Offset: 3})
		require.NoError(t, err)
		assert.Equal(t, int64(4), total)
		assert.Len(t, reports, 1)
	})
}

func TestReportRepository_UpdateStats(t *testing.T) {
	db := SetupTestDB(t).DB
	repo := NewReportRepository(db)
	ctx := context.Background()

	created, err := repo.Create(ctx, newTestReport("stats", 3))
	require.NoError(t, err)

	err = repo.UpdateStats(ctx, created.ID, model.ReportStats{
		Status:           model.ReportStatusCompleted,
		ProcessedRecords: 3,
		SuccessCount:     2,
		FailedCount:      1,
		WaSentCount:      1,
		WaPendingCount:   1,
	})
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReportStatusCompleted, got.Status)
	assert.Equal(t, 3, got.ProcessedRecords)
	assert.Equal(t, 2, got.SuccessCount)
	assert.Equal(t, 1, got.WaPendingCount)
	assert.Equal(t, 3, got.TotalRecords)

	err = repo.UpdateStats(ctx, 999, model.ReportStats{})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestReportRepository_Delete(t *testing.T) {
	tdb := SetupTestDB(t)
	reports := NewReportRepository(tdb.DB)
	items := NewItemRepository(tdb.DB)
	attempts := NewDispatchAttemptRepository(tdb.DB)
	ctx := context.Background()

	report, err := reports.Create(ctx, newTestReport("doomed", 2))
	require.NoError(t, err)
	created, err := items.CreateBatch(ctx, []*model.Item{
		{ReportID: report.ID, RowNumber: 1, Name: "a", Phone: "1", VideoStatus: model.VideoStatusPending},
		{ReportID: report.ID, RowNumber: 2, Name: "b", Phone: "2", VideoStatus: model.VideoStatusPending},
	})
	require.NoError(t, err)
	_, err = attempts.Create(ctx, &model.DispatchAttempt{ItemID: created[0].ID, Status: model.AttemptStatusAttempting})
	require.NoError(t, err)

	other, err := reports.Create(ctx, newTestReport("kept", 1))
	require.NoError(t, err)
	_, err = items.CreateBatch(ctx, []*model.Item{
		{ReportID: other.ID, RowNumber: 1, Name: "c", Phone: "3", VideoStatus: model.VideoStatusPending},
	})
	require.NoError(t, err)

	require.NoError(t, reports.Delete(ctx, report.ID))

	_, err = reports.GetByID(ctx, report.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)

	left, err := items.ListByReport(ctx, report.ID)
	require.NoError(t, err)
	assert.Empty(t, left)

	n, err := attempts.CountByItem(ctx, created[0].ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	kept, err := items.ListByReport(ctx, other.ID)
	require.NoError(t, err)
	assert.Len(t, kept, 1)

	assert.ErrorIs(t, reports.Delete(ctx, report.ID), model.ErrNotFound)
}
