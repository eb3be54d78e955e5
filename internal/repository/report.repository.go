package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimasrn/video-report/internal/model"
	"github.com/nimasrn/video-report/pkg/pg"
	"gorm.io/gorm"
)

type ReportRepository struct {
	*pg.DB
}

func NewReportRepository(db *pg.DB) *ReportRepository {
	return &ReportRepository{
		db,
	}
}

func (r *ReportRepository) Create(ctx context.Context, report *model.Report) (*model.Report, error) {
	entity := toReportEntity(report)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toReportModel(entity), nil
}

func (r *ReportRepository) GetByID(ctx context.Context, id int64) (*model.Report, error) {
	var entity ReportEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: report %d", model.ErrNotFound, id)
		}
		return nil, err
	}

	return toReportModel(&entity), nil
}

func (r *ReportRepository) List(ctx context.Context, f model.ReportFilter) ([]*model.Report, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&ReportEntity{})

	if f.Kind != nil {
		q = q.Where("kind = ?", string(*f.Kind))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*ReportEntity
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toReportModels(entities), total, nil
}

// UpdateStats persists a recomputed snapshot of the report counters.
func (r *ReportRepository) UpdateStats(ctx context.Context, id int64, s model.ReportStats) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&ReportEntity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":            string(s.Status),
			"processed_records": s.ProcessedRecords,
			"success_count":     s.SuccessCount,
			"failed_count":      s.FailedCount,
			"wa_sent_count":     s.WaSentCount,
			"wa_pending_count":  s.WaPendingCount,
			"wa_failed_count":   s.WaFailedCount,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: report %d", model.ErrNotFound, id)
	}
	return nil
}

// Delete removes the report with its items and their dispatch attempts.
func (r *ReportRepository) Delete(ctx context.Context, id int64) error {
	return r.WithinTransaction(ctx, func(ctx context.Context) error {
		db := r.Write(ctx).WithContext(ctx)

		items := db.Model(&ItemEntity{}).Select("id").Where("report_id = ?", id)
		if err := db.Where("item_id IN (?)", items).Delete(&DispatchAttemptEntity{}).Error; err != nil {
			return err
		}
		if err := db.Where("report_id = ?", id).Delete(&ItemEntity{}).Error; err != nil {
			return err
		}

		result := db.Where("id = ?", id).Delete(&ReportEntity{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: report %d", model.ErrNotFound, id)
		}
		return nil
	})
}
