package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/video-report/internal/model"
	"github.com/nimasrn/video-report/pkg/pg"
	"gorm.io/gorm"
)

type DispatchAttemptRepository struct {
	*pg.DB
}

func NewDispatchAttemptRepository(db *pg.DB) *DispatchAttemptRepository {
	return &DispatchAttemptRepository{
		db,
	}
}

func (r *DispatchAttemptRepository) Create(ctx context.Context, a *model.DispatchAttempt) (*model.DispatchAttempt, error) {
	entity := toDispatchAttemptEntity(a)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toDispatchAttemptModel(entity), nil
}

// Complete records the outcome of an attempt.
func (r *DispatchAttemptRepository) Complete(ctx context.Context, id int64, status model.AttemptStatus, deliveryID, errMsg string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":        string(status),
		"error_message": errMsg,
		"completed_at":  &now,
	}
	if deliveryID != "" {
		updates["delivery_id"] = deliveryID
	}

	result := r.Write(ctx).WithContext(ctx).
		Model(&DispatchAttemptEntity{}).
		Where("id = ?", id).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: attempt %d", model.ErrNotFound, id)
	}
	return nil
}

func (r *DispatchAttemptRepository) FindByDeliveryID(ctx context.Context, deliveryID string) (*model.DispatchAttempt, error) {
	var entity DispatchAttemptEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("delivery_id = ? AND delivery_id <> ''", deliveryID).
		Order("id DESC").
		First(&entity).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: delivery %q", model.ErrNotFound, deliveryID)
		}
		return nil, err
	}

	return toDispatchAttemptModel(&entity), nil
}

// ListByItem returns the attempts of an item, newest first.
func (r *DispatchAttemptRepository) ListByItem(ctx context.Context, itemID int64) ([]*model.DispatchAttempt, error) {
	var entities []*DispatchAttemptEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("item_id = ?", itemID).
		Order("id DESC").
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}
	return toDispatchAttemptModels(entities), nil
}

func (r *DispatchAttemptRepository) CountByItem(ctx context.Context, itemID int64) (int64, error) {
	var n int64
	err := r.Read(ctx).WithContext(ctx).
		Model(&DispatchAttemptEntity{}).
		Where("item_id = ?", itemID).
		Count(&n).
		Error
	return n, err
}
