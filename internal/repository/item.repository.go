package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nimasrn/video-report/internal/model"
	"github.com/nimasrn/video-report/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const createBatchSize = 500

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

type ItemRepository struct {
	*pg.DB
}

func NewItemRepository(db *pg.DB) *ItemRepository {
	return &ItemRepository{
		db,
	}
}

func (r *ItemRepository) CreateBatch(ctx context.Context, items []*model.Item) ([]*model.Item, error) {
	entities := make([]*ItemEntity, len(items))
	for i, it := range items {
		entities[i] = toItemEntity(it)
	}

	if err := r.Write(ctx).WithContext(ctx).CreateInBatches(entities, createBatchSize).Error; err != nil {
		return nil, err
	}

	return toItemModels(entities), nil
}

func (r *ItemRepository) GetByID(ctx context.Context, id int64) (*model.Item, error) {
	var entity ItemEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: item %d", model.ErrNotFound, id)
		}
		return nil, err
	}

	return toItemModel(&entity), nil
}

// GetForUpdate reads the item with a row lock. It must run inside
// WithinTransaction for the lock to outlive the statement.
func (r *ItemRepository) GetForUpdate(ctx context.Context, id int64) (*model.Item, error) {
	var entity ItemEntity
	err := r.Write(ctx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&entity).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: item %d", model.ErrNotFound, id)
		}
		return nil, err
	}

	return toItemModel(&entity), nil
}

func (r *ItemRepository) Save(ctx context.Context, item *model.Item) (*model.Item, error) {
	entity := toItemEntity(item)

	if err := r.Write(ctx).WithContext(ctx).Save(entity).Error; err != nil {
		return nil, err
	}

	return toItemModel(entity), nil
}

// ListByReport returns every item of the report ordered by row number.
func (r *ItemRepository) ListByReport(ctx context.Context, reportID int64) ([]*model.Item, error) {
	var entities []*ItemEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("report_id = ?", reportID).
		Order("row_no ASC").
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}
	return toItemModels(entities), nil
}

func (r *ItemRepository) List(ctx context.Context, f model.ItemFilter) ([]*model.Item, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&ItemEntity{}).Where("report_id = ?", f.ReportID)

	switch f.Kind {
	case model.ItemFilterVideoSuccess:
		q = q.Where("video_status = ?", string(model.VideoStatusDone))
	case model.ItemFilterVideoFailed:
		q = q.Where("video_status = ?", string(model.VideoStatusFailed))
	case model.ItemFilterWaSent:
		q = q.Where("wa_status IN ?", []string{string(model.WaStatusSent), string(model.WaStatusDelivered)})
	case model.ItemFilterWaFailed:
		q = q.Where("wa_status IN ?", []string{string(model.WaStatusFailed), string(model.WaStatusError)})
	case model.ItemFilterWaPending:
		q = q.Where("video_status = ? AND excluded = ?", string(model.VideoStatusDone), false).
			Where("wa_status NOT IN ?", []string{
				string(model.WaStatusSent), string(model.WaStatusDelivered),
				string(model.WaStatusFailed), string(model.WaStatusError),
			})
	}

	if s := strings.TrimSpace(f.Search); s != "" {
		pattern := "%" + likeEscaper.Replace(strings.ToLower(s)) + "%"
		q = q.Where(`(LOWER(name) LIKE ? ESCAPE '\' OR LOWER(phone) LIKE ? ESCAPE '\')`, pattern, pattern)
	}

	// Count before pagination
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*ItemEntity
	if err := q.Order("row_no ASC").Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toItemModels(entities), total, nil
}

// ListStale returns items stuck in PROCESSING for either lifecycle since before.
func (r *ItemRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]*model.Item, error) {
	var entities []*ItemEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("(video_status = ? OR wa_status = ?) AND updated_at < ?",
			string(model.VideoStatusProcessing), string(model.WaStatusProcessing), before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}
	return toItemModels(entities), nil
}
