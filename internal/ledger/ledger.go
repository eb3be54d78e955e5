package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/nimasrn/video-report/internal/model"
	"github.com/nimasrn/video-report/pkg/logger"
)

type ItemRepository interface {
	CreateBatch(ctx context.Context, items []*model.Item) ([]*model.Item, error)
	GetByID(ctx context.Context, id int64) (*model.Item, error)
	GetForUpdate(ctx context.Context, id int64) (*model.Item, error)
	Save(ctx context.Context, item *model.Item) (*model.Item, error)
}

type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Ledger owns the video and dispatch state of report items. Mutations of one
// item are serialized in process and row locked in the database.
type Ledger struct {
	tx    Transactor
	items ItemRepository
	locks *keyedMutex
	now   func() time.Time
}

func New(tx Transactor, items ItemRepository) *Ledger {
	return &Ledger{
		tx:    tx,
		items: items,
		locks: newKeyedMutex(),
		now:   time.Now,
	}
}

func (l *Ledger) CreateItems(ctx context.Context, reportID int64, recipients []model.Recipient) ([]*model.Item, error) {
	if err := model.ValidateRecipients(recipients); err != nil {
		return nil, err
	}

	items := make([]*model.Item, len(recipients))
	for i, r := range recipients {
		items[i] = &model.Item{
			ReportID:    reportID,
			RowNumber:   i + 1,
			Name:        strings.TrimSpace(r.Name),
			Phone:       strings.TrimSpace(r.Phone),
			VideoStatus: model.VideoStatusPending,
			WaStatus:    model.WaStatusAbsent,
		}
	}

	return l.items.CreateBatch(ctx, items)
}

func (l *Ledger) GetItem(ctx context.Context, itemID int64) (*model.Item, error) {
	return l.items.GetByID(ctx, itemID)
}

func (l *Ledger) UpdateVideoState(ctx context.Context, itemID int64, status model.VideoStatus, upd model.VideoUpdate) (*model.Item, error) {
	return l.mutate(ctx, itemID, func(it *model.Item) (bool, error) {
		return applyVideo(it, status, upd)
	})
}

func (l *Ledger) UpdateWaState(ctx context.Context, itemID int64, status model.WaStatus, upd model.WaUpdate) (*model.Item, error) {
	return l.mutate(ctx, itemID, func(it *model.Item) (bool, error) {
		return applyWa(it, status, upd, l.now())
	})
}

// ResetVideo moves a FAILED item back to PENDING for regeneration.
func (l *Ledger) ResetVideo(ctx context.Context, itemID int64) (*model.Item, error) {
	return l.mutate(ctx, itemID, resetVideo)
}

func (l *Ledger) SetExcluded(ctx context.Context, itemID int64, excluded bool) (*model.Item, error) {
	return l.mutate(ctx, itemID, func(it *model.Item) (bool, error) {
		return setExcluded(it, excluded)
	})
}

func (l *Ledger) mutate(ctx context.Context, itemID int64, fn func(it *model.Item) (bool, error)) (*model.Item, error) {
	unlock := l.locks.Lock(itemID)
	defer unlock()

	var out *model.Item
	err := l.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		it, err := l.items.GetForUpdate(ctx, itemID)
		if err != nil {
			return err
		}

		before := it.VideoStatus
		beforeWa := it.WaStatus
		changed, err := fn(it)
		if err != nil {
			return err
		}
		if !changed {
			out = it
			return nil
		}

		out, err = l.items.Save(ctx, it)
		if err != nil {
			return err
		}
		logger.Debug("item updated", "item_id", itemID,
			"video_from", before, "video_to", it.VideoStatus,
			"wa_from", waLabel(beforeWa), "wa_to", waLabel(it.WaStatus))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
