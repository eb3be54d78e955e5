package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/nimasrn/video-report/internal/aggregator"
	"github.com/nimasrn/video-report/internal/model"
	"github.com/nimasrn/video-report/pkg/logger"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

type ReportRepository interface {
	Create(ctx context.Context, report *model.Report) (*model.Report, error)
	GetByID(ctx context.Context, id int64) (*model.Report, error)
	List(ctx context.Context, f model.ReportFilter) ([]*model.Report, int64, error) // results, totalCount
	UpdateStats(ctx context.Context, id int64, s model.ReportStats) error
	Delete(ctx context.Context, id int64) error
}

type ItemRepository interface {
	ListByReport(ctx context.Context, reportID int64) ([]*model.Item, error)
	List(ctx context.Context, f model.ItemFilter) ([]*model.Item, int64, error)
}

type AttemptRepository interface {
	ListByItem(ctx context.Context, itemID int64) ([]*model.DispatchAttempt, error)
}

type Ledger interface {
	CreateItems(ctx context.Context, reportID int64, recipients []model.Recipient) ([]*model.Item, error)
	GetItem(ctx context.Context, itemID int64) (*model.Item, error)
	SetExcluded(ctx context.Context, itemID int64, excluded bool) (*model.Item, error)
}

type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ItemQuery selects one page of a report's items. Page is 1-based.
type ItemQuery struct {
	Filter string
	Search string
	Page   int
	Size   int
}

// ReportService serves report views. Counters are always derived from the
// item ledger; the persisted snapshot only backs List.
type ReportService struct {
	tx       Transactor
	reports  ReportRepository
	items    ItemRepository
	attempts AttemptRepository
	ledger   Ledger
}

func NewReportService(tx Transactor, reports ReportRepository, items ItemRepository, attempts AttemptRepository, ledger Ledger) *ReportService {
	return &ReportService{
		tx:       tx,
		reports:  reports,
		items:    items,
		attempts: attempts,
		ledger:   ledger,
	}
}

func (s *ReportService) Create(ctx context.Context, p model.ReportCreateRequest) (*model.Report, error) {
	p.Name = strings.TrimSpace(p.Name)
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var (
		created *model.Report
		items   []*model.Item
	)
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		r, err := s.reports.Create(ctx, &model.Report{
			Name:              p.Name,
			Kind:              p.Kind,
			TemplateRef:       strings.TrimSpace(p.TemplateRef),
			WaMessageTemplate: p.WaMessageTemplate,
			ReportStats: model.ReportStats{
				TotalRecords: len(p.Recipients),
				Status:       model.ReportStatusPending,
			},
		})
		if err != nil {
			return fmt.Errorf("create report: %w", err)
		}

		items, err = s.ledger.CreateItems(ctx, r.ID, p.Recipients)
		if err != nil {
			return fmt.Errorf("create items: %w", err)
		}
		created = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("report created", "report_id", created.ID, "kind", created.Kind, "items", len(items))
	return aggregator.Apply(created, items), nil
}

// Get returns the report with counters recomputed from its items.
func (s *ReportService) Get(ctx context.Context, id int64) (*model.Report, error) {
	r, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.items.ListByReport(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return aggregator.Apply(r, items), nil
}

func (s *ReportService) List(ctx context.Context, f model.ReportFilter) ([]*model.Report, int64, error) {
	if f.Kind != nil && !f.Kind.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown kind %q", model.ErrValidation, *f.Kind)
	}
	return s.reports.List(ctx, f)
}

// Refresh recomputes the counters and persists them as the list snapshot.
func (s *ReportService) Refresh(ctx context.Context, id int64) (*model.Report, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.reports.UpdateStats(ctx, id, r.ReportStats); err != nil {
		return nil, fmt.Errorf("update stats: %w", err)
	}
	return r, nil
}

func (s *ReportService) Delete(ctx context.Context, id int64) error {
	if _, err := s.reports.GetByID(ctx, id); err != nil {
		return err
	}
	if err := s.reports.Delete(ctx, id); err != nil {
		return err
	}
	logger.Info("report deleted", "report_id", id)
	return nil
}

func (s *ReportService) ListItems(ctx context.Context, reportID int64, q ItemQuery) (*model.ItemPage, error) {
	kind, err := model.ParseItemFilterKind(q.Filter)
	if err != nil {
		return nil, err
	}
	page, size, err := normalizePage(q.Page, q.Size)
	if err != nil {
		return nil, err
	}
	if _, err := s.reports.GetByID(ctx, reportID); err != nil {
		return nil, err
	}

	items, total, err := s.items.List(ctx, model.ItemFilter{
		ReportID: reportID,
		Kind:     kind,
		Search:   strings.TrimSpace(q.Search),
		Limit:    size,
		Offset:   (page - 1) * size,
	})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*model.Item{}
	}

	return &model.ItemPage{Items: items, Total: total, Page: page, Size: size}, nil
}

// GetItem returns one item of the report with its dispatch attempts.
func (s *ReportService) GetItem(ctx context.Context, reportID, itemID int64) (*model.ItemDetail, error) {
	item, err := s.itemOf(ctx, reportID, itemID)
	if err != nil {
		return nil, err
	}
	attempts, err := s.attempts.ListByItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	if attempts == nil {
		attempts = []*model.DispatchAttempt{}
	}
	return &model.ItemDetail{Item: item, Attempts: attempts}, nil
}

func (s *ReportService) SetExcluded(ctx context.Context, reportID, itemID int64, excluded bool) (*model.Item, error) {
	if _, err := s.itemOf(ctx, reportID, itemID); err != nil {
		return nil, err
	}
	return s.ledger.SetExcluded(ctx, itemID, excluded)
}

func (s *ReportService) itemOf(ctx context.Context, reportID, itemID int64) (*model.Item, error) {
	item, err := s.ledger.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.ReportID != reportID {
		return nil, fmt.Errorf("%w: item %d in report %d", model.ErrNotFound, itemID, reportID)
	}
	return item, nil
}

func normalizePage(page, size int) (int, int, error) {
	if page < 0 || size < 0 {
		return 0, 0, fmt.Errorf("%w: page and size must not be negative", model.ErrValidation)
	}
	if page == 0 {
		page = 1
	}
	switch {
	case size == 0:
		size = DefaultPageSize
	case size > MaxPageSize:
		size = MaxPageSize
	}
	return page, size, nil
}
