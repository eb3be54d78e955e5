package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/nimasrn/video-report/internal/model"
	"github.com/nimasrn/video-report/internal/services"
	xhttp "github.com/nimasrn/video-report/pkg/http"
)

type ReportService interface {
	Create(ctx context.Context, p model.ReportCreateRequest) (*model.Report, error)
	Get(ctx context.Context, id int64) (*model.Report, error)
	List(ctx context.Context, f model.ReportFilter) ([]*model.Report, int64, error)
	Refresh(ctx context.Context, id int64) (*model.Report, error)
	Delete(ctx context.Context, id int64) error
	ListItems(ctx context.Context, reportID int64, q services.ItemQuery) (*model.ItemPage, error)
	GetItem(ctx context.Context, reportID, itemID int64) (*model.ItemDetail, error)
	SetExcluded(ctx context.Context, reportID, itemID int64, excluded bool) (*model.Item, error)
}

type ReportHandler struct {
	svc ReportService
}

func RegisterReportRoutes(e *router.Group, h *ReportHandler) {
	e.POST("/reports", h.CreateReport)
	e.GET("/reports", h.ListReports)
	e.GET("/reports/{id}", h.GetReport)
	e.DELETE("/reports/{id}", h.DeleteReport)
	e.POST("/reports/{id}/refresh", h.RefreshReport)
	e.GET("/reports/{id}/items", h.ListItems)
	e.GET("/reports/{id}/items/{itemId}", h.GetItem)
	e.POST("/reports/{id}/items/{itemId}/exclude", h.ExcludeItem)
}

func NewReportHandler(svc ReportService) *ReportHandler {
	return &ReportHandler{svc: svc}
}

type listReportsResponse struct {
	Items []*model.Report `json:"items"`
	Total int64           `json:"total"`
}

type excludeRequest struct {
	Excluded *bool `json:"excluded"`
}

func (h *ReportHandler) CreateReport(ctx *xhttp.RequestCtx) {
	var req model.ReportCreateRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	r, err := h.svc.Create(ctx, req)
	if err != nil {
		writeFailure(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusCreated, r)
}

func (h *ReportHandler) ListReports(ctx *xhttp.RequestCtx) {
	var f model.ReportFilter
	if v := query(ctx, "kind"); v != "" {
		kind := model.ReportKind(v)
		f.Kind = &kind
	}
	var err error
	if f.Limit, err = queryInt(ctx, "limit"); err != nil {
		writeFailure(ctx, err)
		return
	}
	if f.Offset, err = queryInt(ctx, "offset"); err != nil {
		writeFailure(ctx, err)
		return
	}

	items, total, err := h.svc.List(ctx, f)
	if err != nil {
		writeFailure(ctx, err)
		return
	}
	if items == nil {
		items = []*model.Report{}
	}
	writeJSON(ctx, xhttp.StatusOK, listReportsResponse{Items: items, Total: total})
}

func (h *ReportHandler) GetReport(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeFailure(ctx, err)
		return
	}
	r, err := h.svc.Get(ctx, id)
	if err != nil {
		writeFailure(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, r)
}

func (h *ReportHandler) DeleteReport(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeFailure(ctx, err)
		return
	}
	if err := h.svc.Delete(ctx, id); err != nil {
		writeFailure(ctx, err)
		return
	}
	ctx.SetStatusCode(xhttp.StatusNoContent)
}

func (h *ReportHandler) RefreshReport(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeFailure(ctx, err)
		return
	}
	r, err := h.svc.Refresh(ctx, id)
	if err != nil {
		writeFailure(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, r)
}

func (h *ReportHandler) ListItems(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeFailure(ctx, err)
		return
	}

	q := services.ItemQuery{
		Filter: query(ctx, "filter"),
		Search: query(ctx, "search"),
	}
	if q.Page, err = queryInt(ctx, "page"); err != nil {
		writeFailure(ctx, err)
		return
	}
	if q.Size, err = queryInt(ctx, "size"); err != nil {
		writeFailure(ctx, err)
		return
	}

	page, err := h.svc.ListItems(ctx, id, q)
	if err != nil {
		writeFailure(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, page)
}

func (h *ReportHandler) GetItem(ctx *xhttp.RequestCtx) {
	reportID, itemID, err := itemPath(ctx)
	if err != nil {
		writeFailure(ctx, err)
		return
	}
	detail, err := h.svc.GetItem(ctx, reportID, itemID)
	if err != nil {
		writeFailure(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, detail)
}

// ExcludeItem excludes the item from dispatch, or includes it again with
// {"excluded": false}.
func (h *ReportHandler) ExcludeItem(ctx *xhttp.RequestCtx) {
	reportID, itemID, err := itemPath(ctx)
	if err != nil {
		writeFailure(ctx, err)
		return
	}

	excluded := true
	if len(ctx.PostBody()) > 0 {
		var req excludeRequest
		if err := readJSON(ctx, &req); err != nil {
			writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		if req.Excluded != nil {
			excluded = *req.Excluded
		}
	}

	item, err := h.svc.SetExcluded(ctx, reportID, itemID, excluded)
	if err != nil {
		writeFailure(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, item)
}

func itemPath(ctx *xhttp.RequestCtx) (int64, int64, error) {
	reportID, err := pathInt64(ctx, "id")
	if err != nil {
		return 0, 0, err
	}
	itemID, err := pathInt64(ctx, "itemId")
	if err != nil {
		return 0, 0, err
	}
	return reportID, itemID, nil
}
