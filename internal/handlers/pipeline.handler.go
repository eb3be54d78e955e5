package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/nimasrn/video-report/internal/model"
	xhttp "github.com/nimasrn/video-report/pkg/http"
)

type VideoService interface {
	GenerateAll(ctx context.Context, reportID int64) (int, error)
	Regenerate(ctx context.Context, reportID, itemID int64) (*model.Item, error)
}

type DispatchService interface {
	Blast(ctx context.Context, reportID int64) (*model.BlastSummary, error)
	Resend(ctx context.Context, reportID, itemID int64) (*model.Item, error)
	HandleDeliveryStatus(ctx context.Context, upd model.DeliveryStatusUpdate) error
}

// PipelineHandler starts generation and dispatch work. Batch commands only
// queue jobs and answer 202.
type PipelineHandler struct {
	video    VideoService
	dispatch DispatchService
}

func RegisterPipelineRoutes(e *router.Group, h *PipelineHandler) {
	e.POST("/reports/{id}/generate", h.Generate)
	e.POST("/reports/{id}/items/{itemId}/regenerate", h.Regenerate)
	e.POST("/reports/{id}/blast", h.Blast)
	e.POST("/reports/{id}/items/{itemId}/resend", h.Resend)
	e.POST("/callbacks/delivery", h.DeliveryCallback)
}

func NewPipelineHandler(video VideoService, dispatch DispatchService) *PipelineHandler {
	return &PipelineHandler{video: video, dispatch: dispatch}
}

type generateResponse struct {
	Queued int `json:"queued"`
}

func (h *PipelineHandler) Generate(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeFailure(ctx, err)
		return
	}
	n, err := h.video.GenerateAll(ctx, id)
	if err != nil {
		writeFailure(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusAccepted, generateResponse{Queued: n})
}

func (h *PipelineHandler) Regenerate(ctx *xhttp.RequestCtx) {
	reportID, itemID, err := itemPath(ctx)
	if err != nil {
		writeFailure(ctx, err)
		return
	}
	item, err := h.video.Regenerate(ctx, reportID, itemID)
	if err != nil {
		writeFailure(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusAccepted, item)
}

func (h *PipelineHandler) Blast(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeFailure(ctx, err)
		return
	}
	summary, err := h.dispatch.Blast(ctx, id)
	if err != nil {
		writeFailure(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusAccepted, summary)
}

// Resend delivers synchronously and returns the item in its final state.
func (h *PipelineHandler) Resend(ctx *xhttp.RequestCtx) {
	reportID, itemID, err := itemPath(ctx)
	if err != nil {
		writeFailure(ctx, err)
		return
	}
	item, err := h.dispatch.Resend(ctx, reportID, itemID)
	if err != nil {
		writeFailure(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, item)
}

func (h *PipelineHandler) DeliveryCallback(ctx *xhttp.RequestCtx) {
	var upd model.DeliveryStatusUpdate
	if err := readJSON(ctx, &upd); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := h.dispatch.HandleDeliveryStatus(ctx, upd); err != nil {
		writeFailure(ctx, err)
		return
	}
	ctx.SetStatusCode(xhttp.StatusNoContent)
}
