package handlers

import (
	"context"
	"fmt"

	"github.com/fasthttp/router"
	"github.com/nimasrn/video-report/internal/model"
	xhttp "github.com/nimasrn/video-report/pkg/http"
)

type ShareLinkService interface {
	IssueFor(ctx context.Context, item *model.Item) (*model.ShareLink, error)
	Resolve(ctx context.Context, token string) (string, error)
}

type ItemLookup interface {
	GetItem(ctx context.Context, reportID, itemID int64) (*model.ItemDetail, error)
}

type ShareHandler struct {
	links ShareLinkService
	items ItemLookup
}

// RegisterShareRoutes mounts link issuing under the api group and the
// public redirect under its own short prefix.
func RegisterShareRoutes(api, public *router.Group, h *ShareHandler) {
	api.POST("/reports/{id}/items/{itemId}/share-link", h.CreateShareLink)
	public.GET("/{token}", h.Redirect)
}

func NewShareHandler(links ShareLinkService, items ItemLookup) *ShareHandler {
	return &ShareHandler{links: links, items: items}
}

func (h *ShareHandler) CreateShareLink(ctx *xhttp.RequestCtx) {
	reportID, itemID, err := itemPath(ctx)
	if err != nil {
		writeFailure(ctx, err)
		return
	}
	detail, err := h.items.GetItem(ctx, reportID, itemID)
	if err != nil {
		writeFailure(ctx, err)
		return
	}
	link, err := h.links.IssueFor(ctx, detail.Item)
	if err != nil {
		writeFailure(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusCreated, link)
}

func (h *ShareHandler) Redirect(ctx *xhttp.RequestCtx) {
	token := fmt.Sprint(ctx.UserValue("token"))
	target, err := h.links.Resolve(ctx, token)
	if err != nil {
		writeFailure(ctx, err)
		return
	}
	ctx.Response.Header.Set("Location", target)
	ctx.Response.Header.Set("Cache-Control", "no-store")
	ctx.SetStatusCode(xhttp.StatusFound)
}
