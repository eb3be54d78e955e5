package xhttp

import (
	"github.com/fasthttp/router"
)

type Router = router.Router

// RouteOf returns the matched route pattern, e.g. "/api/v1/reports/{id}",
// or "" when nothing matched.
func RouteOf(ctx *RequestCtx) string {
	if v, ok := ctx.UserValue(router.MatchedRoutePathParam).(string); ok {
		return v
	}
	return ""
}

func NewRouter() *Router {
	return router.New()
}

// CreateDefaultRouter returns a router that saves the matched route for
// logging and metrics and answers unknown routes with a JSON error.
func CreateDefaultRouter() *Router {
	r := NewRouter()
	r.RedirectFixedPath = true
	r.RedirectTrailingSlash = true
	r.SaveMatchedRoutePath = true
	r.NotFound = NotFoundHandler
	r.MethodNotAllowed = MethodNotAllowedHandler
	r.HandleOPTIONS = false
	r.HandleMethodNotAllowed = true
	return r
}

func NotFoundHandler(ctx *RequestCtx) {
	jsonError(ctx, StatusNotFound)
}

func MethodNotAllowedHandler(ctx *RequestCtx) {
	jsonError(ctx, StatusMethodNotAllowed)
}

func jsonError(ctx *RequestCtx, code int) {
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(code)
	ctx.SetBodyString(`{"error":"` + StatusText(code) + `"}`)
}
