package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/nimasrn/video-report/internal/model"
	xhttp "github.com/nimasrn/video-report/pkg/http"
	"github.com/nimasrn/video-report/pkg/logger"
)

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	body := ctx.PostBody()
	return json.Unmarshal(body, dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

// writeFailure maps a service error onto its response code.
func writeFailure(ctx *xhttp.RequestCtx, err error) {
	status := statusFor(err)
	if status == xhttp.StatusInternalServerError {
		logger.Error("request failed", "method", string(ctx.Method()), "path", string(ctx.Path()), "error", err)
		writeError(ctx, status, xhttp.StatusText(status))
		return
	}
	writeError(ctx, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation):
		return xhttp.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return xhttp.StatusNotFound
	case errors.Is(err, model.ErrState):
		return xhttp.StatusConflict
	case errors.Is(err, model.ErrPrecondition):
		return xhttp.StatusPreconditionFailed
	default:
		return xhttp.StatusInternalServerError
	}
}

// pathInt64 reads a positive id captured by the router.
func pathInt64(ctx *xhttp.RequestCtx, name string) (int64, error) {
	raw := fmt.Sprint(ctx.UserValue(name))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", model.ErrValidation, name, raw)
	}
	return id, nil
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

// queryInt returns 0 for an absent parameter.
func queryInt(ctx *xhttp.RequestCtx, key string) (int, error) {
	v := query(ctx, key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q", model.ErrValidation, key, v)
	}
	return n, nil
}
