package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const renderPath = "/api/v1/render"

type RenderRequest struct {
	TemplateRef   string `json:"template_ref"`
	RecipientName string `json:"recipient_name"`
}

type RenderResponse struct {
	VideoURL string `json:"video_url"`
	Error    string `json:"error,omitempty"`
}

// Renderer produces one personalized video per call.
type Renderer struct {
	pool *Pool
}

func NewRenderer(pool *Pool) *Renderer {
	return &Renderer{pool: pool}
}

func (r *Renderer) Render(ctx context.Context, templateRef, recipientName string) (string, error) {
	body, err := json.Marshal(RenderRequest{TemplateRef: templateRef, RecipientName: recipientName})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	raw, err := r.pool.PostJSON(ctx, renderPath, body)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return "", fmt.Errorf("renderer rejected request: %s", reason(se))
		}
		return "", err
	}

	var resp RenderResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if resp.Error != "" {
		return "", errors.New(resp.Error)
	}
	return resp.VideoURL, nil
}

// reason extracts {"error": "..."} from a rejection body when present.
func reason(se *StatusError) string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal([]byte(se.Body), &body) == nil && body.Error != "" {
		return body.Error
	}
	return fmt.Sprintf("status %d", se.Code)
}
