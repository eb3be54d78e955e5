package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nimasrn/video-report/internal/model"
)

const sendPath = "/api/v1/messages/send"

const ChannelStatusRejected = "REJECTED"

type ChannelSendRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type ChannelSendResponse struct {
	DeliveryID string `json:"delivery_id"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// Channel is the WA messaging client. A 4xx reply or a REJECTED status is
// a rejection of this message; everything else that fails is transport.
type Channel struct {
	pool *Pool
}

func NewChannel(pool *Pool) *Channel {
	return &Channel{pool: pool}
}

func (c *Channel) Send(ctx context.Context, to, message string) (string, error) {
	body, err := json.Marshal(ChannelSendRequest{To: to, Message: message})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	raw, err := c.pool.PostJSON(ctx, sendPath, body)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return "", fmt.Errorf("%w: %s", model.ErrChannelRejected, reason(se))
		}
		return "", err
	}

	var resp ChannelSendResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("%w: bad channel response: %v", model.ErrTransport, err)
	}
	if strings.EqualFold(resp.Status, ChannelStatusRejected) {
		msg := resp.Error
		if msg == "" {
			msg = "rejected by channel"
		}
		return "", fmt.Errorf("%w: %s", model.ErrChannelRejected, msg)
	}
	if resp.DeliveryID == "" {
		return "", fmt.Errorf("%w: channel returned no delivery id", model.ErrTransport)
	}
	return resp.DeliveryID, nil
}
