package sharelink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/video-report/internal/model"
	"github.com/nimasrn/video-report/pkg/logger"
	"github.com/nimasrn/video-report/pkg/redis"
)

const keyPrefix = "share:"

type ItemReader interface {
	GetItem(ctx context.Context, itemID int64) (*model.Item, error)
}

// Signer turns a stored video location into a URL a recipient can open.
type Signer interface {
	Sign(ctx context.Context, location string) (string, error)
}

type grant struct {
	ItemID   int64     `json:"item_id"`
	ReportID int64     `json:"report_id"`
	VideoURL string    `json:"video_url"`
	IssuedAt time.Time `json:"issued_at"`
}

// Issuer mints tokens bound to one item's finished video. Tokens live in
// redis until their TTL evicts them; every Issue call creates a new one.
type Issuer struct {
	items   ItemReader
	redis   redis.RedisAdapter
	baseURL string
	ttl     time.Duration
	signer  Signer
	now     func() time.Time
}

func NewIssuer(items ItemReader, adapter redis.RedisAdapter, baseURL string, ttl time.Duration) *Issuer {
	return &Issuer{
		items:   items,
		redis:   adapter,
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithSigner makes Resolve sign video locations before handing them out.
func (i *Issuer) WithSigner(s Signer) *Issuer {
	i.signer = s
	return i
}

func (i *Issuer) Issue(ctx context.Context, itemID int64) (*model.ShareLink, error) {
	item, err := i.items.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return i.IssueFor(ctx, item)
}

func (i *Issuer) IssueFor(ctx context.Context, item *model.Item) (*model.ShareLink, error) {
	if item.VideoStatus != model.VideoStatusDone || item.VideoURL == "" {
		return nil, fmt.Errorf("%w: item %d has no finished video", model.ErrPrecondition, item.ID)
	}

	now := i.now()
	payload, err := json.Marshal(grant{
		ItemID:   item.ID,
		ReportID: item.ReportID,
		VideoURL: item.VideoURL,
		IssuedAt: now,
	})
	if err != nil {
		return nil, err
	}

	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := i.redis.Set(ctx, keyPrefix+token, payload, i.ttl); err != nil {
		return nil, fmt.Errorf("store share token: %w", err)
	}

	link := &model.ShareLink{
		Token: token,
		URL:   i.baseURL + "/s/" + token,
	}
	if i.ttl > 0 {
		link.ExpiresAt = now.Add(i.ttl)
	}
	return link, nil
}

// Resolve returns the video URL a token grants access to.
func (i *Issuer) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: share token", model.ErrNotFound)
	}

	raw, err := i.redis.Get(ctx, keyPrefix+token)
	if err != nil {
		if errors.Is(err, redis.NilError) {
			return "", fmt.Errorf("%w: share token", model.ErrNotFound)
		}
		return "", err
	}

	var g grant
	if err := json.Unmarshal(raw, &g); err != nil {
		logger.Warn("corrupt share token payload", "token", token, "error", err)
		return "", fmt.Errorf("%w: share token", model.ErrNotFound)
	}

	if i.signer == nil {
		return g.VideoURL, nil
	}
	return i.signer.Sign(ctx, g.VideoURL)
}
