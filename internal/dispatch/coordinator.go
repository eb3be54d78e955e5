// Package dispatch sends finished videos to recipients over the WA channel
// and folds the channel's delivery callbacks back into the ledger.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nimasrn/video-report/internal/model"
	"github.com/nimasrn/video-report/pkg/logger"
)

type Ledger interface {
	GetItem(ctx context.Context, itemID int64) (*model.Item, error)
	UpdateWaState(ctx context.Context, itemID int64, status model.WaStatus, upd model.WaUpdate) (*model.Item, error)
}

type ReportReader interface {
	GetByID(ctx context.Context, id int64) (*model.Report, error)
}

type ItemLister interface {
	ListByReport(ctx context.Context, reportID int64) ([]*model.Item, error)
}

// Channel is the outbound WA provider. A rejection is reported by wrapping
// model.ErrChannelRejected, anything else is a transport error.
type Channel interface {
	Send(ctx context.Context, to, message string) (string, error)
}

type LinkIssuer interface {
	IssueFor(ctx context.Context, item *model.Item) (*model.ShareLink, error)
}

type AttemptStore interface {
	Create(ctx context.Context, a *model.DispatchAttempt) (*model.DispatchAttempt, error)
	Complete(ctx context.Context, id int64, status model.AttemptStatus, deliveryID, errMsg string) error
	FindByDeliveryID(ctx context.Context, deliveryID string) (*model.DispatchAttempt, error)
}

type Guard interface {
	Acquire(ctx context.Context, itemID int64) (func(), error)
}

// EarlyStatusStore holds delivery statuses that arrive before the send that
// produced their delivery id is recorded. Take returns nil when nothing is
// parked and hands a parked status to one caller only.
type EarlyStatusStore interface {
	Park(ctx context.Context, upd model.DeliveryStatusUpdate) error
	Take(ctx context.Context, deliveryID string) (*model.DeliveryStatusUpdate, error)
}

type Publisher interface {
	PublishDispatch(ctx context.Context, job model.DispatchJob) error
}

type Coordinator struct {
	ledger      Ledger
	reports     ReportReader
	items       ItemLister
	channel     Channel
	links       LinkIssuer
	attempts    AttemptStore
	guard       Guard
	publisher   Publisher
	early       EarlyStatusStore
	sendTimeout time.Duration
	now         func() time.Time
}

type Deps struct {
	Ledger    Ledger
	Reports   ReportReader
	Items     ItemLister
	Channel   Channel
	Links     LinkIssuer
	Attempts  AttemptStore
	Guard     Guard
	Publisher Publisher

	// Early is optional. Without it a status for an unknown delivery id
	// fails with model.ErrNotFound.
	Early EarlyStatusStore
}

func NewCoordinator(d Deps, sendTimeout time.Duration) *Coordinator {
	return &Coordinator{
		ledger:      d.Ledger,
		reports:     d.Reports,
		items:       d.Items,
		channel:     d.Channel,
		links:       d.Links,
		attempts:    d.Attempts,
		guard:       d.Guard,
		publisher:   d.Publisher,
		early:       d.Early,
		sendTimeout: sendTimeout,
		now:         time.Now,
	}
}

// Blast queues a send for every dispatchable item that has not been sent
// yet. Items already in flight are counted as skipped.
func (c *Coordinator) Blast(ctx context.Context, reportID int64) (*model.BlastSummary, error) {
	if _, err := c.reports.GetByID(ctx, reportID); err != nil {
		return nil, err
	}

	items, err := c.items.ListByReport(ctx, reportID)
	if err != nil {
		return nil, err
	}

	summary := &model.BlastSummary{}
	for _, it := range items {
		if !it.Dispatchable() {
			continue
		}
		switch it.WaStatus {
		case model.WaStatusAbsent, model.WaStatusPending, model.WaStatusQueued:
		case model.WaStatusProcessing:
			summary.Skipped++
			continue
		default:
			continue
		}

		if _, err := c.ledger.UpdateWaState(ctx, it.ID, model.WaStatusQueued, model.WaUpdate{}); err != nil {
			logger.Warn("failed to queue item for dispatch", "report_id", reportID, "item_id", it.ID, "error", err)
			summary.Skipped++
			continue
		}
		if err := c.publisher.PublishDispatch(ctx, model.DispatchJob{ReportID: reportID, ItemID: it.ID}); err != nil {
			logger.Error("failed to publish dispatch job", "report_id", reportID, "item_id", it.ID, "error", err)
			summary.Skipped++
			continue
		}
		summary.Queued++
	}

	logger.Info("blast queued", "report_id", reportID, "queued", summary.Queued, "skipped", summary.Skipped)
	return summary, nil
}

// Deliver handles one dispatch job. Jobs for items that are no longer queued
// are dropped. When another holder is sending the item the job is returned
// for a later retry.
func (c *Coordinator) Deliver(ctx context.Context, itemID int64) error {
	release, err := c.guard.Acquire(ctx, itemID)
	if err != nil {
		if errors.Is(err, ErrInFlight) {
			return fmt.Errorf("%w: item %d", model.ErrPrecondition, itemID)
		}
		return err
	}
	defer release()

	item, err := c.ledger.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			logger.Warn("dispatch job for missing item", "item_id", itemID)
			return nil
		}
		return err
	}
	if item.WaStatus != model.WaStatusQueued {
		logger.Debug("skipping dispatch job", "item_id", itemID, "wa_status", item.WaStatus)
		return nil
	}

	_, err = c.deliver(ctx, item)
	return err
}

// Resend delivers one item synchronously and returns its updated state.
func (c *Coordinator) Resend(ctx context.Context, reportID, itemID int64) (*model.Item, error) {
	item, err := c.ledger.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.ReportID != reportID {
		return nil, fmt.Errorf("%w: item %d in report %d", model.ErrNotFound, itemID, reportID)
	}
	if !item.Dispatchable() {
		return nil, fmt.Errorf("%w: item %d has no dispatchable video", model.ErrPrecondition, itemID)
	}
	if !item.WaStatus.Resendable() {
		return nil, fmt.Errorf("%w: item %d dispatch is %s", model.ErrPrecondition, itemID, item.WaStatus)
	}

	release, err := c.guard.Acquire(ctx, itemID)
	if err != nil {
		if errors.Is(err, ErrInFlight) {
			return nil, fmt.Errorf("%w: item %d already in flight", model.ErrPrecondition, itemID)
		}
		return nil, err
	}
	defer release()

	item, err = c.ledger.UpdateWaState(ctx, itemID, model.WaStatusQueued, model.WaUpdate{})
	if err != nil {
		return nil, err
	}
	return c.deliver(ctx, item)
}

// deliver runs one send for a queued item. The caller holds the item's guard.
func (c *Coordinator) deliver(ctx context.Context, item *model.Item) (*model.Item, error) {
	item, err := c.ledger.UpdateWaState(ctx, item.ID, model.WaStatusProcessing, model.WaUpdate{})
	if err != nil {
		return nil, err
	}

	// from here on every outcome is recorded, even if ctx is cancelled
	rec := context.WithoutCancel(ctx)

	report, err := c.reports.GetByID(ctx, item.ReportID)
	if err != nil {
		return c.ledger.UpdateWaState(rec, item.ID, model.WaStatusError, model.WaUpdate{ErrorMessage: "load report: " + err.Error()})
	}

	link, err := c.links.IssueFor(ctx, item)
	if err != nil {
		logger.Error("failed to issue share link", "item_id", item.ID, "error", err)
		return c.ledger.UpdateWaState(rec, item.ID, model.WaStatusError, model.WaUpdate{ErrorMessage: "share link: " + err.Error()})
	}

	message := RenderMessage(report.WaMessageTemplate, item.Name, link.URL)
	attempt, err := c.attempts.Create(ctx, &model.DispatchAttempt{
		ItemID:      item.ID,
		Message:     message,
		Status:      model.AttemptStatusAttempting,
		AttemptedAt: c.now(),
	})
	if err != nil {
		return c.ledger.UpdateWaState(rec, item.ID, model.WaStatusError, model.WaUpdate{ErrorMessage: "record attempt: " + err.Error()})
	}

	sctx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	deliveryID, sendErr := c.channel.Send(sctx, item.Phone, message)
	timedOut := errors.Is(sctx.Err(), context.DeadlineExceeded)
	cancel()

	status, errMsg := c.classify(sendErr, timedOut)
	if err := c.attempts.Complete(rec, attempt.ID, status, deliveryID, errMsg); err != nil {
		logger.Error("failed to complete dispatch attempt", "attempt_id", attempt.ID, "error", err)
	}

	sentAt := c.now()
	upd := model.WaUpdate{ErrorMessage: errMsg, DeliveryID: deliveryID}
	var waStatus model.WaStatus
	switch status {
	case model.AttemptStatusSent:
		waStatus = model.WaStatusSent
		upd.SentAt = &sentAt
		logger.Info("wa message sent", "report_id", item.ReportID, "item_id", item.ID, "delivery_id", deliveryID)
	case model.AttemptStatusFailed:
		waStatus = model.WaStatusFailed
		logger.Warn("wa message rejected", "report_id", item.ReportID, "item_id", item.ID, "error", errMsg)
	default:
		waStatus = model.WaStatusError
		logger.Warn("wa send error", "report_id", item.ReportID, "item_id", item.ID, "error", errMsg)
	}

	updated, err := c.ledger.UpdateWaState(rec, item.ID, waStatus, upd)
	if err != nil || waStatus != model.WaStatusSent || c.early == nil {
		return updated, err
	}

	// the channel may have reported on this message while Send was running
	applied, err := c.applyParked(rec, deliveryID)
	if err != nil {
		logger.Error("failed to apply parked delivery status", "item_id", item.ID, "delivery_id", deliveryID, "error", err)
		return updated, nil
	}
	if !applied {
		return updated, nil
	}
	return c.ledger.GetItem(rec, item.ID)
}

func (c *Coordinator) classify(err error, timedOut bool) (model.AttemptStatus, string) {
	switch {
	case err == nil:
		return model.AttemptStatusSent, ""
	case errors.Is(err, model.ErrChannelRejected):
		return model.AttemptStatusFailed, err.Error()
	case timedOut:
		return model.AttemptStatusError, fmt.Sprintf("send timed out after %s", c.sendTimeout)
	default:
		return model.AttemptStatusError, err.Error()
	}
}

type deliveryOutcome struct {
	attempt model.AttemptStatus
	wa      model.WaStatus
	errMsg  string
}

// outcomeOf maps a channel status onto ledger states. It returns nil for
// acknowledgements that change nothing.
func outcomeOf(upd model.DeliveryStatusUpdate) (*deliveryOutcome, error) {
	if strings.TrimSpace(upd.DeliveryID) == "" {
		return nil, fmt.Errorf("%w: delivery_id is required", model.ErrValidation)
	}

	var o deliveryOutcome
	switch strings.ToUpper(strings.TrimSpace(upd.Status)) {
	case "DELIVERED", "READ":
		o.attempt, o.wa = model.AttemptStatusDelivered, model.WaStatusDelivered
	case "FAILED", "REJECTED", "UNDELIVERED":
		o.attempt, o.wa = model.AttemptStatusFailed, model.WaStatusFailed
	case "SENT", "ACCEPTED":
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unknown delivery status %q", model.ErrValidation, upd.Status)
	}

	o.errMsg = upd.Error
	if o.wa == model.WaStatusFailed && o.errMsg == "" {
		o.errMsg = "delivery failed: " + strings.ToLower(upd.Status)
	}
	return &o, nil
}

// HandleDeliveryStatus applies an asynchronous status report from the
// channel. Reports for superseded attempts only update that attempt. A report
// that beats its own send is parked and applied once the send is recorded.
func (c *Coordinator) HandleDeliveryStatus(ctx context.Context, upd model.DeliveryStatusUpdate) error {
	o, err := outcomeOf(upd)
	if err != nil || o == nil {
		return err
	}

	attempt, err := c.attempts.FindByDeliveryID(ctx, upd.DeliveryID)
	if errors.Is(err, model.ErrNotFound) && c.early != nil {
		return c.park(ctx, upd)
	}
	if err != nil {
		return err
	}
	return c.apply(ctx, attempt, upd, o)
}

func (c *Coordinator) park(ctx context.Context, upd model.DeliveryStatusUpdate) error {
	if err := c.early.Park(ctx, upd); err != nil {
		return err
	}
	logger.Info("parked delivery status for unknown delivery id", "delivery_id", upd.DeliveryID, "status", upd.Status)

	// The send may have been recorded since the lookup. Once the item carries
	// the delivery id, deliver has already looked for parked statuses and
	// this caller has to apply it.
	attempt, err := c.attempts.FindByDeliveryID(ctx, upd.DeliveryID)
	if errors.Is(err, model.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	item, err := c.ledger.GetItem(ctx, attempt.ItemID)
	if err != nil {
		return err
	}
	if item.WaDeliveryID != upd.DeliveryID {
		return nil
	}
	_, err = c.applyParked(ctx, upd.DeliveryID)
	return err
}

// applyParked applies the status parked for deliveryID, if any.
func (c *Coordinator) applyParked(ctx context.Context, deliveryID string) (bool, error) {
	upd, err := c.early.Take(ctx, deliveryID)
	if err != nil || upd == nil {
		return false, err
	}
	o, err := outcomeOf(*upd)
	if err != nil || o == nil {
		return false, err
	}
	attempt, err := c.attempts.FindByDeliveryID(ctx, deliveryID)
	if err != nil {
		return false, err
	}
	logger.Info("applying parked delivery status", "item_id", attempt.ItemID, "delivery_id", deliveryID, "status", upd.Status)
	return true, c.apply(ctx, attempt, *upd, o)
}

func (c *Coordinator) apply(ctx context.Context, attempt *model.DispatchAttempt, upd model.DeliveryStatusUpdate, o *deliveryOutcome) error {
	if err := c.attempts.Complete(ctx, attempt.ID, o.attempt, "", o.errMsg); err != nil {
		return err
	}

	item, err := c.ledger.GetItem(ctx, attempt.ItemID)
	if err != nil {
		return err
	}
	if item.WaDeliveryID != upd.DeliveryID {
		logger.Info("delivery status for superseded attempt", "item_id", item.ID, "delivery_id", upd.DeliveryID)
		return nil
	}

	_, err = c.ledger.UpdateWaState(ctx, item.ID, o.wa, model.WaUpdate{ErrorMessage: o.errMsg, DeliveryID: upd.DeliveryID})
	if errors.Is(err, model.ErrState) {
		logger.Warn("ignoring delivery status", "item_id", item.ID, "status", upd.Status, "error", err)
		return nil
	}
	return err
}
