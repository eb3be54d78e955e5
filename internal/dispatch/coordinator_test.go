package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/video-report/internal/aggregator"
	"github.com/nimasrn/video-report/internal/ledger"
	"github.com/nimasrn/video-report/internal/model"
	"github.com/nimasrn/video-report/internal/repository"
	"github.com/nimasrn/video-report/internal/sharelink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) Send(ctx context.Context, to, message string) (string, error) {
	args := m.Called(ctx, to, message)
	return args.String(0), args.Error(1)
}

type recordingPublisher struct {
	mu   sync.Mutex
	jobs []model.DispatchJob
}

func (p *recordingPublisher) PublishDispatch(_ context.Context, job model.DispatchJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	return nil
}

type fixture struct {
	mr        *miniredis.Miniredis
	deps      Deps
	coord     *Coordinator
	ledger    *ledger.Ledger
	items     *repository.ItemRepository
	attempts  *repository.DispatchAttemptRepository
	channel   *mockChannel
	publisher *recordingPublisher
	report    *model.Report
	created   []*model.Item
}

// newFixture creates a report whose items all have a finished video.
func newFixture(t *testing.T, template string, phones ...string) *fixture {
	t.Helper()
	db := repository.SetupTestDB(t)
	mr, adapter := newTestAdapter(t)
	ctx := context.Background()

	reports := repository.NewReportRepository(db.DB)
	items := repository.NewItemRepository(db.DB)
	attempts := repository.NewDispatchAttemptRepository(db.DB)
	l := ledger.New(db.DB, items)

	report, err := reports.Create(ctx, &model.Report{
		Name:              "blast",
		Kind:              model.ReportKindLearningVideo,
		TemplateRef:       "tpl",
		WaMessageTemplate: template,
		ReportStats:       model.ReportStats{TotalRecords: len(phones)},
	})
	require.NoError(t, err)

	recipients := make([]model.Recipient, len(phones))
	for i, p := range phones {
		recipients[i] = model.Recipient{Name: fmt.Sprintf("user%d", i+1), Phone: p}
	}
	created, err := l.CreateItems(ctx, report.ID, recipients)
	require.NoError(t, err)

	for _, it := range created {
		_, err := l.UpdateVideoState(ctx, it.ID, model.VideoStatusProcessing, model.VideoUpdate{})
		require.NoError(t, err)
		_, err = l.UpdateVideoState(ctx, it.ID, model.VideoStatusDone, model.VideoUpdate{URL: fmt.Sprintf("s3://videos/%d.mp4", it.ID)})
		require.NoError(t, err)
	}

	channel := new(mockChannel)
	publisher := &recordingPublisher{}
	deps := Deps{
		Ledger:    l,
		Reports:   reports,
		Items:     items,
		Channel:   channel,
		Links:     sharelink.NewIssuer(l, adapter, "https://go.example.com", time.Hour),
		Attempts:  attempts,
		Guard:     NewRedisGuard(adapter, GuardConfig{LockTTL: time.Minute}),
		Publisher: publisher,
		Early:     NewRedisEarlyStatuses(adapter, EarlyStatusConfig{TTL: time.Minute}),
	}
	coord := NewCoordinator(deps, 200*time.Millisecond)

	return &fixture{
		mr:        mr,
		deps:      deps,
		coord:     coord,
		ledger:    l,
		items:     items,
		attempts:  attempts,
		channel:   channel,
		publisher: publisher,
		report:    report,
		created:   created,
	}
}

func (f *fixture) stats(t *testing.T) model.ReportStats {
	items, err := f.items.ListByReport(context.Background(), f.report.ID)
	require.NoError(t, err)
	return aggregator.Compute(items)
}

func (f *fixture) item(t *testing.T, id int64) *model.Item {
	it, err := f.ledger.GetItem(context.Background(), id)
	require.NoError(t, err)
	return it
}

func TestCoordinator_BlastAndDeliver(t *testing.T) {
	f := newFixture(t, "", "+6281", "+6282", "+6283")
	ctx := context.Background()

	f.channel.On("Send", mock.Anything, "+6281", mock.MatchedBy(func(msg string) bool {
		return len(msg) > 0
	})).Return("d-1", nil)
	f.channel.On("Send", mock.Anything, "+6282", mock.Anything).Return("d-2", nil)
	f.channel.On("Send", mock.Anything, "+6283", mock.Anything).
		Return("", fmt.Errorf("%w: invalid number", model.ErrChannelRejected))

	summary, err := f.coord.Blast(ctx, f.report.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Queued)
	assert.Zero(t, summary.Skipped)

	s := f.stats(t)
	assert.Equal(t, 3, s.WaPendingCount)
	assert.Equal(t, 3, s.WaInFlight)
	assert.False(t, s.Settled())

	for _, job := range f.publisher.jobs {
		require.NoError(t, f.coord.Deliver(ctx, job.ItemID))
	}

	s = f.stats(t)
	assert.Equal(t, 2, s.WaSentCount)
	assert.Equal(t, 1, s.WaFailedCount)
	assert.Zero(t, s.WaPendingCount)
	assert.False(t, s.WaComplete)
	assert.True(t, s.Settled())

	sent := f.item(t, f.created[0].ID)
	assert.Equal(t, model.WaStatusSent, sent.WaStatus)
	assert.Equal(t, "d-1", sent.WaDeliveryID)
	assert.NotNil(t, sent.WaSentAt)

	rejected := f.item(t, f.created[2].ID)
	assert.Equal(t, model.WaStatusFailed, rejected.WaStatus)
	assert.Contains(t, rejected.WaErrorMessage, "invalid number")
	assert.Nil(t, rejected.WaSentAt)

	attempts, err := f.attempts.ListByItem(ctx, sent.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, model.AttemptStatusSent, attempts[0].Status)
	assert.Contains(t, attempts[0].Message, "Hi user1, your video is ready: https://go.example.com/s/")

	t.Run("duplicate job is dropped", func(t *testing.T) {
		require.NoError(t, f.coord.Deliver(ctx, sent.ID))
		n, err := f.attempts.CountByItem(ctx, sent.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("second blast queues nothing", func(t *testing.T) {
		summary, err := f.coord.Blast(ctx, f.report.ID)
		require.NoError(t, err)
		assert.Zero(t, summary.Queued)
	})
}

func TestCoordinator_TransportErrorAndTimeout(t *testing.T) {
	f := newFixture(t, "Hello :name", "+1", "+2")
	ctx := context.Background()

	f.channel.On("Send", mock.Anything, "+1", "Hello user1").Return("", errors.New("connection refused"))
	f.channel.On("Send", mock.Anything, "+2", "Hello user2").
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return("", context.DeadlineExceeded)

	_, err := f.coord.Blast(ctx, f.report.ID)
	require.NoError(t, err)
	for _, job := range f.publisher.jobs {
		require.NoError(t, f.coord.Deliver(ctx, job.ItemID))
	}

	first := f.item(t, f.created[0].ID)
	assert.Equal(t, model.WaStatusError, first.WaStatus)
	assert.Equal(t, "connection refused", first.WaErrorMessage)

	second := f.item(t, f.created[1].ID)
	assert.Equal(t, model.WaStatusError, second.WaStatus)
	assert.Contains(t, second.WaErrorMessage, "timed out")

	s := f.stats(t)
	assert.Equal(t, 2, s.WaFailedCount)
}

func TestCoordinator_BlastSkipsIneligible(t *testing.T) {
	f := newFixture(t, "", "+1", "+2", "+3")
	ctx := context.Background()

	_, err := f.ledger.SetExcluded(ctx, f.created[1].ID, true)
	require.NoError(t, err)
	_, err = f.ledger.UpdateWaState(ctx, f.created[2].ID, model.WaStatusQueued, model.WaUpdate{})
	require.NoError(t, err)
	_, err = f.ledger.UpdateWaState(ctx, f.created[2].ID, model.WaStatusProcessing, model.WaUpdate{})
	require.NoError(t, err)

	summary, err := f.coord.Blast(ctx, f.report.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Queued)
	assert.Equal(t, 1, summary.Skipped)
	require.Len(t, f.publisher.jobs, 1)
	assert.Equal(t, f.created[0].ID, f.publisher.jobs[0].ItemID)

	_, err = f.coord.Blast(ctx, 4242)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestCoordinator_StagedPendingItems(t *testing.T) {
	f := newFixture(t, "", "+1", "+2")
	ctx := context.Background()

	for _, it := range f.created {
		_, err := f.ledger.UpdateWaState(ctx, it.ID, model.WaStatusPending, model.WaUpdate{})
		require.NoError(t, err)
	}
	f.channel.On("Send", mock.Anything, "+2", mock.Anything).Return("d-2", nil)

	it, err := f.coord.Resend(ctx, f.report.ID, f.created[1].ID)
	require.NoError(t, err)
	assert.Equal(t, model.WaStatusSent, it.WaStatus)

	summary, err := f.coord.Blast(ctx, f.report.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Queued)
	require.Len(t, f.publisher.jobs, 1)
	assert.Equal(t, f.created[0].ID, f.publisher.jobs[0].ItemID)
	assert.Equal(t, model.WaStatusQueued, f.item(t, f.created[0].ID).WaStatus)
}

func TestCoordinator_Resend(t *testing.T) {
	f := newFixture(t, "", "+1")
	ctx := context.Background()
	id := f.created[0].ID

	f.channel.On("Send", mock.Anything, "+1", mock.Anything).
		Return("", fmt.Errorf("%w: blocked", model.ErrChannelRejected)).Once()
	f.channel.On("Send", mock.Anything, "+1", mock.Anything).Return("d-2", nil).Once()

	it, err := f.coord.Resend(ctx, f.report.ID, id)
	require.NoError(t, err)
	assert.Equal(t, model.WaStatusFailed, it.WaStatus)

	it, err = f.coord.Resend(ctx, f.report.ID, id)
	require.NoError(t, err)
	assert.Equal(t, model.WaStatusSent, it.WaStatus)
	assert.Empty(t, it.WaErrorMessage)
	assert.Equal(t, "d-2", it.WaDeliveryID)

	_, err = f.coord.Resend(ctx, f.report.ID, id)
	assert.ErrorIs(t, err, model.ErrPrecondition)

	_, err = f.coord.Resend(ctx, f.report.ID+1, id)
	assert.ErrorIs(t, err, model.ErrNotFound)

	n, err := f.attempts.CountByItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestCoordinator_ResendRequiresVideo(t *testing.T) {
	f := newFixture(t, "", "+1")
	ctx := context.Background()

	// a fresh item without a video
	extra, err := f.items.CreateBatch(ctx, []*model.Item{{
		ReportID:    f.report.ID,
		RowNumber:   99,
		Name:        "late",
		Phone:       "+9",
		VideoStatus: model.VideoStatusPending,
	}})
	require.NoError(t, err)

	_, err = f.coord.Resend(ctx, f.report.ID, extra[0].ID)
	assert.ErrorIs(t, err, model.ErrPrecondition)
	f.channel.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestCoordinator_ConcurrentResend(t *testing.T) {
	f := newFixture(t, "", "+1")
	ctx := context.Background()
	id := f.created[0].ID

	f.channel.On("Send", mock.Anything, "+1", mock.Anything).
		Run(func(mock.Arguments) { time.Sleep(50 * time.Millisecond) }).
		Return("d-1", nil)

	const callers = 5
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coord.Resend(ctx, f.report.ID, id)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, model.ErrPrecondition) || errors.Is(err, model.ErrState), "unexpected error: %v", err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	n, err := f.attempts.CountByItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	f.channel.AssertNumberOfCalls(t, "Send", 1)
}

func TestCoordinator_DeliverWhileInFlight(t *testing.T) {
	f := newFixture(t, "", "+1")
	ctx := context.Background()
	id := f.created[0].ID

	release, err := f.coord.guard.Acquire(ctx, id)
	require.NoError(t, err)

	err = f.coord.Deliver(ctx, id)
	assert.ErrorIs(t, err, model.ErrPrecondition)
	release()
}

func TestCoordinator_HandleDeliveryStatus(t *testing.T) {
	f := newFixture(t, "", "+1", "+2")
	ctx := context.Background()

	f.channel.On("Send", mock.Anything, "+1", mock.Anything).Return("d-1", nil).Once()
	f.channel.On("Send", mock.Anything, "+1", mock.Anything).Return("d-1b", nil).Once()
	f.channel.On("Send", mock.Anything, "+2", mock.Anything).Return("d-2", nil)

	_, err := f.coord.Blast(ctx, f.report.ID)
	require.NoError(t, err)
	for _, job := range f.publisher.jobs {
		require.NoError(t, f.coord.Deliver(ctx, job.ItemID))
	}

	t.Run("delivered", func(t *testing.T) {
		err := f.coord.HandleDeliveryStatus(ctx, model.DeliveryStatusUpdate{DeliveryID: "d-2", Status: "delivered"})
		require.NoError(t, err)
		assert.Equal(t, model.WaStatusDelivered, f.item(t, f.created[1].ID).WaStatus)

		// repeats are harmless
		require.NoError(t, f.coord.HandleDeliveryStatus(ctx, model.DeliveryStatusUpdate{DeliveryID: "d-2", Status: "DELIVERED"}))
	})

	t.Run("failed after sent", func(t *testing.T) {
		err := f.coord.HandleDeliveryStatus(ctx, model.DeliveryStatusUpdate{DeliveryID: "d-1", Status: "UNDELIVERED"})
		require.NoError(t, err)
		it := f.item(t, f.created[0].ID)
		assert.Equal(t, model.WaStatusFailed, it.WaStatus)
		assert.Equal(t, "delivery failed: undelivered", it.WaErrorMessage)
	})

	t.Run("superseded attempt", func(t *testing.T) {
		it, err := f.coord.Resend(ctx, f.report.ID, f.created[0].ID)
		require.NoError(t, err)
		assert.Equal(t, "d-1b", it.WaDeliveryID)

		require.NoError(t, f.coord.HandleDeliveryStatus(ctx, model.DeliveryStatusUpdate{DeliveryID: "d-1", Status: "DELIVERED"}))
		assert.Equal(t, model.WaStatusSent, f.item(t, f.created[0].ID).WaStatus)

		old, err := f.attempts.FindByDeliveryID(ctx, "d-1")
		require.NoError(t, err)
		assert.Equal(t, model.AttemptStatusDelivered, old.Status)
	})

	t.Run("delivered after failed is ignored", func(t *testing.T) {
		require.NoError(t, f.coord.HandleDeliveryStatus(ctx, model.DeliveryStatusUpdate{DeliveryID: "d-1b", Status: "FAILED", Error: "expired"}))
		require.NoError(t, f.coord.HandleDeliveryStatus(ctx, model.DeliveryStatusUpdate{DeliveryID: "d-1b", Status: "DELIVERED"}))
		assert.Equal(t, model.WaStatusFailed, f.item(t, f.created[0].ID).WaStatus)
	})

	t.Run("invalid input", func(t *testing.T) {
		err := f.coord.HandleDeliveryStatus(ctx, model.DeliveryStatusUpdate{Status: "DELIVERED"})
		assert.ErrorIs(t, err, model.ErrValidation)

		err = f.coord.HandleDeliveryStatus(ctx, model.DeliveryStatusUpdate{DeliveryID: "d-2", Status: "BOUNCED"})
		assert.ErrorIs(t, err, model.ErrValidation)

		// an unknown delivery id is held until a send records it
		err = f.coord.HandleDeliveryStatus(ctx, model.DeliveryStatusUpdate{DeliveryID: "nope", Status: "DELIVERED"})
		require.NoError(t, err)
		assert.True(t, f.mr.Exists("dispatch:early:nope"))

		noEarly := f.deps
		noEarly.Early = nil
		err = NewCoordinator(noEarly, time.Second).HandleDeliveryStatus(ctx, model.DeliveryStatusUpdate{DeliveryID: "nope", Status: "DELIVERED"})
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("sent acknowledgement is a no-op", func(t *testing.T) {
		require.NoError(t, f.coord.HandleDeliveryStatus(ctx, model.DeliveryStatusUpdate{DeliveryID: "d-2", Status: "SENT"}))
		assert.Equal(t, model.WaStatusDelivered, f.item(t, f.created[1].ID).WaStatus)
	})
}

func TestCoordinator_StatusBeforeSendReturns(t *testing.T) {
	f := newFixture(t, "", "+1")
	ctx := context.Background()
	id := f.created[0].ID

	var cbErr error
	f.channel.On("Send", mock.Anything, "+1", mock.Anything).
		Run(func(mock.Arguments) {
			cbErr = f.coord.HandleDeliveryStatus(ctx, model.DeliveryStatusUpdate{DeliveryID: "d-early", Status: "FAILED"})
		}).
		Return("d-early", nil)

	it, err := f.coord.Resend(ctx, f.report.ID, id)
	require.NoError(t, err)
	require.NoError(t, cbErr)
	assert.Equal(t, model.WaStatusFailed, it.WaStatus)
	assert.Equal(t, "delivery failed: failed", it.WaErrorMessage)
	assert.Equal(t, "d-early", it.WaDeliveryID)
	assert.Equal(t, model.WaStatusFailed, f.item(t, id).WaStatus)

	attempt, err := f.attempts.FindByDeliveryID(ctx, "d-early")
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusFailed, attempt.Status)
	assert.False(t, f.mr.Exists("dispatch:early:d-early"))
}

// lateLookup misses the first lookup of a delivery id, as if the send was
// recorded right after the callback checked for it.
type lateLookup struct {
	AttemptStore
	mu     sync.Mutex
	missed map[string]bool
}

func (s *lateLookup) FindByDeliveryID(ctx context.Context, deliveryID string) (*model.DispatchAttempt, error) {
	s.mu.Lock()
	first := !s.missed[deliveryID]
	s.missed[deliveryID] = true
	s.mu.Unlock()
	if first {
		return nil, fmt.Errorf("%w: delivery %q", model.ErrNotFound, deliveryID)
	}
	return s.AttemptStore.FindByDeliveryID(ctx, deliveryID)
}

func TestCoordinator_StatusParkedAfterSendRecorded(t *testing.T) {
	f := newFixture(t, "", "+1")
	ctx := context.Background()
	id := f.created[0].ID

	f.channel.On("Send", mock.Anything, "+1", mock.Anything).Return("d-late", nil)
	it, err := f.coord.Resend(ctx, f.report.ID, id)
	require.NoError(t, err)
	require.Equal(t, model.WaStatusSent, it.WaStatus)

	deps := f.deps
	deps.Attempts = &lateLookup{AttemptStore: f.attempts, missed: map[string]bool{}}
	coord := NewCoordinator(deps, time.Second)

	require.NoError(t, coord.HandleDeliveryStatus(ctx, model.DeliveryStatusUpdate{DeliveryID: "d-late", Status: "DELIVERED"}))
	assert.Equal(t, model.WaStatusDelivered, f.item(t, id).WaStatus)
	assert.False(t, f.mr.Exists("dispatch:early:d-late"))
}

func TestRedisEarlyStatuses_TakeOnce(t *testing.T) {
	mr, adapter := newTestAdapter(t)
	ctx := context.Background()
	store := NewRedisEarlyStatuses(adapter, EarlyStatusConfig{TTL: time.Minute})

	got, err := store.Take(ctx, "d-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.Park(ctx, model.DeliveryStatusUpdate{DeliveryID: "d-1", Status: "FAILED", Error: "expired"}))
	assert.Equal(t, time.Minute, mr.TTL("dispatch:early:d-1"))

	got, err = store.Take(ctx, "d-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "expired", got.Error)

	got, err = store.Take(ctx, "d-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}
