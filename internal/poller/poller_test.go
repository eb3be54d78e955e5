package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nimasrn/video-report/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSource replays a fixed sequence of results, repeating the last.
type scriptedSource struct {
	mu    sync.Mutex
	steps []step
	calls int
}

type step struct {
	report *model.Report
	err    error
}

func (s *scriptedSource) Get(_ context.Context, id int64) (*model.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	st := s.steps[i]
	if st.report != nil {
		cp := *st.report
		cp.ID = id
		return &cp, st.err
	}
	return nil, st.err
}

func report(status model.ReportStatus, waPending int) *model.Report {
	return &model.Report{ReportStats: model.ReportStats{Status: status, WaPendingCount: waPending}}
}

func TestPoller_WatchUntilSettled(t *testing.T) {
	src := &scriptedSource{steps: []step{
		{report: report(model.ReportStatusPending, 0)},
		{report: report(model.ReportStatusProcessing, 0)},
		{err: errors.New("db hiccup")},
		{report: report(model.ReportStatusCompleted, 2)},
		{report: report(model.ReportStatusCompleted, 0)},
	}}
	p := New(src, time.Millisecond)

	var seen []model.ReportStatus
	err := p.Watch(context.Background(), 9, func(r *model.Report) {
		assert.Equal(t, int64(9), r.ID)
		seen = append(seen, r.Status)
	})
	require.NoError(t, err)

	assert.Equal(t, []model.ReportStatus{
		model.ReportStatusPending,
		model.ReportStatusProcessing,
		model.ReportStatusCompleted,
		model.ReportStatusCompleted,
	}, seen)
	assert.Equal(t, 5, src.calls)
}

func TestPoller_SettledImmediately(t *testing.T) {
	src := &scriptedSource{steps: []step{{report: report(model.ReportStatusCompleted, 0)}}}

	calls := 0
	err := New(src, time.Hour).Watch(context.Background(), 1, func(*model.Report) { calls++ })
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestPoller_ReportDeleted(t *testing.T) {
	src := &scriptedSource{steps: []step{
		{report: report(model.ReportStatusProcessing, 0)},
		{err: model.ErrNotFound},
	}}

	err := New(src, time.Millisecond).Watch(context.Background(), 1, nil)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestPoller_ContextCancelled(t *testing.T) {
	src := &scriptedSource{steps: []step{{report: report(model.ReportStatusProcessing, 0)}}}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := New(src, 5*time.Millisecond).Watch(ctx, 1, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, src.calls, 1)
}

func TestSettled(t *testing.T) {
	assert.False(t, Settled(report(model.ReportStatusPending, 0)))
	assert.False(t, Settled(report(model.ReportStatusProcessing, 0)))
	assert.False(t, Settled(report(model.ReportStatusCompleted, 1)))
	assert.True(t, Settled(report(model.ReportStatusCompleted, 0)))

	// a send still in flight keeps the report open
	inFlight := report(model.ReportStatusCompleted, 0)
	inFlight.WaInFlight = 1
	assert.False(t, Settled(inFlight))
}

func TestNew_DefaultInterval(t *testing.T) {
	assert.Equal(t, DefaultInterval, New(nil, 0).interval)
}
