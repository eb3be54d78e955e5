package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/video-report/internal/model"
	"github.com/nimasrn/video-report/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr := miniredis.RunT(t)

	// unique connection name per test, adapters are cached globally
	connName := t.Name() + "-" + mr.Addr()
	adapter, err := redis.NewRedisAdapter(connName, "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

func testConfig(name string) QueueConfig {
	return QueueConfig{
		Name:              name,
		ConsumerGroup:     "test-group",
		ConsumerName:      "test-consumer",
		MaxRetries:        3,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      50 * time.Millisecond,
		BatchSize:         10,
		MaxLen:            1000,
		EnableDLQ:         true,
	}
}

func TestQueue_PublishAndConsume(t *testing.T) {
	_, adapter := setupTestRedis(t)

	queue, err := NewQueue(adapter, testConfig("test:queue"))
	require.NoError(t, err)
	defer queue.Stop(time.Second)

	ctx := context.Background()
	_, err = queue.PublishJSON(ctx, model.VideoJob{ReportID: 1, ItemID: 2}, map[string]string{"type": "video"})
	require.NoError(t, err)

	received := make(chan model.VideoJob, 1)
	err = queue.Consume(func(ctx context.Context, msg *Message) error {
		var job model.VideoJob
		assert.NoError(t, msg.Decode(&job))
		assert.Equal(t, "video", msg.Metadata["type"])
		assert.Equal(t, 1, msg.Attempts)
		received <- job
		return nil
	})
	require.NoError(t, err)

	select {
	case job := <-received:
		assert.Equal(t, int64(1), job.ReportID)
		assert.Equal(t, int64(2), job.ItemID)
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}

	require.Eventually(t, func() bool {
		stats, err := queue.GetStats(ctx)
		return err == nil && stats.ProcessedCount == 1 && stats.PendingMessages == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestQueue_RetryThenDeadLetter(t *testing.T) {
	_, adapter := setupTestRedis(t)

	cfg := testConfig("test:retry:queue")
	cfg.MaxRetries = 2
	cfg.VisibilityTimeout = 100 * time.Millisecond
	queue, err := NewQueue(adapter, cfg)
	require.NoError(t, err)
	defer queue.Stop(time.Second)

	ctx := context.Background()
	_, err = queue.PublishJSON(ctx, map[string]string{"test": "retry"}, nil)
	require.NoError(t, err)

	var attempts atomic.Int32
	err = queue.Consume(func(ctx context.Context, msg *Message) error {
		attempts.Add(1)
		return assert.AnError
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		n, err := adapter.XLen(ctx, queue.DeadLetterName())
		return err == nil && n == 1
	}, 5*time.Second, 50*time.Millisecond)

	assert.Equal(t, int32(2), attempts.Load())

	stats, err := queue.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.DeadCount)
	assert.Zero(t, stats.PendingMessages)
}

func TestQueue_RetrySucceeds(t *testing.T) {
	_, adapter := setupTestRedis(t)

	cfg := testConfig("test:retry:ok")
	cfg.VisibilityTimeout = 100 * time.Millisecond
	queue, err := NewQueue(adapter, cfg)
	require.NoError(t, err)
	defer queue.Stop(time.Second)

	ctx := context.Background()
	_, err = queue.Publish(ctx, []byte(`{}`), nil)
	require.NoError(t, err)

	var attempts atomic.Int32
	err = queue.Consume(func(ctx context.Context, msg *Message) error {
		if attempts.Add(1) == 1 {
			return assert.AnError
		}
		return nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stats, err := queue.GetStats(ctx)
		return err == nil && stats.ProcessedCount == 1
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestMessage_AckNack(t *testing.T) {
	_, adapter := setupTestRedis(t)

	queue, err := NewQueue(adapter, testConfig("test:ack:queue"))
	require.NoError(t, err)
	defer queue.Stop(time.Second)

	t.Run("ack marks message as processed", func(t *testing.T) {
		msgID, err := queue.Publish(context.Background(), []byte(`{"test":"data"}`), map[string]string{})
		require.NoError(t, err)

		msg := &Message{ID: msgID, queue: queue}

		require.NoError(t, msg.Ack())
		assert.True(t, msg.acked)
		assert.False(t, msg.nacked)
	})

	t.Run("nack marks message for retry", func(t *testing.T) {
		msg := &Message{ID: "test-2", queue: queue}

		require.NoError(t, msg.Nack())
		assert.False(t, msg.acked)
		assert.True(t, msg.nacked)
	})

	t.Run("cannot ack already acked message", func(t *testing.T) {
		msg := &Message{ID: "test-3", acked: true}

		err := msg.Ack()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "already acknowledged")
	})

	t.Run("cannot nack already nacked message", func(t *testing.T) {
		msg := &Message{ID: "test-4", nacked: true}

		err := msg.Nack()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "already rejected")
	})
}

func TestNewQueue_Validation(t *testing.T) {
	_, adapter := setupTestRedis(t)

	_, err := NewQueue(adapter, QueueConfig{})
	assert.Error(t, err)

	q, err := NewQueue(adapter, QueueConfig{Name: "defaults"})
	require.NoError(t, err)
	assert.Equal(t, "default-group", q.config.ConsumerGroup)
	assert.Equal(t, 3, q.config.MaxRetries)
	require.NoError(t, q.Stop(time.Second))

	// a second queue on the same group must not fail on BUSYGROUP
	q2, err := NewQueue(adapter, QueueConfig{Name: "defaults"})
	require.NoError(t, err)
	require.NoError(t, q2.Stop(time.Second))
}

func TestPublisher(t *testing.T) {
	_, adapter := setupTestRedis(t)
	ctx := context.Background()

	p, err := NewPublisher(adapter, testConfig("test:video"), testConfig("test:dispatch"))
	require.NoError(t, err)

	require.NoError(t, p.PublishVideo(ctx, model.VideoJob{ReportID: 1, ItemID: 10}))
	require.NoError(t, p.PublishDispatch(ctx, model.DispatchJob{ReportID: 1, ItemID: 10}))
	require.NoError(t, p.PublishDispatch(ctx, model.DispatchJob{ReportID: 1, ItemID: 11}))

	n, err := adapter.XLen(ctx, "test:video")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = adapter.XLen(ctx, "test:dispatch")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	received := make(chan *Message, 1)
	consumer, err := NewQueue(adapter, testConfig("test:video"))
	require.NoError(t, err)
	require.NoError(t, consumer.Consume(func(ctx context.Context, msg *Message) error {
		received <- msg
		return nil
	}))
	defer consumer.Stop(time.Second)

	select {
	case msg := <-received:
		var job model.VideoJob
		require.NoError(t, msg.Decode(&job))
		assert.Equal(t, int64(10), job.ItemID)
		assert.False(t, job.EnqueuedAt.IsZero())
		assert.Equal(t, "10", msg.Metadata["item_id"])
	case <-time.After(3 * time.Second):
		t.Fatal("video job not consumed")
	}

	assert.NoError(t, p.Close())
}

func TestQueue_Stop(t *testing.T) {
	_, adapter := setupTestRedis(t)

	queue, err := NewQueue(adapter, testConfig("test:stop:queue"))
	require.NoError(t, err)

	err = queue.Consume(func(ctx context.Context, msg *Message) error {
		time.Sleep(100 * time.Millisecond)
		return nil
	})
	require.NoError(t, err)

	assert.NoError(t, queue.Stop(2*time.Second))
}
