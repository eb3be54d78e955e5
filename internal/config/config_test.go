package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	require.NoError(t, Load(""))

	c := Get()
	assert.Equal(t, ":8080", c.HttpListenAddr)
	assert.Equal(t, 4, c.VideoWorkers)
	assert.Equal(t, 8, c.DispatchWorkers)
	assert.Equal(t, 90*time.Second, c.RenderTimeout)
	assert.Equal(t, 168*time.Hour, c.ShareLinkTTL)
	assert.Equal(t, "@every 1m", c.SweepSchedule)
	assert.Equal(t, []string{"localhost:6379"}, c.Redis().Addrs)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DISPATCH_WORKERS=3\nSEND_TIMEOUT=2s\nPOSTGRES_WRITE_HOST=db\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("DISPATCH_WORKERS")
		os.Unsetenv("SEND_TIMEOUT")
		os.Unsetenv("POSTGRES_WRITE_HOST")
	})

	require.NoError(t, Load(path))

	c := Get()
	assert.Equal(t, 3, c.DispatchWorkers)
	assert.Equal(t, 2*time.Second, c.SendTimeout)
	assert.Equal(t, "db", c.PostgresWrite().Host)
	assert.Equal(t, 20, c.PostgresWrite().MaxOpenConns)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("VIDEO_WORKERS", "0")
	assert.Error(t, Load(""))

	assert.Error(t, Load(filepath.Join(t.TempDir(), "missing.env")))
}

func TestLoad_LockMustOutliveSend(t *testing.T) {
	t.Setenv("SEND_TIMEOUT", "3m")
	assert.Error(t, Load(""))

	t.Setenv("DISPATCH_LOCK_TTL", "5m")
	require.NoError(t, Load(""))
	assert.Equal(t, 5*time.Minute, Get().DispatchLockTTL)
}

func TestLoad_StaleAfterMustOutliveCalls(t *testing.T) {
	t.Setenv("RENDER_TIMEOUT", "20m")
	t.Setenv("DISPATCH_LOCK_TTL", "30m")
	assert.Error(t, Load(""))

	t.Setenv("RENDER_TIMEOUT", "90s")
	t.Setenv("SEND_TIMEOUT", "15m")
	assert.Error(t, Load(""))

	t.Setenv("STALE_AFTER", "20m")
	require.NoError(t, Load(""))
	assert.Equal(t, 20*time.Minute, Get().StaleAfter)
}

func TestConfig_Collaborators(t *testing.T) {
	t.Setenv("RENDERER_PRIMARY_URL", "http://render-a")
	t.Setenv("CHANNEL_SECONDARY_URL", "http://wa-b")
	require.NoError(t, Load(""))
	c := Get()

	r := c.RendererGateway()
	assert.Equal(t, "renderer", r.Collaborator)
	assert.Equal(t, "http://render-a", r.Providers[0].URL)
	assert.Equal(t, c.RenderTimeout, r.Timeout)

	ch := c.ChannelGateway()
	assert.Equal(t, "http://wa-b", ch.Providers[1].URL)
	assert.Equal(t, c.SendTimeout, ch.Timeout)

	q := c.Queue(c.DispatchQueueName)
	assert.Equal(t, "dispatch_jobs", q.Name)
	assert.Equal(t, "processors", q.ConsumerGroup)
	assert.Equal(t, 2*time.Minute, q.VisibilityTimeout)
}
