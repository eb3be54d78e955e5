package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
)

func TestProviderMetrics_RecordSuccess(t *testing.T) {
	metrics := NewProviderMetrics()

	metrics.RecordSuccess(100)
	metrics.RecordSuccess(200)

	assert.Equal(t, int64(2), metrics.TotalRequests.Load())
	assert.Equal(t, int64(2), metrics.SuccessfulReqs.Load())
	assert.Equal(t, 1.0, metrics.SuccessRate())
	assert.Equal(t, int64(150), metrics.AvgLatencyMs())
}

func TestProviderMetrics_RecordFailure(t *testing.T) {
	metrics := NewProviderMetrics()

	metrics.RecordSuccess(100)
	metrics.RecordFailure()
	metrics.RecordFailure()

	assert.Equal(t, int64(3), metrics.TotalRequests.Load())
	assert.Equal(t, int64(2), metrics.FailedReqs.Load())
	assert.InDelta(t, 0.333, metrics.SuccessRate(), 0.01)
	assert.Equal(t, int32(2), metrics.ConsecutiveFails.Load())
	// failures carry no latency
	assert.Equal(t, int64(100), metrics.AvgLatencyMs())

	metrics.RecordSuccess(100)
	assert.Zero(t, metrics.ConsecutiveFails.Load())
}

func TestProviderMetrics_P95Latency(t *testing.T) {
	metrics := NewProviderMetrics()
	assert.Zero(t, metrics.P95LatencyMs())

	for i := int64(0); i < 150; i++ {
		metrics.RecordSuccess(i * 10)
	}

	// only the last 100 samples count
	p95 := metrics.P95LatencyMs()
	assert.GreaterOrEqual(t, p95, int64(1400))
	assert.LessOrEqual(t, p95, int64(1490))
}

func TestProvider_IsAvailable(t *testing.T) {
	provider := NewProvider("primary", "http://localhost:8080", 100, &fasthttp.Client{})

	provider.SetState(StateDegraded)
	assert.True(t, provider.IsAvailable())

	provider.SetState(StateUnhealthy)
	assert.False(t, provider.IsAvailable())

	provider.openCircuit(10 * time.Second)
	assert.False(t, provider.IsAvailable())

	provider.openCircuit(-time.Second)
	assert.True(t, provider.IsAvailable())
	assert.Equal(t, StateDegraded, provider.GetState())
}

func TestProvider_Score(t *testing.T) {
	healthy := NewProvider("a", "http://a", 50, &fasthttp.Client{})
	assert.InDelta(t, 90.0, healthy.Score(), 0.001)

	degraded := NewProvider("b", "http://b", 50, &fasthttp.Client{})
	degraded.SetState(StateDegraded)
	assert.InDelta(t, 45.0, degraded.Score(), 0.001)

	failing := NewProvider("c", "http://c", 50, &fasthttp.Client{})
	failing.metrics.RecordFailure()
	failing.metrics.RecordFailure()
	assert.Less(t, failing.Score(), healthy.Score())

	down := NewProvider("d", "http://d", 100, &fasthttp.Client{})
	down.SetState(StateUnhealthy)
	assert.Zero(t, down.Score())
}

func TestProviderState_String(t *testing.T) {
	assert.Equal(t, "HEALTHY", StateHealthy.String())
	assert.Equal(t, "DEGRADED", StateDegraded.String())
	assert.Equal(t, "UNHEALTHY", StateUnhealthy.String())
	assert.Equal(t, "CIRCUIT_OPEN", StateCircuitOpen.String())
	assert.Equal(t, "UNKNOWN", ProviderState(42).String())
}
