package gateway

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
)

type ProviderState int

const (
	StateHealthy ProviderState = iota
	StateDegraded
	StateUnhealthy
	StateCircuitOpen
)

func (s ProviderState) String() string {
	switch s {
	case StateHealthy:
		return "HEALTHY"
	case StateDegraded:
		return "DEGRADED"
	case StateUnhealthy:
		return "UNHEALTHY"
	case StateCircuitOpen:
		return "CIRCUIT_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ProviderMetrics tracks outcomes of calls to one collaborator endpoint.
type ProviderMetrics struct {
	TotalRequests    atomic.Int64
	SuccessfulReqs   atomic.Int64
	FailedReqs       atomic.Int64
	TotalLatencyMs   atomic.Int64
	ConsecutiveFails atomic.Int32

	mu      sync.RWMutex
	window  []int64
	maxSize int
}

func NewProviderMetrics() *ProviderMetrics {
	return &ProviderMetrics{
		window:  make([]int64, 0, 100),
		maxSize: 100,
	}
}

func (m *ProviderMetrics) RecordSuccess(latencyMs int64) {
	m.TotalRequests.Add(1)
	m.SuccessfulReqs.Add(1)
	m.TotalLatencyMs.Add(latencyMs)
	m.ConsecutiveFails.Store(0)

	m.mu.Lock()
	if len(m.window) >= m.maxSize {
		m.window = m.window[1:]
	}
	m.window = append(m.window, latencyMs)
	m.mu.Unlock()
}

func (m *ProviderMetrics) RecordFailure() {
	m.TotalRequests.Add(1)
	m.FailedReqs.Add(1)
	m.ConsecutiveFails.Add(1)
}

func (m *ProviderMetrics) AvgLatencyMs() int64 {
	ok := m.SuccessfulReqs.Load()
	if ok == 0 {
		return 0
	}
	return m.TotalLatencyMs.Load() / ok
}

func (m *ProviderMetrics) SuccessRate() float64 {
	total := m.TotalRequests.Load()
	if total == 0 {
		return 1.0
	}
	return float64(m.SuccessfulReqs.Load()) / float64(total)
}

func (m *ProviderMetrics) P95LatencyMs() int64 {
	m.mu.RLock()
	sorted := make([]int64, len(m.window))
	copy(sorted, m.window)
	m.mu.RUnlock()

	if len(sorted) == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Provider is one base URL of a collaborator (renderer or channel).
type Provider struct {
	name             string
	url              string
	client           *fasthttp.Client
	metrics          *ProviderMetrics
	state            atomic.Int32
	weight           atomic.Int32
	circuitOpenUntil atomic.Int64
}

func NewProvider(name, url string, weight int, client *fasthttp.Client) *Provider {
	p := &Provider{
		name:    name,
		url:     url,
		client:  client,
		metrics: NewProviderMetrics(),
	}
	p.state.Store(int32(StateHealthy))
	p.weight.Store(int32(weight))
	return p
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) GetState() ProviderState {
	return ProviderState(p.state.Load())
}

func (p *Provider) SetState(state ProviderState) {
	p.state.Store(int32(state))
}

// IsAvailable half-opens an expired circuit by moving it to degraded.
func (p *Provider) IsAvailable() bool {
	switch p.GetState() {
	case StateCircuitOpen:
		if time.Now().UnixMilli() > p.circuitOpenUntil.Load() {
			p.SetState(StateDegraded)
			return true
		}
		return false
	case StateUnhealthy:
		return false
	default:
		return true
	}
}

func (p *Provider) openCircuit(d time.Duration) {
	p.SetState(StateCircuitOpen)
	p.circuitOpenUntil.Store(time.Now().Add(d).UnixMilli())
}

// Score ranks available providers, higher is better. Success rate and
// latency weigh 40% each and the configured weight 20%.
func (p *Provider) Score() float64 {
	if !p.IsAvailable() {
		return 0
	}

	success := p.metrics.SuccessRate() * 100

	latency := 100.0
	if avg := p.metrics.AvgLatencyMs(); avg > 0 {
		// 0 points at 5s and beyond
		latency = 100.0 * (1.0 - float64(avg)/5000.0)
		if latency < 0 {
			latency = 0
		}
	}

	recent := 1.0 - float64(p.metrics.ConsecutiveFails.Load())*0.1
	if recent < 0.1 {
		recent = 0.1
	}

	state := 1.0
	if p.GetState() == StateDegraded {
		state = 0.5
	}

	return (success*0.4 + latency*0.4 + float64(p.weight.Load())*0.2) * recent * state
}

type ProviderStats struct {
	Name             string  `json:"name"`
	URL              string  `json:"url"`
	State            string  `json:"state"`
	Score            float64 `json:"score"`
	TotalRequests    int64   `json:"total_requests"`
	FailedReqs       int64   `json:"failed_requests"`
	SuccessRate      float64 `json:"success_rate"`
	AvgLatencyMs     int64   `json:"avg_latency_ms"`
	P95LatencyMs     int64   `json:"p95_latency_ms"`
	ConsecutiveFails int32   `json:"consecutive_fails"`
}

func (p *Provider) Stats() ProviderStats {
	return ProviderStats{
		Name:             p.name,
		URL:              p.url,
		State:            p.GetState().String(),
		Score:            p.Score(),
		TotalRequests:    p.metrics.TotalRequests.Load(),
		FailedReqs:       p.metrics.FailedReqs.Load(),
		SuccessRate:      p.metrics.SuccessRate(),
		AvgLatencyMs:     p.metrics.AvgLatencyMs(),
		P95LatencyMs:     p.metrics.P95LatencyMs(),
		ConsecutiveFails: p.metrics.ConsecutiveFails.Load(),
	}
}

func sortStats(stats []ProviderStats) {
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Score > stats[j].Score
	})
}
