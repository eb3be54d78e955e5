// Package gateway holds the outbound clients for the rendering service and
// the messaging channel. Each client spreads calls over one or more base
// URLs, picking the best scored provider and opening a circuit on repeated
// failures.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nimasrn/video-report/internal/model"
	"github.com/nimasrn/video-report/pkg/logger"
	"github.com/nimasrn/video-report/pkg/prom"
	"github.com/valyala/fasthttp"
)

var ErrNoAvailableProviders = errors.New("no available providers")

type ProviderConfig struct {
	Name   string
	URL    string
	Weight int // 1-100
}

type Config struct {
	// Collaborator labels logs and metrics, e.g. "renderer".
	Collaborator            string
	Providers               []ProviderConfig
	Timeout                 time.Duration
	MaxConns                int
	HealthCheckInterval     time.Duration
	HealthPath              string
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration

	// Dial replaces the TCP dialer, used by tests.
	Dial fasthttp.DialFunc
}

// StatusError is a non-2xx reply that proves the provider is reachable.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.Code, e.Body)
}

// Pool sends requests to the best available provider of one collaborator.
// It never retries: a failed call is reported to the caller as is.
type Pool struct {
	config    Config
	providers []*Provider
	mu        sync.RWMutex
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func NewPool(config Config) (*Pool, error) {
	var urls []ProviderConfig
	for _, pc := range config.Providers {
		if pc.URL != "" {
			urls = append(urls, pc)
		}
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("%s: at least one provider url is required", config.Collaborator)
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.CircuitBreakerThreshold <= 0 {
		config.CircuitBreakerThreshold = 5
	}
	if config.CircuitBreakerTimeout <= 0 {
		config.CircuitBreakerTimeout = 30 * time.Second
	}
	if config.HealthPath == "" {
		config.HealthPath = "/health"
	}

	p := &Pool{
		config: config,
		stopCh: make(chan struct{}),
	}
	for _, pc := range urls {
		client := &fasthttp.Client{
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
			Dial:                config.Dial,
		}
		weight := pc.Weight
		if weight <= 0 {
			weight = 50
		}
		p.providers = append(p.providers, NewProvider(pc.Name, pc.URL, weight, client))
		logger.Info("provider initialized", "collaborator", config.Collaborator, "name", pc.Name, "url", pc.URL, "weight", weight)
	}

	if config.HealthCheckInterval > 0 {
		p.wg.Add(1)
		go p.healthChecker()
	}
	return p, nil
}

func (p *Pool) SelectBestProvider() (*Provider, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var (
		best      *Provider
		bestScore float64
	)
	for _, provider := range p.providers {
		if score := provider.Score(); score > bestScore {
			best, bestScore = provider, score
		}
	}
	if best == nil {
		return nil, ErrNoAvailableProviders
	}
	return best, nil
}

// PostJSON sends body to path on the best provider. Network failures, 5xx
// replies and an empty pool wrap model.ErrTransport. Other non-2xx replies
// come back as *StatusError.
func (p *Pool) PostJSON(ctx context.Context, path string, body []byte) ([]byte, error) {
	provider, err := p.SelectBestProvider()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", model.ErrTransport, p.config.Collaborator, err)
	}

	start := time.Now()
	resp, err := p.do(ctx, provider, fasthttp.MethodPost, path, body)
	elapsed := time.Since(start)

	var se *StatusError
	switch {
	case err == nil:
		provider.metrics.RecordSuccess(elapsed.Milliseconds())
		p.observe(provider, "ok", elapsed)
		return resp, nil
	case errors.As(err, &se) && se.Code < fasthttp.StatusInternalServerError:
		provider.metrics.RecordSuccess(elapsed.Milliseconds())
		p.observe(provider, "rejected", elapsed)
		return nil, err
	default:
		provider.metrics.RecordFailure()
		p.checkCircuitBreaker(provider)
		p.observe(provider, "error", elapsed)
		logger.Warn("collaborator request failed", "collaborator", p.config.Collaborator, "provider", provider.name, "error", err)
		return nil, fmt.Errorf("%w: %s %s: %v", model.ErrTransport, p.config.Collaborator, provider.name, err)
	}
}

func (p *Pool) observe(provider *Provider, outcome string, d time.Duration) {
	prom.ObserveCollaboratorRequest(p.config.Collaborator, provider.name, outcome, d.Seconds())
}

func (p *Pool) do(ctx context.Context, provider *Provider, method, path string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(provider.url + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if body != nil {
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(p.config.Timeout)
	}
	if err := provider.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if code := resp.StatusCode(); code < 200 || code > 299 {
		return nil, &StatusError{Code: code, Body: string(resp.Body())}
	}

	out := make([]byte, len(resp.Body()))
	copy(out, resp.Body())
	return out, nil
}

func (p *Pool) checkCircuitBreaker(provider *Provider) {
	fails := provider.metrics.ConsecutiveFails.Load()
	if fails >= int32(p.config.CircuitBreakerThreshold) && provider.GetState() != StateCircuitOpen {
		provider.openCircuit(p.config.CircuitBreakerTimeout)
		logger.Warn("circuit breaker opened", "collaborator", p.config.Collaborator, "provider", provider.name, "consecutive_fails", fails, "timeout", p.config.CircuitBreakerTimeout)
	}
}

func (p *Pool) healthChecker() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.performHealthChecks()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) performHealthChecks() {
	p.mu.RLock()
	providers := make([]*Provider, len(p.providers))
	copy(providers, p.providers)
	p.mu.RUnlock()

	for _, provider := range providers {
		if provider.GetState() == StateCircuitOpen {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), p.config.Timeout)
		_, err := p.do(ctx, provider, fasthttp.MethodGet, p.config.HealthPath, nil)
		cancel()

		old := provider.GetState()
		next := old
		switch {
		case err != nil:
			next = StateUnhealthy
		case old == StateUnhealthy:
			next = StateDegraded
		case old == StateDegraded && provider.metrics.SuccessRate() > 0.95:
			next = StateHealthy
		}
		if next != old {
			provider.SetState(next)
			logger.Info("provider state changed", "collaborator", p.config.Collaborator, "provider", provider.name, "old_state", old.String(), "new_state", next.String())
		}
	}
}

// Stats returns the providers ordered by score.
func (p *Pool) Stats() []ProviderStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := make([]ProviderStats, 0, len(p.providers))
	for _, provider := range p.providers {
		stats = append(stats, provider.Stats())
	}
	sortStats(stats)
	return stats
}

func (p *Pool) Close() error {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	logger.Info("gateway pool closed", "collaborator", p.config.Collaborator)
	return nil
}
