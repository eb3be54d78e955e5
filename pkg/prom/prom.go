package prom

import (
	"strconv"
	"sync"
	"time"

	xhttp "github.com/nimasrn/video-report/pkg/http"
	"github.com/nimasrn/video-report/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const (
	SystemCollaborator = "collaborator"
	SystemJobs         = "jobs"
	SystemReports      = "reports"
	SystemSweeper      = "sweeper"
	SystemHTTP         = "http"
)

const (
	MetricCollaboratorRequestDuration = "request_duration_seconds"
	MetricJobsProcessed               = "processed_total"
	MetricJobDuration                 = "duration_seconds"
	MetricReportProgress              = "progress"
	MetricSweeperRecovered            = "recovered_total"
	MetricHTTPRequestDuration         = "request_duration_seconds"
)

// jobBuckets cover a render call, which may take minutes.
var jobBuckets = []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300}

var (
	mu         sync.RWMutex
	enabled    bool
	registry   *prometheus.Registry
	counters   = make(map[string]*prometheus.CounterVec)
	gauges     = make(map[string]*prometheus.GaugeVec)
	histograms = make(map[string]*prometheus.HistogramVec)
)

// Create registers every metric on a fresh registry. Until it is called all
// recording helpers are no-ops.
func Create(host string, env string, namespace string) error {
	mu.Lock()
	defer mu.Unlock()

	registry = prometheus.NewRegistry()
	counters = make(map[string]*prometheus.CounterVec)
	gauges = make(map[string]*prometheus.GaugeVec)
	histograms = make(map[string]*prometheus.HistogramVec)
	labels := prometheus.Labels{"env": env, "instance": host}

	var err error
	hasError := func(e error) {
		if err == nil && e != nil {
			err = e
		}
	}

	hasError(registry.Register(collectors.NewGoCollector()))
	hasError(registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})))

	hasError(histogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: SystemCollaborator, Name: MetricCollaboratorRequestDuration,
		Help: "Latency of renderer and channel calls.", ConstLabels: labels, Buckets: jobBuckets,
	}, "collaborator", "provider", "outcome"))
	hasError(counterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: SystemJobs, Name: MetricJobsProcessed,
		Help: "Queue jobs handled by outcome.", ConstLabels: labels,
	}, "queue", "outcome"))
	hasError(histogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: SystemJobs, Name: MetricJobDuration,
		Help: "Time spent on one queue job.", ConstLabels: labels, Buckets: jobBuckets,
	}, "queue"))
	hasError(gaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: SystemReports, Name: MetricReportProgress,
		Help: "Counters of reports still in progress.", ConstLabels: labels,
	}, "report_id", "counter"))
	hasError(counterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: SystemSweeper, Name: MetricSweeperRecovered,
		Help: "Items recovered from a stale PROCESSING state.", ConstLabels: labels,
	}, "phase"))
	hasError(histogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: SystemHTTP, Name: MetricHTTPRequestDuration,
		Help: "Api request latency by route.", ConstLabels: labels, Buckets: prometheus.DefBuckets,
	}, "method", "route", "status"))

	enabled = err == nil
	return err
}

// Gatherer exposes the registry, mainly for tests.
func Gatherer() prometheus.Gatherer {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

func ListenAndServer(addr string, url string) {
	hh := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(Gatherer(), promhttp.HandlerOpts{}))
	s := xhttp.CreateServer()
	s.GET(url, hh)
	logger.Info("[metrics-server] listening...", "addr", addr, "url", url)
	if err := s.ListenAndServe(addr); err != nil {
		logger.Panic("[metrics-server] http listen error", "error", err)
	}
}

func counterVec(opts prometheus.CounterOpts, labels ...string) error {
	v := prometheus.NewCounterVec(opts, labels)
	counters[opts.Subsystem+opts.Name] = v
	return registry.Register(v)
}

func gaugeVec(opts prometheus.GaugeOpts, labels ...string) error {
	v := prometheus.NewGaugeVec(opts, labels)
	gauges[opts.Subsystem+opts.Name] = v
	return registry.Register(v)
}

func histogramVec(opts prometheus.HistogramOpts, labels ...string) error {
	v := prometheus.NewHistogramVec(opts, labels)
	histograms[opts.Subsystem+opts.Name] = v
	return registry.Register(v)
}

func AddCounterVec(subsystem, name string, num float64, labelValues ...string) {
	mu.RLock()
	defer mu.RUnlock()
	if !enabled {
		return
	}
	if v, ok := counters[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Add(num)
		return
	}
	logger.Warn("[metrics-server] counter vec not found", "subsystem", subsystem, "name", name)
}

func AddHistogramVec(subsystem, name string, number float64, labelValues ...string) {
	mu.RLock()
	defer mu.RUnlock()
	if !enabled {
		return
	}
	if v, ok := histograms[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Observe(number)
		return
	}
	logger.Warn("[metrics-server] histogram vec not found", "subsystem", subsystem, "name", name)
}

func SetGaugeVec(subsystem, name string, num float64, labelValues ...string) {
	mu.RLock()
	defer mu.RUnlock()
	if !enabled {
		return
	}
	if v, ok := gauges[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Set(num)
		return
	}
	logger.Warn("[metrics-server] gauge not found", "subsystem", subsystem, "name", name)
}

func DeleteGaugeVec(subsystem, name string, labels prometheus.Labels) {
	mu.RLock()
	defer mu.RUnlock()
	if !enabled {
		return
	}
	if v, ok := gauges[subsystem+name]; ok {
		v.DeletePartialMatch(labels)
	}
}

func ObserveCollaboratorRequest(collaborator, provider, outcome string, seconds float64) {
	AddHistogramVec(SystemCollaborator, MetricCollaboratorRequestDuration, seconds, collaborator, provider, outcome)
}

func ObserveHTTPRequest(method, route string, status int, latency time.Duration) {
	AddHistogramVec(SystemHTTP, MetricHTTPRequestDuration, latency.Seconds(), method, route, strconv.Itoa(status))
}

func ObserveJob(queue string, ok bool, seconds float64) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	AddCounterVec(SystemJobs, MetricJobsProcessed, 1, queue, outcome)
	AddHistogramVec(SystemJobs, MetricJobDuration, seconds, queue)
}

func SetReportProgress(reportID int64, counter string, value int) {
	SetGaugeVec(SystemReports, MetricReportProgress, float64(value), strconv.FormatInt(reportID, 10), counter)
}

func ClearReportProgress(reportID int64) {
	DeleteGaugeVec(SystemReports, MetricReportProgress, prometheus.Labels{"report_id": strconv.FormatInt(reportID, 10)})
}

func AddSweeperRecovered(phase string, n int) {
	AddCounterVec(SystemSweeper, MetricSweeperRecovered, float64(n), phase)
}
