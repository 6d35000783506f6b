package observability

import (
	"fmt"
	"net/http"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles Prometheus collectors for the scrape run. All
// methods are nil-safe so callers can run with metrics disabled.
type Metrics struct {
	Registry *prometheus.Registry

	PagesFetched      *prometheus.CounterVec
	FetchDuration     prometheus.Histogram
	ListingsExtracted prometheus.Counter
	ListingsDropped   *prometheus.CounterVec
	ListingsStored    prometheus.Counter
	RetriesTotal      prometheus.Counter
	ChallengesTotal   prometheus.Counter

	logger *slog.Logger
}

// NewMetrics constructs and registers all collectors on a dedicated registry.
func NewMetrics(logger *slog.Logger) *Metrics {
	registry := prometheus.NewRegistry()

	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealstalker_pages_fetched_total",
			Help: "Result pages fetched, by navigation outcome.",
		},
		[]string{"outcome"},
	)
	fetchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dealstalker_fetch_duration_seconds",
			Help:    "Page fetch latency including in-page behavior.",
			Buckets: prometheus.DefBuckets,
		},
	)
	extracted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dealstalker_listings_extracted_total",
			Help: "Listings accepted from result cards.",
		},
	)
	dropped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealstalker_listings_dropped_total",
			Help: "Listings dropped before export, by reason.",
		},
		[]string{"reason"},
	)
	stored := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dealstalker_listings_stored_total",
			Help: "Listings written to storage backends.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dealstalker_retries_total",
			Help: "Navigation retry attempts scheduled.",
		},
	)
	challenges := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dealstalker_challenges_total",
			Help: "Challenge pages detected during navigation.",
		},
	)

	registry.MustRegister(pages, fetchDuration, extracted, dropped, stored, retries, challenges)

	return &Metrics{
		Registry:          registry,
		PagesFetched:      pages,
		FetchDuration:     fetchDuration,
		ListingsExtracted: extracted,
		ListingsDropped:   dropped,
		ListingsStored:    stored,
		RetriesTotal:      retries,
		ChallengesTotal:   challenges,
		logger:            logger.With("component", "metrics"),
	}
}

// IncPage counts one fetched page under its navigation outcome.
func (m *Metrics) IncPage(outcome string) {
	if m == nil {
		return
	}
	m.PagesFetched.WithLabelValues(outcome).Inc()
}

// ObserveFetch records one page fetch duration.
func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(d.Seconds())
}

// AddExtracted counts listings accepted from a page.
func (m *Metrics) AddExtracted(n int) {
	if m == nil {
		return
	}
	m.ListingsExtracted.Add(float64(n))
}

// AddDropped counts dropped listings under a reason.
func (m *Metrics) AddDropped(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ListingsDropped.WithLabelValues(reason).Add(float64(n))
}

// AddStored counts listings written to storage.
func (m *Metrics) AddStored(n int) {
	if m == nil {
		return
	}
	m.ListingsStored.Add(float64(n))
}

// IncRetry counts one scheduled retry.
func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncChallenge counts one detected challenge page.
func (m *Metrics) IncChallenge() {
	if m == nil {
		return
	}
	m.ChallengesTotal.Inc()
}

// StartServer exposes the registry over HTTP and returns the server so
// the caller can shut it down. A /health endpoint rides along.
func (m *Metrics) StartServer(port int, path string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	m.logger.Info("metrics server starting", "addr", srv.Addr, "path", path)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("metrics server error", "error", err)
		}
	}()

	return srv
}
