package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

// Checkout counts workflow outcomes and secondary-step warnings.
type Checkout struct {
	Outcomes *prometheus.CounterVec
	Warnings *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

func NewCheckout(reg prometheus.Registerer) *Checkout {
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "checkout",
		Name:      "outcomes_total",
		Help:      "Checkout attempts by final state.",
	}, []string{"state", "replayed"})
	warnings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "checkout",
		Name:      "warnings_total",
		Help:      "Best-effort checkout steps that did not succeed.",
	}, []string{"step"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "checkout",
		Name:      "duration_seconds",
		Help:      "Checkout workflow latency.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"state"})

	reg.MustRegister(outcomes, warnings, duration)
	return &Checkout{Outcomes: outcomes, Warnings: warnings, Duration: duration}
}

func (c *Checkout) CheckoutFinished(state string, replayed bool, elapsed time.Duration) {
	c.Outcomes.WithLabelValues(state, strconv.FormatBool(replayed)).Inc()
	c.Duration.WithLabelValues(state).Observe(elapsed.Seconds())
}

func (c *Checkout) CheckoutWarning(step string) {
	c.Warnings.WithLabelValues(step).Inc()
}

// Server tracks HTTP requests by route pattern.
type Server struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewServer(reg prometheus.Registerer, service string) *Server {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	reg.MustRegister(requests, latency)
	return &Server{Requests: requests, LatencyMS: latency}
}

func (s *Server) Observe(handler string, status int, elapsed time.Duration) {
	s.Requests.WithLabelValues(handler, strconv.Itoa(status)).Inc()
	s.LatencyMS.WithLabelValues(handler).Observe(float64(elapsed.Microseconds()) / 1000)
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
