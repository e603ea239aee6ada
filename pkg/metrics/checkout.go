package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics records checkout funnel outcomes.
type CheckoutMetrics struct {
	started     prometheus.Counter
	completed   *prometheus.CounterVec
	failed      *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	guardHits   prometheus.Counter
	cleanupPass *prometheus.CounterVec
}

// NewCheckoutMetrics registers the checkout metrics on the provided registerer.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	started := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "checkout_sessions_started",
		Help: "Checkout sessions opened.",
	})
	completed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_sessions_completed",
		Help: "Checkout sessions that reached the succeeded state.",
	}, []string{"payment_method"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_sessions_failed",
		Help: "Checkout sessions that reached the failed state.",
	}, []string{"payment_method"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_duration_seconds",
		Help:    "Time from session start to a terminal state.",
		Buckets: prometheus.DefBuckets,
	}, []string{"payment_method"})
	guardHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "checkout_submit_guard_hits",
		Help: "Submissions rejected because one was already in flight.",
	})
	cleanupPass := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_cleanup_subscriptions",
		Help: "Stale subscriptions handled by the cleanup pass.",
	}, []string{"outcome"})
	reg.MustRegister(started, completed, failed, duration, guardHits, cleanupPass)
	return &CheckoutMetrics{
		started:     started,
		completed:   completed,
		failed:      failed,
		duration:    duration,
		guardHits:   guardHits,
		cleanupPass: cleanupPass,
	}
}

// IncStarted counts a newly opened checkout session.
func (c *CheckoutMetrics) IncStarted() {
	if c == nil || c.started == nil {
		return
	}
	c.started.Inc()
}

// IncCompleted counts a session reaching the succeeded state.
func (c *CheckoutMetrics) IncCompleted(paymentMethod string) {
	if c == nil || c.completed == nil {
		return
	}
	c.completed.WithLabelValues(normalizeLabel(paymentMethod)).Inc()
}

// IncFailed counts a session reaching the failed state.
func (c *CheckoutMetrics) IncFailed(paymentMethod string) {
	if c == nil || c.failed == nil {
		return
	}
	c.failed.WithLabelValues(normalizeLabel(paymentMethod)).Inc()
}

// ObserveDuration records how long a session took to reach a terminal state.
func (c *CheckoutMetrics) ObserveDuration(paymentMethod string, duration time.Duration) {
	if c == nil || c.duration == nil {
		return
	}
	c.duration.WithLabelValues(normalizeLabel(paymentMethod)).Observe(duration.Seconds())
}

// IncGuardHit counts a double-submit rejection.
func (c *CheckoutMetrics) IncGuardHit() {
	if c == nil || c.guardHits == nil {
		return
	}
	c.guardHits.Inc()
}

// IncCleanup counts a cleanup outcome ("canceled" or "failed").
func (c *CheckoutMetrics) IncCleanup(outcome string) {
	if c == nil || c.cleanupPass == nil {
		return
	}
	c.cleanupPass.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
