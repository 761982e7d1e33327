package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Options controls construction of the security collectors
type Options struct {
	Registerer prometheus.Registerer
	Namespace  string
}

// SecurityMetrics holds the Prometheus collectors for the security core.
// All recording methods are no-ops on a nil receiver.
type SecurityMetrics struct {
	RateLimitDecisions   *prometheus.CounterVec
	Lockouts             *prometheus.CounterVec
	LockoutDuration      prometheus.Histogram
	RiskAssessments      *prometheus.CounterVec
	RiskScore            prometheus.Histogram
	Challenges           *prometheus.CounterVec
	PasswordChecks       *prometheus.CounterVec
	Notifications        *prometheus.CounterVec
	NotificationsDropped prometheus.Counter
	StoreErrors          *prometheus.CounterVec
	EvictedItems         prometheus.Counter
	LockedIdentities     prometheus.Gauge
}

// NewSecurityMetrics constructs the collectors and registers them with the supplied registerer
func NewSecurityMetrics(opts Options) (*SecurityMetrics, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "authguard"
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &SecurityMetrics{
		RateLimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Rate limit decisions partitioned by attempt kind and outcome.",
		}, []string{"kind", "outcome"}),
		Lockouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "lockouts_total",
			Help:      "Lockouts started partitioned by attempt kind.",
		}, []string{"kind"}),
		LockoutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "lockout_duration_seconds",
			Help:      "Duration of lockouts started by progressive backoff.",
			Buckets:   []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800},
		}),
		RiskAssessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "assessments_total",
			Help:      "Risk assessments partitioned by resulting level.",
		}, []string{"level"}),
		RiskScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "score",
			Help:      "Distribution of additive risk scores.",
			Buckets:   []float64{0, 10, 20, 30, 35, 50, 75, 100, 150},
		}),
		Challenges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "challenge",
			Name:      "decisions_total",
			Help:      "Challenge policy decisions partitioned by requirement and difficulty.",
		}, []string{"required", "difficulty"}),
		PasswordChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "password",
			Name:      "checks_total",
			Help:      "Password strength checks partitioned by verdict.",
		}, []string{"strong"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Suspicious activity notification deliveries partitioned by channel and result.",
		}, []string{"channel", "result"}),
		NotificationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "dropped_total",
			Help:      "Notifications dropped because the dispatch queue was full or closed.",
		}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Attempt store errors partitioned by operation.",
		}, []string{"operation"}),
		EvictedItems: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "evicted_items_total",
			Help:      "Attempts, identities and lockouts removed by eviction.",
		}),
		LockedIdentities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "locked_identities",
			Help:      "Identities locked at the last statistics snapshot.",
		}),
	}

	var err error
	if m.RateLimitDecisions, err = register(reg, m.RateLimitDecisions); err != nil {
		return nil, err
	}
	if m.Lockouts, err = register(reg, m.Lockouts); err != nil {
		return nil, err
	}
	if m.LockoutDuration, err = register(reg, m.LockoutDuration); err != nil {
		return nil, err
	}
	if m.RiskAssessments, err = register(reg, m.RiskAssessments); err != nil {
		return nil, err
	}
	if m.RiskScore, err = register(reg, m.RiskScore); err != nil {
		return nil, err
	}
	if m.Challenges, err = register(reg, m.Challenges); err != nil {
		return nil, err
	}
	if m.PasswordChecks, err = register(reg, m.PasswordChecks); err != nil {
		return nil, err
	}
	if m.Notifications, err = register(reg, m.Notifications); err != nil {
		return nil, err
	}
	if m.NotificationsDropped, err = register(reg, m.NotificationsDropped); err != nil {
		return nil, err
	}
	if m.StoreErrors, err = register(reg, m.StoreErrors); err != nil {
		return nil, err
	}
	if m.EvictedItems, err = register(reg, m.EvictedItems); err != nil {
		return nil, err
	}
	if m.LockedIdentities, err = register(reg, m.LockedIdentities); err != nil {
		return nil, err
	}

	return m, nil
}

// register adds c to reg, reusing an identical collector that is already registered
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return c, fmt.Errorf("register collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(T)
		if !ok {
			return c, fmt.Errorf("existing collector has wrong type %T", already.ExistingCollector)
		}
		return existing, nil
	}
	return c, nil
}

// ObserveRateLimit records an admission decision
func (m *SecurityMetrics) ObserveRateLimit(kind, outcome string) {
	if m == nil {
		return
	}
	m.RateLimitDecisions.WithLabelValues(kind, outcome).Inc()
}

// ObserveLockout records a newly started lockout
func (m *SecurityMetrics) ObserveLockout(kind string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Lockouts.WithLabelValues(kind).Inc()
	m.LockoutDuration.Observe(duration.Seconds())
}

// ObserveRisk records an assessment result
func (m *SecurityMetrics) ObserveRisk(level string, score int) {
	if m == nil {
		return
	}
	m.RiskAssessments.WithLabelValues(level).Inc()
	m.RiskScore.Observe(float64(score))
}

// ObserveChallenge records a challenge policy decision
func (m *SecurityMetrics) ObserveChallenge(required bool, difficulty string) {
	if m == nil {
		return
	}
	m.Challenges.WithLabelValues(strconv.FormatBool(required), difficulty).Inc()
}

// ObservePasswordCheck records a strength verdict
func (m *SecurityMetrics) ObservePasswordCheck(strong bool) {
	if m == nil {
		return
	}
	m.PasswordChecks.WithLabelValues(strconv.FormatBool(strong)).Inc()
}

// ObserveNotification records one delivery attempt on a channel
func (m *SecurityMetrics) ObserveNotification(channel string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Notifications.WithLabelValues(channel, result).Inc()
}

// ObserveNotificationDropped counts a notification that never reached a channel
func (m *SecurityMetrics) ObserveNotificationDropped() {
	if m == nil {
		return
	}
	m.NotificationsDropped.Inc()
}

// ObserveStoreError counts a failed store operation
func (m *SecurityMetrics) ObserveStoreError(operation string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(operation).Inc()
}

// ObserveEviction adds removed items to the eviction counter
func (m *SecurityMetrics) ObserveEviction(removed int64) {
	if m == nil || removed <= 0 {
		return
	}
	m.EvictedItems.Add(float64(removed))
}

// SetLockedIdentities publishes the locked count from a statistics snapshot
func (m *SecurityMetrics) SetLockedIdentities(n int) {
	if m == nil {
		return
	}
	m.LockedIdentities.Set(float64(n))
}
