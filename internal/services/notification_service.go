package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/authguard/internal/metrics"
	"github.com/BradenHooton/authguard/internal/models"
	pkglogger "github.com/BradenHooton/authguard/pkg/logger"
)

// Notifier delivers suspicious activity alerts to one channel
type Notifier interface {
	Name() string
	NotifySuspiciousActivity(ctx context.Context, activity models.SuspiciousActivity) error
}

// DispatcherConfig controls the asynchronous notification queue
type DispatcherConfig struct {
	QueueSize int
	Workers   int
	// Timeout bounds each delivery to a single notifier
	Timeout time.Duration
}

// NotificationDispatcher fans suspicious activity out to notifiers on background
// workers. Dispatch never blocks: when the queue is full the alert is dropped and counted.
type NotificationDispatcher struct {
	notifiers []Notifier
	queue     chan models.SuspiciousActivity
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *metrics.SecurityMetrics

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewNotificationDispatcher starts the worker pool
func NewNotificationDispatcher(cfg DispatcherConfig, logger *slog.Logger, m *metrics.SecurityMetrics, notifiers ...Notifier) *NotificationDispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	d := &NotificationDispatcher{
		notifiers: notifiers,
		queue:     make(chan models.SuspiciousActivity, cfg.QueueSize),
		timeout:   cfg.Timeout,
		logger:    logger,
		metrics:   m,
	}

	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Dispatch enqueues activity and reports whether it was accepted
func (d *NotificationDispatcher) Dispatch(activity models.SuspiciousActivity) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.metrics.ObserveNotificationDropped()
		return false
	}

	select {
	case d.queue <- activity:
		return true
	default:
		d.metrics.ObserveNotificationDropped()
		d.logger.Warn("notification queue full, dropping suspicious activity alert",
			slog.String("identity", pkglogger.SanitizedIdentity(activity.Identity)))
		return false
	}
}

func (d *NotificationDispatcher) worker() {
	defer d.wg.Done()
	for activity := range d.queue {
		d.deliver(activity)
	}
}

func (d *NotificationDispatcher) deliver(activity models.SuspiciousActivity) {
	for _, n := range d.notifiers {
		err := d.notifyOne(n, activity)
		d.metrics.ObserveNotification(n.Name(), err)
		if err != nil {
			d.logger.Error("suspicious activity notification failed",
				slog.String("channel", n.Name()),
				slog.String("identity", pkglogger.SanitizedIdentity(activity.Identity)),
				slog.Any("error", err))
		}
	}
}

func (d *NotificationDispatcher) notifyOne(n Notifier, activity models.SuspiciousActivity) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: notifier %s panicked: %v", models.ErrNotificationFailed, n.Name(), r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := n.NotifySuspiciousActivity(ctx, activity); err != nil {
		return fmt.Errorf("%w: %s: %w", models.ErrNotificationFailed, n.Name(), err)
	}
	return nil
}

// Shutdown stops accepting alerts, drains the queue and closes notifiers that
// hold resources. It returns ctx.Err() if draining outlives ctx.
func (d *NotificationDispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, n := range d.notifiers {
		if c, ok := n.(io.Closer); ok {
			if err := c.Close(); err != nil {
				d.logger.Error("failed to close notifier", slog.String("channel", n.Name()), slog.Any("error", err))
			}
		}
	}
	return nil
}

// LogNotifier writes alerts to the audit log
type LogNotifier struct {
	audit *pkglogger.AuditLogger
}

// NewLogNotifier creates a notifier backed by the audit logger
func NewLogNotifier(audit *pkglogger.AuditLogger) *LogNotifier {
	return &LogNotifier{audit: audit}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) NotifySuspiciousActivity(ctx context.Context, a models.SuspiciousActivity) error {
	n.audit.LogSecurityEvent(ctx, slog.LevelWarn, "suspicious_activity", a.Identity, a.IPAddress,
		slog.String("kind", string(a.Kind)),
		slog.Int("failed_attempts", a.FailedAttempts),
		slog.Duration("lockout_duration", a.LockoutDuration),
		slog.Time("locked_until", a.LockedUntil),
	)
	return nil
}
