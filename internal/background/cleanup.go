package background

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/authguard/internal/repositories"
)

// Cleaner evicts ledger entries older than maxAge
type Cleaner interface {
	Cleanup(ctx context.Context, maxAge time.Duration) (repositories.EvictResult, error)
}

// CleanupManager periodically evicts expired attempts and lockouts so that
// idle identities do not accumulate between requests
type CleanupManager struct {
	cleaner   Cleaner
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
	timeout   time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	cleaner Cleaner,
	logger *slog.Logger,
	interval time.Duration,
	retention time.Duration,
) *CleanupManager {
	return &CleanupManager{
		cleaner:   cleaner,
		logger:    logger,
		interval:  interval,
		retention: retention,
		timeout:   30 * time.Second,
		stopCh:    make(chan struct{}),
	}
}

// Start runs the periodic cleanup until Stop is called or ctx is done
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// runCleanup evicts everything older than the retention horizon
func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, cm.timeout)
	defer cancel()

	res, err := cm.cleaner.Cleanup(cleanupCtx, cm.retention)
	if err != nil {
		cm.logger.Error("failed to evict expired attempts", slog.Any("error", err))
		return
	}

	if res.Total() > 0 {
		cm.logger.Info("attempt ledger cleanup completed",
			slog.Int64("attempts_removed", res.AttemptsRemoved),
			slog.Int64("identities_removed", res.IdentitiesRemoved),
			slog.Int64("lockouts_expired", res.LockoutsExpired),
		)
	}
}

// Stop signals the cleanup manager to stop. It is safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
