package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/BradenHooton/authguard/internal/metrics"
	"github.com/BradenHooton/authguard/internal/models"
	"github.com/BradenHooton/authguard/internal/repositories"
)

// StatsConfig configures monitoring snapshots
type StatsConfig struct {
	// RecentWindow is the trailing interval for recent failures and top networks
	RecentWindow time.Duration
	// HistogramHorizon bounds how much retained history feeds the hourly histogram
	HistogramHorizon time.Duration
	TopNetworks      int
	Location         *time.Location
}

// StatsService aggregates ledger and lockout state without mutating either
type StatsService struct {
	store   repositories.AttemptStore
	config  StatsConfig
	metrics *metrics.SecurityMetrics
	now     func() time.Time
}

// NewStatsService creates a StatsService with defaults for zero values
func NewStatsService(store repositories.AttemptStore, config StatsConfig, m *metrics.SecurityMetrics) *StatsService {
	if config.RecentWindow <= 0 {
		config.RecentWindow = time.Hour
	}
	if config.HistogramHorizon < config.RecentWindow {
		config.HistogramHorizon = 24 * time.Hour
	}
	if config.TopNetworks <= 0 {
		config.TopNetworks = 5
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	return &StatsService{store: store, config: config, metrics: m, now: time.Now}
}

// Snapshot aggregates at the service clock's current instant
func (s *StatsService) Snapshot(ctx context.Context) (models.SecurityStats, error) {
	return s.SnapshotAt(ctx, s.now())
}

// SnapshotAt returns the locked identity count, failures in the recent window,
// failures per hour of day over retained history, and the networks with the
// most recent failures.
func (s *StatsService) SnapshotAt(ctx context.Context, now time.Time) (models.SecurityStats, error) {
	locked, err := s.store.CountLockouts(ctx, now)
	if err != nil {
		s.metrics.ObserveStoreError("count_lockouts")
		return models.SecurityStats{}, fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
	}

	attempts, err := s.store.ListSince(ctx, now.Add(-s.config.HistogramHorizon))
	if err != nil {
		s.metrics.ObserveStoreError("list_since")
		return models.SecurityStats{}, fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
	}

	recentSince := now.Add(-s.config.RecentWindow)
	byHour := make(map[int]int)
	byNetwork := make(map[string]int)
	recent := 0

	for _, a := range attempts {
		if a.Success || a.AttemptTime.After(now) {
			continue
		}
		byHour[a.AttemptTime.In(s.config.Location).Hour()]++

		if a.AttemptTime.Before(recentSince) {
			continue
		}
		recent++
		if a.IPAddress != "" {
			byNetwork[a.IPAddress]++
		}
	}

	s.metrics.SetLockedIdentities(locked)

	return models.SecurityStats{
		LockedCount:         locked,
		TotalRecentAttempts: recent,
		FailuresByHour:      byHour,
		TopRiskNetworks:     topNetworks(byNetwork, s.config.TopNetworks),
		GeneratedAt:         now,
	}, nil
}

// topNetworks ranks by failures descending, breaking ties by address
func topNetworks(byNetwork map[string]int, n int) []models.NetworkRisk {
	ranked := make([]models.NetworkRisk, 0, len(byNetwork))
	for addr, failures := range byNetwork {
		ranked = append(ranked, models.NetworkRisk{Address: addr, Failures: failures})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Failures != ranked[j].Failures {
			return ranked[i].Failures > ranked[j].Failures
		}
		return ranked[i].Address < ranked[j].Address
	})

	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
