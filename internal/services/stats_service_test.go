package services

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/authguard/internal/metrics"
	"github.com/BradenHooton/authguard/internal/models"
	"github.com/BradenHooton/authguard/internal/repositories"
)

func newTestStatsService(store repositories.AttemptStore, top int) *StatsService {
	return NewStatsService(store, StatsConfig{RecentWindow: time.Hour, HistogramHorizon: 24 * time.Hour, TopNetworks: top, Location: time.UTC}, nil)
}

func TestStatsService_EmptyStore(t *testing.T) {
	s := newTestStatsService(repositories.NewMemoryAttemptStore(4), 5)

	stats, err := s.SnapshotAt(context.Background(), testNow)

	require.NoError(t, err)
	assert.Zero(t, stats.LockedCount)
	assert.Zero(t, stats.TotalRecentAttempts)
	assert.Empty(t, stats.FailuresByHour)
	assert.NotNil(t, stats.TopRiskNetworks)
	assert.Empty(t, stats.TopRiskNetworks)
	assert.Equal(t, testNow, stats.GeneratedAt)
}

func TestStatsService_Snapshot(t *testing.T) {
	ctx := context.Background()
	store := repositories.NewMemoryAttemptStore(4)

	// recent failures: three from .1, two from .2, one without address
	seedAttempts(t, store, "alice", false, models.AttemptContext{IPAddress: "192.0.2.1"}, 3, testNow.Add(-30*time.Minute), time.Minute)
	seedAttempts(t, store, "bob", false, models.AttemptContext{IPAddress: "192.0.2.2"}, 2, testNow.Add(-20*time.Minute), time.Minute)
	seedAttempts(t, store, "carol", false, models.AttemptContext{}, 1, testNow.Add(-10*time.Minute), 0)
	// successes never count
	seedAttempts(t, store, "dave", true, models.AttemptContext{IPAddress: "192.0.2.9"}, 4, testNow.Add(-5*time.Minute), time.Second)
	// older failure: histogram only
	seedAttempts(t, store, "erin", false, models.AttemptContext{IPAddress: "192.0.2.3"}, 1, testNow.Add(-5*time.Hour), 0)
	// beyond the histogram horizon
	seedAttempts(t, store, "frank", false, models.AttemptContext{IPAddress: "192.0.2.3"}, 1, testNow.Add(-30*time.Hour), 0)

	require.NoError(t, store.SetLockout(ctx, "alice", testNow.Add(10*time.Minute)))
	require.NoError(t, store.SetLockout(ctx, "bob", testNow.Add(-time.Minute)))

	stats, err := newTestStatsService(store, 5).SnapshotAt(ctx, testNow)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.LockedCount)
	assert.Equal(t, 6, stats.TotalRecentAttempts)
	assert.Equal(t, map[int]int{11: 6, 7: 1}, stats.FailuresByHour)
	assert.Equal(t, []models.NetworkRisk{
		{Address: "192.0.2.1", Failures: 3},
		{Address: "192.0.2.2", Failures: 2},
	}, stats.TopRiskNetworks)
}

func TestStatsService_TopNetworksOrderingAndLimit(t *testing.T) {
	ctx := context.Background()
	store := repositories.NewMemoryAttemptStore(4)
	start := testNow.Add(-30 * time.Minute)

	seedAttempts(t, store, "a", false, models.AttemptContext{IPAddress: "10.0.0.3"}, 2, start, time.Minute)
	seedAttempts(t, store, "b", false, models.AttemptContext{IPAddress: "10.0.0.1"}, 2, start, time.Minute)
	seedAttempts(t, store, "c", false, models.AttemptContext{IPAddress: "10.0.0.2"}, 4, start, time.Minute)
	seedAttempts(t, store, "d", false, models.AttemptContext{IPAddress: "10.0.0.4"}, 1, start, time.Minute)

	stats, err := newTestStatsService(store, 3).SnapshotAt(ctx, testNow)
	require.NoError(t, err)

	assert.Equal(t, []models.NetworkRisk{
		{Address: "10.0.0.2", Failures: 4},
		{Address: "10.0.0.1", Failures: 2},
		{Address: "10.0.0.3", Failures: 2},
	}, stats.TopRiskNetworks)
}

func TestStatsService_DoesNotMutateStore(t *testing.T) {
	ctx := context.Background()
	store := repositories.NewMemoryAttemptStore(4)
	seedAttempts(t, store, "alice", false, models.AttemptContext{IPAddress: "192.0.2.1"}, 3, testNow.Add(-30*time.Hour), time.Minute)
	require.NoError(t, store.SetLockout(ctx, "alice", testNow.Add(-time.Hour)))

	_, err := newTestStatsService(store, 5).SnapshotAt(ctx, testNow)
	require.NoError(t, err)

	attempts, err := store.ListSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, attempts, 3)
	_, locked, err := store.GetLockout(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, locked, "expired lockout entry is left for eviction")
}

func TestStatsService_StoreErrors(t *testing.T) {
	ctx := context.Background()

	store := newMockAttemptStore()
	store.LockoutErr = errStoreDown
	_, err := newTestStatsService(store, 5).SnapshotAt(ctx, testNow)
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)

	store = newMockAttemptStore()
	store.ListErr = errStoreDown
	_, err = newTestStatsService(store, 5).SnapshotAt(ctx, testNow)
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	assert.ErrorIs(t, err, errStoreDown)
}

func TestStatsService_SetsLockedGauge(t *testing.T) {
	ctx := context.Background()
	m, err := metrics.NewSecurityMetrics(metrics.Options{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)

	store := repositories.NewMemoryAttemptStore(4)
	require.NoError(t, store.SetLockout(ctx, "alice", testNow.Add(time.Minute)))
	require.NoError(t, store.SetLockout(ctx, "bob", testNow.Add(time.Minute)))

	_, err = NewStatsService(store, StatsConfig{Location: time.UTC}, m).SnapshotAt(ctx, testNow)
	require.NoError(t, err)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.LockedIdentities))
}

func TestNewStatsService_Defaults(t *testing.T) {
	s := NewStatsService(repositories.NewMemoryAttemptStore(1), StatsConfig{}, nil)

	assert.Equal(t, time.Hour, s.config.RecentWindow)
	assert.Equal(t, 24*time.Hour, s.config.HistogramHorizon)
	assert.Equal(t, 5, s.config.TopNetworks)
	assert.Equal(t, time.Local, s.config.Location)
}
