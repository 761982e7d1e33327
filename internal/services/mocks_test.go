package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/authguard/internal/models"
	"github.com/BradenHooton/authguard/internal/repositories"
)

var errStoreDown = errors.New("store down")

// testNow is a weekday noon so the unusual hour signal stays quiet unless a test moves the clock
var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, nil)), &buf
}

// fakeClock is a manually advanced clock safe for concurrent use
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// MockAttemptStore wraps a real store and lets tests inject failures or count calls
type MockAttemptStore struct {
	repositories.AttemptStore

	mu         sync.Mutex
	RecordErr  error
	QueryErr   error
	LockoutErr error
	NetworkErr error
	ListErr    error
	ResetErr   error
	EvictCalls int
}

func newMockAttemptStore() *MockAttemptStore {
	return &MockAttemptStore{AttemptStore: repositories.NewMemoryAttemptStore(4)}
}

func (m *MockAttemptStore) Record(ctx context.Context, attempt *models.Attempt) error {
	if m.RecordErr != nil {
		return m.RecordErr
	}
	return m.AttemptStore.Record(ctx, attempt)
}

func (m *MockAttemptStore) Query(ctx context.Context, identity string, kind models.AttemptKind, since time.Time) ([]models.Attempt, error) {
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	return m.AttemptStore.Query(ctx, identity, kind, since)
}

func (m *MockAttemptStore) GetLockout(ctx context.Context, identity string) (time.Time, bool, error) {
	if m.LockoutErr != nil {
		return time.Time{}, false, m.LockoutErr
	}
	return m.AttemptStore.GetLockout(ctx, identity)
}

func (m *MockAttemptStore) CountByNetwork(ctx context.Context, ip string, since time.Time) (int, error) {
	if m.NetworkErr != nil {
		return 0, m.NetworkErr
	}
	return m.AttemptStore.CountByNetwork(ctx, ip, since)
}

func (m *MockAttemptStore) ListSince(ctx context.Context, since time.Time) ([]models.Attempt, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return m.AttemptStore.ListSince(ctx, since)
}

func (m *MockAttemptStore) CountLockouts(ctx context.Context, now time.Time) (int, error) {
	if m.LockoutErr != nil {
		return 0, m.LockoutErr
	}
	return m.AttemptStore.CountLockouts(ctx, now)
}

func (m *MockAttemptStore) Reset(ctx context.Context) error {
	if m.ResetErr != nil {
		return m.ResetErr
	}
	return m.AttemptStore.Reset(ctx)
}

func (m *MockAttemptStore) Evict(ctx context.Context, before, now time.Time) (repositories.EvictResult, error) {
	m.mu.Lock()
	m.EvictCalls++
	m.mu.Unlock()
	return m.AttemptStore.Evict(ctx, before, now)
}

func (m *MockAttemptStore) evictCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.EvictCalls
}

// recordingPublisher captures lockout alerts
type recordingPublisher struct {
	mu         sync.Mutex
	activities []models.SuspiciousActivity
}

func (p *recordingPublisher) Dispatch(a models.SuspiciousActivity) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activities = append(p.activities, a)
	return true
}

func (p *recordingPublisher) all() []models.SuspiciousActivity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.SuspiciousActivity(nil), p.activities...)
}

// MockNotifier records deliveries and optionally fails or blocks
type MockNotifier struct {
	NameValue string
	Err       error
	Block     chan struct{}

	mu        sync.Mutex
	delivered []models.SuspiciousActivity
	closed    bool
}

func (n *MockNotifier) Name() string {
	if n.NameValue == "" {
		return "mock"
	}
	return n.NameValue
}

func (n *MockNotifier) NotifySuspiciousActivity(ctx context.Context, a models.SuspiciousActivity) error {
	if n.Block != nil {
		select {
		case <-n.Block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	n.mu.Lock()
	n.delivered = append(n.delivered, a)
	n.mu.Unlock()
	return n.Err
}

func (n *MockNotifier) Close() error {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	return nil
}

func (n *MockNotifier) deliveries() []models.SuspiciousActivity {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.SuspiciousActivity(nil), n.delivered...)
}

func (n *MockNotifier) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

func recordFailures(ctx context.Context, s *RateLimitService, identity string, kind models.AttemptKind, n int, start time.Time, gap time.Duration) {
	for i := 0; i < n; i++ {
		_ = s.RecordAttemptAt(ctx, identity, false, kind, models.AttemptContext{IPAddress: "198.51.100.7", UserAgent: "Mozilla/5.0 (X11)"}, start.Add(time.Duration(i)*gap))
	}
}
