package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/authguard/internal/models"
)

// AttemptStore is the ledger of authentication attempts plus the lockout map.
// The rate limiter, risk assessor and stats service only talk to this interface,
// so a shared external store can replace the in-memory one without touching them.
type AttemptStore interface {
	// Record appends an attempt. A successful attempt clears the identity's lockout.
	Record(ctx context.Context, attempt *models.Attempt) error
	// Query returns attempts for identity of the given kind (all kinds when kind is empty)
	// with AttemptTime >= since, oldest first.
	Query(ctx context.Context, identity string, kind models.AttemptKind, since time.Time) ([]models.Attempt, error)
	// CountByNetwork counts attempts from ipAddress across all identities since the given instant.
	CountByNetwork(ctx context.Context, ipAddress string, since time.Time) (int, error)
	// ListSince returns every attempt across identities with AttemptTime >= since.
	ListSince(ctx context.Context, since time.Time) ([]models.Attempt, error)
	// Evict removes attempts strictly older than before and lockouts whose unlock instant is not after now.
	Evict(ctx context.Context, before, now time.Time) (EvictResult, error)

	GetLockout(ctx context.Context, identity string) (time.Time, bool, error)
	SetLockout(ctx context.Context, identity string, until time.Time) error
	ClearLockout(ctx context.Context, identity string) error
	// CountLockouts counts identities whose unlock instant is after now.
	CountLockouts(ctx context.Context, now time.Time) (int, error)

	// Reset purges all attempts and lockouts.
	Reset(ctx context.Context) error
}

// EvictResult reports what an eviction pass removed
type EvictResult struct {
	AttemptsRemoved   int64
	IdentitiesRemoved int64 // zero for row-based stores, which keep no per-identity entry
	LockoutsExpired   int64
}

// Total returns the number of removed items of any type
func (r EvictResult) Total() int64 {
	return r.AttemptsRemoved + r.IdentitiesRemoved + r.LockoutsExpired
}
