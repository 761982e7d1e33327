package repositories

import (
	"context"
	"hash/maphash"
	"sync"
	"time"

	"github.com/BradenHooton/authguard/internal/models"
)

// DefaultMemoryShards is the number of independently locked shards in the memory store
const DefaultMemoryShards = 32

type ledgerShard struct {
	mu       sync.RWMutex
	attempts map[string][]models.Attempt
	lockouts map[string]time.Time
}

type networkShard struct {
	mu   sync.RWMutex
	hits map[string][]time.Time
}

// MemoryAttemptStore keeps the ledger in process memory.
// Identities and network addresses are spread over shards so that operations on
// different identities take different locks.
type MemoryAttemptStore struct {
	seed     maphash.Seed
	ledgers  []*ledgerShard
	networks []*networkShard
}

// NewMemoryAttemptStore creates an empty in-memory store with the given shard count
func NewMemoryAttemptStore(shards int) *MemoryAttemptStore {
	if shards <= 0 {
		shards = DefaultMemoryShards
	}

	s := &MemoryAttemptStore{
		seed:     maphash.MakeSeed(),
		ledgers:  make([]*ledgerShard, shards),
		networks: make([]*networkShard, shards),
	}
	for i := 0; i < shards; i++ {
		s.ledgers[i] = &ledgerShard{
			attempts: make(map[string][]models.Attempt),
			lockouts: make(map[string]time.Time),
		}
		s.networks[i] = &networkShard{hits: make(map[string][]time.Time)}
	}
	return s
}

func (s *MemoryAttemptStore) index(key string) int {
	return int(maphash.String(s.seed, key) % uint64(len(s.ledgers)))
}

func (s *MemoryAttemptStore) ledgerFor(identity string) *ledgerShard {
	return s.ledgers[s.index(identity)]
}

func (s *MemoryAttemptStore) networkFor(ip string) *networkShard {
	return s.networks[s.index(ip)]
}

// Record appends the attempt to the identity's ledger
func (s *MemoryAttemptStore) Record(ctx context.Context, attempt *models.Attempt) error {
	shard := s.ledgerFor(attempt.Identity)
	shard.mu.Lock()
	shard.attempts[attempt.Identity] = append(shard.attempts[attempt.Identity], *attempt)
	if attempt.Success {
		delete(shard.lockouts, attempt.Identity)
	}
	shard.mu.Unlock()

	if attempt.IPAddress != "" {
		ns := s.networkFor(attempt.IPAddress)
		ns.mu.Lock()
		ns.hits[attempt.IPAddress] = append(ns.hits[attempt.IPAddress], attempt.AttemptTime)
		ns.mu.Unlock()
	}

	return nil
}

// Query returns a copy of the matching attempts, oldest first
func (s *MemoryAttemptStore) Query(ctx context.Context, identity string, kind models.AttemptKind, since time.Time) ([]models.Attempt, error) {
	shard := s.ledgerFor(identity)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	var result []models.Attempt
	for _, a := range shard.attempts[identity] {
		if kind != "" && a.Kind != kind {
			continue
		}
		if a.AttemptTime.Before(since) {
			continue
		}
		result = append(result, a)
	}
	return result, nil
}

// CountByNetwork counts attempts recorded from ipAddress since the given instant
func (s *MemoryAttemptStore) CountByNetwork(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	if ipAddress == "" {
		return 0, nil
	}

	ns := s.networkFor(ipAddress)
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	count := 0
	for _, t := range ns.hits[ipAddress] {
		if !t.Before(since) {
			count++
		}
	}
	return count, nil
}

// ListSince collects attempts across all shards
func (s *MemoryAttemptStore) ListSince(ctx context.Context, since time.Time) ([]models.Attempt, error) {
	var result []models.Attempt
	for _, shard := range s.ledgers {
		shard.mu.RLock()
		for _, attempts := range shard.attempts {
			for _, a := range attempts {
				if !a.AttemptTime.Before(since) {
					result = append(result, a)
				}
			}
		}
		shard.mu.RUnlock()
	}
	return result, nil
}

// Evict trims every shard. Each shard is swapped under its write lock, so readers
// observe either the whole pre-eviction or post-eviction state of that shard.
func (s *MemoryAttemptStore) Evict(ctx context.Context, before, now time.Time) (EvictResult, error) {
	var res EvictResult

	for _, shard := range s.ledgers {
		shard.mu.Lock()
		for identity, attempts := range shard.attempts {
			kept := attempts[:0]
			for _, a := range attempts {
				if a.AttemptTime.Before(before) {
					res.AttemptsRemoved++
					continue
				}
				kept = append(kept, a)
			}
			if len(kept) == 0 {
				delete(shard.attempts, identity)
				res.IdentitiesRemoved++
				continue
			}
			shard.attempts[identity] = kept
		}
		for identity, until := range shard.lockouts {
			if !now.Before(until) {
				delete(shard.lockouts, identity)
				res.LockoutsExpired++
			}
		}
		shard.mu.Unlock()
	}

	for _, ns := range s.networks {
		ns.mu.Lock()
		for ip, hits := range ns.hits {
			kept := hits[:0]
			for _, t := range hits {
				if !t.Before(before) {
					kept = append(kept, t)
				}
			}
			if len(kept) == 0 {
				delete(ns.hits, ip)
				continue
			}
			ns.hits[ip] = kept
		}
		ns.mu.Unlock()
	}

	return res, nil
}

// GetLockout returns the identity's unlock instant, if any is stored
func (s *MemoryAttemptStore) GetLockout(ctx context.Context, identity string) (time.Time, bool, error) {
	shard := s.ledgerFor(identity)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	until, ok := shard.lockouts[identity]
	return until, ok, nil
}

// SetLockout stores the identity's unlock instant
func (s *MemoryAttemptStore) SetLockout(ctx context.Context, identity string, until time.Time) error {
	shard := s.ledgerFor(identity)
	shard.mu.Lock()
	shard.lockouts[identity] = until
	shard.mu.Unlock()
	return nil
}

// ClearLockout removes the identity's lockout
func (s *MemoryAttemptStore) ClearLockout(ctx context.Context, identity string) error {
	shard := s.ledgerFor(identity)
	shard.mu.Lock()
	delete(shard.lockouts, identity)
	shard.mu.Unlock()
	return nil
}

// CountLockouts counts lockouts still active at now
func (s *MemoryAttemptStore) CountLockouts(ctx context.Context, now time.Time) (int, error) {
	count := 0
	for _, shard := range s.ledgers {
		shard.mu.RLock()
		for _, until := range shard.lockouts {
			if now.Before(until) {
				count++
			}
		}
		shard.mu.RUnlock()
	}
	return count, nil
}

// Reset drops all attempts and lockouts
func (s *MemoryAttemptStore) Reset(ctx context.Context) error {
	for _, shard := range s.ledgers {
		shard.mu.Lock()
		shard.attempts = make(map[string][]models.Attempt)
		shard.lockouts = make(map[string]time.Time)
		shard.mu.Unlock()
	}
	for _, ns := range s.networks {
		ns.mu.Lock()
		ns.hits = make(map[string][]time.Time)
		ns.mu.Unlock()
	}
	return nil
}

var _ AttemptStore = (*MemoryAttemptStore)(nil)
