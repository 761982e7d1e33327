package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/authguard/internal/models"
)

var baseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func failure(identity string, kind models.AttemptKind, ip string, at time.Time) *models.Attempt {
	return models.NewAttempt(identity, false, kind, models.AttemptContext{IPAddress: ip, UserAgent: "Mozilla/5.0"}, at)
}

// runAttemptStoreContract exercises behaviour every AttemptStore implementation must share
func runAttemptStoreContract(t *testing.T, newStore func(t *testing.T) AttemptStore) {
	t.Run("query filters by kind and since in chronological order", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		first := failure("alice@example.com", models.AttemptKindLogin, "10.0.0.1", baseTime)
		second := failure("alice@example.com", models.AttemptKindRegister, "10.0.0.1", baseTime.Add(time.Minute))
		third := failure("alice@example.com", models.AttemptKindLogin, "10.0.0.1", baseTime.Add(2*time.Minute))
		for _, a := range []*models.Attempt{first, second, third} {
			require.NoError(t, store.Record(ctx, a))
		}

		logins, err := store.Query(ctx, "alice@example.com", models.AttemptKindLogin, baseTime)
		require.NoError(t, err)
		require.Len(t, logins, 2)
		assert.Equal(t, first.ID, logins[0].ID)
		assert.Equal(t, third.ID, logins[1].ID)

		all, err := store.Query(ctx, "alice@example.com", "", baseTime.Add(30*time.Second))
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, second.ID, all[0].ID)
		assert.Equal(t, models.AttemptKindRegister, all[0].Kind)

		none, err := store.Query(ctx, "nobody@example.com", models.AttemptKindLogin, baseTime)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("attempts at the same instant keep insertion order", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		var recorded []*models.Attempt
		for i := 0; i < 8; i++ {
			a := failure("grace@example.com", models.AttemptKindLogin, "10.0.0.7", baseTime)
			if i == 5 {
				a.Success = true
			}
			recorded = append(recorded, a)
			require.NoError(t, store.Record(ctx, a))
		}

		got, err := store.Query(ctx, "grace@example.com", models.AttemptKindLogin, baseTime)
		require.NoError(t, err)
		require.Len(t, got, len(recorded))
		for i, a := range recorded {
			assert.Equal(t, a.ID, got[i].ID, "position %d", i)
		}
		assert.True(t, got[5].Success)
	})

	t.Run("success clears lockout", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		until := baseTime.Add(15 * time.Minute)
		require.NoError(t, store.SetLockout(ctx, "bob@example.com", until))

		got, ok, err := store.GetLockout(ctx, "bob@example.com")
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, got.Equal(until))

		success := models.NewAttempt("bob@example.com", true, models.AttemptKindLogin, models.AttemptContext{}, baseTime.Add(time.Minute))
		require.NoError(t, store.Record(ctx, success))

		_, ok, err = store.GetLockout(ctx, "bob@example.com")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("count by network spans identities", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.Record(ctx, failure("a@example.com", models.AttemptKindLogin, "203.0.113.7", baseTime)))
		require.NoError(t, store.Record(ctx, failure("b@example.com", models.AttemptKindLogin, "203.0.113.7", baseTime.Add(time.Second))))
		require.NoError(t, store.Record(ctx, failure("c@example.com", models.AttemptKindLogin, "198.51.100.1", baseTime.Add(2*time.Second))))
		require.NoError(t, store.Record(ctx, failure("d@example.com", models.AttemptKindLogin, "", baseTime.Add(3*time.Second))))

		n, err := store.CountByNetwork(ctx, "203.0.113.7", baseTime)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = store.CountByNetwork(ctx, "203.0.113.7", baseTime.Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = store.CountByNetwork(ctx, "", baseTime)
		require.NoError(t, err)
		assert.Zero(t, n)

		all, err := store.ListSince(ctx, baseTime)
		require.NoError(t, err)
		assert.Len(t, all, 4)
	})

	t.Run("evict removes stale attempts and expired lockouts", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.Record(ctx, failure("old@example.com", models.AttemptKindLogin, "10.0.0.2", baseTime)))
		require.NoError(t, store.Record(ctx, failure("mixed@example.com", models.AttemptKindLogin, "10.0.0.2", baseTime)))
		require.NoError(t, store.Record(ctx, failure("mixed@example.com", models.AttemptKindLogin, "10.0.0.2", baseTime.Add(time.Hour))))
		require.NoError(t, store.SetLockout(ctx, "expired@example.com", baseTime.Add(time.Minute)))
		require.NoError(t, store.SetLockout(ctx, "active@example.com", baseTime.Add(3*time.Hour)))

		now := baseTime.Add(2 * time.Hour)
		res, err := store.Evict(ctx, baseTime.Add(30*time.Minute), now)
		require.NoError(t, err)
		assert.Equal(t, int64(2), res.AttemptsRemoved)
		assert.Equal(t, int64(1), res.LockoutsExpired)

		old, err := store.Query(ctx, "old@example.com", "", time.Time{})
		require.NoError(t, err)
		assert.Empty(t, old)

		mixed, err := store.Query(ctx, "mixed@example.com", "", time.Time{})
		require.NoError(t, err)
		assert.Len(t, mixed, 1)

		n, err := store.CountByNetwork(ctx, "10.0.0.2", time.Time{})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		locked, err := store.CountLockouts(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 1, locked)
	})

	t.Run("reset purges everything", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.Record(ctx, failure("x@example.com", models.AttemptKindLogin, "10.0.0.3", baseTime)))
		require.NoError(t, store.SetLockout(ctx, "x@example.com", baseTime.Add(time.Hour)))

		require.NoError(t, store.Reset(ctx))

		all, err := store.ListSince(ctx, time.Time{})
		require.NoError(t, err)
		assert.Empty(t, all)

		locked, err := store.CountLockouts(ctx, baseTime)
		require.NoError(t, err)
		assert.Zero(t, locked)

		n, err := store.CountByNetwork(ctx, "10.0.0.3", time.Time{})
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
