package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIdentityLocks_SerializesSameIdentity(t *testing.T) {
	locks := newIdentityLocks()

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("alice")
			defer unlock()

			mu.Lock()
			inside++
			maxSeen = max(maxSeen, inside)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, locks.size())
}

func TestIdentityLocks_DistinctIdentitiesDoNotBlock(t *testing.T) {
	locks := newIdentityLocks()
	unlockAlice := locks.lock("alice")
	defer unlockAlice()

	done := make(chan struct{})
	go func() {
		unlock := locks.lock("bob")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on bob blocked behind alice")
	}
	assert.Equal(t, 1, locks.size())
}
