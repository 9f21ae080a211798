package locker_test

import (
	"sync"
	"testing"

	"github.com/xraylab/eigerhttp/locker"
)

func TestTryLockIsExclusive(t *testing.T) {
	l := locker.New()
	if !l.TryLock() {
		t.Fatal("first TryLock should succeed")
	}
	if l.TryLock() {
		t.Fatal("second TryLock should fail while held")
	}
	l.Unlock()
	if !l.TryLock() {
		t.Fatal("TryLock should succeed after Unlock")
	}
}

func TestTryLockUnderContention(t *testing.T) {
	l := locker.New()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryLock() {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("expected exactly one winner, got %d", wins)
	}
}

func TestUnlockFreeLockIsHarmless(t *testing.T) {
	l := locker.New()
	l.Unlock()
	if l.Held() {
		t.Error("lock should not be held")
	}
	if !l.TryLock() {
		t.Error("TryLock should succeed on a fresh lock")
	}
}
