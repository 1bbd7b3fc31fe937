package app

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCycleLocks_SerializesSameCycle(t *testing.T) {
	locks := NewCycleLocks()
	unlock := locks.Lock(1)

	var acquired atomic.Bool
	done := make(chan struct{})
	go func() {
		release := locks.Lock(1)
		acquired.Store(true)
		release()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, acquired.Load())

	unlock()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second holder never acquired the lock")
	}
	assert.True(t, acquired.Load())
}

func TestCycleLocks_OtherCyclesProceed(t *testing.T) {
	locks := NewCycleLocks()
	unlock := locks.Lock(1)
	defer unlock()

	done := make(chan struct{})
	go func() {
		release := locks.Lock(2)
		release()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock of cycle 2 blocked on cycle 1")
	}
}
