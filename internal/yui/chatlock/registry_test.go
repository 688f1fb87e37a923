package chatlock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	r := NewRegistry()

	if !r.Acquire(1, 0) {
		t.Fatal("first acquire must succeed")
	}
	if r.Acquire(1, 10*time.Millisecond) {
		t.Fatal("second acquire of a held lock must time out")
	}
	r.Release(1)
	if !r.Acquire(1, 0) {
		t.Fatal("acquire after release must succeed")
	}
	r.Release(1)
}

func TestLocksAreIndependentPerChat(t *testing.T) {
	r := NewRegistry()
	if !r.Acquire(1, 0) {
		t.Fatal("acquire chat 1")
	}
	if !r.Acquire(2, 0) {
		t.Fatal("holding chat 1 must not block chat 2")
	}
	r.Release(1)
	r.Release(2)
}

func TestMutualExclusion(t *testing.T) {
	r := NewRegistry()
	var inside atomic.Int32
	var violations atomic.Int32
	var wg sync.WaitGroup

	for j := 0; j < 16; j++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < 50; k++ {
				if !r.Acquire(7, 100*time.Millisecond) {
					continue
				}
				if inside.Add(1) > 1 {
					violations.Add(1)
				}
				time.Sleep(50 * time.Microsecond)
				inside.Add(-1)
				r.Release(7)
			}
		}()
	}
	wg.Wait()

	if v := violations.Load(); v != 0 {
		t.Fatalf("critical section entered concurrently %d times", v)
	}
}

func TestReleaseUnheldPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("releasing an unheld lock must panic")
		}
	}()
	NewRegistry().Release(1)
}
