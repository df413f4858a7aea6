package timeline

import (
	"context"
	"sync"
	"testing"
)

func TestMutationQueue_PreservesSubmissionOrder(t *testing.T) {
	q := newMutationQueue(8)

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 100; i++ {
		i := i
		q.enqueue(func(context.Context) {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	q.Close()

	if len(got) != 100 {
		t.Fatalf("executed %d writes, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("write %d executed out of order (got %d)", i, v)
		}
	}
}

func TestMutationQueue_CloseDrainsPendingWork(t *testing.T) {
	q := newMutationQueue(64)

	var (
		mu    sync.Mutex
		count int
	)
	for i := 0; i < 64; i++ {
		q.enqueue(func(context.Context) {
			mu.Lock()
			count++
			mu.Unlock()
		})
	}
	q.Close()

	if count != 64 {
		t.Errorf("executed %d writes after Close, want all 64", count)
	}
}

func TestMutationQueue_EnqueueAfterCloseIsDropped(t *testing.T) {
	q := newMutationQueue(8)
	q.Close()

	// Must not panic or block.
	q.enqueue(func(context.Context) {
		t.Error("write executed after Close")
	})

	// Closing twice is safe.
	q.Close()
}
