package queue

import (
	"errors"
	"testing"

	"github.com/tutu-network/infergate/internal/domain"
)

func TestRing_PushPopFIFO(t *testing.T) {
	r := New[int](4)
	for i := 1; i <= 3; i++ {
		if err := r.Push(i); err != nil {
			t.Fatalf("push(%d): %v", i, err)
		}
	}
	for i := 1; i <= 3; i++ {
		got, ok := r.Pop()
		if !ok {
			t.Fatalf("pop %d: ring unexpectedly empty", i)
		}
		if got != i {
			t.Errorf("pop order = %d, want %d", got, i)
		}
	}
}

func TestRing_FullAtCapacity(t *testing.T) {
	r := New[int](2)
	if err := r.Push(1); err != nil {
		t.Fatalf("push 1: %v", err)
	}
	if err := r.Push(2); err != nil {
		t.Fatalf("push 2: %v", err)
	}
	if err := r.Push(3); !errors.Is(err, domain.ErrQueueFull) {
		t.Errorf("push on full ring = %v, want ErrQueueFull", err)
	}
	if !r.IsFull() {
		t.Errorf("IsFull() = false, want true")
	}
	if r.Size() != 2 {
		t.Errorf("Size() = %d, want 2 (unchanged on rejected push)", r.Size())
	}
}

func TestRing_EmptyPop(t *testing.T) {
	r := New[string](1)
	if _, ok := r.Pop(); ok {
		t.Errorf("pop on empty ring should report ok=false")
	}
	if !r.IsEmpty() {
		t.Errorf("IsEmpty() = false, want true")
	}
}

func TestRing_CloseRejectsFurtherPush(t *testing.T) {
	r := New[int](2)
	r.Close()
	if err := r.Push(1); !errors.Is(err, domain.ErrQueueClosed) {
		t.Errorf("push after close = %v, want ErrQueueClosed", err)
	}
}

func TestRing_WrapAround(t *testing.T) {
	r := New[int](3)
	r.Push(1)
	r.Push(2)
	r.Pop()
	r.Push(3)
	r.Push(4)
	var got []int
	for {
		v, ok := r.Pop()
		if !ok {
			break
		}
		got = append(got, v)
	}
	want := []int{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}
