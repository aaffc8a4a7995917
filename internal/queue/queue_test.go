package queue

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func drain[T any](q *Queue[T]) []T {
	var out []T
	for {
		v, ok := q.Pop()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

// TestQueue_Scenario walks the capacity=3 A,B,C,D sequence.
func TestQueue_Scenario(t *testing.T) {
	q := New[string](3)
	for _, v := range []string{"A", "B", "C", "D"} {
		q.Push(v)
	}

	steps := []struct {
		pop     bool
		want    string
		wantOK  bool
		isEmpty bool
	}{
		{pop: true, want: "B", wantOK: true},
		{pop: true, want: "C", wantOK: true},
		{isEmpty: false},
		{pop: true, want: "D", wantOK: true},
		{isEmpty: true},
		{pop: true, want: "", wantOK: false},
	}

	for i, step := range steps {
		if step.pop {
			got, ok := q.Pop()
			if got != step.want || ok != step.wantOK {
				t.Fatalf("step %d: Pop() = (%q, %v), want (%q, %v)", i, got, ok, step.want, step.wantOK)
			}
			continue
		}
		if got := q.IsEmpty(); got != step.isEmpty {
			t.Fatalf("step %d: IsEmpty() = %v, want %v", i, got, step.isEmpty)
		}
	}

	if q.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", q.Dropped())
	}
}

func TestQueue_DropOldest(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
	}{
		{"capacity 1", 1},
		{"capacity 3", 3},
		{"capacity 10", 10},
		{"capacity 128", 128},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := New[int](tt.capacity)
			for i := 1; i <= tt.capacity+1; i++ {
				evicted := q.Push(i)
				if wantEvicted := i == tt.capacity+1; evicted != wantEvicted {
					t.Fatalf("Push(%d) evicted = %v, want %v", i, evicted, wantEvicted)
				}
			}

			want := make([]int, 0, tt.capacity)
			for i := 2; i <= tt.capacity+1; i++ {
				want = append(want, i)
			}
			if diff := cmp.Diff(want, drain(q)); diff != "" {
				t.Errorf("queue contents mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestQueue_FIFO(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 50; trial++ {
		capacity := 1 + rng.Intn(64)
		n := rng.Intn(capacity + 1)
		q := New[int](capacity)

		pushed := make([]int, 0, n)
		for i := 0; i < n; i++ {
			v := rng.Int()
			pushed = append(pushed, v)
			q.Push(v)
		}

		popped := make([]int, 0, n)
		for i := 0; i < n; i++ {
			v, ok := q.Pop()
			if !ok {
				t.Fatalf("trial %d: Pop() empty after %d of %d", trial, i, n)
			}
			popped = append(popped, v)
		}
		if diff := cmp.Diff(pushed, popped); diff != "" {
			t.Fatalf("trial %d: pop order mismatch (-pushed +popped):\n%s", trial, diff)
		}
	}
}

// TestQueue_CapacityInvariant checks length ≤ capacity after every push,
// including under concurrent producers and consumers.
func TestQueue_CapacityInvariant(t *testing.T) {
	const capacity = 8
	q := New[int](capacity)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				q.Push(p*10000 + i)
				if n := q.Len(); n > capacity {
					t.Errorf("Len() = %d exceeds capacity %d", n, capacity)
					return
				}
			}
		}(p)
	}
	for c := 0; c < 2; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				q.Pop()
				_ = q.IsEmpty()
			}
		}()
	}
	wg.Wait()

	if n := q.Len(); n > capacity {
		t.Fatalf("final Len() = %d exceeds capacity %d", n, capacity)
	}
	if q.Pushed() != 8000 {
		t.Errorf("Pushed() = %d, want 8000", q.Pushed())
	}
}

func TestQueue_PerProducerOrder(t *testing.T) {
	// A single producer's elements must come out in push order even with gaps.
	q := New[int](16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5000; i++ {
			q.Push(i)
		}
	}()

	last := -1
	for {
		v, ok := q.Pop()
		if ok {
			if v <= last {
				t.Fatalf("out of order: got %d after %d", v, last)
			}
			last = v
			continue
		}
		select {
		case <-done:
			for _, v := range drain(q) {
				if v <= last {
					t.Fatalf("out of order: got %d after %d", v, last)
				}
				last = v
			}
			return
		default:
		}
	}
}

func TestQueue_Clear(t *testing.T) {
	q := New[int](4)
	q.Push(1)
	q.Push(2)
	q.Clear()

	if !q.IsEmpty() {
		t.Fatal("IsEmpty() = false after Clear()")
	}
	q.Push(3)
	if diff := cmp.Diff([]int{3}, drain(q)); diff != "" {
		t.Errorf("contents after Clear (-want +got):\n%s", diff)
	}
}

func TestQueue_Resize(t *testing.T) {
	tests := []struct {
		name     string
		from, to int
		push     []int
		want     []int
		wantDrop uint64
	}{
		{"grow keeps order", 3, 5, []int{1, 2, 3}, []int{1, 2, 3}, 0},
		{"shrink keeps newest", 5, 2, []int{1, 2, 3, 4}, []int{3, 4}, 2},
		{"same size no-op", 3, 3, []int{1, 2}, []int{1, 2}, 0},
		{"non-positive uses default", 3, 0, []int{1}, []int{1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := New[int](tt.from)
			for _, v := range tt.push {
				q.Push(v)
			}
			q.Resize(tt.to)

			wantCap := tt.to
			if wantCap <= 0 {
				wantCap = DefaultCapacity
			}
			if q.Cap() != wantCap {
				t.Errorf("Cap() = %d, want %d", q.Cap(), wantCap)
			}
			if q.Dropped() != tt.wantDrop {
				t.Errorf("Dropped() = %d, want %d", q.Dropped(), tt.wantDrop)
			}
			if diff := cmp.Diff(tt.want, drain(q)); diff != "" {
				t.Errorf("contents (-want +got):\n%s", diff)
			}
		})
	}
}

func TestQueue_NewClampsCapacity(t *testing.T) {
	if got := New[int](-1).Cap(); got != DefaultCapacity {
		t.Errorf("New(-1).Cap() = %d, want %d", got, DefaultCapacity)
	}
	if got := New[int](MaxCapacity + 1).Cap(); got != MaxCapacity {
		t.Errorf("New(MaxCapacity+1).Cap() = %d, want %d", got, MaxCapacity)
	}
}

func TestQueue_PopWait(t *testing.T) {
	t.Run("returns pushed element", func(t *testing.T) {
		q := New[int](2)
		go func() {
			time.Sleep(10 * time.Millisecond)
			q.Push(42)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		v, ok := q.PopWait(ctx)
		if !ok || v != 42 {
			t.Fatalf("PopWait() = (%d, %v), want (42, true)", v, ok)
		}
	})

	t.Run("context cancellation wakes waiter", func(t *testing.T) {
		q := New[int](2)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, ok := q.PopWait(ctx)
		if ok {
			t.Fatal("PopWait() ok = true on empty queue")
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("PopWait() returned after %v, want prompt return", elapsed)
		}
	})

	t.Run("close wakes waiter", func(t *testing.T) {
		q := New[int](2)
		result := make(chan bool, 1)
		go func() {
			_, ok := q.PopWait(context.Background())
			result <- ok
		}()

		time.Sleep(10 * time.Millisecond)
		q.Close()

		select {
		case ok := <-result:
			if ok {
				t.Fatal("PopWait() ok = true after Close on empty queue")
			}
		case <-time.After(time.Second):
			t.Fatal("PopWait() did not return after Close")
		}
	})

	t.Run("closed queue still drains", func(t *testing.T) {
		q := New[int](2)
		q.Push(7)
		q.Close()

		v, ok := q.PopWait(context.Background())
		if !ok || v != 7 {
			t.Fatalf("PopWait() = (%d, %v), want (7, true)", v, ok)
		}
		q.Reopen()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		if _, ok := q.PopWait(ctx); ok {
			t.Fatal("PopWait() ok = true on empty reopened queue")
		}
	})
}

func TestQueue_PushNeverBlocks(t *testing.T) {
	q := New[[]byte](4)
	start := time.Now()
	for i := 0; i < 10000; i++ {
		q.Push(make([]byte, 16))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("10000 pushes took %v with no consumer", elapsed)
	}
	if q.Len() != 4 {
		t.Errorf("Len() = %d, want 4", q.Len())
	}
	t.Logf("dropped %d frames with no consumer attached", q.Dropped())
}
