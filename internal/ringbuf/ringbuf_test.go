package ringbuf

import (
	"sync"
	"testing"
)

func TestRing_PushSelect(t *testing.T) {
	r := New[int](3) // rounds to 4
	if r.Cap() != 4 {
		t.Fatalf("cap = %d, want 4", r.Cap())
	}
	if got := r.Select(nil); len(got) != 0 {
		t.Fatalf("empty ring selected %v", got)
	}

	for i := 1; i <= 3; i++ {
		r.Push(i)
	}
	if r.Len() != 3 || r.Overwritten() != 0 {
		t.Fatalf("len=%d overwritten=%d", r.Len(), r.Overwritten())
	}
	got := r.Select(nil)
	for i, v := range []int{1, 2, 3} {
		if got[i] != v {
			t.Fatalf("select = %v", got)
		}
	}
}

func TestRing_OverwritesOldest(t *testing.T) {
	r := New[int](4)
	for i := 0; i < 10; i++ {
		r.Push(i)
	}
	if r.Len() != 4 || r.Overwritten() != 6 {
		t.Fatalf("len=%d overwritten=%d", r.Len(), r.Overwritten())
	}
	got := r.Select(nil)
	for i, v := range []int{6, 7, 8, 9} {
		if got[i] != v {
			t.Fatalf("select = %v, want [6 7 8 9]", got)
		}
	}

	even := r.Select(func(v int) bool { return v%2 == 0 })
	if len(even) != 2 || even[0] != 6 || even[1] != 8 {
		t.Errorf("even = %v", even)
	}
}

func TestRing_NextPow2(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, 1}, {1, 1}, {2, 2}, {3, 4}, {5, 8}, {1000, 1024}, {1024, 1024},
	}
	for _, tt := range tests {
		if got := nextPow2(tt.in); got != tt.want {
			t.Errorf("nextPow2(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRing_Concurrent(t *testing.T) {
	r := New[int](64)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				r.Push(i)
				r.Select(nil)
			}
		}()
	}
	wg.Wait()
	if r.Len() != 64 || r.Overwritten() != 4000-64 {
		t.Errorf("len=%d overwritten=%d", r.Len(), r.Overwritten())
	}
}
