package shutdownqueue

import (
	"context"
	"errors"
	"testing"
	"time"
)

// resetQueue clears the global queue between tests.
func resetQueue(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		mu.Lock()
		tasks = nil
		closed = false
		mu.Unlock()
	})
}

//nolint:paralleltest
func TestAddNilTaskIsNoop(t *testing.T) {
	resetQueue(t)

	Add(nil)

	if err := Shutdown(context.Background()); err != nil {
		t.Fatalf("expected nil after adding nil task; got %v", err)
	}
}

//nolint:paralleltest
func TestLIFOOrder(t *testing.T) {
	resetQueue(t)

	var order []int

	for i := 1; i <= 3; i++ {
		n := i
		Add(func(context.Context) error {
			order = append(order, n)
			return nil
		})
	}

	if err := Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	want := []int{3, 2, 1}
	for i, n := range want {
		if order[i] != n {
			t.Fatalf("order: want %v, got %v", want, order)
		}
	}
}

//nolint:paralleltest
func TestShutdownIdempotentAndAggregates(t *testing.T) {
	resetQueue(t)

	boom := errors.New("boom")

	Add(func(context.Context) error { return boom })
	Add(func(context.Context) error { panic("kaboom") })

	err := Shutdown(context.Background())
	if err == nil {
		t.Fatal("expected aggregated error")
	}

	if !errors.Is(err, boom) {
		t.Fatalf("expected boom in aggregate, got %v", err)
	}

	if err := Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown should be a no-op, got %v", err)
	}
}

//nolint:paralleltest
func TestShutdownHonorsContext(t *testing.T) {
	resetQueue(t)

	ran := false

	Add(func(context.Context) error { ran = true; return nil })

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	cancel()

	err := Shutdown(ctx)
	if err == nil {
		t.Fatal("expected context error")
	}

	if ran {
		t.Fatal("task should not run after context cancellation")
	}
}
