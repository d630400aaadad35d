package db

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hpungsan/evtrack/internal/errors"
)

type fakeHandle struct {
	id     int64
	closed atomic.Bool
}

func (h *fakeHandle) Close() error {
	h.closed.Store(true)
	return nil
}

func TestRegistry_ConcurrentFirstOpen(t *testing.T) {
	reg := NewRegistry[*fakeHandle](nil)
	ctx := context.Background()

	var opens atomic.Int64
	open := func(context.Context) (*fakeHandle, error) {
		n := opens.Add(1)
		time.Sleep(10 * time.Millisecond) // widen the race window
		return &fakeHandle{id: n}, nil
	}

	const callers = 50
	var wg sync.WaitGroup
	handles := make([]*fakeHandle, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = reg.Get(ctx, "project:acme", open)
		}(i)
	}
	wg.Wait()

	if got := opens.Load(); got != 1 {
		t.Fatalf("open called %d times, want 1", got)
	}
	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("Get() #%d error = %v", i, errs[i])
		}
		if handles[i] != handles[0] {
			t.Fatalf("Get() #%d returned a different handle", i)
		}
	}
	if !reg.Ready("project:acme") {
		t.Error("Ready() = false after successful open")
	}
}

func TestRegistry_IdentitiesDoNotContend(t *testing.T) {
	reg := NewRegistry[*fakeHandle](nil)
	ctx := context.Background()

	blocked := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = reg.Get(ctx, "slow", func(context.Context) (*fakeHandle, error) {
			close(blocked)
			<-release
			return &fakeHandle{}, nil
		})
	}()
	<-blocked

	done := make(chan struct{})
	go func() {
		_, _ = reg.Get(ctx, "fast", func(context.Context) (*fakeHandle, error) {
			return &fakeHandle{}, nil
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("opening an unrelated identity waited on another identity's open")
	}
	close(release)
}

func TestRegistry_MigrationErrorIsSticky(t *testing.T) {
	reg := NewRegistry[*fakeHandle](nil)
	ctx := context.Background()

	calls := 0
	failing := func(context.Context) (*fakeHandle, error) {
		calls++
		return nil, errors.NewMigration("acme", 1, stderrors.New("step failed"))
	}

	_, err := reg.Get(ctx, "acme", failing)
	if !errors.Is(err, errors.ErrMigration) {
		t.Fatalf("Get() = %v, want MIGRATION", err)
	}

	// Later callers see the same failure without re-running open.
	_, err = reg.Get(ctx, "acme", func(context.Context) (*fakeHandle, error) {
		t.Fatal("open must not run while the failure is sticky")
		return nil, nil
	})
	if !errors.Is(err, errors.ErrMigration) {
		t.Fatalf("second Get() = %v, want MIGRATION", err)
	}
	if calls != 1 {
		t.Errorf("open calls = %d, want 1", calls)
	}

	if err := reg.Reset("acme"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	h, err := reg.Get(ctx, "acme", func(context.Context) (*fakeHandle, error) {
		return &fakeHandle{id: 7}, nil
	})
	if err != nil {
		t.Fatalf("Get() after Reset = %v", err)
	}
	if h.id != 7 {
		t.Errorf("handle id = %d, want 7", h.id)
	}
}

func TestRegistry_TransientErrorNotCached(t *testing.T) {
	reg := NewRegistry[*fakeHandle](nil)
	ctx := context.Background()

	_, err := reg.Get(ctx, "acme", func(context.Context) (*fakeHandle, error) {
		return nil, errors.NewIO(stderrors.New("disk unavailable"))
	})
	if !errors.Is(err, errors.ErrIO) {
		t.Fatalf("Get() = %v, want IO", err)
	}

	h, err := reg.Get(ctx, "acme", func(context.Context) (*fakeHandle, error) {
		return &fakeHandle{id: 2}, nil
	})
	if err != nil {
		t.Fatalf("retry Get() = %v", err)
	}
	if h.id != 2 {
		t.Errorf("handle id = %d, want 2", h.id)
	}
}

func TestRegistry_ResetAndClose(t *testing.T) {
	reg := NewRegistry[*fakeHandle](nil)
	ctx := context.Background()

	a, _ := reg.Get(ctx, "a", func(context.Context) (*fakeHandle, error) { return &fakeHandle{}, nil })
	b, _ := reg.Get(ctx, "b", func(context.Context) (*fakeHandle, error) { return &fakeHandle{}, nil })

	if err := reg.Reset("a"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if !a.closed.Load() {
		t.Error("Reset() did not close the handle")
	}
	if reg.Ready("a") {
		t.Error("Ready(a) = true after Reset")
	}
	if err := reg.Reset("missing"); err != nil {
		t.Errorf("Reset(missing) = %v", err)
	}

	if err := reg.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !b.closed.Load() {
		t.Error("Close() did not close remaining handles")
	}
	if reg.Ready("b") {
		t.Error("Ready(b) = true after Close")
	}
}
