package db

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hpungsan/evtrack/internal/errors"
)

// Registry lazily opens one handle per identity and shares it with every
// caller. The first Get for an identity runs open under that identity's
// mutex; later calls take the lock-free fast path. Unrelated identities never
// contend.
//
// A MIGRATION failure is sticky: the identity stays unavailable until Reset.
// Other open failures are not cached and the next Get tries again.
type Registry[H io.Closer] struct {
	entries sync.Map // identity -> *entry[H]
	logger  *slog.Logger
}

type entry[H io.Closer] struct {
	mu     sync.Mutex
	ready  atomic.Bool
	handle H
	err    error
}

// NewRegistry returns an empty registry. A nil logger discards.
func NewRegistry[H io.Closer](logger *slog.Logger) *Registry[H] {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry[H]{logger: logger}
}

// Get returns the handle for identity, opening it on first use.
func (r *Registry[H]) Get(ctx context.Context, identity string, open func(ctx context.Context) (H, error)) (H, error) {
	v, _ := r.entries.LoadOrStore(identity, &entry[H]{})
	e := v.(*entry[H])

	if e.ready.Load() {
		return e.handle, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var zero H
	if e.ready.Load() {
		return e.handle, nil
	}
	if e.err != nil {
		return zero, e.err
	}

	h, err := open(ctx)
	if err != nil {
		if errors.Is(err, errors.ErrMigration) {
			e.err = err
			r.logger.Error("database unavailable until reset", "identity", identity, "error", err)
		}
		return zero, err
	}

	e.handle = h
	e.ready.Store(true)
	r.logger.Debug("database opened", "identity", identity)
	return h, nil
}

// Ready reports whether identity has an open handle.
func (r *Registry[H]) Ready(identity string) bool {
	v, ok := r.entries.Load(identity)
	return ok && v.(*entry[H]).ready.Load()
}

// Reset forgets identity, closing its handle if one is open, so the next Get
// opens it again. Callers must not use a handle obtained before Reset.
func (r *Registry[H]) Reset(identity string) error {
	v, ok := r.entries.LoadAndDelete(identity)
	if !ok {
		return nil
	}
	e := v.(*entry[H])
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ready.Load() {
		e.ready.Store(false)
		return e.handle.Close()
	}
	return nil
}

// Close closes every open handle and empties the registry.
func (r *Registry[H]) Close() error {
	var errs []error
	r.entries.Range(func(key, _ any) bool {
		if err := r.Reset(key.(string)); err != nil {
			errs = append(errs, err)
		}
		return true
	})
	return stderrors.Join(errs...)
}
