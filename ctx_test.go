package revcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeStore is a minimal Store[int] with manual state mutation.
type fakeStore struct {
	mu    sync.Mutex
	state int
	subs  listenable[struct{}]
}

var _ Store[int] = (*fakeStore)(nil)

func (s *fakeStore) GetState() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeStore) Subscribe(fn func()) func() {
	id, _ := s.subs.subscribe(func(struct{}) { fn() })
	return func() { s.subs.unsubscribe(id) }
}

func (s *fakeStore) set(v int) {
	s.mu.Lock()
	s.state = v
	s.mu.Unlock()
	s.subs.notify(struct{}{})
}

// ==============================
// Store dependencies
// ==============================

// TestStoreDependencyPropagation: an unequal store change revalidates the
// entry exactly once; an equal change not at all.
func TestStoreDependencyPropagation(t *testing.T) {
	r := newTestRegistry(t, nil)
	st := &fakeStore{state: 10}

	var seen atomic.Int64
	ref := Register(r, "derived", func(c *Ctx, _ int) (int, error) {
		s := UseStore(c, st, func(a, b int) bool { return a == b })
		return s * 2, nil
	})

	e := ref.Entry(0)
	if v, err := e.Wait(context.Background()); err != nil || v != 20 {
		t.Fatalf("initial load: v=%d err=%v", v, err)
	}
	e.OnChange(func() { seen.Add(1) })
	waitUntil(t, "store subscription attached", func() bool { return st.subs.len() == 1 })

	st.set(10) // equal snapshot: no revalidate
	if n := seen.Load(); n != 0 {
		t.Fatalf("equal store change revalidated %d times", n)
	}
	if ref.Entry(0) != e {
		t.Fatal("entry must survive an equal store change")
	}

	st.set(11) // unequal: exactly one revalidate
	if n := seen.Load(); n != 1 {
		t.Fatalf("unequal store change revalidated %d times, want 1", n)
	}

	// the fresh entry computes against the new snapshot
	if v, err := ref.Get(context.Background(), 0); err != nil || v != 22 {
		t.Fatalf("recomputed: v=%d err=%v, want 22", v, err)
	}
}

func TestStoreSnapshotVisibleToLoader(t *testing.T) {
	r := newTestRegistry(t, nil)
	st := &fakeStore{state: 5}

	ref := Register(r, "inline", func(c *Ctx, _ int) (int, error) {
		// snapshot must be usable synchronously, before activation
		return UseStore[int](c, st, nil) + 1, nil
	})
	if v, err := ref.Get(context.Background(), 0); err != nil || v != 6 {
		t.Fatalf("loader did not see the snapshot: v=%d err=%v", v, err)
	}
}

// TestStoreSubscriptionReleasedOnDispose: dependency subscriptions are torn
// down with the entry.
func TestStoreSubscriptionReleasedOnDispose(t *testing.T) {
	r := newTestRegistry(t, nil)
	st := &fakeStore{state: 1}

	ref := Register(r, "derived", func(c *Ctx, _ int) (int, error) {
		return UseStore[int](c, st, nil), nil
	})
	e := ref.Entry(0)
	if _, err := e.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	waitUntil(t, "store subscription attached", func() bool { return st.subs.len() == 1 })

	e.Dispose()
	if n := st.subs.len(); n != 0 {
		t.Fatalf("store subscriptions after dispose = %d, want 0", n)
	}
}

// ==============================
// Channel dependencies
// ==============================

func TestChannelDependencyRevalidates(t *testing.T) {
	r := newTestRegistry(t, nil)

	emitCh := make(chan func(), 1)
	var unsubbed atomic.Bool
	ch := Channel(func(emit func()) func() {
		emitCh <- emit
		return func() { unsubbed.Store(true) }
	})

	var calls atomic.Int64
	ref := Register(r, "signalled", func(c *Ctx, _ int) (int, error) {
		c.UseChannel(ch)
		return int(calls.Add(1)), nil
	})

	e := ref.Entry(0)
	if _, err := e.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	var emitFn func()
	select {
	case emitFn = <-emitCh:
	case <-time.After(time.Second):
		t.Fatal("channel was not activated at settle")
	}

	emitFn()
	if ref.Entry(0) == e {
		t.Fatal("channel emit must revalidate the entry")
	}
	if !unsubbed.Load() {
		t.Fatal("old entry's channel subscription must be released")
	}
}

// ==============================
// Entry-to-entry dependencies
// ==============================

func TestEntryDependencyPropagation(t *testing.T) {
	r := newTestRegistry(t, nil)

	var baseCalls atomic.Int64
	base := Register(r, "base", func(c *Ctx, _ int) (int, error) {
		return int(baseCalls.Add(1)) * 100, nil
	})
	derived := Register(r, "derived", func(c *Ctx, _ int) (int, error) {
		v, err := UseEntry(c, base, 0)
		return v + 1, err
	})

	e := derived.Entry(0)
	if v, err := e.Wait(context.Background()); err != nil || v != 101 {
		t.Fatalf("derived load: v=%d err=%v", v, err)
	}

	be := base.Entry(0)
	waitUntil(t, "entry dependency attached", func() bool { return be.e.change.len() == 1 })

	be.Revalidate()
	waitUntil(t, "derived revalidation", func() bool { return derived.Entry(0) != e })

	if v, err := derived.Get(context.Background(), 0); err != nil || v != 201 {
		t.Fatalf("derived after base revalidate: v=%d err=%v, want 201", v, err)
	}
}

func TestEntryDependencyPropagatesFailure(t *testing.T) {
	r := newTestRegistry(t, nil)
	boom := errors.New("base down")
	base := Register(r, "base", func(c *Ctx, _ int) (int, error) { return 0, boom })
	derived := Register(r, "derived", func(c *Ctx, _ int) (int, error) {
		v, err := UseEntry(c, base, 0)
		if err != nil {
			return 0, err
		}
		return v + 1, nil
	})

	if _, err := derived.Get(context.Background(), 0); !errors.Is(err, boom) {
		t.Fatalf("derived err=%v, want base failure", err)
	}
}

// ==============================
// Ctx.Revalidate and dynamic Use
// ==============================

func TestCtxRevalidate(t *testing.T) {
	r := newTestRegistry(t, nil)

	var calls atomic.Int64
	var mu sync.Mutex
	var ctxs []*Ctx
	ref := Register(r, "manual", func(c *Ctx, _ int) (int, error) {
		mu.Lock()
		ctxs = append(ctxs, c)
		mu.Unlock()
		return int(calls.Add(1)), nil
	})

	e := ref.Entry(0)
	if _, err := e.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	mu.Lock()
	c := ctxs[0]
	mu.Unlock()
	c.Revalidate()
	if ref.Entry(0) == e {
		t.Fatal("ctx revalidate must tear down its own entry")
	}
}

func TestUseUnsupportedShape(t *testing.T) {
	r := newTestRegistry(t, nil)
	ref := Register(r, "mistyped", func(c *Ctx, _ int) (int, error) {
		if _, err := c.Use(42); err != nil {
			return 0, err
		}
		return 1, nil
	})

	_, err := ref.Get(context.Background(), 0)
	var ue *UnsupportedDependencyError
	if !errors.As(err, &ue) {
		t.Fatalf("err=%v, want UnsupportedDependencyError", err)
	}
}

func TestUseRecognizesShapes(t *testing.T) {
	r := newTestRegistry(t, nil)
	st := &fakeStore{state: 3}

	ref := Register(r, "dynamic", func(c *Ctx, _ int) (int, error) {
		v, err := c.Use(anyStoreAdapter{st})
		if err != nil {
			return 0, err
		}
		return v.(int), nil
	})
	if v, err := ref.Get(context.Background(), 0); err != nil || v != 3 {
		t.Fatalf("dynamic store use: v=%d err=%v", v, err)
	}
}

// anyStoreAdapter erases fakeStore for the dynamic Use path.
type anyStoreAdapter struct{ s *fakeStore }

func (a anyStoreAdapter) GetState() any              { return a.s.GetState() }
func (a anyStoreAdapter) Subscribe(fn func()) func() { return a.s.Subscribe(fn) }
