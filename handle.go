package revcache

import "context"

// AnyEntry is the type-erased entry handle. RemoveGroup callbacks receive it
// and the dynamic Ctx.Use path accepts it; typed code works with Entry[V].
type AnyEntry interface {
	Key() string
	Loading() bool
	Settled() bool
	WaitAny(ctx context.Context) (any, error)
	OnChange(fn func()) (unsubscribe func())
	OnReady(fn func())
	Dispose()
	Revalidate()

	internal() *entry
}

// Entry is a typed handle over one cache entry. Handles are cheap values;
// two handles for the same entry compare equal. A handle stays usable after
// its entry leaves the registry: reads return the last result, mutators
// become no-ops.
type Entry[V any] struct {
	e *entry
}

var _ AnyEntry = Entry[int]{}

// Key returns the entry's canonical input key.
func (h Entry[V]) Key() string { return h.e.key }

// Loading reports whether the entry is still Pending.
func (h Entry[V]) Loading() bool { return h.e.loading() }

// Settled reports whether any result has ever been produced.
func (h Entry[V]) Settled() bool {
	_, _, ok := h.e.get()
	return ok
}

// Get returns the current result without blocking. Before the first result
// ever exists it returns ErrNotReady; afterwards it keeps returning the same
// value or error until the next transition.
func (h Entry[V]) Get() (V, error) {
	v, err, ok := h.e.get()
	if !ok {
		var zero V
		return zero, ErrNotReady
	}
	return assertValue[V](v), err
}

// Data returns the Ready value, if any.
func (h Entry[V]) Data() (V, bool) {
	v, err, ok := h.e.get()
	if !ok || err != nil {
		var zero V
		return zero, false
	}
	return assertValue[V](v), true
}

// Err returns the Failed error, if any.
func (h Entry[V]) Err() error {
	_, err, _ := h.e.get()
	return err
}

// Wait blocks until the entry settles and returns the result. Settled
// entries return immediately; ctx cancellation aborts the wait, not the
// computation.
func (h Entry[V]) Wait(ctx context.Context) (V, error) {
	v, err := h.e.wait(ctx)
	return assertValue[V](v), err
}

// WaitAny is Wait for the type-erased AnyEntry view.
func (h Entry[V]) WaitAny(ctx context.Context) (any, error) {
	return h.e.wait(ctx)
}

// Set stores v as the entry's Ready value. While the entry is Pending this
// supersedes the in-flight load.
func (h Entry[V]) Set(v V) {
	h.e.commitExplicit(v, nil)
}

// SetError stores err as the entry's Failed state. Same data path as Set
// with the error discriminant.
func (h Entry[V]) SetError(err error) {
	if err == nil {
		return
	}
	h.e.commitExplicit(nil, err)
}

// Update applies a reducer to the entry's value. While Pending the reducer
// is chained onto the in-flight computation, so it transforms the value that
// eventually arrives rather than stale data. A reducer error routes into
// Failed; on an already-Failed entry the reducer is skipped and the stored
// error propagates.
func (h Entry[V]) Update(fn func(V) (V, error)) {
	h.e.update(func(v any) (any, error) {
		return fn(assertValue[V](v))
	})
}

// OnReady registers a one-shot listener fired on the entry's next transition
// into Ready or Failed.
func (h Entry[V]) OnReady(fn func()) { h.e.onReady(fn) }

// OnChange registers a listener fired when the stored data changes or the
// entry is revalidated. The subscription counts as a reference under the
// unused dispose policy.
func (h Entry[V]) OnChange(fn func()) func() { return h.e.onChange(fn) }

// Dispose removes the entry from the registry and releases its dependency
// subscriptions. Idempotent; listeners are not notified.
func (h Entry[V]) Dispose() { h.e.dispose(reasonDispose) }

// Revalidate removes the entry, then notifies change listeners to refetch.
// A listener re-requesting the same key observes a miss and a fresh load.
func (h Entry[V]) Revalidate() { h.e.revalidate() }

func (h Entry[V]) internal() *entry { return h.e }

// anyHandle is the erased handle used internally (RemoveGroup callbacks).
type anyHandle struct {
	e *entry
}

var _ AnyEntry = anyHandle{}

func (h anyHandle) Key() string       { return h.e.key }
func (h anyHandle) Loading() bool     { return h.e.loading() }
func (h anyHandle) Settled() bool     { _, _, ok := h.e.get(); return ok }
func (h anyHandle) Dispose()          { h.e.dispose(reasonDispose) }
func (h anyHandle) Revalidate()       { h.e.revalidate() }
func (h anyHandle) OnReady(fn func()) { h.e.onReady(fn) }
func (h anyHandle) internal() *entry  { return h.e }

func (h anyHandle) WaitAny(ctx context.Context) (any, error) { return h.e.wait(ctx) }
func (h anyHandle) OnChange(fn func()) func()                { return h.e.onChange(fn) }

// assertValue converts a stored any back to V, tolerating nil from Failed
// states.
func assertValue[V any](v any) V {
	if v == nil {
		var zero V
		return zero
	}
	return v.(V)
}
