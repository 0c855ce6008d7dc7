package revcache

import (
	"context"
	"reflect"
	"time"

	"github.com/benbjohnson/clock"
)

// DisposePolicy governs whether an idle, unreferenced entry is ever removed
// automatically.
type DisposePolicy uint8

const (
	// DisposeWhenUnused removes a settled entry once it has had zero change
	// subscribers for the grace window. The default.
	DisposeWhenUnused DisposePolicy = iota

	// DisposeNever keeps the entry until explicitly disposed or revalidated.
	DisposeNever
)

// DefaultDisposeDelay is the grace window for the unused policy. Non-zero so
// a consumer detaching and reattaching to the same key in the same
// scheduling turn does not lose the cached value.
const DefaultDisposeDelay = 100 * time.Millisecond

// Loader computes the value for one input. It runs at most once per distinct
// input while its entry is live; revalidation re-runs it on a fresh entry.
// Dependencies declared through the Ctx persist on the entry.
type Loader[A, V any] func(c *Ctx, arg A) (V, error)

// Options tune a Registry. Everything has a default; New(Options{}) works.
type Options struct {
	Logger Logger // nil => NopLogger
	Hooks  Hooks  // nil => NopHooks

	// Clock drives the dispose grace timer. nil => wall clock. Tests inject
	// a mock.
	Clock clock.Clock

	// DisposeDelay is the unused-policy grace window. 0 => DefaultDisposeDelay.
	DisposeDelay time.Duration

	// Bus is the tag bus loaders of this registry subscribe against.
	// nil => the process-wide DefaultBus.
	Bus *TagBus

	// OpaqueKeyer derives keys for inputs the built-in deriver treats as
	// opaque. nil => all such inputs share one sentinel key.
	OpaqueKeyer Keyer
}

// New builds a Registry.
func New(opts Options) *Registry {
	r := &Registry{
		log:          coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:        coalesce[Hooks](opts.Hooks, NopHooks{}),
		disposeDelay: coalesce(opts.DisposeDelay, DefaultDisposeDelay),
		groups:       make(map[*loaderRec]map[string]*entry),
	}
	if opts.Clock != nil {
		r.clk = opts.Clock
	} else {
		r.clk = clock.New()
	}
	if opts.Bus != nil {
		r.bus = opts.Bus
	} else {
		r.bus = DefaultBus()
	}
	r.der = newDeriver(opts.OpaqueKeyer)
	return r
}

// loaderRec is the registered loader's stable identity: the record pointer
// keys the registry's outer map. Raw function identity is not comparable in
// Go, so registration hands out this handle instead.
type loaderRec struct {
	reg          *Registry
	name         string
	load         func(c *Ctx, arg any) (any, error)
	policy       DisposePolicy
	disposeDelay time.Duration
	equal        func(a, b any) bool
}

// LoaderID is the opaque loader handle accepted by Registry.RemoveGroup.
// Every *Ref is one.
type LoaderID interface {
	loaderRec() *loaderRec
}

// Ref is the typed handle returned by Register. Two loaders are never
// confused, even when their inputs derive identical keys: each Ref owns its
// own key group.
type Ref[A, V any] struct {
	rec *loaderRec
}

// RegOption tunes one registered loader.
type RegOption func(*loaderRec)

// WithDisposePolicy overrides the loader's dispose policy.
func WithDisposePolicy(p DisposePolicy) RegOption {
	return func(rec *loaderRec) { rec.policy = p }
}

// WithDisposeDelay overrides the registry-wide grace window for this loader.
func WithDisposeDelay(d time.Duration) RegOption {
	return func(rec *loaderRec) { rec.disposeDelay = d }
}

// WithEqual overrides the change-detection equality for this loader's
// values. Defaults to reflect.DeepEqual.
func WithEqual(eq func(a, b any) bool) RegOption {
	return func(rec *loaderRec) { rec.equal = eq }
}

// Register binds a loader to a registry and returns its handle. name is for
// logs and hooks only; identity comes from the handle.
func Register[A, V any](r *Registry, name string, fn Loader[A, V], opts ...RegOption) *Ref[A, V] {
	rec := &loaderRec{
		reg:  r,
		name: name,
		load: func(c *Ctx, arg any) (any, error) {
			var a A
			if arg != nil {
				a = arg.(A)
			}
			return fn(c, a)
		},
		policy: DisposeWhenUnused,
		equal:  func(a, b any) bool { return reflect.DeepEqual(a, b) },
	}
	for _, o := range opts {
		o(rec)
	}
	return &Ref[A, V]{rec: rec}
}

func (r *Ref[A, V]) loaderRec() *loaderRec { return r.rec }

// Name returns the loader's registered name.
func (r *Ref[A, V]) Name() string { return r.rec.name }

// Entry returns the live entry for arg, creating it (and starting its
// loader) on a miss. Concurrent calls with the same input before the loader
// settles observe the same entry; the loader runs exactly once.
func (r *Ref[A, V]) Entry(arg A) Entry[V] {
	return Entry[V]{e: r.rec.reg.getOrCreate(r.rec, arg, r.rec.policy)}
}

// NewEntry is Entry with a per-entry dispose policy, for callers that pin
// individual keys (policy applies only when this call creates the entry).
func (r *Ref[A, V]) NewEntry(arg A, policy DisposePolicy) Entry[V] {
	return Entry[V]{e: r.rec.reg.getOrCreate(r.rec, arg, policy)}
}

// Get is Entry + Wait: the resolved value for arg, loading it if needed.
func (r *Ref[A, V]) Get(ctx context.Context, arg A) (V, error) {
	return r.Entry(arg).Wait(ctx)
}

// Key returns the canonical key the registry derives for arg.
func (r *Ref[A, V]) Key(arg A) string {
	return r.rec.reg.der.key(arg)
}
