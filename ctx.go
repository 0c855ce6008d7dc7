package revcache

import (
	"context"
	"reflect"
)

// Dependency signal kinds passed to Hooks.DependencyFired.
const (
	depStore   = "store"
	depChannel = "channel"
	depEntry   = "entry"
)

// registration is one dependency subscription discovered while a loader ran.
// Activation is deferred until the owning entry first settles; the returned
// cleanup joins the entry's teardown set.
type registration func(e *entry) (cleanup func())

// Ctx is the dependency context handed to a loader. It lives for one
// invocation: the loader reads its input's collaborators through it and the
// subscriptions it declares persist on the entry after the loader returns.
//
// Ctx embeds a context.Context for use with downstream calls the loader
// makes (HTTP, DB, other entries via UseEntry).
//
// The dependency graph is discovered by running the loader, not declared
// upfront. Cycles between entries are a caller error: an entry that
// (transitively) waits on itself deadlocks. The library does not detect
// this.
type Ctx struct {
	context.Context
	e *entry
}

// Revalidate forces this entry (and this entry alone) to dispose and
// recompute on next access.
func (c *Ctx) Revalidate() {
	c.e.revalidate()
}

// UseStore snapshots store state for the loader and arranges revalidation
// when the store later changes to a state unequal to that snapshot.
//
// The snapshot is taken immediately and returned synchronously, so the
// loader computes against a consistent view even though the live
// subscription only activates once the entry settles. equal defaults to
// reflect.DeepEqual.
func UseStore[S any](c *Ctx, st Store[S], equal func(a, b S) bool) S {
	snap := st.GetState()
	if equal == nil {
		equal = func(a, b S) bool { return reflect.DeepEqual(a, b) }
	}
	c.e.addReg(func(e *entry) func() {
		return st.Subscribe(func() {
			if equal(st.GetState(), snap) {
				return
			}
			e.hooks.DependencyFired(e.rec.name, e.key, depStore)
			e.revalidate()
		})
	})
	return snap
}

// UseChannel registers an external signal source (timer, tag bus, ...).
// Every emit revalidates the entry. Activation is deferred to settle time;
// the channel's unsubscribe, if any, is retained for teardown.
func (c *Ctx) UseChannel(ch Channel) {
	c.e.addReg(func(e *entry) func() {
		return ch(func() {
			e.hooks.DependencyFired(e.rec.name, e.key, depChannel)
			e.revalidate()
		})
	})
}

// UseEntry reads another loader's value, forcing it to load if necessary,
// and revalidates this entry whenever that dependency's value changes. This
// is the cache-to-cache dependency edge; see Ctx for the cycle caveat.
func UseEntry[A, V any](c *Ctx, ref *Ref[A, V], arg A) (V, error) {
	dep := ref.Entry(arg)
	v, err := dep.Wait(c)
	registerEntryDep(c, dep.e)
	return v, err
}

func registerEntryDep(c *Ctx, dep *entry) {
	c.e.addReg(func(e *entry) func() {
		if dep.isRemoved() {
			// the dependency was torn down between the read and activation;
			// recompute rather than hold a value nobody will invalidate
			e.revalidate()
			return nil
		}
		return dep.onChange(func() {
			e.hooks.DependencyFired(e.rec.name, e.key, depEntry)
			e.revalidate()
		})
	})
}

// Use is the dynamic-typed registration path for callers holding a
// dependency of unknown shape. It recognizes Channel functions, stores
// exposing GetState/Subscribe, and entry handles; anything else fails fast
// with UnsupportedDependencyError. Typed loaders should prefer UseStore,
// UseChannel, and UseEntry.
func (c *Ctx) Use(dep any) (any, error) {
	switch d := dep.(type) {
	case Channel:
		c.UseChannel(d)
		return nil, nil
	case func(emit func()) func():
		c.UseChannel(d)
		return nil, nil
	case anyStore:
		return UseStore[any](c, FuncStore[any]{State: d.GetState, Sub: d.Subscribe}, nil), nil
	case AnyEntry:
		v, err := d.WaitAny(c)
		registerEntryDep(c, d.internal())
		return v, err
	default:
		return nil, &UnsupportedDependencyError{Value: dep}
	}
}
