package revcache

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type entryState uint8

const (
	statePending entryState = iota
	stateReady
	stateFailed
)

// Teardown reasons passed to Hooks.EntryDisposed.
const (
	reasonDispose    = "dispose"
	reasonRevalidate = "revalidate"
	reasonIdle       = "idle"
	reasonClear      = "clear"
)

// entry is one memoized (loader, input) computation. The typed Entry[V]
// handle in handle.go is a thin view over it.
//
// Lifecycle: created Pending with its loader already running; settles into
// Ready or Failed exactly once (an explicit Set while Pending supersedes the
// in-flight load instead of racing it); leaves the registry through dispose,
// revalidate, or the idle timer. removed is terminal: every mutator is a
// no-op afterwards and the next access under the same key builds a fresh
// entry object.
type entry struct {
	reg *Registry
	rec *loaderRec
	key string

	log   Logger
	hooks Hooks
	clk   clock.Clock

	policy       DisposePolicy
	disposeDelay time.Duration

	mu          sync.Mutex
	state       entryState
	value       any
	err         error
	settledOnce bool
	settled     chan struct{} // closed on first settle; Wait blocks on it
	superseded  bool          // explicit Set landed while Pending; loader result is dropped
	reducers    []func(any) (any, error)
	removed     bool
	activated   bool
	deferred    []registration
	cleanups    []func()

	ready        listenable[struct{}] // one-shot, cleared on fire
	change       listenable[struct{}]
	disposeTimer *clock.Timer
}

func newEntry(reg *Registry, rec *loaderRec, key string, policy DisposePolicy) *entry {
	return &entry{
		reg:          reg,
		rec:          rec,
		key:          key,
		log:          reg.log,
		hooks:        reg.hooks,
		clk:          reg.clk,
		policy:       policy,
		disposeDelay: coalesce(rec.disposeDelay, reg.disposeDelay),
		settled:      make(chan struct{}),
	}
}

// runLoader executes the loader and settles the entry with its outcome.
// Runs on its own goroutine; panics are captured as LoaderPanicError.
func (e *entry) runLoader(dc *Ctx, arg any) {
	v, err := e.invoke(dc, arg)
	e.settleFromLoader(v, err)
}

func (e *entry) invoke(dc *Ctx, arg any) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, &LoaderPanicError{Loader: e.rec.name, Value: r}
		}
	}()
	return e.rec.load(dc, arg)
}

// settleFromLoader chains queued reducers onto the loader result, then
// commits. Reducers arrive via Update while Pending and apply to whatever
// value the load produces, in arrival order. A failed load propagates its
// error past the reducers.
func (e *entry) settleFromLoader(v any, err error) {
	for {
		for err == nil {
			e.mu.Lock()
			if e.superseded {
				e.mu.Unlock()
				return
			}
			if len(e.reducers) == 0 {
				e.mu.Unlock()
				break
			}
			fns := e.reducers
			e.reducers = nil
			e.mu.Unlock()
			for _, fn := range fns {
				v, err = safeReduce(fn, v, e.rec.name)
				if err != nil {
					break
				}
			}
		}
		if e.commitLoader(v, err) {
			return
		}
		// a reducer slipped in between the drain and the commit; go again
	}
}

func safeReduce(fn func(any) (any, error), v any, loader string) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, &LoaderPanicError{Loader: loader, Value: r}
		}
	}()
	return fn(v)
}

// commitLoader installs the loader outcome. Returns false when fresh
// reducers still need to be applied first. Dropped entirely if an explicit
// Set superseded the computation.
func (e *entry) commitLoader(v any, err error) bool {
	e.mu.Lock()
	if e.superseded {
		e.mu.Unlock()
		return true
	}
	if err == nil && len(e.reducers) > 0 {
		e.mu.Unlock()
		return false
	}
	e.commitLocked(v, err)
	return true
}

// commitExplicit installs a result from Set/SetError/Update. While Pending
// it supersedes the in-flight load.
func (e *entry) commitExplicit(v any, err error) {
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return
	}
	if e.state == statePending {
		e.superseded = true
	}
	e.commitLocked(v, err)
}

// commitLocked transitions to Ready/Failed and releases e.mu before firing
// listeners, so a listener can safely call back into the entry or registry.
// Even a removed entry records its result: consumers already waiting on the
// in-flight computation still receive the value, the entry just stays
// unreachable.
func (e *entry) commitLocked(v any, err error) {
	prevVal, prevErr, hadResult := e.value, e.err, e.settledOnce
	wasPending := e.state == statePending

	if err != nil {
		e.state = stateFailed
		e.value = nil
		e.err = err
	} else {
		e.state = stateReady
		e.value = v
		e.err = nil
	}
	e.settledOnce = true
	if wasPending {
		close(e.settled)
	}

	changed := !hadResult || e.resultChanged(prevVal, prevErr, v, err)
	if !hadResult && wasPending && !e.superseded {
		// first settle straight from the loader: consumers learn via ready,
		// change stays quiet
		changed = false
	}

	var readyFns, changeFns []func(struct{})
	var regs []registration
	if !e.removed {
		readyFns = e.ready.takeAll()
		if changed {
			changeFns = e.change.snapshot()
		}
		if !e.activated {
			e.activated = true
			regs = e.deferred
			e.deferred = nil
		}
		if e.change.len() == 0 {
			e.armDisposeTimerLocked()
		}
	}
	e.mu.Unlock()

	if err != nil {
		e.hooks.LoaderFailed(e.rec.name, e.key, err)
		e.log.Debug("entry settled with error", Fields{"loader": e.rec.name, "key": e.key, "err": err})
	}
	for _, fn := range readyFns {
		fn(struct{}{})
	}
	for _, fn := range changeFns {
		fn(struct{}{})
	}
	for _, r := range regs {
		e.attachCleanup(r(e))
	}
}

func (e *entry) resultChanged(oldV any, oldErr error, newV any, newErr error) bool {
	if oldErr != nil || newErr != nil {
		return oldErr != newErr
	}
	return !e.rec.equal(oldV, newV)
}

// update applies a reducer. Pending: deferred and chained onto the in-flight
// computation. Ready: applied synchronously; a reducer error routes into
// Failed. Failed: skipped, the stored error propagates.
func (e *entry) update(fn func(any) (any, error)) {
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return
	}
	switch e.state {
	case statePending:
		e.reducers = append(e.reducers, fn)
		e.mu.Unlock()
		return
	case stateFailed:
		e.mu.Unlock()
		return
	}
	cur := e.value
	e.mu.Unlock()

	v, err := safeReduce(fn, cur, e.rec.name)
	e.commitExplicit(v, err)
}

// get returns the last settled result without blocking.
func (e *entry) get() (any, error, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.settledOnce {
		return nil, nil, false
	}
	return e.value, e.err, true
}

// wait blocks until the entry settles (or ctx is done) and returns the
// result. Settled entries return immediately.
func (e *entry) wait(ctx context.Context) (any, error) {
	e.mu.Lock()
	if e.settledOnce {
		v, err := e.value, e.err
		e.mu.Unlock()
		return v, err
	}
	ch := e.settled
	e.mu.Unlock()

	select {
	case <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	e.mu.Lock()
	v, err := e.value, e.err
	e.mu.Unlock()
	return v, err
}

func (e *entry) loading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == statePending
}

func (e *entry) isRemoved() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removed
}

// onReady registers a one-shot listener for the next settle. Already-settled
// entries never fire it again; use wait for those.
func (e *entry) onReady(fn func()) {
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return
	}
	e.ready.subscribe(func(struct{}) { fn() })
	e.mu.Unlock()
}

// onChange registers a change listener and returns its unsubscribe. The
// first subscriber cancels a pending idle timer; removing the last one
// re-arms it.
func (e *entry) onChange(fn func()) func() {
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return func() {}
	}
	id, first := e.change.subscribe(func(struct{}) { fn() })
	if first {
		e.cancelDisposeTimerLocked()
	}
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		removed, last := e.change.unsubscribe(id)
		if removed && last && !e.removed {
			e.armDisposeTimerLocked()
		}
		e.mu.Unlock()
	}
}

// addReg records a dependency registration. Before the first settle it is
// deferred; afterwards it activates immediately, which keeps registrations
// made by synchronous loaders correctly ordered.
func (e *entry) addReg(r registration) {
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return
	}
	if !e.activated {
		e.deferred = append(e.deferred, r)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.attachCleanup(r(e))
}

func (e *entry) attachCleanup(c func()) {
	if c == nil {
		return
	}
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		c()
		return
	}
	e.cleanups = append(e.cleanups, c)
	e.mu.Unlock()
}

// dispose tears the entry down: marks it removed, stops the idle timer,
// detaches it from the registry, and releases every dependency subscription.
// Idempotent; reports whether this call did the teardown.
func (e *entry) dispose(reason string) bool {
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return false
	}
	e.removed = true
	e.cancelDisposeTimerLocked()
	cleanups := e.cleanups
	e.cleanups = nil
	e.deferred = nil
	e.mu.Unlock()

	e.reg.removeEntry(e.rec, e.key, e)
	e.ready.clear() // never fires again; change stays for revalidate's takeAll
	for _, c := range cleanups {
		c()
	}
	e.hooks.EntryDisposed(e.rec.name, e.key, reason)
	e.log.Debug("entry disposed", Fields{"loader": e.rec.name, "key": e.key, "reason": reason})
	return true
}

// revalidate disposes the entry, then tells change listeners to refetch.
// Removal happens strictly first: a listener that immediately re-requests
// the same key observes a miss and gets a fresh entry.
func (e *entry) revalidate() {
	if !e.dispose(reasonRevalidate) {
		return
	}
	for _, fn := range e.change.takeAll() {
		fn(struct{}{})
	}
}

// armDisposeTimerLocked schedules deferred removal under the unused policy.
// Armed whenever the entry is settled with zero change subscribers; the
// grace window tolerates a consumer detaching and reattaching to the same
// key within the same turn.
func (e *entry) armDisposeTimerLocked() {
	if e.policy != DisposeWhenUnused || e.removed || e.disposeTimer != nil {
		return
	}
	if !e.settledOnce || e.state == statePending {
		return
	}
	e.disposeTimer = e.clk.AfterFunc(e.disposeDelay, e.disposeTimerFired)
}

func (e *entry) cancelDisposeTimerLocked() {
	if e.disposeTimer != nil {
		e.disposeTimer.Stop()
		e.disposeTimer = nil
	}
}

func (e *entry) disposeTimerFired() {
	e.mu.Lock()
	e.disposeTimer = nil
	if e.removed || e.change.len() > 0 {
		// raced with a teardown or a late subscriber; stand down
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.dispose(reasonIdle)
}
