package revcache

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Registry owns the loader-keyed entry groups. Groups are created lazily on
// first access and dropped as soon as their last entry is removed, so an
// idle registry holds no empty shells.
type Registry struct {
	log          Logger
	hooks        Hooks
	clk          clock.Clock
	disposeDelay time.Duration
	bus          *TagBus
	der          *deriver

	mu     sync.Mutex
	groups map[*loaderRec]map[string]*entry
}

// Bus returns the tag bus this registry's loaders subscribe against.
func (r *Registry) Bus() *TagBus { return r.bus }

// getOrCreate returns the live entry for (rec, key), creating it and kicking
// off its loader when absent. A removed entry still sitting in the map (the
// window between teardown and map delete) is replaced by a fresh object,
// never resurrected.
func (r *Registry) getOrCreate(rec *loaderRec, arg any, policy DisposePolicy) *entry {
	key := r.der.key(arg)

	r.mu.Lock()
	g := r.groups[rec]
	if g == nil {
		g = make(map[string]*entry)
		r.groups[rec] = g
	}
	if e := g[key]; e != nil && !e.isRemoved() {
		r.mu.Unlock()
		return e
	}
	e := newEntry(r, rec, key, policy)
	g[key] = e
	r.mu.Unlock()

	r.hooks.EntryCreated(rec.name, key)
	r.log.Debug("entry created", Fields{"loader": rec.name, "key": key})

	dc := &Ctx{Context: context.Background(), e: e}
	go e.runLoader(dc, arg)
	return e
}

// removeEntry detaches e from its group, identity-checked so a successor
// entry under the same key is left alone. Empty groups are dropped with it.
func (r *Registry) removeEntry(rec *loaderRec, key string, e *entry) {
	r.mu.Lock()
	if g := r.groups[rec]; g != nil && g[key] == e {
		delete(g, key)
		if len(g) == 0 {
			delete(r.groups, rec)
		}
	}
	r.mu.Unlock()
}

// RemoveGroup acts on every current entry of one loader. With a callback the
// entries are handed over one by one (typically to dispose or revalidate)
// and the group shrinks as they go; without one the whole group is dropped
// and its entries disposed.
func (r *Registry) RemoveGroup(id LoaderID, onEach func(AnyEntry)) {
	rec := id.loaderRec()

	r.mu.Lock()
	g := r.groups[rec]
	entries := make([]*entry, 0, len(g))
	for _, e := range g {
		entries = append(entries, e)
	}
	if onEach == nil {
		delete(r.groups, rec)
	}
	r.mu.Unlock()

	for _, e := range entries {
		if onEach != nil {
			onEach(anyHandle{e: e})
		} else {
			e.dispose(reasonClear)
		}
	}
}

// ClearAll drops every group and disposes every entry. Process-wide reset,
// e.g. test teardown.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	var all []*entry
	for _, g := range r.groups {
		for _, e := range g {
			all = append(all, e)
		}
	}
	r.groups = make(map[*loaderRec]map[string]*entry)
	r.mu.Unlock()

	for _, e := range all {
		e.dispose(reasonClear)
	}
}

// Close tears the registry down. Today that is ClearAll; kept separate so
// callers pair it with New.
func (r *Registry) Close() {
	r.ClearAll()
}

var (
	defaultRegOnce sync.Once
	defaultReg     *Registry
)

// Default returns the process-wide registry, created on first use with
// default Options.
func Default() *Registry {
	defaultRegOnce.Do(func() { defaultReg = New(Options{}) })
	return defaultReg
}

// ClearAll resets the process-wide registry.
func ClearAll() { Default().ClearAll() }
