// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/revcache"
//	"github.com/unkn0wn-root/revcache/hooks/async"
//	"github.com/unkn0wn-root/revcache/sloghooks"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    LifecycleEvery:  10, // sample logs: ~every 10th create/dispose
//	    DependencyEvery: 1,  // log every dependency fire
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	reg := revcache.New(revcache.Options{
//	    Hooks: hooks, // or `raw` if you don’t want async
//	})
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/revcache"
)

type Hooks struct {
	inner revcache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ revcache.Hooks = (*Hooks)(nil)

func New(inner revcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) EntryCreated(l, k string) { h.try(func() { h.inner.EntryCreated(l, k) }) }
func (h *Hooks) EntryDisposed(l, k, r string) {
	h.try(func() { h.inner.EntryDisposed(l, k, r) })
}
func (h *Hooks) LoaderFailed(l, k string, err error) {
	h.try(func() { h.inner.LoaderFailed(l, k, err) })
}
func (h *Hooks) DependencyFired(l, k, kind string) {
	h.try(func() { h.inner.DependencyFired(l, k, kind) })
}
