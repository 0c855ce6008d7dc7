package revcache

import "sync"

// listenable is the observer-list primitive shared by entries and the tag bus.
// Listeners fire in subscription order against a snapshot taken before the
// first callback runs, so a listener that subscribes or unsubscribes mid-fire
// never affects the current notification round.
//
// subscribe/unsubscribe report edge transitions (empty<->non-empty) so owners
// can keep an auditable subscriber count instead of relying on callback side
// effects. Unsubscribing twice is a no-op.
type listenable[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   []listener[T]
}

type listener[T any] struct {
	id uint64
	fn func(T)
}

// subscribe adds fn and returns its id plus whether the set just became
// non-empty.
func (l *listenable[T]) subscribe(fn func(T)) (id uint64, first bool) {
	l.mu.Lock()
	l.nextID++
	id = l.nextID
	first = len(l.subs) == 0
	l.subs = append(l.subs, listener[T]{id: id, fn: fn})
	l.mu.Unlock()
	return id, first
}

// unsubscribe removes the listener with the given id. Reports whether a
// listener was actually removed and whether the set just became empty.
// Unknown ids (already removed) are ignored.
func (l *listenable[T]) unsubscribe(id uint64) (removed, last bool) {
	l.mu.Lock()
	for i, s := range l.subs {
		if s.id == id {
			l.subs = append(l.subs[:i], l.subs[i+1:]...)
			removed = true
			last = len(l.subs) == 0
			break
		}
	}
	l.mu.Unlock()
	return removed, last
}

func (l *listenable[T]) len() int {
	l.mu.Lock()
	n := len(l.subs)
	l.mu.Unlock()
	return n
}

// notify fires every current listener with payload, in subscription order.
func (l *listenable[T]) notify(payload T) {
	for _, fn := range l.snapshot() {
		fn(payload)
	}
}

// notifyAndClear atomically detaches the whole listener set, then fires the
// detached listeners in subscription order.
func (l *listenable[T]) notifyAndClear(payload T) {
	for _, fn := range l.takeAll() {
		fn(payload)
	}
}

func (l *listenable[T]) snapshot() []func(T) {
	l.mu.Lock()
	out := make([]func(T), len(l.subs))
	for i, s := range l.subs {
		out[i] = s.fn
	}
	l.mu.Unlock()
	return out
}

// takeAll clears the set and returns the removed listeners in order.
func (l *listenable[T]) takeAll() []func(T) {
	l.mu.Lock()
	out := make([]func(T), len(l.subs))
	for i, s := range l.subs {
		out[i] = s.fn
	}
	l.subs = nil
	l.mu.Unlock()
	return out
}

func (l *listenable[T]) clear() {
	l.mu.Lock()
	l.subs = nil
	l.mu.Unlock()
}
