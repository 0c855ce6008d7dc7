package revcache

// Store is the external state container contract consumed by UseStore: a
// current-state snapshot plus change subscription. The cache only observes;
// mutating the store's state stays the store's responsibility.
type Store[S any] interface {
	// GetState returns the store's current state.
	GetState() S

	// Subscribe registers a change listener and returns its unsubscribe.
	// The listener carries no payload; subscribers re-read via GetState.
	Subscribe(listener func()) (unsubscribe func())
}

// anyStore is the erased store shape recognized by the dynamic Ctx.Use path.
type anyStore interface {
	GetState() any
	Subscribe(listener func()) (unsubscribe func())
}

// FuncStore builds a Store[S] from closures. Handy for adapting existing
// state containers and for tests.
type FuncStore[S any] struct {
	State func() S
	Sub   func(listener func()) (unsubscribe func())
}

var _ Store[int] = FuncStore[int]{}

func (s FuncStore[S]) GetState() S { return s.State() }

func (s FuncStore[S]) Subscribe(listener func()) func() {
	if s.Sub == nil {
		return func() {}
	}
	return s.Sub(listener)
}
