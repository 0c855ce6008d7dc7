package revcache

import (
	"errors"
	"fmt"
)

// ErrNotReady is returned by Entry.Get when no result has ever been produced
// for the entry. This is a programming error on the caller's side: either
// wait for the first load via Wait or gate on Loading.
var ErrNotReady = errors.New("revcache: entry has no result yet")

// UnsupportedDependencyError reports a Ctx.Use argument that matches none of
// the recognized dependency shapes.
type UnsupportedDependencyError struct {
	Value any
}

func (e *UnsupportedDependencyError) Error() string {
	return fmt.Sprintf("revcache: unsupported dependency %T (want Channel, Store, or entry handle)", e.Value)
}

// LoaderPanicError wraps a panic recovered from a loader. The panic is
// captured into the entry's Failed state instead of unwinding the loader
// goroutine.
type LoaderPanicError struct {
	Loader string
	Value  any
}

func (e *LoaderPanicError) Error() string {
	return fmt.Sprintf("revcache: loader %q panicked: %v", e.Loader, e.Value)
}
