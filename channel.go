package revcache

import (
	"time"

	"github.com/gammazero/channelqueue"
)

// Channel is an external signal source: it receives an emit callback, starts
// delivering signals to it, and optionally returns an unsubscribe function.
// Activation is deferred until the owning entry first settles; the returned
// unsubscribe joins the entry's cleanup set.
type Channel func(emit func()) (unsubscribe func())

// Every returns a Channel that emits on a fixed interval. Each activation
// owns its own ticker; unsubscribing stops it.
func Every(d time.Duration) Channel {
	return func(emit func()) func() {
		ticker := time.NewTicker(d)
		stop := make(chan struct{})
		go func() {
			for {
				select {
				case <-ticker.C:
					emit()
				case <-stop:
					return
				}
			}
		}()
		return func() {
			ticker.Stop()
			close(stop)
		}
	}
}

// FromChan bridges a Go channel into a Channel. Elements are drained through
// an unbounded queue so a slow emit path (revalidation fans out to listeners)
// never blocks the producer. The bridge stops when ch closes or the channel
// registration is released.
func FromChan[T any](ch <-chan T) Channel {
	return func(emit func()) func() {
		cq := channelqueue.New[T](-1)
		stop := make(chan struct{})

		go func() {
			defer cq.Close()
			for {
				select {
				case v, ok := <-ch:
					if !ok {
						return
					}
					select {
					case cq.In() <- v:
					case <-stop:
						return
					}
				case <-stop:
					return
				}
			}
		}()

		go func() {
			for range cq.Out() {
				select {
				case <-stop:
					return
				default:
				}
				emit()
			}
		}()

		return func() { close(stop) }
	}
}
