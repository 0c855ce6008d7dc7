// Package revcache implements a keyed, reference-counted cache for loader
// results with automatic invalidation. Each registered loader owns a group
// of entries keyed by a canonical serialization of its input; at most one
// load is ever in flight per distinct input. Entries revalidate when the
// external stores, channels, or other entries their loader touched report a
// change, or when a tag broadcast matches them.
//
// Components:
//   - Registry: loader handle -> canonical key -> entry. Groups are lazy and
//     dropped when empty.
//   - Entry: one memoized computation (Pending | Ready | Failed), with
//     one-shot ready and recurring change notifications and an optional idle
//     dispose timer.
//   - Ctx: per-invocation dependency context. Subscriptions a loader
//     declares activate once the entry settles and are released on teardown.
//   - TagBus: process-wide broadcast invalidation keyed by opaque string
//     tags.
//
// Usage:
//
//	reg := revcache.New(revcache.Options{})
//	users := revcache.Register(reg, "user", func(c *revcache.Ctx, id int) (User, error) {
//	    c.UseChannel(revcache.TagChannel(revcache.MatchTag("users")))
//	    return fetchUser(c, id)
//	})
//
//	u, err := users.Get(ctx, 42)       // load or cached
//	revcache.Revalidate("users")       // every subscribed entry refetches
//
// Disposal: under the default "unused" policy an entry that is settled with
// zero change subscribers is removed after a short grace window; the window
// tolerates a consumer detaching and immediately reattaching to the same
// key. DisposeNever pins entries until explicitly disposed or revalidated.
package revcache
