package revcache

import "sync"

// TagMatcher decides whether a subscription cares about a broadcast tag.
type TagMatcher func(tag string) bool

// MatchTag matches exactly one tag.
func MatchTag(tag string) TagMatcher {
	return func(t string) bool { return t == tag }
}

// MatchAny matches membership in a tag list.
func MatchAny(tags ...string) TagMatcher {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	return func(t string) bool {
		_, ok := set[t]
		return ok
	}
}

// TagBus is a broadcast channel keyed by opaque string tags. A subscription
// fires when any tag in a broadcast satisfies its matcher. Matching is a
// linear scan per broadcast; subscription counts are bounded by live cache
// entries, not by data volume.
type TagBus struct {
	subs listenable[[]string]
}

func NewTagBus() *TagBus { return &TagBus{} }

// Revalidate broadcasts tags to every active subscription.
func (b *TagBus) Revalidate(tags ...string) {
	if len(tags) == 0 {
		return
	}
	b.subs.notify(tags)
}

// Channel adapts a matcher-filtered subscription into a Channel usable with
// Ctx.UseChannel. The emit callback fires once per matching broadcast.
func (b *TagBus) Channel(m TagMatcher) Channel {
	return func(emit func()) func() {
		id, _ := b.subs.subscribe(func(tags []string) {
			for _, t := range tags {
				if m(t) {
					emit()
					return
				}
			}
		})
		return func() { b.subs.unsubscribe(id) }
	}
}

var (
	defaultBusOnce sync.Once
	defaultBus     *TagBus
)

// DefaultBus returns the process-wide tag bus. Registries use it unless
// Options.Bus overrides.
func DefaultBus() *TagBus {
	defaultBusOnce.Do(func() { defaultBus = NewTagBus() })
	return defaultBus
}

// Revalidate broadcasts tags on the process-wide bus.
func Revalidate(tags ...string) { DefaultBus().Revalidate(tags...) }

// TagChannel subscribes to the process-wide bus with the given matcher.
func TagChannel(m TagMatcher) Channel { return DefaultBus().Channel(m) }
