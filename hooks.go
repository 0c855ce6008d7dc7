package revcache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// A new entry was inserted and its loader started.
	EntryCreated(loader, key string)

	// An entry left the registry.
	// reason ∈ {"dispose", "revalidate", "idle", "clear"}
	EntryDisposed(loader, key, reason string)

	// A loader or chained reducer produced an error; captured as Failed.
	LoaderFailed(loader, key string, err error)

	// A dependency signal scheduled a revalidation of a live entry.
	// kind ∈ {"store", "channel", "entry"}
	DependencyFired(loader, key, kind string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) EntryCreated(string, string)            {}
func (NopHooks) EntryDisposed(string, string, string)   {}
func (NopHooks) LoaderFailed(string, string, error)     {}
func (NopHooks) DependencyFired(string, string, string) {}
