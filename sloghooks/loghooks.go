package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/revcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all. Entry churn and dependency
	// fires are hot-path events.
	LifecycleEvery  uint64
	DependencyEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	lifecycleCtr  atomic.Uint64
	dependencyCtr atomic.Uint64
}

var _ revcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) EntryCreated(loader, key string) {
	if h.l == nil || !sample(h.opts.LifecycleEvery, &h.lifecycleCtr) {
		return
	}
	h.l.Debug("revcache.entry_created",
		"loader", loader,
		"key", h.redact(key))
}

func (h *Hooks) EntryDisposed(loader, key, reason string) {
	if h.l == nil || !sample(h.opts.LifecycleEvery, &h.lifecycleCtr) {
		return
	}
	h.l.Debug("revcache.entry_disposed",
		"loader", loader,
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) LoaderFailed(loader, key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("revcache.loader_failed",
		"loader", loader,
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) DependencyFired(loader, key, kind string) {
	if h.l == nil || !sample(h.opts.DependencyEvery, &h.dependencyCtr) {
		return
	}
	h.l.Debug("revcache.dependency_fired",
		"loader", loader,
		"key", h.redact(key),
		"kind", kind)
}
