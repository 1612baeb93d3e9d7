// Package sloghooks reports ticketcache hook events through log/slog.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/ticketcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery    uint64
	FetchFailedEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr    atomic.Uint64
	fetchFailedCtr atomic.Uint64
}

var _ ticketcache.Hooks = (*Hooks)(nil)

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

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("ticketcache.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) ProviderSetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("ticketcache.provider_set_rejected",
		"key", h.redact(storageKey))
}

func (h *Hooks) GenSnapshotError(count int, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("ticketcache.gen_snapshot_error",
		"count", count,
		"err", err)
}

func (h *Hooks) GenBumpError(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("ticketcache.gen_bump_error",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) FetchFailed(storageKey string, err error) {
	if h.l == nil || !sample(h.opts.FetchFailedEvery, &h.fetchFailedCtr) {
		return
	}
	h.l.Warn("ticketcache.fetch_failed",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) WriteSkipped(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Debug("ticketcache.write_skipped",
		"key", h.redact(storageKey))
}

func (h *Hooks) Evicted(namespace string, count int) {
	if h.l == nil {
		return
	}
	h.l.Debug("ticketcache.evicted",
		"ns", namespace,
		"count", count)
}

func (h *Hooks) MutationSettled(kind ticketcache.MutationKind, entityID string, state ticketcache.MutationState, err error) {
	if h.l == nil {
		return
	}
	if err == nil {
		h.l.Info("ticketcache.mutation_settled",
			"kind", string(kind),
			"id", entityID,
			"state", state.String())
		return
	}
	h.l.Warn("ticketcache.mutation_settled",
		"kind", string(kind),
		"id", entityID,
		"state", state.String(),
		"err", err)
}
