package ticketcache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MutationKind names a Coordinator operation.
type MutationKind string

const (
	KindCreate  MutationKind = "create"
	KindUpdate  MutationKind = "update"
	KindDelete  MutationKind = "delete"
	KindComment MutationKind = "comment"
)

// MutationState is a step of the per-mutation state machine:
//
//	Idle -> Applying -> Settling -> Committed | RolledBack
type MutationState uint8

const (
	StateIdle MutationState = iota
	StateApplying
	StateSettling
	StateCommitted
	StateRolledBack
)

func (s MutationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateApplying:
		return "applying"
	case StateSettling:
		return "settling"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled back"
	default:
		return fmt.Sprintf("MutationState(%d)", uint8(s))
	}
}

// Settled reports whether s is terminal.
func (s MutationState) Settled() bool { return s == StateCommitted || s == StateRolledBack }

func (s MutationState) next(to MutationState) bool {
	switch s {
	case StateIdle:
		return to == StateApplying
	case StateApplying:
		return to == StateSettling || to == StateRolledBack
	case StateSettling:
		return to == StateCommitted || to == StateRolledBack
	}
	return false
}

// PendingMutation records one in-flight mutation: what it touches, what the
// touched entries looked like before, and what was applied. It exists from
// Applying until settlement and is never persisted.
type PendingMutation struct {
	ID         string          `json:"id"`
	Kind       MutationKind    `json:"kind"`
	EntityID   string          `json:"entityId,omitempty"`
	TargetKeys []string        `json:"targetKeys"`
	Snapshot   []SnapshotEntry `json:"snapshot,omitempty"`
	Patch      any             `json:"patch,omitempty"`
	State      MutationState   `json:"state"`
	StartedAt  time.Time       `json:"startedAt"`
}

func (p *PendingMutation) clone() PendingMutation {
	out := *p
	out.TargetKeys = append([]string(nil), p.TargetKeys...)
	out.Snapshot = append([]SnapshotEntry(nil), p.Snapshot...)
	return out
}

// keyLock serializes holders of the same key. Waiting is cancellable.
type keyLock struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func newKeyLock() *keyLock { return &keyLock{held: make(map[string]chan struct{})} }

func (l *keyLock) lock(ctx context.Context, key string) (unlock func(), err error) {
	for {
		l.mu.Lock()
		ch, busy := l.held[key]
		if !busy {
			ch = make(chan struct{})
			l.held[key] = ch
			l.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, key)
					l.mu.Unlock()
					close(ch)
				})
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
