package ticketcache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/ticketcache/ticket"
)

// tempCommentPrefix marks optimistic comments that have no server identity yet.
const tempCommentPrefix = "temp-"

// CoordinatorOptions wire a Coordinator to its caches. Remote, Lists, Details
// and Comments are required.
type CoordinatorOptions struct {
	Remote   Remote
	Lists    *QueryCache[ticket.List]
	Details  *QueryCache[ticket.Ticket]
	Comments *QueryCache[[]ticket.Comment]

	Timeout time.Duration    // 0 => 10s; bound on one remote mutation
	Logger  Logger           // nil => NopLogger
	Hooks   Hooks            // nil => NopHooks
	Now     func() time.Time // nil => time.Now
}

// Coordinator runs mutations against the remote store with optimistic local
// changes. Mutations on the same ticket are serialized; a later one waits for
// the earlier one to settle before taking its snapshot. Mutations on distinct
// tickets run concurrently.
//
// Lists are never patched: every mutation that can change what a list shows
// flags all list entries stale instead.
type Coordinator struct {
	remote   Remote
	lists    *QueryCache[ticket.List]
	details  *QueryCache[ticket.Ticket]
	comments *QueryCache[[]ticket.Comment]

	locks   *keyLock
	log     Logger
	hooks   Hooks
	now     func() time.Time
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]*PendingMutation
}

func NewCoordinator(opts CoordinatorOptions) (*Coordinator, error) {
	if opts.Remote == nil {
		return nil, fmt.Errorf("ticketcache: remote is required")
	}
	if opts.Lists == nil || opts.Details == nil || opts.Comments == nil {
		return nil, fmt.Errorf("ticketcache: lists, details and comments caches are required")
	}
	m := &Coordinator{
		remote:   opts.Remote,
		lists:    opts.Lists,
		details:  opts.Details,
		comments: opts.Comments,
		locks:    newKeyLock(),
		pending:  make(map[string]*PendingMutation),
	}
	m.log = coalesce[Logger](opts.Logger, NopLogger{})
	m.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	m.timeout = coalesce(opts.Timeout, defaultTimeout)
	m.now = time.Now
	if opts.Now != nil {
		m.now = opts.Now
	}
	return m, nil
}

// CreateTicket submits a new ticket. No optimistic entity is fabricated since
// the id and ticket number are server-assigned; the pending create is visible
// through Pending until it settles. On success the ticket is stored as the
// detail entry and every list is flagged stale. On failure nothing changes.
func (m *Coordinator) CreateTicket(ctx context.Context, req ticket.CreateRequest) (ticket.Ticket, error) {
	if err := ticket.Validate(req); err != nil {
		return ticket.Ticket{}, err
	}

	p := m.begin(KindCreate, "", req, listTarget)
	m.advance(p, StateSettling)

	t, err := call(ctx, m.timeout, func(ctx context.Context) (ticket.Ticket, error) {
		return m.remote.CreateTicket(ctx, req)
	})
	lctx := context.WithoutCancel(ctx)
	if err != nil {
		return ticket.Ticket{}, m.rollback(lctx, p, err)
	}

	m.mu.Lock()
	p.EntityID = t.ID
	m.mu.Unlock()

	if err := m.details.Set(lctx, t.ID, t); err != nil {
		m.log.Warn("store created ticket", Fields{"id": t.ID, "err": err})
	}
	m.lists.InvalidateAll(lctx)
	m.settle(p, StateCommitted, nil)
	return t, nil
}

// UpdateTicket patches the cached detail immediately, flags all lists stale,
// then sends the update. The server's ticket replaces the optimistic one on
// success; on failure the detail entry is restored exactly and lists stay
// stale.
func (m *Coordinator) UpdateTicket(ctx context.Context, id string, u ticket.UpdateRequest) (ticket.Ticket, error) {
	if err := ticket.ValidateUpdate(u); err != nil {
		return ticket.Ticket{}, err
	}
	unlock, err := m.locks.lock(ctx, id)
	if err != nil {
		return ticket.Ticket{}, &MutationError{Kind: KindUpdate, EntityID: id, State: StateIdle, Err: err}
	}
	defer unlock()

	p := m.begin(KindUpdate, id, u, detailTarget(id), listTarget)
	snap, err := m.details.Snapshot(ctx, id)
	if err != nil {
		return ticket.Ticket{}, m.abort(p, err)
	}
	m.record(p, snap)

	if cur, ok := m.details.Peek(ctx, id); ok {
		if err := m.details.Set(ctx, id, cur.Value.Apply(u, m.now())); err != nil {
			m.log.Warn("optimistic update", Fields{"id": id, "err": err})
		}
	}
	m.lists.InvalidateAll(ctx)
	m.advance(p, StateSettling)

	t, err := call(ctx, m.timeout, func(ctx context.Context) (ticket.Ticket, error) {
		return m.remote.UpdateTicket(ctx, id, u)
	})
	lctx := context.WithoutCancel(ctx)
	if err != nil {
		return ticket.Ticket{}, m.rollback(lctx, p, err)
	}
	if err := m.details.Set(lctx, id, t); err != nil {
		m.log.Warn("store updated ticket", Fields{"id": id, "err": err})
	}
	m.settle(p, StateCommitted, nil)
	return t, nil
}

// DeleteTicket removes the ticket's detail and comments entries immediately,
// flags all lists stale, then sends the delete. On success both entries are
// removed once more; on failure both are restored. Lists stay stale either
// way.
func (m *Coordinator) DeleteTicket(ctx context.Context, id string) error {
	unlock, err := m.locks.lock(ctx, id)
	if err != nil {
		return &MutationError{Kind: KindDelete, EntityID: id, State: StateIdle, Err: err}
	}
	defer unlock()

	p := m.begin(KindDelete, id, nil, detailTarget(id), commentsTarget(id), listTarget)
	ds, err := m.details.Snapshot(ctx, id)
	if err != nil {
		return m.abort(p, err)
	}
	cs, err := m.comments.Snapshot(ctx, id)
	if err != nil {
		return m.abort(p, err)
	}
	m.record(p, ds, cs)

	if err := m.details.Remove(ctx, id); err != nil {
		m.log.Warn("optimistic delete", Fields{"id": id, "err": err})
	}
	if err := m.comments.Remove(ctx, id); err != nil {
		m.log.Warn("optimistic delete comments", Fields{"id": id, "err": err})
	}
	m.lists.InvalidateAll(ctx)
	m.advance(p, StateSettling)

	_, err = call(ctx, m.timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.remote.DeleteTicket(ctx, id)
	})
	lctx := context.WithoutCancel(ctx)
	if err != nil {
		return m.rollback(lctx, p, err)
	}
	// reads during settling may have refetched the ticket; drop them again
	if err := m.details.Remove(lctx, id); err != nil {
		m.log.Warn("remove deleted ticket", Fields{"id": id, "err": err})
	}
	if err := m.comments.Remove(lctx, id); err != nil {
		m.log.Warn("remove deleted comments", Fields{"id": id, "err": err})
	}
	m.settle(p, StateCommitted, nil)
	return nil
}

// AddComment appends a temporary comment to the cached comment list (when
// cached), then posts it. On success the temporary comment is replaced by the
// server's, and the comment list, the ticket's detail and all lists are
// flagged stale so they refetch. On failure the comment list is restored.
func (m *Coordinator) AddComment(ctx context.Context, ticketID string, req ticket.CommentRequest) (ticket.Comment, error) {
	if err := ticket.Validate(req); err != nil {
		return ticket.Comment{}, err
	}
	unlock, err := m.locks.lock(ctx, ticketID)
	if err != nil {
		return ticket.Comment{}, &MutationError{Kind: KindComment, EntityID: ticketID, State: StateIdle, Err: err}
	}
	defer unlock()

	p := m.begin(KindComment, ticketID, req, commentsTarget(ticketID), detailTarget(ticketID), listTarget)
	snap, err := m.comments.Snapshot(ctx, ticketID)
	if err != nil {
		return ticket.Comment{}, m.abort(p, err)
	}
	m.record(p, snap)

	prev, had := m.comments.Peek(ctx, ticketID)
	if had {
		temp := ticket.Comment{
			ID:        tempCommentPrefix + uuid.NewString(),
			Content:   req.Content,
			Author:    req.Author,
			TicketID:  ticketID,
			CreatedAt: m.now(),
		}
		if err := m.comments.Set(ctx, ticketID, appendComment(prev.Value, temp)); err != nil {
			m.log.Warn("optimistic comment", Fields{"ticket": ticketID, "err": err})
		}
	}
	m.advance(p, StateSettling)

	cm, err := call(ctx, m.timeout, func(ctx context.Context) (ticket.Comment, error) {
		return m.remote.AddComment(ctx, ticketID, req)
	})
	lctx := context.WithoutCancel(ctx)
	if err != nil {
		return ticket.Comment{}, m.rollback(lctx, p, err)
	}
	if had {
		if err := m.comments.Set(lctx, ticketID, appendComment(prev.Value, cm)); err != nil {
			m.log.Warn("store comment", Fields{"ticket": ticketID, "err": err})
		}
	}
	// the list may have been read while the post was in flight
	m.comments.InvalidateKey(lctx, ticketID)
	m.details.InvalidateKey(lctx, ticketID)
	m.lists.InvalidateAll(lctx)
	m.settle(p, StateCommitted, nil)
	return cm, nil
}

// Pending returns copies of the unsettled mutations, oldest first.
func (m *Coordinator) Pending() []PendingMutation {
	m.mu.Lock()
	out := make([]PendingMutation, 0, len(m.pending))
	for _, p := range m.pending {
		out = append(out, p.clone())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (m *Coordinator) begin(kind MutationKind, entityID string, patch any, targets ...string) *PendingMutation {
	p := &PendingMutation{
		ID:         uuid.NewString(),
		Kind:       kind,
		EntityID:   entityID,
		TargetKeys: targets,
		Patch:      patch,
		State:      StateIdle,
		StartedAt:  m.now(),
	}
	m.mu.Lock()
	m.pending[p.ID] = p
	m.mu.Unlock()
	m.advance(p, StateApplying)
	return p
}

func (m *Coordinator) record(p *PendingMutation, snaps ...SnapshotEntry) {
	m.mu.Lock()
	p.Snapshot = append(p.Snapshot, snaps...)
	m.mu.Unlock()
}

func (m *Coordinator) advance(p *PendingMutation, to MutationState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !p.State.next(to) {
		m.log.Error("invalid mutation transition", Fields{"id": p.ID, "from": p.State.String(), "to": to.String()})
		return
	}
	p.State = to
}

func (m *Coordinator) settle(p *PendingMutation, to MutationState, cause error) {
	m.advance(p, to)
	m.mu.Lock()
	delete(m.pending, p.ID)
	kind, id := p.Kind, p.EntityID
	m.mu.Unlock()

	m.hooks.MutationSettled(kind, id, to, cause)
	f := Fields{"kind": string(kind), "id": id, "state": to.String()}
	if cause != nil {
		f["err"] = cause
		m.log.Warn("mutation settled", f)
		return
	}
	m.log.Debug("mutation settled", f)
}

// abort settles a mutation that failed before anything was applied.
func (m *Coordinator) abort(p *PendingMutation, cause error) error {
	m.settle(p, StateRolledBack, cause)
	return &MutationError{Kind: p.Kind, EntityID: p.EntityID, State: StateRolledBack, Err: cause}
}

// rollback restores every snapshot in reverse capture order.
func (m *Coordinator) rollback(ctx context.Context, p *PendingMutation, cause error) error {
	m.mu.Lock()
	snaps := append([]SnapshotEntry(nil), p.Snapshot...)
	m.mu.Unlock()

	var errs []error
	for i := len(snaps) - 1; i >= 0; i-- {
		if err := m.restore(ctx, snaps[i]); err != nil {
			errs = append(errs, err)
		}
	}
	m.settle(p, StateRolledBack, cause)

	err := cause
	if len(errs) > 0 {
		m.log.Error("rollback incomplete", Fields{"id": p.EntityID, "errs": len(errs)})
		err = errors.Join(append([]error{cause}, errs...)...)
	}
	return &MutationError{Kind: p.Kind, EntityID: p.EntityID, State: StateRolledBack, Err: err}
}

func (m *Coordinator) restore(ctx context.Context, s SnapshotEntry) error {
	switch s.Namespace {
	case m.details.Namespace():
		return m.details.Restore(ctx, s)
	case m.comments.Namespace():
		return m.comments.Restore(ctx, s)
	case m.lists.Namespace():
		return m.lists.Restore(ctx, s)
	default:
		return fmt.Errorf("%w: %q", ErrNamespace, s.Namespace)
	}
}

// call bounds one remote mutation by timeout. Hitting the timeout is a failure
// like any other and triggers rollback.
func call[T any](ctx context.Context, timeout time.Duration, f func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return f(ctx)
}

func appendComment(cs []ticket.Comment, c ticket.Comment) []ticket.Comment {
	out := make([]ticket.Comment, 0, len(cs)+1)
	out = append(out, cs...)
	return append(out, c)
}

const listTarget = "list:*"

func detailTarget(id string) string   { return "detail:" + id }
func commentsTarget(id string) string { return "comments:" + id }
