package ticketcache

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/ticketcache/fingerprint"
	"github.com/unkn0wn-root/ticketcache/internal/devserver"
	"github.com/unkn0wn-root/ticketcache/remote"
	"github.com/unkn0wn-root/ticketcache/ticket"
)

// Operation names used by fakeRemote for counting, failing and gating.
const (
	opList     = "list"
	opGet      = "get"
	opCreate   = "create"
	opUpdate   = "update"
	opDelete   = "delete"
	opComments = "comments"
	opComment  = "comment"
)

// fakeRemote serves the Remote interface from a devserver.Store. Every
// operation can be made to fail or to block on a gate.
type fakeRemote struct {
	store *devserver.Store
	fp    fingerprint.Codec

	mu      sync.Mutex
	calls   map[string]int
	fail    map[string]error
	gates   map[string]chan struct{}
	started chan string
}

var _ Remote = (*fakeRemote)(nil)

func newFakeRemote(now func() time.Time) *fakeRemote {
	return &fakeRemote{
		store:   devserver.NewStore(now),
		fp:      fingerprint.New(fingerprint.ServerDefaultLimit),
		calls:   make(map[string]int),
		fail:    make(map[string]error),
		gates:   make(map[string]chan struct{}),
		started: make(chan string, 128),
	}
}

func (r *fakeRemote) failWith(op string, err error) {
	r.mu.Lock()
	r.fail[op] = err
	r.mu.Unlock()
}

// hold blocks op until the returned release is called.
func (r *fakeRemote) hold(op string) (release func()) {
	ch := make(chan struct{})
	r.mu.Lock()
	r.gates[op] = ch
	r.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (r *fakeRemote) count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

// waitStarted blocks until op was entered once more.
func (r *fakeRemote) waitStarted(t *testing.T, op string) {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case got := <-r.started:
			if got == op {
				return
			}
		case <-timeout:
			t.Fatalf("remote %s never started", op)
		}
	}
}

func (r *fakeRemote) enter(ctx context.Context, op string) error {
	r.mu.Lock()
	r.calls[op]++
	err := r.fail[op]
	gate := r.gates[op]
	r.mu.Unlock()

	select {
	case r.started <- op:
	default:
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func notFoundErr(method, path string) error {
	return &remote.Error{Method: method, Path: path, Status: http.StatusNotFound, Code: "Not Found", Message: "Ticket not found"}
}

func (r *fakeRemote) ListTickets(ctx context.Context, rawQuery string) (ticket.List, error) {
	if err := r.enter(ctx, opList); err != nil {
		return ticket.List{}, err
	}
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return ticket.List{}, err
	}
	spec, err := r.fp.Parse(q)
	if err != nil {
		return ticket.List{}, &remote.Error{Method: http.MethodGet, Path: "/tickets", Status: http.StatusBadRequest, Code: "Validation Error"}
	}
	return r.store.List(spec), nil
}

func (r *fakeRemote) GetTicket(ctx context.Context, id string) (ticket.Ticket, error) {
	if err := r.enter(ctx, opGet); err != nil {
		return ticket.Ticket{}, err
	}
	t, ok := r.store.Get(id)
	if !ok {
		return ticket.Ticket{}, notFoundErr(http.MethodGet, "/tickets/"+id)
	}
	return t, nil
}

func (r *fakeRemote) CreateTicket(ctx context.Context, req ticket.CreateRequest) (ticket.Ticket, error) {
	if err := r.enter(ctx, opCreate); err != nil {
		return ticket.Ticket{}, err
	}
	return r.store.Create(req), nil
}

func (r *fakeRemote) UpdateTicket(ctx context.Context, id string, req ticket.UpdateRequest) (ticket.Ticket, error) {
	if err := r.enter(ctx, opUpdate); err != nil {
		return ticket.Ticket{}, err
	}
	t, ok := r.store.Update(id, req)
	if !ok {
		return ticket.Ticket{}, notFoundErr(http.MethodPut, "/tickets/"+id)
	}
	return t, nil
}

func (r *fakeRemote) DeleteTicket(ctx context.Context, id string) error {
	if err := r.enter(ctx, opDelete); err != nil {
		return err
	}
	if !r.store.Delete(id) {
		return notFoundErr(http.MethodDelete, "/tickets/"+id)
	}
	return nil
}

func (r *fakeRemote) ListComments(ctx context.Context, ticketID string) ([]ticket.Comment, error) {
	if err := r.enter(ctx, opComments); err != nil {
		return nil, err
	}
	cs, ok := r.store.Comments(ticketID)
	if !ok {
		return nil, notFoundErr(http.MethodGet, "/tickets/"+ticketID+"/comments")
	}
	return cs, nil
}

func (r *fakeRemote) AddComment(ctx context.Context, ticketID string, req ticket.CommentRequest) (ticket.Comment, error) {
	if err := r.enter(ctx, opComment); err != nil {
		return ticket.Comment{}, err
	}
	c, ok := r.store.AddComment(ticketID, req)
	if !ok {
		return ticket.Comment{}, notFoundErr(http.MethodPost, "/tickets/"+ticketID+"/comments")
	}
	return c, nil
}

// newTestSession builds a session over r on an in-memory provider with the
// sweep disabled.
func newTestSession(t *testing.T, r Remote, mp *memProvider, clk *fakeClock) *Session {
	t.Helper()
	return newTestSessionWith(t, r, mp, clk, nil)
}

// newTestSessionWith is newTestSession with a final say over the options.
func newTestSessionWith(t *testing.T, r Remote, mp *memProvider, clk *fakeClock, optsOpt func(*Options)) *Session {
	t.Helper()
	opts := Options{
		Remote:       r,
		SessionID:    "test",
		Provider:     mp,
		DisableSweep: true,
		RetryBackoff: time.Millisecond,
		Timeout:      2 * time.Second,
	}
	if clk != nil {
		opts.Now = clk.Now
	}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func seedTicket(r *fakeRemote, title string, p ticket.Priority) ticket.Ticket {
	return r.store.Create(ticket.CreateRequest{Title: title, Description: title + " description", User: "alice", Priority: p})
}
