package ticketcache

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/ticketcache/fingerprint"
	"github.com/unkn0wn-root/ticketcache/internal/devserver"
	"github.com/unkn0wn-root/ticketcache/remote"
	"github.com/unkn0wn-root/ticketcache/ticket"
)

func TestNewRequiresRemote(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error without remote")
	}
	if _, err := New(Options{Remote: newFakeRemote(nil), Provider: newMemProvider(), Codec: "yaml"}); err == nil {
		t.Fatalf("expected error for unknown codec")
	}
}

// Ten views ask for the same filtered page at once; one request goes out.
func TestConcurrentListReadsShareOneRequest(t *testing.T) {
	ctx := context.Background()
	r := newFakeRemote(nil)
	for i := 0; i < 5; i++ {
		seedTicket(r, "high", ticket.PriorityHigh)
	}
	seedTicket(r, "low", ticket.PriorityLow)
	s := newTestSession(t, r, newMemProvider(), nil)
	release := r.hold(opList)

	spec := fingerprint.FilterSpec{Status: ticket.StatusOpen, Priority: ticket.PriorityHigh, SortOrder: fingerprint.Desc}
	const n = 10
	var wg sync.WaitGroup
	results := make([]ticket.List, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.FetchTickets(ctx, spec)
		}(i)
	}
	r.waitStarted(t, opList)
	time.Sleep(20 * time.Millisecond)
	release()
	wg.Wait()

	if c := r.count(opList); c != 1 {
		t.Fatalf("expected one remote list call, got %d", c)
	}
	for i := range results {
		if errs[i] != nil || len(results[i].Tickets) != 5 {
			t.Fatalf("reader %d: %d tickets err=%v", i, len(results[i].Tickets), errs[i])
		}
	}
}

func TestEquivalentFiltersShareEntry(t *testing.T) {
	ctx := context.Background()
	r := newFakeRemote(nil)
	seedTicket(r, "one", ticket.PriorityLow)
	s := newTestSession(t, r, newMemProvider(), nil)

	if _, err := s.Tickets(ctx, fingerprint.FilterSpec{}); err != nil {
		t.Fatalf("Tickets: %v", err)
	}
	explicit := fingerprint.FilterSpec{Page: 1, Limit: 12, SortBy: fingerprint.SortCreatedAt, SortOrder: fingerprint.Desc, Search: "  "}
	lk, err := s.Tickets(ctx, explicit)
	if err != nil || len(lk.Value.Tickets) != 1 {
		t.Fatalf("Tickets explicit: %+v err=%v", lk, err)
	}
	if c := r.count(opList); c != 1 {
		t.Fatalf("equivalent filters must hit one entry, calls=%d", c)
	}
	if keys := s.Lists().Keys(); len(keys) != 1 || keys[0] != "" {
		t.Fatalf("list keys: %q", keys)
	}
}

func TestInvalidFilterTouchesNothing(t *testing.T) {
	ctx := context.Background()
	r := newFakeRemote(nil)
	s := newTestSession(t, r, newMemProvider(), nil)

	_, err := s.Tickets(ctx, fingerprint.FilterSpec{Limit: 500})
	if !errors.Is(err, ticket.ErrValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
	if _, _, err := s.LookupTickets(ctx, fingerprint.FilterSpec{Page: -1}); err == nil {
		t.Fatalf("LookupTickets accepted a negative page")
	}
	if r.count(opList) != 0 || len(s.Lists().Keys()) != 0 {
		t.Fatalf("invalid filter reached the cache or remote")
	}
}

func TestInvalidateTicketsByFilter(t *testing.T) {
	ctx := context.Background()
	r := newFakeRemote(nil)
	seedTicket(r, "a", ticket.PriorityHigh)
	s := newTestSession(t, r, newMemProvider(), nil)

	high := fingerprint.FilterSpec{Priority: ticket.PriorityHigh}
	low := fingerprint.FilterSpec{Priority: ticket.PriorityLow}
	for _, spec := range []fingerprint.FilterSpec{high, low} {
		if _, err := s.Tickets(ctx, spec); err != nil {
			t.Fatalf("Tickets: %v", err)
		}
	}
	n := s.InvalidateTickets(ctx, func(f fingerprint.FilterSpec) bool { return f.Priority == ticket.PriorityHigh })
	if n != 1 {
		t.Fatalf("invalidated %d pages, want 1", n)
	}
	if lk, _ := s.Lists().Peek(ctx, string(s.Filters().MustEncode(high))); !lk.Stale {
		t.Fatalf("high page not stale")
	}
	if lk, _ := s.Lists().Peek(ctx, string(s.Filters().MustEncode(low))); lk.Stale {
		t.Fatalf("low page should be untouched")
	}
}

func TestListLoadSendsExplicitQuery(t *testing.T) {
	var got []string
	var mu sync.Mutex
	r := &queryRecorder{fakeRemote: newFakeRemote(nil), record: func(q string) {
		mu.Lock()
		got = append(got, q)
		mu.Unlock()
	}}
	s := newTestSession(t, r, newMemProvider(), nil)
	if _, err := s.FetchTickets(context.Background(), fingerprint.FilterSpec{Search: "vpn"}); err != nil {
		t.Fatalf("FetchTickets: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "limit=12&page=1&search=vpn&sortBy=createdAt&sortOrder=desc" {
		t.Fatalf("query sent: %q", got)
	}
}

type queryRecorder struct {
	*fakeRemote
	record func(string)
}

func (r *queryRecorder) ListTickets(ctx context.Context, rawQuery string) (ticket.List, error) {
	r.record(rawQuery)
	return r.fakeRemote.ListTickets(ctx, rawQuery)
}

func TestWatchKeepsEntryAcrossEviction(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	r := newFakeRemote(nil)
	tk := seedTicket(r, "watched", ticket.PriorityLow)
	mp := newMemProvider()
	s := newTestSession(t, r, mp, clk)

	events := make(chan Event, 8)
	cancel := s.WatchTicket(tk.ID, ListenerFunc(func(e Event) { events <- e }))
	if _, err := s.Ticket(ctx, tk.ID); err != nil {
		t.Fatalf("Ticket: %v", err)
	}
	if _, err := s.Tickets(ctx, fingerprint.FilterSpec{}); err != nil {
		t.Fatalf("Tickets: %v", err)
	}
	if e := <-events; e.Kind != EventFetched || e.Key != tk.ID {
		t.Fatalf("event: %+v", e)
	}

	clk.Advance(time.Hour)
	if n := s.Evict(ctx); n != 1 {
		t.Fatalf("only the unwatched list page should go, evicted %d", n)
	}
	if _, ok := s.LookupTicket(ctx, tk.ID); !ok {
		t.Fatalf("watched detail evicted")
	}
	cancel()
	clk.Advance(time.Hour)
	if n := s.Evict(ctx); n != 1 {
		t.Fatalf("detail should go once unwatched, evicted %d", n)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	r := newFakeRemote(nil)
	tk := seedTicket(r, "shared", ticket.PriorityLow)

	a, err := New(Options{Remote: r, SessionID: "a", Provider: mp, DisableSweep: true})
	if err != nil {
		t.Fatalf("New a: %v", err)
	}
	b, err := New(Options{Remote: r, SessionID: "b", Provider: mp, DisableSweep: true})
	if err != nil {
		t.Fatalf("New b: %v", err)
	}
	defer b.Close(ctx)

	if _, err := a.Ticket(ctx, tk.ID); err != nil {
		t.Fatalf("Ticket: %v", err)
	}
	if _, ok := b.LookupTicket(ctx, tk.ID); ok {
		t.Fatalf("session b sees session a's entry")
	}
	if _, err := b.Ticket(ctx, tk.ID); err != nil {
		t.Fatalf("Ticket: %v", err)
	}
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := b.LookupTicket(ctx, tk.ID); !ok {
		t.Fatalf("closing session a discarded session b's entry")
	}
	if err := a.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := a.FetchTicket(ctx, tk.ID); !errors.Is(err, ErrClosed) {
		t.Fatalf("FetchTicket after Close: %v", err)
	}
}

func TestSessionCloseDiscardsEverything(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	r := newFakeRemote(nil)
	tk := seedTicket(r, "x", ticket.PriorityLow)
	s, err := New(Options{Remote: r, Provider: mp, DisableSweep: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.ID() == "" {
		t.Fatalf("session id not generated")
	}
	if _, err := s.Ticket(ctx, tk.ID); err != nil {
		t.Fatalf("Ticket: %v", err)
	}
	if _, err := s.Comments(ctx, tk.ID); err != nil {
		t.Fatalf("Comments: %v", err)
	}
	if mp.len() != 2 {
		t.Fatalf("provider entries: %d", mp.len())
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if mp.len() != 0 || mp.closed != 1 {
		t.Fatalf("after close: entries=%d closed=%d", mp.len(), mp.closed)
	}
}

func TestSessionCodecs(t *testing.T) {
	for _, name := range []string{"json", "cbor", "msgpack"} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r := newFakeRemote(nil)
			tk := seedTicket(r, "codec", ticket.PriorityCritical)
			r.store.AddComment(tk.ID, ticket.CommentRequest{Content: "c", Author: "a"})
			s, err := New(Options{Remote: r, Provider: newMemProvider(), Codec: name, DisableSweep: true})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			defer s.Close(ctx)

			if _, err := s.Ticket(ctx, tk.ID); err != nil {
				t.Fatalf("Ticket: %v", err)
			}
			lk, ok := s.LookupTicket(ctx, tk.ID)
			if !ok || lk.Value.Title != "codec" || lk.Value.Priority != ticket.PriorityCritical || len(lk.Value.Comments) != 1 {
				t.Fatalf("decoded: %+v ok=%v", lk.Value, ok)
			}
			if !lk.Value.CreatedAt.Equal(tk.CreatedAt) {
				t.Fatalf("createdAt: %v vs %v", lk.Value.CreatedAt, tk.CreatedAt)
			}
		})
	}
}

// End to end: REST client against the dev server with the default in-process
// provider.
func TestSessionAgainstDevServer(t *testing.T) {
	ctx := context.Background()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := devserver.New(devserver.Config{})
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	client, err := remote.New(remote.Config{BaseURL: "http://" + ln.Addr().String() + "/api"})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	waitFor(t, "dev server", func() bool { return client.Health(ctx) == nil })

	s, err := New(Options{Remote: client, DisableSweep: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close(ctx)

	created, err := s.CreateTicket(ctx, ticket.CreateRequest{Title: "Projector", Description: "No signal", User: "dana", Priority: ticket.PriorityHigh})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	if !strings.HasPrefix(created.TicketNumber, "TKT-") {
		t.Fatalf("ticket number: %q", created.TicketNumber)
	}

	open := fingerprint.FilterSpec{Status: ticket.StatusOpen}
	lk, err := s.Tickets(ctx, open)
	if err != nil || !lk.Value.Contains(created.ID) || lk.Value.Pagination.Limit != 12 {
		t.Fatalf("open list: %+v err=%v", lk.Value, err)
	}

	if _, err := s.AddComment(ctx, created.ID, ticket.CommentRequest{Content: "HDMI replaced", Author: "eve"}); err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	updated, err := s.UpdateTicket(ctx, created.ID, ticket.UpdateRequest{Status: ticket.Ptr(ticket.StatusResolved)})
	if err != nil || updated.Status != ticket.StatusResolved {
		t.Fatalf("UpdateTicket: %+v err=%v", updated, err)
	}
	got, err := s.FetchTicket(ctx, created.ID)
	if err != nil || len(got.Comments) != 1 || got.Status != ticket.StatusResolved {
		t.Fatalf("FetchTicket: %+v err=%v", got, err)
	}
	list, err := s.FetchTickets(ctx, open)
	if err != nil || list.Contains(created.ID) {
		t.Fatalf("resolved ticket still listed as open: %+v err=%v", list, err)
	}

	_, err = s.UpdateTicket(ctx, "missing", ticket.UpdateRequest{Title: ticket.Ptr("x")})
	if !errors.Is(err, remote.ErrNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
	if err := s.DeleteTicket(ctx, created.ID); err != nil {
		t.Fatalf("DeleteTicket: %v", err)
	}
	if _, ok := s.LookupTicket(ctx, created.ID); ok {
		t.Fatalf("deleted ticket still cached")
	}
}
