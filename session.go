package ticketcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	c "github.com/unkn0wn-root/ticketcache/codec"
	"github.com/unkn0wn-root/ticketcache/fingerprint"
	gen "github.com/unkn0wn-root/ticketcache/genstore"
	pr "github.com/unkn0wn-root/ticketcache/provider"
	"github.com/unkn0wn-root/ticketcache/provider/bigcache"
	"github.com/unkn0wn-root/ticketcache/ticket"
)

// Cache namespaces inside a session.
const (
	NamespaceList     = "list"
	NamespaceDetail   = "detail"
	NamespaceComments = "comments"
)

// Options configure a Session. Only Remote is required.
type Options struct {
	Remote Remote

	SessionID  string        // storage prefix; "" => random uuid
	Provider   pr.Provider   // nil => in-process bigcache; closed by Session.Close
	GenStore   gen.GenStore  // nil => LocalGenStore; closed by Session.Close
	Codec      string        // "json" (default), "cbor", "msgpack"
	MaxDecode  int           // refuse stored payloads above this size; 0 => no limit
	PageSize   int           // default list limit; 0 => 12
	StorageTTL time.Duration // provider TTL per frame; 0 => no expiry

	ListFreshness    time.Duration // 0 => 5m
	ListRetention    time.Duration // 0 => 10m
	DetailFreshness  time.Duration // 0 => 5m
	DetailRetention  time.Duration // 0 => 30m
	CommentFreshness time.Duration // 0 => 2m
	CommentRetention time.Duration // 0 => 5m

	CleanupInterval time.Duration // 0 => 1m
	DisableSweep    bool
	RetryBackoff    time.Duration // 0 => 1s
	Timeout         time.Duration // 0 => 10s; reads and mutations

	Logger Logger
	Hooks  Hooks
	Now    func() time.Time
}

// Session is the client's cache context: list, detail and comment caches plus
// the mutation coordinator over one Remote. Everything it stores is scoped to
// the session id and discarded by Close.
type Session struct {
	id       string
	remote   Remote
	fp       fingerprint.Codec
	provider pr.Provider
	gen      gen.GenStore
	log      Logger

	lists    *QueryCache[ticket.List]
	details  *QueryCache[ticket.Ticket]
	comments *QueryCache[[]ticket.Comment]
	coord    *Coordinator

	closeOnce sync.Once
}

// New builds a session. The caller must Close it.
func New(opts Options) (*Session, error) {
	if opts.Remote == nil {
		return nil, fmt.Errorf("ticketcache: remote is required")
	}
	s := &Session{
		id:     coalesce(opts.SessionID, uuid.NewString()),
		remote: opts.Remote,
		fp:     fingerprint.New(coalesce(opts.PageSize, defaultPageSize)),
		log:    coalesce[Logger](opts.Logger, NopLogger{}),
	}

	s.provider = opts.Provider
	if s.provider == nil {
		p, err := bigcache.New(context.Background(), bigcache.Config{})
		if err != nil {
			return nil, fmt.Errorf("ticketcache: default provider: %w", err)
		}
		s.provider = p
	}
	s.gen = opts.GenStore
	if s.gen == nil {
		s.gen = gen.NewLocalGenStore()
	}

	listCodec, err := c.ByName[ticket.List](opts.Codec, opts.MaxDecode)
	if err != nil {
		return nil, s.fail(err)
	}
	detailCodec, err := c.ByName[ticket.Ticket](opts.Codec, opts.MaxDecode)
	if err != nil {
		return nil, s.fail(err)
	}
	commentCodec, err := c.ByName[[]ticket.Comment](opts.Codec, opts.MaxDecode)
	if err != nil {
		return nil, s.fail(err)
	}

	s.lists, err = NewQueryCache(queryOptions(s, opts, NamespaceList, listCodec, s.loadList,
		opts.ListFreshness, coalesce(opts.ListRetention, defaultRetention)))
	if err != nil {
		return nil, s.fail(err)
	}
	s.details, err = NewQueryCache(queryOptions(s, opts, NamespaceDetail, detailCodec, s.loadTicket,
		opts.DetailFreshness, coalesce(opts.DetailRetention, defaultDetailRetention)))
	if err != nil {
		return nil, s.fail(err)
	}
	s.comments, err = NewQueryCache(queryOptions(s, opts, NamespaceComments, commentCodec, s.loadComments,
		coalesce(opts.CommentFreshness, defaultCommentFreshness), coalesce(opts.CommentRetention, defaultCommentRetention)))
	if err != nil {
		return nil, s.fail(err)
	}

	s.coord, err = NewCoordinator(CoordinatorOptions{
		Remote:   opts.Remote,
		Lists:    s.lists,
		Details:  s.details,
		Comments: s.comments,
		Timeout:  opts.Timeout,
		Logger:   opts.Logger,
		Hooks:    opts.Hooks,
		Now:      opts.Now,
	})
	if err != nil {
		return nil, s.fail(err)
	}
	s.log.Info("session started", Fields{"session": s.id, "pageSize": s.fp.DefaultLimit()})
	return s, nil
}

func queryOptions[V any](s *Session, opts Options, ns string, codec c.Codec[V], load LoadFunc[V], freshness, retention time.Duration) QueryOptions[V] {
	return QueryOptions[V]{
		Namespace:       s.id + ":" + ns,
		Provider:        s.provider,
		Codec:           codec,
		Load:            load,
		Freshness:       freshness,
		Retention:       retention,
		StorageTTL:      opts.StorageTTL,
		CleanupInterval: opts.CleanupInterval,
		DisableSweep:    opts.DisableSweep,
		RetryBackoff:    opts.RetryBackoff,
		Timeout:         opts.Timeout,
		Logger:          opts.Logger,
		Hooks:           opts.Hooks,
		GenStore:        s.gen,
		Now:             opts.Now,
		LeaveOpen:       true,
	}
}

// fail releases whatever New built before err.
func (s *Session) fail(err error) error {
	_ = s.Close(context.Background())
	return err
}

func (s *Session) ID() string { return s.id }

// Filters returns the fingerprint codec used for list keys.
func (s *Session) Filters() fingerprint.Codec { return s.fp }

func (s *Session) Lists() *QueryCache[ticket.List]             { return s.lists }
func (s *Session) Details() *QueryCache[ticket.Ticket]         { return s.details }
func (s *Session) CommentCache() *QueryCache[[]ticket.Comment] { return s.comments }
func (s *Session) Coordinator() *Coordinator                   { return s.coord }

func (s *Session) loadList(ctx context.Context, key string) (ticket.List, error) {
	spec, err := s.fp.Decode(fingerprint.Fingerprint(key))
	if err != nil {
		return ticket.List{}, err
	}
	q, err := s.fp.QueryString(spec)
	if err != nil {
		return ticket.List{}, err
	}
	return s.remote.ListTickets(ctx, q)
}

func (s *Session) loadTicket(ctx context.Context, id string) (ticket.Ticket, error) {
	return s.remote.GetTicket(ctx, id)
}

func (s *Session) loadComments(ctx context.Context, ticketID string) ([]ticket.Comment, error) {
	return s.remote.ListComments(ctx, ticketID)
}

// Tickets returns the list page selected by spec, from cache when present.
// An invalid spec fails with *ticket.ValidationError and touches nothing.
func (s *Session) Tickets(ctx context.Context, spec fingerprint.FilterSpec) (Lookup[ticket.List], error) {
	fp, err := s.fp.Encode(spec)
	if err != nil {
		return Lookup[ticket.List]{}, err
	}
	return s.lists.Query(ctx, string(fp))
}

// LookupTickets returns the cached page without a remote call, scheduling a
// background refetch when it is stale.
func (s *Session) LookupTickets(ctx context.Context, spec fingerprint.FilterSpec) (Lookup[ticket.List], bool, error) {
	fp, err := s.fp.Encode(spec)
	if err != nil {
		return Lookup[ticket.List]{}, false, err
	}
	lk, ok := s.lists.Get(ctx, string(fp))
	return lk, ok, nil
}

// FetchTickets always asks the remote store (sharing an in-flight request).
func (s *Session) FetchTickets(ctx context.Context, spec fingerprint.FilterSpec) (ticket.List, error) {
	fp, err := s.fp.Encode(spec)
	if err != nil {
		return ticket.List{}, err
	}
	return s.lists.Fetch(ctx, string(fp))
}

// InvalidateTickets flags the cached pages whose filter matches pred.
func (s *Session) InvalidateTickets(ctx context.Context, pred func(fingerprint.FilterSpec) bool) int {
	return s.lists.Invalidate(ctx, func(key string) bool {
		spec, err := s.fp.Decode(fingerprint.Fingerprint(key))
		return err != nil || pred(spec)
	})
}

func (s *Session) Ticket(ctx context.Context, id string) (Lookup[ticket.Ticket], error) {
	return s.details.Query(ctx, id)
}

func (s *Session) LookupTicket(ctx context.Context, id string) (Lookup[ticket.Ticket], bool) {
	return s.details.Get(ctx, id)
}

func (s *Session) FetchTicket(ctx context.Context, id string) (ticket.Ticket, error) {
	return s.details.Fetch(ctx, id)
}

// Comments returns all comments of a ticket, oldest first.
func (s *Session) Comments(ctx context.Context, ticketID string) (Lookup[[]ticket.Comment], error) {
	return s.comments.Query(ctx, ticketID)
}

// WatchTickets subscribes l to the page selected by spec. The page is kept
// while watched.
func (s *Session) WatchTickets(spec fingerprint.FilterSpec, l Listener) (cancel func(), err error) {
	fp, err := s.fp.Encode(spec)
	if err != nil {
		return nil, err
	}
	return s.lists.Subscribe(string(fp), l), nil
}

// WatchTicket subscribes l to a ticket's detail entry.
func (s *Session) WatchTicket(id string, l Listener) (cancel func()) {
	return s.details.Subscribe(id, l)
}

func (s *Session) CreateTicket(ctx context.Context, req ticket.CreateRequest) (ticket.Ticket, error) {
	return s.coord.CreateTicket(ctx, req)
}

func (s *Session) UpdateTicket(ctx context.Context, id string, u ticket.UpdateRequest) (ticket.Ticket, error) {
	return s.coord.UpdateTicket(ctx, id, u)
}

func (s *Session) DeleteTicket(ctx context.Context, id string) error {
	return s.coord.DeleteTicket(ctx, id)
}

func (s *Session) AddComment(ctx context.Context, ticketID string, req ticket.CommentRequest) (ticket.Comment, error) {
	return s.coord.AddComment(ctx, ticketID, req)
}

// Pending returns the unsettled mutations.
func (s *Session) Pending() []PendingMutation { return s.coord.Pending() }

// Evict runs one eviction pass over all caches.
func (s *Session) Evict(ctx context.Context) int {
	return s.lists.Evict(ctx) + s.details.Evict(ctx) + s.comments.Evict(ctx)
}

// Close discards every cached entry of the session and releases the provider
// and generation store. Repeated calls are no-ops.
func (s *Session) Close(ctx context.Context) error {
	var errs []error
	s.closeOnce.Do(func() {
		if s.lists != nil {
			errs = append(errs, s.lists.Close(ctx))
		}
		if s.details != nil {
			errs = append(errs, s.details.Close(ctx))
		}
		if s.comments != nil {
			errs = append(errs, s.comments.Close(ctx))
		}
		if s.gen != nil {
			errs = append(errs, s.gen.Close(ctx))
		}
		if s.provider != nil {
			errs = append(errs, s.provider.Close(ctx))
		}
		s.log.Info("session closed", Fields{"session": s.id})
	})
	return errors.Join(errs...)
}
