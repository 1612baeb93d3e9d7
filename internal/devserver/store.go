package devserver

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/ticketcache/fingerprint"
	"github.com/unkn0wn-root/ticketcache/ticket"
)

// listComments is how many of the newest comments a list response carries.
const listComments = 3

// Store is the in-memory ticket table behind the dev server.
type Store struct {
	mu       sync.RWMutex
	tickets  map[string]ticket.Ticket // without comments
	comments map[string][]ticket.Comment
	seq      int
	now      func() time.Time
}

func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		tickets:  make(map[string]ticket.Ticket),
		comments: make(map[string][]ticket.Comment),
		now:      now,
	}
}

// List returns the page selected by a normalized spec.
func (s *Store) List(spec fingerprint.FilterSpec) ticket.List {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(spec.Search)
	matched := make([]ticket.Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		if spec.Status != "" && t.Status != spec.Status {
			continue
		}
		if spec.Priority != "" && t.Priority != spec.Priority {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(t.Title), search) &&
			!strings.Contains(strings.ToLower(t.Description), search) &&
			!strings.Contains(strings.ToLower(t.User), search) {
			continue
		}
		matched = append(matched, t)
	}

	less := lessBy(spec.SortBy)
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if spec.SortOrder == fingerprint.Asc {
			return less(a, b)
		}
		return less(b, a)
	})

	total := len(matched)
	pages := (total + spec.Limit - 1) / spec.Limit
	from := (spec.Page - 1) * spec.Limit
	if from > total {
		from = total
	}
	to := from + spec.Limit
	if to > total {
		to = total
	}

	page := make([]ticket.Ticket, 0, to-from)
	for _, t := range matched[from:to] {
		t.Comments = s.latestComments(t.ID)
		page = append(page, t)
	}
	return ticket.List{
		Tickets:    page,
		Pagination: ticket.Pagination{Page: spec.Page, Limit: spec.Limit, Total: total, Pages: pages},
	}
}

// lessBy orders by the sort field, breaking ties by creation then id so pages
// are stable.
func lessBy(f fingerprint.SortField) func(a, b ticket.Ticket) bool {
	tie := func(a, b ticket.Ticket) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	}
	switch f {
	case fingerprint.SortUpdatedAt:
		return func(a, b ticket.Ticket) bool {
			if !a.UpdatedAt.Equal(b.UpdatedAt) {
				return a.UpdatedAt.Before(b.UpdatedAt)
			}
			return tie(a, b)
		}
	case fingerprint.SortTitle:
		return func(a, b ticket.Ticket) bool {
			if a.Title != b.Title {
				return a.Title < b.Title
			}
			return tie(a, b)
		}
	case fingerprint.SortStatus:
		return func(a, b ticket.Ticket) bool {
			if ra, rb := rank(ticket.Statuses, a.Status), rank(ticket.Statuses, b.Status); ra != rb {
				return ra < rb
			}
			return tie(a, b)
		}
	case fingerprint.SortPriority:
		return func(a, b ticket.Ticket) bool {
			if ra, rb := rank(ticket.Priorities, a.Priority), rank(ticket.Priorities, b.Priority); ra != rb {
				return ra < rb
			}
			return tie(a, b)
		}
	default:
		return tie
	}
}

func rank[T comparable](order []T, v T) int {
	for i, o := range order {
		if o == v {
			return i
		}
	}
	return len(order)
}

// latestComments returns up to three newest comments, newest first. Caller
// holds mu.
func (s *Store) latestComments(id string) []ticket.Comment {
	cs := s.comments[id]
	n := len(cs)
	if n == 0 {
		return nil
	}
	out := make([]ticket.Comment, 0, listComments)
	for i := n - 1; i >= 0 && len(out) < listComments; i-- {
		out = append(out, cs[i])
	}
	return out
}

// Get returns a ticket with all comments, oldest first.
func (s *Store) Get(id string) (ticket.Ticket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	if !ok {
		return ticket.Ticket{}, false
	}
	t.Comments = append([]ticket.Comment(nil), s.comments[id]...)
	return t, true
}

func (s *Store) Create(req ticket.CreateRequest) ticket.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	now := s.now()
	t := ticket.Ticket{
		ID:           uuid.NewString(),
		TicketNumber: fmt.Sprintf("TKT-%06d", s.seq),
		Title:        req.Title,
		Description:  req.Description,
		User:         req.User,
		Status:       ticket.StatusOpen,
		Priority:     req.Priority,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if t.Priority == "" {
		t.Priority = ticket.PriorityMedium
	}
	s.tickets[t.ID] = t
	return t
}

func (s *Store) Update(id string, u ticket.UpdateRequest) (ticket.Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return ticket.Ticket{}, false
	}
	t = t.Apply(u, s.now())
	s.tickets[id] = t
	t.Comments = append([]ticket.Comment(nil), s.comments[id]...)
	return t, true
}

// Delete removes a ticket and its comments.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[id]; !ok {
		return false
	}
	delete(s.tickets, id)
	delete(s.comments, id)
	return true
}

func (s *Store) Comments(id string) ([]ticket.Comment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.tickets[id]; !ok {
		return nil, false
	}
	return append([]ticket.Comment{}, s.comments[id]...), true
}

func (s *Store) AddComment(id string, req ticket.CommentRequest) (ticket.Comment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[id]; !ok {
		return ticket.Comment{}, false
	}
	c := ticket.Comment{
		ID:        uuid.NewString(),
		Content:   req.Content,
		Author:    req.Author,
		TicketID:  id,
		CreatedAt: s.now(),
	}
	s.comments[id] = append(s.comments[id], c)
	return c, true
}

// Len returns the number of tickets.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tickets)
}
