// Package fingerprint maps ticket list filters to canonical cache keys and
// remote query strings.
//
// Two FilterSpecs that select the same page of the same query encode to the same
// Fingerprint regardless of how they were built: defaults are applied, fields
// equal to their default are dropped, and the remaining keys are sorted before
// joining them as key=value pairs.
//
//	c := fingerprint.New(12)
//	fp, err := c.Encode(fingerprint.FilterSpec{Status: ticket.StatusOpen, Page: 1})
//	// fp == "status=OPEN"
package fingerprint

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/unkn0wn-root/ticketcache/ticket"
)

// Bounds and defaults shared with the remote store.
const (
	MinPage            = 1
	MinLimit           = 1
	MaxLimit           = 100
	ServerDefaultLimit = 10
)

// Wire names of the FilterSpec fields.
const (
	keyLimit     = "limit"
	keyPage      = "page"
	keyPriority  = "priority"
	keySearch    = "search"
	keySortBy    = "sortBy"
	keySortOrder = "sortOrder"
	keyStatus    = "status"
)

// SortField is a ticket attribute a list can be ordered by.
type SortField string

const (
	SortCreatedAt SortField = "createdAt"
	SortUpdatedAt SortField = "updatedAt"
	SortTitle     SortField = "title"
	SortStatus    SortField = "status"
	SortPriority  SortField = "priority"
)

func (f SortField) Valid() bool {
	switch f {
	case SortCreatedAt, SortUpdatedAt, SortTitle, SortStatus, SortPriority:
		return true
	}
	return false
}

// SortOrder is the direction of a list ordering.
type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

func (o SortOrder) Valid() bool { return o == Asc || o == Desc }

// FilterSpec selects one page of the ticket list. Zero values mean "absent" and
// are replaced by defaults during normalization.
type FilterSpec struct {
	Page      int
	Limit     int
	SortBy    SortField
	SortOrder SortOrder
	Status    ticket.Status
	Priority  ticket.Priority
	Search    string
}

// Fingerprint is the canonical cache key of a normalized FilterSpec.
type Fingerprint string

func (f Fingerprint) String() string { return string(f) }

// Codec encodes FilterSpecs for one UI surface. Surfaces differ only in their
// default page size.
type Codec struct {
	defaultLimit int
}

// New returns a Codec whose default page size is defaultLimit. Values outside
// [MinLimit, MaxLimit] fall back to ServerDefaultLimit.
func New(defaultLimit int) Codec {
	if defaultLimit < MinLimit || defaultLimit > MaxLimit {
		defaultLimit = ServerDefaultLimit
	}
	return Codec{defaultLimit: defaultLimit}
}

// DefaultLimit is the page size applied when a FilterSpec leaves Limit unset.
func (c Codec) DefaultLimit() int {
	if c.defaultLimit == 0 {
		return ServerDefaultLimit
	}
	return c.defaultLimit
}

// Defaults returns the FilterSpec every absent field is filled from.
func (c Codec) Defaults() FilterSpec {
	return FilterSpec{Page: MinPage, Limit: c.DefaultLimit(), SortBy: SortCreatedAt, SortOrder: Desc}
}

// Normalize fills absent fields with defaults, trims Search and validates every
// field. Out-of-range values are rejected, never clamped.
func (c Codec) Normalize(s FilterSpec) (FilterSpec, error) {
	d := c.Defaults()
	verr := &ticket.ValidationError{}

	switch {
	case s.Page == 0:
		s.Page = d.Page
	case s.Page < MinPage:
		verr.Add(keyPage, "must be >= %d, got %d", MinPage, s.Page)
	}
	switch {
	case s.Limit == 0:
		s.Limit = d.Limit
	case s.Limit < MinLimit || s.Limit > MaxLimit:
		verr.Add(keyLimit, "must be in [%d,%d], got %d", MinLimit, MaxLimit, s.Limit)
	}
	if s.SortBy == "" {
		s.SortBy = d.SortBy
	} else if !s.SortBy.Valid() {
		verr.Add(keySortBy, "unknown sort field %q", s.SortBy)
	}
	if s.SortOrder == "" {
		s.SortOrder = d.SortOrder
	} else if !s.SortOrder.Valid() {
		verr.Add(keySortOrder, "must be asc or desc, got %q", s.SortOrder)
	}
	if s.Status != "" && !s.Status.Valid() {
		verr.Add(keyStatus, "unknown status %q", s.Status)
	}
	if s.Priority != "" && !s.Priority.Valid() {
		verr.Add(keyPriority, "unknown priority %q", s.Priority)
	}
	s.Search = strings.TrimSpace(s.Search)

	if err := verr.Err(); err != nil {
		return FilterSpec{}, err
	}
	return s, nil
}

// Encode returns the canonical Fingerprint of s. The all-defaults spec encodes
// to the empty Fingerprint.
func (c Codec) Encode(s FilterSpec) (Fingerprint, error) {
	n, err := c.Normalize(s)
	if err != nil {
		return "", err
	}
	return Fingerprint(c.values(n, false).Encode()), nil
}

// MustEncode is like Encode but panics on invalid input. Intended for tests and
// package-level literals.
func (c Codec) MustEncode(s FilterSpec) Fingerprint {
	fp, err := c.Encode(s)
	if err != nil {
		panic(err)
	}
	return fp
}

// QueryString renders s as the query string sent to GET /tickets. Page, limit
// and ordering are always explicit so the server never applies its own
// defaults; keys are sorted.
func (c Codec) QueryString(s FilterSpec) (string, error) {
	n, err := c.Normalize(s)
	if err != nil {
		return "", err
	}
	return c.values(n, true).Encode(), nil
}

// Decode is the inverse of Encode on Encode's output. Strings Encode could not
// have produced (unknown keys, default-valued keys, non-canonical order or
// escaping) are rejected.
func (c Codec) Decode(fp Fingerprint) (FilterSpec, error) {
	q, err := url.ParseQuery(string(fp))
	if err != nil {
		verr := &ticket.ValidationError{}
		verr.Add("fingerprint", "malformed: %v", err)
		return FilterSpec{}, verr
	}
	for k := range q {
		if !knownKey(k) {
			verr := &ticket.ValidationError{}
			verr.Add("fingerprint", "unknown key %q", k)
			return FilterSpec{}, verr
		}
	}
	s, err := c.Parse(q)
	if err != nil {
		return FilterSpec{}, err
	}
	if canon := Fingerprint(c.values(s, false).Encode()); canon != fp {
		verr := &ticket.ValidationError{}
		verr.Add("fingerprint", "not canonical: %q (want %q)", fp, canon)
		return FilterSpec{}, verr
	}
	return s, nil
}

// Parse builds a normalized FilterSpec from query parameters, coercing page and
// limit from strings. Unknown keys are ignored; empty values count as absent.
func (c Codec) Parse(q url.Values) (FilterSpec, error) {
	var s FilterSpec
	verr := &ticket.ValidationError{}

	if v := strings.TrimSpace(q.Get(keyPage)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < MinPage {
			verr.Add(keyPage, "must be an integer >= %d, got %q", MinPage, v)
		} else {
			s.Page = n
		}
	}
	if v := strings.TrimSpace(q.Get(keyLimit)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < MinLimit || n > MaxLimit {
			verr.Add(keyLimit, "must be an integer in [%d,%d], got %q", MinLimit, MaxLimit, v)
		} else {
			s.Limit = n
		}
	}
	s.SortBy = SortField(q.Get(keySortBy))
	s.SortOrder = SortOrder(q.Get(keySortOrder))
	s.Status = ticket.Status(q.Get(keyStatus))
	s.Priority = ticket.Priority(q.Get(keyPriority))
	s.Search = q.Get(keySearch)

	if err := verr.Err(); err != nil {
		return FilterSpec{}, err
	}
	return c.Normalize(s)
}

// values renders a normalized spec. With explicit=false fields equal to their
// default are dropped.
func (c Codec) values(n FilterSpec, explicit bool) url.Values {
	d := c.Defaults()
	q := url.Values{}
	if explicit || n.Page != d.Page {
		q.Set(keyPage, strconv.Itoa(n.Page))
	}
	if explicit || n.Limit != d.Limit {
		q.Set(keyLimit, strconv.Itoa(n.Limit))
	}
	if explicit || n.SortBy != d.SortBy {
		q.Set(keySortBy, string(n.SortBy))
	}
	if explicit || n.SortOrder != d.SortOrder {
		q.Set(keySortOrder, string(n.SortOrder))
	}
	if n.Status != "" {
		q.Set(keyStatus, string(n.Status))
	}
	if n.Priority != "" {
		q.Set(keyPriority, string(n.Priority))
	}
	if n.Search != "" {
		q.Set(keySearch, n.Search)
	}
	return q
}

func knownKey(k string) bool {
	switch k {
	case keyLimit, keyPage, keyPriority, keySearch, keySortBy, keySortOrder, keyStatus:
		return true
	}
	return false
}
