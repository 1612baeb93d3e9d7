package fingerprint

import (
	"errors"
	"net/url"
	"testing"

	"github.com/unkn0wn-root/ticketcache/ticket"
)

func TestEncodeIgnoresDefaultValuedFields(t *testing.T) {
	c := New(12)

	sparse := FilterSpec{Status: ticket.StatusOpen}
	explicit := FilterSpec{
		Page:      1,
		Limit:     12,
		SortBy:    SortCreatedAt,
		SortOrder: Desc,
		Status:    ticket.StatusOpen,
		Search:    "   ",
	}

	a, err := c.Encode(sparse)
	if err != nil {
		t.Fatalf("Encode sparse: %v", err)
	}
	b, err := c.Encode(explicit)
	if err != nil {
		t.Fatalf("Encode explicit: %v", err)
	}
	if a != b {
		t.Fatalf("fingerprints differ: %q vs %q", a, b)
	}
	if a != "status=OPEN" {
		t.Fatalf("unexpected fingerprint %q", a)
	}
}

func TestEncodeIsIndependentOfParameterOrder(t *testing.T) {
	c := New(10)

	// Same parameters arriving in two different orders.
	q1, _ := url.ParseQuery("status=OPEN&sortBy=priority&sortOrder=desc&page=1&limit=10")
	q2, _ := url.ParseQuery("limit=10&page=1&sortOrder=desc&sortBy=priority&status=OPEN")

	s1, err := c.Parse(q1)
	if err != nil {
		t.Fatalf("Parse q1: %v", err)
	}
	s2, err := c.Parse(q2)
	if err != nil {
		t.Fatalf("Parse q2: %v", err)
	}
	f1, f2 := c.MustEncode(s1), c.MustEncode(s2)
	if f1 != f2 {
		t.Fatalf("fingerprints differ: %q vs %q", f1, f2)
	}
	if f1 != "sortBy=priority&status=OPEN" {
		t.Fatalf("unexpected fingerprint %q", f1)
	}
}

func TestSurfaceDefaultLimit(t *testing.T) {
	list := New(12)
	if fp := list.MustEncode(FilterSpec{Limit: 10}); fp != "limit=10" {
		t.Fatalf("limit 10 on a 12-default surface should be kept, got %q", fp)
	}
	if fp := list.MustEncode(FilterSpec{Limit: 12}); fp != "" {
		t.Fatalf("default limit should be dropped, got %q", fp)
	}
	if New(0).DefaultLimit() != ServerDefaultLimit || New(101).DefaultLimit() != ServerDefaultLimit {
		t.Fatalf("out-of-range surface defaults should fall back to %d", ServerDefaultLimit)
	}
}

func TestSearchTrimmedAndEscaped(t *testing.T) {
	c := New(10)
	fp := c.MustEncode(FilterSpec{Search: "  a&b=c  "})
	if fp != "search=a%26b%3Dc" {
		t.Fatalf("unexpected fingerprint %q", fp)
	}
	got, err := c.Decode(fp)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Search != "a&b=c" {
		t.Fatalf("search round trip: %q", got.Search)
	}
}

func TestDecodeIsLeftInverse(t *testing.T) {
	c := New(12)
	specs := []FilterSpec{
		{},
		{Page: 3},
		{Limit: 50, SortBy: SortTitle, SortOrder: Asc},
		{Status: ticket.StatusInProgress, Priority: ticket.PriorityCritical, Search: "vpn"},
	}
	for _, s := range specs {
		fp := c.MustEncode(s)
		got, err := c.Decode(fp)
		if err != nil {
			t.Fatalf("Decode(%q): %v", fp, err)
		}
		want, _ := c.Normalize(s)
		if got != want {
			t.Fatalf("Decode(Encode(%+v)) = %+v, want %+v", s, got, want)
		}
	}
}

func TestDecodeRejectsNonCanonical(t *testing.T) {
	c := New(12)
	for _, fp := range []Fingerprint{
		"page=1",                   // default present
		"status=OPEN&priority=LOW", // unsorted
		"color=red",                // unknown key
		"limit=abc",                // not an integer
		"%zz",                      // malformed escape
	} {
		if _, err := c.Decode(fp); !errors.Is(err, ticket.ErrValidation) {
			t.Fatalf("Decode(%q) should fail with validation error, got %v", fp, err)
		}
	}
}

func TestOutOfRangeRejected(t *testing.T) {
	c := New(10)
	cases := []struct {
		name string
		spec FilterSpec
	}{
		{"negative_page", FilterSpec{Page: -1}},
		{"limit_too_big", FilterSpec{Limit: 101}},
		{"bad_sort", FilterSpec{SortBy: "assignee"}},
		{"bad_order", FilterSpec{SortOrder: "up"}},
		{"bad_status", FilterSpec{Status: "DONE"}},
		{"bad_priority", FilterSpec{Priority: "URGENT"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := c.Encode(tc.spec); !errors.Is(err, ticket.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	q := url.Values{"limit": {"0"}, "page": {"0"}}
	_, err := c.Parse(q)
	var ve *ticket.ValidationError
	if !errors.As(err, &ve) || len(ve.Fields) != 2 {
		t.Fatalf("expected 2 field errors for page=0&limit=0, got %v", err)
	}
}

func TestQueryStringIsExplicit(t *testing.T) {
	c := New(12)
	qs, err := c.QueryString(FilterSpec{Status: ticket.StatusOpen})
	if err != nil {
		t.Fatalf("QueryString: %v", err)
	}
	want := "limit=12&page=1&sortBy=createdAt&sortOrder=desc&status=OPEN"
	if qs != want {
		t.Fatalf("QueryString = %q, want %q", qs, want)
	}
}
