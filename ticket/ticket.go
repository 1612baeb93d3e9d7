// Package ticket holds the domain types shared by the cache, the REST client and
// the development server: tickets, comments, their request payloads and the
// paginated list response.
package ticket

import (
	"time"
)

// Status is the lifecycle state of a ticket.
type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusResolved   Status = "RESOLVED"
	StatusClosed     Status = "CLOSED"
)

// Statuses lists every valid Status in lifecycle order.
var Statuses = []Status{StatusOpen, StatusInProgress, StatusResolved, StatusClosed}

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Priority is the urgency of a ticket.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Priorities lists every valid Priority from lowest to highest.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Ticket is the server-owned ticket entity. TicketNumber and CreatedAt are
// assigned once by the server; UpdatedAt is set by the server on every mutation.
//
// Comments depend on how the ticket was loaded: list responses carry at most the
// three most recent comments, detail responses carry all of them oldest first.
type Ticket struct {
	ID           string    `json:"id" msgpack:"id" cbor:"id"`
	TicketNumber string    `json:"ticketNumber" msgpack:"ticketNumber" cbor:"ticketNumber"`
	Title        string    `json:"title" msgpack:"title" cbor:"title"`
	Description  string    `json:"description" msgpack:"description" cbor:"description"`
	User         string    `json:"user" msgpack:"user" cbor:"user"`
	Status       Status    `json:"status" msgpack:"status" cbor:"status"`
	Priority     Priority  `json:"priority" msgpack:"priority" cbor:"priority"`
	CreatedAt    time.Time `json:"createdAt" msgpack:"createdAt" cbor:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt" msgpack:"updatedAt" cbor:"updatedAt"`
	Comments     []Comment `json:"comments,omitempty" msgpack:"comments,omitempty" cbor:"comments,omitempty"`
}

// Comment belongs to exactly one ticket and cannot outlive it.
type Comment struct {
	ID        string    `json:"id" msgpack:"id" cbor:"id"`
	Content   string    `json:"content" msgpack:"content" cbor:"content"`
	Author    string    `json:"author" msgpack:"author" cbor:"author"`
	TicketID  string    `json:"ticketId" msgpack:"ticketId" cbor:"ticketId"`
	CreatedAt time.Time `json:"createdAt" msgpack:"createdAt" cbor:"createdAt"`
}

// Pagination describes one page of a list response.
type Pagination struct {
	Page  int `json:"page" msgpack:"page" cbor:"page"`
	Limit int `json:"limit" msgpack:"limit" cbor:"limit"`
	Total int `json:"total" msgpack:"total" cbor:"total"`
	Pages int `json:"pages" msgpack:"pages" cbor:"pages"`
}

// List is the body of GET /tickets.
type List struct {
	Tickets    []Ticket   `json:"tickets" msgpack:"tickets" cbor:"tickets"`
	Pagination Pagination `json:"pagination" msgpack:"pagination" cbor:"pagination"`
}

// Contains reports whether the page holds a ticket with the given id.
func (l List) Contains(id string) bool {
	for i := range l.Tickets {
		if l.Tickets[i].ID == id {
			return true
		}
	}
	return false
}

// Apply returns a copy of t with every field set in u overwritten and UpdatedAt
// moved to now. The comment slice is copied so the result never aliases t.
func (t Ticket) Apply(u UpdateRequest, now time.Time) Ticket {
	out := t
	if len(t.Comments) > 0 {
		out.Comments = append([]Comment(nil), t.Comments...)
	}
	if u.Title != nil {
		out.Title = *u.Title
	}
	if u.Description != nil {
		out.Description = *u.Description
	}
	if u.User != nil {
		out.User = *u.User
	}
	if u.Status != nil {
		out.Status = *u.Status
	}
	if u.Priority != nil {
		out.Priority = *u.Priority
	}
	if now.After(out.UpdatedAt) {
		out.UpdatedAt = now
	}
	return out
}
