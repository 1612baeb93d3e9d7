package ticketcache

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed cache or session.
	ErrClosed = errors.New("ticketcache: closed")

	// ErrNamespace is returned when a snapshot is restored into the wrong cache.
	ErrNamespace = errors.New("ticketcache: snapshot belongs to another namespace")
)

// WriteError reports a failed direct write (Set, Remove, Snapshot, Restore).
// Either the generation store, the provider, or both failed.
type WriteError struct {
	Op       string
	Key      string
	GenErr   error
	StoreErr error
}

func (e *WriteError) Error() string {
	switch {
	case e.GenErr != nil && e.StoreErr != nil:
		return fmt.Sprintf("ticketcache: %s %q failed: generation and store failed: gen=%v; store=%v",
			e.Op, e.Key, e.GenErr, e.StoreErr)
	case e.GenErr != nil:
		return fmt.Sprintf("ticketcache: %s %q: generation failed: %v", e.Op, e.Key, e.GenErr)
	case e.StoreErr != nil:
		return fmt.Sprintf("ticketcache: %s %q: store failed: %v", e.Op, e.Key, e.StoreErr)
	default:
		return fmt.Sprintf("ticketcache: %s %q: unknown error", e.Op, e.Key)
	}
}

func (e *WriteError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.GenErr != nil {
		errs = append(errs, e.GenErr)
	}
	if e.StoreErr != nil {
		errs = append(errs, e.StoreErr)
	}
	return errs
}

// MutationError is returned by every failed Coordinator mutation. State tells
// whether the optimistic change was rolled back; Err is the remote, transport
// or rollback failure and stays reachable through errors.Is / errors.As.
type MutationError struct {
	Kind     MutationKind
	EntityID string
	State    MutationState
	Err      error
}

func (e *MutationError) Error() string {
	if e.EntityID == "" {
		return fmt.Sprintf("ticketcache: %s %s: %v", e.Kind, e.State, e.Err)
	}
	return fmt.Sprintf("ticketcache: %s %s %s: %v", e.Kind, e.EntityID, e.State, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

// Message returns the human-readable reason carried by err, suitable for a UI
// status line. Remote failures expose the server's message; anything else falls
// back to err.Error().
func Message(err error) string {
	if err == nil {
		return ""
	}
	var um interface{ UserMessage() string }
	if errors.As(err, &um) {
		if m := um.UserMessage(); m != "" {
			return m
		}
	}
	return err.Error()
}

// transient reports whether err is worth one retry (network failure or
// timeout without a response).
func transient(err error) bool {
	var t interface{ Transient() bool }
	return errors.As(err, &t) && t.Transient()
}
