// Package remote is an HTTP client for the ticket REST API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/unkn0wn-root/ticketcache/ticket"
)

const (
	defaultTimeout = 10 * time.Second
	maxBody        = 8 << 20
)

type Config struct {
	BaseURL    string        // e.g. http://localhost:3000/api
	Timeout    time.Duration // 0 => 10s; ignored when HTTPClient is set
	HTTPClient *http.Client
}

// Client talks to the ticket API. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(cfg Config) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("remote: invalid base url %q", cfg.BaseURL)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: strings.TrimRight(u.String(), "/"), httpClient: hc}, nil
}

// ListTickets fetches one page. rawQuery is sent as-is.
func (c *Client) ListTickets(ctx context.Context, rawQuery string) (ticket.List, error) {
	var out ticket.List
	path := "/tickets"
	if rawQuery != "" {
		path += "?" + rawQuery
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) GetTicket(ctx context.Context, id string) (ticket.Ticket, error) {
	var out ticket.Ticket
	err := c.do(ctx, http.MethodGet, "/tickets/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) CreateTicket(ctx context.Context, req ticket.CreateRequest) (ticket.Ticket, error) {
	var out ticket.Ticket
	err := c.do(ctx, http.MethodPost, "/tickets", req, &out)
	return out, err
}

func (c *Client) UpdateTicket(ctx context.Context, id string, req ticket.UpdateRequest) (ticket.Ticket, error) {
	var out ticket.Ticket
	err := c.do(ctx, http.MethodPut, "/tickets/"+url.PathEscape(id), req, &out)
	return out, err
}

func (c *Client) DeleteTicket(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/tickets/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ListComments(ctx context.Context, ticketID string) ([]ticket.Comment, error) {
	var out []ticket.Comment
	err := c.do(ctx, http.MethodGet, "/tickets/"+url.PathEscape(ticketID)+"/comments", nil, &out)
	return out, err
}

func (c *Client) AddComment(ctx context.Context, ticketID string, req ticket.CommentRequest) (ticket.Comment, error) {
	var out ticket.Comment
	err := c.do(ctx, http.MethodPost, "/tickets/"+url.PathEscape(ticketID)+"/comments", req, &out)
	return out, err
}

// Health reports whether the API answers its health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

type errorPayload struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Details []Detail `json:"details"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("remote: marshal %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("remote: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return &TransportError{Method: method, Path: path, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := &Error{Method: method, Path: path, Status: resp.StatusCode}
		var p errorPayload
		if json.Unmarshal(raw, &p) == nil {
			e.Code, e.Message, e.Details = p.Error, p.Message, p.Details
		}
		return e
	}
	if out == nil || resp.StatusCode == http.StatusNoContent || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &TransportError{Method: method, Path: path, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
