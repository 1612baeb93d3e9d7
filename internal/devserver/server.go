// Package devserver is an in-memory implementation of the ticket REST API for
// local development, demos and integration tests.
package devserver

import (
	"errors"
	"net"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/ticketcache/fingerprint"
	"github.com/unkn0wn-root/ticketcache/ticket"
)

// Config bundles server dependencies.
type Config struct {
	Logger  *zap.Logger      // nil => zap.NewNop()
	Now     func() time.Time // nil => time.Now
	Latency time.Duration    // artificial delay per request, for watching the cache work
	Prefix  string           // route prefix; "" => "/api"
}

// Server serves the ticket API from a Store.
type Server struct {
	app     *fiber.App
	store   *Store
	filters fingerprint.Codec
	log     *zap.Logger
	latency time.Duration
}

// apiError is rendered as {error, message?, details?} with Status as the HTTP code.
type apiError struct {
	Status  int
	Code    string
	Message string
	Details []ticket.FieldError
}

func (e *apiError) Error() string { return e.Code + ": " + e.Message }

func notFound(what string) error {
	return &apiError{Status: fiber.StatusNotFound, Code: "Not Found", Message: what + " not found"}
}

func badRequest(err error) error {
	out := &apiError{Status: fiber.StatusBadRequest, Code: "Validation Error", Message: "Invalid request data"}
	var verr *ticket.ValidationError
	if errors.As(err, &verr) {
		out.Details = verr.Fields
	}
	return out
}

func New(cfg Config) *Server {
	s := &Server{
		store:   NewStore(cfg.Now),
		filters: fingerprint.New(fingerprint.ServerDefaultLimit),
		log:     cfg.Logger,
		latency: cfg.Latency,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "/api"
	}

	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.app.Use(s.requestLogger)

	api := s.app.Group(prefix)
	api.Get("/health", s.health)
	api.Get("/tickets", s.listTickets)
	api.Post("/tickets", s.createTicket)
	api.Get("/tickets/:id", s.getTicket)
	api.Put("/tickets/:id", s.updateTicket)
	api.Delete("/tickets/:id", s.deleteTicket)
	api.Get("/tickets/:id/comments", s.listComments)
	api.Post("/tickets/:id/comments", s.addComment)
	return s
}

func (s *Server) App() *fiber.App { return s.app }
func (s *Server) Store() *Store   { return s.store }

func (s *Server) Listen(addr string) error    { return s.app.Listen(addr) }
func (s *Server) Serve(ln net.Listener) error { return s.app.Listener(ln) }
func (s *Server) Shutdown() error             { return s.app.Shutdown() }

func (s *Server) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	if s.latency > 0 {
		select {
		case <-time.After(s.latency):
		case <-c.UserContext().Done():
		}
	}
	err := c.Next()
	status := c.Response().StatusCode()
	var ae *apiError
	if errors.As(err, &ae) {
		status = ae.Status
	}
	s.log.Debug("request",
		zap.String("method", c.Method()),
		zap.String("path", c.OriginalURL()),
		zap.Int("status", status),
		zap.Duration("took", time.Since(start)))
	return err
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var ae *apiError
	if !errors.As(err, &ae) {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			ae = &apiError{Status: fe.Code, Code: fe.Message}
		} else {
			s.log.Error("request failed", zap.Error(err))
			ae = &apiError{Status: fiber.StatusInternalServerError, Code: "Internal Server Error"}
		}
	}
	body := fiber.Map{"error": ae.Code}
	if ae.Message != "" {
		body["message"] = ae.Message
	}
	if len(ae.Details) > 0 {
		body["details"] = ae.Details
	}
	return c.Status(ae.Status).JSON(body)
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "tickets": s.store.Len()})
}

// listTickets GET /tickets.
func (s *Server) listTickets(c *fiber.Ctx) error {
	q, err := url.ParseQuery(string(c.Request().URI().QueryString()))
	if err != nil {
		return &apiError{Status: fiber.StatusBadRequest, Code: "Bad Request", Message: "malformed query string"}
	}
	spec, err := s.filters.Parse(q)
	if err != nil {
		return badRequest(err)
	}
	return c.JSON(s.store.List(spec))
}

// getTicket GET /tickets/:id.
func (s *Server) getTicket(c *fiber.Ctx) error {
	t, ok := s.store.Get(c.Params("id"))
	if !ok {
		return notFound("Ticket")
	}
	return c.JSON(t)
}

// createTicket POST /tickets.
func (s *Server) createTicket(c *fiber.Ctx) error {
	var req ticket.CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return &apiError{Status: fiber.StatusBadRequest, Code: "Bad Request", Message: "invalid payload"}
	}
	if err := ticket.Validate(req); err != nil {
		return badRequest(err)
	}
	return c.Status(fiber.StatusCreated).JSON(s.store.Create(req))
}

// updateTicket PUT /tickets/:id.
func (s *Server) updateTicket(c *fiber.Ctx) error {
	var req ticket.UpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return &apiError{Status: fiber.StatusBadRequest, Code: "Bad Request", Message: "invalid payload"}
	}
	if err := ticket.ValidateUpdate(req); err != nil {
		return badRequest(err)
	}
	t, ok := s.store.Update(c.Params("id"), req)
	if !ok {
		return notFound("Ticket")
	}
	return c.JSON(t)
}

// deleteTicket DELETE /tickets/:id.
func (s *Server) deleteTicket(c *fiber.Ctx) error {
	if !s.store.Delete(c.Params("id")) {
		return notFound("Ticket")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// listComments GET /tickets/:id/comments.
func (s *Server) listComments(c *fiber.Ctx) error {
	cs, ok := s.store.Comments(c.Params("id"))
	if !ok {
		return notFound("Ticket")
	}
	return c.JSON(cs)
}

// addComment POST /tickets/:id/comments.
func (s *Server) addComment(c *fiber.Ctx) error {
	var req ticket.CommentRequest
	if err := c.BodyParser(&req); err != nil {
		return &apiError{Status: fiber.StatusBadRequest, Code: "Bad Request", Message: "invalid payload"}
	}
	if err := ticket.Validate(req); err != nil {
		return badRequest(err)
	}
	cm, ok := s.store.AddComment(c.Params("id"), req)
	if !ok {
		return notFound("Ticket")
	}
	return c.Status(fiber.StatusCreated).JSON(cm)
}
