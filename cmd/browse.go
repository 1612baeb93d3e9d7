package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/ticketcache"
	"github.com/unkn0wn-root/ticketcache/fingerprint"
	"github.com/unkn0wn-root/ticketcache/provider/ristretto"
	"github.com/unkn0wn-root/ticketcache/remote"
	"github.com/unkn0wn-root/ticketcache/ticket"
)

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Interactive shell over a cached session of the ticket API",
	RunE:  runBrowse,
}

func runBrowse(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, flush, err := newLogger(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer flush()
	hooks := newHooks(cfg.Logger)
	defer hooks.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := remote.New(remote.Config{BaseURL: cfg.API.BaseURL, Timeout: cfg.API.Timeout})
	if err != nil {
		return err
	}
	if err := client.Health(ctx); err != nil {
		return fmt.Errorf("api %s unreachable: %w", cfg.API.BaseURL, err)
	}

	st, err := newStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	s, err := ticketcache.New(sessionOptions(cfg, client, st, log, hooks))
	if err != nil {
		_ = st.release()
		return err
	}
	defer func() {
		_ = s.Close(context.Background())
		_ = st.release()
	}()

	sh := newShell(s, cmd.InOrStdin(), cmd.OutOrStdout())
	if rp, ok := st.provider.(*ristretto.Provider); ok {
		sh.metrics = func() string { return rp.Metrics().String() }
	}
	return sh.run(ctx)
}

// shell reads one command per line and renders results as text. The current
// list page is watched, so background refetches are announced.
type shell struct {
	s       *ticketcache.Session
	in      *bufio.Scanner
	out     io.Writer
	page    fingerprint.FilterSpec
	unwatch func()
	metrics func() string
}

func newShell(s *ticketcache.Session, in io.Reader, out io.Writer) *shell {
	return &shell{s: s, in: bufio.NewScanner(in), out: &lockedWriter{w: out}}
}

// lockedWriter serializes the prompt loop with listener output.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

const shellHelp = `commands:
  list [key=value ...]       show a page (status, priority, search, sortBy, sortOrder, page, limit)
  next | prev                move through pages of the current filter
  show <id>                  ticket detail with comments
  create                     new ticket (prompts for fields)
  set <id> <field> <value>   update one field (title, description, user, status, priority)
  comment <id> <author> <text...>
  delete <id>
  refresh                    flag every cached page stale
  pending                    unsettled mutations
  stats                      cache counters
  evict                      run one eviction pass
  help | quit`

func (sh *shell) run(ctx context.Context) error {
	defer func() {
		if sh.unwatch != nil {
			sh.unwatch()
		}
	}()
	fmt.Fprintf(sh.out, "session %s; type help for commands\n", sh.s.ID())
	for {
		fmt.Fprint(sh.out, "> ")
		line, ok := sh.readLine()
		if !ok {
			fmt.Fprintln(sh.out)
			return sh.in.Err()
		}
		if line == "quit" || line == "exit" {
			return nil
		}
		if err := sh.exec(ctx, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(sh.out, "error: %s\n", ticketcache.Message(err))
		}
	}
}

func (sh *shell) readLine() (string, bool) {
	if !sh.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(sh.in.Text()), true
}

func (sh *shell) prompt(label string) string {
	fmt.Fprintf(sh.out, "%s: ", label)
	line, _ := sh.readLine()
	return line
}

var errUsage = errors.New("bad arguments; see help")

func (sh *shell) exec(ctx context.Context, line string) error {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	switch cmd {
	case "":
		return nil
	case "help":
		fmt.Fprintln(sh.out, shellHelp)
		return nil
	case "list":
		q, err := parseFilterArgs(args)
		if err != nil {
			return err
		}
		spec, err := sh.s.Filters().Parse(q)
		if err != nil {
			return err
		}
		return sh.showPage(ctx, spec)
	case "next", "prev":
		spec := sh.page
		if spec.Page == 0 {
			spec.Page = 1
		}
		if cmd == "next" {
			spec.Page++
		} else if spec.Page > 1 {
			spec.Page--
		}
		return sh.showPage(ctx, spec)
	case "show":
		if len(args) != 1 {
			return errUsage
		}
		return sh.showTicket(ctx, args[0])
	case "create":
		return sh.create(ctx)
	case "set":
		parts := strings.SplitN(rest, " ", 3)
		if len(parts) != 3 {
			return errUsage
		}
		return sh.update(ctx, parts[0], parts[1], strings.TrimSpace(parts[2]))
	case "comment":
		parts := strings.SplitN(rest, " ", 3)
		if len(parts) != 3 {
			return errUsage
		}
		c, err := sh.s.AddComment(ctx, parts[0], ticket.CommentRequest{Author: parts[1], Content: strings.TrimSpace(parts[2])})
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "comment %s added\n", c.ID)
		return nil
	case "delete":
		if len(args) != 1 {
			return errUsage
		}
		if err := sh.s.DeleteTicket(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "ticket %s deleted\n", args[0])
		return nil
	case "refresh":
		n := sh.s.InvalidateTickets(ctx, func(fingerprint.FilterSpec) bool { return true })
		fmt.Fprintf(sh.out, "%d cached pages flagged stale\n", n)
		return nil
	case "pending":
		for _, p := range sh.s.Pending() {
			fmt.Fprintf(sh.out, "%s %s %s since %s\n", p.Kind, p.EntityID, p.State, p.StartedAt.Format("15:04:05"))
		}
		return nil
	case "stats":
		sh.stats()
		return nil
	case "evict":
		fmt.Fprintf(sh.out, "%d entries evicted\n", sh.s.Evict(ctx))
		return nil
	default:
		return fmt.Errorf("unknown command %q; type help", cmd)
	}
}

func (sh *shell) showPage(ctx context.Context, spec fingerprint.FilterSpec) error {
	lk, err := sh.s.Tickets(ctx, spec)
	if err != nil {
		return err
	}
	if sh.unwatch != nil {
		sh.unwatch()
		sh.unwatch = nil
	}
	unwatch, err := sh.s.WatchTickets(spec, ticketcache.ListenerFunc(func(e ticketcache.Event) {
		if e.Kind == ticketcache.EventFetched {
			fmt.Fprintln(sh.out, "\n(page refreshed in background; list again to see it)")
		}
	}))
	if err != nil {
		return err
	}
	sh.page, sh.unwatch = spec, unwatch

	l := lk.Value
	tw := tabwriter.NewWriter(sh.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNUMBER\tSTATUS\tPRIORITY\tUSER\tTITLE")
	for _, t := range l.Tickets {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", t.ID, t.TicketNumber, t.Status, t.Priority, t.User, t.Title)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	marker := ""
	if lk.Stale {
		marker = " (stale, refreshing)"
	}
	fmt.Fprintf(sh.out, "page %d/%d, %d tickets%s\n", l.Pagination.Page, l.Pagination.Pages, l.Pagination.Total, marker)
	return nil
}

func (sh *shell) showTicket(ctx context.Context, id string) error {
	lk, err := sh.s.Ticket(ctx, id)
	if err != nil {
		return err
	}
	t := lk.Value
	fmt.Fprintf(sh.out, "%s  %s\n", t.TicketNumber, t.Title)
	fmt.Fprintf(sh.out, "status %s, priority %s, user %s\n", t.Status, t.Priority, t.User)
	fmt.Fprintf(sh.out, "created %s, updated %s\n", t.CreatedAt.Format("2006-01-02 15:04"), t.UpdatedAt.Format("2006-01-02 15:04"))
	fmt.Fprintln(sh.out, t.Description)

	cs, err := sh.s.Comments(ctx, id)
	if err != nil {
		return err
	}
	for _, c := range cs.Value {
		fmt.Fprintf(sh.out, "  [%s] %s: %s\n", c.CreatedAt.Format("01-02 15:04"), c.Author, c.Content)
	}
	return nil
}

func (sh *shell) create(ctx context.Context) error {
	req := ticket.CreateRequest{
		Title:       sh.prompt("title"),
		Description: sh.prompt("description"),
		User:        sh.prompt("user"),
		Priority:    ticket.Priority(strings.ToUpper(sh.prompt("priority (blank for MEDIUM)"))),
	}
	t, err := sh.s.CreateTicket(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "created %s (%s)\n", t.TicketNumber, t.ID)
	return nil
}

func (sh *shell) update(ctx context.Context, id, field, value string) error {
	var u ticket.UpdateRequest
	switch field {
	case "title":
		u.Title = &value
	case "description":
		u.Description = &value
	case "user":
		u.User = &value
	case "status":
		u.Status = ticket.Ptr(ticket.Status(strings.ToUpper(value)))
	case "priority":
		u.Priority = ticket.Ptr(ticket.Priority(strings.ToUpper(value)))
	default:
		return fmt.Errorf("unknown field %q", field)
	}
	t, err := sh.s.UpdateTicket(ctx, id, u)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "%s updated at %s\n", t.TicketNumber, t.UpdatedAt.Format("15:04:05"))
	return nil
}

func (sh *shell) stats() {
	tw := tabwriter.NewWriter(sh.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CACHE\tHITS\tSTALE\tMISSES\tFETCHES\tSHARED\tERRORS\tSKIPPED\tHEALED\tEVICTED\tKEYS")
	row := func(name string, st ticketcache.Stats, keys int) {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n", name,
			st.Hits, st.StaleHits, st.Misses, st.Fetches, st.SharedFetches,
			st.FetchErrors, st.WritesSkipped, st.SelfHeals, st.Evictions, keys)
	}
	row(ticketcache.NamespaceList, sh.s.Lists().Stats(), len(sh.s.Lists().Keys()))
	row(ticketcache.NamespaceDetail, sh.s.Details().Stats(), len(sh.s.Details().Keys()))
	row(ticketcache.NamespaceComments, sh.s.CommentCache().Stats(), len(sh.s.CommentCache().Keys()))
	_ = tw.Flush()
	if sh.metrics != nil {
		fmt.Fprintln(sh.out, "ristretto:", sh.metrics())
	}
}
