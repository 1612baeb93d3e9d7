package cmd

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/unkn0wn-root/ticketcache"
	"github.com/unkn0wn-root/ticketcache/internal/devserver"
	"github.com/unkn0wn-root/ticketcache/remote"
	"github.com/unkn0wn-root/ticketcache/ticket"
)

func TestFingerprintCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"fingerprint", "sortOrder=desc", "priority=HIGH", "status=OPEN"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, `fingerprint: "priority=HIGH&status=OPEN"`) {
		t.Fatalf("output: %s", got)
	}
	if !strings.Contains(got, "query:       limit=12&page=1&priority=HIGH&sortBy=createdAt&sortOrder=desc&status=OPEN") {
		t.Fatalf("output: %s", got)
	}

	rootCmd.SetArgs([]string{"fingerprint", "limit=0"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatalf("expected validation error for limit=0")
	}
	rootCmd.SetArgs([]string{"fingerprint", "novalue"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatalf("expected error for malformed argument")
	}
}

func TestSeed(t *testing.T) {
	st := devserver.NewStore(nil)
	seed(st, 12)
	if st.Len() != 12 {
		t.Fatalf("seeded %d tickets", st.Len())
	}
}

func startAPI(t *testing.T) (*devserver.Server, *remote.Client) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := devserver.New(devserver.Config{})
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	c, err := remote.New(remote.Config{BaseURL: "http://" + ln.Addr().String() + "/api", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for c.Health(context.Background()) != nil {
		if time.Now().After(deadline) {
			t.Fatalf("server not ready")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return srv, c
}

func TestShellSession(t *testing.T) {
	srv, client := startAPI(t)
	tk := srv.Store().Create(ticket.CreateRequest{Title: "Broken chair", Description: "wobbles", User: "zoe", Priority: ticket.PriorityLow})

	s, err := ticketcache.New(ticketcache.Options{Remote: client, DisableSweep: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close(context.Background())

	script := strings.Join([]string{
		"list status=OPEN",
		"show " + tk.ID,
		"set " + tk.ID + " status in_progress",
		"comment " + tk.ID + " max ordered a new one",
		"create",
		"Desk lamp",
		"bulb is out",
		"ann",
		"",
		"list priority=BOGUS",
		"pending",
		"stats",
		"delete " + tk.ID,
		"show " + tk.ID,
		"quit",
	}, "\n")
	var out bytes.Buffer
	sh := newShell(s, strings.NewReader(script), &out)
	if err := sh.run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"Broken chair",
		"page 1/1, 1 tickets",
		"status OPEN, priority LOW, user zoe",
		"TKT-000001 updated at",
		"added",
		"created TKT-000002",
		`priority: unknown priority "BOGUS"`,
		"CACHE",
		"ticket " + tk.ID + " deleted",
		"error: Ticket not found",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("output lacks %q:\n%s", want, got)
		}
	}
	if st, _ := srv.Store().Get(tk.ID); st.ID != "" {
		t.Fatalf("ticket not deleted on the server")
	}
}
