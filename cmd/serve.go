package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/ticketcache/internal/devserver"
	"github.com/unkn0wn-root/ticketcache/ticket"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the in-memory ticket API for local development",
	RunE:  runServe,
}

var (
	flagServeAddr string
	flagServeSeed int
)

func init() {
	serveCmd.Flags().StringVar(&flagServeAddr, "addr", "", "listen address (overrides TICKETCACHE_SERVER_ADDR)")
	serveCmd.Flags().IntVar(&flagServeSeed, "seed", 0, "number of sample tickets to create at startup")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	addr := cfg.Server.Addr
	if flagServeAddr != "" {
		addr = flagServeAddr
	}
	zl, err := newZap(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()

	srv := devserver.New(devserver.Config{Logger: zl, Latency: cfg.Server.Latency, Prefix: cfg.Server.Prefix})
	seed(srv.Store(), flagServeSeed)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen(addr) }()
	zl.Info("dev server listening",
		zap.String("addr", addr),
		zap.String("prefix", cfg.Server.Prefix),
		zap.Int("tickets", srv.Store().Len()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	zl.Info("shutting down")
	if err := srv.Shutdown(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

var sampleTitles = []string{
	"Printer on floor 3 jams", "VPN drops every hour", "Laptop battery swelling",
	"Cannot access shared drive", "Email signature missing", "Monitor flickers",
	"Password reset loop", "Projector has no signal", "Keyboard keys sticking",
	"Wifi slow in meeting room",
}

// seed creates n sample tickets spread over every priority.
func seed(st *devserver.Store, n int) {
	for i := 0; i < n; i++ {
		title := sampleTitles[i%len(sampleTitles)]
		st.Create(ticket.CreateRequest{
			Title:       title,
			Description: "Reported via seed data: " + title,
			User:        fmt.Sprintf("user%02d", i%7),
			Priority:    ticket.Priorities[i%len(ticket.Priorities)],
		})
	}
}
