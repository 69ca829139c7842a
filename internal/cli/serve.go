package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/diagramsync/collabcore/internal/config"
	"github.com/diagramsync/collabcore/internal/web"
)

// NewServe creates the serve command.
func NewServe() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the collaboration server",
		Long: `Starts the HTTP/WebSocket server: the session gateway, the operation
pipeline, and every store it depends on.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ui := NewUI()

	ui.Header(iconServer, "Starting collaboration server")
	ui.Blank()

	ui.StartSpinner("Loading configuration...")
	start := time.Now()

	cfg, err := config.Load()
	if err != nil {
		ui.StopSpinnerError("Failed to load configuration")
		return err
	}
	ui.StopSpinner("Configuration loaded", time.Since(start))

	ui.StartSpinner("Initializing server...")
	start = time.Now()

	server, err := web.New(cfg, nil)
	if err != nil {
		ui.StopSpinnerError("Failed to create server")
		return err
	}
	defer server.Close()

	ui.StopSpinner("Server initialized", time.Since(start))

	cacheMode := "in-process"
	if cfg.CacheAddr != "" {
		cacheMode = cfg.CacheAddr
	}
	ui.Summary([][2]string{
		{"Address", cfg.Addr},
		{"Data Dir", cfg.DataDir},
		{"Cache", cacheMode},
		{"Frontend", cfg.FrontendURL},
	})

	ui.Blank()
	ui.Hint("Press Ctrl+C to stop the server")
	ui.Blank()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		ui.Blank()
		ui.Warn("Shutting down...")
		cancel()
		server.Close()
	}()

	ui.Step("Listening on " + cfg.Addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}
