// Package cli provides the command-line interface.
package cli

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

// Version information (set at build time via ldflags).
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Execute runs the CLI with the given context.
func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:   "collabd",
		Short: "Real-time diagram collaboration core",
		Long: `collabd is the real-time collaboration core behind a multi-user diagram
editor: entity-relationship diagrams and linked screen-design diagrams.

It owns:
  - A per-diagram Lamport clock and single-threaded operation pipeline
  - Hot in-memory/Redis state, advisory locks, and cursor presence
  - A debounced durable writer and an append-only history log
  - A WebSocket session gateway speaking a tagged-record wire protocol`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.SetVersionTemplate("collabd {{.Version}}\n")
	root.Version = versionString()

	root.AddCommand(
		NewServe(),
		NewBench(),
	)

	if err := fang.Execute(ctx, root,
		fang.WithVersion(Version),
		fang.WithCommit(Commit),
	); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(iconCross+" "+err.Error()))
		return err
	}
	return nil
}

func versionString() string {
	if strings.TrimSpace(Version) != "" && Version != "dev" {
		return Version
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		if bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			return bi.Main.Version
		}
	}
	return "dev"
}
