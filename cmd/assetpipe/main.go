package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/vango-dev/assetpipe/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// useColor is false when stdout is not a terminal.
var useColor = true

func main() {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		useColor = false
		errors.DisableColors()
	}
	slog.SetDefault(newLogger(os.Getenv("ASSETPIPE_LOG")))

	rootCmd := &cobra.Command{
		Use:   "assetpipe",
		Short: "Build, watch and serve front-end assets",
		Long: `assetpipe builds the front-end assets of a site.

Run without arguments it cleans the destination directory, builds
every asset kind, then watches the sources and serves the result
with live reload:

  • Sass → prefixed, minified CSS with merged media queries
  • One bundled, minified JavaScript file
  • Incremental JPEG and PNG compression
  • HTML and video copied as-is`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDev(cmd.Context())
		},
	}

	rootCmd.AddCommand(
		buildCmd(),
		cleanCmd(),
		publishCmd(),
		versionCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		errors.PrintError(err)
		stop()
		os.Exit(1)
	}
}

// newLogger returns a text logger at the level named by ASSETPIPE_LOG.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func paint(code, s string) string {
	if !useColor {
		return s
	}
	return code + s + "\033[0m"
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("%s %s\n", paint("\033[32m", "✓"), fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("%s %s\n", paint("\033[33m", "⚠"), fmt.Sprintf(format, args...))
}

// errorMsg prints an error message.
func errorMsg(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", paint("\033[31m", "✗"), fmt.Sprintf(format, args...))
}
