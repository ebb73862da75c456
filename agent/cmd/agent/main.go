package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// logLevel is shared by every handler so a config reload can change it.
var logLevel = new(slog.LevelVar)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "pagescore-agent",
		Short:        "Analyze captured page-load traces and ship metric reports",
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(), newAnalyzeCmd())
	return root
}

// setupLogging installs a JSON handler on w. Unknown levels fall back to info.
func setupLogging(w io.Writer, level string) {
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		logLevel.Set(slog.LevelInfo)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})))
}
