package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

const version = "v0.3.0"

// Execute wires the command tree and runs it under the signal context.
func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:     "compex",
		Short:   "Compound extreme design-event estimation",
		Version: version,
		Long: `compex simulates joint hazard extremes and extracts return-period design events.

Fitted tail, bulk, and copula models come from an analysis YAML; results land
as CSV, JSON, and XLSX artifacts or are served over HTTP.`,
	}

	root.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().String("log-file", "", "Also write logs to this rotating file")
	root.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		logFile, _ := cmd.Flags().GetString("log-file")
		setupLogging(verbose, logFile)
	}

	root.AddCommand(simulateCmd())
	root.AddCommand(designCmd())
	root.AddCommand(familiesCmd())
	root.AddCommand(serveCmd())

	return root.ExecuteContext(ctx)
}

// setupLogging routes zerolog to stderr, pretty-printed only on a TTY, with
// an optional rotating file sink next to it.
func setupLogging(verbose bool, logFile string) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var console io.Writer = os.Stderr
	if term.IsTerminal(int(os.Stderr.Fd())) {
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}

	if logFile == "" {
		log.Logger = zerolog.New(console).With().Timestamp().Logger()
		return
	}
	rotating := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    16, // megabytes
		MaxBackups: 8,
		MaxAge:     60, // days
		Compress:   true,
	}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(console, rotating)).With().Timestamp().Logger()
}

// addRunFlags declares the flags shared by the analysis commands.
func addRunFlags(fs *pflag.FlagSet, defaultOut string) {
	fs.StringP("config", "c", "analysis.yaml", "Analysis configuration file")
	fs.String("out", defaultOut, "Output directory for artifacts")
}

// resolvePath anchors relative paths from the analysis file at the file's own
// directory, so configs work regardless of the working directory.
func resolvePath(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// writeJSONFile lands an artifact via temp file + rename, so a crash mid-write
// never leaves a truncated JSON behind.
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
