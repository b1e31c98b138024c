// Package logging configures the process-wide slog logger for Confab.
//
//	logging.Setup(logging.Options{Level: "debug", Format: "text"})
//	slog.Info("client connected", "user", name)
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options controls how logging is configured.
type Options struct {
	Level  string    // one of LevelNames (default: "info")
	Format string    // "text" or "json" (default: "text")
	Output io.Writer // where to write logs (default: os.Stdout)
}

// Setup installs the default slog logger per opts. Call it once, early in
// main, before anything logs. Unknown level or format names are errors.
func Setup(opts Options) error {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return err
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // file:line in debug mode
	}

	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "json":
		handler = slog.NewJSONHandler(out, handlerOpts)
	case "text", "":
		handler = slog.NewTextHandler(out, handlerOpts)
	default:
		return fmt.Errorf("logging: unknown format %q (valid: text, json)", opts.Format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("logging: unknown level %q (valid: %s)", level, LevelNames())
	}
}

// LevelNames lists the accepted level names, for flag help text.
func LevelNames() string {
	return "debug, info, warn, error"
}
