package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/annohist/internal/collection/memory"
	"github.com/roach88/annohist/internal/config"
	"github.com/roach88/annohist/internal/event"
	"github.com/roach88/annohist/internal/identity"
	"github.com/roach88/annohist/internal/store"
)

// commandEnv is what every command needs after flag parsing.
type commandEnv struct {
	ctx context.Context
	cfg *config.Config
	out *OutputFormatter
	log *slog.Logger
}

// prepare loads configuration and installs the logger. Logs go to the
// command's stderr; verbose forces debug level.
func prepare(opts *RootOptions, cmd *cobra.Command) (*commandEnv, error) {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, out.Fail(WrapExitError(ExitCommandError, ErrCodeConfig, "failed to load config", err))
	}

	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return &commandEnv{ctx: ctx, cfg: cfg, out: out, log: logger}, nil
}

func newLogger(w io.Writer, verbose bool, level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

// applyDB resolves the store path from the flag or config and validates
// the result.
func (e *commandEnv) applyDB(flagDB string) error {
	if flagDB != "" {
		e.cfg.DB = flagDB
	}
	if err := e.cfg.RequireDB(); err != nil {
		return e.out.Fail(WrapExitError(ExitCommandError, ErrCodeUsage, "no store given (use --db or config db)", err))
	}
	return nil
}

// applyKinds restricts cfg to the named kinds when any are given.
func (e *commandEnv) applyKinds(names []string) error {
	if len(names) == 0 {
		return nil
	}
	kinds, err := event.ParseKinds(names)
	if err != nil {
		return e.out.Fail(WrapExitError(ExitCommandError, ErrCodeUsage, "invalid --kinds", err))
	}
	e.cfg.Kinds = config.OnlyKinds(kinds...)
	return nil
}

// revalidate re-checks config after flag overrides.
func (e *commandEnv) revalidate() error {
	if err := e.cfg.Validate(); err != nil {
		return e.out.Fail(WrapExitError(ExitCommandError, ErrCodeConfig, "invalid settings", err))
	}
	return nil
}

// openStore opens the store at cfg.DB and loads its registry.
func (e *commandEnv) openStore() (*store.Store, *identity.Registry, error) {
	e.log.Debug("opening store", "path", e.cfg.DB)
	st, err := store.Open(e.cfg.DB)
	if err != nil {
		return nil, nil, e.out.Fail(WrapExitError(ExitCommandError, ErrCodeStore, "failed to open store", err))
	}
	reg, err := identity.Open(e.ctx, st)
	if err != nil {
		st.Close()
		return nil, nil, e.out.Fail(WrapExitError(ExitCommandError, ErrCodeStore, "failed to load registry", err))
	}
	e.log.Debug("store ready", "registry", reg.Len())
	return st, reg, nil
}

func (e *commandEnv) closeStore(st *store.Store) {
	if err := st.Close(); err != nil {
		e.log.Error("error closing store", "error", err)
	}
}

// loadCollection reads a collection dump.
func (e *commandEnv) loadCollection(path, role string) (*memory.Collection, error) {
	c, err := memory.Load(path)
	if err != nil {
		return nil, e.out.Fail(WrapExitError(ExitCommandError, ErrCodeCollection, fmt.Sprintf("failed to load %s collection", role), err))
	}
	return c, nil
}

// parseInstant parses an RFC 3339 timestamp flag value.
func parseInstant(flag, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: expected RFC 3339 timestamp: %w", flag, err)
	}
	return t.UTC(), nil
}

// formatInstant renders t for output, or "" for the zero time.
func formatInstant(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// kindCounts keys per-kind counts by short kind name.
func kindCounts(counts map[event.Kind]int) map[string]int {
	out := make(map[string]int, len(counts))
	for k, n := range counts {
		out[k.Short()] = n
	}
	return out
}

// stopOnSignal calls stop on the first SIGINT or SIGTERM. The returned
// function releases the handler.
func (e *commandEnv) stopOnSignal(stop func()) func() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigChan:
			e.log.Info("received signal, stopping after current event", "signal", sig)
			stop()
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigChan)
		close(done)
	}
}
