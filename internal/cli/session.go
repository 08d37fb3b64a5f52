package cli

import (
	"context"
	"log/slog"

	"github.com/roach88/varkeep/internal/config"
	"github.com/roach88/varkeep/internal/engine"
	"github.com/roach88/varkeep/internal/ir"
	"github.com/roach88/varkeep/internal/store"
)

// session is an engine over an open store, started and ready for
// operations.
type session struct {
	cfg    config.Config
	defs   []ir.Definition
	store  *store.Store
	engine *engine.Engine
}

// openSession loads the definitions, opens the store and starts an
// engine. Failures are command errors.
func openSession(ctx context.Context, opts *RootOptions, extra ...engine.Option) (*session, error) {
	cfg, err := opts.settings()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	defs, err := LoadDefinitions(cfg.Definitions)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load definitions", err)
	}

	st, err := store.OpenDSN(cfg.Driver, cfg.DBPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	eopts := append([]engine.Option{
		engine.WithLogger(slog.Default()),
		engine.WithOperationTimeout(cfg.OperationTimeout),
		engine.WithPersistConfig(cfg.Persist()),
		engine.WithCacheConfig(cfg.Cache()),
	}, extra...)

	eng, err := engine.New(defs, st, eopts...)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "invalid definitions", err)
	}
	if err := eng.Start(ctx); err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to start engine", err)
	}

	slog.Debug("session open",
		"driver", cfg.Driver,
		"db", cfg.DBPath,
		"definitions", len(defs),
	)
	return &session{cfg: cfg, defs: defs, store: st, engine: eng}, nil
}

// Close forces a full flush, stops the engine and closes the store. The
// first failure is returned.
func (s *session) Close(ctx context.Context) error {
	_, flushErr := s.engine.SaveAll(ctx, true).Wait(ctx)
	shutdownErr := s.engine.Shutdown(ctx)
	closeErr := s.store.Close()

	switch {
	case flushErr != nil:
		return flushErr
	case shutdownErr != nil:
		return shutdownErr
	default:
		return closeErr
	}
}

// commandContext returns the command's context, or a background one.
func commandContext(ctxer interface{ Context() context.Context }) context.Context {
	if ctx := ctxer.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
