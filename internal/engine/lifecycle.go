package engine

import (
	"context"
	"time"

	"github.com/roach88/varkeep/internal/expr"
	"github.com/roach88/varkeep/internal/ir"
	"github.com/roach88/varkeep/internal/memstore"
	"github.com/roach88/varkeep/internal/persist"
	"github.com/roach88/varkeep/internal/store"
)

// Start loads the persisted global variables and starts the persistence
// pipeline. Per-player variables are loaded on arrival.
func (e *Engine) Start(ctx context.Context) error {
	if e.stopped.Load() {
		return newError(CodeStopped, "start", "", "", "engine is shut down")
	}
	if e.loader == nil {
		return nil
	}

	rows, err := e.loader.LoadGlobals(ctx)
	if err != nil {
		return wrapError(CodePersistenceFailure, "start", "", "", err, "load global variables")
	}
	n := e.loadRows(ir.ScopeGlobal, "", rows)
	e.cache.Purge()

	if err := e.pipeline.Start(ctx); err != nil {
		return wrapError(CodePersistenceFailure, "start", "", "", err, "start persistence pipeline")
	}

	e.logger.Info("engine started",
		"definitions", e.registry.Len(),
		"globals_loaded", n,
	)
	return nil
}

// Shutdown stops accepting operations and performs a final full flush.
func (e *Engine) Shutdown(ctx context.Context) error {
	if !e.stopped.CompareAndSwap(false, true) {
		return nil
	}
	if e.pipeline == nil {
		return nil
	}
	if err := e.pipeline.Shutdown(ctx); err != nil {
		return wrapError(CodePersistenceFailure, "shutdown", "", "", err, "final flush")
	}
	st := e.mem.Stats()
	e.logger.Info("engine stopped", "dirty_left", st.Dirty)
	return nil
}

// OnIdentityArrival loads the persisted variables of identity. Rows for
// keys no longer defined are skipped and dirty in-memory entries are never
// overwritten. Loaded variables are read once to warm the cache.
func (e *Engine) OnIdentityArrival(ctx context.Context, identity string) error {
	if identity == "" {
		return newError(CodeIdentityRequired, "arrive", "", "", "arrival needs an identity")
	}
	if e.stopped.Load() {
		return newError(CodeStopped, "arrive", "", identity, "engine is shut down")
	}

	e.presenceMu.Lock()
	e.presence[identity]++
	e.presenceMu.Unlock()

	if e.loader == nil {
		return nil
	}

	rows, err := e.loader.LoadIdentity(ctx, identity)
	if err != nil {
		return wrapError(CodePersistenceFailure, "arrive", "", identity, err, "load player variables")
	}
	n := e.loadRows(ir.ScopePlayer, identity, rows)
	e.cache.PurgeIdentity(identity)

	for _, row := range rows {
		def, ok := e.registry.Lookup(row.Key)
		if !ok || def.IsGlobal() || def.HasConditions() {
			continue
		}
		e.current(ctx, def, identity, expr.Root().Push(def.Key))
	}

	e.logger.Debug("identity arrived", "identity", identity, "loaded", n)
	return nil
}

// OnIdentityDeparture flushes identity's dirty variables, drops its
// snapshots and cache entries, and evicts it from memory once the flush
// left nothing dirty.
func (e *Engine) OnIdentityDeparture(ctx context.Context, identity string) *persist.Future {
	if identity == "" {
		return persist.Completed(persist.FlushReport{},
			newError(CodeIdentityRequired, "depart", "", "", "departure needs an identity"))
	}

	e.snapshots.ForgetIdentity(identity)
	e.cache.PurgeIdentity(identity)

	if e.pipeline == nil {
		return persist.Completed(persist.FlushReport{Identity: identity}, nil)
	}

	e.presenceMu.Lock()
	gen := e.presence[identity]
	e.presenceMu.Unlock()

	f := e.pipeline.FlushIdentity(ctx, identity)
	go func() {
		<-f.Done()
		e.presenceMu.Lock()
		defer e.presenceMu.Unlock()
		if e.presence[identity] != gen {
			return
		}
		if e.mem.EvictIdentity(identity) {
			delete(e.presence, identity)
			e.logger.Debug("identity evicted", "identity", identity)
		}
	}()
	return f.MapErr(e.persistenceError("depart", identity))
}

// SaveAll flushes every dirty variable. With force set a failed batch
// fails the returned future; otherwise failures are logged and the records
// wait for the next cycle.
func (e *Engine) SaveAll(ctx context.Context, force bool) *persist.Future {
	if e.pipeline == nil {
		return persist.Completed(persist.FlushReport{}, nil)
	}
	f := e.pipeline.FlushAll(ctx)
	if force {
		return f.MapErr(e.persistenceError("save", ""))
	}
	return f.MapErr(func(err error) error {
		e.logger.Warn("deferred flush incomplete", "error", err)
		return nil
	})
}

func (e *Engine) persistenceError(op, identity string) func(error) error {
	return func(err error) error {
		if CodeOf(err) != "" {
			return err
		}
		return wrapError(CodePersistenceFailure, op, "", identity, err, "flush failed")
	}
}

// Reload replaces the definitions. On validation failure the current
// definitions stay in place. Memory entries of removed keys are purged
// along with their pending writes; their rows are left in the store.
func (e *Engine) Reload(defs []ir.Definition) error {
	removed, err := e.registry.Load(defs)
	if err != nil {
		return err
	}
	e.cache.Purge()
	for _, key := range removed {
		n := e.mem.PurgeKey(key)
		e.snapshots.ForgetKey(key)
		e.logger.Info("definition removed", "key", key, "entries_purged", n)
	}
	return nil
}

// loadRows inserts persisted rows as clean entries and returns how many
// were loaded.
func (e *Engine) loadRows(scope ir.Scope, identity string, rows []store.Row) int {
	n := 0
	for _, row := range rows {
		def, ok := e.registry.Lookup(row.Key)
		if !ok || def.Scope != scope {
			e.logger.Debug("skipping persisted row without definition",
				"key", row.Key,
				"identity", identity,
			)
			continue
		}
		rec := memstore.Record{
			Scope:    scope,
			Identity: identity,
			Key:      row.Key,
			Entry: memstore.Entry{
				Value:          row.Value.String,
				HasValue:       row.Value.Valid,
				StrictBase:     row.StrictBase.String,
				StrictComputed: row.StrictBase.Valid,
				FirstModified:  time.UnixMilli(row.CreatedAt),
				Updated:        time.UnixMilli(row.UpdatedAt),
			},
		}
		if e.mem.LoadFromPersisted(rec) {
			n++
		}
	}
	return n
}
