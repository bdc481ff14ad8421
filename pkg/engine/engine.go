// Package engine is the session-scoped handle a caller opens once and
// drives with batches of SQL: it owns the catalog registry, the
// current-database selection, the Clock port, and (optionally) a
// snapshot Store for persistence across process restarts.
package engine

import (
	"context"
	"sync"

	"github.com/hamzaexact/sqlens/pkg/catalog"
	"github.com/hamzaexact/sqlens/pkg/executor"
	"github.com/hamzaexact/sqlens/pkg/snapshot"
	"github.com/hamzaexact/sqlens/pkg/sqlerr"
	"github.com/hamzaexact/sqlens/pkg/sql/parser"
)

// Options configures Open. SnapshotDir, when set, wires a FileStore
// rooted there; ReadOnly rejects Save. Clock defaults to the system
// clock when nil.
type Options struct {
	SnapshotDir string
	ReadOnly    bool
	Clock       Clock
}

// Engine is single-threaded cooperative per §5: mu serializes whole
// batches against each other, and no statement inside a batch ever
// suspends, so holding it for an entire ExecBatchContext call is safe.
type Engine struct {
	mu     sync.Mutex
	sess   *executor.Session
	clock  Clock
	store  snapshot.Store
	ro     bool
	closed bool
}

// Open starts a fresh, empty engine with no snapshot store.
func Open() (*Engine, error) {
	return OpenWithOptions(Options{})
}

// OpenWithOptions starts a fresh engine per opts.
func OpenWithOptions(opts Options) (*Engine, error) {
	clock := opts.Clock
	if clock == nil {
		clock = systemClock{}
	}
	var store snapshot.Store
	if opts.SnapshotDir != "" {
		fs, err := snapshot.NewFileStore(opts.SnapshotDir)
		if err != nil {
			return nil, err
		}
		store = fs
	}
	return &Engine{
		sess:  executor.NewSession(catalog.NewRegistry()),
		clock: clock,
		store: store,
		ro:    opts.ReadOnly,
	}, nil
}

// Close marks the engine unusable for further statements. There is no
// file handle to release - the underlying Store (if any) only touches
// the filesystem for the duration of a single Save/Load call - but
// Close still exists so callers have the same lifecycle shape as a
// file-backed handle.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *Engine) IsClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// CurrentDatabase returns the name of the session's selected database,
// or "" if none has been selected via USE.
func (e *Engine) CurrentDatabase() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess.Current == nil {
		return ""
	}
	return e.sess.Current.Name
}

// StatementResult pairs one batch statement with its outcome.
type StatementResult struct {
	Result *executor.Result
	Err    error
}

// ExecContext runs a single SQL statement and returns its Result. If
// sql contains more than one `;`-separated statement, use
// ExecBatchContext instead.
func (e *Engine) ExecContext(ctx context.Context, sql string) (*executor.Result, error) {
	stmts, err := parser.New(sql).ParseStatements()
	if err != nil {
		return nil, err
	}
	if len(stmts) != 1 {
		return nil, sqlerr.SyntaxAt(0, "ExecContext expects exactly one statement, got %d", len(stmts))
	}
	results, err := e.ExecBatchContext(ctx, sql)
	if err != nil {
		return nil, err
	}
	if len(results) != 1 {
		return nil, sqlerr.SyntaxAt(0, "ExecContext expects exactly one statement, got %d", len(results))
	}
	return results[0].Result, results[0].Err
}

// ExecBatchContext parses sql as a `;`-separated batch and executes
// each statement in order. Per §6: failure of statement k aborts
// statement k only - statements 1..k-1 remain committed in the
// catalog (each Execute call already applied its own mutation before
// the next one is attempted), and k+1.. are never executed. ctx is
// checked only at statement boundaries, matching the "no suspension
// points inside a statement" cooperative model.
func (e *Engine) ExecBatchContext(ctx context.Context, sql string) ([]StatementResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stmts, err := parser.New(sql).ParseStatements()
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, sqlerr.StateErr("engine is closed")
	}

	results := make([]StatementResult, 0, len(stmts))
	for _, stmt := range stmts {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		now := e.clock.Now()
		res, execErr := executor.Execute(e.sess, stmt, now)
		results = append(results, StatementResult{Result: res, Err: execErr})
		if execErr != nil {
			break
		}
	}
	return results, nil
}

// Save encodes the named database and persists it through the
// configured Store.
func (e *Engine) Save(ctx context.Context, dbName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil {
		return sqlerr.StateErr("engine has no snapshot store configured")
	}
	if e.ro {
		return sqlerr.StateErr("engine is read-only")
	}
	db, err := e.sess.Registry.GetDatabase(dbName)
	if err != nil {
		return err
	}
	data, err := snapshot.Encode(db)
	if err != nil {
		return err
	}
	return e.store.Save(dbName, data)
}

// Load restores the named database from the configured Store,
// installing it into the session's registry (overwriting any
// in-memory database of the same name).
func (e *Engine) Load(ctx context.Context, dbName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil {
		return sqlerr.StateErr("engine has no snapshot store configured")
	}
	data, err := e.store.Load(dbName)
	if err != nil {
		return err
	}
	db, err := snapshot.Decode(data)
	if err != nil {
		return err
	}
	e.sess.Registry.PutDatabase(db)
	return nil
}

// ListSnapshots returns the names of every database the configured
// Store has a saved snapshot for.
func (e *Engine) ListSnapshots() ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil {
		return nil, sqlerr.StateErr("engine has no snapshot store configured")
	}
	return e.store.List()
}
