// Package executor dispatches parsed statements against a catalog
// Session: DDL mutates the catalog directly; DML applies constraint
// checks and the ON CONFLICT rules; SELECT runs the eleven-step
// pipeline in pkg/executor/select.go.
package executor

import (
	"time"

	"github.com/hamzaexact/sqlens/pkg/catalog"
	"github.com/hamzaexact/sqlens/pkg/eval"
	"github.com/hamzaexact/sqlens/pkg/sql/parser"
	"github.com/hamzaexact/sqlens/pkg/sqlerr"
	"github.com/hamzaexact/sqlens/pkg/types"
)

// Session is the engine-context value passed into every executor
// entry point: the catalog registry, the session's current database,
// and the shared function library. It is session-scoped, never a
// process-wide global, per the design notes.
type Session struct {
	Registry  *catalog.Registry
	Current   *catalog.Database
	Functions *eval.FunctionRegistry
}

func NewSession(registry *catalog.Registry) *Session {
	return &Session{Registry: registry, Functions: eval.DefaultFunctionRegistry()}
}

// Result is the uniform shape every statement produces: DQL/RETURNING
// statements populate Columns/ColumnKinds/Rows; DDL/DML without
// RETURNING populate Status/RowsAffected instead.
type Result struct {
	Columns     []string
	ColumnKinds []types.Kind
	Rows        [][]types.Value

	Status       string
	RowsAffected int
}

// Execute dispatches stmt against sess. now is the wall-clock reading
// captured once by the caller (the engine layer) for this statement,
// so CURRENT_DATE/NOW() stay consistent within one statement per §5.
func Execute(sess *Session, stmt parser.Statement, now time.Time) (*Result, error) {
	switch s := stmt.(type) {
	case *parser.CreateDatabaseStmt:
		return execCreateDatabase(sess, s)
	case *parser.DropDatabaseStmt:
		return execDropDatabase(sess, s)
	case *parser.UseStmt:
		return execUse(sess, s)

	case *parser.CreateTableStmt:
		return execCreateTable(sess, s)
	case *parser.AlterTableStmt:
		return execAlterTable(sess, s)
	case *parser.DropTableStmt:
		return execDropTable(sess, s)

	case *parser.CreateViewStmt:
		return execCreateView(sess, s, now)
	case *parser.RefreshMaterializedViewStmt:
		return execRefreshMaterializedView(sess, s, now)
	case *parser.DropViewStmt:
		return execDropView(sess, s)

	case *parser.InsertStmt:
		return execInsert(sess, s, now)
	case *parser.UpdateStmt:
		return execUpdate(sess, s, now)
	case *parser.DeleteStmt:
		return execDelete(sess, s, now)

	case *parser.SelectStmt:
		rs, cols, err := runSelect(sess, s, now, nil)
		if err != nil {
			return nil, err
		}
		return &Result{Columns: rs.Columns, ColumnKinds: cols, Rows: rs.Rows}, nil
	}
	return nil, sqlerr.TypeErr("unsupported statement type %T", stmt)
}

func requireCurrentDatabase(sess *Session) (*catalog.Database, error) {
	if sess.Current == nil {
		return nil, sqlerr.StateErr("no current database selected")
	}
	return sess.Current, nil
}

func kindsOf(cols []string, row []types.Value) []types.Kind {
	kinds := make([]types.Kind, len(cols))
	if row == nil {
		return kinds
	}
	for i := range cols {
		kinds[i] = row[i].Kind()
	}
	return kinds
}
