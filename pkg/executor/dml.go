package executor

import (
	"time"

	"github.com/hamzaexact/sqlens/pkg/catalog"
	"github.com/hamzaexact/sqlens/pkg/eval"
	"github.com/hamzaexact/sqlens/pkg/sql/parser"
	"github.com/hamzaexact/sqlens/pkg/sqlerr"
	"github.com/hamzaexact/sqlens/pkg/types"
)

// rowEnv builds an evaluation environment scoped to a single candidate
// row of table, wired with the session's function registry and a
// subquery runner that re-enters the SELECT pipeline.
func rowEnv(sess *Session, table *catalog.Table, row []types.Value, now time.Time) *eval.Env {
	cols := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		cols[i] = c.Name
	}
	return &eval.Env{
		Columns:   cols,
		Row:       row,
		Alias:     table.Name,
		Functions: sess.Functions,
		Now:       now,
		RunQuery: func(stmt *parser.SelectStmt, outer *eval.Env) (*eval.RowSet, error) {
			rs, _, err := runSelect(sess, stmt, now, outer)
			return rs, err
		},
	}
}

func literalEnv(sess *Session, now time.Time) *eval.Env {
	return &eval.Env{
		Functions: sess.Functions,
		Now:       now,
		RunQuery: func(stmt *parser.SelectStmt, outer *eval.Env) (*eval.RowSet, error) {
			rs, _, err := runSelect(sess, stmt, now, outer)
			return rs, err
		},
	}
}

// checkRowConstraints validates row against table's constraints in the
// fixed order NOT NULL, CHECK, UNIQUE, PRIMARY KEY. against is the row
// set row's uniqueness is compared to - the statement's proposed final
// row set, which INSERT and UPDATE both stage so that several candidate
// rows are validated against each other before any of them is
// committed. skipIndex excludes one row (row's own
// slot in against) from the uniqueness scan; pass -1 when none should
// be excluded.
func checkRowConstraints(sess *Session, table *catalog.Table, against [][]types.Value, row []types.Value, skipIndex int, now time.Time) error {
	for i, col := range table.Columns {
		if !col.Nullable && row[i].IsNull() {
			return sqlerr.ConstraintErr("NOT NULL", "column %q may not be NULL", col.Name)
		}
	}
	for _, c := range table.Constraints {
		if c.Kind != catalog.ConstraintCheck {
			continue
		}
		tri, err := eval.EvalBool(c.Check, rowEnv(sess, table, row, now))
		if err != nil {
			return err
		}
		if !tri.AdmitCheck() {
			name := c.Name
			if name == "" {
				name = "CHECK"
			}
			return sqlerr.ConstraintErr(name, "CHECK constraint violated")
		}
	}
	keyed := make([]catalog.Constraint, 0, len(table.Constraints))
	for _, kind := range []catalog.ConstraintKind{catalog.ConstraintUnique, catalog.ConstraintPrimaryKey} {
		for _, c := range table.Constraints {
			if c.Kind == kind {
				keyed = append(keyed, c)
			}
		}
	}
	for _, c := range keyed {
		if constraintKeyHasNull(table, c, row) && c.Kind == catalog.ConstraintUnique {
			continue
		}
		for ri, existing := range against {
			if ri == skipIndex {
				continue
			}
			if rowsMatchOnColumns(table, c.Columns, existing, row) {
				name := c.Name
				if name == "" {
					name = "PRIMARY KEY"
					if c.Kind == catalog.ConstraintUnique {
						name = "UNIQUE"
					}
				}
				return sqlerr.ConstraintErr(name, "duplicate value violates %s constraint on (%v)", name, c.Columns)
			}
		}
	}
	return nil
}

// coerceToColumn type-checks and coerces v to col's declared type,
// reusing the same conversions an explicit CAST expression uses.
// VARCHAR/CHAR length is advisory everywhere except here: a value that
// overruns it is rejected.
func coerceToColumn(v types.Value, col catalog.Column) (types.Value, error) {
	if v.IsNull() {
		return v, nil
	}
	out, err := eval.Cast(v, col.Type)
	if err != nil {
		return types.Value{}, err
	}
	if col.Type.IsString() && col.Type.Length > 0 && len(out.String()) > col.Type.Length {
		return types.Value{}, sqlerr.TypeErr("value %q exceeds length %d for column %q", out.String(), col.Type.Length, col.Name)
	}
	return out, nil
}

func constraintKeyHasNull(table *catalog.Table, c catalog.Constraint, row []types.Value) bool {
	for _, colName := range c.Columns {
		idx := table.ColumnIndex(colName)
		if idx != -1 && row[idx].IsNull() {
			return true
		}
	}
	return false
}

func rowsMatchOnColumns(table *catalog.Table, columns []string, a, b []types.Value) bool {
	for _, colName := range columns {
		idx := table.ColumnIndex(colName)
		if idx == -1 {
			return false
		}
		if a[idx].IsNull() || b[idx].IsNull() {
			return false
		}
		if !types.Equal(a[idx], b[idx]) {
			return false
		}
	}
	return true
}

// findConflictRow returns the index within rows of an existing row
// colliding with candidate on target's unique/primary-key columns, or
// -1. rows is an explicit view so callers can probe a staged batch
// (not yet committed to table.Rows) for conflicts against earlier rows
// in the same batch as well as the table's committed rows.
func findConflictRow(table *catalog.Table, rows [][]types.Value, target []string, candidate []types.Value) int {
	for _, c := range table.Constraints {
		if c.Kind != catalog.ConstraintUnique && c.Kind != catalog.ConstraintPrimaryKey {
			continue
		}
		if len(target) > 0 && !sameColumnSet(c.Columns, target) {
			continue
		}
		for ri, existing := range rows {
			if rowsMatchOnColumns(table, c.Columns, existing, candidate) {
				return ri
			}
		}
	}
	return -1
}

func sameColumnSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := map[string]bool{}
	for _, c := range a {
		seen[c] = true
	}
	for _, c := range b {
		if !seen[c] {
			return false
		}
	}
	return true
}

func execInsert(sess *Session, s *parser.InsertStmt, now time.Time) (*Result, error) {
	db, err := requireCurrentDatabase(sess)
	if err != nil {
		return nil, err
	}
	table, err := db.GetTable(s.TableName)
	if err != nil {
		return nil, err
	}

	targetIdx := make([]int, len(s.Columns))
	if len(s.Columns) > 0 {
		for i, name := range s.Columns {
			idx := table.ColumnIndex(name)
			if idx == -1 {
				return nil, sqlerr.NameErr("column %q does not exist on table %q", name, table.Name)
			}
			targetIdx[i] = idx
		}
	} else {
		targetIdx = make([]int, len(table.Columns))
		for i := range table.Columns {
			targetIdx[i] = i
		}
	}

	// All-or-nothing: every row (and SERIAL bump) is staged into final,
	// a proposed post-statement table state, and validated against that
	// state before any of it is committed to table.Rows or
	// table.Columns[i].SerialNext. A later row failing a constraint
	// leaves the table byte-identical to how it started.
	final := append([][]types.Value(nil), table.Rows...)
	originalLen := len(table.Rows)
	serialNext := make(map[int]int64)

	var returned [][]types.Value
	affected := 0

	for _, exprRow := range s.Rows {
		if len(exprRow) != len(targetIdx) {
			return nil, sqlerr.TypeErr("INSERT has %d values but %d target columns", len(exprRow), len(targetIdx))
		}
		row := make([]types.Value, len(table.Columns))
		provided := make([]bool, len(table.Columns))
		lenv := literalEnv(sess, now)
		for i, expr := range exprRow {
			v, err := eval.Eval(expr, lenv)
			if err != nil {
				return nil, err
			}
			v, err = coerceToColumn(v, table.Columns[targetIdx[i]])
			if err != nil {
				return nil, err
			}
			row[targetIdx[i]] = v
			provided[targetIdx[i]] = true
		}
		for i, col := range table.Columns {
			if provided[i] {
				continue
			}
			if col.Type.Kind == types.ColSerial {
				next, staged := serialNext[i]
				if !staged {
					next = col.SerialNext
				}
				row[i] = types.NewInt(next)
				serialNext[i] = next + 1
				continue
			}
			if col.Default != nil {
				v, err := eval.Eval(col.Default, lenv)
				if err != nil {
					return nil, err
				}
				v, err = coerceToColumn(v, col)
				if err != nil {
					return nil, err
				}
				row[i] = v
				continue
			}
			row[i] = types.NewNull()
		}

		conflictIdx := -1
		if s.OnConflict != nil {
			conflictIdx = findConflictRow(table, final, s.OnConflict.Target, row)
		}
		if conflictIdx != -1 {
			if s.OnConflict.DoNothing {
				continue
			}
			updated := append([]types.Value(nil), final[conflictIdx]...)
			uenv := rowEnv(sess, table, final[conflictIdx], now)
			for _, a := range s.OnConflict.DoUpdate {
				idx := table.ColumnIndex(a.Column)
				if idx == -1 {
					return nil, sqlerr.NameErr("unknown column in DO UPDATE SET")
				}
				v, err := eval.Eval(a.Value, uenv)
				if err != nil {
					return nil, err
				}
				v, err = coerceToColumn(v, table.Columns[idx])
				if err != nil {
					return nil, err
				}
				updated[idx] = v
			}
			if err := checkRowConstraints(sess, table, final, updated, conflictIdx, now); err != nil {
				return nil, err
			}
			final[conflictIdx] = updated
			affected++
			if s.Returning {
				returned = append(returned, append([]types.Value(nil), updated...))
			}
			continue
		}

		if err := checkRowConstraints(sess, table, final, row, -1, now); err != nil {
			return nil, err
		}
		final = append(final, row)
		affected++
		if s.Returning {
			returned = append(returned, append([]types.Value(nil), row...))
		}
	}

	for i := 0; i < originalLen; i++ {
		table.Rows[i] = final[i]
	}
	table.Rows = append(table.Rows, final[originalLen:]...)
	for i, next := range serialNext {
		table.Columns[i].SerialNext = next
	}

	res := &Result{Status: "INSERT", RowsAffected: affected}
	if s.Returning {
		res.Columns = columnNames(table)
		res.Rows = returned
		res.ColumnKinds = kindsOf(res.Columns, firstRow(returned))
	}
	return res, nil
}

func columnNames(table *catalog.Table) []string {
	names := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		names[i] = c.Name
	}
	return names
}

func firstRow(rows [][]types.Value) []types.Value {
	if len(rows) == 0 {
		return nil
	}
	return rows[0]
}

func execUpdate(sess *Session, s *parser.UpdateStmt, now time.Time) (*Result, error) {
	db, err := requireCurrentDatabase(sess)
	if err != nil {
		return nil, err
	}
	table, err := db.GetTable(s.TableName)
	if err != nil {
		return nil, err
	}

	type pending struct {
		index   int
		newRow  []types.Value
	}
	var changes []pending

	for i, row := range table.Rows {
		if s.Where != nil {
			tri, err := eval.EvalBool(s.Where, rowEnv(sess, table, row, now))
			if err != nil {
				return nil, err
			}
			if !tri.Admit() {
				continue
			}
		}
		snapshot := rowEnv(sess, table, row, now)
		newRow := append([]types.Value(nil), row...)
		for _, a := range s.Set {
			idx := table.ColumnIndex(a.Column)
			if idx == -1 {
				return nil, sqlerr.NameErr("unknown column in SET clause")
			}
			v, err := eval.Eval(a.Value, snapshot)
			if err != nil {
				return nil, err
			}
			v, err = coerceToColumn(v, table.Columns[idx])
			if err != nil {
				return nil, err
			}
			newRow[idx] = v
		}
		changes = append(changes, pending{index: i, newRow: newRow})
	}

	// All-or-nothing: validate every candidate row against the proposed
	// final table state - which reflects every other pending change too,
	// so two rows updated into collision with each other are caught even
	// though neither collides with the original, unmodified table.
	final := append([][]types.Value(nil), table.Rows...)
	for _, c := range changes {
		final[c.index] = c.newRow
	}
	for _, c := range changes {
		if err := checkRowConstraints(sess, table, final, c.newRow, c.index, now); err != nil {
			return nil, err
		}
	}
	var returned [][]types.Value
	for _, c := range changes {
		table.Rows[c.index] = c.newRow
		if s.Returning {
			returned = append(returned, append([]types.Value(nil), c.newRow...))
		}
	}

	res := &Result{Status: "UPDATE", RowsAffected: len(changes)}
	if s.Returning {
		res.Columns = columnNames(table)
		res.Rows = returned
		res.ColumnKinds = kindsOf(res.Columns, firstRow(returned))
	}
	return res, nil
}

func execDelete(sess *Session, s *parser.DeleteStmt, now time.Time) (*Result, error) {
	db, err := requireCurrentDatabase(sess)
	if err != nil {
		return nil, err
	}
	table, err := db.GetTable(s.TableName)
	if err != nil {
		return nil, err
	}

	var kept [][]types.Value
	var returned [][]types.Value
	for _, row := range table.Rows {
		match := true
		if s.Where != nil {
			tri, err := eval.EvalBool(s.Where, rowEnv(sess, table, row, now))
			if err != nil {
				return nil, err
			}
			match = tri.Admit()
		}
		if match {
			if s.Returning {
				returned = append(returned, append([]types.Value(nil), row...))
			}
			continue
		}
		kept = append(kept, row)
	}
	affected := len(table.Rows) - len(kept)
	table.Rows = kept

	res := &Result{Status: "DELETE", RowsAffected: affected}
	if s.Returning {
		res.Columns = columnNames(table)
		res.Rows = returned
		res.ColumnKinds = kindsOf(res.Columns, firstRow(returned))
	}
	return res, nil
}
