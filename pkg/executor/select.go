package executor

import (
	"time"

	"github.com/hamzaexact/sqlens/pkg/eval"
	"github.com/hamzaexact/sqlens/pkg/sql/parser"
	"github.com/hamzaexact/sqlens/pkg/sqlerr"
	"github.com/hamzaexact/sqlens/pkg/types"
)

func isAggregateName(name string) bool {
	switch name {
	case "COUNT", "SUM", "AVG", "MIN", "MAX":
		return true
	}
	return false
}

// collectAggregateCalls walks expr and appends every aggregate
// FunctionCall node it finds, by AST pointer identity.
func collectAggregateCalls(expr parser.Expression, out []*parser.FunctionCall) []*parser.FunctionCall {
	if expr == nil {
		return out
	}
	switch e := expr.(type) {
	case *parser.FunctionCall:
		if isAggregateName(e.Name) {
			out = append(out, e)
			return out
		}
		for _, a := range e.Args {
			out = collectAggregateCalls(a, out)
		}
	case *parser.BinaryExpr:
		out = collectAggregateCalls(e.Left, out)
		out = collectAggregateCalls(e.Right, out)
	case *parser.UnaryExpr:
		out = collectAggregateCalls(e.Right, out)
	case *parser.Between:
		out = collectAggregateCalls(e.Expr, out)
		out = collectAggregateCalls(e.Low, out)
		out = collectAggregateCalls(e.High, out)
	case *parser.InList:
		out = collectAggregateCalls(e.Expr, out)
		for _, a := range e.List {
			out = collectAggregateCalls(a, out)
		}
	case *parser.LikeExpr:
		out = collectAggregateCalls(e.Expr, out)
		out = collectAggregateCalls(e.Pattern, out)
	case *parser.IsNullExpr:
		out = collectAggregateCalls(e.Expr, out)
	case *parser.CaseExpr:
		if e.Operand != nil {
			out = collectAggregateCalls(e.Operand, out)
		}
		for _, w := range e.Whens {
			out = collectAggregateCalls(w.When, out)
			out = collectAggregateCalls(w.Then, out)
		}
		if e.Else != nil {
			out = collectAggregateCalls(e.Else, out)
		}
	case *parser.CastExpr:
		out = collectAggregateCalls(e.Expr, out)
	case *parser.CoalesceExpr:
		for _, a := range e.Args {
			out = collectAggregateCalls(a, out)
		}
	case *parser.NullIfExpr:
		out = collectAggregateCalls(e.A, out)
		out = collectAggregateCalls(e.B, out)
	}
	return out
}

// validateGroupedColumns walks expr and rejects any column reference
// outside an aggregate call that doesn't match one of groupBy's key
// expressions: over a grouped query, a non-aggregated reference must
// name a grouping key or there is no single value for it to produce.
func validateGroupedColumns(expr parser.Expression, groupBy []parser.Expression) error {
	if expr == nil {
		return nil
	}
	switch e := expr.(type) {
	case *parser.ColumnRef:
		for _, g := range groupBy {
			if exprEqual(e, g) {
				return nil
			}
		}
		name := e.Name
		if e.Table != "" {
			name = e.Table + "." + e.Name
		}
		return sqlerr.NameErr("column %q must appear in GROUP BY or be used in an aggregate function", name)
	case *parser.FunctionCall:
		if isAggregateName(e.Name) {
			return nil
		}
		for _, a := range e.Args {
			if err := validateGroupedColumns(a, groupBy); err != nil {
				return err
			}
		}
	case *parser.BinaryExpr:
		if err := validateGroupedColumns(e.Left, groupBy); err != nil {
			return err
		}
		return validateGroupedColumns(e.Right, groupBy)
	case *parser.UnaryExpr:
		return validateGroupedColumns(e.Right, groupBy)
	case *parser.Between:
		if err := validateGroupedColumns(e.Expr, groupBy); err != nil {
			return err
		}
		if err := validateGroupedColumns(e.Low, groupBy); err != nil {
			return err
		}
		return validateGroupedColumns(e.High, groupBy)
	case *parser.InList:
		if err := validateGroupedColumns(e.Expr, groupBy); err != nil {
			return err
		}
		for _, a := range e.List {
			if err := validateGroupedColumns(a, groupBy); err != nil {
				return err
			}
		}
	case *parser.LikeExpr:
		if err := validateGroupedColumns(e.Expr, groupBy); err != nil {
			return err
		}
		return validateGroupedColumns(e.Pattern, groupBy)
	case *parser.IsNullExpr:
		return validateGroupedColumns(e.Expr, groupBy)
	case *parser.CaseExpr:
		if e.Operand != nil {
			if err := validateGroupedColumns(e.Operand, groupBy); err != nil {
				return err
			}
		}
		for _, w := range e.Whens {
			if err := validateGroupedColumns(w.When, groupBy); err != nil {
				return err
			}
			if err := validateGroupedColumns(w.Then, groupBy); err != nil {
				return err
			}
		}
		if e.Else != nil {
			return validateGroupedColumns(e.Else, groupBy)
		}
	case *parser.CastExpr:
		return validateGroupedColumns(e.Expr, groupBy)
	case *parser.CoalesceExpr:
		for _, a := range e.Args {
			if err := validateGroupedColumns(a, groupBy); err != nil {
				return err
			}
		}
	case *parser.NullIfExpr:
		if err := validateGroupedColumns(e.A, groupBy); err != nil {
			return err
		}
		return validateGroupedColumns(e.B, groupBy)
	}
	return nil
}

// exprEqual reports whether a and b are the same expression, used to
// match a SELECT-list or HAVING column reference against a GROUP BY
// key. It covers the expression shapes GROUP BY commonly uses; anything
// else compares unequal rather than risk a false match.
func exprEqual(a, b parser.Expression) bool {
	switch x := a.(type) {
	case *parser.ColumnRef:
		y, ok := b.(*parser.ColumnRef)
		return ok && x.Table == y.Table && x.Name == y.Name
	case *parser.Literal:
		y, ok := b.(*parser.Literal)
		return ok && types.Equal(x.Value, y.Value)
	case *parser.BinaryExpr:
		y, ok := b.(*parser.BinaryExpr)
		return ok && x.Op == y.Op && exprEqual(x.Left, y.Left) && exprEqual(x.Right, y.Right)
	case *parser.UnaryExpr:
		y, ok := b.(*parser.UnaryExpr)
		return ok && x.Op == y.Op && exprEqual(x.Right, y.Right)
	case *parser.FunctionCall:
		y, ok := b.(*parser.FunctionCall)
		if !ok || x.Name != y.Name || x.Star != y.Star || x.Distinct != y.Distinct || len(x.Args) != len(y.Args) {
			return false
		}
		for i := range x.Args {
			if !exprEqual(x.Args[i], y.Args[i]) {
				return false
			}
		}
		return true
	case *parser.CastExpr:
		y, ok := b.(*parser.CastExpr)
		return ok && x.Target == y.Target && exprEqual(x.Expr, y.Expr)
	}
	return false
}

type rowGroup struct {
	rows [][]types.Value
}

func sourceEnv(cols []string, alias string, row []types.Value, ctes map[string]*eval.RowSet, sess *Session, now time.Time, outer *eval.Env) *eval.Env {
	env := &eval.Env{
		Columns:   cols,
		Row:       row,
		Alias:     alias,
		CTEs:      ctes,
		Functions: sess.Functions,
		Now:       now,
	}
	env.RunQuery = func(stmt *parser.SelectStmt, callerEnv *eval.Env) (*eval.RowSet, error) {
		rs, _, err := runSelect(sess, stmt, now, callerEnv)
		return rs, err
	}
	return env
}

func resolveFrom(sess *Session, from *parser.FromSource, ctes map[string]*eval.RowSet, now time.Time, outer *eval.Env) (cols []string, alias string, rows [][]types.Value, err error) {
	if from == nil {
		return nil, "", [][]types.Value{{}}, nil
	}
	if from.Subquery != nil {
		rs, _, err := runSelect(sess, from.Subquery, now, outer)
		if err != nil {
			return nil, "", nil, err
		}
		alias = from.Alias
		return rs.Columns, alias, rs.Rows, nil
	}
	name := from.Name
	alias = from.Alias
	if alias == "" {
		alias = name
	}
	if rs, ok := ctes[name]; ok {
		return rs.Columns, alias, rs.Rows, nil
	}
	db, err := requireCurrentDatabase(sess)
	if err != nil {
		return nil, "", nil, err
	}
	if mv, ok := db.GetMaterializedView(name); ok {
		return mv.Columns, alias, mv.Rows, nil
	}
	if v, ok := db.GetView(name); ok {
		rs, _, err := runSelect(sess, v.Query, now, outer)
		if err != nil {
			return nil, "", nil, err
		}
		return rs.Columns, alias, rs.Rows, nil
	}
	table, err := db.GetTable(name)
	if err != nil {
		return nil, "", nil, err
	}
	return columnNames(table), alias, table.Rows, nil
}

// runSelectCore performs source resolution through DISTINCT: steps 1-8
// of the pipeline. It does not combine set operations or apply ORDER
// BY/LIMIT/OFFSET, which belong to the whole statement chain.
func runSelectCore(sess *Session, stmt *parser.SelectStmt, now time.Time, ctes map[string]*eval.RowSet, outer *eval.Env) (*eval.RowSet, []types.Kind, error) {
	cols, alias, srcRows, err := resolveFrom(sess, stmt.From, ctes, now, outer)
	if err != nil {
		return nil, nil, err
	}

	var filtered [][]types.Value
	for _, row := range srcRows {
		if stmt.Where != nil {
			tri, err := eval.EvalBool(stmt.Where, sourceEnv(cols, alias, row, ctes, sess, now, outer))
			if err != nil {
				return nil, nil, err
			}
			if !tri.Admit() {
				continue
			}
		}
		filtered = append(filtered, row)
	}

	var aggCalls []*parser.FunctionCall
	for _, item := range stmt.Columns {
		if item.Expr != nil {
			aggCalls = collectAggregateCalls(item.Expr, aggCalls)
		}
	}
	aggCalls = collectAggregateCalls(stmt.Having, aggCalls)

	if len(stmt.GroupBy) > 0 || len(aggCalls) > 0 {
		for _, item := range stmt.Columns {
			if item.Star {
				continue
			}
			if err := validateGroupedColumns(item.Expr, stmt.GroupBy); err != nil {
				return nil, nil, err
			}
		}
		if err := validateGroupedColumns(stmt.Having, stmt.GroupBy); err != nil {
			return nil, nil, err
		}
	}

	var groups []rowGroup
	if len(stmt.GroupBy) == 0 && len(aggCalls) == 0 {
		for _, row := range filtered {
			groups = append(groups, rowGroup{rows: [][]types.Value{row}})
		}
	} else if len(stmt.GroupBy) == 0 {
		groups = append(groups, rowGroup{rows: filtered})
	} else {
		type keyedGroup struct {
			key  []types.Value
			rows [][]types.Value
		}
		var keyed []keyedGroup
		for _, row := range filtered {
			env := sourceEnv(cols, alias, row, ctes, sess, now, outer)
			key := make([]types.Value, len(stmt.GroupBy))
			for i, g := range stmt.GroupBy {
				v, err := eval.Eval(g, env)
				if err != nil {
					return nil, nil, err
				}
				key[i] = v
			}
			placed := false
			for i := range keyed {
				if keysEqual(keyed[i].key, key) {
					keyed[i].rows = append(keyed[i].rows, row)
					placed = true
					break
				}
			}
			if !placed {
				keyed = append(keyed, keyedGroup{key: key, rows: [][]types.Value{row}})
			}
		}
		for _, kg := range keyed {
			groups = append(groups, rowGroup{rows: kg.rows})
		}
	}

	var outCols []string
	var outRows [][]types.Value
	for _, grp := range groups {
		var sample []types.Value
		if len(grp.rows) > 0 {
			sample = grp.rows[0]
		} else {
			sample = make([]types.Value, len(cols))
			for i := range sample {
				sample[i] = types.NewNull()
			}
		}
		env := sourceEnv(cols, alias, sample, ctes, sess, now, outer)
		if len(aggCalls) > 0 {
			env.Aggregates = make(map[*parser.FunctionCall]types.Value)
			for _, call := range aggCalls {
				v, err := finalizeAggregate(call, grp.rows, cols, alias, ctes, sess, now, outer)
				if err != nil {
					return nil, nil, err
				}
				env.Aggregates[call] = v
			}
		}
		if stmt.Having != nil {
			tri, err := eval.EvalBool(stmt.Having, env)
			if err != nil {
				return nil, nil, err
			}
			if !tri.Admit() {
				continue
			}
		}

		rowOut, rowColsOut, err := project(stmt.Columns, cols, alias, env)
		if err != nil {
			return nil, nil, err
		}
		if outCols == nil {
			outCols = rowColsOut
		}
		outRows = append(outRows, rowOut)
	}
	if outCols == nil {
		outCols, _, _ = project(stmt.Columns, cols, alias, sourceEnv(cols, alias, make([]types.Value, len(cols)), ctes, sess, now, outer))
	}

	if stmt.Distinct {
		outRows = dedupeRows(outRows)
	}

	kinds := kindsOf(outCols, firstRow(outRows))
	return &eval.RowSet{Columns: outCols, Rows: outRows}, kinds, nil
}

func keysEqual(a, b []types.Value) bool {
	for i := range a {
		if !types.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func dedupeRows(rows [][]types.Value) [][]types.Value {
	var out [][]types.Value
	for _, r := range rows {
		dup := false
		for _, o := range out {
			if rowsEqual(r, o) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, r)
		}
	}
	return out
}

func rowsEqual(a, b []types.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !types.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func project(items []parser.SelectItem, srcCols []string, alias string, env *eval.Env) ([]types.Value, []string, error) {
	var row []types.Value
	var cols []string
	for _, item := range items {
		if item.Star {
			for i, c := range srcCols {
				row = append(row, env.Row[i])
				cols = append(cols, c)
			}
			continue
		}
		v, err := eval.Eval(item.Expr, env)
		if err != nil {
			return nil, nil, err
		}
		row = append(row, v)
		cols = append(cols, projectedName(item))
	}
	return row, cols, nil
}

func projectedName(item parser.SelectItem) string {
	if item.Alias != "" {
		return item.Alias
	}
	switch e := item.Expr.(type) {
	case *parser.ColumnRef:
		return e.Name
	case *parser.FunctionCall:
		return e.Name
	}
	return "?column?"
}

func finalizeAggregate(call *parser.FunctionCall, rows [][]types.Value, cols []string, alias string, ctes map[string]*eval.RowSet, sess *Session, now time.Time, outer *eval.Env) (types.Value, error) {
	if call.Name == "COUNT" && call.Star {
		return types.NewInt(int64(len(rows))), nil
	}
	var arg parser.Expression
	if len(call.Args) > 0 {
		arg = call.Args[0]
	}
	var values []types.Value
	for _, row := range rows {
		env := sourceEnv(cols, alias, row, ctes, sess, now, outer)
		v, err := eval.Eval(arg, env)
		if err != nil {
			return types.Value{}, err
		}
		if v.IsNull() {
			continue
		}
		if call.Distinct && containsValue(values, v) {
			continue
		}
		values = append(values, v)
	}

	switch call.Name {
	case "COUNT":
		return types.NewInt(int64(len(values))), nil
	case "SUM":
		if len(values) == 0 {
			return types.NewNull(), nil
		}
		isFloat := false
		var sumF float64
		var sumI int64
		for _, v := range values {
			if v.Kind() == types.KindFloat {
				isFloat = true
			}
		}
		for _, v := range values {
			if isFloat {
				sumF += v.Float()
			} else {
				sumI += v.Int()
			}
		}
		if isFloat {
			return types.NewFloat(sumF), nil
		}
		return types.NewInt(sumI), nil
	case "AVG":
		if len(values) == 0 {
			return types.NewNull(), nil
		}
		var sum float64
		for _, v := range values {
			sum += v.Float()
		}
		return types.NewFloat(sum / float64(len(values))), nil
	case "MIN", "MAX":
		if len(values) == 0 {
			return types.NewNull(), nil
		}
		best := values[0]
		for _, v := range values[1:] {
			c, err := types.Compare(v, best)
			if err != nil {
				return types.Value{}, sqlerr.TypeErr("%v", err)
			}
			if (call.Name == "MIN" && c < 0) || (call.Name == "MAX" && c > 0) {
				best = v
			}
		}
		return best, nil
	}
	return types.Value{}, sqlerr.TypeErr("unsupported aggregate %q", call.Name)
}

func containsValue(values []types.Value, v types.Value) bool {
	for _, existing := range values {
		if types.Equal(existing, v) {
			return true
		}
	}
	return false
}

func resolveCTEs(sess *Session, withList []parser.CTE, now time.Time, outer *eval.Env) (map[string]*eval.RowSet, error) {
	ctes := map[string]*eval.RowSet{}
	if outer != nil {
		for k, v := range outer.CTEs {
			ctes[k] = v
		}
	}
	for _, cte := range withList {
		rs, _, err := runSelectWithCTEs(sess, cte.Query, now, ctes, outer)
		if err != nil {
			return nil, err
		}
		ctes[cte.Name] = rs
	}
	return ctes, nil
}

func runSelectWithCTEs(sess *Session, stmt *parser.SelectStmt, now time.Time, ctes map[string]*eval.RowSet, outer *eval.Env) (*eval.RowSet, []types.Kind, error) {
	rs, kinds, err := runSelectCore(sess, stmt, now, ctes, outer)
	if err != nil {
		return nil, nil, err
	}
	// A set-operation chain associates left-to-right: A UNION B UNION ALL
	// C means (A UNION B) UNION ALL C. Fold the chain iteratively rather
	// than recursing into the remainder first, which would combine B and
	// C before A ever joins in.
	op := stmt.SetOp
	next := stmt.SetOpNext
	for next != nil {
		rightRS, _, err := runSelectCore(sess, next, now, ctes, outer)
		if err != nil {
			return nil, nil, err
		}
		rs, err = combineSetOp(op, rs, rightRS)
		if err != nil {
			return nil, nil, err
		}
		op = next.SetOp
		next = next.SetOpNext
	}
	return rs, kinds, nil
}

func combineSetOp(op parser.SetOpKind, left, right *eval.RowSet) (*eval.RowSet, error) {
	if len(left.Columns) != len(right.Columns) {
		return nil, sqlerr.CardinalityErr("set operation operands must have the same number of columns (%d vs %d)", len(left.Columns), len(right.Columns))
	}
	for i := range left.Columns {
		lk := columnKind(left.Rows, i)
		rk := columnKind(right.Rows, i)
		if !kindsCompatible(lk, rk) {
			return nil, sqlerr.TypeErr("set operation column %d (%q) has incompatible types (%s vs %s)", i+1, left.Columns[i], lk, rk)
		}
	}
	switch op {
	case parser.SetOpUnion:
		combined := append(append([][]types.Value{}, left.Rows...), right.Rows...)
		return &eval.RowSet{Columns: left.Columns, Rows: dedupeRows(combined)}, nil
	case parser.SetOpUnionAll:
		combined := append(append([][]types.Value{}, left.Rows...), right.Rows...)
		return &eval.RowSet{Columns: left.Columns, Rows: combined}, nil
	case parser.SetOpIntersect:
		var out [][]types.Value
		for _, lr := range left.Rows {
			if rowInSet(lr, right.Rows) && !rowInSet(lr, out) {
				out = append(out, lr)
			}
		}
		return &eval.RowSet{Columns: left.Columns, Rows: out}, nil
	case parser.SetOpExcept:
		var out [][]types.Value
		for _, lr := range left.Rows {
			if !rowInSet(lr, right.Rows) && !rowInSet(lr, out) {
				out = append(out, lr)
			}
		}
		return &eval.RowSet{Columns: left.Columns, Rows: out}, nil
	}
	return left, nil
}

// columnKind returns the kind of the first non-null value in column i
// across rows, or KindNull if every row is null there (or there are no
// rows) - an all-null column carries no type information to conflict
// with the other operand.
func columnKind(rows [][]types.Value, i int) types.Kind {
	for _, r := range rows {
		if !r[i].IsNull() {
			return r[i].Kind()
		}
	}
	return types.KindNull
}

func kindsCompatible(a, b types.Kind) bool {
	if a == types.KindNull || b == types.KindNull || a == b {
		return true
	}
	numeric := func(k types.Kind) bool {
		return k == types.KindInt || k == types.KindFloat || k == types.KindSerial
	}
	return numeric(a) && numeric(b)
}

func rowInSet(row []types.Value, set [][]types.Value) bool {
	for _, r := range set {
		if rowsEqual(row, r) {
			return true
		}
	}
	return false
}

// runSelect executes the full eleven-step pipeline for stmt, including
// any WITH-bound CTEs, chained set operations, and the final ORDER
// BY/LIMIT/OFFSET, which apply once to the whole statement.
func runSelect(sess *Session, stmt *parser.SelectStmt, now time.Time, outer *eval.Env) (*eval.RowSet, []types.Kind, error) {
	ctes, err := resolveCTEs(sess, stmt.With, now, outer)
	if err != nil {
		return nil, nil, err
	}
	rs, kinds, err := runSelectWithCTEs(sess, stmt, now, ctes, outer)
	if err != nil {
		return nil, nil, err
	}

	if len(stmt.OrderBy) > 0 {
		if err := orderRows(rs, stmt.OrderBy, ctes, sess, now, outer); err != nil {
			return nil, nil, err
		}
	}

	rows := rs.Rows
	if stmt.Offset != nil {
		n, err := evalIntBound(stmt.Offset, sess, now)
		if err != nil {
			return nil, nil, err
		}
		if n < 0 {
			n = 0
		}
		if int(n) >= len(rows) {
			rows = nil
		} else {
			rows = rows[n:]
		}
	}
	if stmt.Limit != nil {
		n, err := evalIntBound(stmt.Limit, sess, now)
		if err != nil {
			return nil, nil, err
		}
		if n < 0 {
			n = 0
		}
		if int(n) < len(rows) {
			rows = rows[:n]
		}
	}
	rs.Rows = rows
	return rs, kinds, nil
}

func evalIntBound(expr parser.Expression, sess *Session, now time.Time) (int64, error) {
	v, err := eval.Eval(expr, literalEnv(sess, now))
	if err != nil {
		return 0, err
	}
	if !v.IsNumeric() {
		return 0, sqlerr.TypeErr("LIMIT/OFFSET expects a numeric value")
	}
	return v.Int(), nil
}

type orderSortKey struct {
	row  []types.Value
	vals []types.Value
}

func orderRows(rs *eval.RowSet, orderBy []parser.OrderItem, ctes map[string]*eval.RowSet, sess *Session, now time.Time, outer *eval.Env) error {
	keys := make([]orderSortKey, len(rs.Rows))
	for i, row := range rs.Rows {
		env := sourceEnv(rs.Columns, "", row, ctes, sess, now, outer)
		vals := make([]types.Value, len(orderBy))
		for j, item := range orderBy {
			v, err := eval.Eval(item.Expr, env)
			if err != nil {
				return err
			}
			vals[j] = v
		}
		keys[i] = orderSortKey{row: row, vals: vals}
	}
	sortStableRows(keys, orderBy)
	for i, k := range keys {
		rs.Rows[i] = k.row
	}
	return nil
}

func sortStableRows(keys []orderSortKey, orderBy []parser.OrderItem) {
	less := func(a, b int) bool {
		for i, item := range orderBy {
			av, bv := keys[a].vals[i], keys[b].vals[i]
			if av.IsNull() && bv.IsNull() {
				continue
			}
			if av.IsNull() || bv.IsNull() {
				aLast := !item.Desc
				if av.IsNull() {
					return !aLast
				}
				return aLast
			}
			c, err := types.Compare(av, bv)
			if err != nil || c == 0 {
				continue
			}
			if item.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	}
	insertionSortStable(len(keys), less, func(i, j int) {
		keys[i], keys[j] = keys[j], keys[i]
	})
}

func insertionSortStable(n int, less func(i, j int) bool, swap func(i, j int)) {
	for i := 1; i < n; i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			swap(j, j-1)
		}
	}
}
