package eval

import (
	"strings"
	"time"

	"github.com/hamzaexact/sqlens/pkg/sql/lexer"
	"github.com/hamzaexact/sqlens/pkg/sql/parser"
	"github.com/hamzaexact/sqlens/pkg/sqlerr"
	"github.com/hamzaexact/sqlens/pkg/types"
)

// RowSet is a materialized relation: an ordered column list plus its
// rows, positionally aligned. CTE bindings, FROM-subquery results, and
// scalar-subquery results are all RowSets.
type RowSet struct {
	Columns []string
	Rows    [][]types.Value
}

// SubqueryRunner executes a nested SELECT and returns its result set.
// The executor supplies the real implementation; eval only needs the
// interface to resolve ScalarSubquery/InSubquery expressions without
// importing pkg/executor (which imports pkg/eval).
type SubqueryRunner func(stmt *parser.SelectStmt, outer *Env) (*RowSet, error)

// Env is the evaluation environment for one row: the current row and
// its column schema, active CTE bindings, and the services needed to
// resolve function calls and subqueries.
type Env struct {
	Columns []string
	Row     []types.Value

	// Alias is the FROM-clause alias/table-name that qualifies Columns
	// for "table.column" references; empty means unqualified-only.
	Alias string

	CTEs      map[string]*RowSet
	Functions *FunctionRegistry
	RunQuery  SubqueryRunner
	Now       time.Time

	// Aggregates maps an aggregate FunctionCall node (by pointer
	// identity within the statement's AST) to its finalized value for
	// the current group. Populated by the executor after the grouping
	// stage; nil before grouping/HAVING/projection.
	Aggregates map[*parser.FunctionCall]types.Value
}

func (e *Env) columnIndex(table, name string) (int, error) {
	if table != "" && table != e.Alias {
		return -1, sqlerr.NameErr("unknown table or alias %q", table)
	}
	idx := -1
	for i, c := range e.Columns {
		if c == name {
			if idx != -1 {
				return -1, sqlerr.NameErr("column reference %q is ambiguous", name)
			}
			idx = i
		}
	}
	if idx == -1 {
		return -1, sqlerr.NameErr("unknown column %q", name)
	}
	return idx, nil
}

// Eval evaluates a scalar expression against env, returning its Value.
func Eval(expr parser.Expression, env *Env) (types.Value, error) {
	switch e := expr.(type) {
	case *parser.Literal:
		return e.Value, nil

	case *parser.ColumnRef:
		idx, err := env.columnIndex(e.Table, e.Name)
		if err != nil {
			return types.Value{}, err
		}
		return env.Row[idx], nil

	case *parser.UnaryExpr:
		return evalUnary(e, env)

	case *parser.BinaryExpr:
		return evalBinary(e, env)

	case *parser.Between:
		return evalBetween(e, env)

	case *parser.InList:
		return evalInList(e, env)

	case *parser.InSubquery:
		return evalInSubquery(e, env)

	case *parser.LikeExpr:
		return evalLike(e, env)

	case *parser.IsNullExpr:
		v, err := Eval(e.Expr, env)
		if err != nil {
			return types.Value{}, err
		}
		result := v.IsNull()
		if e.Not {
			result = !result
		}
		return types.NewBool(result), nil

	case *parser.CaseExpr:
		return evalCase(e, env)

	case *parser.CastExpr:
		v, err := Eval(e.Expr, env)
		if err != nil {
			return types.Value{}, err
		}
		return Cast(v, e.Target)

	case *parser.CoalesceExpr:
		for _, a := range e.Args {
			v, err := Eval(a, env)
			if err != nil {
				return types.Value{}, err
			}
			if !v.IsNull() {
				return v, nil
			}
		}
		return types.NewNull(), nil

	case *parser.NullIfExpr:
		a, err := Eval(e.A, env)
		if err != nil {
			return types.Value{}, err
		}
		b, err := Eval(e.B, env)
		if err != nil {
			return types.Value{}, err
		}
		if !a.IsNull() && !b.IsNull() && types.Equal(a, b) {
			return types.NewNull(), nil
		}
		return a, nil

	case *parser.FunctionCall:
		return evalFunctionCall(e, env)

	case *parser.ScalarSubquery:
		return evalScalarSubquery(e, env)

	case *parser.Star:
		return types.Value{}, sqlerr.TypeErr("\"*\" is only valid as a function argument")
	}
	return types.Value{}, sqlerr.TypeErr("unsupported expression type %T", expr)
}

// EvalBool evaluates expr and collapses it to Tri for predicate
// admission contexts (WHERE, HAVING, ON CONFLICT, CHECK).
func EvalBool(expr parser.Expression, env *Env) (Tri, error) {
	v, err := Eval(expr, env)
	if err != nil {
		return Unknown, err
	}
	if v.IsNull() {
		return Unknown, nil
	}
	if v.Kind() != types.KindBool {
		return Unknown, sqlerr.TypeErr("expected a boolean expression, got %s", v.Kind())
	}
	return FromBool(v.Bool()), nil
}

func evalUnary(e *parser.UnaryExpr, env *Env) (types.Value, error) {
	v, err := Eval(e.Right, env)
	if err != nil {
		return types.Value{}, err
	}
	switch e.Op {
	case lexer.NOT:
		if v.IsNull() {
			return types.NewNull(), nil
		}
		if v.Kind() != types.KindBool {
			return types.Value{}, sqlerr.TypeErr("NOT expects a boolean operand, got %s", v.Kind())
		}
		return types.NewBool(!v.Bool()), nil
	case lexer.MINUS:
		if v.IsNull() {
			return types.NewNull(), nil
		}
		if !v.IsNumeric() {
			return types.Value{}, sqlerr.TypeErr("unary - expects a numeric operand, got %s", v.Kind())
		}
		if v.Kind() == types.KindFloat {
			return types.NewFloat(-v.Float()), nil
		}
		return types.NewInt(-v.Int()), nil
	}
	return types.Value{}, sqlerr.TypeErr("unsupported unary operator")
}

func evalCase(e *parser.CaseExpr, env *Env) (types.Value, error) {
	var operand types.Value
	hasOperand := e.Operand != nil
	if hasOperand {
		v, err := Eval(e.Operand, env)
		if err != nil {
			return types.Value{}, err
		}
		operand = v
	}
	for _, w := range e.Whens {
		if hasOperand {
			whenVal, err := Eval(w.When, env)
			if err != nil {
				return types.Value{}, err
			}
			if !operand.IsNull() && !whenVal.IsNull() && types.Equal(operand, whenVal) {
				return Eval(w.Then, env)
			}
			continue
		}
		tri, err := EvalBool(w.When, env)
		if err != nil {
			return types.Value{}, err
		}
		if tri == True {
			return Eval(w.Then, env)
		}
	}
	if e.Else != nil {
		return Eval(e.Else, env)
	}
	return types.NewNull(), nil
}

func evalBetween(e *parser.Between, env *Env) (types.Value, error) {
	v, err := Eval(e.Expr, env)
	if err != nil {
		return types.Value{}, err
	}
	low, err := Eval(e.Low, env)
	if err != nil {
		return types.Value{}, err
	}
	high, err := Eval(e.High, env)
	if err != nil {
		return types.Value{}, err
	}
	if v.IsNull() || low.IsNull() || high.IsNull() {
		return types.NewNull(), nil
	}
	c1, err := types.Compare(v, low)
	if err != nil {
		return types.Value{}, sqlerr.TypeErr("%v", err)
	}
	c2, err := types.Compare(v, high)
	if err != nil {
		return types.Value{}, sqlerr.TypeErr("%v", err)
	}
	result := c1 >= 0 && c2 <= 0
	if e.Not {
		result = !result
	}
	return types.NewBool(result), nil
}

func evalInList(e *parser.InList, env *Env) (types.Value, error) {
	v, err := Eval(e.Expr, env)
	if err != nil {
		return types.Value{}, err
	}
	if v.IsNull() {
		return types.NewNull(), nil
	}
	sawNull := false
	for _, item := range e.List {
		iv, err := Eval(item, env)
		if err != nil {
			return types.Value{}, err
		}
		if iv.IsNull() {
			sawNull = true
			continue
		}
		if types.Equal(v, iv) {
			result := true
			if e.Not {
				result = false
			}
			return types.NewBool(result), nil
		}
	}
	if sawNull {
		return types.NewNull(), nil
	}
	result := false
	if e.Not {
		result = true
	}
	return types.NewBool(result), nil
}

func evalInSubquery(e *parser.InSubquery, env *Env) (types.Value, error) {
	v, err := Eval(e.Expr, env)
	if err != nil {
		return types.Value{}, err
	}
	rs, err := env.RunQuery(e.Query, env)
	if err != nil {
		return types.Value{}, err
	}
	if len(rs.Columns) != 1 {
		return types.Value{}, sqlerr.CardinalityErr("IN subquery must return exactly one column")
	}
	if v.IsNull() {
		return types.NewNull(), nil
	}
	sawNull := false
	for _, row := range rs.Rows {
		cell := row[0]
		if cell.IsNull() {
			sawNull = true
			continue
		}
		if types.Equal(v, cell) {
			result := true
			if e.Not {
				result = false
			}
			return types.NewBool(result), nil
		}
	}
	if sawNull {
		return types.NewNull(), nil
	}
	result := false
	if e.Not {
		result = true
	}
	return types.NewBool(result), nil
}

func evalScalarSubquery(e *parser.ScalarSubquery, env *Env) (types.Value, error) {
	rs, err := env.RunQuery(e.Query, env)
	if err != nil {
		return types.Value{}, err
	}
	if len(rs.Columns) > 1 {
		return types.Value{}, sqlerr.CardinalityErr("scalar subquery must return at most one column, got %d", len(rs.Columns))
	}
	if len(rs.Rows) == 0 {
		return types.NewNull(), nil
	}
	if len(rs.Rows) > 1 {
		return types.Value{}, sqlerr.CardinalityErr("scalar subquery returned %d rows, expected at most one", len(rs.Rows))
	}
	if len(rs.Columns) == 0 {
		return types.NewNull(), nil
	}
	return rs.Rows[0][0], nil
}

func evalLike(e *parser.LikeExpr, env *Env) (types.Value, error) {
	v, err := Eval(e.Expr, env)
	if err != nil {
		return types.Value{}, err
	}
	p, err := Eval(e.Pattern, env)
	if err != nil {
		return types.Value{}, err
	}
	if v.IsNull() || p.IsNull() {
		return types.NewNull(), nil
	}
	if v.Kind() != types.KindString || p.Kind() != types.KindString {
		return types.Value{}, sqlerr.TypeErr("LIKE expects STRING operands")
	}
	s, pat := v.String(), p.String()
	if !e.CaseSensitive {
		s, pat = strings.ToLower(s), strings.ToLower(pat)
	}
	result := likeMatch(s, pat)
	if e.Not {
		result = !result
	}
	return types.NewBool(result), nil
}

// likeMatch implements SQL LIKE semantics: '%' matches any sequence
// (including empty), '_' matches exactly one character.
func likeMatch(s, pattern string) bool {
	sr, pr := []rune(s), []rune(pattern)
	return likeMatchRunes(sr, pr)
}

func likeMatchRunes(s, p []rune) bool {
	if len(p) == 0 {
		return len(s) == 0
	}
	if p[0] == '%' {
		if likeMatchRunes(s, p[1:]) {
			return true
		}
		for i := range s {
			if likeMatchRunes(s[i+1:], p[1:]) {
				return true
			}
		}
		return false
	}
	if len(s) == 0 {
		return false
	}
	if p[0] == '_' || p[0] == s[0] {
		return likeMatchRunes(s[1:], p[1:])
	}
	return false
}

func evalFunctionCall(e *parser.FunctionCall, env *Env) (types.Value, error) {
	switch e.Name {
	case "COUNT", "SUM", "AVG", "MIN", "MAX":
		if env.Aggregates == nil {
			return types.Value{}, sqlerr.TypeErr("aggregate function %s used outside of a valid aggregate context", e.Name)
		}
		v, ok := env.Aggregates[e]
		if !ok {
			return types.Value{}, sqlerr.TypeErr("aggregate function %s has no finalized value for this row", e.Name)
		}
		return v, nil
	case "CURRENT_DATE":
		y, m, d := env.Now.Date()
		return types.NewDate(types.Date{Year: y, Month: int(m), Day: d}), nil
	case "NOW":
		return types.NewTimestamp(env.Now), nil
	}

	fn := env.Functions.Lookup(e.Name)
	if fn == nil {
		return types.Value{}, sqlerr.NameErr("unknown function %q", e.Name)
	}
	args := make([]types.Value, len(e.Args))
	for i, a := range e.Args {
		v, err := Eval(a, env)
		if err != nil {
			return types.Value{}, err
		}
		args[i] = v
	}
	if fn.NumArgs >= 0 && len(args) != fn.NumArgs {
		return types.Value{}, sqlerr.TypeErr("%s expects %d argument(s), got %d", e.Name, fn.NumArgs, len(args))
	}
	return fn.Function(args)
}
