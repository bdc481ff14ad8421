package eval

import (
	"github.com/hamzaexact/sqlens/pkg/sql/lexer"
	"github.com/hamzaexact/sqlens/pkg/sql/parser"
	"github.com/hamzaexact/sqlens/pkg/sqlerr"
	"github.com/hamzaexact/sqlens/pkg/types"
)

func evalBinary(e *parser.BinaryExpr, env *Env) (types.Value, error) {
	switch e.Op {
	case lexer.AND, lexer.OR:
		return evalLogical(e, env)
	}

	left, err := Eval(e.Left, env)
	if err != nil {
		return types.Value{}, err
	}
	right, err := Eval(e.Right, env)
	if err != nil {
		return types.Value{}, err
	}

	switch e.Op {
	case lexer.EQ, lexer.NEQ, lexer.LT, lexer.LTE, lexer.GT, lexer.GTE:
		return evalComparison(e.Op, left, right)
	case lexer.PLUS, lexer.MINUS, lexer.STAR, lexer.SLASH, lexer.PERCENT:
		return evalArithmetic(e.Op, left, right)
	}
	return types.Value{}, sqlerr.TypeErr("unsupported binary operator %s", e.Op)
}

// evalLogical short-circuits the right operand when three-valued
// logic already determines the result from the left alone (e.g.
// FALSE AND anything, TRUE OR anything), matching §4.4 exactly.
func evalLogical(e *parser.BinaryExpr, env *Env) (types.Value, error) {
	left, err := EvalBool(e.Left, env)
	if err != nil {
		return types.Value{}, err
	}
	if e.Op == lexer.AND && left == False {
		return types.NewBool(false), nil
	}
	if e.Op == lexer.OR && left == True {
		return types.NewBool(true), nil
	}
	right, err := EvalBool(e.Right, env)
	if err != nil {
		return types.Value{}, err
	}
	var result Tri
	if e.Op == lexer.AND {
		result = left.And(right)
	} else {
		result = left.Or(right)
	}
	switch result {
	case True:
		return types.NewBool(true), nil
	case False:
		return types.NewBool(false), nil
	default:
		return types.NewNull(), nil
	}
}

func evalComparison(op lexer.TokenType, left, right types.Value) (types.Value, error) {
	if left.IsNull() || right.IsNull() {
		return types.NewNull(), nil
	}
	if op == lexer.EQ || op == lexer.NEQ {
		eq := types.Equal(left, right)
		if op == lexer.NEQ {
			eq = !eq
		}
		return types.NewBool(eq), nil
	}
	cmp, err := types.Compare(left, right)
	if err != nil {
		return types.Value{}, sqlerr.TypeErr("%v", err)
	}
	switch op {
	case lexer.LT:
		return types.NewBool(cmp < 0), nil
	case lexer.LTE:
		return types.NewBool(cmp <= 0), nil
	case lexer.GT:
		return types.NewBool(cmp > 0), nil
	case lexer.GTE:
		return types.NewBool(cmp >= 0), nil
	}
	return types.Value{}, sqlerr.TypeErr("unsupported comparison operator %s", op)
}

// evalArithmetic implements INT op INT -> INT (with FLOAT promotion
// when either side is FLOAT), integer division truncating toward
// zero, and modulo mirroring the divisor's sign.
func evalArithmetic(op lexer.TokenType, left, right types.Value) (types.Value, error) {
	if left.IsNull() || right.IsNull() {
		return types.NewNull(), nil
	}
	if !left.IsNumeric() || !right.IsNumeric() {
		return types.Value{}, sqlerr.TypeErr("arithmetic requires numeric operands, got %s and %s", left.Kind(), right.Kind())
	}
	useFloat := left.Kind() == types.KindFloat || right.Kind() == types.KindFloat
	if useFloat {
		a, b := left.Float(), right.Float()
		switch op {
		case lexer.PLUS:
			return types.NewFloat(a + b), nil
		case lexer.MINUS:
			return types.NewFloat(a - b), nil
		case lexer.STAR:
			return types.NewFloat(a * b), nil
		case lexer.SLASH:
			if b == 0 {
				return types.Value{}, sqlerr.ArithmeticErr("division by zero")
			}
			return types.NewFloat(a / b), nil
		case lexer.PERCENT:
			if b == 0 {
				return types.Value{}, sqlerr.ArithmeticErr("division by zero")
			}
			return types.NewFloat(floorModFloat(a, b)), nil
		}
	}
	a, b := left.Int(), right.Int()
	switch op {
	case lexer.PLUS:
		return types.NewInt(a + b), nil
	case lexer.MINUS:
		return types.NewInt(a - b), nil
	case lexer.STAR:
		return types.NewInt(a * b), nil
	case lexer.SLASH:
		if b == 0 {
			return types.Value{}, sqlerr.ArithmeticErr("division by zero")
		}
		return types.NewInt(a / b), nil
	case lexer.PERCENT:
		if b == 0 {
			return types.Value{}, sqlerr.ArithmeticErr("division by zero")
		}
		return types.NewInt(floorModInt(a, b)), nil
	}
	return types.Value{}, sqlerr.TypeErr("unsupported arithmetic operator %s", op)
}

// floorModInt mirrors the divisor's sign, unlike Go's native %, which
// mirrors the dividend's sign.
func floorModInt(a, b int64) int64 {
	r := a % b
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r
}

func floorModFloat(a, b float64) float64 {
	r := a - b*float64(int64(a/b))
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r
}
