package eval

import (
	"testing"

	"github.com/hamzaexact/sqlens/pkg/sql/lexer"
	"github.com/hamzaexact/sqlens/pkg/sql/parser"
	"github.com/hamzaexact/sqlens/pkg/types"
)

func lit(v types.Value) *parser.Literal { return &parser.Literal{Value: v} }

func baseEnv() *Env {
	return &Env{Functions: DefaultFunctionRegistry()}
}

func TestThreeValuedAndTruthTable(t *testing.T) {
	cases := []struct {
		a, b Tri
		want Tri
	}{
		{True, True, True}, {True, False, False}, {True, Unknown, Unknown},
		{False, True, False}, {False, False, False}, {False, Unknown, False},
		{Unknown, True, Unknown}, {Unknown, False, False}, {Unknown, Unknown, Unknown},
	}
	for _, c := range cases {
		if got := c.a.And(c.b); got != c.want {
			t.Errorf("%v AND %v = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestThreeValuedOrTruthTable(t *testing.T) {
	cases := []struct {
		a, b Tri
		want Tri
	}{
		{True, True, True}, {True, False, True}, {True, Unknown, True},
		{False, True, True}, {False, False, False}, {False, Unknown, Unknown},
		{Unknown, True, True}, {Unknown, False, Unknown}, {Unknown, Unknown, Unknown},
	}
	for _, c := range cases {
		if got := c.a.Or(c.b); got != c.want {
			t.Errorf("%v OR %v = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestNotNullIsNull(t *testing.T) {
	if got := Unknown.Not(); got != Unknown {
		t.Errorf("NOT UNKNOWN = %v, want UNKNOWN", got)
	}
}

func TestComparisonWithNullYieldsNull(t *testing.T) {
	expr := &parser.BinaryExpr{Left: lit(types.NewNull()), Op: lexer.EQ, Right: lit(types.NewInt(1))}
	v, err := Eval(expr, baseEnv())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.IsNull() {
		t.Errorf("expected NULL, got %v", v.Display())
	}
}

func TestIntegerDivisionTruncatesTowardZero(t *testing.T) {
	expr := &parser.BinaryExpr{Left: lit(types.NewInt(-7)), Op: lexer.SLASH, Right: lit(types.NewInt(2))}
	v, err := Eval(expr, baseEnv())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Int() != -3 {
		t.Errorf("-7/2 = %d, want -3", v.Int())
	}
}

func TestDivisionByZeroFails(t *testing.T) {
	expr := &parser.BinaryExpr{Left: lit(types.NewInt(1)), Op: lexer.SLASH, Right: lit(types.NewInt(0))}
	if _, err := Eval(expr, baseEnv()); err == nil {
		t.Error("expected division-by-zero error")
	}
}

func TestModuloMirrorsDivisorSign(t *testing.T) {
	expr := &parser.BinaryExpr{Left: lit(types.NewInt(-7)), Op: lexer.PERCENT, Right: lit(types.NewInt(3))}
	v, err := Eval(expr, baseEnv())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Int() != 2 {
		t.Errorf("-7 %% 3 = %d, want 2 (sign of divisor)", v.Int())
	}
}

func TestBetweenInclusive(t *testing.T) {
	expr := &parser.Between{Expr: lit(types.NewInt(5)), Low: lit(types.NewInt(5)), High: lit(types.NewInt(10))}
	tri, err := EvalBool(expr, baseEnv())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tri != True {
		t.Errorf("5 BETWEEN 5 AND 10 = %v, want TRUE", tri)
	}
}

func TestInListWithNullAndNoMatchYieldsNull(t *testing.T) {
	expr := &parser.InList{
		Expr: lit(types.NewInt(1)),
		List: []parser.Expression{lit(types.NewNull()), lit(types.NewInt(2))},
	}
	v, err := Eval(expr, baseEnv())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.IsNull() {
		t.Errorf("expected NULL, got %v", v.Display())
	}
}

func TestLikeWildcards(t *testing.T) {
	cases := []struct {
		s, pattern string
		want       bool
	}{
		{"hello", "h%", true},
		{"hello", "h_llo", true},
		{"hello", "h_l", false},
		{"", "%", true},
	}
	for _, c := range cases {
		if got := likeMatch(c.s, c.pattern); got != c.want {
			t.Errorf("likeMatch(%q, %q) = %v, want %v", c.s, c.pattern, got, c.want)
		}
	}
}

func TestCoalesceReturnsFirstNonNull(t *testing.T) {
	expr := &parser.CoalesceExpr{Args: []parser.Expression{lit(types.NewNull()), lit(types.NewInt(7))}}
	v, err := Eval(expr, baseEnv())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Int() != 7 {
		t.Errorf("COALESCE(NULL, 7) = %v, want 7", v.Display())
	}
}

func TestNullIfEqual(t *testing.T) {
	expr := &parser.NullIfExpr{A: lit(types.NewInt(5)), B: lit(types.NewInt(5))}
	v, err := Eval(expr, baseEnv())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.IsNull() {
		t.Errorf("NULLIF(5,5) = %v, want NULL", v.Display())
	}
}

func TestCaseFirstMatchWins(t *testing.T) {
	expr := &parser.CaseExpr{
		Whens: []parser.WhenClause{
			{When: lit(types.NewBool(false)), Then: lit(types.NewInt(1))},
			{When: lit(types.NewBool(true)), Then: lit(types.NewInt(2))},
		},
		Else: lit(types.NewInt(3)),
	}
	v, err := Eval(expr, baseEnv())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Int() != 2 {
		t.Errorf("CASE result = %v, want 2", v.Display())
	}
}

func TestCaseNoMatchNoElseIsNull(t *testing.T) {
	expr := &parser.CaseExpr{Whens: []parser.WhenClause{{When: lit(types.NewBool(false)), Then: lit(types.NewInt(1))}}}
	v, err := Eval(expr, baseEnv())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.IsNull() {
		t.Errorf("expected NULL, got %v", v.Display())
	}
}

func TestSubstringOutOfRangeStartYieldsEmpty(t *testing.T) {
	v, err := builtinSubstring([]types.Value{types.NewString("abc"), types.NewInt(10)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.String() != "" {
		t.Errorf("expected empty string, got %q", v.String())
	}
}

func TestSubstringNegativeLengthFails(t *testing.T) {
	_, err := builtinSubstring([]types.Value{types.NewString("abc"), types.NewInt(1), types.NewInt(-1)})
	if err == nil {
		t.Error("expected error for negative length")
	}
}

func TestCastIntToString(t *testing.T) {
	v, err := Cast(types.NewInt(42), types.ColumnType{Kind: types.ColVarchar})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.String() != "42" {
		t.Errorf("CAST(42 AS VARCHAR) = %q, want \"42\"", v.String())
	}
}

func TestCastStringToDate(t *testing.T) {
	v, err := Cast(types.NewString("2024-03-01"), types.ColumnType{Kind: types.ColDate})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Display() != "2024-03-01" {
		t.Errorf("got %q", v.Display())
	}
}

func TestCastInvalidStringFails(t *testing.T) {
	if _, err := Cast(types.NewString("not-a-date"), types.ColumnType{Kind: types.ColDate}); err == nil {
		t.Error("expected error casting invalid date string")
	}
}
