package eval

import (
	"math"
	"strings"
	"time"

	"github.com/hamzaexact/sqlens/pkg/sqlerr"
	"github.com/hamzaexact/sqlens/pkg/types"
)

// ScalarFunc is the signature every registered scalar function
// implements. It may return an error (TypeError, ArithmeticError) for
// bad arguments; argument NULL handling is the function's own
// responsibility since NULL propagation rules differ per function.
type ScalarFunc func(args []types.Value) (types.Value, error)

// ScalarFunction is one registered entry: a name, an expected arity
// (-1 means variadic), and the implementation.
type ScalarFunction struct {
	Name     string
	NumArgs  int
	Function ScalarFunc
}

// FunctionRegistry holds the scalar function library, looked up
// case-insensitively by name.
type FunctionRegistry struct {
	functions map[string]*ScalarFunction
}

func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{functions: make(map[string]*ScalarFunction)}
}

func (r *FunctionRegistry) Register(fn *ScalarFunction) {
	r.functions[strings.ToUpper(fn.Name)] = fn
}

func (r *FunctionRegistry) Lookup(name string) *ScalarFunction {
	return r.functions[strings.ToUpper(name)]
}

// DefaultFunctionRegistry returns a registry with the scalar function
// library from spec §4.4: string, math, and date/time functions.
// CASE/COALESCE/NULLIF/CAST have dedicated AST nodes and are evaluated
// directly rather than through this registry, so none of them is
// registered here.
func DefaultFunctionRegistry() *FunctionRegistry {
	r := NewFunctionRegistry()

	r.Register(&ScalarFunction{Name: "UPPER", NumArgs: 1, Function: builtinUpper})
	r.Register(&ScalarFunction{Name: "LOWER", NumArgs: 1, Function: builtinLower})
	r.Register(&ScalarFunction{Name: "LENGTH", NumArgs: 1, Function: builtinLength})
	r.Register(&ScalarFunction{Name: "SUBSTRING", NumArgs: -1, Function: builtinSubstring})
	r.Register(&ScalarFunction{Name: "SUBSTR", NumArgs: -1, Function: builtinSubstring})
	r.Register(&ScalarFunction{Name: "CONCAT", NumArgs: -1, Function: builtinConcat})
	r.Register(&ScalarFunction{Name: "REPLACE", NumArgs: 3, Function: builtinReplace})

	r.Register(&ScalarFunction{Name: "ROUND", NumArgs: -1, Function: builtinRound})
	r.Register(&ScalarFunction{Name: "CEIL", NumArgs: 1, Function: builtinCeil})
	r.Register(&ScalarFunction{Name: "FLOOR", NumArgs: 1, Function: builtinFloor})
	r.Register(&ScalarFunction{Name: "ABS", NumArgs: 1, Function: builtinAbs})

	r.Register(&ScalarFunction{Name: "EXTRACT", NumArgs: 2, Function: builtinExtract})
	r.Register(&ScalarFunction{Name: "DATEDIFF", NumArgs: 2, Function: builtinDateDiff})

	return r
}

func requireString(v types.Value, fn string) (string, error) {
	if v.Kind() != types.KindString {
		return "", sqlerr.TypeErr("%s expects a STRING argument, got %s", fn, v.Kind())
	}
	return v.String(), nil
}

func builtinUpper(args []types.Value) (types.Value, error) {
	if args[0].IsNull() {
		return types.NewNull(), nil
	}
	s, err := requireString(args[0], "UPPER")
	if err != nil {
		return types.Value{}, err
	}
	return types.NewString(strings.ToUpper(s)), nil
}

func builtinLower(args []types.Value) (types.Value, error) {
	if args[0].IsNull() {
		return types.NewNull(), nil
	}
	s, err := requireString(args[0], "LOWER")
	if err != nil {
		return types.Value{}, err
	}
	return types.NewString(strings.ToLower(s)), nil
}

func builtinLength(args []types.Value) (types.Value, error) {
	if args[0].IsNull() {
		return types.NewNull(), nil
	}
	s, err := requireString(args[0], "LENGTH")
	if err != nil {
		return types.Value{}, err
	}
	return types.NewInt(int64(len([]rune(s)))), nil
}

// builtinSubstring implements 1-indexed SUBSTRING(s, start[, len]).
// An out-of-range start yields an empty string; a negative len fails.
func builtinSubstring(args []types.Value) (types.Value, error) {
	if len(args) < 2 || len(args) > 3 {
		return types.Value{}, sqlerr.TypeErr("SUBSTRING expects 2 or 3 arguments, got %d", len(args))
	}
	if args[0].IsNull() || args[1].IsNull() {
		return types.NewNull(), nil
	}
	s, err := requireString(args[0], "SUBSTRING")
	if err != nil {
		return types.Value{}, err
	}
	runes := []rune(s)
	start := int(args[1].Int())
	if !args[1].IsNumeric() {
		return types.Value{}, sqlerr.TypeErr("SUBSTRING expects an integer start position")
	}
	length := len(runes)
	if len(args) == 3 {
		if args[2].IsNull() {
			return types.NewNull(), nil
		}
		l := int(args[2].Int())
		if l < 0 {
			return types.Value{}, sqlerr.ArithmeticErr("SUBSTRING length must not be negative, got %d", l)
		}
		length = l
	}
	if start < 1 || start > len(runes) {
		return types.NewString(""), nil
	}
	end := start - 1 + length
	if end > len(runes) {
		end = len(runes)
	}
	return types.NewString(string(runes[start-1 : end])), nil
}

func builtinConcat(args []types.Value) (types.Value, error) {
	var b strings.Builder
	for _, a := range args {
		if a.IsNull() {
			return types.NewNull(), nil
		}
		b.WriteString(a.Display())
	}
	return types.NewString(b.String()), nil
}

func builtinReplace(args []types.Value) (types.Value, error) {
	for _, a := range args {
		if a.IsNull() {
			return types.NewNull(), nil
		}
	}
	s, err := requireString(args[0], "REPLACE")
	if err != nil {
		return types.Value{}, err
	}
	from, err := requireString(args[1], "REPLACE")
	if err != nil {
		return types.Value{}, err
	}
	to, err := requireString(args[2], "REPLACE")
	if err != nil {
		return types.Value{}, err
	}
	return types.NewString(strings.ReplaceAll(s, from, to)), nil
}

func requireNumeric(v types.Value, fn string) error {
	if v.IsNull() {
		return nil
	}
	if !v.IsNumeric() {
		return sqlerr.TypeErr("%s expects a numeric argument, got %s", fn, v.Kind())
	}
	return nil
}

// builtinRound uses half-away-from-zero rounding, not banker's
// rounding, matching standard SQL ROUND() behavior.
func builtinRound(args []types.Value) (types.Value, error) {
	if len(args) < 1 || len(args) > 2 {
		return types.Value{}, sqlerr.TypeErr("ROUND expects 1 or 2 arguments, got %d", len(args))
	}
	if args[0].IsNull() {
		return types.NewNull(), nil
	}
	if err := requireNumeric(args[0], "ROUND"); err != nil {
		return types.Value{}, err
	}
	digits := 0
	if len(args) == 2 {
		if args[1].IsNull() {
			return types.NewNull(), nil
		}
		digits = int(args[1].Int())
	}
	f := args[0].Float()
	mult := math.Pow(10, float64(digits))
	rounded := math.Round(f*mult) / mult
	if args[0].Kind() == types.KindInt && digits >= 0 {
		return types.NewInt(int64(rounded)), nil
	}
	return types.NewFloat(rounded), nil
}

func builtinCeil(args []types.Value) (types.Value, error) {
	if args[0].IsNull() {
		return types.NewNull(), nil
	}
	if err := requireNumeric(args[0], "CEIL"); err != nil {
		return types.Value{}, err
	}
	if args[0].Kind() == types.KindInt {
		return args[0], nil
	}
	return types.NewFloat(math.Ceil(args[0].Float())), nil
}

func builtinFloor(args []types.Value) (types.Value, error) {
	if args[0].IsNull() {
		return types.NewNull(), nil
	}
	if err := requireNumeric(args[0], "FLOOR"); err != nil {
		return types.Value{}, err
	}
	if args[0].Kind() == types.KindInt {
		return args[0], nil
	}
	return types.NewFloat(math.Floor(args[0].Float())), nil
}

func builtinAbs(args []types.Value) (types.Value, error) {
	if args[0].IsNull() {
		return types.NewNull(), nil
	}
	if err := requireNumeric(args[0], "ABS"); err != nil {
		return types.Value{}, err
	}
	if args[0].Kind() == types.KindInt {
		v := args[0].Int()
		if v < 0 {
			v = -v
		}
		return types.NewInt(v), nil
	}
	return types.NewFloat(math.Abs(args[0].Float())), nil
}

func builtinExtract(args []types.Value) (types.Value, error) {
	if args[0].IsNull() || args[1].IsNull() {
		return types.NewNull(), nil
	}
	field, err := requireString(args[0], "EXTRACT")
	if err != nil {
		return types.Value{}, err
	}
	field = strings.ToUpper(field)
	v := args[1]
	var year, month, day, hour, minute, second int
	switch v.Kind() {
	case types.KindDate:
		d := v.Date()
		year, month, day = d.Year, d.Month, d.Day
	case types.KindTime:
		c := v.Clock()
		hour, minute, second = c.Hour, c.Minute, c.Second
	case types.KindTimestamp:
		t := v.Timestamp().UTC()
		year, month, day = t.Year(), int(t.Month()), t.Day()
		hour, minute, second = t.Hour(), t.Minute(), t.Second()
	default:
		return types.Value{}, sqlerr.TypeErr("EXTRACT expects a DATE, TIME, or TIMESTAMP value, got %s", v.Kind())
	}
	switch field {
	case "YEAR":
		return types.NewInt(int64(year)), nil
	case "MONTH":
		return types.NewInt(int64(month)), nil
	case "DAY":
		return types.NewInt(int64(day)), nil
	case "HOUR":
		return types.NewInt(int64(hour)), nil
	case "MINUTE":
		return types.NewInt(int64(minute)), nil
	case "SECOND":
		return types.NewInt(int64(second)), nil
	}
	return types.Value{}, sqlerr.TypeErr("EXTRACT field must be one of YEAR, MONTH, DAY, HOUR, MINUTE, SECOND, got %q", field)
}

// builtinDateDiff returns the integer day delta a - b.
func builtinDateDiff(args []types.Value) (types.Value, error) {
	if args[0].IsNull() || args[1].IsNull() {
		return types.NewNull(), nil
	}
	a, err := asTime(args[0], "DATEDIFF")
	if err != nil {
		return types.Value{}, err
	}
	b, err := asTime(args[1], "DATEDIFF")
	if err != nil {
		return types.Value{}, err
	}
	days := int64(a.Sub(b).Hours() / 24)
	return types.NewInt(days), nil
}

func asTime(v types.Value, fn string) (time.Time, error) {
	switch v.Kind() {
	case types.KindDate:
		d := v.Date()
		return time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC), nil
	case types.KindTimestamp:
		return v.Timestamp().UTC(), nil
	default:
		return time.Time{}, sqlerr.TypeErr("%s expects a DATE or TIMESTAMP argument, got %s", fn, v.Kind())
	}
}
