// pkg/types/value.go
package types

import (
	"fmt"
	"time"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindDate
	KindTime
	KindTimestamp
	KindSerial
)

// String returns the name of the kind, used in error messages.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "NULL"
	case KindInt:
		return "INT"
	case KindFloat:
		return "FLOAT"
	case KindBool:
		return "BOOLEAN"
	case KindString:
		return "STRING"
	case KindDate:
		return "DATE"
	case KindTime:
		return "TIME"
	case KindTimestamp:
		return "TIMESTAMP"
	case KindSerial:
		return "SERIAL"
	default:
		return "UNKNOWN"
	}
}

// Date is a calendar date with no time-of-day component.
type Date struct {
	Year  int
	Month int
	Day   int
}

// Clock is a time-of-day with one-second resolution.
type Clock struct {
	Hour   int
	Minute int
	Second int
}

// Value is a tagged union over every scalar type the engine understands.
// NULL is a distinct kind, never conflated with a zero value of another kind.
type Value struct {
	kind Kind
	i    int64
	f    float64
	b    bool
	s    string
	d    Date
	c    Clock
	ts   time.Time
}

func NewNull() Value           { return Value{kind: KindNull} }
func NewInt(i int64) Value     { return Value{kind: KindInt, i: i} }
func NewFloat(f float64) Value { return Value{kind: KindFloat, f: f} }
func NewBool(b bool) Value     { return Value{kind: KindBool, b: b} }
func NewString(s string) Value { return Value{kind: KindString, s: s} }
func NewDate(d Date) Value     { return Value{kind: KindDate, d: d} }
func NewClock(c Clock) Value   { return Value{kind: KindTime, c: c} }
func NewSerial(i int64) Value  { return Value{kind: KindSerial, i: i} }

// NewTimestamp wraps a wall-clock instant. The monotonic reading is stripped
// so two timestamps built from the same civil time compare equal.
func NewTimestamp(t time.Time) Value {
	return Value{kind: KindTimestamp, ts: t.Round(0)}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsNumeric reports whether the value is INT, FLOAT, or SERIAL - the kinds
// arithmetic and numeric comparisons accept.
func (v Value) IsNumeric() bool {
	return v.kind == KindInt || v.kind == KindFloat || v.kind == KindSerial
}

// Int returns the integer payload. Valid for KindInt and KindSerial.
func (v Value) Int() int64 { return v.i }

// Float returns the float payload, or the integer payload promoted to
// float64 when the value holds an INT/SERIAL (arithmetic promotion helper).
func (v Value) Float() float64 {
	if v.kind == KindInt || v.kind == KindSerial {
		return float64(v.i)
	}
	return v.f
}

func (v Value) Bool() bool           { return v.b }
func (v Value) String() string       { return v.s }
func (v Value) Date() Date           { return v.d }
func (v Value) Clock() Clock         { return v.c }
func (v Value) Timestamp() time.Time { return v.ts }

// Display renders a value the way a result table would: NULL prints as the
// literal text "NULL", everything else uses its canonical textual form.
func (v Value) Display() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindInt, KindSerial:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindBool:
		if v.b {
			return "t"
		}
		return "f"
	case KindString:
		return v.s
	case KindDate:
		return fmt.Sprintf("%04d-%02d-%02d", v.d.Year, v.d.Month, v.d.Day)
	case KindTime:
		return fmt.Sprintf("%02d:%02d:%02d", v.c.Hour, v.c.Minute, v.c.Second)
	case KindTimestamp:
		return v.ts.UTC().Format("2006-01-02 15:04:05")
	default:
		return ""
	}
}

// Equal implements the equality relation used by DISTINCT, GROUP BY keying,
// and set operations - contexts where PostgreSQL treats NULL as equal to
// NULL, unlike the three-valued comparison used in WHERE/HAVING.
func Equal(a, b Value) bool {
	if a.kind == KindNull || b.kind == KindNull {
		return a.kind == KindNull && b.kind == KindNull
	}
	if a.IsNumeric() && b.IsNumeric() {
		if a.kind == KindFloat || b.kind == KindFloat {
			return a.Float() == b.Float()
		}
		return a.i == b.i
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindBool:
		return a.b == b.b
	case KindString:
		return a.s == b.s
	case KindDate:
		return a.d == b.d
	case KindTime:
		return a.c == b.c
	case KindTimestamp:
		return a.ts.Equal(b.ts)
	}
	return false
}

// Compare orders two non-NULL, kind-compatible values: -1, 0, or 1.
// Callers must exclude NULL operands first; ordering NULL is a policy
// decision (ORDER BY's NULLS FIRST/LAST) made above this layer.
func Compare(a, b Value) (int, error) {
	if a.IsNumeric() && b.IsNumeric() {
		if a.kind == KindFloat || b.kind == KindFloat {
			af, bf := a.Float(), b.Float()
			switch {
			case af < bf:
				return -1, nil
			case af > bf:
				return 1, nil
			default:
				return 0, nil
			}
		}
		switch {
		case a.i < b.i:
			return -1, nil
		case a.i > b.i:
			return 1, nil
		default:
			return 0, nil
		}
	}
	if a.kind != b.kind {
		return 0, fmt.Errorf("cannot compare %s with %s", a.kind, b.kind)
	}
	switch a.kind {
	case KindBool:
		if a.b == b.b {
			return 0, nil
		}
		if !a.b {
			return -1, nil
		}
		return 1, nil
	case KindString:
		switch {
		case a.s < b.s:
			return -1, nil
		case a.s > b.s:
			return 1, nil
		default:
			return 0, nil
		}
	case KindDate:
		return compareDate(a.d, b.d), nil
	case KindTime:
		return compareClock(a.c, b.c), nil
	case KindTimestamp:
		switch {
		case a.ts.Before(b.ts):
			return -1, nil
		case a.ts.After(b.ts):
			return 1, nil
		default:
			return 0, nil
		}
	}
	return 0, fmt.Errorf("cannot compare values of kind %s", a.kind)
}

func compareDate(a, b Date) int {
	switch {
	case a.Year != b.Year:
		return sign(a.Year - b.Year)
	case a.Month != b.Month:
		return sign(a.Month - b.Month)
	default:
		return sign(a.Day - b.Day)
	}
}

func compareClock(a, b Clock) int {
	switch {
	case a.Hour != b.Hour:
		return sign(a.Hour - b.Hour)
	case a.Minute != b.Minute:
		return sign(a.Minute - b.Minute)
	default:
		return sign(a.Second - b.Second)
	}
}

func sign(x int) int {
	switch {
	case x < 0:
		return -1
	case x > 0:
		return 1
	default:
		return 0
	}
}
