// pkg/types/value_test.go
package types

import (
	"testing"
	"time"
)

func TestValueNull(t *testing.T) {
	v := NewNull()
	if v.Kind() != KindNull {
		t.Errorf("expected KindNull, got %v", v.Kind())
	}
	if !v.IsNull() {
		t.Error("expected IsNull to return true")
	}
}

func TestValueInt(t *testing.T) {
	v := NewInt(42)
	if v.Kind() != KindInt {
		t.Errorf("expected KindInt, got %v", v.Kind())
	}
	if v.Int() != 42 {
		t.Errorf("expected 42, got %d", v.Int())
	}
}

func TestValueFloat(t *testing.T) {
	v := NewFloat(3.14)
	if v.Kind() != KindFloat {
		t.Errorf("expected KindFloat, got %v", v.Kind())
	}
	if v.Float() != 3.14 {
		t.Errorf("expected 3.14, got %f", v.Float())
	}
}

func TestValueString(t *testing.T) {
	v := NewString("hello")
	if v.Kind() != KindString {
		t.Errorf("expected KindString, got %v", v.Kind())
	}
	if v.String() != "hello" {
		t.Errorf("expected 'hello', got %s", v.String())
	}
}

func TestEqualNullIsNeverEqualToItselfUnderCompareButEqualUnderEqual(t *testing.T) {
	a, b := NewNull(), NewNull()
	if !Equal(a, b) {
		t.Error("Equal: NULL should equal NULL for DISTINCT/GROUP BY purposes")
	}
	if _, err := Compare(a, b); err == nil {
		t.Error("Compare: NULL has no ordering, should require caller to exclude it first")
	}
}

func TestCompareNumericPromotion(t *testing.T) {
	cmp, err := Compare(NewInt(2), NewFloat(2.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmp >= 0 {
		t.Errorf("expected 2 < 2.5, got cmp=%d", cmp)
	}
}

func TestCompareIncompatibleKinds(t *testing.T) {
	if _, err := Compare(NewString("a"), NewBool(true)); err == nil {
		t.Error("expected error comparing STRING with BOOLEAN")
	}
}

func TestDisplay(t *testing.T) {
	cases := []struct {
		v    Value
		want string
	}{
		{NewNull(), "NULL"},
		{NewInt(7), "7"},
		{NewBool(true), "t"},
		{NewBool(false), "f"},
		{NewString("x"), "x"},
		{NewDate(Date{2024, 3, 1}), "2024-03-01"},
		{NewClock(Clock{9, 5, 0}), "09:05:00"},
	}
	for _, c := range cases {
		if got := c.v.Display(); got != c.want {
			t.Errorf("Display() = %q, want %q", got, c.want)
		}
	}
}

func TestTimestampDropsMonotonicReading(t *testing.T) {
	now := time.Now()
	a := NewTimestamp(now)
	b := NewTimestamp(now.Round(0))
	if !Equal(a, b) {
		t.Error("expected timestamps built from the same instant to compare equal")
	}
}
