// pkg/types/coltype.go
package types

import "fmt"

// ColKind enumerates the declared column types a CREATE TABLE can use.
type ColKind int

const (
	ColInt ColKind = iota
	ColFloat
	ColBoolean
	ColVarchar
	ColChar
	ColText
	ColDate
	ColTime
	ColTimestamp
	ColSerial
)

// ColumnType is a declared column type together with its advisory length
// (VARCHAR/CHAR only; zero means unspecified).
type ColumnType struct {
	Kind   ColKind
	Length int
}

func (t ColumnType) String() string {
	switch t.Kind {
	case ColInt:
		return "INT"
	case ColFloat:
		return "FLOAT"
	case ColBoolean:
		return "BOOLEAN"
	case ColVarchar:
		if t.Length > 0 {
			return fmt.Sprintf("VARCHAR(%d)", t.Length)
		}
		return "VARCHAR"
	case ColChar:
		if t.Length > 0 {
			return fmt.Sprintf("CHAR(%d)", t.Length)
		}
		return "CHAR"
	case ColText:
		return "TEXT"
	case ColDate:
		return "DATE"
	case ColTime:
		return "TIME"
	case ColTimestamp:
		return "TIMESTAMP"
	case ColSerial:
		return "SERIAL"
	default:
		return "UNKNOWN"
	}
}

// IsString reports whether values of this column type are textual.
func (t ColumnType) IsString() bool {
	return t.Kind == ColVarchar || t.Kind == ColChar || t.Kind == ColText
}

// IsNumeric reports whether values of this column type are INT/FLOAT/SERIAL.
func (t ColumnType) IsNumeric() bool {
	return t.Kind == ColInt || t.Kind == ColFloat || t.Kind == ColSerial
}
