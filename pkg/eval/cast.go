package eval

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hamzaexact/sqlens/pkg/sqlerr"
	"github.com/hamzaexact/sqlens/pkg/types"
)

// Cast converts v to the target column type using the canonical
// conversions from §4.4: INT<->FLOAT (rounding), numeric<->STRING
// (lossless decimal text), STRING<->DATE/TIME/TIMESTAMP (ISO 8601
// only). An unsupported or malformed conversion fails with TypeError.
func Cast(v types.Value, target types.ColumnType) (types.Value, error) {
	if v.IsNull() {
		return types.NewNull(), nil
	}
	switch target.Kind {
	case types.ColInt, types.ColSerial:
		switch v.Kind() {
		case types.KindInt, types.KindSerial:
			return types.NewInt(v.Int()), nil
		case types.KindFloat:
			return types.NewInt(int64(roundHalfAwayFromZero(v.Float()))), nil
		case types.KindString:
			n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
			if err != nil {
				return types.Value{}, sqlerr.TypeErr("cannot CAST %q to INT", v.String())
			}
			return types.NewInt(n), nil
		}
	case types.ColFloat:
		switch v.Kind() {
		case types.KindInt, types.KindSerial:
			return types.NewFloat(float64(v.Int())), nil
		case types.KindFloat:
			return v, nil
		case types.KindString:
			f, err := strconv.ParseFloat(strings.TrimSpace(v.String()), 64)
			if err != nil {
				return types.Value{}, sqlerr.TypeErr("cannot CAST %q to FLOAT", v.String())
			}
			return types.NewFloat(f), nil
		}
	case types.ColVarchar, types.ColChar, types.ColText:
		return types.NewString(v.Display()), nil
	case types.ColBoolean:
		switch v.Kind() {
		case types.KindBool:
			return v, nil
		case types.KindString:
			switch strings.ToLower(strings.TrimSpace(v.String())) {
			case "true", "t", "1":
				return types.NewBool(true), nil
			case "false", "f", "0":
				return types.NewBool(false), nil
			}
			return types.Value{}, sqlerr.TypeErr("cannot CAST %q to BOOLEAN", v.String())
		}
	case types.ColDate:
		switch v.Kind() {
		case types.KindDate:
			return v, nil
		case types.KindString:
			var y, m, d int
			if _, err := fmt.Sscanf(v.String(), "%04d-%02d-%02d", &y, &m, &d); err != nil {
				return types.Value{}, sqlerr.TypeErr("cannot CAST %q to DATE: expected ISO 8601 (YYYY-MM-DD)", v.String())
			}
			return types.NewDate(types.Date{Year: y, Month: m, Day: d}), nil
		}
	case types.ColTime:
		switch v.Kind() {
		case types.KindTime:
			return v, nil
		case types.KindString:
			var h, m, s int
			if _, err := fmt.Sscanf(v.String(), "%02d:%02d:%02d", &h, &m, &s); err != nil {
				return types.Value{}, sqlerr.TypeErr("cannot CAST %q to TIME: expected ISO 8601 (HH:MM:SS)", v.String())
			}
			return types.NewClock(types.Clock{Hour: h, Minute: m, Second: s}), nil
		}
	case types.ColTimestamp:
		switch v.Kind() {
		case types.KindTimestamp:
			return v, nil
		case types.KindString:
			t, err := parseISOTimestamp(v.String())
			if err != nil {
				return types.Value{}, sqlerr.TypeErr("cannot CAST %q to TIMESTAMP: expected ISO 8601", v.String())
			}
			return types.NewTimestamp(t), nil
		}
	}
	return types.Value{}, sqlerr.TypeErr("unsupported CAST from %s to %s", v.Kind(), target)
}

func roundHalfAwayFromZero(f float64) float64 {
	if f < 0 {
		return -roundHalfAwayFromZero(-f)
	}
	return float64(int64(f + 0.5))
}
