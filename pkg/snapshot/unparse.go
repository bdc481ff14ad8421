package snapshot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hamzaexact/sqlens/pkg/sql/parser"
	"github.com/hamzaexact/sqlens/pkg/types"
)

// literalSQL renders v as SQL text the grammar accepts back, so a
// restored table's row values re-parse to the exact same Value. DATE/
// TIME/TIMESTAMP have no bare literal syntax in this grammar, so they
// round-trip through CAST('...' AS ...) of their Display() text.
func literalSQL(v types.Value) string {
	switch v.Kind() {
	case types.KindNull:
		return "NULL"
	case types.KindInt, types.KindSerial:
		return strconv.FormatInt(v.Int(), 10)
	case types.KindFloat:
		s := strconv.FormatFloat(v.Float(), 'f', -1, 64)
		if !strings.Contains(s, ".") {
			// The lexer reads a number with neither a '.' nor an
			// exponent as INT, so a whole-number float must keep a '.'.
			s += ".0"
		}
		return s
	case types.KindBool:
		if v.Bool() {
			return "TRUE"
		}
		return "FALSE"
	case types.KindString:
		return quoteString(v.String())
	case types.KindDate:
		return "CAST(" + quoteString(v.Display()) + " AS DATE)"
	case types.KindTime:
		return "CAST(" + quoteString(v.Display()) + " AS TIME)"
	case types.KindTimestamp:
		return "CAST(" + quoteString(v.Display()) + " AS TIMESTAMP)"
	default:
		return "NULL"
	}
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// exprSQL unparses an expression tree back into SQL text. Every
// compound node is fully parenthesized; the result is never meant to
// be read, only re-lexed by this engine's own parser.
func exprSQL(e parser.Expression) string {
	switch x := e.(type) {
	case nil:
		return "NULL"
	case *parser.Literal:
		return literalSQL(x.Value)
	case *parser.ColumnRef:
		if x.Table != "" {
			return x.Table + "." + x.Name
		}
		return x.Name
	case *parser.Star:
		return "*"
	case *parser.BinaryExpr:
		return fmt.Sprintf("(%s %s %s)", exprSQL(x.Left), x.Op.String(), exprSQL(x.Right))
	case *parser.UnaryExpr:
		return fmt.Sprintf("(%s %s)", x.Op.String(), exprSQL(x.Right))
	case *parser.Between:
		not := ""
		if x.Not {
			not = "NOT "
		}
		return fmt.Sprintf("(%s %sBETWEEN %s AND %s)", exprSQL(x.Expr), not, exprSQL(x.Low), exprSQL(x.High))
	case *parser.InList:
		not := ""
		if x.Not {
			not = "NOT "
		}
		return fmt.Sprintf("(%s %sIN (%s))", exprSQL(x.Expr), not, exprListSQL(x.List))
	case *parser.InSubquery:
		not := ""
		if x.Not {
			not = "NOT "
		}
		return fmt.Sprintf("(%s %sIN (%s))", exprSQL(x.Expr), not, selectSQL(x.Query))
	case *parser.LikeExpr:
		not := ""
		if x.Not {
			not = "NOT "
		}
		op := "LIKE"
		if !x.CaseSensitive {
			op = "ILIKE"
		}
		return fmt.Sprintf("(%s %s%s %s)", exprSQL(x.Expr), not, op, exprSQL(x.Pattern))
	case *parser.IsNullExpr:
		not := ""
		if x.Not {
			not = "NOT "
		}
		return fmt.Sprintf("(%s IS %sNULL)", exprSQL(x.Expr), not)
	case *parser.FunctionCall:
		star := ""
		if x.Star {
			star = "*"
		}
		distinct := ""
		if x.Distinct {
			distinct = "DISTINCT "
		}
		return fmt.Sprintf("%s(%s%s%s)", x.Name, distinct, star, exprListSQL(x.Args))
	case *parser.CaseExpr:
		var b strings.Builder
		b.WriteString("CASE ")
		if x.Operand != nil {
			b.WriteString(exprSQL(x.Operand))
			b.WriteString(" ")
		}
		for _, w := range x.Whens {
			fmt.Fprintf(&b, "WHEN %s THEN %s ", exprSQL(w.When), exprSQL(w.Then))
		}
		if x.Else != nil {
			fmt.Fprintf(&b, "ELSE %s ", exprSQL(x.Else))
		}
		b.WriteString("END")
		return b.String()
	case *parser.CastExpr:
		return fmt.Sprintf("CAST(%s AS %s)", exprSQL(x.Expr), x.Target.String())
	case *parser.CoalesceExpr:
		return fmt.Sprintf("COALESCE(%s)", exprListSQL(x.Args))
	case *parser.NullIfExpr:
		return fmt.Sprintf("NULLIF(%s, %s)", exprSQL(x.A), exprSQL(x.B))
	case *parser.ScalarSubquery:
		return "(" + selectSQL(x.Query) + ")"
	default:
		return "NULL"
	}
}

func exprListSQL(list []parser.Expression) string {
	parts := make([]string, len(list))
	for i, e := range list {
		parts[i] = exprSQL(e)
	}
	return strings.Join(parts, ", ")
}

// selectSQL unparses a SelectStmt, including WITH, set-op chaining,
// and every clause, back into re-parseable SQL text on a single line.
func selectSQL(s *parser.SelectStmt) string {
	var b strings.Builder
	if len(s.With) > 0 {
		b.WriteString("WITH ")
		parts := make([]string, len(s.With))
		for i, cte := range s.With {
			parts[i] = fmt.Sprintf("%s AS (%s)", cte.Name, selectSQL(cte.Query))
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString(" ")
	}
	b.WriteString("SELECT ")
	if s.Distinct {
		b.WriteString("DISTINCT ")
	}
	items := make([]string, len(s.Columns))
	for i, it := range s.Columns {
		if it.Star {
			items[i] = "*"
			continue
		}
		items[i] = exprSQL(it.Expr)
		if it.Alias != "" {
			items[i] += " AS " + it.Alias
		}
	}
	b.WriteString(strings.Join(items, ", "))
	if s.From != nil {
		b.WriteString(" FROM ")
		if s.From.Subquery != nil {
			b.WriteString("(" + selectSQL(s.From.Subquery) + ")")
		} else {
			b.WriteString(s.From.Name)
		}
		if s.From.Alias != "" {
			b.WriteString(" AS " + s.From.Alias)
		}
	}
	if s.Where != nil {
		b.WriteString(" WHERE " + exprSQL(s.Where))
	}
	if len(s.GroupBy) > 0 {
		b.WriteString(" GROUP BY " + exprListSQL(s.GroupBy))
	}
	if s.Having != nil {
		b.WriteString(" HAVING " + exprSQL(s.Having))
	}
	if len(s.OrderBy) > 0 {
		parts := make([]string, len(s.OrderBy))
		for i, o := range s.OrderBy {
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			parts[i] = exprSQL(o.Expr) + " " + dir
		}
		b.WriteString(" ORDER BY " + strings.Join(parts, ", "))
	}
	if s.Limit != nil {
		b.WriteString(" LIMIT " + exprSQL(s.Limit))
	}
	if s.Offset != nil {
		b.WriteString(" OFFSET " + exprSQL(s.Offset))
	}
	switch s.SetOp {
	case parser.SetOpUnion:
		b.WriteString(" UNION " + selectSQL(s.SetOpNext))
	case parser.SetOpUnionAll:
		b.WriteString(" UNION ALL " + selectSQL(s.SetOpNext))
	case parser.SetOpIntersect:
		b.WriteString(" INTERSECT " + selectSQL(s.SetOpNext))
	case parser.SetOpExcept:
		b.WriteString(" EXCEPT " + selectSQL(s.SetOpNext))
	}
	return b.String()
}
