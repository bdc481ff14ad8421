// Package snapshot serializes a catalog.Database to and from a
// self-describing byte sequence, and ports that sequence to storage
// through the Store interface.
package snapshot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hamzaexact/sqlens/pkg/catalog"
	"github.com/hamzaexact/sqlens/pkg/eval"
	"github.com/hamzaexact/sqlens/pkg/executor"
	"github.com/hamzaexact/sqlens/pkg/sql/parser"
	"github.com/hamzaexact/sqlens/pkg/sqlerr"
	"github.com/hamzaexact/sqlens/pkg/types"
)

const formatVersion = "sqlens-snapshot-v1"

// Encode renders db as a replayable SQL script: CREATE TABLE/ALTER
// TABLE ADD CONSTRAINT/INSERT for every table, CREATE VIEW for every
// plain view, plus line-comment directives (never fed to the SQL
// parser) that carry state the grammar has no statement for: a SERIAL
// column's next auto-increment value, and a materialized view's cached
// rows and staleness. Re-lexing this text is how the byte sequence
// round-trips every Value variant - no separate binary format needed.
func Encode(db *catalog.Database) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "-- %s\n", formatVersion)
	fmt.Fprintf(&b, "-- DATABASE %s\n", db.Name)
	fmt.Fprintf(&b, "CREATE DATABASE %s;\n", db.Name)
	fmt.Fprintf(&b, "USE %s;\n", db.Name)

	for _, name := range db.ListTables() {
		table, err := db.GetTable(name)
		if err != nil {
			return nil, err
		}
		encodeTable(&b, table)
	}
	for _, name := range db.ListViews() {
		v, _ := db.GetView(name)
		fmt.Fprintf(&b, "CREATE VIEW %s AS %s;\n", v.Name, selectSQL(v.Query))
	}
	for _, name := range db.ListMaterializedViews() {
		mv, _ := db.GetMaterializedView(name)
		encodeMaterializedView(&b, mv)
	}
	return []byte(b.String()), nil
}

func encodeTable(b *strings.Builder, table *catalog.Table) {
	cols := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		def := c.Name + " " + c.Type.String()
		if !c.Nullable {
			def += " NOT NULL"
		}
		if c.Default != nil {
			def += " DEFAULT " + exprSQL(c.Default)
		}
		cols[i] = def
	}
	fmt.Fprintf(b, "CREATE TABLE %s (%s);\n", table.Name, strings.Join(cols, ", "))

	for _, c := range table.Constraints {
		name := ""
		if c.Name != "" {
			name = c.Name + " "
		}
		switch c.Kind {
		case catalog.ConstraintPrimaryKey:
			fmt.Fprintf(b, "ALTER TABLE %s ADD CONSTRAINT %sPRIMARY KEY (%s);\n", table.Name, name, strings.Join(c.Columns, ", "))
		case catalog.ConstraintUnique:
			fmt.Fprintf(b, "ALTER TABLE %s ADD CONSTRAINT %sUNIQUE (%s);\n", table.Name, name, strings.Join(c.Columns, ", "))
		case catalog.ConstraintCheck:
			fmt.Fprintf(b, "ALTER TABLE %s ADD CONSTRAINT %sCHECK (%s);\n", table.Name, name, exprSQL(c.Check))
		}
	}

	colNames := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		colNames[i] = c.Name
	}
	for _, row := range table.Rows {
		vals := make([]string, len(row))
		for i, v := range row {
			vals[i] = literalSQL(v)
		}
		fmt.Fprintf(b, "INSERT INTO %s (%s) VALUES (%s);\n", table.Name, strings.Join(colNames, ", "), strings.Join(vals, ", "))
	}

	for _, c := range table.Columns {
		if c.Type.Kind == types.ColSerial {
			fmt.Fprintf(b, "-- SERIAL %s %s %d\n", table.Name, c.Name, c.SerialNext)
		}
	}
}

func encodeMaterializedView(b *strings.Builder, mv *catalog.MaterializedView) {
	fmt.Fprintf(b, "-- MVIEW %s\n", mv.Name)
	fmt.Fprintf(b, "-- QUERY %s\n", selectSQL(mv.Query))
	fmt.Fprintf(b, "-- STALE %t\n", mv.Stale)
	fmt.Fprintf(b, "-- COLUMNS %s\n", strings.Join(mv.Columns, ","))
	for _, row := range mv.Rows {
		vals := make([]string, len(row))
		for i, v := range row {
			vals[i] = literalSQL(v)
		}
		fmt.Fprintf(b, "-- ROW %s\n", strings.Join(vals, ", "))
	}
	fmt.Fprintf(b, "-- ENDMVIEW\n")
}

type mviewDirective struct {
	name    string
	query   string
	stale   bool
	columns []string
	rows    []string
}

// Decode parses data back into a fresh *catalog.Database. The caller
// is responsible for installing it into the live registry (typically
// via catalog.Registry.PutDatabase).
func Decode(data []byte) (*catalog.Database, error) {
	lines := strings.Split(string(data), "\n")

	var script strings.Builder
	type serialFix struct {
		table, column string
		value         int64
	}
	var serials []serialFix
	var mviews []mviewDirective
	var current *mviewDirective

	for _, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(trimmed, "-- SERIAL "):
			fields := strings.Fields(strings.TrimPrefix(trimmed, "-- SERIAL "))
			if len(fields) != 3 {
				return nil, sqlerr.IOErr("malformed SERIAL directive: %q", trimmed)
			}
			n, err := strconv.ParseInt(fields[2], 10, 64)
			if err != nil {
				return nil, sqlerr.IOErr("malformed SERIAL directive: %q", trimmed)
			}
			serials = append(serials, serialFix{table: fields[0], column: fields[1], value: n})
		case strings.HasPrefix(trimmed, "-- MVIEW "):
			mviews = append(mviews, mviewDirective{name: strings.TrimPrefix(trimmed, "-- MVIEW ")})
			current = &mviews[len(mviews)-1]
		case strings.HasPrefix(trimmed, "-- QUERY "):
			current.query = strings.TrimPrefix(trimmed, "-- QUERY ")
		case strings.HasPrefix(trimmed, "-- STALE "):
			current.stale = strings.TrimPrefix(trimmed, "-- STALE ") == "true"
		case strings.HasPrefix(trimmed, "-- COLUMNS "):
			current.columns = strings.Split(strings.TrimPrefix(trimmed, "-- COLUMNS "), ",")
		case strings.HasPrefix(trimmed, "-- ROW "):
			current.rows = append(current.rows, strings.TrimPrefix(trimmed, "-- ROW "))
		case strings.HasPrefix(trimmed, "-- ENDMVIEW"):
			current = nil
		case strings.HasPrefix(trimmed, "-- "):
			// format/header comment, ignored.
		case strings.TrimSpace(trimmed) == "":
			// blank separator, ignored.
		default:
			script.WriteString(trimmed)
			script.WriteString("\n")
		}
	}

	stmts, err := parser.New(script.String()).ParseStatements()
	if err != nil {
		return nil, err
	}
	registry := catalog.NewRegistry()
	sess := executor.NewSession(registry)
	// Replayed statements are all literal CREATE/INSERT/ALTER text with
	// no CURRENT_DATE/NOW() reference, so the wall-clock reading here
	// never reaches a result; it only satisfies Execute's signature.
	replayNow := time.Time{}
	for _, stmt := range stmts {
		if _, err := executor.Execute(sess, stmt, replayNow); err != nil {
			return nil, err
		}
	}
	db := sess.Current
	if db == nil {
		return nil, sqlerr.IOErr("snapshot script selected no current database")
	}

	for _, fix := range serials {
		table, err := db.GetTable(fix.table)
		if err != nil {
			return nil, err
		}
		idx := table.ColumnIndex(fix.column)
		if idx == -1 {
			return nil, sqlerr.IOErr("SERIAL directive references unknown column %s.%s", fix.table, fix.column)
		}
		table.Columns[idx].SerialNext = fix.value
	}

	for _, d := range mviews {
		queryStmts, err := parser.New(d.query).ParseStatements()
		if err != nil {
			return nil, err
		}
		sel, ok := queryStmts[0].(*parser.SelectStmt)
		if !ok {
			return nil, sqlerr.IOErr("MVIEW %s query did not parse as a SELECT", d.name)
		}
		rows := make([][]types.Value, 0, len(d.rows))
		for _, rowText := range d.rows {
			row, err := decodeRow(rowText)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
		mv := &catalog.MaterializedView{Name: d.name, Query: sel, Columns: d.columns, Rows: rows, Stale: d.stale}
		if err := db.CreateMaterializedView(mv); err != nil {
			return nil, err
		}
	}
	return db, nil
}

// decodeRow parses a comma-separated literal tuple (as produced by
// literalSQL) by wrapping it in a throwaway INSERT statement and
// reusing the real parser/evaluator - no hand-rolled value grammar.
func decodeRow(tuple string) ([]types.Value, error) {
	text := "INSERT INTO snapshot_row VALUES (" + tuple + ");"
	stmts, err := parser.New(text).ParseStatements()
	if err != nil {
		return nil, err
	}
	ins, ok := stmts[0].(*parser.InsertStmt)
	if !ok || len(ins.Rows) != 1 {
		return nil, sqlerr.IOErr("malformed ROW directive: %q", tuple)
	}
	row := make([]types.Value, len(ins.Rows[0]))
	for i, expr := range ins.Rows[0] {
		v, err := eval.Eval(expr, &eval.Env{})
		if err != nil {
			return nil, err
		}
		row[i] = v
	}
	return row, nil
}
