package executor

import (
	"time"

	"github.com/hamzaexact/sqlens/pkg/catalog"
	"github.com/hamzaexact/sqlens/pkg/eval"
	"github.com/hamzaexact/sqlens/pkg/sql/parser"
	"github.com/hamzaexact/sqlens/pkg/sqlerr"
	"github.com/hamzaexact/sqlens/pkg/types"
)

func execCreateDatabase(sess *Session, s *parser.CreateDatabaseStmt) (*Result, error) {
	_, err := sess.Registry.CreateDatabase(s.Name)
	if err != nil {
		if s.IfNotExists && sqlerr.Is(err, sqlerr.Name) {
			return &Result{Status: "CREATE DATABASE"}, nil
		}
		return nil, err
	}
	return &Result{Status: "CREATE DATABASE"}, nil
}

func execDropDatabase(sess *Session, s *parser.DropDatabaseStmt) (*Result, error) {
	err := sess.Registry.DropDatabase(s.Name)
	if err != nil {
		if s.IfExists && sqlerr.Is(err, sqlerr.Name) {
			return &Result{Status: "DROP DATABASE"}, nil
		}
		return nil, err
	}
	if sess.Current != nil && sess.Current.Name == s.Name {
		sess.Current = nil
	}
	return &Result{Status: "DROP DATABASE"}, nil
}

func execUse(sess *Session, s *parser.UseStmt) (*Result, error) {
	db, err := sess.Registry.GetDatabase(s.Name)
	if err != nil {
		return nil, err
	}
	sess.Current = db
	return &Result{Status: "USE"}, nil
}

func execCreateTable(sess *Session, s *parser.CreateTableStmt) (*Result, error) {
	db, err := requireCurrentDatabase(sess)
	if err != nil {
		return nil, err
	}
	if s.IfNotExists && db.HasTable(s.TableName) {
		return &Result{Status: "CREATE TABLE"}, nil
	}
	table, err := buildTable(s)
	if err != nil {
		return nil, err
	}
	if err := db.CreateTable(table); err != nil {
		return nil, err
	}
	return &Result{Status: "CREATE TABLE"}, nil
}

func buildTable(s *parser.CreateTableStmt) (*catalog.Table, error) {
	t := &catalog.Table{Name: s.TableName}
	seen := map[string]bool{}
	for _, cd := range s.Columns {
		if seen[cd.Name] {
			return nil, sqlerr.NameErr("duplicate column %q in CREATE TABLE", cd.Name)
		}
		seen[cd.Name] = true
		col := catalog.Column{
			Name:     cd.Name,
			Type:     cd.Type,
			Nullable: !cd.NotNull,
			Default:  cd.Default,
		}
		t.Columns = append(t.Columns, col)
		if cd.PrimaryKey {
			t.Constraints = append(t.Constraints, catalog.Constraint{
				Kind: catalog.ConstraintPrimaryKey, Columns: []string{cd.Name},
			})
		}
		if cd.Unique {
			t.Constraints = append(t.Constraints, catalog.Constraint{
				Kind: catalog.ConstraintUnique, Columns: []string{cd.Name},
			})
		}
		if cd.Check != nil {
			t.Constraints = append(t.Constraints, catalog.Constraint{
				Kind: catalog.ConstraintCheck, Columns: []string{cd.Name}, Check: cd.Check,
			})
		}
	}
	return t, nil
}

func execAlterTable(sess *Session, s *parser.AlterTableStmt) (*Result, error) {
	db, err := requireCurrentDatabase(sess)
	if err != nil {
		return nil, err
	}
	table, err := db.GetTable(s.TableName)
	if err != nil {
		return nil, err
	}
	switch action := s.Action.(type) {
	case parser.AddColumnAction:
		if table.ColumnIndex(action.Column.Name) != -1 {
			return nil, sqlerr.NameErr("column %q already exists", action.Column.Name)
		}
		col := catalog.Column{
			Name:     action.Column.Name,
			Type:     action.Column.Type,
			Nullable: !action.Column.NotNull,
			Default:  action.Column.Default,
		}
		fillValue := types.NewNull()
		if col.Default != nil {
			v, err := eval.Eval(col.Default, &eval.Env{Functions: sess.Functions})
			if err != nil {
				return nil, err
			}
			fillValue = v
		} else if !col.Nullable && len(table.Rows) > 0 {
			return nil, sqlerr.ConstraintErr("NOT NULL", "cannot add NOT NULL column %q without a DEFAULT to a non-empty table", col.Name)
		}
		for i := range table.Rows {
			table.Rows[i] = append(table.Rows[i], fillValue)
		}
		table.Columns = append(table.Columns, col)
	case parser.DropColumnAction:
		idx := table.ColumnIndex(action.Name)
		if idx == -1 {
			return nil, sqlerr.NameErr("column %q does not exist", action.Name)
		}
		for _, c := range table.Constraints {
			if c.Kind == catalog.ConstraintCheck && containsColumnRef(c.Check, action.Name) {
				return nil, sqlerr.ConstraintErr("CHECK", "cannot drop column %q: referenced by a CHECK constraint", action.Name)
			}
		}
		table.Columns = append(table.Columns[:idx], table.Columns[idx+1:]...)
		for i := range table.Rows {
			table.Rows[i] = append(table.Rows[i][:idx], table.Rows[i][idx+1:]...)
		}
	case parser.AddConstraintAction:
		c := catalog.Constraint{Name: action.Name}
		switch {
		case len(action.PrimaryKey) > 0:
			c.Kind, c.Columns = catalog.ConstraintPrimaryKey, action.PrimaryKey
		case len(action.Unique) > 0:
			c.Kind, c.Columns = catalog.ConstraintUnique, action.Unique
		case action.Check != nil:
			c.Kind, c.Check = catalog.ConstraintCheck, action.Check
		}
		table.Constraints = append(table.Constraints, c)
	case parser.DropConstraintAction:
		idx := -1
		for i, c := range table.Constraints {
			if c.Name == action.Name {
				idx = i
				break
			}
		}
		if idx == -1 {
			return nil, sqlerr.NameErr("constraint %q does not exist", action.Name)
		}
		table.Constraints = append(table.Constraints[:idx], table.Constraints[idx+1:]...)
	case parser.RenameTableAction:
		if err := db.RenameTable(s.TableName, action.NewName); err != nil {
			return nil, err
		}
	}
	return &Result{Status: "ALTER TABLE"}, nil
}

func containsColumnRef(expr parser.Expression, name string) bool {
	switch e := expr.(type) {
	case *parser.ColumnRef:
		return e.Name == name
	case *parser.BinaryExpr:
		return containsColumnRef(e.Left, name) || containsColumnRef(e.Right, name)
	case *parser.UnaryExpr:
		return containsColumnRef(e.Right, name)
	case *parser.Between:
		return containsColumnRef(e.Expr, name) || containsColumnRef(e.Low, name) || containsColumnRef(e.High, name)
	case *parser.InList:
		if containsColumnRef(e.Expr, name) {
			return true
		}
		for _, a := range e.List {
			if containsColumnRef(a, name) {
				return true
			}
		}
		return false
	case *parser.LikeExpr:
		return containsColumnRef(e.Expr, name) || containsColumnRef(e.Pattern, name)
	case *parser.IsNullExpr:
		return containsColumnRef(e.Expr, name)
	case *parser.FunctionCall:
		for _, a := range e.Args {
			if containsColumnRef(a, name) {
				return true
			}
		}
		return false
	case *parser.CaseExpr:
		if e.Operand != nil && containsColumnRef(e.Operand, name) {
			return true
		}
		for _, w := range e.Whens {
			if containsColumnRef(w.When, name) || containsColumnRef(w.Then, name) {
				return true
			}
		}
		if e.Else != nil {
			return containsColumnRef(e.Else, name)
		}
		return false
	case *parser.CastExpr:
		return containsColumnRef(e.Expr, name)
	case *parser.CoalesceExpr:
		for _, a := range e.Args {
			if containsColumnRef(a, name) {
				return true
			}
		}
		return false
	case *parser.NullIfExpr:
		return containsColumnRef(e.A, name) || containsColumnRef(e.B, name)
	}
	return false
}

func execDropTable(sess *Session, s *parser.DropTableStmt) (*Result, error) {
	db, err := requireCurrentDatabase(sess)
	if err != nil {
		return nil, err
	}
	err = db.DropTable(s.TableName)
	if err != nil {
		if s.IfExists && sqlerr.Is(err, sqlerr.Name) {
			return &Result{Status: "DROP TABLE"}, nil
		}
		return nil, err
	}
	return &Result{Status: "DROP TABLE"}, nil
}

func execCreateView(sess *Session, s *parser.CreateViewStmt, now time.Time) (*Result, error) {
	db, err := requireCurrentDatabase(sess)
	if err != nil {
		return nil, err
	}
	if !s.Materialized {
		if err := db.CreateView(&catalog.View{Name: s.Name, Query: s.Query}); err != nil {
			return nil, err
		}
		return &Result{Status: "CREATE VIEW"}, nil
	}
	rs, _, err := runSelect(sess, s.Query, now, nil)
	if err != nil {
		return nil, err
	}
	mv := &catalog.MaterializedView{Name: s.Name, Query: s.Query, Columns: rs.Columns, Rows: rs.Rows}
	if err := db.CreateMaterializedView(mv); err != nil {
		return nil, err
	}
	return &Result{Status: "CREATE MATERIALIZED VIEW"}, nil
}

func execRefreshMaterializedView(sess *Session, s *parser.RefreshMaterializedViewStmt, now time.Time) (*Result, error) {
	db, err := requireCurrentDatabase(sess)
	if err != nil {
		return nil, err
	}
	mv, ok := db.GetMaterializedView(s.Name)
	if !ok {
		return nil, sqlerr.StateErr("%q is not a materialized view", s.Name)
	}
	rs, _, err := runSelect(sess, mv.Query, now, nil)
	if err != nil {
		return nil, err
	}
	mv.Columns = rs.Columns
	mv.Rows = rs.Rows
	mv.Stale = false
	return &Result{Status: "REFRESH MATERIALIZED VIEW"}, nil
}

func execDropView(sess *Session, s *parser.DropViewStmt) (*Result, error) {
	db, err := requireCurrentDatabase(sess)
	if err != nil {
		return nil, err
	}
	if _, ok := db.GetMaterializedView(s.Name); ok {
		if err := db.DropMaterializedView(s.Name); err != nil {
			return nil, err
		}
		return &Result{Status: "DROP VIEW"}, nil
	}
	err = db.DropView(s.Name)
	if err != nil {
		if s.IfExists && sqlerr.Is(err, sqlerr.Name) {
			return &Result{Status: "DROP VIEW"}, nil
		}
		return nil, err
	}
	return &Result{Status: "DROP VIEW"}, nil
}
