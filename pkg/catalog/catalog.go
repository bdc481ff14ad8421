// Package catalog implements the engine's in-memory schema: databases,
// tables with typed columns and constraints, views, and materialized
// views.
package catalog

import (
	"sort"
	"sync"

	"github.com/hamzaexact/sqlens/pkg/sql/parser"
	"github.com/hamzaexact/sqlens/pkg/sqlerr"
	"github.com/hamzaexact/sqlens/pkg/types"
)

// ConstraintKind names one of the four constraint forms a column or
// table can carry.
type ConstraintKind int

const (
	ConstraintPrimaryKey ConstraintKind = iota
	ConstraintUnique
	ConstraintNotNull
	ConstraintCheck
)

// Constraint is a single table- or column-level constraint. Columns
// names the column set it applies to (one name for a column-level
// constraint, possibly several for a table-level PRIMARY KEY/UNIQUE).
type Constraint struct {
	Name    string
	Kind    ConstraintKind
	Columns []string
	Check   parser.Expression // set iff Kind == ConstraintCheck
}

// Column is one column of a Table.
type Column struct {
	Name     string
	Type     types.ColumnType
	Nullable bool
	Default  parser.Expression // nil if none

	// SerialNext is the next value a SERIAL column's auto-increment
	// will hand out; monotonic, never reused even across DELETE.
	SerialNext int64
}

// Table is a named, ordered column list plus its row storage.
type Table struct {
	Name        string
	Columns     []Column
	Rows        [][]types.Value
	Constraints []Constraint
}

func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// View is a named, parameterless stored SELECT, re-evaluated on every
// reference.
type View struct {
	Name  string
	Query *parser.SelectStmt
}

// MaterializedView caches the result of its defining SELECT until an
// explicit REFRESH.
type MaterializedView struct {
	Name    string
	Query   *parser.SelectStmt
	Columns []string
	Rows    [][]types.Value
	Stale   bool
}

// Database owns the tables, views, and materialized views of one
// catalog entry.
type Database struct {
	Name              string
	mu                sync.RWMutex
	tables            map[string]*Table
	views             map[string]*View
	materializedViews map[string]*MaterializedView
}

func newDatabase(name string) *Database {
	return &Database{
		Name:              name,
		tables:            make(map[string]*Table),
		views:             make(map[string]*View),
		materializedViews: make(map[string]*MaterializedView),
	}
}

func (d *Database) CreateTable(t *Table) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.tables[t.Name]; ok {
		return sqlerr.NameErr("table %q already exists", t.Name)
	}
	if _, ok := d.views[t.Name]; ok {
		return sqlerr.NameErr("a view named %q already exists", t.Name)
	}
	d.tables[t.Name] = t
	return nil
}

func (d *Database) DropTable(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.tables[name]; !ok {
		return sqlerr.NameErr("table %q does not exist", name)
	}
	delete(d.tables, name)
	return nil
}

func (d *Database) RenameTable(oldName, newName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[oldName]
	if !ok {
		return sqlerr.NameErr("table %q does not exist", oldName)
	}
	if _, exists := d.tables[newName]; exists {
		return sqlerr.NameErr("table %q already exists", newName)
	}
	delete(d.tables, oldName)
	t.Name = newName
	d.tables[newName] = t
	return nil
}

func (d *Database) GetTable(name string) (*Table, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tables[name]
	if !ok {
		return nil, sqlerr.NameErr("table %q does not exist", name)
	}
	return t, nil
}

func (d *Database) HasTable(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.tables[name]
	return ok
}

func (d *Database) ListTables() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.tables))
	for n := range d.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (d *Database) CreateView(v *View) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.views[v.Name]; ok {
		return sqlerr.NameErr("view %q already exists", v.Name)
	}
	if _, ok := d.materializedViews[v.Name]; ok {
		return sqlerr.NameErr("a materialized view named %q already exists", v.Name)
	}
	d.views[v.Name] = v
	return nil
}

func (d *Database) GetView(name string) (*View, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.views[name]
	return v, ok
}

func (d *Database) DropView(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.views[name]; !ok {
		return sqlerr.NameErr("view %q does not exist", name)
	}
	delete(d.views, name)
	return nil
}

// ListViews returns the names of every non-materialized view, sorted.
func (d *Database) ListViews() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.views))
	for n := range d.views {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (d *Database) CreateMaterializedView(mv *MaterializedView) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.materializedViews[mv.Name]; ok {
		return sqlerr.NameErr("materialized view %q already exists", mv.Name)
	}
	if _, ok := d.views[mv.Name]; ok {
		return sqlerr.NameErr("a view named %q already exists", mv.Name)
	}
	d.materializedViews[mv.Name] = mv
	return nil
}

func (d *Database) GetMaterializedView(name string) (*MaterializedView, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	mv, ok := d.materializedViews[name]
	return mv, ok
}

func (d *Database) DropMaterializedView(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.materializedViews[name]; !ok {
		return sqlerr.NameErr("materialized view %q does not exist", name)
	}
	delete(d.materializedViews, name)
	return nil
}

func (d *Database) ListMaterializedViews() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.materializedViews))
	for n := range d.materializedViews {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Registry is the process-local mapping from database name to
// Database. The engine holds one Registry and a "current database"
// handle scoped to the session, never to the process.
type Registry struct {
	mu        sync.RWMutex
	databases map[string]*Database
}

func NewRegistry() *Registry {
	return &Registry{databases: make(map[string]*Database)}
}

func (r *Registry) CreateDatabase(name string) (*Database, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.databases[name]; ok {
		return nil, sqlerr.NameErr("database %q already exists", name)
	}
	db := newDatabase(name)
	r.databases[name] = db
	return db, nil
}

func (r *Registry) DropDatabase(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.databases[name]; !ok {
		return sqlerr.NameErr("database %q does not exist", name)
	}
	delete(r.databases, name)
	return nil
}

func (r *Registry) GetDatabase(name string) (*Database, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	db, ok := r.databases[name]
	if !ok {
		return nil, sqlerr.NameErr("database %q does not exist", name)
	}
	return db, nil
}

func (r *Registry) HasDatabase(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.databases[name]
	return ok
}

func (r *Registry) ListDatabases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.databases))
	for n := range r.databases {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// PutDatabase installs db under name, overwriting any existing entry.
// Used by snapshot restore (pkg/snapshot) to repopulate the registry.
func (r *Registry) PutDatabase(db *Database) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.databases[db.Name] = db
}
