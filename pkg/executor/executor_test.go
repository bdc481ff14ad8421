package executor

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hamzaexact/sqlens/pkg/catalog"
	"github.com/hamzaexact/sqlens/pkg/sql/parser"
	"github.com/hamzaexact/sqlens/pkg/sqlerr"
	"github.com/hamzaexact/sqlens/pkg/types"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// valueComparer lets cmp.Diff compare types.Value (unexported fields)
// by delegating to its own Equal, for full row-set equality checks.
var valueComparer = cmp.Comparer(func(a, b types.Value) bool {
	return types.Equal(a, b)
})

func newSession(t *testing.T) *Session {
	t.Helper()
	sess := NewSession(catalog.NewRegistry())
	mustRun(t, sess, "CREATE DATABASE shop; USE shop;")
	return sess
}

// mustRun parses and executes every statement in sql, failing the test
// on the first error, and returns the last statement's result.
func mustRun(t *testing.T, sess *Session, sql string) *Result {
	t.Helper()
	stmts, err := parser.New(sql).ParseStatements()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	var last *Result
	for _, stmt := range stmts {
		res, err := Execute(sess, stmt, fixedNow)
		if err != nil {
			t.Fatalf("exec error for %q: %v", sql, err)
		}
		last = res
	}
	return last
}

func runErr(sess *Session, sql string) error {
	stmts, err := parser.New(sql).ParseStatements()
	if err != nil {
		return err
	}
	var last error
	for _, stmt := range stmts {
		_, last = Execute(sess, stmt, fixedNow)
		if last != nil {
			return last
		}
	}
	return nil
}

// S1: constraints and defaults.
func TestConstraintsAndDefaults(t *testing.T) {
	sess := newSession(t)
	mustRun(t, sess, `CREATE TABLE accounts (
		id SERIAL PRIMARY KEY,
		name VARCHAR(40) NOT NULL,
		balance FLOAT NOT NULL DEFAULT 0 CHECK (balance >= 0)
	);`)
	mustRun(t, sess, `INSERT INTO accounts (name) VALUES ('ana');`)

	if err := runErr(sess, `INSERT INTO accounts (name) VALUES (NULL);`); err == nil || !sqlerr.Is(err, sqlerr.Constraint) {
		t.Errorf("expected ConstraintError for NULL name, got %v", err)
	}
	if err := runErr(sess, `INSERT INTO accounts (name, balance) VALUES ('bob', -5);`); err == nil || !sqlerr.Is(err, sqlerr.Constraint) {
		t.Errorf("expected ConstraintError for negative balance, got %v", err)
	}

	res := mustRun(t, sess, `SELECT id, name, balance FROM accounts;`)
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 surviving row, got %d", len(res.Rows))
	}
	if res.Rows[0][0].Int() != 0 {
		t.Errorf("expected SERIAL id 0 (the counter's initial value), got %v", res.Rows[0][0].Display())
	}
	if res.Rows[0][2].Float() != 0 {
		t.Errorf("expected default balance 0, got %v", res.Rows[0][2].Display())
	}
}

// S2: ON CONFLICT DO UPDATE with RETURNING.
func TestInsertOnConflictDoUpdate(t *testing.T) {
	sess := newSession(t)
	mustRun(t, sess, `CREATE TABLE counters (key VARCHAR(20) UNIQUE, hits INT NOT NULL DEFAULT 0);`)
	mustRun(t, sess, `INSERT INTO counters (key, hits) VALUES ('a', 1);`)
	res := mustRun(t, sess, `INSERT INTO counters (key, hits) VALUES ('a', 1)
		ON CONFLICT (key) DO UPDATE SET hits = hits + 1 RETURNING *;`)
	if len(res.Rows) != 1 || res.Rows[0][1].Int() != 2 {
		t.Fatalf("expected hits=2 after conflict update, got %+v", res.Rows)
	}

	res = mustRun(t, sess, `INSERT INTO counters (key, hits) VALUES ('a', 99)
		ON CONFLICT (key) DO NOTHING RETURNING *;`)
	if len(res.Rows) != 0 {
		t.Fatalf("expected DO NOTHING to skip the row, got %+v", res.Rows)
	}
	res = mustRun(t, sess, `SELECT hits FROM counters WHERE key = 'a';`)
	if res.Rows[0][0].Int() != 2 {
		t.Errorf("DO NOTHING should not have changed hits, got %v", res.Rows[0][0].Display())
	}
}

// S3: three-valued logic in WHERE discards UNKNOWN rows.
func TestThreeValuedWhereDiscardsUnknown(t *testing.T) {
	sess := newSession(t)
	mustRun(t, sess, `CREATE TABLE people (name VARCHAR(20), age INT);`)
	mustRun(t, sess, `INSERT INTO people (name, age) VALUES ('a', 10), ('b', NULL), ('c', 30);`)
	res := mustRun(t, sess, `SELECT name FROM people WHERE age > 20;`)
	if len(res.Rows) != 1 || res.Rows[0][0].String() != "c" {
		t.Fatalf("expected only 'c' to pass age > 20, got %+v", res.Rows)
	}
	res = mustRun(t, sess, `SELECT name FROM people WHERE NOT (age > 20);`)
	if len(res.Rows) != 1 || res.Rows[0][0].String() != "a" {
		t.Fatalf("NULL age must not satisfy NOT(age > 20) either, got %+v", res.Rows)
	}
}

// S4: GROUP BY / HAVING / ORDER BY.
func TestGroupByHavingOrderBy(t *testing.T) {
	sess := newSession(t)
	mustRun(t, sess, `CREATE TABLE sales (region VARCHAR(20), amount INT);`)
	mustRun(t, sess, `INSERT INTO sales (region, amount) VALUES
		('east', 10), ('east', 5), ('west', 1), ('west', 2), ('west', 3);`)
	res := mustRun(t, sess, `SELECT region, SUM(amount) FROM sales
		GROUP BY region HAVING SUM(amount) > 5 ORDER BY region;`)
	if len(res.Rows) != 2 {
		t.Fatalf("expected 2 groups to pass HAVING, got %d: %+v", len(res.Rows), res.Rows)
	}
	if res.Rows[0][0].String() != "east" || res.Rows[0][1].Int() != 15 {
		t.Errorf("unexpected east group: %+v", res.Rows[0])
	}
	if res.Rows[1][0].String() != "west" || res.Rows[1][1].Int() != 6 {
		t.Errorf("unexpected west group: %+v", res.Rows[1])
	}
}

// S5: CTE, set operations, and a scalar subquery together.
func TestCTESetOpAndSubquery(t *testing.T) {
	sess := newSession(t)
	mustRun(t, sess, `CREATE TABLE orders (id INT, customer VARCHAR(20), total INT);`)
	mustRun(t, sess, `INSERT INTO orders (id, customer, total) VALUES
		(1, 'ana', 100), (2, 'bob', 50), (3, 'ana', 10);`)

	res := mustRun(t, sess, `WITH big AS (SELECT customer FROM orders WHERE total > 60)
		SELECT customer FROM big
		UNION
		SELECT customer FROM orders WHERE total < 20;`)
	names := map[string]bool{}
	for _, row := range res.Rows {
		names[row[0].String()] = true
	}
	if !names["ana"] {
		t.Errorf("expected 'ana' in UNION result, got %+v", res.Rows)
	}

	res = mustRun(t, sess, `SELECT customer FROM orders
		WHERE total = (SELECT MAX(total) FROM orders);`)
	if len(res.Rows) != 1 || res.Rows[0][0].String() != "ana" {
		t.Fatalf("expected scalar subquery to find the top order's customer, got %+v", res.Rows)
	}
}

// S6: materialized view staleness / refresh contract.
func TestMaterializedViewRefresh(t *testing.T) {
	sess := newSession(t)
	mustRun(t, sess, `CREATE TABLE events (kind VARCHAR(20));`)
	mustRun(t, sess, `INSERT INTO events (kind) VALUES ('login');`)
	mustRun(t, sess, `CREATE MATERIALIZED VIEW event_counts AS SELECT COUNT(*) FROM events;`)

	res := mustRun(t, sess, `SELECT * FROM event_counts;`)
	if res.Rows[0][0].Int() != 1 {
		t.Fatalf("expected cached count 1, got %v", res.Rows[0][0].Display())
	}

	mustRun(t, sess, `INSERT INTO events (kind) VALUES ('logout');`)
	res = mustRun(t, sess, `SELECT * FROM event_counts;`)
	if res.Rows[0][0].Int() != 1 {
		t.Fatalf("materialized view must stay stale until REFRESH, got %v", res.Rows[0][0].Display())
	}

	mustRun(t, sess, `REFRESH MATERIALIZED VIEW event_counts;`)
	res = mustRun(t, sess, `SELECT * FROM event_counts;`)
	if res.Rows[0][0].Int() != 2 {
		t.Fatalf("expected count 2 after REFRESH, got %v", res.Rows[0][0].Display())
	}
}

func TestDistinctIsIdempotent(t *testing.T) {
	sess := newSession(t)
	mustRun(t, sess, `CREATE TABLE tags (name VARCHAR(10));`)
	mustRun(t, sess, `INSERT INTO tags (name) VALUES ('x'), ('x'), ('y');`)
	once := mustRun(t, sess, `SELECT DISTINCT name FROM tags ORDER BY name;`)
	twice := mustRun(t, sess, `SELECT DISTINCT name FROM (SELECT DISTINCT name FROM tags) AS t ORDER BY name;`)
	if diff := cmp.Diff(once.Rows, twice.Rows, valueComparer); diff != "" {
		t.Fatalf("DISTINCT should be idempotent, row sets differ (-once +twice):\n%s", diff)
	}
}

func TestUnionAllIsCommutativeInCount(t *testing.T) {
	sess := newSession(t)
	mustRun(t, sess, `CREATE TABLE a (v INT);`)
	mustRun(t, sess, `CREATE TABLE b (v INT);`)
	mustRun(t, sess, `INSERT INTO a (v) VALUES (1), (2);`)
	mustRun(t, sess, `INSERT INTO b (v) VALUES (3);`)
	ab := mustRun(t, sess, `SELECT v FROM a UNION ALL SELECT v FROM b;`)
	ba := mustRun(t, sess, `SELECT v FROM b UNION ALL SELECT v FROM a;`)
	if len(ab.Rows) != len(ba.Rows) {
		t.Fatalf("UNION ALL must preserve total row count regardless of operand order: %d vs %d", len(ab.Rows), len(ba.Rows))
	}
}

func TestFailedStatementLeavesCatalogUnchanged(t *testing.T) {
	sess := newSession(t)
	mustRun(t, sess, `CREATE TABLE widgets (id INT PRIMARY KEY);`)
	mustRun(t, sess, `INSERT INTO widgets (id) VALUES (1);`)
	before := mustRun(t, sess, `SELECT id FROM widgets;`)

	if err := runErr(sess, `INSERT INTO widgets (id) VALUES (1);`); err == nil {
		t.Fatal("expected a PRIMARY KEY violation")
	}
	after := mustRun(t, sess, `SELECT id FROM widgets;`)
	if len(before.Rows) != len(after.Rows) {
		t.Fatalf("a rejected INSERT must not change table state: before=%d after=%d", len(before.Rows), len(after.Rows))
	}
}

func TestCountStarEqualsRowCount(t *testing.T) {
	sess := newSession(t)
	mustRun(t, sess, `CREATE TABLE widgets2 (id INT);`)
	mustRun(t, sess, `INSERT INTO widgets2 (id) VALUES (1), (2), (3);`)
	res := mustRun(t, sess, `SELECT COUNT(*) FROM widgets2;`)
	if res.Rows[0][0].Int() != 3 {
		t.Errorf("COUNT(*) should equal row count, got %v", res.Rows[0][0].Display())
	}
}

func TestUpdateAllOrNothing(t *testing.T) {
	sess := newSession(t)
	mustRun(t, sess, `CREATE TABLE inventory (sku VARCHAR(10) UNIQUE, qty INT);`)
	mustRun(t, sess, `INSERT INTO inventory (sku, qty) VALUES ('a', 1), ('b', 2);`)
	if err := runErr(sess, `UPDATE inventory SET sku = 'a';`); err == nil {
		t.Fatal("expected a UNIQUE violation from colliding SET")
	}
	res := mustRun(t, sess, `SELECT sku, qty FROM inventory ORDER BY sku;`)
	if res.Rows[0][0].String() != "a" || res.Rows[1][0].String() != "b" {
		t.Fatalf("a failed UPDATE must leave every row untouched, got %+v", res.Rows)
	}
}

func TestDeleteReturning(t *testing.T) {
	sess := newSession(t)
	mustRun(t, sess, `CREATE TABLE queue (id INT, done BOOLEAN);`)
	mustRun(t, sess, `INSERT INTO queue (id, done) VALUES (1, true), (2, false);`)
	res := mustRun(t, sess, `DELETE FROM queue WHERE done = true RETURNING *;`)
	if len(res.Rows) != 1 || res.Rows[0][0].Int() != 1 {
		t.Fatalf("expected RETURNING to report the deleted row, got %+v", res.Rows)
	}
	remaining := mustRun(t, sess, `SELECT id FROM queue;`)
	if len(remaining.Rows) != 1 || remaining.Rows[0][0].Int() != 2 {
		t.Fatalf("expected one row left after DELETE, got %+v", remaining.Rows)
	}
}

func TestAlterTableAddColumnWithDefault(t *testing.T) {
	sess := newSession(t)
	mustRun(t, sess, `CREATE TABLE items (id INT);`)
	mustRun(t, sess, `INSERT INTO items (id) VALUES (1);`)
	mustRun(t, sess, `ALTER TABLE items ADD COLUMN active BOOLEAN NOT NULL DEFAULT true;`)
	res := mustRun(t, sess, `SELECT id, active FROM items;`)
	if !res.Rows[0][1].Bool() {
		t.Errorf("expected backfilled default true, got %v", res.Rows[0][1].Display())
	}
}

func TestNoCurrentDatabaseFails(t *testing.T) {
	sess := NewSession(catalog.NewRegistry())
	if err := runErr(sess, `CREATE TABLE t (id INT);`); err == nil || !sqlerr.Is(err, sqlerr.State) {
		t.Errorf("expected StateError with no current database, got %v", err)
	}
}

func TestValuesMismatchColumnCount(t *testing.T) {
	sess := newSession(t)
	mustRun(t, sess, `CREATE TABLE pair (a INT, b INT);`)
	if err := runErr(sess, `INSERT INTO pair (a, b) VALUES (1);`); err == nil || !sqlerr.Is(err, sqlerr.Type) {
		t.Errorf("expected TypeError on column/value count mismatch, got %v", err)
	}
}

func TestInsertCoercesAndRejectsValues(t *testing.T) {
	sess := newSession(t)
	mustRun(t, sess, `CREATE TABLE measures (n INT, f FLOAT);`)
	if err := runErr(sess, `INSERT INTO measures (n) VALUES ('abc');`); err == nil || !sqlerr.Is(err, sqlerr.Type) {
		t.Errorf("expected TypeError coercing a non-numeric string into INT, got %v", err)
	}
	mustRun(t, sess, `INSERT INTO measures (n, f) VALUES (3, 3);`)
	res := mustRun(t, sess, `SELECT f FROM measures;`)
	if res.Rows[0][0].Kind() != types.KindFloat || res.Rows[0][0].Float() != 3 {
		t.Errorf("expected an INT literal promoted to FLOAT for a FLOAT column, got %v", res.Rows[0][0].Display())
	}
}

func TestInsertRejectsVarcharOverrun(t *testing.T) {
	sess := newSession(t)
	mustRun(t, sess, `CREATE TABLE tags2 (name VARCHAR(3));`)
	if err := runErr(sess, `INSERT INTO tags2 (name) VALUES ('abcdef');`); err == nil || !sqlerr.Is(err, sqlerr.Type) {
		t.Errorf("expected TypeError for a VARCHAR(3) overrun, got %v", err)
	}
}

func TestUpdateCoercesSetValues(t *testing.T) {
	sess := newSession(t)
	mustRun(t, sess, `CREATE TABLE readings (v FLOAT);`)
	mustRun(t, sess, `INSERT INTO readings (v) VALUES (0);`)
	mustRun(t, sess, `UPDATE readings SET v = 7;`)
	res := mustRun(t, sess, `SELECT v FROM readings;`)
	if res.Rows[0][0].Kind() != types.KindFloat || res.Rows[0][0].Float() != 7 {
		t.Errorf("expected SET to promote an INT literal into a FLOAT column, got %v", res.Rows[0][0].Display())
	}
}

func TestMultiRowInsertIsAllOrNothing(t *testing.T) {
	sess := newSession(t)
	mustRun(t, sess, `CREATE TABLE people2 (name VARCHAR(20) UNIQUE);`)
	if err := runErr(sess, `INSERT INTO people2 (name) VALUES ('a'), ('a');`); err == nil || !sqlerr.Is(err, sqlerr.Constraint) {
		t.Errorf("expected a UNIQUE violation on the second row, got %v", err)
	}
	res := mustRun(t, sess, `SELECT name FROM people2;`)
	if len(res.Rows) != 0 {
		t.Fatalf("a rejected multi-row INSERT must commit none of its rows, got %+v", res.Rows)
	}
}

func TestMultiRowInsertSerialStaysUnbumpedOnFailure(t *testing.T) {
	sess := newSession(t)
	mustRun(t, sess, `CREATE TABLE ticket (id SERIAL PRIMARY KEY, name VARCHAR(20) UNIQUE);`)
	if err := runErr(sess, `INSERT INTO ticket (name) VALUES ('a'), ('a');`); err == nil || !sqlerr.Is(err, sqlerr.Constraint) {
		t.Errorf("expected a UNIQUE violation on the second row, got %v", err)
	}
	mustRun(t, sess, `INSERT INTO ticket (name) VALUES ('a');`)
	res := mustRun(t, sess, `SELECT id FROM ticket;`)
	if len(res.Rows) != 1 || res.Rows[0][0].Int() != 0 {
		t.Fatalf("a rejected batch must not have consumed a SERIAL value, expected the counter's initial id 0, got %+v", res.Rows)
	}
}

func TestSetOpChainIsLeftAssociative(t *testing.T) {
	sess := newSession(t)
	mustRun(t, sess, `CREATE TABLE s1 (v INT);`)
	mustRun(t, sess, `CREATE TABLE s2 (v INT);`)
	mustRun(t, sess, `CREATE TABLE s3 (v INT);`)
	mustRun(t, sess, `INSERT INTO s1 (v) VALUES (1), (1);`)
	mustRun(t, sess, `INSERT INTO s3 (v) VALUES (1);`)
	// (s1 UNION s2) UNION ALL s3 must collapse s1's own duplicate pair
	// before UNION ALL reintroduces a second 1 from s3. Resolving the
	// chain right-to-left instead would dedupe all three sources
	// together and leave only a single row.
	res := mustRun(t, sess, `SELECT v FROM s1 UNION SELECT v FROM s2 UNION ALL SELECT v FROM s3;`)
	if len(res.Rows) != 2 {
		t.Fatalf("expected left-associative chaining to yield 2 rows, got %d: %+v", len(res.Rows), res.Rows)
	}
}

func TestGroupByRejectsUngroupedColumn(t *testing.T) {
	sess := newSession(t)
	mustRun(t, sess, `CREATE TABLE sales3 (region VARCHAR(20), rep VARCHAR(20), amount INT);`)
	mustRun(t, sess, `INSERT INTO sales3 (region, rep, amount) VALUES ('east', 'ann', 10);`)
	if err := runErr(sess, `SELECT region, rep, SUM(amount) FROM sales3 GROUP BY region;`); err == nil || !sqlerr.Is(err, sqlerr.Name) {
		t.Errorf("expected a NameError selecting a column that is neither a grouping key nor aggregated, got %v", err)
	}
}

func TestSetOpRejectsIncompatibleColumnTypes(t *testing.T) {
	sess := newSession(t)
	mustRun(t, sess, `CREATE TABLE nums (v INT);`)
	mustRun(t, sess, `CREATE TABLE words (v VARCHAR(10));`)
	mustRun(t, sess, `INSERT INTO nums (v) VALUES (1);`)
	mustRun(t, sess, `INSERT INTO words (v) VALUES ('x');`)
	if err := runErr(sess, `SELECT v FROM nums UNION SELECT v FROM words;`); err == nil || !sqlerr.Is(err, sqlerr.Type) {
		t.Errorf("expected a TypeError combining an INT column with a STRING column, got %v", err)
	}
}
