package snapshot

import (
	"testing"
	"time"

	"github.com/hamzaexact/sqlens/pkg/catalog"
	"github.com/hamzaexact/sqlens/pkg/executor"
	"github.com/hamzaexact/sqlens/pkg/sql/parser"
	"github.com/hamzaexact/sqlens/pkg/types"
)

var fixedNow = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func buildSession(t *testing.T, sql string) *executor.Session {
	t.Helper()
	sess := executor.NewSession(catalog.NewRegistry())
	stmts, err := parser.New(sql).ParseStatements()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	for _, stmt := range stmts {
		if _, err := executor.Execute(sess, stmt, fixedNow); err != nil {
			t.Fatalf("exec error: %v", err)
		}
	}
	return sess
}

func TestEncodeDecodeRoundTripsTableData(t *testing.T) {
	sess := buildSession(t, `
		CREATE DATABASE shop;
		USE shop;
		CREATE TABLE accounts (
			id SERIAL PRIMARY KEY,
			name VARCHAR(40) NOT NULL,
			balance FLOAT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			opened DATE
		);
		INSERT INTO accounts (name, balance, opened) VALUES ('a', 10, CAST('2024-01-01' AS DATE));
		INSERT INTO accounts (name, balance, opened) VALUES ('b', 20, NULL);
	`)
	db, err := sess.Registry.GetDatabase("shop")
	if err != nil {
		t.Fatalf("get database: %v", err)
	}

	data, err := Encode(db)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	restored, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	table, err := restored.GetTable("accounts")
	if err != nil {
		t.Fatalf("restored table missing: %v", err)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(table.Rows))
	}
	if got := table.Columns[0].SerialNext; got != 2 {
		t.Fatalf("expected SerialNext=2 after two inserts, got %d", got)
	}
	if !types.Equal(table.Rows[0][0], types.NewInt(0)) {
		t.Fatalf("expected first row id=0, got %v", table.Rows[0][0])
	}
	if !types.Equal(table.Rows[0][1], types.NewString("a")) {
		t.Fatalf("expected first row name='a', got %v", table.Rows[0][1])
	}
	if !types.Equal(table.Rows[0][3], types.NewDate(types.Date{Year: 2024, Month: 1, Day: 1})) {
		t.Fatalf("expected first row opened=2024-01-01, got %v", table.Rows[0][3])
	}
	if !table.Rows[1][3].IsNull() {
		t.Fatalf("expected second row opened=NULL, got %v", table.Rows[1][3])
	}

	// The restored table must still enforce its CHECK constraint.
	restoredSess := executor.NewSession(catalog.NewRegistry())
	restoredSess.Registry.PutDatabase(restored)
	restoredSess.Current = restored
	stmt, err := parser.New(`INSERT INTO accounts (name, balance) VALUES ('c', -5);`).ParseStatements()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := executor.Execute(restoredSess, stmt[0], fixedNow); err == nil {
		t.Fatalf("expected CHECK violation on restored table, got nil error")
	}
}

func TestEncodeDecodeRoundTripsViewsAndMaterializedViews(t *testing.T) {
	sess := buildSession(t, `
		CREATE DATABASE shop;
		USE shop;
		CREATE TABLE events (kind VARCHAR(20) NOT NULL);
		INSERT INTO events (kind) VALUES ('click');
		INSERT INTO events (kind) VALUES ('view');
		CREATE VIEW clicks AS SELECT * FROM events WHERE kind = 'click';
		CREATE MATERIALIZED VIEW event_counts AS SELECT COUNT(*) FROM events;
		INSERT INTO events (kind) VALUES ('click');
	`)
	db, err := sess.Registry.GetDatabase("shop")
	if err != nil {
		t.Fatalf("get database: %v", err)
	}
	if _, ok := db.GetMaterializedView("event_counts"); !ok {
		t.Fatalf("materialized view missing before encode")
	}

	data, err := Encode(db)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	restored, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if _, ok := restored.GetView("clicks"); !ok {
		t.Fatalf("restored database missing view clicks")
	}
	rmv, ok := restored.GetMaterializedView("event_counts")
	if !ok {
		t.Fatalf("restored database missing materialized view event_counts")
	}
	if len(rmv.Rows) != 1 || !types.Equal(rmv.Rows[0][0], types.NewInt(2)) {
		t.Fatalf("expected cached count of 2 (computed before the third INSERT) to survive the round-trip, got %v", rmv.Rows)
	}
}

func TestEncodeDecodeRoundTripsUniqueConstraint(t *testing.T) {
	sess := buildSession(t, `
		CREATE DATABASE shop;
		USE shop;
		CREATE TABLE counters (key VARCHAR(20) UNIQUE, hits INT DEFAULT 0);
		INSERT INTO counters (key, hits) VALUES ('x', 1);
	`)
	db, _ := sess.Registry.GetDatabase("shop")
	data, err := Encode(db)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	restored, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	restoredSess := executor.NewSession(catalog.NewRegistry())
	restoredSess.Registry.PutDatabase(restored)
	restoredSess.Current = restored
	stmts, err := parser.New(`INSERT INTO counters (key, hits) VALUES ('x', 5);`).ParseStatements()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := executor.Execute(restoredSess, stmts[0], fixedNow); err == nil {
		t.Fatalf("expected UNIQUE violation to survive round-trip")
	}
}
