package query

import "testing"

func TestIsReadStatement(t *testing.T) {
	tests := []struct {
		sql  string
		want bool
	}{
		{"SELECT 1", true},
		{"  select avg(rating) from userskillandratings", true},
		{"(SELECT 1) UNION (SELECT 2)", true},
		{"-- count users\nSELECT count(*) FROM usermaster", true},
		{"/* hint */ WITH t AS (SELECT 1) SELECT * FROM t", true},
		{"EXPLAIN SELECT * FROM department", true},
		{"SHOW TABLES", true},
		{"VALUES (1), (2)", true},
		{"SELECT 'delete me' AS note", true},
		{"WITH t AS (SELECT 'drop' AS word) SELECT * FROM t", true},
		{"INSERT INTO department VALUES (5, 'Ops')", false},
		{"update usermaster set name = 'x'", false},
		{"DELETE FROM usermaster", false},
		{"WITH gone AS (DELETE FROM usermaster RETURNING id) SELECT * FROM gone", false},
		{"EXPLAIN ANALYZE DELETE FROM usermaster", false},
		{"", false},
		{"Thought: I should look at the tables", false},
	}
	for _, tt := range tests {
		if got := IsReadStatement(tt.sql); got != tt.want {
			t.Fatalf("IsReadStatement(%q) = %v, want %v", tt.sql, got, tt.want)
		}
	}
}

func TestHasMultipleStatements(t *testing.T) {
	tests := []struct {
		sql  string
		want bool
	}{
		{"SELECT 1", false},
		{"SELECT 1;", false},
		{"SELECT 1;\n ;", false},
		{"SELECT ';' AS semi", false},
		{`SELECT 1 AS "a;b"`, false},
		{"SELECT 1 -- trailing; comment", false},
		{"SELECT 1; SELECT 2", true},
		{"SELECT 1 /* x */; DROP TABLE t", true},
	}
	for _, tt := range tests {
		if got := HasMultipleStatements(tt.sql); got != tt.want {
			t.Fatalf("HasMultipleStatements(%q) = %v, want %v", tt.sql, got, tt.want)
		}
	}
}
