// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sqlguard

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nerrors "nlcube/cli/internal/errors"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "fenced block",
			raw:  "Here you go:\n```sql\nSELECT SUM(amount) FROM orders;\n```\nThis sums; nothing else.",
			want: "SELECT SUM(amount) FROM orders;",
		},
		{
			name: "prompt stub continuation",
			raw:  "SELECT o.customer, COUNT(*)\nFROM orders o\nGROUP BY o.customer;\n```",
			want: "SELECT o.customer, COUNT(*)\nFROM orders o\nGROUP BY o.customer;",
		},
		{
			name: "keyword line after prose",
			raw:  "With this schema the answer is:\n  select 1;\n",
			want: "select 1;",
		},
		{
			name: "inline upper-case keyword",
			raw:  "The query is SELECT 42; as requested",
			want: "SELECT 42;",
		},
		{
			name: "semicolon inside literal is not the end",
			raw:  "SELECT * FROM t WHERE note = 'a;b';",
			want: "SELECT * FROM t WHERE note = 'a;b';",
		},
		{
			name: "semicolon in trailing comment ignored",
			raw:  "SELECT 1; -- done; really",
			want: "SELECT 1;",
		},
		{
			name: "stacked statements kept for the validator",
			raw:  "SELECT 1; DROP TABLE orders;",
			want: "SELECT 1; DROP TABLE orders;",
		},
		{
			name: "trailing prose with semicolons left out",
			raw:  "SELECT SUM(amount) FROM orders;\nThis sums every amount; NULLs are ignored.",
			want: "SELECT SUM(amount) FROM orders;",
		},
		{
			name: "stacked statement after a comment kept",
			raw:  "select 1; -- first\n/* then */ drop table orders;\nDone; enjoy.",
			want: "select 1; -- first\n/* then */ drop table orders;",
		},
		{
			name: "fenced block runs to its last terminator",
			raw:  "```sql\nSELECT 1;\nNot SQL; at all;\n```",
			want: "SELECT 1;\nNot SQL; at all;",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractMalformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"I cannot answer that question.",
		"SELECT amount FROM orders",
		"```sql\nSELECT 1\n```",
	} {
		_, err := Extract(raw)
		require.Error(t, err, raw)
		e, ok := nerrors.As(err)
		require.True(t, ok)
		assert.Equal(t, nerrors.MalformedResponse, e.Kind)
		assert.Equal(t, raw, e.Raw)
	}
}

func TestValidateAccepts(t *testing.T) {
	v := New()
	subjects := []string{"sales", "hr"}
	for _, sql := range []string{
		"SELECT SUM(amount) FROM orders;",
		"select * from orders where status = 'DELETE me; DROP TABLE x'",
		"WITH t AS (SELECT 1 AS x) SELECT x FROM t;",
		"VALUES (1), (2);",
		"EXPLAIN SELECT * FROM orders;",
		"EXPLAIN QUERY PLAN SELECT * FROM orders;",
		"(SELECT 1) UNION (SELECT 2);",
		"SELECT REPLACE(name, 'a', 'b') FROM customers;",
		`SELECT "update" FROM "orders";`,
		"SELECT o.amount FROM sales.orders o;",
		"SELECT 1 -- DROP TABLE orders\n;",
		"SELECT 'sleep(5)' AS label;",
		"SELECT $$DELETE$$;",
		"SELECT 1;;",
	} {
		assert.NoError(t, v.Validate(sql, "sales", subjects), sql)
	}
}

func TestValidateRejects(t *testing.T) {
	v := New()
	subjects := []string{"sales", "hr"}
	tests := []struct {
		sql    string
		reason string
	}{
		{"SELECT 1; DROP TABLE orders;", "multiple statements"},
		{"SELECT 1; SELECT 2", "multiple statements"},
		{"DROP TABLE orders;", "read-only"},
		{"DELETE FROM orders;", "read-only"},
		{"PRAGMA table_info(orders);", "read-only"},
		{"ATTACH DATABASE 'x.db' AS x;", "read-only"},
		{"EXPLAIN ANALYZE SELECT 1;", "EXPLAIN ANALYZE"},
		{"WITH d AS (DELETE FROM orders RETURNING *) SELECT * FROM d;", "write keyword DELETE"},
		{"SELECT * INTO backup FROM orders;", "write keyword INTO"},
		{"SELECT 1 FROM orders; ", ""},
		{"SELECT * FROM hr.salaries;", `subject "hr"`},
		{`SELECT * FROM "HR"."salaries";`, `subject "hr"`},
		{"SELECT pg_sleep(10);", "sleep_function"},
		{"SELECT sleep (3);", "sleep_function"},
		{"SELECT load_extension('evil');", "load_extension"},
		{"SELECT readfile('/etc/passwd');", "file_read"},
		{"SELECT pg_read_file('pg_hba.conf');", "file_read"},
		{"SELECT lo_import('/etc/passwd');", "large_object"},
		{"SELECT 'unterminated;", "unterminated"},
		{";", "empty"},
	}
	for _, tt := range tests {
		err := v.Validate(tt.sql, "sales", subjects)
		if tt.reason == "" {
			assert.NoError(t, err, tt.sql)
			continue
		}
		require.Error(t, err, tt.sql)
		e, ok := nerrors.As(err)
		require.True(t, ok)
		assert.Equal(t, nerrors.UnsafeQuery, e.Kind, tt.sql)
		assert.Equal(t, tt.sql, e.SQL)
		assert.True(t, strings.Contains(e.Message, tt.reason), "%q: %s", tt.sql, e.Message)
	}
}

func TestValidateAllowWrites(t *testing.T) {
	v := New()
	v.AllowWrites = true

	assert.NoError(t, v.Validate("INSERT INTO orders VALUES (1, 2.5);", "sales", nil))
	assert.NoError(t, v.Validate("CREATE TABLE t (x INTEGER)", "sales", nil))
	assert.Error(t, v.Validate("INSERT INTO orders VALUES (1); DROP TABLE orders;", "sales", nil))
	assert.Error(t, v.Validate("INSERT INTO hr.salaries VALUES (1);", "sales", []string{"sales", "hr"}))
	assert.Error(t, v.Validate("SELECT pg_sleep(1);", "sales", nil))
}

func TestPatternSetAdd(t *testing.T) {
	ps := NewPatternSet()
	n := len(ps.Patterns())
	ps.Add(&Pattern{Name: "no_random", Category: CategoryTimeBased, Regex: regexp.MustCompile(`(?i)\bRANDOMBLOB\s*\(`)})
	assert.Len(t, ps.Patterns(), n+1)
	assert.Equal(t, "no_random", ps.Match("SELECT randomblob(1e9)").Name)
	assert.Nil(t, ps.Match("SELECT 1"))
}

func TestExtractedProseIsNotAStatement(t *testing.T) {
	v := New()

	sql, err := Extract("SELECT SUM(amount) FROM orders;\nThis sums every amount; NULLs are ignored.")
	require.NoError(t, err)
	assert.NoError(t, v.Validate(sql, "sales", nil))

	sql, err = Extract("SELECT * FROM orders; Drop Table orders;\nThat lists them; all of them.")
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM orders; Drop Table orders;", sql)
	assert.Equal(t, nerrors.UnsafeQuery, nerrors.KindOf(v.Validate(sql, "sales", nil)))
}
