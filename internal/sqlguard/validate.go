// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package sqlguard extracts a statement from model output and decides
// whether it may run.
//
// Validation is textual and lexer-aware: quotes, quoted identifiers and
// comments are honored, but there is no full SQL grammar. A statement is
// rejected when it stacks more than one statement, does not lead with a
// read-only keyword, contains a write keyword anywhere, qualifies a name with
// a different registered subject, or matches a dangerous pattern.
package sqlguard

import (
	"fmt"
	"strings"

	nerrors "nlcube/cli/internal/errors"
)

var readOnlyLeads = map[string]bool{
	"SELECT":  true,
	"WITH":    true,
	"VALUES":  true,
	"EXPLAIN": true,
}

var writeKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "UPSERT": true, "MERGE": true,
	"CREATE": true, "DROP": true, "ALTER": true, "TRUNCATE": true, "RENAME": true,
	"REPLACE": true, "GRANT": true, "REVOKE": true,
	"ATTACH": true, "DETACH": true, "PRAGMA": true, "VACUUM": true, "REINDEX": true,
	"COPY": true, "CALL": true, "EXEC": true, "EXECUTE": true, "INSTALL": true, "LOAD": true,
	"BEGIN": true, "COMMIT": true, "ROLLBACK": true, "SAVEPOINT": true, "LOCK": true, "INTO": true,
}

// Validator checks statements before execution.
type Validator struct {
	// AllowWrites skips the read-only checks. Stacking, cross-subject
	// references and dangerous patterns are still rejected.
	AllowWrites bool
	Patterns    *PatternSet
}

// New returns a read-only validator with the built-in patterns.
func New() *Validator {
	return &Validator{Patterns: NewPatternSet()}
}

// Validate fails with UnsafeQuery when sql may not run against target.
// subjects lists every registered subject.
func (v *Validator) Validate(sql, target string, subjects []string) error {
	reject := func(format string, args ...any) error {
		return nerrors.New(nerrors.UnsafeQuery, fmt.Sprintf(format, args...)).WithSQL(sql)
	}

	lx, err := lex(sql)
	if err != nil {
		return reject("%v", err)
	}

	stmts := statements(lx.tokens)
	switch {
	case len(stmts) == 0:
		return reject("empty statement")
	case len(stmts) > 1:
		return reject("multiple statements are not allowed (found %d)", len(stmts))
	}
	toks := stmts[0]

	if !v.AllowWrites {
		lead := leadKeyword(toks)
		if !readOnlyLeads[lead] {
			return reject("only read-only statements are allowed, got %s", describeLead(lead))
		}
		if lead == "EXPLAIN" && explainAnalyzes(toks) {
			return reject("EXPLAIN ANALYZE executes the statement")
		}
		for i, t := range toks {
			if t.kind != tokWord || !writeKeywords[t.text] {
				continue
			}
			if t.text == "REPLACE" && i+1 < len(toks) && toks[i+1].is(tokPunct, "(") {
				continue
			}
			return reject("write keyword %s is not allowed", t.text)
		}
	}

	if other := foreignQualifier(toks, target, subjects); other != "" {
		return reject("statement references subject %q; only %q may be queried", other, target)
	}

	if v.Patterns != nil {
		if p := v.Patterns.Match(lx.stripped); p != nil {
			return reject("%s: %s", p.Name, p.Description)
		}
	}
	return nil
}

// statements splits tokens at top-level semicolons, dropping empty ones.
func statements(toks []token) [][]token {
	var (
		out [][]token
		cur []token
	)
	for _, t := range toks {
		if t.kind == tokSemicolon {
			if len(cur) > 0 {
				out = append(out, cur)
			}
			cur = nil
			continue
		}
		cur = append(cur, t)
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// leadKeyword skips opening parentheses and returns the first word.
func leadKeyword(toks []token) string {
	for _, t := range toks {
		if t.is(tokPunct, "(") {
			continue
		}
		if t.kind == tokWord {
			return t.text
		}
		return ""
	}
	return ""
}

func describeLead(lead string) string {
	if lead == "" {
		return "no keyword"
	}
	return lead
}

func explainAnalyzes(toks []token) bool {
	for _, t := range toks[1:] {
		switch {
		case t.kind == tokWord && t.text == "ANALYZE":
			return true
		case t.kind == tokWord && readOnlyLeads[t.text]:
			return false
		}
	}
	return false
}

// foreignQualifier returns the first name used as a qualifier (name.) that
// matches a registered subject other than target.
func foreignQualifier(toks []token, target string, subjects []string) string {
	others := make(map[string]string, len(subjects))
	for _, s := range subjects {
		if !strings.EqualFold(s, target) {
			others[strings.ToUpper(s)] = s
		}
	}
	if len(others) == 0 {
		return ""
	}
	for i := 0; i+1 < len(toks); i++ {
		t := toks[i]
		if t.kind != tokWord && t.kind != tokQuotedIdent {
			continue
		}
		if !toks[i+1].is(tokPunct, ".") {
			continue
		}
		if name, ok := others[strings.ToUpper(t.text)]; ok {
			return name
		}
	}
	return ""
}
