// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sqlguard

import (
	"regexp"
	"strings"

	nerrors "nlcube/cli/internal/errors"
)

// statementKeywords start a line that is taken to be the statement. Write
// keywords are included so a write is reported as unsafe, not malformed.
var statementKeywords = []string{
	"SELECT", "WITH", "VALUES", "EXPLAIN",
	"INSERT", "UPDATE", "DELETE", "CREATE", "DROP", "ALTER", "TRUNCATE",
	"REPLACE", "MERGE", "ATTACH", "DETACH", "PRAGMA", "COPY",
}

var (
	fenceOpen    = regexp.MustCompile("(?i)```[ \t]*sql[ \t]*\r?\n?")
	upperKeyword = regexp.MustCompile(`\b(` + strings.Join(statementKeywords, "|") + `)\b`)
)

// Extract pulls the statement out of a model response. It prefers a ```sql
// fenced block, then the first line opening with a statement keyword, then
// the first upper-case statement keyword anywhere. A fenced statement runs
// through the last ';' in the fence. An unfenced one stops at the first ';'
// that is not followed by another statement, so trailing prose is left out
// while stacked statements still reach the validator. It fails with
// MalformedResponse when no terminated span exists.
func Extract(raw string) (string, error) {
	region, fenced, ok := locate(raw)
	if ok {
		if end := statementEnd(region, fenced); end >= 0 {
			if sql := strings.TrimSpace(region[:end+1]); sql != ";" {
				return sql, nil
			}
		}
	}
	return "", nerrors.New(nerrors.MalformedResponse, "response does not contain a terminated SQL statement").
		WithRaw(raw)
}

// locate returns the text from the start of the statement up to the next
// closing fence, if any, and whether it came from a fenced block.
func locate(raw string) (region string, fenced, ok bool) {
	if loc := fenceOpen.FindStringIndex(raw); loc != nil {
		return untilFence(raw[loc[1]:]), true, true
	}

	offset := 0
	for _, line := range strings.SplitAfter(raw, "\n") {
		if startsWithKeyword(strings.TrimSpace(line)) {
			lead := len(line) - len(strings.TrimLeft(line, " \t"))
			return untilFence(raw[offset+lead:]), false, true
		}
		offset += len(line)
	}

	if loc := upperKeyword.FindStringIndex(raw); loc != nil {
		return untilFence(raw[loc[0]:]), false, true
	}
	return "", false, false
}

// statementEnd returns the offset of the ';' that ends the statement in
// region, or -1.
func statementEnd(region string, fenced bool) int {
	ends := terminators(region)
	if len(ends) == 0 {
		return -1
	}
	if fenced {
		return ends[len(ends)-1]
	}
	for _, i := range ends {
		if !continuesWithStatement(region[i+1:]) {
			return i
		}
	}
	return ends[len(ends)-1]
}

// continuesWithStatement reports whether rest, past blanks and comments,
// opens with a statement keyword in any case.
func continuesWithStatement(rest string) bool {
	for {
		rest = strings.TrimLeft(rest, " \t\r\n\f")
		switch {
		case strings.HasPrefix(rest, "--"):
			end := strings.IndexByte(rest, '\n')
			if end < 0 {
				return false
			}
			rest = rest[end:]
		case strings.HasPrefix(rest, "/*"):
			end := strings.Index(rest, "*/")
			if end < 0 {
				return false
			}
			rest = rest[end+2:]
		default:
			head := rest
			if len(head) > 16 {
				head = head[:16]
			}
			return startsWithKeyword(strings.ToUpper(head))
		}
	}
}

func untilFence(s string) string {
	if end := strings.Index(s, "```"); end >= 0 {
		return s[:end]
	}
	return s
}

// startsWithKeyword matches upper- or lower-case keywords only, so prose
// such as "With this query..." is skipped.
func startsWithKeyword(line string) bool {
	for _, kw := range statementKeywords {
		if len(line) < len(kw) {
			continue
		}
		head := line[:len(kw)]
		if head != kw && head != strings.ToLower(kw) {
			continue
		}
		if len(line) == len(kw) || !isIdentPart(line[len(kw)]) {
			return true
		}
	}
	return false
}
