// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sqlguard

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokQuotedIdent
	tokString
	tokNumber
	tokPunct
	tokSemicolon
)

type token struct {
	kind tokenKind
	text string // upper-cased for words, unquoted for identifiers
	pos  int
}

func (t token) is(kind tokenKind, text string) bool {
	return t.kind == kind && t.text == text
}

// lexed is the token stream plus the source with literals and comments
// blanked out, for pattern matching.
type lexed struct {
	tokens   []token
	stripped string
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9') || c == '$'
}

// lex splits sql into tokens. Quotes, comments and dollar-quoted bodies are
// honored so keywords inside them are never seen.
func lex(sql string) (*lexed, error) {
	var (
		out   = &lexed{}
		strip strings.Builder
		i     int
	)
	strip.Grow(len(sql))

	for i < len(sql) {
		c := sql[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
			strip.WriteByte(c)
			i++

		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				end = len(sql) - i
			}
			strip.WriteString(strings.Repeat(" ", end))
			i += end

		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				return nil, fmt.Errorf("unterminated block comment at offset %d", i)
			}
			n := end + 4
			strip.WriteString(strings.Repeat(" ", n))
			i += n

		case c == '\'':
			end, err := closeQuote(sql, i, '\'')
			if err != nil {
				return nil, err
			}
			out.tokens = append(out.tokens, token{kind: tokString, text: sql[i+1 : end-1], pos: i})
			strip.WriteString("''" + strings.Repeat(" ", end-i-2))
			i = end

		case c == '"' || c == '`':
			end, err := closeQuote(sql, i, c)
			if err != nil {
				return nil, err
			}
			ident := strings.ReplaceAll(sql[i+1:end-1], string([]byte{c, c}), string(c))
			out.tokens = append(out.tokens, token{kind: tokQuotedIdent, text: ident, pos: i})
			strip.WriteString(sql[i:end])
			i = end

		case c == '[':
			end := strings.IndexByte(sql[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("unterminated bracket identifier at offset %d", i)
			}
			out.tokens = append(out.tokens, token{kind: tokQuotedIdent, text: sql[i+1 : i+end], pos: i})
			strip.WriteString(sql[i : i+end+1])
			i += end + 1

		case c == '$' && dollarTag(sql[i:]) != "":
			tag := dollarTag(sql[i:])
			end := strings.Index(sql[i+len(tag):], tag)
			if end < 0 {
				return nil, fmt.Errorf("unterminated dollar-quoted string at offset %d", i)
			}
			n := len(tag) + end + len(tag)
			out.tokens = append(out.tokens, token{kind: tokString, text: sql[i+len(tag) : i+len(tag)+end], pos: i})
			strip.WriteString("''" + strings.Repeat(" ", n-2))
			i += n

		case isIdentStart(c):
			j := i + 1
			for j < len(sql) && isIdentPart(sql[j]) {
				j++
			}
			out.tokens = append(out.tokens, token{kind: tokWord, text: strings.ToUpper(sql[i:j]), pos: i})
			strip.WriteString(sql[i:j])
			i = j

		case c >= '0' && c <= '9':
			j := i + 1
			for j < len(sql) && (isIdentPart(sql[j]) || sql[j] == '.') {
				j++
			}
			out.tokens = append(out.tokens, token{kind: tokNumber, text: sql[i:j], pos: i})
			strip.WriteString(sql[i:j])
			i = j

		case c == ';':
			out.tokens = append(out.tokens, token{kind: tokSemicolon, text: ";", pos: i})
			strip.WriteByte(c)
			i++

		default:
			out.tokens = append(out.tokens, token{kind: tokPunct, text: string(c), pos: i})
			strip.WriteByte(c)
			i++
		}
	}
	out.stripped = strip.String()
	return out, nil
}

// closeQuote returns the offset just past the quote opened at start. A
// doubled quote character is an escape.
func closeQuote(sql string, start int, q byte) (int, error) {
	for j := start + 1; j < len(sql); j++ {
		if sql[j] != q {
			continue
		}
		if j+1 < len(sql) && sql[j+1] == q {
			j++
			continue
		}
		return j + 1, nil
	}
	return 0, fmt.Errorf("unterminated quoted text at offset %d", start)
}

// dollarTag returns the opening tag of a dollar-quoted string ($$ or $name$)
// at the start of s, or "".
func dollarTag(s string) string {
	if len(s) < 2 || s[0] != '$' {
		return ""
	}
	for j := 1; j < len(s); j++ {
		switch {
		case s[j] == '$':
			return s[:j+1]
		case j == 1 && !isIdentStart(s[j]):
			return ""
		case !isIdentPart(s[j]) || s[j] == '$':
			return ""
		}
	}
	return ""
}

// terminators returns the offsets of every ';' outside quotes and comments.
// Unterminated quotes end the scan.
func terminators(s string) []int {
	var ends []int
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == ';':
			ends = append(ends, i)
		case c == '-' && i+1 < len(s) && s[i+1] == '-':
			end := strings.IndexByte(s[i:], '\n')
			if end < 0 {
				return ends
			}
			i += end
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				return ends
			}
			i += end + 3
		case c == '\'' || c == '"' || c == '`':
			end, err := closeQuote(s, i, c)
			if err != nil {
				return ends
			}
			i = end - 1
		}
	}
	return ends
}
