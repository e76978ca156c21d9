// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sqlguard

import "regexp"

// Category groups dangerous patterns.
type Category string

const (
	CategoryTimeBased  Category = "time_based"
	CategoryFileAccess Category = "file_access"
	CategoryExtension  Category = "extension_loading"
	CategoryCommand    Category = "command_execution"
)

// Pattern is one dangerous construct, matched against the statement with
// string literals and comments blanked out.
type Pattern struct {
	Name        string
	Category    Category
	Regex       *regexp.Regexp
	Description string
}

// PatternSet is the list of patterns a Validator rejects.
type PatternSet struct {
	patterns []*Pattern
}

// NewPatternSet returns the built-in patterns.
func NewPatternSet() *PatternSet {
	return &PatternSet{patterns: defaultPatterns()}
}

func (ps *PatternSet) Patterns() []*Pattern { return ps.patterns }

// Add appends a custom pattern.
func (ps *PatternSet) Add(p *Pattern) { ps.patterns = append(ps.patterns, p) }

// Match returns the first pattern found in text, or nil.
func (ps *PatternSet) Match(text string) *Pattern {
	for _, p := range ps.patterns {
		if p.Regex.MatchString(text) {
			return p
		}
	}
	return nil
}

func defaultPatterns() []*Pattern {
	return []*Pattern{
		{
			Name:        "sleep_function",
			Category:    CategoryTimeBased,
			Regex:       regexp.MustCompile(`(?i)\b(PG_)?SLEEP(_FOR|_UNTIL)?\s*\(`),
			Description: "sleep functions stall a pooled connection",
		},
		{
			Name:        "benchmark_function",
			Category:    CategoryTimeBased,
			Regex:       regexp.MustCompile(`(?i)\bBENCHMARK\s*\(`),
			Description: "BENCHMARK burns CPU on purpose",
		},
		{
			Name:        "waitfor_delay",
			Category:    CategoryTimeBased,
			Regex:       regexp.MustCompile(`(?i)\bWAITFOR\s+(DELAY|TIME)\b`),
			Description: "WAITFOR stalls a pooled connection",
		},
		{
			Name:        "load_extension",
			Category:    CategoryExtension,
			Regex:       regexp.MustCompile(`(?i)\bLOAD_EXTENSION\s*\(`),
			Description: "loading native extensions",
		},
		{
			Name:        "file_read",
			Category:    CategoryFileAccess,
			Regex:       regexp.MustCompile(`(?i)\b(READFILE|PG_READ_FILE|PG_READ_BINARY_FILE|PG_LS_DIR|LOAD_FILE|READ_TEXT|READ_BLOB)\s*\(`),
			Description: "reading files from the host",
		},
		{
			Name:        "file_write",
			Category:    CategoryFileAccess,
			Regex:       regexp.MustCompile(`(?i)\b(WRITEFILE|EDIT)\s*\(|\bINTO\s+(OUT|DUMP)FILE\b`),
			Description: "writing files on the host",
		},
		{
			Name:        "large_object",
			Category:    CategoryFileAccess,
			Regex:       regexp.MustCompile(`(?i)\bLO_(IMPORT|EXPORT)\s*\(`),
			Description: "large object import and export touch the server filesystem",
		},
		{
			Name:        "command_exec",
			Category:    CategoryCommand,
			Regex:       regexp.MustCompile(`(?i)\b(XP_CMDSHELL|SYS_EXEC|SYS_EVAL)\b`),
			Description: "shell command execution",
		},
	}
}
