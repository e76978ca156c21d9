// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package logging

import (
	"errors"
	"strings"
	"testing"

	nerrors "nlcube/cli/internal/errors"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		contains    []string
		notContains []string
	}{
		{
			name:     "unsafe query shows raw output",
			err:      nerrors.New(nerrors.UnsafeQuery, "stacked statements").WithRaw("SELECT 1; DROP TABLE t;"),
			contains: []string{"stacked statements", "DROP TABLE t", "rephrasing"},
		},
		{
			name:     "execution error shows sql",
			err:      nerrors.New(nerrors.ExecutionError, "no such column: amout").WithSQL("SELECT amout FROM orders;"),
			contains: []string{"no such column", "SELECT amout FROM orders;"},
		},
		{
			name:        "serialization error hides detail",
			err:         nerrors.Wrap(nerrors.SerializationError, "column 0", errors.New("unsupported type complex128")),
			contains:    []string{"Something went wrong"},
			notContains: []string{"complex128"},
		},
		{
			name:        "masks secrets",
			err:         nerrors.Wrap(nerrors.ConnectionError, "open", errors.New("dial postgres://u:pw@db/x")),
			contains:    []string{"postgres://*:*@db/x"},
			notContains: []string{"pw@"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Describe(tt.err)
			for _, s := range tt.contains {
				if !strings.Contains(got, s) {
					t.Errorf("Describe() missing %q in:\n%s", s, got)
				}
			}
			for _, s := range tt.notContains {
				if strings.Contains(got, s) {
					t.Errorf("Describe() should not contain %q in:\n%s", s, got)
				}
			}
		})
	}
}
