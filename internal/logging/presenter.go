// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package logging

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"

	nerrors "nlcube/cli/internal/errors"
)

// PresentError formats an error for user display with masking.
func PresentError(context string, err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", context, Mask(err.Error()))
}

// Describe renders a kind-aware explanation of err for terminal users.
// Internal defects are reduced to a generic line; the caller is expected
// to have logged the full error already.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	kind := nerrors.KindOf(err)
	e, _ := nerrors.As(err)

	var b strings.Builder
	b.WriteString(pterm.NewStyle(pterm.FgRed, pterm.Bold).Sprint(title(kind)))
	b.WriteString("\n\n")

	switch kind {
	case nerrors.SerializationError, nerrors.Internal:
		b.WriteString("Something went wrong while preparing the result.\n")
	default:
		b.WriteString(Mask(err.Error()))
		b.WriteString("\n")
	}

	if e != nil && e.SQL != "" {
		b.WriteString("\n")
		b.WriteString(pterm.NewStyle(pterm.FgGray).Sprint("SQL: " + e.SQL))
		b.WriteString("\n")
	}
	if e != nil && e.Raw != "" && (kind == nerrors.MalformedResponse || kind == nerrors.UnsafeQuery) {
		b.WriteString("\n")
		b.WriteString(pterm.NewStyle(pterm.FgGray).Sprint("Model output:\n" + strings.TrimSpace(e.Raw)))
		b.WriteString("\n")
	}

	if hint := hint(kind); hint != "" {
		b.WriteString("\n")
		b.WriteString(pterm.NewStyle(pterm.FgYellow).Sprint("→ " + hint))
	}
	return b.String()
}

func title(kind nerrors.Kind) string {
	switch kind {
	case nerrors.TranslationUnavailable:
		return "Translator Unavailable"
	case nerrors.MalformedResponse, nerrors.UnsafeQuery:
		return "Could Not Use Generated SQL"
	case nerrors.ExecutionError:
		return "Query Failed"
	case nerrors.ExecutionTimeout:
		return "Query Timed Out"
	case nerrors.PoolExhausted, nerrors.ConnectionError, nerrors.Busy:
		return "Store Unavailable"
	case nerrors.ConfigurationError:
		return "Invalid Configuration"
	}
	return "Request Failed"
}

func hint(kind nerrors.Kind) string {
	switch kind {
	case nerrors.TranslationUnavailable, nerrors.PoolExhausted, nerrors.ConnectionError, nerrors.Busy:
		return "Please try again in a moment"
	case nerrors.MalformedResponse, nerrors.UnsafeQuery:
		return "Try rephrasing the question"
	case nerrors.ExecutionTimeout:
		return "The query keeps running in the background; narrow the question or raise execution.timeout"
	case nerrors.UnknownSubject:
		return "Run 'nlcube subjects list' to see available subjects"
	case nerrors.InvalidName:
		return "Subject names may contain letters, digits and underscores only"
	case nerrors.ConfigurationError:
		return "Check the config file shown by 'nlcube config path'"
	}
	return ""
}
