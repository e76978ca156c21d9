// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"nlcube/cli/internal/app"
)

var (
	askSubject string
	askJSON    bool
	askSQLOnly bool
)

// askCmd translates a question into SQL and runs it.
var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question about a subject in natural language",
	Long: `The ask command sends the question together with the subject's schema to the
configured translator, validates the generated statement as a single read-only
query against that subject, and prints the result.

Example:
  nlcube ask --subject sales "What is the total sales amount per region?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			stop := startInlineSpinner(os.Stderr, "thinking", 120*time.Millisecond)
			ans, err := a.Service.ExecuteNaturalLanguageQuery(ctx, askSubject, question)
			stop()
			if err != nil {
				return err
			}

			if askSQLOnly {
				fmt.Println(ans.SQL)
				return nil
			}
			if !askJSON {
				printSQL(ans.SQL)
			}
			return printAnswer(ans, askJSON)
		})
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&askSubject, "subject", "s", "", "Subject to ask about")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Print the result as JSON")
	askCmd.Flags().BoolVar(&askSQLOnly, "sql-only", false, "Print the generated SQL and nothing else")
}
