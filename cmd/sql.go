// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"nlcube/cli/internal/app"
)

var (
	sqlSubject string
	sqlJSON    bool
)

// sqlCmd runs a statement written by the user.
var sqlCmd = &cobra.Command{
	Use:   "sql [statement]",
	Short: "Run a SQL statement against a subject",
	Long: `The sql command runs a statement written by hand. It passes the same checks as
generated SQL, except that writes are accepted when guard.allow_raw_writes is
set in the config. Pass "-" to read the statement from stdin.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stmt := strings.Join(args, " ")
		if stmt == "-" {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				return err
			}
			stmt = string(b)
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			ans, err := a.Service.ExecuteRawQuery(ctx, sqlSubject, stmt)
			if err != nil {
				return err
			}
			return printAnswer(ans, sqlJSON)
		})
	},
}

func init() {
	rootCmd.AddCommand(sqlCmd)
	sqlCmd.Flags().StringVarP(&sqlSubject, "subject", "s", "", "Subject to run against")
	sqlCmd.Flags().BoolVar(&sqlJSON, "json", false, "Print the result as JSON")
}
