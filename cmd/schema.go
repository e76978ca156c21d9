// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"nlcube/cli/internal/app"
)

var schemaSubject string

// schemaCmd prints the schema text the translator sees.
var schemaCmd = &cobra.Command{
	Use:   "schema [subject]",
	Short: "Print a subject's schema as the translator sees it",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := schemaSubject
		if len(args) == 1 {
			name = args[0]
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			text, err := a.Service.GetSchema(ctx, name)
			if err != nil {
				return err
			}
			fmt.Println(text)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
	schemaCmd.Flags().StringVarP(&schemaSubject, "subject", "s", "", "Subject to describe")
}
