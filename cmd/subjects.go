// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"nlcube/cli/internal/app"
	"nlcube/cli/internal/terminal"
)

var (
	deleteYes    bool
	previewLimit int
	previewJSON  bool
)

// subjectsCmd groups subject management.
var subjectsCmd = &cobra.Command{
	Use:     "subjects",
	Aliases: []string{"subject"},
	Short:   "Manage subjects",
	Long: `A subject is a named, isolated store: one SQLite file below the data dir, or
one schema in the configured Postgres database. Questions and statements always
run against exactly one subject.`,
}

var subjectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered subjects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			st := a.Service.Status()
			if len(st.Subjects) == 0 {
				pterm.Println("No subjects yet. Create one with: nlcube subjects create <name>")
				return nil
			}
			data := pterm.TableData{{"Subject", "Tables", "Storage"}}
			for _, s := range st.Subjects {
				data = append(data, []string{s.Name, strconv.Itoa(s.Tables), s.StoragePath})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		})
	},
}

var subjectsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a subject with empty storage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			sub, err := a.Service.CreateSubject(ctx, args[0])
			if err != nil {
				return err
			}
			pterm.Success.Printf("Subject %q created at %s\n", sub.Name, sub.StoragePath)
			return nil
		})
	},
}

var subjectsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a subject and its storage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if !deleteYes {
			if !terminal.IsInteractive() {
				return fmt.Errorf("refusing to delete %q without --yes", name)
			}
			ok, err := pterm.DefaultInteractiveConfirm.
				WithDefaultValue(false).
				Show(fmt.Sprintf("Delete subject %q and all of its data?", name))
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Service.DeleteSubject(ctx, name); err != nil {
				return err
			}
			pterm.Success.Printf("Subject %q deleted\n", name)
			return nil
		})
	},
}

var subjectsPreviewCmd = &cobra.Command{
	Use:   "preview <name> <table>",
	Short: "Show the first rows of a table",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			ans, err := a.Service.Preview(ctx, args[0], args[1], previewLimit)
			if err != nil {
				return err
			}
			return printAnswer(ans, previewJSON)
		})
	},
}

func init() {
	rootCmd.AddCommand(subjectsCmd)
	subjectsCmd.AddCommand(subjectsListCmd, subjectsCreateCmd, subjectsDeleteCmd, subjectsPreviewCmd)
	subjectsDeleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "Do not ask for confirmation")
	subjectsPreviewCmd.Flags().IntVarP(&previewLimit, "limit", "n", 10, "Number of rows to show")
	subjectsPreviewCmd.Flags().BoolVar(&previewJSON, "json", false, "Print the rows as JSON")
}
