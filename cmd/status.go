// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"nlcube/cli/internal/app"
	"nlcube/cli/internal/logging"
)

// statusCmd shows the configured stack and the state of every subject pool.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and subject pools",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			st := a.Service.Status()
			cfg := a.Config

			store := st.Driver
			if cfg.Store.DSN != "" {
				store += " " + logging.Mask(cfg.Store.DSN)
			} else {
				store += " " + cfg.DataDir
			}
			translator := st.Backend
			if cfg.Translator.Model != "" {
				translator += " (" + cfg.Translator.Model + ")"
			}
			cache := "off"
			if cfg.Translator.Cache.RedisAddr != "" {
				cache = logging.Mask(cfg.Translator.Cache.RedisAddr)
			}

			pterm.DefaultBox.
				WithTitle(pterm.NewStyle(pterm.FgCyan, pterm.Bold).Sprint("nlcube " + Version)).
				WithPadding(1).
				Println(fmt.Sprintf("Store:      %s\nTranslator: %s\nCache:      %s\nWorkers:    %d",
					store, translator, cache, cfg.Execution.Workers))
			pterm.Println()

			if len(st.Subjects) == 0 {
				pterm.Println("No subjects registered.")
				return nil
			}
			data := pterm.TableData{{"Subject", "Tables", "Snapshot age", "Idle", "In use", "Broken", "Free/Size"}}
			for _, s := range st.Subjects {
				age := "-"
				if s.SnapshotAge > 0 {
					age = s.SnapshotAge.Round(time.Second).String()
				}
				data = append(data, []string{
					s.Name,
					strconv.Itoa(s.Tables),
					age,
					strconv.Itoa(s.Pool.Idle),
					strconv.Itoa(s.Pool.InUse),
					strconv.Itoa(s.Pool.Broken),
					fmt.Sprintf("%d/%d", s.Pool.Free, s.Pool.Size),
				})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
