// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"nlcube/cli/internal/api"
)

var (
	serveHost    string
	servePort    int
	serveNoWatch bool
)

// serveCmd runs the HTTP API until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `The serve command exposes questions, raw SQL, schema and subject management over
HTTP. Results are Arrow IPC streams unless the client sends
"Accept: application/json". Prometheus metrics are served at /metrics.

With the SQLite driver the data dir is watched, so subject directories created
or removed by other processes are picked up without a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a, err := openApp(ctx, reg, false)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			if err := a.Close(closeCtx); err != nil {
				a.Logger.Warn("shutdown incomplete", a.Logger.Args("error", err.Error()))
			}
		}()

		srv := a.Config.Server
		if cmd.Flags().Changed("host") {
			srv.Host = serveHost
		}
		if cmd.Flags().Changed("port") {
			srv.Port = servePort
		}

		pterm.Info.Printf("Serving %d subject(s) on http://%s\n", len(a.Service.ListSubjects()), srv.Addr())

		g, gctx := errgroup.WithContext(ctx)
		if !serveNoWatch {
			g.Go(func() error { return a.Watch(gctx) })
		}
		g.Go(func() error {
			return api.Serve(gctx, srv.Addr(), api.NewHandler(a.Service, srv, reg, a.Metrics, a.Logger), a.Logger)
		})
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Interface to listen on")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 3000, "Port to listen on")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "Do not watch the data dir for new subjects")
}
