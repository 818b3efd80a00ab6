package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"solstep-cli/metrics"
	"solstep-cli/server"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve reconciled challenges, audits and metrics over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			srv, err := server.New(server.Config{
				Logger:  a.log,
				Service: a.svc,
				Addr:    serveAddr,
			})
			if err != nil {
				return err
			}
			metrics.BuildInfo.WithLabelValues(version, commit).Set(1)
			return srv.ListenAndServe(ctx)
		})
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8080", "listen address")
	rootCmd.AddCommand(serveCmd)
}
