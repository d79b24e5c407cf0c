// Command server runs the chatmesh HTTP API: it loads configuration, wires
// the workflow graphs and conversation store, and serves the HTTP route
// table until interrupted.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/relaymesh/chatmesh/config"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "server",
		Short: "chatmesh multi-agent chat service",
	}
	root.AddCommand(serveCmd())
	return root
}

func serveCmd() *cobra.Command {
	var addr string
	var dynamicPlan bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("dynamic-plan") {
				cfg.DynamicPlan = dynamicPlan
			}

			ctx, cancel := notifyContext()
			defer cancel()

			log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
			return runServe(ctx, cfg, log)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides CHATMESH_ADDR)")
	cmd.Flags().BoolVar(&dynamicPlan, "dynamic-plan", false, "default to the dynamic workflow (overrides DYNAMIC_PLAN)")
	return cmd
}
