package cli

import (
	"github.com/spf13/cobra"

	"github.com/jcmexdev/order-saga/internal/app"
	"github.com/jcmexdev/order-saga/internal/config"
	"github.com/jcmexdev/order-saga/internal/pkg/telemetry"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Simulate bool
	Addr     string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway and the saga orchestrator",
		Long: `Run the HTTP gateway and the saga orchestrator until interrupted.

With --simulate, in-process inventory and payment participants answer the
orchestrator's commands, so the service works without external systems.

Example:
  order-saga serve --simulate
  ORDER_SAGA_BUS_DRIVER=nats order-saga serve --config ./order-saga.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Simulate, "simulate", false, "run simulated inventory and payment participants")
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "overrides http.addr")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.Addr != "" {
		cfg.HTTP.Addr = opts.Addr
	}

	logger := telemetry.InitLogger(cfg.Log.Level)
	ctx := cmd.Context()

	logger.InfoContext(ctx, "starting order-saga",
		"version", Version,
		"bus", cfg.Bus.Driver,
		"store", cfg.Store.Driver,
		"simulate", opts.Simulate,
	)

	a, err := app.New(ctx, cfg, logger, app.Options{Simulate: opts.Simulate})
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
