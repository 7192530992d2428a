package main

import (
	"github.com/fjod/go_cart/storefront/internal/config"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const serviceName = "storefront"

type rootOptions struct {
	envFiles []string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           serviceName,
		Short:         "Storefront catalog and cart service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "dotenv files to load (default .env)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newSyncCmd(opts))
	return cmd
}

// setup loads configuration and installs the process logger.
func (o *rootOptions) setup() (config.Config, *zap.Logger, error) {
	cfg := config.Load(o.envFiles...)

	log, err := logger.New(logger.Options{Service: serviceName, Development: cfg.IsDev(), Level: cfg.LogLevel})
	if err != nil {
		return cfg, nil, err
	}
	zap.ReplaceGlobals(log)
	return cfg, log, nil
}
