package main

import (
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/catalog"
	"github.com/fjod/go_cart/storefront/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSyncCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Fetch the remote catalog once and replace the local cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := root.setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			store, err := openCatalogStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			remote := catalog.NewRemoteClient(cfg.CatalogURL, cfg.CatalogFetchTimeout)
			syncer := catalog.NewSyncer(remote, store, 0, log)

			n, err := syncer.Sync(cmd.Context())
			if err != nil {
				return fmt.Errorf("catalog sync failed: %w", err)
			}
			log.Info("catalog synced", zap.Int("products", n))
			fmt.Fprintf(cmd.OutOrStdout(), "synced %d products\n", n)
			return nil
		},
	}
}

func openCatalogStore(cfg config.Config) (*catalog.Store, error) {
	store, err := catalog.NewStore(cfg.CatalogDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog store: %w", err)
	}
	if err := store.RunMigrations(); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate catalog store: %w", err)
	}
	return store, nil
}
