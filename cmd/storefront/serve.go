package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/go_cart/storefront/internal/cache"
	"github.com/fjod/go_cart/storefront/internal/catalog"
	"github.com/fjod/go_cart/storefront/internal/checkout"
	"github.com/fjod/go_cart/storefront/internal/config"
	storegrpc "github.com/fjod/go_cart/storefront/internal/grpc"
	h "github.com/fjod/go_cart/storefront/internal/http"
	"github.com/fjod/go_cart/storefront/internal/publisher"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/fjod/go_cart/storefront/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type checkoutPublisher interface {
	checkout.Publisher
	Close() error
}

func newServeCmd(root *rootOptions) *cobra.Command {
	var httpPort, grpcPort int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, gRPC health endpoint and catalog syncer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := root.setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			if cmd.Flags().Changed("http-port") {
				cfg.HTTPPort = httpPort
			}
			if cmd.Flags().Changed("grpc-port") {
				cfg.GRPCPort = grpcPort
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
	cmd.Flags().IntVar(&httpPort, "http-port", 0, "HTTP listen port (overrides HTTP_PORT)")
	cmd.Flags().IntVar(&grpcPort, "grpc-port", 0, "gRPC listen port (overrides GRPC_PORT)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	store, err := openCatalogStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	switch at, ok, err := store.LastReplaced(ctx); {
	case err != nil:
		log.Warn("could not read catalog cache state", zap.Error(err))
	case ok:
		log.Info("serving cached catalog until first sync", zap.Time("replaced_at", at))
	default:
		log.Info("catalog cache is empty, waiting for first sync")
	}

	remote := catalog.NewRemoteClient(cfg.CatalogURL, cfg.CatalogFetchTimeout)
	syncer := catalog.NewSyncer(remote, store, cfg.CatalogRefreshInterval, log)

	cartOpts := service.Options{IdleTTL: cfg.CartIdleTTL, Logger: log}
	if cfg.MongoURI != "" {
		mongoDB, err := connectMongo(ctx, cfg)
		if err != nil {
			return err
		}
		defer mongoDB.Client().Disconnect(context.Background())

		repo := repository.NewMongoRepository(mongoDB)
		if err := repo.CreateIndexes(ctx); err != nil {
			return err
		}
		cartOpts.Repo = repo
		log.Info("cart durability enabled", zap.String("mongo_db", cfg.MongoDBName))

		if cfg.RedisAddr != "" {
			redisClient := redis.NewClient(&redis.Options{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       0,
			})
			defer redisClient.Close()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis connection failed: %w", err)
			}
			cartOpts.Cache = cache.NewRedisCache(redisClient, cfg.CartCacheTTL)
			log.Info("cart cache enabled", zap.String("redis_addr", cfg.RedisAddr), zap.Duration("ttl", cfg.CartCacheTTL))
		}
	}

	carts := service.NewCartService(store, cartOpts)
	carts.StartCleanup(cleanupInterval(cfg.CartIdleTTL))
	defer carts.Close()

	var pub checkoutPublisher
	if len(cfg.KafkaBrokers) > 0 {
		pub = publisher.NewKafkaPublisher(cfg.CheckoutTopic, cfg.KafkaBrokers...)
		log.Info("checkout events go to kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.CheckoutTopic))
	} else {
		pub = publisher.NewLogPublisher(log)
	}
	defer pub.Close()

	checkoutSvc := checkout.NewService(carts, pub, checkout.Options{
		Delay:    cfg.CheckoutDelay,
		Currency: cfg.Currency,
		Logger:   log,
	})

	g, gctx := errgroup.WithContext(ctx)

	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: h.NewRouter(h.RouterConfig{
			Products:       store,
			Feed:           syncer,
			Carts:          carts,
			Checkout:       checkoutSvc,
			RequestTimeout: cfg.RequestTimeout,
			Logger:         log,
			Shutdown:       gctx.Done(),
		}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcServer := storegrpc.NewServer(log)
	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port %d: %w", cfg.GRPCPort, err)
	}

	g.Go(func() error {
		syncer.Run(gctx)
		return nil
	})
	grpcServer.ServeWhenReady(gctx, syncer.Ready())

	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := grpcServer.Serve(grpcLis); err != nil {
			return fmt.Errorf("grpc server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		grpcServer.Stop()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server exited")
	return nil
}

func connectMongo(ctx context.Context, cfg config.Config) (*mongo.Database, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return repository.ConnectMongoDB(connectCtx, repository.MongoOptions{
		URI:      cfg.MongoURI,
		Database: cfg.MongoDBName,
		AppName:  serviceName,
	})
}

func cleanupInterval(idleTTL time.Duration) time.Duration {
	interval := idleTTL / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	return interval
}
