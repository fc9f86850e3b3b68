package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"taskflow.dev/internal/auth"
	"taskflow.dev/internal/config"
	"taskflow.dev/internal/httpapi"
	"taskflow.dev/internal/obs"
	"taskflow.dev/internal/store/pg"
	"taskflow.dev/internal/stream"
	"taskflow.dev/internal/throttle"
	"taskflow.dev/internal/workspace"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the gRPC health listener",
		Long: `Start the HTTP API. With a database DSN the PostgreSQL stores are used,
otherwise everything is kept in memory. A Redis address enables the login throttle.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	config.BindFlags(cmd.Flags())
	return cmd
}

// backend bundles the stores chosen by configuration.
type backend struct {
	principals auth.CredentialStore
	workspace  workspace.Store
	ready      httpapi.ReadyProbe
	close      func()
}

func openBackend(cfg config.Config) (backend, error) {
	if cfg.Database.DSN == "" {
		obs.Logger().Warn("no database configured, using in-memory stores")
		return backend{
			principals: auth.NewMemoryStore(),
			workspace:  workspace.NewMemoryStore(),
			close:      func() {},
		}, nil
	}
	store, err := pg.Open(cfg.Database.DSN)
	if err != nil {
		return backend{}, fmt.Errorf("open database: %w", err)
	}
	return backend{
		principals: store,
		workspace:  store,
		ready:      httpapi.ReadyProbe{DB: store.DB()},
		close:      func() { _ = store.Close() },
	}, nil
}

func newAuthService(cfg config.Config, store auth.CredentialStore, limiter auth.LoginThrottle) (*auth.Service, error) {
	codec, err := auth.NewTokenCodec([]byte(cfg.Auth.Secret), auth.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		return nil, err
	}
	opts := []auth.ServiceOption{
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL),
		auth.WithPasswordHasher(auth.NewBcryptHasher(
			auth.WithBcryptCost(cfg.Auth.BcryptCost),
			auth.WithHashConcurrency(cfg.Auth.HashConcurrency),
		)),
	}
	if limiter != nil {
		opts = append(opts, auth.WithLoginThrottle(limiter))
	}
	return auth.NewService(store, codec, opts...)
}

func openThrottle(ctx context.Context, cfg config.Config) (auth.LoginThrottle, func()) {
	if cfg.Redis.Addr == "" {
		return nil, func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		obs.Logger().Warn("redis unreachable, login throttle fails open until it recovers", "addr", cfg.Redis.Addr, "error", err)
	}
	limiter := throttle.New(client,
		throttle.WithMaxFailures(cfg.Redis.MaxFailures),
		throttle.WithWindow(cfg.Redis.Window),
	)
	return limiter, func() { _ = client.Close() }
}

func runServe(ctx context.Context, cfg config.Config) error {
	obs.SetLogOutput(os.Stdout, obs.ParseLevel(cfg.Log.Level))
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()

	be, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer be.close()

	limiter, closeThrottle := openThrottle(ctx, cfg)
	defer closeThrottle()

	authSvc, err := newAuthService(cfg, be.principals, limiter)
	if err != nil {
		return fmt.Errorf("auth service: %w", err)
	}
	events := stream.New()
	ws := workspace.NewService(be.workspace, be.principals, workspace.WithNotifier(events))

	trusted, err := cfg.HTTP.TrustedProxyPrefixes()
	if err != nil {
		return err
	}
	api := httpapi.New(authSvc, ws, be.ready, httpapi.Options{
		Version:        version,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		RatePerSecond:  cfg.HTTP.RateLimitRPS,
		RateBurst:      cfg.HTTP.RateLimitBurst,
		TrustedProxies: trusted,
		Events:         events,
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv.RegisterOnShutdown(events.Close)

	// both listeners are bound before any goroutine starts so a bind failure
	// leaves nothing running
	httpLis, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	var grpcLis net.Listener
	if cfg.GRPC.Addr != "" {
		grpcLis, err = net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			_ = httpLis.Close()
			return fmt.Errorf("grpc listen: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", "addr", httpLis.Addr().String(), "version", version)
		if err := srv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})

	var grpcSrv *httpapi.GRPCServer
	if grpcLis != nil {
		grpcSrv = httpapi.NewGRPCServer(be.ready, authSvc)
		g.Go(func() error {
			log.Info("grpc listening", "addr", grpcLis.Addr().String())
			return grpcSrv.Serve(grpcLis)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if grpcSrv != nil {
			grpcSrv.GracefulStop()
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}
