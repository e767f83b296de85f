package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/Sentinel-Gate/querygate/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/querygate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/querygate/internal/adapter/outbound/policyfile"
	"github.com/Sentinel-Gate/querygate/internal/config"
	"github.com/Sentinel-Gate/querygate/internal/domain/auth"
	"github.com/Sentinel-Gate/querygate/internal/domain/ratelimit"
)

var devMode bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API on server.http_addr.

Callers authenticate with "Authorization: Bearer <api-key>". Keys map to
identities in auth.identities, whose role, user_id and tenant_id decide what
each request may touch. The policy file is reloaded on change (policy.watch)
and on SIGHUP; an invalid edit keeps the current policy in place.

With --dev, requests without a key act as the static identity and a local
SQLite database is used when none is configured.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, keyless requests as the static identity)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(devMode)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if f := config.ConfigFileUsed(); f != "" {
		logger.Info("loaded config", "file", f)
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(cmd.Context(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	a, err := buildApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := serve(ctx, a); err != nil {
		return err
	}
	logger.Info("querygate stopped")
	return nil
}

// serve runs the HTTP server, the policy watcher, the SIGHUP reload loop
// and the rate limiter cleanup until ctx is done or one of them fails.
func serve(ctx context.Context, a *app) error {
	cfg := a.cfg
	g, ctx := errgroup.WithContext(ctx)

	api := httpadapter.NewAPIHandler(a.gateway,
		httpadapter.WithStats(a.stats),
		httpadapter.WithDecisionQuery(a.store))

	var limiter httpadapter.SizedLimiter
	opts := []httpadapter.Option{
		httpadapter.WithAddr(cfg.Server.HTTPAddr),
		httpadapter.WithLogger(a.logger),
		httpadapter.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		httpadapter.WithMetrics(a.metrics, a.registry),
		httpadapter.WithAuthenticator(newAuthenticator(cfg.Auth)),
		httpadapter.WithTimeouts(mustDuration(cfg.Server.ReadTimeout), mustDuration(cfg.Server.WriteTimeout)),
	}
	if cfg.Server.TLSCert != "" {
		opts = append(opts, httpadapter.WithTLS(cfg.Server.TLSCert, cfg.Server.TLSKey))
	}
	if cfg.DevMode {
		actor := staticActor(cfg.Identity)
		opts = append(opts, httpadapter.WithDevIdentity(&auth.Identity{
			ID:       "dev",
			Name:     "development",
			Role:     actor.Role,
			UserID:   actor.UserID,
			TenantID: actor.TenantID,
		}))
		a.logger.Warn("dev mode: requests without an API key act as the static identity", "role", actor.Role)
	}
	if rl := cfg.Server.RateLimit; rl.Enabled {
		rateLimiter := memory.NewRateLimiterWithConfig(mustDuration(rl.CleanupInterval), mustDuration(rl.MaxTTL))
		rateLimiter.StartCleanup(ctx)
		defer rateLimiter.Stop()
		limiter = rateLimiter
		opts = append(opts, httpadapter.WithRateLimit(rateLimiter, ratelimit.Config{
			Rate:   rl.Rate,
			Burst:  rl.Burst,
			Period: mustDuration(rl.Period),
		}))
	}
	health := httpadapter.NewHealthChecker(a.policies, a.executor, a.audit, limiter, Version)
	opts = append(opts, httpadapter.WithHealthChecker(health))

	server := httpadapter.NewServer(api, opts...)
	g.Go(func() error { return server.Start(ctx) })

	if cfg.Policy.Watch {
		watcher := policyfile.NewWatcher(cfg.Policy.File, mustDuration(cfg.Policy.Debounce), a.reload, a.logger)
		g.Go(func() error { return watcher.Run(ctx) })
	}

	if sigs := reloadSignals(); len(sigs) > 0 {
		g.Go(func() error {
			reloadOnSignal(ctx, a, sigs)
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// reloadOnSignal reloads the policy each time one of sigs arrives.
func reloadOnSignal(ctx context.Context, a *app, sigs []os.Signal) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			a.logger.Info("reloading policy", "signal", sig.String())
			if err := a.reload(ctx); err != nil {
				a.logger.Error("policy reload failed, keeping current snapshot", "error", err)
			}
		}
	}
}

