// Command gateway runs the Plexus unified LLM API gateway: it loads the
// provider/alias/pricing configuration, wires the router, cooldown
// manager, credential pools, usage tracker and dispatcher together, and
// serves the four public wire dialects over HTTP until signaled to shut
// down.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Laisky/zap"

	"github.com/plexus/gateway/common/graceful"
	"github.com/plexus/gateway/common/logger"
	"github.com/plexus/gateway/config"
	"github.com/plexus/gateway/cooldown"
	"github.com/plexus/gateway/credential"
	"github.com/plexus/gateway/dispatcher"
	"github.com/plexus/gateway/httpapi"
	"github.com/plexus/gateway/router"
	"github.com/plexus/gateway/store/gormstore"
	"github.com/plexus/gateway/usage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the gateway configuration file")
	dsn := flag.String("dsn", os.Getenv("PLEXUS_DSN"), "database DSN (postgres://... or empty for sqlite)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snap, err := config.Load(*configPath)
	if err != nil {
		logger.Logger.Fatal("load config", zap.Error(err))
	}

	logger.SetDebug(snap.Server.Debug)
	logger.SetupLogger()
	logger.SetupEnhancedLogger(ctx, logger.AlertConfig{}, snap.Server.Debug)
	logger.Logger.Info("plexus gateway starting", zap.Int("port", snap.Server.Port))
	logger.StartLogRetentionCleaner(ctx, snap.Server.LogRetentionDay, snap.Server.LogDir)

	configs := config.NewStore(snap)

	db, err := gormstore.Open(*dsn)
	if err != nil {
		logger.Logger.Fatal("open database", zap.Error(err))
	}

	cooldownMgr, err := cooldown.New(ctx, cooldown.Params{
		BaseFor429:  snap.Cooldown.BaseFor429,
		BaseFor5XX:  snap.Cooldown.BaseFor5XX,
		BaseForAuth: snap.Cooldown.BaseForAuth,
		MaxCap:      snap.Cooldown.MaxCap,
	}, gormstore.NewCooldownStore(db))
	if err != nil {
		logger.Logger.Fatal("init cooldown manager", zap.Error(err))
	}

	pools := buildCredentialPools(snap, cooldownMgr)

	tracker := usage.NewTracker(gormstore.NewUsageStore(db), configs, nil)

	r := router.New(configs, cooldownMgr, cooldown.Key, router.Registry(tracker))
	d := dispatcher.New(r, cooldownMgr, pools, tracker, configs)

	refresher := credential.NewBackgroundRefresher(poolList(pools)...)
	go refresher.Run(ctx)

	watcher, err := config.NewWatcher(ctx, *configPath, func(next *config.Snapshot) {
		configs.Swap(next)
		logger.Logger.Info("config hot-reloaded")
	})
	if err != nil {
		logger.Logger.Warn("config file watcher disabled", zap.Error(err))
	} else {
		defer watcher.Close()
	}

	engine := httpapi.NewEngine(d, snap.Server.Debug)
	srv := &http.Server{
		Addr:         portAddr(snap.Server.Port),
		Handler:      engine,
		ReadTimeout:  snap.Server.ReadTimeout,
		WriteTimeout: snap.Server.WriteTimeout,
	}

	go func() {
		logger.Logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Logger.Info("shutdown signal received, draining")
	graceful.SetDraining()

	grace := snap.Server.ShutdownGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Error("http server shutdown error", zap.Error(err))
	}
	if err := graceful.Drain(shutdownCtx); err != nil {
		logger.Logger.Error("drain timed out", zap.Error(err))
	}
	logger.Logger.Info("plexus gateway stopped")
}

// buildCredentialPools builds one credential.Pool per configured
// provider, wiring the claude-code/gemini-cli OAuth refreshers by
// provider id and leaving api_key-only providers with no refresher.
func buildCredentialPools(snap *config.Snapshot, cd *cooldown.Manager) map[string]*credential.Pool {
	pools := make(map[string]*credential.Pool, len(snap.Providers))
	for id, p := range snap.Providers {
		oauthAccts := make([]credential.OAuthAccountRef, 0, len(p.OAuthAccounts))
		for _, a := range p.OAuthAccounts {
			oauthAccts = append(oauthAccts, credential.OAuthAccountRef{Email: a.Email, RefreshToken: a.RefreshToken})
		}

		providerID := id
		pools[id] = credential.NewPoolFromProvider(
			id,
			credential.ProviderAccounts{APIKey: p.APIKey, OAuth: oauthAccts},
			refresherFor(id),
			cd,
			func(userIdentifier string) string { return cooldown.AccountKey(providerID, userIdentifier) },
		)
	}
	return pools
}

// refresherFor picks the OAuth refresh flow for a provider id, matching
// the two families credential/providers.go knows how to refresh.
// Providers outside those two names are assumed api_key-only.
func refresherFor(providerID string) credential.Refresher {
	switch providerID {
	case credential.KindClaudeCode:
		return credential.NewClaudeCodeFlow()
	case credential.KindGeminiCLI:
		return credential.NewGeminiCLIFlow()
	default:
		return nil
	}
}

func poolList(pools map[string]*credential.Pool) []*credential.Pool {
	out := make([]*credential.Pool, 0, len(pools))
	for _, p := range pools {
		out = append(out, p)
	}
	return out
}

func portAddr(port int) string {
	if port == 0 {
		port = 8080
	}
	return ":" + strconv.Itoa(port)
}
