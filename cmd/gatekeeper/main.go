package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gatekeeper/internal/config"
	"gatekeeper/internal/infra/cachemem"
	"gatekeeper/internal/infra/cacheredis"
	"gatekeeper/internal/infra/db"
	"gatekeeper/internal/infra/evalmem"
	"gatekeeper/internal/infra/githubapi"
	httpinfra "gatekeeper/internal/infra/http"
	"gatekeeper/internal/infra/logging"
	"gatekeeper/internal/infra/policyopa"
	"gatekeeper/internal/usecase"

	"github.com/redis/go-redis/v9"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.FromEnv()
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("gatekeeper exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clients, err := clientFactory(cfg)
	if err != nil {
		return err
	}

	store, err := db.NewStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	var evaluations usecase.EvaluationRepository = evalmem.New()
	if store.Enabled() {
		if err := store.Migrate(); err != nil {
			return err
		}
		evaluations = db.NewEvaluationRepository(store.DB)
	}

	var keyCache usecase.KeyCache = cachemem.New()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		keyCache = cacheredis.New(rdb)
	}

	authorizer := &usecase.Authorizer{
		StrictExplicit: cfg.StrictExplicitPolicy,
		Logger:         logger,
	}
	if cfg.RegoPolicyPath != "" {
		engine, err := policyopa.NewEngineFromBundlePath(ctx, cfg.RegoPolicyPath)
		if err != nil {
			return err
		}
		logger.Info("rego rules loaded", "path", cfg.RegoPolicyPath, "bundle_hash", engine.BundleHash())
		authorizer.Rules = engine
	}

	gk := usecase.NewGatekeeper(clients, usecase.GatekeeperConfig{
		CheckName:       cfg.CheckName,
		PolicyPath:      cfg.PolicyPath,
		PipelineTimeout: cfg.PipelineTimeout,
		Concurrency:     cfg.VerifyConcurrency,
		KeyCacheTTL:     cfg.KeyCacheTTL,
		Verifier: usecase.CommitVerifierConfig{
			WebflowKeyIDs: cfg.WebflowKeyIDs,
			KnownBots:     cfg.KnownBots,
			LookupTimeout: cfg.LookupTimeout,
		},
	})
	gk.Authorizer = authorizer
	gk.KeyCache = keyCache
	gk.Evaluations = evaluations
	gk.Logger = logger

	srv := httpinfra.NewServerWithDeps(cfg, httpinfra.ServerDeps{
		Pipeline:    gk,
		Evaluations: evaluations,
		Logger:      logger,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr, "check_name", cfg.CheckName, "async", cfg.WebhookAsync)
		errCh <- srv.Run()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// clientFactory prefers GitHub App credentials and falls back to a static
// token, which serves every installation with the same identity.
func clientFactory(cfg config.Config) (usecase.ClientFactory, error) {
	opts := githubapi.Options{
		APIURL:            cfg.GitHubAPIURL,
		RequestsPerSecond: cfg.GitHubRequestsPerSecond,
	}
	if cfg.GitHubAppID != 0 {
		pem, err := cfg.PrivateKeyPEM()
		if err != nil {
			return nil, err
		}
		app, err := githubapi.NewApp(cfg.GitHubAppID, pem, opts)
		if err != nil {
			return nil, err
		}
		return app, nil
	}
	static, err := githubapi.NewStaticFactory(cfg.GitHubToken, opts)
	if err != nil {
		return nil, err
	}
	return static, nil
}
