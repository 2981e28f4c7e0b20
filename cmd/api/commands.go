package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	appanalysis "github.com/bryanwahyu/profile-insight/internal/application/analysis"
	"github.com/bryanwahyu/profile-insight/internal/config"
	domain "github.com/bryanwahyu/profile-insight/internal/domain/analysis"
	"github.com/bryanwahyu/profile-insight/internal/infra/httpserver"
	"github.com/bryanwahyu/profile-insight/internal/infra/queue/qstash"
	"github.com/bryanwahyu/profile-insight/internal/logger"
	"github.com/bryanwahyu/profile-insight/internal/middleware"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "profile-insight",
		Short:         "Async AI profile analysis API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	defaultPath := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		defaultPath = v
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultPath, "path to config.yaml (optional)")

	load := func() (*config.Config, error) {
		return config.Load(configPath)
	}

	serve := newServeCmd(load)
	root.AddCommand(serve, newStatusCmd(load), newProcessCmd(load))
	root.RunE = serve.RunE
	return root
}

type loadFunc func() (*config.Config, error)

func newServeCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
}

func runServer(cfg *config.Config) error {
	log, err := newLogger(cfg)
	if err != nil {
		return errors.Wrap(err, "init logger")
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()
	repo, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("Store connect error", zap.Error(err))
		return err
	}
	defer closeStore.Close()

	queue, err := newQueue(cfg, log)
	if err != nil {
		return err
	}
	receiver, err := qstash.NewReceiver(cfg.QStash.CurrentSigningKey, cfg.QStash.NextSigningKey)
	if err != nil {
		return err
	}

	metrics := middleware.NewMetrics()
	svc := newService(cfg, repo, queue, newGenerator(cfg), metrics)

	handler := httpserver.NewRouter(httpserver.Options{
		Service:     svc,
		Verifier:    receiver,
		WebhookURL:  cfg.QStash.WebhookURL,
		CORSOrigin:  cfg.Server.CORSOrigin,
		Logger:      log,
		Metrics:     metrics,
		RateLimiter: middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// webhook deliveries wait on the AI provider
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("API server started",
			zap.Int("port", cfg.Server.Port),
			zap.String("env", cfg.Server.Env),
			zap.String("store", cfg.Store.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("Server error", zap.Error(err))
			return err
		}
		return nil
	case <-stop:
	}
	log.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Shutdown error", zap.Error(err))
		return err
	}
	return nil
}

func newStatusCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "status <requestId>",
		Short: "Print the stored status of an analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if err := cfg.ValidateStore(); err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx := logger.WithContext(cmd.Context(), log)
			repo, closeStore, err := openStore(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer closeStore.Close()

			svc := newService(cfg, repo, noQueue{}, noGenerator{}, nil)
			rec, err := svc.GetStatus(ctx, domain.ID(args[0]))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}
}

func newProcessCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "process <requestId>",
		Short: "Process a pending analysis now, bypassing the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if err := cfg.ValidateWorker(); err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx := logger.WithContext(cmd.Context(), log)
			repo, closeStore, err := openStore(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer closeStore.Close()

			svc := newService(cfg, repo, noQueue{}, newGenerator(cfg), nil)
			outcome, err := svc.ProcessWebhook(ctx, domain.ID(args[0]))
			if err != nil {
				return err
			}
			switch outcome {
			case appanalysis.OutcomeAlreadyProcessed:
				fmt.Fprintln(cmd.OutOrStdout(), "Already processed")
			case appanalysis.OutcomeAlreadyProcessing:
				fmt.Fprintln(cmd.OutOrStdout(), "Already processing")
			default:
				fmt.Fprintln(cmd.OutOrStdout(), "Processed")
			}
			return nil
		},
	}
}
