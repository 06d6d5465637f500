package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	courierAuth "github.com/MrEthical07/courierAuth"
	"github.com/MrEthical07/courierAuth/metrics/export/prometheus"
	"github.com/MrEthical07/courierAuth/storage/boltdb"
	"github.com/MrEthical07/courierAuth/web"
)

var (
	listenAddr string
	dataDir    string
	envPrefix  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the authentication HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()

		cfg, err := courierAuth.LoadConfigFromEnv(envPrefix)
		if err != nil {
			return err
		}

		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := boltdb.OpenFile(filepath.Join(dataDir, "principals.db"), nil)
		if err != nil {
			return fmt.Errorf("failed to open principal storage: %w", err)
		}
		defer store.Close()

		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		defer rdb.Close()

		pingCtx, cancelPing := context.WithTimeout(cmd.Context(), 5*time.Second)
		err = rdb.Ping(pingCtx).Err()
		cancelPing()
		if err != nil {
			return fmt.Errorf("redis at %s unreachable: %w", redisAddr, err)
		}

		builder := courierAuth.New().
			WithConfig(cfg).
			WithRedis(rdb).
			WithLogger(logger).
			WithAuditSink(courierAuth.NewSlogSink(logger)).
			WithPasskeyStore(store)
		for _, role := range []courierAuth.Role{courierAuth.RoleUser, courierAuth.RoleAgent, courierAuth.RoleAdmin} {
			builder.WithPrincipalStore(role, store.Principals(role))
		}
		engine, err := builder.Build()
		if err != nil {
			return fmt.Errorf("failed to build engine: %w", err)
		}
		defer engine.Close()

		report := engine.SecurityReport()
		logger.Info("security posture",
			"signing", report.SigningAlgorithm,
			"access_ttl", report.AccessTTL,
			"device_binding", report.DeviceBindingEnabled,
			"totp_replay_protection", report.TOTPReplayProtection,
			"passkeys", report.PasskeysEnabled,
			"secure_cookies", report.SecureCookies,
		)

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			if err := rdb.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte("OK"))
		})
		r.Handle("/metrics", prometheus.New(engine).Handler())
		r.Mount("/", web.New(engine, web.WithLogger(logger)).Router())

		server := &http.Server{
			Addr:              listenAddr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		logger.Info("courierauth listening", "addr", listenAddr, "data_dir", dataDir, "roles", engine.Roles())

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("shutting down", "signal", sig.String())
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&listenAddr, "addr", ":8080", "Address to listen on")
	serveCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for the principal database")
	serveCmd.Flags().StringVar(&envPrefix, "env-prefix", "COURIER_", "Prefix of configuration environment variables")
}
