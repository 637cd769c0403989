package main

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tiluckdave/prempushp/internal/auth"
	"github.com/tiluckdave/prempushp/internal/config"
	"github.com/tiluckdave/prempushp/internal/counters"
	"github.com/tiluckdave/prempushp/internal/database"
	"github.com/tiluckdave/prempushp/internal/forms"
	"github.com/tiluckdave/prempushp/internal/identity"
	"github.com/tiluckdave/prempushp/internal/logging"
	"github.com/tiluckdave/prempushp/internal/metrics"
	"github.com/tiluckdave/prempushp/internal/presence"
	"github.com/tiluckdave/prempushp/internal/server"
)

const (
	adminTokenIssuer = "prempushp-admin"
	shutdownTimeout  = 10 * time.Second
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "prempushp-api",
		Short: "Prem Pushp site analytics and forms backend",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before reading the environment")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "SQLite path or Postgres DSN")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().Int("presence-ttl-seconds", defaults.GetInt("presence.ttl_seconds"), "Seconds without a heartbeat before a session expires")
	cmd.PersistentFlags().Int("counters-max-attempts", defaults.GetInt("counters.max_attempts"), "Write attempts per counter update before giving up")
	cmd.PersistentFlags().StringSlice("cors-allowed-origins", defaults.GetStringSlice("cors.allowed_origins"), "Allowed CORS origins")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "presence.ttl_seconds", "presence-ttl-seconds")
	bindFlag(cmd, "counters.max_attempts", "counters-max-attempts")
	bindFlag(cmd, "cors.allowed_origins", "cors-allowed-origins")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(appConfig.DatabaseDriver, appConfig.DatabaseDSN, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	collector := metrics.NewCollector()

	counterService, err := counters.NewService(counters.ServiceConfig{
		Database:    db,
		Clock:       time.Now,
		Logger:      logger,
		Observer:    collector,
		MaxAttempts: appConfig.CounterMaxAttempts,
	})
	if err != nil {
		return err
	}

	dispatcher := presence.NewDispatcher()
	tracker, err := presence.NewTracker(presence.Config{
		Counter:       counterService,
		Logger:        logger,
		Listeners:     []presence.Listener{dispatcher, collector},
		TTL:           appConfig.PresenceTTL,
		SweepInterval: appConfig.PresenceSweepInterval,
	})
	if err != nil {
		return err
	}

	formService, err := forms.NewService(forms.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: forms.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.AdminSigningSecret),
		Issuer:        adminTokenIssuer,
		TokenTTL:      appConfig.AdminTokenTTL,
	})
	if err != nil {
		return err
	}
	adminGate, err := auth.NewAdminGate(auth.AdminGateConfig{
		Password:    appConfig.AdminPassword,
		TokenIssuer: tokenIssuer,
	})
	if err != nil {
		return err
	}

	var blockKey []byte
	if appConfig.IdentityBlockKey != "" {
		blockKey = []byte(appConfig.IdentityBlockKey)
	}
	cookieCodec, err := identity.NewCookieCodec([]byte(appConfig.IdentityHashKey), blockKey, appConfig.SecureCookies)
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Counters:       counterService,
		Presence:       tracker,
		Dispatcher:     dispatcher,
		Forms:          formService,
		Admin:          adminGate,
		Identity:       cookieCodec,
		Metrics:        collector,
		Logger:         logger,
		AllowedOrigins: appConfig.AllowedOrigins,
		SessionTTL:     appConfig.PresenceTTL,
		SecureCookies:  appConfig.SecureCookies,
	})
	if err != nil {
		return err
	}

	// Presence streams never finish on their own; their request contexts end
	// when shutdown begins.
	streamCtx, closeStreams := context.WithCancel(context.Background())
	defer closeStreams()
	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return streamCtx },
	}
	httpServer.RegisterOnShutdown(closeStreams)

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := tracker.Run(signalCtx); err != nil {
			logger.Error("presence tracker stopped", zap.Error(err))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdownErr := httpServer.Shutdown(shutdownCtx)
		if err := handler.Drain(shutdownCtx); err != nil {
			logger.Warn("detached tracking writes abandoned", zap.Error(err))
		}
		return shutdownErr
	case err := <-errCh:
		return err
	}
}
