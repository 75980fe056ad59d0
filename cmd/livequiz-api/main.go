package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/classdeck/livequiz/backend/internal/auth"
	"github.com/classdeck/livequiz/backend/internal/bank"
	"github.com/classdeck/livequiz/backend/internal/config"
	"github.com/classdeck/livequiz/backend/internal/database"
	"github.com/classdeck/livequiz/backend/internal/live"
	"github.com/classdeck/livequiz/backend/internal/logging"
	"github.com/classdeck/livequiz/backend/internal/provision"
	"github.com/classdeck/livequiz/backend/internal/room"
	"github.com/classdeck/livequiz/backend/internal/server"
	"github.com/classdeck/livequiz/backend/internal/session"
	"github.com/classdeck/livequiz/backend/internal/synth"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "livequiz-api",
		Short: "Live quiz hosting engine",
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
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address for the synthesis cache (empty disables)")
	cmd.PersistentFlags().String("llm-api-url", defaults.GetString("llm.api_url"), "Chat-completion provider base URL")
	cmd.PersistentFlags().String("llm-model", defaults.GetString("llm.model"), "Chat-completion model")
	cmd.PersistentFlags().Int("llm-timeout-s", defaults.GetInt("llm.timeout_s"), "Per-credential provider timeout in seconds")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Portal token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "llm.api_url", "llm-api-url")
	bindFlag(cmd, "llm.model", "llm-model")
	bindFlag(cmd, "llm.timeout_s", "llm-timeout-s")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
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

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	validator, err := auth.NewPortalValidator(auth.PortalValidatorConfig{
		SigningSecret: []byte(appConfig.AuthSigningKey),
		Issuer:        appConfig.AuthIssuer,
		CookieName:    appConfig.AuthCookieName,
	})
	if err != nil {
		return err
	}

	var redisClient redis.UniversalClient
	if appConfig.RedisAddress != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: appConfig.RedisAddress})
		defer redisClient.Close()
	}

	bankAdapter, err := bank.NewAdapter(db, logger)
	if err != nil {
		return err
	}
	aiStore, err := synth.NewStore(db, logger)
	if err != nil {
		return err
	}
	synthesizer := synth.NewSynthesizer(synth.Config{
		APIURL:  appConfig.ProviderURL,
		Model:   appConfig.ProviderModel,
		APIKeys: appConfig.ProviderKeys,
		Timeout: appConfig.ProviderTimeout,
		Cache:   synth.NewCache(redisClient, "synth", logger),
		Store:   aiStore,
		Logger:  logger,
	})

	pipeline, err := provision.NewPipeline(provision.Config{
		Bank:      bankAdapter,
		Generated: aiStore,
		Generator: synthesizer,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	roomService, err := room.NewService(room.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}
	sessionService, err := session.NewService(session.ServiceConfig{
		Database:   db,
		Rooms:      roomService,
		IDProvider: session.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	liveService, err := live.NewService(live.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Validator: validator,
		Rooms:     roomService,
		Sessions:  sessionService,
		Live:      liveService,
		Pipeline:  pipeline,
		Topics:    synthesizer,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
