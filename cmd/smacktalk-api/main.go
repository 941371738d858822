package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/smacktalklabs/central/backend/internal/auth"
	"github.com/smacktalklabs/central/backend/internal/chat"
	"github.com/smacktalklabs/central/backend/internal/config"
	"github.com/smacktalklabs/central/backend/internal/database"
	"github.com/smacktalklabs/central/backend/internal/history"
	"github.com/smacktalklabs/central/backend/internal/logging"
	"github.com/smacktalklabs/central/backend/internal/media"
	"github.com/smacktalklabs/central/backend/internal/polls"
	"github.com/smacktalklabs/central/backend/internal/realtime"
	"github.com/smacktalklabs/central/backend/internal/server"
	"github.com/smacktalklabs/central/backend/internal/users"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "smacktalk-api",
		Short: "Smack Talk Central backend service",
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
	cmd.PersistentFlags().String("google-client-id", defaults.GetString("google.client_id"), "Google OAuth client ID")
	cmd.PersistentFlags().String("google-jwks-url", defaults.GetString("google.jwks_url"), "Google JWKS URL")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("giphy-api-key", "", "Giphy API key for the GIF picker (overrides env)")
	cmd.PersistentFlags().Int("history-limit", defaults.GetInt("chat.history_limit"), "Maximum events per history page")
	cmd.PersistentFlags().String("default-room", defaults.GetString("chat.default_room"), "Default chat room identifier")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "google.client_id", "google-client-id")
	bindFlag(cmd, "google.jwks_url", "google-jwks-url")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "media.giphy_api_key", "giphy-api-key")
	bindFlag(cmd, "chat.history_limit", "history-limit")
	bindFlag(cmd, "chat.default_room", "default-room")
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

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "smacktalk-auth",
		Audience:      "smacktalk-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	identityVerifier, err := auth.NewIdentityVerifier(auth.IdentityVerifierConfig{
		Audience: appConfig.GoogleClientID,
		JWKSURL:  appConfig.GoogleJWKSURL,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	usersService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}
	statsStore, err := users.NewStatsStore(users.StatsStoreConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}
	pollsService, err := polls.NewService(polls.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: polls.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	historyStore, err := history.NewStore(history.StoreConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}

	sessions, err := server.NewSessionManager(server.SessionManagerConfig{
		Stats:          statsStore,
		LedgerCapacity: appConfig.LedgerCapacity,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer sessions.Close()

	validator := chat.NewMediaValidator(appConfig.MediaHosts)

	var mediaClient server.GIFSearcher
	if appConfig.GiphyAPIKey != "" {
		client, err := media.NewClient(media.ClientConfig{
			BaseURL:   appConfig.GiphyBaseURL,
			APIKey:    appConfig.GiphyAPIKey,
			Validator: validator,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		mediaClient = client
	} else {
		logger.Info("gif search disabled, no api key configured")
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		IdentityVerifier: identityVerifier,
		TokenManager:     tokenManager,
		UsersService:     usersService,
		PollsService:     pollsService,
		HistoryStore:     historyStore,
		StatsStore:       statsStore,
		Sessions:         sessions,
		Dispatcher:       realtime.NewDispatcher(),
		MediaClient:      mediaClient,
		MediaValidator:   validator,
		Logger:           logger,
		HistoryLimit:     appConfig.HistoryLimit,
		DefaultRoomID:    appConfig.DefaultRoomID,
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
