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

	"github.com/fossgis/3dmr/internal/auth"
	"github.com/fossgis/3dmr/internal/catalog"
	"github.com/fossgis/3dmr/internal/config"
	"github.com/fossgis/3dmr/internal/database"
	"github.com/fossgis/3dmr/internal/logging"
	"github.com/fossgis/3dmr/internal/server"
	"github.com/fossgis/3dmr/internal/session"
	"github.com/fossgis/3dmr/internal/storage"
	"github.com/fossgis/3dmr/internal/users"
	"github.com/fossgis/3dmr/internal/validate"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tdmr-api",
		Short: "3D model repository backend service",
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
	cmd.PersistentFlags().String("model-dir", defaults.GetString("storage.model_dir"), "Directory holding GLB model files")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("userinfo-url", defaults.GetString("auth.userinfo_url"), "OAuth provider userinfo endpoint")
	cmd.PersistentFlags().String("validator-binary", defaults.GetString("validator.binary"), "Path to gltf-validator (optional)")
	cmd.PersistentFlags().Int64("max-upload-bytes", defaults.GetInt64("upload.max_bytes"), "Maximum accepted model size in bytes")
	cmd.PersistentFlags().String("signing-secret", "", "Bearer token signing secret (overrides env)")
	cmd.PersistentFlags().String("cookie-secret", "", "Session cookie secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "storage.model_dir", "model-dir")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.userinfo_url", "userinfo-url")
	bindFlag(cmd, "validator.binary", "validator-binary")
	bindFlag(cmd, "upload.max_bytes", "max-upload-bytes")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "session.cookie_secret", "cookie-secret")
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

	files, err := storage.NewStore(appConfig.ModelDir)
	if err != nil {
		return err
	}

	usersService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	catalogService, err := catalog.NewService(catalog.ServiceConfig{
		Database:   db,
		Files:      files,
		IDProvider: catalog.NewUUIDProvider(),
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "tdmr-auth",
		Audience:      "tdmr-api",
	})

	providerVerifier, err := auth.NewProviderVerifier(auth.ProviderVerifierConfig{
		UserinfoURL: appConfig.UserinfoURL,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	sessionTracker, err := session.NewTracker(session.TrackerConfig{
		CookieSecret: []byte(appConfig.CookieSecret),
		Secure:       appConfig.SecureCookies,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		ProviderVerifier: providerVerifier,
		TokenManager:     tokenManager,
		Users:            usersService,
		Catalog:          catalogService,
		Files:            files,
		Validator: validate.NewGLBValidator(validate.GLBValidatorConfig{
			ValidatorBinary: appConfig.ValidatorBinary,
			Logger:          logger,
		}),
		Sessions:       sessionTracker,
		MaxUploadBytes: appConfig.MaxUploadBytes,
		Logger:         logger,
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
