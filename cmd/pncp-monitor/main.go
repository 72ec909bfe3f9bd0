package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lilkinjongun/pncp-monitor/internal/config"
	"github.com/lilkinjongun/pncp-monitor/internal/database"
	"github.com/lilkinjongun/pncp-monitor/internal/logging"
	"github.com/lilkinjongun/pncp-monitor/internal/monitor"
	"github.com/lilkinjongun/pncp-monitor/internal/notices"
	"github.com/lilkinjongun/pncp-monitor/internal/notifier"
	"github.com/lilkinjongun/pncp-monitor/internal/pncp"
	"github.com/lilkinjongun/pncp-monitor/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "pncp-monitor",
		Short: "PNCP procurement notice monitor for a single municipality",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	var lookbackDays int
	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run one fetch-and-reconcile cycle and print the summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitorOnce(cmd.Context(), lookbackDays)
		},
	}
	monitorCmd.Flags().IntVar(&lookbackDays, "dias", 0, "Lookback window in days (default from config)")

	rootCmd.AddCommand(monitorCmd)
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
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("municipality-code", defaults.GetString("municipality.code"), "IBGE municipality code")
	cmd.PersistentFlags().String("municipality-name", defaults.GetString("municipality.name"), "Municipality display name")
	cmd.PersistentFlags().String("registry-base-url", defaults.GetString("registry.base_url"), "PNCP consultation API base URL")
	cmd.PersistentFlags().Int("lookback-days", defaults.GetInt("monitor.lookback_days"), "Default lookback window in days")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "municipality.code", "municipality-code")
	bindFlag(cmd, "municipality.name", "municipality-name")
	bindFlag(cmd, "registry.base_url", "registry-base-url")
	bindFlag(cmd, "monitor.lookback_days", "lookback-days")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	// .env is optional; ignore a missing file.
	_ = godotenv.Load()

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

// application holds the wired components shared by both commands.
type application struct {
	cfg     config.AppConfig
	logger  *zap.Logger
	store   *notices.Store
	client  *pncp.Client
	monitor *monitor.Monitor
	close   func()
}

func buildApplication() (*application, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	store, err := notices.NewStore(notices.StoreConfig{Database: db, Logger: logger})
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	client, err := pncp.NewClient(pncp.ClientConfig{
		BaseURL:       appConfig.RegistryBaseURL,
		Timeout:       appConfig.RequestTimeout,
		RetryAttempts: appConfig.RetryAttempts,
		PageSize:      appConfig.PageSize,
		Logger:        logger,
	})
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	emailNotifier := notifier.NewEmailNotifier(notifier.EmailConfig{
		Host:         appConfig.SMTPHost,
		Port:         appConfig.SMTPPort,
		Sender:       appConfig.SMTPSender,
		Password:     appConfig.SMTPPassword,
		Municipality: appConfig.MunicipalityName,
		Logger:       logger,
	})

	pipeline, err := monitor.NewMonitor(monitor.Config{
		Client:           client,
		Store:            store,
		Notifier:         emailNotifier,
		Recipients:       appConfig.Recipients,
		MunicipalityCode: appConfig.MunicipalityCode,
		MunicipalityName: appConfig.MunicipalityName,
		Logger:           logger,
	})
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &application{
		cfg:     appConfig,
		logger:  logger,
		store:   store,
		client:  client,
		monitor: pipeline,
		close: func() {
			sqlDB.Close()
			logger.Sync() //nolint:errcheck
		},
	}, nil
}

func runServer(ctx context.Context) error {
	app, err := buildApplication()
	if err != nil {
		return err
	}
	defer app.close()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Store:            app.store,
		Pipeline:         app.monitor,
		Details:          app.client,
		CronToken:        app.cfg.CronToken,
		MunicipalityName: app.cfg.MunicipalityName,
		LookbackDays:     app.cfg.LookbackDays,
		Logger:           app.logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    app.cfg.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("server starting", zap.String("address", app.cfg.HTTPAddress))
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

func runMonitorOnce(ctx context.Context, lookbackDays int) error {
	app, err := buildApplication()
	if err != nil {
		return err
	}
	defer app.close()

	if lookbackDays <= 0 {
		lookbackDays = app.cfg.LookbackDays
	}

	result := app.monitor.RunAndNotify(ctx, lookbackDays, nil)
	if !result.Success {
		return fmt.Errorf("monitoring failed: %s", result.Error)
	}

	fmt.Printf("Total encontradas: %d\n", result.TotalFound)
	fmt.Printf("Novas contratações: %d\n", result.NewCount)
	fmt.Printf("Data/hora: %s\n", result.ExecutedAt.Format(time.RFC3339))

	stats, err := app.store.Statistics(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Total no banco: %d\n", stats.TotalNotices)
	fmt.Printf("Valor total estimado: %s\n", notifier.FormatBRL(stats.TotalEstimatedValue))
	if stats.LastCapturedAt != nil {
		fmt.Printf("Última atualização: %s\n", stats.LastCapturedAt.Format(time.RFC3339))
	}
	for _, bucket := range stats.ByModality {
		fmt.Printf("  - %s: %d\n", bucket.ModalityName, bucket.Count)
	}

	return nil
}
