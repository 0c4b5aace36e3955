// File: cmd/indexer/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mintheist/steal-indexer/internal/chain"
	"github.com/mintheist/steal-indexer/internal/config"
	"github.com/mintheist/steal-indexer/internal/metrics"
	"github.com/mintheist/steal-indexer/internal/notification"
	"github.com/mintheist/steal-indexer/internal/queue"
	"github.com/mintheist/steal-indexer/internal/scanner"
	"github.com/mintheist/steal-indexer/internal/server"
	"github.com/mintheist/steal-indexer/internal/storage"
	"github.com/mintheist/steal-indexer/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application represents the main application
type Application struct {
	config *config.Config
	logger *logrus.Logger

	reader      chain.Reader
	storage     storage.Storage
	assets      *storage.LocalAssetStore
	queueClient *queue.Client
	producer    *queue.Producer
	consumer    *queue.Consumer
	reconciler  *queue.Reconciler
	dispatcher  *notification.Dispatcher
	scanner     *scanner.Scanner
	metrics     *metrics.Manager
	server      *server.HTTPServer

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return err
	}

	app.logger = utils.GetLogger()
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
	}).Info("Logger initialized")

	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing application components")

	app.metrics = metrics.NewManager()

	if err := app.initializeChain(); err != nil {
		return fmt.Errorf("failed to initialize chain reader: %w", err)
	}

	if err := app.initializeStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initializeQueue(); err != nil {
		return fmt.Errorf("failed to initialize queue: %w", err)
	}

	if err := app.initializeScanner(); err != nil {
		return fmt.Errorf("failed to initialize scanner: %w", err)
	}

	app.server = server.NewHTTPServer(&app.config.Server,
		app.storage, app.scanner, app.queueClient, app.consumer, app.metrics)

	app.logger.Info("All components initialized successfully")
	return nil
}

// initializeChain initializes the Solana RPC reader
func (app *Application) initializeChain() error {
	app.logger.WithField("rpc_url", app.config.Solana.RPCURL).Info("Initializing chain reader")

	reader := chain.NewRPCReader(&app.config.Solana)
	reader.SetMetrics(app.metrics.GetPrometheusMetrics())
	if err := reader.Connect(app.ctx); err != nil {
		return err
	}

	app.reader = reader
	return nil
}

// initializeStorage initializes the projection store
func (app *Application) initializeStorage() error {
	app.logger.WithField("type", app.config.Storage.Type).Info("Initializing storage layer")

	store, err := storage.NewStorage(&app.config.Storage)
	if err != nil {
		return err
	}

	if err := store.Connect(); err != nil {
		return err
	}

	if err := store.Migrate(); err != nil {
		return err
	}

	app.storage = store
	app.assets = storage.NewLocalAssetStore()
	return nil
}

// initializeQueue initializes the broker client, producer, consumer,
// reconciler and notification dispatcher
func (app *Application) initializeQueue() error {
	app.logger.WithField("ingest_queue", app.config.Queue.IngestQueue).Info("Initializing queue")

	app.queueClient = queue.NewClient(&app.config.Queue)
	if err := app.queueClient.Connect(app.ctx); err != nil {
		return err
	}

	prom := app.metrics.GetPrometheusMetrics()

	app.producer = queue.NewProducer(app.queueClient, &app.config.Queue)
	app.producer.SetMetrics(prom)

	app.consumer = queue.NewConsumer(app.queueClient, app.storage, app.assets, app.producer, &app.config.Queue)
	app.consumer.SetMetrics(prom)

	app.reconciler = queue.NewReconciler(app.queueClient, app.storage, &app.config.Queue)
	app.reconciler.SetMetrics(prom)

	if app.config.Notifications.Enabled {
		app.dispatcher = notification.NewDispatcher(app.queueClient, app.config)
	}

	return nil
}

// initializeScanner initializes the block scanner
func (app *Application) initializeScanner() error {
	app.logger.WithFields(logrus.Fields{
		"scanner":     app.config.Scanner.Name,
		"window_size": app.config.Scanner.WindowSize,
	}).Info("Initializing scanner")

	processor, err := scanner.NewProcessor(app.reader, &app.config.Scanner, &app.config.Solana)
	if err != nil {
		return err
	}

	app.scanner = scanner.NewScanner(app.reader, processor, app.storage, app.producer, &app.config.Scanner)
	app.scanner.SetMetrics(app.metrics.GetPrometheusMetrics())
	return nil
}

// Start starts the application
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
	}).Info("Starting steal indexer")

	if err := app.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := app.consumer.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	if err := app.reconciler.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start reconciler: %w", err)
	}

	if app.dispatcher != nil {
		if err := app.dispatcher.Start(app.ctx); err != nil {
			return fmt.Errorf("failed to start notification dispatcher: %w", err)
		}
	}

	if err := app.scanner.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start scanner: %w", err)
	}

	app.logger.WithFields(logrus.Fields{
		"server_address": fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"rpc_url":        app.config.Solana.RPCURL,
		"program_id":     app.config.Solana.ProgramID,
	}).Info("Steal indexer started successfully")

	return nil
}

// Stop stops the application gracefully. The scanner stops first so no new
// events are produced while consumers drain.
func (app *Application) Stop() error {
	app.logger.Info("Stopping steal indexer")

	if app.scanner != nil {
		if err := app.scanner.Stop(); err != nil {
			app.logger.WithField("error", err.Error()).Error("Failed to stop scanner")
		}
	}

	if app.dispatcher != nil {
		if err := app.dispatcher.Stop(); err != nil {
			app.logger.WithField("error", err.Error()).Error("Failed to stop notification dispatcher")
		}
	}

	if app.reconciler != nil {
		if err := app.reconciler.Stop(); err != nil {
			app.logger.WithField("error", err.Error()).Error("Failed to stop reconciler")
		}
	}

	if app.consumer != nil {
		if err := app.consumer.Stop(); err != nil {
			app.logger.WithField("error", err.Error()).Error("Failed to stop consumer")
		}
	}

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			app.logger.WithField("error", err.Error()).Error("Failed to stop HTTP server")
		}
	}

	app.cancel()

	if app.queueClient != nil {
		if err := app.queueClient.Close(); err != nil {
			app.logger.WithField("error", err.Error()).Error("Failed to close queue client")
		}
	}

	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.WithField("error", err.Error()).Error("Failed to close storage")
		}
	}

	if app.reader != nil {
		if err := app.reader.Close(); err != nil {
			app.logger.WithField("error", err.Error()).Error("Failed to close chain reader")
		}
	}

	app.logger.Info("Steal indexer stopped successfully")
	return nil
}

// CLI Commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "steal-indexer",
	Short:   "Solana steal game block indexer",
	Long:    `Scans Solana blocks for steal game program transactions, classifies them and projects them through a durable queue into a relational store.`,
	Version: AppVersion,
	RunE:    runIndexer,
}

// runIndexer is the main command to run the indexer
func runIndexer(cmd *cobra.Command, args []string) error {
	configPath := viper.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-signalChan
	fmt.Println("\nReceived shutdown signal, stopping application...")

	if err := app.Stop(); err != nil {
		return fmt.Errorf("failed to stop application: %w", err)
	}

	return nil
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("steal-indexer %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("RPC URL: %s\n", cfg.Solana.RPCURL)
		fmt.Printf("Program ID: %s\n", cfg.Solana.ProgramID)
		fmt.Printf("Database: %s\n", cfg.Storage.Type)

		return nil
	},
}

// testCmd represents the test command
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test connectivity and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		ctx := context.Background()

		fmt.Printf("Testing RPC connection to %s...\n", cfg.Solana.RPCURL)
		reader := chain.NewRPCReader(&cfg.Solana)
		if err := reader.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect to Solana node: %w", err)
		}
		defer reader.Close()
		if err := reader.HealthCheck(ctx); err != nil {
			return fmt.Errorf("RPC health check failed: %w", err)
		}
		fmt.Println("RPC connection successful")

		fmt.Printf("Testing storage connection (%s)...\n", cfg.Storage.Type)
		store, err := storage.NewStorage(&cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		if err := store.Connect(); err != nil {
			return fmt.Errorf("failed to connect to storage: %w", err)
		}
		defer store.Close()
		fmt.Println("Storage connection successful")

		fmt.Printf("Testing queue connection to %s...\n", cfg.Queue.URL)
		client := queue.NewClient(&cfg.Queue)
		if err := client.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect to broker: %w", err)
		}
		defer client.Close()
		fmt.Println("Queue connection successful")

		fmt.Println("\nAll connectivity tests passed!")
		return nil
	},
}

// init initializes the CLI commands
func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(testCmd)
	configCmd.AddCommand(validateConfigCmd)
}

// main is the entry point
func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
