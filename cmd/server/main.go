// cmd/server/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	_ "link-service/docs"
	"link-service/internal/command"
	"link-service/internal/config"
	"link-service/internal/database"
	"link-service/internal/eventlog"
	"link-service/internal/link"
	"link-service/internal/model"
	"link-service/internal/peer"
	"link-service/internal/repository"
	"link-service/internal/routes"
	"link-service/internal/service"
	"link-service/internal/transport"
	"link-service/internal/utils"
)

// Application represents the main application
type Application struct {
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
	database *database.DB
	router   *routes.Router

	// Link core
	events   *eventlog.Log
	manager  *link.Manager
	registry *peer.Chain

	// Services
	linkService *service.LinkService
	archiver    *service.LogArchiver

	// Repositories; nil when the database is disabled
	peerRepo repository.PeerRepository
	logRepo  repository.LogRepository

	background context.Context
	stop       context.CancelFunc
}

// @title Link Service API
// @version 1.0.0
// @description Controller for a single serial-style link to an HC-05 Bluetooth module

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8085
// @BasePath /api/v1
func main() {
	configPath := flag.String("config", "", "path to config file (default: search ., ./config, /etc/link-service)")
	migrateCmd := flag.String("migrate", "", "run a migration command and exit: up, down, version or force=N")
	flag.Parse()

	if *migrateCmd != "" {
		if err := runMigration(*configPath, *migrateCmd); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}

// runMigration executes a single migration command against the configured database
func runMigration(configPath, command string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer utils.CloseLogger(logger)

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger, &cfg.Database)

	switch {
	case command == "up":
		return migrator.Up()
	case command == "down":
		return migrator.Down()
	case command == "version":
		version, dirty, err := migrator.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version %d (dirty: %t)\n", version, dirty)
		return nil
	case strings.HasPrefix(command, "force="):
		version, err := strconv.Atoi(strings.TrimPrefix(command, "force="))
		if err != nil {
			return fmt.Errorf("invalid force version: %w", err)
		}
		return migrator.Force(version)
	default:
		return fmt.Errorf("unknown migration command %q", command)
	}
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, "link-service")
	serviceLogger.LogServiceStart(cfg.App.Version, cfg.Link)

	background, stop := context.WithCancel(context.Background())
	app := &Application{
		config:     cfg,
		logger:     logger,
		background: background,
		stop:       stop,
	}

	if err := app.initializeDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initializeRepositories(); err != nil {
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	if err := app.initializeLink(); err != nil {
		return nil, fmt.Errorf("failed to initialize link: %w", err)
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initializeServer(); err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return app, nil
}

// initializeDatabase sets up the optional database connection and runs migrations
func (app *Application) initializeDatabase() error {
	if !app.config.Database.Enabled {
		app.logger.Info("Database disabled, event log kept in memory only")
		return nil
	}

	db, err := database.NewConnection(&app.config.Database, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	app.database = db

	migrator := database.NewMigrator(db, app.logger, &app.config.Database)
	if err := migrator.Up(); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	if err := migrator.RunCleanup(); err != nil {
		app.logger.Warn("Startup cleanup failed", zap.Error(err))
	}

	app.logger.Info("Database initialized successfully")
	return nil
}

// initializeRepositories creates repository instances
func (app *Application) initializeRepositories() error {
	if app.database == nil {
		return nil
	}

	app.peerRepo = repository.NewPeerRepository(app.database, app.logger)
	app.logRepo = repository.NewLogRepository(app.database, app.logger)

	app.logger.Info("Repositories initialized successfully")
	return nil
}

// initializeLink builds the peer registry, the transport and the manager
func (app *Application) initializeLink() error {
	registry, err := peer.FromConfig(app.config, app.peerRepo, app.logger)
	if err != nil {
		return err
	}
	app.registry = registry

	kind := model.TransportKind(app.config.Link.Transport)
	tr, err := transport.New(kind, app.config.Transports, app.logger)
	if err != nil {
		return err
	}

	mirror := utils.NewLinkLogger(app.logger, app.config.Link.PeerName, kind)
	app.events = eventlog.New(eventlog.WithHook(mirror.LogEntry))

	app.manager = link.NewManager(link.OptionsFromConfig(app.config.Link), tr, registry, app.events, app.logger)

	app.logger.Info("Link controller initialized",
		zap.String("peer", app.config.Link.PeerName),
		zap.String("transport", string(kind)),
	)
	return nil
}

// initializeServices creates service instances
func (app *Application) initializeServices() error {
	vocabulary, err := command.NewVocabulary(app.config.Commands)
	if err != nil {
		return fmt.Errorf("invalid command vocabulary: %w", err)
	}

	app.linkService = service.NewLinkService(app.manager, app.registry, vocabulary, app.events, app.logger)

	startCtx, cancel := context.WithTimeout(app.background, 5*time.Second)
	app.linkService.Start(startCtx)
	cancel()

	if app.logRepo != nil && app.config.Database.PersistLog {
		app.archiver = service.NewLogArchiver(app.logRepo, app.events, service.ArchiverOptions{
			Retention: app.config.Database.LogRetention,
		}, app.logger)
	}

	app.logger.Info("Services initialized successfully",
		zap.Int("command_tokens", vocabulary.Len()),
		zap.Bool("log_archive", app.archiver != nil),
	)
	return nil
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() error {
	app.router = routes.NewRouter(
		app.config,
		app.logger,
		app.database,
		app.linkService,
		app.archiver,
	)

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      app.router.SetupRouter(),
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
		zap.Bool("tls_enabled", app.config.Server.TLS.Enabled),
	)

	return nil
}

// startBackgroundServices starts background services
func (app *Application) startBackgroundServices() {
	if app.archiver != nil {
		go app.archiver.Run(app.background)
		go app.startCleanupService()
	}

	app.logger.Info("Background services started")
}

// startCleanupService removes archived log entries past retention
func (app *Application) startCleanupService() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	app.logger.Info("Cleanup service started")

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(app.background, 10*time.Minute)
			if _, err := app.archiver.Cleanup(ctx); err != nil {
				app.logger.Error("Failed to cleanup archived log", zap.Error(err))
			}
			cancel()
		case <-app.background.Done():
			return
		}
	}
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	app.shutdown()
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, "link-service")
	serviceLogger.LogServiceStop("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if ws := app.router.WebSocket(); ws != nil {
		ws.Close()
	}

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	// Disconnect the peer before the archiver drains the log
	if err := app.manager.Close(ctx); err != nil {
		app.logger.Error("Link shutdown error", zap.Error(err))
	} else {
		app.logger.Info("Link controller stopped")
	}

	app.stop()
	if app.archiver != nil {
		select {
		case <-app.archiver.Done():
		case <-ctx.Done():
			app.logger.Warn("Log archiver did not stop in time")
		}
	}

	if app.database != nil {
		if err := app.database.Close(); err != nil {
			app.logger.Error("Database close error", zap.Error(err))
		} else {
			app.logger.Info("Database connection closed")
		}
	}

	app.logger.Info("Application shutdown completed")

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}

// Start runs the HTTP server and blocks until shutdown
func (app *Application) Start() error {
	go func() {
		app.logger.Info("Starting HTTP server",
			zap.String("address", app.server.Addr),
		)

		var err error
		if app.config.Server.TLS.Enabled {
			err = app.server.ListenAndServeTLS(
				app.config.Server.TLS.CertFile,
				app.config.Server.TLS.KeyFile,
			)
		} else {
			err = app.server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	app.startBackgroundServices()

	app.waitForShutdown()

	return nil
}
