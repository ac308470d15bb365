// Package app assembles the application: config, database, crypto, stores,
// mail and HTTP server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/birthdayd/internal/config"
	"github.com/birthdayd/internal/confstore"
	"github.com/birthdayd/internal/db/migrations"
	"github.com/birthdayd/internal/handler"
	"github.com/birthdayd/internal/mailer"
	"github.com/birthdayd/internal/oauth"
	"github.com/birthdayd/internal/secrets"
	"github.com/birthdayd/internal/store"
)

type App struct {
	config    *config.Config
	logger    *slog.Logger
	db        *sql.DB
	birthdays *store.BirthdayStore
	confStore *confstore.Store
	broker    *oauth.Broker
	mailer    *mailer.Mailer
}

func (app *App) Close() {
	app.db.Close()
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger(cfg)

	if err := os.MkdirAll(cfg.Paths.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	ctx := context.Background()
	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	codec, err := secrets.LoadOrCreate(cfg.Paths.KeyFile)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load encryption key: %w", err)
	}

	confStore := confstore.New(cfg.Paths, codec, logger)
	broker := oauth.NewBroker()

	return &App{
		config:    cfg,
		logger:    logger,
		db:        db,
		birthdays: store.NewBirthdayStore(db),
		confStore: confStore,
		broker:    broker,
		mailer:    mailer.New(broker, logger),
	}, nil
}

func (app *App) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:         net.JoinHostPort(app.config.Host, app.config.Port),
		Handler:      app.routes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		ErrorLog:     slog.NewLogLogger(app.logger.Handler(), slog.LevelError),
	}

	g.Go(func() error {
		app.logger.Info("starting server", "addr", srv.Addr, "env", app.config.Env, "data", app.config.Paths.DataDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		app.logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	app.logger.Info("stopped server")
	return nil
}

func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("sqlite", cfg.Paths.DBFile)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := runMigrations(db); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// One writer at a time prevents SQLITE_BUSY under concurrent requests.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return err
	}

	dbDriver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return err
	}
	return m.Up()
}

func newLogger(cfg *config.Config) *slog.Logger {
	logLevel := slog.LevelInfo

	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))

	slog.SetDefault(logger)
	return logger
}

func (app *App) apiHandler() *handler.Handler {
	return handler.New(app.birthdays, app.confStore, app.mailer, app.broker, app.config.Paths.UploadsDir, app.logger)
}
