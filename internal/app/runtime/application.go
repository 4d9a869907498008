// Package runtime layers configuration, database and HTTP server setup on
// top of the app composition for the production binary.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	app "github.com/R3E-Network/credit_layer/internal/app"
	"github.com/R3E-Network/credit_layer/internal/app/auth"
	"github.com/R3E-Network/credit_layer/internal/app/httpapi"
	"github.com/R3E-Network/credit_layer/internal/app/storage/postgres"
	"github.com/R3E-Network/credit_layer/internal/config"
	"github.com/R3E-Network/credit_layer/internal/platform/migrations"
	"github.com/R3E-Network/credit_layer/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	httpServer *http.Server
	app        *app.Application
	db         *sql.DB
	nonces     auth.NonceStore
	auditSink  *httpapi.FileAuditSink
}

// NewApplication constructs a new application instance with default wiring.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := migrations.Apply(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	store := postgres.New(db)
	application, err := app.New(app.Stores{Credits: store, Directory: store}, log)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("compose application: %w", err)
	}

	verifier, err := auth.NewVerifier(cfg.Credits.InternalAPIKey, cfg.Credits.SigningSecret, cfg.Credits.NonceWindow)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("configure verifier: %w", err)
	}

	var nonces auth.NonceStore
	if cfg.Credits.SingleUseNonce {
		if cfg.Redis.URL != "" {
			redisStore, err := auth.NewRedisNonceStore(ctx, cfg.Redis.URL, cfg.Credits.NonceWindow)
			if err != nil {
				db.Close()
				return nil, fmt.Errorf("configure redis nonce store: %w", err)
			}
			nonces = redisStore
		} else {
			log.Warn("single-use nonces enabled without REDIS_URL; using in-process store")
			nonces = auth.NewMemoryNonceStore(cfg.Credits.NonceWindow)
		}
	}

	var auditSink *httpapi.FileAuditSink
	if cfg.Credits.AuditFile != "" {
		auditSink, err = httpapi.NewFileAuditSink(cfg.Credits.AuditFile)
		if err != nil {
			log.WithError(err).Warn("audit file unavailable; keeping in-memory trail only")
		}
	}

	handler := httpapi.NewHandler(application.Credits, httpapi.Config{
		Verifier:       verifier,
		Nonces:         nonces,
		DefaultTenant:  cfg.Credits.DefaultTenant,
		RateLimitRPS:   cfg.Credits.RateLimitRPS,
		RateLimitBurst: cfg.Credits.RateLimitBurst,
		Audit:          httpapi.NewAuditLog(0, auditSink),
	}, store, log)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           http.TimeoutHandler(handler, cfg.Server.RequestTimeout, `{"error":"request timed out"}`),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &Application{
		cfg:        cfg,
		log:        log,
		httpServer: httpSrv,
		app:        application,
		db:         db,
		nonces:     nonces,
		auditSink:  auditSink,
	}, nil
}

// Run starts the services and the HTTP server, blocking until the context is
// cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully shuts down the HTTP server and releases resources.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("error stopping services")
	}
	if closer, ok := a.nonces.(interface{ Close() error }); ok && closer != nil {
		if err := closer.Close(); err != nil {
			a.log.WithError(err).Warn("error closing nonce store")
		}
	}
	if a.auditSink != nil {
		if err := a.auditSink.Close(); err != nil {
			a.log.WithError(err).Warn("error closing audit sink")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return nil
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.Driver == "" {
		return nil, fmt.Errorf("database driver not configured")
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
