// Package app wires the daemon's subsystems together and owns their
// lifecycle.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"signoffws/internal/config"
	"signoffws/internal/database"
	"signoffws/internal/metrics"
	"signoffws/internal/poller"
	"signoffws/internal/registry"
	"signoffws/internal/server"
	"signoffws/internal/session"
)

// Application holds the wired subsystems.
type Application struct {
	cfg *config.Config
	log *zap.Logger

	db            *sql.DB
	sessions      session.Store
	registry      *registry.Registry
	server        *server.Server
	metricsServer *metrics.Server
}

// New builds the application: it opens the database, probes the schema
// once, selects the session backend and binds the WebSocket listener. Any
// failure here is fatal to startup.
func New(cfg *config.Config, log *zap.Logger) (*Application, error) {
	db, dialect, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	probeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(probeCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	caps := poller.Probe(probeCtx, db, dialect)
	log.Info("schema probed",
		zap.Bool("payload_json", caps.HasPayload),
		zap.Bool("ta_assignments", caps.TATableExists),
		zap.String("ta_key_column", caps.TAKeyColumn))

	sessions, err := newSessionStore(cfg, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	reg := registry.New()
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	srv := server.New(cfg, reg, sessions,
		poller.NewChangeLogPoller(db, dialect, caps, cfg.Poll.ChangeLimit),
		poller.NewTAPoller(db, dialect, caps, cfg.Poll.TALimit),
		m, log)
	if err := srv.Listen(); err != nil {
		_ = db.Close()
		return nil, err
	}

	app := &Application{
		cfg:      cfg,
		log:      log,
		db:       db,
		sessions: sessions,
		registry: reg,
		server:   srv,
	}
	if cfg.Metrics.Addr != "" {
		app.metricsServer = metrics.NewServer(cfg.Metrics.Addr, promReg, reg.Len, log)
	}
	return app, nil
}

func newSessionStore(cfg *config.Config, db *sql.DB, dialect database.Dialect) (session.Store, error) {
	switch cfg.Session.Backend {
	case "db":
		return session.NewSQLStore(db, dialect), nil
	case "redis":
		return session.NewRedisStore(
			cfg.Session.RedisAddr,
			cfg.Session.RedisPassword,
			cfg.Session.RedisDB,
			cfg.Session.RedisPrefix), nil
	default:
		return nil, fmt.Errorf("unsupported session backend %q", cfg.Session.Backend)
	}
}

// Run drives the event loop until ctx is cancelled, then releases every
// resource.
func (a *Application) Run(ctx context.Context) {
	if a.metricsServer != nil {
		a.metricsServer.Start()
		a.log.Info("metrics listener started", zap.String("addr", a.cfg.Metrics.Addr))
	}

	a.server.Run(ctx)

	if a.metricsServer != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.metricsServer.Stop(stopCtx); err != nil {
			a.log.Warn("metrics listener shutdown failed", zap.Error(err))
		}
	}
	if closer, ok := a.sessions.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	if err := a.db.Close(); err != nil {
		a.log.Warn("database close failed", zap.Error(err))
	}
	a.log.Info("shutdown complete")
}
