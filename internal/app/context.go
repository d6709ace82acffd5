// Package app assembles the process-wide wiring: database, realtime
// registry, dispatcher and engine. The registry lives here, owned by
// the App, so nothing reaches for package-global connection state.
package app

import (
	"database/sql"

	"taskflow/internal/config"
	"taskflow/internal/db"
	"taskflow/internal/engine"
	"taskflow/internal/metrics"
	"taskflow/internal/migrate"
	"taskflow/internal/ws"
)

type App struct {
	DB         *sql.DB
	Config     *config.Config
	Metrics    *metrics.Collector
	Registry   *ws.Registry
	Dispatcher *ws.Dispatcher
	Engine     engine.Engine
}

// New opens the workspace database, runs migrations and wires the
// realtime layer into the engine.
func New(workspace string) (*App, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	sendTimeout, err := cfg.SendTimeout()
	if err != nil {
		conn.Close()
		return nil, err
	}
	mc := metrics.NewCollector()
	registry := ws.NewRegistry(sendTimeout, mc)
	dispatcher := ws.NewDispatcher(registry, mc)
	return &App{
		DB:         conn,
		Config:     cfg,
		Metrics:    mc,
		Registry:   registry,
		Dispatcher: dispatcher,
		Engine:     engine.New(conn, cfg, dispatcher),
	}, nil
}

// Close disconnects every client and closes the database.
func (a *App) Close() error {
	a.Registry.Shutdown()
	return a.DB.Close()
}
