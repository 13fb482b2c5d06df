// Package app assembles the services shared by the api server and the
// bellhopctl tool from a loaded configuration.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"bellhop/auth"
	"bellhop/config"
	"bellhop/db"
	"bellhop/docstore"
	"bellhop/lifecycle"
	"bellhop/liveview"
	"bellhop/luggage"
	"bellhop/profile"
	"bellhop/session"
)

// App holds every wired service. Close releases them in reverse order.
type App struct {
	Config    *config.Config
	Log       *logrus.Logger
	Store     docstore.Store
	Auth      *auth.Service
	Profiles  *profile.Resolver
	Requests  *luggage.Repository
	Lifecycle *lifecycle.Controller
	Views     *liveview.Synchronizer
	Sessions  *session.Manager

	pool    *pgxpool.Pool
	closers []func()
}

// New opens the configured store and wires the services on top of it.
func New(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}
	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.Auth = auth.NewService(auth.NewRepository(a.Store), cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	a.Profiles = profile.NewResolver(a.Store, log)
	a.Requests = luggage.NewRepository(a.Store, log)
	a.Lifecycle = lifecycle.NewController(a.Requests, log)
	a.Views = liveview.NewSynchronizer(a.Requests, log)
	a.Sessions = session.NewManager(session.Config{
		Auth:      a.Auth,
		Profiles:  a.Profiles,
		Store:     a.Store,
		Sweeper:   a.Requests,
		Retention: cfg.Requests.Retention,
		Log:       log,
	})
	a.closers = append(a.closers, a.Sessions.Close)
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.Config.Store.Backend {
	case config.BackendMemory:
		var (
			initial map[string]map[string]docstore.Fields
			opts    = []docstore.MemOption{docstore.WithLogger(a.Log)}
		)
		if dir := a.Config.Store.DataDir; dir != "" {
			p, err := docstore.NewPersistence(dir, a.Log)
			if err != nil {
				return err
			}
			initial, err = p.LoadAll()
			if err != nil {
				return fmt.Errorf("app: load data dir: %w", err)
			}
			opts = append(opts, docstore.WithPersistence(p))
		}
		mem := docstore.NewMemStore(initial, opts...)
		a.Store = mem
		a.closers = append(a.closers, mem.Close)
		a.Log.WithField("data_dir", a.Config.Store.DataDir).Info("app: using in-memory store")
		return nil

	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, a.Config.Store.DatabaseURL)
		if err != nil {
			return err
		}
		a.pool = pool
		a.closers = append(a.closers, pool.Close)
		if err := db.Migrate(ctx, pool); err != nil {
			return err
		}
		pg, err := docstore.NewPGStore(ctx, pool, a.Log)
		if err != nil {
			return err
		}
		a.Store = pg
		a.closers = append(a.closers, pg.Close)
		a.Log.Info("app: using postgres store")
		return nil
	}
	return fmt.Errorf("app: unknown store backend %q", a.Config.Store.Backend)
}

// Pool returns the database pool, or nil for the memory backend.
func (a *App) Pool() *pgxpool.Pool {
	return a.pool
}

// Health reports whether the backing store is reachable.
func (a *App) Health(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("app: ping: %w: %v", docstore.ErrUnavailable, err)
	}
	return nil
}

// Close releases everything New opened.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
