package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Config contains configuration for the application.
type Config struct {
	ListenAddr   string
	APIKey       string
	BaseURL      string
	Product      string
	TariffCode   string
	Mpan         string
	SerialNumber string
	DatabaseURL  string
}

const (
	responseCacheSize = 100
	responseCacheTTL  = time.Hour
)

// App owns the wired-up service: the database pool, the reconciling
// data service, the response cache and the HTTP server.
type App struct {
	cfg    *Config
	db     *sql.DB
	server *http.Server
}

// NewApp opens the database, ensures the schema and assembles the
// service graph.
func NewApp(ctx context.Context, cfg *Config) (*App, error) {
	db, err := openDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	store := NewStore(db, cfg)
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	endpoints := make(map[SeriesKind]string, len(kindSpecs))
	for kind, spec := range kindSpecs {
		endpoints[kind] = spec.endpoint(cfg)
	}

	fetcher := NewRestFetcher(nil, cfg.APIKey)
	data := NewDataService(store, fetcher, endpoints)
	cache := NewResponseCache(responseCacheSize, responseCacheTTL)
	server := NewServer(data, cache, db)

	return &App{
		cfg: cfg,
		db:  db,
		server: &http.Server{
			Addr:    cfg.ListenAddr,
			Handler: server.Handler(),
		},
	}, nil
}

func openDB(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return db, nil
}

// Run serves until the listener fails or Shutdown is called.
func (a *App) Run() error {
	log.Printf("listening on %s", a.cfg.ListenAddr)
	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server and closes the database pool.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	if cerr := a.db.Close(); err == nil {
		err = cerr
	}
	return err
}
