package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"trsrevos/api/internal/app"
	"trsrevos/api/internal/brief"
	"trsrevos/api/internal/config"
	"trsrevos/api/internal/eventcache"
	"trsrevos/api/internal/gmailsync"
	"trsrevos/api/internal/hubspot"
	"trsrevos/api/internal/oauth"
	"trsrevos/api/internal/quickbooks"
	"trsrevos/api/internal/store"
)

func main() {
	if err := godotenv.Load(); err == nil {
		log.Printf("loaded environment from .env")
	}

	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	hubspotClient := hubspot.NewClient(cfg.HubSpotBaseURL, cfg.HubSpotAPIKey)
	hubspotSyncer := hubspot.NewSyncer(dataStore, hubspotClient, cfg.SyncBatchSize)

	quickbooksSyncer := quickbooks.NewSyncer(
		dataStore,
		quickbooks.NewClient(cfg.QuickBooksBaseURL),
		oauth.NewQuickBooksRefresher(cfg.QuickBooksClientID, cfg.QuickBooksClientSecret),
	)

	gmailSyncer := gmailsync.NewSyncer(
		dataStore,
		gmailsync.GmailLister{},
		oauth.NewGoogleRefresher(cfg.GoogleClientID, cfg.GoogleClientSecret),
	)

	briefBuilder := brief.NewBuilder(dataStore)

	// Redis dedups webhook redeliveries. Without it every delivery is
	// processed, which per-event updates tolerate.
	var events *eventcache.RedisCache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for webhook event dedup")
		cache, err := eventcache.NewRedisCache(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer cache.Close()
		events = cache
	}

	var service *app.Service
	if events != nil {
		service = app.NewService(dataStore, hubspotSyncer, quickbooksSyncer, gmailSyncer, briefBuilder, events)
	} else {
		service = app.NewService(dataStore, hubspotSyncer, quickbooksSyncer, gmailSyncer, briefBuilder, nil)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, cfg.JWTSecret)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("TRSREVOS sync API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
