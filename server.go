package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/sitewatch-data/ppe.report/internal/api"
	"github.com/sitewatch-data/ppe.report/internal/report"
	"github.com/sitewatch-data/ppe.report/internal/storage/sqlite"
)

// runHTTPServer serves the API and report routes until ctx is cancelled,
// then shuts down gracefully.
func runHTTPServer(ctx context.Context, addr string, apiServer *api.Server, db *sqlite.DB, sessionID string) {
	mux := http.NewServeMux()

	mux.Handle("/api/", http.StripPrefix("/api", apiServer.ServeMux()))
	mux.Handle("/report/", report.NewChartServer(db, sessionID).ServeMux())

	server := &http.Server{
		Addr:    addr,
		Handler: api.LoggingMiddleware(mux),
	}

	// Start server in a goroutine so it doesn't block
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	// Wait for context cancellation to shut down server
	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Printf("HTTP server routine stopped")
}
