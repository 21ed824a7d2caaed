package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joelkehle/adoption-trajectory/internal/analysis"
	"github.com/joelkehle/adoption-trajectory/internal/httpapi"
	"github.com/joelkehle/adoption-trajectory/internal/report"
	"github.com/joelkehle/adoption-trajectory/internal/store"
	"github.com/joelkehle/adoption-trajectory/internal/tracing"
)

func main() {
	addrFlag := flag.String("addr", "", "listen address (overrides PORT env var)")
	dbFlag := flag.String("db", "", "path to SQLite database file (overrides DB_PATH env var)")
	flag.Parse()

	addr := *addrFlag
	if addr == "" {
		addr = ":8080"
		if port := os.Getenv("PORT"); port != "" {
			addr = ":" + port
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracing := tracing.Init(ctx, "trajectoryd")
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Printf("tracing shutdown_failed err=%v", err)
		}
	}()

	dbPath := resolveDBPath(*dbFlag)
	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatalf("failed to initialize sqlite store (%s): %v", dbPath, err)
	}
	defer st.Close()
	log.Printf("using sqlite store at %s", dbPath)

	svc, err := analysis.NewServiceFromEnv(st)
	if err != nil {
		log.Fatal(err)
	}
	h := httpapi.NewServer(svc, httpapi.Config{
		APIToken: os.Getenv("API_TOKEN"),
		Renderer: report.NewChromiumRenderer(""),
	})

	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("trajectoryd listening on %s (tracing=%t)", addr, tracing.Enabled())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

// resolveDBPath prefers the -db flag, then DB_PATH, then ./data/trajectory.db.
func resolveDBPath(flagValue string) string {
	if p := strings.TrimSpace(flagValue); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv("DB_PATH")); p != "" {
		return p
	}
	return "./data/trajectory.db"
}
