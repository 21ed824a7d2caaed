package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joelkehle/adoption-trajectory/internal/analysis"
	"github.com/joelkehle/adoption-trajectory/internal/store"
	"github.com/joelkehle/adoption-trajectory/internal/tracing"
)

func main() {
	dbPath := flag.String("db", os.Getenv("DB_PATH"), "path to SQLite database file")
	tenantID := flag.String("tenant", "", "tenant whose products are backfilled")
	productID := flag.String("product", "", "backfill only this product id")
	flag.Parse()

	if strings.TrimSpace(*dbPath) == "" {
		log.Fatal("missing required -db (or DB_PATH)")
	}
	if strings.TrimSpace(*tenantID) == "" {
		log.Fatal("missing required -tenant")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	shutdownTracing := tracing.Init(ctx, "signal-backfill")
	defer shutdownTracing(context.Background())

	st, err := store.NewSQLiteStore(*dbPath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	svc, err := analysis.NewServiceFromEnv(st)
	if err != nil {
		log.Fatal(err)
	}

	products := []string{*productID}
	if *productID == "" {
		regs, err := st.ListRegistrations(ctx, *tenantID)
		if err != nil {
			log.Fatalf("list registrations: %v", err)
		}
		products = products[:0]
		for _, reg := range regs {
			products = append(products, reg.ID)
		}
	}

	total, failed := 0, 0
	for _, id := range products {
		n, err := svc.Backfill(ctx, *tenantID, id)
		if err != nil {
			if ctx.Err() != nil {
				log.Fatalf("signal-backfill interrupted after %d signals: %v", total, err)
			}
			log.Printf("signal-backfill product_failed product=%s err=%v", id, err)
			failed++
			continue
		}
		total += n
	}
	log.Printf("signal-backfill done tenant=%s products=%d classified=%d failed=%d", *tenantID, len(products), total, failed)
	if failed > 0 {
		os.Exit(1)
	}
}
