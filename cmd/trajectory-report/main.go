package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joelkehle/adoption-trajectory/internal/analysis"
	"github.com/joelkehle/adoption-trajectory/internal/report"
	"github.com/joelkehle/adoption-trajectory/internal/store"
)

func main() {
	dbPath := flag.String("db", os.Getenv("DB_PATH"), "path to SQLite database file")
	tenantID := flag.String("tenant", "", "tenant id")
	productID := flag.String("product", "", "product (registration) id")
	outputPath := flag.String("output", "", "path to write the PDF")
	markdownPath := flag.String("markdown-output", "", "path to write the report markdown (\"-\" for stdout)")
	chromePath := flag.String("chrome", "", "Chromium binary (defaults to CHROME_PATH or a known install)")
	flag.Parse()

	if strings.TrimSpace(*dbPath) == "" {
		log.Fatal("missing required -db (or DB_PATH)")
	}
	if *tenantID == "" || *productID == "" {
		log.Fatal("missing required -tenant and -product")
	}
	if *outputPath == "" && *markdownPath == "" {
		log.Fatal("nothing to do: set -output and/or -markdown-output")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.NewSQLiteStore(*dbPath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	svc, err := analysis.NewServiceFromEnv(st)
	if err != nil {
		log.Fatal(err)
	}
	rep, err := svc.Report(ctx, *tenantID, *productID)
	if err != nil {
		log.Fatalf("build report: %v", err)
	}
	md := report.Markdown(rep)

	if err := writeMarkdown(*markdownPath, md); err != nil {
		log.Fatalf("write markdown: %v", err)
	}
	if *outputPath != "" {
		title := rep.Registration.ProductName + " by " + rep.Registration.VendorName
		pdf, err := report.NewChromiumRenderer(*chromePath).Render(ctx, title, md)
		if err != nil {
			log.Fatalf("render pdf: %v", err)
		}
		if err := os.WriteFile(*outputPath, pdf, 0o644); err != nil {
			log.Fatalf("write pdf: %v", err)
		}
		log.Printf("trajectory-report wrote %s (%d bytes)", *outputPath, len(pdf))
	}
}

func writeMarkdown(path, markdown string) error {
	switch path {
	case "":
		return nil
	case "-":
		_, err := fmt.Print(markdown)
		return err
	}
	return os.WriteFile(path, []byte(markdown), 0o644)
}
