package analysis

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joelkehle/adoption-trajectory/internal/benchmark"
	"github.com/joelkehle/adoption-trajectory/internal/classify"
	"github.com/joelkehle/adoption-trajectory/internal/health"
	"github.com/joelkehle/adoption-trajectory/internal/llm"
	"github.com/joelkehle/adoption-trajectory/internal/narrative"
	"github.com/joelkehle/adoption-trajectory/internal/store"
)

// NewServiceFromEnv wires the full pipeline over st. Without
// ANTHROPIC_API_KEY both oracles are left out and every tag and summary
// comes from the deterministic paths.
func NewServiceFromEnv(st store.Store) (*Service, error) {
	classifier := classify.NewFallbackClassifier(nil)
	var narrator narrative.Narrator = narrative.Fallback{}

	caller, err := llm.NewAnthropicCallerFromEnv("CLASSIFIER_LLM_MODEL")
	switch {
	case err == nil:
		classifier = classify.NewFallbackClassifier(classify.NewOracleClassifier(caller, envDuration("CLASSIFIER_TIMEOUT", classify.DefaultOracleTimeout)))
		narrCaller, err := llm.NewAnthropicCallerFromEnv("NARRATIVE_LLM_MODEL")
		if err != nil {
			return nil, err
		}
		narrator = narrative.NewOracleNarrator(narrCaller, envDuration("NARRATIVE_TIMEOUT", narrative.DefaultOracleTimeout))
		log.Printf("trajectory oracles_enabled classifier_model=%s narrative_model=%s", caller.ModelName(), narrCaller.ModelName())
	case errors.Is(err, llm.ErrNotConfigured):
		log.Printf("trajectory oracles_disabled reason=no_api_key")
	default:
		return nil, err
	}

	bench := benchmark.NewEngine(st, benchmark.Config{
		Concurrency:    envInt("BENCHMARK_CONCURRENCY", benchmark.DefaultConcurrency),
		SnapshotMaxAge: envDuration("SNAPSHOT_MAX_AGE", benchmark.DefaultSnapshotMaxAge),
	})
	return NewService(st, classifier, bench, narrator, Config{
		BackfillConcurrency: envInt("BACKFILL_CONCURRENCY", DefaultBackfillConcurrency),
		TagMaxAge:           envDuration("TAG_MAX_AGE", DefaultTagMaxAge),
		WindowDays:          envInt("HEALTH_WINDOW_DAYS", health.DefaultWindowDays),
	}), nil
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("trajectory env_ignored key=%s value=%q", key, v)
		return fallback
	}
	return n
}

// envDuration accepts Go durations ("90s", "720h") and whole days ("30d").
// "0" disables the limit it configures.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if v == "0" {
		return 0
	}
	if days, ok := strings.CutSuffix(v, "d"); ok {
		if n, err := strconv.Atoi(days); err == nil && n >= 0 {
			return time.Duration(n) * 24 * time.Hour
		}
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		log.Printf("trajectory env_ignored key=%s value=%q", key, v)
		return fallback
	}
	return d
}
