package narrative

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joelkehle/adoption-trajectory/internal/llm"
	"github.com/joelkehle/adoption-trajectory/internal/signal"
)

const (
	DefaultOracleTimeout = 20 * time.Second

	oracleConcurrency = 4
	maxPromptSignals  = 30
)

const formatRules = `FORMATTING RULES (mandatory):
- Do NOT use any markdown: no bold, no headings, no bullet lists.
- Write plain prose sentences only.
- Do NOT mention any numeric scores, percentages, or ratings.
- Quote the exact words from signal titles and bodies. Reference specific event titles, dates, and severity levels.`

const stageSystem = `You are an integration lifecycle analyst. Summarize one lifecycle stage of a vendor integration in 2-4 sentences. Focus on the weakest areas listed first: issue friction, recurring issues, severity escalation, resolution of tickets, and peripheral versus core effort.

` + formatRules

const trajectorySystem = `You are a senior integration maturity analyst. Combine per-stage summaries into an overall trajectory assessment in 3-5 sentences. Note the current lifecycle stage, any regression, and the biggest cross-stage patterns. Preserve specific event details from the stage summaries.

` + formatRules

const categorySystem = `You are an integration health analyst. Summarize the %s signals for a vendor integration in 2-4 sentences. Be factual.

` + formatRules

const healthSystem = `You are a senior integration health analyst. Combine the category summaries into a cohesive overall health assessment in 3-5 sentences. Spend more words on the categories listed first; they are ordered by concern level.

` + formatRules

// OracleNarrator asks the narrative oracle for every summary and falls back
// to the templates item by item.
type OracleNarrator struct {
	caller   llm.Caller
	timeout  time.Duration
	fallback Fallback
}

func NewOracleNarrator(caller llm.Caller, timeout time.Duration) *OracleNarrator {
	if timeout <= 0 {
		timeout = DefaultOracleTimeout
	}
	return &OracleNarrator{caller: caller, timeout: timeout}
}

type job struct {
	key    string
	system string
	prompt string
}

func (o *OracleNarrator) Summarize(ctx context.Context, in Input) Summaries {
	out := o.fallback.Summarize(ctx, in)

	// Stages and categories first; the overall summaries build on them.
	var jobs []job
	if in.Trajectory != nil {
		byStage := stageEvents(in)
		for _, row := range in.Trajectory.Stages {
			if row.Smoothness == nil {
				continue
			}
			var b strings.Builder
			fmt.Fprintf(&b, "Software: %s | Stage: %s\n", in.ProductName, row.Name)
			fmt.Fprintf(&b, "Metric notes:\n%s\n\n", out[StageKey(row.Name)])
			fmt.Fprintf(&b, "Signals:\n%s", formatSignals(byStage[row.Name], maxPromptSignals))
			jobs = append(jobs, job{key: StageKey(row.Name), system: stageSystem, prompt: b.String()})
		}
	}
	for _, c := range scoredCategories(in.Health) {
		events := categoryEvents(in.WindowEvents, c)
		if len(events) == 0 {
			continue
		}
		prompt := fmt.Sprintf("Software: %s\nSignal count: %d\n\nSignals:\n%s", in.ProductName, len(events), formatSignals(events, maxPromptSignals))
		jobs = append(jobs, job{key: CategoryKey(c), system: fmt.Sprintf(categorySystem, categoryLabel(c)), prompt: prompt})
	}
	o.run(ctx, jobs, out)

	jobs = jobs[:0]
	if in.Trajectory != nil {
		var b strings.Builder
		fmt.Fprintf(&b, "Software: %s\nCurrent stage: %s\n", in.ProductName, in.Trajectory.CurrentStage)
		if in.Trajectory.RegressionDetected {
			fmt.Fprintf(&b, "REGRESSION DETECTED: %s\n", in.Trajectory.RegressionDetail)
		}
		b.WriteString("\nStage summaries:\n")
		for _, st := range signal.Stages {
			if s := out[StageKey(st)]; s != "" {
				fmt.Fprintf(&b, "\n%s: %s\n", st, s)
			}
		}
		jobs = append(jobs, job{key: KeyTrajectory, system: trajectorySystem, prompt: b.String()})
	}
	if in.Health != nil {
		var b strings.Builder
		fmt.Fprintf(&b, "Software: %s\n\nCategory summaries (most concerning first):\n", in.ProductName)
		for _, c := range scoredCategories(in.Health) {
			fmt.Fprintf(&b, "\n%s: %s\n", categoryLabel(c), out[CategoryKey(c)])
		}
		jobs = append(jobs, job{key: KeyHealth, system: healthSystem, prompt: b.String()})
	}
	o.run(ctx, jobs, out)
	return out
}

// run executes jobs concurrently and overwrites out only for the calls that
// succeeded.
func (o *OracleNarrator) run(ctx context.Context, jobs []job, out Summaries) {
	results := make([]string, len(jobs))
	var g errgroup.Group
	g.SetLimit(oracleConcurrency)
	for i, j := range jobs {
		g.Go(func() error {
			results[i] = o.call(ctx, j)
			return nil
		})
	}
	_ = g.Wait()
	for i, j := range jobs {
		if results[i] != "" {
			out[j.key] = results[i]
		}
	}
}

func (o *OracleNarrator) call(ctx context.Context, j job) string {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	raw, err := o.caller.Generate(ctx, llm.Request{
		System:      j.system,
		Prompt:      j.prompt,
		MaxTokens:   1024,
		Temperature: 0.3,
	})
	if err != nil {
		log.Printf("narrative oracle_fallback key=%s reason=%s err=%v", j.key, llm.ClassifyTransportError(err), err)
		return ""
	}
	text := llm.StripMarkdown(raw)
	if text == "" {
		log.Printf("narrative oracle_fallback key=%s reason=empty", j.key)
	}
	return text
}
