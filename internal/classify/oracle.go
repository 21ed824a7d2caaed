package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joelkehle/adoption-trajectory/internal/llm"
	"github.com/joelkehle/adoption-trajectory/internal/signal"
)

const (
	DefaultOracleTimeout = 8 * time.Second
	bodyExcerptLimit     = 1500
)

const oracleSystemPrompt = "You are an IT operations analyst who understands the lifecycle of adopting enterprise software. You classify vendor integration signals by their content, not just their event type. Return strict JSON only."

const oracleGuidelines = `Classification guidelines:

VALENCE:
- Resolved tickets, confirmed fixes, successful deployments = positive
- Outages, errors, failures, breaking changes, crashes = negative
- Feature requests, status updates, routine emails = neutral

SUBJECT:
- internal_impl: the company is adopting, configuring, deploying or training on the software
- vendor_issue: a problem caused by the vendor (bugs, outages, regressions, slow performance)
- vendor_request: asking the vendor for something (features, enhancements, capability gaps)
- vendor_comm: routine vendor communication (maintenance notices, acknowledgments, roadmap updates)

STAGE_TOPIC:
- onboarding: initial setup, account creation, first config, team access, provisioning
- integration: API connections, webhooks, data migration, sync pipelines, SSO/OAuth
- stabilization: bug fixes, patches, outages, incidents, 5xx errors, flaky behavior, regressions
- productive: routine usage, steady-state operations, monthly reports, renewals
- optimization: scaling, automation, cost optimization, rate limits, batch processing, caching

HEALTH_CATEGORIES (zero or more):
- reliability: incidents, outages, downtime, errors, crashes, recovery, SLA breaches
- performance: latency, slowness, timeouts, rate limiting, throughput, response time
- fitness_for_purpose: feature requests, capability gaps, workarounds for missing features
Routine communication and internal implementation usually get an empty list.`

// OracleClassifier asks an LLM for the tags and rejects any response outside
// the enumerated sets. It does not retry.
type OracleClassifier struct {
	caller  llm.Caller
	timeout time.Duration
}

func NewOracleClassifier(caller llm.Caller, timeout time.Duration) *OracleClassifier {
	if timeout <= 0 {
		timeout = DefaultOracleTimeout
	}
	return &OracleClassifier{caller: caller, timeout: timeout}
}

func (o *OracleClassifier) Name() string { return "oracle:" + o.caller.ModelName() }

func (o *OracleClassifier) Classify(ctx context.Context, in Input) (signal.Tags, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	raw, err := o.caller.Generate(ctx, llm.Request{
		System:    oracleSystemPrompt,
		Prompt:    buildOraclePrompt(in),
		MaxTokens: 256,
	})
	if err != nil {
		return signal.Tags{}, fmt.Errorf("oracle call: %w", err)
	}
	return parseOracleResponse(raw)
}

func buildOraclePrompt(in Input) string {
	severity := in.Severity
	if severity == "" {
		severity = signal.SeverityMedium
	}
	body := in.Body
	if r := []rune(body); len(r) > bodyExcerptLimit {
		body = string(r[:bodyExcerptLimit])
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Classify this signal from the '%s' integration.\n\n", in.ProductName)
	fmt.Fprintf(&b, "Source: %s | Event type: %s | Severity: %s\n", in.SourceType, in.EventType, severity)
	fmt.Fprintf(&b, "Title: %s\n", in.Title)
	fmt.Fprintf(&b, "Body: %s\n", body)
	fmt.Fprintf(&b, "Days since software was registered: %d\n\n", in.DaysSinceRegistration)
	b.WriteString("Return a JSON object with exactly four keys:\n")
	b.WriteString(`- "valence": one of "positive", "negative", "neutral"` + "\n")
	b.WriteString(`- "subject": one of "internal_impl", "vendor_issue", "vendor_request", "vendor_comm"` + "\n")
	b.WriteString(`- "stage_topic": one of "onboarding", "integration", "stabilization", "productive", "optimization"` + "\n")
	b.WriteString(`- "health_categories": a list of zero or more of "reliability", "performance", "fitness_for_purpose"` + "\n\n")
	b.WriteString(oracleGuidelines)
	fmt.Fprintf(&b, "\n\nTime context: at %d days in, earlier stages are less likely but content always wins.", in.DaysSinceRegistration)
	return b.String()
}

type oracleResponse struct {
	Valence          string `json:"valence"`
	Subject          string `json:"subject"`
	StageTopic       string `json:"stage_topic"`
	HealthCategories any    `json:"health_categories"`
}

var errEmptyOracleResponse = errors.New("oracle returned no tags")

func parseOracleResponse(raw string) (signal.Tags, error) {
	var resp oracleResponse
	if err := llm.DecodeJSON(raw, &resp); err != nil {
		return signal.Tags{}, &ValidationError{Field: "response", Value: signal.Truncate(raw, 80)}
	}
	if resp.Valence == "" && resp.Subject == "" && resp.StageTopic == "" {
		return signal.Tags{}, errEmptyOracleResponse
	}
	tags := signal.Tags{
		Valence:    signal.Valence(strings.TrimSpace(resp.Valence)),
		Subject:    signal.Subject(strings.TrimSpace(resp.Subject)),
		StageTopic: signal.Stage(strings.TrimSpace(resp.StageTopic)),
	}
	// A non-list category field is treated as empty rather than rejected.
	if list, ok := resp.HealthCategories.([]any); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				tags.HealthCategories = append(tags.HealthCategories, signal.HealthCategory(s))
			}
		}
	}
	return Validate(tags)
}
