package classify

import (
	"context"
	"strings"

	"github.com/joelkehle/adoption-trajectory/internal/signal"
)

const DeterministicName = "deterministic"

var (
	positiveKeywords = []string{
		"resolved", "fixed", "completed", "passed", "success",
		"working", "recovered", "restored", "upgraded",
	}
	negativeKeywords = []string{
		"error", "outage", "fail", "broken", "timeout", "crash",
		"down", "incident", "blocker", "degraded", "502", "503",
		"500", "bug", "regression", "breaking change",
	}

	internalImplKeywords = []string{
		"setup", "configure", "install", "migration", "deploy",
		"implement", "training", "onboard", "provision", "roll out",
	}
	vendorIssueKeywords = []string{
		"bug", "outage", "error", "defect", "regression", "downtime",
		"broken", "incident", "crash", "503", "502", "500",
	}
	vendorRequestKeywords = []string{
		"request", "feature", "enhancement", "suggestion", "would like",
		"please add", "need support for", "capability",
	}

	reliabilityKeywords = []string{
		"outage", "incident", "downtime", "uptime", "availability",
		"crash", "failure", "failing", "recovery", "failover", "sla",
		"service disruption", "503", "502", "500", "error rate",
		"service restored", "maintenance window",
		"error", "broken", "bug", "regression", "not responding",
		"connection lost", "dropped", "unreachable", "flaky",
	}
	performanceKeywords = []string{
		"latency", "slow", "timeout", "rate limit", "throttl",
		"throughput", "response time", "performance", "speed",
		"lag", "bottleneck", "load", "capacity",
		"degradation", "delay", "queue", "backlog",
	}
	fitnessKeywords = []string{
		"feature request", "enhancement", "capability", "suggestion",
		"would like", "please add", "need support for", "missing feature",
		"workaround", "roadmap", "planned for",
		"wish list", "not supported", "limitation",
	}
)

type stageKeywords struct {
	stage    signal.Stage
	keywords []string
}

// stageKeywordTable is scanned in this order; the first stage reaching the
// maximum score wins.
var stageKeywordTable = []stageKeywords{
	{signal.StageOnboarding, []string{
		"onboarding", "account setup", "initial config", "first login",
		"welcome", "getting started", "provision", "invite", "team access",
		"create account", "sign up",
	}},
	{signal.StageIntegration, []string{
		"api connect", "webhook", "data migration", "sync setup",
		"pipeline", "integration test", "sso", "oauth", "endpoint",
		"api key", "sdk", "data sync",
	}},
	{signal.StageStabilization, []string{
		"bug fix", "patch", "hotfix", "edge case", "intermittent",
		"flaky", "tuning", "performance issue", "workaround",
		"stability", "reliability", "outage", "incident", "crash",
		"downtime", "degraded", "503", "502", "500", "regression",
		"breaking change", "investigate",
	}},
	{signal.StageOptimization, []string{
		"scale", "automat", "cost optim", "advanced feature",
		"rate limit", "batch processing", "caching", "throughput",
		"bulk export", "workflow",
	}},
	{signal.StageProductive, []string{
		"routine", "regular usage", "monthly report", "status update",
		"renewal", "quarterly review", "usage report",
	}},
}

// DeterministicClassifier tags signals with keyword rules and a time prior.
// It never fails and always returns values from the enumerated sets.
type DeterministicClassifier struct{}

func (DeterministicClassifier) Name() string { return DeterministicName }

func (d DeterministicClassifier) Classify(_ context.Context, in Input) (signal.Tags, error) {
	return d.Tags(in), nil
}

// Tags is Classify without the context or error.
func (DeterministicClassifier) Tags(in Input) signal.Tags {
	text := strings.ToLower(in.Title + " " + in.Body)
	subject := classifySubject(in.EventType, text)
	return signal.Tags{
		Valence:          classifyValence(in.EventType, text),
		Subject:          subject,
		StageTopic:       classifyStage(text, in.DaysSinceRegistration),
		HealthCategories: classifyHealthCategories(in.EventType, subject, text),
	}
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func classifyValence(eventType, text string) signal.Valence {
	switch eventType {
	case signal.EventTicketResolved:
		return signal.ValencePositive
	case signal.EventTicketCreated:
		return signal.ValenceNegative
	}
	if containsAny(text, positiveKeywords) {
		return signal.ValencePositive
	}
	if containsAny(text, negativeKeywords) {
		return signal.ValenceNegative
	}
	return signal.ValenceNeutral
}

func classifySubject(eventType, text string) signal.Subject {
	switch {
	case containsAny(text, internalImplKeywords):
		return signal.SubjectInternalImpl
	case containsAny(text, vendorIssueKeywords):
		return signal.SubjectVendorIssue
	case containsAny(text, vendorRequestKeywords):
		return signal.SubjectVendorRequest
	case eventType == signal.EventFeatureRequest:
		return signal.SubjectVendorRequest
	}
	return signal.SubjectVendorComm
}

// timeBucket is the stage a signal falls in by age alone.
func timeBucket(days int) signal.Stage {
	switch {
	case days < 14:
		return signal.StageOnboarding
	case days < 45:
		return signal.StageIntegration
	case days < 90:
		return signal.StageStabilization
	case days < 180:
		return signal.StageProductive
	}
	return signal.StageOptimization
}

func classifyStage(text string, days int) signal.Stage {
	scores := make(map[signal.Stage]float64, len(stageKeywordTable))
	for _, row := range stageKeywordTable {
		for _, kw := range row.keywords {
			if strings.Contains(text, kw) {
				scores[row.stage]++
			}
		}
	}

	// The prior nudges toward the age bucket but never outweighs one keyword.
	if days >= 180 {
		scores[signal.StageOptimization] += 0.3
		scores[signal.StageProductive] += 0.3
	} else {
		scores[timeBucket(days)] += 0.5
	}

	best := stageKeywordTable[0].stage
	for _, row := range stageKeywordTable[1:] {
		if scores[row.stage] > scores[best] {
			best = row.stage
		}
	}
	if scores[best] <= 0 {
		return timeBucket(days)
	}
	return best
}

func classifyHealthCategories(eventType string, subject signal.Subject, text string) []signal.HealthCategory {
	var cats []signal.HealthCategory
	if containsAny(text, reliabilityKeywords) {
		cats = append(cats, signal.CategoryReliability)
	}
	if containsAny(text, performanceKeywords) {
		cats = append(cats, signal.CategoryPerformance)
	}
	if containsAny(text, fitnessKeywords) || subject == signal.SubjectVendorRequest {
		cats = append(cats, signal.CategoryFitness)
	}
	if len(cats) > 0 {
		return cats
	}

	switch {
	case eventType == signal.EventFeatureRequest:
		return []signal.HealthCategory{signal.CategoryFitness}
	case subject == signal.SubjectVendorIssue:
		return []signal.HealthCategory{signal.CategoryReliability}
	case eventType == signal.EventTicketCreated, eventType == signal.EventTicketResolved:
		return []signal.HealthCategory{signal.CategoryReliability}
	}
	return []signal.HealthCategory{}
}
