package classify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/joelkehle/adoption-trajectory/internal/llm"
	"github.com/joelkehle/adoption-trajectory/internal/signal"
)

type fakeCaller struct {
	response string
	err      error
	block    bool
	prompts  []string
}

func (f *fakeCaller) Generate(ctx context.Context, req llm.Request) (string, error) {
	f.prompts = append(f.prompts, req.Prompt)
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.response, f.err
}

func (f *fakeCaller) ModelName() string { return "fake-model" }

func TestDeterministicValenceFromEventType(t *testing.T) {
	d := DeterministicClassifier{}
	if got := d.Tags(Input{EventType: signal.EventTicketResolved, Title: "outage"}).Valence; got != signal.ValencePositive {
		t.Fatalf("resolved valence=%s", got)
	}
	if got := d.Tags(Input{EventType: signal.EventTicketCreated, Title: "all good"}).Valence; got != signal.ValenceNegative {
		t.Fatalf("created valence=%s", got)
	}
	if got := d.Tags(Input{EventType: signal.EventVendorEmail, Title: "Service restored after outage"}).Valence; got != signal.ValencePositive {
		t.Fatalf("positive keyword should win first, got %s", got)
	}
	if got := d.Tags(Input{EventType: signal.EventVendorEmail, Title: "Quarterly newsletter"}).Valence; got != signal.ValenceNeutral {
		t.Fatalf("expected neutral, got %s", got)
	}
}

func TestDeterministicSubjectPriority(t *testing.T) {
	d := DeterministicClassifier{}
	cases := []struct {
		in   Input
		want signal.Subject
	}{
		{Input{Title: "Deploy fix for outage"}, signal.SubjectInternalImpl},
		{Input{Title: "API returns 503"}, signal.SubjectVendorIssue},
		{Input{Title: "Would like bulk edit"}, signal.SubjectVendorRequest},
		{Input{EventType: signal.EventFeatureRequest, Title: "Dark mode"}, signal.SubjectVendorRequest},
		{Input{SourceType: signal.SourceEmail, EventType: signal.EventVendorEmail, Title: "Hello"}, signal.SubjectVendorComm},
	}
	for _, tc := range cases {
		if got := d.Tags(tc.in).Subject; got != tc.want {
			t.Fatalf("subject(%q)=%s want %s", tc.in.Title, got, tc.want)
		}
	}
}

func TestDeterministicStageKeywordBeatsPrior(t *testing.T) {
	d := DeterministicClassifier{}
	got := d.Tags(Input{Title: "Webhook endpoint failing", DaysSinceRegistration: 3}).StageTopic
	if got != signal.StageIntegration {
		t.Fatalf("expected integration from two keyword hits, got %s", got)
	}
}

func TestDeterministicStageTimePriorOnly(t *testing.T) {
	d := DeterministicClassifier{}
	cases := map[int]signal.Stage{
		0:   signal.StageOnboarding,
		13:  signal.StageOnboarding,
		14:  signal.StageIntegration,
		44:  signal.StageIntegration,
		45:  signal.StageStabilization,
		90:  signal.StageProductive,
		179: signal.StageProductive,
	}
	for days, want := range cases {
		if got := d.Tags(Input{Title: "hello", DaysSinceRegistration: days}).StageTopic; got != want {
			t.Fatalf("days=%d stage=%s want %s", days, got, want)
		}
	}
	// Equal 0.3 priors tie; optimization is scanned before productive.
	if got := d.Tags(Input{Title: "hello", DaysSinceRegistration: 400}).StageTopic; got != signal.StageOptimization {
		t.Fatalf("late tie stage=%s", got)
	}
}

func TestDeterministicHealthCategories(t *testing.T) {
	d := DeterministicClassifier{}
	got := d.Tags(Input{Title: "API outage causing slow responses"}).HealthCategories
	if len(got) != 2 || got[0] != signal.CategoryReliability || got[1] != signal.CategoryPerformance {
		t.Fatalf("unexpected categories %v", got)
	}
	got = d.Tags(Input{EventType: signal.EventTicketCreated, Title: "Question about invoices"}).HealthCategories
	if len(got) != 1 || got[0] != signal.CategoryReliability {
		t.Fatalf("lifecycle default expected reliability, got %v", got)
	}
	got = d.Tags(Input{EventType: signal.EventVendorEmail, Title: "Monthly newsletter"}).HealthCategories
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil categories, got %v", got)
	}
}

func TestDeterministicIsTotalAndStable(t *testing.T) {
	d := DeterministicClassifier{}
	inputs := []Input{
		{},
		{EventType: "weird", Title: strings.Repeat("x", 5000)},
		{SourceType: signal.SourceJira, EventType: signal.EventTicketReopened, Severity: "critical", Title: "[OPS-1] Crash", Body: "crash again", DaysSinceRegistration: 200},
	}
	for _, in := range inputs {
		a := d.Tags(in)
		b := d.Tags(in)
		if !a.Valid() {
			t.Fatalf("tags outside enumerated sets: %+v", a)
		}
		if a.Valence != b.Valence || a.Subject != b.Subject || a.StageTopic != b.StageTopic || len(a.HealthCategories) != len(b.HealthCategories) {
			t.Fatalf("non-deterministic tags: %+v vs %+v", a, b)
		}
	}
}

func TestOracleParsesFencedResponseAndFiltersCategories(t *testing.T) {
	caller := &fakeCaller{response: "```json\n{\"valence\":\"negative\",\"subject\":\"vendor_issue\",\"stage_topic\":\"stabilization\",\"health_categories\":[\"reliability\",\"vibes\"]}\n```"}
	o := NewOracleClassifier(caller, time.Second)
	tags, err := o.Classify(context.Background(), Input{ProductName: "Acme", Title: "Outage", Body: strings.Repeat("b", 3000)})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if tags.StageTopic != signal.StageStabilization || len(tags.HealthCategories) != 1 {
		t.Fatalf("unexpected tags %+v", tags)
	}
	if len(caller.prompts) != 1 || !strings.Contains(caller.prompts[0], "'Acme'") {
		t.Fatalf("prompt missing product name")
	}
	if strings.Contains(caller.prompts[0], strings.Repeat("b", bodyExcerptLimit+1)) {
		t.Fatal("body excerpt was not truncated")
	}
}

func TestOracleRejectsInvalidShape(t *testing.T) {
	o := NewOracleClassifier(&fakeCaller{response: `{"valence":"great","subject":"vendor_issue","stage_topic":"integration"}`}, time.Second)
	_, err := o.Classify(context.Background(), Input{})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "valence" {
		t.Fatalf("expected valence validation error, got %v", err)
	}
}

func TestFallbackUsesDeterministicOnFailure(t *testing.T) {
	in := Input{EventType: signal.EventTicketCreated, Title: "Webhook 503"}
	want := DeterministicClassifier{}.Tags(in)
	for name, caller := range map[string]*fakeCaller{
		"error":   {err: errors.New("status code: 500")},
		"invalid": {response: `{"valence":"meh"}`},
		"garbage": {response: "I cannot help with that"},
		"timeout": {block: true},
	} {
		f := NewFallbackClassifier(NewOracleClassifier(caller, 20*time.Millisecond))
		tags, source := f.ClassifyWithSource(context.Background(), in)
		if source != DeterministicName {
			t.Fatalf("%s: source=%s", name, source)
		}
		if tags.StageTopic != want.StageTopic || tags.Subject != want.Subject || tags.Valence != want.Valence {
			t.Fatalf("%s: tags=%+v want %+v", name, tags, want)
		}
	}
}

func TestFallbackPrefersOracle(t *testing.T) {
	caller := &fakeCaller{response: `{"valence":"neutral","subject":"vendor_comm","stage_topic":"productive","health_categories":[]}`}
	f := NewFallbackClassifier(NewOracleClassifier(caller, time.Second))
	tags, source := f.ClassifyWithSource(context.Background(), Input{EventType: signal.EventTicketCreated})
	if source != "oracle:fake-model" || tags.Valence != signal.ValenceNeutral {
		t.Fatalf("source=%s tags=%+v", source, tags)
	}
}

func TestFallbackWithoutPrimary(t *testing.T) {
	f := NewFallbackClassifier(nil)
	if f.Name() != DeterministicName {
		t.Fatalf("name=%s", f.Name())
	}
	tags, err := f.Classify(context.Background(), Input{Title: "getting started"})
	if err != nil || tags.StageTopic != signal.StageOnboarding {
		t.Fatalf("tags=%+v err=%v", tags, err)
	}
}
