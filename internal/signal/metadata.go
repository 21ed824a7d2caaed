package signal

import "time"

// Metadata keys written by the classifier and read by scoring.
const (
	KeyValence          = "valence"
	KeySubject          = "subject"
	KeyStageTopic       = "stage_topic"
	KeyHealthCategories = "health_categories"
	KeyClassifier       = "classifier"
	KeyClassifiedAt     = "classified_at"

	// KeyDirection is set by email adapters: "inbound" for vendor mail,
	// "outbound" for mail the tenant sent.
	KeyDirection = "direction"
)

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// TagFields are the cache fields that make up one classification.
var TagFields = []string{KeyValence, KeySubject, KeyStageTopic, KeyHealthCategories, KeyClassifier, KeyClassifiedAt}

// Metadata is the per-signal semantic map. It is a cache: every accessor
// tolerates a missing or malformed value.
type Metadata map[string]any

// Tags is one classification result.
type Tags struct {
	Valence          Valence          `json:"valence"`
	Subject          Subject          `json:"subject"`
	StageTopic       Stage            `json:"stage_topic"`
	HealthCategories []HealthCategory `json:"health_categories"`
}

// Valid reports whether every field is drawn from its enumerated set.
func (t Tags) Valid() bool {
	if !t.Valence.Valid() || !t.Subject.Valid() || !t.StageTopic.Valid() {
		return false
	}
	for _, c := range t.HealthCategories {
		if !c.Valid() {
			return false
		}
	}
	return true
}

func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		if cats, ok := v.([]HealthCategory); ok {
			v = append([]HealthCategory(nil), cats...)
		}
		out[k] = v
	}
	return out
}

func (m Metadata) str(key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// HasTags reports whether a classification has been cached.
func (m Metadata) HasTags() bool {
	_, ok := m[KeyValence]
	return ok
}

func (m Metadata) Valence() Valence { return Valence(m.str(KeyValence)) }

// Subject defaults to vendor_comm when untagged.
func (m Metadata) Subject() Subject {
	s := Subject(m.str(KeySubject))
	if s == "" {
		return SubjectVendorComm
	}
	return s
}

// StageTopic defaults to productive when untagged.
func (m Metadata) StageTopic() Stage {
	s := Stage(m.str(KeyStageTopic))
	if s == "" {
		return StageProductive
	}
	return s
}

func (m Metadata) HasHealthCategories() bool {
	_, ok := m[KeyHealthCategories]
	return ok
}

func (m Metadata) HealthCategories() []HealthCategory {
	if m == nil {
		return nil
	}
	switch v := m[KeyHealthCategories].(type) {
	case []HealthCategory:
		return v
	case []string:
		out := make([]HealthCategory, 0, len(v))
		for _, s := range v {
			out = append(out, HealthCategory(s))
		}
		return out
	case []any:
		out := make([]HealthCategory, 0, len(v))
		for _, raw := range v {
			if s, ok := raw.(string); ok {
				out = append(out, HealthCategory(s))
			}
		}
		return out
	}
	return nil
}

func (m Metadata) HasCategory(c HealthCategory) bool {
	for _, got := range m.HealthCategories() {
		if got == c {
			return true
		}
	}
	return false
}

func (m Metadata) Direction() string { return m.str(KeyDirection) }

func (m Metadata) Classifier() string { return m.str(KeyClassifier) }

func (m Metadata) ClassifiedAt() time.Time {
	t, err := time.Parse(time.RFC3339Nano, m.str(KeyClassifiedAt))
	if err != nil {
		return time.Time{}
	}
	return t
}

// Apply writes a classification into the map, recording which classifier
// produced it and when.
func (m Metadata) Apply(t Tags, classifier string, at time.Time) {
	m[KeyValence] = string(t.Valence)
	m[KeySubject] = string(t.Subject)
	m[KeyStageTopic] = string(t.StageTopic)
	m[KeyHealthCategories] = append([]HealthCategory{}, t.HealthCategories...)
	m[KeyClassifier] = classifier
	m[KeyClassifiedAt] = at.UTC().Format(time.RFC3339Nano)
}

// Tags reads the cached classification back out.
func (m Metadata) Tags() Tags {
	return Tags{
		Valence:          m.Valence(),
		Subject:          m.Subject(),
		StageTopic:       m.StageTopic(),
		HealthCategories: m.HealthCategories(),
	}
}
