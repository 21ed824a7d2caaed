package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"regexp"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

var DefaultModel = string(anthropic.ModelClaudeSonnet4_20250514)

var statusCodeRe = regexp.MustCompile(`(?:status(?:\s+code)?[:=\s]+)(\d{3})`)

// Caller is the seam both oracles (classification and narrative) talk
// through.
type Caller interface {
	Generate(ctx context.Context, req Request) (string, error)
	ModelName() string
}

type Request struct {
	System      string
	Prompt      string
	MaxTokens   int64
	Temperature float64
}

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicCaller struct {
	messages AnthropicMessager
	model    string
}

type AnthropicClientCreator func(apiKey string) AnthropicMessager

func defaultAnthropicCreator(apiKey string) AnthropicMessager {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &c.Messages
}

var newAnthropicClient AnthropicClientCreator = defaultAnthropicCreator

// ErrNotConfigured is returned when no API key is present; callers run
// deterministic-only in that case.
var ErrNotConfigured = errors.New("ANTHROPIC_API_KEY not configured")

// NewAnthropicCallerFromEnv builds a caller using ANTHROPIC_API_KEY and the
// model named by modelEnv, falling back to DefaultModel.
func NewAnthropicCallerFromEnv(modelEnv string) (*AnthropicCaller, error) {
	apiKey := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	model := strings.TrimSpace(os.Getenv(modelEnv))
	if model == "" {
		model = DefaultModel
	}
	return NewAnthropicCaller(newAnthropicClient(apiKey), model), nil
}

func NewAnthropicCaller(messages AnthropicMessager, model string) *AnthropicCaller {
	return &AnthropicCaller{messages: messages, model: model}
}

func (a *AnthropicCaller) ModelName() string { return a.model }

func (a *AnthropicCaller) Generate(ctx context.Context, req Request) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   maxTokens,
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt))},
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	resp, err := a.messages.New(ctx, params)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}

var (
	fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)```")
	bareObjectRe = regexp.MustCompile(`(?s)\{.*\}`)
)

// DecodeJSON parses an LLM response into out, tolerating markdown fences and
// prose around a single JSON object.
func DecodeJSON(raw string, out any) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("empty response")
	}
	err := json.Unmarshal([]byte(raw), out)
	if err == nil {
		return nil
	}
	if m := fencedJSONRe.FindStringSubmatch(raw); len(m) == 2 {
		if json.Unmarshal([]byte(strings.TrimSpace(m[1])), out) == nil {
			return nil
		}
	}
	if m := bareObjectRe.FindString(raw); m != "" {
		if json.Unmarshal([]byte(m), out) == nil {
			return nil
		}
	}
	return err
}

var (
	mdBold    = regexp.MustCompile(`\*\*(.+?)\*\*`)
	mdItalic  = regexp.MustCompile(`\*(.+?)\*`)
	mdHeading = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdBullet  = regexp.MustCompile(`(?m)^[ \t]*[-*]\s+`)
)

// StripMarkdown removes the formatting models add to prose despite being
// told not to.
func StripMarkdown(s string) string {
	s = mdBold.ReplaceAllString(s, "$1")
	s = mdItalic.ReplaceAllString(s, "$1")
	s = mdHeading.ReplaceAllString(s, "")
	s = mdBullet.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

type FailureClass string

const (
	FailureTimeout   FailureClass = "timeout"
	FailureRateLimit FailureClass = "rate_limit"
	FailureServer    FailureClass = "server"
	FailureClient    FailureClass = "client"
)

// ClassifyTransportError buckets a transport failure for logging.
func ClassifyTransportError(err error) FailureClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return FailureTimeout
	}
	msg := strings.ToLower(err.Error())
	m := statusCodeRe.FindStringSubmatch(msg)
	if len(m) == 2 {
		switch {
		case strings.HasPrefix(m[1], "429"):
			return FailureRateLimit
		case strings.HasPrefix(m[1], "5"):
			return FailureServer
		case strings.HasPrefix(m[1], "4"):
			return FailureClient
		}
	}
	switch {
	case strings.Contains(msg, "rate limit"):
		return FailureRateLimit
	case strings.Contains(msg, "status 4"), strings.Contains(msg, "status=4"):
		return FailureClient
	default:
		return FailureServer
	}
}
