package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ErrEmptyReply is returned when the model answers with no text.
var ErrEmptyReply = errors.New("llm: empty reply")

// #region classifier
// Classifier is the small, unreliable model used for tie-breaks, critique and
// peer review. Callers treat every error and every malformed reply as a
// failure with a deterministic fallback.
type Classifier interface {
	Classify(ctx context.Context, prompt string) (string, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, prompt string) (string, error)

// Classify calls f.
func (f ClassifierFunc) Classify(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// #endregion classifier

// #region anthropic
// MessagesClient is the slice of the Anthropic SDK this package calls.
type MessagesClient interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicConfig holds model settings for the Anthropic backend.
type AnthropicConfig struct {
	Model     string        `yaml:"model"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
	System    string        `yaml:"system"`
}

// DefaultAnthropicConfig returns a small, fast model setup.
func DefaultAnthropicConfig() AnthropicConfig {
	return AnthropicConfig{
		Model:     "claude-3-5-haiku-latest",
		MaxTokens: 256,
		Timeout:   2 * time.Second,
		System:    "You are a strict classifier. Reply with a single JSON object and nothing else.",
	}
}

// AnthropicClassifier implements Classifier over the Messages API.
type AnthropicClassifier struct {
	messages MessagesClient
	config   AnthropicConfig
}

// NewAnthropicClassifier builds a classifier from an API key. An empty key
// falls back to the SDK's environment lookup.
func NewAnthropicClassifier(apiKey string, config AnthropicConfig) *AnthropicClassifier {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicClassifier{messages: &client.Messages, config: config}
}

// NewAnthropicClassifierWithClient injects the messages client (for testing).
func NewAnthropicClassifierWithClient(messages MessagesClient, config AnthropicConfig) *AnthropicClassifier {
	return &AnthropicClassifier{messages: messages, config: config}
}

// Classify sends prompt as a single user turn and returns the reply text.
func (c *AnthropicClassifier) Classify(ctx context.Context, prompt string) (string, error) {
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.config.Model),
		MaxTokens: int64(c.config.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if c.config.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: c.config.System}}
	}

	resp, err := c.messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("classify request: %w", err)
	}
	text := textContent(resp)
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}

func textContent(resp *anthropic.Message) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// #endregion anthropic

// #region json
// ExtractJSON returns the first balanced {...} object in text, or "".
func ExtractJSON(text string) string {
	start, depth := -1, 0
	for i, r := range text {
		switch r {
		case '{':
			if start == -1 {
				start = i
			}
			depth++
		case '}':
			if start == -1 {
				continue
			}
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// #endregion json
