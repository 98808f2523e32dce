// Package sentiment classifies guild messages and maintains per-user
// toxicity and alignment statistics.
package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// DefaultSystemPrompt is used when the config does not set one.
const DefaultSystemPrompt = `You classify chat messages. Decide whether the message is toxic ` +
	`(insulting, harassing, hateful or mean) and which D&D alignment best describes its tone. ` +
	`Answer only with JSON matching the schema.`

// Result is a classifier verdict.
type Result struct {
	IsToxic   bool
	Alignment Alignment
}

// Classifier labels a piece of text.
type Classifier interface {
	Classify(ctx context.Context, text string) (Result, error)
}

// LLMClassifier calls an OpenAI-compatible chat completions endpoint with a
// JSON-schema response format.
type LLMClassifier struct {
	http         *resty.Client
	model        string
	systemPrompt string
}

// LLMOpts holds parameters for creating an LLMClassifier.
type LLMOpts struct {
	BaseURL      string // e.g. http://localhost:11434/v1
	APIKey       string // optional
	Model        string
	SystemPrompt string        // defaults to DefaultSystemPrompt
	Timeout      time.Duration // defaults to 30s
}

// NewLLMClassifier creates an LLMClassifier.
func NewLLMClassifier(opts LLMOpts) (*LLMClassifier, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("sentiment: classifier base url is required")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("sentiment: classifier model is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	prompt := opts.SystemPrompt
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	if opts.APIKey != "" {
		client.SetAuthToken(opts.APIKey)
	}

	return &LLMClassifier{http: client, model: opts.Model, systemPrompt: prompt}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonSchemaFormat struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"schema"`
	Strict      bool           `json:"strict"`
}

type responseFormat struct {
	Type       string           `json:"type"`
	JSONSchema jsonSchemaFormat `json:"json_schema"`
}

type completionRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
	Temperature    float64        `json:"temperature"`
}

type completionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type classification struct {
	IsToxic   bool   `json:"IsToxic"`
	Alignment string `json:"Alignment"`
}

func resultSchema() map[string]any {
	names := make([]string, 0, 9)
	for _, a := range AllAlignments() {
		names = append(names, a.String())
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"IsToxic":   map[string]any{"type": "boolean"},
			"Alignment": map[string]any{"type": "string", "enum": names},
		},
		"required":             []string{"IsToxic", "Alignment"},
		"additionalProperties": false,
	}
}

// Classify sends text to the model and parses its JSON verdict. An
// unrecognised alignment is reported as AlignmentUnknown, not an error.
func (c *LLMClassifier) Classify(ctx context.Context, text string) (Result, error) {
	req := completionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: c.systemPrompt},
			{Role: "user", Content: text},
		},
		ResponseFormat: responseFormat{
			Type: "json_schema",
			JSONSchema: jsonSchemaFormat{
				Name:        "SentimentAnalysisResult",
				Description: "Classifies a chat message's toxicity and alignment.",
				Schema:      resultSchema(),
				Strict:      true,
			},
		},
	}

	var out completionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return Result{}, fmt.Errorf("sentiment: classify request: %w", err)
	}
	if resp.IsError() {
		log.Error().Int("status", resp.StatusCode()).Str("body", resp.String()).Msg("sentiment: classifier returned an error")
		return Result{}, fmt.Errorf("sentiment: classify: status %s", resp.Status())
	}
	if len(out.Choices) == 0 {
		return Result{}, fmt.Errorf("sentiment: classify: empty response")
	}

	content := strings.TrimSpace(out.Choices[0].Message.Content)
	content = strings.TrimSuffix(strings.TrimPrefix(content, "```json"), "```")
	var cls classification
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &cls); err != nil {
		return Result{}, fmt.Errorf("sentiment: classify: decode verdict: %w", err)
	}

	alignment, err := ParseAlignment(cls.Alignment)
	if err != nil {
		log.Debug().Str("alignment", cls.Alignment).Msg("sentiment: unrecognised alignment from model")
	}
	return Result{IsToxic: cls.IsToxic, Alignment: alignment}, nil
}

// Model returns the configured model name.
func (c *LLMClassifier) Model() string { return c.model }
