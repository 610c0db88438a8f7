// Package provider holds the external-call clients the executor dispatches
// to: the LLM structured-completion provider and the paper search/Q&A
// services. Clients are constructed once at process start and injected.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/mindloom/mindloom/internal/metrics"
)

// Result is one structured completion object.
type Result struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Block is one formatted input section of a completion request.
type Block struct {
	Title string
	Body  string
}

// CompletionRequest describes a structured completion call.
type CompletionRequest struct {
	System string
	Blocks []Block
	Model  string

	// Multi requests an array-of-objects schema instead of a single
	// object.
	Multi bool
}

// Messages renders the request into the provider message list. Dry runs
// build the same list without sending it.
func (r CompletionRequest) Messages() []openai.ChatCompletionMessage {
	var b strings.Builder
	for _, block := range r.Blocks {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", block.Title, block.Body)
	}
	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: r.System},
		{Role: openai.ChatMessageRoleUser, Content: b.String()},
	}
}

// TableExtraction is the structured form of tabular data pulled out of
// free text.
type TableExtraction struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// Completer produces structured completions.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) ([]Result, error)
	CompleteTable(ctx context.Context, req CompletionRequest) (TableExtraction, error)
}

const singleSchemaJSON = `{
	"type": "object",
	"properties": {
		"title":   {"type": "string"},
		"content": {"type": "string"}
	},
	"required": ["title", "content"],
	"additionalProperties": false
}`

const multiSchemaJSON = `{
	"type": "object",
	"properties": {
		"items": {
			"type": "array",
			"items": ` + singleSchemaJSON + `
		}
	},
	"required": ["items"],
	"additionalProperties": false
}`

const tableSchemaJSON = `{
	"type": "object",
	"properties": {
		"headers": {
			"type": "array",
			"items": {"type": "string"}
		},
		"rows": {
			"type": "array",
			"items": {
				"type": "array",
				"items": {"type": "string"}
			}
		}
	},
	"required": ["headers", "rows"],
	"additionalProperties": false
}`

// LLMClient is the OpenAI-compatible completion provider.
type LLMClient struct {
	client       *openai.Client
	limiter      *rate.Limiter
	defaultModel string
	singleSchema *jsonschema.Schema
	multiSchema  *jsonschema.Schema
	tableSchema  *jsonschema.Schema
}

// LLMConfig configures the completion provider.
type LLMConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	RPS          float64
	Burst        int
}

// NewLLMClient builds the provider client. Schema compilation failures are
// programming errors and panic at construction.
func NewLLMClient(cfg LLMConfig) *LLMClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	rps := cfg.RPS
	if rps <= 0 {
		rps = 2
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &LLMClient{
		client:       openai.NewClientWithConfig(clientCfg),
		limiter:      rate.NewLimiter(rate.Limit(rps), burst),
		defaultModel: cfg.DefaultModel,
		singleSchema: jsonschema.MustCompileString("single.json", singleSchemaJSON),
		multiSchema:  jsonschema.MustCompileString("multi.json", multiSchemaJSON),
		tableSchema:  jsonschema.MustCompileString("table.json", tableSchemaJSON),
	}
}

// Complete runs one structured completion and validates the provider's
// JSON against the requested schema before returning it.
func (c *LLMClient) Complete(ctx context.Context, req CompletionRequest) ([]Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	schemaJSON := singleSchemaJSON
	schemaName := "canvas_result"
	if req.Multi {
		schemaJSON = multiSchemaJSON
		schemaName = "canvas_results"
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: req.Messages(),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   schemaName,
				Schema: json.RawMessage(schemaJSON),
				Strict: true,
			},
		},
	})
	metrics.ProviderCallDuration.WithLabelValues("llm").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("completion call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("completion returned no choices")
	}

	return c.decode(resp.Choices[0].Message.Content, req.Multi)
}

// CompleteTable runs one completion against the tabular schema. The Multi
// flag on the request is ignored.
func (c *LLMClient) CompleteTable(ctx context.Context, req CompletionRequest) (TableExtraction, error) {
	var table TableExtraction

	if err := c.limiter.Wait(ctx); err != nil {
		return table, fmt.Errorf("rate limit wait: %w", err)
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: req.Messages(),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "canvas_table",
				Schema: json.RawMessage(tableSchemaJSON),
				Strict: true,
			},
		},
	})
	metrics.ProviderCallDuration.WithLabelValues("llm").Observe(time.Since(start).Seconds())
	if err != nil {
		return table, fmt.Errorf("table completion call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return table, fmt.Errorf("table completion returned no choices")
	}

	content := resp.Choices[0].Message.Content
	var payload any
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return table, fmt.Errorf("table completion is not valid JSON: %w", err)
	}
	if err := c.tableSchema.Validate(payload); err != nil {
		return table, fmt.Errorf("table completion violates schema: %w", err)
	}
	if err := json.Unmarshal([]byte(content), &table); err != nil {
		return table, fmt.Errorf("decode table completion: %w", err)
	}
	return table, nil
}

func (c *LLMClient) decode(content string, multi bool) ([]Result, error) {
	var payload any
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("completion is not valid JSON: %w", err)
	}

	schema := c.singleSchema
	if multi {
		schema = c.multiSchema
	}
	if err := schema.Validate(payload); err != nil {
		return nil, fmt.Errorf("completion violates schema: %w", err)
	}

	if multi {
		var out struct {
			Items []Result `json:"items"`
		}
		if err := json.Unmarshal([]byte(content), &out); err != nil {
			return nil, fmt.Errorf("decode completion: %w", err)
		}
		return out.Items, nil
	}

	var r Result
	if err := json.Unmarshal([]byte(content), &r); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}
	return []Result{r}, nil
}
