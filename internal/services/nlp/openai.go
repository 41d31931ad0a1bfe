package nlp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"go.uber.org/zap"
)

const (
	// DefaultOpenAIModel is the default model to use
	DefaultOpenAIModel = "gpt-4o-mini"
	// DefaultOpenAIBaseURL is the default OpenAI API base URL
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
)

// OpenAIProvider implements Provider against any OpenAI-compatible chat
// completions endpoint, including a local Ollama server.
type OpenAIProvider struct {
	client    openai.Client
	model     string
	logger    *zap.Logger
	debugMode bool
}

// NewOpenAIProvider creates a new OpenAI-compatible provider
func NewOpenAIProvider(apiKey, baseURL, model string, logger *zap.Logger, debugMode bool) *OpenAIProvider {
	if model == "" {
		model = DefaultOpenAIModel
	}
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := &http.Client{
		Timeout: DefaultTimeout,
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithHTTPClient(httpClient),
		// The resolver has its own deadline and fallback
		option.WithMaxRetries(0),
	)

	return &OpenAIProvider{
		client:    client,
		model:     model,
		logger:    logger,
		debugMode: debugMode,
	}
}

// Name implements Provider
func (p *OpenAIProvider) Name() string { return "openai" }

// Parse implements Provider. The result is not validated here.
func (p *OpenAIProvider) Parse(ctx context.Context, req ParseRequest) (*StructuredIntent, error) {
	prompt, err := buildParsePrompt(req)
	if err != nil {
		return nil, err
	}
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You are a strict JSON parser that extracts tasks and dates from short reminders. Respond with valid JSON only."),
			openai.UserMessage(prompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}

	if p.debugMode {
		p.logger.Debug("llm_api_request",
			zap.String("operation", "parse_task"),
			zap.String("model", p.model),
			zap.Int("prompt_length", len(prompt)),
			zap.String("prompt_preview", SanitizePrompt(prompt, true)),
		)
	}

	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, params)
	latency := time.Since(start)
	if err != nil {
		if p.debugMode {
			p.logger.Debug("llm_api_error",
				zap.String("operation", "parse_task"),
				zap.String("model", p.model),
				zap.Error(err),
				zap.Duration("latency_ms", latency),
			)
		}
		if apiErr := ExtractAPIError(err); apiErr != nil {
			return nil, fmt.Errorf("failed to parse task: %w", apiErr)
		}
		return nil, fmt.Errorf("failed to parse task: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoicesInResponse
	}
	content := resp.Choices[0].Message.Content

	if p.debugMode {
		p.logger.Debug("llm_api_response",
			zap.String("operation", "parse_task"),
			zap.String("model", p.model),
			zap.Int("response_length", len(content)),
			zap.String("response_preview", SanitizeResponse(content, true)),
			zap.Int64("latency_ms", latency.Milliseconds()),
		)
	}

	return parseIntentResponse(content)
}

// parseIntentResponse decodes the JSON object in content, tolerating prose around it
func parseIntentResponse(content string) (*StructuredIntent, error) {
	raw := strings.TrimSpace(content)
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrMalformedResult)
	}
	raw = raw[start : end+1]

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResult, err)
	}
	if _, ok := fields["task"]; !ok {
		return nil, fmt.Errorf("%w: missing task", ErrMalformedResult)
	}
	if _, ok := fields["dates"]; !ok {
		return nil, fmt.Errorf("%w: missing dates", ErrMalformedResult)
	}

	var intent StructuredIntent
	if err := json.Unmarshal([]byte(raw), &intent); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResult, err)
	}
	return &intent, nil
}

func buildParsePrompt(req ParseRequest) (string, error) {
	loc := req.Location
	if loc == nil {
		loc = time.Local
	}
	recent := req.Recent
	if recent == nil {
		recent = []TaskSummary{}
	}
	recentJSON, err := json.Marshal(recent)
	if err != nil {
		return "", fmt.Errorf("failed to encode pending tasks: %w", err)
	}
	now := req.Now.In(loc)

	var b strings.Builder
	fmt.Fprintf(&b, "Current date/time (local): %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(&b, "Today is %s.\n", now.Weekday())
	fmt.Fprintf(&b, "Timezone: %s\n\n", loc.String())
	b.WriteString("Existing pending tasks (JSON):\n")
	b.Write(recentJSON)
	b.WriteString("\n\n")
	b.WriteString(`Extract:
- "task": the core task with date and time words removed
- "dates": list of YYYY-MM-DD
- "times": optional list of HH:MM (24-hour)
- "start_at": optional ISO datetime with offset when an exact time is given

Rules:
- weeks run Monday to Sunday
- "weekend", "this weekend", "on weekend" => the upcoming Saturday and Sunday
- "next weekend" => the weekend after the upcoming one
- "every day this week" => every day from today through Sunday
- never return past dates
- if the same task already exists for those dates, return "dates": []
- if an exact time is present, include "start_at"

Return ONLY JSON:
{"task": "string", "dates": ["YYYY-MM-DD"], "times": ["HH:MM"], "start_at": "YYYY-MM-DDTHH:MM:SS+00:00"}

`)
	fmt.Fprintf(&b, "Sentence: %q\n", req.Text)
	return b.String(), nil
}

var _ Provider = (*OpenAIProvider)(nil)
