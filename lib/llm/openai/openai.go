// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package openai implements the llm.Adapter interface for the OpenAI
// Responses API (/v1/responses). Setting a custom base URL makes the
// same adapter serve any compatible surface, such as xAI's.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/couriergram/courier/lib/llm"
	"github.com/couriergram/courier/lib/llm/tokens"
	"github.com/couriergram/courier/lib/llm/window"
)

// defaultBaseURL is the OpenAI API origin.
const defaultBaseURL = "https://api.openai.com/v1"

// defaultTemperature balances determinism against variety for chat
// replies. Models that reject the parameter (the gpt-5 family) are
// sent reasoning/verbosity controls instead.
const defaultTemperature = 0.7

// imageTokens is the fixed local accounting cost per image part.
// The backend prices images by resolution tiles; a flat approximation
// keeps trimming conservative without fetching image dimensions.
const imageTokens = 850

// Config holds the parameters for building an Adapter.
type Config struct {
	// APIKey authenticates requests. Required.
	APIKey string

	// Model is the model identifier, e.g. "gpt-4o-mini" or "grok-4".
	Model string

	// BaseURL overrides the API origin, e.g. "https://api.x.ai/v1"
	// for xAI. Empty means api.openai.com.
	BaseURL string

	// Timeout bounds every request. Zero means 60 seconds.
	Timeout time.Duration

	// Logger receives diagnostics. If nil, a no-op logger is used.
	Logger *slog.Logger
}

// Adapter implements [llm.Adapter] against the Responses API.
type Adapter struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
	counter    tokens.Counter
	logger     *slog.Logger
}

// New creates an Adapter from cfg.
func New(cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm/openai: APIKey is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm/openai: Model is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Adapter{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		timeout:    timeout,
		counter: tokens.New(tokens.Config{
			Model:       cfg.Model,
			ImageTokens: imageTokens,
			Logger:      logger,
		}),
		logger: logger,
	}, nil
}

// Complete sends a non-streaming request and returns the full response.
func (adapter *Adapter) Complete(ctx context.Context, request llm.Request) (*llm.Response, error) {
	wireRequest := adapter.buildRequest(request, false)

	httpResponse, err := llm.PostJSON(ctx, adapter.httpClient,
		adapter.endpoint(), adapter.apiKey, wireRequest, false)
	if err != nil {
		return nil, llm.Translate("openai", err, adapter.timeout)
	}

	var wireResp responsesResponse
	if err := llm.DecodeJSON(httpResponse, &wireResp); err != nil {
		return nil, llm.Translate("openai", err, adapter.timeout)
	}
	return wireResp.toResponse(), nil
}

// Stream sends a streaming request and returns a snapshot stream.
func (adapter *Adapter) Stream(ctx context.Context, request llm.Request) (*llm.Stream, error) {
	wireRequest := adapter.buildRequest(request, true)

	httpResponse, err := llm.PostJSON(ctx, adapter.httpClient,
		adapter.endpoint(), adapter.apiKey, wireRequest, true)
	if err != nil {
		return nil, llm.Translate("openai", err, adapter.timeout)
	}

	return adapter.newStream(httpResponse.Body), nil
}

// CountTokens returns the local token cost of messages.
func (adapter *Adapter) CountTokens(messages []llm.Message) int {
	return adapter.counter.Count(messages)
}

// MaxContextTokens returns the model's context window ceiling.
func (adapter *Adapter) MaxContextTokens() int {
	return window.ContextWindowForModel(adapter.model)
}

// ModelName returns the configured model identifier.
func (adapter *Adapter) ModelName() string {
	return adapter.model
}

// TestConnectivity fires a minimal request to confirm credentials and
// reachability. Reports false on any failure.
func (adapter *Adapter) TestConnectivity(ctx context.Context) bool {
	_, err := adapter.Complete(ctx, llm.Request{
		Messages:  []llm.Message{llm.UserMessage("Hi")},
		MaxTokens: 16,
	})
	if err != nil {
		adapter.logger.Warn("connectivity test failed", "error", err)
		return false
	}
	adapter.logger.Info("connectivity test succeeded", "model", adapter.model)
	return true
}

// Counter exposes the adapter's token counter so callers can price
// individual messages at creation time with the same accounting.
func (adapter *Adapter) Counter() tokens.Counter {
	return adapter.counter
}

func (adapter *Adapter) endpoint() string {
	return adapter.baseURL + "/responses"
}

// buildRequest converts the common request to Responses API wire form.
// The system instruction travels in the top-level instructions field,
// not as a message.
func (adapter *Adapter) buildRequest(request llm.Request, stream bool) responsesRequest {
	wireRequest := responsesRequest{
		Model:        adapter.model,
		Instructions: request.System,
		Stream:       stream,
	}
	if request.MaxTokens > 0 {
		wireRequest.MaxOutputTokens = request.MaxTokens
	}

	// The gpt-5 family rejects the temperature parameter; it takes
	// verbosity and reasoning-effort controls instead.
	if strings.HasPrefix(adapter.model, "gpt-5") {
		wireRequest.Text = &responsesTextOptions{Verbosity: "low"}
		wireRequest.Reasoning = &responsesReasoningOptions{Effort: "low"}
	} else if request.Temperature != nil {
		wireRequest.Temperature = request.Temperature
	} else {
		temperature := defaultTemperature
		wireRequest.Temperature = &temperature
	}

	for _, message := range request.Messages {
		wireRequest.Input = append(wireRequest.Input, toInputMessage(message))
	}

	return wireRequest
}

// newStream creates a Stream that parses Responses API SSE events.
func (adapter *Adapter) newStream(body io.ReadCloser) *llm.Stream {
	sseScanner := llm.NewSSEScanner(body)

	var stream *llm.Stream
	stream = llm.NewStream(func() (llm.StreamEvent, error) {
		for {
			if !sseScanner.Next() {
				if err := sseScanner.Err(); err != nil {
					return llm.StreamEvent{}, fmt.Errorf("llm/openai: reading SSE: %w", err)
				}
				return llm.StreamEvent{}, io.EOF
			}

			sseEvent := sseScanner.Event()

			switch sseEvent.Type {
			case "response.output_text.delta":
				var envelope struct {
					Delta string `json:"delta"`
				}
				if err := json.Unmarshal([]byte(sseEvent.Data), &envelope); err != nil {
					return llm.StreamEvent{}, fmt.Errorf("llm/openai: parsing output_text.delta: %w", err)
				}
				return llm.StreamEvent{Type: llm.EventTextDelta, Text: envelope.Delta}, nil

			case "response.completed":
				var envelope struct {
					Response responsesResponse `json:"response"`
				}
				if err := json.Unmarshal([]byte(sseEvent.Data), &envelope); err != nil {
					return llm.StreamEvent{}, fmt.Errorf("llm/openai: parsing response.completed: %w", err)
				}
				stream.SetModel(envelope.Response.Model)
				stream.SetUsage(llm.Usage{
					InputTokens:  envelope.Response.Usage.InputTokens,
					OutputTokens: envelope.Response.Usage.OutputTokens,
				})
				stream.SetStopReason(envelope.Response.stopReason())
				return llm.StreamEvent{Type: llm.EventDone}, nil

			case "response.failed", "error":
				return llm.StreamEvent{
					Type:  llm.EventError,
					Error: adapter.streamError(sseEvent.Data),
				}, nil

			default:
				// Lifecycle events (response.created, output item
				// boundaries, text.done) carry nothing the snapshot
				// stream needs. New event types are skipped, not
				// failed on.
				continue
			}
		}
	}, body)

	return stream
}

// streamError turns a failure event payload into a taxonomy error.
func (adapter *Adapter) streamError(data string) error {
	var envelope struct {
		Response struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		} `json:"response"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	message := data
	if json.Unmarshal([]byte(data), &envelope) == nil {
		if envelope.Response.Error.Message != "" {
			message = envelope.Response.Error.Message
		} else if envelope.Message != "" {
			message = envelope.Message
		}
	}
	return llm.Translate("openai",
		fmt.Errorf("stream error: %s", message), adapter.timeout)
}

// --- Responses API wire types ---
//
// These map directly to the Responses API JSON format. Input message
// content is polymorphic: a JSON string for text-only messages, or an
// array of typed parts (input_text, input_image) for multimodal input.
// Note the flat image_url string, unlike the chat-completions nested
// object form.

type responsesRequest struct {
	Model           string                     `json:"model"`
	Instructions    string                     `json:"instructions,omitempty"`
	Input           []inputMessage             `json:"input"`
	MaxOutputTokens int                        `json:"max_output_tokens,omitempty"`
	Temperature     *float64                   `json:"temperature,omitempty"`
	Text            *responsesTextOptions      `json:"text,omitempty"`
	Reasoning       *responsesReasoningOptions `json:"reasoning,omitempty"`
	Stream          bool                       `json:"stream,omitempty"`
}

type responsesTextOptions struct {
	Verbosity string `json:"verbosity,omitempty"`
}

type responsesReasoningOptions struct {
	Effort string `json:"effort,omitempty"`
}

type inputMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type inputPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type responsesResponse struct {
	ID                string             `json:"id"`
	Model             string             `json:"model"`
	Status            string             `json:"status"`
	Output            []outputItem       `json:"output"`
	IncompleteDetails *incompleteDetails `json:"incomplete_details"`
	Usage             responsesUsage     `json:"usage"`
}

type incompleteDetails struct {
	Reason string `json:"reason"`
}

type outputItem struct {
	Type    string       `json:"type"`
	Role    string       `json:"role,omitempty"`
	Content []outputPart `json:"content,omitempty"`
}

type outputPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type responsesUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// --- Wire type conversions ---

// toInputMessage converts a common message to wire form. Text-only
// messages use the string content shorthand; anything multimodal uses
// the typed part array.
func toInputMessage(message llm.Message) inputMessage {
	wire := inputMessage{Role: string(message.Role)}

	if !message.HasImage() {
		data, _ := json.Marshal(message.Text())
		wire.Content = data
		return wire
	}

	var parts []inputPart
	for _, part := range message.Content {
		switch part.Kind {
		case llm.PartText:
			parts = append(parts, inputPart{Type: "input_text", Text: part.Text})
		case llm.PartImage:
			parts = append(parts, inputPart{Type: "input_image", ImageURL: part.ImageURL})
		}
	}
	data, _ := json.Marshal(parts)
	wire.Content = data
	return wire
}

func (wireResponse *responsesResponse) toResponse() *llm.Response {
	response := &llm.Response{
		Model:      wireResponse.Model,
		StopReason: wireResponse.stopReason(),
		Usage: llm.Usage{
			InputTokens:  wireResponse.Usage.InputTokens,
			OutputTokens: wireResponse.Usage.OutputTokens,
		},
	}

	var text strings.Builder
	for _, item := range wireResponse.Output {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			if part.Type == "output_text" {
				text.WriteString(part.Text)
			}
		}
	}
	response.Text = text.String()

	return response
}

func (wireResponse *responsesResponse) stopReason() llm.StopReason {
	if wireResponse.IncompleteDetails != nil &&
		wireResponse.IncompleteDetails.Reason == "max_output_tokens" {
		return llm.StopReasonMaxTokens
	}
	return llm.StopReasonEndTurn
}
