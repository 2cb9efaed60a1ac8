// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package groq implements the llm.Adapter interface for the Groq API,
// which speaks the OpenAI chat-completions wire format. The system
// prompt travels as a leading role:"system" message and multimodal
// content uses the nested image_url object form, both unlike the
// Responses API surface.
package groq

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

// defaultBaseURL is the Groq OpenAI-compatible API origin.
const defaultBaseURL = "https://api.groq.com/openai/v1"

// defaultTemperature matches the chat reply sampling used across
// adapters.
const defaultTemperature = 0.7

// imageTokens is the fixed local accounting cost per image part.
// Groq's hosted vision models price by tile; a flat approximation
// keeps trimming conservative.
const imageTokens = 850

// Config holds the parameters for building an Adapter.
type Config struct {
	// APIKey authenticates requests. Required.
	APIKey string

	// Model is the hosted model identifier, e.g.
	// "llama-3.3-70b-versatile".
	Model string

	// BaseURL overrides the API origin. Empty means api.groq.com.
	BaseURL string

	// Timeout bounds every request. Zero means 60 seconds.
	Timeout time.Duration

	// Logger receives diagnostics. If nil, a no-op logger is used.
	Logger *slog.Logger
}

// Adapter implements [llm.Adapter] against the chat-completions API.
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
		return nil, fmt.Errorf("llm/groq: APIKey is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm/groq: Model is required")
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
		return nil, llm.Translate("groq", err, adapter.timeout)
	}

	var wireResp chatResponse
	if err := llm.DecodeJSON(httpResponse, &wireResp); err != nil {
		return nil, llm.Translate("groq", err, adapter.timeout)
	}
	return wireResp.toResponse(), nil
}

// Stream sends a streaming request and returns a snapshot stream.
func (adapter *Adapter) Stream(ctx context.Context, request llm.Request) (*llm.Stream, error) {
	wireRequest := adapter.buildRequest(request, true)

	httpResponse, err := llm.PostJSON(ctx, adapter.httpClient,
		adapter.endpoint(), adapter.apiKey, wireRequest, true)
	if err != nil {
		return nil, llm.Translate("groq", err, adapter.timeout)
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
	return adapter.baseURL + "/chat/completions"
}

// buildRequest converts the common request to chat-completions wire
// form. The system prompt becomes the first message.
func (adapter *Adapter) buildRequest(request llm.Request, stream bool) chatRequest {
	wireRequest := chatRequest{Model: adapter.model}

	if request.MaxTokens > 0 {
		wireRequest.MaxTokens = request.MaxTokens
	}
	if request.Temperature != nil {
		wireRequest.Temperature = request.Temperature
	} else {
		temperature := defaultTemperature
		wireRequest.Temperature = &temperature
	}
	if stream {
		wireRequest.Stream = true
		wireRequest.StreamOptions = &chatStreamOptions{IncludeUsage: true}
	}

	if request.System != "" {
		wireRequest.Messages = append(wireRequest.Messages, chatMessage{
			Role:    "system",
			Content: textContent(request.System),
		})
	}
	for _, message := range request.Messages {
		wireRequest.Messages = append(wireRequest.Messages, toChatMessage(message))
	}

	return wireRequest
}

// newStream creates a Stream that parses chat-completions SSE chunks.
// The protocol differs from the Responses API: data lines carry
// incremental choice deltas, usage arrives in a trailing chunk when
// requested, and the stream terminates with a "[DONE]" sentinel.
func (adapter *Adapter) newStream(body io.ReadCloser) *llm.Stream {
	sseScanner := llm.NewSSEScanner(body)

	var stream *llm.Stream
	stream = llm.NewStream(func() (llm.StreamEvent, error) {
		for {
			if !sseScanner.Next() {
				if err := sseScanner.Err(); err != nil {
					return llm.StreamEvent{}, fmt.Errorf("llm/groq: reading SSE: %w", err)
				}
				return llm.StreamEvent{}, io.EOF
			}

			sseEvent := sseScanner.Event()

			if sseEvent.Data == "[DONE]" {
				return llm.StreamEvent{Type: llm.EventDone}, nil
			}

			var chunk chatStreamChunk
			if err := json.Unmarshal([]byte(sseEvent.Data), &chunk); err != nil {
				return llm.StreamEvent{}, fmt.Errorf("llm/groq: parsing stream chunk: %w", err)
			}

			// Errors arrive as ordinary data lines with an "error"
			// field rather than a dedicated SSE event type.
			if len(chunk.Choices) == 0 && chunk.Usage == nil && chunk.Model == "" {
				var errorChunk struct {
					Error struct {
						Type    string `json:"type"`
						Message string `json:"message"`
					} `json:"error"`
				}
				if json.Unmarshal([]byte(sseEvent.Data), &errorChunk) == nil && errorChunk.Error.Message != "" {
					return llm.StreamEvent{
						Type: llm.EventError,
						Error: llm.Translate("groq", fmt.Errorf("stream error: %s: %s",
							errorChunk.Error.Type, errorChunk.Error.Message), adapter.timeout),
					}, nil
				}
			}

			if chunk.Model != "" {
				stream.SetModel(chunk.Model)
			}
			if chunk.Usage != nil {
				stream.SetUsage(llm.Usage{
					InputTokens:  chunk.Usage.PromptTokens,
					OutputTokens: chunk.Usage.CompletionTokens,
				})
			}

			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			if choice.FinishReason != nil {
				stream.SetStopReason(mapFinishReason(*choice.FinishReason))
			}
			if choice.Delta.Content != "" {
				return llm.StreamEvent{Type: llm.EventTextDelta, Text: choice.Delta.Content}, nil
			}
			continue
		}
	}, body)

	return stream
}

// --- Chat-completions wire types ---
//
// Content on chatMessage is json.RawMessage because the field is
// polymorphic: a JSON string for text-only messages, or an array of
// typed parts for multimodal input, with image parts wrapped in a
// nested {"image_url": {"url": ...}} object.

type chatRequest struct {
	Model         string             `json:"model"`
	Messages      []chatMessage      `json:"messages"`
	MaxTokens     int                `json:"max_tokens,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
	StreamOptions *chatStreamOptions `json:"stream_options,omitempty"`
}

type chatStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type chatPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int                 `json:"index"`
	Message      chatChoiceMessage   `json:"message"`
	FinishReason string              `json:"finish_reason"`
}

type chatChoiceMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

type chatStreamChunk struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Choices []chatStreamChoice `json:"choices"`
	Usage   *chatUsage         `json:"usage,omitempty"`
}

type chatStreamChoice struct {
	Index        int             `json:"index"`
	Delta        chatStreamDelta `json:"delta"`
	FinishReason *string         `json:"finish_reason"`
}

type chatStreamDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// --- Wire type conversions ---

// textContent serializes text as the JSON string shorthand of the
// polymorphic content field.
func textContent(text string) json.RawMessage {
	data, _ := json.Marshal(text)
	return data
}

// toChatMessage converts a common message to wire form. Text-only
// messages use the string shorthand; multimodal messages use the part
// array with the nested image_url object.
func toChatMessage(message llm.Message) chatMessage {
	wire := chatMessage{Role: string(message.Role)}

	if !message.HasImage() {
		wire.Content = textContent(message.Text())
		return wire
	}

	var parts []chatPart
	for _, part := range message.Content {
		switch part.Kind {
		case llm.PartText:
			parts = append(parts, chatPart{Type: "text", Text: part.Text})
		case llm.PartImage:
			parts = append(parts, chatPart{
				Type:     "image_url",
				ImageURL: &chatImageURL{URL: part.ImageURL},
			})
		}
	}
	data, _ := json.Marshal(parts)
	wire.Content = data
	return wire
}

func (wireResponse *chatResponse) toResponse() *llm.Response {
	response := &llm.Response{
		Model: wireResponse.Model,
		Usage: llm.Usage{
			InputTokens:  wireResponse.Usage.PromptTokens,
			OutputTokens: wireResponse.Usage.CompletionTokens,
		},
	}
	if len(wireResponse.Choices) == 0 {
		return response
	}

	choice := wireResponse.Choices[0]
	response.Text = choice.Message.Content
	response.StopReason = mapFinishReason(choice.FinishReason)
	return response
}

func mapFinishReason(reason string) llm.StopReason {
	switch reason {
	case "stop":
		return llm.StopReasonEndTurn
	case "length":
		return llm.StopReasonMaxTokens
	default:
		// Unknown reasons (e.g. content filtering) are preserved
		// rather than silently mapped.
		return llm.StopReason(reason)
	}
}
