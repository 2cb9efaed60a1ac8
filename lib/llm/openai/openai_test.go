// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/couriergram/courier/lib/llm"
)

func testAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	adapter, err := New(Config{
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
		BaseURL: server.URL,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return adapter
}

func completedResponse(text string) responsesResponse {
	return responsesResponse{
		ID:     "resp_1",
		Model:  "gpt-4o-mini",
		Status: "completed",
		Output: []outputItem{{
			Type: "message",
			Role: "assistant",
			Content: []outputPart{{
				Type: "output_text",
				Text: text,
			}},
		}},
		Usage: responsesUsage{InputTokens: 10, OutputTokens: 5},
	}
}

func TestCompleteParsesResponse(t *testing.T) {
	t.Parallel()
	var captured responsesRequest
	adapter := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/responses" {
			t.Errorf("path = %q, want /responses", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(completedResponse("Hello there."))
	})

	response, err := adapter.Complete(context.Background(), llm.Request{
		Messages:  []llm.Message{llm.UserMessage("hi")},
		System:    "Be brief.",
		MaxTokens: 100,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if response.Text != "Hello there." {
		t.Errorf("Text = %q", response.Text)
	}
	if response.StopReason != llm.StopReasonEndTurn {
		t.Errorf("StopReason = %q", response.StopReason)
	}
	if response.Usage.InputTokens != 10 || response.Usage.OutputTokens != 5 {
		t.Errorf("Usage = %+v", response.Usage)
	}

	if captured.Model != "gpt-4o-mini" {
		t.Errorf("wire model = %q", captured.Model)
	}
	if captured.Instructions != "Be brief." {
		t.Errorf("wire instructions = %q", captured.Instructions)
	}
	if captured.MaxOutputTokens != 100 {
		t.Errorf("wire max_output_tokens = %d", captured.MaxOutputTokens)
	}
	if captured.Temperature == nil || *captured.Temperature != defaultTemperature {
		t.Errorf("wire temperature = %v, want default %v", captured.Temperature, defaultTemperature)
	}
	if len(captured.Input) != 1 {
		t.Fatalf("wire input has %d messages", len(captured.Input))
	}
	var text string
	if err := json.Unmarshal(captured.Input[0].Content, &text); err != nil || text != "hi" {
		t.Errorf("wire content = %s (text-only messages use the string shorthand)", captured.Input[0].Content)
	}
}

func TestCompleteMaxTokensStop(t *testing.T) {
	t.Parallel()
	adapter := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		wireResponse := completedResponse("truncat")
		wireResponse.Status = "incomplete"
		wireResponse.IncompleteDetails = &incompleteDetails{Reason: "max_output_tokens"}
		json.NewEncoder(w).Encode(wireResponse)
	})

	response, err := adapter.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{llm.UserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if response.StopReason != llm.StopReasonMaxTokens {
		t.Errorf("StopReason = %q, want %q", response.StopReason, llm.StopReasonMaxTokens)
	}
}

func TestCompleteTranslatesStatusCodes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		status int
		body   string
		want   llm.Kind
	}{
		{"unauthorized", 401, `{"error":{"type":"invalid_request_error","message":"bad key"}}`, llm.KindInvalidCredentials},
		{"rate limited", 429, `{"error":{"type":"rate_limit_error","message":"slow down"}}`, llm.KindRateLimited},
		{"server error", 500, `{"error":{"message":"boom"}}`, llm.KindBackendInternal},
		{"context too large", 400, `{"error":{"type":"invalid_request_error","code":"context_length_exceeded","message":"too long"}}`, llm.KindContextTooLarge},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			adapter := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(test.status)
				io.WriteString(w, test.body)
			})

			_, err := adapter.Complete(context.Background(), llm.Request{
				Messages: []llm.Message{llm.UserMessage("hi")},
			})
			typed := llm.AsError(err)
			if typed == nil {
				t.Fatalf("error %v is not a taxonomy error", err)
			}
			if typed.Kind != test.want {
				t.Errorf("Kind = %s, want %s", typed.Kind, test.want)
			}
		})
	}
}

func TestStreamParsesSSE(t *testing.T) {
	t.Parallel()
	adapter := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: response.created\ndata: {}\n\n")
		fmt.Fprint(w, "event: response.output_text.delta\ndata: {\"delta\":\"Hel\"}\n\n")
		fmt.Fprint(w, "event: response.output_text.delta\ndata: {\"delta\":\"lo\"}\n\n")
		fmt.Fprint(w, "event: response.completed\ndata: ")
		data, _ := json.Marshal(struct {
			Response responsesResponse `json:"response"`
		}{completedResponse("Hello")})
		w.Write(data)
		fmt.Fprint(w, "\n\n")
	})

	stream, err := adapter.Stream(context.Background(), llm.Request{
		Messages: []llm.Message{llm.UserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	var snapshots []string
	for {
		snapshot, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		snapshots = append(snapshots, snapshot)
	}

	if len(snapshots) != 2 || snapshots[0] != "Hel" || snapshots[1] != "Hello" {
		t.Errorf("snapshots = %v, want growing [Hel Hello]", snapshots)
	}
	response := stream.Response()
	if response.Text != "Hello" {
		t.Errorf("Response.Text = %q", response.Text)
	}
	if response.Usage.InputTokens != 10 || response.Usage.OutputTokens != 5 {
		t.Errorf("Usage = %+v", response.Usage)
	}
}

func TestStreamFailureEvent(t *testing.T) {
	t.Parallel()
	adapter := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: response.output_text.delta\ndata: {\"delta\":\"partial\"}\n\n")
		fmt.Fprint(w, "event: error\ndata: {\"code\":\"server_error\",\"message\":\"upstream failure\"}\n\n")
	})

	stream, err := adapter.Stream(context.Background(), llm.Request{
		Messages: []llm.Message{llm.UserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	if snapshot, err := stream.Next(); err != nil || snapshot != "partial" {
		t.Fatalf("Next = %q, %v", snapshot, err)
	}
	_, err = stream.Next()
	if llm.AsError(err) == nil {
		t.Fatalf("stream error %v is not a taxonomy error", err)
	}
	if stream.Text() != "partial" {
		t.Errorf("Text after failure = %q, want partial preserved", stream.Text())
	}
}

func TestBuildRequestGPT5Controls(t *testing.T) {
	t.Parallel()
	adapter := testAdapter(t, nil)
	adapter.model = "gpt-5-mini"

	wireRequest := adapter.buildRequest(llm.Request{
		Messages: []llm.Message{llm.UserMessage("hi")},
	}, false)

	if wireRequest.Temperature != nil {
		t.Error("gpt-5 models must not receive a temperature parameter")
	}
	if wireRequest.Text == nil || wireRequest.Text.Verbosity != "low" {
		t.Errorf("Text = %+v, want verbosity low", wireRequest.Text)
	}
	if wireRequest.Reasoning == nil || wireRequest.Reasoning.Effort != "low" {
		t.Errorf("Reasoning = %+v, want effort low", wireRequest.Reasoning)
	}
}

func TestBuildRequestExplicitTemperature(t *testing.T) {
	t.Parallel()
	adapter := testAdapter(t, nil)

	temperature := 0.2
	wireRequest := adapter.buildRequest(llm.Request{
		Messages:    []llm.Message{llm.UserMessage("hi")},
		Temperature: &temperature,
	}, false)
	if wireRequest.Temperature == nil || *wireRequest.Temperature != 0.2 {
		t.Errorf("Temperature = %v, want the explicit 0.2", wireRequest.Temperature)
	}
}

func TestMultimodalInputParts(t *testing.T) {
	t.Parallel()
	message := llm.Message{
		Role: llm.RoleUser,
		Content: []llm.ContentPart{
			llm.TextPart("what is this"),
			llm.ImagePart("https://example.com/cat.png"),
		},
	}
	wire := toInputMessage(message)

	var parts []inputPart
	if err := json.Unmarshal(wire.Content, &parts); err != nil {
		t.Fatalf("content is not a part array: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("got %d parts, want 2", len(parts))
	}
	if parts[0].Type != "input_text" || parts[0].Text != "what is this" {
		t.Errorf("parts[0] = %+v", parts[0])
	}
	if parts[1].Type != "input_image" || parts[1].ImageURL != "https://example.com/cat.png" {
		t.Errorf("parts[1] = %+v", parts[1])
	}
}

func TestTestConnectivityNeverErrors(t *testing.T) {
	t.Parallel()
	healthy := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(completedResponse("Hi!"))
	})
	if !healthy.TestConnectivity(context.Background()) {
		t.Error("TestConnectivity = false against a healthy backend")
	}

	broken := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	if broken.TestConnectivity(context.Background()) {
		t.Error("TestConnectivity = true against a broken backend")
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Model: "gpt-4o-mini"}); err == nil {
		t.Error("New without APIKey succeeded")
	}
	if _, err := New(Config{APIKey: "k"}); err == nil {
		t.Error("New without Model succeeded")
	}
}
