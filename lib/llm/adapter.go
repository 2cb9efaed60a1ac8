// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Adapter is the capability set every backend variant implements.
// All methods that reach the network translate failures into [*Error]
// values from the taxonomy in this package; they never surface raw
// transport or vendor errors.
type Adapter interface {
	// Complete sends a request and blocks until the full response is
	// available. On failure the returned error is always a [*Error].
	Complete(ctx context.Context, request Request) (*Response, error)

	// Stream sends a request and returns a [Stream] of growing text
	// snapshots. The caller must call [Stream.Close] when done, even
	// if iteration ended early.
	Stream(ctx context.Context, request Request) (*Stream, error)

	// CountTokens returns the local token cost of the messages using
	// a counter appropriate for this backend. Never fails; degrades
	// to an estimate on malformed input.
	CountTokens(messages []Message) int

	// MaxContextTokens returns the model's context window ceiling,
	// from a static table with a conservative default for
	// unrecognized models.
	MaxContextTokens() int

	// ModelName returns the configured model identifier.
	ModelName() string

	// TestConnectivity fires a minimal request to confirm the
	// credentials and reachability. Never returns an error; any
	// failure reports false.
	TestConnectivity(ctx context.Context) bool
}

// NextFunc is the iteration function backing a Stream, supplied by a
// provider adapter. Returns io.EOF when the stream is complete.
type NextFunc func() (StreamEvent, error)

// Stream yields growing full-text snapshots of a streaming response.
// Each call to [Next] returns the complete text generated so far, not
// a delta, so any snapshot can be displayed standalone. The consumer
// is responsible for throttling how often it surfaces snapshots to a
// rate-limited sink.
//
// Stream is lazy, finite, and not restartable. It is not safe for
// concurrent use.
type Stream struct {
	next     NextFunc
	closer   io.Closer
	text     strings.Builder
	response Response
	done     bool
}

// NewStream creates a Stream from an adapter's event iteration
// function and the resource to release on Close (the response body).
func NewStream(next NextFunc, closer io.Closer) *Stream {
	return &Stream{next: next, closer: closer}
}

// Next returns the next text snapshot. Returns io.EOF when the stream
// completed normally. A non-EOF error means the stream is terminal;
// [Text] still returns whatever arrived before the failure, and the
// consumer should flush it.
func (stream *Stream) Next() (string, error) {
	if stream.done {
		return stream.text.String(), io.EOF
	}

	for {
		event, err := stream.next()
		if err != nil {
			stream.done = true
			return stream.text.String(), err
		}

		switch event.Type {
		case EventTextDelta:
			stream.text.WriteString(event.Text)
			return stream.text.String(), nil
		case EventDone:
			stream.done = true
			stream.response.Text = stream.text.String()
			return stream.text.String(), io.EOF
		case EventError:
			stream.done = true
			return stream.text.String(), event.Error
		default:
			// Pings and unrecognized events produce no snapshot.
		}
	}
}

// Text returns the complete text accumulated so far. Valid at any
// point, including after an error.
func (stream *Stream) Text() string {
	return stream.text.String()
}

// Response returns the accumulated response. Complete only after
// [Next] has returned io.EOF.
func (stream *Stream) Response() Response {
	stream.response.Text = stream.text.String()
	return stream.response
}

// Close releases the underlying HTTP response body. Must be called
// when done with the stream, even after an error.
func (stream *Stream) Close() error {
	if stream.closer != nil {
		return stream.closer.Close()
	}
	return nil
}

// SetUsage records usage statistics during stream parsing. Called by
// adapter implementations.
func (stream *Stream) SetUsage(usage Usage) {
	stream.response.Usage = usage
}

// AddOutputTokens increments the output token count, for providers
// that report usage incrementally.
func (stream *Stream) AddOutputTokens(count int64) {
	stream.response.Usage.OutputTokens += count
}

// SetModel records the model name reported by the provider.
func (stream *Stream) SetModel(model string) {
	stream.response.Model = model
}

// SetStopReason records why generation stopped.
func (stream *Stream) SetStopReason(reason StopReason) {
	stream.response.StopReason = reason
}

// PostJSON marshals wireRequest, POSTs it to endpoint with a bearer
// token, and returns the HTTP response. Non-200 statuses become a
// [*WireError] parsed from the body. When streaming is true the Accept
// header requests an event stream.
//
// On success the caller owns the response body. On error the body is
// already closed.
func PostJSON(ctx context.Context, client *http.Client, endpoint, apiKey string, wireRequest any, streaming bool) (*http.Response, error) {
	body, err := json.Marshal(wireRequest)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Authorization", "Bearer "+apiKey)
	if streaming {
		httpRequest.Header.Set("Accept", "text/event-stream")
	}

	httpResponse, err := client.Do(httpRequest)
	if err != nil {
		return nil, err
	}

	if httpResponse.StatusCode != http.StatusOK {
		defer httpResponse.Body.Close()
		return nil, readWireError(httpResponse)
	}

	return httpResponse, nil
}

// DecodeJSON reads an HTTP response body into wireResponse and closes
// the body.
func DecodeJSON(httpResponse *http.Response, wireResponse any) error {
	defer httpResponse.Body.Close()
	if err := json.NewDecoder(httpResponse.Body).Decode(wireResponse); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// readWireError parses an error response in the common OpenAI-style
// format {"error":{"type":"...","code":"...","message":"..."}}. Bodies
// that do not match are preserved verbatim in the message.
func readWireError(httpResponse *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(httpResponse.Body, 4096))

	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		return &WireError{
			StatusCode: httpResponse.StatusCode,
			Type:       envelope.Error.Type,
			Code:       envelope.Error.Code,
			Message:    envelope.Error.Message,
		}
	}

	return &WireError{
		StatusCode: httpResponse.StatusCode,
		Message:    string(body),
	}
}
