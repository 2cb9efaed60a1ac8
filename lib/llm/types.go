// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package llm

// Role identifies the author of a message.
type Role string

const (
	// RoleUser is a message from a human participant.
	RoleUser Role = "user"

	// RoleAssistant is a message generated by the model.
	RoleAssistant Role = "assistant"

	// RoleSystem is a synthesized instruction message. System messages
	// are composed fresh per request and never stored in history.
	RoleSystem Role = "system"
)

// PartKind discriminates the variants of a ContentPart.
type PartKind string

const (
	// PartText is a plain text segment.
	PartText PartKind = "text"

	// PartImage is an image reference: a data URL or a remote URL.
	PartImage PartKind = "image"
)

// ContentPart is one element of a multimodal message body.
type ContentPart struct {
	Kind PartKind `json:"kind"`

	// Text is the text content. Set when Kind is PartText.
	Text string `json:"text,omitempty"`

	// ImageURL is the image location, either a data URL
	// (data:image/jpeg;base64,...) or a remote https URL.
	// Set when Kind is PartImage.
	ImageURL string `json:"image_url,omitempty"`
}

// Message is the unit of conversation. Content is always a part list;
// plain text messages hold a single PartText part. Messages are
// append-only once persisted.
type Message struct {
	Role    Role          `json:"role"`
	Content []ContentPart `json:"content"`

	// SenderName and SenderUsername attribute the message to a chat
	// participant. Present for group-chat messages, empty otherwise.
	SenderName     string `json:"sender_name,omitempty"`
	SenderUsername string `json:"sender_username,omitempty"`

	// IsGroup records whether the message originated in a multi-party
	// conversation. Affects how the message is serialized for the
	// provider (sender prefixing).
	IsGroup bool `json:"is_group,omitempty"`

	// TokenCount is the cost of this message, computed once at
	// creation time and trusted thereafter. Zero means unknown; the
	// trimmer computes a fresh value in that case.
	TokenCount int `json:"token_count,omitempty"`
}

// Text returns the concatenated text content of the message. Image
// parts contribute nothing.
func (message Message) Text() string {
	if len(message.Content) == 1 && message.Content[0].Kind == PartText {
		return message.Content[0].Text
	}
	var text string
	for _, part := range message.Content {
		if part.Kind == PartText {
			text += part.Text
		}
	}
	return text
}

// HasImage reports whether any content part is an image.
func (message Message) HasImage() bool {
	for _, part := range message.Content {
		if part.Kind == PartImage {
			return true
		}
	}
	return false
}

// TextPart creates a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Kind: PartText, Text: text}
}

// ImagePart creates an image content part from a data URL or remote URL.
func ImagePart(url string) ContentPart {
	return ContentPart{Kind: PartImage, ImageURL: url}
}

// UserMessage creates a plain text user message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []ContentPart{TextPart(text)}}
}

// AssistantMessage creates a plain text assistant message.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: []ContentPart{TextPart(text)}}
}

// Request is a provider-agnostic completion request. Adapters translate
// it to their vendor's wire format.
type Request struct {
	// Messages is the conversation history, oldest first, already
	// trimmed to the token budget and formatted for the target
	// conversation type.
	Messages []Message

	// System is the composed system instruction. Empty means the
	// provider default behavior.
	System string

	// MaxTokens caps the generated response length. Zero lets the
	// adapter choose its default.
	MaxTokens int

	// Temperature overrides the sampling temperature when non-nil.
	Temperature *float64
}

// Usage reports token consumption for a completed request.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// TotalTokens returns input plus output tokens.
func (usage Usage) TotalTokens() int64 {
	return usage.InputTokens + usage.OutputTokens
}

// StopReason describes why the model stopped generating.
type StopReason string

const (
	StopReasonEndTurn   StopReason = "end_turn"
	StopReasonMaxTokens StopReason = "max_tokens"
)

// Response is the completed result of a Request.
type Response struct {
	// Text is the generated assistant text.
	Text string

	// Model is the model identifier reported by the provider.
	Model string

	StopReason StopReason
	Usage      Usage
}

// StreamEventType discriminates events yielded during streaming.
type StreamEventType string

const (
	// EventTextDelta carries an incremental text fragment.
	EventTextDelta StreamEventType = "text_delta"

	// EventDone signals the end of a successful stream.
	EventDone StreamEventType = "done"

	// EventPing is a keepalive; carries no payload.
	EventPing StreamEventType = "ping"

	// EventError carries a mid-stream error from the provider. The
	// stream may still terminate normally afterwards; consumers should
	// keep whatever text arrived before the error.
	EventError StreamEventType = "error"
)

// StreamEvent is a single event from a streaming response.
type StreamEvent struct {
	Type StreamEventType

	// Text is the incremental fragment for EventTextDelta.
	Text string

	// Error is set for EventError.
	Error error
}
