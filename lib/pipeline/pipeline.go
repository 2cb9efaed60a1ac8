// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/couriergram/courier/lib/access"
	"github.com/couriergram/courier/lib/clock"
	"github.com/couriergram/courier/lib/history"
	"github.com/couriergram/courier/lib/llm"
	"github.com/couriergram/courier/lib/llm/tokens"
	"github.com/couriergram/courier/lib/llm/window"
	"github.com/couriergram/courier/lib/prompt"
)

// User-facing replies for the non-completion outcomes.
const (
	accessDeniedReply = "Sorry, you have no access to me."
	emptyPromptReply  = "Yes, what's your request?"
	internalReply     = "Sorry, I encountered an error processing your request. Please try again."
)

// defaultEditInterval is the minimum spacing between edit-in-place
// updates while streaming. Chat platforms rate-limit message edits.
const defaultEditInterval = time.Second

// Event is one normalized inbound chat message.
type Event struct {
	// ChatID identifies the conversation.
	ChatID string

	// UserID and MessageID are the platform identifiers of the sender
	// and the inbound message.
	UserID    int64
	MessageID int64

	// IsGroup marks multi-party conversations.
	IsGroup bool

	SenderName     string
	SenderUsername string

	// Text is the message text, already stripped of any activation
	// keyword.
	Text string

	// ImageURL is an optional attached image, as a data URL or remote
	// URL.
	ImageURL string

	// Reply describes the message this one replies to, when the
	// transport reports one.
	Reply *prompt.ReplyContext
}

// Responder delivers output for one event. Send displays a new
// message; Edit replaces the text of the message Send displayed,
// for streaming updates.
type Responder interface {
	Send(ctx context.Context, text string) error
	Edit(ctx context.Context, text string) error
}

// Config holds the pipeline's collaborators and policy knobs.
type Config struct {
	// Adapter is the LLM backend. Required.
	Adapter llm.Adapter

	// Counter prices newly composed messages. Required.
	Counter tokens.Counter

	// History is the message store. Required.
	History *history.Store

	// Trimmer bounds the context window. Required.
	Trimmer *window.Trimmer

	// Builder composes system prompts and formats windows. Required.
	Builder *prompt.Builder

	// Access gates who may use the assistant. Nil allows everyone.
	Access *access.Store

	// ReserveTokens is withheld from the context window for the
	// response.
	ReserveTokens int

	// MaxResponseTokens caps generated reply length. Zero lets the
	// adapter choose.
	MaxResponseTokens int

	// Stream selects incremental delivery over single-shot
	// completion.
	Stream bool

	// MaxConcurrent bounds simultaneous provider calls. Zero means 1.
	MaxConcurrent int

	// EditInterval is the minimum spacing between streaming edits.
	// Zero means one second.
	EditInterval time.Duration

	// KeepGroupRecent is how many messages the retention pass keeps
	// per group chat. Zero disables retention.
	KeepGroupRecent int

	// CleanupInterval is how often the retention pass runs. Zero
	// disables retention.
	CleanupInterval time.Duration

	// Clock drives edit throttling and retention. Nil means
	// clock.Real().
	Clock clock.Clock

	// Logger receives diagnostics. If nil, a no-op logger is used.
	Logger *slog.Logger
}

// Pipeline processes chat events. Safe for concurrent use; provider
// calls are bounded by the configured semaphore.
type Pipeline struct {
	adapter           llm.Adapter
	counter           tokens.Counter
	history           *history.Store
	trimmer           *window.Trimmer
	builder           *prompt.Builder
	access            *access.Store
	reserveTokens     int
	maxResponseTokens int
	stream            bool
	editInterval      time.Duration
	keepGroupRecent   int
	cleanupInterval   time.Duration
	slots             chan struct{}
	clock             clock.Clock
	logger            *slog.Logger
}

// New creates a Pipeline from cfg.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Adapter == nil {
		return nil, fmt.Errorf("pipeline: Adapter is required")
	}
	if cfg.Counter == nil {
		return nil, fmt.Errorf("pipeline: Counter is required")
	}
	if cfg.History == nil {
		return nil, fmt.Errorf("pipeline: History is required")
	}
	if cfg.Trimmer == nil {
		return nil, fmt.Errorf("pipeline: Trimmer is required")
	}
	if cfg.Builder == nil {
		return nil, fmt.Errorf("pipeline: Builder is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	editInterval := cfg.EditInterval
	if editInterval <= 0 {
		editInterval = defaultEditInterval
	}

	return &Pipeline{
		adapter:           cfg.Adapter,
		counter:           cfg.Counter,
		history:           cfg.History,
		trimmer:           cfg.Trimmer,
		builder:           cfg.Builder,
		access:            cfg.Access,
		reserveTokens:     cfg.ReserveTokens,
		maxResponseTokens: cfg.MaxResponseTokens,
		stream:            cfg.Stream,
		editInterval:      editInterval,
		keepGroupRecent:   cfg.KeepGroupRecent,
		cleanupInterval:   cfg.CleanupInterval,
		slots:             make(chan struct{}, maxConcurrent),
		clock:             clk,
		logger:            logger,
	}, nil
}

// Process handles one inbound event end to end. User-visible outcomes
// (including provider errors) are delivered through responder; the
// returned error reports only delivery and storage failures the
// caller may want to log.
func (pipeline *Pipeline) Process(ctx context.Context, event Event, responder Responder) error {
	logger := pipeline.logger.With(
		"request_id", uuid.NewString(),
		"chat_id", event.ChatID,
	)

	if pipeline.access != nil && !pipeline.access.Allowed(ctx, event.UserID) {
		logger.Warn("unauthorized user", "user_id", event.UserID)
		return responder.Send(ctx, accessDeniedReply)
	}

	if strings.TrimSpace(event.Text) == "" && event.ImageURL == "" {
		return responder.Send(ctx, emptyPromptReply)
	}

	userMessage := buildUserMessage(event)
	userMessage.TokenCount = pipeline.counter.CountSingle(llm.RoleUser, userMessage.Content)

	// Persist before calling the provider: a crash mid-call must not
	// lose the user's turn.
	_, err := pipeline.history.Append(ctx, event.ChatID, history.Record{
		Message:   userMessage,
		UserID:    event.UserID,
		MessageID: event.MessageID,
	})
	if err != nil {
		logger.Error("persisting user message failed", "error", err)
		if sendErr := responder.Send(ctx, internalReply); sendErr != nil {
			return sendErr
		}
		return err
	}

	maxContext := pipeline.adapter.MaxContextTokens()
	conversation := pipeline.history.RecentWithinBudget(ctx, event.ChatID, maxContext, false)
	if len(conversation) == 0 {
		// The storage read degraded all the way; answer from the live
		// turn alone rather than failing.
		conversation = []llm.Message{userMessage}
	}
	trimmed := pipeline.trimmer.Trim(conversation, maxContext, pipeline.reserveTokens)

	request := llm.Request{
		Messages:  pipeline.builder.FormatMessages(trimmed, event.IsGroup),
		System:    pipeline.builder.SystemPrompt(event.IsGroup, "", event.Reply),
		MaxTokens: pipeline.maxResponseTokens,
	}

	logger.Info("dispatching request",
		"messages", len(request.Messages),
		"user_tokens", userMessage.TokenCount,
		"stream", pipeline.stream,
	)

	select {
	case pipeline.slots <- struct{}{}:
		defer func() { <-pipeline.slots }()
	case <-ctx.Done():
		return ctx.Err()
	}

	if pipeline.stream {
		return pipeline.streamReply(ctx, logger, event, request, responder)
	}
	return pipeline.completeReply(ctx, logger, event, request, responder)
}

func (pipeline *Pipeline) completeReply(ctx context.Context, logger *slog.Logger, event Event, request llm.Request, responder Responder) error {
	response, err := pipeline.adapter.Complete(ctx, request)
	if err != nil {
		logger.Error("completion failed", "error", err)
		return responder.Send(ctx, userFacing(err))
	}

	pipeline.persistAssistant(ctx, logger, event, response.Text)
	logger.Info("response sent",
		"model", response.Model,
		"stop_reason", string(response.StopReason),
		"output_tokens", response.Usage.OutputTokens,
	)
	return responder.Send(ctx, response.Text)
}

// streamReply drives a streaming completion, surfacing growing text
// snapshots as throttled edit-in-place updates. Whatever text arrived
// is always flushed once the stream ends, even on a mid-stream error.
func (pipeline *Pipeline) streamReply(ctx context.Context, logger *slog.Logger, event Event, request llm.Request, responder Responder) error {
	stream, err := pipeline.adapter.Stream(ctx, request)
	if err != nil {
		logger.Error("opening stream failed", "error", err)
		return responder.Send(ctx, userFacing(err))
	}
	defer stream.Close()

	var (
		sent      bool
		flushed   string
		lastEdit  time.Time
		streamErr error
	)

	flush := func(text string) error {
		if text == "" || text == flushed {
			return nil
		}
		flushed = text
		if !sent {
			sent = true
			return responder.Send(ctx, text)
		}
		return responder.Edit(ctx, text)
	}

	for {
		snapshot, nextErr := stream.Next()
		if nextErr == io.EOF {
			break
		}
		if nextErr != nil {
			streamErr = nextErr
			break
		}

		now := pipeline.clock.Now()
		if !sent || now.Sub(lastEdit) >= pipeline.editInterval {
			if deliverErr := flush(snapshot); deliverErr != nil {
				logger.Warn("delivering stream update failed", "error", deliverErr)
			} else {
				lastEdit = now
			}
		}
	}

	// Final flush of the last known snapshot, regardless of how the
	// stream ended.
	finalText := stream.Text()
	if deliverErr := flush(finalText); deliverErr != nil {
		logger.Warn("final stream flush failed", "error", deliverErr)
	}

	if streamErr != nil {
		logger.Error("stream failed", "error", streamErr, "partial_chars", len(finalText))
		if finalText == "" {
			return responder.Send(ctx, userFacing(streamErr))
		}
		return nil
	}

	pipeline.persistAssistant(ctx, logger, event, finalText)
	response := stream.Response()
	logger.Info("streamed response sent",
		"model", response.Model,
		"stop_reason", string(response.StopReason),
		"output_tokens", response.Usage.OutputTokens,
	)
	return nil
}

// persistAssistant records a successful reply. Storage failures here
// are logged but do not fail the turn: the user already has the text.
func (pipeline *Pipeline) persistAssistant(ctx context.Context, logger *slog.Logger, event Event, text string) {
	if text == "" {
		return
	}
	message := llm.AssistantMessage(text)
	message.IsGroup = event.IsGroup
	message.TokenCount = pipeline.counter.CountSingle(llm.RoleAssistant, message.Content)

	if _, err := pipeline.history.Append(ctx, event.ChatID, history.Record{Message: message}); err != nil {
		logger.Error("persisting assistant message failed", "error", err)
	}
}

// RunRetention periodically trims group chats to the configured
// recent-message count. Blocks until ctx is cancelled. A no-op when
// retention is not configured.
func (pipeline *Pipeline) RunRetention(ctx context.Context) error {
	if pipeline.cleanupInterval <= 0 || pipeline.keepGroupRecent <= 0 {
		return nil
	}

	ticker := pipeline.clock.NewTicker(pipeline.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pipeline.retentionPass(ctx)
		}
	}
}

func (pipeline *Pipeline) retentionPass(ctx context.Context) {
	chatIDs, err := pipeline.history.GroupChats(ctx)
	if err != nil {
		pipeline.logger.Error("listing group chats for retention failed", "error", err)
		return
	}
	for _, chatID := range chatIDs {
		if _, err := pipeline.history.CleanupGroup(ctx, chatID, pipeline.keepGroupRecent); err != nil {
			pipeline.logger.Error("group retention failed",
				"chat_id", chatID,
				"error", err,
			)
		}
	}
}

// buildUserMessage converts an event into the message persisted and
// sent to the provider.
func buildUserMessage(event Event) llm.Message {
	var parts []llm.ContentPart
	if event.Text != "" {
		parts = append(parts, llm.TextPart(event.Text))
	}
	if event.ImageURL != "" {
		parts = append(parts, llm.ImagePart(event.ImageURL))
	}

	return llm.Message{
		Role:           llm.RoleUser,
		Content:        parts,
		SenderName:     event.SenderName,
		SenderUsername: event.SenderUsername,
		IsGroup:        event.IsGroup,
	}
}

// userFacing translates an adapter error into the text shown to the
// end user.
func userFacing(err error) string {
	if typed := llm.AsError(err); typed != nil {
		return typed.UserMessage()
	}
	return internalReply
}
