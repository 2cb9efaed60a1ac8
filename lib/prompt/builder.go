// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package prompt

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/couriergram/courier/lib/clock"
	"github.com/couriergram/courier/lib/llm"
)

// PersonaNormal is the sentinel persona name meaning "no custom
// persona": when the active persona resolves to this, the builder
// uses the default text for the chat type instead of a lookup.
const PersonaNormal = "normal"

// timestampLayout is second-precision ISO 8601 with a numeric offset.
const timestampLayout = "2006-01-02T15:04:05-07:00"

// ReplyContext describes the message the triggering message replies
// to. It is folded into the system prompt rather than the persisted
// history.
type ReplyContext struct {
	SenderName string
	Content    string
}

// Config holds the parameters for building a Builder.
type Config struct {
	// DefaultPrivate is the persona body for one-on-one chats.
	DefaultPrivate string

	// DefaultGroup is the persona body for multi-party chats when no
	// custom persona is active.
	DefaultGroup string

	// ActivePersona returns the name of the persona currently active
	// for group chats. Nil disables persona resolution.
	ActivePersona func() (string, error)

	// PersonaText returns the body for a persona name. The bool
	// reports whether the persona exists. Nil disables persona
	// resolution.
	PersonaText func(name string) (string, bool, error)

	// Timezone is the IANA zone name used for the current-time header.
	// Empty means UTC. An unloadable zone falls back to UTC with a
	// logged warning.
	Timezone string

	// Clock supplies the current time. Nil means clock.Real().
	Clock clock.Clock

	// Logger receives diagnostics. If nil, a no-op logger is used.
	Logger *slog.Logger
}

// Builder composes system prompts and formats conversation windows.
// Safe for concurrent use: it holds no per-request state.
type Builder struct {
	defaultPrivate string
	defaultGroup   string
	activePersona  func() (string, error)
	personaText    func(string) (string, bool, error)
	location       *time.Location
	clock          clock.Clock
	logger         *slog.Logger
}

// New creates a Builder from cfg. The timezone is resolved once, at
// construction.
func New(cfg Config) *Builder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	location := time.UTC
	if cfg.Timezone != "" {
		loaded, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			logger.Warn("timezone unavailable, falling back to UTC",
				"timezone", cfg.Timezone,
				"error", err,
			)
		} else {
			location = loaded
		}
	}

	return &Builder{
		defaultPrivate: cfg.DefaultPrivate,
		defaultGroup:   cfg.DefaultGroup,
		activePersona:  cfg.ActivePersona,
		personaText:    cfg.PersonaText,
		location:       location,
		clock:          clk,
		logger:         logger,
	}
}

// SystemPrompt builds the final system prompt. The persona body is
// chosen by precedence: an explicit override wins, then the active
// stored persona for group chats (unless it is [PersonaNormal] or the
// lookup fails), then the built-in default for the chat type. The
// current-time header is always prepended and the reply note, when
// present, always appended.
func (builder *Builder) SystemPrompt(isGroup bool, override string, reply *ReplyContext) string {
	var body string
	switch {
	case override != "":
		body = override
		builder.logger.Debug("using explicit system prompt override")
	case isGroup:
		body = builder.resolveGroupPersona()
		if body == "" {
			body = builder.defaultGroup
			builder.logger.Debug("using default group prompt")
		}
	default:
		body = builder.defaultPrivate
		builder.logger.Debug("using default private prompt")
	}

	now := builder.clock.Now().In(builder.location).Format(timestampLayout)
	prompt := fmt.Sprintf("Current date/time: %s\n\n\"%s\"", now, body)

	if reply != nil {
		prompt += fmt.Sprintf("\nNote: The user is replying to a previous message from %s: \"%s\"",
			reply.SenderName, reply.Content)
		builder.logger.Debug("added reply context to system prompt")
	}

	return prompt
}

// resolveGroupPersona returns the active custom persona body, or ""
// when the default should be used. Lookup failures never propagate.
func (builder *Builder) resolveGroupPersona() string {
	if builder.activePersona == nil || builder.personaText == nil {
		builder.logger.Debug("no persona resolvers configured")
		return ""
	}

	active, err := builder.activePersona()
	if err != nil {
		builder.logger.Error("resolving active persona failed", "error", err)
		return ""
	}
	if active == PersonaNormal {
		builder.logger.Debug("active persona is normal, using default group prompt")
		return ""
	}

	body, found, err := builder.personaText(active)
	if err != nil {
		builder.logger.Error("fetching persona text failed",
			"persona", active,
			"error", err,
		)
		return ""
	}
	if !found || body == "" {
		builder.logger.Warn("persona not found, using default group prompt",
			"persona", active,
		)
		return ""
	}

	builder.logger.Debug("using custom group persona", "persona", active)
	return body
}

// FormatMessages returns a copy of messages ready for a provider
// adapter. In group chats, user messages get a "[SenderName]: "
// prefix on their first text part unless the text is already
// bracket-prefixed, so reformatting an already formatted window never
// double-prefixes. Parts of unrecognized kind are dropped with a
// logged notice.
func (builder *Builder) FormatMessages(messages []llm.Message, isGroup bool) []llm.Message {
	formatted := make([]llm.Message, 0, len(messages))

	for _, message := range messages {
		out := message
		out.Content = make([]llm.ContentPart, 0, len(message.Content))

		prefixed := false
		for _, part := range message.Content {
			switch part.Kind {
			case llm.PartText:
				if isGroup && !prefixed {
					part.Text = applySenderPrefix(message, part.Text)
					prefixed = true
				}
				out.Content = append(out.Content, part)
			case llm.PartImage:
				out.Content = append(out.Content, part)
			default:
				builder.logger.Debug("dropping unsupported content part",
					"kind", string(part.Kind),
					"role", string(message.Role),
				)
			}
		}

		formatted = append(formatted, out)
	}

	return formatted
}

// applySenderPrefix prefixes group user text with the sender's name.
// Text already starting with "[" is assumed prefixed and left alone.
func applySenderPrefix(message llm.Message, text string) string {
	if message.Role != llm.RoleUser {
		return text
	}
	if len(text) > 0 && text[0] == '[' {
		return text
	}
	name := message.SenderName
	if name == "" {
		name = "Unknown"
	}
	return fmt.Sprintf("[%s]: %s", name, text)
}
