// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package llm provides a provider-agnostic interface for Large Language
// Model chat APIs with streaming and multimodal (text + image) support.
//
// The primary abstraction is [Adapter], which supports blocking
// completion, streaming, local token counting, context-window lookup,
// and a connectivity probe. Adapter implementations translate between
// the common types in this package and each vendor's wire format;
// shared concerns (system-prompt composition, group-chat sender
// attribution, token budgeting) live outside the adapters so they are
// written once, not per backend.
//
// Streaming uses Server-Sent Events (SSE), parsed by [SSEScanner].
// [Stream] wraps a streaming response and yields growing full-text
// snapshots via [Stream.Next] — each snapshot is the complete text so
// far, not a delta, so a consumer can display any snapshot standalone.
//
// Errors crossing the adapter boundary are always [*Error] values
// carrying a [Kind] from the fixed taxonomy and a user-safe message.
// Raw transport or vendor errors never escape an adapter.
//
// Adapter implementations live in vendor subpackages so they can use
// the token accounting and context-window packages without an import
// cycle:
//   - llm/openai: the OpenAI Responses API (/v1/responses), also used
//     for xAI via a custom base URL
//   - llm/groq: the Groq chat-completions API (OpenAI chat wire format)
package llm
