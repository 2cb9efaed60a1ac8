// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package prompt composes system prompts and normalizes conversation
// messages before they reach a provider adapter.
//
// A [Builder] owns the default persona texts and the optional persona
// resolvers. Per request it produces a system prompt (persona body
// plus a current-time header and an optional reply-context note) and
// a formatted copy of the conversation window with group sender
// prefixes applied.
//
// Persona resolution never fails a request: lookup errors and unknown
// persona names are logged and fall back to the default text for the
// chat type.
package prompt
