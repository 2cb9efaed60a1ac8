// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline orchestrates one conversational turn: authorize
// the sender, price and persist the inbound message, assemble a
// token-bounded context window, compose the system prompt, call the
// provider, and deliver the reply.
//
// Ordering matters on the write path: the user's message is persisted
// before the provider call so a crash mid-call still leaves usable
// history, and the assistant's reply is persisted only after a
// successful completion so error text never poisons the history.
//
// Provider calls run under a bounded semaphore so a burst of chats
// cannot open unlimited concurrent backend requests. Streaming
// replies are delivered as edit-in-place updates, throttled to a
// minimum interval, with a guaranteed final flush of whatever text
// arrived.
package pipeline
