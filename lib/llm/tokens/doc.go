// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package tokens computes the token cost of chat messages.
//
// [BPECounter] counts exactly using a tiktoken byte-pair encoding and
// mirrors the chat markup framing: four tokens of overhead per
// message, the encoded length of each attribute, a one-token credit
// when a sender name replaces the role framing, and two tokens of
// reply priming per batch. [Estimator] is the universal fallback
// (four characters per token plus per-message overhead) used when no
// encoding is available or exact counting fails mid-batch.
//
// Both satisfy [Counter] and neither ever returns an error: token
// accounting sits on every request path, so it degrades instead of
// failing. Image parts are charged a fixed per-part cost chosen by
// the provider adapter, since image pricing is provider policy.
package tokens
