// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package window

import (
	"log/slog"

	"github.com/couriergram/courier/lib/llm"
	"github.com/couriergram/courier/lib/llm/tokens"
)

// fallbackRecent is how many of the newest messages to keep when
// trimming cannot do token accounting at all. Availability over
// correctness: a request with imprecise context beats a failed request.
const fallbackRecent = 20

// CostFunc returns the token cost of one message. The trimmer calls
// it only for messages without a stored cost. An error marks the one
// message as uncountable; it does not abort the trim.
type CostFunc func(message llm.Message) (int, error)

// CounterCost adapts a [tokens.Counter] into a CostFunc. The cost of
// a message is its cost as a single-message batch, matching how the
// stored per-message costs were produced.
func CounterCost(counter tokens.Counter) CostFunc {
	return func(message llm.Message) (int, error) {
		return counter.Count([]llm.Message{message}), nil
	}
}

// Trimmer selects the suffix of a conversation that fits a token
// budget. It is a pure function of its inputs and safe to share
// across goroutines.
type Trimmer struct {
	cost   CostFunc
	logger *slog.Logger
}

// NewTrimmer creates a Trimmer using cost for messages that carry no
// stored token count. A nil logger discards log output.
func NewTrimmer(cost CostFunc, logger *slog.Logger) *Trimmer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Trimmer{cost: cost, logger: logger}
}

// Trim returns the longest contiguous suffix of messages whose total
// cost fits within maxTokens minus reserve. The input is chronological
// (oldest first) and so is the result.
//
// The newest message is always included, even when it alone exceeds
// the budget (logged, not failed) — the active prompt is never
// dropped. Messages whose cost cannot be determined are skipped with
// a logged notice rather than aborting the trim.
func (trimmer *Trimmer) Trim(messages []llm.Message, maxTokens, reserve int) []llm.Message {
	if len(messages) == 0 {
		return nil
	}
	if len(messages) == 1 {
		return messages
	}
	if trimmer.cost == nil {
		// No way to account costs; keep the newest messages and move on.
		trimmer.logger.Error("trimmer has no cost function, keeping recent messages",
			"kept", fallbackRecent)
		if len(messages) > fallbackRecent {
			return messages[len(messages)-fallbackRecent:]
		}
		return messages
	}

	budget := maxTokens - reserve

	newest := messages[len(messages)-1]
	newestCost, err := trimmer.messageCost(newest)
	if err != nil {
		trimmer.logger.Warn("cost of newest message unknown, keeping it anyway", "error", err)
		newestCost = 0
	}
	if newestCost > budget {
		trimmer.logger.Warn("newest message alone exceeds token budget",
			"cost", newestCost, "budget", budget)
	}

	// Walk the rest newest to oldest, accumulating while within
	// budget. Stop at the first message that would exceed it so the
	// result is a contiguous suffix, never a sparse subset.
	kept := []llm.Message{newest}
	used := newestCost
	for i := len(messages) - 2; i >= 0; i-- {
		cost, err := trimmer.messageCost(messages[i])
		if err != nil {
			trimmer.logger.Warn("skipping message with uncountable cost",
				"index", i, "error", err)
			continue
		}
		if used+cost > budget {
			break
		}
		kept = append(kept, messages[i])
		used += cost
	}

	// Restore chronological order.
	for left, right := 0, len(kept)-1; left < right; left, right = left+1, right-1 {
		kept[left], kept[right] = kept[right], kept[left]
	}

	if trimmed := len(messages) - len(kept); trimmed > 0 {
		trimmer.logger.Info("trimmed history to fit context window",
			"trimmed", trimmed, "kept", len(kept), "used_tokens", used, "budget", budget)
	}

	return kept
}

// messageCost returns the stored cost when the message carries one,
// otherwise computes a fresh value. Newly composed content (the live
// multimodal turn) arrives without a stored cost.
func (trimmer *Trimmer) messageCost(message llm.Message) (int, error) {
	if message.TokenCount > 0 {
		return message.TokenCount, nil
	}
	return trimmer.cost(message)
}
