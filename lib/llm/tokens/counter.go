// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package tokens

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"

	"github.com/couriergram/courier/lib/llm"
)

// Counter computes the token cost of messages. Implementations never
// fail: malformed input degrades to an estimate rather than an error,
// so a Counter can sit on every request path without a failure mode.
type Counter interface {
	// Count returns the cost of sending messages as one batch,
	// including per-message framing overhead and the reply priming
	// cost.
	Count(messages []llm.Message) int

	// CountSingle returns the cost of one message in isolation,
	// without the batch-level reply priming. This is the value stored
	// on a message at creation time.
	CountSingle(role llm.Role, content []llm.ContentPart) int
}

// Per-message framing overhead and the priming cost of the assistant
// turn, in tokens. These match the chat markup framing
// <im_start>{role/name}\n{content}<im_end>\n around every message and
// the <im_start>assistant prefix of the reply.
const (
	messageOverhead = 4
	replyPriming    = 2
)

// Config holds the parameters for building a counter.
type Config struct {
	// Model selects the subword encoding. Models unknown to the
	// tokenizer fall back to the cl100k_base encoding; if no encoding
	// can be loaded at all, the counter is a pure estimator.
	Model string

	// ImageTokens is the fixed cost charged per image content part.
	// Image pricing is provider policy, so the adapter supplies it;
	// zero is a valid choice.
	ImageTokens int

	// Logger receives fallback notices. If nil, a no-op logger is used.
	Logger *slog.Logger
}

// New builds the best counter available for the configured model: an
// exact BPE counter when a tokenizer encoding can be loaded, otherwise
// an [Estimator]. Never fails.
func New(cfg Config) Counter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	encoding, err := tiktoken.EncodingForModel(cfg.Model)
	if err != nil {
		logger.Warn("model not known to tokenizer, using cl100k_base encoding",
			"model", cfg.Model, "error", err)
		encoding, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		logger.Error("no tokenizer encoding available, falling back to estimation",
			"model", cfg.Model, "error", err)
		return &Estimator{ImageTokens: cfg.ImageTokens}
	}

	return &BPECounter{
		encoding:    encoding,
		imageTokens: cfg.ImageTokens,
		logger:      logger,
		estimator:   &Estimator{ImageTokens: cfg.ImageTokens},
	}
}

// BPECounter counts tokens exactly using a byte-pair encoding. Any
// internal failure during encoding degrades to the estimator for the
// whole batch; Count never panics and never returns a negative value.
type BPECounter struct {
	encoding    *tiktoken.Tiktoken
	imageTokens int
	logger      *slog.Logger
	estimator   *Estimator
}

// Count returns the exact batch cost: per message, the fixed framing
// overhead plus the encoded length of every attribute (role, text
// content, sender name), minus one when a sender name is present
// (role framing is dropped when a named attribute exists), plus the
// reply priming cost once for the batch.
func (counter *BPECounter) Count(messages []llm.Message) (total int) {
	defer func() {
		if recovered := recover(); recovered != nil {
			counter.logger.Error("token counting failed, using estimate", "error", recovered)
			total = counter.estimator.Count(messages)
		}
	}()

	total = 0
	for _, message := range messages {
		total += counter.countOne(message)
	}
	total += replyPriming
	return total
}

// CountSingle returns the cost of one message without the batch-level
// reply priming.
func (counter *BPECounter) CountSingle(role llm.Role, content []llm.ContentPart) int {
	message := llm.Message{Role: role, Content: content}
	return counter.Count([]llm.Message{message}) - replyPriming
}

func (counter *BPECounter) countOne(message llm.Message) int {
	cost := messageOverhead
	cost += len(counter.encoding.Encode(string(message.Role), nil, nil))

	for _, part := range message.Content {
		switch part.Kind {
		case llm.PartText:
			cost += len(counter.encoding.Encode(part.Text, nil, nil))
		case llm.PartImage:
			cost += counter.imageTokens
		default:
			// Unknown part kinds cost nothing here; the prompt
			// builder drops them before the request is assembled.
		}
	}

	if message.SenderName != "" {
		cost += len(counter.encoding.Encode(message.SenderName, nil, nil))
		cost-- // role framing is omitted when a name attribute is present
	}

	return cost
}

// Estimator is the universal character-based fallback: roughly four
// characters per token plus a fixed overhead per message. It is
// deliberately approximate and substitutes transparently for the
// exact counter — same interface, same no-fail contract.
type Estimator struct {
	// ImageTokens is the fixed cost charged per image part.
	ImageTokens int
}

// Count estimates the batch cost as total characters divided by four
// plus four tokens of framing per message.
func (estimator *Estimator) Count(messages []llm.Message) int {
	totalChars := 0
	images := 0
	for _, message := range messages {
		totalChars += len(message.Role)
		totalChars += len(message.SenderName)
		totalChars += len(message.SenderUsername)
		for _, part := range message.Content {
			switch part.Kind {
			case llm.PartImage:
				images++
			default:
				totalChars += len(part.Text)
			}
		}
	}
	return totalChars/4 + messageOverhead*len(messages) + images*estimator.ImageTokens
}

// CountSingle estimates the cost of one message.
func (estimator *Estimator) CountSingle(role llm.Role, content []llm.ContentPart) int {
	return estimator.Count([]llm.Message{{Role: role, Content: content}})
}
