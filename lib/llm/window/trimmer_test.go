// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package window

import (
	"errors"
	"fmt"
	"testing"

	"github.com/couriergram/courier/lib/llm"
)

// costedMessage makes a user message whose stored cost is tokens.
func costedMessage(text string, tokens int) llm.Message {
	message := llm.UserMessage(text)
	message.TokenCount = tokens
	return message
}

func texts(messages []llm.Message) []string {
	out := make([]string, len(messages))
	for i, message := range messages {
		out[i] = message.Text()
	}
	return out
}

func TestTrimKeepsEverythingWithinBudget(t *testing.T) {
	t.Parallel()
	trimmer := NewTrimmer(nil, nil)

	messages := []llm.Message{
		costedMessage("a", 10),
		costedMessage("b", 10),
		costedMessage("c", 10),
	}
	kept := trimmer.Trim(messages, 100, 20)
	if len(kept) != 3 {
		t.Fatalf("kept %d messages, want all 3", len(kept))
	}
}

func TestTrimDropsOldestFirst(t *testing.T) {
	t.Parallel()
	trimmer := NewTrimmer(nil, nil)

	messages := []llm.Message{
		costedMessage("oldest", 100),
		costedMessage("middle", 100),
		costedMessage("newer", 100),
		costedMessage("newest", 50),
	}
	// Budget 300 - 50 = 250: newest (50) + newer (100) + middle (100)
	// fit; oldest would overflow.
	kept := trimmer.Trim(messages, 300, 50)

	want := []string{"middle", "newer", "newest"}
	got := texts(kept)
	if len(got) != len(want) {
		t.Fatalf("kept %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("kept[%d] = %q, want %q (chronological order)", i, got[i], want[i])
		}
	}
}

func TestTrimSuffixIsContiguous(t *testing.T) {
	t.Parallel()
	trimmer := NewTrimmer(nil, nil)

	// A small message beyond the first overflow must not sneak in: the
	// walk stops at the first message that exceeds the budget.
	messages := []llm.Message{
		costedMessage("tiny-old", 1),
		costedMessage("huge", 500),
		costedMessage("newest", 50),
	}
	kept := trimmer.Trim(messages, 100, 0)

	got := texts(kept)
	if len(got) != 1 || got[0] != "newest" {
		t.Fatalf("kept %v, want just [newest]", got)
	}
}

func TestTrimAlwaysKeepsNewestOverBudget(t *testing.T) {
	t.Parallel()
	trimmer := NewTrimmer(nil, nil)

	messages := []llm.Message{
		costedMessage("old", 10),
		costedMessage("enormous", 10_000),
	}
	kept := trimmer.Trim(messages, 100, 10)

	if len(kept) != 1 || kept[0].Text() != "enormous" {
		t.Fatalf("kept %v, want the newest message alone", texts(kept))
	}
}

func TestTrimSingleMessageReturnedAsIs(t *testing.T) {
	t.Parallel()
	trimmer := NewTrimmer(nil, nil)

	messages := []llm.Message{costedMessage("only", 99_999)}
	kept := trimmer.Trim(messages, 10, 5)
	if len(kept) != 1 {
		t.Fatalf("kept %d messages, want 1", len(kept))
	}
}

func TestTrimEmptyInput(t *testing.T) {
	t.Parallel()
	trimmer := NewTrimmer(nil, nil)
	if kept := trimmer.Trim(nil, 100, 10); kept != nil {
		t.Errorf("Trim(nil) = %v, want nil", kept)
	}
}

func TestTrimComputesMissingCosts(t *testing.T) {
	t.Parallel()
	cost := func(message llm.Message) (int, error) {
		return len(message.Text()), nil
	}
	trimmer := NewTrimmer(cost, nil)

	messages := []llm.Message{
		llm.UserMessage("aaaaaaaaaa"), // 10, no stored cost
		llm.UserMessage("bbbbb"),      // 5
		llm.UserMessage("cc"),         // 2
	}
	// Budget 8: cc (2) + bbbbb (5) fit, aaaaaaaaaa does not.
	kept := trimmer.Trim(messages, 8, 0)

	got := texts(kept)
	if len(got) != 2 || got[0] != "bbbbb" || got[1] != "cc" {
		t.Fatalf("kept %v, want [bbbbb cc]", got)
	}
}

func TestTrimSkipsUncountableMessages(t *testing.T) {
	t.Parallel()
	cost := func(message llm.Message) (int, error) {
		if message.Text() == "poison" {
			return 0, errors.New("encoding failed")
		}
		return 10, nil
	}
	trimmer := NewTrimmer(cost, nil)

	messages := []llm.Message{
		llm.UserMessage("first"),
		llm.UserMessage("poison"),
		llm.UserMessage("last"),
	}
	kept := trimmer.Trim(messages, 100, 0)

	got := texts(kept)
	if len(got) != 2 || got[0] != "first" || got[1] != "last" {
		t.Fatalf("kept %v, want [first last] with the uncountable message skipped", got)
	}
}

func TestTrimNewestUncountableStillKept(t *testing.T) {
	t.Parallel()
	cost := func(llm.Message) (int, error) {
		return 0, errors.New("encoding failed")
	}
	trimmer := NewTrimmer(cost, nil)

	messages := []llm.Message{
		llm.UserMessage("old"),
		llm.UserMessage("newest"),
	}
	kept := trimmer.Trim(messages, 100, 0)
	if len(kept) == 0 || kept[len(kept)-1].Text() != "newest" {
		t.Fatalf("kept %v, want newest present", texts(kept))
	}
}

func TestTrimWithoutCostFuncKeepsRecent(t *testing.T) {
	t.Parallel()
	trimmer := NewTrimmer(nil, nil)

	var messages []llm.Message
	for i := 0; i < 30; i++ {
		messages = append(messages, llm.UserMessage(fmt.Sprintf("m%d", i)))
	}
	kept := trimmer.Trim(messages, 1000, 100)

	if len(kept) != fallbackRecent {
		t.Fatalf("kept %d messages, want %d", len(kept), fallbackRecent)
	}
	if kept[0].Text() != "m10" || kept[len(kept)-1].Text() != "m29" {
		t.Errorf("kept %q..%q, want the newest %d",
			kept[0].Text(), kept[len(kept)-1].Text(), fallbackRecent)
	}
}

func TestCounterCostMatchesSingleBatch(t *testing.T) {
	t.Parallel()
	counter := &fixedCounter{perMessage: 7}
	cost := CounterCost(counter)

	got, err := cost(llm.UserMessage("hello"))
	if err != nil {
		t.Fatalf("cost: %v", err)
	}
	if got != 7 {
		t.Errorf("cost = %d, want 7", got)
	}
}

type fixedCounter struct {
	perMessage int
}

func (counter *fixedCounter) Count(messages []llm.Message) int {
	return counter.perMessage * len(messages)
}

func (counter *fixedCounter) CountSingle(role llm.Role, content []llm.ContentPart) int {
	return counter.perMessage
}
