// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// courier-bench measures completion latency and token throughput for
// a configured LLM backend. It sends one prompt and reports wall
// time, token counts from the backend's own counter, and tokens per
// second; with --stream it also reports time to first token.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/couriergram/courier/lib/config"
	"github.com/couriergram/courier/lib/llm"
	"github.com/couriergram/courier/lib/llm/factory"
	"github.com/couriergram/courier/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "courier-bench: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		providerName string
		model        string
		promptText   string
		stream       bool
		timeout      time.Duration
		verbose      bool
		showVersion  bool
	)

	flagSet := pflag.NewFlagSet("courier-bench", pflag.ContinueOnError)
	flagSet.StringVar(&providerName, "provider", "openai", "backend to benchmark (openai or groq)")
	flagSet.StringVar(&model, "model", "", "model name (provider default if empty)")
	flagSet.StringVar(&promptText, "prompt", "", "prompt to send (required)")
	flagSet.BoolVar(&stream, "stream", false, "use the streaming endpoint")
	flagSet.DurationVar(&timeout, "timeout", 60*time.Second, "request timeout")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "debug logging to stderr")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if showVersion {
		fmt.Println(version.Full())
		return nil
	}
	if promptText == "" {
		return fmt.Errorf("--prompt is required")
	}

	apiKey, err := lookupKey(providerName)
	if err != nil {
		return err
	}
	if model == "" {
		model = defaultModel(providerName)
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	providerConfig := config.ProviderConfig{
		Name:    providerName,
		APIKey:  apiKey,
		Model:   model,
		Timeout: timeout,
	}
	adapter, counter, err := factory.New(providerConfig, logger)
	if err != nil {
		return err
	}

	ctx := context.Background()
	request := llm.Request{
		Messages: []llm.Message{llm.UserMessage(promptText)},
	}

	fmt.Printf("model:  %s\n", adapter.ModelName())
	fmt.Printf("prompt: %s\n\n", truncate(promptText, 100))

	var (
		text       string
		firstToken time.Duration
	)
	start := time.Now()
	if stream {
		text, firstToken, err = streamCompletion(ctx, adapter, request)
	} else {
		var response *llm.Response
		response, err = adapter.Complete(ctx, request)
		if response != nil {
			text = response.Text
		}
	}
	elapsed := time.Since(start)
	if err != nil {
		return fmt.Errorf("completing: %w", err)
	}

	promptTokens := counter.Count(request.Messages)
	responseTokens := counter.Count([]llm.Message{llm.AssistantMessage(text)})
	throughput := 0.0
	if elapsed > 0 {
		throughput = float64(responseTokens) / elapsed.Seconds()
	}

	fmt.Printf("latency:          %.2f ms\n", float64(elapsed.Microseconds())/1000)
	if stream {
		fmt.Printf("first token:      %.2f ms\n", float64(firstToken.Microseconds())/1000)
	}
	fmt.Printf("response length:  %d chars\n", len(text))
	fmt.Printf("prompt tokens:    %d\n", promptTokens)
	fmt.Printf("response tokens:  %d\n", responseTokens)
	fmt.Printf("total tokens:     %d\n", promptTokens+responseTokens)
	fmt.Printf("throughput:       %.2f tokens/sec\n\n", throughput)
	fmt.Println(truncate(text, 500))
	return nil
}

// streamCompletion drains the stream and reports the final text and
// the delay before the first non-empty snapshot.
func streamCompletion(ctx context.Context, adapter llm.Adapter, request llm.Request) (string, time.Duration, error) {
	stream, err := adapter.Stream(ctx, request)
	if err != nil {
		return "", 0, err
	}
	defer stream.Close()

	start := time.Now()
	var firstToken time.Duration
	for {
		snapshot, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stream.Text(), firstToken, err
		}
		if firstToken == 0 && snapshot != "" {
			firstToken = time.Since(start)
		}
	}
	return stream.Text(), firstToken, nil
}

func lookupKey(provider string) (string, error) {
	var envVar string
	switch provider {
	case "openai":
		envVar = "OPENAI_API_KEY"
	case "groq":
		envVar = "GROQ_API_KEY"
	default:
		return "", fmt.Errorf("unknown provider %q (want openai or groq)", provider)
	}
	key := os.Getenv(envVar)
	if key == "" {
		return "", fmt.Errorf("%s is not set", envVar)
	}
	return key, nil
}

func defaultModel(provider string) string {
	if provider == "groq" {
		return "llama-3.3-70b-versatile"
	}
	return "gpt-5-mini"
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return strings.TrimSpace(text[:limit]) + "..."
}
