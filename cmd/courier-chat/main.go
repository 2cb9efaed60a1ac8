// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// courier-chat is an interactive console for talking to the
// configured LLM backend through the full request pipeline: the same
// history store, context trimming, persona resolution, and error
// taxonomy the bot uses in production.
//
// Commands inside the session:
//
//	/clear            delete this chat's history
//	/stats            show message and token totals
//	/persona [name]   show or switch the active persona
//	/define <n> <p>   create or replace a persona
//	/personas         list stored personas
//	/exit, /quit      leave
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/couriergram/courier/lib/access"
	"github.com/couriergram/courier/lib/config"
	"github.com/couriergram/courier/lib/history"
	"github.com/couriergram/courier/lib/llm/factory"
	"github.com/couriergram/courier/lib/llm/window"
	"github.com/couriergram/courier/lib/persona"
	"github.com/couriergram/courier/lib/pipeline"
	"github.com/couriergram/courier/lib/prompt"
	"github.com/couriergram/courier/lib/sqlitepool"
	"github.com/couriergram/courier/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "courier-chat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		chatID      string
		group       bool
		verbose     bool
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("courier-chat", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to courier.yaml (default: $COURIER_CONFIG)")
	flagSet.StringVar(&chatID, "chat-id", "console", "conversation key to read and write")
	flagSet.BoolVar(&group, "group", false, "format the conversation as a group chat")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "debug logging to stderr")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if showVersion {
		fmt.Println(version.Full())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx := context.Background()

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Storage.Path,
		PoolSize: cfg.Storage.PoolSize,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	historyStore, err := history.New(ctx, history.Config{Pool: pool, Logger: logger})
	if err != nil {
		return err
	}
	personaStore, err := persona.New(ctx, persona.Config{Pool: pool, Logger: logger})
	if err != nil {
		return err
	}
	accessStore, err := access.New(ctx, access.Config{
		Pool:    pool,
		OwnerID: cfg.Chat.OwnerID,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	adapter, counter, err := factory.New(cfg.Provider, logger)
	if err != nil {
		return err
	}

	builder := prompt.New(prompt.Config{
		DefaultPrivate: cfg.Prompts.Private,
		DefaultGroup:   cfg.Prompts.Group,
		Timezone:       cfg.Prompts.Timezone,
		ActivePersona:  func() (string, error) { return personaStore.Active(ctx) },
		PersonaText: func(name string) (string, bool, error) {
			return personaStore.Text(ctx, name)
		},
		Logger: logger,
	})

	requests, err := pipeline.New(pipeline.Config{
		Adapter:           adapter,
		Counter:           counter,
		History:           historyStore,
		Trimmer:           window.NewTrimmer(window.CounterCost(counter), logger),
		Builder:           builder,
		Access:            accessStore,
		ReserveTokens:     cfg.Provider.ReserveTokens,
		MaxResponseTokens: cfg.Provider.MaxResponseTokens,
		Stream:            cfg.Provider.Stream,
		MaxConcurrent:     cfg.Chat.MaxConcurrent,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	console := &session{
		pipeline: requests,
		history:  historyStore,
		personas: personaStore,
		chatID:   chatID,
		group:    group,
		ownerID:  cfg.Chat.OwnerID,
	}

	fmt.Printf("courier-chat — chat %q, model %s", chatID, adapter.ModelName())
	if group {
		fmt.Print(" (group formatting)")
	}
	fmt.Println()
	fmt.Println("Type a message, or /clear /stats /persona /define /personas /exit.")
	fmt.Println()

	return console.loop(ctx)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

type session struct {
	pipeline *pipeline.Pipeline
	history  *history.Store
	personas *persona.Store
	chatID   string
	group    bool
	ownerID  int64
}

var (
	promptColor    = color.New(color.FgCyan, color.Bold)
	assistantColor = color.New(color.FgGreen)
	noticeColor    = color.New(color.FgYellow)
	errorColor     = color.New(color.FgRed)
)

func (session *session) loop(ctx context.Context) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		promptColor.Print("you> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := session.command(ctx, line); quit {
				return nil
			}
			continue
		}

		event := pipeline.Event{
			ChatID:     session.chatID,
			UserID:     session.ownerID,
			IsGroup:    session.group,
			SenderName: "Console",
			Text:       line,
		}
		responder := &consoleResponder{}
		if err := session.pipeline.Process(ctx, event, responder); err != nil {
			errorColor.Printf("error: %v\n", err)
		}
		fmt.Println()
	}
}

// command dispatches a slash command. Returns true to exit.
func (session *session) command(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/exit", "/quit":
		return true

	case "/clear":
		deleted, err := session.history.Clear(ctx, session.chatID)
		if err != nil {
			errorColor.Printf("clearing history: %v\n", err)
			return false
		}
		noticeColor.Printf("cleared %d messages\n", deleted)

	case "/stats":
		stats, err := session.history.Stats(ctx, session.chatID)
		if err != nil {
			errorColor.Printf("reading stats: %v\n", err)
			return false
		}
		fmt.Printf("messages: %d\ntokens:   %d\n", stats.TotalMessages, stats.TotalTokens)
		if !stats.FirstMessage.IsZero() {
			fmt.Printf("since:    %s\n", stats.FirstMessage.Format("2006-01-02"))
		}

	case "/persona":
		if len(fields) < 2 {
			active, err := session.personas.Active(ctx)
			if err != nil {
				errorColor.Printf("reading active persona: %v\n", err)
				return false
			}
			fmt.Printf("active persona: %s\n", active)
			return false
		}
		if err := session.personas.SetActive(ctx, fields[1]); err != nil {
			errorColor.Printf("%v\n", err)
			return false
		}
		noticeColor.Printf("persona changed to %q\n", fields[1])

	case "/define":
		if len(fields) < 3 {
			errorColor.Println("usage: /define <name> <prompt text>")
			return false
		}
		body := strings.TrimSpace(strings.TrimPrefix(line, "/define "+fields[1]))
		if err := session.personas.Define(ctx, fields[1], body); err != nil {
			errorColor.Printf("%v\n", err)
			return false
		}
		noticeColor.Printf("persona %q saved\n", fields[1])

	case "/personas":
		names, err := session.personas.List(ctx)
		if err != nil {
			errorColor.Printf("listing personas: %v\n", err)
			return false
		}
		active, _ := session.personas.Active(ctx)
		fmt.Printf("active: %s\n", active)
		for _, name := range names {
			marker := " "
			if name == active {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, name)
		}

	default:
		errorColor.Printf("unknown command %s\n", fields[0])
	}
	return false
}

// consoleResponder prints replies to stdout. Edit-in-place updates
// from streaming are rendered incrementally: only the text beyond
// what is already on screen is written.
type consoleResponder struct {
	printed string
}

func (responder *consoleResponder) Send(ctx context.Context, text string) error {
	responder.printed = text
	assistantColor.Print(text)
	return nil
}

func (responder *consoleResponder) Edit(ctx context.Context, text string) error {
	if strings.HasPrefix(text, responder.printed) {
		assistantColor.Print(text[len(responder.printed):])
	} else {
		// The snapshot diverged (should not happen with growing
		// snapshots); reprint on a fresh line.
		fmt.Println()
		assistantColor.Print(text)
	}
	responder.printed = text
	return nil
}
