// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package factory constructs the configured provider adapter. It
// exists so commands select a backend from configuration without
// importing every adapter package themselves.
package factory

import (
	"fmt"
	"log/slog"

	"github.com/couriergram/courier/lib/config"
	"github.com/couriergram/courier/lib/llm"
	"github.com/couriergram/courier/lib/llm/groq"
	"github.com/couriergram/courier/lib/llm/openai"
	"github.com/couriergram/courier/lib/llm/tokens"
)

// New builds the adapter named by cfg.Name, returning it together
// with its token counter so callers price messages with the same
// accounting the adapter uses.
func New(cfg config.ProviderConfig, logger *slog.Logger) (llm.Adapter, tokens.Counter, error) {
	switch cfg.Name {
	case "openai":
		adapter, err := openai.New(openai.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
			Logger:  logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return adapter, adapter.Counter(), nil
	case "groq":
		adapter, err := groq.New(groq.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
			Logger:  logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return adapter, adapter.Counter(), nil
	default:
		return nil, nil, fmt.Errorf("factory: unknown provider %q (want openai or groq)", cfg.Name)
	}
}
