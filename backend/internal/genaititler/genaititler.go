// Package genaititler implements the auto-title supplemented feature
// (spec §4.I): summarizing a conversation transcript into a short title
// via a cheap LLM call.
//
// Kept near-verbatim from backend/internal/server/titlegen.go, the exact
// grounding source, adapted from task/agent.ResultMessage walking to a
// plain transcript string input (this design's Bridge already has the raw
// journal text, not a typed message list).
package genaititler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/maruel/genai"
	"github.com/maruel/genai/providers"
)

const systemPrompt = "Summarize this coding task conversation in 3-8 words as a short title. Reply with ONLY the title, no quotes."

const maxInputChars = 2000

// Titler generates short session titles from conversation transcripts
// using a cheap LLM. A zero-value Titler (nil provider) is a no-op,
// matching bridge.New's "titler may be nil to disable" contract.
type Titler struct {
	provider genai.Provider
}

// New creates a Titler from provider/model config strings. Returns nil
// if providerName is empty or provider initialization fails, so callers
// can pass the result straight through as the (possibly-nil) bridge.Titler.
func New(ctx context.Context, providerName, modelName string) *Titler {
	if providerName == "" {
		return nil
	}
	cfg, ok := providers.All[providerName]
	if !ok || cfg.Factory == nil {
		slog.Warn("unknown LLM provider for auto-title", "provider", providerName)
		return nil
	}
	var opts []genai.ProviderOption
	if modelName != "" {
		opts = append(opts, genai.ProviderOptionModel(modelName))
	} else {
		opts = append(opts, genai.ModelCheap)
	}
	p, err := cfg.Factory(ctx, opts...)
	if err != nil {
		slog.Warn("failed to create LLM provider for auto-title", "provider", providerName, "err", err)
		return nil
	}
	slog.Info("auto-title enabled", "provider", providerName, "model", p.ModelID())
	return &Titler{provider: p}
}

// Generate asks the LLM for a short title summarizing transcript. Returns
// ("", nil) if called on a nil Titler.
func (t *Titler) Generate(ctx context.Context, sessionID string, transcript string) (string, error) {
	if t == nil || t.provider == nil {
		return "", nil
	}
	input := transcript
	if len(input) > maxInputChars {
		input = input[:maxInputChars]
	}

	res, err := t.provider.GenSync(ctx,
		genai.Messages{genai.NewTextMessage(input)},
		&genai.GenOptionText{
			SystemPrompt: systemPrompt,
			MaxTokens:    64,
			Temperature:  0.3,
		},
	)
	if err != nil {
		return "", fmt.Errorf("auto-title LLM call failed for session %s: %w", sessionID, err)
	}
	title := strings.TrimSpace(res.String())
	title = strings.Trim(title, "\"'`")
	return title, nil
}
