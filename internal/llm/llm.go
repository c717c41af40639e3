// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package llm talks to the language model used for perspective generation,
// clarifying questions, and synthesis.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"
)

// ErrUnavailable is returned when no model is configured. Callers treat it
// like any other provider failure and fall back.
var ErrUnavailable = errors.New("language model unavailable")

// Client completes a single prompt.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Unavailable is the Client used when no API key is configured.
type Unavailable struct{}

// Complete always fails with ErrUnavailable.
func (Unavailable) Complete(context.Context, string) (string, error) {
	return "", ErrUnavailable
}

// modelSetter is implemented by clients whose model can be overridden per
// session.
type modelSetter interface {
	WithModel(model string) Client
}

// WithModel returns c bound to model. Clients that cannot switch models
// and empty model names return c unchanged.
func WithModel(c Client, model string) Client {
	if model == "" {
		return c
	}
	if ms, ok := c.(modelSetter); ok {
		return ms.WithModel(model)
	}
	return c
}

// Render executes tmpl with data.
func Render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering %s prompt: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

// ExtractJSON decodes the first JSON object or array found in text into v.
// Models often wrap JSON in prose or a fenced code block.
func ExtractJSON(text string, v any) error {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return fmt.Errorf("no JSON found in model response")
	}
	open := text[start]
	closeCh := byte('}')
	if open == '[' {
		closeCh = ']'
	}
	end := strings.LastIndexByte(text, closeCh)
	if end < start {
		return fmt.Errorf("unterminated JSON in model response")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), v); err != nil {
		return fmt.Errorf("parsing model JSON: %w", err)
	}
	return nil
}
