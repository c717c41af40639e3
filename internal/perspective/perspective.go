// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package perspective generates the expert viewpoints a research session
// explores, and the clarifying questions asked before planning.
package perspective

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/llm"
	"github.com/pdiddy/deep-research/pkg/types"
)

// FallbackName names the single perspective used when generation fails.
const FallbackName = "general"

// DefaultQuestions are asked when the model cannot produce its own.
var DefaultQuestions = []string{
	"Which population, organism, or system should the review focus on?",
	"What time frame of publications matters most?",
	"Which outcomes or questions are you most interested in?",
	"Should the review favour particular study types (e.g. trials, reviews, preprints)?",
}

// Generator produces perspectives and clarifying questions with a model.
type Generator struct {
	client llm.Client
	logger *zap.Logger
}

// NewGenerator returns a Generator. A nil client behaves like
// llm.Unavailable.
func NewGenerator(client llm.Client, logger *zap.Logger) *Generator {
	if client == nil {
		client = llm.Unavailable{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{client: client, logger: logger}
}

type rawPerspective struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Queries     []string `json:"queries"`
}

// GeneratePerspectives returns between one and cfg.Breadth perspectives on
// topic. Clarification answers, when given, are passed to the model. Any
// model or parse failure yields the single fallback perspective and a nil
// error; only an empty topic is an error.
func (g *Generator) GeneratePerspectives(ctx context.Context, topic string, cfg types.ResearchConfig, answers ...string) ([]types.Perspective, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		var verr types.ValidationError
		verr.Add("topic", "must not be empty")
		return nil, &verr
	}
	breadth := cfg.Breadth
	if breadth < 1 {
		breadth = types.MinBreadth
	}

	ps, err := g.generate(ctx, topic, breadth, answers)
	if err != nil {
		g.logger.Warn("perspective generation failed, using fallback",
			zap.String("topic", topic), zap.Error(err))
		return []types.Perspective{Fallback(topic)}, nil
	}
	return ps, nil
}

func (g *Generator) generate(ctx context.Context, topic string, breadth int, answers []string) ([]types.Perspective, error) {
	prompt, err := llm.Render(perspectivesPromptTmpl, struct {
		Topic   string
		Count   int
		Answers []string
	}{topic, breadth, nonEmpty(answers)})
	if err != nil {
		return nil, err
	}

	text, err := g.client.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Perspectives []rawPerspective `json:"perspectives"`
	}
	if err := llm.ExtractJSON(text, &resp); err != nil {
		return nil, err
	}

	ps := normalize(topic, resp.Perspectives, breadth)
	if len(ps) == 0 {
		return nil, fmt.Errorf("model returned no usable perspectives")
	}
	return ps, nil
}

// normalize drops unnamed and repeated perspectives, caps the list at
// breadth, and assigns fresh IDs. A blank description is replaced by one
// derived from the name and topic.
func normalize(topic string, raw []rawPerspective, breadth int) []types.Perspective {
	seen := make(map[string]bool)
	var out []types.Perspective
	for _, r := range raw {
		if len(out) >= breadth {
			break
		}
		name := strings.TrimSpace(r.Name)
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true

		var queries []string
		for _, q := range r.Queries {
			if q = strings.TrimSpace(q); q != "" {
				queries = append(queries, q)
			}
		}
		if len(queries) == 0 {
			queries = []string{topic + " " + name}
		}
		desc := strings.TrimSpace(r.Description)
		if desc == "" {
			desc = fmt.Sprintf("%s perspective on %s", name, topic)
		}
		out = append(out, types.Perspective{
			ID:          uuid.NewString(),
			Name:        name,
			Description: desc,
			Queries:     queries,
		})
	}
	return out
}

// Fallback is the perspective used when the model is unavailable.
func Fallback(topic string) types.Perspective {
	return types.Perspective{
		ID:          uuid.NewString(),
		Name:        FallbackName,
		Description: "General literature on the topic.",
		Queries:     []string{topic},
	}
}

// IsFallback reports whether ps is the fallback result.
func IsFallback(ps []types.Perspective) bool {
	return len(ps) == 1 && ps[0].Name == FallbackName
}

// ClarifyingQuestions asks the model for two to four questions that narrow
// topic. It never fails: on any model error the default questions are used.
func (g *Generator) ClarifyingQuestions(ctx context.Context, topic string) []types.ClarificationQuestion {
	qs, err := g.clarify(ctx, strings.TrimSpace(topic))
	if err != nil {
		g.logger.Warn("clarifying questions failed, using defaults", zap.Error(err))
		qs = DefaultQuestions
	}
	out := make([]types.ClarificationQuestion, len(qs))
	for i, q := range qs {
		out[i] = types.ClarificationQuestion{ID: fmt.Sprintf("q%d", i+1), Question: q}
	}
	return out
}

func (g *Generator) clarify(ctx context.Context, topic string) ([]string, error) {
	prompt, err := llm.Render(clarifyPromptTmpl, struct{ Topic string }{topic})
	if err != nil {
		return nil, err
	}
	text, err := g.client.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Questions []string `json:"questions"`
	}
	if err := llm.ExtractJSON(text, &resp); err != nil {
		return nil, err
	}
	qs := nonEmpty(resp.Questions)
	if len(qs) < 2 {
		return nil, fmt.Errorf("model returned %d questions", len(qs))
	}
	if len(qs) > 4 {
		qs = qs[:4]
	}
	return qs, nil
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
