// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package research

import (
	"context"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/llm"
	"github.com/pdiddy/deep-research/internal/report"
	"github.com/pdiddy/deep-research/internal/tree"
	"github.com/pdiddy/deep-research/pkg/types"
)

var synthesisPromptTmpl = template.Must(template.New("synthesis").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).Parse(`You are writing the summary section of a literature review on: {{.Topic}}

The review explored these perspectives:
{{- range .Perspectives}}
- {{.Name}}: {{.Description}}
{{- end}}

The most relevant sources found are listed below. Cite them inline by their number in square brackets.
{{range $i, $s := .Sources}}
[{{inc $i}}] {{$s.Title}}{{if $s.Year}} ({{$s.Year}}){{end}}{{if $s.Journal}}, {{$s.Journal}}{{end}}
{{- if $s.Abstract}}
    {{$s.Abstract}}
{{- end}}
{{end}}
Write 3 to 6 paragraphs that summarise what the literature says, where the perspectives agree or disagree, and which questions remain open. Use only the sources above. Respond with the prose only.
`))

// maxAbstract bounds each abstract handed to the model, in runes.
const maxAbstract = 600

// clip shortens s to at most n runes, marking the cut with an ellipsis.
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// synthesize asks the model for a narrative summary and falls back to a
// deterministic digest when the model is unavailable or returns nothing.
func (e *Engine) synthesize(ctx context.Context, client llm.Client, topic string, result *types.ResearchResult) string {
	top := report.Rank(result.Sources, e.settings.SynthesisSources)
	for i := range top {
		top[i].Abstract = clip(top[i].Abstract, maxAbstract)
	}

	prompt, err := llm.Render(synthesisPromptTmpl, struct {
		Topic        string
		Perspectives []types.Perspective
		Sources      []types.Source
	}{topic, result.Perspectives, top})
	if err == nil {
		var text string
		text, err = client.Complete(ctx, prompt)
		if text = strings.TrimSpace(text); err == nil && text != "" {
			if bad := report.Unresolved(text, len(top)); len(bad) > 0 {
				e.logger.Warn("synthesis cites unknown sources", zap.Ints("citations", bad), zap.Int("sources", len(top)))
			}
			return text
		}
	}
	e.logger.Info("synthesis falling back to digest", zap.Error(err))
	return Digest(topic, result, e.settings.SynthesisSources)
}

// Digest summarises a result without a language model: counts per
// perspective and the most cited sources.
func Digest(topic string, result *types.ResearchResult, n int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research digest: %s\n\n", topic)
	fmt.Fprintf(&b, "%d unique sources (%d duplicates removed) across %d perspectives.\n",
		len(result.Sources), result.DuplicateCount, len(result.Perspectives))

	counts := perspectiveCounts(result)
	if len(result.Perspectives) > 0 {
		b.WriteString("\nSources per perspective:\n")
		for _, p := range result.Perspectives {
			fmt.Fprintf(&b, "- %s: %d\n", p.Name, counts[p.ID])
		}
	}

	top := report.Rank(result.Sources, n)
	if len(top) > 0 {
		b.WriteString("\nMost cited sources:\n")
		for i, s := range top {
			fmt.Fprintf(&b, "%d. %s", i+1, s.Title)
			if s.Year > 0 {
				fmt.Fprintf(&b, " (%d)", s.Year)
			}
			if s.Journal != "" {
				fmt.Fprintf(&b, ", %s", s.Journal)
			}
			fmt.Fprintf(&b, ". Cited %d times.", s.CitationCount)
			if s.DOI != "" {
				fmt.Fprintf(&b, " doi:%s", s.DOI)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// perspectiveCounts maps perspective IDs to the number of sources found
// under them.
func perspectiveCounts(result *types.ResearchResult) map[string]int {
	counts := make(map[string]int)
	if result.Tree == nil {
		return counts
	}
	owner := make(map[string]string)
	tree.Walk(result.Tree.Root, func(n *types.ExplorationNode) bool {
		if n.PerspectiveID != "" {
			owner[n.ID] = n.PerspectiveID
		}
		return true
	})
	for _, s := range result.Sources {
		if p, ok := owner[s.NodeID]; ok {
			counts[p]++
		}
	}
	return counts
}
