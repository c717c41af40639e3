// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package report ranks the sources of a research result and renders the
// result as a Markdown report or a BibTeX bibliography.
//
// The synthesis cites sources by their 1-based position in Rank order, so
// every rendering lists references in that same order.
package report

import (
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/pdiddy/deep-research/pkg/types"
)

// Format names accepted by Write.
const (
	FormatMarkdown = "markdown"
	FormatBibTeX   = "bibtex"
)

// citationPattern matches inline numeric citations: [3], [1; 4], [2, 5].
var citationPattern = regexp.MustCompile(`\[([0-9][0-9,;\s]*)\]`)

// Rank orders sources by citation count, then relevance, and keeps n
// (all when n <= 0). The input is not modified.
func Rank(sources []types.Source, n int) []types.Source {
	out := append([]types.Source(nil), sources...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CitationCount != out[j].CitationCount {
			return out[i].CitationCount > out[j].CitationCount
		}
		return out[i].RelevanceScore > out[j].RelevanceScore
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Citations returns the citation numbers in text, in order of appearance,
// each once.
func Citations(text string) []int {
	seen := make(map[int]bool)
	var nums []int
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		parts := strings.FieldsFunc(m[1], func(r rune) bool { return r == ',' || r == ';' })
		for _, p := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil || seen[n] {
				continue
			}
			seen[n] = true
			nums = append(nums, n)
		}
	}
	return nums
}

// Unresolved returns the citations in text that do not name one of the
// first n ranked sources, sorted.
func Unresolved(text string, n int) []int {
	var bad []int
	for _, c := range Citations(text) {
		if c < 1 || c > n {
			bad = append(bad, c)
		}
	}
	sort.Ints(bad)
	return bad
}

// Write renders s in format to w.
func Write(w io.Writer, s *types.ResearchSession, format string) error {
	switch format {
	case "", FormatMarkdown:
		return Markdown(w, s)
	case FormatBibTeX:
		var sources []types.Source
		if s.Result != nil {
			sources = s.Result.Sources
		}
		_, err := io.WriteString(w, BibTeX(Rank(sources, 0)))
		return err
	}
	return fmt.Errorf("unknown report format %q", format)
}

// Markdown writes a report of s: perspectives, the synthesis, and a
// numbered reference list in Rank order.
func Markdown(w io.Writer, s *types.ResearchSession) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", s.Topic)
	fmt.Fprintf(&b, "Mode: %s. Status: %s.", s.Mode, s.Status)
	if s.CompletedAt != nil {
		fmt.Fprintf(&b, " Completed %s.", s.CompletedAt.UTC().Format("2006-01-02 15:04 MST"))
	}
	b.WriteString("\n")
	if s.Error != "" {
		fmt.Fprintf(&b, "\n> %s\n", s.Error)
	}

	r := s.Result
	if r == nil {
		_, err := io.WriteString(w, b.String())
		return err
	}

	if len(r.Perspectives) > 0 {
		b.WriteString("\n## Perspectives\n\n")
		for _, p := range r.Perspectives {
			fmt.Fprintf(&b, "- **%s**", p.Name)
			if p.Description != "" {
				fmt.Fprintf(&b, ": %s", p.Description)
			}
			b.WriteString("\n")
		}
	}

	if r.Synthesis != "" {
		fmt.Fprintf(&b, "\n## Summary\n\n%s\n", strings.TrimSpace(r.Synthesis))
	}

	ranked := Rank(r.Sources, 0)
	if len(ranked) > 0 {
		fmt.Fprintf(&b, "\n## References\n\n%d sources, %d duplicates removed.\n\n", len(ranked), r.DuplicateCount)
		for i, src := range ranked {
			fmt.Fprintf(&b, "%d. %s\n", i+1, reference(src))
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func reference(s types.Source) string {
	var parts []string
	if a := authorList(s.Authors); a != "" {
		parts = append(parts, a)
	}
	title := s.Title
	if s.URL != "" {
		title = fmt.Sprintf("[%s](%s)", s.Title, s.URL)
	}
	parts = append(parts, title)
	if s.Journal != "" {
		parts = append(parts, "*"+s.Journal+"*")
	}
	if s.Year > 0 {
		parts = append(parts, strconv.Itoa(s.Year))
	}
	out := strings.Join(parts, ". ") + "."
	if s.DOI != "" {
		out += " doi:" + s.NormalizedDOI()
	}
	return out
}

func authorList(authors []string) string {
	switch len(authors) {
	case 0:
		return ""
	case 1, 2, 3:
		return strings.Join(authors, ", ")
	}
	return authors[0] + " et al"
}

// BibTeX produces one @article entry per source. Keys are the first
// author's surname followed by the year, with a letter suffix on clashes.
func BibTeX(sources []types.Source) string {
	used := make(map[string]int)
	var b strings.Builder
	for _, s := range sources {
		key := citationKey(s)
		used[key]++
		if n := used[key]; n > 1 {
			key += string(rune('a' + n - 2))
		}
		fmt.Fprintf(&b, "@article{%s,\n", key)
		fmt.Fprintf(&b, "  title = {%s},\n", s.Title)
		if len(s.Authors) > 0 {
			fmt.Fprintf(&b, "  author = {%s},\n", strings.Join(s.Authors, " and "))
		}
		if s.Year > 0 {
			fmt.Fprintf(&b, "  year = {%d},\n", s.Year)
		}
		if s.Journal != "" {
			fmt.Fprintf(&b, "  journal = {%s},\n", s.Journal)
		}
		if doi := s.NormalizedDOI(); doi != "" {
			fmt.Fprintf(&b, "  doi = {%s},\n", doi)
		}
		if s.URL != "" {
			fmt.Fprintf(&b, "  url = {%s},\n", s.URL)
		}
		fmt.Fprintf(&b, "}\n\n")
	}
	return b.String()
}

// citationKey builds an AuthorYear key such as "Smith2021". Sources without
// authors use the first title word.
func citationKey(s types.Source) string {
	name := ""
	if a := s.FirstAuthor(); a != "" {
		name = surname(a)
	}
	if name == "" {
		if f := strings.Fields(s.Title); len(f) > 0 {
			name = f[0]
		}
	}
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	key := b.String()
	if key == "" {
		key = "anon"
	}
	if s.Year > 0 {
		key += strconv.Itoa(s.Year)
	}
	return key
}

// surname takes "Smith, Jane" or "Smith J" or "Jane Smith".
func surname(name string) string {
	if i := strings.Index(name, ","); i > 0 {
		return strings.TrimSpace(name[:i])
	}
	f := strings.Fields(name)
	if len(f) == 0 {
		return ""
	}
	if len(f) > 1 && len(f[len(f)-1]) <= 3 && strings.ToUpper(f[len(f)-1]) == f[len(f)-1] {
		return f[0]
	}
	return f[len(f)-1]
}
