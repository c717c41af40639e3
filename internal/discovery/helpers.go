// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package discovery

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/deep-research/internal/dedup"
	"github.com/pdiddy/deep-research/internal/search"
	"github.com/pdiddy/deep-research/pkg/types"
)

// ConnectRequest asks how two topics overlap.
type ConnectRequest struct {
	TopicA  string   `json:"topicA"`
	TopicB  string   `json:"topicB"`
	Sources []string `json:"sources,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

func (r ConnectRequest) Validate() error {
	var verr types.ValidationError
	if strings.TrimSpace(r.TopicA) == "" {
		verr.Add("topicA", "must not be empty")
	}
	if strings.TrimSpace(r.TopicB) == "" {
		verr.Add("topicB", "must not be empty")
	}
	validateCommon(&verr, r.Sources, r.Limit)
	return verr.Err()
}

// ConnectResult lists works found under both topics and the title terms
// the two literatures share.
type ConnectResult struct {
	TopicA      string         `json:"topicA"`
	TopicB      string         `json:"topicB"`
	Shared      []types.Source `json:"shared"`
	OnlyA       int            `json:"onlyA"`
	OnlyB       int            `json:"onlyB"`
	BridgeTerms []string       `json:"bridgeTerms"`
}

// Connect searches both topics concurrently and intersects the results.
func (s *Service) Connect(ctx context.Context, req ConnectRequest) (ConnectResult, error) {
	var a, b []types.Source
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		a, err = s.fetch(gctx, req.TopicA, req.Sources)
		return err
	})
	g.Go(func() (err error) {
		b, err = s.fetch(gctx, req.TopicB, req.Sources)
		return err
	})
	if err := g.Wait(); err != nil {
		return ConnectResult{}, err
	}
	res := Connect(a, b, limitOr(req.Limit))
	res.TopicA, res.TopicB = req.TopicA, req.TopicB
	return res, nil
}

// Connect intersects two deduplicated source lists. A work is shared when
// deduplicating the union merges a member of a with a member of b.
func Connect(a, b []types.Source, limit int) ConnectResult {
	union := make([]types.Source, 0, len(a)+len(b))
	for i, src := range a {
		src.ID = "a" + strconv.Itoa(i)
		union = append(union, src)
	}
	for i, src := range b {
		src.ID = "b" + strconv.Itoa(i)
		union = append(union, src)
	}
	dr := dedup.DeduplicateSources(union)

	fromA := make(map[string]bool)
	fromB := make(map[string]bool)
	for id, canon := range dr.DeduplicationMap {
		if strings.HasPrefix(id, "a") {
			fromA[canon] = true
		} else {
			fromB[canon] = true
		}
	}

	res := ConnectResult{Shared: []types.Source{}}
	for _, src := range dr.Deduplicated {
		switch {
		case fromA[src.ID] && fromB[src.ID]:
			if len(res.Shared) < limit {
				res.Shared = append(res.Shared, src)
			}
		case fromA[src.ID]:
			res.OnlyA++
		default:
			res.OnlyB++
		}
	}

	ta, tb := termCounts(a), termCounts(b)
	var bridge []termCount
	for term, n := range ta {
		if m, ok := tb[term]; ok {
			bridge = append(bridge, termCount{term, min(n, m)})
		}
	}
	res.BridgeTerms = topTerms(bridge, 10)
	return res
}

// FrontiersRequest asks for recent, fast-rising work on a topic.
type FrontiersRequest struct {
	TopicRequest
	YearsBack int `json:"yearsBack,omitempty"`
}

func (r FrontiersRequest) Validate() error {
	var verr types.ValidationError
	r.validate(&verr, "topic")
	if r.YearsBack < 0 || r.YearsBack > 20 {
		verr.Add("yearsBack", "must be between 0 and 20")
	}
	return verr.Err()
}

// Frontier is a recent source with its citations per year since
// publication.
type Frontier struct {
	Source   types.Source `json:"source"`
	Velocity float64      `json:"velocity"`
}

func (s *Service) Frontiers(ctx context.Context, req FrontiersRequest) ([]Frontier, error) {
	sources, err := s.fetch(ctx, req.Topic, req.Sources)
	if err != nil {
		return nil, err
	}
	years := req.YearsBack
	if years == 0 {
		years = 3
	}
	return Frontiers(sources, s.now().Year(), years, limitOr(req.Limit)), nil
}

// Frontiers keeps sources published within yearsBack of thisYear and
// ranks them by citation velocity.
func Frontiers(sources []types.Source, thisYear, yearsBack, limit int) []Frontier {
	out := []Frontier{}
	for _, src := range sources {
		if src.Year == 0 || src.Year < thisYear-yearsBack {
			continue
		}
		age := max(0, thisYear-src.Year)
		out = append(out, Frontier{Source: src, Velocity: float64(src.CitationCount) / float64(age+1)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Velocity > out[j].Velocity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// MapRequest asks for the themes of a topic.
type MapRequest struct {
	TopicRequest
	Clusters int `json:"clusters,omitempty"`
}

func (r MapRequest) Validate() error {
	var verr types.ValidationError
	r.validate(&verr, "topic")
	if r.Clusters < 0 || r.Clusters > 20 {
		verr.Add("clusters", "must be between 0 and 20")
	}
	return verr.Err()
}

// Cluster groups sources under a shared title keyword.
type Cluster struct {
	Keyword string   `json:"keyword"`
	Count   int      `json:"count"`
	Titles  []string `json:"titles"`
}

func (s *Service) Map(ctx context.Context, req MapRequest) ([]Cluster, error) {
	sources, err := s.fetch(ctx, req.Topic, req.Sources)
	if err != nil {
		return nil, err
	}
	n := req.Clusters
	if n == 0 {
		n = 5
	}
	return Map(sources, req.Topic, n), nil
}

// Map picks the n most frequent title keywords, ignoring the words of the
// topic itself, and assigns each source to the most frequent keyword its
// title contains. Sources matching none are left out.
func Map(sources []types.Source, topic string, n int) []Cluster {
	skip := make(map[string]bool)
	for _, w := range tokens(topic) {
		skip[w] = true
	}
	counts := termCounts(sources)
	var candidates []termCount
	for t, c := range counts {
		if !skip[t] && c > 1 {
			candidates = append(candidates, termCount{t, c})
		}
	}
	keywords := topTerms(candidates, n)

	clusters := make([]Cluster, len(keywords))
	for i, k := range keywords {
		clusters[i] = Cluster{Keyword: k, Titles: []string{}}
	}
	for _, src := range sources {
		words := make(map[string]bool)
		for _, w := range tokens(src.Title) {
			words[w] = true
		}
		for i, k := range keywords {
			if words[k] {
				clusters[i].Count++
				clusters[i].Titles = append(clusters[i].Titles, src.Title)
				break
			}
		}
	}
	return clusters
}

// NetworkRequest asks for the co-author graph of a topic.
type NetworkRequest struct {
	TopicRequest
	MinPapers int `json:"minPapers,omitempty"`
}

func (r NetworkRequest) Validate() error {
	var verr types.ValidationError
	r.validate(&verr, "topic")
	if r.MinPapers < 0 {
		verr.Add("minPapers", "must not be negative")
	}
	return verr.Err()
}

// AuthorNode is an author and the number of sampled papers they wrote.
type AuthorNode struct {
	Name   string `json:"name"`
	Papers int    `json:"papers"`
}

// Edge joins two authors who wrote Weight papers together.
type Edge struct {
	A      string `json:"a"`
	B      string `json:"b"`
	Weight int    `json:"weight"`
}

// AuthorNetwork is the co-authorship graph.
type AuthorNetwork struct {
	Nodes []AuthorNode `json:"nodes"`
	Edges []Edge       `json:"edges"`
}

func (s *Service) Network(ctx context.Context, req NetworkRequest) (AuthorNetwork, error) {
	sources, err := s.fetch(ctx, req.Topic, req.Sources)
	if err != nil {
		return AuthorNetwork{}, err
	}
	return Network(sources, max(1, req.MinPapers), limitOr(req.Limit)), nil
}

// Network builds the co-author graph of authors with at least minPapers
// papers, keeping the limit most prolific authors.
func Network(sources []types.Source, minPapers, limit int) AuthorNetwork {
	papers := make(map[string]int)
	pairs := make(map[[2]string]int)
	for _, src := range sources {
		authors := uniqueAuthors(src.Authors)
		for i, a := range authors {
			papers[a]++
			for _, b := range authors[i+1:] {
				k := [2]string{a, b}
				if b < a {
					k = [2]string{b, a}
				}
				pairs[k]++
			}
		}
	}

	net := AuthorNetwork{Nodes: []AuthorNode{}, Edges: []Edge{}}
	for name, n := range papers {
		if n >= minPapers {
			net.Nodes = append(net.Nodes, AuthorNode{Name: name, Papers: n})
		}
	}
	sort.Slice(net.Nodes, func(i, j int) bool {
		if net.Nodes[i].Papers != net.Nodes[j].Papers {
			return net.Nodes[i].Papers > net.Nodes[j].Papers
		}
		return net.Nodes[i].Name < net.Nodes[j].Name
	})
	if len(net.Nodes) > limit {
		net.Nodes = net.Nodes[:limit]
	}
	kept := make(map[string]bool, len(net.Nodes))
	for _, n := range net.Nodes {
		kept[n.Name] = true
	}
	for k, w := range pairs {
		if kept[k[0]] && kept[k[1]] {
			net.Edges = append(net.Edges, Edge{A: k[0], B: k[1], Weight: w})
		}
	}
	sort.Slice(net.Edges, func(i, j int) bool {
		if net.Edges[i].Weight != net.Edges[j].Weight {
			return net.Edges[i].Weight > net.Edges[j].Weight
		}
		if net.Edges[i].A != net.Edges[j].A {
			return net.Edges[i].A < net.Edges[j].A
		}
		return net.Edges[i].B < net.Edges[j].B
	})
	return net
}

func uniqueAuthors(authors []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range authors {
		a = strings.TrimSpace(a)
		if a != "" && !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

// RecommendRequest asks for reading suggestions on a topic.
type RecommendRequest struct {
	TopicRequest
	// Exclude lists DOIs the reader already has.
	Exclude []string `json:"exclude,omitempty"`
}

func (r RecommendRequest) Validate() error {
	var verr types.ValidationError
	r.validate(&verr, "topic")
	return verr.Err()
}

// Recommendation is a source and its score in [0, 1].
type Recommendation struct {
	Source types.Source `json:"source"`
	Score  float64      `json:"score"`
}

func (s *Service) Recommend(ctx context.Context, req RecommendRequest) ([]Recommendation, error) {
	sources, err := s.fetch(ctx, req.Topic, req.Sources)
	if err != nil {
		return nil, err
	}
	return Recommend(sources, req.Exclude, limitOr(req.Limit)), nil
}

// Recommend scores sources by relevance times log-scaled citations,
// normalised by the best score, skipping excluded DOIs.
func Recommend(sources []types.Source, exclude []string, limit int) []Recommendation {
	skip := make(map[string]bool)
	for _, d := range exclude {
		skip[types.NormalizeDOI(d)] = true
	}
	out := []Recommendation{}
	best := 0.0
	for _, src := range sources {
		if d := src.NormalizedDOI(); d != "" && skip[d] {
			continue
		}
		rel := src.RelevanceScore
		if rel == 0 {
			rel = 0.1
		}
		score := rel * math.Log1p(float64(src.CitationCount)+1)
		best = math.Max(best, score)
		out = append(out, Recommendation{Source: src, Score: score})
	}
	if best > 0 {
		for i := range out {
			out[i].Score /= best
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// TimelineRequest asks for publication counts per year.
type TimelineRequest struct {
	TopicRequest
	FromYear int `json:"fromYear,omitempty"`
	ToYear   int `json:"toYear,omitempty"`
}

func (r TimelineRequest) Validate() error {
	var verr types.ValidationError
	r.validate(&verr, "topic")
	if r.FromYear != 0 && r.ToYear != 0 && r.ToYear < r.FromYear {
		verr.Add("toYear", "must not precede fromYear")
	}
	return verr.Err()
}

// YearCount is the sampled output of one year.
type YearCount struct {
	Year      int `json:"year"`
	Count     int `json:"count"`
	Citations int `json:"citations"`
}

func (s *Service) Timeline(ctx context.Context, req TimelineRequest) ([]YearCount, error) {
	sources, err := s.fetch(ctx, req.Topic, req.Sources)
	if err != nil {
		return nil, err
	}
	return Timeline(sources, req.FromYear, req.ToYear), nil
}

// Timeline counts sources and citations per year. Bounds of zero are
// open. Years between the first and last present year are filled with
// zero counts.
func Timeline(sources []types.Source, from, to int) []YearCount {
	byYear := make(map[int]*YearCount)
	lo, hi := 0, 0
	for _, src := range sources {
		y := src.Year
		if y == 0 || (from != 0 && y < from) || (to != 0 && y > to) {
			continue
		}
		yc := byYear[y]
		if yc == nil {
			yc = &YearCount{Year: y}
			byYear[y] = yc
		}
		yc.Count++
		yc.Citations += src.CitationCount
		if lo == 0 || y < lo {
			lo = y
		}
		hi = max(hi, y)
	}
	out := []YearCount{}
	if lo == 0 {
		return out
	}
	for y := lo; y <= hi; y++ {
		if yc := byYear[y]; yc != nil {
			out = append(out, *yc)
		} else {
			out = append(out, YearCount{Year: y})
		}
	}
	return out
}

// stopwords are excluded from title keywords.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"based": true, "by": true, "for": true, "from": true, "in": true,
	"into": true, "is": true, "its": true, "of": true, "on": true, "or": true,
	"the": true, "their": true, "to": true, "using": true, "via": true,
	"with": true, "within": true, "study": true, "analysis": true,
	"review": true, "new": true, "between": true, "among": true,
}

// tokens returns the lowercase keywords of s.
func tokens(s string) []string {
	var out []string
	for _, w := range strings.Fields(search.NormalizeTitle(s)) {
		if len(w) < 3 || stopwords[w] || isNumber(w) {
			continue
		}
		out = append(out, w)
	}
	return out
}

func isNumber(w string) bool {
	for _, r := range w {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// termCounts counts in how many titles each keyword appears.
func termCounts(sources []types.Source) map[string]int {
	counts := make(map[string]int)
	for _, src := range sources {
		seen := make(map[string]bool)
		for _, w := range tokens(src.Title) {
			if !seen[w] {
				seen[w] = true
				counts[w]++
			}
		}
	}
	return counts
}

type termCount struct {
	term  string
	count int
}

func topTerms(tc []termCount, n int) []string {
	sort.Slice(tc, func(i, j int) bool {
		if tc[i].count != tc[j].count {
			return tc[i].count > tc[j].count
		}
		return tc[i].term < tc[j].term
	})
	out := []string{}
	for i := 0; i < len(tc) && i < n; i++ {
		out = append(out, tc[i].term)
	}
	return out
}
