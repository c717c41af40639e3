// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/deep-research/pkg/types"
)

func TestDeduplicateEmpty(t *testing.T) {
	res := DeduplicateSources(nil)
	assert.Empty(t, res.Deduplicated)
	assert.NotNil(t, res.Deduplicated)
	assert.Equal(t, 0, res.DuplicateCount)
	assert.Empty(t, res.DeduplicationMap)
}

func TestDeduplicateDOICaseInsensitive(t *testing.T) {
	in := []types.Source{
		{ID: "a", Title: "Metformin and aging", DOI: "10.1016/J.CMET.2016.05.011", CitationCount: 10, Origin: "pubmed"},
		{ID: "b", Title: "Metformin as a tool to target aging", DOI: "https://doi.org/10.1016/j.cmet.2016.05.011", CitationCount: 250, Origin: "openalex"},
	}
	res := DeduplicateSources(in)

	require.Len(t, res.Deduplicated, 1)
	assert.Equal(t, 1, res.DuplicateCount)
	canon := res.Deduplicated[0]
	assert.Equal(t, "b", canon.ID, "most-cited record wins")
	assert.Equal(t, "10.1016/j.cmet.2016.05.011", canon.DOI)
	assert.Equal(t, "openalex,pubmed", canon.Origin)
	assert.Equal(t, map[string]string{"a": "b", "b": "b"}, res.DeduplicationMap)
}

func TestDeduplicateDifferentDOIsNeverMerge(t *testing.T) {
	in := []types.Source{
		{ID: "a", Title: "Deep learning", DOI: "10.1/one"},
		{ID: "b", Title: "Deep learning", DOI: "10.1/two"},
	}
	res := DeduplicateSources(in)
	assert.Len(t, res.Deduplicated, 2)
	assert.Equal(t, 0, res.DuplicateCount)
}

func TestDeduplicateByPMID(t *testing.T) {
	in := []types.Source{
		{ID: "a", Title: "Rapamycin extends lifespan", PMID: "19587680"},
		{ID: "b", Title: "Rapamycin fed late in life extends lifespan in genetically heterogeneous mice", PMID: "19587680", Abstract: "Inhibition of mTOR."},
	}
	res := DeduplicateSources(in)
	require.Len(t, res.Deduplicated, 1)
	assert.Equal(t, "b", res.Deduplicated[0].ID, "more complete record wins the tie")
}

func TestDeduplicateFuzzyTitle(t *testing.T) {
	in := []types.Source{
		{ID: "a", Title: "Attention Is All You Need", Authors: []string{"Ashish Vaswani"}, Year: 2017, Origin: "arxiv"},
		{ID: "b", Title: "Attention is all you need.", Authors: []string{"Vaswani A"}, Year: 2017, DOI: "10.5555/3295222", Origin: "crossref"},
		{ID: "c", Title: "Attention Is All You Needs", Authors: []string{"A. Vaswani"}, Year: 2018, Origin: "semantic_scholar"},
	}
	res := DeduplicateSources(in)
	require.Len(t, res.Deduplicated, 1)
	canon := res.Deduplicated[0]
	assert.Equal(t, "b", canon.ID, "the DOI-bearing record is the most complete")
	assert.Equal(t, "10.5555/3295222", canon.DOI)
	assert.Equal(t, 2, res.DuplicateCount)
	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, "b", res.DeduplicationMap[id])
	}
}

func TestDeduplicateFuzzyRejectsContradictions(t *testing.T) {
	tests := []struct {
		name string
		a, b types.Source
	}{
		{
			"different first author",
			types.Source{ID: "a", Title: "A survey of graph neural networks", Authors: []string{"Jie Zhou"}},
			types.Source{ID: "b", Title: "A survey of graph neural networks", Authors: []string{"Zonghan Wu"}},
		},
		{
			"years far apart",
			types.Source{ID: "a", Title: "Annual review of cardiology", Year: 2015},
			types.Source{ID: "b", Title: "Annual review of cardiology", Year: 2020},
		},
		{
			"dissimilar titles",
			types.Source{ID: "a", Title: "Metformin in type 2 diabetes"},
			types.Source{ID: "b", Title: "Metformin in polycystic ovary syndrome"},
		},
		{
			"empty titles",
			types.Source{ID: "a"},
			types.Source{ID: "b"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := DeduplicateSources([]types.Source{tt.a, tt.b})
			assert.Len(t, res.Deduplicated, 2)
		})
	}
}

func TestDeduplicateTransitiveChainBlockedByDOIConflict(t *testing.T) {
	// c fuzzily matches both a and b, but a and b are distinct works.
	in := []types.Source{
		{ID: "a", Title: "Gut microbiome and depression", DOI: "10.1/a"},
		{ID: "b", Title: "Gut microbiome and depression", DOI: "10.1/b"},
		{ID: "c", Title: "Gut microbiome and depression."},
	}
	res := DeduplicateSources(in)
	require.Len(t, res.Deduplicated, 2)
	assert.Equal(t, "a", res.DeduplicationMap["c"])
	assert.Equal(t, "b", res.DeduplicationMap["b"])
}

func TestDeduplicateTransitiveChainBlockedByAuthorConflict(t *testing.T) {
	// The authorless record matches both papers, which have different first authors.
	in := []types.Source{
		{ID: "smith", Title: "Machine learning in radiology", Authors: []string{"Smith J"}, Year: 2020},
		{ID: "anon", Title: "Machine learning in radiology", Year: 2020},
		{ID: "jones", Title: "Machine learning in radiology", Authors: []string{"Jones K"}, Year: 2020},
	}
	res := DeduplicateSources(in)
	require.Len(t, res.Deduplicated, 2)
	assert.Equal(t, 1, res.DuplicateCount)
	assert.Equal(t, "smith", res.DeduplicationMap["anon"])
	assert.Equal(t, "jones", res.DeduplicationMap["jones"])

	again := DeduplicateSources(res.Deduplicated)
	assert.Equal(t, 0, again.DuplicateCount)
}

func TestDeduplicateTransitiveChainBlockedByYearSpan(t *testing.T) {
	// Each neighbour is within a year, but the chain spans two.
	in := []types.Source{
		{ID: "a", Title: "Sleep and memory consolidation", Year: 2018},
		{ID: "b", Title: "Sleep and memory consolidation", Year: 2019},
		{ID: "c", Title: "Sleep and memory consolidation", Year: 2020},
	}
	res := DeduplicateSources(in)
	require.Len(t, res.Deduplicated, 2)
	assert.Equal(t, "a", res.DeduplicationMap["b"])
	assert.Equal(t, "c", res.DeduplicationMap["c"])
}

func TestDeduplicateIdentifierMatchIgnoresAuthorFormatting(t *testing.T) {
	in := []types.Source{
		{ID: "a", Title: "Gene drives in mosquitoes", Authors: []string{"Hammond A"}, DOI: "10.1/gd", Year: 2016},
		{ID: "b", Title: "Gene drives in mosquitoes", Authors: []string{"Consortium"}, DOI: "10.1/GD", Year: 2015},
	}
	res := DeduplicateSources(in)
	assert.Len(t, res.Deduplicated, 1)
}

func TestDeduplicateFillsMissingFields(t *testing.T) {
	in := []types.Source{
		{ID: "a", Title: "CRISPR screens", DOI: "10.1/x", CitationCount: 90, Origin: "semantic_scholar"},
		{ID: "b", Title: "CRISPR screens", DOI: "10.1/X", Abstract: "We screen.", URL: "https://example.org", Journal: "Cell", PMID: "42", Origin: "pubmed", RelevanceScore: 0.9},
	}
	res := DeduplicateSources(in)
	require.Len(t, res.Deduplicated, 1)
	c := res.Deduplicated[0]
	assert.Equal(t, "a", c.ID)
	assert.Equal(t, "We screen.", c.Abstract)
	assert.Equal(t, "https://example.org", c.URL)
	assert.Equal(t, "Cell", c.Journal)
	assert.Equal(t, "42", c.PMID)
	assert.Equal(t, 0.9, c.RelevanceScore)
	assert.Equal(t, 90, c.CitationCount)
}

func TestDeduplicatePreservesFirstAppearanceOrder(t *testing.T) {
	in := []types.Source{
		{ID: "1", Title: "Alpha study", DOI: "10.1/alpha"},
		{ID: "2", Title: "Beta study", DOI: "10.1/beta"},
		{ID: "3", Title: "Alpha study", DOI: "10.1/ALPHA", CitationCount: 5},
		{ID: "4", Title: "Gamma study", DOI: "10.1/gamma"},
	}
	res := DeduplicateSources(in)
	require.Len(t, res.Deduplicated, 3)
	assert.Equal(t, []string{"3", "2", "4"}, ids(res.Deduplicated))
	assert.Len(t, res.DeduplicationMap, 4)
}

func TestDeduplicateIsIdempotent(t *testing.T) {
	in := []types.Source{
		{ID: "a", Title: "Attention Is All You Need", Authors: []string{"Ashish Vaswani"}, Year: 2017},
		{ID: "b", Title: "Attention is all you need", DOI: "10.5555/3295222", CitationCount: 3},
		{ID: "c", Title: "Deep residual learning for image recognition", PMID: "1"},
		{ID: "d", Title: "Deep residual learning for image recognition", PMID: "2"},
		{ID: "e", Title: "Batch normalization", DOI: "10.1/bn"},
	}
	first := DeduplicateSources(in)
	second := DeduplicateSources(first.Deduplicated)

	assert.Equal(t, first.Deduplicated, second.Deduplicated)
	assert.Equal(t, 0, second.DuplicateCount)
	for id, canon := range second.DeduplicationMap {
		assert.Equal(t, id, canon)
	}
}

func TestDeduplicateCountInvariant(t *testing.T) {
	in := []types.Source{
		{ID: "1", Title: "One", DOI: "10.1/1"},
		{ID: "2", Title: "One", DOI: "10.1/1"},
		{ID: "3", Title: "One", DOI: "10.1/1"},
		{ID: "4", Title: "Two", DOI: "10.1/2"},
	}
	res := DeduplicateSources(in)
	assert.Equal(t, len(in)-len(res.Deduplicated), res.DuplicateCount)
	assert.Equal(t, 2, res.DuplicateCount)
}

func TestSurname(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Jane Smith", "smith"},
		{"Smith J", "smith"},
		{"Smith JA", "smith"},
		{"Smith, Jane", "smith"},
		{"Plato", "plato"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, surname(tt.in), tt.in)
	}
}

func ids(sources []types.Source) []string {
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = s.ID
	}
	return out
}
