// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package dedup

// unionFind groups source indices. Each root tracks the DOI, PMID, first
// author and year span its group has committed to so that transitive fuzzy
// matches cannot join two distinct works through a record that lacks
// those fields.
type unionFind struct {
	parent []int
	rank   []int
	doi    []string
	pmid   []string
	author []string
	// minYear and maxYear bound the known years of the group; zero means
	// no member carries a year.
	minYear []int
	maxYear []int
}

func newUnionFind(keys []matchKey) *unionFind {
	n := len(keys)
	uf := &unionFind{
		parent:  make([]int, n),
		rank:    make([]int, n),
		doi:     make([]string, n),
		pmid:    make([]string, n),
		author:  make([]string, n),
		minYear: make([]int, n),
		maxYear: make([]int, n),
	}
	for i, k := range keys {
		uf.parent[i] = i
		uf.doi[i] = k.doi
		uf.pmid[i] = k.pmid
		uf.author[i] = k.author
		uf.minYear[i] = k.year
		uf.maxYear[i] = k.year
	}
	return uf
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

// union joins the groups of a and b unless their identifiers conflict.
// A fuzzy join (exact false) is also refused when the groups name
// different first authors or their combined years span more than
// maxYearGap. It reports whether the groups were joined.
func (u *unionFind) union(a, b int, exact bool) bool {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return true
	}
	if conflict(u.doi[ra], u.doi[rb]) {
		return false
	}
	if conflict(u.pmid[ra], u.pmid[rb]) && (u.doi[ra] == "" || u.doi[ra] != u.doi[rb]) {
		return false
	}
	lo, hi := span(u.minYear[ra], u.maxYear[ra], u.minYear[rb], u.maxYear[rb])
	if !exact {
		if conflict(u.author[ra], u.author[rb]) {
			return false
		}
		if lo != 0 && hi-lo > maxYearGap {
			return false
		}
	}

	if u.rank[ra] < u.rank[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	if u.rank[ra] == u.rank[rb] {
		u.rank[ra]++
	}
	if u.doi[ra] == "" {
		u.doi[ra] = u.doi[rb]
	}
	if u.pmid[ra] == "" {
		u.pmid[ra] = u.pmid[rb]
	}
	if u.author[ra] == "" {
		u.author[ra] = u.author[rb]
	}
	u.minYear[ra], u.maxYear[ra] = lo, hi
	return true
}

// span merges two year ranges, ignoring empty ones.
func span(aLo, aHi, bLo, bHi int) (int, int) {
	if aLo == 0 {
		return bLo, bHi
	}
	if bLo == 0 {
		return aLo, aHi
	}
	return min(aLo, bLo), max(aHi, bHi)
}

func conflict(a, b string) bool {
	return a != "" && b != "" && a != b
}
