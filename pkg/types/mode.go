// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects a research preset. Each mode maps to one ModeConfig.
type Mode string

const (
	ModeQuick      Mode = "quick"
	ModeStandard   Mode = "standard"
	ModeDeep       Mode = "deep"
	ModeExhaustive Mode = "exhaustive"
	ModeSystematic Mode = "systematic"
)

// Backend names accepted in ResearchConfig.Sources.
const (
	SourcePubMed          = "pubmed"
	SourceArxiv           = "arxiv"
	SourceSemanticScholar = "semantic_scholar"
	SourceCrossRef        = "crossref"
	SourceOpenAlex        = "openalex"
)

// KnownSources lists every backend name a config may reference.
var KnownSources = []string{SourcePubMed, SourceArxiv, SourceSemanticScholar, SourceCrossRef, SourceOpenAlex}

// Bounds on the tunable research parameters.
const (
	MinDepth   = 1
	MaxDepth   = 6
	MinBreadth = 2
	MaxBreadth = 8
)

// ModeConfig holds the defaults a mode derives.
type ModeConfig struct {
	Depth           int
	Breadth         int
	SourcesPerQuery int
	MaxSources      int
	Clarify         bool
	Sources         []string
}

var allSources = []string{SourcePubMed, SourceArxiv, SourceSemanticScholar, SourceCrossRef, SourceOpenAlex}

// modeTable is the single place mode presets are defined.
var modeTable = map[Mode]ModeConfig{
	ModeQuick:      {Depth: 1, Breadth: 2, SourcesPerQuery: 5, MaxSources: 25, Clarify: false, Sources: []string{SourcePubMed, SourceSemanticScholar}},
	ModeStandard:   {Depth: 2, Breadth: 3, SourcesPerQuery: 8, MaxSources: 60, Clarify: true, Sources: allSources},
	ModeDeep:       {Depth: 3, Breadth: 4, SourcesPerQuery: 10, MaxSources: 120, Clarify: true, Sources: allSources},
	ModeExhaustive: {Depth: 4, Breadth: 6, SourcesPerQuery: 15, MaxSources: 300, Clarify: true, Sources: allSources},
	ModeSystematic: {Depth: 3, Breadth: 5, SourcesPerQuery: 20, MaxSources: 250, Clarify: true, Sources: allSources},
}

// ParseMode converts a string into a Mode. The empty string yields ModeStandard.
func ParseMode(s string) (Mode, error) {
	if s == "" {
		return ModeStandard, nil
	}
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := modeTable[m]; !ok {
		return "", fmt.Errorf("unknown mode %q", s)
	}
	return m, nil
}

// Preset returns the ModeConfig for m.
func (m Mode) Preset() (ModeConfig, bool) {
	mc, ok := modeTable[m]
	if !ok {
		return ModeConfig{}, false
	}
	mc.Sources = append([]string(nil), mc.Sources...)
	return mc, true
}

// ResearchConfig is the effective configuration of one session.
type ResearchConfig struct {
	Depth           int       `json:"depth" yaml:"depth"`
	Breadth         int       `json:"breadth" yaml:"breadth"`
	Sources         []string  `json:"sources" yaml:"sources"`
	SourcesPerQuery int       `json:"sourcesPerQuery" yaml:"sources_per_query"`
	MaxSources      int       `json:"maxSources" yaml:"max_sources"`
	DateFrom        time.Time `json:"dateFrom,omitempty" yaml:"date_from,omitempty"`
	DateTo          time.Time `json:"dateTo,omitempty" yaml:"date_to,omitempty"`
	ArticleTypes    []string  `json:"articleTypes,omitempty" yaml:"article_types,omitempty"`
	FanOut          int       `json:"fanOut" yaml:"fan_out"`
	Model           string    `json:"model,omitempty" yaml:"model,omitempty"`
}

// ConfigOverrides carries request-level overrides. Nil or zero fields keep
// the mode default.
type ConfigOverrides struct {
	Depth           *int     `json:"depth,omitempty"`
	Breadth         *int     `json:"breadth,omitempty"`
	Sources         []string `json:"sources,omitempty"`
	SourcesPerQuery *int     `json:"sourcesPerQuery,omitempty"`
	MaxSources      *int     `json:"maxSources,omitempty"`
	DateFrom        string   `json:"dateFrom,omitempty"`
	DateTo          string   `json:"dateTo,omitempty"`
	ArticleTypes    []string `json:"articleTypes,omitempty"`
	FanOut          *int     `json:"fanOut,omitempty"`
	Model           string   `json:"model,omitempty"`
}

const defaultFanOut = 4

// DefaultResearchConfig returns the configuration a mode implies.
func DefaultResearchConfig(m Mode) ResearchConfig {
	mc, ok := m.Preset()
	if !ok {
		mc, _ = ModeStandard.Preset()
	}
	return ResearchConfig{
		Depth:           mc.Depth,
		Breadth:         mc.Breadth,
		Sources:         mc.Sources,
		SourcesPerQuery: mc.SourcesPerQuery,
		MaxSources:      mc.MaxSources,
		FanOut:          defaultFanOut,
	}
}

// BuildResearchConfig applies overrides on top of the mode defaults and
// validates the result.
func BuildResearchConfig(m Mode, o *ConfigOverrides) (ResearchConfig, error) {
	cfg := DefaultResearchConfig(m)
	var errs ValidationError
	if o != nil {
		if o.Depth != nil {
			cfg.Depth = *o.Depth
		}
		if o.Breadth != nil {
			cfg.Breadth = *o.Breadth
		}
		if len(o.Sources) > 0 {
			cfg.Sources = normalizeSources(o.Sources)
		}
		if o.SourcesPerQuery != nil {
			cfg.SourcesPerQuery = *o.SourcesPerQuery
		}
		if o.MaxSources != nil {
			cfg.MaxSources = *o.MaxSources
		}
		if o.FanOut != nil {
			cfg.FanOut = *o.FanOut
		}
		if o.DateFrom != "" {
			t, err := time.Parse("2006-01-02", o.DateFrom)
			if err != nil {
				errs.Add("config.dateFrom", "must be YYYY-MM-DD")
			}
			cfg.DateFrom = t
		}
		if o.DateTo != "" {
			t, err := time.Parse("2006-01-02", o.DateTo)
			if err != nil {
				errs.Add("config.dateTo", "must be YYYY-MM-DD")
			}
			cfg.DateTo = t
		}
		cfg.ArticleTypes = o.ArticleTypes
		cfg.Model = strings.TrimSpace(o.Model)
	}
	errs.Merge(cfg.Validate())
	if errs.HasErrors() {
		return cfg, &errs
	}
	return cfg, nil
}

// Validate reports every out-of-range field.
func (c ResearchConfig) Validate() ValidationError {
	var errs ValidationError
	if c.Depth < MinDepth || c.Depth > MaxDepth {
		errs.Add("config.depth", fmt.Sprintf("must be between %d and %d", MinDepth, MaxDepth))
	}
	if c.Breadth < MinBreadth || c.Breadth > MaxBreadth {
		errs.Add("config.breadth", fmt.Sprintf("must be between %d and %d", MinBreadth, MaxBreadth))
	}
	if len(c.Sources) == 0 {
		errs.Add("config.sources", "at least one source is required")
	}
	for _, s := range c.Sources {
		if !isKnownSource(s) {
			errs.Add("config.sources", fmt.Sprintf("unknown source %q", s))
		}
	}
	if c.SourcesPerQuery < 1 {
		errs.Add("config.sourcesPerQuery", "must be positive")
	}
	if c.MaxSources < 1 {
		errs.Add("config.maxSources", "must be positive")
	}
	if c.FanOut < 1 {
		errs.Add("config.fanOut", "must be positive")
	}
	if !c.DateFrom.IsZero() && !c.DateTo.IsZero() && c.DateTo.Before(c.DateFrom) {
		errs.Add("config.dateTo", "must not precede dateFrom")
	}
	return errs
}

// SearchConfig derives the backend settings for this research run.
func (c ResearchConfig) SearchConfig(base SearchConfig) SearchConfig {
	out := base
	out.MaxResults = c.SourcesPerQuery
	return out
}

func normalizeSources(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func isKnownSource(s string) bool {
	for _, k := range KnownSources {
		if k == s {
			return true
		}
	}
	return false
}
