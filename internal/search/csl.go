// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"io"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/deep-research/pkg/types"
)

// CSLItem represents a bibliographic entry in CSL (Citation Style Language)
// format. The field names follow the CSL-YAML schema so that output is
// consumable by Pandoc and reference managers.
type CSLItem struct {
	ID             string    `yaml:"id"`
	Type           string    `yaml:"type"`
	Title          string    `yaml:"title"`
	Author         []CSLName `yaml:"author,omitempty"`
	ContainerTitle string    `yaml:"container-title,omitempty"`
	Abstract       string    `yaml:"abstract,omitempty"`
	Issued         *CSLDate  `yaml:"issued,omitempty"`
	DOI            string    `yaml:"DOI,omitempty"`
	PMID           string    `yaml:"PMID,omitempty"`
	URL            string    `yaml:"URL,omitempty"`
}

// CSLName represents a person's name in CSL format.
type CSLName struct {
	Family  string `yaml:"family,omitempty"`
	Given   string `yaml:"given,omitempty"`
	Literal string `yaml:"literal,omitempty"`
}

// CSLDate represents a date in CSL format using date-parts.
type CSLDate struct {
	DateParts [][]int `yaml:"date-parts"`
}

// FormatCSL writes sources as a CSL-YAML list to w.
func FormatCSL(sources []types.Source, w io.Writer) error {
	items := make([]CSLItem, len(sources))
	for i, s := range sources {
		items[i] = ToCSLItem(s)
	}
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(items)
}

// ToCSLItem converts a Source to a CSLItem. The item id prefers the DOI,
// then the PMID, then the session-local source id.
func ToCSLItem(s types.Source) CSLItem {
	item := CSLItem{
		ID:             cslID(s),
		Type:           "article-journal",
		Title:          s.Title,
		ContainerTitle: s.Journal,
		Abstract:       s.Abstract,
		DOI:            s.NormalizedDOI(),
		PMID:           s.PMID,
		URL:            s.URL,
	}
	if s.Journal == "arXiv" {
		item.Type = "article"
	}
	for _, a := range s.Authors {
		item.Author = append(item.Author, parseAuthorName(a))
	}
	if s.Year > 0 {
		item.Issued = &CSLDate{DateParts: [][]int{{s.Year}}}
	}
	return item
}

func cslID(s types.Source) string {
	switch {
	case s.NormalizedDOI() != "":
		return s.NormalizedDOI()
	case s.PMID != "":
		return "pmid:" + s.PMID
	default:
		return s.ID
	}
}

// parseAuthorName splits a full name string into CSL family/given parts.
// PubMed style "Smith JA" keeps the surname first; otherwise the last token
// is the family name. Single-token names use the literal field.
func parseAuthorName(name string) CSLName {
	name = strings.TrimSpace(name)
	if name == "" {
		return CSLName{}
	}
	fields := strings.Fields(name)
	if len(fields) == 1 {
		return CSLName{Literal: name}
	}
	last := fields[len(fields)-1]
	if isInitials(last) {
		return CSLName{Family: strings.Join(fields[:len(fields)-1], " "), Given: last}
	}
	return CSLName{Given: strings.Join(fields[:len(fields)-1], " "), Family: last}
}

// isInitials reports whether s is an all-caps run of up to three letters,
// the way PubMed abbreviates given names.
func isInitials(s string) bool {
	if len(s) == 0 || len(s) > 3 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
