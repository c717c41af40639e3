// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package library

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/deep-research/internal/search"
	"github.com/pdiddy/deep-research/pkg/types"
)

// Export formats.
const (
	ExportYAML = "yaml"
	ExportJSON = "json"
	ExportCSL  = "csl"
)

const exportLimit = 100000

// Export writes every entry matching opts to w as YAML, JSON, or CSL-YAML.
func (l *Library) Export(ctx context.Context, w io.Writer, format string, opts QueryOptions) error {
	opts.MaxResults = exportLimit
	entries, err := l.Search(ctx, opts)
	if err != nil {
		return fmt.Errorf("querying for export: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}

	switch format {
	case ExportYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(entries); err != nil {
			return fmt.Errorf("marshaling YAML: %w", err)
		}
		return enc.Close()
	case ExportJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case ExportCSL:
		sources := make([]types.Source, len(entries))
		for i, e := range entries {
			sources[i] = e.Source
		}
		return search.FormatCSL(sources, w)
	}
	return fmt.Errorf("unknown export format %q", format)
}
