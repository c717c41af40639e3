// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/dedup"
	"github.com/pdiddy/deep-research/internal/search"
	"github.com/pdiddy/deep-research/pkg/types"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search academic APIs for candidate papers",
	Long: `Search queries the literature backends in parallel for papers matching
a research question or structured query parameters. Results are merged,
fuzzy-deduplicated, and ranked by relevance.

Use --save to keep the query and results as YAML and --from-file to rerun
a saved query.`,
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().String("query", "", "free-text research question")
	searchCmd.Flags().String("author", "", "filter by author name")
	searchCmd.Flags().String("keywords", "", "filter by keywords (comma-separated)")
	searchCmd.Flags().String("from", "", "publication date range start (YYYY-MM-DD)")
	searchCmd.Flags().String("to", "", "publication date range end (YYYY-MM-DD)")
	searchCmd.Flags().Int("max-results", 20, "maximum number of results to return")
	searchCmd.Flags().StringSlice("sources", types.KnownSources, "backends to query")
	searchCmd.Flags().Bool("json", false, "output results as JSON")
	searchCmd.Flags().Bool("csl", false, "output results as CSL-YAML")
	searchCmd.Flags().String("save", "", "write query and results to this YAML file")
	searchCmd.Flags().String("from-file", "", "rerun the query saved in this YAML file")

	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	query, err := queryFromFlags(cmd)
	if err != nil {
		return err
	}

	names, _ := cmd.Flags().GetStringSlice("sources")
	backends, err := search.NewDefaultRegistry(cfg.Search, logger).Select(names)
	if err != nil {
		return err
	}

	scfg := cfg.Search
	scfg.MaxResults, _ = cmd.Flags().GetInt("max-results")
	out, err := search.SearchAll(cmd.Context(), query, backends, scfg, logger)
	if err != nil {
		return err
	}

	// Exact merging leaves near-duplicate titles behind; fold them here.
	deduped := dedup.DeduplicateSources(out.Results)
	out.DupsRemoved += deduped.DuplicateCount
	out.Results = deduped.Deduplicated

	if path, _ := cmd.Flags().GetString("save"); path != "" {
		if err := search.WriteQueryFile(path, query, names, out); err != nil {
			return err
		}
		logger.Info("saved query", zap.String("path", path), zap.Int("results", len(out.Results)))
	}

	w := cmd.OutOrStdout()
	asJSON, _ := cmd.Flags().GetBool("json")
	asCSL, _ := cmd.Flags().GetBool("csl")
	switch {
	case asCSL:
		return search.FormatCSL(out.Results, w)
	case asJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out.Results)
	default:
		search.FormatTable(out, w)
		return nil
	}
}

func queryFromFlags(cmd *cobra.Command) (search.Query, error) {
	if path, _ := cmd.Flags().GetString("from-file"); path != "" {
		qf, err := search.ReadQueryFile(path)
		if err != nil {
			return search.Query{}, err
		}
		return qf.Query.ToQuery()
	}

	var q search.Query
	q.FreeText, _ = cmd.Flags().GetString("query")
	q.Author, _ = cmd.Flags().GetString("author")
	if kw, _ := cmd.Flags().GetString("keywords"); kw != "" {
		for _, k := range strings.Split(kw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				q.Keywords = append(q.Keywords, k)
			}
		}
	}
	for flag, dst := range map[string]*time.Time{"from": &q.DateFrom, "to": &q.DateTo} {
		v, _ := cmd.Flags().GetString(flag)
		if v == "" {
			continue
		}
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return q, fmt.Errorf("--%s must be YYYY-MM-DD: %w", flag, err)
		}
		*dst = t
	}
	if q.IsEmpty() {
		return q, search.ErrEmptyQuery
	}
	return q, nil
}
