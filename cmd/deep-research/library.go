// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/deep-research/internal/library"
)

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "Search and export sources saved from research sessions",
	Long: `Library manages the local SQLite library of sources saved from completed
sessions (research --save-library, or POST /api/research/{id}/library).
Use subcommands to search it or export it.`,
}

var librarySearchCmd = &cobra.Command{
	Use:   "search [words...]",
	Short: "Full-text search over saved titles and abstracts",
	RunE:  runLibrarySearch,
}

var libraryExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the library as JSON, YAML, or CSL-YAML",
	RunE:  runLibraryExport,
}

func init() {
	libraryCmd.PersistentFlags().String("library", "", "library database (default from config)")
	_ = viper.BindPFlag("library.path", libraryCmd.PersistentFlags().Lookup("library"))

	for _, c := range []*cobra.Command{librarySearchCmd, libraryExportCmd} {
		c.Flags().String("session", "", "only sources found by this session")
		c.Flags().String("origin", "", "only sources found by this backend")
		c.Flags().Int("from-year", 0, "earliest publication year")
		c.Flags().Int("to-year", 0, "latest publication year")
	}
	librarySearchCmd.Flags().Int("max-results", 0, "maximum number of results (default from config)")
	libraryExportCmd.Flags().String("format", library.ExportYAML, "json, yaml, or csl")
	libraryExportCmd.Flags().StringP("out", "o", "", "write to this file instead of stdout")

	libraryCmd.AddCommand(librarySearchCmd, libraryExportCmd)
	rootCmd.AddCommand(libraryCmd)
}

func openLibrary() (*library.Library, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Library.Path == "" {
		return nil, fmt.Errorf("no library configured (set library.path or --library)")
	}
	return library.Open(cfg.Library, logger)
}

func libraryQuery(cmd *cobra.Command, args []string) library.QueryOptions {
	opts := library.QueryOptions{Query: strings.Join(args, " ")}
	opts.SessionID, _ = cmd.Flags().GetString("session")
	opts.Origin, _ = cmd.Flags().GetString("origin")
	opts.YearFrom, _ = cmd.Flags().GetInt("from-year")
	opts.YearTo, _ = cmd.Flags().GetInt("to-year")
	return opts
}

func runLibrarySearch(cmd *cobra.Command, args []string) error {
	lib, err := openLibrary()
	if err != nil {
		return err
	}
	defer lib.Close()

	opts := libraryQuery(cmd, args)
	opts.MaxResults, _ = cmd.Flags().GetInt("max-results")
	entries, err := lib.Search(cmd.Context(), opts)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No results found.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tYEAR\tCITED\tTITLE")
	for _, e := range entries {
		title := e.Title
		if len(title) > 70 {
			title = title[:67] + "..."
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", e.Key, e.Year, e.CitationCount, title)
	}
	return tw.Flush()
}

func runLibraryExport(cmd *cobra.Command, args []string) error {
	lib, err := openLibrary()
	if err != nil {
		return err
	}
	defer lib.Close()

	format, _ := cmd.Flags().GetString("format")
	w := cmd.OutOrStdout()
	if out, _ := cmd.Flags().GetString("out"); out != "" {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("creating %s: %w", out, err)
		}
		defer f.Close()
		w = f
	}
	return lib.Export(cmd.Context(), w, format, libraryQuery(cmd, args))
}
