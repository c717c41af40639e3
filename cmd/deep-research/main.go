// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the deep-research CLI. It serves the
// research API and runs research sessions and literature searches from the
// command line.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/secrets"
	"github.com/pdiddy/deep-research/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds API keys loaded from .secrets/ at startup.
var loadedSecrets map[string]string

// logger is built in PersistentPreRunE from the --verbose flag.
var logger = zap.NewNop()

// rootCmd is the base command for the deep-research CLI.
var rootCmd = &cobra.Command{
	Use:   "deep-research",
	Short: "Multi-perspective literature research over academic search APIs",
	Long: `deep-research plans a literature review from several expert perspectives,
searches PubMed, arXiv, Semantic Scholar, CrossRef, and OpenAlex in parallel,
deduplicates what it finds, and synthesizes a report.

Use "serve" to run the HTTP API with live event streams, "research" to run
one session in the terminal, and "search" for a single merged search.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		l, err := newLogger(verbose)
		if err != nil {
			return err
		}
		logger = l

		dir, _ := cmd.Flags().GetString("secrets-dir")
		s, err := secrets.Load(dir)
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			logger.Debug("loaded secrets", zap.Strings("keys", keys))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./deep-research.yaml or ~/.config/deep-research/config.yaml)")
	rootCmd.PersistentFlags().String("secrets-dir", ".secrets/", "directory of secret files (anthropic-api-key, ncbi-api-key, ...)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "development logging at debug level")
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func initConfig() {
	setDefaults(types.DefaultEngineConfig())

	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("deep-research")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "deep-research"))
		}
	}

	viper.SetEnvPrefix("DEEP_RESEARCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// setDefaults registers every key so that environment variables reach
// Unmarshal even when no config file mentions them.
func setDefaults(d types.EngineConfig) {
	viper.SetDefault("server.addr", d.Server.Addr)
	viper.SetDefault("server.heartbeat", d.Server.Heartbeat)
	viper.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	viper.SetDefault("store.backend", string(d.Store.Backend))
	viper.SetDefault("store.redis_addr", d.Store.RedisAddr)
	viper.SetDefault("store.redis_password", d.Store.RedisPassword)
	viper.SetDefault("store.sqlite_path", d.Store.SQLitePath)
	viper.SetDefault("store.ttl", d.Store.TTL)

	viper.SetDefault("search.timeout", d.Search.Timeout)
	viper.SetDefault("search.user_agent", d.Search.UserAgent)
	viper.SetDefault("search.max_results", d.Search.MaxResults)
	viper.SetDefault("search.semantic_scholar_api_key", "")
	viper.SetDefault("search.ncbi_api_key", "")
	viper.SetDefault("search.openalex_email", "")
	viper.SetDefault("search.crossref_mailto", "")
	viper.SetDefault("search.requests_per_second", d.Search.RequestsPerSecond)
	viper.SetDefault("search.max_retries", d.Search.MaxRetries)

	viper.SetDefault("ai.model", d.AI.Model)
	viper.SetDefault("ai.api_key", "")
	viper.SetDefault("ai.timeout", d.AI.Timeout)
	viper.SetDefault("ai.max_tokens", d.AI.MaxTokens)

	viper.SetDefault("engine.pause_timeout", d.Engine.PauseTimeout)
	viper.SetDefault("engine.history_size", d.Engine.HistorySize)
	viper.SetDefault("engine.history_retention", d.Engine.HistoryRetention)
	viper.SetDefault("engine.subscriber_buffer", d.Engine.SubscriberBuffer)
	viper.SetDefault("engine.synthesis_sources", d.Engine.SynthesisSources)

	viper.SetDefault("library.path", d.Library.Path)
	viper.SetDefault("library.max_results", d.Library.MaxResults)
}

// loadConfig resolves the effective configuration: defaults, then the
// config file and environment, then secrets for fields still empty.
func loadConfig() (types.EngineConfig, error) {
	var cfg types.EngineConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}
	secrets.Apply(loadedSecrets, &cfg)
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
