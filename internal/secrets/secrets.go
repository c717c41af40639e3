// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads API keys and credentials from a directory of plain-text files.
// Each file in the directory represents one secret: the filename is the key name and the
// file contents (trimmed) are the value.
//
// Recognized key files are listed in Keys; other files are loaded but unused.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdiddy/deep-research/pkg/types"
)

// Secret file names.
const (
	AnthropicAPIKey       = "anthropic-api-key"
	SemanticScholarAPIKey = "semantic-scholar-api-key"
	NCBIAPIKey            = "ncbi-api-key"
	OpenAlexEmail         = "openalex-email"
	CrossRefMailto        = "crossref-mailto"
)

// Keys lists the secret files Apply understands.
var Keys = []string{AnthropicAPIKey, SemanticScholarAPIKey, NCBIAPIKey, OpenAlexEmail, CrossRefMailto}

// Load reads all files in dir and returns a map of filename to trimmed contents.
// A missing directory or missing files are not errors; Load returns an empty map.
// Unreadable files produce a warning on stderr but do not abort.
func Load(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not read secret %s: %v\n", name, err)
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// Apply copies loaded secrets into the matching empty fields of cfg.
// Values already set by the config file, environment, or flags win.
func Apply(loaded map[string]string, cfg *types.EngineConfig) {
	fields := map[string]*string{
		AnthropicAPIKey:       &cfg.AI.APIKey,
		SemanticScholarAPIKey: &cfg.Search.SemanticScholarAPIKey,
		NCBIAPIKey:            &cfg.Search.NCBIAPIKey,
		OpenAlexEmail:         &cfg.Search.OpenAlexEmail,
		CrossRefMailto:        &cfg.Search.CrossRefMailto,
	}
	for key, dst := range fields {
		if v, ok := loaded[key]; ok && *dst == "" {
			*dst = v
		}
	}
}
