// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/deep-research/pkg/types"
)

func TestLoadConfigDefaultsAndEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("DEEP_RESEARCH_STORE_BACKEND", "sqlite")
	t.Setenv("DEEP_RESEARCH_ENGINE_PAUSE_TIMEOUT", "45s")

	setDefaults(types.DefaultEngineConfig())
	viper.SetEnvPrefix("DEEP_RESEARCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	loadedSecrets = map[string]string{"anthropic-api-key": "ak_test"}
	t.Cleanup(func() { loadedSecrets = nil })

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, types.StoreSQLite, cfg.Store.Backend)
	assert.Equal(t, 45*time.Second, cfg.Engine.PauseTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Engine.HistoryRetention)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.Server.Heartbeat)
	assert.Equal(t, "ak_test", cfg.AI.APIKey)
}

func TestPrompt(t *testing.T) {
	qs := []types.ClarificationQuestion{
		{ID: "q1", Question: "Which population?"},
		{ID: "q2", Question: "Which years?"},
		{ID: "q3", Question: "Any exclusions?"},
	}
	var out bytes.Buffer
	answers, err := prompt(strings.NewReader("adults\n\n"), &out, qs)
	require.NoError(t, err)
	assert.Equal(t, []string{"adults"}, answers)
	assert.Contains(t, out.String(), "Which population?")
}

func TestQueryFromFlags(t *testing.T) {
	require.NoError(t, searchCmd.Flags().Set("query", "sepsis prediction"))
	require.NoError(t, searchCmd.Flags().Set("keywords", "icu, , machine learning"))
	require.NoError(t, searchCmd.Flags().Set("from", "2020-01-01"))
	t.Cleanup(func() {
		searchCmd.Flags().Set("query", "")
		searchCmd.Flags().Set("keywords", "")
		searchCmd.Flags().Set("from", "")
	})

	q, err := queryFromFlags(searchCmd)
	require.NoError(t, err)
	assert.Equal(t, "sepsis prediction", q.FreeText)
	assert.Equal(t, []string{"icu", "machine learning"}, q.Keywords)
	assert.Equal(t, 2020, q.DateFrom.Year())

	require.NoError(t, searchCmd.Flags().Set("from", "01/02/2020"))
	_, err = queryFromFlags(searchCmd)
	assert.Error(t, err)
}
