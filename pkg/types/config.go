// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings used by components that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "deep-research/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// SearchConfig holds settings shared by the literature search backends.
type SearchConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// MaxResults is the per-query result limit sent to each backend (default 20).
	MaxResults int `json:"max_results" yaml:"max_results" mapstructure:"max_results"`

	// SemanticScholarAPIKey is an optional API key for higher rate limits.
	SemanticScholarAPIKey string `json:"semantic_scholar_api_key,omitempty" yaml:"semantic_scholar_api_key,omitempty" mapstructure:"semantic_scholar_api_key"`

	// NCBIAPIKey raises the PubMed E-utilities limit from 3 to 10 requests per second.
	NCBIAPIKey string `json:"ncbi_api_key,omitempty" yaml:"ncbi_api_key,omitempty" mapstructure:"ncbi_api_key"`

	// OpenAlexEmail is sent as mailto for the OpenAlex polite pool.
	OpenAlexEmail string `json:"openalex_email,omitempty" yaml:"openalex_email,omitempty" mapstructure:"openalex_email"`

	// CrossRefMailto is sent as mailto for the CrossRef polite pool.
	CrossRefMailto string `json:"crossref_mailto,omitempty" yaml:"crossref_mailto,omitempty" mapstructure:"crossref_mailto"`

	// RequestsPerSecond bounds calls per backend (default 3).
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" mapstructure:"requests_per_second"`

	// MaxRetries is the number of 429 retries per request (default 2).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
}

// AIConfig holds shared settings for stages that call a Generative AI API.
type AIConfig struct {
	// Model is the AI model identifier (e.g. "claude-sonnet-4-5-20250929").
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// APIKey is the authentication key for the AI API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// Timeout bounds a single completion call.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// MaxTokens bounds the completion length (default 2048).
	MaxTokens int `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`
}

// StoreBackend selects where sessions are persisted.
type StoreBackend string

const (
	StoreMemory StoreBackend = "memory"
	StoreRedis  StoreBackend = "redis"
	StoreSQLite StoreBackend = "sqlite"
)

// StoreConfig holds session persistence settings.
type StoreConfig struct {
	Backend StoreBackend `json:"backend" yaml:"backend" mapstructure:"backend"`

	// RedisAddr is host:port of the Redis server for the redis backend.
	RedisAddr string `json:"redis_addr" yaml:"redis_addr" mapstructure:"redis_addr"`

	// RedisPassword is optional.
	RedisPassword string `json:"redis_password,omitempty" yaml:"redis_password,omitempty" mapstructure:"redis_password"`

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `json:"sqlite_path" yaml:"sqlite_path" mapstructure:"sqlite_path"`

	// TTL expires persisted sessions (redis only; zero keeps them).
	TTL time.Duration `json:"ttl" yaml:"ttl" mapstructure:"ttl"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr" mapstructure:"addr"`

	// Heartbeat is the SSE keep-alive comment interval.
	Heartbeat time.Duration `json:"heartbeat" yaml:"heartbeat" mapstructure:"heartbeat"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// EngineSettings tunes the orchestration loop.
type EngineSettings struct {
	// PauseTimeout is how long a session with no listeners stays paused
	// before it is cancelled.
	PauseTimeout time.Duration `json:"pause_timeout" yaml:"pause_timeout" mapstructure:"pause_timeout"`

	// HistorySize is the number of events kept per session for replay.
	HistorySize int `json:"history_size" yaml:"history_size" mapstructure:"history_size"`

	// HistoryRetention is how long a finished session's events stay
	// available for replay.
	HistoryRetention time.Duration `json:"history_retention" yaml:"history_retention" mapstructure:"history_retention"`

	// SubscriberBuffer is the channel buffer per stream subscriber.
	SubscriberBuffer int `json:"subscriber_buffer" yaml:"subscriber_buffer" mapstructure:"subscriber_buffer"`

	// SynthesisSources is how many top sources are handed to the synthesis prompt.
	SynthesisSources int `json:"synthesis_sources" yaml:"synthesis_sources" mapstructure:"synthesis_sources"`
}

// LibraryConfig holds settings for the saved-source library.
type LibraryConfig struct {
	// Path is the SQLite database file. Empty disables the library.
	Path string `json:"path" yaml:"path" mapstructure:"path"`

	// MaxResults is the default search result limit (default 20).
	MaxResults int `json:"max_results" yaml:"max_results" mapstructure:"max_results"`
}

// EngineConfig groups every setting of the service.
type EngineConfig struct {
	Server  ServerConfig   `json:"server" yaml:"server" mapstructure:"server"`
	Store   StoreConfig    `json:"store" yaml:"store" mapstructure:"store"`
	Search  SearchConfig   `json:"search" yaml:"search" mapstructure:"search"`
	AI      AIConfig       `json:"ai" yaml:"ai" mapstructure:"ai"`
	Engine  EngineSettings `json:"engine" yaml:"engine" mapstructure:"engine"`
	Library LibraryConfig  `json:"library" yaml:"library" mapstructure:"library"`
}

// DefaultEngineConfig returns the settings used when no config file or
// flag overrides them.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Server: ServerConfig{
			Addr:            ":8080",
			Heartbeat:       15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Backend:    StoreMemory,
			RedisAddr:  "localhost:6379",
			SQLitePath: "deep-research.db",
			TTL:        7 * 24 * time.Hour,
		},
		Search: SearchConfig{
			HTTPConfig: HTTPConfig{
				Timeout:   30 * time.Second,
				UserAgent: "deep-research/0.1",
			},
			MaxResults:        20,
			RequestsPerSecond: 3,
			MaxRetries:        2,
		},
		AI: AIConfig{
			Model:     "claude-sonnet-4-5-20250929",
			Timeout:   60 * time.Second,
			MaxTokens: 2048,
		},
		Engine: EngineSettings{
			PauseTimeout:     2 * time.Minute,
			HistorySize:      1024,
			HistoryRetention: 10 * time.Minute,
			SubscriberBuffer: 256,
			SynthesisSources: 15,
		},
		Library: LibraryConfig{
			Path:       "deep-research-library.db",
			MaxResults: 20,
		},
	}
}
