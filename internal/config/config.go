// Package config provides the configuration schema, loader, hot-reload watcher
// and oracle provider registry for the serene chat relay.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to the matching [slog.Level]. Unknown values map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IncidentDriver selects the backend of the safety incident audit log.
type IncidentDriver string

const (
	// IncidentMemory keeps the most recent incidents in process memory.
	IncidentMemory IncidentDriver = "memory"

	// IncidentPostgres writes incidents to PostgreSQL through pgx.
	IncidentPostgres IncidentDriver = "postgres"

	// IncidentSQLite writes incidents to a local SQLite file.
	IncidentSQLite IncidentDriver = "sqlite"
)

// IsValid reports whether d is a recognised driver. The empty string selects
// [IncidentMemory].
func (d IncidentDriver) IsValid() bool {
	switch d {
	case "", IncidentMemory, IncidentPostgres, IncidentSQLite:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Chat      ChatConfig      `yaml:"chat"`
	Safety    SafetyConfig    `yaml:"safety"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Storage   StorageConfig   `yaml:"storage"`
	Incidents IncidentsConfig `yaml:"incidents"`
	Observe   ObserveConfig   `yaml:"observe"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":5000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins lists the browser origins permitted by CORS.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// AdminToken guards the incident listing endpoint. When empty the
	// endpoint is not mounted.
	AdminToken string `yaml:"admin_token"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares the completion oracle. LLM is the primary backend;
// LLMFallbacks are tried in order when it fails or its breaker is open.
type ProvidersConfig struct {
	LLM          ProviderEntry   `yaml:"llm"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
}

// ProviderEntry is the configuration block of one oracle backend.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gemini-1.5-flash").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// ChatConfig tunes the turn policy. Every field is hot-reloadable.
type ChatConfig struct {
	// Persona is the style preamble of the normal-mode prompt. Empty selects
	// the built-in supportive-friend persona.
	Persona string `yaml:"persona"`

	// ForcedDirective replaces the built-in advice-only instruction used once
	// the question budget is spent.
	ForcedDirective string `yaml:"forced_directive"`

	// QuestionBudget is the number of consecutive question-ending replies
	// after which the next turn is served in forced-suggestion mode.
	QuestionBudget int `yaml:"question_budget"`

	// Temperature is the sampling temperature, in [0, 1].
	Temperature float64 `yaml:"temperature"`

	// MaxOutputTokens caps the reply length.
	MaxOutputTokens int `yaml:"max_output_tokens"`

	// MaxMessageChars rejects longer inbound messages.
	MaxMessageChars int `yaml:"max_message_chars"`

	// OracleTimeout bounds a single completion call.
	OracleTimeout time.Duration `yaml:"oracle_timeout"`

	// DefaultSessionID is used when a request carries no session id.
	DefaultSessionID string `yaml:"default_session_id"`

	// BotIdentity is the sender recorded on forwarded assistant replies.
	BotIdentity string `yaml:"bot_identity"`

	// ApologyReply is returned to the caller when the oracle fails.
	ApologyReply string `yaml:"apology_reply"`
}

// SafetyConfig tunes the crisis escalation detector. Hot-reloadable.
type SafetyConfig struct {
	// ExtraPhrases extends the built-in crisis phrase list.
	ExtraPhrases []string `yaml:"extra_phrases"`

	// Fuzzy enables misspelling-tolerant matching of single-word crisis terms.
	Fuzzy bool `yaml:"fuzzy"`

	// FuzzyThreshold is the minimum Jaro-Winkler similarity for a fuzzy match.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`

	// HelplineNumber must appear in every crisis reply.
	HelplineNumber string `yaml:"helpline_number"`

	// CrisisReply replaces the built-in crisis message. It must contain
	// HelplineNumber.
	CrisisReply string `yaml:"crisis_reply"`
}

// SessionsConfig bounds the in-memory session store.
type SessionsConfig struct {
	// TTL evicts sessions idle for longer than this.
	TTL time.Duration `yaml:"ttl"`

	// MaxSessions caps the number of stored sessions; the least recently
	// used idle session is evicted first. Zero means unbounded.
	MaxSessions int `yaml:"max_sessions"`

	// CleanupInterval is the period of the background eviction sweep.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// StorageConfig configures forwarding of assistant replies to the external
// conversation storage service.
type StorageConfig struct {
	// BaseURL of the storage service. Empty disables forwarding.
	BaseURL string `yaml:"base_url"`

	// ServiceEmail is sent as X-User-Email, the identity the storage service
	// authenticates.
	ServiceEmail string `yaml:"service_email"`

	// Timeout bounds one HTTP attempt.
	Timeout time.Duration `yaml:"timeout"`

	// QueueSize is the capacity of the forward queue. A full queue drops.
	QueueSize int `yaml:"queue_size"`

	// Workers is the number of concurrent senders.
	Workers int `yaml:"workers"`

	// MaxAttempts per record, including the first.
	MaxAttempts int `yaml:"max_attempts"`

	// RetryBase is the first backoff delay; it doubles per attempt.
	RetryBase time.Duration `yaml:"retry_base"`

	// RetryMax caps the backoff delay.
	RetryMax time.Duration `yaml:"retry_max"`
}

// Enabled reports whether forwarding is configured.
func (s StorageConfig) Enabled() bool { return s.BaseURL != "" }

// IncidentsConfig selects the safety incident audit log backend.
type IncidentsConfig struct {
	// Driver is one of "memory" (default), "postgres" or "sqlite".
	Driver IncidentDriver `yaml:"driver"`

	// DSN is the postgres connection string or the sqlite file path.
	DSN string `yaml:"dsn"`

	// MemoryCapacity is the ring size of the in-memory backend.
	MemoryCapacity int `yaml:"memory_capacity"`
}

// ObserveConfig configures telemetry.
type ObserveConfig struct {
	// ServiceName is reported in telemetry resources.
	ServiceName string `yaml:"service_name"`

	// TraceSampleRatio is the fraction of turns traced, in [0, 1].
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// Default returns a Config populated with every default. YAML decoding
// starts from this value, so absent keys keep their defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":5000",
			LogLevel:   LogInfo,
			AllowedOrigins: []string{
				"http://localhost:8080", "http://127.0.0.1:8080",
				"http://localhost:3000", "http://127.0.0.1:3000",
				"http://localhost:5173", "http://127.0.0.1:5173",
			},
			ShutdownTimeout: 15 * time.Second,
		},
		Providers: ProvidersConfig{
			LLM: ProviderEntry{Name: "gemini", Model: "gemini-1.5-flash"},
		},
		Chat: ChatConfig{
			QuestionBudget:   3,
			Temperature:      0.6,
			MaxOutputTokens:  300,
			MaxMessageChars:  4000,
			OracleTimeout:    20 * time.Second,
			DefaultSessionID: "default",
			BotIdentity:      "serene_bot",
			ApologyReply:     "Sorry, I'm having trouble responding right now. Please try again in a moment.",
		},
		Safety: SafetyConfig{
			Fuzzy:          true,
			FuzzyThreshold: 0.92,
			HelplineNumber: "141116",
		},
		Sessions: SessionsConfig{
			TTL:             2 * time.Hour,
			MaxSessions:     10000,
			CleanupInterval: time.Minute,
		},
		Storage: StorageConfig{
			Timeout:     10 * time.Second,
			QueueSize:   256,
			Workers:     2,
			MaxAttempts: 5,
			RetryBase:   500 * time.Millisecond,
			RetryMax:    30 * time.Second,
		},
		Incidents: IncidentsConfig{
			Driver:         IncidentMemory,
			MemoryCapacity: 1000,
		},
		Observe: ObserveConfig{
			ServiceName:      "serene",
			TraceSampleRatio: 1,
		},
	}
}
