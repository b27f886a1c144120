package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known oracle backend names.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{
	"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp",
}

// Environment variables consulted by [ApplyEnv].
const (
	EnvGeminiAPIKey = "GEMINI_API_KEY"
	EnvPort         = "PORT"
	EnvStorageURL   = "STORAGE_URL"
)

// LookupEnv matches the signature of os.LookupEnv.
type LookupEnv func(key string) (string, bool)

// Load reads the YAML configuration file at path, applies environment
// overrides and returns a validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := load(data, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like [Load] but falls back to [FromEnv] when path does
// not exist. The service can then run from environment variables alone.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("config file not found, using defaults and environment", "path", path)
		return FromEnv(os.LookupEnv)
	}
	return cfg, err
}

// FromEnv returns the defaults with environment overrides applied.
func FromEnv(env LookupEnv) (*Config, error) {
	cfg := Default()
	ApplyEnv(cfg, env)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Environment variables are not consulted, which keeps
// it useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(data []byte, env LookupEnv) (*Config, error) {
	cfg, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg, env)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with the deployment environment:
//
//   - GEMINI_API_KEY fills the API key of every gemini backend that has none.
//   - PORT sets the listen address to ":PORT".
//   - STORAGE_URL sets the storage service base URL.
func ApplyEnv(cfg *Config, env LookupEnv) {
	if key, ok := env(EnvGeminiAPIKey); ok && key != "" {
		if cfg.Providers.LLM.Name == "gemini" && cfg.Providers.LLM.APIKey == "" {
			cfg.Providers.LLM.APIKey = key
		}
		for i := range cfg.Providers.LLMFallbacks {
			fb := &cfg.Providers.LLMFallbacks[i]
			if fb.Name == "gemini" && fb.APIKey == "" {
				fb.APIKey = key
			}
		}
	}
	if port, ok := env(EnvPort); ok && port != "" {
		cfg.Server.ListenAddr = ":" + strings.TrimPrefix(port, ":")
	}
	if u, ok := env(EnvStorageURL); ok && u != "" {
		cfg.Storage.BaseURL = u
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	errs = append(errs, validateProvider("providers.llm", cfg.Providers.LLM)...)
	for i, fb := range cfg.Providers.LLMFallbacks {
		errs = append(errs, validateProvider(fmt.Sprintf("providers.llm_fallbacks[%d]", i), fb)...)
	}

	// Chat
	c := cfg.Chat
	if c.QuestionBudget < 1 {
		errs = append(errs, fmt.Errorf("chat.question_budget %d must be at least 1", c.QuestionBudget))
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		errs = append(errs, fmt.Errorf("chat.temperature %.2f is out of range [0, 1]", c.Temperature))
	}
	if c.MaxOutputTokens <= 0 {
		errs = append(errs, fmt.Errorf("chat.max_output_tokens %d must be positive", c.MaxOutputTokens))
	}
	if c.MaxMessageChars <= 0 {
		errs = append(errs, fmt.Errorf("chat.max_message_chars %d must be positive", c.MaxMessageChars))
	}
	if c.OracleTimeout <= 0 {
		errs = append(errs, errors.New("chat.oracle_timeout must be positive"))
	}
	if c.DefaultSessionID == "" {
		errs = append(errs, errors.New("chat.default_session_id is required"))
	}
	if c.BotIdentity == "" {
		errs = append(errs, errors.New("chat.bot_identity is required"))
	}
	if strings.TrimSpace(c.ApologyReply) == "" {
		errs = append(errs, errors.New("chat.apology_reply is required"))
	}

	// Safety
	s := cfg.Safety
	if strings.TrimSpace(s.HelplineNumber) == "" {
		errs = append(errs, errors.New("safety.helpline_number is required"))
	}
	if s.CrisisReply != "" && !strings.Contains(s.CrisisReply, s.HelplineNumber) {
		errs = append(errs, fmt.Errorf("safety.crisis_reply must contain safety.helpline_number %q", s.HelplineNumber))
	}
	if s.Fuzzy && (s.FuzzyThreshold <= 0 || s.FuzzyThreshold > 1) {
		errs = append(errs, fmt.Errorf("safety.fuzzy_threshold %.2f is out of range (0, 1]", s.FuzzyThreshold))
	}
	for i, p := range s.ExtraPhrases {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Errorf("safety.extra_phrases[%d] is blank", i))
		}
	}

	// Sessions
	if cfg.Sessions.TTL <= 0 {
		errs = append(errs, errors.New("sessions.ttl must be positive"))
	}
	if cfg.Sessions.CleanupInterval <= 0 {
		errs = append(errs, errors.New("sessions.cleanup_interval must be positive"))
	}
	if cfg.Sessions.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("sessions.max_sessions %d must not be negative", cfg.Sessions.MaxSessions))
	}

	// Storage
	st := cfg.Storage
	if st.BaseURL != "" {
		if u, err := url.Parse(st.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("storage.base_url %q must be an absolute http(s) URL", st.BaseURL))
		}
	}
	if st.Timeout <= 0 {
		errs = append(errs, errors.New("storage.timeout must be positive"))
	}
	if st.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("storage.queue_size %d must be positive", st.QueueSize))
	}
	if st.Workers <= 0 {
		errs = append(errs, fmt.Errorf("storage.workers %d must be positive", st.Workers))
	}
	if st.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("storage.max_attempts %d must be positive", st.MaxAttempts))
	}
	if st.RetryBase <= 0 {
		errs = append(errs, errors.New("storage.retry_base must be positive"))
	}
	if st.RetryMax < st.RetryBase {
		errs = append(errs, errors.New("storage.retry_max must not be below storage.retry_base"))
	}

	// Incidents
	inc := cfg.Incidents
	if !inc.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("incidents.driver %q is invalid; valid values: memory, postgres, sqlite", inc.Driver))
	}
	if (inc.Driver == IncidentPostgres || inc.Driver == IncidentSQLite) && inc.DSN == "" {
		errs = append(errs, fmt.Errorf("incidents.dsn is required when driver is %s", inc.Driver))
	}
	if inc.MemoryCapacity <= 0 {
		errs = append(errs, fmt.Errorf("incidents.memory_capacity %d must be positive", inc.MemoryCapacity))
	}

	// Observe
	if r := cfg.Observe.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("observe.trace_sample_ratio %v must be in [0, 1]", r))
	}

	return errors.Join(errs...)
}

func validateProvider(prefix string, p ProviderEntry) []error {
	var errs []error
	if p.Name == "" {
		errs = append(errs, fmt.Errorf("%s.name is required", prefix))
	}
	if p.Model == "" {
		errs = append(errs, fmt.Errorf("%s.model is required", prefix))
	}
	validateProviderName(p.Name)
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// [ValidProviderNames].
func validateProviderName(name string) {
	if name == "" || slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"name", name,
		"known", ValidProviderNames,
	)
}
