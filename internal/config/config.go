package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Server    ServerConfig
	LLM       LLMConfig
	Companion CompanionConfig
	Retry     RetryConfig
	Storage   StorageConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type LLMConfig struct {
	Endpoint    string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     string
}

type CompanionConfig struct {
	Selected     string
	Frequency    int
	ContextLines int
}

type RetryConfig struct {
	MaxAttempts int
	Delay       string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
	File  string
}

const (
	DefaultPort         = 4100
	DefaultEndpoint     = "https://api.openai.com/v1"
	DefaultModel        = "gpt-4o-mini"
	DefaultMaxTokens    = 150
	DefaultTemperature  = 0.7
	DefaultFrequency    = 500
	DefaultContextLines = 20
	DefaultCompanion    = "cat"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: DefaultPort,
		},
		LLM: LLMConfig{
			Endpoint:    DefaultEndpoint,
			Model:       DefaultModel,
			MaxTokens:   DefaultMaxTokens,
			Temperature: DefaultTemperature,
			Timeout:     "30s",
		},
		Companion: CompanionConfig{
			Selected:     DefaultCompanion,
			Frequency:    DefaultFrequency,
			ContextLines: DefaultContextLines,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			Delay:       "5s",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend and environment
// variables.
//
// On macOS the backend is UserDefaults (domain: com.sidekick.app).
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/sidekick/config.json.
//
// Environment variables (SIDEKICK_*) override backend values on all platforms.
// The API credential is not part of Config; it is read through Secrets on
// every request.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

// Backend returns the platform config backend used by Load.
func Backend() ConfigBackend {
	return newPlatformBackend()
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Log.File == "" && cfg.Storage.DataDir != "" {
		cfg.Log.File = filepath.Join(cfg.Storage.DataDir, "sidekick.log")
	}
	return cfg, nil
}

// LLMTimeout parses LLM.Timeout, falling back to 30s.
func (c Config) LLMTimeout() time.Duration {
	return parseDuration("llm.timeout", c.LLM.Timeout, 30*time.Second)
}

// RetryDelay parses Retry.Delay, falling back to 5s.
func (c Config) RetryDelay() time.Duration {
	return parseDuration("retry.delay", c.Retry.Delay, 5*time.Second)
}

func parseDuration(key, raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		fmt.Fprintf(os.Stderr, "[WARN] invalid duration for %s=%q. Using default %s.\n", key, raw, fallback)
		return fallback
	}
	return d
}

// MissingCredentialHint describes how to provide the API credential.
func MissingCredentialHint() string {
	return "set it with `sidekick key set` or the SIDEKICK_API_KEY environment variable" + apiKeyHint()
}
