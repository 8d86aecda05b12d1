package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "SIDEKICK_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "llm.endpoint", typ: kString, env: "SIDEKICK_LLM_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.LLM.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Endpoint },
	},
	{
		key: "llm.model", typ: kString, env: "SIDEKICK_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.max_tokens", typ: kInt, env: "SIDEKICK_LLM_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.LLM.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.MaxTokens },
	},
	{
		key: "llm.temperature", typ: kFloat, env: "SIDEKICK_LLM_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.LLM.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.LLM.Temperature },
	},
	{
		key: "llm.timeout", typ: kString, env: "SIDEKICK_LLM_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.LLM.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Timeout },
	},
	{
		key: "companion.selected", typ: kString, env: "SIDEKICK_COMPANION",
		apply:   func(cfg *Config, v any) { cfg.Companion.Selected = v.(string) },
		extract: func(cfg Config) any { return cfg.Companion.Selected },
	},
	{
		key: "companion.frequency", typ: kInt, env: "SIDEKICK_COMPANION_FREQUENCY",
		apply:   func(cfg *Config, v any) { cfg.Companion.Frequency = v.(int) },
		extract: func(cfg Config) any { return cfg.Companion.Frequency },
	},
	{
		key: "companion.context_lines", typ: kInt, env: "SIDEKICK_COMPANION_CONTEXT_LINES",
		apply:   func(cfg *Config, v any) { cfg.Companion.ContextLines = v.(int) },
		extract: func(cfg Config) any { return cfg.Companion.ContextLines },
	},
	{
		key: "retry.max_attempts", typ: kInt, env: "SIDEKICK_RETRY_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Retry.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Retry.MaxAttempts },
	},
	{
		key: "retry.delay", typ: kString, env: "SIDEKICK_RETRY_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Retry.Delay = v.(string) },
		extract: func(cfg Config) any { return cfg.Retry.Delay },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SIDEKICK_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "SIDEKICK_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.file", typ: kString, env: "SIDEKICK_LOG_FILE",
		apply:   func(cfg *Config, v any) { cfg.Log.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.File },
	},
}

// applyBackend copies backend values over the defaults. A value that fails
// its type check keeps the default and produces a warning; values are not
// range-checked.
func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		applyBackendKey(cfg, b, s)
	}
	return nil
}

func applyBackendKey(cfg *Config, b ConfigBackend, s keySpec) {
	switch s.typ {
	case kString:
		v, ok, err := b.GetString(s.key)
		if err != nil {
			warnTypeMismatch(s.key, err)
			return
		}
		if ok {
			s.apply(cfg, v)
		}
	case kInt:
		v, ok, err := b.GetInt(s.key)
		if err != nil {
			warnTypeMismatch(s.key, err)
			return
		}
		if ok {
			s.apply(cfg, v)
		}
	case kFloat:
		v, ok, err := b.GetString(s.key)
		if err != nil {
			warnTypeMismatch(s.key, err)
			return
		}
		if ok && v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
			}
		}
	}
}

func warnTypeMismatch(key string, err error) {
	fmt.Fprintf(os.Stderr, "[WARN] config key %s: %v. Using default value.\n", key, err)
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		applyEnvKey(cfg, s)
	}
}

func applyEnvKey(cfg *Config, s keySpec) {
	if s.env == "" {
		return
	}
	raw := os.Getenv(s.env)
	if raw == "" {
		return
	}
	switch s.typ {
	case kString:
		s.apply(cfg, raw)
	case kInt:
		if i, err := strconv.Atoi(raw); err == nil {
			s.apply(cfg, i)
		} else {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
		}
	case kFloat:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			s.apply(cfg, f)
		} else {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
		}
	}
}

// resolveKey resolves one key from defaults, the backend and the environment
// without touching the others. The rest of the returned Config holds defaults.
func resolveKey(b ConfigBackend, key string) Config {
	cfg := defaults()
	for _, s := range specs {
		if s.key == key {
			applyBackendKey(&cfg, b, s)
			applyEnvKey(&cfg, s)
			break
		}
	}
	return cfg
}
