package config

import (
	"fmt"
	"strconv"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string `json:"key"`
	EnvVar string `json:"env_var"`
	Value  string `json:"value"`
}

// ShowAll returns all config key/value pairs from the current config.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  fmt.Sprintf("%v", s.extract(cfg)),
		})
	}
	return result
}

// SetKey writes a config key to the platform backend.
func SetKey(key, value string) error {
	return setKeyWith(newPlatformBackend(), key, value)
}

func setKeyWith(b ConfigBackend, key, value string) error {
	if key == "api_key" || key == "llm.api_key" {
		return fmt.Errorf("cannot set the API credential via config; use `sidekick key set`")
	}
	for _, s := range specs {
		if s.key != key {
			continue
		}
		switch s.typ {
		case kString:
			return b.SetString(key, value)
		case kInt:
			i, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid integer value for %s: %w", key, err)
			}
			return b.SetInt(key, i)
		case kFloat:
			if _, err := strconv.ParseFloat(value, 64); err != nil {
				return fmt.Errorf("invalid number value for %s: %w", key, err)
			}
			return b.SetString(key, value)
		}
	}

	return fmt.Errorf("unknown config key: %q", key)
}

// ValidKeys returns the list of valid config key names.
func ValidKeys() []string {
	keys := make([]string, 0, len(specs))
	for _, s := range specs {
		keys = append(keys, s.key)
	}
	return keys
}
