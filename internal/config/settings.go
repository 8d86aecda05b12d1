package config

import "fmt"

const customPromptPrefix = "companion.prompt."

// Settings gives typed, live access to the config backend. Every accessor
// reads the backend again; nothing is cached between calls.
type Settings struct {
	backend  ConfigBackend
	notifier *Notifier
}

// NewSettings wraps a backend. notifier may be nil.
func NewSettings(b ConfigBackend, n *Notifier) *Settings {
	return &Settings{backend: b, notifier: n}
}

// Current resolves a full Config snapshot from the backend and environment.
func (s *Settings) Current() Config {
	cfg, err := loadWith(s.backend)
	if err != nil {
		return defaults()
	}
	return cfg
}

// Frequency reads only companion.frequency; it runs on every edit event.
func (s *Settings) Frequency() int {
	return resolveKey(s.backend, "companion.frequency").Companion.Frequency
}

func (s *Settings) ContextLines() int { return s.Current().Companion.ContextLines }

func (s *Settings) SelectedCompanion() string {
	return resolveKey(s.backend, "companion.selected").Companion.Selected
}

func (s *Settings) LLM() LLMConfig { return s.Current().LLM }

// CustomPrompt returns the user's prompt override for a companion, or "".
func (s *Settings) CustomPrompt(companionID string) string {
	v, ok, err := s.backend.GetString(customPromptPrefix + companionID)
	if err != nil || !ok {
		return ""
	}
	return v
}

// CustomPrompts returns every stored override keyed by companion id,
// restricted to the given ids.
func (s *Settings) CustomPrompts(ids []string) map[string]string {
	out := make(map[string]string)
	for _, id := range ids {
		if p := s.CustomPrompt(id); p != "" {
			out[id] = p
		}
	}
	return out
}

func (s *Settings) SelectCompanion(id string) error {
	if err := s.backend.SetString("companion.selected", id); err != nil {
		return fmt.Errorf("selecting companion: %w", err)
	}
	s.notifier.Publish(ChangeEvent{Key: "companion.selected"})
	return nil
}

func (s *Settings) SetCustomPrompt(companionID, prompt string) error {
	key := customPromptPrefix + companionID
	if err := s.backend.SetString(key, prompt); err != nil {
		return fmt.Errorf("setting custom prompt: %w", err)
	}
	s.notifier.Publish(ChangeEvent{Key: key})
	return nil
}

func (s *Settings) ClearCustomPrompt(companionID string) error {
	key := customPromptPrefix + companionID
	if err := s.backend.Delete(key); err != nil {
		return fmt.Errorf("clearing custom prompt: %w", err)
	}
	s.notifier.Publish(ChangeEvent{Key: key})
	return nil
}

// Set writes any key from ValidKeys, validating only its primitive type.
func (s *Settings) Set(key, value string) error {
	if err := setKeyWith(s.backend, key, value); err != nil {
		return err
	}
	s.notifier.Publish(ChangeEvent{Key: key})
	return nil
}
