package companion

import "strings"

// PromptSource supplies per-companion custom prompts. Implemented by
// config.Settings.
type PromptSource interface {
	CustomPrompt(companionID string) string
}

// Resolve returns the companion for id (falling back to the catalog default
// for unknown ids) and the personality text to send: the custom prompt when
// one is set for that id, otherwise the predefined personality.
func Resolve(c *Catalog, prompts PromptSource, id string) (Companion, string) {
	comp, err := c.Get(id)
	if err != nil {
		comp = c.Default()
	}
	if prompts != nil {
		if custom := strings.TrimSpace(prompts.CustomPrompt(comp.ID)); custom != "" {
			return comp, custom
		}
	}
	return comp, comp.Personality
}

// Resolver binds a catalog to a prompt source.
type Resolver struct {
	Catalog *Catalog
	Prompts PromptSource
}

func (r Resolver) Resolve(id string) (Companion, string) {
	return Resolve(r.Catalog, r.Prompts, id)
}
