// Package client resolves client ids to their behavioral profiles.
package client

import (
	"sort"

	"github.com/Leikymain/chatbot-api/internal/config"
	"github.com/Leikymain/chatbot-api/internal/domain"
)

// Profile is a named configuration bundle selected per logical tenant of the
// gateway. Profiles are immutable for the process lifetime.
type Profile struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SystemPrompt string `json:"system_prompt"`
	MaxTokens    int    `json:"max_tokens"`
}

// Registry is a static client_id -> Profile lookup loaded once at startup.
type Registry struct {
	profiles map[string]Profile
}

// defaultProfiles are served when no profiles are configured, mirroring the
// demo deployment this service started life with.
var defaultProfiles = []Profile{
	{
		ID:           "demo",
		Name:         "Demo Client",
		SystemPrompt: "You are a friendly, professional assistant. You answer concisely and helpfully.",
		MaxTokens:    1024,
	},
	{
		ID:           "ecommerce",
		Name:         "E-commerce Assistant",
		SystemPrompt: "You are an online store assistant. You help with products, orders, and returns. You are always courteous and sales-oriented.",
		MaxTokens:    800,
	},
	{
		ID:           "support",
		Name:         "Tech Support Bot",
		SystemPrompt: "You are a technical assistant. You answer questions about software and troubleshooting. You are patient and thorough.",
		MaxTokens:    1500,
	},
}

// NewRegistry builds a registry from configuration. When no clients are
// configured the built-in demo profiles are used.
func NewRegistry(configs []config.ClientConfig) *Registry {
	r := &Registry{profiles: make(map[string]Profile)}

	if len(configs) == 0 {
		for _, p := range defaultProfiles {
			r.profiles[p.ID] = p
		}
		return r
	}

	for _, cfg := range configs {
		p := Profile{
			ID:           cfg.ID,
			Name:         cfg.Name,
			SystemPrompt: cfg.SystemPrompt,
			MaxTokens:    cfg.MaxTokens,
		}
		if p.MaxTokens <= 0 {
			p.MaxTokens = 1024
		}
		r.profiles[p.ID] = p
	}

	return r
}

// Resolve looks up the profile for a client id. Unknown ids are a terminal,
// non-retryable outcome for the calling request.
func (r *Registry) Resolve(clientID string) (Profile, error) {
	p, ok := r.profiles[clientID]
	if !ok {
		return Profile{}, domain.ErrNotFound(
			"client '" + clientID + "' not found; use /clients to list available ids")
	}
	return p, nil
}

// List returns all configured profiles sorted by id.
func (r *Registry) List() []Profile {
	out := make([]Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
