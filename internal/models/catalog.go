package models

import (
	"maps"
	"slices"
)

// ModelInfo describes one model known to the application.
type ModelInfo struct {
	ID          string `yaml:"-"`
	Name        string `yaml:"name"`
	Developer   string `yaml:"developer"`
	Description string `yaml:"description"`
	// Tokens is the maximum output token budget the model advertises.
	Tokens int `yaml:"tokens"`
}

// Catalog is the set of models a conversation may be sent to, together with the default output budget.
type Catalog struct {
	Models           map[string]ModelInfo
	DefaultMaxTokens int
}

// Lookup returns the model registered under id.
func (c Catalog) Lookup(id string) (ModelInfo, bool) {
	info, ok := c.Models[id]
	if !ok {
		return ModelInfo{}, false
	}
	info.ID = id
	return info, true
}

// IDs returns the registered model identifiers in lexical order.
func (c Catalog) IDs() []string {
	return slices.Sorted(maps.Keys(c.Models))
}

// DefaultBudget returns the budget a new send to model should use: the configured default capped by the
// model's ceiling.
func (c Catalog) DefaultBudget(model ModelInfo) int {
	if c.DefaultMaxTokens <= 0 || c.DefaultMaxTokens > model.Tokens {
		return model.Tokens
	}
	return c.DefaultMaxTokens
}
