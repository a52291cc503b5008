package recipe

import (
	"fmt"

	"github.com/spec-kit/identity-import/internal/domain"
)

// Registry maps recipe ids to their engines.
type Registry struct {
	engines map[domain.RecipeID]Engine
}

// NewRegistry builds a registry from the given engines.
func NewRegistry(engines ...Engine) *Registry {
	byID := make(map[domain.RecipeID]Engine, len(engines))
	for _, engine := range engines {
		byID[engine.RecipeID()] = engine
	}
	return &Registry{engines: byID}
}

// Get returns the engine for a recipe id.
func (r *Registry) Get(recipeID domain.RecipeID) (Engine, error) {
	engine, ok := r.engines[recipeID]
	if !ok {
		return nil, fmt.Errorf("unknown recipe %q", recipeID)
	}
	return engine, nil
}

// Known reports whether a recipe id has a registered engine.
func (r *Registry) Known(recipeID domain.RecipeID) bool {
	_, ok := r.engines[recipeID]
	return ok
}
