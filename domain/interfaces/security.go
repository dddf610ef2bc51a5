package interfaces

import "screenfill/domain/entities"

// RecipeGuard checks recipes before any input is sent.
type RecipeGuard interface {
	// Validate rejects structurally broken or unsafe recipes
	Validate(field string, recipe entities.Recipe) error

	// RiskLevel rates a single step: low, medium or high
	RiskLevel(step entities.ActionStep) string
}
