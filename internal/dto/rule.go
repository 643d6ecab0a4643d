package dto

import "github.com/noah-isme/edurisk-api/internal/models"

// RuleRequest describes payload for creating or updating a validation rule.
type RuleRequest struct {
	Name        string            `json:"name" validate:"required"`
	Description string            `json:"description"`
	Field       models.FieldName  `json:"field"`
	Category    string            `json:"category" validate:"required"`
	Severity    string            `json:"severity" validate:"required"`
	Params      models.RuleParams `json:"params"`
	Active      bool              `json:"active"`
	Position    int               `json:"position"`
}

// ToModel converts the request into a rule model.
func (r RuleRequest) ToModel() *models.ValidationRule {
	return &models.ValidationRule{
		Name:        r.Name,
		Description: r.Description,
		Field:       r.Field,
		Category:    models.RuleCategory(r.Category),
		Severity:    models.RuleSeverity(r.Severity),
		Params:      r.Params,
		Active:      r.Active,
		Position:    r.Position,
	}
}
