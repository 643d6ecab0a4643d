package models

import "time"

// RuleCategory enumerates supported validation rule kinds.
type RuleCategory string

const (
	RuleCategoryRequired   RuleCategory = "REQUIRED"
	RuleCategoryRange      RuleCategory = "RANGE"
	RuleCategoryFormat     RuleCategory = "FORMAT"
	RuleCategoryEnum       RuleCategory = "ENUM"
	RuleCategoryCrossField RuleCategory = "CROSS_FIELD"
)

// RuleSeverity determines how a triggered rule affects the row status.
type RuleSeverity string

const (
	SeverityError   RuleSeverity = "ERROR"
	SeverityWarning RuleSeverity = "WARNING"
)

// Built-in format pattern names.
const (
	FormatEmail = "email"
	FormatPhone = "phone"
)

// RuleParams carries the typed parameters for a rule. Which fields apply
// depends on the category; the rule service rejects writes whose params do
// not match the category schema.
type RuleParams struct {
	// RANGE
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
	// FORMAT: "email", "phone", or a custom regular expression.
	Pattern   string `json:"pattern,omitempty"`
	MinDigits int    `json:"min_digits,omitempty"`
	MaxDigits int    `json:"max_digits,omitempty"`
	// ENUM
	Allowed []string `json:"allowed,omitempty"`
	// CROSS_FIELD: when WhenField equals WhenEquals, RequireField must be
	// present and non-blank.
	WhenField    FieldName `json:"when_field,omitempty"`
	WhenEquals   string    `json:"when_equals,omitempty"`
	RequireField FieldName `json:"require_field,omitempty"`
}

// ValidationRule is an administrator-editable validation constraint evaluated
// against every mapped row at upload time.
type ValidationRule struct {
	ID          string       `db:"id" json:"id"`
	Name        string       `db:"name" json:"name"`
	Description string       `db:"description" json:"description"`
	Field       FieldName    `db:"field" json:"field"`
	Category    RuleCategory `db:"category" json:"category"`
	Severity    RuleSeverity `db:"severity" json:"severity"`
	Params      RuleParams   `db:"-" json:"params"`
	Active      bool         `db:"active" json:"active"`
	Position    int          `db:"position" json:"position"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updated_at"`
}
