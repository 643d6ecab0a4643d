package service

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/noah-isme/edurisk-api/internal/models"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// ValidationEngine evaluates the active rule set against mapped records. It
// never mutates the record; evaluating the same record against the same rules
// always yields the same result.
type ValidationEngine struct{}

// NewValidationEngine constructs the engine.
func NewValidationEngine() *ValidationEngine {
	return &ValidationEngine{}
}

// Evaluate runs every rule independently and aggregates severities: error
// wins over warning wins over valid. Triggered rules are listed in rule
// declaration order.
func (e *ValidationEngine) Evaluate(record models.MappedRecord, rules []models.ValidationRule) (models.RowStatus, []string) {
	status := models.RowStatusValid
	var triggered []string

	for _, rule := range rules {
		if !e.triggers(record, rule) {
			continue
		}
		triggered = append(triggered, rule.ID)
		if rule.Severity == models.SeverityError {
			status = models.RowStatusError
		} else if status == models.RowStatusValid {
			status = models.RowStatusWarning
		}
	}

	return status, triggered
}

func (e *ValidationEngine) triggers(record models.MappedRecord, rule models.ValidationRule) bool {
	switch rule.Category {
	case models.RuleCategoryRequired:
		value, ok := record.Get(rule.Field)
		return !ok || strings.TrimSpace(value) == ""

	case models.RuleCategoryRange:
		value, ok := record.Get(rule.Field)
		if !ok || strings.TrimSpace(value) == "" {
			return false
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return true
		}
		if rule.Params.Min != nil && n < *rule.Params.Min {
			return true
		}
		if rule.Params.Max != nil && n > *rule.Params.Max {
			return true
		}
		return false

	case models.RuleCategoryFormat:
		value, ok := record.Get(rule.Field)
		if !ok || strings.TrimSpace(value) == "" {
			return false
		}
		return !matchesFormat(strings.TrimSpace(value), rule.Params)

	case models.RuleCategoryEnum:
		value, ok := record.Get(rule.Field)
		if !ok || strings.TrimSpace(value) == "" {
			return false
		}
		for _, allowed := range rule.Params.Allowed {
			if strings.EqualFold(strings.TrimSpace(value), allowed) {
				return false
			}
		}
		return true

	case models.RuleCategoryCrossField:
		when, ok := record.Get(rule.Params.WhenField)
		if !ok || !strings.EqualFold(strings.TrimSpace(when), rule.Params.WhenEquals) {
			return false
		}
		required, ok := record.Get(rule.Params.RequireField)
		return !ok || strings.TrimSpace(required) == ""

	default:
		return false
	}
}

func matchesFormat(value string, params models.RuleParams) bool {
	switch params.Pattern {
	case models.FormatEmail:
		return emailPattern.MatchString(value)
	case models.FormatPhone:
		digits := 0
		for _, r := range value {
			switch {
			case r >= '0' && r <= '9':
				digits++
			case r == '+' || r == '-' || r == ' ' || r == '(' || r == ')':
				// separators are fine
			default:
				return false
			}
		}
		min := params.MinDigits
		if min <= 0 {
			min = 7
		}
		max := params.MaxDigits
		if max <= 0 {
			max = 15
		}
		return digits >= min && digits <= max
	case "":
		return true
	default:
		re, err := regexp.Compile(params.Pattern)
		if err != nil {
			// An uncompilable pattern should have been rejected at rule
			// write time; treat it as non-matching so the problem surfaces.
			return false
		}
		return re.MatchString(value)
	}
}
