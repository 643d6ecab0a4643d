package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edurisk-api/internal/models"
)

func f64(v float64) *float64 { return &v }

func engineRules() []models.ValidationRule {
	return []models.ValidationRule{
		{ID: "r-required-name", Field: models.FieldFullName, Category: models.RuleCategoryRequired, Severity: models.SeverityError},
		{ID: "r-attendance-range", Field: models.FieldAttendancePercent, Category: models.RuleCategoryRange, Severity: models.SeverityError, Params: models.RuleParams{Min: f64(0), Max: f64(100)}},
		{ID: "r-email-format", Field: models.FieldEmail, Category: models.RuleCategoryFormat, Severity: models.SeverityWarning, Params: models.RuleParams{Pattern: models.FormatEmail}},
		{ID: "r-fee-enum", Field: models.FieldFeeStatus, Category: models.RuleCategoryEnum, Severity: models.SeverityWarning, Params: models.RuleParams{Allowed: []string{"PAID", "PARTIAL", "UNPAID", "OVERDUE"}}},
	}
}

func TestEvaluateValidRow(t *testing.T) {
	engine := NewValidationEngine()
	record := models.MappedRecord{
		models.FieldFullName:          "Alice",
		models.FieldAttendancePercent: "92.5",
		models.FieldEmail:             "alice@example.com",
		models.FieldFeeStatus:         "paid",
	}

	status, triggered := engine.Evaluate(record, engineRules())
	assert.Equal(t, models.RowStatusValid, status)
	assert.Empty(t, triggered)
}

func TestEvaluateSeverityAggregation(t *testing.T) {
	engine := NewValidationEngine()

	// Warning only.
	record := models.MappedRecord{
		models.FieldFullName: "Bob",
		models.FieldEmail:    "not-an-email",
	}
	status, triggered := engine.Evaluate(record, engineRules())
	assert.Equal(t, models.RowStatusWarning, status)
	assert.Equal(t, []string{"r-email-format"}, triggered)

	// Error beats warning regardless of rule order.
	record[models.FieldAttendancePercent] = "120"
	status, triggered = engine.Evaluate(record, engineRules())
	assert.Equal(t, models.RowStatusError, status)
	assert.Equal(t, []string{"r-attendance-range", "r-email-format"}, triggered)
}

func TestEvaluateRequiredRule(t *testing.T) {
	engine := NewValidationEngine()
	rules := engineRules()

	// Absent field triggers.
	status, triggered := engine.Evaluate(models.MappedRecord{}, rules)
	assert.Equal(t, models.RowStatusError, status)
	assert.Contains(t, triggered, "r-required-name")

	// Provided but blank triggers too.
	status, _ = engine.Evaluate(models.MappedRecord{models.FieldFullName: "   "}, rules)
	assert.Equal(t, models.RowStatusError, status)
}

func TestEvaluateRangeRule(t *testing.T) {
	engine := NewValidationEngine()
	rules := []models.ValidationRule{
		{ID: "r", Field: models.FieldTestScore, Category: models.RuleCategoryRange, Severity: models.SeverityError, Params: models.RuleParams{Min: f64(0), Max: f64(100)}},
	}

	cases := []struct {
		value    string
		expected models.RowStatus
	}{
		{"0", models.RowStatusValid},
		{"100", models.RowStatusValid},
		{"-1", models.RowStatusError},
		{"100.01", models.RowStatusError},
		{"abc", models.RowStatusError},
		{"", models.RowStatusValid}, // blank is the required rule's concern
	}
	for _, tc := range cases {
		status, _ := engine.Evaluate(models.MappedRecord{models.FieldTestScore: tc.value}, rules)
		assert.Equal(t, tc.expected, status, "value %q", tc.value)
	}
}

func TestEvaluatePhoneFormat(t *testing.T) {
	engine := NewValidationEngine()
	rules := []models.ValidationRule{
		{ID: "r", Field: models.FieldPhone, Category: models.RuleCategoryFormat, Severity: models.SeverityWarning, Params: models.RuleParams{Pattern: models.FormatPhone}},
	}

	valid := []string{"+62 812-3456-7890", "(021) 555 0199", "08123456789"}
	for _, v := range valid {
		status, _ := engine.Evaluate(models.MappedRecord{models.FieldPhone: v}, rules)
		assert.Equal(t, models.RowStatusValid, status, "value %q", v)
	}

	invalid := []string{"12345", "phone: 08123456789", "123456789012345678"}
	for _, v := range invalid {
		status, _ := engine.Evaluate(models.MappedRecord{models.FieldPhone: v}, rules)
		assert.Equal(t, models.RowStatusWarning, status, "value %q", v)
	}
}

func TestEvaluateEnumIsCaseInsensitive(t *testing.T) {
	engine := NewValidationEngine()
	rules := []models.ValidationRule{
		{ID: "r", Field: models.FieldFeeStatus, Category: models.RuleCategoryEnum, Severity: models.SeverityWarning, Params: models.RuleParams{Allowed: []string{"PAID", "UNPAID"}}},
	}

	status, _ := engine.Evaluate(models.MappedRecord{models.FieldFeeStatus: "Paid"}, rules)
	assert.Equal(t, models.RowStatusValid, status)

	status, _ = engine.Evaluate(models.MappedRecord{models.FieldFeeStatus: "maybe"}, rules)
	assert.Equal(t, models.RowStatusWarning, status)
}

func TestEvaluateCrossFieldRule(t *testing.T) {
	engine := NewValidationEngine()
	rules := []models.ValidationRule{
		{ID: "r", Category: models.RuleCategoryCrossField, Severity: models.SeverityError, Params: models.RuleParams{
			WhenField:    models.FieldFeeStatus,
			WhenEquals:   "OVERDUE",
			RequireField: models.FieldPhone,
		}},
	}

	status, _ := engine.Evaluate(models.MappedRecord{models.FieldFeeStatus: "overdue"}, rules)
	assert.Equal(t, models.RowStatusError, status)

	status, _ = engine.Evaluate(models.MappedRecord{
		models.FieldFeeStatus: "OVERDUE",
		models.FieldPhone:     "08123456789",
	}, rules)
	assert.Equal(t, models.RowStatusValid, status)

	status, _ = engine.Evaluate(models.MappedRecord{models.FieldFeeStatus: "PAID"}, rules)
	assert.Equal(t, models.RowStatusValid, status)
}

func TestEvaluateDoesNotMutateRecord(t *testing.T) {
	engine := NewValidationEngine()
	record := models.MappedRecord{
		models.FieldFullName: "Alice",
		models.FieldEmail:    "broken",
	}
	snapshot := record.Clone()

	_, _ = engine.Evaluate(record, engineRules())
	require.Equal(t, snapshot, record)
}
