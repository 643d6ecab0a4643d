package repository

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edurisk-api/internal/models"
)

var ruleCols = []string{"id", "name", "description", "field", "category", "severity", "params", "active", "position", "created_at", "updated_at"}

func TestRuleRepositoryListActiveDecodesParams(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRuleRepository(db)

	params, err := json.Marshal(models.RuleParams{Min: ptrFloat(0), Max: ptrFloat(100)})
	require.NoError(t, err)

	now := time.Now()
	mock.ExpectQuery("SELECT id, name, description.*WHERE active = true ORDER BY position, created_at").
		WillReturnRows(sqlmock.NewRows(ruleCols).
			AddRow("r-1", "attendance range", "", "attendance_percent", "RANGE", "ERROR", params, true, 1, now, now).
			AddRow("r-2", "name required", "", "full_name", "REQUIRED", "ERROR", []byte("{}"), true, 2, now, now))

	rules, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 2)
	require.NotNil(t, rules[0].Params.Min)
	assert.Equal(t, 100.0, *rules[0].Params.Max)
	assert.Equal(t, models.RuleCategoryRequired, rules[1].Category)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRuleRepositoryCreateEncodesParams(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRuleRepository(db)

	rule := &models.ValidationRule{
		Name:     "fee enum",
		Field:    models.FieldFeeStatus,
		Category: models.RuleCategoryEnum,
		Severity: models.SeverityWarning,
		Params:   models.RuleParams{Allowed: []string{"PAID", "UNPAID"}},
		Active:   true,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO validation_rules")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Create(context.Background(), rule))
	assert.NotEmpty(t, rule.ID)
	assert.False(t, rule.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func ptrFloat(v float64) *float64 { return &v }
