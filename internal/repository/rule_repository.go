package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/edurisk-api/internal/models"
)

// RuleRepository manages persistence for validation rules.
type RuleRepository struct {
	db *sqlx.DB
}

// NewRuleRepository constructs a RuleRepository.
func NewRuleRepository(db *sqlx.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

type ruleRow struct {
	models.ValidationRule
	ParamsRaw []byte `db:"params"`
}

func (r *ruleRow) toModel() (*models.ValidationRule, error) {
	rule := r.ValidationRule
	if len(r.ParamsRaw) > 0 {
		if err := json.Unmarshal(r.ParamsRaw, &rule.Params); err != nil {
			return nil, fmt.Errorf("decode params for rule %s: %w", rule.ID, err)
		}
	}
	return &rule, nil
}

const ruleColumns = "id, name, description, field, category, severity, params, active, position, created_at, updated_at"

// ListActive returns active rules in declaration order. Evaluation order
// follows this ordering, which keeps triggered-rule lists deterministic.
func (r *RuleRepository) ListActive(ctx context.Context) ([]models.ValidationRule, error) {
	query := fmt.Sprintf("SELECT %s FROM validation_rules WHERE active = true ORDER BY position, created_at", ruleColumns)
	return r.selectRules(ctx, query)
}

// List returns every rule regardless of active state.
func (r *RuleRepository) List(ctx context.Context) ([]models.ValidationRule, error) {
	query := fmt.Sprintf("SELECT %s FROM validation_rules ORDER BY position, created_at", ruleColumns)
	return r.selectRules(ctx, query)
}

func (r *RuleRepository) selectRules(ctx context.Context, query string, args ...interface{}) ([]models.ValidationRule, error) {
	var rows []ruleRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	rules := make([]models.ValidationRule, 0, len(rows))
	for i := range rows {
		rule, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, nil
}

// GetByID fetches a single rule.
func (r *RuleRepository) GetByID(ctx context.Context, id string) (*models.ValidationRule, error) {
	query := fmt.Sprintf("SELECT %s FROM validation_rules WHERE id = $1", ruleColumns)
	var row ruleRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, err
	}
	return row.toModel()
}

// Create inserts a new rule.
func (r *RuleRepository) Create(ctx context.Context, rule *models.ValidationRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	params, err := json.Marshal(rule.Params)
	if err != nil {
		return fmt.Errorf("encode rule params: %w", err)
	}
	const query = `INSERT INTO validation_rules (id, name, description, field, category, severity, params, active, position, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	if _, err := r.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.Description, rule.Field, rule.Category, rule.Severity,
		params, rule.Active, rule.Position, rule.CreatedAt, rule.UpdatedAt,
	); err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	return nil
}

// Update modifies an existing rule.
func (r *RuleRepository) Update(ctx context.Context, rule *models.ValidationRule) error {
	rule.UpdatedAt = time.Now().UTC()
	params, err := json.Marshal(rule.Params)
	if err != nil {
		return fmt.Errorf("encode rule params: %w", err)
	}
	const query = `UPDATE validation_rules SET name = $2, description = $3, field = $4, category = $5, severity = $6, params = $7, active = $8, position = $9, updated_at = $10 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.Description, rule.Field, rule.Category, rule.Severity,
		params, rule.Active, rule.Position, rule.UpdatedAt,
	); err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	return nil
}
