package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/edurisk-api/internal/models"
	appErrors "github.com/noah-isme/edurisk-api/pkg/errors"
)

const activeRulesCacheKey = "rules:active"

type ruleStore interface {
	ListActive(ctx context.Context) ([]models.ValidationRule, error)
	List(ctx context.Context) ([]models.ValidationRule, error)
	GetByID(ctx context.Context, id string) (*models.ValidationRule, error)
	Create(ctx context.Context, rule *models.ValidationRule) error
	Update(ctx context.Context, rule *models.ValidationRule) error
}

type ruleCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string)
}

// RuleService manages the administrator-editable rule set and serves the
// active rules to the upload pipeline through a short-lived cache.
type RuleService struct {
	store    ruleStore
	cache    ruleCache
	audit    auditLogger
	logger   *zap.Logger
	cacheTTL time.Duration
}

// NewRuleService constructs the rule service.
func NewRuleService(store ruleStore, cache ruleCache, audit auditLogger, logger *zap.Logger, cacheTTL time.Duration) *RuleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &RuleService{store: store, cache: cache, audit: audit, logger: logger, cacheTTL: cacheTTL}
}

// ActiveRules returns the active rule set in evaluation order, served from
// cache when fresh.
func (s *RuleService) ActiveRules(ctx context.Context) ([]models.ValidationRule, error) {
	if s.cache != nil {
		var cached []models.ValidationRule
		if err := s.cache.Get(ctx, activeRulesCacheKey, &cached); err == nil {
			return cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("rule cache read failed", zap.Error(err))
		}
	}

	rules, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load validation rules")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, activeRulesCacheKey, rules, s.cacheTTL); err != nil {
			s.logger.Warn("rule cache write failed", zap.Error(err))
		}
	}
	return rules, nil
}

// List returns every rule including inactive ones.
func (s *RuleService) List(ctx context.Context) ([]models.ValidationRule, error) {
	rules, err := s.store.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list validation rules")
	}
	return rules, nil
}

// Get fetches one rule.
func (s *RuleService) Get(ctx context.Context, id string) (*models.ValidationRule, error) {
	rule, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load validation rule")
	}
	return rule, nil
}

// Create validates and persists a new rule, then invalidates the active-set
// cache.
func (s *RuleService) Create(ctx context.Context, rule *models.ValidationRule, actor string) (*models.ValidationRule, error) {
	if err := validateRule(rule); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, rule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create validation rule")
	}
	s.invalidate(ctx)
	s.emitAudit(ctx, actor, models.AuditActionRuleCreate, rule.ID)
	return rule, nil
}

// Update validates and persists changes to an existing rule.
func (s *RuleService) Update(ctx context.Context, rule *models.ValidationRule, actor string) (*models.ValidationRule, error) {
	if _, err := s.Get(ctx, rule.ID); err != nil {
		return nil, err
	}
	if err := validateRule(rule); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, rule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update validation rule")
	}
	s.invalidate(ctx)
	s.emitAudit(ctx, actor, models.AuditActionRuleUpdate, rule.ID)
	return rule, nil
}

func (s *RuleService) invalidate(ctx context.Context) {
	if s.cache != nil {
		s.cache.Delete(ctx, activeRulesCacheKey)
	}
}

func (s *RuleService) emitAudit(ctx context.Context, actor, action, ruleID string) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		UserID:     strPtr(actor),
		Action:     action,
		Resource:   "validation_rule",
		ResourceID: &ruleID,
		IPAddress:  "system",
		UserAgent:  "rule-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

// validateRule enforces the per-category params schema at write time so the
// evaluation engine never sees a malformed rule.
func validateRule(rule *models.ValidationRule) error {
	if rule.Name == "" {
		return appErrors.Clone(appErrors.ErrValidation, "rule name is required")
	}
	switch rule.Severity {
	case models.SeverityError, models.SeverityWarning:
	default:
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown severity %q", rule.Severity))
	}

	needsField := rule.Category != models.RuleCategoryCrossField
	if needsField && !isCanonicalField(rule.Field) {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown field %q", rule.Field))
	}

	p := rule.Params
	switch rule.Category {
	case models.RuleCategoryRequired:
		// No params.

	case models.RuleCategoryRange:
		if p.Min == nil && p.Max == nil {
			return appErrors.Clone(appErrors.ErrValidation, "range rule needs min or max")
		}
		if p.Min != nil && p.Max != nil && *p.Min > *p.Max {
			return appErrors.Clone(appErrors.ErrValidation, "range min exceeds max")
		}

	case models.RuleCategoryFormat:
		switch p.Pattern {
		case models.FormatEmail, models.FormatPhone:
		case "":
			return appErrors.Clone(appErrors.ErrValidation, "format rule needs a pattern")
		default:
			if _, err := regexp.Compile(p.Pattern); err != nil {
				return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid pattern: %v", err))
			}
		}
		if p.MinDigits < 0 || p.MaxDigits < 0 || (p.MaxDigits > 0 && p.MinDigits > p.MaxDigits) {
			return appErrors.Clone(appErrors.ErrValidation, "invalid digit bounds")
		}

	case models.RuleCategoryEnum:
		if len(p.Allowed) == 0 {
			return appErrors.Clone(appErrors.ErrValidation, "enum rule needs allowed values")
		}

	case models.RuleCategoryCrossField:
		if !isCanonicalField(p.WhenField) || !isCanonicalField(p.RequireField) {
			return appErrors.Clone(appErrors.ErrValidation, "cross-field rule needs valid when_field and require_field")
		}
		if p.WhenEquals == "" {
			return appErrors.Clone(appErrors.ErrValidation, "cross-field rule needs when_equals")
		}

	default:
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown category %q", rule.Category))
	}

	return nil
}
