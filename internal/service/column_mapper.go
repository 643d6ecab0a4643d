package service

import (
	"fmt"
	"strings"

	"github.com/noah-isme/edurisk-api/internal/models"
	"github.com/noah-isme/edurisk-api/pkg/decode"
	appErrors "github.com/noah-isme/edurisk-api/pkg/errors"
)

// fieldSynonyms drive mapping inference. A synonym matches when its
// normalized tokens appear as a contiguous run of the header's tokens; the
// first unmapped header wins, ties broken by header order.
var fieldSynonyms = map[models.FieldName][]string{
	models.FieldStudentID:         {"student_id", "studentid", "student id", "roll", "nis", "id"},
	models.FieldFullName:          {"full_name", "fullname", "student name", "name"},
	models.FieldEmail:             {"email", "e-mail", "mail"},
	models.FieldPhone:             {"phone", "contact", "mobile"},
	models.FieldAttendancePercent: {"attendance"},
	models.FieldTestScore:         {"test_score", "testscore", "score", "marks"},
	models.FieldFeeStatus:         {"fee_status", "fee_paid", "fee"},
}

// ColumnMapper reconciles file headers with canonical fields.
type ColumnMapper struct {
	required []models.FieldName
}

// NewColumnMapper constructs a mapper enforcing the given required fields.
func NewColumnMapper(required []models.FieldName) *ColumnMapper {
	if len(required) == 0 {
		required = models.RequiredFields
	}
	return &ColumnMapper{required: required}
}

// Resolve builds the effective mapping for an upload. Explicit entries are
// validated and win over inference; remaining canonical fields are inferred
// from header synonyms. Headers mapped to MappingIgnore and headers that
// match nothing are dropped.
func (m *ColumnMapper) Resolve(headers []string, explicit models.ColumnMapping) (models.ColumnMapping, error) {
	mapping := models.ColumnMapping{}
	claimed := map[models.FieldName]string{}
	headerSet := map[string]struct{}{}
	for _, h := range headers {
		headerSet[h] = struct{}{}
	}

	for header, field := range explicit {
		if _, ok := headerSet[header]; !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("mapped column %q not present in file", header))
		}
		if field == models.MappingIgnore {
			mapping[header] = models.MappingIgnore
			continue
		}
		if !isCanonicalField(field) {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown field %q", field))
		}
		if prev, dup := claimed[field]; dup {
			return nil, appErrors.Clone(appErrors.ErrDuplicateMapping, fmt.Sprintf("columns %q and %q both map to %s", prev, header, field))
		}
		claimed[field] = header
		mapping[header] = field
	}

	// Inference fills fields the caller left unmapped. Canonical declaration
	// order makes the result deterministic for a fixed header list.
	for _, field := range models.CanonicalFields {
		if _, ok := claimed[field]; ok {
			continue
		}
		for _, header := range headers {
			if _, taken := mapping[header]; taken {
				continue
			}
			if headerMatches(header, fieldSynonyms[field]) {
				claimed[field] = header
				mapping[header] = field
				break
			}
		}
	}

	for _, field := range m.required {
		if _, ok := claimed[field]; !ok {
			return nil, appErrors.Clone(appErrors.ErrMissingRequiredField, fmt.Sprintf("no column maps to required field %s", field))
		}
	}

	return mapping, nil
}

// Apply projects a raw row through the mapping. Unmapped fields are absent
// from the result rather than empty, so later stages can tell "not provided"
// from "provided blank".
func (m *ColumnMapper) Apply(mapping models.ColumnMapping, row decode.Row) models.MappedRecord {
	record := models.MappedRecord{}
	for header, field := range mapping {
		if field == models.MappingIgnore {
			continue
		}
		if value, ok := row.Values[header]; ok {
			record[field] = value
		}
	}
	return record
}

func headerMatches(header string, synonyms []string) bool {
	tokens := strings.Split(normalizeHeader(header), "_")
	for _, syn := range synonyms {
		if containsTokenRun(tokens, strings.Split(normalizeHeader(syn), "_")) {
			return true
		}
	}
	return false
}

// containsTokenRun reports whether want occurs as a contiguous run inside
// tokens. Whole-token comparison keeps a short synonym like "id" from
// claiming headers such as "Fee Paid" that only contain it as a substring.
func containsTokenRun(tokens, want []string) bool {
	if len(want) == 0 || len(want) > len(tokens) {
		return false
	}
	for i := 0; i+len(want) <= len(tokens); i++ {
		matched := true
		for j := range want {
			if tokens[i+j] != want[j] {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, "-", "_")
	h = strings.ReplaceAll(h, " ", "_")
	return h
}

func isCanonicalField(field models.FieldName) bool {
	for _, f := range models.CanonicalFields {
		if f == field {
			return true
		}
	}
	return false
}
