package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edurisk-api/internal/models"
	"github.com/noah-isme/edurisk-api/pkg/decode"
	appErrors "github.com/noah-isme/edurisk-api/pkg/errors"
)

func TestColumnMapperInference(t *testing.T) {
	mapper := NewColumnMapper(nil)
	headers := []string{"Student ID", "Full Name", "E-Mail", "Attendance %", "Test Score", "Fee Status"}

	mapping, err := mapper.Resolve(headers, nil)
	require.NoError(t, err)

	assert.Equal(t, models.FieldStudentID, mapping["Student ID"])
	assert.Equal(t, models.FieldFullName, mapping["Full Name"])
	assert.Equal(t, models.FieldEmail, mapping["E-Mail"])
	assert.Equal(t, models.FieldAttendancePercent, mapping["Attendance %"])
	assert.Equal(t, models.FieldTestScore, mapping["Test Score"])
	assert.Equal(t, models.FieldFeeStatus, mapping["Fee Status"])
}

func TestColumnMapperInferenceMatchesWholeTokensOnly(t *testing.T) {
	mapper := NewColumnMapper(nil)
	headers := []string{"Fee Paid", "Student ID", "Name"}

	mapping, err := mapper.Resolve(headers, nil)
	require.NoError(t, err)

	assert.Equal(t, models.FieldStudentID, mapping["Student ID"])
	assert.Equal(t, models.FieldFeeStatus, mapping["Fee Paid"])
	assert.Equal(t, models.FieldFullName, mapping["Name"])

	// A header merely containing "id" inside a word must not become the key.
	mapping, err = mapper.Resolve([]string{"Paid Amount", "Student ID", "Name"}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.FieldStudentID, mapping["Student ID"])
	_, claimed := mapping["Paid Amount"]
	assert.False(t, claimed)
}

func TestColumnMapperIsDeterministic(t *testing.T) {
	mapper := NewColumnMapper(nil)
	headers := []string{"roll no", "name", "marks", "contact"}

	first, err := mapper.Resolve(headers, nil)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := mapper.Resolve(headers, nil)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestColumnMapperExplicitWinsOverInference(t *testing.T) {
	mapper := NewColumnMapper(nil)
	headers := []string{"id", "name", "secondary id"}

	mapping, err := mapper.Resolve(headers, models.ColumnMapping{
		"secondary id": models.FieldStudentID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.FieldStudentID, mapping["secondary id"])
	_, idMapped := mapping["id"]
	assert.False(t, idMapped, "inference must not reassign a claimed field")
}

func TestColumnMapperDuplicateMapping(t *testing.T) {
	mapper := NewColumnMapper(nil)
	headers := []string{"id", "roll", "name"}

	_, err := mapper.Resolve(headers, models.ColumnMapping{
		"id":   models.FieldStudentID,
		"roll": models.FieldStudentID,
	})
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrDuplicateMapping.Code, appErr.Code)
}

func TestColumnMapperMissingRequiredField(t *testing.T) {
	mapper := NewColumnMapper(nil)

	_, err := mapper.Resolve([]string{"email", "score"}, nil)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrMissingRequiredField.Code, appErr.Code)
}

func TestColumnMapperUnknownExplicitHeader(t *testing.T) {
	mapper := NewColumnMapper(nil)

	_, err := mapper.Resolve([]string{"id", "name"}, models.ColumnMapping{
		"missing column": models.FieldEmail,
	})
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestColumnMapperIgnoreSentinel(t *testing.T) {
	mapper := NewColumnMapper(nil)
	headers := []string{"id", "name", "internal notes"}

	mapping, err := mapper.Resolve(headers, models.ColumnMapping{
		"internal notes": models.MappingIgnore,
	})
	require.NoError(t, err)

	record := mapper.Apply(mapping, decode.Row{Values: map[string]string{
		"id": "S1", "name": "Alice", "internal notes": "do not import",
	}})
	_, ok := record[models.FieldStudentID]
	assert.True(t, ok)
	assert.Len(t, record, 2)
}

func TestColumnMapperApplyDistinguishesAbsentFromEmpty(t *testing.T) {
	mapper := NewColumnMapper(nil)
	mapping, err := mapper.Resolve([]string{"id", "name", "email"}, nil)
	require.NoError(t, err)

	record := mapper.Apply(mapping, decode.Row{Values: map[string]string{
		"id": "S1", "name": "Alice", "email": "",
	}})

	email, provided := record.Get(models.FieldEmail)
	assert.True(t, provided)
	assert.Equal(t, "", email)

	_, provided = record.Get(models.FieldPhone)
	assert.False(t, provided)
}
