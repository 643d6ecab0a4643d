package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/edurisk-api/internal/models"
	appErrors "github.com/noah-isme/edurisk-api/pkg/errors"
)

type mockStudentRepo struct {
	students    map[string]models.Student
	byKey       map[string]string
	deactivated []string
	listTotal   int
}

func newMockStudentRepo() *mockStudentRepo {
	return &mockStudentRepo{students: map[string]models.Student{}, byKey: map[string]string{}}
}

func (m *mockStudentRepo) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	out := make([]models.Student, 0, len(m.students))
	for _, s := range m.students {
		out = append(out, s)
	}
	return out, m.listTotal, nil
}

func (m *mockStudentRepo) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if s, ok := m.students[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentRepo) ExistsByStudentKey(ctx context.Context, studentKey string, excludeID string) (bool, error) {
	if id, ok := m.byKey[studentKey]; ok {
		if excludeID == "" || id != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStudentRepo) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = "generated"
	}
	m.students[student.ID] = *student
	m.byKey[student.StudentID] = student.ID
	return nil
}

func (m *mockStudentRepo) Update(ctx context.Context, student *models.Student) error {
	m.students[student.ID] = *student
	m.byKey[student.StudentID] = student.ID
	return nil
}

func (m *mockStudentRepo) Deactivate(ctx context.Context, id string) error {
	m.deactivated = append(m.deactivated, id)
	if s, ok := m.students[id]; ok {
		s.Active = false
		m.students[id] = s
	}
	return nil
}

func TestStudentServiceCreate(t *testing.T) {
	repo := newMockStudentRepo()
	svc := NewStudentService(repo, validator.New(), nil, zap.NewNop())

	student, err := svc.Create(context.Background(), CreateStudentRequest{
		StudentID: "S100",
		FullName:  "Alice Johnson",
	}, "admin-1")
	require.NoError(t, err)
	assert.NotEmpty(t, student.ID)
	assert.True(t, student.Active)
	assert.Len(t, repo.students, 1)
}

func TestStudentServiceCreateDuplicateKey(t *testing.T) {
	repo := newMockStudentRepo()
	repo.byKey["S100"] = "existing-id"
	svc := NewStudentService(repo, validator.New(), nil, zap.NewNop())

	_, err := svc.Create(context.Background(), CreateStudentRequest{
		StudentID: "S100",
		FullName:  "Alice Johnson",
	}, "admin-1")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestStudentServiceCreateRejectsInvalidPayload(t *testing.T) {
	svc := NewStudentService(newMockStudentRepo(), validator.New(), nil, zap.NewNop())

	_, err := svc.Create(context.Background(), CreateStudentRequest{FullName: "No Key"}, "admin-1")
	require.Error(t, err)

	email := "not-an-email"
	_, err = svc.Create(context.Background(), CreateStudentRequest{
		StudentID: "S1", FullName: "X", Email: &email,
	}, "admin-1")
	require.Error(t, err)

	attendance := 180.0
	_, err = svc.Create(context.Background(), CreateStudentRequest{
		StudentID: "S1", FullName: "X", AttendancePercent: &attendance,
	}, "admin-1")
	require.Error(t, err)
}

func TestStudentServiceUpdate(t *testing.T) {
	repo := newMockStudentRepo()
	repo.students["u-1"] = models.Student{ID: "u-1", StudentID: "S100", FullName: "Old", Active: true}
	repo.byKey["S100"] = "u-1"
	svc := NewStudentService(repo, validator.New(), nil, zap.NewNop())

	student, err := svc.Update(context.Background(), "u-1", UpdateStudentRequest{
		StudentID: "S100",
		FullName:  "New Name",
		Active:    true,
	}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, "New Name", student.FullName)
	assert.Equal(t, "New Name", repo.students["u-1"].FullName)
}

func TestStudentServiceUpdateNotFound(t *testing.T) {
	svc := NewStudentService(newMockStudentRepo(), validator.New(), nil, zap.NewNop())

	_, err := svc.Update(context.Background(), "missing", UpdateStudentRequest{
		StudentID: "S1", FullName: "X",
	}, "admin-1")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestStudentServiceDeactivate(t *testing.T) {
	repo := newMockStudentRepo()
	repo.students["u-1"] = models.Student{ID: "u-1", StudentID: "S100", Active: true}
	audit := &mockAudit{}
	svc := NewStudentService(repo, validator.New(), audit, zap.NewNop())

	require.NoError(t, svc.Deactivate(context.Background(), "u-1", "admin-1"))
	assert.Equal(t, []string{"u-1"}, repo.deactivated)
	assert.False(t, repo.students["u-1"].Active)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionStudentDeactivate, audit.logs[0].Action)
}
