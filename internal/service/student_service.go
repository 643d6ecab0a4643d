package service

import (
	"context"
	"database/sql"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/edurisk-api/internal/models"
	appErrors "github.com/noah-isme/edurisk-api/pkg/errors"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	ExistsByStudentKey(ctx context.Context, studentKey string, excludeID string) (bool, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	Deactivate(ctx context.Context, id string) error
}

// CreateStudentRequest holds payload for creating students.
type CreateStudentRequest struct {
	StudentID         string   `json:"student_id" validate:"required"`
	FullName          string   `json:"full_name" validate:"required"`
	Email             *string  `json:"email" validate:"omitempty,email"`
	Phone             *string  `json:"phone"`
	AttendancePercent *float64 `json:"attendance_percent" validate:"omitempty,gte=0,lte=100"`
	TestScore         *float64 `json:"test_score" validate:"omitempty,gte=0"`
	FeeStatus         *string  `json:"fee_status" validate:"omitempty,oneof=PAID PARTIAL UNPAID OVERDUE"`
}

// UpdateStudentRequest holds payload for updating students.
type UpdateStudentRequest struct {
	StudentID         string   `json:"student_id" validate:"required"`
	FullName          string   `json:"full_name" validate:"required"`
	Email             *string  `json:"email" validate:"omitempty,email"`
	Phone             *string  `json:"phone"`
	AttendancePercent *float64 `json:"attendance_percent" validate:"omitempty,gte=0,lte=100"`
	TestScore         *float64 `json:"test_score" validate:"omitempty,gte=0"`
	FeeStatus         *string  `json:"fee_status" validate:"omitempty,oneof=PAID PARTIAL UNPAID OVERDUE"`
	Active            bool     `json:"active"`
}

// StudentService handles registry use-cases outside the upload pipeline.
type StudentService struct {
	repo      studentRepository
	validator *validator.Validate
	audit     auditLogger
	logger    *zap.Logger
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, validate *validator.Validate, audit auditLogger, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, validator: validate, audit: audit, logger: logger}
}

// List returns students and pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return students, pagination, nil
}

// Get returns a single student.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// Create registers a new student.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest, actor string) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	key := strings.TrimSpace(req.StudentID)
	exists, err := s.repo.ExistsByStudentKey(ctx, key, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate student id")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student id already used")
	}
	student := &models.Student{
		StudentID:         key,
		FullName:          strings.TrimSpace(req.FullName),
		Email:             req.Email,
		Phone:             req.Phone,
		AttendancePercent: req.AttendancePercent,
		TestScore:         req.TestScore,
		FeeStatus:         req.FeeStatus,
		Active:            true,
	}
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}
	s.emitAudit(ctx, actor, models.AuditActionStudentCreate, student.ID)
	return student, nil
}

// Update modifies an existing student record.
func (s *StudentService) Update(ctx context.Context, id string, req UpdateStudentRequest, actor string) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	key := strings.TrimSpace(req.StudentID)
	exists, err := s.repo.ExistsByStudentKey(ctx, key, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate student id")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student id already used")
	}
	student.StudentID = key
	student.FullName = strings.TrimSpace(req.FullName)
	student.Email = req.Email
	student.Phone = req.Phone
	student.AttendancePercent = req.AttendancePercent
	student.TestScore = req.TestScore
	student.FeeStatus = req.FeeStatus
	student.Active = req.Active
	if err := s.repo.Update(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}
	s.emitAudit(ctx, actor, models.AuditActionStudentUpdate, student.ID)
	return student, nil
}

// Deactivate marks a student inactive.
func (s *StudentService) Deactivate(ctx context.Context, id, actor string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate student")
	}
	s.emitAudit(ctx, actor, models.AuditActionStudentDeactivate, id)
	return nil
}

func (s *StudentService) emitAudit(ctx context.Context, actor, action, studentID string) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		UserID:     strPtr(actor),
		Action:     action,
		Resource:   "student",
		ResourceID: &studentID,
		IPAddress:  "system",
		UserAgent:  "student-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
