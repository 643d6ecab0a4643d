package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/edurisk-api/internal/models"
)

// ErrRollbackConflict signals that a record referenced by a manifest has been
// rewritten by a later upload and cannot be restored from that manifest.
var ErrRollbackConflict = errors.New("record modified by a later upload")

// StudentRepository manages persistence for canonical student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

const studentColumns = "id, student_id, full_name, email, phone, attendance_percent, test_score, fee_status, active, last_upload_id, created_at, updated_at"

// List returns students matching the provided filters.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	base := "FROM students s"
	args := []interface{}{}
	conditions := []string{"1=1"}

	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("s.active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.FeeStatus != "" {
		conditions = append(conditions, fmt.Sprintf("s.fee_status = $%d", len(args)+1))
		args = append(args, strings.ToUpper(filter.FeeStatus))
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(s.full_name) LIKE $%d OR LOWER(s.student_id) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	base = fmt.Sprintf("%s WHERE %s", base, strings.Join(conditions, " AND "))

	sortBy := filter.SortBy
	allowedSorts := map[string]string{
		"full_name":  "s.full_name",
		"student_id": "s.student_id",
		"created_at": "s.created_at",
	}
	if sortBy == "" {
		sortBy = "created_at"
	}
	column, ok := allowedSorts[sortBy]
	if !ok {
		column = "s.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT s.id, s.student_id, s.full_name, s.email, s.phone, s.attendance_percent, s.test_score, s.fee_status, s.active, s.last_upload_id, s.created_at, s.updated_at
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base, column, order, size, offset)

	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// FindByID fetches a student by internal ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	query := fmt.Sprintf("SELECT %s FROM students WHERE id = $1", studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindByStudentKey fetches a student by the institutional identifier.
func (r *StudentRepository) FindByStudentKey(ctx context.Context, studentKey string) (*models.Student, error) {
	query := fmt.Sprintf("SELECT %s FROM students WHERE student_id = $1", studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, studentKey); err != nil {
		return nil, err
	}
	return &student, nil
}

// Create inserts a new student record.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now
	const query = `INSERT INTO students (id, student_id, full_name, email, phone, attendance_percent, test_score, fee_status, active, last_upload_id, created_at, updated_at)
        VALUES (:id, :student_id, :full_name, :email, :phone, :attendance_percent, :test_score, :fee_status, :active, :last_upload_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// Update modifies an existing student.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET student_id = :student_id, full_name = :full_name, email = :email, phone = :phone, attendance_percent = :attendance_percent, test_score = :test_score, fee_status = :fee_status, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return nil
}

// Deactivate marks a student as inactive.
func (r *StudentRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE students SET active = false, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("deactivate student: %w", err)
	}
	return nil
}

// ExistsByStudentKey checks whether the institutional identifier is taken,
// optionally excluding an internal ID.
func (r *StudentRepository) ExistsByStudentKey(ctx context.Context, studentKey string, excludeID string) (bool, error) {
	query := "SELECT 1 FROM students WHERE student_id = $1"
	args := []interface{}{studentKey}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check student key: %w", err)
	}
	return true, nil
}

// CommitRecord persists one upload row inside its own transaction. An
// advisory lock on the student key serialises concurrent commits touching the
// same record, so the prior-value snapshot taken here always reflects the
// latest committed state. apply receives the locked prior record (nil when
// the record does not exist) and returns the new state to write. Returns the
// prior record snapshot.
func (r *StudentRepository) CommitRecord(ctx context.Context, uploadID, studentKey string, apply func(prior *models.Student) (models.Student, error)) (*models.Student, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin commit tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", studentKey); err != nil {
		return nil, fmt.Errorf("lock student key %s: %w", studentKey, err)
	}

	var prior *models.Student
	var existing models.Student
	query := fmt.Sprintf("SELECT %s FROM students WHERE student_id = $1 FOR UPDATE", studentColumns)
	err = tx.GetContext(ctx, &existing, query, studentKey)
	switch {
	case err == nil:
		snapshot := existing
		prior = &snapshot
	case errors.Is(err, sql.ErrNoRows):
		prior = nil
	default:
		return nil, fmt.Errorf("snapshot student %s: %w", studentKey, err)
	}

	record, err := apply(prior)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record.StudentID = studentKey
	record.LastUploadID = &uploadID
	record.UpdatedAt = now
	if prior == nil {
		record.ID = uuid.NewString()
		record.CreatedAt = now
		const insert = `INSERT INTO students (id, student_id, full_name, email, phone, attendance_percent, test_score, fee_status, active, last_upload_id, created_at, updated_at)
            VALUES (:id, :student_id, :full_name, :email, :phone, :attendance_percent, :test_score, :fee_status, :active, :last_upload_id, :created_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, insert, record); err != nil {
			return nil, fmt.Errorf("insert student %s: %w", studentKey, err)
		}
	} else {
		record.ID = prior.ID
		record.CreatedAt = prior.CreatedAt
		const update = `UPDATE students SET full_name = :full_name, email = :email, phone = :phone, attendance_percent = :attendance_percent, test_score = :test_score, fee_status = :fee_status, active = :active, last_upload_id = :last_upload_id, updated_at = :updated_at WHERE id = :id`
		if _, err := tx.NamedExecContext(ctx, update, record); err != nil {
			return nil, fmt.Errorf("update student %s: %w", studentKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit student %s: %w", studentKey, err)
	}
	return prior, nil
}
