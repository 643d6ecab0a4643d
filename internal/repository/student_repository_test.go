package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edurisk-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() } //nolint:errcheck
}

var studentCols = []string{"id", "student_id", "full_name", "email", "phone", "attendance_percent", "test_score", "fee_status", "active", "last_upload_id", "created_at", "updated_at"}

func TestStudentRepositoryCommitRecordInsertsNewStudent(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")).
		WithArgs("S1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, student_id, full_name.*FOR UPDATE").
		WithArgs("S1").
		WillReturnRows(sqlmock.NewRows(studentCols))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO students")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	prior, err := repo.CommitRecord(context.Background(), "up-1", "S1", func(prior *models.Student) (models.Student, error) {
		require.Nil(t, prior)
		return models.Student{FullName: "Alice", Active: true}, nil
	})
	require.NoError(t, err)
	assert.Nil(t, prior)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCommitRecordUpdatesAndSnapshotsPrior(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")).
		WithArgs("S1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, student_id, full_name.*FOR UPDATE").
		WithArgs("S1").
		WillReturnRows(sqlmock.NewRows(studentCols).
			AddRow("u-1", "S1", "Old Name", nil, nil, nil, nil, nil, true, "up-0", now, now))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE students SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	prior, err := repo.CommitRecord(context.Background(), "up-1", "S1", func(prior *models.Student) (models.Student, error) {
		require.NotNil(t, prior)
		next := *prior
		next.FullName = "New Name"
		return next, nil
	})
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.Equal(t, "Old Name", prior.FullName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCommitRecordApplyErrorRollsBack(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")).
		WithArgs("S1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, student_id, full_name.*FOR UPDATE").
		WithArgs("S1").
		WillReturnRows(sqlmock.NewRows(studentCols))
	mock.ExpectRollback()

	_, err := repo.CommitRecord(context.Background(), "up-1", "S1", func(prior *models.Student) (models.Student, error) {
		return models.Student{}, assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryExistsByStudentKey(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM students WHERE student_id = $1")).
		WithArgs("S1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	exists, err := repo.ExistsByStudentKey(context.Background(), "S1", "")
	require.NoError(t, err)
	assert.True(t, exists)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM students WHERE student_id = $1")).
		WithArgs("S2").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	exists, err = repo.ExistsByStudentKey(context.Background(), "S2", "")
	require.NoError(t, err)
	assert.False(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	now := time.Now()
	active := true
	mock.ExpectQuery("SELECT s.id, s.student_id").
		WithArgs(true, "%ali%").
		WillReturnRows(sqlmock.NewRows(studentCols).
			AddRow("u-1", "S1", "Alice", nil, nil, 92.5, nil, "PAID", true, nil, now, now))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(true, "%ali%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	students, total, err := repo.List(context.Background(), models.StudentFilter{Active: &active, Search: "Ali"})
	require.NoError(t, err)
	require.Len(t, students, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, "Alice", students[0].FullName)
	require.NoError(t, mock.ExpectationsWereMet())
}
