package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/edurisk-api/internal/models"
)

// ErrManifestFinalized signals a finalize/rollback race on a manifest row.
var ErrManifestFinalized = errors.New("manifest already finalized")

// UploadRepository manages upload manifests and their per-row results.
type UploadRepository struct {
	db *sqlx.DB
}

// NewUploadRepository constructs an UploadRepository.
func NewUploadRepository(db *sqlx.DB) *UploadRepository {
	return &UploadRepository{db: db}
}

type manifestRow struct {
	models.UploadManifest
	PriorValuesRaw []byte `db:"prior_values"`
}

func (m *manifestRow) toModel() (*models.UploadManifest, error) {
	manifest := m.UploadManifest
	if len(m.PriorValuesRaw) > 0 {
		if err := json.Unmarshal(m.PriorValuesRaw, &manifest.PriorValues); err != nil {
			return nil, fmt.Errorf("decode prior values for %s: %w", manifest.ID, err)
		}
	}
	return &manifest, nil
}

const manifestColumns = "id, file_name, file_size_bytes, uploaded_by, uploaded_at, completed_at, total_rows, success_rows, failed_rows, status, rolled_back, rolled_back_at, rolled_back_by, prior_values"

// Create inserts a new manifest in the processing state.
func (r *UploadRepository) Create(ctx context.Context, manifest *models.UploadManifest) error {
	if manifest.ID == "" {
		manifest.ID = uuid.NewString()
	}
	if manifest.UploadedAt.IsZero() {
		manifest.UploadedAt = time.Now().UTC()
	}
	if manifest.Status == "" {
		manifest.Status = models.UploadStatusProcessing
	}
	const query = `INSERT INTO upload_manifests (id, file_name, file_size_bytes, uploaded_by, uploaded_at, total_rows, success_rows, failed_rows, status, rolled_back, prior_values)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false, '{}')`
	if _, err := r.db.ExecContext(ctx, query,
		manifest.ID, manifest.FileName, manifest.FileSizeBytes, manifest.UploadedBy,
		manifest.UploadedAt, manifest.TotalRows, manifest.SuccessRows, manifest.FailedRows,
		manifest.Status,
	); err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	return nil
}

// Finalize stores the commit outcome and prior-value snapshot. Only a
// manifest still in the processing state may be finalized.
func (r *UploadRepository) Finalize(ctx context.Context, manifest *models.UploadManifest) error {
	prior := manifest.PriorValues
	if prior == nil {
		prior = map[string]*models.Student{}
	}
	priorValues, err := json.Marshal(prior)
	if err != nil {
		return fmt.Errorf("encode prior values: %w", err)
	}
	if manifest.CompletedAt == nil {
		now := time.Now().UTC()
		manifest.CompletedAt = &now
	}
	const query = `UPDATE upload_manifests
        SET status = $2, success_rows = $3, failed_rows = $4, total_rows = $5, prior_values = $6, completed_at = $7
        WHERE id = $1 AND status = $8`
	res, err := r.db.ExecContext(ctx, query,
		manifest.ID, manifest.Status, manifest.SuccessRows, manifest.FailedRows,
		manifest.TotalRows, priorValues, manifest.CompletedAt, models.UploadStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("finalize manifest: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize manifest: %w", err)
	}
	if affected == 0 {
		return ErrManifestFinalized
	}
	return nil
}

// GetByID loads a manifest including its prior-value snapshot.
func (r *UploadRepository) GetByID(ctx context.Context, id string) (*models.UploadManifest, error) {
	query := fmt.Sprintf("SELECT %s FROM upload_manifests WHERE id = $1", manifestColumns)
	var row manifestRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, err
	}
	return row.toModel()
}

// List returns manifests matching the filter, newest first.
func (r *UploadRepository) List(ctx context.Context, filter models.UploadFilter) ([]models.UploadManifest, int, error) {
	base := "FROM upload_manifests"
	args := []interface{}{}
	conditions := []string{"1=1"}

	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)+1))
		args = append(args, pq.Array(statuses))
	}
	if filter.UploadedBy != "" {
		conditions = append(conditions, fmt.Sprintf("uploaded_by = $%d", len(args)+1))
		args = append(args, filter.UploadedBy)
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("uploaded_at >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("uploaded_at < $%d", len(args)+1))
		args = append(args, *filter.To)
	}

	base = fmt.Sprintf("%s WHERE %s", base, strings.Join(conditions, " AND "))

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY uploaded_at DESC LIMIT %d OFFSET %d", manifestColumns, base, size, offset)
	var rows []manifestRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list manifests: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count manifests: %w", err)
	}

	manifests := make([]models.UploadManifest, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toModel()
		if err != nil {
			return nil, 0, err
		}
		manifests = append(manifests, *m)
	}
	return manifests, total, nil
}

// SaveRowResults stores the per-row outcomes for an upload.
func (r *UploadRepository) SaveRowResults(ctx context.Context, uploadID string, results []models.RowResult) error {
	if len(results) == 0 {
		return nil
	}
	const query = `INSERT INTO upload_rows (upload_id, row_index, status, triggered_rules, record, failure)
        VALUES ($1, $2, $3, $4, $5, $6)`
	for _, result := range results {
		record, err := json.Marshal(result.Record)
		if err != nil {
			return fmt.Errorf("encode row %d: %w", result.RowIndex, err)
		}
		if _, err := r.db.ExecContext(ctx, query,
			uploadID, result.RowIndex, result.Status, pq.Array(result.TriggeredRules), record, result.Failure,
		); err != nil {
			return fmt.Errorf("save row %d: %w", result.RowIndex, err)
		}
	}
	return nil
}

// ListRowResults returns the stored outcomes for an upload in source order.
func (r *UploadRepository) ListRowResults(ctx context.Context, uploadID string) ([]models.RowResult, error) {
	const query = `SELECT upload_id, row_index, status, triggered_rules, record, failure
        FROM upload_rows WHERE upload_id = $1 ORDER BY row_index`
	rows, err := r.db.QueryxContext(ctx, query, uploadID)
	if err != nil {
		return nil, fmt.Errorf("list row results: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var results []models.RowResult
	for rows.Next() {
		var result models.RowResult
		var rules pq.StringArray
		var record []byte
		if err := rows.Scan(&result.UploadID, &result.RowIndex, &result.Status, &rules, &record, &result.Failure); err != nil {
			return nil, fmt.Errorf("scan row result: %w", err)
		}
		result.TriggeredRules = []string(rules)
		if len(record) > 0 {
			if err := json.Unmarshal(record, &result.Record); err != nil {
				return nil, fmt.Errorf("decode row record: %w", err)
			}
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// ApplyRollback atomically restores every record in the manifest's
// prior-value snapshot and marks the manifest rolled back. If any touched
// record has since been rewritten by a later upload the whole transaction is
// abandoned with ErrRollbackConflict.
func (r *UploadRepository) ApplyRollback(ctx context.Context, manifest *models.UploadManifest, actor string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rollback tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Fixed iteration order keeps lock acquisition deterministic across
	// concurrent rollbacks.
	keys := manifest.CommittedRecordIDs()
	sort.Strings(keys)

	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", key); err != nil {
			return fmt.Errorf("lock student key %s: %w", key, err)
		}

		var current models.Student
		query := fmt.Sprintf("SELECT %s FROM students WHERE student_id = $1 FOR UPDATE", studentColumns)
		err := tx.GetContext(ctx, &current, query, key)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("load student %s: %w", key, err)
		}
		exists := err == nil
		if exists && (current.LastUploadID == nil || *current.LastUploadID != manifest.ID) {
			return ErrRollbackConflict
		}

		prior := manifest.PriorValues[key]
		switch {
		case prior == nil && exists:
			if _, err := tx.ExecContext(ctx, "DELETE FROM students WHERE student_id = $1", key); err != nil {
				return fmt.Errorf("delete student %s: %w", key, err)
			}
		case prior != nil && exists:
			const restore = `UPDATE students SET full_name = :full_name, email = :email, phone = :phone, attendance_percent = :attendance_percent, test_score = :test_score, fee_status = :fee_status, active = :active, last_upload_id = :last_upload_id, updated_at = :updated_at WHERE student_id = :student_id`
			if _, err := tx.NamedExecContext(ctx, restore, prior); err != nil {
				return fmt.Errorf("restore student %s: %w", key, err)
			}
		case prior != nil && !exists:
			// Record was deleted after this upload; reinstating the prior
			// value would resurrect state a later actor removed.
			return ErrRollbackConflict
		case prior == nil && !exists:
			// Created by this upload and deleted since. Absence is exactly
			// the pre-upload state, so there is nothing to undo.
		}
	}

	now := time.Now().UTC()
	const mark = `UPDATE upload_manifests SET rolled_back = true, rolled_back_at = $2, rolled_back_by = $3 WHERE id = $1 AND rolled_back = false`
	res, err := tx.ExecContext(ctx, mark, manifest.ID, now, actor)
	if err != nil {
		return fmt.Errorf("mark rolled back: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark rolled back: %w", err)
	}
	if affected == 0 {
		return ErrManifestFinalized
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rollback: %w", err)
	}
	manifest.RolledBack = true
	manifest.RolledBackAt = &now
	manifest.RolledBackBy = &actor
	return nil
}
