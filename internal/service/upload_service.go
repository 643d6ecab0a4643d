package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/edurisk-api/internal/models"
	"github.com/noah-isme/edurisk-api/pkg/decode"
	appErrors "github.com/noah-isme/edurisk-api/pkg/errors"
	"github.com/noah-isme/edurisk-api/pkg/jobs"
)

type uploadStore interface {
	Create(ctx context.Context, manifest *models.UploadManifest) error
	Finalize(ctx context.Context, manifest *models.UploadManifest) error
	GetByID(ctx context.Context, id string) (*models.UploadManifest, error)
	List(ctx context.Context, filter models.UploadFilter) ([]models.UploadManifest, int, error)
	SaveRowResults(ctx context.Context, uploadID string, results []models.RowResult) error
	ListRowResults(ctx context.Context, uploadID string) ([]models.RowResult, error)
}

type studentRegistry interface {
	CommitRecord(ctx context.Context, uploadID, studentKey string, apply func(prior *models.Student) (models.Student, error)) (*models.Student, error)
}

type activeRuleProvider interface {
	ActiveRules(ctx context.Context) ([]models.ValidationRule, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type uploadMetrics interface {
	RecordUpload(status models.UploadStatus)
	RecordRows(status models.RowStatus, count int)
	ObserveCommit(duration time.Duration)
}

// UploadInput carries one upload request through the pipeline.
type UploadInput struct {
	FileName   string
	Size       int64
	Content    io.Reader
	Mapping    models.ColumnMapping
	Policy     *models.CommitPolicy
	UploadedBy string
}

// UploadOutcome bundles the manifest with the per-row results so the caller
// can drive a review UI.
type UploadOutcome struct {
	Manifest *models.UploadManifest `json:"manifest"`
	Rows     []models.RowResult     `json:"rows"`
}

// UploadServiceConfig tunes pipeline behaviour.
type UploadServiceConfig struct {
	MaxFileSizeBytes int64
	MaxRows          int
	DecodeTimeout    time.Duration
	StrictMode       bool
	AbortOnError     bool
	Async            bool
}

// UploadService runs the ingestion pipeline: decode, map, validate, commit,
// record history.
type UploadService struct {
	store    uploadStore
	registry studentRegistry
	rules    activeRuleProvider
	mapper   *ColumnMapper
	engine   *ValidationEngine
	audit    auditLogger
	metrics  uploadMetrics
	queue    *jobs.Queue
	logger   *zap.Logger
	cfg      UploadServiceConfig
}

// NewUploadService constructs the upload pipeline service.
func NewUploadService(store uploadStore, registry studentRegistry, rules activeRuleProvider, audit auditLogger, metrics uploadMetrics, logger *zap.Logger, cfg UploadServiceConfig) *UploadService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSizeBytes <= 0 {
		cfg.MaxFileSizeBytes = 10 * 1024 * 1024
	}
	return &UploadService{
		store:    store,
		registry: registry,
		rules:    rules,
		mapper:   NewColumnMapper(nil),
		engine:   NewValidationEngine(),
		audit:    audit,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
	}
}

// SetQueue attaches the worker queue used for asynchronous commits.
func (s *UploadService) SetQueue(q *jobs.Queue) { s.queue = q }

// commitJob is the payload handed to the worker queue in async mode.
type commitJob struct {
	manifest *models.UploadManifest
	results  []models.RowResult
	policy   models.CommitPolicy
}

// Submit runs the pipeline for one upload. Decode and mapping failures abort
// before any manifest exists. In async mode the commit phase is handed to the
// worker queue and the returned manifest is still processing.
func (s *UploadService) Submit(ctx context.Context, input UploadInput) (*UploadOutcome, error) {
	prepareCtx := ctx
	if s.cfg.DecodeTimeout > 0 {
		var cancel context.CancelFunc
		prepareCtx, cancel = context.WithTimeout(ctx, s.cfg.DecodeTimeout)
		defer cancel()
	}
	manifest, results, policy, err := s.prepare(prepareCtx, input)
	if err != nil {
		return nil, err
	}

	if s.cfg.Async && s.queue != nil {
		job := jobs.Job{
			ID:      uuid.NewString(),
			Type:    "upload_commit",
			Payload: &commitJob{manifest: manifest, results: results, policy: policy},
		}
		if err := s.queue.Enqueue(job); err != nil {
			s.logger.Warn("queue unavailable, committing inline", zap.Error(err))
			return s.commitAndFinalize(ctx, manifest, results, policy)
		}
		return &UploadOutcome{Manifest: manifest, Rows: results}, nil
	}

	return s.commitAndFinalize(ctx, manifest, results, policy)
}

// HandleCommitJob is the worker queue handler for async commits.
func (s *UploadService) HandleCommitJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(*commitJob)
	if !ok {
		return fmt.Errorf("unexpected payload type for job %s", job.ID)
	}
	if _, err := s.commitAndFinalize(ctx, payload.manifest, payload.results, payload.policy); err != nil {
		// The manifest already records the outcome; surfacing the error here
		// would only trigger a retry of an already-finalized commit.
		s.logger.Error("async commit failed", zap.String("upload_id", payload.manifest.ID), zap.Error(err))
	}
	return nil
}

// prepare decodes, maps, and validates the file. It creates the processing
// manifest only after every pre-commit check has passed.
func (s *UploadService) prepare(ctx context.Context, input UploadInput) (*models.UploadManifest, []models.RowResult, models.CommitPolicy, error) {
	policy := models.CommitPolicy{AdmitWarnings: !s.cfg.StrictMode, AbortOnError: s.cfg.AbortOnError}
	if input.Policy != nil {
		policy = *input.Policy
	}

	source, err := decode.Open(input.Content, input.FileName, input.Size, decode.Limits{
		MaxFileSizeBytes: s.cfg.MaxFileSizeBytes,
		MaxRows:          s.cfg.MaxRows,
	})
	if err != nil {
		return nil, nil, policy, err
	}
	defer source.Close() //nolint:errcheck

	mapping, err := s.mapper.Resolve(source.Headers(), input.Mapping)
	if err != nil {
		return nil, nil, policy, err
	}

	rules, err := s.rules.ActiveRules(ctx)
	if err != nil {
		return nil, nil, policy, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load validation rules")
	}

	var results []models.RowResult
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, policy, appErrors.Wrap(err, appErrors.ErrMalformedFile.Code, appErrors.ErrMalformedFile.Status, "decode cancelled or timed out")
		}
		row, err := source.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, policy, err
		}
		record := s.mapper.Apply(mapping, row)
		status, triggered := s.engine.Evaluate(record, rules)
		results = append(results, models.RowResult{
			RowIndex:       row.Index,
			Status:         status,
			TriggeredRules: triggered,
			Record:         record,
		})
	}

	manifest := &models.UploadManifest{
		FileName:      input.FileName,
		FileSizeBytes: input.Size,
		UploadedBy:    input.UploadedBy,
		TotalRows:     len(results),
		Status:        models.UploadStatusProcessing,
	}
	if err := s.store.Create(ctx, manifest); err != nil {
		return nil, nil, policy, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create upload manifest")
	}
	for i := range results {
		results[i].UploadID = manifest.ID
	}
	return manifest, results, policy, nil
}

// commitAndFinalize is the commit manager: it persists admitted rows one
// short transaction at a time, captures prior values for rollback, and
// finalizes the manifest. Row-level persistence failures never abort the
// batch unless the abort-on-error policy is set; cancellation stops further
// writes but still finalizes a manifest describing what was persisted.
func (s *UploadService) commitAndFinalize(ctx context.Context, manifest *models.UploadManifest, results []models.RowResult, policy models.CommitPolicy) (*UploadOutcome, error) {
	started := time.Now()
	manifest.PriorValues = map[string]*models.Student{}
	aborted := false

	for i := range results {
		result := &results[i]
		if !policy.Admits(result.Status) {
			manifest.FailedRows++
			continue
		}
		if aborted {
			result.Failure = strPtr("not attempted: commit aborted")
			manifest.FailedRows++
			continue
		}
		if err := ctx.Err(); err != nil {
			result.Failure = strPtr("not attempted: commit cancelled")
			manifest.FailedRows++
			continue
		}

		if err := s.commitRow(ctx, manifest, result); err != nil {
			msg := err.Error()
			result.Failure = &msg
			manifest.FailedRows++
			s.logger.Warn("row commit failed",
				zap.String("upload_id", manifest.ID),
				zap.Int("row_index", result.RowIndex),
				zap.Error(err))
			if policy.AbortOnError {
				aborted = true
			}
			continue
		}
		manifest.SuccessRows++
	}

	switch {
	case manifest.FailedRows == 0:
		manifest.Status = models.UploadStatusSuccess
	case manifest.SuccessRows > 0:
		manifest.Status = models.UploadStatusPartial
	default:
		manifest.Status = models.UploadStatusFailed
	}

	// Finalization must survive the caller's cancellation: the manifest is
	// the only record of what was already persisted.
	finalizeCtx := context.WithoutCancel(ctx)
	if err := s.store.SaveRowResults(finalizeCtx, manifest.ID, results); err != nil {
		s.logger.Error("failed to save row results", zap.String("upload_id", manifest.ID), zap.Error(err))
	}
	if err := s.store.Finalize(finalizeCtx, manifest); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to finalize upload manifest")
	}

	s.observe(manifest, results, time.Since(started))
	s.emitAudit(finalizeCtx, &models.AuditLog{
		UserID:     strPtr(manifest.UploadedBy),
		Action:     models.AuditActionUploadCommit,
		Resource:   "upload",
		ResourceID: &manifest.ID,
		NewValues: []byte(fmt.Sprintf(`{"file":"%s","status":"%s","success":%d,"failed":%d}`,
			manifest.FileName, manifest.Status, manifest.SuccessRows, manifest.FailedRows)),
	})

	return &UploadOutcome{Manifest: manifest, Rows: results}, nil
}

// commitRow persists one admitted row. The prior value is recorded only the
// first time a student key appears in this upload, so rollback restores the
// true pre-upload state even when a file contains duplicate keys.
func (s *UploadService) commitRow(ctx context.Context, manifest *models.UploadManifest, result *models.RowResult) error {
	key := strings.TrimSpace(result.Record[models.FieldStudentID])
	if key == "" {
		return fmt.Errorf("row %d: student key is empty", result.RowIndex)
	}

	prior, err := s.registry.CommitRecord(ctx, manifest.ID, key, func(prior *models.Student) (models.Student, error) {
		return buildStudent(prior, result.Record)
	})
	if err != nil {
		return err
	}

	if _, seen := manifest.PriorValues[key]; !seen {
		manifest.PriorValues[key] = prior
	}
	return nil
}

// buildStudent merges a mapped record over the prior state. Absent fields
// keep their prior value; provided-but-blank optional fields are cleared.
func buildStudent(prior *models.Student, record models.MappedRecord) (models.Student, error) {
	var student models.Student
	if prior != nil {
		student = *prior
	} else {
		student.Active = true
	}

	if name, ok := record.Get(models.FieldFullName); ok {
		student.FullName = strings.TrimSpace(name)
	}
	if email, ok := record.Get(models.FieldEmail); ok {
		student.Email = optional(email)
	}
	if phone, ok := record.Get(models.FieldPhone); ok {
		student.Phone = optional(phone)
	}
	if fee, ok := record.Get(models.FieldFeeStatus); ok {
		if v := optional(fee); v != nil {
			upper := normalizeFeeStatus(*v)
			student.FeeStatus = &upper
		} else {
			student.FeeStatus = nil
		}
	}
	if raw, ok := record.Get(models.FieldAttendancePercent); ok {
		value, err := optionalFloat(raw)
		if err != nil {
			return student, fmt.Errorf("attendance_percent: %w", err)
		}
		student.AttendancePercent = value
	}
	if raw, ok := record.Get(models.FieldTestScore); ok {
		value, err := optionalFloat(raw)
		if err != nil {
			return student, fmt.Errorf("test_score: %w", err)
		}
		student.TestScore = value
	}

	return student, nil
}

// GetUpload returns a manifest with its stored row results.
func (s *UploadService) GetUpload(ctx context.Context, id string) (*UploadOutcome, error) {
	manifest, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrManifestNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load upload")
	}
	rows, err := s.store.ListRowResults(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load row results")
	}
	return &UploadOutcome{Manifest: manifest, Rows: rows}, nil
}

// History lists manifests with pagination metadata.
func (s *UploadService) History(ctx context.Context, filter models.UploadFilter) ([]models.UploadManifest, *models.Pagination, error) {
	manifests, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list uploads")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return manifests, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

func (s *UploadService) observe(manifest *models.UploadManifest, results []models.RowResult, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordUpload(manifest.Status)
	s.metrics.ObserveCommit(elapsed)
	counts := map[models.RowStatus]int{}
	for _, r := range results {
		counts[r.Status]++
	}
	for status, count := range counts {
		s.metrics.RecordRows(status, count)
	}
}

func (s *UploadService) emitAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil || log == nil {
		return
	}
	log.IPAddress = "system"
	log.UserAgent = "upload-service"
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func optionalFloat(raw string) (*float64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	n, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return nil, fmt.Errorf("%q is not numeric", raw)
	}
	return &n, nil
}

func normalizeFeeStatus(value string) string {
	upper := strings.ToUpper(strings.TrimSpace(value))
	switch upper {
	case "YES", "TRUE":
		return models.FeeStatusPaid
	case "NO", "FALSE":
		return models.FeeStatusUnpaid
	default:
		return upper
	}
}

func strPtr(v string) *string { return &v }
