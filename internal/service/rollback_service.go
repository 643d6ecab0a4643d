package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/edurisk-api/internal/models"
	"github.com/noah-isme/edurisk-api/internal/repository"
	appErrors "github.com/noah-isme/edurisk-api/pkg/errors"
)

type rollbackStore interface {
	GetByID(ctx context.Context, id string) (*models.UploadManifest, error)
	ApplyRollback(ctx context.Context, manifest *models.UploadManifest, actor string) error
}

type tokenStore interface {
	SetToken(ctx context.Context, key, token string, ttl time.Duration) error
	TakeToken(ctx context.Context, key, token string) (bool, error)
}

type rollbackMetrics interface {
	RecordRollback()
}

// RollbackService reverses a committed upload in two phases: a preview that
// issues a one-time confirmation token, and a confirm that spends the token
// and applies the restore atomically.
type RollbackService struct {
	store      rollbackStore
	tokens     tokenStore
	audit      auditLogger
	metrics    rollbackMetrics
	logger     *zap.Logger
	confirmTTL time.Duration
}

// NewRollbackService constructs the rollback service.
func NewRollbackService(store rollbackStore, tokens tokenStore, audit auditLogger, metrics rollbackMetrics, logger *zap.Logger, confirmTTL time.Duration) *RollbackService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if confirmTTL <= 0 {
		confirmTTL = 10 * time.Minute
	}
	return &RollbackService{
		store:      store,
		tokens:     tokens,
		audit:      audit,
		metrics:    metrics,
		logger:     logger,
		confirmTTL: confirmTTL,
	}
}

func confirmTokenKey(uploadID string) string {
	return "rollback:confirm:" + uploadID
}

// Request validates that the upload can be rolled back and returns a preview
// of the actions a confirm would apply, together with a confirmation token.
func (s *RollbackService) Request(ctx context.Context, uploadID, actor string) (*models.RollbackPreview, error) {
	manifest, err := s.loadRollbackable(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	keys := manifest.CommittedRecordIDs()
	sort.Strings(keys)

	preview := &models.RollbackPreview{
		UploadID:  manifest.ID,
		ExpiresAt: time.Now().UTC().Add(s.confirmTTL),
	}
	for _, key := range keys {
		prior := manifest.PriorValues[key]
		action := models.RollbackAction{StudentKey: key, PriorValue: prior}
		if prior == nil {
			action.Action = "delete"
			preview.DeleteCount++
		} else {
			action.Action = "restore"
			preview.RestoreCount++
		}
		preview.Actions = append(preview.Actions, action)
	}

	token := uuid.NewString()
	if err := s.tokens.SetToken(ctx, confirmTokenKey(manifest.ID), token, s.confirmTTL); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue confirmation token")
	}
	preview.Token = token

	return preview, nil
}

// Confirm spends the confirmation token and applies the rollback. The token
// is single-use; a second confirm with the same token is rejected.
func (s *RollbackService) Confirm(ctx context.Context, uploadID, token, actor string) (*models.UploadManifest, error) {
	manifest, err := s.loadRollbackable(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	ok, err := s.tokens.TakeToken(ctx, confirmTokenKey(uploadID), token)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify confirmation token")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrRollbackNotPermitted, "confirmation token is invalid or expired")
	}

	if err := s.store.ApplyRollback(ctx, manifest, actor); err != nil {
		switch {
		case errors.Is(err, repository.ErrRollbackConflict):
			return nil, appErrors.Clone(appErrors.ErrRollbackNotPermitted, "records were modified by a later upload")
		case errors.Is(err, repository.ErrManifestFinalized):
			return nil, appErrors.ErrAlreadyRolledBack
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "rollback failed")
		}
	}

	if s.metrics != nil {
		s.metrics.RecordRollback()
	}
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     strPtr(actor),
		Action:     models.AuditActionUploadRollback,
		Resource:   "upload",
		ResourceID: &manifest.ID,
		NewValues:  []byte(fmt.Sprintf(`{"restored":%d}`, len(manifest.PriorValues))),
	})
	s.logger.Info("upload rolled back",
		zap.String("upload_id", manifest.ID),
		zap.String("actor", actor),
		zap.Int("records", len(manifest.PriorValues)))

	return manifest, nil
}

// loadRollbackable fetches the manifest and enforces the rollback guards:
// the upload must exist, must not already be rolled back, and must have
// actually committed something.
func (s *RollbackService) loadRollbackable(ctx context.Context, uploadID string) (*models.UploadManifest, error) {
	manifest, err := s.store.GetByID(ctx, uploadID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrManifestNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load upload")
	}
	if manifest.RolledBack {
		return nil, appErrors.ErrAlreadyRolledBack
	}
	switch manifest.Status {
	case models.UploadStatusSuccess, models.UploadStatusPartial:
		// rollbackable
	case models.UploadStatusProcessing:
		return nil, appErrors.Clone(appErrors.ErrRollbackNotPermitted, "upload is still processing")
	default:
		return nil, appErrors.Clone(appErrors.ErrRollbackNotPermitted, "upload committed no records")
	}
	return manifest, nil
}

func (s *RollbackService) emitAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil || log == nil {
		return
	}
	log.IPAddress = "system"
	log.UserAgent = "rollback-service"
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
