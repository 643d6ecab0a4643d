package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/edurisk-api/internal/models"
	"github.com/noah-isme/edurisk-api/internal/repository"
	appErrors "github.com/noah-isme/edurisk-api/pkg/errors"
)

type mockRollbackStore struct {
	manifests map[string]*models.UploadManifest
	applyErr  error
	applied   []string
}

func newMockRollbackStore() *mockRollbackStore {
	return &mockRollbackStore{manifests: map[string]*models.UploadManifest{}}
}

func (m *mockRollbackStore) GetByID(ctx context.Context, id string) (*models.UploadManifest, error) {
	manifest, ok := m.manifests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *manifest
	return &copied, nil
}

func (m *mockRollbackStore) ApplyRollback(ctx context.Context, manifest *models.UploadManifest, actor string) error {
	if m.applyErr != nil {
		return m.applyErr
	}
	stored := m.manifests[manifest.ID]
	if stored.RolledBack {
		return repository.ErrManifestFinalized
	}
	now := time.Now().UTC()
	stored.RolledBack = true
	stored.RolledBackAt = &now
	stored.RolledBackBy = &actor
	manifest.RolledBack = true
	manifest.RolledBackAt = &now
	manifest.RolledBackBy = &actor
	m.applied = append(m.applied, manifest.ID)
	return nil
}

type mockTokens struct {
	values map[string]string
}

func newMockTokens() *mockTokens {
	return &mockTokens{values: map[string]string{}}
}

func (m *mockTokens) SetToken(ctx context.Context, key, token string, ttl time.Duration) error {
	m.values[key] = token
	return nil
}

func (m *mockTokens) TakeToken(ctx context.Context, key, token string) (bool, error) {
	if stored, ok := m.values[key]; ok && stored == token {
		delete(m.values, key)
		return true, nil
	}
	return false, nil
}

func committedManifest(id string) *models.UploadManifest {
	return &models.UploadManifest{
		ID:          id,
		FileName:    "roster.csv",
		Status:      models.UploadStatusSuccess,
		SuccessRows: 2,
		PriorValues: map[string]*models.Student{
			"S1": nil,
			"S2": {ID: "u-2", StudentID: "S2", FullName: "Before"},
		},
	}
}

func newTestRollbackService(store *mockRollbackStore, tokens *mockTokens) *RollbackService {
	return NewRollbackService(store, tokens, &mockAudit{}, nil, zap.NewNop(), time.Minute)
}

func TestRollbackRequestPreview(t *testing.T) {
	store := newMockRollbackStore()
	store.manifests["up-1"] = committedManifest("up-1")
	tokens := newMockTokens()
	svc := newTestRollbackService(store, tokens)

	preview, err := svc.Request(context.Background(), "up-1", "admin-1")
	require.NoError(t, err)

	assert.Equal(t, "up-1", preview.UploadID)
	assert.NotEmpty(t, preview.Token)
	assert.Equal(t, 1, preview.RestoreCount)
	assert.Equal(t, 1, preview.DeleteCount)
	require.Len(t, preview.Actions, 2)
	assert.Equal(t, "delete", preview.Actions[0].Action)
	assert.Equal(t, "S1", preview.Actions[0].StudentKey)
	assert.Equal(t, "restore", preview.Actions[1].Action)

	// The preview itself must not change anything.
	assert.Empty(t, store.applied)
}

func TestRollbackConfirmAppliesOnce(t *testing.T) {
	store := newMockRollbackStore()
	store.manifests["up-1"] = committedManifest("up-1")
	tokens := newMockTokens()
	svc := newTestRollbackService(store, tokens)

	preview, err := svc.Request(context.Background(), "up-1", "admin-1")
	require.NoError(t, err)

	manifest, err := svc.Confirm(context.Background(), "up-1", preview.Token, "admin-1")
	require.NoError(t, err)
	assert.True(t, manifest.RolledBack)
	assert.Equal(t, []string{"up-1"}, store.applied)

	// Second confirm with the same token hits the already-rolled-back guard.
	_, err = svc.Confirm(context.Background(), "up-1", preview.Token, "admin-1")
	assert.ErrorIs(t, err, appErrors.ErrAlreadyRolledBack)
	assert.Len(t, store.applied, 1)
}

func TestRollbackConfirmRejectsBadToken(t *testing.T) {
	store := newMockRollbackStore()
	store.manifests["up-1"] = committedManifest("up-1")
	svc := newTestRollbackService(store, newMockTokens())

	_, err := svc.Confirm(context.Background(), "up-1", "guessed-token", "admin-1")
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrRollbackNotPermitted.Code, appErr.Code)
	assert.Empty(t, store.applied)
}

func TestRollbackManifestNotFound(t *testing.T) {
	svc := newTestRollbackService(newMockRollbackStore(), newMockTokens())

	_, err := svc.Request(context.Background(), "missing", "admin-1")
	assert.ErrorIs(t, err, appErrors.ErrManifestNotFound)
}

func TestRollbackAlreadyRolledBack(t *testing.T) {
	store := newMockRollbackStore()
	manifest := committedManifest("up-1")
	manifest.RolledBack = true
	store.manifests["up-1"] = manifest
	svc := newTestRollbackService(store, newMockTokens())

	_, err := svc.Request(context.Background(), "up-1", "admin-1")
	assert.ErrorIs(t, err, appErrors.ErrAlreadyRolledBack)
}

func TestRollbackNotPermittedForFailedUpload(t *testing.T) {
	store := newMockRollbackStore()
	manifest := committedManifest("up-1")
	manifest.Status = models.UploadStatusFailed
	store.manifests["up-1"] = manifest
	svc := newTestRollbackService(store, newMockTokens())

	_, err := svc.Request(context.Background(), "up-1", "admin-1")
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrRollbackNotPermitted.Code, appErr.Code)
}

func TestRollbackNotPermittedWhileProcessing(t *testing.T) {
	store := newMockRollbackStore()
	manifest := committedManifest("up-1")
	manifest.Status = models.UploadStatusProcessing
	store.manifests["up-1"] = manifest
	svc := newTestRollbackService(store, newMockTokens())

	_, err := svc.Request(context.Background(), "up-1", "admin-1")
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrRollbackNotPermitted.Code, appErr.Code)
}

func TestRollbackConflictSurfacesAsNotPermitted(t *testing.T) {
	store := newMockRollbackStore()
	store.manifests["up-1"] = committedManifest("up-1")
	store.applyErr = repository.ErrRollbackConflict
	tokens := newMockTokens()
	svc := newTestRollbackService(store, tokens)

	preview, err := svc.Request(context.Background(), "up-1", "admin-1")
	require.NoError(t, err)

	_, err = svc.Confirm(context.Background(), "up-1", preview.Token, "admin-1")
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrRollbackNotPermitted.Code, appErr.Code)
}
