package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/heirkeep/vault/internal/common"
	"github.com/heirkeep/vault/internal/cryptox"
	"github.com/heirkeep/vault/internal/vault/models"
)

// fakeKMSClient wraps DEKs by prefixing them; good enough to exercise the
// orchestrator with a real cipher underneath.
type fakeKMSClient struct {
	genCalls    int
	unwrapCalls int
	genErr      error
	unwrapErr   error
}

const wrapPrefix = "wrapped:"

func (f *fakeKMSClient) GenerateDataKey(ctx context.Context) ([]byte, []byte, error) {
	f.genCalls++
	if f.genErr != nil {
		return nil, nil, f.genErr
	}
	key := make([]byte, cryptox.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, nil, err
	}
	return key, append([]byte(wrapPrefix), key...), nil
}

func (f *fakeKMSClient) Unwrap(ctx context.Context, wrapped []byte) ([]byte, error) {
	f.unwrapCalls++
	if f.unwrapErr != nil {
		return nil, f.unwrapErr
	}
	if len(wrapped) != len(wrapPrefix)+cryptox.KeySize || string(wrapped[:len(wrapPrefix)]) != wrapPrefix {
		return nil, fmt.Errorf("%w: not a wrapped key", common.ErrInvalidKey)
	}
	key := make([]byte, cryptox.KeySize)
	copy(key, wrapped[len(wrapPrefix):])
	return key, nil
}

// fakeBlobStore keeps blobs in memory and counts calls so tests can assert
// which paths touched storage.
type fakeBlobStore struct {
	objects map[string][]byte

	uploads    int
	downloads  int
	deletes    int
	presigns   int
	presignErr error
	deleteErr  error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: map[string][]byte{}}
}

func (f *fakeBlobStore) Upload(ctx context.Context, data []byte, fileID, ownerID, kind string) (string, error) {
	f.uploads++
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty blob", common.ErrBlobUpload)
	}
	key := fmt.Sprintf("vault_files/%s/%s/%s.bin", ownerID, fileID, kind)
	f.objects[key] = append([]byte(nil), data...)
	return key, nil
}

func (f *fakeBlobStore) Download(ctx context.Context, key string) ([]byte, error) {
	f.downloads++
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: blob %s", common.ErrFileNotFound, key)
	}
	return append([]byte(nil), data...), nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, key string) error {
	f.deletes++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.objects, key)
	return nil
}

func (f *fakeBlobStore) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	f.presigns++
	if f.presignErr != nil {
		return "", f.presignErr
	}
	return fmt.Sprintf("https://s3.test/%s?ttl=%d", key, int(ttl.Seconds())), nil
}

// fakeRepository is an in-memory store.Repository with the same observable
// contract as the Postgres implementation.
type fakeRepository struct {
	files  map[string]*models.VaultFile
	grants map[string]*models.VaultFileAccess

	recordCalls int
	recordErr   error
	canErr      error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		files:  map[string]*models.VaultFile{},
		grants: map[string]*models.VaultFileAccess{},
	}
}

func grantKey(fileID, recipientID string) string {
	return fileID + "|" + recipientID
}

func (f *fakeRepository) Create(ctx context.Context, file *models.VaultFile) error {
	if _, ok := f.files[file.FileID]; ok {
		return fmt.Errorf("%w: file %s", common.ErrDuplicateFile, file.FileID)
	}
	cp := *file
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	f.files[file.FileID] = &cp
	return nil
}

func (f *fakeRepository) Get(ctx context.Context, fileID string) (*models.VaultFile, error) {
	file, ok := f.files[fileID]
	if !ok {
		return nil, nil
	}
	cp := *file
	return &cp, nil
}

func (f *fakeRepository) ListByOwner(ctx context.Context, ownerID, templateID string, status models.FileStatus) ([]*models.VaultFile, error) {
	var out []*models.VaultFile
	for _, file := range f.files {
		if file.OwnerUserID != ownerID || file.Status != status {
			continue
		}
		if templateID != "" && file.TemplateID != templateID {
			continue
		}
		cp := *file
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeRepository) ListSharedWith(ctx context.Context, userID string) ([]*models.VaultFile, error) {
	var out []*models.VaultFile
	for _, g := range f.grants {
		if g.RecipientUserID != userID || g.Status != models.AccessStatusActive {
			continue
		}
		if file, ok := f.files[g.FileID]; ok {
			cp := *file
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRepository) UpdateFormData(ctx context.Context, fileID, encryptedForm, nonceForm string) error {
	file, ok := f.files[fileID]
	if !ok {
		return fmt.Errorf("%w: file %s", common.ErrFileNotFound, fileID)
	}
	file.EncryptedFormData = encryptedForm
	file.NonceFormData = nonceForm
	file.UpdatedAt = time.Now()
	return nil
}

func (f *fakeRepository) Delete(ctx context.Context, fileID string, soft bool) error {
	file, ok := f.files[fileID]
	if !ok {
		return fmt.Errorf("%w: file %s", common.ErrFileNotFound, fileID)
	}
	if soft {
		file.Status = models.FileStatusDeleted
		return nil
	}
	delete(f.files, fileID)
	for k, g := range f.grants {
		if g.FileID == fileID {
			delete(f.grants, k)
		}
	}
	return nil
}

func (f *fakeRepository) GrantAccess(ctx context.Context, g *models.VaultFileAccess) error {
	if _, ok := f.files[g.FileID]; !ok {
		return fmt.Errorf("%w: file %s", common.ErrFileNotFound, g.FileID)
	}
	key := grantKey(g.FileID, g.RecipientUserID)
	if _, ok := f.grants[key]; ok {
		return fmt.Errorf("%w: file %s, recipient %s", common.ErrAccessAlreadyExists, g.FileID, g.RecipientUserID)
	}
	cp := *g
	cp.GrantedAt = time.Now()
	f.grants[key] = &cp
	return nil
}

func (f *fakeRepository) ActivateAccess(ctx context.Context, fileID, recipientID string) error {
	g, ok := f.grants[grantKey(fileID, recipientID)]
	if !ok {
		return fmt.Errorf("%w: file %s, recipient %s", common.ErrAccessNotFound, fileID, recipientID)
	}
	if g.Status != models.AccessStatusPending {
		return fmt.Errorf("%w: cannot activate access with status %q", common.ErrDatabaseWrite, g.Status)
	}
	now := time.Now()
	g.Status = models.AccessStatusActive
	g.ActivatedAt = &now
	return nil
}

func (f *fakeRepository) RevokeAccess(ctx context.Context, fileID, recipientID string) error {
	g, ok := f.grants[grantKey(fileID, recipientID)]
	if !ok {
		return fmt.Errorf("%w: file %s, recipient %s", common.ErrAccessNotFound, fileID, recipientID)
	}
	now := time.Now()
	g.Status = models.AccessStatusRevoked
	g.RevokedAt = &now
	return nil
}

func (f *fakeRepository) RecordAccess(ctx context.Context, fileID, userID string) error {
	f.recordCalls++
	if f.recordErr != nil {
		return f.recordErr
	}
	if g, ok := f.grants[grantKey(fileID, userID)]; ok {
		now := time.Now()
		g.LastAccessedAt = &now
		g.AccessCount++
	}
	return nil
}

func (f *fakeRepository) CanDecrypt(ctx context.Context, fileID, userID string) error {
	if f.canErr != nil {
		return f.canErr
	}
	file, ok := f.files[fileID]
	if !ok {
		return fmt.Errorf("%w: file %s", common.ErrFileNotFound, fileID)
	}
	if file.OwnerUserID == userID {
		return nil
	}
	if g, ok := f.grants[grantKey(fileID, userID)]; ok && g.Status == models.AccessStatusActive {
		return nil
	}
	return fmt.Errorf("%w: user %s, file %s", common.ErrUnauthorizedAccess, userID, fileID)
}

func (f *fakeRepository) AccessList(ctx context.Context, fileID string) ([]*models.VaultFileAccess, error) {
	var out []*models.VaultFileAccess
	for _, g := range f.grants {
		if g.FileID == fileID {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}
