// Package service implements the vault orchestrator: the encrypt and decrypt
// protocols that sequence the crypto engine, the blob store, and the metadata
// store, plus the sharing operations built on the access-grant model.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/heirkeep/vault/internal/common"
	"github.com/heirkeep/vault/internal/logging"
	"github.com/heirkeep/vault/internal/vault/crypto"
	"github.com/heirkeep/vault/internal/vault/models"
	"github.com/heirkeep/vault/internal/vault/store"
)

// BlobStore is the object-storage contract the orchestrator needs. It only
// ever carries ciphertext.
type BlobStore interface {
	Upload(ctx context.Context, data []byte, fileID, ownerID, kind string) (string, error)
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error)
}

const sourceFileKind = "source"

// Service sequences encryption, storage and access control. All operations
// are synchronous request/response calls with no background work.
type Service struct {
	engine     *crypto.Engine
	blobs      BlobStore
	repo       store.Repository
	log        logging.Logger
	presignTTL time.Duration

	now func() time.Time
}

func New(engine *crypto.Engine, blobs BlobStore, repo store.Repository, log logging.Logger, presignTTL time.Duration) *Service {
	return &Service{
		engine:     engine,
		blobs:      blobs,
		repo:       repo,
		log:        log,
		presignTTL: presignTTL,
		now:        time.Now,
	}
}

// EncryptRequest carries the inputs of the encrypt path.
type EncryptRequest struct {
	FormData           map[string]any
	SourceFile         []byte
	SourceFileName     string
	SourceFileMimeType string
	OwnerID            string
	TemplateID         string
	CreationMode       models.CreationMode
}

// EncryptResult is the full artifact set of one encrypted vault file. The
// caller is responsible for persisting it via the metadata store; keeping the
// crypto step decoupled from the store write simplifies partial-failure
// reasoning.
type EncryptResult struct {
	FileID            string
	EncryptedDEK      string // base64, KMS-wrapped
	EncryptedFormData string // base64 ciphertext incl. tag
	NonceFormData     string // base64

	HasSourceFile       bool
	SourceFileS3Key     string
	SourceFileNonce     string // base64
	SourceFileName      string
	SourceFileMimeType  string
	SourceFileSizeBytes int64
}

// VaultFile converts the artifact set into the record the metadata store
// persists.
func (r *EncryptResult) VaultFile(ownerID, templateID string, mode models.CreationMode) *models.VaultFile {
	return &models.VaultFile{
		FileID:                 r.FileID,
		OwnerUserID:            ownerID,
		TemplateID:             templateID,
		CreationMode:           mode,
		EncryptedDEK:           r.EncryptedDEK,
		EncryptedFormData:      r.EncryptedFormData,
		NonceFormData:          r.NonceFormData,
		HasSourceFile:          r.HasSourceFile,
		SourceFileS3Key:        r.SourceFileS3Key,
		SourceFileNonce:        r.SourceFileNonce,
		SourceFileOriginalName: r.SourceFileName,
		SourceFileMimeType:     r.SourceFileMimeType,
		SourceFileSizeBytes:    r.SourceFileSizeBytes,
		Status:                 models.FileStatusActive,
	}
}

// EncryptVaultFile runs the encrypt path: one fresh DEK for the whole file,
// form data always encrypted, the optional source file encrypted under the
// same DEK with its own nonce and uploaded to the blob store. The plaintext
// DEK is wiped before returning.
func (s *Service) EncryptVaultFile(ctx context.Context, req *EncryptRequest) (*EncryptResult, error) {
	if err := validateEncryptRequest(req); err != nil {
		return nil, err
	}

	formBytes, err := json.Marshal(req.FormData)
	if err != nil {
		return nil, fmt.Errorf("%w: form data is not serializable: %v", common.ErrInvalidPayload, err)
	}

	fileID := s.newFileID(req.OwnerID)
	log := s.log.With("file_id", fileID, "owner", req.OwnerID)
	log.Info(ctx, "starting vault file encryption")

	plainDEK, wrappedDEK, err := s.engine.GenerateDataKey(ctx)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(plainDEK)

	formNonce, err := s.engine.GenerateNonce()
	if err != nil {
		return nil, err
	}
	encryptedForm, err := s.engine.Encrypt(formBytes, plainDEK, formNonce)
	if err != nil {
		return nil, err
	}

	result := &EncryptResult{
		FileID:            fileID,
		EncryptedDEK:      base64.StdEncoding.EncodeToString(wrappedDEK),
		EncryptedFormData: base64.StdEncoding.EncodeToString(encryptedForm),
		NonceFormData:     base64.StdEncoding.EncodeToString(formNonce),
	}

	if req.SourceFile != nil {
		// Independent nonce, same DEK.
		fileNonce, err := s.engine.GenerateNonce()
		if err != nil {
			return nil, err
		}
		encryptedFile, err := s.engine.Encrypt(req.SourceFile, plainDEK, fileNonce)
		if err != nil {
			return nil, err
		}

		s3Key, err := s.blobs.Upload(ctx, encryptedFile, fileID, req.OwnerID, sourceFileKind)
		if err != nil {
			return nil, err
		}

		result.HasSourceFile = true
		result.SourceFileS3Key = s3Key
		result.SourceFileNonce = base64.StdEncoding.EncodeToString(fileNonce)
		result.SourceFileName = req.SourceFileName
		result.SourceFileMimeType = req.SourceFileMimeType
		result.SourceFileSizeBytes = int64(len(req.SourceFile))
		log.Info(ctx, "encrypted and uploaded source file", "s3_key", s3Key)
	}

	log.Info(ctx, "vault file encryption complete")
	return result, nil
}

func validateEncryptRequest(req *EncryptRequest) error {
	if len(req.FormData) == 0 {
		return fmt.Errorf("%w: form data must be non-empty", common.ErrValidation)
	}
	if req.OwnerID == "" {
		return fmt.Errorf("%w: owner id must be non-empty", common.ErrValidation)
	}
	if !req.CreationMode.Valid() {
		return fmt.Errorf("%w: invalid creation mode %q", common.ErrValidation, req.CreationMode)
	}
	if req.SourceFile != nil {
		if len(req.SourceFile) == 0 {
			return fmt.Errorf("%w: cannot encrypt zero-byte source file %q", common.ErrValidation, req.SourceFileName)
		}
		if req.SourceFileMimeType == "" {
			return fmt.Errorf("%w: mime type required when a source file is provided", common.ErrValidation)
		}
	}
	return nil
}

// newFileID derives a deterministic identifier from the owner and the current
// time. Collisions in the truncated hash space are accepted as negligible;
// the store's primary-key constraint remains the real uniqueness guard.
func (s *Service) newFileID(ownerID string) string {
	sum := sha256.Sum256([]byte(ownerID + "_" + s.now().UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])[:16]
}

// DecryptResult is the plaintext output of the decrypt path.
type DecryptResult struct {
	FormData           map[string]any
	HasSourceFile      bool
	SourceFileData     []byte
	SourceFileName     string
	SourceFileMimeType string
}

// DecryptVaultFile runs the decrypt path. The access check fails closed
// before any key unwrap or blob download happens. Access recording for
// non-owners is fire-and-log: once the plaintext has been produced correctly,
// a bookkeeping failure must not fail the call.
func (s *Service) DecryptVaultFile(ctx context.Context, fileID, userID string, wantSourceFile bool) (*DecryptResult, error) {
	file, plainDEK, err := s.authorizeAndUnwrap(ctx, fileID, userID)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(plainDEK)

	encryptedForm, formNonce, err := decodeCiphertext(file.EncryptedFormData, file.NonceFormData, fileID)
	if err != nil {
		return nil, err
	}

	formBytes, err := s.engine.Decrypt(encryptedForm, plainDEK, formNonce)
	if err != nil {
		return nil, err
	}

	var formData map[string]any
	if err := json.Unmarshal(formBytes, &formData); err != nil {
		return nil, fmt.Errorf("%w: decrypted form data is not valid JSON: %v", common.ErrInvalidPayload, err)
	}

	result := &DecryptResult{
		FormData:           formData,
		HasSourceFile:      file.HasSourceFile,
		SourceFileName:     file.SourceFileOriginalName,
		SourceFileMimeType: file.SourceFileMimeType,
	}

	if wantSourceFile && file.HasSourceFile {
		encryptedFile, err := s.blobs.Download(ctx, file.SourceFileS3Key)
		if err != nil {
			return nil, err
		}
		fileNonce, err := base64.StdEncoding.DecodeString(file.SourceFileNonce)
		if err != nil {
			return nil, fmt.Errorf("%w: file %s: bad source file nonce encoding", common.ErrDecryption, fileID)
		}
		result.SourceFileData, err = s.engine.Decrypt(encryptedFile, plainDEK, fileNonce)
		if err != nil {
			return nil, err
		}
	}

	s.recordAccessIfRecipient(ctx, file, userID)

	s.log.Info(ctx, "vault file decryption complete", "file_id", fileID, "user", userID)
	return result, nil
}

// DecryptionMetadata hands a client everything it needs to decrypt locally:
// the plaintext DEK plus the stored ciphertext/nonce, and a presigned URL to
// the encrypted source blob when one exists. The URL and the key are meant to
// travel and expire together.
type DecryptionMetadata struct {
	EncryptionKey     string // base64 plaintext DEK
	EncryptedFormData string // base64, as stored
	NonceFormData     string // base64, as stored

	HasSourceFile      bool
	SourceFileURL      string
	SourceFileNonce    string
	SourceFileName     string
	SourceFileMimeType string
}

// GetDecryptionMetadata performs the same access check and DEK unwrap as the
// decrypt path but leaves bulk decryption to the caller.
func (s *Service) GetDecryptionMetadata(ctx context.Context, fileID, userID string) (*DecryptionMetadata, error) {
	file, plainDEK, err := s.authorizeAndUnwrap(ctx, fileID, userID)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(plainDEK)

	meta := &DecryptionMetadata{
		EncryptionKey:      base64.StdEncoding.EncodeToString(plainDEK),
		EncryptedFormData:  file.EncryptedFormData,
		NonceFormData:      file.NonceFormData,
		HasSourceFile:      file.HasSourceFile,
		SourceFileNonce:    file.SourceFileNonce,
		SourceFileName:     file.SourceFileOriginalName,
		SourceFileMimeType: file.SourceFileMimeType,
	}

	if file.HasSourceFile {
		url, err := s.blobs.PresignDownload(ctx, file.SourceFileS3Key, s.presignTTL)
		if err != nil {
			// The caller can still decrypt the form data; the URL is the
			// only casualty.
			s.log.Warn(ctx, "failed to presign source file download", "file_id", fileID, "error", err)
		} else {
			meta.SourceFileURL = url
		}
	}

	s.recordAccessIfRecipient(ctx, file, userID)

	return meta, nil
}

// UpdateFormData re-encrypts edited form data under the file's original DEK
// with a fresh nonce. Only the owner may edit.
func (s *Service) UpdateFormData(ctx context.Context, fileID, userID string, formData map[string]any) error {
	if len(formData) == 0 {
		return fmt.Errorf("%w: form data must be non-empty", common.ErrValidation)
	}

	file, err := s.getFile(ctx, fileID)
	if err != nil {
		return err
	}
	if file.OwnerUserID != userID {
		return fmt.Errorf("%w: user %s is not the owner of file %s", common.ErrUnauthorizedAccess, userID, fileID)
	}

	formBytes, err := json.Marshal(formData)
	if err != nil {
		return fmt.Errorf("%w: form data is not serializable: %v", common.ErrInvalidPayload, err)
	}

	wrappedDEK, err := base64.StdEncoding.DecodeString(file.EncryptedDEK)
	if err != nil {
		return fmt.Errorf("%w: file %s: bad wrapped DEK encoding", common.ErrDecryption, fileID)
	}
	plainDEK, err := s.engine.UnwrapDataKey(ctx, wrappedDEK)
	if err != nil {
		return err
	}
	defer crypto.Wipe(plainDEK)

	nonce, err := s.engine.GenerateNonce()
	if err != nil {
		return err
	}
	encrypted, err := s.engine.Encrypt(formBytes, plainDEK, nonce)
	if err != nil {
		return err
	}

	return s.repo.UpdateFormData(ctx, fileID,
		base64.StdEncoding.EncodeToString(encrypted),
		base64.StdEncoding.EncodeToString(nonce))
}

// DeleteVaultFile removes a file. Soft delete flips the status; hard delete
// removes the row (grants cascade) after a best-effort blob cleanup. A blob
// deletion failure is logged, never propagated: the metadata row is the
// authoritative existence signal.
func (s *Service) DeleteVaultFile(ctx context.Context, fileID, userID string, soft bool) error {
	file, err := s.getFile(ctx, fileID)
	if err != nil {
		return err
	}
	if file.OwnerUserID != userID {
		return fmt.Errorf("%w: user %s is not the owner of file %s", common.ErrUnauthorizedAccess, userID, fileID)
	}

	if !soft && file.HasSourceFile && file.SourceFileS3Key != "" {
		if err := s.blobs.Delete(ctx, file.SourceFileS3Key); err != nil {
			s.log.Warn(ctx, "failed to delete source file blob", "file_id", fileID, "s3_key", file.SourceFileS3Key, "error", err)
		}
	}

	return s.repo.Delete(ctx, fileID, soft)
}

// GrantAccess creates a grant row for a non-owner recipient, pending by
// default.
func (s *Service) GrantAccess(ctx context.Context, fileID, recipientID, grantedByID string, status models.AccessStatus) (*models.VaultFileAccess, error) {
	if status == "" {
		status = models.AccessStatusPending
	}

	grant := &models.VaultFileAccess{
		ID:              uuid.NewString(),
		FileID:          fileID,
		RecipientUserID: recipientID,
		GrantedByUserID: grantedByID,
		Status:          status,
	}
	if err := s.repo.GrantAccess(ctx, grant); err != nil {
		return nil, err
	}

	s.log.Info(ctx, "granted vault file access", "file_id", fileID, "recipient", recipientID, "status", string(status))
	return grant, nil
}

// ListFiles returns the owner's files with the given status, newest first,
// optionally narrowed to one template.
func (s *Service) ListFiles(ctx context.Context, ownerID, templateID string, status models.FileStatus) ([]*models.VaultFile, error) {
	if status == "" {
		status = models.FileStatusActive
	}
	return s.repo.ListByOwner(ctx, ownerID, templateID, status)
}

// ListSharedFiles returns the files the user can decrypt through an active
// grant.
func (s *Service) ListSharedFiles(ctx context.Context, userID string) ([]*models.VaultFile, error) {
	return s.repo.ListSharedWith(ctx, userID)
}

// AccessList returns every grant for a file, oldest first.
func (s *Service) AccessList(ctx context.Context, fileID string) ([]*models.VaultFileAccess, error) {
	return s.repo.AccessList(ctx, fileID)
}

// ActivateAccess flips a pending grant to active (recipient acceptance).
func (s *Service) ActivateAccess(ctx context.Context, fileID, recipientID string) error {
	return s.repo.ActivateAccess(ctx, fileID, recipientID)
}

// RevokeAccess revokes a grant. The pair stays occupied until the row is
// deleted, so a revoked recipient cannot silently be re-granted.
func (s *Service) RevokeAccess(ctx context.Context, fileID, recipientID string) error {
	return s.repo.RevokeAccess(ctx, fileID, recipientID)
}

// authorizeAndUnwrap is the shared head of both decrypt paths: fail-closed
// access check, then row load, then DEK unwrap. No cryptographic or storage
// work happens for an unauthorized caller.
func (s *Service) authorizeAndUnwrap(ctx context.Context, fileID, userID string) (*models.VaultFile, []byte, error) {
	if err := s.repo.CanDecrypt(ctx, fileID, userID); err != nil {
		s.log.Warn(ctx, "vault access denied", "file_id", fileID, "user", userID, "error", err)
		return nil, nil, err
	}

	file, err := s.getFile(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}

	wrappedDEK, err := base64.StdEncoding.DecodeString(file.EncryptedDEK)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: file %s: bad wrapped DEK encoding", common.ErrDecryption, fileID)
	}

	plainDEK, err := s.engine.UnwrapDataKey(ctx, wrappedDEK)
	if err != nil {
		return nil, nil, err
	}
	return file, plainDEK, nil
}

func (s *Service) getFile(ctx context.Context, fileID string) (*models.VaultFile, error) {
	file, err := s.repo.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, fmt.Errorf("%w: file %s", common.ErrFileNotFound, fileID)
	}
	return file, nil
}

func (s *Service) recordAccessIfRecipient(ctx context.Context, file *models.VaultFile, userID string) {
	if userID == file.OwnerUserID {
		return
	}
	if err := s.repo.RecordAccess(ctx, file.FileID, userID); err != nil {
		s.log.Warn(ctx, "failed to record vault access", "file_id", file.FileID, "user", userID, "error", err)
	}
}

func decodeCiphertext(ciphertextB64, nonceB64, fileID string) ([]byte, []byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: file %s: bad ciphertext encoding", common.ErrDecryption, fileID)
	}
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: file %s: bad nonce encoding", common.ErrDecryption, fileID)
	}
	return ciphertext, nonce, nil
}
