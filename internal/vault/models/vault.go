// Package models defines the persisted vault records: encrypted files with
// KMS-wrapped data-encryption keys, and the access grants that control who
// besides the owner may ever decrypt them.
package models

import "time"

// CreationMode describes how a vault file came to exist.
type CreationMode string

const (
	CreationModeManual CreationMode = "manual"
	CreationModeImport CreationMode = "import"
)

// Valid reports whether m is one of the two accepted modes.
func (m CreationMode) Valid() bool {
	return m == CreationModeManual || m == CreationModeImport
}

// FileStatus is the lifecycle flag of a vault file. Deletion is soft by
// default: the row stays, status flips to deleted.
type FileStatus string

const (
	FileStatusActive   FileStatus = "active"
	FileStatusArchived FileStatus = "archived"
	FileStatusDeleted  FileStatus = "deleted"
)

// AccessStatus is the state of a grant. Only active grants allow decryption;
// pending exists for invitation flows that need recipient acceptance.
type AccessStatus string

const (
	AccessStatusPending AccessStatus = "pending"
	AccessStatusActive  AccessStatus = "active"
	AccessStatusRevoked AccessStatus = "revoked"
)

// VaultFile is one encrypted logical document. The DEK, once wrapped and
// persisted, is never re-derived or rotated: form-data edits replace only
// ciphertext and nonce.
type VaultFile struct {
	// FileID is content-derived (truncated hash of owner + creation time)
	// and immutable.
	FileID      string
	OwnerUserID string
	TemplateID  string

	CreationMode CreationMode

	// EncryptedDEK is the KMS-wrapped data-encryption key, base64-encoded.
	EncryptedDEK string
	// EncryptedFormData and NonceFormData hold the mandatory structured
	// payload: base64 AES-GCM ciphertext (tag included) and base64 nonce.
	EncryptedFormData string
	NonceFormData     string

	// Source-file fields are present only together, when HasSourceFile is set.
	HasSourceFile          bool
	SourceFileS3Key        string
	SourceFileNonce        string
	SourceFileOriginalName string
	SourceFileMimeType     string
	SourceFileSizeBytes    int64

	Status FileStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// VaultFileAccess is one grant of read access to a non-owner. The owner is
// never represented as a row here: ownership is implicit and unconditional.
// A (file, recipient) pair is unique; a revoked grant is never resurrected.
type VaultFileAccess struct {
	ID              string
	FileID          string
	RecipientUserID string
	GrantedByUserID string

	Status AccessStatus

	GrantedAt      time.Time
	ActivatedAt    *time.Time
	RevokedAt      *time.Time
	LastAccessedAt *time.Time
	AccessCount    int64
}
