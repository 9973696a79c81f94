// Package store persists vault files and access grants in PostgreSQL and
// owns the access-control invariant: only the owner or a recipient with an
// active grant may ever decrypt a file.
package store

import (
	"context"

	"github.com/heirkeep/vault/internal/vault/models"
)

// Repository is the metadata-store contract used by the orchestrator.
type Repository interface {
	// Create inserts a new vault file. Duplicate file IDs are detected via
	// the store's uniqueness constraint (not a pre-check) and surface as
	// common.ErrDuplicateFile.
	Create(ctx context.Context, f *models.VaultFile) error

	// Get returns the file, or (nil, nil) when absent. Absence is not an
	// error here; callers decide whether it is.
	Get(ctx context.Context, fileID string) (*models.VaultFile, error)

	// ListByOwner returns a user's files with the given status, newest
	// first, optionally filtered by template.
	ListByOwner(ctx context.Context, ownerID, templateID string, status models.FileStatus) ([]*models.VaultFile, error)

	// ListSharedWith returns files the user holds an active grant for.
	ListSharedWith(ctx context.Context, userID string) ([]*models.VaultFile, error)

	// UpdateFormData replaces the form-data ciphertext and nonce. The DEK
	// never changes. Fails with common.ErrFileNotFound if the row is gone.
	UpdateFormData(ctx context.Context, fileID, encryptedForm, nonceForm string) error

	// Delete soft-deletes (status flip) or hard-deletes (row removal, access
	// grants cascade) the file. Fails with common.ErrFileNotFound if absent.
	Delete(ctx context.Context, fileID string, soft bool) error

	// GrantAccess inserts a grant row. The unique (file, recipient) pair
	// surfaces as common.ErrAccessAlreadyExists.
	GrantAccess(ctx context.Context, g *models.VaultFileAccess) error

	// ActivateAccess flips a pending grant to active. A missing row is
	// common.ErrAccessNotFound; a row in any other state is a caller bug and
	// fails with common.ErrDatabaseWrite rather than being swallowed.
	ActivateAccess(ctx context.Context, fileID, recipientID string) error

	// RevokeAccess flips a grant to revoked, re-stamping revoked_at if it
	// already was. A missing row is common.ErrAccessNotFound.
	RevokeAccess(ctx context.Context, fileID, recipientID string) error

	// RecordAccess bumps the access counter and timestamp on the recipient's
	// grant row. No-op when no grant row exists (owners have none).
	RecordAccess(ctx context.Context, fileID, userID string) error

	// CanDecrypt fails closed: nil only when userID is the owner or holds an
	// active grant; otherwise common.ErrUnauthorizedAccess, or
	// common.ErrFileNotFound when the file does not exist.
	CanDecrypt(ctx context.Context, fileID, userID string) error

	// AccessList returns every grant row for a file, oldest first.
	AccessList(ctx context.Context, fileID string) ([]*models.VaultFileAccess, error)
}
