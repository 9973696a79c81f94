// Package common defines the sentinel errors shared by every layer of the
// vault engine. Callers match them with errors.Is; wrapping messages carry
// contextual fields (file id, key lengths) but never key material.
package common

import "errors"

var (
	// Key-management layer. ErrKeyGeneration and ErrKeyUnwrap are generally
	// retriable service failures; ErrInvalidKey means the key material itself
	// is malformed and retrying with the same inputs cannot succeed.
	ErrKeyGeneration = errors.New("key generation failed")
	ErrKeyUnwrap     = errors.New("key unwrap failed")
	ErrInvalidKey    = errors.New("invalid key material")

	// Cipher layer. ErrAuthenticationFailed is the GCM tag mismatch signal:
	// possible tampering, never retriable with the same inputs.
	ErrEncryption           = errors.New("encryption failed")
	ErrDecryption           = errors.New("decryption failed")
	ErrAuthenticationFailed = errors.New("authentication failed")

	// Metadata and access-control layer.
	ErrFileNotFound        = errors.New("vault file not found")
	ErrDuplicateFile       = errors.New("vault file already exists")
	ErrUnauthorizedAccess  = errors.New("unauthorized access")
	ErrAccessNotFound      = errors.New("access grant not found")
	ErrAccessAlreadyExists = errors.New("access grant already exists")
	ErrDatabaseWrite       = errors.New("database write failed")
	ErrDatabaseRead        = errors.New("database read failed")

	// Blob-storage layer.
	ErrBlobUpload       = errors.New("blob upload failed")
	ErrBlobDownload     = errors.New("blob download failed")
	ErrBlobDelete       = errors.New("blob delete failed")
	ErrBlobAccessDenied = errors.New("blob access denied")

	// Payload-shape layer.
	ErrInvalidPayload = errors.New("invalid payload")
	ErrValidation     = errors.New("validation error")
)
