// Package kms abstracts the two key-management operations the vault engine
// depends on: generating a fresh 256-bit data-encryption key (returned in
// both plaintext and wrapped form) and unwrapping a previously wrapped key.
//
// Two implementations are provided: AWSClient talks to AWS KMS, and Local
// wraps keys with an in-process AEAD wrapper for development and tests.
// Callers never see the master key either way.
package kms

import "context"

// Client is the trusted key-management oracle.
type Client interface {
	// GenerateDataKey returns a fresh 256-bit key as (plaintext, wrapped).
	// Fails with common.ErrKeyGeneration on any service error.
	GenerateDataKey(ctx context.Context) (plaintext, wrapped []byte, err error)

	// Unwrap recovers the plaintext key from its wrapped form. Fails with
	// common.ErrInvalidKey when the wrapped blob is empty or malformed and
	// common.ErrKeyUnwrap for any other service failure.
	Unwrap(ctx context.Context, wrapped []byte) ([]byte, error)
}
