// Package crypto implements the vault's crypto engine: per-object
// data-encryption keys wrapped by the key-management service, nonce
// generation, and authenticated AES-256-GCM encrypt/decrypt.
//
// Every cryptographic precondition is validated here, not in callers, so a
// short key or a wrong-length nonce can never surface as an unrelated error
// deep in a transport layer.
package crypto

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/heirkeep/vault/internal/common"
	"github.com/heirkeep/vault/internal/cryptox"
	"github.com/heirkeep/vault/internal/kms"
)

// Engine composes the symmetric cipher with an injected key-management
// client. It is stateless and safe for concurrent use.
type Engine struct {
	kms kms.Client
}

func NewEngine(kmsClient kms.Client) *Engine {
	return &Engine{kms: kmsClient}
}

// GenerateDataKey asks the key-management service for a fresh 256-bit DEK and
// returns both the plaintext and the wrapped form.
func (e *Engine) GenerateDataKey(ctx context.Context) (plaintext, wrapped []byte, err error) {
	return e.kms.GenerateDataKey(ctx)
}

// UnwrapDataKey recovers a plaintext DEK from its wrapped form.
func (e *Engine) UnwrapDataKey(ctx context.Context, wrapped []byte) ([]byte, error) {
	return e.kms.Unwrap(ctx, wrapped)
}

// GenerateNonce returns 12 cryptographically random bytes.
func (e *Engine) GenerateNonce() ([]byte, error) {
	nonce := make([]byte, cryptox.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: randomness source: %v", common.ErrEncryption, err)
	}
	return nonce, nil
}

// Encrypt seals data under key and nonce. The returned ciphertext includes
// the 16-byte authentication tag.
func (e *Engine) Encrypt(data, key, nonce []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: data to encrypt is empty", common.ErrEncryption)
	}
	if err := checkKeyNonce(key, nonce, common.ErrEncryption); err != nil {
		return nil, err
	}

	ciphertext, err := cryptox.Seal(key, nonce, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}
	return ciphertext, nil
}

// Decrypt opens a ciphertext produced by Encrypt. A tag mismatch surfaces as
// common.ErrAuthenticationFailed: the one signal distinguishing tampered data
// or a wrong key from a transient fault. Callers must not retry it.
func (e *Engine) Decrypt(ciphertext, key, nonce []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("%w: ciphertext is empty", common.ErrDecryption)
	}
	if err := checkKeyNonce(key, nonce, common.ErrDecryption); err != nil {
		return nil, err
	}

	plaintext, err := cryptox.Open(key, nonce, ciphertext)
	if err != nil {
		// With a valid key and nonce length the cipher fails only on
		// authentication-tag mismatch.
		return nil, fmt.Errorf("%w: ciphertext of %d bytes", common.ErrAuthenticationFailed, len(ciphertext))
	}
	return plaintext, nil
}

// checkKeyNonce enforces the key and nonce length preconditions. A bad key
// length is an ErrInvalidKey; a bad nonce length carries the caller's
// cipher-layer sentinel (encryption or decryption).
func checkKeyNonce(key, nonce []byte, nonceErr error) error {
	if len(key) != cryptox.KeySize {
		return fmt.Errorf("%w: key must be %d bytes, got %d", common.ErrInvalidKey, cryptox.KeySize, len(key))
	}
	if len(nonce) != cryptox.NonceSize {
		return fmt.Errorf("%w: nonce must be %d bytes, got %d", nonceErr, cryptox.NonceSize, len(nonce))
	}
	return nil
}

// Wipe overwrites key material in place. Called as soon as a DEK's last use
// completes.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
