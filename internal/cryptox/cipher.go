// Package cryptox implements the raw AES-256-GCM operations used by the
// vault engine. Key and nonce are always supplied by the caller and the
// package performs no I/O; input validation (key/nonce lengths, non-empty
// payloads) lives one layer up in vault/crypto so every caller goes through
// the same checks.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// NonceSize is the GCM-standard nonce length in bytes.
	NonceSize = 12
	// TagOverhead is the length the authentication tag adds to a ciphertext.
	TagOverhead = 16
)

// Seal encrypts plaintext with AES-256-GCM. The returned ciphertext has the
// 16-byte authentication tag appended. No associated data is used.
func Seal(key, nonce, plaintext []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return aesgcm.Seal(nil, nonce, plaintext, nil), nil
}

// Open decrypts an AES-256-GCM ciphertext produced by Seal. Given a key and
// nonce of the correct lengths, the only failure mode is authentication-tag
// mismatch, which callers must treat as a tamper signal.
func Open(key, nonce, ciphertext []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return aesgcm.Open(nil, nonce, ciphertext, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
