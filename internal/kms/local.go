package kms

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
	"github.com/hashicorp/go-kms-wrapping/v2/aead"
	"github.com/heirkeep/vault/internal/common"
	"github.com/heirkeep/vault/internal/cryptox"
	"golang.org/x/crypto/argon2"
)

// Local implements Client with an in-process AEAD wrapper holding a 32-byte
// master key. Meant for development and tests; the wrapped-key wire format is
// a JSON-serialized wrapping.BlobInfo.
type Local struct {
	wrapper wrapping.Wrapper
}

// NewLocal builds a local client around the given master key.
func NewLocal(ctx context.Context, masterKey []byte) (*Local, error) {
	w := aead.NewWrapper()

	// The AEAD wrapper expects a base64-encoded key.
	_, err := w.SetConfig(ctx, wrapping.WithConfigMap(map[string]string{
		"key": base64.StdEncoding.EncodeToString(masterKey),
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to configure AEAD wrapper: %w", err)
	}

	return &Local{wrapper: w}, nil
}

// NewLocalFromPassphrase derives the master key from a passphrase and salt
// with Argon2id, then builds a local client around it.
func NewLocalFromPassphrase(ctx context.Context, passphrase, salt []byte) (*Local, error) {
	key := argon2.IDKey(passphrase, salt, 1, 64*1024, 4, cryptox.KeySize)
	return NewLocal(ctx, key)
}

func (c *Local) GenerateDataKey(ctx context.Context) ([]byte, []byte, error) {
	plaintext := make([]byte, cryptox.KeySize)
	if _, err := rand.Read(plaintext); err != nil {
		return nil, nil, fmt.Errorf("%w: randomness source: %v", common.ErrKeyGeneration, err)
	}

	blob, err := c.wrapper.Encrypt(ctx, plaintext)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: wrap: %v", common.ErrKeyGeneration, err)
	}

	wrapped, err := json.Marshal(blob)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: marshal wrapped key: %v", common.ErrKeyGeneration, err)
	}
	return plaintext, wrapped, nil
}

func (c *Local) Unwrap(ctx context.Context, wrapped []byte) ([]byte, error) {
	if len(wrapped) == 0 {
		return nil, fmt.Errorf("%w: wrapped key is empty", common.ErrInvalidKey)
	}

	var blob wrapping.BlobInfo
	if err := json.Unmarshal(wrapped, &blob); err != nil {
		return nil, fmt.Errorf("%w: malformed wrapped key (len %d)", common.ErrInvalidKey, len(wrapped))
	}

	plaintext, err := c.wrapper.Decrypt(ctx, &blob)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap: %v", common.ErrKeyUnwrap, err)
	}
	return plaintext, nil
}
