// Package fieldenc applies the vault's DEK-per-object envelope pattern to a
// single structured value, such as one answer in a form. Values written
// before encryption was introduced are stored as plain JSON; decryption
// passes them through unchanged. That backward-compatible pass-through is the
// one deliberately non-strict behavior in the engine and must be preserved,
// including for arbitrary non-envelope shapes.
package fieldenc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/heirkeep/vault/internal/common"
	"github.com/heirkeep/vault/internal/vault/crypto"
)

// Algorithm is the fixed cipher identifier recorded in every envelope.
const Algorithm = "AES-256-GCM"

// Envelope is the stored form of an encrypted value.
type Envelope struct {
	Encrypted  bool   `json:"__enc"`
	Alg        string `json:"alg"`
	DEK        string `json:"dek"`        // base64, KMS-wrapped
	Nonce      string `json:"nonce"`      // base64
	Ciphertext string `json:"ciphertext"` // base64
}

// complete reports whether every envelope field a decryption needs is set.
func (e *Envelope) complete() bool {
	return e.Encrypted && e.DEK != "" && e.Nonce != "" && e.Ciphertext != ""
}

// Value is the explicitly decoded form of a stored answer: exactly one of
// Envelope and Plain is set.
type Value struct {
	Envelope *Envelope
	Plain    json.RawMessage
}

// IsEncrypted reports whether the value decoded as an envelope.
func (v Value) IsEncrypted() bool { return v.Envelope != nil }

// DecodeValue classifies a stored JSON value at the boundary. Anything that
// is not a complete envelope object, including legacy plaintext of any shape,
// decodes as Plain.
func DecodeValue(raw json.RawMessage) Value {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err == nil && e.complete() {
		return Value{Envelope: &e}
	}
	return Value{Plain: raw}
}

// payload wraps the caller's value so the stored schema can evolve later.
type payload struct {
	V any `json:"v"`
}

// Helper encrypts and decrypts single values with the injected crypto engine.
type Helper struct {
	engine *crypto.Engine
}

func NewHelper(engine *crypto.Engine) *Helper {
	return &Helper{engine: engine}
}

// EncryptValue envelopes a single value under a fresh DEK. The plaintext DEK
// is wiped before returning.
func (h *Helper) EncryptValue(ctx context.Context, value any) (*Envelope, error) {
	payloadBytes, err := json.Marshal(payload{V: value})
	if err != nil {
		return nil, fmt.Errorf("%w: value is not serializable: %v", common.ErrInvalidPayload, err)
	}

	plainDEK, wrappedDEK, err := h.engine.GenerateDataKey(ctx)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(plainDEK)

	nonce, err := h.engine.GenerateNonce()
	if err != nil {
		return nil, err
	}

	ciphertext, err := h.engine.Encrypt(payloadBytes, plainDEK, nonce)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		Encrypted:  true,
		Alg:        Algorithm,
		DEK:        base64.StdEncoding.EncodeToString(wrappedDEK),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// DecryptValue recovers the original value from a stored JSON answer. A plain
// (non-envelope) value is returned unchanged.
func (h *Helper) DecryptValue(ctx context.Context, raw json.RawMessage) (any, error) {
	decoded := DecodeValue(raw)
	if !decoded.IsEncrypted() {
		var value any
		if err := json.Unmarshal(decoded.Plain, &value); err != nil {
			return nil, fmt.Errorf("%w: stored value is not valid JSON: %v", common.ErrInvalidPayload, err)
		}
		return value, nil
	}

	e := decoded.Envelope
	wrappedDEK, nonce, ciphertext, err := e.decodeFields()
	if err != nil {
		return nil, err
	}

	plainDEK, err := h.engine.UnwrapDataKey(ctx, wrappedDEK)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(plainDEK)

	payloadBytes, err := h.engine.Decrypt(ciphertext, plainDEK, nonce)
	if err != nil {
		return nil, err
	}

	var p payload
	if err := json.Unmarshal(payloadBytes, &p); err != nil {
		return nil, fmt.Errorf("%w: decrypted value is not valid JSON: %v", common.ErrInvalidPayload, err)
	}
	return p.V, nil
}

func (e *Envelope) decodeFields() (wrappedDEK, nonce, ciphertext []byte, err error) {
	if wrappedDEK, err = base64.StdEncoding.DecodeString(e.DEK); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: bad DEK encoding", common.ErrDecryption)
	}
	if nonce, err = base64.StdEncoding.DecodeString(e.Nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: bad nonce encoding", common.ErrDecryption)
	}
	if ciphertext, err = base64.StdEncoding.DecodeString(e.Ciphertext); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: bad ciphertext encoding", common.ErrDecryption)
	}
	return wrappedDEK, nonce, ciphertext, nil
}
