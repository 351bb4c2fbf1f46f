package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"

	"github.com/entrhq/reprise/pkg/types"
)

// sessionCipher seals and opens session snapshots with AES-256-GCM. A fresh
// nonce is drawn per seal and prepended to the ciphertext.
type sessionCipher struct {
	aead cipher.AEAD
}

// newSessionCipher derives a cipher from key material of any length; the
// key is hashed to 256 bits. Empty key material is rejected: sessions are
// never stored unencrypted.
func newSessionCipher(keyMaterial []byte) (*sessionCipher, error) {
	if len(keyMaterial) == 0 {
		return nil, fmt.Errorf("session encryption key must not be empty")
	}
	key := sha256.Sum256(keyMaterial)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return &sessionCipher{aead: aead}, nil
}

// seal encrypts a session snapshot.
func (c *sessionCipher) seal(session *types.Session) ([]byte, error) {
	plaintext, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// open decrypts a sealed session snapshot.
func (c *sessionCipher) open(sealed []byte) (*types.Session, error) {
	nonceSize := c.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("sealed session too short")
	}
	plaintext, err := c.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt session: %w", err)
	}

	var session types.Session
	if err := json.Unmarshal(plaintext, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, nil
}
