// Package vault encrypts exchange API secrets at rest with AES-256-GCM.
//
// Ciphertexts are stored as "iv:ciphertext:tag", each part lowercase hex.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
)

const (
	keySize   = 32
	nonceSize = 12
	tagSize   = 16
)

var (
	ErrKeyMissing = errors.New("vault: encryption key not configured")
	ErrKeyLength  = errors.New("vault: encryption key must be 64 hex characters")
	ErrDecrypt    = errors.New("vault: decryption failed")
)

// Vault holds the hex key. The key is validated on first use so a missing
// key only breaks the credential endpoints, not the whole server.
type Vault struct {
	hexKey string

	once    sync.Once
	aead    cipher.AEAD
	initErr error
}

func New(hexKey string) *Vault {
	return &Vault{hexKey: strings.TrimSpace(hexKey)}
}

func (v *Vault) load() (cipher.AEAD, error) {
	v.once.Do(func() {
		if v.hexKey == "" {
			v.initErr = ErrKeyMissing
			return
		}
		key, err := hex.DecodeString(v.hexKey)
		if err != nil || len(key) != keySize {
			v.initErr = ErrKeyLength
			return
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			v.initErr = fmt.Errorf("vault: %w", err)
			return
		}
		v.aead, v.initErr = cipher.NewGCM(block)
	})
	return v.aead, v.initErr
}

// Check reports a configuration error without encrypting anything.
func (v *Vault) Check() error {
	_, err := v.load()
	return err
}

// Encrypt seals plaintext under a fresh random nonce.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	aead, err := v.load()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(ct) + ":" + hex.EncodeToString(tag), nil
}

// Decrypt opens a token produced by Encrypt. Any malformed token or failed
// authentication yields ErrDecrypt.
func (v *Vault) Decrypt(token string) (string, error) {
	aead, err := v.load()
	if err != nil {
		return "", err
	}

	parts := strings.Split(token, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: expected 3 parts, got %d", ErrDecrypt, len(parts))
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return "", fmt.Errorf("%w: bad iv", ErrDecrypt)
	}
	ct, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext", ErrDecrypt)
	}
	tag, err := hex.DecodeString(parts[2])
	if err != nil || len(tag) != tagSize {
		return "", fmt.Errorf("%w: bad tag", ErrDecrypt)
	}

	plain, err := aead.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
