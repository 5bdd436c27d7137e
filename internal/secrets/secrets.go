// Package secrets encrypts small credentials before they reach disk.
//
// Plaintext is sealed with NaCl secretbox under a random 32-byte master key
// held in the OS keychain. The 24-byte nonce is prepended to the ciphertext,
// so a sealed value is nonce || box. Without the keychain there is no master
// key and the cipher reports itself unavailable; callers must then refuse to
// persist or restore secrets rather than storing them in the clear.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/orbitel/opsbridge/internal/keychain"
)

const (
	// MasterKeyName is the keychain account holding the base64 master key.
	MasterKeyName = "secrets/master-key"

	keySize   = 32
	nonceSize = 24
)

// ErrCorrupted is returned when a ciphertext cannot be authenticated or is
// structurally invalid. Callers treat the underlying entry as garbage and
// delete it rather than surfacing an error to the user.
var ErrCorrupted = errors.New("ciphertext corrupted")

// ErrUnavailable is returned when no master key can be obtained because the
// system keychain is not usable.
var ErrUnavailable = errors.New("secret encryption unavailable")

// Cipher seals and opens secrets with a keychain-held master key. It is
// safe for concurrent use; the lazy key load is serialized so first-use
// races cannot generate two competing master keys.
type Cipher struct {
	ring keychain.Store

	mu  sync.Mutex
	key *[keySize]byte
}

// NewCipher creates a cipher backed by the given keychain store. The master
// key is loaded lazily on first use and generated if absent.
func NewCipher(ring keychain.Store) *Cipher {
	return &Cipher{ring: ring}
}

// Available reports whether encryption can be used at all. False means the
// keychain cannot hold a master key and no secret may be persisted.
func (c *Cipher) Available() bool {
	return c.ring.Available()
}

// Encrypt seals plaintext and returns nonce-prefixed ciphertext.
// Plaintext is never logged.
func (c *Cipher) Encrypt(plaintext string) ([]byte, error) {
	key, err := c.masterKey()
	if err != nil {
		return nil, err
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	out := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, key)
	return out, nil
}

// Decrypt opens nonce-prefixed ciphertext. Tampered, truncated, or
// foreign-key ciphertext fails with ErrCorrupted so callers can distinguish
// "bad secret" from "no secret".
func (c *Cipher) Decrypt(ciphertext []byte) (string, error) {
	key, err := c.masterKey()
	if err != nil {
		return "", err
	}

	if len(ciphertext) < nonceSize+secretbox.Overhead {
		return "", fmt.Errorf("%w: %d bytes", ErrCorrupted, len(ciphertext))
	}

	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])

	plain, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, key)
	if !ok {
		return "", fmt.Errorf("%w: authentication failed", ErrCorrupted)
	}
	return string(plain), nil
}

// EncryptToString seals plaintext and base64-encodes the result for storage
// in string-valued stores.
func (c *Cipher) EncryptToString(plaintext string) (string, error) {
	sealed, err := c.Encrypt(plaintext)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString opens a base64-encoded sealed value. Invalid base64 is
// reported as ErrCorrupted like any other mangled ciphertext.
func (c *Cipher) DecryptString(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return c.Decrypt(sealed)
}

func (c *Cipher) masterKey() (*[keySize]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.key != nil {
		return c.key, nil
	}

	encoded, err := c.ring.Get(MasterKeyName)
	switch {
	case err == nil:
		raw, decErr := base64.StdEncoding.DecodeString(encoded)
		if decErr != nil || len(raw) != keySize {
			// A mangled master key makes every stored secret unreadable
			// anyway; replace it so future secrets round-trip again.
			return c.generateKey()
		}
		c.key = new([keySize]byte)
		copy(c.key[:], raw)
		return c.key, nil
	case errors.Is(err, keychain.ErrNotFound):
		return c.generateKey()
	case errors.Is(err, keychain.ErrUnavailable):
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return nil, fmt.Errorf("reading master key: %w", err)
	}
}

// generateKey creates and persists a fresh master key. Caller holds c.mu.
func (c *Cipher) generateKey() (*[keySize]byte, error) {
	raw := make([]byte, keySize)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generating master key: %w", err)
	}
	if err := c.ring.Set(MasterKeyName, base64.StdEncoding.EncodeToString(raw)); err != nil {
		if errors.Is(err, keychain.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("storing master key: %w", err)
	}
	c.key = new([keySize]byte)
	copy(c.key[:], raw)
	return c.key, nil
}
