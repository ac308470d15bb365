// Package secrets encrypts OAuth2 refresh tokens at rest using a key derived
// from the machine identity. It also decodes the historical AES-CBC config
// format during one-time migration.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize       = 32
	kdfIterations = 100_000
)

// Fixed application salt for key derivation. The per-installation component
// is the machine ID; on machines without one the key is derived from a fixed
// literal, which makes it discoverable. Known weakness, matches the
// single-user deployment model.
var kdfSalt = []byte("birthday-reminder-oauth-v1")

const fallbackMachineID = "birthday-reminder-default"

// ErrDecrypt is returned for tampered, truncated or otherwise unreadable
// ciphertext. Callers treat it as "token unavailable", never as fatal.
var ErrDecrypt = errors.New("secrets: decrypt failed")

// DeriveKey produces a 32-byte AES key from a machine identifier via
// PBKDF2-SHA256. Deterministic: same inputs always yield the same key.
func DeriveKey(machineID string, salt []byte) []byte {
	return pbkdf2.Key([]byte(machineID), salt, kdfIterations, keySize, sha256.New)
}

// Codec encrypts and decrypts secrets using AES-256-GCM.
type Codec struct {
	key []byte
}

// NewCodec creates a Codec. key must be exactly 32 bytes.
func NewCodec(key []byte) *Codec {
	if len(key) != keySize {
		panic("secrets: key must be 32 bytes")
	}
	return &Codec{key: key}
}

// LoadOrCreate returns a Codec backed by the key file at keyPath. The key is
// created lazily on first use: derived from the machine ID and cached to
// disk so it survives machine-id changes. It is never rotated.
func LoadOrCreate(keyPath string) (*Codec, error) {
	if key, err := os.ReadFile(keyPath); err == nil && len(key) == keySize {
		return NewCodec(key), nil
	}

	key := DeriveKey(machineID(), kdfSalt)
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return nil, fmt.Errorf("creating key directory: %w", err)
	}
	if err := os.WriteFile(keyPath, key, 0o600); err != nil {
		return nil, fmt.Errorf("writing key file: %w", err)
	}
	return NewCodec(key), nil
}

// Encrypt encrypts plaintext with AES-256-GCM and returns base64 text with
// the nonce prepended.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	// Nonce is prepended to ciphertext: [nonce][ciphertext+tag]
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Returns ErrDecrypt for malformed input, a wrong
// key or a tampered ciphertext.
func (c *Codec) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecrypt
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", ErrDecrypt
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}

// DecryptLegacyCBC decodes the historical smtp.json password format:
// AES-CBC with PKCS7 padding, everything hex-encoded. Used only during
// migration; any malformed input yields ErrDecrypt, never a panic.
func DecryptLegacyCBC(hexCiphertext, hexKey, hexIV string) (string, error) {
	ciphertext, err := hex.DecodeString(strings.TrimSpace(hexCiphertext))
	if err != nil {
		return "", ErrDecrypt
	}
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return "", ErrDecrypt
	}
	iv, err := hex.DecodeString(strings.TrimSpace(hexIV))
	if err != nil {
		return "", ErrDecrypt
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", ErrDecrypt
	}
	if len(iv) != block.BlockSize() || len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return "", ErrDecrypt
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext, block.BlockSize())
	if err != nil {
		return "", ErrDecrypt
	}
	return string(unpadded), nil
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrDecrypt
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, ErrDecrypt
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrDecrypt
		}
	}
	return data[:len(data)-n], nil
}

// machineID reads the per-installation identifier, falling back to a fixed
// literal when unavailable.
func machineID() string {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if raw, err := os.ReadFile(path); err == nil {
			if id := strings.TrimSpace(string(raw)); id != "" {
				return id
			}
		}
	}
	return fallbackMachineID
}
