package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDeriveKeyDeterministic(t *testing.T) {
	a := DeriveKey("machine-a", kdfSalt)
	b := DeriveKey("machine-a", kdfSalt)
	c := DeriveKey("machine-b", kdfSalt)

	if len(a) != 32 {
		t.Fatalf("expected 32-byte key, got %d", len(a))
	}
	if string(a) != string(b) {
		t.Error("same inputs produced different keys")
	}
	if string(a) == string(c) {
		t.Error("different machine IDs produced the same key")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	codec := NewCodec(DeriveKey("test-machine", kdfSalt))

	cases := []string{
		"1//0abcdefghij-refresh-token",
		"short",
		"with spaces and \x01 control chars",
		"ünïcödé 🎂",
	}
	for _, plaintext := range cases {
		ciphertext, err := codec.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", plaintext, err)
		}
		if ciphertext == plaintext {
			t.Errorf("ciphertext equals plaintext for %q", plaintext)
		}
		got, err := codec.Decrypt(ciphertext)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if got != plaintext {
			t.Errorf("round trip: got %q, want %q", got, plaintext)
		}
	}
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	codec := NewCodec(DeriveKey("test-machine", kdfSalt))

	ciphertext, err := codec.Encrypt("secret-token")
	if err != nil {
		t.Fatal(err)
	}

	raw, _ := base64.StdEncoding.DecodeString(ciphertext)
	raw[len(raw)-1] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(raw)

	if _, err := codec.Decrypt(tampered); !errors.Is(err, ErrDecrypt) {
		t.Errorf("expected ErrDecrypt for tampered ciphertext, got %v", err)
	}
}

func TestDecryptWrongKey(t *testing.T) {
	a := NewCodec(DeriveKey("machine-a", kdfSalt))
	b := NewCodec(DeriveKey("machine-b", kdfSalt))

	ciphertext, err := a.Encrypt("secret-token")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Decrypt(ciphertext); !errors.Is(err, ErrDecrypt) {
		t.Errorf("expected ErrDecrypt for wrong key, got %v", err)
	}
}

func TestDecryptGarbageInput(t *testing.T) {
	codec := NewCodec(DeriveKey("test-machine", kdfSalt))

	for _, input := range []string{"", "not base64 !!!", "YWJj", base64.StdEncoding.EncodeToString([]byte("xy"))} {
		if _, err := codec.Decrypt(input); !errors.Is(err, ErrDecrypt) {
			t.Errorf("Decrypt(%q): expected ErrDecrypt, got %v", input, err)
		}
	}
}

// legacyEncrypt builds an AES-CBC/PKCS7 ciphertext the way the old desktop
// build did, for exercising the migration path.
func legacyEncrypt(t *testing.T, plaintext string, key, iv []byte) string {
	t.Helper()
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	pad := block.BlockSize() - len(plaintext)%block.BlockSize()
	padded := []byte(plaintext)
	for i := 0; i < pad; i++ {
		padded = append(padded, byte(pad))
	}
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return hex.EncodeToString(out)
}

func TestDecryptLegacyCBC(t *testing.T) {
	key := make([]byte, 32)
	iv := make([]byte, 16)
	for i := range key {
		key[i] = byte(i)
	}
	for i := range iv {
		iv[i] = byte(100 + i)
	}

	ciphertext := legacyEncrypt(t, "old-app-password-16", key, iv)

	got, err := DecryptLegacyCBC(ciphertext, hex.EncodeToString(key), hex.EncodeToString(iv))
	if err != nil {
		t.Fatalf("DecryptLegacyCBC: %v", err)
	}
	if got != "old-app-password-16" {
		t.Errorf("got %q, want %q", got, "old-app-password-16")
	}
}

func TestDecryptLegacyCBCMalformed(t *testing.T) {
	key := hex.EncodeToString(make([]byte, 32))
	iv := hex.EncodeToString(make([]byte, 16))

	cases := []struct {
		name             string
		ciphertext, k, v string
	}{
		{"bad hex ciphertext", "zzzz", key, iv},
		{"bad hex key", "00112233445566778899aabbccddeeff", "nothex", iv},
		{"short iv", "00112233445566778899aabbccddeeff", key, "0011"},
		{"empty ciphertext", "", key, iv},
		{"unaligned ciphertext", "0011", key, iv},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecryptLegacyCBC(tc.ciphertext, tc.k, tc.v); !errors.Is(err, ErrDecrypt) {
				t.Errorf("expected ErrDecrypt, got %v", err)
			}
		})
	}
}

func TestDecryptLegacyCBCBadPadding(t *testing.T) {
	key := make([]byte, 32)
	iv := make([]byte, 16)

	// Encrypt a block whose final padding byte is invalid.
	block, _ := aes.NewCipher(key)
	raw := make([]byte, 16)
	raw[15] = 0xFF // padding length 255 > block size
	out := make([]byte, 16)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, raw)

	_, err := DecryptLegacyCBC(hex.EncodeToString(out), hex.EncodeToString(key), hex.EncodeToString(iv))
	if !errors.Is(err, ErrDecrypt) {
		t.Errorf("expected ErrDecrypt for invalid padding, got %v", err)
	}
}

func TestLoadOrCreatePersistsKey(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "sub", ".oauth_key")

	first, err := LoadOrCreate(keyPath)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}

	onDisk, err := os.ReadFile(keyPath)
	if err != nil {
		t.Fatalf("key file not written: %v", err)
	}
	if len(onDisk) != 32 {
		t.Fatalf("expected 32-byte key file, got %d bytes", len(onDisk))
	}

	// Second load must reuse the cached key so old ciphertexts stay readable.
	ciphertext, err := first.Encrypt("token")
	if err != nil {
		t.Fatal(err)
	}
	second, err := LoadOrCreate(keyPath)
	if err != nil {
		t.Fatal(err)
	}
	got, err := second.Decrypt(ciphertext)
	if err != nil || got != "token" {
		t.Errorf("reloaded codec cannot read old ciphertext: %q, %v", got, err)
	}
}
