package export

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/hkdf"

	"github.com/painjournal/vaultkit/pkg/cipher"
)

const (
	// saltLength is the export salt size. Fresh for every export; the
	// vault's own salt is never reused.
	saltLength = 32

	// hmacLength is the size of the HMAC-SHA256 trailer.
	hmacLength = 32
)

// HKDF info strings splitting the master secret into independent keys.
const (
	hkdfInfoEncryption = "vaultkit-export-encryption"
	hkdfInfoMAC        = "vaultkit-export-mac"
)

// generateSalt returns a fresh export salt.
func generateSalt() ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("export: failed to generate salt: %w", err)
	}
	return salt, nil
}

// deriveKeys derives independent encryption and MAC keys from a
// passphrase via Argon2id then HKDF-SHA256.
func deriveKeys(passphrase, salt []byte, params cipher.KDFParams) (encKey, macKey []byte, err error) {
	if len(passphrase) == 0 {
		return nil, nil, ErrEmptyPassphrase
	}

	master := cipher.DeriveKey(passphrase, salt, params)
	defer cipher.SecureWipe(master)

	encKey, err = deriveHKDF(master, []byte(hkdfInfoEncryption))
	if err != nil {
		return nil, nil, fmt.Errorf("export: failed to derive encryption key: %w", err)
	}
	macKey, err = deriveHKDF(master, []byte(hkdfInfoMAC))
	if err != nil {
		cipher.SecureWipe(encKey)
		return nil, nil, fmt.Errorf("export: failed to derive mac key: %w", err)
	}
	return encKey, macKey, nil
}

func deriveHKDF(secret, info []byte) ([]byte, error) {
	key := make([]byte, cipher.KeyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, info), key); err != nil {
		return nil, err
	}
	return key, nil
}

func computeHMAC(data, key []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func verifyHMAC(data, expected, key []byte) bool {
	return hmac.Equal(computeHMAC(data, key), expected)
}

// ReadKeyFile reads a raw 32-byte export key from a file.
func ReadKeyFile(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("export: failed to read key file: %w", err)
	}
	if len(key) != cipher.KeyLength {
		cipher.SecureWipe(key)
		return nil, ErrInvalidKeyFile
	}
	return key, nil
}

// GenerateKeyFile writes a fresh random 32-byte export key to path with
// owner-only permissions.
func GenerateKeyFile(path string) error {
	key := make([]byte, cipher.KeyLength)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("export: failed to generate key: %w", err)
	}
	defer cipher.SecureWipe(key)

	if err := os.WriteFile(path, key, 0600); err != nil {
		return fmt.Errorf("export: failed to write key file: %w", err)
	}
	return nil
}
