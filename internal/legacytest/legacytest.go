// Package legacytest constructs legacy-format (1.x) records as test
// fixtures for the migration and vault tests. The cipher package
// deliberately exposes no way to write legacy records, so the legacy
// construction (PBKDF2-SHA256 subkey + AES-256-CTR, blob framed as
// salt||iv||ciphertext) is reproduced here for fixtures only.
package legacytest

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/painjournal/vaultkit/pkg/cipher"
)

// SealRecord encrypts plaintext under key using the legacy scheme and
// returns a record tagged with the given 1.x version.
func SealRecord(key, plaintext []byte, version string) (*cipher.Record, error) {
	if !cipher.IsLegacy(version) {
		return nil, fmt.Errorf("legacytest: version %q is not legacy", version)
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("legacytest: failed to generate salt: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("legacytest: failed to generate iv: %w", err)
	}

	subkey := pbkdf2.Key(key, salt, cipher.LegacyIterations, cipher.KeyLength, sha256.New)
	block, err := aes.NewCipher(subkey)
	if err != nil {
		return nil, fmt.Errorf("legacytest: failed to create cipher: %w", err)
	}

	ciphertext := make([]byte, len(plaintext))
	stdcipher.NewCTR(block, iv).XORKeyStream(ciphertext, plaintext)

	blob := make([]byte, 0, len(salt)+len(iv)+len(ciphertext))
	blob = append(blob, salt...)
	blob = append(blob, iv...)
	blob = append(blob, ciphertext...)

	return &cipher.Record{
		Data:     base64.StdEncoding.EncodeToString(blob),
		Metadata: cipher.Metadata{Version: version},
	}, nil
}
