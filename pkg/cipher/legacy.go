package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/pbkdf2"
)

// Legacy (1.x) format parameters. The legacy construction is unauthenticated
// AES-256-CTR with a per-record PBKDF2-SHA256 subkey; it is retained only so
// migration can read records written by earlier product versions.
const (
	// LegacyIterations is the PBKDF2 iteration count of the legacy scheme.
	LegacyIterations = 10000

	// legacySaltLength and legacyIVLength frame the legacy data blob:
	// base64(salt || iv || ciphertext).
	legacySaltLength = 16
	legacyIVLength   = aes.BlockSize
)

// decryptLegacy decrypts a 1.x record. The legacy format has no
// authentication tag, so a wrong key is detected only by an implausible
// plaintext (legacy payloads were always UTF-8 JSON).
func decryptLegacy(key []byte, rec *Record) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(rec.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: bad data encoding", ErrTamperedOrCorrupt)
	}
	if len(blob) < legacySaltLength+legacyIVLength {
		return nil, fmt.Errorf("%w: legacy blob too short", ErrTamperedOrCorrupt)
	}

	salt := blob[:legacySaltLength]
	iv := blob[legacySaltLength : legacySaltLength+legacyIVLength]
	ciphertext := blob[legacySaltLength+legacyIVLength:]

	subkey := legacySubkey(key, salt)
	defer SecureWipe(subkey)

	block, err := aes.NewCipher(subkey)
	if err != nil {
		return nil, fmt.Errorf("cipher: failed to create legacy cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	stdcipher.NewCTR(block, iv).XORKeyStream(plaintext, ciphertext)

	if !plausiblePlaintext(plaintext) {
		SecureWipe(plaintext)
		return nil, ErrWrongKey
	}
	return plaintext, nil
}

// legacySubkey derives the per-record AES key of the legacy scheme.
func legacySubkey(key, salt []byte) []byte {
	return pbkdf2.Key(key, salt, LegacyIterations, KeyLength, sha256.New)
}

// plausiblePlaintext reports whether decrypted legacy output looks like
// the UTF-8 JSON the legacy product wrote. CTR decryption "succeeds"
// under any key, so this heuristic is the only wrong-key signal.
func plausiblePlaintext(p []byte) bool {
	if len(p) == 0 {
		return false
	}
	if !utf8.Valid(p) {
		return false
	}
	printable := 0
	total := 0
	for _, r := range string(p) {
		total++
		if unicode.IsPrint(r) || r == '\n' || r == '\t' || r == '\r' {
			printable++
		}
	}
	return printable*100 >= total*95
}
