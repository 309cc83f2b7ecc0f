// Package cipher implements the two ciphertext formats used by the vault.
//
// The current format ("2.0.0") is AES-256-GCM authenticated encryption with a
// fresh 12-byte nonce per call. The legacy format (any "1.x") is a
// non-authenticated AES-256-CTR construction retained only for decryption
// during migration; no exported function produces a legacy record.
//
// Key derivation uses Argon2id with explicit, caller-supplied parameters.
// A reduced-cost preset exists for tests, selected by name, never by
// environment sniffing.
//
// # Example Usage
//
//	key := cipher.DeriveKey([]byte("passphrase"), salt, cipher.DefaultKDFParams())
//
//	rec, err := cipher.Encrypt(key, plaintext)
//
//	plaintext, err := cipher.Decrypt(key, rec)
//
//	cipher.SecureWipe(key)
package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"runtime"
	"strings"
)

const (
	// KeyLength is the length of encryption keys in bytes (256 bits).
	KeyLength = 32

	// NonceLength is the length of GCM nonces in bytes (96 bits).
	NonceLength = 12

	// SaltLength is the length of KDF salts in bytes.
	SaltLength = 16

	// CurrentVersion tags every record produced by Encrypt.
	CurrentVersion = "2.0.0"
)

// Sentinel errors returned by codec functions.
var (
	// ErrInvalidKeyLength indicates the key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("cipher: invalid key length, must be 32 bytes")

	// ErrTamperedOrCorrupt indicates authentication or checksum verification failed.
	ErrTamperedOrCorrupt = errors.New("cipher: record tampered or corrupt")

	// ErrUnsupportedFormat indicates an unrecognized record format version.
	ErrUnsupportedFormat = errors.New("cipher: unsupported record format version")

	// ErrWrongKey indicates a legacy decryption produced implausible output.
	// The legacy format carries no authentication tag, so this is best-effort.
	ErrWrongKey = errors.New("cipher: wrong key for legacy record")
)

// IsLegacy reports whether a format version belongs to the legacy codec.
func IsLegacy(version string) bool {
	return strings.HasPrefix(version, "1.")
}

// Encrypt encrypts plaintext under key using AES-256-GCM and returns a
// record in the current format. The authentication tag is embedded in the
// ciphertext, so tamper detection is intrinsic.
func Encrypt(key, plaintext []byte) (*Record, error) {
	return encrypt(key, plaintext, false)
}

// EncryptChecked is Encrypt plus an integrity checksum over
// plaintext||key, stored hex-encoded on the record. Used when the caller
// has integrity checking enabled.
func EncryptChecked(key, plaintext []byte) (*Record, error) {
	return encrypt(key, plaintext, true)
}

func encrypt(key, plaintext []byte, checked bool) (*Record, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: failed to create cipher: %w", err)
	}

	gcm, err := stdcipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher: failed to create GCM: %w", err)
	}

	nonce := make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("cipher: failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	rec := newRecord(ciphertext, nonce)
	if checked {
		rec.Checksum = Checksum(plaintext, key)
	}
	return rec, nil
}

// Decrypt decrypts a record under key, dispatching on the record's format
// version. Returns ErrTamperedOrCorrupt when GCM authentication or the
// optional checksum fails, ErrUnsupportedFormat for an unknown version,
// and ErrWrongKey when legacy decryption yields implausible output.
func Decrypt(key []byte, rec *Record) ([]byte, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}

	var plaintext []byte
	var err error
	switch {
	case rec.Metadata.Version == CurrentVersion:
		plaintext, err = decryptCurrent(key, rec)
	case IsLegacy(rec.Metadata.Version):
		plaintext, err = decryptLegacy(key, rec)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, rec.Metadata.Version)
	}
	if err != nil {
		return nil, err
	}

	if rec.Checksum != "" && rec.Checksum != Checksum(plaintext, key) {
		return nil, ErrTamperedOrCorrupt
	}
	return plaintext, nil
}

func decryptCurrent(key []byte, rec *Record) ([]byte, error) {
	ciphertext, nonce, err := rec.rawCurrent()
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: failed to create cipher: %w", err)
	}

	gcm, err := stdcipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher: failed to create GCM: %w", err)
	}

	if len(ciphertext) < gcm.Overhead() {
		return nil, ErrTamperedOrCorrupt
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrTamperedOrCorrupt
	}
	return plaintext, nil
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation. Used to destroy key
// material on lock, wipe, and process exit.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// runtime.KeepAlive ensures the write operations are not optimized away
	// by the compiler since b is still "in use" after the loop.
	runtime.KeepAlive(b)
}
