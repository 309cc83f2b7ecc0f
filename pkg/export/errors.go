// Package export provides passphrase-protected encrypted export and
// import of vault contents.
package export

import "errors"

var (
	// ErrInvalidMagic indicates the file is not a vault export.
	ErrInvalidMagic = errors.New("export: magic number mismatch")

	// ErrUnsupportedVersion indicates the export format version is newer
	// than this build understands.
	ErrUnsupportedVersion = errors.New("export: unsupported format version")

	// ErrIntegrityFailed indicates the HMAC trailer did not verify.
	ErrIntegrityFailed = errors.New("export: integrity check failed")

	// ErrDecryptionFailed indicates a wrong passphrase or corrupt payload.
	ErrDecryptionFailed = errors.New("export: decryption failed")

	// ErrEmptyPassphrase indicates no passphrase was provided.
	ErrEmptyPassphrase = errors.New("export: passphrase cannot be empty")

	// ErrInvalidKeyFile indicates the key file is not exactly 32 bytes.
	ErrInvalidKeyFile = errors.New("export: key file must be exactly 32 bytes")
)
