package export

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/painjournal/vaultkit/pkg/cipher"
)

// MagicNumber identifies a vault export file: "PJVLT_BK".
var MagicNumber = [8]byte{'P', 'J', 'V', 'L', 'T', '_', 'B', 'K'}

// FormatVersion is the current export format version.
const FormatVersion = 1

// EncryptionMode records how the export was keyed.
type EncryptionMode string

const (
	// EncryptionModePassphrase derives keys from a passphrase.
	EncryptionModePassphrase EncryptionMode = "passphrase"
	// EncryptionModeKeyFile uses a raw 32-byte key file.
	EncryptionModeKeyFile EncryptionMode = "keyfile"
)

// KDFHeader carries the salt and the explicit Argon2id parameters used
// for the export, so import never guesses costs.
type KDFHeader struct {
	Salt   []byte           `json:"salt"`
	Params cipher.KDFParams `json:"params"`
}

// Header is the cleartext metadata block of an export file. It is
// covered by the HMAC trailer.
type Header struct {
	Version        int            `json:"version"`
	CreatedAt      time.Time      `json:"created_at"`
	VaultID        string         `json:"vault_id,omitempty"`
	EncryptionMode EncryptionMode `json:"encryption_mode"`
	KDF            *KDFHeader     `json:"kdf,omitempty"`
	RecordCount    int            `json:"record_count"`
}

// Payload is the encrypted body: vault metadata plus every stored
// record blob, still in their at-rest encrypted form.
type Payload struct {
	Meta    map[string][]byte `json:"meta"`
	Records map[string][]byte `json:"records"`
}

// WriteHeader writes the magic number and length-framed header.
func WriteHeader(w io.Writer, header *Header) error {
	if _, err := w.Write(MagicNumber[:]); err != nil {
		return fmt.Errorf("export: failed to write magic number: %w", err)
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("export: failed to marshal header: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(headerJSON))); err != nil {
		return fmt.Errorf("export: failed to write header length: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("export: failed to write header: %w", err)
	}
	return nil
}

// ReadHeader reads and validates the magic number and header.
func ReadHeader(r io.Reader) (*Header, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("export: failed to read magic number: %w", err)
	}
	if magic != MagicNumber {
		return nil, ErrInvalidMagic
	}

	var headerLen uint32
	if err := binary.Read(r, binary.BigEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("export: failed to read header length: %w", err)
	}
	if headerLen > 1024*1024 {
		return nil, fmt.Errorf("export: header too large: %d bytes", headerLen)
	}

	headerJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, fmt.Errorf("export: failed to read header: %w", err)
	}
	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("export: failed to unmarshal header: %w", err)
	}
	if header.Version > FormatVersion {
		return nil, fmt.Errorf("%w: got %d, max supported %d",
			ErrUnsupportedVersion, header.Version, FormatVersion)
	}
	return &header, nil
}
