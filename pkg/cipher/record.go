package cipher

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Metadata describes how a record's data field must be interpreted.
type Metadata struct {
	// IV is the base64-encoded 12-byte GCM nonce. Empty for legacy
	// records, which embed their IV inside the data blob.
	IV string `json:"iv,omitempty"`

	// Version discriminates the codec: "2.0.0" is current, any "1.x"
	// is legacy. The version fully determines the interpretation of
	// Data and IV.
	Version string `json:"version"`
}

// Record is the unit of at-rest storage. The wire form is JSON:
//
//	{"data": base64(ciphertext+tag), "metadata": {"iv": base64, "version": "2.0.0"}, "checksum": hex}
//
// A record is never partially upgraded; migration replaces the whole
// record atomically.
type Record struct {
	Data     string   `json:"data"`
	Metadata Metadata `json:"metadata"`
	Checksum string   `json:"checksum,omitempty"`
}

func newRecord(ciphertext, nonce []byte) *Record {
	return &Record{
		Data: base64.StdEncoding.EncodeToString(ciphertext),
		Metadata: Metadata{
			IV:      base64.StdEncoding.EncodeToString(nonce),
			Version: CurrentVersion,
		},
	}
}

// Encode serializes the record to its JSON wire form.
func (r *Record) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("cipher: failed to encode record: %w", err)
	}
	return data, nil
}

// DecodeRecord parses a record from its JSON wire form. A blob that is
// not a record at all is reported as tampered or corrupt.
func DecodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: not a record: %v", ErrTamperedOrCorrupt, err)
	}
	if rec.Data == "" || rec.Metadata.Version == "" {
		return nil, fmt.Errorf("%w: missing data or version", ErrTamperedOrCorrupt)
	}
	return &rec, nil
}

// rawCurrent decodes the ciphertext and nonce of a current-format record.
func (r *Record) rawCurrent() (ciphertext, nonce []byte, err error) {
	ciphertext, err = base64.StdEncoding.DecodeString(r.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: bad data encoding", ErrTamperedOrCorrupt)
	}
	nonce, err = base64.StdEncoding.DecodeString(r.Metadata.IV)
	if err != nil || len(nonce) != NonceLength {
		return nil, nil, fmt.Errorf("%w: bad nonce", ErrTamperedOrCorrupt)
	}
	return ciphertext, nonce, nil
}

// Checksum computes the hex-encoded SHA-256 digest over plaintext||key.
// Stored on records when integrity checking is enabled to detect
// corruption independent of the GCM tag.
func Checksum(plaintext, key []byte) string {
	h := sha256.New()
	h.Write(plaintext)
	h.Write(key)
	return hex.EncodeToString(h.Sum(nil))
}
