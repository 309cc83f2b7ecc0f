package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/painjournal/vaultkit/pkg/cipher"
	"github.com/painjournal/vaultkit/pkg/storage"
)

// Options configures an export or import.
type Options struct {
	// Passphrase protects the export. Ignored when KeyFile is set.
	Passphrase []byte

	// KeyFile is the path of a raw 32-byte key, overriding Passphrase.
	KeyFile string

	// KDF is the Argon2id cost for passphrase-derived exports.
	KDF cipher.KDFParams

	// DryRun previews an import without writing.
	DryRun bool
}

// ImportResult summarizes an import.
type ImportResult struct {
	RecordsImported int  `json:"records_imported"`
	MetaImported    int  `json:"meta_imported"`
	DryRun          bool `json:"dry_run"`
}

// VerifyResult reports on an export file without importing it.
type VerifyResult struct {
	Valid       bool      `json:"valid"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	VaultID     string    `json:"vault_id,omitempty"`
	RecordCount int       `json:"record_count"`
	Error       string    `json:"error,omitempty"`
}

// exportedMeta lists what lifecycle metadata travels with an export:
// the salt, verifier, and identity. Wrapped session keys do not; they
// are bound to the local OS keyring and useless elsewhere.
var exportedMeta = []string{
	storage.MetaPrefix + "salt",
	storage.MetaPrefix + "verifier",
	storage.MetaPrefix + "identity",
}

// Export writes a passphrase-protected export of the vault to w.
// Records are carried in their at-rest encrypted form: restoring them
// still requires the vault passphrase, on top of the export secret.
func Export(registry *storage.Registry, w io.Writer, opts Options) error {
	payload, vaultID, err := collect(registry)
	if err != nil {
		return err
	}

	var encKey, macKey []byte
	header := &Header{
		Version:     FormatVersion,
		CreatedAt:   time.Now().UTC(),
		VaultID:     vaultID,
		RecordCount: len(payload.Records),
	}

	if opts.KeyFile != "" {
		encKey, err = ReadKeyFile(opts.KeyFile)
		if err != nil {
			return err
		}
		defer cipher.SecureWipe(encKey)
		macKey, err = deriveHKDF(encKey, []byte(hkdfInfoMAC))
		if err != nil {
			return fmt.Errorf("export: failed to derive mac key: %w", err)
		}
		defer cipher.SecureWipe(macKey)
		header.EncryptionMode = EncryptionModeKeyFile
	} else {
		salt, err := generateSalt()
		if err != nil {
			return err
		}
		encKey, macKey, err = deriveKeys(opts.Passphrase, salt, opts.KDF)
		if err != nil {
			return err
		}
		defer cipher.SecureWipe(encKey)
		defer cipher.SecureWipe(macKey)
		header.EncryptionMode = EncryptionModePassphrase
		header.KDF = &KDFHeader{Salt: salt, Params: opts.KDF}
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("export: failed to marshal payload: %w", err)
	}
	defer cipher.SecureWipe(payloadBytes)

	sealed, err := cipher.Encrypt(encKey, payloadBytes)
	if err != nil {
		return fmt.Errorf("export: failed to encrypt payload: %w", err)
	}
	ciphertext, err := sealed.Encode()
	if err != nil {
		return err
	}

	// Stage in a buffer so the HMAC covers header and ciphertext.
	var buf bytes.Buffer
	if err := WriteHeader(&buf, header); err != nil {
		return err
	}
	lenBuf := []byte{
		byte(len(ciphertext) >> 24), byte(len(ciphertext) >> 16),
		byte(len(ciphertext) >> 8), byte(len(ciphertext)),
	}
	buf.Write(lenBuf)
	buf.Write(ciphertext)

	trailer := computeHMAC(buf.Bytes(), macKey)
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("export: failed to write export: %w", err)
	}
	if _, err := w.Write(trailer); err != nil {
		return fmt.Errorf("export: failed to write trailer: %w", err)
	}
	return nil
}

// collect gathers metadata and record blobs from every registered
// surface. On duplicate keys the earliest-registered surface wins.
func collect(registry *storage.Registry) (*Payload, string, error) {
	payload := &Payload{
		Meta:    make(map[string][]byte),
		Records: make(map[string][]byte),
	}
	var vaultID string

	for _, surface := range registry.Surfaces() {
		for _, metaKey := range exportedMeta {
			if _, ok := payload.Meta[metaKey]; ok {
				continue
			}
			if value, err := surface.Get(metaKey); err == nil {
				payload.Meta[metaKey] = value
			}
		}
		for _, prefix := range []string{storage.RecordPrefix, storage.LegacyEntryPrefix} {
			keys, err := surface.ListKeys(prefix)
			if err != nil {
				return nil, "", fmt.Errorf("export: failed to scan %s: %w", surface.Name(), err)
			}
			for _, k := range keys {
				if _, ok := payload.Records[k]; ok {
					continue
				}
				value, err := surface.Get(k)
				if err != nil {
					return nil, "", fmt.Errorf("export: failed to read %s from %s: %w", k, surface.Name(), err)
				}
				payload.Records[k] = value
			}
		}
	}

	if blob, ok := payload.Meta[storage.MetaPrefix+"identity"]; ok {
		var id struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(blob, &id) == nil {
			vaultID = id.ID
		}
	}
	return payload, vaultID, nil
}

// Import restores an export file into the registered surfaces. Metadata
// goes to the durable kv surface; records go to the authoritative
// record surface (db when registered, kv otherwise).
func Import(registry *storage.Registry, data []byte, opts Options) (*ImportResult, error) {
	header, payload, err := verifyAndDecrypt(data, opts)
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		return &ImportResult{
			RecordsImported: header.RecordCount,
			MetaImported:    len(payload.Meta),
			DryRun:          true,
		}, nil
	}

	kv, ok := registry.Lookup("kv")
	if !ok {
		return nil, fmt.Errorf("%w: no durable kv surface registered", storage.ErrSurfaceUnavailable)
	}
	records := kv
	if db, ok := registry.Lookup("db"); ok {
		records = db
	}

	result := &ImportResult{}
	for key, value := range payload.Meta {
		if !strings.HasPrefix(key, storage.MetaPrefix) {
			continue
		}
		if err := kv.Put(key, value); err != nil {
			return result, fmt.Errorf("export: failed to restore %s: %w", key, err)
		}
		result.MetaImported++
	}
	for key, value := range payload.Records {
		if err := records.Put(key, value); err != nil {
			return result, fmt.Errorf("export: failed to restore %s: %w", key, err)
		}
		result.RecordsImported++
	}
	return result, nil
}

// Verify checks an export file without restoring it. A failed check is
// reported in the result, not as an error.
func Verify(data []byte, opts Options) *VerifyResult {
	header, _, err := verifyAndDecrypt(data, opts)
	if err != nil {
		return &VerifyResult{Valid: false, Error: err.Error()}
	}
	return &VerifyResult{
		Valid:       true,
		Version:     header.Version,
		CreatedAt:   header.CreatedAt,
		VaultID:     header.VaultID,
		RecordCount: header.RecordCount,
	}
}

// verifyAndDecrypt checks the HMAC trailer before any decryption, then
// opens the payload.
func verifyAndDecrypt(data []byte, opts Options) (*Header, *Payload, error) {
	if len(data) < len(MagicNumber)+4+hmacLength {
		return nil, nil, ErrInvalidMagic
	}

	reader := bytes.NewReader(data)
	header, err := ReadHeader(reader)
	if err != nil {
		return nil, nil, err
	}
	headerEnd := len(data) - reader.Len()

	var lenBuf [4]byte
	if _, err := io.ReadFull(reader, lenBuf[:]); err != nil {
		return nil, nil, fmt.Errorf("export: failed to read ciphertext length: %w", err)
	}
	ciphertextLen := int(lenBuf[0])<<24 | int(lenBuf[1])<<16 | int(lenBuf[2])<<8 | int(lenBuf[3])
	if reader.Len() < ciphertextLen+hmacLength {
		return nil, nil, fmt.Errorf("export: file truncated")
	}

	ciphertext := make([]byte, ciphertextLen)
	if _, err := io.ReadFull(reader, ciphertext); err != nil {
		return nil, nil, fmt.Errorf("export: failed to read ciphertext: %w", err)
	}
	trailer := make([]byte, hmacLength)
	if _, err := io.ReadFull(reader, trailer); err != nil {
		return nil, nil, fmt.Errorf("export: failed to read trailer: %w", err)
	}

	var encKey, macKey []byte
	switch {
	case opts.KeyFile != "":
		encKey, err = ReadKeyFile(opts.KeyFile)
		if err != nil {
			return nil, nil, err
		}
		defer cipher.SecureWipe(encKey)
		macKey, err = deriveHKDF(encKey, []byte(hkdfInfoMAC))
		if err != nil {
			return nil, nil, fmt.Errorf("export: failed to derive mac key: %w", err)
		}
		defer cipher.SecureWipe(macKey)
	case header.EncryptionMode == EncryptionModePassphrase && header.KDF != nil:
		encKey, macKey, err = deriveKeys(opts.Passphrase, header.KDF.Salt, header.KDF.Params)
		if err != nil {
			return nil, nil, err
		}
		defer cipher.SecureWipe(encKey)
		defer cipher.SecureWipe(macKey)
	default:
		return nil, nil, fmt.Errorf("export: cannot determine decryption key")
	}

	if !verifyHMAC(data[:headerEnd+4+ciphertextLen], trailer, macKey) {
		return nil, nil, ErrIntegrityFailed
	}

	sealed, err := cipher.DecodeRecord(ciphertext)
	if err != nil {
		return nil, nil, ErrDecryptionFailed
	}
	plaintext, err := cipher.Decrypt(encKey, sealed)
	if err != nil {
		return nil, nil, ErrDecryptionFailed
	}
	defer cipher.SecureWipe(plaintext)

	var payload Payload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, nil, ErrDecryptionFailed
	}
	return header, &payload, nil
}
