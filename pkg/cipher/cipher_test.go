package cipher

import (
	"bytes"
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

// sealLegacy builds a 1.x record for decryptLegacy tests. The production
// codec offers no legacy write path, so tests frame the blob directly.
func sealLegacy(t *testing.T, key, plaintext []byte, version string) *Record {
	t.Helper()

	salt := make([]byte, legacySaltLength)
	if _, err := rand.Read(salt); err != nil {
		t.Fatalf("failed to generate salt: %v", err)
	}
	iv := make([]byte, legacyIVLength)
	if _, err := rand.Read(iv); err != nil {
		t.Fatalf("failed to generate iv: %v", err)
	}

	subkey := legacySubkey(key, salt)
	block, err := aes.NewCipher(subkey)
	if err != nil {
		t.Fatalf("failed to create cipher: %v", err)
	}
	ciphertext := make([]byte, len(plaintext))
	stdcipher.NewCTR(block, iv).XORKeyStream(ciphertext, plaintext)

	blob := append(append(append([]byte{}, salt...), iv...), ciphertext...)
	return &Record{
		Data:     base64.StdEncoding.EncodeToString(blob),
		Metadata: Metadata{Version: version},
	}
}

func TestDeriveKey(t *testing.T) {
	passphrase := []byte("test-passphrase-123")
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt failed: %v", err)
	}
	params := TestKDFParams()

	key := DeriveKey(passphrase, salt, params)
	if len(key) != KeyLength {
		t.Errorf("DeriveKey() returned key of length %d, want %d", len(key), KeyLength)
	}

	// Same inputs produce the same key.
	key2 := DeriveKey(passphrase, salt, params)
	if !bytes.Equal(key, key2) {
		t.Error("DeriveKey() with same inputs should produce identical keys")
	}

	// Different passphrase produces a different key.
	other := DeriveKey([]byte("different-passphrase"), salt, params)
	if bytes.Equal(key, other) {
		t.Error("DeriveKey() with different passphrase should produce different key")
	}

	// Different salt produces a different key.
	salt2, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt failed: %v", err)
	}
	other = DeriveKey(passphrase, salt2, params)
	if bytes.Equal(key, other) {
		t.Error("DeriveKey() with different salt should produce different key")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey(t)

	plaintexts := [][]byte{
		[]byte("a"),
		[]byte(`{"note":"hello"}`),
		bytes.Repeat([]byte("pain level 7 after walking "), 100),
	}

	for _, plaintext := range plaintexts {
		rec, err := Encrypt(key, plaintext)
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		if rec.Metadata.Version != CurrentVersion {
			t.Errorf("Encrypt() version = %q, want %q", rec.Metadata.Version, CurrentVersion)
		}
		if rec.Checksum != "" {
			t.Errorf("Encrypt() should not set checksum, got %q", rec.Checksum)
		}

		got, err := Decrypt(key, rec)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Errorf("round-trip mismatch: got %q, want %q", got, plaintext)
		}
	}
}

func TestEncryptNonceUniqueness(t *testing.T) {
	key := testKey(t)
	plaintext := []byte("same plaintext")

	rec1, err := Encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	rec2, err := Encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if rec1.Metadata.IV == rec2.Metadata.IV {
		t.Error("Encrypt() reused a nonce across calls")
	}
	if rec1.Data == rec2.Data {
		t.Error("Encrypt() produced identical ciphertext for separate calls")
	}
}

func TestEncryptChecked(t *testing.T) {
	key := testKey(t)
	plaintext := []byte(`{"note":"checked"}`)

	rec, err := EncryptChecked(key, plaintext)
	if err != nil {
		t.Fatalf("EncryptChecked() error = %v", err)
	}
	if rec.Checksum == "" {
		t.Fatal("EncryptChecked() did not set checksum")
	}
	if rec.Checksum != Checksum(plaintext, key) {
		t.Error("checksum does not match Checksum(plaintext, key)")
	}

	got, err := Decrypt(key, rec)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("round-trip mismatch: got %q", got)
	}

	// A wrong stored checksum is reported as corruption.
	rec.Checksum = Checksum([]byte("other"), key)
	if _, err := Decrypt(key, rec); !errors.Is(err, ErrTamperedOrCorrupt) {
		t.Errorf("Decrypt() with bad checksum = %v, want ErrTamperedOrCorrupt", err)
	}
}

func TestDecryptTamperDetection(t *testing.T) {
	key := testKey(t)
	rec, err := Encrypt(key, []byte(`{"note":"hello"}`))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(rec.Data)
	if err != nil {
		t.Fatalf("failed to decode data: %v", err)
	}

	// Flipping any single byte of the ciphertext must fail authentication.
	for i := range ciphertext {
		tampered := append([]byte{}, ciphertext...)
		tampered[i] ^= 0x01
		bad := *rec
		bad.Data = base64.StdEncoding.EncodeToString(tampered)
		if _, err := Decrypt(key, &bad); !errors.Is(err, ErrTamperedOrCorrupt) {
			t.Fatalf("Decrypt() with byte %d flipped = %v, want ErrTamperedOrCorrupt", i, err)
		}
	}
}

func TestDecryptWrongKey(t *testing.T) {
	key := testKey(t)
	rec, err := Encrypt(key, []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if _, err := Decrypt(testKey(t), rec); !errors.Is(err, ErrTamperedOrCorrupt) {
		t.Errorf("Decrypt() with wrong key = %v, want ErrTamperedOrCorrupt", err)
	}
}

func TestDecryptUnsupportedFormat(t *testing.T) {
	key := testKey(t)
	rec, err := Encrypt(key, []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	for _, version := range []string{"3.0.0", "2.1", "0.9.0", "garbage"} {
		bad := *rec
		bad.Metadata.Version = version
		if _, err := Decrypt(key, &bad); !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("Decrypt() with version %q = %v, want ErrUnsupportedFormat", version, err)
		}
	}
}

func TestDecryptLegacy(t *testing.T) {
	key := testKey(t)
	plaintext := []byte(`{"note":"migrated from the old app","pain":6}`)

	for _, version := range []string{"1.0.0", "1.2.3", "1.9"} {
		rec := sealLegacy(t, key, plaintext, version)
		got, err := Decrypt(key, rec)
		if err != nil {
			t.Fatalf("Decrypt() legacy %s error = %v", version, err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Errorf("legacy round-trip mismatch for %s", version)
		}
	}
}

func TestDecryptLegacyWrongKey(t *testing.T) {
	key := testKey(t)
	rec := sealLegacy(t, key, []byte(`{"note":"plausible json"}`), "1.0.0")

	if _, err := Decrypt(testKey(t), rec); !errors.Is(err, ErrWrongKey) {
		t.Errorf("Decrypt() legacy with wrong key = %v, want ErrWrongKey", err)
	}
}

func TestDecryptLegacyTruncated(t *testing.T) {
	key := testKey(t)
	rec := &Record{
		Data:     base64.StdEncoding.EncodeToString([]byte("short")),
		Metadata: Metadata{Version: "1.0.0"},
	}
	if _, err := Decrypt(key, rec); !errors.Is(err, ErrTamperedOrCorrupt) {
		t.Errorf("Decrypt() truncated legacy = %v, want ErrTamperedOrCorrupt", err)
	}
}

func TestDecryptInvalidKeyLength(t *testing.T) {
	rec := &Record{Data: "AA==", Metadata: Metadata{Version: CurrentVersion, IV: "AAAAAAAAAAAAAAAA"}}
	if _, err := Decrypt([]byte("short"), rec); !errors.Is(err, ErrInvalidKeyLength) {
		t.Errorf("Decrypt() short key = %v, want ErrInvalidKeyLength", err)
	}
	if _, err := Encrypt([]byte("short"), []byte("x")); !errors.Is(err, ErrInvalidKeyLength) {
		t.Errorf("Encrypt() short key = %v, want ErrInvalidKeyLength", err)
	}
}

func TestRecordEncodeDecode(t *testing.T) {
	key := testKey(t)
	rec, err := EncryptChecked(key, []byte(`{"note":"wire"}`))
	if err != nil {
		t.Fatalf("EncryptChecked() error = %v", err)
	}

	data, err := rec.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	decoded, err := DecodeRecord(data)
	if err != nil {
		t.Fatalf("DecodeRecord() error = %v", err)
	}
	if decoded.Data != rec.Data || decoded.Metadata != rec.Metadata || decoded.Checksum != rec.Checksum {
		t.Error("decoded record differs from original")
	}

	if _, err := DecodeRecord([]byte("not json")); !errors.Is(err, ErrTamperedOrCorrupt) {
		t.Errorf("DecodeRecord() garbage = %v, want ErrTamperedOrCorrupt", err)
	}
	if _, err := DecodeRecord([]byte(`{"metadata":{"version":"2.0.0"}}`)); !errors.Is(err, ErrTamperedOrCorrupt) {
		t.Errorf("DecodeRecord() missing data = %v, want ErrTamperedOrCorrupt", err)
	}
}
