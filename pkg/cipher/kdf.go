package cipher

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// KDFParams are explicit Argon2id cost parameters. Callers supply them at
// construction time; the codec never varies cost based on the runtime
// environment.
type KDFParams struct {
	Time      uint32 `json:"time" yaml:"time"`
	MemoryKiB uint32 `json:"memory_kib" yaml:"memory_kib"`
	Threads   uint8  `json:"threads" yaml:"threads"`
}

// DefaultKDFParams returns the production Argon2id parameters
// (OWASP-recommended: 64 MB memory, 3 iterations, 4 threads).
func DefaultKDFParams() KDFParams {
	return KDFParams{Time: 3, MemoryKiB: 64 * 1024, Threads: 4}
}

// TestKDFParams returns a reduced-cost preset for test configurations.
// It is a named preset so the reduction is visible in configuration
// rather than inferred from the environment.
func TestKDFParams() KDFParams {
	return KDFParams{Time: 1, MemoryKiB: 64, Threads: 1}
}

// DeriveKey derives a 256-bit key from a passphrase using Argon2id with
// the given parameters. The salt should be SaltLength bytes of
// cryptographically secure random data.
func DeriveKey(passphrase, salt []byte, p KDFParams) []byte {
	return argon2.IDKey(passphrase, salt, p.Time, p.MemoryKiB, p.Threads, KeyLength)
}

// GenerateSalt returns SaltLength bytes of cryptographically secure
// random data.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("cipher: failed to generate salt: %w", err)
	}
	return salt, nil
}
