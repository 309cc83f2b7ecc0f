// Package config defines the explicit configuration of the vault
// subsystem. Every behavioral knob, including KDF cost, is a named
// field supplied by the caller; nothing is inferred from the runtime
// environment inside the crypto path.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/painjournal/vaultkit/pkg/cipher"
)

// Config controls the vault subsystem.
type Config struct {
	// VaultDir is the directory holding all persistent surfaces.
	VaultDir string `yaml:"vault_dir"`

	// MaxFailedAttempts is the kill-switch threshold.
	MaxFailedAttempts int `yaml:"max_failed_attempts"`

	// KillSwitchEnabled arms the automatic wipe on repeated failed
	// unlocks. Defaults on.
	KillSwitchEnabled bool `yaml:"kill_switch_enabled"`

	// CancelWindowMS is the grace period of a buffered clear, in
	// milliseconds.
	CancelWindowMS int `yaml:"cancel_window_ms"`

	// IntegrityChecksums adds a plaintext checksum to every record for
	// corruption detection beyond the GCM tag.
	IntegrityChecksums bool `yaml:"integrity_checksums"`

	// UseKeyring enables caching wrapped key material via the OS keyring.
	UseKeyring bool `yaml:"use_keyring"`

	// KDF is the Argon2id cost configuration.
	KDF cipher.KDFParams `yaml:"kdf"`
}

// Default returns the production configuration rooted at dir.
func Default(dir string) Config {
	return Config{
		VaultDir:           dir,
		MaxFailedAttempts:  5,
		KillSwitchEnabled:  true,
		CancelWindowMS:     10000,
		IntegrityChecksums: true,
		UseKeyring:         true,
		KDF:                cipher.DefaultKDFParams(),
	}
}

// Test returns a configuration with the named reduced-cost KDF preset
// for test runs. The reduction is selected here, by name, never by
// environment detection inside the crypto path.
func Test(dir string) Config {
	cfg := Default(dir)
	cfg.KDF = cipher.TestKDFParams()
	cfg.UseKeyring = false
	return cfg
}

// Load reads a YAML config file, applying defaults for absent fields.
// A missing file yields the defaults.
func Load(dir string) (Config, error) {
	cfg := Default(dir)
	path := filepath.Join(dir, "config.yaml")

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	if cfg.VaultDir == "" {
		cfg.VaultDir = dir
	}
	if cfg.MaxFailedAttempts <= 0 {
		cfg.MaxFailedAttempts = 5
	}
	return cfg, nil
}

// CancelWindow returns the buffered-clear grace period as a duration.
func (c Config) CancelWindow() time.Duration {
	return time.Duration(c.CancelWindowMS) * time.Millisecond
}
