// Package vault is the controller that gates every encrypted-record
// operation behind an explicit lifecycle:
//
//	Uninitialized -> Locked -> Unlocked -> Wiped
//
// Setup derives a key-encryption key from the user passphrase, generates
// a random data-encryption key (DEK), and stores the DEK wrapped under
// the KEK as the unlock verifier. Unlock re-derives the KEK and attempts
// to open the verifier; an authentication failure is the only evidence
// of a wrong passphrase, and each one increments a persisted counter.
// When the counter reaches the configured limit the kill switch fires an
// emergency wipe and the vault is Wiped for good: the identity is gone
// and only a fresh Setup (with a new identity) can follow.
//
// Storage faults during unlock are retryable and never counted as
// failed attempts; only a verifier authentication failure is.
package vault

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/painjournal/vaultkit/internal/config"
	"github.com/painjournal/vaultkit/pkg/audit"
	"github.com/painjournal/vaultkit/pkg/cipher"
	"github.com/painjournal/vaultkit/pkg/keymgr"
	"github.com/painjournal/vaultkit/pkg/storage"
	"github.com/painjournal/vaultkit/pkg/wipe"
)

const (
	MinPassphraseLength = 8
	MaxPassphraseLength = 128

	saltKey     = storage.MetaPrefix + "salt"
	verifierKey = storage.MetaPrefix + "verifier"
	identityKey = storage.MetaPrefix + "identity"
	attemptsKey = storage.MetaPrefix + "attempts"
)

// Errors
var (
	ErrVaultExists        = errors.New("vault: vault already initialized")
	ErrNotInitialized     = errors.New("vault: vault not initialized")
	ErrVaultLocked        = errors.New("vault: vault is locked")
	ErrAlreadyUnlocked    = errors.New("vault: vault is already unlocked")
	ErrInvalidPassphrase  = errors.New("vault: invalid passphrase")
	ErrLockedOut          = errors.New("vault: too many failed attempts, vault wiped")
	ErrAlreadyWiped       = errors.New("vault: vault has been wiped")
	ErrPassphraseTooShort = errors.New("vault: passphrase must be at least 8 characters")
	ErrPassphraseTooLong  = errors.New("vault: passphrase must be at most 128 characters")
)

// State is the lifecycle phase of the vault.
type State int

const (
	StateUninitialized State = iota
	StateLocked
	StateUnlocked
	StateWiped
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLocked:
		return "locked"
	case StateUnlocked:
		return "unlocked"
	case StateWiped:
		return "wiped"
	default:
		return "unknown"
	}
}

// Identity names one generation of the vault. A wipe destroys the
// identity; re-setup mints a new one so keyring entries and audit
// chains never straddle a wipe.
type Identity struct {
	ID        string    `json:"id"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// attemptState tracks consecutive failed unlocks. Persisted so the
// counter survives a restart.
type attemptState struct {
	FailedAttempts int       `json:"failed_attempts"`
	LastAttempt    time.Time `json:"last_attempt"`
}

// Status is a point-in-time snapshot for display.
type Status struct {
	State          State  `json:"state"`
	VaultID        string `json:"vault_id,omitempty"`
	FailedAttempts int    `json:"failed_attempts"`
	KeyPersisted   bool   `json:"key_persisted"`
}

// Controller owns the vault lifecycle and the encrypted record path.
type Controller struct {
	cfg      config.Config
	registry *storage.Registry
	kv       storage.Surface // durable meta + verifier
	primary  storage.Surface // authoritative record surface
	mirrors  []storage.Surface
	keys     *keymgr.Manager
	audit    *audit.Logger
	wiper    *wipe.Orchestrator

	mu       sync.RWMutex
	state    State
	identity Identity

	// wiped is set by the orchestrator's finalize callback, which may
	// run while mu is held by the triggering operation.
	wiped atomic.Bool

	// lastActivity is the unix-nano timestamp of the most recent
	// session-key use, read by the idle auto-lock loop.
	lastActivity atomic.Int64

	recMu   sync.Mutex
	recLock map[string]*sync.Mutex
}

// New builds a controller over the registered surfaces. The registry
// must contain a surface named "kv"; it holds vault metadata and the
// unlock verifier. A surface named "db" becomes the authoritative
// record store when present, otherwise records live on the kv surface.
// Any "cache" and "memory" surfaces are kept as read-through mirrors.
func New(cfg config.Config, registry *storage.Registry, auditLog *audit.Logger) (*Controller, error) {
	kv, ok := registry.Lookup("kv")
	if !ok {
		return nil, fmt.Errorf("%w: no durable kv surface registered", storage.ErrSurfaceUnavailable)
	}

	primary := kv
	if db, ok := registry.Lookup("db"); ok {
		primary = db
	}
	var mirrors []storage.Surface
	for _, name := range []string{"cache", "memory"} {
		if s, ok := registry.Lookup(name); ok {
			mirrors = append(mirrors, s)
		}
	}

	if auditLog == nil {
		auditLog = audit.NewLogger(filepath.Join(cfg.VaultDir, "audit"))
	}

	c := &Controller{
		cfg:      cfg,
		registry: registry,
		kv:       kv,
		primary:  primary,
		mirrors:  mirrors,
		audit:    auditLog,
		recLock:  make(map[string]*sync.Mutex),
	}
	c.wiper = wipe.New(registry, auditLog, c.finalizeWiped)

	if err := c.loadIdentity(); err != nil {
		return nil, err
	}
	return c, nil
}

// Wiper exposes the deletion orchestrator so callers can schedule
// buffered clears with the same finalize wiring as the kill switch.
func (c *Controller) Wiper() *wipe.Orchestrator { return c.wiper }

// AuditLogger returns the audit logger for verification commands.
func (c *Controller) AuditLogger() *audit.Logger { return c.audit }

// loadIdentity reads the stored identity, if any, and sets the initial
// state.
func (c *Controller) loadIdentity() error {
	blob, err := c.kv.Get(identityKey)
	if errors.Is(err, storage.ErrNotFound) {
		c.state = StateUninitialized
		return nil
	}
	if err != nil {
		return err
	}
	var id Identity
	if err := json.Unmarshal(blob, &id); err != nil {
		return fmt.Errorf("vault: corrupt identity record: %w", err)
	}
	c.identity = id
	c.keys = keymgr.New(c.kv, id.ID, keymgr.Config{KDF: c.cfg.KDF, UseKeyring: c.cfg.UseKeyring})
	c.state = StateLocked
	return nil
}

func validatePassphrase(passphrase []byte) error {
	if len(passphrase) < MinPassphraseLength {
		return ErrPassphraseTooShort
	}
	if len(passphrase) > MaxPassphraseLength {
		return ErrPassphraseTooLong
	}
	return nil
}

// Setup initializes the vault with a fresh identity and leaves it
// unlocked. Allowed from Uninitialized, and from Wiped to start over
// with a new identity.
func (c *Controller) Setup(passphrase []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.currentState() {
	case StateLocked, StateUnlocked:
		return ErrVaultExists
	}
	if err := validatePassphrase(passphrase); err != nil {
		return err
	}

	salt, err := cipher.GenerateSalt()
	if err != nil {
		return err
	}

	id := Identity{
		ID:        uuid.NewString(),
		Version:   cipher.CurrentVersion,
		CreatedAt: time.Now().UTC(),
	}
	keys := keymgr.New(c.kv, id.ID, keymgr.Config{KDF: c.cfg.KDF, UseKeyring: c.cfg.UseKeyring})

	kek := keys.DeriveFromPassphrase(passphrase, salt)
	defer cipher.SecureWipe(kek)

	dek := make([]byte, cipher.KeyLength)
	if _, err := rand.Read(dek); err != nil {
		return fmt.Errorf("vault: failed to generate data key: %w", err)
	}

	verifier, err := cipher.Encrypt(kek, dek)
	if err != nil {
		cipher.SecureWipe(dek)
		return fmt.Errorf("vault: failed to wrap data key: %w", err)
	}
	verifierBlob, err := verifier.Encode()
	if err != nil {
		cipher.SecureWipe(dek)
		return err
	}
	idBlob, err := json.Marshal(id)
	if err != nil {
		cipher.SecureWipe(dek)
		return err
	}

	// Identity goes last: a crash mid-setup must leave no identity
	// record, so the next open still reports Uninitialized instead of
	// Locked over a missing verifier.
	writes := []struct {
		key   string
		value []byte
	}{
		{saltKey, salt},
		{verifierKey, verifierBlob},
		{identityKey, idBlob},
	}
	for _, w := range writes {
		if err := c.kv.Put(w.key, w.value); err != nil {
			cipher.SecureWipe(dek)
			return err
		}
	}
	_ = c.kv.Delete(attemptsKey)

	keys.Store(dek)
	if err := keys.Persist(); err != nil {
		// Volatile fallback: the session works, the key will not
		// survive a restart.
		log.Printf("vault: session key not persisted: %v", err)
	}

	c.identity = id
	c.keys = keys
	c.state = StateUnlocked
	c.wiped.Store(false)
	c.wiper.Rearm()
	c.touchActivity()

	if err := c.audit.SetHMACKey(dek); err != nil {
		log.Printf("vault: audit logger unavailable: %v", err)
	} else {
		_ = c.audit.LogSuccess(audit.OpVaultSetup, "")
	}
	return nil
}

// Unlock opens the vault with the passphrase. A wrong passphrase
// increments the persisted failure counter; reaching the limit fires
// the kill switch. Storage faults are returned as-is and do not count.
func (c *Controller) Unlock(passphrase []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.currentState() {
	case StateWiped:
		return ErrAlreadyWiped
	case StateUninitialized:
		return ErrNotInitialized
	case StateUnlocked:
		return ErrAlreadyUnlocked
	}

	attempts, err := c.loadAttempts()
	if err != nil {
		return err
	}
	if c.cfg.KillSwitchEnabled && attempts.FailedAttempts >= c.cfg.MaxFailedAttempts {
		// The limit was reached in an earlier session but the wipe
		// never completed. Finish the job now.
		return c.killSwitch()
	}

	salt, err := c.kv.Get(saltKey)
	if err != nil {
		return fmt.Errorf("vault: failed to read salt: %w", err)
	}
	if len(salt) != cipher.SaltLength {
		return fmt.Errorf("vault: corrupt salt record (%d bytes)", len(salt))
	}
	verifierBlob, err := c.kv.Get(verifierKey)
	if err != nil {
		return fmt.Errorf("vault: failed to read verifier: %w", err)
	}
	verifier, err := cipher.DecodeRecord(verifierBlob)
	if err != nil {
		return fmt.Errorf("vault: corrupt verifier record: %w", err)
	}

	kek := c.keys.DeriveFromPassphrase(passphrase, salt)
	defer cipher.SecureWipe(kek)

	dek, err := cipher.Decrypt(kek, verifier)
	if err != nil {
		if !errors.Is(err, cipher.ErrTamperedOrCorrupt) {
			return fmt.Errorf("vault: failed to open verifier: %w", err)
		}
		_ = c.audit.LogError(audit.OpVaultUnlockFailed, "", "AUTH_FAILED", "verifier rejected passphrase")
		attempts.FailedAttempts++
		attempts.LastAttempt = time.Now().UTC()
		if saveErr := c.saveAttempts(attempts); saveErr != nil {
			log.Printf("vault: failed to record unlock attempt: %v", saveErr)
		}
		if c.cfg.KillSwitchEnabled && attempts.FailedAttempts >= c.cfg.MaxFailedAttempts {
			return c.killSwitch()
		}
		return ErrInvalidPassphrase
	}

	c.keys.Store(dek)
	if err := c.keys.Persist(); err != nil {
		log.Printf("vault: session key not persisted: %v", err)
	}
	if err := c.kv.Delete(attemptsKey); err != nil {
		log.Printf("vault: failed to reset attempt counter: %v", err)
	}

	c.state = StateUnlocked
	c.touchActivity()
	if err := c.audit.SetHMACKey(dek); err != nil {
		log.Printf("vault: audit logger unavailable: %v", err)
	} else {
		_ = c.audit.LogSuccess(audit.OpVaultUnlock, "")
	}
	return nil
}

// killSwitch is the point of no return: wipe every surface and seal
// the Wiped state. Caller holds mu.
func (c *Controller) killSwitch() error {
	_ = c.audit.LogError(audit.OpKillSwitch, "", "MAX_ATTEMPTS", "failed unlock limit reached")
	c.wiper.EmergencyWipe("kill switch")
	c.state = StateWiped
	return ErrLockedOut
}

// ResumeSession restores an unlocked session from the persisted wrapped
// key, when keyring persistence is enabled and a copy survived.
func (c *Controller) ResumeSession() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.currentState() {
	case StateWiped:
		return ErrAlreadyWiped
	case StateUninitialized:
		return ErrNotInitialized
	case StateUnlocked:
		return nil
	}

	dek, err := c.keys.LoadPersisted()
	if err != nil {
		return err
	}
	c.state = StateUnlocked
	c.touchActivity()
	if err := c.audit.SetHMACKey(dek); err != nil {
		log.Printf("vault: audit logger unavailable: %v", err)
	} else {
		_ = c.audit.LogSuccess(audit.OpVaultUnlock, "")
	}
	return nil
}

// Lock drops the session key, including any persisted wrapped copy.
func (c *Controller) Lock() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.currentState() != StateUnlocked {
		return
	}
	_ = c.audit.LogSuccess(audit.OpVaultLock, "")
	c.keys.Clear()
	c.state = StateLocked
}

// StartAutoLock locks the vault after idle time without session-key
// use. It returns a stop function for shutdown; stopping the loop does
// not lock. A non-positive idle disables the loop.
func (c *Controller) StartAutoLock(idle time.Duration) (stop func()) {
	if idle <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		tick := time.NewTicker(idle / 4)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				if c.CurrentState() != StateUnlocked {
					continue
				}
				last := time.Unix(0, c.lastActivity.Load())
				if time.Since(last) >= idle {
					c.Lock()
				}
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// touchActivity resets the idle auto-lock clock.
func (c *Controller) touchActivity() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// TriggerEmergencyWipe is the user-facing panic action. It works from
// any state, is idempotent, and seals Wiped even when individual
// surfaces fail.
func (c *Controller) TriggerEmergencyWipe(reason string) *wipe.Report {
	report := c.wiper.EmergencyWipe(reason)

	c.mu.Lock()
	c.state = StateWiped
	c.mu.Unlock()
	return report
}

// finalizeWiped runs from the wipe orchestrator after every surface was
// attempted. It must not take mu: the kill-switch path holds it.
func (c *Controller) finalizeWiped() {
	c.wiped.Store(true)
	if c.keys != nil {
		c.keys.Clear()
	}
}

// currentState folds the wipe flag into the stored state. Caller holds
// mu (read or write).
func (c *Controller) currentState() State {
	if c.wiped.Load() {
		return StateWiped
	}
	return c.state
}

// CurrentState returns the lifecycle state.
func (c *Controller) CurrentState() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentState()
}

// Status returns a snapshot for display.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Status{State: c.currentState(), VaultID: c.identity.ID}
	if attempts, err := c.loadAttempts(); err == nil {
		st.FailedAttempts = attempts.FailedAttempts
	}
	if c.keys != nil {
		st.KeyPersisted = c.keys.IsPersisted()
	}
	return st
}

func (c *Controller) loadAttempts() (*attemptState, error) {
	blob, err := c.kv.Get(attemptsKey)
	if errors.Is(err, storage.ErrNotFound) {
		return &attemptState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("vault: failed to read attempt counter: %w", err)
	}
	var state attemptState
	if err := json.Unmarshal(blob, &state); err != nil {
		// Corrupt counter resets rather than locking the user out.
		return &attemptState{}, nil
	}
	return &state, nil
}

func (c *Controller) saveAttempts(state *attemptState) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return c.kv.Put(attemptsKey, blob)
}
