package vault

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/walletd/internal/cryptoutil"
	"pkt.systems/walletd/internal/secret"
	"pkt.systems/walletd/internal/svcfields"
)

// Options configures a vault handle.
type Options struct {
	// Dir is the per-user data directory holding wallet.json.
	Dir string
	// Logger defaults to a no-op logger.
	Logger pslog.Logger
	// ReadOnly rejects every mutation that would rewrite wallet.json. The
	// headless server opens the vault this way; only the shell writes.
	ReadOnly bool
	// Now overrides the clock for tests.
	Now func() time.Time
}

// Vault is the wallet state machine plus the decrypted registries while
// unlocked. All exported methods are safe for concurrent use; registry writes
// serialise on one exclusive lock, reads share it.
type Vault struct {
	dir      string
	logger   pslog.Logger
	now      func() time.Time
	readOnly bool

	mu         sync.RWMutex
	state      State
	loadErr    error
	doc        *fileDocument
	body       *bodyDocument
	masterKey  *secret.Buffer
	unlockedAt time.Time
}

// Open binds a vault handle to dir and determines the initial state from the
// presence of wallet.json. A structurally broken file leaves the vault in
// Locked state with every unlock reporting ErrCorrupted; Reset recovers.
func Open(opts Options) (*Vault, error) {
	logger := opts.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	v := &Vault{
		dir:      opts.Dir,
		logger:   svcfields.WithSubsystem(logger, "vault.store"),
		now:      now,
		readOnly: opts.ReadOnly,
		state:    StateLoading,
	}

	doc, err := readDocument(v.walletPath())
	switch {
	case err == nil:
		v.doc = doc
		v.state = StateLocked
	case errors.Is(err, fs.ErrNotExist):
		v.state = StateNotInitialised
	default:
		v.loadErr = err
		v.state = StateLocked
		v.logger.Warn("wallet document unreadable", "error", err)
	}
	return v, nil
}

// State reports the current lifecycle position.
func (v *Vault) State() State {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

// UnlockedSince reports when the wallet was last unlocked; zero when locked.
func (v *Vault) UnlockedSince() time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.unlockedAt
}

// Dir returns the data directory the vault is bound to.
func (v *Vault) Dir() string { return v.dir }

// Initialise creates a fresh wallet: random salt, derived master key, random
// verification plaintext, empty registries. The wallet is left Locked; the
// caller unlocks with the same passphrase to start working.
func (v *Vault) Initialise(passphrase []byte) error {
	v.mu.RLock()
	state := v.state
	v.mu.RUnlock()
	if state != StateNotInitialised {
		return ErrAlreadyInitialised
	}
	if v.readOnly {
		return ErrReadOnly
	}

	salt, err := cryptoutil.GenerateSalt()
	if err != nil {
		return err
	}
	params := cryptoutil.DefaultKDFParams()
	// The KDF is deliberately slow; it runs before the vault lock is taken.
	key := cryptoutil.DeriveKey(passphrase, salt, params)
	defer key.Destroy()

	verification := make([]byte, verificationSize)
	if _, err := rand.Read(verification); err != nil {
		return fmt.Errorf("generate verification plaintext: %w", err)
	}
	defer secret.Zero(verification)

	body := newBodyDocument()

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != StateNotInitialised {
		return ErrAlreadyInitialised
	}
	doc := &fileDocument{
		Version: documentVersion,
		KDF:     kdfHeader{Salt: salt, Params: params},
	}
	err = key.Borrow(func(k []byte) error {
		var err error
		if doc.Verify, err = cryptoutil.Seal(k, verification); err != nil {
			return err
		}
		plaintext, err := json.Marshal(body)
		if err != nil {
			return err
		}
		defer secret.Zero(plaintext)
		doc.Body, err = cryptoutil.Seal(k, plaintext)
		return err
	})
	if err != nil {
		return fmt.Errorf("seal wallet document: %w", err)
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode wallet document: %w", err)
	}
	if err := writeFileAtomic(v.walletPath(), payload, 0o600); err != nil {
		return err
	}
	v.doc = doc
	v.loadErr = nil
	v.state = StateLocked
	v.logger.Info("wallet initialised", "dir", v.dir)
	return nil
}

// Unlock derives a candidate key from the passphrase and admits it iff the
// verification blob authenticates. Unlocking an unlocked wallet is a no-op.
func (v *Vault) Unlock(passphrase []byte) error {
	v.mu.RLock()
	state, loadErr := v.state, v.loadErr
	var salt []byte
	var params cryptoutil.KDFParams
	if v.doc != nil {
		salt = append([]byte(nil), v.doc.KDF.Salt...)
		params = v.doc.KDF.Params
	}
	v.mu.RUnlock()

	switch {
	case state == StateNotInitialised:
		return ErrNotInitialised
	case state == StateUnlocked:
		return nil
	case loadErr != nil:
		return loadErr
	}

	key := cryptoutil.DeriveKey(passphrase, salt, params)
	if err := v.admitKey(key); err != nil {
		key.Destroy()
		return err
	}
	return nil
}

// UnlockWithKey admits a master key recovered from a session token. The key
// is owned by the vault on success and destroyed on failure.
func (v *Vault) UnlockWithKey(key *secret.Buffer) error {
	v.mu.RLock()
	state, loadErr := v.state, v.loadErr
	v.mu.RUnlock()

	switch {
	case state == StateNotInitialised:
		key.Destroy()
		return ErrNotInitialised
	case state == StateUnlocked:
		key.Destroy()
		return nil
	case loadErr != nil:
		key.Destroy()
		return loadErr
	}
	if err := v.admitKey(key); err != nil {
		key.Destroy()
		return err
	}
	return nil
}

func (v *Vault) admitKey(key *secret.Buffer) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == StateUnlocked {
		return nil
	}
	if v.doc == nil {
		if v.loadErr != nil {
			return v.loadErr
		}
		return ErrNotInitialised
	}

	var body bodyDocument
	err := key.Borrow(func(k []byte) error {
		verification, err := cryptoutil.Open(k, v.doc.Verify)
		if err != nil {
			return err
		}
		secret.Zero(verification)

		plaintext, err := cryptoutil.Open(k, v.doc.Body)
		if err != nil {
			return err
		}
		defer secret.Zero(plaintext)
		if err := json.Unmarshal(plaintext, &body); err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupted, err)
		}
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, cryptoutil.ErrAuthentication):
		return ErrBadPassphrase
	case errors.Is(err, cryptoutil.ErrMalformed):
		return fmt.Errorf("%w: truncated blob", ErrCorrupted)
	case errors.Is(err, ErrCorrupted):
		return err
	default:
		return err
	}

	if body.Integrations == nil {
		body.Integrations = make(map[string]*Integration)
	}
	if body.Credentials == nil {
		body.Credentials = make(map[string]*Credential)
	}
	v.body = &body
	v.masterKey = key
	v.unlockedAt = v.now()
	v.state = StateUnlocked
	v.logger.Info("wallet unlocked")
	return nil
}

// Lock wipes the in-memory master key and registries. Callers also clear the
// session file; the vault does not own it. Locking an uninitialised or
// already locked wallet is a no-op.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lockLocked()
}

func (v *Vault) lockLocked() {
	if v.masterKey != nil {
		v.masterKey.Destroy()
		v.masterKey = nil
	}
	v.body = nil
	v.unlockedAt = time.Time{}
	if v.state == StateUnlocked {
		v.state = StateLocked
		v.logger.Info("wallet locked")
	}
}

// AutoLockCheck locks the wallet when now has passed the unlock instant plus
// timeout. A timeout of zero disables auto-lock. Reports whether a lock
// happened.
func (v *Vault) AutoLockCheck(now time.Time, timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != StateUnlocked || v.unlockedAt.IsZero() {
		return false
	}
	if now.Before(v.unlockedAt.Add(timeout)) {
		return false
	}
	v.logger.Info("auto-lock deadline reached", "unlocked_at", v.unlockedAt, "timeout", timeout.String())
	v.lockLocked()
	return true
}

// Save serialises the registries and rewrites wallet.json atomically.
func (v *Vault) Save() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.saveLocked()
}

func (v *Vault) saveLocked() error {
	if v.state != StateUnlocked {
		return ErrWalletLocked
	}
	if v.readOnly {
		return ErrReadOnly
	}
	plaintext, err := json.Marshal(v.body)
	if err != nil {
		return fmt.Errorf("encode registries: %w", err)
	}
	defer secret.Zero(plaintext)

	err = v.masterKey.Borrow(func(k []byte) error {
		blob, err := cryptoutil.Seal(k, plaintext)
		if err != nil {
			return err
		}
		v.doc.Body = blob
		return nil
	})
	if err != nil {
		return fmt.Errorf("seal registries: %w", err)
	}
	payload, err := json.Marshal(v.doc)
	if err != nil {
		return fmt.Errorf("encode wallet document: %w", err)
	}
	return writeFileAtomic(v.walletPath(), payload, 0o600)
}

// Reset deletes the wallet document and returns to NotInitialised. The caller
// clears the session file alongside.
func (v *Vault) Reset() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.readOnly {
		return ErrReadOnly
	}
	v.lockLocked()
	if err := os.Remove(v.walletPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove wallet document: %w", err)
	}
	v.doc = nil
	v.loadErr = nil
	v.state = StateNotInitialised
	v.logger.Info("wallet reset", "dir", v.dir)
	return nil
}

// BorrowMasterKey exposes the master key to fn under the read lock. Session
// creation is the only intended caller.
func (v *Vault) BorrowMasterKey(fn func(key []byte) error) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.state != StateUnlocked || v.masterKey == nil {
		return ErrWalletLocked
	}
	return v.masterKey.Borrow(fn)
}

// ChangePassphrase re-keys the wallet: fresh salt, fresh verification
// plaintext, every credential re-encrypted under the new master key.
func (v *Vault) ChangePassphrase(oldPassphrase, newPassphrase []byte) error {
	v.mu.RLock()
	state := v.state
	var salt []byte
	var params cryptoutil.KDFParams
	if v.doc != nil {
		salt = append([]byte(nil), v.doc.KDF.Salt...)
		params = v.doc.KDF.Params
	}
	v.mu.RUnlock()

	if state == StateNotInitialised {
		return ErrNotInitialised
	}
	if state != StateUnlocked {
		return ErrWalletLocked
	}
	if v.readOnly {
		return ErrReadOnly
	}

	oldKey := cryptoutil.DeriveKey(oldPassphrase, salt, params)
	defer oldKey.Destroy()

	newSalt, err := cryptoutil.GenerateSalt()
	if err != nil {
		return err
	}
	newParams := cryptoutil.DefaultKDFParams()
	newKey := cryptoutil.DeriveKey(newPassphrase, newSalt, newParams)

	verification := make([]byte, verificationSize)
	if _, err := rand.Read(verification); err != nil {
		newKey.Destroy()
		return fmt.Errorf("generate verification plaintext: %w", err)
	}
	defer secret.Zero(verification)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != StateUnlocked {
		newKey.Destroy()
		return ErrWalletLocked
	}
	if !v.masterKey.Equal(oldKey) {
		newKey.Destroy()
		return ErrBadPassphrase
	}

	err = newKey.Borrow(func(nk []byte) error {
		return v.masterKey.Borrow(func(ok []byte) error {
			for id, cred := range v.body.Credentials {
				plaintext, err := cryptoutil.Open(ok, cred.Ciphertext)
				if err != nil {
					return fmt.Errorf("re-encrypt credential %s: %w", id, err)
				}
				sealed, err := cryptoutil.Seal(nk, plaintext)
				secret.Zero(plaintext)
				if err != nil {
					return fmt.Errorf("re-encrypt credential %s: %w", id, err)
				}
				cred.Ciphertext = sealed
			}
			var err error
			v.doc.Verify, err = cryptoutil.Seal(nk, verification)
			return err
		})
	})
	if err != nil {
		newKey.Destroy()
		return err
	}
	v.doc.KDF = kdfHeader{Salt: newSalt, Params: newParams}
	v.masterKey.Destroy()
	v.masterKey = newKey
	if err := v.saveLocked(); err != nil {
		return err
	}
	v.logger.Info("passphrase changed")
	return nil
}
