package vault

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"pkt.systems/walletd/internal/cryptoutil"
	"pkt.systems/walletd/internal/secret"
)

// prefixLen is how many plaintext characters are kept for UI identification.
const prefixLen = 8

// AddCredential encrypts value under the master key and records it. The
// sealed value buffer is consumed: the vault destroys it before returning.
func (v *Vault) AddCredential(provider, name string, kind CredentialKind, value *secret.Buffer) (*Credential, error) {
	defer value.Destroy()

	switch kind {
	case KindAPIKey, KindBearer, KindBasic:
	default:
		return nil, fmt.Errorf("vault: unknown credential kind %q", kind)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != StateUnlocked {
		return nil, ErrWalletLocked
	}

	cred := &Credential{
		ID:        uuid.NewString(),
		Provider:  provider,
		Name:      name,
		Kind:      kind,
		CreatedAt: v.now(),
	}
	err := v.masterKey.Borrow(func(k []byte) error {
		return value.Borrow(func(plaintext []byte) error {
			if len(plaintext) == 0 {
				return errors.New("vault: empty credential value")
			}
			n := prefixLen
			if len(plaintext) < n {
				n = len(plaintext)
			}
			cred.Prefix = string(plaintext[:n]) + "..."
			sealed, err := cryptoutil.Seal(k, plaintext)
			if err != nil {
				return err
			}
			cred.Ciphertext = sealed
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	v.body.Credentials[cred.ID] = cred
	if err := v.saveLocked(); err != nil {
		delete(v.body.Credentials, cred.ID)
		return nil, err
	}
	v.logger.Info("credential added", "credential_id", cred.ID, "provider", provider, "kind", string(kind))
	cp := *cred
	return &cp, nil
}

// GetCredential returns a copy of the credential metadata.
func (v *Vault) GetCredential(id string) (*Credential, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.state != StateUnlocked {
		return nil, ErrWalletLocked
	}
	cred, ok := v.body.Credentials[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCredentialNotFound, id)
	}
	cp := *cred
	return &cp, nil
}

// ListCredentials returns copies of every credential record, sorted by
// creation time then id.
func (v *Vault) ListCredentials() ([]Credential, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.state != StateUnlocked {
		return nil, ErrWalletLocked
	}
	out := make([]Credential, 0, len(v.body.Credentials))
	for _, cred := range v.body.Credentials {
		out = append(out, *cred)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteCredential removes a credential that no integration still binds.
func (v *Vault) DeleteCredential(id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != StateUnlocked {
		return ErrWalletLocked
	}
	if _, ok := v.body.Credentials[id]; !ok {
		return fmt.Errorf("%w: %q", ErrCredentialNotFound, id)
	}
	for _, integ := range v.body.Integrations {
		if integ.CredentialID == id {
			return fmt.Errorf("%w: bound to %q", ErrCredentialInUse, integ.Key)
		}
	}
	delete(v.body.Credentials, id)
	return v.saveLocked()
}

// DecryptCredential opens a credential into a fresh sealed buffer the caller
// owns and must destroy. The last-used timestamp is updated in memory; it
// reaches disk on the next shell-side save, never from the read-only server.
func (v *Vault) DecryptCredential(id string) (*secret.Buffer, error) {
	v.mu.RLock()
	if v.state != StateUnlocked {
		v.mu.RUnlock()
		return nil, ErrWalletLocked
	}
	cred, ok := v.body.Credentials[id]
	if !ok {
		v.mu.RUnlock()
		return nil, fmt.Errorf("%w: %q", ErrCredentialNotFound, id)
	}
	var out *secret.Buffer
	err := v.masterKey.Borrow(func(k []byte) error {
		plaintext, err := cryptoutil.Open(k, cred.Ciphertext)
		if err != nil {
			return err
		}
		out = secret.New(plaintext)
		return nil
	})
	v.mu.RUnlock()
	if err != nil {
		if errors.Is(err, cryptoutil.ErrAuthentication) {
			return nil, ErrBadPassphrase
		}
		if errors.Is(err, cryptoutil.ErrMalformed) {
			return nil, fmt.Errorf("%w: credential blob", ErrCorrupted)
		}
		return nil, err
	}

	v.mu.Lock()
	if v.state == StateUnlocked {
		if cred, ok := v.body.Credentials[id]; ok {
			cred.LastUsedAt = v.now()
		}
	}
	v.mu.Unlock()
	return out, nil
}
