package vault

import "errors"

var (
	// ErrWalletLocked reports an operation that needs the master key while the
	// wallet is locked.
	ErrWalletLocked = errors.New("vault: wallet locked")
	// ErrNotInitialised reports that no wallet exists on disk yet.
	ErrNotInitialised = errors.New("vault: wallet not initialised")
	// ErrAlreadyInitialised reports an Initialise on an existing wallet.
	ErrAlreadyInitialised = errors.New("vault: wallet already initialised")
	// ErrBadPassphrase reports an AEAD authentication failure against the
	// verification blob. Tampering and wrong keys are indistinguishable here
	// on purpose.
	ErrBadPassphrase = errors.New("vault: bad passphrase")
	// ErrCorrupted reports a structurally unreadable wallet file.
	ErrCorrupted = errors.New("vault: wallet file corrupted")
	// ErrReadOnly reports a write attempted through a read-only handle.
	ErrReadOnly = errors.New("vault: opened read-only")

	// ErrIntegrationNotFound reports an unknown integration key.
	ErrIntegrationNotFound = errors.New("vault: integration not found")
	// ErrIntegrationExists reports a duplicate integration key.
	ErrIntegrationExists = errors.New("vault: integration key already exists")
	// ErrBadIntegrationKey reports a key outside [a-z0-9][a-z0-9-]*.
	ErrBadIntegrationKey = errors.New("vault: invalid integration key")
	// ErrCredentialNotFound reports an unknown credential id.
	ErrCredentialNotFound = errors.New("vault: credential not found")
	// ErrCredentialInUse reports a delete of a credential still bound to an
	// integration.
	ErrCredentialInUse = errors.New("vault: credential bound to an integration")
	// ErrToolNotFound reports a tool name with no stored descriptor.
	ErrToolNotFound = errors.New("vault: tool not found")
)
