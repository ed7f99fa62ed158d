// Package vault owns the encrypted wallet document: the integration and
// credential registries, the state machine guarding the master key, and the
// atomic on-disk representation.
package vault

import (
	"time"

	"pkt.systems/walletd/internal/cryptoutil"
	"pkt.systems/walletd/internal/openapi"
)

// State is the wallet lifecycle position.
type State string

// Wallet states. Only Unlocked exposes decrypt and write operations.
const (
	StateLoading        State = "loading"
	StateNotInitialised State = "not_initialised"
	StateLocked         State = "locked"
	StateUnlocked       State = "unlocked"
)

// IntegrationStatus tracks an integration's readiness.
type IntegrationStatus string

// Integration statuses.
const (
	StatusPending  IntegrationStatus = "pending"
	StatusActive   IntegrationStatus = "active"
	StatusError    IntegrationStatus = "error"
	StatusDisabled IntegrationStatus = "disabled"
)

// CredentialKind distinguishes how a secret is presented upstream.
type CredentialKind string

// Credential kinds.
const (
	KindAPIKey CredentialKind = "api_key"
	KindBearer CredentialKind = "bearer"
	KindBasic  CredentialKind = "basic"
)

// Integration is one configured upstream API.
type Integration struct {
	Key          string              `json:"key"`
	Name         string              `json:"name"`
	Description  string              `json:"description,omitempty"`
	SpecURL      string              `json:"spec_url,omitempty"`
	ServerURL    string              `json:"server_url,omitempty"`
	Status       IntegrationStatus   `json:"status"`
	CredentialID string              `json:"credential_id,omitempty"`
	Auth         openapi.AuthSpec    `json:"auth"`
	Operations   []openapi.Operation `json:"operations,omitempty"`
	LastSyncedAt time.Time           `json:"last_synced_at,omitzero"`
	LastError    string              `json:"last_error,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// Credential is the stored metadata plus ciphertext of one secret. Prefix is
// the plaintext first eight characters followed by "..." kept for UI
// identification.
type Credential struct {
	ID         string         `json:"id"`
	Provider   string         `json:"provider"`
	Name       string         `json:"name"`
	Kind       CredentialKind `json:"kind"`
	Prefix     string         `json:"prefix,omitempty"`
	Ciphertext []byte         `json:"ciphertext"`
	CreatedAt  time.Time      `json:"created_at"`
	LastUsedAt time.Time      `json:"last_used_at,omitzero"`
}

// fileDocument is the persisted wallet.json shape.
type fileDocument struct {
	Version int       `json:"version"`
	KDF     kdfHeader `json:"kdf"`
	Verify  []byte    `json:"verify"`
	Body    []byte    `json:"body"`
}

type kdfHeader struct {
	Salt   []byte               `json:"salt"`
	Params cryptoutil.KDFParams `json:"params"`
}

// bodyDocument is the plaintext registries document sealed into the Body
// blob.
type bodyDocument struct {
	Integrations map[string]*Integration `json:"integrations"`
	Credentials  map[string]*Credential  `json:"credentials"`
}

func newBodyDocument() *bodyDocument {
	return &bodyDocument{
		Integrations: make(map[string]*Integration),
		Credentials:  make(map[string]*Credential),
	}
}

const documentVersion = 1

// verificationSize is the length of the random verification plaintext.
const verificationSize = 32
