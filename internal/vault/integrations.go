package vault

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"pkt.systems/walletd/internal/openapi"
)

var integrationKeyRE = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// AddIntegrationRequest carries the inputs for registering a compiled spec.
type AddIntegrationRequest struct {
	Key      string
	Name     string
	SpecURL  string
	Compiled *openapi.CompiledSpec
}

// AddIntegration stores a compiled spec under a fresh integration key and
// returns the number of operations recorded. Integrations whose auth scheme
// is none are active immediately; anything needing a credential starts
// pending until BindCredential promotes it. A missing or still-templated
// server base URL parks the integration in error state.
func (v *Vault) AddIntegration(req AddIntegrationRequest) (*Integration, int, error) {
	if !integrationKeyRE.MatchString(req.Key) {
		return nil, 0, fmt.Errorf("%w: %q", ErrBadIntegrationKey, req.Key)
	}
	if req.Compiled == nil {
		return nil, 0, fmt.Errorf("%w: no compiled spec", openapi.ErrBadSpec)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != StateUnlocked {
		return nil, 0, ErrWalletLocked
	}
	if _, exists := v.body.Integrations[req.Key]; exists {
		return nil, 0, fmt.Errorf("%w: %q", ErrIntegrationExists, req.Key)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = req.Compiled.Title
	}
	if name == "" {
		name = req.Key
	}
	now := v.now()
	integ := &Integration{
		Key:          req.Key,
		Name:         name,
		Description:  req.Compiled.Description,
		SpecURL:      req.SpecURL,
		ServerURL:    req.Compiled.ServerURL,
		Auth:         req.Compiled.Auth,
		Operations:   req.Compiled.Operations,
		LastSyncedAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	switch {
	case strings.TrimSpace(integ.ServerURL) == "":
		integ.Status = StatusError
		integ.LastError = "spec declares no server base URL; supply one explicitly"
	case strings.Contains(integ.ServerURL, "{"):
		integ.Status = StatusError
		integ.LastError = fmt.Sprintf("server URL %q has unsubstituted template variables", integ.ServerURL)
	case integ.Auth.Scheme == openapi.AuthNone:
		integ.Status = StatusActive
	default:
		integ.Status = StatusPending
	}

	v.body.Integrations[req.Key] = integ
	if err := v.saveLocked(); err != nil {
		delete(v.body.Integrations, req.Key)
		return nil, 0, err
	}
	v.logger.Info("integration added",
		"key", integ.Key,
		"operations", len(integ.Operations),
		"status", string(integ.Status),
		"auth", string(integ.Auth.Scheme),
	)
	cp := *integ
	return &cp, len(integ.Operations), nil
}

// GetIntegration returns a copy of one integration record.
func (v *Vault) GetIntegration(key string) (*Integration, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.state != StateUnlocked {
		return nil, ErrWalletLocked
	}
	integ, ok := v.body.Integrations[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrIntegrationNotFound, key)
	}
	cp := *integ
	return &cp, nil
}

// ListIntegrations returns copies of every integration, sorted by key.
func (v *Vault) ListIntegrations() ([]Integration, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.state != StateUnlocked {
		return nil, ErrWalletLocked
	}
	out := make([]Integration, 0, len(v.body.Integrations))
	for _, integ := range v.body.Integrations {
		out = append(out, *integ)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// RemoveIntegration deletes an integration record.
func (v *Vault) RemoveIntegration(key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != StateUnlocked {
		return ErrWalletLocked
	}
	if _, ok := v.body.Integrations[key]; !ok {
		return fmt.Errorf("%w: %q", ErrIntegrationNotFound, key)
	}
	delete(v.body.Integrations, key)
	return v.saveLocked()
}

// SetIntegrationStatus stores the given status on an integration. It does
// not check the status against the auth scheme or the bound credential: an
// integration whose scheme needs a credential can be set active without one.
func (v *Vault) SetIntegrationStatus(key string, status IntegrationStatus) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != StateUnlocked {
		return ErrWalletLocked
	}
	integ, ok := v.body.Integrations[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrIntegrationNotFound, key)
	}
	integ.Status = status
	integ.UpdatedAt = v.now()
	return v.saveLocked()
}

// BindCredential associates a stored credential with an integration and
// promotes it to active.
func (v *Vault) BindCredential(integrationKey, credentialID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != StateUnlocked {
		return ErrWalletLocked
	}
	integ, ok := v.body.Integrations[integrationKey]
	if !ok {
		return fmt.Errorf("%w: %q", ErrIntegrationNotFound, integrationKey)
	}
	if _, ok := v.body.Credentials[credentialID]; !ok {
		return fmt.Errorf("%w: %q", ErrCredentialNotFound, credentialID)
	}
	integ.CredentialID = credentialID
	if integ.Status == StatusPending {
		integ.Status = StatusActive
	}
	integ.UpdatedAt = v.now()
	if err := v.saveLocked(); err != nil {
		return err
	}
	v.logger.Info("credential bound", "integration", integrationKey, "credential_id", credentialID)
	return nil
}

// ResolvedTool is the dispatchable view of one stored descriptor.
type ResolvedTool struct {
	IntegrationKey string
	CredentialID   string
	Operation      openapi.Operation
}

// ResolveTool maps a tool name onto its integration and operation descriptor.
// Only active integrations resolve.
func (v *Vault) ResolveTool(name string) (*ResolvedTool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.state != StateUnlocked {
		return nil, ErrWalletLocked
	}
	for _, integ := range v.body.Integrations {
		if integ.Status != StatusActive {
			continue
		}
		for i := range integ.Operations {
			if integ.Operations[i].ToolName == name {
				return &ResolvedTool{
					IntegrationKey: integ.Key,
					CredentialID:   integ.CredentialID,
					Operation:      integ.Operations[i],
				}, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrToolNotFound, name)
}

// ToolDescriptors returns every operation descriptor across active
// integrations, sorted lexicographically by tool name.
func (v *Vault) ToolDescriptors() ([]openapi.Operation, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.state != StateUnlocked {
		return nil, ErrWalletLocked
	}
	var out []openapi.Operation
	for _, integ := range v.body.Integrations {
		if integ.Status != StatusActive {
			continue
		}
		out = append(out, integ.Operations...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ToolName < out[j].ToolName })
	return out, nil
}
