package credential

import (
	"encoding/json"
	"errors"
)

// DelegatedCredentialID is the placeholder identifier stamped on every
// credential synthesized from a delegation. It never exists in storage.
const DelegatedCredentialID = -1

// DelegatedAccessToken is the non-functional access token carried by
// delegated credentials. Providers mint real tokens from the service account.
const DelegatedAccessToken = "NOOP_UNUSED_DELEGATION_TOKEN"

var ErrNotFound = errors.New("credential: not found")

// Capability is a functional category of provider integration.
type Capability string

const (
	CapabilityCalendar     Capability = "calendar"
	CapabilityConferencing Capability = "conferencing"
)

// ServiceAccountKey is the workspace service account used to act on behalf
// of organization members.
type ServiceAccountKey struct {
	ClientEmail string `json:"client_email"`
	ClientID    string `json:"client_id"`
	PrivateKey  string `json:"private_key"`
}

// Origin tells where a credential came from. It is either Delegated or Stored.
type Origin interface {
	origin()
}

// Delegated marks a credential synthesized in memory from a delegation configuration.
type Delegated struct {
	DelegationID string
	// ServiceAccountKey is only set when the configuration was read with its key.
	ServiceAccountKey *ServiceAccountKey
}

// Stored marks a credential persisted in the credentials table.
type Stored struct {
	ID int
}

func (Delegated) origin() {}
func (Stored) origin()    {}

// Credential is an authorization to act against one provider capability.
type Credential struct {
	ID        int             `json:"id"`
	Type      string          `json:"type"`
	AppID     string          `json:"app_id"`
	UserID    int             `json:"user_id"`
	UserEmail string          `json:"user_email,omitempty"`
	TeamID    *int            `json:"team_id,omitempty"`
	Key       json.RawMessage `json:"key,omitempty"`
	Invalid   bool            `json:"invalid"`
	Origin    Origin          `json:"-"`
}

// IsDelegatedCredentialID reports whether id can only belong to a delegated credential.
func IsDelegatedCredentialID(id int) bool {
	return id < 0
}

// DelegatedToID returns the delegation back-reference, if any.
func (c Credential) DelegatedToID() (string, bool) {
	d, ok := c.Origin.(Delegated)
	if !ok {
		return "", false
	}
	return d.DelegationID, true
}

// IsDelegated reports whether c was synthesized from a delegation.
func (c Credential) IsDelegated() bool {
	_, ok := c.Origin.(Delegated)
	return ok
}

// ServiceAccountKey returns the delegation's key when it was attached.
func (c Credential) ServiceAccountKey() *ServiceAccountKey {
	if d, ok := c.Origin.(Delegated); ok {
		return d.ServiceAccountKey
	}
	return nil
}

// AsStored normalizes a persisted row: whatever origin it was loaded with,
// it becomes a Stored credential keyed by its own id.
func AsStored(c Credential) Credential {
	out := c
	out.Origin = Stored{ID: c.ID}
	return out
}

// Redacted returns a copy safe to hand to clients: key material and the
// service account key are dropped.
func (c Credential) Redacted() Credential {
	out := c
	out.Key = nil
	if d, ok := c.Origin.(Delegated); ok {
		out.Origin = Delegated{DelegationID: d.DelegationID}
	}
	if c.TeamID != nil {
		team := *c.TeamID
		out.TeamID = &team
	}
	return out
}

// MarshalJSON exposes the delegation back-reference as "delegated_to_id".
func (c Credential) MarshalJSON() ([]byte, error) {
	type plain Credential
	var delegatedTo *string
	if id, ok := c.DelegatedToID(); ok {
		delegatedTo = &id
	}
	return json.Marshal(struct {
		plain
		DelegatedToID *string `json:"delegated_to_id"`
	}{plain: plain(c), DelegatedToID: delegatedTo})
}
