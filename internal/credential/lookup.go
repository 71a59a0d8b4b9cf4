package credential

import (
	"context"
	"errors"
	"strings"
)

// Ref points at a credential in one of the two universes. The zero Ref
// points at nothing.
type Ref struct {
	credentialID int
	delegationID string
	kind         refKind
}

type refKind uint8

const (
	refNone refKind = iota
	refStored
	refDelegated
)

// ByCredentialID references a stored credential.
func ByCredentialID(id int) Ref {
	return Ref{credentialID: id, kind: refStored}
}

// ByDelegationID references a delegated credential through its delegation.
func ByDelegationID(id string) Ref {
	id = strings.TrimSpace(id)
	if id == "" {
		return Ref{}
	}
	return Ref{delegationID: id, kind: refDelegated}
}

// NewRef builds a reference from optional request fields. A delegation id wins
// over a credential id when both are present.
func NewRef(credentialID *int, delegationID string) Ref {
	if ref := ByDelegationID(delegationID); ref.kind != refNone {
		return ref
	}
	if credentialID != nil {
		return ByCredentialID(*credentialID)
	}
	return Ref{}
}

// IsZero reports whether r references nothing.
func (r Ref) IsZero() bool { return r.kind == refNone }

// StoredFinder loads a persisted credential. Missing rows yield ErrNotFound.
type StoredFinder interface {
	FindCredentialByID(ctx context.Context, id int) (*Credential, error)
}

// Lookup resolves ref against the delegated credentials currently known for a
// user, or against storage for a stored reference. Not found is (nil, nil).
func Lookup(ctx context.Context, ref Ref, delegated []Credential, store StoredFinder) (*Credential, error) {
	switch ref.kind {
	case refDelegated:
		return findDelegated(ref.delegationID, delegated), nil
	case refStored:
		c, err := store.FindCredentialByID(ctx, ref.credentialID)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		stored := AsStored(*c)
		return &stored, nil
	default:
		return nil, nil
	}
}

// FindInList resolves ref within an already merged credential list.
func FindInList(ref Ref, creds []Credential) *Credential {
	switch ref.kind {
	case refDelegated:
		return findDelegated(ref.delegationID, creds)
	case refStored:
		for i := range creds {
			if creds[i].IsDelegated() {
				continue
			}
			if creds[i].ID == ref.credentialID {
				c := creds[i]
				return &c
			}
		}
	}
	return nil
}

func findDelegated(delegationID string, creds []Credential) *Credential {
	for i := range creds {
		if id, ok := creds[i].DelegatedToID(); ok && id == delegationID {
			c := creds[i]
			return &c
		}
	}
	return nil
}
