package credential

// Merge combines delegated credentials with a user's stored credentials into
// the list handed to calendar and booking operations.
//
// Stored rows whose id falls in the delegated id space are dropped, the rest are
// normalized with AsStored. The result keeps delegated credentials first, in
// the order given, and retains only the first delegated credential for each
// (delegation id, app id) pair. Stored credentials are always kept.
func Merge(delegated, stored []Credential) []Credential {
	all := make([]Credential, 0, len(delegated)+len(stored))
	all = append(all, delegated...)
	for _, c := range stored {
		if IsDelegatedCredentialID(c.ID) {
			continue
		}
		all = append(all, AsStored(c))
	}
	return dedupe(all)
}

type delegatedKey struct {
	delegationID string
	appID        string
}

func dedupe(creds []Credential) []Credential {
	out := make([]Credential, 0, len(creds))
	seen := make(map[delegatedKey]struct{}, len(creds))
	for _, c := range creds {
		switch o := c.Origin.(type) {
		case Delegated:
			key := delegatedKey{delegationID: o.DelegationID, appID: c.AppID}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, c)
		case Stored:
			out = append(out, c)
		default:
			// No origin recorded: treat as a row that never had a delegation.
			out = append(out, AsStored(c))
		}
	}
	return out
}
