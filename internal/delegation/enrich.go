package delegation

import (
	"context"

	"bookwell.io/internal/credential"
)

// UserRecord is a user as loaded for booking flows, together with its stored credentials.
type UserRecord struct {
	ID          int
	Email       string
	Username    string
	Name        string
	TimeZone    string
	Credentials []credential.Credential
}

// HostRecord wraps a user taking part in an event type.
type HostRecord struct {
	User       UserRecord
	IsFixed    bool
	Priority   *int
	Weight     *int
	ScheduleID *int
}

// EnrichUsers returns copies of users whose credentials are the merge of their
// delegated and stored credentials. The input is left untouched.
func (r *Resolver) EnrichUsers(ctx context.Context, orgID *int, users []UserRecord) []UserRecord {
	refs := make([]User, 0, len(users))
	for _, u := range users {
		refs = append(refs, User{ID: u.ID, Email: u.Email})
	}
	delegated := r.ForUsers(ctx, orgID, refs)

	out := make([]UserRecord, 0, len(users))
	for _, u := range users {
		out = append(out, withCredentials(u, credential.Merge(delegated[u.ID], u.Credentials)))
	}
	return out
}

// EnrichHosts is EnrichUsers for host records. Host fields are copied verbatim.
func (r *Resolver) EnrichHosts(ctx context.Context, orgID *int, hosts []HostRecord) []HostRecord {
	users := make([]UserRecord, 0, len(hosts))
	for _, h := range hosts {
		users = append(users, h.User)
	}
	enriched := r.EnrichUsers(ctx, orgID, users)

	out := make([]HostRecord, 0, len(hosts))
	for i, h := range hosts {
		out = append(out, HostRecord{
			User:       enriched[i],
			IsFixed:    h.IsFixed,
			Priority:   copyInt(h.Priority),
			Weight:     copyInt(h.Weight),
			ScheduleID: copyInt(h.ScheduleID),
		})
	}
	return out
}

func withCredentials(u UserRecord, creds []credential.Credential) UserRecord {
	return UserRecord{
		ID:          u.ID,
		Email:       u.Email,
		Username:    u.Username,
		Name:        u.Name,
		TimeZone:    u.TimeZone,
		Credentials: creds,
	}
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
