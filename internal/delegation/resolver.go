package delegation

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"bookwell.io/internal/credential"
	"bookwell.io/internal/obs"
)

// Resolver finds the delegation that applies to users and builds their
// delegated credentials. Repository failures degrade to "no delegation".
type Resolver struct {
	configs Repository
	users   UserFinder
	builder *Builder
	logger  *zerolog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithBuilder overrides the credential builder.
func WithBuilder(b *Builder) ResolverOption {
	return func(r *Resolver) {
		if b != nil {
			r.builder = b
		}
	}
}

// WithUserFinder enables CalendarCredential.
func WithUserFinder(u UserFinder) ResolverOption {
	return func(r *Resolver) { r.users = u }
}

// WithResolverLogger overrides the logger.
func WithResolverLogger(l *zerolog.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewResolver(configs Repository, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		configs: configs,
		builder: NewBuilder(),
		logger:  obs.Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ForUser returns the delegated credentials of a single user, resolving the
// delegation through the user's email. Service account keys are not attached.
func (r *Resolver) ForUser(ctx context.Context, user User) []credential.Credential {
	cfg := r.lookup("email", func() (*Config, error) {
		return r.configs.FindByEmail(ctx, user.Email)
	})
	return r.builder.Build(cfg, user)
}

// ForUserWithKey is ForUser with the service account key attached.
func (r *Resolver) ForUserWithKey(ctx context.Context, user User) []credential.Credential {
	cfg := r.lookup("email", func() (*Config, error) {
		return r.configs.FindByEmailSensitive(ctx, user.Email)
	})
	return r.builder.Build(cfg, user)
}

// ForUsers resolves one delegation for an organization and the email domain of
// the batch, then builds credentials for every user. Users absent from the
// result have no delegated credentials. Without an organization, or for an
// empty batch, nothing applies and the repository is not consulted.
func (r *Resolver) ForUsers(ctx context.Context, orgID *int, users []User) map[int][]credential.Credential {
	out := make(map[int][]credential.Credential, len(users))
	if orgID == nil || len(users) == 0 {
		return out
	}
	domain := EmailDomain(users[0].Email)
	if domain == "" {
		r.logger.Warn().Int("user_id", users[0].ID).Msg("cannot derive email domain for delegation lookup")
		return out
	}
	cfg := r.lookup("organization", func() (*Config, error) {
		return r.configs.FindByOrgAndDomain(ctx, *orgID, domain)
	})
	if cfg == nil {
		return out
	}
	for _, u := range users {
		if creds := r.builder.Build(cfg, u); len(creds) > 0 {
			out[u.ID] = creds
		}
	}
	return out
}

// CalendarCredential builds the delegated calendar credential of userID under
// the delegation delegationID, with its service account key. It returns
// ErrNotFound when either side is missing.
func (r *Resolver) CalendarCredential(ctx context.Context, delegationID string, userID int) (*credential.Credential, error) {
	if r.users == nil {
		return nil, errors.New("delegation: user finder not configured")
	}
	cfg, err := r.configs.FindByIDSensitive(ctx, delegationID)
	if err != nil {
		return nil, fmt.Errorf("find delegation %s: %w", delegationID, err)
	}
	user, err := r.users.FindDelegationUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find user %d: %w", userID, err)
	}
	c, err := r.builder.BuildCalendar(cfg, user)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrNotFound
	}
	return c, nil
}

func (r *Resolver) lookup(by string, find func() (*Config, error)) *Config {
	cfg, err := find()
	switch {
	case err == nil:
		return cfg
	case errors.Is(err, ErrNotFound):
		return nil
	default:
		r.logger.Warn().Err(err).Str("by", by).Msg("delegation lookup failed, continuing without delegation")
		return nil
	}
}
