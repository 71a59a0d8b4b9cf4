package delegation

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"bookwell.io/internal/credential"
	"bookwell.io/internal/obs"
)

// App is one provider integration a delegated credential can be built for.
type App struct {
	Capability credential.Capability
	Type       string
	AppID      string
}

var (
	GoogleCalendar = App{Capability: credential.CapabilityCalendar, Type: "google_calendar", AppID: "google-calendar"}
	GoogleMeet     = App{Capability: credential.CapabilityConferencing, Type: "google_video", AppID: "google-meet"}
)

var delegatedKey = json.RawMessage(`{"access_token":"` + credential.DelegatedAccessToken + `"}`)

// Builder synthesizes delegated credentials from a capability registry
// keyed by workspace platform slug.
type Builder struct {
	platforms map[string][]App
	logger    *zerolog.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithBuilderLogger overrides the logger used for synthesis diagnostics.
func WithBuilderLogger(l *zerolog.Logger) BuilderOption {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithPlatform registers (or replaces) the apps built for a platform, in order.
func WithPlatform(slug string, apps ...App) BuilderOption {
	return func(b *Builder) {
		b.platforms[slug] = append([]App(nil), apps...)
	}
}

// NewBuilder returns a builder that knows the Google Workspace platform.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		platforms: map[string][]App{
			GooglePlatform: {GoogleCalendar, GoogleMeet},
		},
		logger: obs.Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns one credential per registered capability of cfg's platform.
// A nil or disabled configuration, or an unknown platform, yields nothing.
// The service account key is attached only when cfg carries it.
func (b *Builder) Build(cfg *Config, user User) []credential.Credential {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	apps, ok := b.platforms[cfg.Platform]
	if !ok {
		b.logger.Warn().
			Str("delegation_id", cfg.ID).
			Str("platform", cfg.Platform).
			Int("user_id", user.ID).
			Msg("delegation platform not supported, skipping")
		return nil
	}
	out := make([]credential.Credential, 0, len(apps))
	for _, app := range apps {
		out = append(out, b.build(cfg, user, app, cfg.ServiceAccountKey))
	}
	return out
}

// BuildCalendar returns the calendar credential for user and always attaches
// the service account key, which must be present on cfg. It returns (nil, nil)
// when cfg is nil, disabled, or its platform has no calendar app.
func (b *Builder) BuildCalendar(cfg *Config, user User) (*credential.Credential, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	if cfg.ServiceAccountKey == nil {
		return nil, ErrMissingServiceAccountKey
	}
	for _, app := range b.platforms[cfg.Platform] {
		if app.Capability != credential.CapabilityCalendar {
			continue
		}
		c := b.build(cfg, user, app, cfg.ServiceAccountKey)
		return &c, nil
	}
	b.logger.Warn().
		Str("delegation_id", cfg.ID).
		Str("platform", cfg.Platform).
		Msg("delegation platform has no calendar capability")
	return nil, nil
}

func (b *Builder) build(cfg *Config, user User, app App, key *credential.ServiceAccountKey) credential.Credential {
	b.logger.Debug().
		Str("delegation_id", cfg.ID).
		Str("platform", cfg.Platform).
		Str("capability", string(app.Capability)).
		Int("user_id", user.ID).
		Msg("building delegated credential")
	obs.DelegatedCredentialBuilt(cfg.Platform, string(app.Capability))

	var keyCopy *credential.ServiceAccountKey
	if key != nil {
		k := *key
		keyCopy = &k
	}
	return credential.Credential{
		ID:        credential.DelegatedCredentialID,
		Type:      app.Type,
		AppID:     app.AppID,
		UserID:    user.ID,
		UserEmail: user.Email,
		Key:       append(json.RawMessage(nil), delegatedKey...),
		Origin: credential.Delegated{
			DelegationID:      cfg.ID,
			ServiceAccountKey: keyCopy,
		},
	}
}
