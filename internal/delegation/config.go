package delegation

import (
	"context"
	"errors"
	"strings"
	"time"

	"bookwell.io/internal/credential"
)

var (
	ErrNotFound                 = errors.New("delegation: not found")
	ErrMissingServiceAccountKey = errors.New("delegation: service account key is required")
	ErrNoCalendarProvider       = errors.New("delegation: no calendar provider for delegated credential")
)

// GooglePlatform is the workspace platform slug for Google Workspace.
const GooglePlatform = "google"

// Config is an organization's grant to act on behalf of members of one
// email domain through a workspace platform.
type Config struct {
	ID             string
	OrganizationID int
	Platform       string
	Domain         string
	Enabled        bool
	// ServiceAccountKey is only populated by the *Sensitive repository reads.
	ServiceAccountKey *credential.ServiceAccountKey
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// User is the minimal projection delegated credentials are synthesized for.
type User struct {
	ID    int
	Email string
}

// Repository reads delegation configurations. Missing configurations yield ErrNotFound.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*Config, error)
	FindByEmailSensitive(ctx context.Context, email string) (*Config, error)
	FindByOrgAndDomain(ctx context.Context, orgID int, domain string) (*Config, error)
	FindByOrgAndDomainSensitive(ctx context.Context, orgID int, domain string) (*Config, error)
	FindByID(ctx context.Context, id string) (*Config, error)
	FindByIDSensitive(ctx context.Context, id string) (*Config, error)
}

// UserFinder loads users by id. Missing users yield ErrNotFound.
type UserFinder interface {
	FindDelegationUser(ctx context.Context, id int) (User, error)
}

// EmailDomain returns the lowercased domain part of email, or "" if there is none.
func EmailDomain(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[at+1:]))
}
