package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"bookwell.io/internal/credential"
	"bookwell.io/internal/delegation"
)

var _ delegation.Repository = (*Delegations)(nil)

// Delegations reads delegation_credentials joined with their workspace platform.
type Delegations struct {
	db *sql.DB
}

func (s *Store) Delegations() *Delegations { return &Delegations{db: s.db} }

const delegationColumns = `dc.id::text, dc.organization_id, wp.slug, dc.domain, dc.enabled, dc.created_at, dc.updated_at`

func (d *Delegations) FindByEmail(ctx context.Context, email string) (*delegation.Config, error) {
	return d.byDomain(ctx, email, false)
}

func (d *Delegations) FindByEmailSensitive(ctx context.Context, email string) (*delegation.Config, error) {
	return d.byDomain(ctx, email, true)
}

func (d *Delegations) FindByOrgAndDomain(ctx context.Context, orgID int, domain string) (*delegation.Config, error) {
	return d.byOrgAndDomain(ctx, orgID, domain, false)
}

func (d *Delegations) FindByOrgAndDomainSensitive(ctx context.Context, orgID int, domain string) (*delegation.Config, error) {
	return d.byOrgAndDomain(ctx, orgID, domain, true)
}

func (d *Delegations) FindByID(ctx context.Context, id string) (*delegation.Config, error) {
	return d.one(ctx, false, `where dc.id = $1`, id)
}

func (d *Delegations) FindByIDSensitive(ctx context.Context, id string) (*delegation.Config, error) {
	return d.one(ctx, true, `where dc.id = $1`, id)
}

func (d *Delegations) byDomain(ctx context.Context, email string, sensitive bool) (*delegation.Config, error) {
	domain := delegation.EmailDomain(email)
	if domain == "" {
		return nil, delegation.ErrNotFound
	}
	return d.one(ctx, sensitive, `where lower(dc.domain) = $1 order by dc.enabled desc, dc.created_at asc limit 1`, domain)
}

func (d *Delegations) byOrgAndDomain(ctx context.Context, orgID int, domain string, sensitive bool) (*delegation.Config, error) {
	return d.one(ctx, sensitive, `where dc.organization_id = $1 and lower(dc.domain) = lower($2)`, orgID, domain)
}

func (d *Delegations) one(ctx context.Context, sensitive bool, where string, args ...any) (*delegation.Config, error) {
	cols := delegationColumns
	if sensitive {
		cols += `, dc.service_account_key`
	}
	query := fmt.Sprintf(`
		select %s
		from delegation_credentials dc
		join workspace_platforms wp on wp.id = dc.workspace_platform_id
		%s`, cols, where)

	var cfg delegation.Config
	var rawKey []byte
	dest := []any{&cfg.ID, &cfg.OrganizationID, &cfg.Platform, &cfg.Domain, &cfg.Enabled, &cfg.CreatedAt, &cfg.UpdatedAt}
	if sensitive {
		dest = append(dest, &rawKey)
	}
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(dest...); err != nil {
		return nil, notFound(err, delegation.ErrNotFound)
	}
	if len(rawKey) > 0 {
		var key credential.ServiceAccountKey
		if err := json.Unmarshal(rawKey, &key); err != nil {
			return nil, fmt.Errorf("decode service account key of delegation %s: %w", cfg.ID, err)
		}
		cfg.ServiceAccountKey = &key
	}
	return &cfg, nil
}
