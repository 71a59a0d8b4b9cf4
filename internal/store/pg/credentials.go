package pg

import (
	"context"
	"database/sql"
	"encoding/json"

	"bookwell.io/internal/credential"
)

var _ credential.StoredFinder = (*Credentials)(nil)

type Credentials struct {
	db *sql.DB
}

func (s *Store) Credentials() *Credentials { return &Credentials{db: s.db} }

const credentialColumns = `c.id, c.type, coalesce(c.app_id, ''), c.user_id, coalesce(u.email, ''), c.team_id, c.key, c.invalid`

func (c *Credentials) FindCredentialByID(ctx context.Context, id int) (*credential.Credential, error) {
	row := c.db.QueryRowContext(ctx, `
		select `+credentialColumns+`
		from credentials c
		left join users u on u.id = c.user_id
		where c.id = $1
	`, id)
	cred, err := scanCredential(row)
	if err != nil {
		return nil, notFound(err, credential.ErrNotFound)
	}
	return &cred, nil
}

// ListCredentialsForUser returns the user's stored credentials ordered by id.
func (c *Credentials) ListCredentialsForUser(ctx context.Context, userID int) ([]credential.Credential, error) {
	rows, err := c.db.QueryContext(ctx, `
		select `+credentialColumns+`
		from credentials c
		left join users u on u.id = c.user_id
		where c.user_id = $1
		order by c.id asc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []credential.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (credential.Credential, error) {
	var (
		cred   credential.Credential
		userID sql.NullInt64
		teamID sql.NullInt64
		key    []byte
	)
	if err := row.Scan(&cred.ID, &cred.Type, &cred.AppID, &userID, &cred.UserEmail, &teamID, &key, &cred.Invalid); err != nil {
		return credential.Credential{}, err
	}
	cred.UserID = int(userID.Int64)
	cred.TeamID = intPtr(teamID)
	if len(key) > 0 {
		cred.Key = json.RawMessage(append([]byte(nil), key...))
	}
	return credential.AsStored(cred), nil
}
