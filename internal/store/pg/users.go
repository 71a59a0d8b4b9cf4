package pg

import (
	"context"
	"database/sql"
	"fmt"

	"bookwell.io/internal/delegation"
	"bookwell.io/internal/slots"
)

var (
	_ slots.Users           = (*Users)(nil)
	_ delegation.UserFinder = (*Users)(nil)
)

type Users struct {
	db *sql.DB
}

func (s *Store) Users() *Users { return &Users{db: s.db} }

func (u *Users) FindUserByUsername(ctx context.Context, username string) (*slots.User, error) {
	var user slots.User
	err := u.db.QueryRowContext(ctx, `select id, username from users where username = $1`, username).
		Scan(&user.ID, &user.Username)
	if err != nil {
		return nil, notFound(err, slots.ErrNotFound)
	}
	return &user, nil
}

func (u *Users) FindDelegationUser(ctx context.Context, id int) (delegation.User, error) {
	var user delegation.User
	err := u.db.QueryRowContext(ctx, `select id, email from users where id = $1`, id).Scan(&user.ID, &user.Email)
	if err != nil {
		return delegation.User{}, notFound(err, delegation.ErrNotFound)
	}
	return user, nil
}

// ListHosts returns the hosts of an event type with their stored credentials,
// plus the organization they belong to (nil when none of them has one).
func (u *Users) ListHosts(ctx context.Context, eventTypeID int) (*int, []delegation.HostRecord, error) {
	rows, err := u.db.QueryContext(ctx, `
		select u.id, u.email, u.username, u.name, u.time_zone, u.organization_id,
		       h.is_fixed, h.priority, h.weight, h.schedule_id
		from hosts h
		join users u on u.id = h.user_id
		where h.event_type_id = $1
		order by h.priority desc nulls last, u.id asc
	`, eventTypeID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var (
		orgID *int
		hosts []delegation.HostRecord
	)
	for rows.Next() {
		var (
			h                          delegation.HostRecord
			username                   sql.NullString
			org, prio, weight, schedID sql.NullInt64
		)
		if err := rows.Scan(&h.User.ID, &h.User.Email, &username, &h.User.Name, &h.User.TimeZone, &org,
			&h.IsFixed, &prio, &weight, &schedID); err != nil {
			return nil, nil, err
		}
		h.User.Username = username.String
		h.Priority, h.Weight, h.ScheduleID = intPtr(prio), intPtr(weight), intPtr(schedID)
		if orgID == nil {
			orgID = intPtr(org)
		}
		hosts = append(hosts, h)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	creds := &Credentials{db: u.db}
	for i := range hosts {
		stored, err := creds.ListCredentialsForUser(ctx, hosts[i].User.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("credentials of host %d: %w", hosts[i].User.ID, err)
		}
		hosts[i].User.Credentials = stored
	}
	return orgID, hosts, nil
}
