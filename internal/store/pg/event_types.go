package pg

import (
	"context"
	"database/sql"

	"bookwell.io/internal/slots"
)

var _ slots.EventTypes = (*EventTypes)(nil)

type EventTypes struct {
	db *sql.DB
}

func (s *Store) EventTypes() *EventTypes { return &EventTypes{db: s.db} }

func (e *EventTypes) GetEventTypeByID(ctx context.Context, id int) (*slots.EventType, error) {
	return e.one(ctx, `where id = $1`, id)
}

func (e *EventTypes) GetEventTypeBySlugForUser(ctx context.Context, userID int, slug string) (*slots.EventType, error) {
	return e.one(ctx, `where owner_id = $1 and slug = $2`, userID, slug)
}

func (e *EventTypes) one(ctx context.Context, where string, args ...any) (*slots.EventType, error) {
	var (
		et      slots.EventType
		team    sql.NullInt64
		ownerID sql.NullInt64
	)
	err := e.db.QueryRowContext(ctx, `select id, slug, title, length, team_id, owner_id from event_types `+where, args...).
		Scan(&et.ID, &et.Slug, &et.Title, &et.Length, &team, &ownerID)
	if err != nil {
		return nil, notFound(err, slots.ErrNotFound)
	}
	et.TeamID = intPtr(team)
	et.OwnerID = intPtr(ownerID)
	return &et, nil
}
