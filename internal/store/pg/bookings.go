package pg

import (
	"context"
	"database/sql"
	"fmt"

	"bookwell.io/internal/booking"
)

var _ booking.Store = (*Bookings)(nil)

type Bookings struct {
	db *sql.DB
}

func (s *Store) Bookings() *Bookings { return &Bookings{db: s.db} }

func (b *Bookings) GetBookingForNote(ctx context.Context, bookingID int) (*booking.Booking, error) {
	var (
		bk      booking.Booking
		team    sql.NullInt64
		ownerID sql.NullInt64
	)
	err := b.db.QueryRowContext(ctx, `
		select b.id, b.event_type_id, et.team_id, et.owner_id
		from bookings b
		join event_types et on et.id = b.event_type_id
		where b.id = $1
	`, bookingID).Scan(&bk.ID, &bk.EventTypeID, &team, &ownerID)
	if err != nil {
		return nil, notFound(err, booking.ErrNotFound)
	}
	bk.TeamID = intPtr(team)
	bk.OwnerID = intPtr(ownerID)

	rows, err := b.db.QueryContext(ctx, `select user_id from hosts where event_type_id = $1 order by user_id`, bk.EventTypeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		bk.HostUserIDs = append(bk.HostUserIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &bk, nil
}

func (b *Bookings) FindNotePreset(ctx context.Context, teamID, presetID int) (*booking.NotePreset, error) {
	var p booking.NotePreset
	err := b.db.QueryRowContext(ctx, `
		select id, team_id, name from internal_note_presets where id = $1 and team_id = $2
	`, presetID, teamID).Scan(&p.ID, &p.TeamID, &p.Name)
	if err != nil {
		return nil, notFound(err, booking.ErrNotFound)
	}
	return &p, nil
}

func (b *Bookings) CreateInternalNote(ctx context.Context, note booking.NewNote) (*booking.InternalNote, error) {
	out := booking.InternalNote{
		BookingID: note.BookingID,
		PresetID:  note.PresetID,
		Text:      note.Text,
		CreatedBy: note.CreatedBy,
	}
	var preset sql.NullInt64
	if note.PresetID != nil {
		preset = sql.NullInt64{Int64: int64(*note.PresetID), Valid: true}
	}
	err := b.db.QueryRowContext(ctx, `
		insert into booking_internal_notes (booking_id, preset_id, text, created_by)
		values ($1, $2, nullif($3, ''), $4)
		returning id, created_at
	`, note.BookingID, preset, note.Text, note.CreatedBy).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return nil, fmt.Errorf("%s: %w", pgErr.ConstraintName, booking.ErrNotFound)
		}
		return nil, err
	}
	return &out, nil
}

// ListInternalNotes returns the notes of a booking, oldest first.
func (b *Bookings) ListInternalNotes(ctx context.Context, bookingID int) ([]booking.InternalNote, error) {
	rows, err := b.db.QueryContext(ctx, `
		select id, booking_id, preset_id, coalesce(text, ''), created_by, created_at
		from booking_internal_notes
		where booking_id = $1
		order by created_at asc, id asc
	`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.InternalNote
	for rows.Next() {
		var (
			n      booking.InternalNote
			preset sql.NullInt64
		)
		if err := rows.Scan(&n.ID, &n.BookingID, &preset, &n.Text, &n.CreatedBy, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.PresetID = intPtr(preset)
		out = append(out, n)
	}
	return out, rows.Err()
}
