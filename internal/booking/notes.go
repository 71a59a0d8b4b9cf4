// Package booking persists internal notes that hosts attach to bookings.
package booking

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bookwell.io/internal/audit"
	"bookwell.io/internal/obs"
)

// FreeformNoteID selects a freeform note instead of a team preset.
const FreeformNoteID = -1

var (
	ErrNotFound     = errors.New("booking: not found")
	ErrForbidden    = errors.New("booking: forbidden")
	ErrInvalidInput = errors.New("booking: invalid input")
)

// Booking is the projection the note writer authorizes against.
type Booking struct {
	ID          int
	EventTypeID int
	TeamID      *int
	OwnerID     *int
	HostUserIDs []int
}

// NotePreset is a canned note defined by a team.
type NotePreset struct {
	ID     int    `json:"id"`
	TeamID int    `json:"team_id"`
	Name   string `json:"name"`
}

// NoteInput is the note a caller submits: a preset id plus optional text, or
// FreeformNoteID with the text.
type NoteInput struct {
	ID    int    `json:"id"`
	Value string `json:"value"`
}

// InternalNote is a persisted note.
type InternalNote struct {
	ID        int       `json:"id"`
	BookingID int       `json:"booking_id"`
	PresetID  *int      `json:"preset_id,omitempty"`
	Text      string    `json:"text,omitempty"`
	CreatedBy int       `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// NewNote is the row handed to the store.
type NewNote struct {
	BookingID int
	PresetID  *int
	Text      string
	CreatedBy int
}

// Store loads bookings and presets and persists notes. Missing rows yield ErrNotFound.
type Store interface {
	GetBookingForNote(ctx context.Context, bookingID int) (*Booking, error)
	FindNotePreset(ctx context.Context, teamID, presetID int) (*NotePreset, error)
	CreateInternalNote(ctx context.Context, note NewNote) (*InternalNote, error)
	ListInternalNotes(ctx context.Context, bookingID int) ([]InternalNote, error)
}

type NoteWriter struct {
	store  Store
	logger *zerolog.Logger
}

type NoteWriterOption func(*NoteWriter)

func WithLogger(l *zerolog.Logger) NoteWriterOption {
	return func(w *NoteWriter) {
		if l != nil {
			w.logger = l
		}
	}
}

func NewNoteWriter(store Store, opts ...NoteWriterOption) *NoteWriter {
	w := &NoteWriter{store: store, logger: obs.Logger()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Create attaches a note written by authorID to bookingID.
func (w *NoteWriter) Create(ctx context.Context, authorID, bookingID int, input NoteInput) (*InternalNote, error) {
	b, err := w.store.GetBookingForNote(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("booking %d: %w", bookingID, err)
	}
	if !canAnnotate(b, authorID) {
		return nil, ErrForbidden
	}

	text := strings.TrimSpace(input.Value)
	note := NewNote{BookingID: b.ID, CreatedBy: authorID, Text: text}
	kind := "freeform"
	if input.ID == FreeformNoteID {
		if text == "" {
			return nil, fmt.Errorf("%w: freeform note requires a value", ErrInvalidInput)
		}
	} else {
		if b.TeamID == nil {
			return nil, fmt.Errorf("preset %d: %w", input.ID, ErrNotFound)
		}
		preset, err := w.store.FindNotePreset(ctx, *b.TeamID, input.ID)
		if err != nil {
			return nil, fmt.Errorf("preset %d: %w", input.ID, err)
		}
		presetID := preset.ID
		note.PresetID = &presetID
		kind = "preset"
	}

	created, err := w.store.CreateInternalNote(ctx, note)
	if err != nil {
		return nil, fmt.Errorf("create internal note: %w", err)
	}
	obs.InternalNoteCreated(kind)
	w.logger.Debug().Int("booking_id", b.ID).Int("user_id", authorID).Str("kind", kind).Msg("internal note created")
	_ = audit.LogEvent(ctx, "booking.internal_note.created", map[string]any{
		"booking_id": b.ID,
		"note_id":    created.ID,
		"kind":       kind,
	})
	return created, nil
}

// List returns the notes of bookingID to a host or the owner of its event type.
func (w *NoteWriter) List(ctx context.Context, userID, bookingID int) ([]InternalNote, error) {
	b, err := w.store.GetBookingForNote(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("booking %d: %w", bookingID, err)
	}
	if !canAnnotate(b, userID) {
		return nil, ErrForbidden
	}
	return w.store.ListInternalNotes(ctx, b.ID)
}

func canAnnotate(b *Booking, userID int) bool {
	if b.OwnerID != nil && *b.OwnerID == userID {
		return true
	}
	return slices.Contains(b.HostUserIDs, userID)
}
