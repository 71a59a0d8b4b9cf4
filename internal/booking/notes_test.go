package booking

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	bookings    map[int]Booking
	presets     map[[2]int]NotePreset
	created     []NewNote
	presetCalls int
	createErr   error
}

func (s *stubStore) GetBookingForNote(_ context.Context, id int) (*Booking, error) {
	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (s *stubStore) FindNotePreset(_ context.Context, teamID, presetID int) (*NotePreset, error) {
	s.presetCalls++
	p, ok := s.presets[[2]int{teamID, presetID}]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *stubStore) CreateInternalNote(_ context.Context, n NewNote) (*InternalNote, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = append(s.created, n)
	return &InternalNote{
		ID:        len(s.created),
		BookingID: n.BookingID,
		PresetID:  n.PresetID,
		Text:      n.Text,
		CreatedBy: n.CreatedBy,
		CreatedAt: time.Now(),
	}, nil
}

func (s *stubStore) ListInternalNotes(_ context.Context, bookingID int) ([]InternalNote, error) {
	var out []InternalNote
	for i, n := range s.created {
		if n.BookingID == bookingID {
			out = append(out, InternalNote{ID: i + 1, BookingID: n.BookingID, PresetID: n.PresetID, Text: n.Text, CreatedBy: n.CreatedBy})
		}
	}
	return out, nil
}

func newWriter() (*NoteWriter, *stubStore) {
	team, owner := 5, 1
	store := &stubStore{
		bookings: map[int]Booking{
			10: {ID: 10, EventTypeID: 3, TeamID: &team, HostUserIDs: []int{2, 3}},
			11: {ID: 11, EventTypeID: 4, OwnerID: &owner},
		},
		presets: map[[2]int]NotePreset{
			{5, 100}: {ID: 100, TeamID: 5, Name: "No show"},
		},
	}
	quiet := zerolog.New(io.Discard)
	return NewNoteWriter(store, WithLogger(&quiet)), store
}

func TestCreateFreeformSkipsPresetLookup(t *testing.T) {
	w, store := newWriter()

	note, err := w.Create(context.Background(), 2, 10, NoteInput{ID: FreeformNoteID, Value: "  running late "})
	require.NoError(t, err)
	assert.Equal(t, "running late", note.Text)
	assert.Nil(t, note.PresetID)
	assert.Zero(t, store.presetCalls)
}

func TestCreateFreeformRequiresValue(t *testing.T) {
	w, store := newWriter()

	_, err := w.Create(context.Background(), 2, 10, NoteInput{ID: FreeformNoteID, Value: " "})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, store.created)
}

func TestCreateWithPreset(t *testing.T) {
	w, store := newWriter()

	note, err := w.Create(context.Background(), 3, 10, NoteInput{ID: 100, Value: "extra"})
	require.NoError(t, err)
	require.NotNil(t, note.PresetID)
	assert.Equal(t, 100, *note.PresetID)
	assert.Equal(t, 1, store.presetCalls)
}

func TestCreateUnknownPreset(t *testing.T) {
	w, store := newWriter()

	_, err := w.Create(context.Background(), 3, 10, NoteInput{ID: 999})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, store.created)

	// Bookings outside a team have no presets at all.
	_, err = w.Create(context.Background(), 1, 11, NoteInput{ID: 100})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateAuthorization(t *testing.T) {
	w, store := newWriter()

	_, err := w.Create(context.Background(), 9, 10, NoteInput{ID: FreeformNoteID, Value: "hi"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = w.Create(context.Background(), 1, 11, NoteInput{ID: FreeformNoteID, Value: "owner note"})
	assert.NoError(t, err)
	assert.Len(t, store.created, 1)
}

func TestCreateMissingBooking(t *testing.T) {
	w, _ := newWriter()

	_, err := w.Create(context.Background(), 2, 404, NoteInput{ID: FreeformNoteID, Value: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreatePropagatesStoreFailure(t *testing.T) {
	w, store := newWriter()
	store.createErr = errors.New("connection reset")

	_, err := w.Create(context.Background(), 2, 10, NoteInput{ID: FreeformNoteID, Value: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestListRequiresHostOrOwner(t *testing.T) {
	w, _ := newWriter()
	_, err := w.Create(context.Background(), 2, 10, NoteInput{ID: FreeformNoteID, Value: "first"})
	require.NoError(t, err)

	notes, err := w.List(context.Background(), 3, 10)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "first", notes[0].Text)

	_, err = w.List(context.Background(), 9, 10)
	assert.ErrorIs(t, err, ErrForbidden)
}
