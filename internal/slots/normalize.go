// Package slots turns incoming availability requests into the canonical query
// consumed by slot computation.
package slots

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("slots: not found")
	ErrInvalidInput = errors.New("slots: invalid input")
)

// isoMillis is the ISO 8601 layout used for every normalized timestamp.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// EventType is the subset of an event type slot queries need.
type EventType struct {
	ID      int    `json:"id"`
	Slug    string `json:"slug"`
	Title   string `json:"title"`
	Length  int    `json:"length"`
	TeamID  *int   `json:"team_id,omitempty"`
	OwnerID *int   `json:"owner_id,omitempty"`
}

// User is the subset of a user slot queries need.
type User struct {
	ID       int
	Username string
}

// EventTypes loads event types. Missing rows yield ErrNotFound.
type EventTypes interface {
	GetEventTypeByID(ctx context.Context, id int) (*EventType, error)
	GetEventTypeBySlugForUser(ctx context.Context, userID int, slug string) (*EventType, error)
}

// Users loads users by username. Missing rows yield ErrNotFound.
type Users interface {
	FindUserByUsername(ctx context.Context, username string) (*User, error)
}

// Request is an incoming slot query. It references an event type by id, by
// slug plus username, or not at all (dynamic group booking).
type Request struct {
	EventTypeID      *int
	EventTypeSlug    string
	Username         string
	Usernames        []string
	Start            string
	End              string
	Duration         *int
	TimeZone         string
	OrganizationSlug string
}

// Query is the normalized request.
type Query struct {
	EventTypeID      int      `json:"eventTypeId"`
	EventTypeSlug    string   `json:"eventTypeSlug"`
	IsTeamEvent      bool     `json:"isTeamEvent"`
	StartTime        string   `json:"startTime"`
	EndTime          string   `json:"endTime"`
	Duration         *int     `json:"duration,omitempty"`
	UsernameList     []string `json:"usernameList"`
	TimeZone         string   `json:"timeZone"`
	OrganizationSlug *string  `json:"orgSlug"`
}

// DynamicEventType is the built-in event type for ad-hoc group bookings.
func DynamicEventType() EventType {
	return EventType{ID: 0, Slug: "dynamic", Title: "Group Meeting", Length: 30}
}

// Normalizer resolves event types and normalizes time ranges.
type Normalizer struct {
	eventTypes EventTypes
	users      Users
}

func NewNormalizer(eventTypes EventTypes, users Users) *Normalizer {
	return &Normalizer{eventTypes: eventTypes, users: users}
}

// Normalize resolves the event type referenced by req and returns the canonical query.
func (n *Normalizer) Normalize(ctx context.Context, req Request) (Query, error) {
	start, err := parseInstant("start", req.Start)
	if err != nil {
		return Query{}, err
	}
	endTime, err := NormalizeEndTime(req.End)
	if err != nil {
		return Query{}, err
	}
	end, _ := time.Parse(time.RFC3339Nano, endTime)
	if end.Before(start) {
		return Query{}, fmt.Errorf("%w: end is before start", ErrInvalidInput)
	}
	if req.Duration != nil && *req.Duration <= 0 {
		return Query{}, fmt.Errorf("%w: duration must be positive", ErrInvalidInput)
	}

	et, err := n.eventType(ctx, req)
	if err != nil {
		return Query{}, err
	}

	q := Query{
		EventTypeID:   et.ID,
		EventTypeSlug: et.Slug,
		IsTeamEvent:   et.TeamID != nil,
		StartTime:     req.Start,
		EndTime:       endTime,
		Duration:      copyInt(req.Duration),
		UsernameList:  append([]string{}, req.Usernames...),
		TimeZone:      req.TimeZone,
	}
	if slug := strings.TrimSpace(req.OrganizationSlug); slug != "" {
		q.OrganizationSlug = &slug
	}
	return q, nil
}

func (n *Normalizer) eventType(ctx context.Context, req Request) (EventType, error) {
	switch {
	case req.EventTypeID != nil:
		et, err := n.eventTypes.GetEventTypeByID(ctx, *req.EventTypeID)
		if err != nil {
			return EventType{}, fmt.Errorf("event type %d: %w", *req.EventTypeID, err)
		}
		return *et, nil
	case req.EventTypeSlug != "" && req.Username != "":
		user, err := n.users.FindUserByUsername(ctx, req.Username)
		if err != nil {
			return EventType{}, fmt.Errorf("user %q: %w", req.Username, err)
		}
		et, err := n.eventTypes.GetEventTypeBySlugForUser(ctx, user.ID, req.EventTypeSlug)
		if err != nil {
			return EventType{}, fmt.Errorf("event type %q of %q: %w", req.EventTypeSlug, req.Username, err)
		}
		if et == nil {
			return EventType{}, fmt.Errorf("event type %q of %q: %w", req.EventTypeSlug, req.Username, ErrNotFound)
		}
		return *et, nil
	default:
		et := DynamicEventType()
		if req.Duration != nil {
			et.Length = *req.Duration
		}
		return et, nil
	}
}

// NormalizeEndTime parses end as an instant in UTC. An exact midnight becomes
// 23:59:59 of the same date; any other time is kept. The result is ISO 8601
// with milliseconds.
func NormalizeEndTime(end string) (string, error) {
	t, err := parseInstant("end", end)
	if err != nil {
		return "", err
	}
	t = t.UTC()
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		t = time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, t.Nanosecond(), time.UTC)
	}
	return t.Format(isoMillis), nil
}

func parseInstant(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be an ISO 8601 instant", ErrInvalidInput, field)
	}
	return t, nil
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
