package delegation

import (
	"context"
	"fmt"
	"strings"

	"bookwell.io/internal/calendar"
)

// SetupChecker verifies that a workspace delegation actually grants access,
// by asking the calendar provider to act as one member of the domain.
type SetupChecker struct {
	configs   Repository
	builder   *Builder
	calendars *calendar.Registry
}

func NewSetupChecker(configs Repository, calendars *calendar.Registry, builder *Builder) *SetupChecker {
	if builder == nil {
		builder = NewBuilder()
	}
	return &SetupChecker{configs: configs, builder: builder, calendars: calendars}
}

// Check runs the provider's delegation probe for user under delegationID.
func (s *SetupChecker) Check(ctx context.Context, delegationID string, user User) error {
	cfg, err := s.configs.FindByIDSensitive(ctx, delegationID)
	if err != nil {
		return fmt.Errorf("find delegation %s: %w", delegationID, err)
	}
	if !strings.EqualFold(EmailDomain(user.Email), cfg.Domain) {
		return fmt.Errorf("%w: user is outside domain %s", ErrNotFound, cfg.Domain)
	}
	cred, err := s.builder.BuildCalendar(cfg, user)
	if err != nil {
		return err
	}
	if cred == nil {
		return ErrNoCalendarProvider
	}
	cal, err := s.calendars.GetCalendar(*cred)
	if err != nil {
		return err
	}
	if cal == nil {
		return ErrNoCalendarProvider
	}
	return calendar.ProbeDelegation(ctx, cal)
}
