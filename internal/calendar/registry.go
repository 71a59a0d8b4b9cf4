// Package calendar resolves provider adapters for credentials. The adapters
// themselves live outside this module and register a Factory per credential type.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"bookwell.io/internal/credential"
)

// ErrProbeUnsupported is returned when a provider cannot test delegation setup.
var ErrProbeUnsupported = errors.New("calendar: provider cannot test delegation setup")

// IntegrationCalendar is one calendar exposed by a provider account.
type IntegrationCalendar struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	Primary    bool   `json:"primary"`
}

// Calendar is the provider capability used by booking flows.
type Calendar interface {
	ListCalendars(ctx context.Context) ([]IntegrationCalendar, error)
}

// DelegationTester is implemented by providers able to verify that a
// workspace delegation is configured correctly.
type DelegationTester interface {
	TestDelegationSetup(ctx context.Context) error
}

// Factory builds a provider adapter for one credential.
type Factory func(cred credential.Credential) (Calendar, error)

// Registry maps credential types ("google_calendar") to provider factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register installs the factory for a credential type, replacing any previous one.
func (r *Registry) Register(credentialType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[credentialType] = f
}

// GetCalendar returns the provider for cred, or nil when no provider handles its type.
func (r *Registry) GetCalendar(cred credential.Credential) (Calendar, error) {
	r.mu.RLock()
	f, ok := r.factories[cred.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	cal, err := f(cred)
	if err != nil {
		return nil, fmt.Errorf("calendar: build %s provider: %w", cred.Type, err)
	}
	return cal, nil
}

// ProbeDelegation runs the optional delegation probe of cal.
func ProbeDelegation(ctx context.Context, cal Calendar) error {
	tester, ok := cal.(DelegationTester)
	if !ok {
		return ErrProbeUnsupported
	}
	return tester.TestDelegationSetup(ctx)
}
