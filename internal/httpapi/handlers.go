// Package httpapi exposes the scheduling services over HTTP and the readiness
// probe over gRPC.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"bookwell.io/internal/booking"
	"bookwell.io/internal/credential"
	"bookwell.io/internal/delegation"
	"bookwell.io/internal/obs"
	"bookwell.io/internal/slots"
)

const serviceName = "bookwell-api"

// ReadinessChecker reports whether dependencies are reachable.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyFunc adapts a function to ReadinessChecker.
type ReadyFunc func(ctx context.Context) error

func (f ReadyFunc) Check(ctx context.Context) error {
	if f == nil {
		return nil
	}
	return f(ctx)
}

type SlotNormalizer interface {
	Normalize(ctx context.Context, req slots.Request) (slots.Query, error)
}

type CSRFGuard interface {
	Issue(w http.ResponseWriter, r *http.Request) (string, error)
	Verify(w http.ResponseWriter, r *http.Request) error
}

type StoredCredentials interface {
	credential.StoredFinder
	ListCredentialsForUser(ctx context.Context, userID int) ([]credential.Credential, error)
}

type DelegatedCredentials interface {
	ForUser(ctx context.Context, user delegation.User) []credential.Credential
	EnrichHosts(ctx context.Context, orgID *int, hosts []delegation.HostRecord) []delegation.HostRecord
}

type HostLister interface {
	ListHosts(ctx context.Context, eventTypeID int) (*int, []delegation.HostRecord, error)
}

type InternalNotes interface {
	Create(ctx context.Context, authorID, bookingID int, input booking.NoteInput) (*booking.InternalNote, error)
	List(ctx context.Context, userID, bookingID int) ([]booking.InternalNote, error)
}

type DelegationChecker interface {
	Check(ctx context.Context, delegationID string, user delegation.User) error
}

// Deps are the services behind the HTTP surface.
type Deps struct {
	Ready       ReadinessChecker
	Tokens      TokenVerifier
	CSRF        CSRFGuard
	Slots       SlotNormalizer
	Users       delegation.UserFinder
	Credentials StoredCredentials
	Delegated   DelegatedCredentials
	Hosts       HostLister
	Notes       InternalNotes
	Setup       DelegationChecker
}

// API is the HTTP layer.
type API struct {
	router  *mux.Router
	version string

	ready       ReadinessChecker
	tokens      TokenVerifier
	csrf        CSRFGuard
	slots       SlotNormalizer
	users       delegation.UserFinder
	credentials StoredCredentials
	delegated   DelegatedCredentials
	hosts       HostLister
	notes       InternalNotes
	setup       DelegationChecker

	rateBurst      int
	ratePerSec     float64
	allowedOrigins []string
}

type Option func(*API)

// WithRateLimit overrides the per-client token bucket.
func WithRateLimit(burst int, perSecond float64) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst, a.ratePerSec = burst, perSecond
		}
	}
}

// WithAllowedOrigins sets the CORS origins allowed besides localhost.
func WithAllowedOrigins(origins []string) Option {
	return func(a *API) { a.allowedOrigins = append([]string(nil), origins...) }
}

func New(deps Deps, version string, opts ...Option) *API {
	a := &API{
		router:      mux.NewRouter(),
		version:     version,
		ready:       deps.Ready,
		tokens:      deps.Tokens,
		csrf:        deps.CSRF,
		slots:       deps.Slots,
		users:       deps.Users,
		credentials: deps.Credentials,
		delegated:   deps.Delegated,
		hosts:       deps.Hosts,
		notes:       deps.Notes,
		setup:       deps.Setup,
		rateBurst:   40,
		ratePerSec:  20,
	}
	if a.ready == nil {
		a.ready = ReadyFunc(nil)
	}
	for _, opt := range opts {
		opt(a)
	}
	a.routes()
	return a
}

func (a *API) routes() {
	r := a.router
	r.NotFoundHandler = http.HandlerFunc(notFoundHandler)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.HandleFunc("/v1/info", a.Info).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/v1/csrf", a.issueCSRF).Methods(http.MethodGet)
	r.HandleFunc("/v1/slots/query", a.querySlots).Methods(http.MethodGet)

	r.Handle("/v1/me/credentials", a.requireUser(http.HandlerFunc(a.myCredentials))).Methods(http.MethodGet)
	r.Handle("/v1/credentials/lookup", a.requireUser(http.HandlerFunc(a.lookupCredential))).Methods(http.MethodPost)
	r.Handle("/v1/event-types/{id:[0-9]+}/hosts", a.requireUser(http.HandlerFunc(a.eventTypeHosts))).Methods(http.MethodGet)
	r.Handle("/v1/bookings/{id:[0-9]+}/internal-notes", a.requireUser(http.HandlerFunc(a.listInternalNotes))).Methods(http.MethodGet)
	r.Handle("/v1/bookings/{id:[0-9]+}/internal-notes", a.protected(a.createInternalNote)).Methods(http.MethodPost)
	r.Handle("/v1/delegations/{id}/check", a.protected(a.checkDelegation)).Methods(http.MethodPost)
}

// protected requires a bearer token and a valid CSRF token.
func (a *API) protected(h http.HandlerFunc) http.Handler {
	return a.requireUser(a.requireCSRF(h))
}

func (a *API) requireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.csrf.Verify(w, r); err != nil {
			handleDomainError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler returns the router wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.allowedOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
