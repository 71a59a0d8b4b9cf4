package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"bookwell.io/internal/audit"
	"bookwell.io/internal/auth"
	"bookwell.io/internal/booking"
	"bookwell.io/internal/credential"
	"bookwell.io/internal/delegation"
	"bookwell.io/internal/slots"
)

type csrfResponse struct {
	Token string `json:"csrf_token"`
}

type credentialsResponse struct {
	Items []credential.Credential `json:"items"`
}

type lookupRequest struct {
	CredentialID           *int   `json:"credentialId"`
	DelegationCredentialID string `json:"delegationCredentialId"`
}

type hostResponse struct {
	UserID      int                     `json:"user_id"`
	Email       string                  `json:"email"`
	Username    string                  `json:"username,omitempty"`
	Name        string                  `json:"name"`
	TimeZone    string                  `json:"time_zone"`
	IsFixed     bool                    `json:"is_fixed"`
	Priority    *int                    `json:"priority,omitempty"`
	Weight      *int                    `json:"weight,omitempty"`
	ScheduleID  *int                    `json:"schedule_id,omitempty"`
	Credentials []credential.Credential `json:"credentials"`
}

type notesResponse struct {
	Items []booking.InternalNote `json:"items"`
}

func (a *API) issueCSRF(w http.ResponseWriter, r *http.Request) {
	token, err := a.csrf.Issue(w, r)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, csrfResponse{Token: token})
}

func (a *API) querySlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := slots.Request{
		EventTypeSlug:    strings.TrimSpace(q.Get("eventTypeSlug")),
		Username:         strings.TrimSpace(q.Get("username")),
		Start:            q.Get("startTime"),
		End:              q.Get("endTime"),
		TimeZone:         q.Get("timeZone"),
		OrganizationSlug: q.Get("orgSlug"),
	}
	for _, raw := range q["usernameList"] {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				req.Usernames = append(req.Usernames, name)
			}
		}
	}
	if req.Username == "" && len(req.Usernames) == 1 {
		req.Username = req.Usernames[0]
	}
	if raw := q.Get("eventTypeId"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "eventTypeId must be an integer")
			return
		}
		req.EventTypeID = &id
	}
	if raw := q.Get("duration"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "duration must be an integer")
			return
		}
		req.Duration = &d
	}

	query, err := a.slots.Normalize(r.Context(), req)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, query)
}

func (a *API) myCredentials(w http.ResponseWriter, r *http.Request) {
	user, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	stored, err := a.credentials.ListCredentialsForUser(r.Context(), user.ID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	merged := credential.Merge(a.delegated.ForUser(r.Context(), user), stored)
	writeJSON(w, http.StatusOK, credentialsResponse{Items: redactAll(merged)})
}

func (a *API) lookupCredential(w http.ResponseWriter, r *http.Request) {
	var req lookupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ref := credential.NewRef(req.CredentialID, req.DelegationCredentialID)
	if ref.IsZero() {
		writeError(w, r, http.StatusBadRequest, "credentialId or delegationCredentialId is required")
		return
	}
	user, ok := a.currentUser(w, r)
	if !ok {
		return
	}

	cred, err := credential.Lookup(r.Context(), ref, a.delegated.ForUser(r.Context(), user), a.credentials)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if cred == nil || cred.UserID != user.ID {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, cred.Redacted())
}

func (a *API) eventTypeHosts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r)
	if !ok {
		return
	}
	orgID, hosts, err := a.hosts.ListHosts(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	enriched := a.delegated.EnrichHosts(r.Context(), orgID, hosts)
	out := make([]hostResponse, 0, len(enriched))
	for _, h := range enriched {
		out = append(out, hostResponse{
			UserID:      h.User.ID,
			Email:       h.User.Email,
			Username:    h.User.Username,
			Name:        h.User.Name,
			TimeZone:    h.User.TimeZone,
			IsFixed:     h.IsFixed,
			Priority:    h.Priority,
			Weight:      h.Weight,
			ScheduleID:  h.ScheduleID,
			Credentials: redactAll(h.User.Credentials),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (a *API) createInternalNote(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := pathInt(w, r)
	if !ok {
		return
	}
	var input booking.NoteInput
	if err := decodeJSON(w, r, &input); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())
	note, err := a.notes.Create(r.Context(), userID, bookingID, input)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

func (a *API) listInternalNotes(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := pathInt(w, r)
	if !ok {
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())
	notes, err := a.notes.List(r.Context(), userID, bookingID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if notes == nil {
		notes = []booking.InternalNote{}
	}
	writeJSON(w, http.StatusOK, notesResponse{Items: notes})
}

func (a *API) checkDelegation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	user, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	err := a.setup.Check(r.Context(), id, user)
	fields := map[string]any{"delegation_id": id, "ok": err == nil}
	if err != nil {
		fields["error"] = err.Error()
	}
	_ = audit.LogEvent(r.Context(), "delegation.setup.checked", fields)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "delegation_id": id})
}

// currentUser loads the authenticated user, writing the error response on failure.
func (a *API) currentUser(w http.ResponseWriter, r *http.Request) (delegation.User, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		unauthorized(w, r, "authentication required")
		return delegation.User{}, false
	}
	user, err := a.users.FindDelegationUser(r.Context(), userID)
	if err != nil {
		handleDomainError(w, r, err)
		return delegation.User{}, false
	}
	return user, true
}

func pathInt(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusNotFound, "not found")
		return 0, false
	}
	return id, true
}

func redactAll(creds []credential.Credential) []credential.Credential {
	out := make([]credential.Credential, 0, len(creds))
	for _, c := range creds {
		out = append(out, c.Redacted())
	}
	return out
}
