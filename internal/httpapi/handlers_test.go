package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"bookwell.io/internal/auth"
	"bookwell.io/internal/booking"
	"bookwell.io/internal/credential"
	"bookwell.io/internal/csrf"
	"bookwell.io/internal/delegation"
	"bookwell.io/internal/slots"
)

const (
	testDelegationID = "6f1c1a5e-7c1d-4a3e-9a55-2d4c3b1f0e11"
	brokenDelegation = "0b0e5f4a-1111-4c2d-8e3f-9a8b7c6d5e4f"
)

type fakeUsers map[int]delegation.User

func (f fakeUsers) FindDelegationUser(_ context.Context, id int) (delegation.User, error) {
	u, ok := f[id]
	if !ok {
		return delegation.User{}, delegation.ErrNotFound
	}
	return u, nil
}

type fakeSlots struct{}

func (fakeSlots) Normalize(_ context.Context, req slots.Request) (slots.Query, error) {
	if req.EventTypeSlug == "missing" {
		return slots.Query{}, slots.ErrNotFound
	}
	if req.Start == "" {
		return slots.Query{}, errors.Join(slots.ErrInvalidInput, errors.New("startTime is required"))
	}
	return slots.Query{
		EventTypeSlug: req.EventTypeSlug,
		StartTime:     req.Start,
		EndTime:       req.End,
		UsernameList:  req.Usernames,
		TimeZone:      req.TimeZone,
	}, nil
}

type fakeCredentials map[int]credential.Credential

func (f fakeCredentials) FindCredentialByID(_ context.Context, id int) (*credential.Credential, error) {
	c, ok := f[id]
	if !ok {
		return nil, credential.ErrNotFound
	}
	c = credential.AsStored(c)
	return &c, nil
}

func (f fakeCredentials) ListCredentialsForUser(_ context.Context, userID int) ([]credential.Credential, error) {
	var out []credential.Credential
	for _, c := range f {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

// fakeDelegated grants a delegated calendar credential to users of example.com.
type fakeDelegated struct{}

func (fakeDelegated) ForUser(_ context.Context, user delegation.User) []credential.Credential {
	if delegation.EmailDomain(user.Email) != "example.com" {
		return nil
	}
	return []credential.Credential{{
		ID:        credential.DelegatedCredentialID,
		Type:      "google_calendar",
		AppID:     "google-calendar",
		UserID:    user.ID,
		UserEmail: user.Email,
		Key:       json.RawMessage(`{"access_token":"` + credential.DelegatedAccessToken + `"}`),
		Origin: credential.Delegated{
			DelegationID:      testDelegationID,
			ServiceAccountKey: &credential.ServiceAccountKey{ClientEmail: "sa@example.iam", PrivateKey: "secret"},
		},
	}}
}

func (f fakeDelegated) EnrichHosts(ctx context.Context, orgID *int, hosts []delegation.HostRecord) []delegation.HostRecord {
	if orgID == nil {
		return hosts
	}
	out := make([]delegation.HostRecord, len(hosts))
	for i, h := range hosts {
		out[i] = h
		d := f.ForUser(ctx, delegation.User{ID: h.User.ID, Email: h.User.Email})
		out[i].User.Credentials = credential.Merge(d, h.User.Credentials)
	}
	return out
}

type fakeHosts struct{}

func (fakeHosts) ListHosts(_ context.Context, eventTypeID int) (*int, []delegation.HostRecord, error) {
	if eventTypeID != 7 {
		return nil, nil, slots.ErrNotFound
	}
	org := 3
	return &org, []delegation.HostRecord{
		{User: delegation.UserRecord{ID: 1, Email: "ada@example.com", Name: "Ada", TimeZone: "Europe/London"}, IsFixed: true},
		{User: delegation.UserRecord{ID: 2, Email: "bob@other.org", Name: "Bob", TimeZone: "UTC"}},
	}, nil
}

type fakeNotes struct {
	mu    sync.Mutex
	notes []booking.InternalNote
}

func (f *fakeNotes) Create(_ context.Context, authorID, bookingID int, input booking.NoteInput) (*booking.InternalNote, error) {
	if bookingID != 10 {
		return nil, booking.ErrNotFound
	}
	if authorID != 1 {
		return nil, booking.ErrForbidden
	}
	if input.ID == booking.FreeformNoteID && strings.TrimSpace(input.Value) == "" {
		return nil, errors.Join(booking.ErrInvalidInput, errors.New("value is required for freeform notes"))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	note := booking.InternalNote{
		ID:        len(f.notes) + 1,
		BookingID: bookingID,
		Text:      strings.TrimSpace(input.Value),
		CreatedBy: authorID,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	f.notes = append(f.notes, note)
	return &note, nil
}

func (f *fakeNotes) List(_ context.Context, userID, bookingID int) ([]booking.InternalNote, error) {
	if bookingID != 10 {
		return nil, booking.ErrNotFound
	}
	if userID != 1 {
		return nil, booking.ErrForbidden
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]booking.InternalNote(nil), f.notes...), nil
}

type fakeSetup struct{}

func (fakeSetup) Check(_ context.Context, delegationID string, _ delegation.User) error {
	switch delegationID {
	case testDelegationID:
		return nil
	case brokenDelegation:
		return delegation.ErrMissingServiceAccountKey
	default:
		return delegation.ErrNotFound
	}
}

type apiClient struct {
	baseURL string
	client  *http.Client
	tokens  *auth.Tokens
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	tokens, err := auth.NewTokens("test-token-secret")
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	guard, err := csrf.NewManager("test-csrf-secret")
	if err != nil {
		t.Fatalf("csrf: %v", err)
	}

	api := New(Deps{
		Tokens: tokens,
		CSRF:   guard,
		Slots:  fakeSlots{},
		Users: fakeUsers{
			1: {ID: 1, Email: "ada@example.com"},
			2: {ID: 2, Email: "bob@other.org"},
		},
		Credentials: fakeCredentials{
			11: {ID: 11, Type: "zoom_video", AppID: "zoom", UserID: 1, Key: json.RawMessage(`{"token":"x"}`)},
			12: {ID: 12, Type: "zoom_video", AppID: "zoom", UserID: 2},
		},
		Delegated: fakeDelegated{},
		Hosts:     fakeHosts{},
		Notes:     &fakeNotes{},
		Setup:     fakeSetup{},
	}, "test", WithRateLimit(1000, 1000))

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	client := srv.Client()
	client.Jar = jar

	return &apiClient{baseURL: srv.URL, client: client, tokens: tokens, t: t}
}

func (c *apiClient) bearer(userID int) string {
	c.t.Helper()
	token, _, err := c.tokens.Mint(userID, time.Hour)
	if err != nil {
		c.t.Fatalf("mint: %v", err)
	}
	return token
}

func (c *apiClient) do(method, path, token, csrfToken string, body any) (*http.Response, []byte) {
	c.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrfToken != "" {
		req.Header.Set(csrf.HeaderName, csrfToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		c.t.Fatalf("read: %v", err)
	}
	return resp, buf.Bytes()
}

func (c *apiClient) csrfToken() string {
	c.t.Helper()
	resp, body := c.do(http.MethodGet, "/v1/csrf", "", "", nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("csrf status %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Token string `json:"csrf_token"`
	}
	decode(c.t, body, &out)
	if out.Token == "" {
		c.t.Fatal("empty csrf token")
	}
	return out.Token
}

func decode(t *testing.T, body []byte, dst any) {
	t.Helper()
	if err := json.Unmarshal(body, dst); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
}

func TestHealthAndInfo(t *testing.T) {
	c := newTestAPI(t)

	resp, body := c.do(http.MethodGet, "/healthz", "", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}
	var health map[string]any
	decode(t, body, &health)
	if health["status"] != "ok" || health["service"] != serviceName {
		t.Fatalf("unexpected healthz body: %v", health)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header")
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("expected security headers")
	}

	resp, _ = c.do(http.MethodGet, "/readyz", "", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status %d", resp.StatusCode)
	}

	resp, body = c.do(http.MethodGet, "/v1/info", "", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("info status %d", resp.StatusCode)
	}
	var info map[string]any
	decode(t, body, &info)
	if info["version"] != "test" {
		t.Fatalf("unexpected info: %v", info)
	}
}

func TestRoutingErrors(t *testing.T) {
	c := newTestAPI(t)

	resp, body := c.do(http.MethodGet, "/v1/nope", "", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	var errBody map[string]any
	decode(t, body, &errBody)
	if errBody["error"] == nil || errBody["request_id"] == nil {
		t.Fatalf("expected error envelope, got %v", errBody)
	}

	resp, _ = c.do(http.MethodGet, "/v1/credentials/lookup", "", "", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestCSRFIssueSetsCookies(t *testing.T) {
	c := newTestAPI(t)

	resp, body := c.do(http.MethodGet, "/v1/csrf", "", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if resp.Header.Get("Cache-Control") != "no-store" {
		t.Fatal("expected no-store")
	}
	var out map[string]string
	decode(t, body, &out)

	u, _ := url.Parse(c.baseURL)
	cookies := map[string]string{}
	for _, ck := range c.client.Jar.Cookies(u) {
		cookies[ck.Name] = ck.Value
	}
	if cookies[csrf.SecretCookie] == "" {
		t.Fatal("expected secret cookie")
	}
	if cookies[csrf.TokenCookie] != out["csrf_token"] {
		t.Fatalf("visible cookie %q does not match token %q", cookies[csrf.TokenCookie], out["csrf_token"])
	}
	if strings.Contains(cookies[csrf.SecretCookie], ".") {
		t.Fatalf("secret cookie should be stored unsigned, got %q", cookies[csrf.SecretCookie])
	}
	if !strings.Contains(out["csrf_token"], ".") {
		t.Fatalf("visible token should carry a signature, got %q", out["csrf_token"])
	}
}

func TestCSRFRejectionUsesErrorEnvelope(t *testing.T) {
	c := newTestAPI(t)
	token := c.bearer(1)
	note := map[string]any{"id": booking.FreeformNoteID, "value": "hello"}

	issued := c.csrfToken()
	forged := issued[:strings.LastIndex(issued, ".")] + ".AAAA"
	// Keep the cookie and header in agreement so only the signature is wrong.
	u, _ := url.Parse(c.baseURL)
	c.client.Jar.SetCookies(u, []*http.Cookie{{Name: csrf.TokenCookie, Value: forged, Path: "/"}})

	resp, body := c.do(http.MethodPost, "/v1/bookings/10/internal-notes", token, forged, note)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for bad signature, got %d: %s", resp.StatusCode, body)
	}
	var out map[string]string
	decode(t, body, &out)
	if out["error"] != "forbidden" {
		t.Fatalf("unexpected error %q", out["error"])
	}
	if out["request_id"] == "" || out["request_id"] != resp.Header.Get(requestIDHeader) {
		t.Fatalf("expected request_id matching header, got %q", out["request_id"])
	}
}

func TestQuerySlots(t *testing.T) {
	c := newTestAPI(t)

	q := url.Values{}
	q.Set("eventTypeSlug", "intro")
	q.Set("startTime", "2026-03-01T00:00:00Z")
	q.Set("endTime", "2026-03-02T00:00:00Z")
	q.Add("usernameList", "ada, bob")
	q.Add("usernameList", "cy")
	resp, body := c.do(http.MethodGet, "/v1/slots/query?"+q.Encode(), "", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var out slots.Query
	decode(t, body, &out)
	if out.EventTypeSlug != "intro" || len(out.UsernameList) != 3 || out.UsernameList[1] != "bob" {
		t.Fatalf("unexpected query: %+v", out)
	}

	resp, _ = c.do(http.MethodGet, "/v1/slots/query?eventTypeId=abc", "", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad eventTypeId, got %d", resp.StatusCode)
	}

	resp, _ = c.do(http.MethodGet, "/v1/slots/query?eventTypeSlug=intro", "", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing start, got %d", resp.StatusCode)
	}

	resp, _ = c.do(http.MethodGet, "/v1/slots/query?eventTypeSlug=missing&startTime=x", "", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestMyCredentials(t *testing.T) {
	c := newTestAPI(t)

	resp, _ := c.do(http.MethodGet, "/v1/me/credentials", "", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header")
	}

	resp, body := c.do(http.MethodGet, "/v1/me/credentials", c.bearer(1), "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Items []map[string]any `json:"items"`
	}
	decode(t, body, &out)
	if len(out.Items) != 2 {
		t.Fatalf("expected delegated and stored credential, got %v", out.Items)
	}
	first, second := out.Items[0], out.Items[1]
	if first["delegated_to_id"] != testDelegationID || first["id"] != float64(-1) {
		t.Fatalf("expected delegated credential first, got %v", first)
	}
	if second["id"] != float64(11) || second["delegated_to_id"] != nil {
		t.Fatalf("expected stored credential second, got %v", second)
	}
	if _, ok := first["key"]; ok {
		t.Fatal("key material must be redacted")
	}
	if strings.Contains(string(body), "secret") {
		t.Fatal("service account key leaked")
	}

	resp, _ = c.do(http.MethodGet, "/v1/me/credentials", c.bearer(99), "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown user, got %d", resp.StatusCode)
	}
}

func TestLookupCredential(t *testing.T) {
	c := newTestAPI(t)
	token := c.bearer(1)

	resp, body := c.do(http.MethodPost, "/v1/credentials/lookup", token, "", map[string]any{"delegationCredentialId": testDelegationID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var cred map[string]any
	decode(t, body, &cred)
	if cred["delegated_to_id"] != testDelegationID || cred["app_id"] != "google-calendar" {
		t.Fatalf("unexpected credential: %v", cred)
	}

	resp, body = c.do(http.MethodPost, "/v1/credentials/lookup", token, "", map[string]any{"credentialId": 11})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}

	cases := []struct {
		name string
		body any
		want int
	}{
		{"empty reference", map[string]any{}, http.StatusBadRequest},
		{"unknown field", map[string]any{"credential": 1}, http.StatusBadRequest},
		{"unknown stored id", map[string]any{"credentialId": 404}, http.StatusNotFound},
		{"another user's credential", map[string]any{"credentialId": 12}, http.StatusNotFound},
		{"unknown delegation", map[string]any{"delegationCredentialId": brokenDelegation}, http.StatusNotFound},
	}
	for _, tc := range cases {
		resp, body := c.do(http.MethodPost, "/v1/credentials/lookup", token, "", tc.body)
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: expected %d, got %d: %s", tc.name, tc.want, resp.StatusCode, body)
		}
	}
}

func TestEventTypeHosts(t *testing.T) {
	c := newTestAPI(t)
	token := c.bearer(1)

	resp, body := c.do(http.MethodGet, "/v1/event-types/7/hosts", token, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Items []struct {
			UserID      int              `json:"user_id"`
			IsFixed     bool             `json:"is_fixed"`
			Credentials []map[string]any `json:"credentials"`
		} `json:"items"`
	}
	decode(t, body, &out)
	if len(out.Items) != 2 {
		t.Fatalf("expected 2 hosts, got %d", len(out.Items))
	}
	if !out.Items[0].IsFixed || len(out.Items[0].Credentials) != 1 {
		t.Fatalf("expected delegated credential for first host: %+v", out.Items[0])
	}
	if len(out.Items[1].Credentials) != 0 {
		t.Fatalf("expected no credentials for outside domain: %+v", out.Items[1])
	}

	resp, _ = c.do(http.MethodGet, "/v1/event-types/8/hosts", token, "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestInternalNotesFlow(t *testing.T) {
	c := newTestAPI(t)
	token := c.bearer(1)
	note := map[string]any{"id": booking.FreeformNoteID, "value": "  VIP guest  "}

	resp, _ := c.do(http.MethodPost, "/v1/bookings/10/internal-notes", "", "", note)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer, got %d", resp.StatusCode)
	}

	resp, _ = c.do(http.MethodPost, "/v1/bookings/10/internal-notes", token, "", note)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf token, got %d", resp.StatusCode)
	}

	resp, body := c.do(http.MethodPost, "/v1/bookings/10/internal-notes", token, c.csrfToken(), note)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
	}
	var created booking.InternalNote
	decode(t, body, &created)
	if created.Text != "VIP guest" || created.BookingID != 10 || created.CreatedBy != 1 {
		t.Fatalf("unexpected note: %+v", created)
	}

	resp, _ = c.do(http.MethodPost, "/v1/bookings/10/internal-notes", token, "forged-token", note)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for forged token, got %d", resp.StatusCode)
	}

	resp, _ = c.do(http.MethodPost, "/v1/bookings/10/internal-notes", token, c.csrfToken(),
		map[string]any{"id": booking.FreeformNoteID, "value": " "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty freeform note, got %d", resp.StatusCode)
	}

	resp, _ = c.do(http.MethodPost, "/v1/bookings/10/internal-notes", c.bearer(2), c.csrfToken(), note)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-host, got %d", resp.StatusCode)
	}

	resp, _ = c.do(http.MethodPost, "/v1/bookings/11/internal-notes", token, c.csrfToken(), note)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown booking, got %d", resp.StatusCode)
	}

	resp, body = c.do(http.MethodGet, "/v1/bookings/10/internal-notes", token, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", resp.StatusCode, body)
	}
	var list struct {
		Items []booking.InternalNote `json:"items"`
	}
	decode(t, body, &list)
	if len(list.Items) != 1 || list.Items[0].Text != "VIP guest" {
		t.Fatalf("unexpected notes: %+v", list.Items)
	}
}

func TestDelegationCheck(t *testing.T) {
	c := newTestAPI(t)
	token := c.bearer(1)

	resp, body := c.do(http.MethodPost, "/v1/delegations/"+testDelegationID+"/check", token, c.csrfToken(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var out map[string]any
	decode(t, body, &out)
	if out["status"] != "ok" || out["delegation_id"] != testDelegationID {
		t.Fatalf("unexpected body: %v", out)
	}

	cases := []struct {
		id   string
		want int
	}{
		{brokenDelegation, http.StatusUnprocessableEntity},
		{"3f0d1f7e-0000-4000-8000-000000000000", http.StatusNotFound},
		{"not-a-uuid", http.StatusNotFound},
	}
	for _, tc := range cases {
		resp, body := c.do(http.MethodPost, "/v1/delegations/"+tc.id+"/check", token, c.csrfToken(), nil)
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: expected %d, got %d: %s", tc.id, tc.want, resp.StatusCode, body)
		}
	}
}
