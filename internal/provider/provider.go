// Package provider translates generic meeting requests into the Zoom,
// Microsoft Graph, and Google Calendar APIs.
//
// Each adapter owns one platform's endpoint shapes and response parsing,
// plus the token-refresh flavour of its OAuth flow. Adapters never read
// global configuration: client credentials are passed in at construction.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chapelhq/chapel/internal/entitlement"
	"github.com/chapelhq/chapel/internal/metrics"
	"golang.org/x/oauth2"
)

// Errors
var (
	ErrUnknownPlatform = errors.New("provider: unknown platform")
	ErrNoRefreshToken  = errors.New("provider: no refresh token available")
	ErrNotConfigured   = errors.New("provider: client credentials not configured")

	// ErrShapeChanged signals that an in-place update is impossible because
	// the requested meeting shape (one-time vs recurring) differs from the
	// existing one. The orchestrator falls back to delete-then-recreate.
	ErrShapeChanged = errors.New("provider: meeting shape changed, in-place update not supported")
)

// Credentials are one platform's OAuth client credentials.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// Configured reports whether both halves are present.
func (c Credentials) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// TokenSet is an OAuth access/refresh token pair scoped to one
// tenant+platform connection.
type TokenSet struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// Recurrence describes a weekly repeating meeting.
type Recurrence struct {
	DaysOfWeek []time.Weekday `json:"daysOfWeek"`
	Until      time.Time      `json:"until"` // end date, inclusive
}

// Request carries the generic parameters for a meeting operation.
type Request struct {
	ClassID         string               `json:"classId"`
	TenantID        string               `json:"tenantId"`
	Platform        entitlement.Platform `json:"platform"`
	Title           string               `json:"title"`
	StartTime       time.Time            `json:"startTime"`
	DurationMinutes int                  `json:"durationMinutes"`
	Timezone        string               `json:"timezone"`
	Recurrence      *Recurrence          `json:"recurrence,omitempty"`
	CalendarID      string               `json:"calendarId,omitempty"`     // Teams/Google target calendar
	OrganizerEmail  string               `json:"organizerEmail,omitempty"` // Teams co-organizer attendee
}

// EndTime is StartTime plus the meeting duration.
func (r Request) EndTime() time.Time {
	return r.StartTime.Add(time.Duration(r.DurationMinutes) * time.Minute)
}

// MeetingKind records which provider resource type backs a stored meeting.
// Teams one-time meetings and calendar events have different ids and must
// be updated/deleted through their own endpoints.
type MeetingKind string

const (
	KindOneTime       MeetingKind = "one_time"
	KindCalendarEvent MeetingKind = "calendar_event"
)

// Result is what a successful provider call yields. JoinURL is the only
// field the platform surfaces to users; MeetingID and Kind exist so later
// update/delete calls hit the right resource.
type Result struct {
	JoinURL   string      `json:"joinUrl"`
	MeetingID string      `json:"meetingId,omitempty"`
	Kind      MeetingKind `json:"kind"`
}

// Ref identifies a previously created meeting for update and delete calls.
// CalendarID is the calendar the event was created on; empty means the
// organizer's primary calendar. Calendar-event resources are addressed
// per calendar, so deleting through the wrong one 404s.
type Ref struct {
	MeetingID  string
	Kind       MeetingKind
	CalendarID string
}

// Adapter creates, updates, and deletes meetings on one platform.
type Adapter interface {
	Platform() entitlement.Platform
	CreateMeeting(ctx context.Context, req Request, accessToken string) (*Result, error)
	UpdateMeeting(ctx context.Context, req Request, ref Ref, accessToken string) (*Result, error)
	DeleteMeeting(ctx context.Context, ref Ref, accessToken string) error
}

// TokenRefresher is implemented by adapters whose platform supports
// refresh-token grants.
type TokenRefresher interface {
	RefreshTokens(ctx context.Context, ts TokenSet) (TokenSet, error)
}

// APIError is a non-2xx provider response. Classification is by status
// code and provider error code, never by message substrings.
type APIError struct {
	Platform   entitlement.Platform
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s API error %d (%s): %s", e.Platform, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s API error %d: %s", e.Platform, e.StatusCode, e.Message)
}

// IsAuthError reports whether err is an authentication failure eligible
// for a refresh-and-retry cycle.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == http.StatusUnauthorized {
		return true
	}
	// Graph sometimes pairs InvalidAuthenticationToken with a 400/403.
	return apiErr.Code == "InvalidAuthenticationToken"
}

// ValidationError is a request rejected before any network call.
type ValidationError struct {
	Platform entitlement.Platform
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Platform, e.Reason)
}

// Registry maps a platform identifier to its adapter.
type Registry struct {
	adapters map[entitlement.Platform]Adapter
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[entitlement.Platform]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Platform()] = a
	}
	return &Registry{adapters: m}
}

// Get returns the adapter for a platform or ErrUnknownPlatform.
func (r *Registry) Get(p entitlement.Platform) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, p)
	}
	return a, nil
}

// Platforms lists the registered platforms.
func (r *Registry) Platforms() []entitlement.Platform {
	out := make([]entitlement.Platform, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	return out
}

// -----------------------------------------------------------------------------
// Shared HTTP plumbing
// -----------------------------------------------------------------------------

const defaultTimeout = 10 * time.Second

// clientConfig is the shared per-adapter HTTP configuration.
type clientConfig struct {
	baseURL       string
	tokenEndpoint oauth2.Endpoint
	httpClient    *http.Client
}

// Option adjusts an adapter's HTTP configuration (tests point baseURL and
// tokenEndpoint at httptest servers).
type Option func(*clientConfig)

// WithBaseURL overrides the provider API base URL.
func WithBaseURL(u string) Option {
	return func(cc *clientConfig) { cc.baseURL = u }
}

// WithTokenEndpoint overrides the OAuth token endpoint.
func WithTokenEndpoint(e oauth2.Endpoint) Option {
	return func(cc *clientConfig) { cc.tokenEndpoint = e }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cc *clientConfig) { cc.httpClient = c }
}

// errParser decodes one provider's error body into code and message.
type errParser func(body []byte) (code, message string)

// do performs a JSON request against a provider API, decoding a 2xx body
// into out (when non-nil) and anything else into an *APIError.
func (cc *clientConfig) do(ctx context.Context, platform entitlement.Platform, op, method, url, accessToken string, in, out any, parseErr errParser) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", platform, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", platform, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	timer := time.Now()
	resp, err := cc.httpClient.Do(req)
	metrics.ProviderAPIDuration.WithLabelValues(string(platform), op).
		Observe(time.Since(timer).Seconds())
	if err != nil {
		metrics.ProviderAPICallsTotal.WithLabelValues(string(platform), op, "transport_error").Inc()
		return fmt.Errorf("%s: %s: %w", platform, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		code, message := parseErr(raw)
		if message == "" {
			message = string(raw)
		}
		metrics.ProviderAPICallsTotal.WithLabelValues(string(platform), op, "api_error").Inc()
		return &APIError{Platform: platform, StatusCode: resp.StatusCode, Code: code, Message: message}
	}

	metrics.ProviderAPICallsTotal.WithLabelValues(string(platform), op, "success").Inc()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s: decode %s response: %w", platform, op, err)
		}
	}
	return nil
}

// refreshTokens runs a refresh-token grant against the adapter's token
// endpoint and returns the new token set. Providers that rotate refresh
// tokens get the rotated value; otherwise the current one is kept.
func (cc *clientConfig) refreshTokens(ctx context.Context, platform entitlement.Platform, creds Credentials, ts TokenSet) (TokenSet, error) {
	if !creds.Configured() {
		return TokenSet{}, ErrNotConfigured
	}
	if ts.RefreshToken == "" {
		return TokenSet{}, ErrNoRefreshToken
	}

	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     cc.tokenEndpoint,
	}

	// Passing only the refresh token forces a grant even when the old
	// access token has lifetime left.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, cc.httpClient)
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: ts.RefreshToken}).Token()
	if err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues(string(platform), "failure").Inc()
		return TokenSet{}, fmt.Errorf("%s: refresh tokens: %w", platform, err)
	}
	metrics.TokenRefreshesTotal.WithLabelValues(string(platform), "success").Inc()

	next := TokenSet{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}
	if next.RefreshToken == "" {
		next.RefreshToken = ts.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry
		next.ExpiresAt = &expiry
	}
	return next, nil
}
