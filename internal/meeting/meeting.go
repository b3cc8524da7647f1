// Package meeting orchestrates video-meeting lifecycle for classes: gate on
// the tenant's entitlement, load the tenant's OAuth tokens, refresh them,
// call the platform adapter, and persist the resulting join link.
//
// Every operation returns an Outcome value rather than an error: meeting
// failures are advisory to the caller (a class save proceeds regardless),
// so they travel as data, not as control flow.
package meeting

import (
	"time"

	"github.com/chapelhq/chapel/internal/entitlement"
	"github.com/chapelhq/chapel/internal/provider"
)

// FailureKind classifies why a meeting operation could not complete.
// Callers branch on the kind; Detail is for humans.
type FailureKind string

const (
	// FailureConfiguration covers infrastructure problems: store errors,
	// unregistered platforms, failed persistence of a created meeting.
	FailureConfiguration FailureKind = "configuration"

	// FailureIneligible means the tenant's plan does not permit automatic
	// meeting creation on the requested platform. No network call is made.
	FailureIneligible FailureKind = "ineligible"

	// FailureNotConnected means no active token set exists for the
	// tenant+platform pair. No network call is made.
	FailureNotConnected FailureKind = "not_connected"

	// FailureAuthExpired means the provider rejected our credentials and a
	// refresh could not recover; the tenant must reconnect the integration.
	FailureAuthExpired FailureKind = "auth_expired"

	// FailureProviderRejected is any other provider-side rejection,
	// surfaced verbatim.
	FailureProviderRejected FailureKind = "provider_rejected"
)

// Failure describes an unsuccessful outcome.
type Failure struct {
	Kind   FailureKind `json:"kind"`
	Detail string      `json:"detail"`
}

// Outcome is the result of a meeting operation. A Warning may accompany
// OK=true when the operation succeeded with a caller-visible side effect
// (e.g. the join link changed because the meeting had to be recreated).
type Outcome struct {
	OK      bool     `json:"ok"`
	JoinURL string   `json:"joinUrl,omitempty"`
	Warning string   `json:"warning,omitempty"`
	Failure *Failure `json:"failure,omitempty"`
}

func success(joinURL string) Outcome {
	return Outcome{OK: true, JoinURL: joinURL}
}

func fail(kind FailureKind, detail string) Outcome {
	return Outcome{Failure: &Failure{Kind: kind, Detail: detail}}
}

// Token is a stored OAuth token set for one tenant+platform connection.
// UpdatedAt orders concurrent refreshes: a save only wins when its
// UpdatedAt is strictly newer than the stored row's.
type Token struct {
	ID           string               `json:"id"`
	TenantID     string               `json:"tenantId"`
	Platform     entitlement.Platform `json:"platform"`
	AccessToken  string               `json:"accessToken"`
	RefreshToken string               `json:"refreshToken,omitempty"`
	ExpiresAt    *time.Time           `json:"expiresAt,omitempty"`
	Active       bool                 `json:"active"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

// Set converts the stored token to the adapter-facing token set.
func (t *Token) Set() provider.TokenSet {
	return provider.TokenSet{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    t.ExpiresAt,
	}
}

// Apply copies a refreshed token set onto the stored token and stamps it.
func (t *Token) Apply(ts provider.TokenSet, now time.Time) {
	t.AccessToken = ts.AccessToken
	t.RefreshToken = ts.RefreshToken
	t.ExpiresAt = ts.ExpiresAt
	t.UpdatedAt = now
}

// ClassMeeting is the meeting state persisted on a class record: the join
// link shown to participants plus the provider-side identity needed for
// later update and deletion.
type ClassMeeting struct {
	ClassID     string               `json:"classId"`
	TenantID    string               `json:"tenantId"`
	Platform    entitlement.Platform `json:"platform"`
	MeetingURL  string               `json:"meetingUrl"`
	MeetingID   string               `json:"meetingId,omitempty"`
	MeetingKind provider.MeetingKind `json:"meetingKind"`
	CalendarID  string               `json:"calendarId,omitempty"` // owning calendar for calendar events
	UpdatedAt   time.Time            `json:"updatedAt"`
}

// Ref is the provider-side identity later update and delete calls address.
func (m *ClassMeeting) Ref() provider.Ref {
	return provider.Ref{
		MeetingID:  m.MeetingID,
		Kind:       m.MeetingKind,
		CalendarID: m.CalendarID,
	}
}
