package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chapelhq/chapel/internal/entitlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func testRequest() Request {
	return Request{
		ClassID:         "cls_1",
		TenantID:        "t_1",
		Platform:        entitlement.PlatformZoom,
		Title:           "Discipleship 101",
		StartTime:       time.Date(2026, 9, 7, 19, 0, 0, 0, time.UTC),
		DurationMinutes: 60,
		Timezone:        "America/Chicago",
	}
}

func TestZoom_CreateMeeting(t *testing.T) {
	var gotBody zoomMeetingBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/users/me/meetings", r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 987654321, "join_url": "https://zoom.us/j/987654321"}`))
	}))
	defer srv.Close()

	z := NewZoom(Credentials{ClientID: "id", ClientSecret: "secret"}, WithBaseURL(srv.URL))
	res, err := z.CreateMeeting(context.Background(), testRequest(), "tok-123")
	require.NoError(t, err)

	assert.Equal(t, "https://zoom.us/j/987654321", res.JoinURL)
	assert.Equal(t, "987654321", res.MeetingID)
	assert.Equal(t, KindOneTime, res.Kind)

	assert.Equal(t, "Discipleship 101", gotBody.Topic)
	assert.Equal(t, 2, gotBody.Type)
	assert.Equal(t, "2026-09-07T19:00:00Z", gotBody.StartTime)
	assert.Equal(t, 60, gotBody.Duration)
}

func TestZoom_CreateMeeting_RejectsRecurrence(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	z := NewZoom(Credentials{}, WithBaseURL(srv.URL))
	req := testRequest()
	req.Recurrence = &Recurrence{DaysOfWeek: []time.Weekday{time.Monday}}

	_, err := z.CreateMeeting(context.Background(), req, "tok")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 0, calls, "no network call for an invalid request")
}

func TestZoom_CreateMeeting_AuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code": 124, "message": "Access token is expired."}`))
	}))
	defer srv.Close()

	z := NewZoom(Credentials{}, WithBaseURL(srv.URL))
	_, err := z.CreateMeeting(context.Background(), testRequest(), "stale")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "124", apiErr.Code)
	assert.True(t, IsAuthError(err))
}

func TestZoom_CreateMeeting_ValidationErrorPassedThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code": 300, "message": "Invalid meeting time."}`))
	}))
	defer srv.Close()

	z := NewZoom(Credentials{}, WithBaseURL(srv.URL))
	_, err := z.CreateMeeting(context.Background(), testRequest(), "tok")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.False(t, IsAuthError(err))
	assert.Contains(t, apiErr.Message, "Invalid meeting time")
}

func TestZoom_DeleteMeeting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/meetings/987", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	z := NewZoom(Credentials{}, WithBaseURL(srv.URL))
	require.NoError(t, z.DeleteMeeting(context.Background(), Ref{MeetingID: "987", Kind: KindOneTime}, "tok"))
}

func TestZoom_RefreshTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.FormValue("grant_type"))
		assert.Equal(t, "old-refresh", r.FormValue("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh","token_type":"bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	z := NewZoom(Credentials{ClientID: "id", ClientSecret: "secret"},
		WithTokenEndpoint(oauth2.Endpoint{TokenURL: srv.URL}))

	next, err := z.RefreshTokens(context.Background(), TokenSet{
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
	})
	require.NoError(t, err)
	assert.Equal(t, "new-access", next.AccessToken)
	assert.Equal(t, "new-refresh", next.RefreshToken)
	require.NotNil(t, next.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *next.ExpiresAt, time.Minute)
}

func TestZoom_RefreshTokens_KeepsOldRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"new-access","token_type":"bearer"}`))
	}))
	defer srv.Close()

	z := NewZoom(Credentials{ClientID: "id", ClientSecret: "secret"},
		WithTokenEndpoint(oauth2.Endpoint{TokenURL: srv.URL}))

	next, err := z.RefreshTokens(context.Background(), TokenSet{RefreshToken: "keep-me"})
	require.NoError(t, err)
	assert.Equal(t, "keep-me", next.RefreshToken)
}

func TestZoom_RefreshTokens_Preconditions(t *testing.T) {
	z := NewZoom(Credentials{})
	_, err := z.RefreshTokens(context.Background(), TokenSet{RefreshToken: "r"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	z = NewZoom(Credentials{ClientID: "id", ClientSecret: "secret"})
	_, err = z.RefreshTokens(context.Background(), TokenSet{})
	assert.ErrorIs(t, err, ErrNoRefreshToken)
}

func TestRegistry(t *testing.T) {
	z := NewZoom(Credentials{})
	reg := NewRegistry(z)

	got, err := reg.Get(entitlement.PlatformZoom)
	require.NoError(t, err)
	assert.Same(t, Adapter(z), got)

	_, err = reg.Get(entitlement.PlatformTeams)
	assert.ErrorIs(t, err, ErrUnknownPlatform)

	assert.Len(t, reg.Platforms(), 1)
}
