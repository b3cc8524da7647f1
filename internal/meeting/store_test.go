package meeting

import (
	"context"
	"testing"
	"time"

	"github.com/chapelhq/chapel/internal/entitlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SaveTokenIfNewer(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	first := &Token{
		TenantID:    "t_1",
		Platform:    entitlement.PlatformZoom,
		AccessToken: "first",
		Active:      true,
		UpdatedAt:   base,
	}
	require.NoError(t, store.SaveTokenIfNewer(ctx, first))

	// A strictly newer token wins.
	newer := *first
	newer.AccessToken = "second"
	newer.UpdatedAt = base.Add(time.Second)
	require.NoError(t, store.SaveTokenIfNewer(ctx, &newer))

	// Equal or older timestamps are rejected, keeping the stored token.
	stale := *first
	stale.AccessToken = "stale"
	assert.ErrorIs(t, store.SaveTokenIfNewer(ctx, &stale), ErrStaleToken)

	older := *first
	older.AccessToken = "older"
	older.UpdatedAt = base.Add(-time.Second)
	assert.ErrorIs(t, store.SaveTokenIfNewer(ctx, &older), ErrStaleToken)

	got, err := store.GetToken(ctx, "t_1", entitlement.PlatformZoom)
	require.NoError(t, err)
	assert.Equal(t, "second", got.AccessToken)
}

func TestMemoryStore_DeactivateToken(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.PutToken(&Token{TenantID: "t_1", Platform: entitlement.PlatformZoom, Active: true})

	require.NoError(t, store.DeactivateToken(ctx, "t_1", entitlement.PlatformZoom))

	got, err := store.GetToken(ctx, "t_1", entitlement.PlatformZoom)
	require.NoError(t, err)
	assert.False(t, got.Active)

	assert.ErrorIs(t, store.DeactivateToken(ctx, "t_2", entitlement.PlatformZoom), ErrTokenNotFound)
}

func TestMemoryStore_ClassMeetings(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.GetClassMeeting(ctx, "cls_1")
	assert.ErrorIs(t, err, ErrClassNotFound)

	cm := &ClassMeeting{
		ClassID:    "cls_1",
		TenantID:   "t_1",
		Platform:   entitlement.PlatformGoogleMeet,
		MeetingURL: "https://meet.google.com/abc",
		MeetingID:  "gcal-1",
		CalendarID: "youth-ministry",
	}
	require.NoError(t, store.SaveClassMeeting(ctx, cm))

	got, err := store.GetClassMeeting(ctx, "cls_1")
	require.NoError(t, err)
	assert.Equal(t, cm.MeetingURL, got.MeetingURL)
	assert.Equal(t, "youth-ministry", got.CalendarID)

	// Returned copies do not alias the stored record.
	got.MeetingURL = "mutated"
	again, err := store.GetClassMeeting(ctx, "cls_1")
	require.NoError(t, err)
	assert.Equal(t, "https://meet.google.com/abc", again.MeetingURL)

	require.NoError(t, store.ClearClassMeeting(ctx, "cls_1"))
	_, err = store.GetClassMeeting(ctx, "cls_1")
	assert.ErrorIs(t, err, ErrClassNotFound)
}
