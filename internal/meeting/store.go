package meeting

import (
	"context"
	"errors"

	"github.com/chapelhq/chapel/internal/entitlement"
)

var (
	ErrTokenNotFound = errors.New("meeting: token not found")
	ErrClassNotFound = errors.New("meeting: class meeting not found")

	// ErrStaleToken is returned by SaveTokenIfNewer when the stored row is
	// already as new or newer than the one being written. The caller should
	// reload and use the stored token instead.
	ErrStaleToken = errors.New("meeting: stale token write")
)

// TokenStore persists OAuth token sets per tenant+platform connection.
type TokenStore interface {
	// GetToken returns the token for a tenant+platform pair, active or not.
	GetToken(ctx context.Context, tenantID string, platform entitlement.Platform) (*Token, error)

	// SaveTokenIfNewer writes the token only when its UpdatedAt is strictly
	// newer than the stored row's; otherwise it returns ErrStaleToken.
	// Concurrent refreshes for the same connection therefore converge on
	// the most recent token rather than the last writer.
	SaveTokenIfNewer(ctx context.Context, t *Token) error

	// DeactivateToken flags a connection inactive (tenant disconnected).
	DeactivateToken(ctx context.Context, tenantID string, platform entitlement.Platform) error
}

// ClassStore persists the meeting fields of class records.
type ClassStore interface {
	GetClassMeeting(ctx context.Context, classID string) (*ClassMeeting, error)
	SaveClassMeeting(ctx context.Context, cm *ClassMeeting) error
	ClearClassMeeting(ctx context.Context, classID string) error
}
