package meeting

import (
	"context"
	"database/sql"
	"time"

	"github.com/chapelhq/chapel/internal/entitlement"
)

// PostgresStore persists tokens and class meetings in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed meeting store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) GetToken(ctx context.Context, tenantID string, platform entitlement.Platform) (*Token, error) {
	t := &Token{}
	var refreshToken sql.NullString
	var expiresAt sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, platform, access_token, refresh_token, expires_at, active, updated_at
		FROM oauth_tokens WHERE tenant_id = $1 AND platform = $2`,
		tenantID, string(platform)).
		Scan(&t.ID, &t.TenantID, &t.Platform, &t.AccessToken,
			&refreshToken, &expiresAt, &t.Active, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	if refreshToken.Valid {
		t.RefreshToken = refreshToken.String
	}
	if expiresAt.Valid {
		exp := expiresAt.Time
		t.ExpiresAt = &exp
	}
	return t, nil
}

func (p *PostgresStore) SaveTokenIfNewer(ctx context.Context, t *Token) error {
	// The updated_at guard makes concurrent refreshes converge on the most
	// recent token instead of last-writer-wins.
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO oauth_tokens (id, tenant_id, platform, access_token, refresh_token, expires_at, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, platform) DO UPDATE
		SET access_token = EXCLUDED.access_token,
		    refresh_token = EXCLUDED.refresh_token,
		    expires_at = EXCLUDED.expires_at,
		    active = EXCLUDED.active,
		    updated_at = EXCLUDED.updated_at
		WHERE oauth_tokens.updated_at < EXCLUDED.updated_at`,
		t.ID, t.TenantID, string(t.Platform), t.AccessToken,
		nullString(t.RefreshToken), nullTime(t.ExpiresAt), t.Active, t.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleToken
	}
	return nil
}

func (p *PostgresStore) DeactivateToken(ctx context.Context, tenantID string, platform entitlement.Platform) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE oauth_tokens SET active = FALSE, updated_at = NOW()
		WHERE tenant_id = $1 AND platform = $2`,
		tenantID, string(platform))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTokenNotFound
	}
	return nil
}

func (p *PostgresStore) GetClassMeeting(ctx context.Context, classID string) (*ClassMeeting, error) {
	cm := &ClassMeeting{}
	var meetingID, calendarID sql.NullString
	err := p.db.QueryRowContext(ctx, `
		SELECT class_id, tenant_id, platform, meeting_url, meeting_id, meeting_kind, calendar_id, updated_at
		FROM class_meetings WHERE class_id = $1`, classID).
		Scan(&cm.ClassID, &cm.TenantID, &cm.Platform, &cm.MeetingURL,
			&meetingID, &cm.MeetingKind, &calendarID, &cm.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrClassNotFound
	}
	if err != nil {
		return nil, err
	}
	if meetingID.Valid {
		cm.MeetingID = meetingID.String
	}
	if calendarID.Valid {
		cm.CalendarID = calendarID.String
	}
	return cm, nil
}

func (p *PostgresStore) SaveClassMeeting(ctx context.Context, cm *ClassMeeting) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO class_meetings (class_id, tenant_id, platform, meeting_url, meeting_id, meeting_kind, calendar_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (class_id) DO UPDATE
		SET tenant_id = EXCLUDED.tenant_id,
		    platform = EXCLUDED.platform,
		    meeting_url = EXCLUDED.meeting_url,
		    meeting_id = EXCLUDED.meeting_id,
		    meeting_kind = EXCLUDED.meeting_kind,
		    calendar_id = EXCLUDED.calendar_id,
		    updated_at = EXCLUDED.updated_at`,
		cm.ClassID, cm.TenantID, string(cm.Platform), cm.MeetingURL,
		nullString(cm.MeetingID), string(cm.MeetingKind), nullString(cm.CalendarID), cm.UpdatedAt)
	return err
}

func (p *PostgresStore) ClearClassMeeting(ctx context.Context, classID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM class_meetings WHERE class_id = $1`, classID)
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var (
	_ TokenStore = (*PostgresStore)(nil)
	_ ClassStore = (*PostgresStore)(nil)
)
