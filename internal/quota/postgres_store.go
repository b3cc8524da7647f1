package quota

import (
	"context"
	"database/sql"
)

// PostgresUsageStore counts live rows in PostgreSQL. Facilitators and
// students are membership rows with a role; programs and courses are their
// own tables. Integrations are active OAuth connections.
type PostgresUsageStore struct {
	db *sql.DB
}

// NewPostgresUsageStore creates a new PostgreSQL-backed usage store.
func NewPostgresUsageStore(db *sql.DB) *PostgresUsageStore {
	return &PostgresUsageStore{db: db}
}

func (p *PostgresUsageStore) countRole(ctx context.Context, tenantID, role string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memberships
		WHERE tenant_id = $1 AND role = $2 AND active = TRUE`, tenantID, role).Scan(&n)
	return n, err
}

func (p *PostgresUsageStore) CountFacilitators(ctx context.Context, tenantID string) (int, error) {
	return p.countRole(ctx, tenantID, "facilitator")
}

func (p *PostgresUsageStore) CountStudents(ctx context.Context, tenantID string) (int, error) {
	return p.countRole(ctx, tenantID, "student")
}

func (p *PostgresUsageStore) CountPrograms(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM programs WHERE tenant_id = $1`, tenantID).Scan(&n)
	return n, err
}

func (p *PostgresUsageStore) CountCourses(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM courses WHERE tenant_id = $1`, tenantID).Scan(&n)
	return n, err
}

func (p *PostgresUsageStore) CountIntegrations(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM oauth_tokens
		WHERE tenant_id = $1 AND active = TRUE`, tenantID).Scan(&n)
	return n, err
}

var _ UsageStore = (*PostgresUsageStore)(nil)
