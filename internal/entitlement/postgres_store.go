package entitlement

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore persists entitlement records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed entitlement store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	t := &Tenant{}
	var planID sql.NullString
	var tier string
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, plan_id, legacy_tier, created_at
		FROM tenants WHERE id = $1`, tenantID).
		Scan(&t.ID, &t.Name, &planID, &tier, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	if planID.Valid {
		t.PlanID = planID.String
	}
	t.LegacyTier = LegacyTier(tier)
	return t, nil
}

func (p *PostgresStore) GetPlan(ctx context.Context, planID string) (*PlanDefinition, error) {
	plan := &PlanDefinition{}
	var grantJSON []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, description, grant_config, public, active, created_at, updated_at
		FROM plans WHERE id = $1`, planID).
		Scan(&plan.ID, &plan.Name, &plan.Description, &grantJSON,
			&plan.Public, &plan.Active, &plan.CreatedAt, &plan.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(grantJSON, &plan.Grant); err != nil {
		return nil, fmt.Errorf("entitlement: decode plan %s grant: %w", planID, err)
	}
	return plan, nil
}

func (p *PostgresStore) GetOverride(ctx context.Context, tenantID string) (*ManualOverride, error) {
	ov := &ManualOverride{}
	var (
		mode     sql.NullString
		allowed  pq.StringArray
		features []byte
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT tenant_id, enabled, max_facilitators, max_students, max_programs,
		       max_courses, max_storage_mb, integrations_mode, allowed_integrations,
		       features, updated_at
		FROM tenant_overrides WHERE tenant_id = $1`, tenantID).
		Scan(&ov.TenantID, &ov.Enabled, &ov.MaxFacilitators, &ov.MaxStudents,
			&ov.MaxPrograms, &ov.MaxCourses, &ov.MaxStorageMB, &mode, &allowed,
			&features, &ov.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrOverrideNotFound
	}
	if err != nil {
		return nil, err
	}
	if mode.Valid {
		m := IntegrationsMode(mode.String)
		ov.IntegrationsMode = &m
	}
	if allowed != nil {
		ov.AllowedIntegrations = make([]Platform, 0, len(allowed))
		for _, a := range allowed {
			ov.AllowedIntegrations = append(ov.AllowedIntegrations, Platform(a))
		}
	}
	if len(features) > 0 {
		var f Features
		if err := json.Unmarshal(features, &f); err != nil {
			return nil, fmt.Errorf("entitlement: decode override features: %w", err)
		}
		ov.Features = &f
	}
	return ov, nil
}

func (p *PostgresStore) GetCoupon(ctx context.Context, couponID string) (*Coupon, error) {
	return p.scanCoupon(p.db.QueryRowContext(ctx, couponQuery+` WHERE id = $1`, couponID))
}

func (p *PostgresStore) GetCouponByCode(ctx context.Context, code string) (*Coupon, error) {
	return p.scanCoupon(p.db.QueryRowContext(ctx, couponQuery+` WHERE code = $1`, NormalizeCode(code)))
}

const couponQuery = `
	SELECT id, code, grant_type, plan_id, max_facilitators, max_students,
	       max_programs, max_courses, max_storage_mb, integrations_mode,
	       allowed_integrations, features, duration_type, duration_value,
	       max_redemptions, current_redemptions, is_active, expires_at, created_at
	FROM coupons`

func (p *PostgresStore) scanCoupon(row *sql.Row) (*Coupon, error) {
	c := &Coupon{}
	var (
		planID   sql.NullString
		mode     sql.NullString
		allowed  pq.StringArray
		features []byte
		expires  sql.NullTime
	)
	err := row.Scan(&c.ID, &c.Code, &c.GrantType, &planID, &c.MaxFacilitators,
		&c.MaxStudents, &c.MaxPrograms, &c.MaxCourses, &c.MaxStorageMB, &mode,
		&allowed, &features, &c.DurationType, &c.DurationValue,
		&c.MaxRedemptions, &c.CurrentRedemptions, &c.IsActive, &expires, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrCouponNotFound
	}
	if err != nil {
		return nil, err
	}
	if planID.Valid {
		c.PlanID = planID.String
	}
	if mode.Valid {
		c.IntegrationsMode = IntegrationsMode(mode.String)
	}
	for _, a := range allowed {
		c.AllowedIntegrations = append(c.AllowedIntegrations, Platform(a))
	}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &c.Features); err != nil {
			return nil, fmt.Errorf("entitlement: decode coupon features: %w", err)
		}
	}
	if expires.Valid {
		t := expires.Time
		c.ExpiresAt = &t
	}
	return c, nil
}

func (p *PostgresStore) LatestActiveRedemption(ctx context.Context, tenantID string) (*CouponRedemption, error) {
	r := &CouponRedemption{}
	var expires sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT id, coupon_id, tenant_id, redeemed_by, redeemed_at, expires_at, is_active
		FROM coupon_redemptions
		WHERE tenant_id = $1 AND is_active = TRUE
		ORDER BY redeemed_at DESC
		LIMIT 1`, tenantID).
		Scan(&r.ID, &r.CouponID, &r.TenantID, &r.RedeemedBy, &r.RedeemedAt,
			&expires, &r.IsActive)
	if err == sql.ErrNoRows {
		return nil, ErrRedemptionNotFound
	}
	if err != nil {
		return nil, err
	}
	if expires.Valid {
		t := expires.Time
		r.ExpiresAt = &t
	}
	return r, nil
}

func (p *PostgresStore) ActiveRedemptionOfCoupon(ctx context.Context, tenantID, couponID string) (*CouponRedemption, error) {
	r := &CouponRedemption{}
	var expires sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT id, coupon_id, tenant_id, redeemed_by, redeemed_at, expires_at, is_active
		FROM coupon_redemptions
		WHERE tenant_id = $1 AND coupon_id = $2 AND is_active = TRUE
		ORDER BY redeemed_at DESC
		LIMIT 1`, tenantID, couponID).
		Scan(&r.ID, &r.CouponID, &r.TenantID, &r.RedeemedBy, &r.RedeemedAt,
			&expires, &r.IsActive)
	if err == sql.ErrNoRows {
		return nil, ErrRedemptionNotFound
	}
	if err != nil {
		return nil, err
	}
	if expires.Valid {
		t := expires.Time
		r.ExpiresAt = &t
	}
	return r, nil
}

// CreateRedemption inserts the redemption and bumps the coupon counter in
// one transaction so a concurrent redemption cannot slip past the budget.
func (p *PostgresStore) CreateRedemption(ctx context.Context, r *CouponRedemption) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE coupons SET current_redemptions = current_redemptions + 1
		WHERE id = $1
		  AND (max_redemptions IS NULL OR current_redemptions < max_redemptions)`,
		r.CouponID)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrCouponExhausted
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO coupon_redemptions (id, coupon_id, tenant_id, redeemed_by,
			redeemed_at, expires_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.CouponID, r.TenantID, r.RedeemedBy, r.RedeemedAt, r.ExpiresAt, r.IsActive)
	if err != nil {
		return err
	}
	return tx.Commit()
}

var _ Store = (*PostgresStore)(nil)
