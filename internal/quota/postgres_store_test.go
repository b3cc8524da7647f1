//go:build integration

package quota

import (
	"context"
	"testing"

	"github.com/chapelhq/chapel/internal/testutil"
)

func TestPostgresUsageCounts(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresUsageStore(db)
	ctx := context.Background()

	mustExec := func(query string, args ...any) {
		t.Helper()
		if _, err := db.ExecContext(ctx, query, args...); err != nil {
			t.Fatalf("exec %s: %v", query, err)
		}
	}

	mustExec(`INSERT INTO memberships (id, tenant_id, user_id, role, active) VALUES
		('m1', 't_u', 'u1', 'facilitator', TRUE),
		('m2', 't_u', 'u2', 'facilitator', FALSE),
		('m3', 't_u', 'u3', 'student', TRUE),
		('m4', 't_u', 'u4', 'student', TRUE),
		('m5', 't_other', 'u5', 'student', TRUE)`)
	mustExec(`INSERT INTO programs (id, tenant_id, name) VALUES
		('p1', 't_u', 'Foundations'), ('p2', 't_u', 'Leadership')`)
	mustExec(`INSERT INTO courses (id, tenant_id, program_id, name) VALUES
		('c1', 't_u', 'p1', 'Old Testament Survey')`)
	mustExec(`INSERT INTO oauth_tokens (id, tenant_id, platform, access_token, active) VALUES
		('tk1', 't_u', 'zoom', 'a', TRUE),
		('tk2', 't_u', 'teams', 'b', FALSE)`)

	checks := []struct {
		name  string
		count func(context.Context, string) (int, error)
		want  int
	}{
		{"facilitators", store.CountFacilitators, 1}, // inactive rows excluded
		{"students", store.CountStudents, 2},
		{"programs", store.CountPrograms, 2},
		{"courses", store.CountCourses, 1},
		{"integrations", store.CountIntegrations, 1}, // deactivated token excluded
	}
	for _, c := range checks {
		got, err := c.count(ctx, "t_u")
		if err != nil {
			t.Fatalf("count %s: %v", c.name, err)
		}
		if got != c.want {
			t.Errorf("%s: got %d, want %d", c.name, got, c.want)
		}
	}
}
