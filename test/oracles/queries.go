// Package oracles holds SQL invariant checks run repeatedly against the
// database while the stress actors hammer it. Each query returns rows only
// when its invariant is violated.
package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_one_agreement_per_booking",
			SQL: `SELECT booking_id, COUNT(*) FROM agreements
                  GROUP BY booking_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_signature_status_consistency",
			SQL: `SELECT id, status FROM agreements
                  WHERE (status = 'PENDING_LANDLORD' AND tenant_artifact_id IS NULL)
                     OR (status = 'PENDING_TENANT'   AND landlord_artifact_id IS NULL)
                     OR (status = 'COMPLETED' AND (tenant_artifact_id IS NULL OR landlord_artifact_id IS NULL))`,
		},
		{
			Name: "O3_document_only_when_completed",
			SQL: `SELECT id, status FROM agreements
                  WHERE document_id IS NOT NULL AND status <> 'COMPLETED'`,
		},
		{
			Name: "O4_one_artifact_per_role",
			SQL: `SELECT booking_id, role, COUNT(*) FROM signature_artifacts
                  GROUP BY booking_id, role HAVING COUNT(*) > 1`,
		},
		{
			Name: "O5_document_write_once",
			SQL: `SELECT agreement_id, COUNT(*) FROM documents
                  GROUP BY agreement_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O6_outbox_not_stuck",
			SQL: `SELECT id, topic FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '2 minutes'`,
		},
		{
			Name: "O7_single_creation_event",
			SQL: `SELECT agreement_id, COUNT(*) FROM timeline_events
                  WHERE type = 'AGREEMENT_CREATED'
                  GROUP BY agreement_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O8_completed_has_completion_event",
			SQL: `SELECT a.id FROM agreements a
                  WHERE a.status = 'COMPLETED'
                    AND NOT EXISTS (
                        SELECT 1 FROM timeline_events te
                        WHERE te.agreement_id = a.id AND te.type = 'AGREEMENT_COMPLETED')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
