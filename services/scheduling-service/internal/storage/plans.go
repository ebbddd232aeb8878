package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/clinicsched/libs/db"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

type PlanRepository struct {
	pool *db.Pool
}

func NewPlanRepository(pool *db.Pool) *PlanRepository {
	return &PlanRepository{pool: pool}
}

// LockPlanItems row-locks the items that exist; missing ids are simply absent
// from the result.
func (r *PlanRepository) LockPlanItems(ctx context.Context, tx pgx.Tx, ids []string) ([]model.PlanItem, error) {
	rows, err := tx.Query(ctx, `
		SELECT id::text, plan_id::text, patient_id::text, service_id::text, status
		FROM plan_items
		WHERE id::text = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("lock plan items: %w", err)
	}
	defer rows.Close()

	var items []model.PlanItem
	for rows.Next() {
		var item model.PlanItem
		var status string
		if err := rows.Scan(&item.ID, &item.PlanID, &item.PatientID, &item.ServiceID, &status); err != nil {
			return nil, err
		}
		item.Status = model.PlanItemStatus(status)
		items = append(items, item)
	}
	return items, rows.Err()
}

// SetPlanItemStatus returns how many rows it changed; callers compare it with
// len(ids).
func (r *PlanRepository) SetPlanItemStatus(ctx context.Context, tx pgx.Tx, ids []string, status model.PlanItemStatus) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE plan_items
		SET status = $2, updated_at = now()
		WHERE id::text = ANY($1)
	`, ids, string(status))
	if err != nil {
		return 0, fmt.Errorf("update plan items: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PlanRepository) StartPlans(ctx context.Context, tx pgx.Tx, planIDs []string) error {
	_, err := tx.Exec(ctx, `
		UPDATE treatment_plans
		SET status = $2, updated_at = now()
		WHERE id::text = ANY($1) AND status = $3
	`, planIDs, string(model.PlanInProgress), string(model.PlanPending))
	if err != nil {
		return fmt.Errorf("start plans: %w", err)
	}
	return nil
}
