package storage

import (
	"context"
	"fmt"

	"github.com/md-rashed-zaman/clinicsched/libs/db"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

// AuditRepository appends to appointment_audit_log. Rows are never updated.
type AuditRepository struct{}

func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

func (r *AuditRepository) Append(ctx context.Context, q db.Querier, e model.AuditEntry) error {
	_, err := q.Exec(ctx, `
		INSERT INTO appointment_audit_log
			(appointment_id, actor_id, action, old_status, new_status, old_start, new_start, reason_code, notes)
		VALUES ($1, NULLIF($2, '')::uuid, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, NULLIF($8, ''), NULLIF($9, ''))
	`, e.AppointmentID, e.ActorID, string(e.Action), string(e.OldStatus), string(e.NewStatus),
		e.OldStart, e.NewStart, e.ReasonCode, e.Notes)
	if err != nil {
		return fmt.Errorf("append audit %s for %s: %w", e.Action, e.AppointmentID, err)
	}
	return nil
}
