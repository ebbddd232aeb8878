package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/segmentio/kafka-go"
)

// StatusCommand asks for one status transition, e.g. a kiosk check-in.
type StatusCommand struct {
	AppointmentCode string `json:"appointment_code"`
	Action          string `json:"action"`
	ActorCode       string `json:"actor_code"`
	ReasonCode      string `json:"reason_code"`
	Notes           string `json:"notes"`
}

// Transitioner is satisfied by *booking.Service.
type Transitioner interface {
	Transition(ctx context.Context, actorCode string, req booking.TransitionRequest) (model.AppointmentView, error)
}

// StatusCommandHandler applies status commands. Commands the engine rejects
// (unknown appointment, illegal move) are logged and dropped since a replay
// would be rejected the same way; anything else is returned.
func StatusCommandHandler(svc Transitioner, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var cmd StatusCommand
		if err := json.Unmarshal(msg.Value, &cmd); err != nil {
			logger.Warn("malformed status command dropped", "err", err, "offset", msg.Offset)
			return nil
		}
		to, ok := booking.TargetStatus(cmd.Action)
		if !ok || cmd.AppointmentCode == "" {
			logger.Warn("invalid status command dropped", "appointment_code", cmd.AppointmentCode, "action", cmd.Action)
			return nil
		}

		view, err := svc.Transition(ctx, cmd.ActorCode, booking.TransitionRequest{
			Code:       cmd.AppointmentCode,
			To:         to,
			ReasonCode: cmd.ReasonCode,
			Notes:      cmd.Notes,
		})
		if err != nil {
			if kind := apperr.KindOf(err); kind != apperr.KindInternal && kind != apperr.KindIntegrity {
				logger.Warn("status command rejected", "appointment_code", cmd.AppointmentCode, "action", cmd.Action, "err", err)
				return nil
			}
			return fmt.Errorf("apply %s to %s: %w", cmd.Action, cmd.AppointmentCode, err)
		}
		logger.Info("status command applied", "appointment_code", view.Code, "status", view.Status)
		return nil
	}
}
