package booking

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

// Get returns one appointment by code. A code that is not APT-YYYYMMDD-NNN
// cannot exist and is reported as not found without a lookup.
func (s *Service) Get(ctx context.Context, code string) (model.AppointmentView, error) {
	if _, _, err := model.ParseCode(code); err != nil {
		return model.AppointmentView{}, apperr.NotFound(apperr.ReasonAppointmentNotFound, "appointment", code)
	}
	appt, err := s.store.GetByCode(ctx, s.db, code)
	if err != nil {
		return model.AppointmentView{}, err
	}
	return s.store.LoadView(ctx, s.db, appt.ID)
}

// Search lists appointments of one doctor, room or patient overlapping
// [From, To), in start order.
func (s *Service) Search(ctx context.Context, f model.Filter) ([]model.AppointmentView, error) {
	set := 0
	for _, code := range []string{f.DoctorCode, f.RoomCode, f.PatientCode} {
		if code != "" {
			set++
		}
	}
	if set != 1 {
		return nil, apperr.Precondition(apperr.ReasonInvalidWindow, "exactly one of doctor, room or patient is required")
	}
	if !f.To.After(f.From) {
		return nil, apperr.Precondition(apperr.ReasonInvalidWindow, "search window end must be after its start")
	}
	return s.store.Search(ctx, s.db, f)
}

// ListOverdue returns codes of SCHEDULED appointments that started more than
// grace ago.
func (s *Service) ListOverdue(ctx context.Context, grace time.Duration, limit int) ([]string, error) {
	return s.store.ListOverdue(ctx, s.db, s.now().Add(-grace), limit)
}
