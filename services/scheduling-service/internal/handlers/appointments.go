package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/md-rashed-zaman/clinicsched/libs/httpx"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

type Scheduler interface {
	Book(ctx context.Context, actorCode string, req booking.BookRequest) (model.AppointmentView, error)
	Reschedule(ctx context.Context, actorCode string, req booking.RescheduleRequest) (booking.Rescheduled, error)
	Delay(ctx context.Context, actorCode string, req booking.DelayRequest) (model.AppointmentView, error)
	Transition(ctx context.Context, actorCode string, req booking.TransitionRequest) (model.AppointmentView, error)
	Get(ctx context.Context, code string) (model.AppointmentView, error)
	Search(ctx context.Context, f model.Filter) ([]model.AppointmentView, error)
}

type AppointmentHandler struct {
	svc    Scheduler
	logger *slog.Logger
}

func NewAppointmentHandler(svc Scheduler, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{svc: svc, logger: logger}
}

type participantBody struct {
	EmployeeCode string `json:"employee_code"`
	Role         string `json:"role"`
}

func (p participantBody) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.EmployeeCode, validation.Required),
	)
}

func toParticipants(in []participantBody) []booking.ParticipantRequest {
	if in == nil {
		return nil
	}
	out := make([]booking.ParticipantRequest, 0, len(in))
	for _, p := range in {
		out = append(out, booking.ParticipantRequest{
			EmployeeCode: strings.TrimSpace(p.EmployeeCode),
			Role:         model.ParticipantRole(strings.ToUpper(strings.TrimSpace(p.Role))),
		})
	}
	return out
}

type bookRequest struct {
	PatientCode  string            `json:"patient_code"`
	DoctorCode   string            `json:"doctor_code"`
	RoomCode     string            `json:"room_code"`
	StartTime    string            `json:"start_time"`
	ServiceCodes []string          `json:"service_codes"`
	PlanItemIDs  []string          `json:"plan_item_ids"`
	Participants []participantBody `json:"participants"`
	Notes        string            `json:"notes"`
}

func (b bookRequest) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.PatientCode, validation.Required),
		validation.Field(&b.DoctorCode, validation.Required),
		validation.Field(&b.RoomCode, validation.Required),
		validation.Field(&b.StartTime, validation.Required, validation.Date(time.RFC3339)),
		validation.Field(&b.ServiceCodes, validation.Each(validation.Required)),
		validation.Field(&b.PlanItemIDs, validation.Each(validation.Required)),
		validation.Field(&b.Participants),
		validation.Field(&b.Notes, validation.Length(0, 2000)),
	)
}

type rescheduleRequest struct {
	Code         string            `json:"code"`
	StartTime    string            `json:"start_time"`
	PatientCode  string            `json:"patient_code"`
	DoctorCode   string            `json:"doctor_code"`
	RoomCode     string            `json:"room_code"`
	ServiceCodes []string          `json:"service_codes"`
	Participants []participantBody `json:"participants"`
	Notes        string            `json:"notes"`
	ReasonCode   string            `json:"reason_code"`
}

func (b rescheduleRequest) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.Code, validation.Required),
		validation.Field(&b.StartTime, validation.Required, validation.Date(time.RFC3339)),
		validation.Field(&b.ServiceCodes, validation.Each(validation.Required)),
		validation.Field(&b.Participants),
		validation.Field(&b.Notes, validation.Length(0, 2000)),
	)
}

type delayRequest struct {
	Code         string `json:"code"`
	NewStartTime string `json:"new_start_time"`
	ReasonCode   string `json:"reason_code"`
	Notes        string `json:"notes"`
}

func (b delayRequest) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.Code, validation.Required),
		validation.Field(&b.NewStartTime, validation.Required, validation.Date(time.RFC3339)),
		validation.Field(&b.Notes, validation.Length(0, 2000)),
	)
}

type statusRequest struct {
	Code       string `json:"code"`
	Action     string `json:"action"`
	ReasonCode string `json:"reason_code"`
	Notes      string `json:"notes"`
}

func (b statusRequest) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.Code, validation.Required),
		validation.Field(&b.Action, validation.Required, validation.By(func(any) error {
			if _, ok := booking.TargetStatus(b.Action); !ok {
				return validation.NewError("validation_action", "must be one of CHECK_IN, START, COMPLETE, CANCEL, NO_SHOW")
			}
			return nil
		})),
		validation.Field(&b.Notes, validation.Length(0, 2000)),
	)
}

type searchQuery struct {
	DoctorCode  string `json:"doctor_code"`
	RoomCode    string `json:"room_code"`
	PatientCode string `json:"patient_code"`
	From        string `json:"from"`
	To          string `json:"to"`
}

func (q searchQuery) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.DoctorCode, validation.Required.When(q.RoomCode == "" && q.PatientCode == "").Error("one of doctor_code, room_code or patient_code is required")),
		validation.Field(&q.From, validation.Required, validation.Date(time.RFC3339)),
		validation.Field(&q.To, validation.Required, validation.Date(time.RFC3339)),
	)
}

// actorCode is empty for the house actor.
func actorCode(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(httpx.ActorHeader))
}

func mustTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func (h *AppointmentHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req bookRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		writeInvalid(w, err)
		return
	}

	view, err := h.svc.Book(r.Context(), actorCode(r), booking.BookRequest{
		PatientCode:  strings.TrimSpace(req.PatientCode),
		DoctorCode:   strings.TrimSpace(req.DoctorCode),
		RoomCode:     strings.TrimSpace(req.RoomCode),
		StartTime:    mustTime(req.StartTime),
		ServiceCodes: req.ServiceCodes,
		PlanItemIDs:  req.PlanItemIDs,
		Participants: toParticipants(req.Participants),
		Notes:        req.Notes,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"appointment": toAppointmentItem(view)})
}

func (h *AppointmentHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req rescheduleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		writeInvalid(w, err)
		return
	}

	res, err := h.svc.Reschedule(r.Context(), actorCode(r), booking.RescheduleRequest{
		Code:         strings.TrimSpace(req.Code),
		StartTime:    mustTime(req.StartTime),
		PatientCode:  strings.TrimSpace(req.PatientCode),
		DoctorCode:   strings.TrimSpace(req.DoctorCode),
		RoomCode:     strings.TrimSpace(req.RoomCode),
		ServiceCodes: req.ServiceCodes,
		Participants: toParticipants(req.Participants),
		Notes:        req.Notes,
		ReasonCode:   strings.TrimSpace(req.ReasonCode),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"previous":    toAppointmentItem(res.Previous),
		"replacement": toAppointmentItem(res.Replacement),
	})
}

func (h *AppointmentHandler) Delay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req delayRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		writeInvalid(w, err)
		return
	}

	view, err := h.svc.Delay(r.Context(), actorCode(r), booking.DelayRequest{
		Code:       strings.TrimSpace(req.Code),
		NewStart:   mustTime(req.NewStartTime),
		ReasonCode: strings.TrimSpace(req.ReasonCode),
		Notes:      req.Notes,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"appointment": toAppointmentItem(view)})
}

func (h *AppointmentHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		writeInvalid(w, err)
		return
	}
	to, _ := booking.TargetStatus(req.Action)

	view, err := h.svc.Transition(r.Context(), actorCode(r), booking.TransitionRequest{
		Code:       strings.TrimSpace(req.Code),
		To:         to,
		ReasonCode: strings.TrimSpace(req.ReasonCode),
		Notes:      req.Notes,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"appointment": toAppointmentItem(view)})
}

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}

	view, err := h.svc.Get(r.Context(), code)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"appointment": toAppointmentItem(view)})
}

func (h *AppointmentHandler) Search(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	params := r.URL.Query()
	q := searchQuery{
		DoctorCode:  strings.TrimSpace(params.Get("doctor_code")),
		RoomCode:    strings.TrimSpace(params.Get("room_code")),
		PatientCode: strings.TrimSpace(params.Get("patient_code")),
		From:        strings.TrimSpace(params.Get("from")),
		To:          strings.TrimSpace(params.Get("to")),
	}
	if err := q.Validate(); err != nil {
		writeInvalid(w, err)
		return
	}

	views, err := h.svc.Search(r.Context(), model.Filter{
		DoctorCode:  q.DoctorCode,
		RoomCode:    q.RoomCode,
		PatientCode: q.PatientCode,
		From:        mustTime(q.From),
		To:          mustTime(q.To),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	items := make([]appointmentItem, 0, len(views))
	for _, v := range views {
		items = append(items, toAppointmentItem(v))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"appointments": items})
}
