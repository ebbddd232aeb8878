package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/md-rashed-zaman/clinicsched/libs/httpx"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/availability"
)

const dateLayout = "2006-01-02"

type AvailabilityEngine interface {
	AvailableDoctors(ctx context.Context, date time.Time, serviceCodes []string) ([]availability.DoctorAvailability, error)
	AvailableTimeSlots(ctx context.Context, date time.Time, doctorCode string, durationMinutes int) ([]availability.TimeSlot, error)
	AvailableResources(ctx context.Context, start, end time.Time, serviceCodes []string) (availability.Resources, error)
	FindAvailableTimes(ctx context.Context, date time.Time, doctorCode string, serviceCodes, participantCodes []string) (availability.Times, error)
}

type AvailabilityHandler struct {
	engine AvailabilityEngine
	loc    *time.Location
	logger *slog.Logger
}

// NewAvailabilityHandler interprets bare dates in loc.
func NewAvailabilityHandler(engine AvailabilityEngine, loc *time.Location, logger *slog.Logger) *AvailabilityHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &AvailabilityHandler{engine: engine, loc: loc, logger: logger}
}

type doctorsQuery struct {
	Date         string   `json:"date"`
	ServiceCodes []string `json:"service_codes"`
}

func (q doctorsQuery) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.Date, validation.Required, validation.Date(dateLayout)),
	)
}

type slotsQuery struct {
	Date            string `json:"date"`
	DoctorCode      string `json:"doctor_code"`
	DurationMinutes string `json:"duration_minutes"`
}

func (q slotsQuery) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.Date, validation.Required, validation.Date(dateLayout)),
		validation.Field(&q.DoctorCode, validation.Required),
		validation.Field(&q.DurationMinutes, validation.Required, validation.By(isInteger)),
	)
}

type resourcesQuery struct {
	StartTime    string   `json:"start_time"`
	EndTime      string   `json:"end_time"`
	ServiceCodes []string `json:"service_codes"`
}

func (q resourcesQuery) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.StartTime, validation.Required, validation.Date(time.RFC3339)),
		validation.Field(&q.EndTime, validation.Required, validation.Date(time.RFC3339)),
	)
}

type timesQuery struct {
	Date             string   `json:"date"`
	DoctorCode       string   `json:"doctor_code"`
	ServiceCodes     []string `json:"service_codes"`
	ParticipantCodes []string `json:"participant_codes"`
}

func (q timesQuery) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.Date, validation.Required, validation.Date(dateLayout)),
		validation.Field(&q.DoctorCode, validation.Required),
	)
}

func isInteger(value any) error {
	s, _ := value.(string)
	if _, err := strconv.Atoi(s); err != nil {
		return validation.NewError("validation_is_integer", "must be an integer")
	}
	return nil
}

// splitCodes accepts both repeated parameters and comma separated lists.
func splitCodes(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (h *AvailabilityHandler) parseDate(s string) time.Time {
	d, _ := time.ParseInLocation(dateLayout, s, h.loc)
	return d
}

func (h *AvailabilityHandler) Doctors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	params := r.URL.Query()
	q := doctorsQuery{
		Date:         strings.TrimSpace(params.Get("date")),
		ServiceCodes: splitCodes(params["service_codes"]),
	}
	if err := q.Validate(); err != nil {
		writeInvalid(w, err)
		return
	}

	doctors, err := h.engine.AvailableDoctors(r.Context(), h.parseDate(q.Date), q.ServiceCodes)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"doctors": toDoctorItems(doctors)})
}

func (h *AvailabilityHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	params := r.URL.Query()
	q := slotsQuery{
		Date:            strings.TrimSpace(params.Get("date")),
		DoctorCode:      strings.TrimSpace(params.Get("doctor_code")),
		DurationMinutes: strings.TrimSpace(params.Get("duration_minutes")),
	}
	if err := q.Validate(); err != nil {
		writeInvalid(w, err)
		return
	}
	minutes, _ := strconv.Atoi(q.DurationMinutes)

	slots, err := h.engine.AvailableTimeSlots(r.Context(), h.parseDate(q.Date), q.DoctorCode, minutes)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"slots": toSlotItems(slots)})
}

func (h *AvailabilityHandler) Resources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	params := r.URL.Query()
	q := resourcesQuery{
		StartTime:    strings.TrimSpace(params.Get("start_time")),
		EndTime:      strings.TrimSpace(params.Get("end_time")),
		ServiceCodes: splitCodes(params["service_codes"]),
	}
	if err := q.Validate(); err != nil {
		writeInvalid(w, err)
		return
	}
	start, _ := time.Parse(time.RFC3339, q.StartTime)
	end, _ := time.Parse(time.RFC3339, q.EndTime)

	res, err := h.engine.AvailableResources(r.Context(), start, end, q.ServiceCodes)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResourcesResponse(res))
}

func (h *AvailabilityHandler) Times(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	params := r.URL.Query()
	q := timesQuery{
		Date:             strings.TrimSpace(params.Get("date")),
		DoctorCode:       strings.TrimSpace(params.Get("doctor_code")),
		ServiceCodes:     splitCodes(params["service_codes"]),
		ParticipantCodes: splitCodes(params["participant_codes"]),
	}
	if err := q.Validate(); err != nil {
		writeInvalid(w, err)
		return
	}

	times, err := h.engine.FindAvailableTimes(r.Context(), h.parseDate(q.Date), q.DoctorCode, q.ServiceCodes, q.ParticipantCodes)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toTimesResponse(times))
}
