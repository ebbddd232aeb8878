package handlers

import (
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

type refItem struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type serviceItem struct {
	Code            string `json:"code"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	BufferMinutes   int    `json:"buffer_minutes"`
}

type participantItem struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Role string `json:"role"`
}

type appointmentItem struct {
	Code         string            `json:"code"`
	Status       string            `json:"status"`
	StartTime    string            `json:"start_time"`
	EndTime      string            `json:"end_time"`
	Patient      refItem           `json:"patient"`
	Doctor       refItem           `json:"doctor"`
	Room         refItem           `json:"room"`
	Services     []serviceItem     `json:"services"`
	Participants []participantItem `json:"participants"`
	PlanItemIDs  []string          `json:"plan_item_ids,omitempty"`
	Notes        string            `json:"notes,omitempty"`
	ReplacedBy   string            `json:"replaced_by,omitempty"`
	CreatedAt    string            `json:"created_at,omitempty"`
	UpdatedAt    string            `json:"updated_at,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toAppointmentItem(v model.AppointmentView) appointmentItem {
	item := appointmentItem{
		Code:         v.Code,
		Status:       string(v.Status),
		StartTime:    formatTime(v.StartTime),
		EndTime:      formatTime(v.EndTime),
		Patient:      refItem{Code: v.Patient.Code, Name: v.Patient.Name},
		Doctor:       refItem{Code: v.Doctor.Code, Name: v.Doctor.Name},
		Room:         refItem{Code: v.Room.Code, Name: v.Room.Name},
		Services:     make([]serviceItem, 0, len(v.Services)),
		Participants: make([]participantItem, 0, len(v.Participants)),
		PlanItemIDs:  v.PlanItemIDs,
		Notes:        v.Notes,
		ReplacedBy:   v.ReplacedByCode,
		CreatedAt:    formatTime(v.CreatedAt),
		UpdatedAt:    formatTime(v.UpdatedAt),
	}
	for _, s := range v.Services {
		item.Services = append(item.Services, serviceItem{
			Code: s.Code, Name: s.Name, DurationMinutes: s.DurationMinutes, BufferMinutes: s.BufferMinutes,
		})
	}
	for _, p := range v.Participants {
		item.Participants = append(item.Participants, participantItem{Code: p.Code, Name: p.Name, Role: string(p.Role)})
	}
	return item
}

type windowItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func toWindow(iv interval.Interval) windowItem {
	return windowItem{StartTime: formatTime(iv.Start), EndTime: formatTime(iv.End)}
}

type doctorItem struct {
	Code            string       `json:"code"`
	Name            string       `json:"name"`
	Specializations []string     `json:"specializations"`
	Shifts          []windowItem `json:"shifts"`
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Suggested bool   `json:"suggested"`
}

type roomItem struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type resourcesResponse struct {
	Rooms      []roomItem `json:"rooms"`
	Assistants []refItem  `json:"assistants"`
}

type timeSlotItem struct {
	StartTime string   `json:"start_time"`
	EndTime   string   `json:"end_time"`
	RoomCodes []string `json:"room_codes"`
}

type timesResponse struct {
	TotalDurationMinutes int            `json:"total_duration_minutes"`
	Slots                []timeSlotItem `json:"slots"`
	Message              string         `json:"message,omitempty"`
}

func toDoctorItems(in []availability.DoctorAvailability) []doctorItem {
	out := make([]doctorItem, 0, len(in))
	for _, d := range in {
		item := doctorItem{
			Code:            d.Doctor.Code,
			Name:            d.Doctor.FullName,
			Specializations: d.Doctor.Specializations,
			Shifts:          make([]windowItem, 0, len(d.Shifts)),
		}
		if item.Specializations == nil {
			item.Specializations = []string{}
		}
		for _, s := range d.Shifts {
			item.Shifts = append(item.Shifts, toWindow(s))
		}
		out = append(out, item)
	}
	return out
}

func toSlotItems(in []availability.TimeSlot) []slotItem {
	out := make([]slotItem, 0, len(in))
	for _, s := range in {
		out = append(out, slotItem{StartTime: formatTime(s.Start), EndTime: formatTime(s.End), Suggested: s.Suggested})
	}
	return out
}

func toResourcesResponse(in availability.Resources) resourcesResponse {
	resp := resourcesResponse{
		Rooms:      make([]roomItem, 0, len(in.Rooms)),
		Assistants: make([]refItem, 0, len(in.Assistants)),
	}
	for _, r := range in.Rooms {
		resp.Rooms = append(resp.Rooms, roomItem{Code: r.Code, Name: r.Name})
	}
	for _, e := range in.Assistants {
		resp.Assistants = append(resp.Assistants, refItem{Code: e.Code, Name: e.FullName})
	}
	return resp
}

func toTimesResponse(in availability.Times) timesResponse {
	resp := timesResponse{
		TotalDurationMinutes: int(in.TotalDuration / time.Minute),
		Slots:                make([]timeSlotItem, 0, len(in.Slots)),
		Message:              in.Message,
	}
	for _, s := range in.Slots {
		resp.Slots = append(resp.Slots, timeSlotItem{StartTime: formatTime(s.Start), EndTime: formatTime(s.End), RoomCodes: s.RoomCodes})
	}
	return resp
}
