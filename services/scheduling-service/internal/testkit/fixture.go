package testkit

import (
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

// Day is the clinic day most fixtures book on; Now is the day before.
var (
	Day = time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	Now = time.Date(2026, 1, 27, 10, 0, 0, 0, time.UTC)
)

// At is hh:mm on Day.
func At(h, m int) time.Time {
	return Day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

// Clinic is a small, fully staffed clinic:
//
//	DOC-1    GENERAL    08:00-12:00
//	DOC-2    ORTHO      13:00-17:00
//	DOC-3    (none)     08:00-12:00
//	NURSE-1  (none)     08:00-12:00
//	NURSE-2  (none)     10:00-12:00
//	CLERK-1  not medical
//
//	EXAM     20+10 min             ROOM-1 ROOM-2 ROOM-3
//	XRAY     15+5 min              ROOM-1 ROOM-3
//	FILLING  45+15 min, GENERAL    ROOM-1
//	SURGERY  60 min, ORTHO         ROOM-4 (inactive)
type Clinic struct {
	World *World

	Patient, Patient2, Blocked, InactivePatient model.Patient

	Doc1, Doc2, Doc3, Nurse1, Nurse2, Clerk, InactiveDoc model.Employee

	Exam, Xray, Filling, Surgery model.Service

	Room1, Room2, Room3, Room4 model.Room
}

func NewClinic() *Clinic {
	w := NewWorld()
	c := &Clinic{World: w}

	c.Patient = w.AddPatient(model.Patient{Code: "P-1", FullName: "Ada Patient", Active: true})
	c.Patient2 = w.AddPatient(model.Patient{Code: "P-2", FullName: "Ben Patient", Active: true})
	c.Blocked = w.AddPatient(model.Patient{Code: "P-BLOCKED", FullName: "Cy Blocked", Active: true, Blocked: true})
	c.InactivePatient = w.AddPatient(model.Patient{Code: "P-OFF", FullName: "Di Gone"})

	c.Doc1 = w.AddEmployee(model.Employee{Code: "DOC-1", FullName: "Dr One", Active: true, Medical: true, Specializations: []string{"GENERAL"}})
	c.Doc2 = w.AddEmployee(model.Employee{Code: "DOC-2", FullName: "Dr Two", Active: true, Medical: true, Specializations: []string{"ORTHO"}})
	c.Doc3 = w.AddEmployee(model.Employee{Code: "DOC-3", FullName: "Dr Three", Active: true, Medical: true})
	c.Nurse1 = w.AddEmployee(model.Employee{Code: "NURSE-1", FullName: "Nurse One", Active: true, Medical: true})
	c.Nurse2 = w.AddEmployee(model.Employee{Code: "NURSE-2", FullName: "Nurse Two", Active: true, Medical: true})
	c.Clerk = w.AddEmployee(model.Employee{Code: "CLERK-1", FullName: "Front Desk", Active: true})
	c.InactiveDoc = w.AddEmployee(model.Employee{Code: "DOC-OFF", FullName: "Dr Retired", Medical: true})

	c.Exam = w.AddService(model.Service{Code: "EXAM", Name: "Exam", Active: true, DurationMinutes: 20, BufferMinutes: 10})
	c.Xray = w.AddService(model.Service{Code: "XRAY", Name: "X-ray", Active: true, DurationMinutes: 15, BufferMinutes: 5})
	c.Filling = w.AddService(model.Service{Code: "FILLING", Name: "Filling", Active: true, DurationMinutes: 45, BufferMinutes: 15, RequiredSpecializations: []string{"GENERAL"}})
	c.Surgery = w.AddService(model.Service{Code: "SURGERY", Name: "Surgery", Active: true, DurationMinutes: 60, RequiredSpecializations: []string{"ORTHO"}})

	c.Room1 = w.AddRoom(model.Room{Code: "ROOM-1", Name: "Room 1", Active: true, ServiceIDs: []string{c.Exam.ID, c.Xray.ID, c.Filling.ID}})
	c.Room2 = w.AddRoom(model.Room{Code: "ROOM-2", Name: "Room 2", Active: true, ServiceIDs: []string{c.Exam.ID}})
	c.Room3 = w.AddRoom(model.Room{Code: "ROOM-3", Name: "Room 3", Active: true, ServiceIDs: []string{c.Exam.ID, c.Xray.ID}})
	c.Room4 = w.AddRoom(model.Room{Code: "ROOM-4", Name: "Theatre", ServiceIDs: []string{c.Surgery.ID}})

	w.AddShift(c.Doc1.ID, At(8, 0), At(12, 0))
	w.AddShift(c.Doc2.ID, At(13, 0), At(17, 0))
	w.AddShift(c.Doc3.ID, At(8, 0), At(12, 0))
	w.AddShift(c.Nurse1.ID, At(8, 0), At(12, 0))
	w.AddShift(c.Nurse2.ID, At(10, 0), At(12, 0))
	return c
}

// Book seeds an active appointment for doctor in room over [start, end).
func (c *Clinic) Book(doctor model.Employee, room model.Room, patient model.Patient, start, end time.Time, participants ...model.Employee) model.Appointment {
	a := model.Appointment{
		PatientID: patient.ID,
		DoctorID:  doctor.ID,
		RoomID:    room.ID,
		StartTime: start,
		EndTime:   end,
		Status:    model.StatusScheduled,
	}
	for _, p := range participants {
		a.Participants = append(a.Participants, model.Participant{EmployeeID: p.ID, Role: model.RoleAssistant})
	}
	return c.World.SeedAppointment(a)
}
