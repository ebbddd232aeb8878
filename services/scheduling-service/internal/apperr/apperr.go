// Package apperr is the error vocabulary of the scheduling engine. Every
// rejection the engine produces is an *Error with a Kind callers switch on.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

type Kind int

const (
	// KindInternal is anything that is not an *Error: storage failures,
	// cancelled contexts, collaborator outages.
	KindInternal Kind = iota
	KindNotFound
	KindPrecondition
	KindConflict
	KindInvalidTransition
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindPrecondition:
		return "precondition_violation"
	case KindConflict:
		return "resource_conflict"
	case KindInvalidTransition:
		return "invalid_state_transition"
	case KindIntegrity:
		return "integrity_mismatch"
	default:
		return "internal"
	}
}

// Reason codes for precondition and not-found errors.
const (
	ReasonPatientNotFound     = "PATIENT_NOT_FOUND"
	ReasonDoctorNotFound      = "DOCTOR_NOT_FOUND"
	ReasonRoomNotFound        = "ROOM_NOT_FOUND"
	ReasonServicesNotFound    = "SERVICES_NOT_FOUND"
	ReasonParticipantNotFound = "PARTICIPANT_NOT_FOUND"
	ReasonEmployeeNotFound    = "EMPLOYEE_NOT_FOUND"
	ReasonAppointmentNotFound = "APPOINTMENT_NOT_FOUND"
	ReasonPlanItemNotFound    = "PLAN_ITEM_NOT_FOUND"

	ReasonPatientInactive     = "PATIENT_INACTIVE"
	ReasonPatientBlocked      = "PATIENT_BLOCKED"
	ReasonDoctorInactive      = "DOCTOR_INACTIVE"
	ReasonNotMedicalStaff     = "NOT_MEDICAL_STAFF"
	ReasonRoomInactive        = "ROOM_INACTIVE"
	ReasonServiceInactive     = "SERVICE_INACTIVE"
	ReasonParticipantInactive = "PARTICIPANT_INACTIVE"
	ReasonParticipantIsDoctor = "PARTICIPANT_IS_DOCTOR"
	ReasonInvalidRole         = "INVALID_PARTICIPANT_ROLE"
	ReasonDoctorNotQualified  = "DOCTOR_NOT_QUALIFIED"
	ReasonRoomIncompatible    = "ROOM_INCOMPATIBLE"
	ReasonNoCompatibleRoom    = "NO_COMPATIBLE_ROOM"
	ReasonNoServices          = "NO_SERVICES"
	ReasonBookingMode         = "BOOKING_MODE_CONFLICT"
	ReasonPlanItemNotReady    = "PLAN_ITEM_NOT_READY"
	ReasonPlanItemPatient     = "PLAN_ITEM_PATIENT_MISMATCH"
	ReasonStartInPast         = "START_IN_PAST"
	ReasonDateInPast          = "DATE_IN_PAST"
	ReasonLeadTime            = "MIN_LEAD_TIME"
	ReasonBeyondHorizon       = "BEYOND_BOOKING_HORIZON"
	ReasonNoShift             = "NO_SHIFT"
	ReasonShiftNotCovering    = "SHIFT_NOT_COVERING"
	ReasonIneligible          = "CLINICAL_ELIGIBILITY"
	ReasonInvalidDuration     = "INVALID_DURATION"
	ReasonInvalidWindow       = "INVALID_WINDOW"
	ReasonNotLater            = "NEW_START_NOT_LATER"
)

// Error is the tagged error value. Resource, ResourceCode and
// ConflictingAppointment are set for conflicts (and for not-found errors
// when a single code is at fault).
type Error struct {
	Kind                   Kind
	Reason                 string
	Message                string
	Resource               string
	ResourceCode           string
	ConflictingAppointment string
	Err                    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Reason != "" {
		b.WriteString(" [")
		b.WriteString(e.Reason)
		b.WriteString("]")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind and, when the target sets one, Reason.
// errors.Is(err, &apperr.Error{Kind: apperr.KindConflict}) is true for any conflict.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Reason == "" || t.Reason == e.Reason)
}

func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

func ReasonOf(err error) string {
	if e, ok := As(err); ok {
		return e.Reason
	}
	return ""
}

func NotFound(reason, resource, code string) *Error {
	return &Error{
		Kind:         KindNotFound,
		Reason:       reason,
		Message:      fmt.Sprintf("%s %q not found", resource, code),
		Resource:     resource,
		ResourceCode: code,
	}
}

func Precondition(reason, format string, args ...any) *Error {
	return &Error{Kind: KindPrecondition, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Conflict names the double-booked resource and, when known, the appointment
// already holding it.
func Conflict(resource, resourceCode, conflictingAppointment string) *Error {
	msg := fmt.Sprintf("%s %s is already booked", resource, resourceCode)
	if conflictingAppointment != "" {
		msg += " by " + conflictingAppointment
	}
	return &Error{
		Kind:                   KindConflict,
		Reason:                 "DOUBLE_BOOKING",
		Message:                msg,
		Resource:               resource,
		ResourceCode:           resourceCode,
		ConflictingAppointment: conflictingAppointment,
	}
}

func InvalidTransition(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidTransition, Reason: "INVALID_TRANSITION", Message: fmt.Sprintf(format, args...)}
}

func Integrity(format string, args ...any) *Error {
	return &Error{Kind: KindIntegrity, Reason: "INTEGRITY_MISMATCH", Message: fmt.Sprintf(format, args...)}
}
