package catalog

import (
	"testing"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

func TestOrderServices(t *testing.T) {
	found := []model.Service{
		{ID: "2", Code: "XRAY", Active: true},
		{ID: "1", Code: "EXAM", Active: true},
	}
	got, err := OrderServices([]string{"EXAM", "XRAY", "EXAM"}, found)
	if err != nil {
		t.Fatalf("OrderServices: %v", err)
	}
	if len(got) != 2 || got[0].Code != "EXAM" || got[1].Code != "XRAY" {
		t.Fatalf("expected request order without duplicates, got %+v", got)
	}

	_, err = OrderServices([]string{"EXAM", "NOPE", "GONE"}, found)
	e, ok := apperr.As(err)
	if !ok || e.Kind != apperr.KindNotFound || e.Reason != apperr.ReasonServicesNotFound || e.ResourceCode != "NOPE,GONE" {
		t.Fatalf("expected services-not-found naming both codes, got %v", err)
	}

	found[0].Active = false
	_, err = OrderServices([]string{"XRAY"}, found)
	if apperr.ReasonOf(err) != apperr.ReasonServiceInactive {
		t.Fatalf("expected inactive service precondition, got %v", err)
	}
}

func TestOrderParticipants(t *testing.T) {
	found := []model.Employee{{Code: "N-1", Active: true}, {Code: "N-2", Active: false}}
	if _, err := OrderParticipants([]string{"N-3"}, found); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := OrderParticipants([]string{"N-2"}, found); apperr.ReasonOf(err) != apperr.ReasonParticipantInactive {
		t.Fatalf("expected inactive, got %v", err)
	}
	got, err := OrderParticipants([]string{"N-1"}, found)
	if err != nil || len(got) != 1 {
		t.Fatalf("unexpected result %v %v", got, err)
	}
}

func TestNormalizeCodes(t *testing.T) {
	got := NormalizeCodes([]string{" A ", "", "B", "A"})
	if len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Fatalf("unexpected codes %v", got)
	}
}

func TestChecksDistinguishInactive(t *testing.T) {
	if err := CheckPatient(model.Patient{Code: "P-1"}); apperr.ReasonOf(err) != apperr.ReasonPatientInactive {
		t.Fatalf("expected inactive patient, got %v", err)
	}
	if err := CheckRoom(model.Room{Code: "R-1", Active: true}); err != nil {
		t.Fatalf("active room must pass, got %v", err)
	}
	if err := CheckDoctor(model.Employee{Code: "D-1"}); apperr.ReasonOf(err) != apperr.ReasonDoctorInactive {
		t.Fatalf("expected inactive doctor, got %v", err)
	}
}
