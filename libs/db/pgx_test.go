package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestErrorClassification(t *testing.T) {
	excl := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23P01", ConstraintName: "appointments_room_no_overlap"})
	if !IsExclusionViolation(excl) {
		t.Fatal("expected exclusion violation")
	}
	if ConstraintName(excl) != "appointments_room_no_overlap" {
		t.Fatalf("unexpected constraint %q", ConstraintName(excl))
	}
	if IsUniqueViolation(excl) {
		t.Fatal("exclusion must not be reported as unique violation")
	}

	uniq := &pgconn.PgError{Code: "23505"}
	if !IsUniqueViolation(uniq) {
		t.Fatal("expected unique violation")
	}

	if PgErrorCode(errors.New("plain")) != "" {
		t.Fatal("expected empty code for non pg error")
	}
	if !IsNoRows(fmt.Errorf("load: %w", pgx.ErrNoRows)) {
		t.Fatal("expected no rows")
	}
}
