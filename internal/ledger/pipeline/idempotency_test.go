package pipeline

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgconn"
)

func TestIsUniqueViolation_DetectsSQLState23505(t *testing.T) {
	err := &pgconn.PgError{Code: uniqueViolation}
	if !isUniqueViolation(err) {
		t.Fatalf("expected unique violation to be detected")
	}
}

func TestIsUniqueViolation_IgnoresOtherCodes(t *testing.T) {
	err := &pgconn.PgError{Code: "40001"}
	if isUniqueViolation(err) {
		t.Fatalf("expected non-unique error code to be ignored")
	}
}

func TestIsUniqueViolation_IgnoresUnrelatedErrors(t *testing.T) {
	if isUniqueViolation(fmt.Errorf("boom")) {
		t.Fatalf("expected plain error to not be classified as unique violation")
	}
	if isUniqueViolation(errors.New("connection refused")) {
		t.Fatalf("expected plain error to not be classified as unique violation")
	}
}
