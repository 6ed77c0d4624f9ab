package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMigrationNames_Sorted(t *testing.T) {
	names, err := migrationNames()
	if err != nil {
		t.Fatalf("migrationNames: %v", err)
	}
	if len(names) == 0 || names[0] != "001_schema.sql" {
		t.Fatalf("expected 001_schema.sql first, got %v", names)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Errorf("migrations out of order: %v", names)
		}
	}
}

func TestNoRows(t *testing.T) {
	if !errors.Is(NoRows(pgx.ErrNoRows), ErrNotFound) {
		t.Error("expected pgx.ErrNoRows to map to ErrNotFound")
	}
	if !errors.Is(NoRows(fmt.Errorf("scan: %w", pgx.ErrNoRows)), ErrNotFound) {
		t.Error("expected wrapped pgx.ErrNoRows to map to ErrNotFound")
	}
	other := errors.New("boom")
	if NoRows(other) != other {
		t.Error("expected other errors to pass through")
	}
	if NoRows(nil) != nil {
		t.Error("expected nil to stay nil")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "group_members_one_pm"})
	if !IsUniqueViolation(err, "") {
		t.Error("expected unique violation")
	}
	if !IsUniqueViolation(err, "group_members_one_pm") {
		t.Error("expected named constraint match")
	}
	if IsUniqueViolation(err, "users_email_key") {
		t.Error("expected constraint mismatch")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}, "") {
		t.Error("foreign key violation is not a unique violation")
	}
}
