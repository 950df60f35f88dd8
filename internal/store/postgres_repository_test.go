package store

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestDedupeIDsPreservesInputOrder(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	got := dedupeIDs([]uuid.UUID{a, b, a, c, b})
	if len(got) != 3 {
		t.Fatalf("expected 3 unique ids, got %d", len(got))
	}
	if got[0] != a || got[1] != b || got[2] != c {
		t.Fatalf("expected input order preserved, got %v", got)
	}
}

func TestUnavailableWrapsSentinel(t *testing.T) {
	err := unavailable("begin credit", errors.New("connection refused"))
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("expected 23505 to be a unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatal("did not expect foreign key violation to match")
	}
	if isUniqueViolation(errors.New("plain error")) {
		t.Fatal("did not expect plain error to match")
	}
}
