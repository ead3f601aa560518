package store

import (
	"errors"
	"os"
	"testing"

	"github.com/CivicStack/GrievanceFlow/internal/models"
)

// TestPostgresStore requires a running PostgreSQL instance. Set DATABASE_URL
// to enable it.
func TestPostgresStore(t *testing.T) {
	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		t.Skip("DATABASE_URL not set")
	}
	s, err := NewPostgresStore(WithDSN(connStr))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	defer s.Close()

	// Clean up tables before test
	s.db.Exec("DELETE FROM complaint_sessions")
	s.db.Exec("DELETE FROM chat_sessions")
	s.db.Exec("DELETE FROM grievances")

	if err := s.AppendSessionEntry(models.UserEntry("pg-sess-1", "hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id, err := s.CreateComplaint("Asha Rao", "9876543210", "No water supply since Monday", "pg-sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, err := s.GetComplaint(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Status != models.ComplaintStatusSubmitted || len(c.ChatHistory) != 2 {
		t.Errorf("complaint not stored correctly in Postgres: %+v", c)
	}

	if _, err := s.CreateComplaint("Asha Rao", "9876543210", "Garbage not collected this week", "pg-sess-1"); !errors.Is(err, models.ErrSessionConflict) {
		t.Errorf("expected ErrSessionConflict, got %v", err)
	}

	// an append to a missing complaint must not leave a link row behind
	if err := s.AppendComplaintEntry("GRV000000", models.UserEntry("pg-sess-2", "any update?")); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	linked, err := s.FindComplaintForSession("pg-sess-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if linked != "" {
		t.Errorf("session linked to %q after failed append", linked)
	}
}
