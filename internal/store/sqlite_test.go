package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/CivicStack/GrievanceFlow/internal/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "grievanceflow.db")
	s, err := NewSQLiteStore(WithDSN(dsn))
	if err != nil {
		t.Fatalf("failed to create SQLite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreComplaintRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)

	id, err := s.CreateComplaint("Asha Rao", "9876543210", "Street light broken near the park entrance", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !complaintIDPattern.MatchString(id) {
		t.Errorf("complaint id %q does not match expected format", id)
	}

	c, err := s.GetComplaint(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Name != "Asha Rao" || c.Mobile != "9876543210" || c.Status != models.ComplaintStatusSubmitted {
		t.Errorf("complaint not stored correctly: %+v", c)
	}
	if len(c.ChatHistory) != 1 {
		t.Errorf("expected registration notice only, got %+v", c.ChatHistory)
	}

	if _, err := s.GetComplaint("GRV000000"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStorePromotion(t *testing.T) {
	s := newTestSQLiteStore(t)

	if _, _, err := s.GetOrCreateSession("sess-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.AppendSessionEntry(models.UserEntry("sess-1", "hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.AppendSessionEntry(models.BotEntry("sess-1", "Welcome")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	id, err := s.CreateComplaint("Asha Rao", "9876543210", "No water supply since Monday", "sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, err := s.GetComplaint(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.ChatHistory) != 3 {
		t.Fatalf("expected 3 history entries, got %d: %+v", len(c.ChatHistory), c.ChatHistory)
	}
	if c.ChatHistory[0].ChatText != "User: hello" || c.ChatHistory[1].ChatText != "Bot: Welcome" {
		t.Errorf("history not copied in order: %+v", c.ChatHistory)
	}

	_, created, err := s.GetOrCreateSession("sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("expected promoted session to be deleted")
	}

	linked, err := s.FindComplaintForSession("sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if linked != id {
		t.Errorf("FindComplaintForSession = %q, want %q", linked, id)
	}

	// the link survives promotion, so a second promotion must fail
	if _, err := s.CreateComplaint("Asha Rao", "9876543210", "Garbage not collected this week", "sess-1"); !errors.Is(err, models.ErrSessionConflict) {
		t.Errorf("expected ErrSessionConflict, got %v", err)
	}
}

func TestSQLiteStoreAppendToMissingComplaintLeavesNoLink(t *testing.T) {
	s := newTestSQLiteStore(t)

	err := s.AppendComplaintEntry("GRV000000", models.UserEntry("sess-x", "any update on my complaint?"))
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// the rejected append must not leave the session linked to a
	// complaint that does not exist
	linked, err := s.FindComplaintForSession("sess-x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if linked != "" {
		t.Fatalf("session linked to %q after failed append", linked)
	}

	// and the session must still be promotable
	if _, err := s.CreateComplaint("Asha Rao", "9876543210", "No water supply since Monday", "sess-x"); err != nil {
		t.Errorf("promotion after failed append: %v", err)
	}
}

func TestSQLiteStoreCorruptHistoryDecodesEmpty(t *testing.T) {
	s := newTestSQLiteStore(t)

	id, err := s.CreateComplaint("Asha Rao", "9876543210", "Street light broken near the park entrance", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.db.Exec(`UPDATE grievances SET chat_history = '{not json' WHERE complaint_id = ?`, id); err != nil {
		t.Fatalf("failed to corrupt history: %v", err)
	}

	c, err := s.GetComplaint(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.ChatHistory) != 0 {
		t.Errorf("expected empty history for corrupt blob, got %+v", c.ChatHistory)
	}
	if c.Name != "Asha Rao" || c.Status != models.ComplaintStatusSubmitted {
		t.Errorf("record fields lost: %+v", c)
	}
}

func TestSQLiteStoreSessionPersistence(t *testing.T) {
	s := newTestSQLiteStore(t)

	if _, _, err := s.GetOrCreateSession("sess-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data := models.UserData{Name: "Asha Rao", Mobile: "9876543210"}
	if err := s.SaveSession("sess-1", data, models.StepCollectingComplaint); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.AppendSessionEntry(models.UserEntry("sess-1", "9876543210")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// SaveSession after the append must not clobber the recorded history
	if err := s.SaveSession("sess-1", data, models.StepCollectingComplaint); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sess, created, err := s.GetOrCreateSession("sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Fatal("expected existing session")
	}
	if sess.CurrentStep != models.StepCollectingComplaint || sess.UserData.Mobile != "9876543210" {
		t.Errorf("session state not persisted: %+v", sess)
	}
	if len(sess.ChatHistory) != 1 {
		t.Errorf("chat history clobbered by SaveSession: %+v", sess.ChatHistory)
	}
}

func TestSQLiteStoreSweepExpiredSessions(t *testing.T) {
	s := newTestSQLiteStore(t)

	if _, _, err := s.GetOrCreateSession("old"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := s.GetOrCreateSession("new"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	backdated := time.Now().UTC().Add(-48 * time.Hour)
	if _, err := s.db.Exec(`UPDATE chat_sessions SET created_at = ? WHERE session_id = 'old'`, backdated); err != nil {
		t.Fatalf("failed to backdate session: %v", err)
	}

	removed, err := s.SweepExpiredSessions(DefaultSessionMaxAge)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, created, _ := s.GetOrCreateSession("new"); created {
		t.Error("fresh session should have survived the sweep")
	}
}

func TestSQLiteStoreSearchKnowledgeBase(t *testing.T) {
	s := newTestSQLiteStore(t)

	results, err := s.SearchKnowledgeBase("status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected seeded knowledge base to match 'status'")
	}
	if len(results) > KnowledgeLimit {
		t.Errorf("got %d results, limit is %d", len(results), KnowledgeLimit)
	}
	// the question-field match ranks first
	if results[0].Question != "How to check complaint status?" {
		t.Errorf("question match not ranked first: %+v", results)
	}
}

func TestSQLiteStoreUpdateStatusAppendsNote(t *testing.T) {
	s := newTestSQLiteStore(t)

	id, err := s.CreateComplaint("Asha Rao", "9876543210", "No water supply since Monday", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.UpdateStatus(id, "Resolved", "Pipeline repaired"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, err := s.GetComplaint(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Status != "Resolved" {
		t.Errorf("status = %q, want Resolved", c.Status)
	}
	last := c.ChatHistory[len(c.ChatHistory)-1]
	if last.ChatText != "System: Pipeline repaired" || last.SessionID != models.SystemSessionID {
		t.Errorf("note not recorded as system entry: %+v", last)
	}
}
