package store

import (
	"errors"
	"testing"
	"time"

	"github.com/CivicStack/GrievanceFlow/internal/models"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisSessions(t *testing.T) (*RedisSessions, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisSessions(client, time.Hour), mr
}

func TestRedisSessionsLifecycle(t *testing.T) {
	r, mr := newTestRedisSessions(t)

	sess, created, err := r.GetOrCreateSession("sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created || sess.CurrentStep != models.StepInitialChoice {
		t.Errorf("fresh session not in start state: created=%v step=%v", created, sess.CurrentStep)
	}
	if mr.TTL(sessionKey("sess-1")) <= 0 {
		t.Error("cached session has no TTL")
	}

	if err := r.SaveSession("sess-1", models.UserData{Name: "Asha Rao"}, models.StepCollectingMobile); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.AppendSessionEntry(models.UserEntry("sess-1", "Asha Rao")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sess, created, err = r.GetOrCreateSession("sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created || sess.CurrentStep != models.StepCollectingMobile || sess.UserData.Name != "Asha Rao" {
		t.Errorf("session state not persisted: %+v", sess)
	}
	if len(sess.ChatHistory) != 1 || sess.ChatHistory[0].ChatText != "User: Asha Rao" {
		t.Errorf("chat history not persisted: %+v", sess.ChatHistory)
	}

	if err := r.DeleteSession("sess-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mr.Exists(sessionKey("sess-1")) {
		t.Error("session key still present after delete")
	}
}

func TestRedisSessionsCorruptCacheTreatedAsAbsent(t *testing.T) {
	r, mr := newTestRedisSessions(t)

	mr.Set(sessionKey("sess-1"), "{not json")
	sess, created, err := r.GetOrCreateSession("sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created || sess.CurrentStep != models.StepInitialChoice {
		t.Errorf("corrupt cache entry should yield a fresh session: created=%v", created)
	}
}

func TestRedisSessionsSweepExpiredSessions(t *testing.T) {
	r, _ := newTestRedisSessions(t)

	if _, _, err := r.GetOrCreateSession("new"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	old := models.NewSession("old")
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	ctx, cancel := r.opContext()
	defer cancel()
	if err := r.setSession(ctx, old); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	removed, err := r.SweepExpiredSessions(DefaultSessionMaxAge)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, created, _ := r.GetOrCreateSession("new"); created {
		t.Error("fresh session should have survived the sweep")
	}
}

func TestCachedSessionStorePromotion(t *testing.T) {
	r, mr := newTestRedisSessions(t)
	base := NewInMemoryStore()
	st, err := NewStoreWithSessionCache(base, r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := st.AppendSessionEntry(models.UserEntry("sess-1", "hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := st.AppendSessionEntry(models.BotEntry("sess-1", "Welcome")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	id, err := st.CreateComplaint("Asha Rao", "9876543210", "No water supply since Monday", "sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, err := st.GetComplaint(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.ChatHistory) != 3 {
		t.Fatalf("expected cached history plus notice, got %d entries: %+v", len(c.ChatHistory), c.ChatHistory)
	}
	if c.ChatHistory[0].ChatText != "User: hello" {
		t.Errorf("cached history not copied in order: %+v", c.ChatHistory)
	}

	if mr.Exists(sessionKey("sess-1")) {
		t.Error("promoted session still cached in Redis")
	}

	// the base store keeps the link, so re-promotion must conflict
	if _, err := st.CreateComplaint("Asha Rao", "9876543210", "Garbage not collected this week", "sess-1"); !errors.Is(err, models.ErrSessionConflict) {
		t.Errorf("expected ErrSessionConflict, got %v", err)
	}
}

func TestCachedSessionStoreComplaintOpsHitBase(t *testing.T) {
	r, _ := newTestRedisSessions(t)
	base := NewInMemoryStore()
	st, err := NewStoreWithSessionCache(base, r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	id, err := st.CreateComplaint("Asha Rao", "9876543210", "No water supply since Monday", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := st.UpdateStatus(id, "In Progress", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, err := base.GetComplaint(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Status != "In Progress" {
		t.Errorf("status update did not reach base store: %q", c.Status)
	}

	results, err := st.SearchKnowledgeBase("complaint")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) == 0 {
		t.Error("knowledge search did not reach base store")
	}
}
