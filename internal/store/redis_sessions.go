// Package store provides storage backends for GrievanceFlow.
//
// This file implements a Redis-backed session cache. Complaints and the
// knowledge base stay on the SQL backend; only the ephemeral sessions move to
// Redis, with a TTL matching the expiry sweep threshold.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/CivicStack/GrievanceFlow/internal/models"
	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "grievance:session:"

func sessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

// RedisSessions implements SessionStore over Redis.
type RedisSessions struct {
	client    *redis.Client
	ttl       time.Duration
	opTimeout time.Duration
	mu        sync.Mutex
}

// NewRedisSessions creates a session cache over the given client. The TTL
// acts as a storage-level backstop for the expiry sweep.
func NewRedisSessions(client *redis.Client, ttl time.Duration) *RedisSessions {
	if ttl <= 0 {
		ttl = DefaultSessionMaxAge
	}
	return &RedisSessions{client: client, ttl: ttl, opTimeout: DefaultOpTimeout}
}

func (r *RedisSessions) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.opTimeout)
}

// getSession returns the cached session, or nil when absent. Corrupt cached
// JSON degrades to absent rather than failing the turn.
func (r *RedisSessions) getSession(ctx context.Context, sessionID string) (*models.Session, error) {
	data, err := r.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisSessions get failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		slog.Error("RedisSessions: malformed cached session, treating as absent", "error", err, "sessionID", sessionID)
		return nil, nil
	}
	return &sess, nil
}

func (r *RedisSessions) setSession(ctx context.Context, sess *models.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := r.client.Set(ctx, sessionKey(sess.SessionID), data, r.ttl).Err(); err != nil {
		slog.Error("RedisSessions set failed", "error", err, "sessionID", sess.SessionID)
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

func (r *RedisSessions) GetOrCreateSession(sessionID string) (*models.Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := r.opContext()
	defer cancel()

	sess, err := r.getSession(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if sess != nil {
		return sess, false, nil
	}
	sess = models.NewSession(sessionID)
	if err := r.setSession(ctx, sess); err != nil {
		return nil, false, err
	}
	return sess, true, nil
}

func (r *RedisSessions) SaveSession(sessionID string, data models.UserData, step models.ConversationStep) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := r.opContext()
	defer cancel()

	sess, err := r.getSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		sess = models.NewSession(sessionID)
	}
	sess.UserData = data
	sess.CurrentStep = step
	sess.UpdatedAt = time.Now()
	return r.setSession(ctx, sess)
}

func (r *RedisSessions) AppendSessionEntry(entry models.ChatEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := r.opContext()
	defer cancel()

	sess, err := r.getSession(ctx, entry.SessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		sess = models.NewSession(entry.SessionID)
	}
	sess.ChatHistory = append(sess.ChatHistory, entry)
	sess.UpdatedAt = time.Now()
	return r.setSession(ctx, sess)
}

func (r *RedisSessions) DeleteSession(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := r.opContext()
	defer cancel()

	if err := r.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		slog.Error("RedisSessions delete failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// SweepExpiredSessions removes cached sessions older than the threshold. The
// per-key TTL already evicts abandoned sessions; the explicit sweep keeps the
// operation's contract when a shorter threshold is requested.
func (r *RedisSessions) SweepExpiredSessions(maxAge time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := r.opContext()
	defer cancel()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	iter := r.client.Scan(ctx, 0, sessionKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := r.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var sess models.Session
		if err := json.Unmarshal(data, &sess); err != nil || sess.CreatedAt.Before(cutoff) {
			if delErr := r.client.Del(ctx, key).Err(); delErr == nil {
				removed++
			}
		}
	}
	if err := iter.Err(); err != nil {
		slog.Error("RedisSessions sweep scan failed", "error", err)
		return removed, fmt.Errorf("failed to scan sessions: %w", err)
	}
	if removed > 0 {
		slog.Info("RedisSessions SweepExpiredSessions removed sessions", "count", removed)
	}
	return removed, nil
}

// cachedSessionStore routes session operations to the Redis cache while
// complaints and the knowledge base stay on the SQL base store. Promotion
// reads the cached history then hands it to the base insert seam.
type cachedSessionStore struct {
	base     Store
	inserter complaintInserter
	sessions *RedisSessions
	mu       sync.Mutex
}

// NewStoreWithSessionCache overlays a Redis session cache on a SQL-backed
// base store.
func NewStoreWithSessionCache(base Store, sessions *RedisSessions) (Store, error) {
	inserter, ok := base.(complaintInserter)
	if !ok {
		return nil, fmt.Errorf("base store %T does not support session cache promotion", base)
	}
	slog.Debug("Session cache overlay enabled")
	return &cachedSessionStore{base: base, inserter: inserter, sessions: sessions}, nil
}

func (c *cachedSessionStore) CreateComplaint(name, mobile, details, sourceSessionID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var history []models.ChatEntry
	if sourceSessionID != "" {
		ctx, cancel := c.sessions.opContext()
		sess, err := c.sessions.getSession(ctx, sourceSessionID)
		cancel()
		if err != nil {
			return "", err
		}
		if sess != nil {
			history = sess.ChatHistory
		}
	}

	complaintID, err := c.inserter.insertComplaintWithHistory(name, mobile, details, sourceSessionID, history)
	if err != nil {
		return "", err
	}
	if sourceSessionID != "" {
		if err := c.sessions.DeleteSession(sourceSessionID); err != nil {
			slog.Warn("cachedSessionStore: promoted session cleanup failed, TTL will reclaim it", "error", err, "sessionID", sourceSessionID)
		}
	}
	return complaintID, nil
}

func (c *cachedSessionStore) GetComplaint(complaintID string) (*models.Complaint, error) {
	return c.base.GetComplaint(complaintID)
}

func (c *cachedSessionStore) GetComplaintByMobile(mobile string) (*models.Complaint, error) {
	return c.base.GetComplaintByMobile(mobile)
}

func (c *cachedSessionStore) UpdateStatus(complaintID, status, note string) error {
	return c.base.UpdateStatus(complaintID, status, note)
}

func (c *cachedSessionStore) AppendComplaintEntry(complaintID string, entry models.ChatEntry) error {
	return c.base.AppendComplaintEntry(complaintID, entry)
}

func (c *cachedSessionStore) FindComplaintForSession(sessionID string) (string, error) {
	return c.base.FindComplaintForSession(sessionID)
}

func (c *cachedSessionStore) FindSessionsForComplaint(complaintID string) ([]string, error) {
	return c.base.FindSessionsForComplaint(complaintID)
}

func (c *cachedSessionStore) SearchKnowledgeBase(query string) ([]models.KnowledgeEntry, error) {
	return c.base.SearchKnowledgeBase(query)
}

func (c *cachedSessionStore) GetOrCreateSession(sessionID string) (*models.Session, bool, error) {
	return c.sessions.GetOrCreateSession(sessionID)
}

func (c *cachedSessionStore) SaveSession(sessionID string, data models.UserData, step models.ConversationStep) error {
	return c.sessions.SaveSession(sessionID, data, step)
}

func (c *cachedSessionStore) AppendSessionEntry(entry models.ChatEntry) error {
	return c.sessions.AppendSessionEntry(entry)
}

func (c *cachedSessionStore) DeleteSession(sessionID string) error {
	return c.sessions.DeleteSession(sessionID)
}

func (c *cachedSessionStore) SweepExpiredSessions(maxAge time.Duration) (int, error) {
	return c.sessions.SweepExpiredSessions(maxAge)
}

func (c *cachedSessionStore) Close() error {
	return c.base.Close()
}
