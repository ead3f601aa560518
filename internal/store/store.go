// Package store provides storage backends for GrievanceFlow.
//
// It is the single source of truth for complaints, in-progress conversation
// sessions, the knowledge base, and the session/complaint exclusivity
// invariant: a session's transcript may live in at most one complaint.
package store

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/CivicStack/GrievanceFlow/internal/models"
	"github.com/CivicStack/GrievanceFlow/internal/util"
)

// DefaultSessionMaxAge is the age threshold after which unpromoted sessions
// are removed by the expiry sweep.
const DefaultSessionMaxAge = 24 * time.Hour

// maxComplaintIDAttempts bounds the generate-and-retry loop for complaint id
// creation. Exhausting it surfaces models.ErrComplaintConflict.
const maxComplaintIDAttempts = 5

// KnowledgeLimit is the maximum number of knowledge base results returned
// for a single query.
const KnowledgeLimit = 3

// SessionStore covers the ephemeral-session subset of Store. Implemented by
// every full backend and by the Redis session cache.
type SessionStore interface {
	// GetOrCreateSession returns the existing session, or persists and
	// returns a fresh one in the start state. The boolean reports whether
	// the session was created by this call.
	GetOrCreateSession(sessionID string) (*models.Session, bool, error)
	// SaveSession upserts user data and current step, preserving any chat
	// history already recorded against the session.
	SaveSession(sessionID string, data models.UserData, step models.ConversationStep) error
	// AppendSessionEntry appends one transcript line to the session named by
	// entry.SessionID, creating the session if needed.
	AppendSessionEntry(entry models.ChatEntry) error
	// DeleteSession removes a session. Deleting an absent session is not an error.
	DeleteSession(sessionID string) error
	// SweepExpiredSessions deletes sessions created before the age threshold
	// and returns how many were removed.
	SweepExpiredSessions(maxAge time.Duration) (int, error)
}

// Store is the full record store consumed by the conversation engine and the
// API layer.
type Store interface {
	SessionStore

	// CreateComplaint registers a new complaint. When sourceSessionID is
	// non-empty the session is promoted: its chat history is copied into the
	// complaint, a registration notice is appended, and the session is
	// deleted, all as one atomic unit. Fails with models.ErrSessionConflict
	// if the session already belongs to a different complaint.
	CreateComplaint(name, mobile, details, sourceSessionID string) (string, error)
	// GetComplaint returns the full complaint record including chat history.
	GetComplaint(complaintID string) (*models.Complaint, error)
	// GetComplaintByMobile returns the most recently created complaint for
	// the given mobile number.
	GetComplaintByMobile(mobile string) (*models.Complaint, error)
	// UpdateStatus changes a complaint's status. A non-empty note is
	// appended to the transcript as a system entry in a separate,
	// best-effort step.
	UpdateStatus(complaintID, status, note string) error
	// AppendComplaintEntry appends a transcript line to a complaint after
	// verifying the exclusivity invariant for entry.SessionID.
	AppendComplaintEntry(complaintID string, entry models.ChatEntry) error
	// FindComplaintForSession returns the complaint a session is linked to,
	// or "" if it is not linked to any.
	FindComplaintForSession(sessionID string) (string, error)
	// FindSessionsForComplaint lists the sessions linked to a complaint.
	FindSessionsForComplaint(complaintID string) ([]string, error)
	// SearchKnowledgeBase returns up to KnowledgeLimit entries matching the
	// query, question-field matches ranked above answer-only matches.
	SearchKnowledgeBase(query string) ([]models.KnowledgeEntry, error)

	Close() error
}

// complaintInserter is the promotion seam used by the session-cache overlay:
// it inserts a fully prepared complaint (fields plus already-fetched session
// history) without touching the backend's own session table.
type complaintInserter interface {
	insertComplaintWithHistory(name, mobile, details, sourceSessionID string, history []models.ChatEntry) (string, error)
}

// registrationNotice is the synthetic system line appended when a session is
// promoted into a complaint.
func registrationNotice(complaintID string) string {
	return "Complaint " + complaintID + " registered successfully"
}

// InMemoryStore is a mutex-guarded in-memory implementation of Store, used
// by unit tests and the dev backend.
type InMemoryStore struct {
	mu           sync.Mutex
	complaints   map[string]*models.Complaint
	order        []string // complaint ids in insertion order
	sessions     map[string]*models.Session
	sessionLinks map[string]string // session id -> complaint id
	knowledge    []models.KnowledgeEntry
}

// NewInMemoryStore creates an empty in-memory store seeded with the default
// knowledge base.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		complaints:   make(map[string]*models.Complaint),
		sessions:     make(map[string]*models.Session),
		sessionLinks: make(map[string]string),
		knowledge:    defaultKnowledgeBase(),
	}
}

func (s *InMemoryStore) CreateComplaint(name, mobile, details, sourceSessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var history []models.ChatEntry
	if sourceSessionID != "" {
		if linked, ok := s.sessionLinks[sourceSessionID]; ok && linked != "" {
			slog.Warn("InMemoryStore CreateComplaint session already linked", "sessionID", sourceSessionID, "complaintID", linked)
			return "", models.ErrSessionConflict
		}
		if sess, ok := s.sessions[sourceSessionID]; ok {
			history = append(history, sess.ChatHistory...)
		}
	}
	return s.insertLocked(name, mobile, details, sourceSessionID, history)
}

func (s *InMemoryStore) insertComplaintWithHistory(name, mobile, details, sourceSessionID string, history []models.ChatEntry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sourceSessionID != "" {
		if linked, ok := s.sessionLinks[sourceSessionID]; ok && linked != "" {
			return "", models.ErrSessionConflict
		}
	}
	return s.insertLocked(name, mobile, details, sourceSessionID, history)
}

// insertLocked performs the id generation, history copy, notice append,
// insert and session deletion. Caller holds the mutex.
func (s *InMemoryStore) insertLocked(name, mobile, details, sourceSessionID string, history []models.ChatEntry) (string, error) {
	complaintID := ""
	for attempt := 0; attempt < maxComplaintIDAttempts; attempt++ {
		candidate := util.GenerateComplaintID()
		if _, exists := s.complaints[candidate]; !exists {
			complaintID = candidate
			break
		}
	}
	if complaintID == "" {
		slog.Error("InMemoryStore CreateComplaint id generation exhausted")
		return "", models.ErrComplaintConflict
	}

	now := time.Now()
	c := &models.Complaint{
		ComplaintID:      complaintID,
		Name:             name,
		Mobile:           mobile,
		ComplaintDetails: details,
		Status:           models.ComplaintStatusSubmitted,
		ChatHistory:      append([]models.ChatEntry(nil), history...),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	c.ChatHistory = append(c.ChatHistory, models.SystemEntry(registrationNotice(complaintID)))
	s.complaints[complaintID] = c
	s.order = append(s.order, complaintID)
	if sourceSessionID != "" {
		s.sessionLinks[sourceSessionID] = complaintID
		delete(s.sessions, sourceSessionID)
	}
	slog.Debug("InMemoryStore CreateComplaint succeeded", "complaintID", complaintID, "sourceSessionID", sourceSessionID)
	return complaintID, nil
}

func (s *InMemoryStore) GetComplaint(complaintID string) (*models.Complaint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.complaints[complaintID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyComplaint(c), nil
}

func (s *InMemoryStore) GetComplaintByMobile(mobile string) (*models.Complaint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Complaint
	for _, c := range s.complaints {
		if c.Mobile != mobile {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, models.ErrNotFound
	}
	return copyComplaint(latest), nil
}

func (s *InMemoryStore) UpdateStatus(complaintID, status, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.complaints[complaintID]
	if !ok {
		return models.ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now()
	if note != "" {
		// Best-effort second step; in memory it cannot fail separately.
		c.ChatHistory = append(c.ChatHistory, models.SystemEntry(note))
	}
	slog.Debug("InMemoryStore UpdateStatus succeeded", "complaintID", complaintID, "status", status)
	return nil
}

func (s *InMemoryStore) AppendComplaintEntry(complaintID string, entry models.ChatEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.complaints[complaintID]
	if !ok {
		return models.ErrNotFound
	}
	if entry.SessionID != "" && entry.SessionID != models.SystemSessionID {
		if linked, ok := s.sessionLinks[entry.SessionID]; ok && linked != complaintID {
			slog.Warn("InMemoryStore AppendComplaintEntry exclusivity violation", "sessionID", entry.SessionID, "linked", linked, "target", complaintID)
			return models.ErrSessionConflict
		}
		s.sessionLinks[entry.SessionID] = complaintID
	}
	c.ChatHistory = append(c.ChatHistory, entry)
	c.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) GetOrCreateSession(sessionID string) (*models.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		return copySession(sess), false, nil
	}
	sess := models.NewSession(sessionID)
	s.sessions[sessionID] = sess
	return copySession(sess), true, nil
}

func (s *InMemoryStore) SaveSession(sessionID string, data models.UserData, step models.ConversationStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = models.NewSession(sessionID)
		s.sessions[sessionID] = sess
	}
	sess.UserData = data
	sess.CurrentStep = step
	sess.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) AppendSessionEntry(entry models.ChatEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[entry.SessionID]
	if !ok {
		sess = models.NewSession(entry.SessionID)
		s.sessions[entry.SessionID] = sess
	}
	sess.ChatHistory = append(sess.ChatHistory, entry)
	sess.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) DeleteSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *InMemoryStore) SweepExpiredSessions(maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, sess := range s.sessions {
		if sess.CreatedAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("InMemoryStore SweepExpiredSessions removed sessions", "count", removed)
	}
	return removed, nil
}

func (s *InMemoryStore) FindComplaintForSession(sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionLinks[sessionID], nil
}

func (s *InMemoryStore) FindSessionsForComplaint(complaintID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for sessionID, linked := range s.sessionLinks {
		if linked == complaintID {
			ids = append(ids, sessionID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *InMemoryStore) SearchKnowledgeBase(query string) ([]models.KnowledgeEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return rankKnowledge(s.knowledge, query), nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

// rankKnowledge applies the shared ranking: question-field matches before
// answer-only matches, ties broken by insertion order, at most KnowledgeLimit
// results. The SQL backends express the same ordering in their queries.
func rankKnowledge(entries []models.KnowledgeEntry, query string) []models.KnowledgeEntry {
	q := strings.ToLower(query)
	var questionHits, answerHits []models.KnowledgeEntry
	for _, e := range entries {
		switch {
		case strings.Contains(strings.ToLower(e.Question), q):
			questionHits = append(questionHits, e)
		case strings.Contains(strings.ToLower(e.Answer), q):
			answerHits = append(answerHits, e)
		}
	}
	results := append(questionHits, answerHits...)
	if len(results) > KnowledgeLimit {
		results = results[:KnowledgeLimit]
	}
	return results
}

func copyComplaint(c *models.Complaint) *models.Complaint {
	out := *c
	out.ChatHistory = append([]models.ChatEntry(nil), c.ChatHistory...)
	return &out
}

func copySession(s *models.Session) *models.Session {
	out := *s
	out.ChatHistory = append([]models.ChatEntry(nil), s.ChatHistory...)
	return &out
}
