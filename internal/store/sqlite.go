// Package store provides storage backends for GrievanceFlow.
//
// This file implements the SQLite-backed store, the default backend.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "embed"

	"github.com/CivicStack/GrievanceFlow/internal/models"
	"github.com/CivicStack/GrievanceFlow/internal/util"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore implements Store over a local SQLite file. A single store-wide
// mutex serializes every write path so an exclusivity check can never
// interleave with a conflicting insert.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.Mutex
	opTimeout time.Duration
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	cfg := applyOptions(opts)
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	s := &SQLiteStore{db: db, opTimeout: cfg.OpTimeout}
	if err := s.seedKnowledgeBase(); err != nil {
		return nil, err
	}
	slog.Debug("SQLite store ready", "dsn", dsn)
	return s, nil
}

// opContext bounds a single database operation.
func (s *SQLiteStore) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opTimeout)
}

// seedKnowledgeBase inserts the default Q&A rows when the table is empty.
func (s *SQLiteStore) seedKnowledgeBase() error {
	ctx, cancel := s.opContext()
	defer cancel()

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_base`).Scan(&count); err != nil {
		slog.Error("SQLiteStore seedKnowledgeBase count failed", "error", err)
		return fmt.Errorf("failed to count knowledge base rows: %w", err)
	}
	if count > 0 {
		return nil
	}
	for _, e := range defaultKnowledgeBase() {
		if _, err := s.db.ExecContext(ctx, `INSERT INTO knowledge_base (question, answer, category) VALUES (?, ?, ?)`,
			e.Question, e.Answer, e.Category); err != nil {
			slog.Error("SQLiteStore seedKnowledgeBase insert failed", "error", err)
			return fmt.Errorf("failed to seed knowledge base: %w", err)
		}
	}
	slog.Debug("SQLiteStore knowledge base seeded")
	return nil
}

// CreateComplaint registers a new complaint, promoting the source session's
// transcript when one is given. The whole unit runs in one transaction.
func (s *SQLiteStore) CreateComplaint(name, mobile, details, sourceSessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createComplaintLocked(name, mobile, details, sourceSessionID, nil, true)
}

func (s *SQLiteStore) insertComplaintWithHistory(name, mobile, details, sourceSessionID string, history []models.ChatEntry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createComplaintLocked(name, mobile, details, sourceSessionID, history, false)
}

// createComplaintLocked performs id generation, history copy, notice append,
// insert, link insert and session deletion atomically. When readSession is
// false the provided history is used and the local session table is left
// alone (the session lives in an external cache). Caller holds the mutex.
func (s *SQLiteStore) createComplaintLocked(name, mobile, details, sourceSessionID string, history []models.ChatEntry, readSession bool) (string, error) {
	ctx, cancel := s.opContext()
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("SQLiteStore CreateComplaint begin failed", "error", err)
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if sourceSessionID != "" {
		var linked string
		err := tx.QueryRowContext(ctx, `SELECT complaint_id FROM complaint_sessions WHERE session_id = ?`, sourceSessionID).Scan(&linked)
		switch {
		case err == sql.ErrNoRows:
			// not linked yet
		case err != nil:
			slog.Error("SQLiteStore CreateComplaint link lookup failed", "error", err, "sessionID", sourceSessionID)
			return "", fmt.Errorf("failed to check session link: %w", err)
		default:
			slog.Warn("SQLiteStore CreateComplaint session already linked", "sessionID", sourceSessionID, "complaintID", linked)
			return "", models.ErrSessionConflict
		}

		if readSession {
			var rawHistory string
			err := tx.QueryRowContext(ctx, `SELECT chat_history FROM chat_sessions WHERE session_id = ?`, sourceSessionID).Scan(&rawHistory)
			if err != nil && err != sql.ErrNoRows {
				slog.Error("SQLiteStore CreateComplaint session read failed", "error", err, "sessionID", sourceSessionID)
				return "", fmt.Errorf("failed to read session history: %w", err)
			}
			history = decodeHistory(rawHistory)
		}
	}

	complaintID := ""
	for attempt := 0; attempt < maxComplaintIDAttempts; attempt++ {
		candidate := util.GenerateComplaintID()
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM grievances WHERE complaint_id = ?`, candidate).Scan(&one)
		if err == sql.ErrNoRows {
			complaintID = candidate
			break
		}
		if err != nil {
			slog.Error("SQLiteStore CreateComplaint id check failed", "error", err)
			return "", fmt.Errorf("failed to check complaint id: %w", err)
		}
	}
	if complaintID == "" {
		slog.Error("SQLiteStore CreateComplaint id generation exhausted")
		return "", models.ErrComplaintConflict
	}

	history = append(history, models.SystemEntry(registrationNotice(complaintID)))
	rawHistory, err := encodeHistory(history)
	if err != nil {
		slog.Error("SQLiteStore CreateComplaint history encode failed", "error", err)
		return "", fmt.Errorf("failed to encode chat history: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO grievances (complaint_id, name, mobile, complaint_details, status, chat_history, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		complaintID, name, mobile, details, models.ComplaintStatusSubmitted, rawHistory, now, now)
	if err != nil {
		slog.Error("SQLiteStore CreateComplaint insert failed", "error", err, "complaintID", complaintID)
		return "", fmt.Errorf("failed to insert complaint: %w", err)
	}

	if sourceSessionID != "" {
		if _, err := tx.ExecContext(ctx, `INSERT INTO complaint_sessions (session_id, complaint_id) VALUES (?, ?)`, sourceSessionID, complaintID); err != nil {
			slog.Error("SQLiteStore CreateComplaint link insert failed", "error", err, "sessionID", sourceSessionID)
			return "", fmt.Errorf("failed to link session: %w", err)
		}
		if readSession {
			if _, err := tx.ExecContext(ctx, `DELETE FROM chat_sessions WHERE session_id = ?`, sourceSessionID); err != nil {
				slog.Error("SQLiteStore CreateComplaint session delete failed", "error", err, "sessionID", sourceSessionID)
				return "", fmt.Errorf("failed to delete promoted session: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		slog.Error("SQLiteStore CreateComplaint commit failed", "error", err, "complaintID", complaintID)
		return "", fmt.Errorf("failed to commit complaint: %w", err)
	}
	slog.Debug("SQLiteStore CreateComplaint succeeded", "complaintID", complaintID, "sourceSessionID", sourceSessionID)
	return complaintID, nil
}

func (s *SQLiteStore) GetComplaint(complaintID string) (*models.Complaint, error) {
	ctx, cancel := s.opContext()
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT complaint_id, name, mobile, complaint_details, status, chat_history, created_at, updated_at
		FROM grievances WHERE complaint_id = ?`, complaintID)
	return scanComplaint(row)
}

func (s *SQLiteStore) GetComplaintByMobile(mobile string) (*models.Complaint, error) {
	ctx, cancel := s.opContext()
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT complaint_id, name, mobile, complaint_details, status, chat_history, created_at, updated_at
		FROM grievances WHERE mobile = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, mobile)
	return scanComplaint(row)
}

// UpdateStatus changes the status and bumps updated_at. The optional note is
// appended afterwards as a separate step: if the append fails the status
// change stands and the failure is only logged.
func (s *SQLiteStore) UpdateStatus(complaintID, status, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.opContext()
	defer cancel()

	res, err := s.db.ExecContext(ctx, `UPDATE grievances SET status = ?, updated_at = ? WHERE complaint_id = ?`,
		status, time.Now().UTC(), complaintID)
	if err != nil {
		slog.Error("SQLiteStore UpdateStatus failed", "error", err, "complaintID", complaintID)
		return fmt.Errorf("failed to update status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return models.ErrNotFound
	}

	if note != "" {
		if err := s.appendEntryLocked(ctx, complaintID, models.SystemEntry(note)); err != nil {
			slog.Warn("SQLiteStore UpdateStatus note append failed, status change stands", "error", err, "complaintID", complaintID)
		}
	}
	slog.Debug("SQLiteStore UpdateStatus succeeded", "complaintID", complaintID, "status", status)
	return nil
}

// AppendComplaintEntry appends one entry to a complaint's transcript. The
// history read, the exclusivity link and the rewrite run in one transaction
// so a rejected append leaves no link row behind.
func (s *SQLiteStore) AppendComplaintEntry(complaintID string, entry models.ChatEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.opContext()
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("SQLiteStore AppendComplaintEntry begin failed", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var rawHistory string
	err = tx.QueryRowContext(ctx, `SELECT chat_history FROM grievances WHERE complaint_id = ?`, complaintID).Scan(&rawHistory)
	if err == sql.ErrNoRows {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read chat history: %w", err)
	}

	if entry.SessionID != "" && entry.SessionID != models.SystemSessionID {
		var linked string
		err := tx.QueryRowContext(ctx, `SELECT complaint_id FROM complaint_sessions WHERE session_id = ?`, entry.SessionID).Scan(&linked)
		switch {
		case err == sql.ErrNoRows:
			if _, err := tx.ExecContext(ctx, `INSERT INTO complaint_sessions (session_id, complaint_id) VALUES (?, ?)`, entry.SessionID, complaintID); err != nil {
				slog.Error("SQLiteStore AppendComplaintEntry link insert failed", "error", err, "sessionID", entry.SessionID)
				return fmt.Errorf("failed to link session: %w", err)
			}
		case err != nil:
			slog.Error("SQLiteStore AppendComplaintEntry link lookup failed", "error", err, "sessionID", entry.SessionID)
			return fmt.Errorf("failed to check session link: %w", err)
		case linked != complaintID:
			slog.Warn("SQLiteStore AppendComplaintEntry exclusivity violation", "sessionID", entry.SessionID, "linked", linked, "target", complaintID)
			return models.ErrSessionConflict
		}
	}

	encoded, err := encodeHistory(append(decodeHistory(rawHistory), entry))
	if err != nil {
		return fmt.Errorf("failed to encode chat history: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE grievances SET chat_history = ?, updated_at = ? WHERE complaint_id = ?`,
		encoded, time.Now().UTC(), complaintID); err != nil {
		return fmt.Errorf("failed to write chat history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chat entry: %w", err)
	}
	return nil
}

// appendEntryLocked rewrites the complaint's full history array with one more
// entry. Caller holds the mutex.
func (s *SQLiteStore) appendEntryLocked(ctx context.Context, complaintID string, entry models.ChatEntry) error {
	var rawHistory string
	err := s.db.QueryRowContext(ctx, `SELECT chat_history FROM grievances WHERE complaint_id = ?`, complaintID).Scan(&rawHistory)
	if err == sql.ErrNoRows {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read chat history: %w", err)
	}

	history := append(decodeHistory(rawHistory), entry)
	encoded, err := encodeHistory(history)
	if err != nil {
		return fmt.Errorf("failed to encode chat history: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE grievances SET chat_history = ?, updated_at = ? WHERE complaint_id = ?`,
		encoded, time.Now().UTC(), complaintID); err != nil {
		return fmt.Errorf("failed to write chat history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetOrCreateSession(sessionID string) (*models.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.opContext()
	defer cancel()

	sess, err := s.getSessionLocked(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if sess != nil {
		return sess, false, nil
	}

	sess = models.NewSession(sessionID)
	rawData, err := encodeUserData(sess.UserData)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode user data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (session_id, user_data, current_step, chat_history, created_at, updated_at)
		VALUES (?, ?, ?, '[]', ?, ?)`,
		sessionID, rawData, string(sess.CurrentStep), sess.CreatedAt.UTC(), sess.UpdatedAt.UTC())
	if err != nil {
		slog.Error("SQLiteStore GetOrCreateSession insert failed", "error", err, "sessionID", sessionID)
		return nil, false, fmt.Errorf("failed to create session: %w", err)
	}
	slog.Debug("SQLiteStore GetOrCreateSession created", "sessionID", sessionID)
	return sess, true, nil
}

func (s *SQLiteStore) getSessionLocked(ctx context.Context, sessionID string) (*models.Session, error) {
	var (
		sess       models.Session
		rawData    string
		step       string
		rawHistory string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, user_data, current_step, chat_history, created_at, updated_at
		FROM chat_sessions WHERE session_id = ?`, sessionID).
		Scan(&sess.SessionID, &rawData, &step, &rawHistory, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore getSession failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	sess.UserData = decodeUserData(rawData)
	sess.CurrentStep = models.ConversationStep(step)
	sess.ChatHistory = decodeHistory(rawHistory)
	return &sess, nil
}

func (s *SQLiteStore) SaveSession(sessionID string, data models.UserData, step models.ConversationStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.opContext()
	defer cancel()

	rawData, err := encodeUserData(data)
	if err != nil {
		return fmt.Errorf("failed to encode user data: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (session_id, user_data, current_step, chat_history, created_at, updated_at)
		VALUES (?, ?, ?, '[]', ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET user_data = excluded.user_data, current_step = excluded.current_step, updated_at = excluded.updated_at`,
		sessionID, rawData, string(step), now, now)
	if err != nil {
		slog.Error("SQLiteStore SaveSession failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendSessionEntry(entry models.ChatEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.opContext()
	defer cancel()

	sess, err := s.getSessionLocked(ctx, entry.SessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		sess = models.NewSession(entry.SessionID)
		rawData, err := encodeUserData(sess.UserData)
		if err != nil {
			return fmt.Errorf("failed to encode user data: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO chat_sessions (session_id, user_data, current_step, chat_history, created_at, updated_at)
			VALUES (?, ?, ?, '[]', ?, ?)`,
			entry.SessionID, rawData, string(sess.CurrentStep), sess.CreatedAt.UTC(), sess.UpdatedAt.UTC()); err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
	}

	encoded, err := encodeHistory(append(sess.ChatHistory, entry))
	if err != nil {
		return fmt.Errorf("failed to encode chat history: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE chat_sessions SET chat_history = ?, updated_at = ? WHERE session_id = ?`,
		encoded, time.Now().UTC(), entry.SessionID); err != nil {
		slog.Error("SQLiteStore AppendSessionEntry failed", "error", err, "sessionID", entry.SessionID)
		return fmt.Errorf("failed to append session entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.opContext()
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE session_id = ?`, sessionID); err != nil {
		slog.Error("SQLiteStore DeleteSession failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SweepExpiredSessions(maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.opContext()
	defer cancel()

	cutoff := time.Now().UTC().Add(-maxAge)
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE created_at < ?`, cutoff)
	if err != nil {
		slog.Error("SQLiteStore SweepExpiredSessions failed", "error", err)
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read sweep result: %w", err)
	}
	if affected > 0 {
		slog.Info("SQLiteStore SweepExpiredSessions removed sessions", "count", affected)
	}
	return int(affected), nil
}

func (s *SQLiteStore) FindComplaintForSession(sessionID string) (string, error) {
	ctx, cancel := s.opContext()
	defer cancel()

	var complaintID string
	err := s.db.QueryRowContext(ctx, `SELECT complaint_id FROM complaint_sessions WHERE session_id = ?`, sessionID).Scan(&complaintID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("SQLiteStore FindComplaintForSession failed", "error", err, "sessionID", sessionID)
		return "", fmt.Errorf("failed to find complaint for session: %w", err)
	}
	return complaintID, nil
}

func (s *SQLiteStore) FindSessionsForComplaint(complaintID string) ([]string, error) {
	ctx, cancel := s.opContext()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM complaint_sessions WHERE complaint_id = ? ORDER BY session_id`, complaintID)
	if err != nil {
		slog.Error("SQLiteStore FindSessionsForComplaint failed", "error", err, "complaintID", complaintID)
		return nil, fmt.Errorf("failed to find sessions for complaint: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session ids: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStore) SearchKnowledgeBase(query string) ([]models.KnowledgeEntry, error) {
	ctx, cancel := s.opContext()
	defer cancel()

	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT question, answer, category FROM knowledge_base
		WHERE question LIKE ? OR answer LIKE ?
		ORDER BY CASE WHEN question LIKE ? THEN 1 ELSE 2 END, id
		LIMIT ?`, pattern, pattern, pattern, KnowledgeLimit)
	if err != nil {
		slog.Error("SQLiteStore SearchKnowledgeBase failed", "error", err)
		return nil, fmt.Errorf("failed to search knowledge base: %w", err)
	}
	defer rows.Close()
	return scanKnowledgeRows(rows)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
