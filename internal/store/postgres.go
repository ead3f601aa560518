// Package store provides storage backends for GrievanceFlow.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "embed"

	"github.com/CivicStack/GrievanceFlow/internal/models"
	"github.com/CivicStack/GrievanceFlow/internal/util"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore implements Store over PostgreSQL with the same locking
// discipline as SQLiteStore.
type PostgresStore struct {
	db        *sql.DB
	mu        sync.Mutex
	opTimeout time.Duration
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	cfg := applyOptions(opts)
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	s := &PostgresStore{db: db, opTimeout: cfg.OpTimeout}
	if err := s.seedKnowledgeBase(); err != nil {
		return nil, err
	}
	slog.Debug("Postgres store ready")
	return s, nil
}

func (s *PostgresStore) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opTimeout)
}

func (s *PostgresStore) seedKnowledgeBase() error {
	ctx, cancel := s.opContext()
	defer cancel()

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_base`).Scan(&count); err != nil {
		slog.Error("PostgresStore seedKnowledgeBase count failed", "error", err)
		return fmt.Errorf("failed to count knowledge base rows: %w", err)
	}
	if count > 0 {
		return nil
	}
	for _, e := range defaultKnowledgeBase() {
		if _, err := s.db.ExecContext(ctx, `INSERT INTO knowledge_base (question, answer, category) VALUES ($1, $2, $3)`,
			e.Question, e.Answer, e.Category); err != nil {
			slog.Error("PostgresStore seedKnowledgeBase insert failed", "error", err)
			return fmt.Errorf("failed to seed knowledge base: %w", err)
		}
	}
	slog.Debug("PostgresStore knowledge base seeded")
	return nil
}

func (s *PostgresStore) CreateComplaint(name, mobile, details, sourceSessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createComplaintLocked(name, mobile, details, sourceSessionID, nil, true)
}

func (s *PostgresStore) insertComplaintWithHistory(name, mobile, details, sourceSessionID string, history []models.ChatEntry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createComplaintLocked(name, mobile, details, sourceSessionID, history, false)
}

func (s *PostgresStore) createComplaintLocked(name, mobile, details, sourceSessionID string, history []models.ChatEntry, readSession bool) (string, error) {
	ctx, cancel := s.opContext()
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("PostgresStore CreateComplaint begin failed", "error", err)
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if sourceSessionID != "" {
		var linked string
		err := tx.QueryRowContext(ctx, `SELECT complaint_id FROM complaint_sessions WHERE session_id = $1`, sourceSessionID).Scan(&linked)
		switch {
		case err == sql.ErrNoRows:
			// not linked yet
		case err != nil:
			slog.Error("PostgresStore CreateComplaint link lookup failed", "error", err, "sessionID", sourceSessionID)
			return "", fmt.Errorf("failed to check session link: %w", err)
		default:
			slog.Warn("PostgresStore CreateComplaint session already linked", "sessionID", sourceSessionID, "complaintID", linked)
			return "", models.ErrSessionConflict
		}

		if readSession {
			var rawHistory string
			err := tx.QueryRowContext(ctx, `SELECT chat_history FROM chat_sessions WHERE session_id = $1`, sourceSessionID).Scan(&rawHistory)
			if err != nil && err != sql.ErrNoRows {
				slog.Error("PostgresStore CreateComplaint session read failed", "error", err, "sessionID", sourceSessionID)
				return "", fmt.Errorf("failed to read session history: %w", err)
			}
			history = decodeHistory(rawHistory)
		}
	}

	complaintID := ""
	for attempt := 0; attempt < maxComplaintIDAttempts; attempt++ {
		candidate := util.GenerateComplaintID()
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM grievances WHERE complaint_id = $1`, candidate).Scan(&one)
		if err == sql.ErrNoRows {
			complaintID = candidate
			break
		}
		if err != nil {
			slog.Error("PostgresStore CreateComplaint id check failed", "error", err)
			return "", fmt.Errorf("failed to check complaint id: %w", err)
		}
	}
	if complaintID == "" {
		slog.Error("PostgresStore CreateComplaint id generation exhausted")
		return "", models.ErrComplaintConflict
	}

	history = append(history, models.SystemEntry(registrationNotice(complaintID)))
	rawHistory, err := encodeHistory(history)
	if err != nil {
		slog.Error("PostgresStore CreateComplaint history encode failed", "error", err)
		return "", fmt.Errorf("failed to encode chat history: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO grievances (complaint_id, name, mobile, complaint_details, status, chat_history, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		complaintID, name, mobile, details, models.ComplaintStatusSubmitted, rawHistory, now, now)
	if err != nil {
		slog.Error("PostgresStore CreateComplaint insert failed", "error", err, "complaintID", complaintID)
		return "", fmt.Errorf("failed to insert complaint: %w", err)
	}

	if sourceSessionID != "" {
		if _, err := tx.ExecContext(ctx, `INSERT INTO complaint_sessions (session_id, complaint_id) VALUES ($1, $2)`, sourceSessionID, complaintID); err != nil {
			slog.Error("PostgresStore CreateComplaint link insert failed", "error", err, "sessionID", sourceSessionID)
			return "", fmt.Errorf("failed to link session: %w", err)
		}
		if readSession {
			if _, err := tx.ExecContext(ctx, `DELETE FROM chat_sessions WHERE session_id = $1`, sourceSessionID); err != nil {
				slog.Error("PostgresStore CreateComplaint session delete failed", "error", err, "sessionID", sourceSessionID)
				return "", fmt.Errorf("failed to delete promoted session: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		slog.Error("PostgresStore CreateComplaint commit failed", "error", err, "complaintID", complaintID)
		return "", fmt.Errorf("failed to commit complaint: %w", err)
	}
	slog.Debug("PostgresStore CreateComplaint succeeded", "complaintID", complaintID, "sourceSessionID", sourceSessionID)
	return complaintID, nil
}

func (s *PostgresStore) GetComplaint(complaintID string) (*models.Complaint, error) {
	ctx, cancel := s.opContext()
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT complaint_id, name, mobile, complaint_details, status, chat_history, created_at, updated_at
		FROM grievances WHERE complaint_id = $1`, complaintID)
	return scanComplaint(row)
}

func (s *PostgresStore) GetComplaintByMobile(mobile string) (*models.Complaint, error) {
	ctx, cancel := s.opContext()
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT complaint_id, name, mobile, complaint_details, status, chat_history, created_at, updated_at
		FROM grievances WHERE mobile = $1
		ORDER BY created_at DESC, id DESC LIMIT 1`, mobile)
	return scanComplaint(row)
}

func (s *PostgresStore) UpdateStatus(complaintID, status, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.opContext()
	defer cancel()

	res, err := s.db.ExecContext(ctx, `UPDATE grievances SET status = $1, updated_at = $2 WHERE complaint_id = $3`,
		status, time.Now().UTC(), complaintID)
	if err != nil {
		slog.Error("PostgresStore UpdateStatus failed", "error", err, "complaintID", complaintID)
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
			slog.Warn("PostgresStore UpdateStatus note append failed, status change stands", "error", err, "complaintID", complaintID)
		}
	}
	slog.Debug("PostgresStore UpdateStatus succeeded", "complaintID", complaintID, "status", status)
	return nil
}

// AppendComplaintEntry appends one entry to a complaint's transcript. The
// history read, the exclusivity link and the rewrite run in one transaction
// so a rejected append leaves no link row behind.
func (s *PostgresStore) AppendComplaintEntry(complaintID string, entry models.ChatEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.opContext()
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("PostgresStore AppendComplaintEntry begin failed", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var rawHistory string
	err = tx.QueryRowContext(ctx, `SELECT chat_history FROM grievances WHERE complaint_id = $1`, complaintID).Scan(&rawHistory)
	if err == sql.ErrNoRows {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read chat history: %w", err)
	}

	if entry.SessionID != "" && entry.SessionID != models.SystemSessionID {
		var linked string
		err := tx.QueryRowContext(ctx, `SELECT complaint_id FROM complaint_sessions WHERE session_id = $1`, entry.SessionID).Scan(&linked)
		switch {
		case err == sql.ErrNoRows:
			if _, err := tx.ExecContext(ctx, `INSERT INTO complaint_sessions (session_id, complaint_id) VALUES ($1, $2)`, entry.SessionID, complaintID); err != nil {
				slog.Error("PostgresStore AppendComplaintEntry link insert failed", "error", err, "sessionID", entry.SessionID)
				return fmt.Errorf("failed to link session: %w", err)
			}
		case err != nil:
			slog.Error("PostgresStore AppendComplaintEntry link lookup failed", "error", err, "sessionID", entry.SessionID)
			return fmt.Errorf("failed to check session link: %w", err)
		case linked != complaintID:
			slog.Warn("PostgresStore AppendComplaintEntry exclusivity violation", "sessionID", entry.SessionID, "linked", linked, "target", complaintID)
			return models.ErrSessionConflict
		}
	}

	encoded, err := encodeHistory(append(decodeHistory(rawHistory), entry))
	if err != nil {
		return fmt.Errorf("failed to encode chat history: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE grievances SET chat_history = $1, updated_at = $2 WHERE complaint_id = $3`,
		encoded, time.Now().UTC(), complaintID); err != nil {
		return fmt.Errorf("failed to write chat history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chat entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) appendEntryLocked(ctx context.Context, complaintID string, entry models.ChatEntry) error {
	var rawHistory string
	err := s.db.QueryRowContext(ctx, `SELECT chat_history FROM grievances WHERE complaint_id = $1`, complaintID).Scan(&rawHistory)
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
	if _, err := s.db.ExecContext(ctx, `UPDATE grievances SET chat_history = $1, updated_at = $2 WHERE complaint_id = $3`,
		encoded, time.Now().UTC(), complaintID); err != nil {
		return fmt.Errorf("failed to write chat history: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetOrCreateSession(sessionID string) (*models.Session, bool, error) {
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
		VALUES ($1, $2, $3, '[]', $4, $5)`,
		sessionID, rawData, string(sess.CurrentStep), sess.CreatedAt.UTC(), sess.UpdatedAt.UTC())
	if err != nil {
		slog.Error("PostgresStore GetOrCreateSession insert failed", "error", err, "sessionID", sessionID)
		return nil, false, fmt.Errorf("failed to create session: %w", err)
	}
	slog.Debug("PostgresStore GetOrCreateSession created", "sessionID", sessionID)
	return sess, true, nil
}

func (s *PostgresStore) getSessionLocked(ctx context.Context, sessionID string) (*models.Session, error) {
	var (
		sess       models.Session
		rawData    string
		step       string
		rawHistory string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, user_data, current_step, chat_history, created_at, updated_at
		FROM chat_sessions WHERE session_id = $1`, sessionID).
		Scan(&sess.SessionID, &rawData, &step, &rawHistory, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore getSession failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	sess.UserData = decodeUserData(rawData)
	sess.CurrentStep = models.ConversationStep(step)
	sess.ChatHistory = decodeHistory(rawHistory)
	return &sess, nil
}

func (s *PostgresStore) SaveSession(sessionID string, data models.UserData, step models.ConversationStep) error {
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
		VALUES ($1, $2, $3, '[]', $4, $5)
		ON CONFLICT (session_id) DO UPDATE SET user_data = excluded.user_data, current_step = excluded.current_step, updated_at = excluded.updated_at`,
		sessionID, rawData, string(step), now, now)
	if err != nil {
		slog.Error("PostgresStore SaveSession failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendSessionEntry(entry models.ChatEntry) error {
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
			VALUES ($1, $2, $3, '[]', $4, $5)`,
			entry.SessionID, rawData, string(sess.CurrentStep), sess.CreatedAt.UTC(), sess.UpdatedAt.UTC()); err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
	}

	encoded, err := encodeHistory(append(sess.ChatHistory, entry))
	if err != nil {
		return fmt.Errorf("failed to encode chat history: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE chat_sessions SET chat_history = $1, updated_at = $2 WHERE session_id = $3`,
		encoded, time.Now().UTC(), entry.SessionID); err != nil {
		slog.Error("PostgresStore AppendSessionEntry failed", "error", err, "sessionID", entry.SessionID)
		return fmt.Errorf("failed to append session entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.opContext()
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE session_id = $1`, sessionID); err != nil {
		slog.Error("PostgresStore DeleteSession failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *PostgresStore) SweepExpiredSessions(maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.opContext()
	defer cancel()

	cutoff := time.Now().UTC().Add(-maxAge)
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE created_at < $1`, cutoff)
	if err != nil {
		slog.Error("PostgresStore SweepExpiredSessions failed", "error", err)
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read sweep result: %w", err)
	}
	if affected > 0 {
		slog.Info("PostgresStore SweepExpiredSessions removed sessions", "count", affected)
	}
	return int(affected), nil
}

func (s *PostgresStore) FindComplaintForSession(sessionID string) (string, error) {
	ctx, cancel := s.opContext()
	defer cancel()

	var complaintID string
	err := s.db.QueryRowContext(ctx, `SELECT complaint_id FROM complaint_sessions WHERE session_id = $1`, sessionID).Scan(&complaintID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("PostgresStore FindComplaintForSession failed", "error", err, "sessionID", sessionID)
		return "", fmt.Errorf("failed to find complaint for session: %w", err)
	}
	return complaintID, nil
}

func (s *PostgresStore) FindSessionsForComplaint(complaintID string) ([]string, error) {
	ctx, cancel := s.opContext()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM complaint_sessions WHERE complaint_id = $1 ORDER BY session_id`, complaintID)
	if err != nil {
		slog.Error("PostgresStore FindSessionsForComplaint failed", "error", err, "complaintID", complaintID)
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

func (s *PostgresStore) SearchKnowledgeBase(query string) ([]models.KnowledgeEntry, error) {
	ctx, cancel := s.opContext()
	defer cancel()

	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT question, answer, category FROM knowledge_base
		WHERE question ILIKE $1 OR answer ILIKE $1
		ORDER BY CASE WHEN question ILIKE $1 THEN 1 ELSE 2 END, id
		LIMIT $2`, pattern, KnowledgeLimit)
	if err != nil {
		slog.Error("PostgresStore SearchKnowledgeBase failed", "error", err)
		return nil, fmt.Errorf("failed to search knowledge base: %w", err)
	}
	defer rows.Close()
	return scanKnowledgeRows(rows)
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
