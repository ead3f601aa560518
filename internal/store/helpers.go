package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/CivicStack/GrievanceFlow/internal/models"
)

// scanComplaint scans a full complaint row, decoding the embedded history.
func scanComplaint(row *sql.Row) (*models.Complaint, error) {
	var (
		c          models.Complaint
		rawHistory string
	)
	err := row.Scan(&c.ComplaintID, &c.Name, &c.Mobile, &c.ComplaintDetails, &c.Status, &rawHistory, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan complaint row: %w", err)
	}
	c.ChatHistory = decodeHistory(rawHistory)
	return &c, nil
}

// scanKnowledgeRows collects knowledge base rows, tolerating NULL categories.
func scanKnowledgeRows(rows *sql.Rows) ([]models.KnowledgeEntry, error) {
	var entries []models.KnowledgeEntry
	for rows.Next() {
		var (
			e        models.KnowledgeEntry
			category sql.NullString
		)
		if err := rows.Scan(&e.Question, &e.Answer, &category); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge row: %w", err)
		}
		e.Category = category.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate knowledge rows: %w", err)
	}
	return entries, nil
}

// encodeHistory marshals a chat history as one JSON array. Histories are
// always written whole so a concurrent reader never sees a torn array.
func encodeHistory(history []models.ChatEntry) (string, error) {
	if len(history) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(history)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeHistory unmarshals a stored chat history. Malformed JSON degrades to
// an empty history rather than failing the whole read.
func decodeHistory(raw string) []models.ChatEntry {
	if raw == "" {
		return nil
	}
	var history []models.ChatEntry
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		slog.Error("store: malformed chat history, treating as empty", "error", err)
		return nil
	}
	return history
}

// encodeUserData marshals the partially collected session fields.
func encodeUserData(data models.UserData) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeUserData unmarshals session user data, degrading to empty on
// corruption like decodeHistory does.
func decodeUserData(raw string) models.UserData {
	var data models.UserData
	if raw == "" {
		return data
	}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		slog.Error("store: malformed session user data, treating as empty", "error", err)
		return models.UserData{}
	}
	return data
}
