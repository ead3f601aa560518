// Package models defines the core data structures for GrievanceFlow.
//
// It includes types for complaints, chat transcripts, and conversation
// sessions, which are shared across modules.
package models

import (
	"errors"
	"time"
)

// ComplaintStatusSubmitted is the status assigned to every newly created complaint.
const ComplaintStatusSubmitted = "Submitted"

// SystemSessionID tags chat entries generated by the store itself (status
// notices, registration confirmations). Entries carrying it are exempt from
// the session/complaint exclusivity check.
const SystemSessionID = "system"

// Validation constants for input validation
const (
	// MobileLength is the required number of digits in a mobile number.
	MobileLength = 10
	// MinComplaintDetailsLength is the minimum length of complaint details after trimming.
	MinComplaintDetailsLength = 10
	// MaxNameTokens is the maximum number of whitespace-separated words accepted as a name.
	MaxNameTokens = 4
)

// Error variables for better error handling and testability
var (
	ErrNotFound          = errors.New("record not found")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrSessionConflict   = errors.New("session already linked to a different complaint")
	ErrComplaintConflict = errors.New("complaint id already exists")

	ErrEmptyMessage     = errors.New("message cannot be empty")
	ErrEmptyName        = errors.New("name cannot be empty")
	ErrInvalidMobile    = errors.New("mobile number must be exactly 10 digits")
	ErrEmptyDetails     = errors.New("complaint details cannot be empty")
	ErrMissingSelector  = errors.New("complaint id or mobile number is required")
	ErrEmptyStatus      = errors.New("status cannot be empty")
	ErrEmptyComplaintID = errors.New("complaint id cannot be empty")
)

// ChatEntry is one timestamped, speaker-tagged transcript line. Entries are
// immutable once appended.
type ChatEntry struct {
	SessionID string    `json:"session_id"`
	ChatText  string    `json:"chat_text"`
	Timestamp time.Time `json:"timestamp"`
	IsUser    bool      `json:"is_user"`
}

// UserEntry builds a transcript line for a user utterance.
func UserEntry(sessionID, text string) ChatEntry {
	return ChatEntry{SessionID: sessionID, ChatText: "User: " + text, Timestamp: time.Now(), IsUser: true}
}

// BotEntry builds a transcript line for a bot response.
func BotEntry(sessionID, text string) ChatEntry {
	return ChatEntry{SessionID: sessionID, ChatText: "Bot: " + text, Timestamp: time.Now(), IsUser: false}
}

// SystemEntry builds a store-generated transcript line tagged with SystemSessionID.
func SystemEntry(text string) ChatEntry {
	return ChatEntry{SessionID: SystemSessionID, ChatText: "System: " + text, Timestamp: time.Now(), IsUser: false}
}

// Complaint is a durable grievance record. The identity fields are set once
// at creation; status and chat history mutate over its lifetime.
type Complaint struct {
	ComplaintID      string      `json:"complaint_id"`
	Name             string      `json:"name"`
	Mobile           string      `json:"mobile"`
	ComplaintDetails string      `json:"complaint_details"`
	Status           string      `json:"status"`
	ChatHistory      []ChatEntry `json:"chat_history,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// ComplaintSummary is the caller-facing view returned by status lookups.
type ComplaintSummary struct {
	ComplaintID string    `json:"complaint_id"`
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Summary projects a complaint onto its status-lookup view.
func (c *Complaint) Summary() ComplaintSummary {
	return ComplaintSummary{
		ComplaintID: c.ComplaintID,
		Name:        c.Name,
		Status:      c.Status,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

// KnowledgeEntry is one question/answer pair in the knowledge base.
type KnowledgeEntry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Category string `json:"category,omitempty"`
}

// Intent classifies what the user wants at the start of a conversation cycle.
type Intent string

const (
	IntentRegisterComplaint Intent = "register_complaint"
	IntentCheckStatus       Intent = "check_status"
	IntentGeneral           Intent = "general"
)

// ParseIntent maps a classifier label to an Intent. Unrecognized labels fall
// back to IntentGeneral so a misbehaving classifier never breaks a turn.
func ParseIntent(label string) Intent {
	switch Intent(label) {
	case IntentRegisterComplaint, IntentCheckStatus, IntentGeneral:
		return Intent(label)
	default:
		return IntentGeneral
	}
}

// IsValidMobile reports whether the value is exactly ten digits.
func IsValidMobile(mobile string) bool {
	if len(mobile) != MobileLength {
		return false
	}
	for _, r := range mobile {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
