// Package models defines conversation state structures for GrievanceFlow.
package models

import "time"

// ConversationStep represents the current state of the intake state machine.
type ConversationStep string

// Conversation step constants. The machine is cyclic: both the registration
// and the status-check branches return to INITIAL_CHOICE.
const (
	StepInitialChoice        ConversationStep = "INITIAL_CHOICE"
	StepCollectingName       ConversationStep = "COLLECTING_NAME"
	StepCollectingMobile     ConversationStep = "COLLECTING_MOBILE"
	StepCollectingComplaint  ConversationStep = "COLLECTING_COMPLAINT"
	StepCollectingIDOrMobile ConversationStep = "COLLECTING_COMPLAINT_ID_OR_MOBILE"
)

// IsValidStep reports whether the given step is one of the machine's states.
func IsValidStep(s ConversationStep) bool {
	switch s {
	case StepInitialChoice, StepCollectingName, StepCollectingMobile,
		StepCollectingComplaint, StepCollectingIDOrMobile:
		return true
	default:
		return false
	}
}

// UserData holds the structured fields extracted from a conversation so far.
// Fields are filled one state at a time and cleared when a cycle completes.
type UserData struct {
	Name             string `json:"name,omitempty"`
	Mobile           string `json:"mobile,omitempty"`
	ComplaintDetails string `json:"complaint_details,omitempty"`
}

// IsEmpty reports whether no field has been collected yet.
func (d UserData) IsEmpty() bool {
	return d.Name == "" && d.Mobile == "" && d.ComplaintDetails == ""
}

// Session represents an in-progress, not-yet-registered conversation. It is
// deleted when promoted into a Complaint or removed by the expiry sweep.
type Session struct {
	SessionID   string           `json:"session_id"`
	UserData    UserData         `json:"user_data"`
	CurrentStep ConversationStep `json:"current_step"`
	ChatHistory []ChatEntry      `json:"chat_history,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// NewSession returns a fresh session in the machine's start state.
func NewSession(sessionID string) *Session {
	now := time.Now()
	return &Session{
		SessionID:   sessionID,
		CurrentStep: StepInitialChoice,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
