// Package models defines API request and response types for GrievanceFlow.
package models

import (
	"strings"
	"time"
)

// API status string constants to ensure consistency across API responses
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// ChatRequest is the payload for the conversational endpoint.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// Validate checks the chat request for a usable message.
func (r *ChatRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return ErrEmptyMessage
	}
	return nil
}

// ChatResponse carries a single bot turn back to the caller.
type ChatResponse struct {
	Response              string    `json:"response"`
	SessionID             string    `json:"session_id"`
	IsComplaintRegistered bool      `json:"is_complaint_registered"`
	Timestamp             time.Time `json:"timestamp"`
}

// RegisterComplaintRequest is the payload for direct (non-conversational)
// complaint registration.
type RegisterComplaintRequest struct {
	Name             string `json:"name"`
	Mobile           string `json:"mobile"`
	ComplaintDetails string `json:"complaint_details"`
}

// Validate enforces the registration field requirements.
func (r *RegisterComplaintRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return ErrEmptyName
	}
	if !IsValidMobile(strings.TrimSpace(r.Mobile)) {
		return ErrInvalidMobile
	}
	if strings.TrimSpace(r.ComplaintDetails) == "" {
		return ErrEmptyDetails
	}
	return nil
}

// StatusLookupRequest selects a complaint by mobile number.
type StatusLookupRequest struct {
	Mobile string `json:"mobile"`
}

// Validate checks that a mobile selector was provided.
func (r *StatusLookupRequest) Validate() error {
	if strings.TrimSpace(r.Mobile) == "" {
		return ErrMissingSelector
	}
	return nil
}

// StatusUpdateRequest is the operator payload for changing a complaint's
// status. Note is optional and appended to the transcript best-effort.
type StatusUpdateRequest struct {
	ComplaintID string `json:"complaint_id"`
	Status      string `json:"status"`
	Note        string `json:"note,omitempty"`
}

// Validate enforces the status update field requirements.
func (r *StatusUpdateRequest) Validate() error {
	if strings.TrimSpace(r.ComplaintID) == "" {
		return ErrEmptyComplaintID
	}
	if strings.TrimSpace(r.Status) == "" {
		return ErrEmptyStatus
	}
	return nil
}

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
