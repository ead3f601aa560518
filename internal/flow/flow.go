// Package flow implements the grievance intake conversation state machine.
//
// One ConversationFlow serves every session; per-session state lives in the
// store and is reloaded each turn. The machine is cyclic: both the
// registration branch and the status branch return to INITIAL_CHOICE, so a
// single session can run many cycles until it is promoted or swept.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/CivicStack/GrievanceFlow/internal/models"
	"github.com/CivicStack/GrievanceFlow/internal/store"
)

// Bot responses. The wording is part of the conversational contract and is
// asserted on by tests; change with care.
const (
	WelcomeMessage = "Welcome to the Grievance Management System! I can help you register a complaint or check the status of an existing one. How can I help you today?"

	promptName      = "I'll help you register your complaint. First, could you please provide your full name?"
	repromptName    = "Please provide a valid name (letters only, up to 4 words)."
	repromptMobile  = "Please provide a valid 10-digit mobile number."
	promptDetails   = "Great! Now, please describe your complaint or issue in detail."
	repromptDetails = "Please provide a detailed description of your complaint (at least 10 characters)."

	promptIDOrMobile = "To check your complaint status, please provide your complaint ID or the mobile number used during registration."

	registrationFailed = "I'm sorry, something went wrong while registering your complaint. Please try again later."

	menuReprompt = "I can help you register a new complaint or check the status of an existing one. What would you like to do?"

	notFoundReply = "I couldn't find a complaint matching that. If you'd like to register a new complaint, just let me know."
)

// IntentClassifier is the classification half of the external collaborator.
type IntentClassifier interface {
	Classify(ctx context.Context, utterance string) (models.Intent, error)
}

// ConversationFlow drives one user turn at a time against the record store.
type ConversationFlow struct {
	st         store.Store
	classifier IntentClassifier
	responder  *KnowledgeResponder
}

// NewConversationFlow creates the engine with its dependencies.
func NewConversationFlow(st store.Store, classifier IntentClassifier, responder *KnowledgeResponder) *ConversationFlow {
	slog.Debug("ConversationFlow.NewConversationFlow: creating flow with dependencies")
	return &ConversationFlow{st: st, classifier: classifier, responder: responder}
}

// ProcessMessage consumes one user utterance and returns the bot response
// plus whether this turn registered a complaint. Storage failures abort the
// turn before any state transition is persisted; external-service failures
// never surface, they degrade to deterministic fallbacks.
func (f *ConversationFlow) ProcessMessage(ctx context.Context, sessionID, message string) (string, bool, error) {
	message = strings.TrimSpace(message)
	slog.Debug("flow.ProcessMessage: processing turn", "sessionID", sessionID, "messageLength", len(message))

	sess, created, err := f.st.GetOrCreateSession(sessionID)
	if err != nil {
		return "", false, fmt.Errorf("failed to load session: %w", err)
	}

	// A session whose transcript was already promoted keeps writing to its
	// complaint; appending to the same complaint is always permitted.
	linkedComplaint, err := f.st.FindComplaintForSession(sessionID)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve session link: %w", err)
	}

	if created {
		if err := f.record(linkedComplaint, models.UserEntry(sessionID, message)); err != nil {
			return "", false, err
		}
		if err := f.record(linkedComplaint, models.BotEntry(sessionID, WelcomeMessage)); err != nil {
			return "", false, err
		}
		slog.Debug("flow.ProcessMessage: first contact, sent welcome", "sessionID", sessionID)
		return WelcomeMessage, false, nil
	}

	if err := f.record(linkedComplaint, models.UserEntry(sessionID, message)); err != nil {
		return "", false, err
	}

	data := sess.UserData
	step := sess.CurrentStep
	response := ""
	registered := false

	switch step {
	case models.StepInitialChoice:
		response, step = f.handleInitialChoice(ctx, message)

	case models.StepCollectingName:
		if name, ok := ExtractName(message); ok {
			data.Name = name
			step = models.StepCollectingMobile
			response = fmt.Sprintf("Thank you, %s. Now, please provide your mobile number.", name)
		} else {
			response = repromptName
		}

	case models.StepCollectingMobile:
		if mobile, ok := ExtractMobile(message); ok {
			data.Mobile = mobile
			step = models.StepCollectingComplaint
			response = promptDetails
		} else {
			response = repromptMobile
		}

	case models.StepCollectingComplaint:
		if len(message) < models.MinComplaintDetailsLength {
			response = repromptDetails
			break
		}
		data.ComplaintDetails = message
		complaintID, err := f.st.CreateComplaint(data.Name, data.Mobile, data.ComplaintDetails, sessionID)
		if err != nil {
			slog.Error("flow.ProcessMessage: complaint registration failed", "error", err, "sessionID", sessionID)
			response = registrationFailed
			step = models.StepInitialChoice
			data = models.UserData{}
			break
		}
		slog.Info("flow.ProcessMessage: complaint registered", "complaintID", complaintID, "sessionID", sessionID)
		// Promotion deleted the session; its transcript now lives on the
		// complaint, so there is nothing left to persist here.
		return registrationReply(complaintID), true, nil

	case models.StepCollectingIDOrMobile:
		response = f.handleStatusLookup(message)
		step = models.StepInitialChoice
		data = models.UserData{}

	default:
		slog.Warn("flow.ProcessMessage: unknown persisted step, resetting", "step", step, "sessionID", sessionID)
		response = f.generalReply(ctx, message)
		step = models.StepInitialChoice
		data = models.UserData{}
	}

	if err := f.record(linkedComplaint, models.BotEntry(sessionID, response)); err != nil {
		return "", false, err
	}
	if err := f.st.SaveSession(sessionID, data, step); err != nil {
		return "", false, fmt.Errorf("failed to persist session state: %w", err)
	}
	return response, registered, nil
}

// handleInitialChoice classifies the utterance and either starts a branch or
// answers a general query in place.
func (f *ConversationFlow) handleInitialChoice(ctx context.Context, message string) (string, models.ConversationStep) {
	intent, err := f.classifier.Classify(ctx, message)
	if err != nil {
		// Classifier failures fall closed to the general branch.
		intent = models.IntentGeneral
	}
	slog.Debug("flow.handleInitialChoice: classified intent", "intent", intent)

	switch intent {
	case models.IntentRegisterComplaint:
		return promptName, models.StepCollectingName
	case models.IntentCheckStatus:
		return promptIDOrMobile, models.StepCollectingIDOrMobile
	default:
		return f.generalReply(ctx, message), models.StepInitialChoice
	}
}

// generalReply answers an open-domain query; apology-shaped output is
// replaced by the fixed two-choice re-prompt.
func (f *ConversationFlow) generalReply(ctx context.Context, message string) string {
	answer := f.responder.Respond(ctx, message)
	if looksLikeApology(answer) {
		return menuReprompt
	}
	return answer
}

// handleStatusLookup resolves a complaint id or mobile number to a status
// summary. The machine returns to INITIAL_CHOICE regardless of outcome.
func (f *ConversationFlow) handleStatusLookup(message string) string {
	var (
		complaint *models.Complaint
		err       error
	)
	if complaintID, ok := ExtractComplaintID(message); ok {
		complaint, err = f.st.GetComplaint(complaintID)
	} else if mobile, ok := ExtractMobile(message); ok {
		complaint, err = f.st.GetComplaintByMobile(mobile)
	} else {
		return notFoundReply
	}

	if errors.Is(err, models.ErrNotFound) {
		return notFoundReply
	}
	if err != nil {
		slog.Error("flow.handleStatusLookup: lookup failed", "error", err)
		return FallbackApology
	}
	return fmt.Sprintf("Complaint %s for %s is currently: %s (registered on %s)",
		complaint.ComplaintID, complaint.Name, complaint.Status, complaint.CreatedAt.Format("02 Jan 2006"))
}

// record appends a transcript line to the session, or to the complaint the
// session is already linked to.
func (f *ConversationFlow) record(linkedComplaint string, entry models.ChatEntry) error {
	var err error
	if linkedComplaint != "" {
		err = f.st.AppendComplaintEntry(linkedComplaint, entry)
	} else {
		err = f.st.AppendSessionEntry(entry)
	}
	if err != nil {
		return fmt.Errorf("failed to record chat entry: %w", err)
	}
	return nil
}

// registrationReply embeds the freshly issued complaint id.
func registrationReply(complaintID string) string {
	return fmt.Sprintf("Your complaint has been registered successfully!\n\nComplaint ID: %s\n\nYou can use this ID to check the status of your complaint. We'll work on resolving your issue as soon as possible.", complaintID)
}
