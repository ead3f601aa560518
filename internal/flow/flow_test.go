package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/CivicStack/GrievanceFlow/internal/models"
	"github.com/CivicStack/GrievanceFlow/internal/store"
)

// stubClassifier maps keywords to intents without any external call.
type stubClassifier struct {
	err error
}

func (s stubClassifier) Classify(_ context.Context, utterance string) (models.Intent, error) {
	if s.err != nil {
		return models.IntentGeneral, s.err
	}
	lower := strings.ToLower(utterance)
	switch {
	case strings.Contains(lower, "register"):
		return models.IntentRegisterComplaint, nil
	case strings.Contains(lower, "status"):
		return models.IntentCheckStatus, nil
	default:
		return models.IntentGeneral, nil
	}
}

// stubGenerator returns a canned answer, or an error when configured.
type stubGenerator struct {
	answer string
	err    error
}

func (s stubGenerator) Answer(_ context.Context, _, _ string) (string, error) {
	return s.answer, s.err
}

func newTestFlow(t *testing.T, classifier IntentClassifier, gen AnswerGenerator) (*ConversationFlow, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	return NewConversationFlow(st, classifier, NewKnowledgeResponder(st, gen)), st
}

// turn runs one ProcessMessage call, failing the test on error.
func turn(t *testing.T, f *ConversationFlow, sessionID, message string) (string, bool) {
	t.Helper()
	response, registered, err := f.ProcessMessage(context.Background(), sessionID, message)
	if err != nil {
		t.Fatalf("ProcessMessage(%q) unexpected error: %v", message, err)
	}
	return response, registered
}

func TestFlowFirstContactSendsWelcome(t *testing.T) {
	f, _ := newTestFlow(t, stubClassifier{}, stubGenerator{answer: "hello"})
	response, registered := turn(t, f, "sess-1", "register a complaint")
	if response != WelcomeMessage {
		t.Errorf("first contact response = %q, want welcome", response)
	}
	if registered {
		t.Error("first contact must not register anything")
	}
}

func TestFlowFullRegistrationCycle(t *testing.T) {
	f, st := newTestFlow(t, stubClassifier{}, stubGenerator{answer: "hello"})

	turn(t, f, "sess-1", "hi")
	response, _ := turn(t, f, "sess-1", "I want to register a complaint")
	if response != promptName {
		t.Fatalf("expected name prompt, got %q", response)
	}
	response, _ = turn(t, f, "sess-1", "asha rao")
	if !strings.Contains(response, "Asha Rao") {
		t.Fatalf("expected name acknowledgement, got %q", response)
	}
	response, _ = turn(t, f, "sess-1", "9876543210")
	if response != promptDetails {
		t.Fatalf("expected details prompt, got %q", response)
	}
	response, registered := turn(t, f, "sess-1", "No water supply in my area since Monday morning")
	if !registered {
		t.Fatal("expected registration on final turn")
	}
	id, ok := ExtractComplaintID(response)
	if !ok {
		t.Fatalf("response carries no complaint id: %q", response)
	}

	c, err := st.GetComplaint(id)
	if err != nil {
		t.Fatalf("registered complaint not retrievable: %v", err)
	}
	if c.Name != "Asha Rao" || c.Mobile != "9876543210" {
		t.Errorf("collected fields not stored: %+v", c)
	}
	if c.Status != models.ComplaintStatusSubmitted {
		t.Errorf("status = %q, want %q", c.Status, models.ComplaintStatusSubmitted)
	}
	// transcript was promoted along with the session
	if len(c.ChatHistory) == 0 {
		t.Error("promoted complaint has no chat history")
	}

	// the session is gone; the next message starts a fresh conversation
	response, _ = turn(t, f, "sess-1", "hello again")
	if response != WelcomeMessage {
		t.Errorf("expected fresh welcome after promotion, got %q", response)
	}
}

func TestFlowInvalidInputsReprompt(t *testing.T) {
	f, _ := newTestFlow(t, stubClassifier{}, stubGenerator{answer: "hello"})

	turn(t, f, "sess-1", "hi")
	turn(t, f, "sess-1", "register a complaint")

	response, _ := turn(t, f, "sess-1", "x9 !!")
	if response != repromptName {
		t.Errorf("expected name reprompt, got %q", response)
	}
	turn(t, f, "sess-1", "Asha Rao")

	response, _ = turn(t, f, "sess-1", "12345")
	if response != repromptMobile {
		t.Errorf("expected mobile reprompt, got %q", response)
	}
	turn(t, f, "sess-1", "9876543210")

	response, registered := turn(t, f, "sess-1", "too short")
	if registered || response != repromptDetails {
		t.Errorf("expected details reprompt, got %q (registered=%v)", response, registered)
	}
}

func TestFlowStatusLookupByID(t *testing.T) {
	f, st := newTestFlow(t, stubClassifier{}, stubGenerator{answer: "hello"})
	id, err := st.CreateComplaint("Ravi Kumar", "9123456780", "Pothole on the main road", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	turn(t, f, "sess-1", "hi")
	response, _ := turn(t, f, "sess-1", "check my complaint status")
	if response != promptIDOrMobile {
		t.Fatalf("expected id-or-mobile prompt, got %q", response)
	}
	response, _ = turn(t, f, "sess-1", "my id is "+id)
	if !strings.Contains(response, id) || !strings.Contains(response, "Ravi Kumar") || !strings.Contains(response, models.ComplaintStatusSubmitted) {
		t.Errorf("status reply missing details: %q", response)
	}

	// the machine is back at the start, a second cycle works
	response, _ = turn(t, f, "sess-1", "check status again")
	if response != promptIDOrMobile {
		t.Errorf("expected a second status cycle, got %q", response)
	}
}

func TestFlowStatusLookupByMobile(t *testing.T) {
	f, st := newTestFlow(t, stubClassifier{}, stubGenerator{answer: "hello"})
	if _, err := st.CreateComplaint("Ravi Kumar", "9123456780", "Pothole on the main road", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	turn(t, f, "sess-1", "hi")
	turn(t, f, "sess-1", "what's the status of my complaint")
	response, _ := turn(t, f, "sess-1", "9123456780")
	if !strings.Contains(response, "Ravi Kumar") {
		t.Errorf("status reply missing details: %q", response)
	}
}

func TestFlowStatusLookupNotFound(t *testing.T) {
	f, _ := newTestFlow(t, stubClassifier{}, stubGenerator{answer: "hello"})

	turn(t, f, "sess-1", "hi")
	turn(t, f, "sess-1", "check status")
	response, _ := turn(t, f, "sess-1", "GRV999999")
	if response != notFoundReply {
		t.Errorf("expected not-found reply, got %q", response)
	}
	response, _ = turn(t, f, "sess-2", "hi")
	if response != WelcomeMessage {
		t.Errorf("unexpected reply for new session: %q", response)
	}
}

func TestFlowStatusLookupUnparseableSelector(t *testing.T) {
	f, _ := newTestFlow(t, stubClassifier{}, stubGenerator{answer: "hello"})

	turn(t, f, "sess-1", "hi")
	turn(t, f, "sess-1", "check status")
	response, _ := turn(t, f, "sess-1", "I don't remember anything")
	if response != notFoundReply {
		t.Errorf("expected not-found reply, got %q", response)
	}
}

func TestFlowGeneralQueryAnswered(t *testing.T) {
	f, _ := newTestFlow(t, stubClassifier{}, stubGenerator{answer: "Resolution usually takes a week."})

	turn(t, f, "sess-1", "hi")
	response, _ := turn(t, f, "sess-1", "how long does it take?")
	if response != "Resolution usually takes a week." {
		t.Errorf("expected generated answer, got %q", response)
	}
}

func TestFlowGeneratorFailureFallsBackToMenu(t *testing.T) {
	f, _ := newTestFlow(t, stubClassifier{}, stubGenerator{err: errors.New("service down")})

	turn(t, f, "sess-1", "hi")
	response, _ := turn(t, f, "sess-1", "how long does it take?")
	// the generator failed, the responder apologizes, and the apology is
	// replaced by the two-choice menu at the start state
	if response != menuReprompt {
		t.Errorf("expected menu reprompt, got %q", response)
	}
}

func TestFlowClassifierFailureFallsClosed(t *testing.T) {
	f, _ := newTestFlow(t, stubClassifier{err: errors.New("service down")}, stubGenerator{answer: "General answer."})

	turn(t, f, "sess-1", "hi")
	response, _ := turn(t, f, "sess-1", "register a complaint")
	// classification failed, so the turn takes the general branch instead
	if response != "General answer." {
		t.Errorf("expected general branch on classifier failure, got %q", response)
	}
}

func TestFlowApologyAnswerReplacedByMenu(t *testing.T) {
	f, _ := newTestFlow(t, stubClassifier{}, stubGenerator{answer: "I'm sorry, I cannot help with that."})

	turn(t, f, "sess-1", "hi")
	response, _ := turn(t, f, "sess-1", "tell me something")
	if response != menuReprompt {
		t.Errorf("expected menu reprompt, got %q", response)
	}
}

func TestFlowRegistrationFailureResetsCycle(t *testing.T) {
	f, st := newTestFlow(t, stubClassifier{}, stubGenerator{answer: "hello"})

	// occupy the session's link so a second promotion must conflict
	if _, err := st.CreateComplaint("Ravi Kumar", "9123456780", "Pothole on the main road", "sess-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	turn(t, f, "sess-1", "hi")
	turn(t, f, "sess-1", "register a complaint")
	turn(t, f, "sess-1", "Asha Rao")
	turn(t, f, "sess-1", "9876543210")
	response, registered := turn(t, f, "sess-1", "No water supply in my area since Monday")
	if registered {
		t.Fatal("conflicting promotion must not report success")
	}
	if response != registrationFailed {
		t.Errorf("expected registration failure reply, got %q", response)
	}

	// the machine reset to the start state, a new cycle can begin
	response, _ = turn(t, f, "sess-1", "check status")
	if response != promptIDOrMobile {
		t.Errorf("expected a fresh status cycle, got %q", response)
	}
}
