package flow

import (
	"context"
	"log/slog"
	"strings"

	"github.com/CivicStack/GrievanceFlow/internal/store"
)

// FallbackApology is the deterministic reply used whenever the external
// answer service fails or produces nothing usable.
const FallbackApology = "I apologize, but I'm having trouble processing your request right now. Please try again."

// AnswerGenerator is the open-domain half of the external collaborator.
type AnswerGenerator interface {
	Answer(ctx context.Context, utterance, knowledgeContext string) (string, error)
}

// KnowledgeResponder answers general queries by feeding knowledge base
// matches to the external answer service.
type KnowledgeResponder struct {
	st  store.Store
	gen AnswerGenerator
}

// NewKnowledgeResponder creates a responder over the given store and generator.
func NewKnowledgeResponder(st store.Store, gen AnswerGenerator) *KnowledgeResponder {
	return &KnowledgeResponder{st: st, gen: gen}
}

// Respond produces an answer for a general query. Every failure path ends at
// FallbackApology; this method never errors.
func (r *KnowledgeResponder) Respond(ctx context.Context, query string) string {
	var knowledgeContext strings.Builder
	entries, err := r.st.SearchKnowledgeBase(query)
	if err != nil {
		slog.Warn("KnowledgeResponder: knowledge search failed, answering without context", "error", err)
	}
	for _, e := range entries {
		knowledgeContext.WriteString("Q: " + e.Question + "\nA: " + e.Answer + "\n\n")
	}

	answer, err := r.gen.Answer(ctx, query, knowledgeContext.String())
	if err != nil || strings.TrimSpace(answer) == "" {
		return FallbackApology
	}
	return answer
}

// looksLikeApology reports whether a generated answer reads as a failure
// response rather than a real answer.
func looksLikeApology(answer string) bool {
	lower := strings.ToLower(answer)
	return strings.Contains(lower, "i apologize") || strings.Contains(lower, "i'm sorry") || strings.Contains(lower, "i am sorry")
}
