package store

import "github.com/CivicStack/GrievanceFlow/internal/models"

// defaultKnowledgeBase returns the seed Q&A rows inserted when the knowledge
// base table is empty. Insertion order matters: it is the tie-breaker for
// search ranking.
func defaultKnowledgeBase() []models.KnowledgeEntry {
	return []models.KnowledgeEntry{
		{
			Question: "How to register a complaint?",
			Answer:   "You can register a complaint by providing your name, mobile number, and complaint details. I'll help you through the process.",
			Category: "general",
		},
		{
			Question: "How to check complaint status?",
			Answer:   "You can check your complaint status by asking 'What's the status of my complaint?' I'll identify you and provide the current status.",
			Category: "status",
		},
		{
			Question: "What information is needed for complaint?",
			Answer:   "For registering a complaint, I need your full name, mobile number, and detailed description of your issue.",
			Category: "registration",
		},
		{
			Question: "How long does it take to resolve?",
			Answer:   "Resolution time varies based on the complexity of the issue. You'll receive updates on the status.",
			Category: "general",
		},
		{
			Question: "Can I update my complaint?",
			Answer:   "Once submitted, complaints are processed by our team. For updates, please provide your complaint ID.",
			Category: "general",
		},
	}
}
