// Package classifier implements the deterministic escalation-trigger engine.
// Rules are evaluated in a fixed order and the first match wins; that ordering
// is part of the pipeline's contract and must not be rearranged.
package classifier

import (
	"strings"

	"github.com/spec-kit/support-pipeline/internal/domain"
)

// Sentiment thresholds supplied by the upstream reasoning engine.
const (
	SentimentEscalateBelow = 0.3
	SentimentUrgentBelow   = 0.2
)

// Result is the classification outcome for one message.
type Result struct {
	Escalate bool
	Reason   domain.EscalationReason
	Priority domain.TicketPriority
}

// rule pairs an escalation category with its phrase list and priority.
type rule struct {
	reason   domain.EscalationReason
	priority domain.TicketPriority
	phrases  []string
}

// rules is evaluated top to bottom; pricing is checked before refund, refund
// before legal, and so on.
var rules = []rule{
	{
		reason:   domain.ReasonPricingInquiry,
		priority: domain.TicketPriorityHigh,
		phrases: []string{
			"pricing", "how much", "cost", "price", "quote", "rate", "fee",
			"charge", "payment plan",
		},
	},
	{
		reason:   domain.ReasonRefundRequest,
		priority: domain.TicketPriorityHigh,
		phrases: []string{
			"refund", "money back", "cancel subscription", "charge back",
			"return payment", "reimbursement",
		},
	},
	{
		reason:   domain.ReasonLegalMatter,
		priority: domain.TicketPriorityUrgent,
		phrases: []string{
			"lawyer", "legal", "sue", "attorney", "litigation", "lawsuit",
			"legal action", "court",
		},
	},
	{
		reason:   domain.ReasonAggressiveTone,
		priority: domain.TicketPriorityHigh,
		phrases: []string{
			"damn", "hell", "crap", "shit", "fuck", "ass", "bitch", "bastard",
			"stupid", "idiotic", "useless", "worthless", "pathetic",
			"incompetent", "garbage", "trash",
		},
	},
	{
		reason:   domain.ReasonHumanRequest,
		priority: domain.TicketPriorityHigh,
		phrases: []string{
			"talk to human", "speak to person", "human agent", "real person",
			"representative", "talk to someone", "human", "agent", "operator",
			"support team",
		},
	},
}

// Classify evaluates the keyword rules against the message text.
// Matching is case-insensitive substring matching.
func Classify(text string) Result {
	lowered := strings.ToLower(text)
	for _, r := range rules {
		for _, phrase := range r.phrases {
			if strings.Contains(lowered, phrase) {
				return Result{Escalate: true, Reason: r.reason, Priority: r.priority}
			}
		}
	}
	return Result{Escalate: false, Priority: domain.TicketPriorityMedium}
}

// ClassifyWithSentiment runs the keyword rules and then ORs in the external
// sentiment signal. A nil sentiment means no signal was supplied. A keyword
// match keeps its reason; sentiment can only raise the priority. Without a
// keyword match, sufficiently negative sentiment escalates on its own.
func ClassifyWithSentiment(text string, sentiment *float64) Result {
	result := Classify(text)
	if sentiment == nil {
		return result
	}

	switch {
	case *sentiment < SentimentUrgentBelow:
		if !result.Escalate {
			result.Reason = domain.ReasonNegativeSentiment
		}
		result.Escalate = true
		result.Priority = domain.TicketPriorityUrgent
	case *sentiment < SentimentEscalateBelow:
		if !result.Escalate {
			result.Reason = domain.ReasonNegativeSentiment
			result.Priority = domain.TicketPriorityHigh
		}
		result.Escalate = true
		if priorityRank(result.Priority) < priorityRank(domain.TicketPriorityHigh) {
			result.Priority = domain.TicketPriorityHigh
		}
	}
	return result
}

func priorityRank(p domain.TicketPriority) int {
	switch p {
	case domain.TicketPriorityLow:
		return 0
	case domain.TicketPriorityMedium:
		return 1
	case domain.TicketPriorityHigh:
		return 2
	case domain.TicketPriorityUrgent:
		return 3
	}
	return 1
}
