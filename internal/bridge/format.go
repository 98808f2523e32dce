package bridge

import (
	"fmt"

	"github.com/zulandar/toxbot/internal/chat"
)

const (
	// BrandColor is the accent used on every bridge card.
	BrandColor = "#83b670"

	replyFooter = "Reply to this message to respond to the user"
	// originalSnippetLen bounds the prior-feedback field on relayed cards.
	originalSnippetLen = 200
)

// newFeedbackMessage is the card an admin receives when a user submits
// feedback.
func newFeedbackMessage(userID, userName, content string) chat.OutboundMessage {
	return chat.OutboundMessage{
		Events: []chat.FormattedEvent{{
			Title: "📝 New Feedback",
			Body:  content,
			Color: BrandColor,
			Fields: []chat.Field{
				{Name: "User", Value: userLabel(userID, userName), Short: true},
			},
			Footer: replyFooter,
		}},
	}
}

// feedbackReceipt is the confirmation DM the submitting user receives.
func feedbackReceipt(content string) chat.OutboundMessage {
	return chat.OutboundMessage{
		Text: "✅ Thank you for your feedback! A developer may reply to you here.",
		Events: []chat.FormattedEvent{{
			Title: "📝 Your Feedback",
			Body:  content,
			Color: BrandColor,
		}},
	}
}

// adminReplyMessage carries an admin's reply to the user.
func adminReplyMessage(content string) chat.OutboundMessage {
	return chat.OutboundMessage{
		Events: []chat.FormattedEvent{{
			Title: "💬 Response from Developer",
			Body:  content,
			Color: BrandColor,
		}},
	}
}

// userRelayMessage carries a user's follow-up to one admin, with the
// previous feedback snapshot for context.
func userRelayMessage(userID, userName, content, previous string) chat.OutboundMessage {
	return chat.OutboundMessage{
		Events: []chat.FormattedEvent{{
			Title: "💬 Reply from " + userName,
			Body:  content,
			Color: BrandColor,
			Fields: []chat.Field{
				{Name: "User", Value: userLabel(userID, userName), Short: true},
				{Name: "Original Feedback", Value: truncate(previous, originalSnippetLen)},
			},
			Footer: replyFooter,
		}},
	}
}

func userLabel(userID, userName string) string {
	return fmt.Sprintf("%s (%s)", userName, userID)
}

// truncate shortens s to at most max runes, marking the cut with "...".
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
