package responder

import (
	"context"
	"log/slog"
	"strings"
)

// SensitiveReply is what the visitor hears instead of a generated answer
// when the message touches a sensitive topic.
const SensitiveReply = "I can't provide a response. I will connect you with a human agent regarding the query."

type category struct {
	name     string
	keywords []string
}

// Order matters: the first matching category wins.
var sensitiveCategories = []category{
	{"Financial & Business Information", []string{"revenue", "profit margin", "financial statements", "valuation", "charges", "cost"}},
	{"Legal & Compliance Issues", []string{"lawsuit", "court order", "policy violation", "nda"}},
	{"Employee & HR Data", []string{"salary", "compensation", "benefits", "layoffs"}},
	{"Security & Data Breach", []string{"cyber attack", "hacked", "data breach", "password leak"}},
	{"Negative Reputation & Crisis Management", []string{"scandal", "fraud", "public backlash", "ceo resignation"}},
	{"Competitive & Confidential Information", []string{"competitor strategy", "pricing model", "business secrets"}},
	{"Unethical or Illegal Activities", []string{"bribery", "corruption", "money laundering", "insider trading"}},
	{"Fraudulent & Phishing Attempts", []string{"fake refund", "payment dispute", "unauthorized transaction"}},
	{"Workplace Culture & Ethics", []string{"work-life balance", "employee burnout", "toxic culture"}},
	{"Political & Social Issues", []string{"government policy", "human rights", "labor rights"}},
}

// DetectSensitive returns the first sensitive category text falls into.
func DetectSensitive(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, c := range sensitiveCategories {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				return c.name, true
			}
		}
	}
	return "", false
}

// Guard short-circuits sensitive messages with SensitiveReply and forwards
// everything else to Next.
type Guard struct {
	Next Responder
}

func (g Guard) Respond(ctx context.Context, req Request) (string, error) {
	if cat, ok := DetectSensitive(req.Text); ok {
		slog.Info("sensitive query intercepted", "room", req.RoomID, "category", cat)
		return SensitiveReply, nil
	}
	return g.Next.Respond(ctx, req)
}
