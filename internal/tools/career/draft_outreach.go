package career

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/careerforge/orchestrator/internal/agent"
	"github.com/careerforge/orchestrator/pkg/models"
)

// DraftOutreachTool composes a short outreach message from a template. It
// never sends anything; it only returns drafted text for the caller to
// review.
type DraftOutreachTool struct{}

func NewDraftOutreachTool() *DraftOutreachTool { return &DraftOutreachTool{} }

func (t *DraftOutreachTool) Name() string        { return "draft_outreach" }
func (t *DraftOutreachTool) Kind() agent.ToolKind { return agent.ToolReadOnly }
func (t *DraftOutreachTool) Idempotent() bool     { return true }

func (t *DraftOutreachTool) Description() string {
	return "Draft a short outreach message (recruiter note, referral ask, or follow-up) from a template. Does not send anything."
}

func (t *DraftOutreachTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"recipient_name": {"type": "string"},
			"recipient_role": {"type": "string", "description": "e.g. recruiter, hiring manager, former colleague"},
			"company_name": {"type": "string"},
			"purpose": {"type": "string", "enum": ["cold_outreach", "referral_ask", "follow_up", "thank_you"]},
			"sender_name": {"type": "string"},
			"context": {"type": "string", "description": "Any detail to weave in, e.g. the role title or a shared connection"}
		},
		"required": ["recipient_name", "purpose", "sender_name"]
	}`)
}

type draftOutreachInput struct {
	RecipientName string `json:"recipient_name"`
	RecipientRole string `json:"recipient_role"`
	CompanyName   string `json:"company_name"`
	Purpose       string `json:"purpose"`
	SenderName    string `json:"sender_name"`
	Context       string `json:"context"`
}

var outreachTemplates = map[string]string{
	"cold_outreach": "Hi %s,\n\nI'm reaching out because I'm interested in opportunities%s. %s\n\nWould you be open to a short conversation?\n\nBest,\n%s",
	"referral_ask":  "Hi %s,\n\nI hope you're doing well. I'm applying%s and wondered if you'd be willing to refer me or share any advice. %s\n\nThanks so much,\n%s",
	"follow_up":     "Hi %s,\n\nFollowing up on my earlier note%s. %s\n\nI'd appreciate any update when you have a moment.\n\nBest,\n%s",
	"thank_you":     "Hi %s,\n\nThank you for taking the time to speak with me%s. %s\n\nLooking forward to staying in touch.\n\nBest,\n%s",
}

func (t *DraftOutreachTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	start := time.Now()
	var in draftOutreachInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	if strings.TrimSpace(in.RecipientName) == "" {
		return errorResult("recipient_name is required", start), nil
	}
	if strings.TrimSpace(in.SenderName) == "" {
		return errorResult("sender_name is required", start), nil
	}
	template, ok := outreachTemplates[in.Purpose]
	if !ok {
		return errorResult(fmt.Sprintf("unknown purpose %q", in.Purpose), start), nil
	}

	at := ""
	if in.CompanyName != "" {
		at = " at " + in.CompanyName
	}
	context := in.Context
	if context == "" {
		context = "I'd love to learn more about the team and how I might contribute."
	}
	message := fmt.Sprintf(template, in.RecipientName, at, context, in.SenderName)

	data, err := json.Marshal(map[string]any{"message": message, "purpose": in.Purpose})
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &models.ToolResult{OK: true, Data: data, Latency: time.Since(start)}, nil
}
