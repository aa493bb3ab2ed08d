package career

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/careerforge/orchestrator/internal/observability"
)

func TestSearchJobsTool_FiltersByQueryLocationAndRemote(t *testing.T) {
	board := NewFixtureBoard("fixture", []Listing{
		{Title: "Senior Backend Engineer", Company: "Acme", Location: "Remote", Remote: true},
		{Title: "Backend Engineer", Company: "Globex", Location: "New York, NY", Remote: false},
		{Title: "Frontend Engineer", Company: "Initech", Location: "Remote", Remote: true},
	})
	tool := NewSearchJobsTool(board)

	args, _ := json.Marshal(map[string]any{"query": "backend", "remote_only": true})
	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !result.OK {
		t.Fatalf("result not OK: %s", result.Data)
	}

	var parsed struct {
		Listings []Listing `json:"listings"`
		Count    int       `json:"count"`
	}
	if err := json.Unmarshal(result.Data, &parsed); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if parsed.Count != 1 || parsed.Listings[0].Company != "Acme" {
		t.Errorf("parsed = %+v, want 1 remote backend listing from Acme", parsed)
	}
}

func TestSearchJobsTool_EmptyQueryIsRejected(t *testing.T) {
	tool := NewSearchJobsTool(NewFixtureBoard("fixture", nil))
	args, _ := json.Marshal(map[string]any{"query": ""})

	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if result.OK || result.ErrorKind != "invalid_args" {
		t.Errorf("result = %+v, want invalid_args rejection", result)
	}
}

func TestAnalyzeResumeTool_FlagsMissingKeywordsAndFormatting(t *testing.T) {
	tool := NewAnalyzeResumeTool()
	args, _ := json.Marshal(map[string]any{
		"resume_text": "I worked at a company doing various software tasks for several years across multiple projects and teams in a fast paced environment building internal tools.",
		"target_role": "kubernetes golang distributed systems",
	})

	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !result.OK {
		t.Fatalf("result not OK: %s", result.Data)
	}

	var parsed struct {
		MatchScore      float64  `json:"match_score"`
		MissingKeywords []string `json:"missing_keywords"`
		Issues          []string `json:"issues"`
	}
	if err := json.Unmarshal(result.Data, &parsed); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if parsed.MatchScore != 0 {
		t.Errorf("match_score = %v, want 0 (no keywords present)", parsed.MatchScore)
	}
	if len(parsed.MissingKeywords) != 3 {
		t.Errorf("missing_keywords = %v, want all 3 keywords", parsed.MissingKeywords)
	}
	if len(parsed.Issues) == 0 {
		t.Error("expected at least one formatting issue (no bullet points)")
	}
}

func TestAnalyzeResumeTool_RequiresBothFields(t *testing.T) {
	tool := NewAnalyzeResumeTool()

	args, _ := json.Marshal(map[string]any{"resume_text": "", "target_role": "engineer"})
	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if result.OK {
		t.Error("expected rejection for empty resume_text")
	}
}

func TestResearchCompanyTool_ReturnsKnownProfile(t *testing.T) {
	dir := NewMapDirectory([]CompanyProfile{
		{Name: "Acme", Industry: "Logistics", Size: "1000-5000", Glassdoor: 4.1},
	})
	tool := NewResearchCompanyTool(dir)

	args, _ := json.Marshal(map[string]any{"company_name": "acme"})
	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !result.OK {
		t.Fatalf("result not OK: %s", result.Data)
	}

	var parsed struct {
		Found   bool           `json:"found"`
		Profile CompanyProfile `json:"profile"`
	}
	if err := json.Unmarshal(result.Data, &parsed); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !parsed.Found || parsed.Profile.Industry != "Logistics" {
		t.Errorf("parsed = %+v, want found Acme profile", parsed)
	}
}

func TestResearchCompanyTool_UnknownCompanyReturnsFoundFalse(t *testing.T) {
	tool := NewResearchCompanyTool(NewMapDirectory(nil))
	args, _ := json.Marshal(map[string]any{"company_name": "Nonexistent Corp"})

	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !result.OK {
		t.Fatalf("result not OK: %s", result.Data)
	}
	var parsed struct {
		Found bool `json:"found"`
	}
	if err := json.Unmarshal(result.Data, &parsed); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if parsed.Found {
		t.Error("expected found=false for an unknown company")
	}
}

func TestDraftOutreachTool_RendersTemplateByPurpose(t *testing.T) {
	tool := NewDraftOutreachTool()
	args, _ := json.Marshal(map[string]any{
		"recipient_name": "Jordan",
		"company_name":   "Acme",
		"purpose":        "referral_ask",
		"sender_name":    "Sam",
	})

	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !result.OK {
		t.Fatalf("result not OK: %s", result.Data)
	}

	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(result.Data, &parsed); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !strings.Contains(parsed.Message, "Jordan") || !strings.Contains(parsed.Message, "Sam") || !strings.Contains(parsed.Message, "Acme") {
		t.Errorf("message = %q, want it to mention recipient, sender, and company", parsed.Message)
	}
}

func TestDraftOutreachTool_RejectsUnknownPurpose(t *testing.T) {
	tool := NewDraftOutreachTool()
	args, _ := json.Marshal(map[string]any{
		"recipient_name": "Jordan",
		"purpose":        "unknown_purpose",
		"sender_name":    "Sam",
	})

	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if result.OK {
		t.Error("expected rejection for an unknown purpose")
	}
}

func TestFetchApplicationStatusTool_FiltersByCompanyForCallingUser(t *testing.T) {
	tracker := NewMapTracker()
	tracker.Record("u1", Application{Company: "Acme", Role: "Engineer", Stage: "phone_screen"})
	tracker.Record("u1", Application{Company: "Globex", Role: "Engineer", Stage: "applied"})
	tracker.Record("u2", Application{Company: "Initech", Role: "Engineer", Stage: "offer"})
	tool := NewFetchApplicationStatusTool(tracker)

	ctx := context.WithValue(context.Background(), observability.UserIDKey, "u1")
	args, _ := json.Marshal(map[string]any{"company_name": "acme"})

	result, err := tool.Execute(ctx, args)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !result.OK {
		t.Fatalf("result not OK: %s", result.Data)
	}

	var parsed struct {
		Applications []Application `json:"applications"`
		Count        int            `json:"count"`
	}
	if err := json.Unmarshal(result.Data, &parsed); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if parsed.Count != 1 || parsed.Applications[0].Stage != "phone_screen" {
		t.Errorf("parsed = %+v, want 1 Acme application in phone_screen", parsed)
	}
}

func TestFetchApplicationStatusTool_NoUserInContextIsRejected(t *testing.T) {
	tool := NewFetchApplicationStatusTool(NewMapTracker())
	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if result.OK {
		t.Error("expected rejection when no user id is present in context")
	}
}
