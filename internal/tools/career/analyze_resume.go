package career

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/careerforge/orchestrator/internal/agent"
	"github.com/careerforge/orchestrator/pkg/models"
)

// AnalyzeResumeTool scores a resume's text against a target role, flagging
// missing keywords and common formatting issues without any external
// dependency — a deterministic heuristic, not an ML model.
type AnalyzeResumeTool struct{}

func NewAnalyzeResumeTool() *AnalyzeResumeTool { return &AnalyzeResumeTool{} }

func (t *AnalyzeResumeTool) Name() string        { return "analyze_resume" }
func (t *AnalyzeResumeTool) Kind() agent.ToolKind { return agent.ToolReadOnly }
func (t *AnalyzeResumeTool) Idempotent() bool     { return true }

func (t *AnalyzeResumeTool) Description() string {
	return "Analyze resume text against a target role, surfacing missing keywords and formatting issues."
}

func (t *AnalyzeResumeTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"resume_text": {"type": "string", "description": "Full plain-text resume content"},
			"target_role": {"type": "string", "description": "Role or keywords the resume should match"}
		},
		"required": ["resume_text", "target_role"]
	}`)
}

type analyzeResumeInput struct {
	ResumeText string `json:"resume_text"`
	TargetRole string `json:"target_role"`
}

var bulletLine = regexp.MustCompile(`(?m)^\s*[-*•]\s+`)
var quantifierPattern = regexp.MustCompile(`\d`)

func (t *AnalyzeResumeTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	start := time.Now()
	var in analyzeResumeInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	if strings.TrimSpace(in.ResumeText) == "" {
		return errorResult("resume_text is required", start), nil
	}
	if strings.TrimSpace(in.TargetRole) == "" {
		return errorResult("target_role is required", start), nil
	}

	lowerResume := strings.ToLower(in.ResumeText)
	keywords := roleKeywords(in.TargetRole)
	var missing []string
	for _, kw := range keywords {
		if !strings.Contains(lowerResume, kw) {
			missing = append(missing, kw)
		}
	}

	var issues []string
	bullets := bulletLine.FindAllString(in.ResumeText, -1)
	if len(bullets) == 0 {
		issues = append(issues, "no bullet points detected; prefer bulleted accomplishments over paragraphs")
	}
	quantified := 0
	for _, line := range strings.Split(in.ResumeText, "\n") {
		if bulletLine.MatchString(line) && quantifierPattern.MatchString(line) {
			quantified++
		}
	}
	if len(bullets) > 0 && quantified == 0 {
		issues = append(issues, "no bullet contains a number; quantify impact where possible")
	}
	if len(strings.Fields(in.ResumeText)) < 50 {
		issues = append(issues, "resume text looks too short for a meaningful review")
	}

	score := 1.0
	if len(keywords) > 0 {
		score = float64(len(keywords)-len(missing)) / float64(len(keywords))
	}

	data, err := json.Marshal(map[string]any{
		"match_score":      score,
		"missing_keywords": missing,
		"issues":           issues,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &models.ToolResult{OK: true, Data: data, Latency: time.Since(start)}, nil
}

func roleKeywords(role string) []string {
	fields := strings.Fields(strings.ToLower(role))
	seen := make(map[string]bool)
	var out []string
	for _, f := range fields {
		f = strings.Trim(f, ",.()")
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
