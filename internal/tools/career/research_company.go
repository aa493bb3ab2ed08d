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

// CompanyProfile is a company's known facts as a ResearchCompanyTool returns
// them.
type CompanyProfile struct {
	Name      string   `json:"name"`
	Industry  string   `json:"industry"`
	Size      string   `json:"size"`
	Culture   []string `json:"culture_notes"`
	Glassdoor float64  `json:"glassdoor_rating"`
}

// CompanyDirectory supplies CompanyProfiles. The default wiring is a small
// in-memory directory; a real deployment would back this with whatever data
// provider the operator licenses.
type CompanyDirectory interface {
	Lookup(ctx context.Context, name string) (*CompanyProfile, bool, error)
}

// MapDirectory is a deterministic in-memory CompanyDirectory keyed by
// lowercased company name.
type MapDirectory struct {
	profiles map[string]CompanyProfile
}

func NewMapDirectory(profiles []CompanyProfile) *MapDirectory {
	m := make(map[string]CompanyProfile, len(profiles))
	for _, p := range profiles {
		m[strings.ToLower(p.Name)] = p
	}
	return &MapDirectory{profiles: m}
}

func (d *MapDirectory) Lookup(ctx context.Context, name string) (*CompanyProfile, bool, error) {
	p, ok := d.profiles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, false, nil
	}
	return &p, true, nil
}

// ResearchCompanyTool looks up what's known about a company.
type ResearchCompanyTool struct {
	directory CompanyDirectory
}

func NewResearchCompanyTool(directory CompanyDirectory) *ResearchCompanyTool {
	return &ResearchCompanyTool{directory: directory}
}

func (t *ResearchCompanyTool) Name() string        { return "research_company" }
func (t *ResearchCompanyTool) Kind() agent.ToolKind { return agent.ToolReadOnly }
func (t *ResearchCompanyTool) Idempotent() bool     { return true }

func (t *ResearchCompanyTool) Description() string {
	return "Look up known facts about a company: industry, size, culture notes, and rating."
}

func (t *ResearchCompanyTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"company_name": {"type": "string", "description": "Company to research"}
		},
		"required": ["company_name"]
	}`)
}

type researchCompanyInput struct {
	CompanyName string `json:"company_name"`
}

func (t *ResearchCompanyTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	start := time.Now()
	var in researchCompanyInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	if strings.TrimSpace(in.CompanyName) == "" {
		return errorResult("company_name is required", start), nil
	}
	if t.directory == nil {
		return errorResult("no company directory configured", start), nil
	}

	profile, found, err := t.directory.Lookup(ctx, in.CompanyName)
	if err != nil {
		return nil, fmt.Errorf("lookup company: %w", err)
	}
	if !found {
		data, _ := json.Marshal(map[string]any{"found": false, "company_name": in.CompanyName})
		return &models.ToolResult{OK: true, Data: data, Latency: time.Since(start)}, nil
	}

	data, err := json.Marshal(map[string]any{"found": true, "profile": profile})
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &models.ToolResult{OK: true, Data: data, Latency: time.Since(start)}, nil
}
