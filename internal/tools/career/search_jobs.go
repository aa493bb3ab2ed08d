// Package career exposes the career-domain tools the built-in agent roster
// calls: searching listings, critiquing resumes, drafting outreach,
// researching companies, and checking an application's status.
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

// Listing is one job opening a job board returns.
type Listing struct {
	Board    JobBoard
	Title    string
	Company  string
	Location string
	Remote   bool
	URL      string
}

// JobBoard is the source a SearchJobsTool queries. A production deployment
// wires one JobBoard per real listings API; tests and the default wiring use
// an in-memory board seeded with fixture listings.
type JobBoard interface {
	Name() string
	Search(ctx context.Context, query, location string, remoteOnly bool) ([]Listing, error)
}

// SearchJobsTool searches every configured JobBoard and merges results.
type SearchJobsTool struct {
	boards []JobBoard
}

func NewSearchJobsTool(boards ...JobBoard) *SearchJobsTool {
	return &SearchJobsTool{boards: boards}
}

func (t *SearchJobsTool) Name() string        { return "search_jobs" }
func (t *SearchJobsTool) Kind() agent.ToolKind { return agent.ToolReadOnly }
func (t *SearchJobsTool) Idempotent() bool     { return true }

func (t *SearchJobsTool) Description() string {
	return "Search configured job boards for openings matching a query, optional location, and remote preference."
}

func (t *SearchJobsTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Role, title, or skill to search for"},
			"location": {"type": "string", "description": "City, region, or country to filter by"},
			"remote_only": {"type": "boolean", "description": "Restrict results to remote-eligible listings"}
		},
		"required": ["query"]
	}`)
}

type searchJobsInput struct {
	Query      string `json:"query"`
	Location   string `json:"location"`
	RemoteOnly bool   `json:"remote_only"`
}

func (t *SearchJobsTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	start := time.Now()
	var in searchJobsInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	if strings.TrimSpace(in.Query) == "" {
		return errorResult("query is required", start), nil
	}
	if len(t.boards) == 0 {
		return errorResult("no job boards configured", start), nil
	}

	var listings []Listing
	for _, b := range t.boards {
		found, err := b.Search(ctx, in.Query, in.Location, in.RemoteOnly)
		if err != nil {
			continue // one board's outage doesn't fail the whole search
		}
		listings = append(listings, found...)
	}

	data, err := json.Marshal(map[string]any{"listings": listings, "count": len(listings)})
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &models.ToolResult{OK: true, Data: data, Latency: time.Since(start)}, nil
}

// FixtureBoard is a deterministic in-memory JobBoard, the default wiring
// when no live listings API is configured.
type FixtureBoard struct {
	name     string
	listings []Listing
}

func NewFixtureBoard(name string, listings []Listing) *FixtureBoard {
	return &FixtureBoard{name: name, listings: listings}
}

func (b *FixtureBoard) Name() string { return b.name }

func (b *FixtureBoard) Search(ctx context.Context, query, location string, remoteOnly bool) ([]Listing, error) {
	query = strings.ToLower(query)
	location = strings.ToLower(location)
	var out []Listing
	for _, l := range b.listings {
		if !strings.Contains(strings.ToLower(l.Title), query) {
			continue
		}
		if location != "" && !strings.Contains(strings.ToLower(l.Location), location) {
			continue
		}
		if remoteOnly && !l.Remote {
			continue
		}
		l.Board = b
		out = append(out, l)
	}
	return out, nil
}

func errorResult(msg string, start time.Time) *models.ToolResult {
	data, _ := json.Marshal(map[string]any{"message": msg})
	return &models.ToolResult{OK: false, Data: data, ErrorKind: "invalid_args", Latency: time.Since(start)}
}
