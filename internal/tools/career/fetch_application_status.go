package career

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/careerforge/orchestrator/internal/agent"
	"github.com/careerforge/orchestrator/internal/observability"
	"github.com/careerforge/orchestrator/pkg/models"
)

func userIDFromContext(ctx context.Context) string {
	if userID, ok := ctx.Value(observability.UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// Application is one tracked job application's current state.
type Application struct {
	Company     string    `json:"company"`
	Role        string    `json:"role"`
	Stage       string    `json:"stage"` // e.g. applied, phone_screen, onsite, offer, rejected
	LastUpdated time.Time `json:"last_updated"`
	Notes       string    `json:"notes,omitempty"`
}

// ApplicationTracker records and looks up Applications by user and company.
// A production deployment would back this with the same Store the rest of
// the system uses; the in-memory MapTracker below is the default wiring.
type ApplicationTracker interface {
	Applications(ctx context.Context, userID string) ([]Application, error)
}

// MapTracker is an in-memory, concurrency-safe ApplicationTracker.
type MapTracker struct {
	mu   sync.RWMutex
	apps map[string][]Application // userID -> applications
}

func NewMapTracker() *MapTracker {
	return &MapTracker{apps: make(map[string][]Application)}
}

// Record upserts an Application for userID, matching on company+role.
func (m *MapTracker) Record(userID string, app Application) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.apps[userID]
	for i, existing := range list {
		if strings.EqualFold(existing.Company, app.Company) && strings.EqualFold(existing.Role, app.Role) {
			list[i] = app
			return
		}
	}
	m.apps[userID] = append(list, app)
}

func (m *MapTracker) Applications(ctx context.Context, userID string) ([]Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Application, len(m.apps[userID]))
	copy(out, m.apps[userID])
	return out, nil
}

// FetchApplicationStatusTool reports a user's tracked application states,
// optionally filtered to a single company.
type FetchApplicationStatusTool struct {
	tracker ApplicationTracker
}

func NewFetchApplicationStatusTool(tracker ApplicationTracker) *FetchApplicationStatusTool {
	return &FetchApplicationStatusTool{tracker: tracker}
}

func (t *FetchApplicationStatusTool) Name() string        { return "fetch_application_status" }
func (t *FetchApplicationStatusTool) Kind() agent.ToolKind { return agent.ToolReadOnly }
func (t *FetchApplicationStatusTool) Idempotent() bool     { return true }

func (t *FetchApplicationStatusTool) Description() string {
	return "Fetch the current stage of the user's tracked job applications, optionally filtered to one company."
}

func (t *FetchApplicationStatusTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"company_name": {"type": "string", "description": "Restrict results to this company; omit for all tracked applications"}
		}
	}`)
}

type fetchApplicationStatusInput struct {
	CompanyName string `json:"company_name"`
}

func (t *FetchApplicationStatusTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	start := time.Now()
	var in fetchApplicationStatusInput
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, fmt.Errorf("parse input: %w", err)
		}
	}
	if t.tracker == nil {
		return errorResult("no application tracker configured", start), nil
	}

	userID := userIDFromContext(ctx)
	if userID == "" {
		return errorResult("no user in context", start), nil
	}

	apps, err := t.tracker.Applications(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch applications: %w", err)
	}
	if in.CompanyName != "" {
		var filtered []Application
		for _, a := range apps {
			if strings.EqualFold(a.Company, in.CompanyName) {
				filtered = append(filtered, a)
			}
		}
		apps = filtered
	}

	data, err := json.Marshal(map[string]any{"applications": apps, "count": len(apps)})
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &models.ToolResult{OK: true, Data: data, Latency: time.Since(start)}, nil
}
