package main

import (
	"testing"

	"github.com/careerforge/orchestrator/internal/observability"
)

func TestBuildToolRegistryRegistersCareerTools(t *testing.T) {
	logger := observability.NewLogger(observability.LogConfig{Level: "error", Format: "text"})
	reg := buildToolRegistry(logger)

	want := []string{"search_jobs", "analyze_resume", "research_company", "draft_outreach", "fetch_application_status"}
	tools := reg.AsLLMTools()
	if len(tools) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(tools))
	}
	for _, name := range want {
		if _, ok := reg.Get(name); !ok {
			t.Fatalf("expected tool %q to be registered", name)
		}
	}
}
