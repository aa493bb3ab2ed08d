package models

import "testing"

func TestRoleConstants(t *testing.T) {
	tests := []struct {
		role Role
		want string
	}{
		{RoleUser, "user"},
		{RoleAssistant, "assistant"},
	}
	for _, tt := range tests {
		if string(tt.role) != tt.want {
			t.Errorf("role = %q, want %q", tt.role, tt.want)
		}
	}
}

func TestToolResultEnvelope(t *testing.T) {
	r := ToolResult{OK: true, Data: []byte(`{"count":3}`)}
	if !r.OK {
		t.Fatal("expected OK result")
	}
	if r.ErrorKind != "" {
		t.Fatalf("unexpected error kind on success: %q", r.ErrorKind)
	}
}
