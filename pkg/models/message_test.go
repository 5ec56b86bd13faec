package models

import (
	"encoding/json"
	"testing"
)

func TestNewMixedContent_RejectsNestedMixed(t *testing.T) {
	inner, _ := NewMixedContent(NewTextContent("a"))
	if _, err := NewMixedContent(inner); err == nil {
		t.Fatal("expected error nesting mixed inside mixed")
	}
}

func TestNewMixedContent_RejectsImage(t *testing.T) {
	img := NewImageContent([]byte{1, 2, 3}, "image/png")
	if _, err := NewMixedContent(img); err == nil {
		t.Fatal("expected error embedding image inside mixed")
	}
}

func TestNewMixedContent_RejectsToolResult(t *testing.T) {
	tr := NewToolResultContent("tc_1", "shell", "ok", false)
	if _, err := NewMixedContent(tr); err == nil {
		t.Fatal("expected error embedding tool_result inside mixed")
	}
}

func TestNewMixedContent_AllowsTextAndToolCall(t *testing.T) {
	tc := NewToolCallContent("tc_1", "shell", json.RawMessage(`{"cmd":"date"}`))
	mixed, err := NewMixedContent(NewTextContent("running:"), tc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mixed.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestContent_TextOrConcat(t *testing.T) {
	tests := []struct {
		name string
		c    Content
		want string
	}{
		{"text", NewTextContent("hello"), "hello"},
		{"tool_call", NewToolCallContent("tc_1", "shell", nil), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.TextOrConcat(); got != tt.want {
				t.Errorf("TextOrConcat() = %q, want %q", got, tt.want)
			}
		})
	}

	mixed, _ := NewMixedContent(NewTextContent("a"), NewTextContent("b"))
	if got := mixed.TextOrConcat(); got != "ab" {
		t.Errorf("mixed TextOrConcat() = %q, want %q", got, "ab")
	}
}

func TestContent_ToolCalls(t *testing.T) {
	tc1 := NewToolCallContent("tc_1", "shell", nil)
	tc2 := NewToolCallContent("tc_2", "read_file", nil)
	mixed, err := NewMixedContent(NewTextContent("running two tools"), tc1, tc2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls := mixed.ToolCalls()
	if len(calls) != 2 || calls[0].ID != "tc_1" || calls[1].ID != "tc_2" {
		t.Fatalf("ToolCalls() = %+v, want [tc_1 tc_2] in order", calls)
	}
}

func TestUsage_Add(t *testing.T) {
	u := Usage{InputTokens: 10, OutputTokens: 5}
	u.Add(Usage{InputTokens: 3, OutputTokens: 7})
	if u.InputTokens != 13 || u.OutputTokens != 12 {
		t.Errorf("Add() = %+v, want {13 12}", u)
	}
	if u.Total() != 25 {
		t.Errorf("Total() = %d, want 25", u.Total())
	}
}

func TestPermissionLevel_Ordering(t *testing.T) {
	order := []PermissionLevel{PermissionRead, PermissionWrite, PermissionExecute, PermissionNetwork, PermissionAdmin}
	for i := 1; i < len(order); i++ {
		if !order[i].AtLeast(order[i-1]) {
			t.Errorf("%s should be >= %s", order[i], order[i-1])
		}
		if order[i-1].AtLeast(order[i]) {
			t.Errorf("%s should not be >= %s", order[i-1], order[i])
		}
		if order[i-1].Compare(order[i]) != -1 {
			t.Errorf("Compare(%s, %s) = %d, want -1", order[i-1], order[i], order[i-1].Compare(order[i]))
		}
	}
}

func TestSession_Append(t *testing.T) {
	s := NewSession("sess_1", "agent_1")
	before := s.UpdatedAt
	s.Append(Message{Role: RoleUser, Content: NewTextContent("hi")})
	if len(s.Messages) != 1 {
		t.Fatalf("len(Messages) = %d, want 1", len(s.Messages))
	}
	if !s.UpdatedAt.After(before) && s.UpdatedAt != before {
		t.Errorf("UpdatedAt did not advance")
	}
}

func TestSession_LastAssistantToolCalls(t *testing.T) {
	s := NewSession("sess_1", "agent_1")
	s.Append(Message{Role: RoleUser, Content: NewTextContent("run date")})
	tc := NewToolCallContent("tc_1", "shell", json.RawMessage(`{"cmd":"date"}`))
	s.Append(Message{Role: RoleAssistant, Content: tc})

	calls := s.LastAssistantToolCalls()
	if len(calls) != 1 || calls[0].ID != "tc_1" {
		t.Fatalf("LastAssistantToolCalls() = %+v", calls)
	}

	s.Append(Message{Role: RoleUser, Content: NewToolResultContent("tc_1", "shell", "ok", false)})
	if calls := s.LastAssistantToolCalls(); calls != nil {
		t.Errorf("expected nil after non-assistant last message, got %+v", calls)
	}
}

func TestPlan_HasDependencies(t *testing.T) {
	seq := Plan{Steps: []ScheduledStep{{ID: "a"}, {ID: "b"}}}
	if seq.HasDependencies() {
		t.Error("expected no dependencies")
	}
	dag := Plan{Steps: []ScheduledStep{{ID: "a"}, {ID: "b", DependsOn: []string{"a"}}}}
	if !dag.HasDependencies() {
		t.Error("expected dependencies")
	}
}

func TestPolicyDecision_AllowDeny(t *testing.T) {
	if !Allow().Allowed {
		t.Error("Allow() should be allowed")
	}
	d := Deny("permission", "insufficient rank")
	if d.Allowed {
		t.Error("Deny() should not be allowed")
	}
	if d.Layer != "permission" || d.Reason != "insufficient rank" {
		t.Errorf("Deny() = %+v", d)
	}
}
