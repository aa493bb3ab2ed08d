package storage

import (
	"context"
	"testing"
	"time"

	"github.com/careerforge/orchestrator/pkg/models"
)

func TestMemoryStore_AppendMessageAssignsOrdinals(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	conv := &models.Conversation{ID: "c1", UserID: "u1", CreatedAt: time.Now()}
	if err := s.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if err := s.CreateConversation(ctx, conv); err != ErrAlreadyExists {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}

	for i := 0; i < 3; i++ {
		msg := &models.Message{ID: string(rune('a' + i)), ConversationID: "c1", Role: models.RoleUser}
		if err := s.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	msgs, err := s.ListMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("len(msgs) = %d, want 3", len(msgs))
	}
	for i, m := range msgs {
		if m.Ordinal != i+1 {
			t.Errorf("msgs[%d].Ordinal = %d, want %d", i, m.Ordinal, i+1)
		}
	}
}

func TestMemoryStore_TraceFeedbackIsSetOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	tr := &models.Trace{ID: "t1", AgentName: "resume_reviewer"}
	if err := s.CreateTrace(ctx, tr); err != nil {
		t.Fatalf("CreateTrace: %v", err)
	}
	if err := s.SetFeedback(ctx, "t1", models.Feedback{Rating: 1}); err != nil {
		t.Fatalf("SetFeedback: %v", err)
	}
	if err := s.SetFeedback(ctx, "t1", models.Feedback{Rating: -1}); err != nil {
		t.Fatalf("SetFeedback (second): %v", err)
	}

	got, err := s.GetTrace(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTrace: %v", err)
	}
	if got.Feedback == nil || got.Feedback.Rating != 1 {
		t.Fatalf("feedback = %+v, want first recording (rating 1) retained", got.Feedback)
	}
}

func TestMemoryStore_AcquireStepHoldExcludesConcurrentHolders(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	release, ok := s.AcquireStepHold(ctx, "goal-1")
	if !ok {
		t.Fatal("expected first AcquireStepHold to succeed")
	}
	if _, ok := s.AcquireStepHold(ctx, "goal-1"); ok {
		t.Fatal("expected concurrent AcquireStepHold to fail while held")
	}
	release()
	if _, ok := s.AcquireStepHold(ctx, "goal-1"); !ok {
		t.Fatal("expected AcquireStepHold to succeed after release")
	}
}

func TestMemoryStore_ReplaceTailStepsKeepsHeadOnly(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	steps := []*models.Step{
		{ID: "s1", GoalID: "g1", Ordinal: 1, Status: models.StepCompleted},
		{ID: "s2", GoalID: "g1", Ordinal: 2, Status: models.StepCompleted},
		{ID: "s3", GoalID: "g1", Ordinal: 3, Status: models.StepPending},
	}
	if err := s.CreateSteps(ctx, steps); err != nil {
		t.Fatalf("CreateSteps: %v", err)
	}

	replacement := []*models.Step{
		{ID: "s4", GoalID: "g1", Ordinal: 3, Status: models.StepPending},
		{ID: "s5", GoalID: "g1", Ordinal: 4, Status: models.StepPending},
	}
	if err := s.ReplaceTailSteps(ctx, "g1", 2, replacement); err != nil {
		t.Fatalf("ReplaceTailSteps: %v", err)
	}

	got, err := s.ListSteps(ctx, "g1")
	if err != nil {
		t.Fatalf("ListSteps: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("len(got) = %d, want 4", len(got))
	}
	ids := []string{got[0].ID, got[1].ID, got[2].ID, got[3].ID}
	want := []string{"s1", "s2", "s4", "s5"}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("got[%d].ID = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestMemoryStore_ListNotificationsNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"n1", "n2", "n3"} {
		if err := s.CreateNotification(ctx, &models.Notification{ID: id, UserID: "u1"}); err != nil {
			t.Fatalf("CreateNotification: %v", err)
		}
	}

	got, err := s.ListNotifications(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].ID != "n3" || got[1].ID != "n2" {
		t.Fatalf("got ids = [%s %s], want [n3 n2]", got[0].ID, got[1].ID)
	}
}
