package push

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/careerforge/orchestrator/internal/config"
	"github.com/careerforge/orchestrator/pkg/models"
)

func validAuth(userID string) func(string) (string, error) {
	return func(proof string) (string, error) {
		if proof != "valid-"+userID {
			return "", errors.New("bad proof")
		}
		return userID, nil
	}
}

func testConfig() config.PushConfig {
	return config.PushConfig{SubscriptionQueueSize: 4, PingInterval: 50 * time.Millisecond, PongWait: 200 * time.Millisecond}
}

func TestFabric_SubscribeRejectsBadProof(t *testing.T) {
	f := New(testConfig(), nil, nil)
	_, err := f.Subscribe(context.Background(), "wrong", validAuth("user-1"))
	if err == nil {
		t.Fatal("expected an error for an invalid auth_proof")
	}
}

func TestFabric_PublishDeliversOnlyToBoundUser(t *testing.T) {
	f := New(testConfig(), nil, nil)

	subA, err := f.Subscribe(context.Background(), "valid-user-a", validAuth("user-a"))
	if err != nil {
		t.Fatalf("Subscribe user-a: %v", err)
	}
	subB, err := f.Subscribe(context.Background(), "valid-user-b", validAuth("user-b"))
	if err != nil {
		t.Fatalf("Subscribe user-b: %v", err)
	}

	f.Publish(context.Background(), models.NewEvent("user-a", models.EventContent, map[string]any{"text": "hi"}))

	select {
	case data := <-subA.Recv():
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		if frame.Seq != 1 {
			t.Errorf("Seq = %d, want 1", frame.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("user-a never received the event")
	}

	select {
	case <-subB.Recv():
		t.Fatal("user-b received an event targeted at user-a")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFabric_PublishSeqStrictlyIncreasing(t *testing.T) {
	f := New(testConfig(), nil, nil)
	sub, err := f.Subscribe(context.Background(), "valid-user-a", validAuth("user-a"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	const n = 3
	for i := 0; i < n; i++ {
		f.Publish(context.Background(), models.NewEvent("user-a", models.EventContent, nil))
	}

	var last int64
	for i := 0; i < n; i++ {
		select {
		case data := <-sub.Recv():
			var frame Frame
			if err := json.Unmarshal(data, &frame); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if frame.Seq <= last {
				t.Fatalf("Seq = %d, want > %d", frame.Seq, last)
			}
			last = frame.Seq
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestFabric_BackpressureDropsOnlyOffendingSubscriber(t *testing.T) {
	cfg := testConfig()
	cfg.SubscriptionQueueSize = 1
	f := New(cfg, nil, nil)

	slow, err := f.Subscribe(context.Background(), "valid-user-a", validAuth("user-a"))
	if err != nil {
		t.Fatalf("Subscribe slow: %v", err)
	}
	other, err := f.Subscribe(context.Background(), "valid-user-a", validAuth("user-a"))
	if err != nil {
		t.Fatalf("Subscribe other: %v", err)
	}

	// Fill and overflow slow's queue without draining it.
	for i := 0; i < 5; i++ {
		f.Publish(context.Background(), models.NewEvent("user-a", models.EventContent, nil))
	}

	select {
	case <-slow.Done():
	case <-time.After(time.Second):
		t.Fatal("expected the backpressured subscription to be closed")
	}

	if f.CountSubscriptions("user-a") != 1 {
		t.Errorf("CountSubscriptions = %d, want 1 (only the slow one dropped)", f.CountSubscriptions("user-a"))
	}

	// Drain whatever made it into other's queue; it should not have been
	// torn down by the other subscriber's backpressure.
	drained := 0
loop:
	for {
		select {
		case <-other.Recv():
			drained++
		default:
			break loop
		}
	}
	if drained == 0 {
		t.Error("expected the non-backpressured subscriber to have received at least one event")
	}
}

func TestFabric_UnsubscribeIsIdempotent(t *testing.T) {
	f := New(testConfig(), nil, nil)
	sub, err := f.Subscribe(context.Background(), "valid-user-a", validAuth("user-a"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	f.Unsubscribe(sub)
	f.Unsubscribe(sub)
	if f.CountSubscriptions("user-a") != 0 {
		t.Errorf("CountSubscriptions = %d, want 0", f.CountSubscriptions("user-a"))
	}
}

func TestFabric_ConcurrentPublishIsRaceFree(t *testing.T) {
	f := New(testConfig(), nil, nil)
	var subs []*Subscription
	for i := 0; i < 5; i++ {
		sub, err := f.Subscribe(context.Background(), "valid-user-a", validAuth("user-a"))
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		subs = append(subs, sub)
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *Subscription) {
			defer wg.Done()
			for {
				select {
				case <-s.Recv():
				case <-s.Done():
					return
				case <-time.After(200 * time.Millisecond):
					return
				}
			}
		}(sub)
	}

	var pubWG sync.WaitGroup
	for i := 0; i < 20; i++ {
		pubWG.Add(1)
		go func() {
			defer pubWG.Done()
			f.Publish(context.Background(), models.NewEvent("user-a", models.EventContent, nil))
		}()
	}
	pubWG.Wait()
	wg.Wait()
}

func TestFabric_IdleSubscriptionClosedAfterMissedHeartbeats(t *testing.T) {
	cfg := testConfig()
	cfg.PingInterval = 20 * time.Millisecond
	f := New(cfg, nil, nil)

	sub, err := f.Subscribe(context.Background(), "valid-user-a", validAuth("user-a"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("expected the idle subscription to be closed")
	}
}

func TestFabric_TouchKeepsSubscriptionAlive(t *testing.T) {
	cfg := testConfig()
	cfg.PingInterval = 20 * time.Millisecond
	f := New(cfg, nil, nil)

	sub, err := f.Subscribe(context.Background(), "valid-user-a", validAuth("user-a"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				sub.Touch()
			}
		}
	}()

	select {
	case <-sub.Done():
		t.Fatal("subscription closed despite ongoing heartbeats")
	case <-time.After(150 * time.Millisecond):
	}
}
