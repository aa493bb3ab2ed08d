// Package push implements the per-user event bus: authenticated
// Subscriptions, a heartbeat protocol, and fan-out of orchestration and
// background-task events to every live Subscription for a user.
package push

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/careerforge/orchestrator/internal/config"
	"github.com/careerforge/orchestrator/internal/corerr"
	"github.com/careerforge/orchestrator/internal/observability"
	"github.com/careerforge/orchestrator/pkg/models"
)

// Frame is the wire envelope a Subscription marshals an Event into. The
// fabric assigns Seq; the domain Event carries none of its own.
type Frame struct {
	Type   string           `json:"type"`
	Seq    int64            `json:"seq,omitempty"`
	Event  models.EventType `json:"event,omitempty"`
	Error  *FrameError      `json:"error,omitempty"`
	Fields map[string]any   `json:"fields,omitempty"`
}

// FrameError is the `error` frame payload.
type FrameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Subscription is a transient, authenticated connection bound to one user.
// It owns a buffered outbound queue drained by the transport; the fabric
// never blocks writing into it.
type Subscription struct {
	ID     string
	UserID string

	send          chan []byte
	seq           int64
	lastHeartbeat atomic.Int64 // unix nanos

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closed    chan struct{}
}

func newSubscription(ctx context.Context, id, userID string, queueSize int) *Subscription {
	subCtx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		ID:     id,
		UserID: userID,
		send:   make(chan []byte, queueSize),
		ctx:    subCtx,
		cancel: cancel,
		closed: make(chan struct{}),
	}
	s.lastHeartbeat.Store(time.Now().UnixNano())
	return s
}

// Recv returns the channel the transport drains to deliver frames. It is
// closed when the Subscription is torn down.
func (s *Subscription) Recv() <-chan []byte { return s.send }

// Done reports when the Subscription's context is cancelled (either by the
// fabric or by the caller disconnecting).
func (s *Subscription) Done() <-chan struct{} { return s.ctx.Done() }

// Touch records a heartbeat ping from the client.
func (s *Subscription) Touch() { s.lastHeartbeat.Store(time.Now().UnixNano()) }

func (s *Subscription) idleSince() time.Duration {
	return time.Since(time.Unix(0, s.lastHeartbeat.Load()))
}

// enqueue marshals and non-blockingly delivers a frame. Returns false if the
// queue was full — the caller must then drop this Subscription.
func (s *Subscription) enqueue(frame Frame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		return true // malformed frame is a bug, not backpressure; drop silently
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		s.cancel()
		close(s.closed)
	})
}

// Fabric is the per-user topic bus. One Fabric instance is shared process-
// wide; its subscription table is the only mutable global state this
// component owns (the Turn/Step cancellation tokens used elsewhere are owned
// by the caller, not by the Fabric).
type Fabric struct {
	cfg     config.PushConfig
	logger  *observability.Logger
	metrics *observability.Metrics

	mu   sync.RWMutex
	subs map[string]map[string]*Subscription // userID -> subID -> Subscription

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Fabric. logger/metrics may be nil in tests.
func New(cfg config.PushConfig, logger *observability.Logger, metrics *observability.Metrics) *Fabric {
	return &Fabric{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		subs:    make(map[string]map[string]*Subscription),
		stopCh:  make(chan struct{}),
	}
}

// Subscribe validates authProof via validate and, on success, registers a
// new live Subscription for the authenticated user. The caller is
// responsible for running a transport loop that drains Recv() and forwards
// Touch() on inbound pings; Subscribe itself only manages bookkeeping.
func (f *Fabric) Subscribe(ctx context.Context, authProof string, validate func(string) (string, error)) (*Subscription, error) {
	userID, err := validate(authProof)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindUnauthorized, "invalid auth_proof", err)
	}

	queueSize := f.cfg.SubscriptionQueueSize
	if queueSize <= 0 {
		queueSize = 256
	}

	sub := newSubscription(ctx, uuid.NewString(), userID, queueSize)

	f.mu.Lock()
	if f.subs[userID] == nil {
		f.subs[userID] = make(map[string]*Subscription)
	}
	f.subs[userID][sub.ID] = sub
	f.mu.Unlock()

	if f.metrics != nil {
		f.metrics.SubscriptionOpened()
	}
	if f.logger != nil {
		f.logger.Info(ctx, "push subscription opened", "user_id", userID, "subscription_id", sub.ID)
	}

	go f.watchIdle(sub)
	return sub, nil
}

// Unsubscribe removes a Subscription from the table and closes it. Safe to
// call more than once.
func (f *Fabric) Unsubscribe(sub *Subscription) {
	f.mu.Lock()
	if m, ok := f.subs[sub.UserID]; ok {
		if _, present := m[sub.ID]; present {
			delete(m, sub.ID)
			if len(m) == 0 {
				delete(f.subs, sub.UserID)
			}
		}
	}
	f.mu.Unlock()

	sub.close()
	if f.metrics != nil {
		f.metrics.SubscriptionClosed()
	}
}

// Publish enqueues event to every live Subscription bound to event.UserID.
// A Subscription whose queue is full is dropped with a
// subscriber_backpressure error frame and disconnected; other subscribers
// for the same user are unaffected and this call never blocks on them (S6).
func (f *Fabric) Publish(ctx context.Context, event models.Event) {
	f.mu.RLock()
	targets := make([]*Subscription, 0, len(f.subs[event.UserID]))
	for _, sub := range f.subs[event.UserID] {
		targets = append(targets, sub)
	}
	f.mu.RUnlock()

	for _, sub := range targets {
		seq := atomic.AddInt64(&sub.seq, 1)
		frame := Frame{Type: "event", Seq: seq, Event: event.Type, Fields: event.Fields}
		if sub.enqueue(frame) {
			continue
		}

		errFrame := Frame{
			Type: "error",
			Error: &FrameError{
				Code:    string(corerr.KindSubscriberBackpressure),
				Message: "subscription queue exceeded capacity",
			},
		}
		// Best-effort: the queue is already full, so this will usually also
		// fail to enqueue; the subsequent Unsubscribe is what actually
		// terminates the stream for the reader.
		sub.enqueue(errFrame)

		if f.logger != nil {
			f.logger.Warn(ctx, "dropping subscriber on backpressure", "user_id", sub.UserID, "subscription_id", sub.ID)
		}
		f.Unsubscribe(sub)
	}
}

// TaskPublisher adapts a Fabric to the Background Task Runner's Publisher
// interface (Publish(userID, event), no context parameter), since task
// completion callbacks have no caller-scoped context of their own by the
// time they publish.
type TaskPublisher struct {
	Fabric *Fabric
}

// Publish fans event out to userID's live Subscriptions on a background
// context.
func (p TaskPublisher) Publish(userID string, event models.Event) {
	event.UserID = userID
	p.Fabric.Publish(context.Background(), event)
}

// CountSubscriptions reports the number of live Subscriptions for userID,
// used by tests and health snapshots.
func (f *Fabric) CountSubscriptions(userID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[userID])
}

// watchIdle closes sub once it has gone more than 2x the configured ping
// interval without a heartbeat.
func (f *Fabric) watchIdle(sub *Subscription) {
	interval := f.cfg.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	idleLimit := 2 * interval

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-sub.ctx.Done():
			return
		case <-f.stopCh:
			f.Unsubscribe(sub)
			return
		case <-ticker.C:
			if sub.idleSince() > idleLimit {
				f.Unsubscribe(sub)
				return
			}
		}
	}
}

// Stop tears down every live Subscription, e.g. on process shutdown.
func (f *Fabric) Stop() {
	f.stopOnce.Do(func() { close(f.stopCh) })
}
