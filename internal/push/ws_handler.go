package push

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/careerforge/orchestrator/internal/config"
)

// connectFrame is the first inbound message a client must send; anything
// else before it is rejected with handshake_required.
type connectFrame struct {
	Type      string `json:"type"`
	AuthProof string `json:"auth_proof"`
}

type pingFrame struct {
	Type string `json:"type"`
}

// Handler upgrades HTTP connections to WebSocket Subscriptions and runs
// their read/write pumps. validate authenticates the auth_proof sent as the
// first inbound frame and returns the user id it authenticates.
type Handler struct {
	fabric   *Fabric
	cfg      config.PushConfig
	validate func(string) (string, error)
	upgrader websocket.Upgrader
}

// NewHandler builds an http.Handler wrapping fabric.
func NewHandler(fabric *Fabric, cfg config.PushConfig, validate func(string) (string, error)) *Handler {
	return &Handler{
		fabric:   fabric,
		cfg:      cfg,
		validate: validate,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	grace := h.cfg.AuthGracePeriod
	if grace <= 0 {
		grace = 10 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(grace))

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return
	}
	var connect connectFrame
	if err := json.Unmarshal(raw, &connect); err != nil || connect.Type != "connect" {
		_ = conn.WriteJSON(Frame{Type: "error", Error: &FrameError{Code: "handshake_required", Message: "first frame must be connect"}})
		return
	}

	sub, err := h.fabric.Subscribe(r.Context(), connect.AuthProof, h.validate)
	if err != nil {
		_ = conn.WriteJSON(Frame{Type: "error", Error: &FrameError{Code: "unauthorized", Message: "invalid auth_proof"}})
		return
	}
	defer h.fabric.Unsubscribe(sub)

	_ = conn.WriteJSON(Frame{Type: "connected"})

	pongWait := h.cfg.PongWait
	if pongWait <= 0 {
		pongWait = 60 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		sub.Touch()
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go h.writePump(conn, sub, done)
	h.readPump(conn, sub, pongWait)
	close(done)
}

// readPump only ever needs to observe client pings after the handshake;
// everything else on the wire in this direction is a heartbeat.
func (h *Handler) readPump(conn *websocket.Conn, sub *Subscription, pongWait time.Duration) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame pingFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		if frame.Type == "ping" {
			sub.Touch()
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			_ = conn.WriteJSON(Frame{Type: "pong"})
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, sub *Subscription, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-sub.Done():
			return
		case data, ok := <-sub.Recv():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
