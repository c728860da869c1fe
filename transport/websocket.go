package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sutra-kernel/sutra/core"
	"github.com/sutra-kernel/sutra/metrics"
	"github.com/sutra-kernel/sutra/sutra"
)

// WebSocketConfig configures the WebSocket adapter.
type WebSocketConfig struct {
	Port            int
	Path            string
	ReadBufferSize  int
	WriteBufferSize int
	PingInterval    time.Duration
	PongWait        time.Duration
	MaxMessageSize  int64
	EnableMetrics   bool
}

// DefaultWebSocketConfig returns sane defaults for local development.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		Port:            8081,
		Path:            "/ws",
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		PingInterval:    54 * time.Second,
		PongWait:        60 * time.Second,
		MaxMessageSize:  65536,
		EnableMetrics:   true,
	}
}

// wsSubscribeMessage is the client->server frame that opens a live
// subscription to a topic on behalf of agentID.
type wsSubscribeMessage struct {
	Type    string `json:"type"` // "subscribe" | "send"; any other type, "unsubscribe" included, gets an error frame
	AgentID string `json:"agent_id"`
	Topic   string `json:"topic"`
	To      string `json:"to,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// WebSocketAdapter streams envelopes to connected clients as they arrive on
// the topics they subscribe to, and accepts "send" frames in the other
// direction.
type WebSocketAdapter struct {
	config   WebSocketConfig
	upgrader websocket.Upgrader
	hub      *sutra.CommHub
	metrics  *metrics.KernelMetrics
	log      core.Logger

	mu          sync.RWMutex
	connections map[*websocket.Conn]*wsConnState
	running     bool
	server      *http.Server
}

type wsConnState struct {
	unsubs []sutra.UnsubscribeHandle
	mu     sync.Mutex
}

// NewWebSocketAdapter builds a WebSocketAdapter wired to hub.
func NewWebSocketAdapter(config WebSocketConfig, hub *sutra.CommHub, log core.Logger) (*WebSocketAdapter, error) {
	if log == nil {
		log = core.NopLogger()
	}
	adapter := &WebSocketAdapter{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		hub:         hub,
		log:         log,
		connections: make(map[*websocket.Conn]*wsConnState),
	}

	if config.EnableMetrics {
		var err error
		adapter.metrics, err = metrics.NewKernelMetrics()
		if err != nil {
			return nil, fmt.Errorf("websocket adapter: new metrics: %w", err)
		}
	}

	return adapter, nil
}

// Start launches the WebSocket server in the background.
func (w *WebSocketAdapter) Start(ctx context.Context) error {
	w.running = true

	mux := http.NewServeMux()
	mux.HandleFunc(w.config.Path, w.handleWebSocket)

	w.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", w.config.Port),
		Handler: mux,
	}

	go func() {
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			w.log.Error("websocket adapter stopped unexpectedly", zap.Error(err))
		}
	}()

	return nil
}

// Stop closes all connections and shuts the server down.
func (w *WebSocketAdapter) Stop(ctx context.Context) error {
	w.running = false

	w.mu.Lock()
	for conn, state := range w.connections {
		state.mu.Lock()
		for _, unsub := range state.unsubs {
			unsub()
		}
		state.mu.Unlock()
		_ = conn.Close()
		delete(w.connections, conn)
	}
	w.mu.Unlock()

	if w.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return w.server.Shutdown(shutdownCtx)
}

// IsRunning reports whether Start has been called without a matching Stop.
func (w *WebSocketAdapter) IsRunning() bool {
	return w.running
}

func (w *WebSocketAdapter) handleWebSocket(rw http.ResponseWriter, req *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, req, nil)
	if err != nil {
		w.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn.SetReadLimit(w.config.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(w.config.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(w.config.PongWait))
	})

	state := &wsConnState{}
	w.mu.Lock()
	w.connections[conn] = state
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.connections, conn)
		w.mu.Unlock()
		state.mu.Lock()
		for _, unsub := range state.unsubs {
			unsub()
		}
		state.mu.Unlock()
		_ = conn.Close()
	}()

	go w.pingLoop(conn)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg wsSubscribeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			_ = conn.WriteJSON(map[string]string{"error": "invalid frame"})
			continue
		}

		switch msg.Type {
		case "subscribe":
			w.handleSubscribe(conn, state, msg)
		case "send":
			w.handleSend(req.Context(), conn, msg)
		default:
			_ = conn.WriteJSON(map[string]string{"error": "unknown frame type"})
		}
	}
}

func (w *WebSocketAdapter) handleSubscribe(conn *websocket.Conn, state *wsConnState, msg wsSubscribeMessage) {
	unsub, err := w.hub.Subscribe(msg.AgentID, msg.Topic, func(env sutra.Envelope) {
		if writeErr := conn.WriteJSON(env.ToWire()); writeErr != nil {
			w.log.Debug("websocket write failed", zap.Error(writeErr))
		}
	})
	if err != nil {
		_ = conn.WriteJSON(map[string]string{"error": err.Error()})
		return
	}
	state.mu.Lock()
	state.unsubs = append(state.unsubs, unsub)
	state.mu.Unlock()
}

func (w *WebSocketAdapter) handleSend(ctx context.Context, conn *websocket.Conn, msg wsSubscribeMessage) {
	env := sutra.Envelope{From: msg.AgentID, To: msg.To, Topic: msg.Topic, Payload: msg.Payload}
	sent, err := w.hub.Send(ctx, env, "")
	if err != nil {
		_ = conn.WriteJSON(map[string]string{"error": err.Error()})
		return
	}
	_ = conn.WriteJSON(sent.ToWire())
}

func (w *WebSocketAdapter) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(w.config.PingInterval)
	defer ticker.Stop()
	for range ticker.C {
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			return
		}
	}
}
