// Package transport exposes the sutra kernel over REST, gRPC, GraphQL and
// WebSocket. Each adapter is a thin translation layer: it decodes a wire
// request into a CommHub call and encodes the result back, the way a remote
// transport wraps the kernel rather than replacing its in-memory semantics.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sutra-kernel/sutra/core"
	"github.com/sutra-kernel/sutra/metrics"
	"github.com/sutra-kernel/sutra/sutra"
)

// RESTConfig configures the REST adapter.
type RESTConfig struct {
	Port          int
	BasePath      string
	EnableMetrics bool
}

// DefaultRESTConfig returns sane defaults for local development.
func DefaultRESTConfig() RESTConfig {
	return RESTConfig{
		Port:          8080,
		BasePath:      "/api/v1",
		EnableMetrics: true,
	}
}

// RESTAdapter exposes Send, Request, Broadcast and message polling over
// HTTP/JSON, backed by a *sutra.CommHub.
type RESTAdapter struct {
	config  RESTConfig
	router  *gin.Engine
	hub     *sutra.CommHub
	metrics *metrics.KernelMetrics
	log     core.Logger
	running bool
	server  *http.Server
}

// NewRESTAdapter builds a RESTAdapter wired to hub.
func NewRESTAdapter(config RESTConfig, hub *sutra.CommHub, log core.Logger) (*RESTAdapter, error) {
	if log == nil {
		log = core.NopLogger()
	}
	adapter := &RESTAdapter{
		config: config,
		router: gin.Default(),
		hub:    hub,
		log:    log,
	}

	if config.EnableMetrics {
		var err error
		adapter.metrics, err = metrics.NewKernelMetrics()
		if err != nil {
			return nil, fmt.Errorf("rest adapter: new metrics: %w", err)
		}
	}

	adapter.registerRoutes()
	return adapter, nil
}

func (r *RESTAdapter) registerRoutes() {
	g := r.router.Group(r.config.BasePath)

	g.POST("/send", r.handleSend)
	g.POST("/request", r.handleRequest)
	g.POST("/broadcast", r.handleBroadcast)
	g.GET("/messages/:agentID", r.handleMessages)
	g.GET("/stats", r.handleStats)
}

type sendRequest struct {
	From    string      `json:"from" binding:"required"`
	To      string      `json:"to" binding:"required"`
	Topic   string      `json:"topic" binding:"required"`
	Payload interface{} `json:"payload"`
	TTLMs   int64       `json:"ttl_ms"`
}

func (r *RESTAdapter) handleSend(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	start := time.Now()
	env := sutra.Envelope{
		From:    req.From,
		To:      req.To,
		Topic:   req.Topic,
		Payload: req.Payload,
	}
	if req.TTLMs > 0 {
		env.TTL = time.Duration(req.TTLMs) * time.Millisecond
	}

	sent, err := r.hub.Send(c.Request.Context(), env, "")
	if r.metrics != nil {
		r.metrics.RecordSend(c.Request.Context(), req.Topic, time.Since(start), err == nil)
	}
	if err != nil {
		writeKernelError(c, err)
		return
	}
	c.JSON(http.StatusOK, sent.ToWire())
}

type requestRequest struct {
	From      string      `json:"from" binding:"required"`
	To        string      `json:"to" binding:"required"`
	Topic     string      `json:"topic" binding:"required"`
	Payload   interface{} `json:"payload"`
	TimeoutMs int64       `json:"timeout_ms"`
}

func (r *RESTAdapter) handleRequest(c *gin.Context) {
	var req requestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	reply, err := r.hub.Request(c.Request.Context(), req.To, req.Topic, req.Payload, req.From, timeout)
	if err != nil {
		writeKernelError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply.ToWire())
}

type broadcastRequest struct {
	From    string      `json:"from" binding:"required"`
	Topic   string      `json:"topic" binding:"required"`
	Payload interface{} `json:"payload"`
}

func (r *RESTAdapter) handleBroadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sent, err := r.hub.Broadcast(c.Request.Context(), req.From, req.Topic, req.Payload)
	if err != nil {
		writeKernelError(c, err)
		return
	}
	c.JSON(http.StatusOK, sent.ToWire())
}

func (r *RESTAdapter) handleMessages(c *gin.Context) {
	agentID := c.Param("agentID")
	topic := c.Query("topic")

	var since time.Time
	if sinceParam := c.Query("since"); sinceParam != "" {
		parsed, err := time.Parse(time.RFC3339Nano, sinceParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since timestamp"})
			return
		}
		since = parsed
	}

	messages := r.hub.GetMessages(agentID, topic, since)
	wire := make([]sutra.WireEnvelope, 0, len(messages))
	for _, m := range messages {
		wire = append(wire, m.ToWire())
	}
	c.JSON(http.StatusOK, gin.H{"messages": wire})
}

func (r *RESTAdapter) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, r.hub.Stats())
}

func writeKernelError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if core.IsKind(err, core.KindDenied) {
		status = http.StatusForbidden
	} else if core.IsKind(err, core.KindTimeout) {
		status = http.StatusGatewayTimeout
	} else if core.IsKind(err, core.KindDuplicate) {
		status = http.StatusConflict
	} else if core.IsKind(err, core.KindFull) {
		status = http.StatusServiceUnavailable
	} else if core.IsKind(err, core.KindProtocol) || core.IsKind(err, core.KindUnknown) {
		status = http.StatusBadRequest
	} else if core.IsKind(err, core.KindDisposed) {
		status = http.StatusGone
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// Start launches the HTTP server in the background.
func (r *RESTAdapter) Start(ctx context.Context) error {
	r.running = true
	r.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", r.config.Port),
		Handler: r.router,
	}

	go func() {
		if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.log.Error("rest adapter stopped unexpectedly", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts the HTTP server down.
func (r *RESTAdapter) Stop(ctx context.Context) error {
	r.running = false
	if r.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return r.server.Shutdown(shutdownCtx)
}

// IsRunning reports whether Start has been called without a matching Stop.
func (r *RESTAdapter) IsRunning() bool {
	return r.running
}
