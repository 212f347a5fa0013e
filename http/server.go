// Package http exposes the facilitator over HTTP: health and capability
// discovery plus the verify and settle operations.
package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	x402 "github.com/bubbletez/x402-facilitator"
	"github.com/bubbletez/x402-facilitator/metrics"
)

// Server wraps a LocalFacilitator with the HTTP surface.
type Server struct {
	engine      *gin.Engine
	facilitator *x402.LocalFacilitator
	logger      *zap.Logger
	recorder    metrics.Recorder
	corsOrigins []string
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *zap.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetricsRecorder sets the metrics recorder and enables /metrics.
func WithMetricsRecorder(recorder metrics.Recorder) ServerOption {
	return func(s *Server) {
		s.recorder = recorder
	}
}

// WithCORSOrigins sets the allowed CORS origins. "*" allows any origin.
func WithCORSOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// NewServer builds the HTTP surface over a facilitator.
func NewServer(facilitator *x402.LocalFacilitator, opts ...ServerOption) *Server {
	s := &Server{
		facilitator: facilitator,
		logger:      zap.NewNop(),
		recorder:    metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger(), corsMiddleware(s.corsOrigins))

	engine.GET("/health", s.handleHealth)
	engine.GET("/supported", s.handleSupported)
	engine.POST("/verify", s.handleVerify)
	engine.POST("/settle", s.handleSettle)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.engine = engine
	return s
}

// Handler returns the underlying http.Handler for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve runs the server until the context is canceled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleSupported(c *gin.Context) {
	c.JSON(http.StatusOK, s.facilitator.GetSupported())
}

func (s *Server) handleVerify(c *gin.Context) {
	req, ok := s.bindRequest(c)
	if !ok {
		return
	}

	start := time.Now()
	response := s.facilitator.Verify(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)

	network := string(req.PaymentPayload.NetworkID())
	labels := map[string]string{"network": network}
	s.recorder.ObserveLatency(metrics.OperationVerify, time.Since(start), labels)
	if response.IsValid {
		s.recorder.IncCounter(metrics.EventVerifyOK, labels)
	} else {
		s.recorder.IncCounter(metrics.EventVerifyFailed, labels)
		s.logger.Info("verification rejected",
			zap.String("network", network),
			zap.String("reason", response.InvalidReason),
			zap.String("payer", response.Payer))
	}

	c.JSON(http.StatusOK, response)
}

func (s *Server) handleSettle(c *gin.Context) {
	req, ok := s.bindRequest(c)
	if !ok {
		return
	}

	start := time.Now()
	response := s.facilitator.Settle(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)

	network := string(req.PaymentPayload.NetworkID())
	labels := map[string]string{"network": network}
	s.recorder.ObserveLatency(metrics.OperationSettle, time.Since(start), labels)
	if response.Success {
		s.recorder.IncCounter(metrics.EventSettleOK, labels)
		s.logger.Info("settlement completed",
			zap.String("network", network),
			zap.String("transaction", response.Transaction),
			zap.String("payer", response.Payer))
	} else {
		s.recorder.IncCounter(metrics.EventSettleFailed, labels)
		s.logger.Warn("settlement rejected",
			zap.String("network", network),
			zap.String("reason", response.ErrorReason),
			zap.String("payer", response.Payer))
	}

	c.JSON(http.StatusOK, response)
}

// bindRequest reads, schema-validates, and unmarshals a verify/settle body.
func (s *Server) bindRequest(c *gin.Context) (*x402.VerifyRequest, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return nil, false
	}
	if err := validateRequestBody(body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}

	var req x402.VerifyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return nil, false
	}
	return &req, true
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.NewString()
		c.Set("requestId", requestID)
		start := time.Now()

		c.Next()

		s.logger.Debug("request",
			zap.String("requestId", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(origins))
	wildcard := false
	for _, origin := range origins {
		if origin == "*" {
			wildcard = true
		}
		allowed[origin] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			if wildcard {
				c.Header("Access-Control-Allow-Origin", "*")
			} else if _, ok := allowed[origin]; ok {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, X-PAYMENT")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
