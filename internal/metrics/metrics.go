// Package metrics exposes Prometheus metrics and the health endpoint for
// the portal.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the portal.
type Metrics struct {
	HTTPDuration *prometheus.HistogramVec // labels: method, route, status

	// Auth
	LoginsTotal      *prometheus.CounterVec // labels: outcome
	OTPEmailsTotal   prometheus.Counter
	OTPVerifications *prometheus.CounterVec // labels: result
	SessionsCreated  prometheus.Counter
	AnalystsCreated  prometheus.Counter

	// Analysis engine
	AnalysesTotal       *prometheus.CounterVec // labels: source
	AnalysisDur         prometheus.Histogram
	VarianceClampsTotal prometheus.Counter
	SheetUploadErrors   prometheus.Counter

	// Live quotes
	QuoteClients    prometheus.Gauge
	QuotePushes     prometheus.Counter
	QuoteFetchFails prometheus.Counter
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portal_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),

		LoginsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_logins_total",
			Help: "Login attempts by outcome (success, failed, otp_required, password_change)",
		}, []string{"outcome"}),
		OTPEmailsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_otp_emails_total",
			Help: "OTP verification emails sent",
		}),
		OTPVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_otp_verifications_total",
			Help: "OTP verification attempts by result (ok, invalid)",
		}, []string{"result"}),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_sessions_created_total",
			Help: "Login sessions created",
		}),
		AnalystsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_analysts_created_total",
			Help: "Analyst accounts created by admins",
		}),

		AnalysesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_analyses_total",
			Help: "Volatility analyses computed by input source (provider, upload, inline)",
		}, []string{"source"}),
		AnalysisDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "portal_analysis_duration_seconds",
			Help:    "Analysis engine latency per invocation",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		VarianceClampsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_variance_clamps_total",
			Help: "Analyses where a negative variance was floored to zero",
		}),
		SheetUploadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_sheet_upload_errors_total",
			Help: "Rejected XLSX uploads (bad header, empty, unparseable cells)",
		}),

		QuoteClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "portal_quote_clients",
			Help: "Connected live-quote WebSocket clients",
		}),
		QuotePushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_quote_pushes_total",
			Help: "Quote updates pushed to WebSocket clients",
		}),
		QuoteFetchFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_quote_fetch_failures_total",
			Help: "Failed provider polls in the quote hub",
		}),
	}

	prometheus.MustRegister(
		m.HTTPDuration,
		m.LoginsTotal,
		m.OTPEmailsTotal,
		m.OTPVerifications,
		m.SessionsCreated,
		m.AnalystsCreated,
		m.AnalysesTotal,
		m.AnalysisDur,
		m.VarianceClampsTotal,
		m.SheetUploadErrors,
		m.QuoteClients,
		m.QuotePushes,
		m.QuoteFetchFails,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisConnected bool `json:"redis_connected"`
	SQLiteOK       bool `json:"sqlite_ok"`
	MailerOK       bool `json:"mailer_ok"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		MailerOK:  true,
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetMailerOK(v bool) {
	h.mu.Lock()
	h.MailerOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.RedisConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		MailerOK        bool    `json:"mailer_ok"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		MailerOK:        h.MailerOK,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
