// Command portal runs the analysis portal: the authenticated HTTP API,
// the live quote websocket hub, and the Prometheus metrics endpoint.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"gannportal/config"
	"gannportal/internal/auth"
	"gannportal/internal/gann"
	"gannportal/internal/logger"
	"gannportal/internal/mailer"
	"gannportal/internal/marketdata"
	"gannportal/internal/metrics"
	"gannportal/internal/portal"
	"gannportal/internal/quotes"
	redisstore "gannportal/internal/store/redis"
	"gannportal/internal/store/sqlite"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.Init("portal", slog.LevelInfo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := sqlite.New(cfg.SQLitePath)
	if err != nil {
		log.Error("sqlite open failed", "path", cfg.SQLitePath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	sessions, err := redisstore.New(redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, cfg.SessionTTL)
	if err != nil {
		log.Error("redis connect failed", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}
	defer sessions.Close()

	m := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.StartLivenessChecker(ctx, sessions.Client(), store.DB(), 30*time.Second)
	msrv := metrics.NewServer(cfg.MetricsAddr, health)
	msrv.Start()

	engine := gann.NewEngine(
		gann.WithLogger(log),
		gann.WithClampHook(func() { m.VarianceClampsTotal.Inc() }),
	)

	market := marketdata.NewClient(cfg.MarketDataKey, cfg.MarketDataBaseURL, cfg.MarketDataTimeout)

	var mail mailer.Mailer
	if cfg.SMTPHost != "" {
		mail = mailer.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.FromEmail, cfg.BaseURL)
		health.SetMailerOK(true)
	} else {
		mail = mailer.NewLogMailer()
		log.Warn("SMTP not configured, OTP codes go to the log")
	}

	hub := quotes.NewHub(&quotes.EODProvider{Client: market}, cfg.QuoteRefresh, m)
	go hub.Run(ctx)

	go pruneOTPChallenges(ctx, store, log)

	srv := portal.NewServer(cfg, portal.Deps{
		Users:    store,
		Sessions: sessions,
		OTP:      auth.NewOTP(cfg.OTPTTL),
		Tokens:   auth.NewTokenManager(cfg.JWTSecret, cfg.SessionTTL),
		Mail:     mail,
		Market:   market,
		Engine:   engine,
		Hub:      hub,
		Metrics:  m,
		Log:      log,
	})

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("portal listening", "addr", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	msrv.Stop(shutdownCtx)
}

// pruneOTPChallenges clears consumed and long-expired challenge rows once
// an hour so the table does not grow unbounded.
func pruneOTPChallenges(ctx context.Context, store *sqlite.Store, log *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.PruneOTPChallenges(ctx, time.Now().Add(-24*time.Hour))
			if err != nil {
				log.Warn("otp prune failed", "error", err)
				continue
			}
			if n > 0 {
				log.Info("otp challenges pruned", "count", n)
			}
		}
	}
}
