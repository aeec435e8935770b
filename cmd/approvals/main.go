// Approvals service governs fleet expansion requests: entitlement checks,
// decisions, approval tokens and their audit trails.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bturcanu/fleetgov/pkg/approvals"
	"github.com/bturcanu/fleetgov/pkg/auth"
	"github.com/bturcanu/fleetgov/pkg/config"
	"github.com/bturcanu/fleetgov/pkg/governance"
	fgOtel "github.com/bturcanu/fleetgov/pkg/otel"
	"github.com/bturcanu/fleetgov/pkg/ratelimit"
	"github.com/bturcanu/fleetgov/pkg/seed"
	"github.com/bturcanu/fleetgov/pkg/store"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ── OpenTelemetry ────────────────────────────────────────────────────
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	otelShutdown, err := fgOtel.Setup(ctx, fgOtel.Config{
		ServiceName:    "fleetgov-approvals",
		ServiceVersion: config.EnvOr("SERVICE_VERSION", "dev"),
		OTLPEndpoint:   otelEndpoint,
		MetricsEnabled: true,
		TracingEnabled: otelEndpoint != "",
	})
	if err != nil {
		log.Error("otel setup failed", "error", err)
	} else {
		defer otelShutdown(context.Background()) //nolint:errcheck // best-effort shutdown
	}

	// ── Core ─────────────────────────────────────────────────────────────
	st := store.New(log)
	machine := governance.NewMachine(governance.NewTokenIssuer(
		config.EnvOrDuration("TOKEN_TTL_HOURS", time.Hour, governance.DefaultTokenTTL),
	))

	var ready atomic.Bool
	if err := loadSeed(st, machine, log); err != nil {
		log.Error("seed failed", "error", err)
		os.Exit(1)
	}

	opts := []approvals.Option{
		approvals.WithLogger(log),
		approvals.WithAuthorizer(approvals.NewApproverAuthorizer(os.Getenv("APPROVER_ALLOWLIST"))),
	}
	var outbox *approvals.Outbox
	if targets := approvals.ParseWebhookTargets(os.Getenv("NOTIFY_WEBHOOKS")); len(targets) > 0 {
		outbox = approvals.NewOutbox(targets)
		opts = append(opts, approvals.WithNotifier(outbox))
		log.Info("decision webhooks enabled", "targets", len(targets))
	}
	svc := approvals.NewService(st, machine, opts...)

	hub := approvals.NewHub(st, log)
	stopHub := hub.Start()
	defer stopHub()

	keyStore := auth.NewKeyStore(os.Getenv("API_KEYS"))
	if keyStore.Len() == 0 {
		log.Warn("API_KEYS is empty; every request will be rejected")
	}
	limiter := ratelimit.New(config.EnvOrInt("RATE_LIMIT_PER_PRINCIPAL", 10), ratelimit.DefaultMaxKeys)
	handlers := approvals.NewHandlers(svc, nil, limiter.Middleware, nil, log)

	// ── Router ───────────────────────────────────────────────────────────
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(auth.APIKeyAuth(keyStore))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT READY"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// The change feed is long-lived and stays outside the request timeout.
	r.Get("/v1/stream", hub.ServeWS(config.EnvList("WS_ALLOWED_ORIGINS")))
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(15 * time.Second))
		handlers.RegisterRoutes(r)
	})

	// ── Metrics (internal) ───────────────────────────────────────────────
	metricsAddr := config.EnvOr("METRICS_ADDR", "127.0.0.1:9091")
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:              metricsAddr,
		Handler:           metricsMux,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	go func() {
		log.Info("metrics server starting", "addr", metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "error", err)
		}
	}()

	// ── Server ───────────────────────────────────────────────────────────
	addr := config.EnvOr("APPROVALS_ADDR", ":8081")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("approvals service starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			cancel()
		}
	}()
	ready.Store(true)

	// ── Background workers ───────────────────────────────────────────────
	if outbox != nil {
		dispatcher := approvals.NewDispatcher(
			outbox,
			config.EnvOr("APPROVALS_NOTIFIER_SOURCE", "fleetgov://approvals"),
			approvals.ParseSecretRefMap(os.Getenv("WEBHOOK_SECRETS")),
			log,
		)
		go dispatcher.Run(ctx, config.EnvOrDuration("NOTIFIER_INTERVAL_SEC", time.Second, 5*time.Second))
	}

	if sweep := config.EnvOrDuration("TOKEN_SWEEP_INTERVAL_SEC", time.Second, 0); sweep > 0 {
		go runTokenSweep(ctx, svc, sweep, log)
	}

	<-ctx.Done()
	log.Info("shutting down approvals service")
	ready.Store(false)
	if outbox != nil {
		log.Info("notification outbox state", "counts", outbox.Counts())
	}
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
	if err := metricsSrv.Shutdown(shutCtx); err != nil {
		log.Error("metrics server shutdown error", "error", err)
	}
}

// loadSeed applies SEED_FILE when set, otherwise the embedded demo data
// unless SEED_DEFAULT=false.
func loadSeed(st *store.Store, m *governance.Machine, log *slog.Logger) error {
	var (
		f   seed.File
		err error
	)
	switch path := os.Getenv("SEED_FILE"); {
	case path != "":
		f, err = seed.Load(path)
	case config.EnvOrBool("SEED_DEFAULT", true):
		f, err = seed.Default()
	default:
		return nil
	}
	if err != nil {
		return err
	}
	n, err := seed.Apply(st, m, f, time.Now())
	if err != nil {
		return err
	}
	log.Info("seed applied", "requests", n)
	return nil
}

func runTokenSweep(ctx context.Context, svc *approvals.Service, interval time.Duration, log *slog.Logger) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := svc.ExpireTokens(ctx)
			if err != nil {
				log.Error("token sweep failed", "error", err)
				continue
			}
			if n > 0 {
				log.Info("expired approval tokens", "count", n)
			}
		}
	}
}
