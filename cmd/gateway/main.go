// The gateway is the admission front door: it answers rate-limit checks
// for the marketplace services, exposes the admin surface for rules,
// reputation and the audit trail, and runs the background maintenance
// loop.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"skillswap/pkg/audit"
	"skillswap/pkg/auth"
	"skillswap/pkg/eventbus"
	"skillswap/pkg/guard"
	"skillswap/pkg/hardening"
	"skillswap/pkg/httpx"
	"skillswap/pkg/maintenance"
	"skillswap/pkg/metrics"
	"skillswap/pkg/models"
	"skillswap/pkg/ratelimit"
	"skillswap/pkg/reputation"
	"skillswap/pkg/rules"
	"skillswap/pkg/store"
	"skillswap/pkg/stream"
	"skillswap/pkg/telemetry"
	"skillswap/pkg/violations"
)

type Server struct {
	Guard      *guard.Guard
	Rules      *rules.Registry
	Reputation *reputation.Service
	Violations *violations.Recorder
	Audit      *audit.Logger
	Loop       *maintenance.Loop
	Events     *stream.Hub
	Metrics    *metrics.Registry
	Extractor  *httpx.Extractor
	HTTPClient *http.Client

	AdminToken          string
	WebhookURL          string
	WebhookRetries      int
	WebhookRetryDelay   time.Duration
	MaxRequestBodyBytes int64
}

type archiveDBCloser interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

type gatewayInitTelemetryFunc func(ctx context.Context, service string) (func(context.Context) error, error)
type gatewayOpenRedisFunc func(ctx context.Context) (*redis.Client, error)
type gatewayOpenArchiveFunc func(ctx context.Context) (archiveDBCloser, error)
type gatewayListenFunc func(server *http.Server) error
type gatewayStartLoopsFunc func(s *Server)

// Testable variables for main()
var (
	logFatalf      = log.Fatalf
	initTelemetryG = telemetry.Init
	openRedisFnG   = store.NewRedis
	openArchiveFnG = func(ctx context.Context) (archiveDBCloser, error) { return store.NewPostgresPool(ctx) }
	listenFnG      = func(server *http.Server) error { return server.ListenAndServe() }
	startLoopsFnG  = func(s *Server) {
		go s.Loop.Run(context.Background())
		if s.WebhookURL != "" {
			go s.forwardWebhooks(context.Background())
		}
	}
)

func main() {
	if err := runGateway(initTelemetryG, openRedisFnG, openArchiveFnG, listenFnG, startLoopsFnG); err != nil {
		logFatalf("gateway: %v", err)
	}
}

func runGateway(
	initTelemetry gatewayInitTelemetryFunc,
	openRedis gatewayOpenRedisFunc,
	openArchive gatewayOpenArchiveFunc,
	listen gatewayListenFunc,
	startLoops gatewayStartLoopsFunc,
) error {
	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "gateway")
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	redisClient, err := openRedis(ctx)
	if err != nil {
		log.Printf("redis unavailable, falling back to in-memory stores: %v", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	signingKey, err := buildKeyStore().SigningKey(ctx)
	if err != nil {
		return fmt.Errorf("signing key: %w", err)
	}
	adminToken := env("ADMIN_BEARER_TOKEN", "")

	if err := hardening.ValidateProduction(hardening.Options{
		Service:               "gateway",
		Environment:           env("ENVIRONMENT", env("APP_ENV", "")),
		StrictProdSecurity:    env("STRICT_PROD_SECURITY", "true"),
		DatabaseRequireTLS:    env("DATABASE_REQUIRE_TLS", ""),
		RedisAddr:             env("REDIS_ADDR", ""),
		RedisRequireTLS:       env("REDIS_REQUIRE_TLS", ""),
		RedisTLSInsecure:      env("REDIS_TLS_INSECURE", ""),
		RedisAllowInsecureTLS: env("REDIS_ALLOW_INSECURE_TLS", ""),
		CORSAllowedOrigins:    env("CORS_ALLOWED_ORIGINS", ""),
		AuditSigningKey:       string(signingKey),
		RequiredServiceSecrets: []hardening.EnvRequirement{
			{Name: "ADMIN_BEARER_TOKEN", Value: adminToken},
		},
	}); err != nil {
		return err
	}

	var (
		auditStore     audit.Store
		limitStore     ratelimit.Store
		reputationKV   store.KV
		violationStore violations.Store
	)
	if redisClient != nil {
		auditStore = audit.NewRedisStore(redisClient)
		limitStore = ratelimit.NewRedisStore(redisClient)
		reputationKV = store.NewRedisKV(redisClient)
		violationStore = violations.NewRedisStore(redisClient)
	} else {
		auditStore = audit.NewMemoryStore()
		limitStore = ratelimit.NewMemory()
		reputationKV = store.NewMemoryKV()
		violationStore = violations.NewMemoryStore()
	}

	auditLogger, err := audit.NewLogger(auditStore, signingKey)
	if err != nil {
		return err
	}
	hub := stream.NewHub()
	auditLogger.Hub = hub

	if brokers := env("KAFKA_BROKERS", ""); brokers != "" {
		bus, err := eventbus.NewKafkaPublisher(eventbus.KafkaConfig{
			Brokers: strings.Split(brokers, ","),
			Topic:   env("KAFKA_AUDIT_TOPIC", "skillswap.audit"),
		})
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		defer bus.Close()
		auditLogger.Bus = bus
	}

	if env("ARCHIVE_DATABASE_URL", "") != "" || env("ARCHIVE_DATABASE_HOST", "") != "" {
		pool, err := openArchive(ctx)
		if err != nil {
			return fmt.Errorf("archive db: %w", err)
		}
		defer pool.Close()
		auditLogger.Cold = audit.NewPGArchive(pool)
	}

	registry := rules.NewRegistry()
	if path := env("RULES_FILE", ""); path != "" {
		if err := loadRulesFile(registry, path); err != nil {
			return fmt.Errorf("rules file: %w", err)
		}
	} else if env("RATE_LIMIT_ENABLED", "true") == "true" {
		if err := registry.Register(defaultRule(envInt("RATE_LIMIT_PER_MINUTE", 240))); err != nil {
			return err
		}
	}

	limiter := ratelimit.New(limitStore)
	if env("LIMITER_MEMORY_FALLBACK", "true") != "true" {
		limiter.Fallback = nil
	}
	rep := reputation.New(reputationKV)
	recorder := violations.NewRecorder(violationStore)

	m := metrics.NewRegistry()
	g := guard.New(registry, limiter, rep, recorder, auditLogger)
	g.Metrics = m
	g.FailOpen = env("FAIL_OPEN", "true") == "true"

	loop := maintenance.New(registry, rep, recorder, auditLogger)
	loop.Lock = reputationKV
	loop.Interval = envDurationSec("MAINTENANCE_INTERVAL_SEC", 3600)
	loop.IntegrityInterval = envDurationSec("INTEGRITY_INTERVAL_SEC", 86400)
	loop.ArchiveAfter = 24 * time.Hour * time.Duration(envInt("ARCHIVE_AFTER_DAYS", 90))
	loop.VerifyWindow = 24 * time.Hour * time.Duration(envInt("VERIFY_WINDOW_DAYS", 7))
	loop.BlacklistThreshold = int64(envInt("AUTO_BLACKLIST_THRESHOLD", 10))
	loop.BlacklistFor = envDurationSec("AUTO_BLACKLIST_SEC", 86400)
	loop.TightenThreshold = int64(envInt("RULE_TIGHTEN_THRESHOLD", 50))
	loop.ShrinkFactor = envFloat("RULE_SHRINK_FACTOR", 0.8)

	extractor, err := httpx.NewExtractor(env("TRUSTED_PROXY_CIDRS", ""))
	if err != nil {
		return fmt.Errorf("trusted proxies: %w", err)
	}

	maxRequestBodyBytes := int64(envInt("MAX_REQUEST_BODY_BYTES", 1<<20))
	if maxRequestBodyBytes <= 0 {
		maxRequestBodyBytes = 1 << 20
	}

	s := &Server{
		Guard:               g,
		Rules:               registry,
		Reputation:          rep,
		Violations:          recorder,
		Audit:               auditLogger,
		Loop:                loop,
		Events:              hub,
		Metrics:             m,
		Extractor:           extractor,
		HTTPClient:          telemetry.InstrumentClient(&http.Client{Timeout: time.Millisecond * time.Duration(envInt("WEBHOOK_TIMEOUT_MS", 3000))}),
		AdminToken:          adminToken,
		WebhookURL:          env("WEBHOOK_URL", ""),
		WebhookRetries:      envInt("WEBHOOK_RETRIES", 1),
		WebhookRetryDelay:   time.Millisecond * time.Duration(envInt("WEBHOOK_RETRY_DELAY_MS", 100)),
		MaxRequestBodyBytes: maxRequestBodyBytes,
	}

	if startLoops != nil {
		startLoops(s)
	}

	addr := env("ADDR", ":8080")
	log.Printf("gateway listening on %s", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 30),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	if listen == nil {
		return fmt.Errorf("listen function required")
	}
	return listen(server)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware(env("CORS_ALLOWED_ORIGINS", "")))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(telemetry.HTTPMiddleware("gateway"))
	r.Use(s.limitRequestBodyMiddleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.Extractor.Middleware)
		r.Post("/v1/check", s.handleCheck)
	})

	admin := chi.NewRouter()
	admin.Use(auth.AdminBearerMiddleware(s.AdminToken))
	admin.Get("/metrics", s.Metrics.Handler())
	admin.Get("/metrics/prometheus", s.Metrics.PrometheusHandler())
	admin.Get("/v1/stream", s.streamEvents)
	admin.Get("/v1/rules", s.listRules)
	admin.Post("/v1/rules", s.upsertRule)
	admin.Get("/v1/rules/{rule_id}", s.getRule)
	admin.Delete("/v1/rules/{rule_id}", s.deleteRule)
	admin.Get("/v1/clients/{client_id}/status", s.clientStatus)
	admin.Post("/v1/clients/{client_id}/whitelist", s.whitelistClient)
	admin.Delete("/v1/clients/{client_id}/whitelist", s.unwhitelistClient)
	admin.Post("/v1/clients/{client_id}/blacklist", s.blacklistClient)
	admin.Delete("/v1/clients/{client_id}/blacklist", s.unblacklistClient)
	admin.Get("/v1/violations/stats", s.violationStats)
	admin.Get("/v1/audit/events", s.queryAudit)
	admin.Post("/v1/audit/events", s.logSecurityEvent)
	admin.Get("/v1/audit/verify", s.verifyAudit)
	admin.Get("/v1/audit/export", s.exportAudit)
	admin.Get("/v1/audit/report", s.auditReport)
	admin.Post("/v1/maintenance/run", s.runMaintenanceNow)
	r.Mount("/admin", admin)
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(statusCode int) {
	s.code = statusCode
	s.ResponseWriter.WriteHeader(statusCode)
}

// Hijack exposes the underlying writer's http.Hijacker so websocket
// upgrades still work behind the metrics wrapper.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}

func (srv *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: 200}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		path := r.Method + " " + httpx.NormalizePath(r.URL.Path)
		srv.Metrics.Observe(path, rec.code, elapsed)
		srv.Metrics.ObserveLatency(path, elapsed)
	})
}

func (s *Server) limitRequestBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.MaxRequestBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err == nil {
		return body, true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		httpx.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	httpx.Error(w, http.StatusBadRequest, "invalid request body")
	return nil, false
}

// buildKeyStore picks the signing key source: an explicit key file, Vault
// when an address is configured, and the environment variable otherwise.
func buildKeyStore() auth.KeyStore {
	if path := env("AUDIT_SIGNING_KEY_FILE", ""); path != "" {
		return auth.FileKeyStore{Path: path}
	}
	if addr := env("VAULT_ADDR", ""); addr != "" {
		return auth.VaultKeyStore{
			Addr:       addr,
			Token:      env("VAULT_TOKEN", ""),
			Namespace:  env("VAULT_NAMESPACE", ""),
			Mount:      env("VAULT_KV_MOUNT", "secret"),
			SecretPath: env("VAULT_SIGNING_KEY_PATH", "skillswap/audit"),
			Field:      env("VAULT_SIGNING_KEY_FIELD", "signing_key"),
			Timeout:    time.Millisecond * time.Duration(envInt("VAULT_LOOKUP_TIMEOUT_MS", 1500)),
			MaxRetries: envInt("VAULT_LOOKUP_RETRIES", 1),
			RetryDelay: time.Millisecond * time.Duration(envInt("VAULT_LOOKUP_RETRY_DELAY_MS", 100)),
		}
	}
	return auth.EnvKeyStore{}
}

func loadRulesFile(registry *rules.Registry, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var loaded []models.Rule
	if err := json.Unmarshal(raw, &loaded); err != nil {
		return err
	}
	for _, rule := range loaded {
		if err := registry.Register(rule); err != nil {
			return fmt.Errorf("rule %q: %w", rule.ID, err)
		}
	}
	log.Printf("gateway: loaded %d rules from %s", len(loaded), path)
	return nil
}

// defaultRule is the catch-all per-client limit used when no rules file is
// configured.
func defaultRule(perMinute int) models.Rule {
	if perMinute <= 0 {
		perMinute = 240
	}
	return models.Rule{
		ID:       "default-client-rate",
		Name:     "Default per-client rate limit",
		Enabled:  true,
		Priority: 0,
		Config: models.Configuration{
			Limit:     perMinute,
			Window:    time.Minute,
			Algorithm: models.AlgorithmSlidingWindow,
		},
		Actions: models.Actions{Block: true, Log: true},
	}
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}
