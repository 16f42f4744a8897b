package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	credhandler "emblem/internal/credential/handler"
	credports "emblem/internal/credential/ports"
	credservice "emblem/internal/credential/service"
	credstore "emblem/internal/credential/store"
	"emblem/internal/issuance"
	"emblem/internal/platform/config"
	"emblem/internal/platform/kafka/consumer"
	"emblem/internal/platform/kafka/producer"
	"emblem/internal/platform/logger"
	"emblem/internal/platform/metrics"
	rulehandler "emblem/internal/rules/handler"
	ruleservice "emblem/internal/rules/service"
	rulestore "emblem/internal/rules/store"
	"emblem/internal/signing"
	"emblem/migrations"
	"emblem/pkg/platform/audit"
	auditpub "emblem/pkg/platform/audit/publisher"
	auditpg "emblem/pkg/platform/audit/store/postgres"
)

// main wires dependencies and keeps the server lifecycle small. Business
// logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	registry, err := signing.ParseRegistry(cfg.SigningKeysJSON)
	if err != nil {
		log.Error("invalid SIGNING_KEYS", "error", err)
		os.Exit(1)
	}

	// Stores: postgres when DATABASE_URL is set, in-memory otherwise.
	var (
		assertions  credstore.AssertionStore
		lifecycle   credstore.LifecycleStore
		documents   credports.DocumentStore
		rules       rulestore.Store
		evaluations rulestore.EvaluationStore
		auditStore  audit.Store
	)
	if cfg.PostgresURL != "" {
		db, err := sql.Open("pgx", cfg.PostgresURL)
		if err != nil {
			log.Error("open postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := applyMigrations(context.Background(), db); err != nil {
			log.Error("apply migrations", "error", err)
			os.Exit(1)
		}

		assertions = credstore.NewPostgresAssertions(db)
		lifecycle = credstore.NewPostgresLifecycle(db)
		documents = credstore.NewPostgresDocuments(db)
		rules = rulestore.NewPostgres(db)
		evaluations = rulestore.NewPostgresEvaluations(db)
		auditStore = auditpg.New(db)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		assertions = credstore.NewInMemoryAssertions()
		lifecycle = credstore.NewInMemoryLifecycle()
		documents = credports.NewInMemoryDocuments()
		rules = rulestore.NewInMemory()
		evaluations = rulestore.NewInMemoryEvaluations()
		auditStore = audit.NewInMemoryStore()
	}

	auditor := auditpub.New(auditStore,
		auditpub.WithAsyncBuffer(cfg.AuditBufferSize),
		auditpub.WithLogger(log),
	)
	defer auditor.Close()

	// Credential context.
	gateway := signing.NewGateway(registry)
	verifier := signing.NewVerifier(registry)
	engine := credservice.NewEngine(assertions, lifecycle, documents, verifier,
		credservice.WithMetrics(m),
		credservice.WithLogger(log),
	)
	publisher := credservice.NewPublisher(assertions, documents, gateway, registry, cfg.PublicBaseURL,
		credservice.WithPublisherMetrics(m),
		credservice.WithPublisherLogger(log),
		credservice.WithMinimumSize(cfg.StatusListMinSize),
	)
	lifecycleSvc := credservice.NewLifecycle(assertions, lifecycle, auditor,
		credservice.WithLifecycleLogger(log),
	)

	// Rules context.
	issueGateway := issuance.NewStoreBackedGateway(assertions, documents, gateway, registry, cfg.PublicBaseURL,
		issuance.WithGatewayAuditor(auditor),
		issuance.WithGatewayLogger(log),
	)
	workflow := ruleservice.NewWorkflow(rules, auditor,
		ruleservice.WithWorkflowMetrics(m),
		ruleservice.WithWorkflowLogger(log),
	)
	evaluation := ruleservice.NewEvaluation(rules, evaluations, assertions, issueGateway, auditor,
		ruleservice.WithEvaluationMetrics(m),
		ruleservice.WithEvaluationLogger(log),
	)

	// Async issuance channel, enabled when brokers are configured.
	var enqueueHandler *issuance.HTTPHandler
	if cfg.KafkaBrokers != "" {
		prod, err := producer.New(producer.Config{Brokers: cfg.KafkaBrokers, Retries: 5}, log)
		if err != nil {
			log.Error("create kafka producer", "error", err)
			os.Exit(1)
		}
		defer prod.Close()

		var idempotency issuance.IdempotencyStore
		if cfg.RedisURL != "" {
			opts, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				log.Error("invalid REDIS_URL", "error", err)
				os.Exit(1)
			}
			idempotency = issuance.NewRedisIdempotency(redis.NewClient(opts), 24*time.Hour)
		} else {
			log.Warn("REDIS_URL not set, using in-memory idempotency store")
			idempotency = issuance.NewInMemoryIdempotency()
		}

		handler := issuance.NewHandler(issueGateway, idempotency,
			issuance.WithHandlerMetrics(m),
			issuance.WithHandlerLogger(log),
		)
		cons, err := consumer.New(consumer.Config{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.IssuanceGroupID,
			Topic:   cfg.IssuanceTopic,
		}, handler, log)
		if err != nil {
			log.Error("create kafka consumer", "error", err)
			os.Exit(1)
		}
		cons.Start()
		defer cons.Close()

		enqueueHandler = issuance.NewHTTPHandler(issuance.NewEnqueuer(prod, cfg.IssuanceTopic))
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())
	router.Route("/v1", func(r chi.Router) {
		credhandler.New(engine, publisher, lifecycleSvc, log).Register(r)
		rulehandler.New(workflow, evaluation, log).Register(r)
		if enqueueHandler != nil {
			enqueueHandler.Register(r)
		}
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("starting emblem server", "addr", cfg.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server gracefully")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

// applyMigrations executes all *.up.sql files from the embedded migrations.FS
// in lexical order. Statements are idempotent (CREATE TABLE IF NOT EXISTS), so
// rerunning on restart is safe.
func applyMigrations(ctx context.Context, db *sql.DB) error {
	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := fs.ReadFile(migrations.FS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("execute migration %s: %w", file, err)
		}
	}
	return nil
}
