package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"liaison/internal/audit"
	"liaison/internal/callback"
	"liaison/internal/gateway"
	"liaison/internal/gateway/peerhttp"
	"liaison/internal/platform/config"
	"liaison/internal/platform/httpserver"
	"liaison/internal/platform/logger"
	"liaison/internal/platform/metrics"
	"liaison/internal/platform/redis"
	"liaison/internal/queue"
	"liaison/internal/resolve"
	"liaison/internal/resolve/cache"
	"liaison/internal/resolve/directoryhttp"
	"liaison/internal/seal"
	"liaison/internal/session"
	"liaison/internal/token"
	httptransport "liaison/internal/transport/http"
	dErrors "liaison/pkg/domain-errors"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in the internal services.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "liaison:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	keys, err := seal.ParseKeypair(cfg.SealingPublicKey, cfg.SealingPrivateKey)
	if err != nil {
		return fmt.Errorf("load sealing keypair: %w", err)
	}

	// Queue storage: Postgres when a DSN is configured, in-memory otherwise.
	var queueStore queue.Store
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		pg := queue.NewPostgres(db)
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate queue schema: %w", err)
		}
		queueStore = pg
	} else {
		log.Warn("no postgres DSN configured, queued messages are volatile")
		queueStore = queue.NewMemoryStore()
	}
	queueSvc := queue.NewService(queueStore, queue.WithLogger(log), queue.WithMetrics(m))

	// Audit trail: Kafka when brokers are configured, in-memory otherwise.
	var auditStore audit.Store
	if cfg.KafkaBrokers != "" {
		kafka, err := audit.NewKafka(ctx, strings.Split(cfg.KafkaBrokers, ","), cfg.AuditTopic)
		if err != nil {
			return fmt.Errorf("connect kafka audit store: %w", err)
		}
		defer kafka.Close()
		auditStore = kafka
	} else {
		auditStore = audit.NewInMemoryStore()
	}
	trail := audit.NewTrail(auditStore, audit.WithLogger(log))

	// Counterparty directory and address-ownership index.
	if cfg.DirectoryURL == "" {
		return errors.New("LIAISON_DIRECTORY_URL is required")
	}
	var directory resolve.Directory = directoryhttp.New(cfg.DirectoryURL)
	indexURL := cfg.OwnershipIndexURL
	if indexURL == "" {
		indexURL = cfg.DirectoryURL
	}
	index := directoryhttp.New(indexURL)

	rdb, err := redis.New(cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if rdb != nil {
		defer rdb.Close()
		directory = cache.NewDirectory(directory, rdb.Client, cache.WithLogger(log))
	}

	resolver := resolve.New(directory, index, resolve.WithLogger(log), resolve.WithMetrics(m))
	sealer := seal.New(keys)
	registry := session.NewRegistry(session.WithLogger(log), session.WithMetrics(m))
	correlator := callback.New(
		callback.WithTimeout(cfg.CallbackTimeout),
		callback.WithLogger(log),
		callback.WithMetrics(m),
	)
	registry.OnClose = correlator.CancelSession

	peers := peerhttp.New(peerhttp.WithHTTPClient(&http.Client{Timeout: cfg.PeerDialTimeout}))

	gw := gateway.New(resolver, sealer, registry, correlator, queueSvc, peers,
		gateway.WithLogger(log),
		gateway.WithMetrics(m),
		gateway.WithAuditTrail(trail),
		gateway.WithVersion(cfg.Version),
	)

	jwtSvc := token.NewJWTService(cfg.JWTSigningKey, "liaison", "liaison-clients")
	router := httptransport.NewRouter(
		httptransport.NewHandler(gw, log),
		httptransport.NewStreamHandler(registry, correlator, log),
		token.NewMiddlewareAdapter(jwtSvc),
		log,
	)

	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return trail.Run(gctx)
	})
	g.Go(func() error {
		log.Info("starting liaison gateway", "addr", cfg.Addr, "version", cfg.Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", "deadline", cfg.ShutdownDeadline)

		// Streams first so connected clients see session_closed before the
		// listener stops accepting.
		registry.Shutdown(dErrors.New(dErrors.CodeSessionClosed, "gateway shutting down"))

		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownDeadline)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
