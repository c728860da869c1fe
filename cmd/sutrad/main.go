// Command sutrad runs the sutra kernel as a standalone daemon: a CommHub
// plus whichever transports and bridges are enabled by flag, serving until
// SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sutra-kernel/sutra/bridge"
	"github.com/sutra-kernel/sutra/core"
	"github.com/sutra-kernel/sutra/health"
	"github.com/sutra-kernel/sutra/metrics"
	"github.com/sutra-kernel/sutra/observability"
	"github.com/sutra-kernel/sutra/persistence"
	"github.com/sutra-kernel/sutra/sutra"
	"github.com/sutra-kernel/sutra/transport"
)

func main() {
	restPort := flag.Int("rest-port", 8080, "REST adapter port (0 disables it)")
	grpcPort := flag.Int("grpc-port", 50051, "gRPC adapter port (0 disables it)")
	wsPort := flag.Int("ws-port", 8081, "WebSocket adapter port (0 disables it)")
	graphqlPort := flag.Int("graphql-port", 8082, "GraphQL adapter port (0 disables it)")

	natsURL := flag.String("nats-url", "", "NATS URL to bridge to (empty disables the bridge)")
	kafkaBrokers := flag.String("kafka-brokers", "", "Comma-separated Kafka brokers (empty disables the bridge)")
	redisAddr := flag.String("redis-addr", "", "Redis address to bridge to (empty disables the bridge)")
	bridgeTopics := flag.String("bridge-topics", "", "Comma-separated topics relayed across every enabled bridge")

	postgresDSN := flag.String("postgres-dsn", "", "Postgres DSN for saga history (empty disables persistence)")
	postgresMigrationsDir := flag.String("postgres-migrations-dir", "./migrations/postgres", "Directory of goose migrations to apply on startup")
	mongoURI := flag.String("mongo-uri", "", "Mongo URI for saga history (empty disables persistence)")

	tracingEnabled := flag.Bool("tracing-enabled", false, "Enable OpenTelemetry tracing")
	tracingExporter := flag.String("tracing-exporter", "stdout", "Trace exporter: jaeger, zipkin, otlp, stdout")
	tracingEndpoint := flag.String("tracing-endpoint", "", "Trace exporter endpoint")
	tracingSampleRate := flag.Float64("tracing-sample-rate", 1.0, "Trace sampling rate, 0.0-1.0")

	metricsEnabled := flag.Bool("metrics-enabled", true, "Enable OpenTelemetry metrics on transport adapters")

	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")

	flag.Parse()

	log := buildLogger(*logLevel)
	defer log.Sync()

	if err := run(log, config{
		restPort:              *restPort,
		grpcPort:              *grpcPort,
		wsPort:                *wsPort,
		graphqlPort:           *graphqlPort,
		natsURL:               *natsURL,
		kafkaBrokers:          *kafkaBrokers,
		redisAddr:             *redisAddr,
		bridgeTopics:          splitNonEmpty(*bridgeTopics),
		postgresDSN:           *postgresDSN,
		postgresMigrationsDir: *postgresMigrationsDir,
		mongoURI:              *mongoURI,
		tracingEnabled:        *tracingEnabled,
		tracingExporter:       *tracingExporter,
		tracingEndpoint:       *tracingEndpoint,
		tracingSampleRate:     *tracingSampleRate,
		metricsEnabled:        *metricsEnabled,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "sutrad: %v\n", err)
		os.Exit(1)
	}
}

type config struct {
	restPort, grpcPort, wsPort, graphqlPort int

	natsURL      string
	kafkaBrokers string
	redisAddr    string
	bridgeTopics []string

	postgresDSN           string
	postgresMigrationsDir string
	mongoURI              string

	tracingEnabled    bool
	tracingExporter   string
	tracingEndpoint   string
	tracingSampleRate float64

	metricsEnabled bool
}

func splitNonEmpty(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func buildLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		l = zap.NewNop()
	}
	return l
}

// stoppable is satisfied by every transport adapter wired below.
type stoppable interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type closeable interface {
	Close() error
}

func run(zlog *zap.Logger, cfg config) error {
	log := core.NewZapLogger(zlog)

	tracing, err := observability.NewTracingManager(observability.Config{
		Enabled:          cfg.tracingEnabled,
		ServiceName:      "sutrad",
		ServiceVersion:   "dev",
		Exporter:         cfg.tracingExporter,
		ExporterEndpoint: cfg.tracingEndpoint,
		SamplingRate:     cfg.tracingSampleRate,
		Environment:      "production",
	})
	if err != nil {
		return fmt.Errorf("build tracing manager: %w", err)
	}
	ctx := context.Background()
	if err := tracing.Start(ctx); err != nil {
		return fmt.Errorf("start tracing: %w", err)
	}
	defer tracing.Stop(ctx)

	hubCfg := sutra.DefaultHubConfig().WithLogger(log)
	if cfg.metricsEnabled {
		km, err := metrics.NewKernelMetrics()
		if err != nil {
			return fmt.Errorf("build kernel metrics: %w", err)
		}
		hubCfg = hubCfg.WithMetrics(km)
	}
	hub := sutra.NewCommHub(hubCfg)
	defer hub.Destroy(context.Background())

	dispatcher := health.NewDispatcher(log)
	dispatcher.Register(func(ctx context.Context, event core.HealthEvent, payload map[string]interface{}) error {
		log.Warn("health event", zap.String("event", string(event)))
		return nil
	})

	var stack []stoppable
	var closers []closeable

	if cfg.restPort > 0 {
		restCfg := transport.DefaultRESTConfig()
		restCfg.Port = cfg.restPort
		restCfg.EnableMetrics = cfg.metricsEnabled
		rest, err := transport.NewRESTAdapter(restCfg, hub, log.With(zap.String("adapter", "rest")))
		if err != nil {
			return fmt.Errorf("build rest adapter: %w", err)
		}
		stack = append(stack, rest)
	}

	if cfg.wsPort > 0 {
		wsCfg := transport.DefaultWebSocketConfig()
		wsCfg.Port = cfg.wsPort
		wsCfg.EnableMetrics = cfg.metricsEnabled
		ws, err := transport.NewWebSocketAdapter(wsCfg, hub, log.With(zap.String("adapter", "websocket")))
		if err != nil {
			return fmt.Errorf("build websocket adapter: %w", err)
		}
		stack = append(stack, ws)
	}

	if cfg.graphqlPort > 0 {
		gqlCfg := transport.DefaultGraphQLConfig()
		gqlCfg.Port = cfg.graphqlPort
		gqlCfg.EnableMetrics = cfg.metricsEnabled
		gql, err := transport.NewGraphQLAdapter(gqlCfg, hub, nil, log.With(zap.String("adapter", "graphql")))
		if err != nil {
			return fmt.Errorf("build graphql adapter: %w", err)
		}
		stack = append(stack, gql)
	}

	if cfg.grpcPort > 0 {
		grpcCfg := transport.DefaultGRPCConfig()
		grpcCfg.Port = cfg.grpcPort
		grpcCfg.EnableMetrics = cfg.metricsEnabled
		grpcAdapter, err := transport.NewGRPCAdapter(grpcCfg, hub, log.With(zap.String("adapter", "grpc")))
		if err != nil {
			return fmt.Errorf("build grpc adapter: %w", err)
		}
		// Generated service stubs attach here via grpcAdapter.RegisterService
		// before Start binds the listener; none are compiled into this build.
		stack = append(stack, grpcAdapter)
	}

	if cfg.natsURL != "" {
		natsCfg := bridge.DefaultNATSConfig()
		natsCfg.URL = cfg.natsURL
		natsBridge, err := bridge.NewNATSBridge(natsCfg, hub, log.With(zap.String("bridge", "nats")))
		if err != nil {
			return fmt.Errorf("build nats bridge: %w", err)
		}
		if err := relayBridge(ctx, cfg.bridgeTopics, natsBridge.RelayOutbound, natsBridge.RelayInbound); err != nil {
			return fmt.Errorf("wire nats bridge: %w", err)
		}
		closers = append(closers, natsBridge)
	}

	if cfg.kafkaBrokers != "" {
		kafkaCfg := bridge.DefaultKafkaConfig()
		kafkaCfg.Brokers = splitNonEmpty(cfg.kafkaBrokers)
		kafkaBridge := bridge.NewKafkaBridge(kafkaCfg, hub, log.With(zap.String("bridge", "kafka")))
		if err := relayBridge(ctx, cfg.bridgeTopics, kafkaBridge.RelayOutbound, func(ctx context.Context, topic string) error {
			kafkaBridge.RelayInbound(ctx, topic)
			return nil
		}); err != nil {
			return fmt.Errorf("wire kafka bridge: %w", err)
		}
		closers = append(closers, kafkaBridge)
	}

	if cfg.redisAddr != "" {
		redisCfg := bridge.DefaultRedisConfig()
		redisCfg.Addr = cfg.redisAddr
		redisBridge, err := bridge.NewRedisBridge(redisCfg, hub, log.With(zap.String("bridge", "redis")))
		if err != nil {
			return fmt.Errorf("build redis bridge: %w", err)
		}
		if err := relayBridge(ctx, cfg.bridgeTopics, redisBridge.RelayOutbound, func(ctx context.Context, topic string) error {
			redisBridge.RelayInbound(ctx, topic)
			return nil
		}); err != nil {
			return fmt.Errorf("wire redis bridge: %w", err)
		}
		closers = append(closers, redisBridge)
	}

	if cfg.postgresDSN != "" {
		if cfg.postgresMigrationsDir != "" {
			if err := persistence.Migrate(cfg.postgresDSN, cfg.postgresMigrationsDir); err != nil {
				return fmt.Errorf("migrate postgres: %w", err)
			}
		}
		pg, err := persistence.NewPostgresSagaHistory(ctx, persistence.PostgresConfig{DSN: cfg.postgresDSN, TableName: "saga_history"})
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()
	}

	if cfg.mongoURI != "" {
		mongoCfg := persistence.DefaultMongoConfig()
		mongoCfg.URI = cfg.mongoURI
		mg, err := persistence.NewMongoSagaHistory(ctx, mongoCfg)
		if err != nil {
			return fmt.Errorf("connect mongo: %w", err)
		}
		defer mg.Close(context.Background())
	}

	for _, s := range stack {
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("start adapter: %w", err)
		}
	}
	log.Info("sutrad started",
		zap.Int("restPort", cfg.restPort),
		zap.Int("grpcPort", cfg.grpcPort),
		zap.Int("wsPort", cfg.wsPort),
		zap.Int("graphqlPort", cfg.graphqlPort),
	)

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)
	<-sigC

	log.Info("sutrad shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, s := range stack {
		if err := s.Stop(shutdownCtx); err != nil {
			log.Warn("adapter stop failed", zap.Error(err))
		}
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.Warn("bridge close failed", zap.Error(err))
		}
	}

	return nil
}

// relayBridge wires a bridge's outbound relay (local hub -> remote) and
// inbound relay (remote -> local hub) for every configured topic.
func relayBridge(
	ctx context.Context,
	topics []string,
	relayOutbound func(agentID, topic string) (sutra.UnsubscribeHandle, error),
	relayInbound func(ctx context.Context, topic string) error,
) error {
	for _, topic := range topics {
		if _, err := relayOutbound("sutrad-bridge", topic); err != nil {
			return fmt.Errorf("relay outbound %q: %w", topic, err)
		}
		if err := relayInbound(ctx, topic); err != nil {
			return fmt.Errorf("relay inbound %q: %w", topic, err)
		}
	}
	return nil
}
