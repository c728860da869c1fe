package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/99designs/gqlgen/graphql"
	gqlhandler "github.com/99designs/gqlgen/graphql/handler"
	"github.com/99designs/gqlgen/graphql/handler/extension"
	"github.com/99designs/gqlgen/graphql/handler/lru"
	gqltransport "github.com/99designs/gqlgen/graphql/handler/transport"
	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/sutra-kernel/sutra/core"
	"github.com/sutra-kernel/sutra/metrics"
	"github.com/sutra-kernel/sutra/sutra"
)

// GraphQLConfig configures the GraphQL adapter.
type GraphQLConfig struct {
	Port                int
	Path                string
	PlaygroundPath      string
	EnablePlayground    bool
	EnableIntrospection bool
	EnableMetrics       bool
	ComplexityLimit     int
	MaxDepth            int
}

// DefaultGraphQLConfig returns sane defaults for local development.
func DefaultGraphQLConfig() GraphQLConfig {
	return GraphQLConfig{
		Port:                8082,
		Path:                "/graphql",
		PlaygroundPath:      "/playground",
		EnablePlayground:    true,
		EnableIntrospection: true,
		EnableMetrics:       true,
		ComplexityLimit:     1000,
		MaxDepth:            15,
	}
}

// GraphQLResolverFunc resolves one GraphQL field against the kernel.
type GraphQLResolverFunc func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// ResolverRegistry maps typeName.fieldName to a resolver, populated once a
// concrete schema is compiled from SDL with gqlgen codegen.
type ResolverRegistry struct {
	mu        sync.RWMutex
	resolvers map[string]GraphQLResolverFunc
}

// NewResolverRegistry creates an empty registry.
func NewResolverRegistry() *ResolverRegistry {
	return &ResolverRegistry{resolvers: make(map[string]GraphQLResolverFunc)}
}

// Register attaches a resolver to typeName.fieldName.
func (r *ResolverRegistry) Register(typeName, fieldName string, resolver GraphQLResolverFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[typeName+"."+fieldName] = resolver
}

// Get looks up the resolver for typeName.fieldName.
func (r *ResolverRegistry) Get(typeName, fieldName string) (GraphQLResolverFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.resolvers[typeName+"."+fieldName]
	return fn, ok
}

// kernelSchema is a minimal graphql.ExecutableSchema: the Query/Mutation/
// Subscription fields a real deployment exposes come from a .graphql SDL
// compiled with gqlgen's codegen, which this module does not generate.
// AroundFields dispatches through the registry for whichever schema a
// caller plugs in; this placeholder keeps the transport wiring (playground,
// websocket subscriptions, complexity limiting) testable without codegen
// output, matching how a service without a compiled schema yet would stand
// up its GraphQL adapter.
type kernelSchema struct{}

func (kernelSchema) Schema() *ast.Schema { return &ast.Schema{} }

func (kernelSchema) Complexity(typeName, fieldName string, childComplexity int, args map[string]any) (int, bool) {
	return childComplexity, true
}

func (kernelSchema) Exec(ctx context.Context) graphql.ResponseHandler {
	return graphql.OneShot(graphql.ErrorResponse(ctx, "schema not compiled: run gqlgen codegen against a project-specific SDL"))
}

// GraphQLAdapter hosts the GraphQL transport: HTTP/WS endpoint, playground,
// and a resolver registry agents can populate once a schema exists.
type GraphQLAdapter struct {
	config    GraphQLConfig
	schema    graphql.ExecutableSchema
	registry  *ResolverRegistry
	hub       *sutra.CommHub
	metrics   *metrics.KernelMetrics
	log       core.Logger
	server    *http.Server
	mu        sync.RWMutex
	running   bool
}

// NewGraphQLAdapter builds a GraphQLAdapter. Pass a nil schema to use the
// built-in placeholder kernelSchema{}.
func NewGraphQLAdapter(config GraphQLConfig, hub *sutra.CommHub, schema graphql.ExecutableSchema, log core.Logger) (*GraphQLAdapter, error) {
	if log == nil {
		log = core.NopLogger()
	}
	if schema == nil {
		schema = kernelSchema{}
	}

	adapter := &GraphQLAdapter{
		config:   config,
		schema:   schema,
		registry: NewResolverRegistry(),
		hub:      hub,
		log:      log,
	}

	if config.EnableMetrics {
		var err error
		adapter.metrics, err = metrics.NewKernelMetrics()
		if err != nil {
			return nil, fmt.Errorf("graphql adapter: new metrics: %w", err)
		}
	}

	adapter.registerDefaultResolvers()
	return adapter, nil
}

// registerDefaultResolvers wires the kernel operations a compiled schema is
// expected to name Mutation.send, Mutation.broadcast and Query.stats. No
// resolver for Request is registered.
func (g *GraphQLAdapter) registerDefaultResolvers() {
	g.registry.Register("Mutation", "send", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		env := sutra.Envelope{
			From:    argString(args, "from"),
			To:      argString(args, "to"),
			Topic:   argString(args, "topic"),
			Payload: args["payload"],
		}
		sent, err := g.hub.Send(ctx, env, "")
		if err != nil {
			return nil, err
		}
		return sent.ToWire(), nil
	})

	g.registry.Register("Mutation", "broadcast", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		sent, err := g.hub.Broadcast(ctx, argString(args, "from"), argString(args, "topic"), args["payload"])
		if err != nil {
			return nil, err
		}
		return sent.ToWire(), nil
	})

	g.registry.Register("Query", "stats", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return g.hub.Stats(), nil
	})
}

func argString(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

// Registry exposes the resolver registry so a caller can register
// additional fields once a project-specific schema is compiled.
func (g *GraphQLAdapter) Registry() *ResolverRegistry { return g.registry }

// Start wires the gqlgen handler (HTTP, WS subscriptions, playground) and
// launches the server.
func (g *GraphQLAdapter) Start(ctx context.Context) error {
	g.mu.Lock()
	g.running = true
	g.mu.Unlock()

	srv := gqlhandler.New(g.schema)
	srv.AddTransport(gqltransport.Options{})
	srv.AddTransport(gqltransport.GET{})
	srv.AddTransport(gqltransport.POST{})
	srv.AddTransport(gqltransport.Websocket{KeepAlivePingInterval: 10 * time.Second})
	srv.SetQueryCache(lru.New(1000))

	if g.config.ComplexityLimit > 0 {
		srv.Use(extension.FixedComplexityLimit(g.config.ComplexityLimit))
	}

	srv.AroundFields(func(ctx context.Context, next graphql.Resolver) (interface{}, error) {
		fc := graphql.GetFieldContext(ctx)
		if fc == nil {
			return next(ctx)
		}
		resolver, ok := g.registry.Get(fc.Object, fc.Field.Name)
		if !ok {
			return next(ctx)
		}
		args := make(map[string]interface{}, len(fc.Args))
		for k, v := range fc.Args {
			args[k] = v
		}
		return resolver(ctx, args)
	})

	if g.metrics != nil {
		srv.AroundOperations(func(ctx context.Context, next graphql.OperationHandler) graphql.ResponseHandler {
			start := time.Now()
			opCtx := graphql.GetOperationContext(ctx)
			handler := next(ctx)
			if opCtx != nil && opCtx.Operation != nil {
				g.metrics.RecordSend(ctx, opCtx.Operation.Name, time.Since(start), true)
			}
			return handler
		})
	}

	mux := http.NewServeMux()
	mux.Handle(g.config.Path, srv)
	if g.config.EnablePlayground {
		mux.Handle(g.config.PlaygroundPath, playground.Handler("Sutra Playground", g.config.Path))
	}

	g.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", g.config.Port),
		Handler: mux,
	}

	go func() {
		if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			g.log.Error("graphql adapter stopped unexpectedly")
		}
	}()

	return nil
}

// Stop gracefully shuts the GraphQL server down.
func (g *GraphQLAdapter) Stop(ctx context.Context) error {
	g.mu.Lock()
	g.running = false
	g.mu.Unlock()

	if g.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return g.server.Shutdown(shutdownCtx)
}

// IsRunning reports whether Start has been called without a matching Stop.
func (g *GraphQLAdapter) IsRunning() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.running
}
