package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-erp-approvals/internal/client"
	"github.com/pesio-ai/be-erp-approvals/internal/handler"
	"github.com/pesio-ai/be-erp-approvals/internal/repository"
	"github.com/pesio-ai/be-erp-approvals/internal/service"
	"github.com/pesio-ai/be-erp-approvals/internal/workflow"
	"github.com/pesio-ai/be-erp-approvals/migrations"
	"github.com/pesio-ai/be-erp-approvals/pkg/auth"
	"github.com/pesio-ai/be-erp-approvals/pkg/config"
	"github.com/pesio-ai/be-erp-approvals/pkg/database"
	"github.com/pesio-ai/be-erp-approvals/pkg/errors"
	"github.com/pesio-ai/be-erp-approvals/pkg/logger"
	"github.com/pesio-ai/be-erp-approvals/pkg/middleware"
	"github.com/pesio-ai/be-erp-approvals/pkg/nats"
)

func main() {
	// Load configuration
	cfg, err := config.Load(getEnv("APPROVALS_CONFIG_FILE", ""))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Str("db_driver", cfg.Database.Driver).
		Msg("Starting Approvals Service")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize store
	var store repository.Store
	switch cfg.Database.Driver {
	case "memory":
		mem := repository.NewMemoryStore()
		if cfg.Database.SeedPath != "" {
			n, err := mem.LoadSeed(ctx, cfg.Database.SeedPath)
			if err != nil {
				log.Fatal().Err(err).Str("path", cfg.Database.SeedPath).Msg("Failed to seed in-memory store")
			}
			log.Info().Int("profiles", n).Msg("In-memory store seeded")
		}
		store = mem
		log.Warn().Msg("Using in-memory store; state is lost on restart")
	default:
		db, err := database.New(ctx, database.Config{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			Database:    cfg.Database.Database,
			SSLMode:     cfg.Database.SSLMode,
			MaxConns:    cfg.Database.MaxConns,
			MinConns:    cfg.Database.MinConns,
			MaxConnTime: cfg.Database.MaxConnTime,
			MaxIdleTime: cfg.Database.MaxIdleTime,
			HealthCheck: cfg.Database.HealthCheck,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()
		log.Info().Msg("Database connection established")

		if cfg.Database.RunMigrations {
			if err := db.RunMigrations(migrations.FS, ".", log.Logger); err != nil {
				log.Fatal().Err(err).Msg("Failed to run database migrations")
			}
		}
		store = repository.NewPostgresStore(db)
	}

	// Workflow definitions
	defs := workflow.DefaultDefinitions()
	if cfg.Workflow.DefinitionsPath != "" {
		defs, err = workflow.LoadDefinitions(cfg.Workflow.DefinitionsPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Workflow.DefinitionsPath).Msg("Failed to load workflow definitions")
		}
	}
	registry, err := workflow.NewRegistry(defs)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid workflow definitions")
	}
	eval, err := workflow.NewEvaluator()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create predicate evaluator")
	}
	if err := registry.CompileExpressions(eval); err != nil {
		log.Fatal().Err(err).Msg("Invalid stage predicate expression")
	}

	policies := workflow.DefaultLeavePolicies()
	if cfg.Workflow.LeavePoliciesPath != "" {
		policies, err = workflow.LoadLeavePolicies(cfg.Workflow.LeavePoliciesPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Workflow.LeavePoliciesPath).Msg("Failed to load leave policies")
		}
	}

	resolver := workflow.NewResolver(registry, eval, cfg.Workflow.OverrideRoles, log.Component("resolver").Logger)

	// Directory, optionally cached in redis
	var directory repository.ProfileReader = store
	if cfg.Redis.Enabled {
		rdb, err := client.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to redis")
		}
		defer rdb.Close()
		directory = client.NewDirectoryCache(rdb, store, cfg.Redis.CacheTTL, log.Component("directory_cache").Logger)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Directory cache enabled")
	}

	// Notification channels
	dispatchers := []service.Dispatcher{service.NewInAppDispatcher(store)}
	if cfg.NATS.Enabled {
		nc, err := nats.Connect(ctx, nats.Config{
			URL:      cfg.NATS.URL,
			Name:     cfg.Service.Name,
			Stream:   cfg.NATS.Stream,
			Subjects: []string{client.SubjectPrefix + ".>"},
		}, log.Component("nats").Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nc.Close()
		dispatchers = append(dispatchers, client.NewNotificationPublisher(nc, log.Component("notifications").Logger))
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS notification publisher enabled")
	}
	notifier := service.NewNotifier(directory, registry, resolver, log.Component("notifier"), dispatchers...)

	// Initialize services
	approvalService, err := service.NewApprovalService(store, directory, registry, resolver, service.Extensions{
		Gates: map[string]service.TerminalGate{workflow.GateEvidence: service.NewEvidenceGate(policies)},
		Hooks: map[string]service.TerminalHook{workflow.HookDeductLeaveBalance: service.LeaveBalanceHook{}},
	}, notifier, log.Component("approvals"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize approval service")
	}
	ticketService := service.NewTicketService(approvalService)
	leaveService := service.NewLeaveService(approvalService, policies)

	if cfg.SLA.Enabled {
		sla := service.NewSLAService(approvalService, notifier, log.Component("sla"))
		if err := sla.Start(cfg.SLA.Schedule); err != nil {
			log.Fatal().Err(err).Msg("Failed to start SLA sweep")
		}
		defer sla.Stop()
	}

	tokens := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)

	// Setup HTTP routes
	mux := http.NewServeMux()
	handler.NewHTTPHandler(approvalService, ticketService, leaveService, log.Component("http")).Register(mux)

	// Apply middleware
	h := middleware.Chain(mux,
		middleware.Logger(&log.Logger),
		middleware.Recovery(&log.Logger),
		middleware.CORS(cfg.Server.CORSOrigins),
		middleware.Timeout(cfg.Server.RequestTimeout),
		middleware.Auth(tokens, func(w http.ResponseWriter, _ *http.Request, err error) {
			handler.WriteError(w, errors.Unauthenticated(err.Error()))
		}, handler.HealthPath),
	)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start gRPC server
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		handler.AuthInterceptor(tokens, "/grpc.health.v1.", "/grpc.reflection."),
	))
	handler.NewGRPCHandler(approvalService, log.Logger).Register(grpcServer)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(handler.ServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer) // Enable reflection for debugging

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Stop gRPC server gracefully
	grpcServer.GracefulStop()

	log.Info().Msg("Server stopped")
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
