package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/admitpath/portal-backend/idp/idpfactory"
	"github.com/admitpath/portal-backend/monitoring"
	"github.com/admitpath/portal-backend/shared/utils"
	v1 "github.com/admitpath/portal-backend/v1"
	v1handlers "github.com/admitpath/portal-backend/v1/handlers"
	v1middleware "github.com/admitpath/portal-backend/v1/middleware"
)

// publicPaths are served without a session token. Break-glass routes carry
// their own one-time token, invitation validation runs before signup.
var publicPaths = []string{
	"/health",
	"/metrics",
	"/api/v1/auth/signup",
	"/api/v1/invitations/validate/",
	"/api/v1/break-glass/",
}

func main() {
	// Load .env file if it exists (optional - fails silently if not found)
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true}))
	slog.SetDefault(logger)

	slog.Info("Starting portal backend initialization")

	ctx := context.Background()

	// Metrics
	metricsShutdown, err := monitoring.Setup(ctx, monitoring.Config{ServiceName: "portal-backend"})
	if err != nil {
		slog.Error("Failed to set up metrics", "error", err)
		os.Exit(1)
	}

	// Database
	dbConfig := v1.NewDatabaseConfig()
	gormDB, err := v1.ConnectGormDB(dbConfig)
	if err != nil {
		slog.Error("Failed to connect to GORM database", "error", err)
		os.Exit(1)
	}

	// Identity provider
	provider, err := idpfactory.NewIdentityProvider(idpfactory.FactoryConfig{
		ProviderType: idpfactory.ProviderType(utils.GetEnvOrDefault("IDP_PROVIDER", "authsvc")),
		BaseURL:      os.Getenv("IDP_BASE_URL"),
		ClientID:     os.Getenv("IDP_CLIENT_ID"),
		ClientSecret: os.Getenv("IDP_CLIENT_SECRET"),
		Scopes:       strings.Fields(os.Getenv("IDP_SCOPES")),
	})
	if err != nil {
		slog.Error("Failed to initialize identity provider", "error", err)
		os.Exit(1)
	}

	// Handlers and services
	v1Handler := v1handlers.NewV1Handler(gormDB, provider)

	// Bring profiles created before the membership table onto memberships so
	// authorization never has to fall back to the legacy role column.
	if _, err := v1Handler.UserService().BackfillLegacyRoles(ctx); err != nil {
		slog.Error("Failed to backfill legacy role memberships", "error", err)
		os.Exit(1)
	}

	apiMux := http.NewServeMux()
	v1Handler.SetupV1Routes(apiMux)

	// Middleware chain
	corsMiddleware := v1middleware.CORSMiddleware()

	idpBaseURL := os.Getenv("IDP_BASE_URL")
	if idpBaseURL == "" {
		slog.Error("IDP_BASE_URL environment variable is required")
		os.Exit(1)
	}

	jwtAuthMiddleware := v1middleware.NewJWTAuthMiddleware(v1middleware.JWTAuthConfig{
		JWKSURL:          utils.GetEnvOrDefault("IDP_JWKS_URL", idpBaseURL+"/oauth2/jwks"),
		ExpectedIssuer:   utils.GetEnvOrDefault("IDP_ISSUER", idpBaseURL),
		ExpectedAudience: os.Getenv("IDP_AUDIENCE"),
		Timeout:          10 * time.Second,
		SkipPaths:        publicPaths,
	})

	currentUserMiddleware := v1middleware.NewCurrentUserMiddleware(v1Handler.UserService(), publicPaths)

	// Apply middleware chain (CORS -> JWT auth -> current user) to the API mux
	protectedAPIHandler := corsMiddleware(
		jwtAuthMiddleware.AuthenticateJWT(
			currentUserMiddleware.ResolveUser(apiMux),
		),
	)

	// Create the MAIN (top-level) mux for all incoming traffic
	topLevelMux := http.NewServeMux()

	topLevelMux.Handle("/health", utils.PanicRecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		type DBHealth struct {
			Status   string `json:"status"`
			Error    string `json:"error,omitempty"`
			Database string `json:"database,omitempty"`
		}
		type HealthStatus struct {
			Status   string   `json:"status"`
			Service  string   `json:"service"`
			Database DBHealth `json:"database"`
		}

		status := HealthStatus{
			Status:   "healthy",
			Service:  "portal-backend",
			Database: DBHealth{Status: "unknown"},
		}

		pingCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		sqlDB, err := gormDB.DB()
		if err != nil {
			status.Database = DBHealth{Status: "unhealthy", Error: fmt.Sprintf("failed to get sql.DB: %v", err)}
			status.Status = "unhealthy"
		} else if err := sqlDB.PingContext(pingCtx); err != nil {
			status.Database = DBHealth{Status: "unhealthy", Error: err.Error()}
			status.Status = "unhealthy"
		} else {
			status.Database = DBHealth{Status: "healthy", Database: dbConfig.Database}
		}

		statusCode := http.StatusOK
		if status.Status != "healthy" {
			statusCode = http.StatusServiceUnavailable
		}

		utils.RespondWithJSON(w, statusCode, status)
	})))

	topLevelMux.Handle("/metrics", monitoring.Handler())

	// All traffic to /api/v1/ passes through the middleware chain
	topLevelMux.Handle("/api/v1/", protectedAPIHandler)

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}

	addr := ":" + port
	server := &http.Server{
		Addr:         addr,
		Handler:      topLevelMux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Portal backend starting", "port", port, "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to start portal backend", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down portal backend...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if err := metricsShutdown(shutdownCtx); err != nil {
		slog.Error("Failed to shut down metrics", "error", err)
	}

	// Gracefully close database connection
	if sqlDB, err := gormDB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			slog.Error("Failed to close database connection", "error", err)
		}
	}

	slog.Info("Portal backend exited")
}
