package internal

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dgellow/signin-gate/internal/auth"
	"github.com/dgellow/signin-gate/internal/config"
	"github.com/dgellow/signin-gate/internal/crypto"
	"github.com/dgellow/signin-gate/internal/idp"
	"github.com/dgellow/signin-gate/internal/log"
	"github.com/dgellow/signin-gate/internal/server"
	"github.com/dgellow/signin-gate/internal/session"
	"github.com/dgellow/signin-gate/internal/storage"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// SigninGate is the complete sign-in application
type SigninGate struct {
	config     config.Config
	httpServer *server.HTTPServer
	states     storage.StateStore
	cleanup    *storage.CleanupManager
}

// NewSigninGate builds the application and all of its dependencies
func NewSigninGate(ctx context.Context, cfg config.Config) (*SigninGate, error) {
	log.LogInfoWithFields("signingate", "Building sign-in gate", map[string]any{
		"baseURL":  cfg.Server.BaseURL,
		"provider": cfg.Provider.Name,
		"store":    string(cfg.State.Store),
	})

	states, err := setupStateStore(ctx, cfg.State)
	if err != nil {
		return nil, fmt.Errorf("failed to setup state store: %w", err)
	}

	handler, err := buildHTTPHandler(cfg, states, &http.Client{})
	if err != nil {
		_ = states.Close()
		return nil, fmt.Errorf("failed to build HTTP handler: %w", err)
	}

	gate := &SigninGate{
		config:     cfg,
		httpServer: server.NewHTTPServer(handler, cfg.Server.Addr),
		states:     states,
	}

	// Redis expires entries on its own
	if cfg.State.Store != config.StateStoreRedis && cfg.State.CleanupInterval > 0 {
		gate.cleanup = storage.NewCleanupManager(states, cfg.State.CleanupInterval)
	}

	return gate, nil
}

// Run serves until ctx is cancelled or the server fails, then shuts down
func (g *SigninGate) Run(ctx context.Context) error {
	log.LogInfoWithFields("signingate", "Starting sign-in gate", map[string]any{
		"addr": g.config.Server.Addr,
	})

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := g.httpServer.Start(); err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	if g.cleanup != nil {
		g.cleanup.Start(egCtx)
	}

	eg.Go(func() error {
		<-egCtx.Done()

		log.LogInfoWithFields("signingate", "Starting graceful shutdown", map[string]any{
			"timeout": shutdownTimeout.String(),
		})
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if g.cleanup != nil {
			g.cleanup.Stop()
		}
		if err := g.httpServer.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		return nil
	})

	err := eg.Wait()

	if closeErr := g.states.Close(); closeErr != nil {
		log.LogWarnWithFields("signingate", "Failed to close state store", map[string]any{
			"error": closeErr.Error(),
		})
	}

	if err != nil {
		log.LogErrorWithFields("signingate", "Shut down due to error", map[string]any{
			"error": err.Error(),
		})
		return err
	}
	log.LogInfoWithFields("signingate", "Application shutdown complete", nil)
	return nil
}

// setupStateStore creates the state store selected in config
func setupStateStore(ctx context.Context, cfg config.StateConfig) (storage.StateStore, error) {
	switch cfg.Store {
	case config.StateStoreRedis:
		log.LogInfoWithFields("storage", "Using Redis state store", map[string]any{
			"addr": cfg.Redis.Addr,
			"db":   cfg.Redis.DB,
		})
		return storage.NewRedisStateStore(ctx, storage.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Username:  cfg.Redis.Username,
			Password:  string(cfg.Redis.Password),
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, cfg.TTL)

	case config.StateStoreFirestore:
		log.LogInfoWithFields("storage", "Using Firestore state store", map[string]any{
			"project":    cfg.Firestore.Project,
			"database":   cfg.Firestore.Database,
			"collection": cfg.Firestore.Collection,
		})
		return storage.NewFirestoreStateStore(ctx, cfg.Firestore.Project, cfg.Firestore.Database, cfg.Firestore.Collection, cfg.TTL)

	case config.StateStoreMemory, "":
		log.LogInfoWithFields("storage", "Using in-memory state store", nil)
		return storage.NewMemoryStateStore(cfg.TTL), nil

	default:
		return nil, fmt.Errorf("unknown state store %q", cfg.Store)
	}
}

// buildHTTPHandler wires the login flow components and registers all routes
func buildHTTPHandler(cfg config.Config, states storage.StateStore, httpClient *http.Client) (http.Handler, error) {
	callbackURL, err := cfg.CallbackURL()
	if err != nil {
		return nil, fmt.Errorf("invalid callback URL: %w", err)
	}

	provider, err := idp.NewProvider(cfg.Provider, callbackURL, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity provider: %w", err)
	}

	secrets := make([][]byte, 0, len(cfg.Session.SigningKeys))
	for _, key := range cfg.Session.SigningKeys {
		secrets = append(secrets, []byte(key))
	}
	keys, err := crypto.NewKeyring(secrets)
	if err != nil {
		return nil, fmt.Errorf("failed to create signing keyring: %w", err)
	}

	sessions, err := session.NewManager(session.Config{
		CookieName: cfg.Session.CookieName,
		MaxAge:     cfg.Session.MaxAge,
	}, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	orchestrator := auth.NewOrchestrator(states, provider.Exchange, provider.UserInfo, provider.Claims, sessions)
	authHandlers := server.NewAuthHandlers(orchestrator, sessions, cfg.Server, cfg.State.TTL)

	log.LogDebugWithFields("signingate", "Login flow ready", map[string]any{
		"provider":    provider.Name,
		"callbackURL": callbackURL,
		"signingKeys": keys.Len(),
	})

	paths := cfg.Server
	authLogger := server.NewLoggerMiddleware("auth", paths.CallbackPath)
	appLogger := server.NewLoggerMiddleware("app")
	recoverer := server.NewRecoverMiddleware("signingate")
	identity := server.NewIdentityMiddleware(orchestrator)

	authMiddleware := []server.MiddlewareFunc{authLogger, recoverer}

	var health server.HealthChecker
	if checker, ok := states.(server.HealthChecker); ok {
		health = checker
	}

	mux := http.NewServeMux()
	mux.Handle("/health", server.NewHealthHandler(health))

	mux.Handle(paths.LoginPath, server.ChainMiddleware(http.HandlerFunc(authHandlers.LoginHandler), authMiddleware...))
	mux.Handle(paths.CallbackPath, server.ChainMiddleware(http.HandlerFunc(authHandlers.CallbackHandler), authMiddleware...))
	mux.Handle(paths.LogoutPath, server.ChainMiddleware(http.HandlerFunc(authHandlers.LogoutHandler), authMiddleware...))
	if paths.ErrorPath != "" {
		mux.Handle(paths.ErrorPath, server.ChainMiddleware(http.HandlerFunc(authHandlers.ErrorPageHandler), authMiddleware...))
	}

	mux.Handle("/me", server.ChainMiddleware(http.HandlerFunc(authHandlers.MeHandler), identity, appLogger, recoverer))
	mux.Handle("/", server.ChainMiddleware(
		http.HandlerFunc(authHandlers.HomeHandler),
		server.NewRequireLoginMiddleware(paths.LoginPath),
		identity,
		appLogger,
		recoverer,
	))

	return mux, nil
}
