package container

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	database "github.com/rmendes/go-sso-identity/app/db"
	"github.com/rmendes/go-sso-identity/config"
	"github.com/rmendes/go-sso-identity/internal/api/auth"
	"github.com/rmendes/go-sso-identity/internal/api/identity"
)

// Container holds all application dependencies
type Container struct {
	Config          *config.Config
	Logger          *slog.Logger
	Pool            *pgxpool.Pool
	AuthService     *auth.AuthServiceImpl
	AuthHandler     *auth.HandlerImpl
	IdentityHandler *identity.HandlerImpl
}

// NewContainer initializes and returns a new dependency container
func NewContainer(cfg *config.Config, logger *slog.Logger) (*Container, error) {
	dbConfig, err := database.NewDatabaseConfig(cfg, logger)
	if err != nil {
		logger.Error("Failed to generate database config", slog.Any("error", err))
		return nil, err
	}

	pool, err := database.Init(dbConfig.ConnectionURL, logger)
	if err != nil {
		logger.Error("Failed to initialize database pool", slog.Any("error", err))
		return nil, err
	}

	// Identity: durable store wrapped by the read-through cache
	identityStore := identity.NewPostgresRepo(pool, logger)
	identityRepo := identity.NewCachedRepo(identityStore, cfg.Cache, logger)
	identityService := identity.NewService(identityRepo, logger)
	identityHandler := identity.NewHandlerImpl(identityService, logger)

	// Auth: token store plus the provider login flow
	tokenRepo := auth.NewPostgresTokenRepo(pool, logger)
	authService := auth.NewAuthService(identityRepo, tokenRepo,
		auth.NewHTTPGitHubEmailClient(), cfg.JWT, cfg.Sweep, logger)
	authHandler := auth.NewHandlerImpl(authService, identityService, logger)

	return &Container{
		Config:          cfg,
		Logger:          logger,
		Pool:            pool,
		AuthService:     authService,
		AuthHandler:     authHandler,
		IdentityHandler: identityHandler,
	}, nil
}

// Close releases all resources held by the container
func (c *Container) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
}
