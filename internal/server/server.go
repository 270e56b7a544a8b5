package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"catalog-api/internal/config"
	"catalog-api/internal/database"
	"catalog-api/internal/imagestore"
	custommiddleware "catalog-api/internal/middleware"
	"catalog-api/internal/repository"
	"catalog-api/internal/service"
	"catalog-api/internal/transport"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// tokenPurgeInterval is how often expired revocation rows are deleted
const tokenPurgeInterval = time.Hour

type tokenPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type Server struct {
	*http.Server
	config *config.Config
	logger *zap.Logger
	db     database.Service
	redis  *redis.Client

	// set when revocations live in Postgres
	purger    tokenPurger
	stopPurge context.CancelFunc
	purgeDone sync.WaitGroup
}

// NewServer wires repositories, services and handlers into the router.
// redisClient may be nil when neither rate limiting nor Redis revocation is enabled.
func NewServer(cfg *config.Config, logger *zap.Logger, db database.Service, redisClient *redis.Client, images *imagestore.Store) *Server {
	router := chi.NewRouter()

	router.Use(custommiddleware.DefaultMiddlewareStack()...)
	router.Use(custommiddleware.ErrorHandlingMiddleware(logger))
	router.Use(custommiddleware.LoggingMiddleware(logger))
	router.Use(custommiddleware.CORSMiddleware(cfg.CORS.AllowedOrigins))

	router.Get("/health", healthHandler(db))

	sqlDB := db.DB()

	// Initialize repositories
	userRepo := repository.NewUserRepository(sqlDB)
	productRepo := repository.NewProductRepository(sqlDB)

	var revocations repository.RevocationStore
	var purger tokenPurger
	if cfg.JWT.RevocationStore == config.RevocationStoreRedis {
		revocations = repository.NewRedisRevocationStore(redisClient)
	} else {
		revokedTokenRepo := repository.NewRevokedTokenRepository(sqlDB)
		revocations = revokedTokenRepo
		purger = revokedTokenRepo
	}

	// Initialize services
	authService := service.NewAuthService(userRepo, revocations, cfg.JWT.Secret, cfg.AccessTokenTTL())
	productService := service.NewProductService(productRepo, images, service.ProductServiceOptions{
		PruneOnReplace: cfg.Images.PruneOnReplace,
	}, logger)

	// Initialize handlers
	authHandler := transport.NewAuthHandler(authService, logger)
	productHandler := transport.NewProductHandler(productService, cfg.MaxUploadBytes(), logger)

	protected := []func(http.Handler) http.Handler{
		custommiddleware.AuthMiddleware(authService, logger),
		custommiddleware.RequireUser(authService, logger),
	}

	var public []func(http.Handler) http.Handler
	if cfg.RateLimit.Enabled {
		limiter := custommiddleware.RateLimitMiddleware(redisClient, custommiddleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.Requests,
			Window:            cfg.RateLimitWindow(),
			KeyPrefix:         "catalog_rate_limit",
		}, logger)
		public = append(public, limiter)
		// protected routes are limited per user, after authentication
		protected = append(protected, limiter)
	}

	// Register routes
	authHandler.RegisterRoutes(router, public, protected)
	productHandler.RegisterRoutes(router, protected)

	publicPath := strings.TrimRight(cfg.Images.PublicPath, "/")
	router.Handle(publicPath+"/*", http.StripPrefix(publicPath, images.Handler()))

	server := &Server{
		Server: &http.Server{
			Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
			Handler:      router,
			IdleTimeout:  time.Minute,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		config: cfg,
		logger: logger,
		db:     db,
		redis:  redisClient,
		purger: purger,
	}

	return server
}

func healthHandler(db database.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := db.Health()

		status := http.StatusOK
		if health["status"] != "up" {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(health)
	}
}

// StartTokenPurge periodically deletes revocation rows whose tokens have
// expired. It does nothing when revocations are kept in Redis, where keys expire on their own.
func (s *Server) StartTokenPurge(ctx context.Context) {
	if s.purger == nil {
		return
	}

	ctx, s.stopPurge = context.WithCancel(ctx)
	s.purgeDone.Add(1)

	go func() {
		defer s.purgeDone.Done()

		ticker := time.NewTicker(tokenPurgeInterval)
		defer ticker.Stop()

		for {
			s.PurgeExpiredTokens(ctx)

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// PurgeExpiredTokens runs one purge pass
func (s *Server) PurgeExpiredTokens(ctx context.Context) {
	if s.purger == nil {
		return
	}

	purged, err := s.purger.PurgeExpired(ctx, time.Now())
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("Failed to purge expired revoked tokens", zap.Error(err))
		}
		return
	}
	if purged > 0 {
		s.logger.Info("Purged expired revoked tokens", zap.Int64("count", purged))
	}
}

func (s *Server) Close() error {
	s.logger.Info("Closing server resources")

	if s.stopPurge != nil {
		s.stopPurge()
		s.purgeDone.Wait()
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("Failed to close redis connection", zap.Error(err))
		}
	}

	// Close database connection
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database connection", zap.Error(err))
		}
	}

	s.logger.Sync()
	return nil
}
