package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tourbook/internal/cache"
	"tourbook/internal/config"
	"tourbook/internal/database"
	"tourbook/internal/external"
	"tourbook/internal/handlers"
	"tourbook/internal/messaging"
	"tourbook/internal/middleware"
	"tourbook/internal/repository"
	"tourbook/internal/repository/memory"
	"tourbook/internal/search"
	"tourbook/internal/seed"
	"tourbook/internal/service"
)

// Server представляет HTTP сервер API
type Server struct {
	router   *gin.Engine
	config   *config.Config
	db       *database.DB
	nats     *messaging.NATSClient
	valkey   *cache.ValkeyClient
	search   *search.ElasticsearchClient
	services *service.Services
	repos    *repository.Repositories
	location *time.Location
}

// NewServer создает новый экземпляр сервера
func NewServer(cfg *config.Config) (*Server, error) {
	gin.SetMode(cfg.GinMode)

	if err := handlers.RegisterValidators(); err != nil {
		return nil, fmt.Errorf("failed to register validators: %w", err)
	}

	location, err := cfg.Booking.Location()
	if err != nil {
		return nil, err
	}

	s := &Server{config: cfg, location: location}

	// Valkey опционален: без него авторизация и каталог ходят в хранилище напрямую
	if cfg.ValkeyEnabled {
		valkey, err := cache.NewValkeyClient(cfg.Valkey)
		if err != nil {
			slog.Warn("Valkey unavailable, continuing without cache", "error", err)
		} else {
			s.valkey = valkey
		}
	}

	activities, err := s.activityStore()
	if err != nil {
		s.Cleanup()
		return nil, err
	}

	repos, err := s.openStore(activities)
	if err != nil {
		s.Cleanup()
		return nil, err
	}
	s.repos = repos

	var publisher messaging.Publisher = messaging.NopPublisher{}
	if cfg.NATS.Enabled {
		natsClient, err := messaging.NewNATSClient(cfg.NATS)
		if err != nil {
			s.Cleanup()
			return nil, err
		}
		s.nats = natsClient
		publisher = natsClient
	}

	paymentClient := external.NewPaymentClient(cfg.Payment)

	s.services = service.NewServices(repos, publisher, paymentClient, cfg.Payment, service.Policy{
		DefaultCapacity:     cfg.Booking.DefaultCapacity,
		LeadTimeDays:        cfg.Booking.LeadTimeDays,
		Location:            location,
		MaxAvailabilityDays: cfg.Booking.MaxAvailabilityDays,
		RefPrefix:           cfg.Booking.RefPrefix,
		HoldTTL:             cfg.Booking.HoldTTL,
		ApplyCouponStrict:   cfg.Booking.ApplyCouponStrict,
	})

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.Logger())
	router.Use(middleware.Timeout(cfg.RequestTimeout))
	s.router = router

	s.setupRoutes()

	return s, nil
}

// activityStore выбирает источник каталога активностей
func (s *Server) activityStore() (repository.ActivityStore, error) {
	if !s.config.Elasticsearch.Enabled {
		slog.Info("Elasticsearch disabled, serving built-in activity catalogue")
		return memory.NewActivities(seed.Activities()...), nil
	}

	es, err := search.NewElasticsearchClient(s.config.Elasticsearch)
	if err != nil {
		return nil, err
	}
	s.search = es

	if s.valkey == nil {
		return repository.NewActivityElasticsearchRepository(es, nil), nil
	}
	return repository.NewActivityElasticsearchRepository(es, s.valkey), nil
}

func (s *Server) openStore(activities repository.ActivityStore) (*repository.Repositories, error) {
	switch s.config.StoreDriver {
	case config.StoreDriverMemory:
		return s.openMemoryStore(activities)
	case config.StoreDriverPostgres, "":
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", s.config.StoreDriver)
	}

	db, err := database.Connect(s.config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s.db = db

	if err := db.RunMigrations(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	db.ValidateConnectionPool()

	return repository.NewRepositories(db, activities), nil
}

// openMemoryStore поднимает хранилище в памяти с демонстрационными данными
func (s *Server) openMemoryStore(activities repository.ActivityStore) (*repository.Repositories, error) {
	slog.Warn("Using in-memory store, data is lost on restart")

	repos := memory.NewStore().Repositories(activities)
	ctx := context.Background()

	for _, coupon := range seed.Coupons(time.Now()) {
		if err := repos.Coupons.Create(ctx, &coupon); err != nil {
			return nil, fmt.Errorf("failed to seed coupon %s: %w", coupon.Code, err)
		}
	}

	admin := seed.Admin(s.config.AdminEmail, s.config.AdminPassword)
	if err := repos.Users.Create(ctx, &admin); err != nil {
		return nil, fmt.Errorf("failed to seed admin user: %w", err)
	}

	return repos, nil
}

// setupRoutes настраивает все API роуты
func (s *Server) setupRoutes() {
	h := handlers.NewHandlers(s.services, s.location)

	api := s.router.Group("/api")
	{
		bookings := api.Group("/bookings")
		{
			bookings.POST("", h.CreateBooking)
			bookings.POST("/:id/payment", h.InitiatePayment)
			bookings.GET("/:id/status", h.GetBookingStatus)
		}

		api.GET("/activities/:activityId/availability", h.GetAvailability)
		api.POST("/coupons/preview", h.PreviewCoupon)

		payments := api.Group("/payments")
		{
			payments.POST("/callback", h.PaymentCallback)
			payments.POST("/notifications", h.OnPaymentUpdates)
		}
	}

	// Basic Auth только для административных роутов
	var authCache interface {
		GetUserIDByAuth(ctx context.Context, email, passwordHash string) (int64, error)
		SetUserAuth(ctx context.Context, email, passwordHash string, userID int64) error
	}
	if s.valkey != nil {
		authCache = s.valkey
	}

	admin := s.router.Group("/api/admin",
		middleware.BasicAuth(s.repos.Users, authCache),
		middleware.RequireAdmin())
	{
		availability := admin.Group("/availability/:activityId")
		{
			availability.PUT("/:date", h.SetDay)
			availability.POST("/bulk", h.BulkSetRange)
		}

		bookings := admin.Group("/bookings")
		{
			bookings.GET("", h.ListBookings)
			bookings.GET("/:id", h.GetBooking)
			bookings.PUT("/:id/status", h.UpdateBookingStatus)
		}

		coupons := admin.Group("/coupons")
		{
			coupons.POST("", h.CreateCoupon)
			coupons.GET("", h.ListCoupons)
			coupons.GET("/:code", h.GetCoupon)
			coupons.PUT("/:code", h.UpdateCoupon)
		}
	}

	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// healthCheck обрабатывает health check запросы
func (s *Server) healthCheck(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status":  "ok",
		"service": "tourbook-api",
		"store":   s.config.StoreDriver,
	}

	if s.db != nil {
		dbHealth := s.db.HealthCheck(c.Request.Context())
		body["database"] = dbHealth
		if !dbHealth.Healthy() {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}

	if s.search != nil {
		if err := s.search.HealthCheck(c.Request.Context()); err != nil {
			body["elasticsearch"] = err.Error()
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		} else {
			body["elasticsearch"] = "healthy"
		}
	}

	c.JSON(status, body)
}

// GetRouter возвращает роутер для тестирования
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

// Services возвращает собранные сервисы (используется фоновыми задачами)
func (s *Server) Services() *service.Services {
	return s.services
}

// Cleanup закрывает соединения
func (s *Server) Cleanup() error {
	var firstErr error

	if s.nats != nil {
		if err := s.nats.Close(); err != nil {
			slog.Error("Error closing NATS connection", "error", err)
		}
	}

	if s.valkey != nil {
		if err := s.valkey.Close(); err != nil {
			slog.Error("Error closing Valkey connection", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Error("Error closing database connection", "error", err)
			firstErr = err
		}
	}

	return firstErr
}
