package di

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Hennamaria07/movieBookingBackend/internal/domain"
	"github.com/Hennamaria07/movieBookingBackend/internal/gateway"
	"github.com/Hennamaria07/movieBookingBackend/internal/handler"
	"github.com/Hennamaria07/movieBookingBackend/internal/repository"
	"github.com/Hennamaria07/movieBookingBackend/internal/service"
	"github.com/Hennamaria07/movieBookingBackend/internal/worker"
	"github.com/Hennamaria07/movieBookingBackend/pkg/config"
	"github.com/Hennamaria07/movieBookingBackend/pkg/database"
	"github.com/Hennamaria07/movieBookingBackend/pkg/logger"
	pkgredis "github.com/Hennamaria07/movieBookingBackend/pkg/redis"
	"github.com/Hennamaria07/movieBookingBackend/pkg/saga"
)

// Container holds all dependencies for the booking service
type Container struct {
	Config *config.Config

	// Infrastructure, nil when not configured
	DB    *database.PostgresDB
	Redis *pkgredis.Client

	// Stores
	Ledgers  repository.LedgerStore
	Bookings repository.BookingRepository
	Screens  repository.ScreenDirectory

	// Collaborators
	Gateway        gateway.Gateway
	EventPublisher service.EventPublisher
	Sagas          *saga.Orchestrator

	// Services
	BookingService service.BookingService
	HoldSweeper    *worker.HoldSweeper

	// Handlers
	HealthHandler  *handler.HealthHandler
	BookingHandler *handler.BookingHandler
}

// NewContainer connects the infrastructure named by cfg and builds the
// service graph on top of it. With UseMemoryStores the ledger, bookings and
// saga log live in process and a demo showtime is seeded.
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	log := logger.Get()
	c := &Container{Config: cfg}

	var sagaStore saga.Store
	if cfg.Booking.UseMemoryStores {
		store := repository.NewMemoryStore()
		seedMemoryStore(store)
		c.Ledgers, c.Bookings, c.Screens = store, store, store
		sagaStore = saga.NewMemoryStore()
		log.Warn("using in-memory stores, bookings are lost on restart")
	} else {
		if err := cfg.ValidateDatabase(); err != nil {
			return nil, err
		}
		db, err := database.NewPostgres(ctx, &database.PostgresConfig{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Database:        cfg.Database.DBName,
			SSLMode:         cfg.Database.SSLMode,
			MaxConns:        int32(cfg.Database.MaxOpenConns),
			MinConns:        int32(cfg.Database.MaxIdleConns),
			MaxConnLifetime: cfg.Database.ConnMaxLifetime,
			MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
			ConnectTimeout:  database.DefaultPostgresConfig().ConnectTimeout,
			MaxRetries:      3,
			RetryInterval:   database.DefaultPostgresConfig().RetryInterval,
			EnableTracing:   cfg.OTel.Enabled,
		})
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		c.DB = db
		if err := repository.Migrate(ctx, db.Pool()); err != nil {
			c.Close()
			return nil, fmt.Errorf("database migration failed: %w", err)
		}
		c.Ledgers = repository.NewPostgresLedgerStore(db.Pool())
		c.Bookings = repository.NewPostgresBookingRepository(db.Pool())
		c.Screens = repository.NewPostgresScreenDirectory(db.Pool())
		sagaStore = saga.NewPostgresStore(db.Pool())
		log.Info("database connected", zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.DBName))
	}

	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(ctx, &pkgredis.Config{
			Host:          cfg.Redis.Host,
			Port:          cfg.Redis.Port,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			PoolSize:      cfg.Redis.PoolSize,
			MinIdleConns:  cfg.Redis.MinIdleConns,
			DialTimeout:   cfg.Redis.DialTimeout,
			ReadTimeout:   cfg.Redis.ReadTimeout,
			WriteTimeout:  cfg.Redis.WriteTimeout,
			PoolTimeout:   pkgredis.DefaultConfig().PoolTimeout,
			MaxRetries:    3,
			RetryInterval: pkgredis.DefaultConfig().RetryInterval,
			EnableTracing: cfg.OTel.Enabled,
		})
		if err != nil {
			log.Warn("redis unavailable, screen cache and idempotency disabled", zap.Error(err))
		} else {
			c.Redis = redisClient
			c.Screens = repository.NewCachedScreenDirectory(c.Screens, redisClient, cfg.Booking.ScreenCacheTTL)
			log.Info("redis connected", zap.String("addr", cfg.Redis.Addr()))
		}
	}

	c.EventPublisher = service.NewNoOpEventPublisher()
	if cfg.Kafka.Enabled {
		publisher, err := service.NewKafkaEventPublisher(ctx, &service.EventPublisherConfig{
			Brokers:     cfg.Kafka.Brokers,
			Topic:       cfg.Kafka.Topic,
			ServiceName: cfg.App.Name,
			ClientID:    cfg.Kafka.ClientID,
		})
		if err != nil {
			log.Warn("kafka connection failed, using no-op publisher", zap.Error(err))
		} else {
			c.EventPublisher = publisher
			log.Info("kafka event publisher connected", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	}

	gw, err := gateway.New(cfg.Payment)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Gateway = gw

	c.Sagas = saga.NewOrchestrator(&saga.OrchestratorConfig{
		Store:  sagaStore,
		Logger: log.KeyValue(),
	})

	c.BookingService = service.NewBookingService(
		c.Ledgers,
		c.Bookings,
		c.Screens,
		c.Gateway,
		c.EventPublisher,
		c.Sagas,
		&service.BookingServiceConfig{
			HoldTTL:  cfg.Booking.HoldTTL,
			Currency: cfg.Payment.Currency,
		},
	)
	c.HoldSweeper = worker.NewHoldSweeper(c.Ledgers, &worker.HoldSweeperConfig{
		Interval:  cfg.Booking.SweepInterval,
		BatchSize: cfg.Booking.SweepBatchSize,
		Recoverer: c.BookingService,
	})

	checks := map[string]handler.HealthChecker{"database": nil, "redis": nil}
	if c.DB != nil {
		checks["database"] = c.DB
	}
	if c.Redis != nil {
		checks["redis"] = c.Redis
	}
	c.HealthHandler = handler.NewHealthHandler(checks)
	c.BookingHandler = handler.NewBookingHandler(c.BookingService)

	log.Info("container ready",
		zap.String("gateway", c.Gateway.Name()),
		zap.Bool("memory_stores", cfg.Booking.UseMemoryStores),
	)
	return c, nil
}

// Close releases the infrastructure connections
func (c *Container) Close() {
	if c.EventPublisher != nil {
		if err := c.EventPublisher.Close(); err != nil {
			logger.Get().Warn("failed to close event publisher", zap.Error(err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			logger.Get().Warn("failed to close redis", zap.Error(err))
		}
	}
	if c.DB != nil {
		c.DB.Close()
	}
}

// Demo data for in-memory mode
const (
	DemoTheaterID  = "theater-demo"
	DemoScreenID   = "screen-demo"
	DemoShowtimeID = "showtime-demo"
)

func seedMemoryStore(store *repository.MemoryStore) {
	screen := &domain.Screen{
		ID:          DemoScreenID,
		TheaterID:   DemoTheaterID,
		Rows:        10,
		SeatsPerRow: 12,
		SeatCategories: []domain.SeatCategory{
			{ID: domain.RegularCategory, Price: 20000},
			{ID: "premium", Price: 35000},
		},
	}
	for row := 9; row <= 10; row++ {
		for n := 1; n <= screen.SeatsPerRow; n++ {
			screen.SpecialSeats = append(screen.SpecialSeats, domain.SpecialSeat{Row: row, Seat: n, CategoryID: "premium"})
		}
	}
	store.AddScreen(screen)
	store.AddShowtime(domain.NewSeatLedger(DemoShowtimeID, DemoScreenID, DemoTheaterID, screen.Capacity()))
}
