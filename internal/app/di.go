// Package app provides dependency injection container for assembling application components.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/minishop/orders/internal/backoff"
	"github.com/minishop/orders/internal/config"
	"github.com/minishop/orders/internal/database"
	"github.com/minishop/orders/internal/event"
	"github.com/minishop/orders/internal/http"
	"github.com/minishop/orders/internal/idempotency"
	"github.com/minishop/orders/internal/messaging"
	"github.com/minishop/orders/internal/metrics"
	orderHTTP "github.com/minishop/orders/internal/order/http"
	orderRepository "github.com/minishop/orders/internal/order/repository"
	orderUsecase "github.com/minishop/orders/internal/order/usecase"
	outboxRepository "github.com/minishop/orders/internal/outbox/repository"
	outboxUsecase "github.com/minishop/orders/internal/outbox/usecase"
)

// Container holds all application dependencies and provides methods to access them.
// It follows the lazy initialization pattern - components are created on first access.
type Container struct {
	// Configuration
	config *config.Config

	// Infrastructure
	logger          *slog.Logger
	db              *sql.DB
	metricsProvider *metrics.Provider
	pipelineMetrics metrics.PipelineMetrics
	publisher       messaging.Publisher
	consumer        *messaging.Consumer

	// Managers
	txManager   database.TxManager
	idempotency *idempotency.Store

	// Repositories
	orderRepo  orderUsecase.OrderRepository
	outboxRepo outboxUsecase.OutboxEventRepository

	// Use Cases
	createOrderUseCase *orderUsecase.CreateOrderUseCase
	processorUseCase   *orderUsecase.ProcessorUseCase
	relayUseCase       *outboxUsecase.RelayUseCase

	// Servers
	httpServer    *http.Server
	metricsServer *http.MetricsServer

	// Initialization flags and mutex for thread-safety
	mu                     sync.Mutex
	loggerInit             sync.Once
	dbInit                 sync.Once
	metricsProviderInit    sync.Once
	pipelineMetricsInit    sync.Once
	publisherInit          sync.Once
	consumerInit           sync.Once
	txManagerInit          sync.Once
	idempotencyInit        sync.Once
	orderRepoInit          sync.Once
	outboxRepoInit         sync.Once
	createOrderUseCaseInit sync.Once
	processorUseCaseInit   sync.Once
	relayUseCaseInit       sync.Once
	httpServerInit         sync.Once
	metricsServerInit      sync.Once
	initErrors             map[string]error
}

// NewContainer creates a new dependency injection container with the provided configuration.
func NewContainer(cfg *config.Config) *Container {
	return &Container{
		config:     cfg,
		initErrors: make(map[string]error),
	}
}

// Config returns the application configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger returns the configured logger instance.
// It creates a new logger on first access based on the log level in configuration.
func (c *Container) Logger() *slog.Logger {
	c.loggerInit.Do(func() {
		c.logger = c.initLogger()
	})
	return c.logger
}

// DB returns the database connection.
// It creates and configures the database connection on first access.
func (c *Container) DB() (*sql.DB, error) {
	c.dbInit.Do(func() {
		db, err := c.initDB()
		if err != nil {
			c.initErrors["db"] = err
			return
		}
		c.db = db
	})
	if storedErr, exists := c.initErrors["db"]; exists {
		return nil, storedErr
	}
	return c.db, nil
}

// TxManager returns the transaction manager.
// It requires a database connection to be initialized first.
func (c *Container) TxManager() (database.TxManager, error) {
	c.txManagerInit.Do(func() {
		db, err := c.DB()
		if err != nil {
			c.initErrors["txManager"] = fmt.Errorf("failed to get database for tx manager: %w", err)
			return
		}
		c.txManager = database.NewTxManager(db)
	})
	if storedErr, exists := c.initErrors["txManager"]; exists {
		return nil, storedErr
	}
	return c.txManager, nil
}

// IdempotencyStore returns the in-memory idempotency store.
func (c *Container) IdempotencyStore() *idempotency.Store {
	c.idempotencyInit.Do(func() {
		c.idempotency = idempotency.NewStore(c.config.IdempotencyTTL)
	})
	return c.idempotency
}

// MetricsProvider returns the OpenTelemetry metrics provider.
// Returns nil when metrics are disabled.
func (c *Container) MetricsProvider() (*metrics.Provider, error) {
	c.metricsProviderInit.Do(func() {
		if !c.config.MetricsEnabled {
			return
		}
		provider, err := metrics.NewProvider(c.config.MetricsNamespace)
		if err != nil {
			c.initErrors["metricsProvider"] = fmt.Errorf("failed to create metrics provider: %w", err)
			return
		}
		c.metricsProvider = provider
	})
	if storedErr, exists := c.initErrors["metricsProvider"]; exists {
		return nil, storedErr
	}
	return c.metricsProvider, nil
}

// PipelineMetrics returns the pipeline metrics recorder.
// Falls back to a no-op recorder when metrics are disabled.
func (c *Container) PipelineMetrics() (metrics.PipelineMetrics, error) {
	c.pipelineMetricsInit.Do(func() {
		provider, err := c.MetricsProvider()
		if err != nil {
			c.initErrors["pipelineMetrics"] = err
			return
		}
		if provider == nil {
			c.pipelineMetrics = metrics.NewNoOpPipelineMetrics()
			return
		}

		pipelineMetrics, err := metrics.NewPipelineMetrics(provider.MeterProvider(), c.config.MetricsNamespace)
		if err != nil {
			c.initErrors["pipelineMetrics"] = fmt.Errorf("failed to create pipeline metrics: %w", err)
			return
		}
		c.pipelineMetrics = pipelineMetrics
	})
	if storedErr, exists := c.initErrors["pipelineMetrics"]; exists {
		return nil, storedErr
	}
	return c.pipelineMetrics, nil
}

// Publisher returns the Kafka publisher.
func (c *Container) Publisher() (messaging.Publisher, error) {
	c.publisherInit.Do(func() {
		publisher, err := messaging.NewKafkaPublisher(c.config.KafkaBrokerList(), c.config.KafkaClientID)
		if err != nil {
			c.initErrors["publisher"] = fmt.Errorf("failed to create kafka publisher: %w", err)
			return
		}
		c.publisher = publisher
	})
	if storedErr, exists := c.initErrors["publisher"]; exists {
		return nil, storedErr
	}
	return c.publisher, nil
}

// OrderRepository returns the order repository instance.
func (c *Container) OrderRepository() (orderUsecase.OrderRepository, error) {
	c.orderRepoInit.Do(func() {
		repo, err := c.initOrderRepository()
		if err != nil {
			c.initErrors["orderRepo"] = err
			return
		}
		c.orderRepo = repo
	})
	if storedErr, exists := c.initErrors["orderRepo"]; exists {
		return nil, storedErr
	}
	return c.orderRepo, nil
}

// OutboxRepository returns the outbox event repository instance.
func (c *Container) OutboxRepository() (outboxUsecase.OutboxEventRepository, error) {
	c.outboxRepoInit.Do(func() {
		repo, err := c.initOutboxRepository()
		if err != nil {
			c.initErrors["outboxRepo"] = err
			return
		}
		c.outboxRepo = repo
	})
	if storedErr, exists := c.initErrors["outboxRepo"]; exists {
		return nil, storedErr
	}
	return c.outboxRepo, nil
}

// CreateOrderUseCase returns the order write path use case.
func (c *Container) CreateOrderUseCase() (*orderUsecase.CreateOrderUseCase, error) {
	c.createOrderUseCaseInit.Do(func() {
		useCase, err := c.initCreateOrderUseCase()
		if err != nil {
			c.initErrors["createOrderUseCase"] = err
			return
		}
		c.createOrderUseCase = useCase
	})
	if storedErr, exists := c.initErrors["createOrderUseCase"]; exists {
		return nil, storedErr
	}
	return c.createOrderUseCase, nil
}

// ProcessorUseCase returns the consumer processing use case.
func (c *Container) ProcessorUseCase() (*orderUsecase.ProcessorUseCase, error) {
	c.processorUseCaseInit.Do(func() {
		useCase, err := c.initProcessorUseCase()
		if err != nil {
			c.initErrors["processorUseCase"] = err
			return
		}
		c.processorUseCase = useCase
	})
	if storedErr, exists := c.initErrors["processorUseCase"]; exists {
		return nil, storedErr
	}
	return c.processorUseCase, nil
}

// RelayUseCase returns the outbox relay use case.
func (c *Container) RelayUseCase() (*outboxUsecase.RelayUseCase, error) {
	c.relayUseCaseInit.Do(func() {
		useCase, err := c.initRelayUseCase()
		if err != nil {
			c.initErrors["relayUseCase"] = err
			return
		}
		c.relayUseCase = useCase
	})
	if storedErr, exists := c.initErrors["relayUseCase"]; exists {
		return nil, storedErr
	}
	return c.relayUseCase, nil
}

// Consumer returns the Kafka consumer for the worker.
func (c *Container) Consumer() (*messaging.Consumer, error) {
	c.consumerInit.Do(func() {
		consumer, err := c.initConsumer()
		if err != nil {
			c.initErrors["consumer"] = err
			return
		}
		c.consumer = consumer
	})
	if storedErr, exists := c.initErrors["consumer"]; exists {
		return nil, storedErr
	}
	return c.consumer, nil
}

// HTTPServer returns the API HTTP server instance.
func (c *Container) HTTPServer() (*http.Server, error) {
	c.httpServerInit.Do(func() {
		server, err := c.initHTTPServer()
		if err != nil {
			c.initErrors["httpServer"] = err
			return
		}
		c.httpServer = server
	})
	if storedErr, exists := c.initErrors["httpServer"]; exists {
		return nil, storedErr
	}
	return c.httpServer, nil
}

// MetricsServer returns the metrics HTTP server instance.
// Returns nil when metrics are disabled.
func (c *Container) MetricsServer() (*http.MetricsServer, error) {
	c.metricsServerInit.Do(func() {
		provider, err := c.MetricsProvider()
		if err != nil {
			c.initErrors["metricsServer"] = err
			return
		}
		if provider == nil {
			return
		}
		c.metricsServer = http.NewMetricsServer(
			c.config.ServerHost,
			c.config.MetricsPort,
			c.Logger(),
			provider,
		)
	})
	if storedErr, exists := c.initErrors["metricsServer"]; exists {
		return nil, storedErr
	}
	return c.metricsServer, nil
}

// Shutdown performs cleanup of all initialized resources.
// It should be called when the application is shutting down.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var shutdownErrors []error

	if c.httpServer != nil {
		if err := c.httpServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("http server shutdown: %w", err))
		}
	}

	if c.metricsServer != nil {
		if err := c.metricsServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	if c.consumer != nil {
		if err := c.consumer.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("consumer close: %w", err))
		}
	}

	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("publisher close: %w", err))
		}
	}

	if c.metricsProvider != nil {
		if err := c.metricsProvider.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics provider shutdown: %w", err))
		}
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("database close: %w", err))
		}
	}

	if len(shutdownErrors) > 0 {
		return fmt.Errorf("shutdown errors: %v", shutdownErrors)
	}

	return nil
}

// initLogger creates and configures a structured logger based on the log level.
func (c *Container) initLogger() *slog.Logger {
	var logLevel slog.Level
	switch c.config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})

	return slog.New(handler)
}

// initDB creates and configures the database connection.
func (c *Container) initDB() (*sql.DB, error) {
	db, err := database.Connect(database.Config{
		Driver:             c.config.DBDriver,
		ConnectionString:   c.config.DBConnectionString,
		MaxOpenConnections: c.config.DBMaxOpenConnections,
		MaxIdleConnections: c.config.DBMaxIdleConnections,
		ConnMaxLifetime:    c.config.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// initOrderRepository creates the order repository instance.
func (c *Container) initOrderRepository() (orderUsecase.OrderRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for order repository: %w", err)
	}

	// Select the appropriate repository based on the database driver
	switch c.config.DBDriver {
	case "mysql":
		return orderRepository.NewMySQLOrderRepository(db), nil
	case "postgres":
		return orderRepository.NewPostgreSQLOrderRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// initOutboxRepository creates the outbox event repository instance.
func (c *Container) initOutboxRepository() (outboxUsecase.OutboxEventRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for outbox repository: %w", err)
	}

	// Select the appropriate repository based on the database driver
	switch c.config.DBDriver {
	case "mysql":
		return outboxRepository.NewMySQLOutboxEventRepository(db), nil
	case "postgres":
		return outboxRepository.NewPostgreSQLOutboxEventRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// initCreateOrderUseCase creates the order write path use case with all its dependencies.
func (c *Container) initCreateOrderUseCase() (*orderUsecase.CreateOrderUseCase, error) {
	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for create order use case: %w", err)
	}

	orderRepo, err := c.OrderRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get order repository for create order use case: %w", err)
	}

	outboxRepo, err := c.OutboxRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox repository for create order use case: %w", err)
	}

	pipelineMetrics, err := c.PipelineMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get pipeline metrics for create order use case: %w", err)
	}

	return orderUsecase.NewCreateOrderUseCase(
		txManager,
		orderRepo,
		outboxRepo,
		c.IdempotencyStore(),
		pipelineMetrics,
		c.config.RelayMaxAttempts,
	), nil
}

// initProcessorUseCase creates the consumer processing use case with all its dependencies.
func (c *Container) initProcessorUseCase() (*orderUsecase.ProcessorUseCase, error) {
	orderRepo, err := c.OrderRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get order repository for processor use case: %w", err)
	}

	publisher, err := c.Publisher()
	if err != nil {
		return nil, fmt.Errorf("failed to get publisher for processor use case: %w", err)
	}

	pipelineMetrics, err := c.PipelineMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get pipeline metrics for processor use case: %w", err)
	}

	logger := c.Logger()
	processorConfig := orderUsecase.ProcessorConfig{
		MaxAttempts: c.config.ConsumerMaxAttempts,
		Backoff: backoff.Policy{
			Base:   c.config.ConsumerBaseBackoff,
			Cap:    c.config.ConsumerBackoffCap,
			Jitter: c.config.ConsumerBackoffJitter,
		},
	}

	processor := orderUsecase.NewDefaultOrderProcessor(orderRepo, publisher, logger)

	return orderUsecase.NewProcessorUseCase(
		processorConfig,
		orderRepo,
		processor,
		publisher,
		c.IdempotencyStore(),
		pipelineMetrics,
		logger,
	), nil
}

// initRelayUseCase creates the outbox relay use case with all its dependencies.
func (c *Container) initRelayUseCase() (*outboxUsecase.RelayUseCase, error) {
	outboxRepo, err := c.OutboxRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox repository for relay use case: %w", err)
	}

	publisher, err := c.Publisher()
	if err != nil {
		return nil, fmt.Errorf("failed to get publisher for relay use case: %w", err)
	}

	pipelineMetrics, err := c.PipelineMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get pipeline metrics for relay use case: %w", err)
	}

	relayConfig := outboxUsecase.Config{
		Interval:    c.config.RelayInterval,
		BatchSize:   c.config.RelayBatchSize,
		LeaseOwner:  leaseOwner(),
		LeaseTTL:    c.config.RelayLeaseTTL,
		BaseBackoff: c.config.RelayBaseBackoff,
	}

	return outboxUsecase.NewRelayUseCase(
		relayConfig,
		outboxRepo,
		publisher,
		pipelineMetrics,
		c.Logger(),
	), nil
}

// initConsumer creates the Kafka consumer for the worker, subscribed to the
// orders-created topic and its dead letter topic.
func (c *Container) initConsumer() (*messaging.Consumer, error) {
	processorUseCase, err := c.ProcessorUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get processor use case for consumer: %w", err)
	}

	consumer, err := messaging.NewConsumer(
		c.config.KafkaBrokerList(),
		c.config.KafkaConsumerGroup,
		c.config.KafkaClientID,
		[]string{event.TopicOrdersCreated, event.TopicOrdersCreatedDeadLetter},
		processorUseCase,
		c.Logger(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	return consumer, nil
}

// initHTTPServer creates the API HTTP server with all its dependencies.
func (c *Container) initHTTPServer() (*http.Server, error) {
	logger := c.Logger()

	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for http server: %w", err)
	}

	createOrderUseCase, err := c.CreateOrderUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get create order use case for http server: %w", err)
	}

	metricsProvider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for http server: %w", err)
	}

	server := http.NewServer(db, c.config.ServerHost, c.config.ServerPort, logger)
	server.SetupRouter(http.RouterConfig{
		GinMode:                 c.config.GetGinMode(),
		CORSEnabled:             c.config.CORSEnabled,
		CORSAllowOrigins:        c.config.CORSAllowOrigins,
		RateLimitEnabled:        c.config.RateLimitEnabled,
		RateLimitRequestsPerSec: c.config.RateLimitRequestsPerSec,
		RateLimitBurst:          c.config.RateLimitBurst,
		MetricsProvider:         metricsProvider,
		MetricsNamespace:        c.config.MetricsNamespace,
		OrderHandler:            orderHTTP.NewOrderHandler(createOrderUseCase, logger),
	})

	return server, nil
}

// leaseOwner builds a relay instance identity from hostname and pid so
// concurrent relays can tell their outbox leases apart.
func leaseOwner() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "relay"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}
