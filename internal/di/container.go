package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/hanko-field/commerce/internal/handlers"
	"github.com/hanko-field/commerce/internal/platform/config"
	"github.com/hanko-field/commerce/internal/platform/events"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/platform/idempotency"
	"github.com/hanko-field/commerce/internal/platform/pagination"
	"github.com/hanko-field/commerce/internal/repositories"
	firestoreRepo "github.com/hanko-field/commerce/internal/repositories/firestore"
	"github.com/hanko-field/commerce/internal/repositories/memory"
	postgresRepo "github.com/hanko-field/commerce/internal/repositories/postgres"
	"github.com/hanko-field/commerce/internal/services"
)

const instrumentationName = "github.com/hanko-field/commerce"

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Catalog   services.CatalogService
	Inventory services.InventoryService
	Cart      services.CartService
	Orders    services.OrderService
	Checkout  services.CheckoutService
	System    services.SystemService
}

// EventPublisher is implemented by every outbound event transport.
type EventPublisher interface {
	services.OrderEventPublisher
	services.InventoryEventPublisher
	Close() error
}

// Container wires repositories, services and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Idempotency  idempotency.Store
	Events       EventPublisher
	Services     Services
	// Releases holds stock releases that failed inside a request and awaits replay.
	Releases     *services.ReleaseQueue

	build   services.BuildInfo
	logger  func(context.Context, string, map[string]any)
	clock   func() time.Time
	closers []func(context.Context) error
}

// Option customises container construction.
type Option func(*options)

type options struct {
	registry       repositories.Registry
	store          idempotency.Store
	events         EventPublisher
	logger         func(context.Context, string, map[string]any)
	clock          func() time.Time
	meter          metric.Meter
	tracerProvider trace.TracerProvider
	build          services.BuildInfo
}

// WithRegistry supplies a prebuilt registry instead of opening the configured backend.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithIdempotencyStore overrides the idempotency store picked for the backend.
func WithIdempotencyStore(store idempotency.Store) Option {
	return func(o *options) { o.store = store }
}

// WithEventPublisher overrides the configured event transport.
func WithEventPublisher(pub EventPublisher) Option {
	return func(o *options) { o.events = pub }
}

// WithLogger sets the structured event logger passed to every service.
func WithLogger(logger func(context.Context, string, map[string]any)) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock overrides the clock used by services and repositories.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithMeter overrides the meter used for stock adjustment counters.
func WithMeter(meter metric.Meter) Option {
	return func(o *options) { o.meter = meter }
}

// WithTracerProvider overrides the tracer provider used by checkout and Kafka instrumentation.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithBuildInfo sets the build metadata reported by health endpoints.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *options) { o.build = build }
}

// NewContainer opens the configured storage and event backends and assembles the services.
// Anything opened here is released by Close, including on a partial failure.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	if o.logger == nil {
		o.logger = func(context.Context, string, map[string]any) {}
	}
	if o.tracerProvider == nil {
		o.tracerProvider = otel.GetTracerProvider()
	}
	if o.meter == nil {
		o.meter = otel.GetMeterProvider().Meter(instrumentationName)
	}

	c := &Container{Config: cfg, logger: o.logger, clock: o.clock}

	if err := c.openStorage(ctx, o); err != nil {
		return nil, errors.Join(err, c.Close(ctx))
	}
	if err := c.openEvents(ctx, o); err != nil {
		return nil, errors.Join(err, c.Close(ctx))
	}

	c.build = o.build
	if c.build.StartedAt.IsZero() {
		c.build.StartedAt = o.clock().UTC()
	}
	if c.build.Environment == "" {
		c.build.Environment = cfg.Server.Environment
	}

	svc, err := buildServices(c, o)
	if err != nil {
		return nil, errors.Join(err, c.Close(ctx))
	}
	c.Services = svc
	return c, nil
}

func (c *Container) openStorage(ctx context.Context, o options) error {
	c.Idempotency = o.store
	if o.registry != nil {
		c.Repositories = o.registry
		c.closers = append(c.closers, o.registry.Close)
		if c.Idempotency == nil {
			c.Idempotency = idempotency.NewMemoryStore()
		}
		return nil
	}

	switch strings.ToLower(c.Config.Storage.Backend) {
	case "", config.StorageBackendMemory:
		c.Repositories = memory.NewRegistry(memory.WithClock(o.clock))
		if c.Idempotency == nil {
			c.Idempotency = idempotency.NewMemoryStore()
		}

	case config.StorageBackendPostgres:
		db, err := postgresRepo.Open(ctx, c.Config.Postgres)
		if err != nil {
			return err
		}
		reg, err := postgresRepo.NewRegistry(db, o.clock)
		if err != nil {
			_ = db.Close()
			return fmt.Errorf("build postgres registry: %w", err)
		}
		c.Repositories = reg
		c.closers = append(c.closers, reg.Close)
		if c.Config.Postgres.MigrateOnStart {
			if err := postgresRepo.Migrate(ctx, db); err != nil {
				return err
			}
		}
		if c.Idempotency == nil {
			store := idempotency.NewPostgresStore(db)
			if err := store.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("idempotency schema: %w", err)
			}
			c.Idempotency = store
		}

	case config.StorageBackendFirestore:
		provider := pfirestore.NewProvider(c.Config.Firestore)
		reg, err := firestoreRepo.NewRegistry(provider, o.clock)
		if err != nil {
			_ = provider.Close(ctx)
			return fmt.Errorf("build firestore registry: %w", err)
		}
		c.Repositories = reg
		c.closers = append(c.closers, reg.Close)
		if c.Idempotency == nil {
			client, err := provider.Client(ctx)
			if err != nil {
				return fmt.Errorf("firestore client: %w", err)
			}
			c.Idempotency = idempotency.NewFirestoreStore(client)
		}

	default:
		return fmt.Errorf("unsupported storage backend %q", c.Config.Storage.Backend)
	}
	return nil
}

func (c *Container) openEvents(ctx context.Context, o options) error {
	if o.events != nil {
		c.Events = o.events
		c.closers = append(c.closers, func(context.Context) error { return o.events.Close() })
		return nil
	}

	cfg := c.Config.Events
	switch strings.ToLower(cfg.Backend) {
	case "", config.EventsBackendNone:
		return nil

	case config.EventsBackendPubSub:
		projectID := cfg.PubSubProjectID
		if projectID == "" {
			projectID = c.Config.Firestore.ProjectID
		}
		client, err := pubsub.NewClient(ctx, projectID)
		if err != nil {
			return fmt.Errorf("pubsub client: %w", err)
		}
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
		pub, err := events.NewPubSubPublisher(client.Topic(cfg.OrderTopic), client.Topic(cfg.InventoryTopic))
		if err != nil {
			return err
		}
		c.Events = pub
		c.closers = append(c.closers, func(context.Context) error { return pub.Close() })

	case config.EventsBackendKafka:
		pub, err := events.NewKafkaPublisher(events.KafkaOptions{
			Brokers:        cfg.KafkaBrokers,
			OrderTopic:     cfg.OrderTopic,
			InventoryTopic: cfg.InventoryTopic,
			ClientID:       c.Config.Telemetry.ServiceName,
			TracerProvider: o.tracerProvider,
		})
		if err != nil {
			return err
		}
		c.Events = pub
		c.closers = append(c.closers, func(context.Context) error { return pub.Close() })

	default:
		return fmt.Errorf("unsupported events backend %q", cfg.Backend)
	}
	return nil
}

func buildServices(c *Container, o options) (Services, error) {
	var svc Services
	reg := c.Repositories

	// nil interfaces keep the services from publishing when no transport is configured
	var orderEvents services.OrderEventPublisher
	var inventoryEvents services.InventoryEventPublisher
	if c.Events != nil {
		orderEvents = c.Events
		inventoryEvents = c.Events
	}

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products:          reg.Products(),
		LowStockThreshold: c.Config.Catalog.LowStockThreshold,
		Clock:             o.clock,
		Logger:            o.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Stock:  reg.Stock(),
		Events: inventoryEvents,
		Meter:  o.meter,
		Clock:  o.clock,
		Logger: o.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventorySvc

	releases, err := services.NewReleaseQueue(inventorySvc, o.logger)
	if err != nil {
		return Services{}, fmt.Errorf("build release queue: %w", err)
	}
	c.Releases = releases

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Carts:    reg.Carts(),
		Products: reg.Products(),
		Clock:    o.clock,
		Logger:   o.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:            reg.Orders(),
		Products:          reg.Products(),
		Inventory:         inventorySvc,
		UnitOfWork:        reg,
		Clock:             o.clock,
		OrderNumberPrefix: c.Config.Orders.NumberPrefix,
		Events:            orderEvents,
		Releases:          releases,
		Logger:            o.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Carts:  cartSvc,
		Orders: orderSvc,
		Tracer: o.tracerProvider.Tracer(instrumentationName),
		Logger: o.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Clock:            o.clock,
		Build:            c.build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}

// Router builds the HTTP router for the container's services. Mutating API routes run behind the
// idempotency guard; extra options such as global middlewares are appended last.
func (c *Container) Router(extra ...handlers.Option) chi.Router {
	paging := pagination.Options{
		DefaultPageSize: c.Config.Orders.DefaultPageSize,
		MaxPageSize:     c.Config.Orders.MaxPageSize,
	}
	health := handlers.NewHealthHandlers(
		handlers.WithHealthSystemService(c.Services.System),
		handlers.WithHealthBuildInfo(c.build),
		handlers.WithHealthClock(c.clock),
	)

	opts := []handlers.Option{
		handlers.WithHealthHandlers(health),
		handlers.WithProductRoutes(handlers.NewProductHandlers(c.Services.Catalog, c.Services.Inventory, paging).Routes),
		handlers.WithCartRoutes(handlers.NewCartHandlers(c.Services.Cart).Routes),
		handlers.WithOrderRoutes(handlers.NewOrderHandlers(c.Services.Checkout, c.Services.Orders, paging).Routes),
	}
	if c.Idempotency != nil {
		opts = append(opts, handlers.WithAPIMiddlewares(idempotency.Middleware(
			c.Idempotency,
			idempotency.WithHeader(c.Config.Idempotency.Header),
			idempotency.WithTTL(c.Config.Idempotency.TTL),
			idempotency.WithMethods(http.MethodPost, http.MethodPut, http.MethodDelete),
			idempotency.WithClock(c.clock),
			idempotency.WithLogger(c.logger),
		)))
	}
	opts = append(opts, extra...)
	return handlers.NewRouter(opts...)
}

// RunBackground starts the idempotency sweeper and the stock release replay, and blocks until ctx
// is cancelled.
func (c *Container) RunBackground(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		idempotency.RunCleanup(ctx, c.Idempotency, idempotency.CleanupOptions{
			Interval:  c.Config.Idempotency.CleanupInterval,
			BatchSize: c.Config.Idempotency.CleanupBatchSize,
			Clock:     c.clock,
			Logger:    c.logger,
		})
	}()
	go func() {
		defer wg.Done()
		c.Releases.Run(ctx, c.Config.Orders.ReleaseRetryInterval)
	}()
	wg.Wait()
}

// Close releases event transports and repository clients in reverse order of creation.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var err error
	if c.Releases != nil {
		if _, remaining := c.Releases.Drain(ctx); remaining > 0 {
			c.logger(ctx, "inventory.release.abandoned", map[string]any{"remaining": remaining})
		}
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, c.closers[i](ctx))
	}
	c.closers = nil
	return err
}
