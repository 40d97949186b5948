package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AnuragParashar2000/ShoeKart/internal/cart"
	"github.com/AnuragParashar2000/ShoeKart/internal/checkout"
	"github.com/AnuragParashar2000/ShoeKart/internal/config"
	"github.com/AnuragParashar2000/ShoeKart/internal/consumer"
	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
	"github.com/AnuragParashar2000/ShoeKart/internal/favorites"
	h "github.com/AnuragParashar2000/ShoeKart/internal/http"
	"github.com/AnuragParashar2000/ShoeKart/internal/inventory"
	"github.com/AnuragParashar2000/ShoeKart/internal/metrics"
	"github.com/AnuragParashar2000/ShoeKart/internal/orders"
	"github.com/AnuragParashar2000/ShoeKart/internal/orders/repository"
	"github.com/AnuragParashar2000/ShoeKart/internal/payment"
	"github.com/AnuragParashar2000/ShoeKart/internal/payment/hosted"
	"github.com/AnuragParashar2000/ShoeKart/internal/platform/mongodb"
	"github.com/AnuragParashar2000/ShoeKart/internal/publisher"
	"github.com/AnuragParashar2000/ShoeKart/internal/recovery"
	"github.com/AnuragParashar2000/ShoeKart/pkg/logger"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	flag.IntVar(&cfg.HTTPPort, "port", cfg.HTTPPort, "HTTP listen port")
	flag.Parse()

	log := logger.New(os.Stdout, logger.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})
	slog.SetDefault(log)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("storefront stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	log.Info("storefront stopped")
}

type stores struct {
	stock     inventory.Store
	products  orders.ProductReader
	carts     cart.Repository
	favorites favorites.Repository
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	st, closeStores, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStores()

	orderRepo, err := repository.NewRepository(&cfg.OrdersDB)
	if err != nil {
		return fmt.Errorf("connect orders database: %w", err)
	}
	defer orderRepo.Close()
	if err := orderRepo.RunMigrations(&cfg.OrdersDB); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info("orders database ready", slog.String("driver", cfg.OrdersDB.Driver))

	var (
		cache  cart.Cache      = cart.NopCache{}
		locker checkout.Locker = checkout.NewMemoryLocker()
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		cache = cart.NewRedisCache(rdb, cart.WithTTL(cfg.CartCacheTTL), cart.WithJitter(cfg.CartCacheJitter))
		locker = checkout.NewRedisLocker(rdb)
		log.Info("redis connected", slog.String("addr", cfg.RedisAddr))
	}

	m := metrics.New()
	cartSvc := cart.NewService(st.carts, cache, st.products, log)
	orderSvc := orders.NewService(orderRepo, st.stock, st.products, orders.Options{RestockOnCancel: cfg.RestockOnCancel}, log)
	favSvc := favorites.NewService(st.favorites, st.products, cartSvc, log)

	sim := payment.NewSimulator(payment.RandomChance{}, cfg.CardSuccessRate, cfg.UPISuccessRate)
	strategies := []checkout.Strategy{
		checkout.CODStrategy{},
		checkout.NewCardStrategy(sim),
		checkout.NewUPIStrategy(sim),
	}
	provider := hosted.NewClient(hosted.Config{BaseURL: cfg.ProviderBaseURL, SecretKey: cfg.ProviderSecretKey}, log)
	if cfg.HostedEnabled() {
		strategies = append(strategies, checkout.NewHostedStrategy(provider, checkout.HostedConfig{
			ClientURL: cfg.ClientURL,
			Currency:  cfg.Currency,
		}))
	} else {
		log.Warn("hosted checkout disabled: provider keys not configured")
	}

	dispatcher := checkout.NewDispatcher(checkout.Config{
		ClampPolicy: cfg.ClampPolicy,
		Currency:    cfg.Currency,
	}, cartSvc, st.stock, orderRepo, locker, log, strategies...).WithObserver(m)
	confirmer := checkout.NewConfirmer(checkout.ConfirmerConfig{
		WebhookSecret: cfg.ProviderWebhookSecret,
	}, provider, st.stock, orderRepo, cartSvc, log).WithObserver(m)

	server := h.NewServer(h.Config{
		JWTSecret:      cfg.JWTSecret,
		RequestTimeout: cfg.RequestTimeout,
	}, dispatcher, confirmer, orderSvc, cartSvc, favSvc, m, log)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      otelhttp.NewHandler(server.Router(), "storefront"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("storefront listening", slog.Int("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	reconciler := recovery.NewReconciler(orderRepo, cartSvc, orderSvc, cfg.ReconcileInterval, log).WithRecorder(m)
	g.Go(func() error { return reconciler.Run(ctx) })

	if len(cfg.KafkaBrokers) > 0 {
		writer := publisher.NewKafkaWriter(cfg.KafkaBrokers...)
		defer writer.Close()
		poller := publisher.NewOutboxPoller(orderRepo, writer, time.Second, log).WithRecorder(m)
		g.Go(func() error { return poller.Run(ctx) })

		fulfillment := consumer.NewConsumer(orderSvc, consumer.NewKafkaReader(cfg.KafkaBrokers...), log)
		defer fulfillment.Close()
		g.Go(func() error { return fulfillment.Run(ctx) })
		log.Info("kafka enabled", slog.Any("brokers", cfg.KafkaBrokers))
	} else {
		log.Warn("KAFKA_BROKERS not set: outbox events stay unpublished")
	}

	return g.Wait()
}

func openStores(ctx context.Context, cfg config.Config, log *slog.Logger) (stores, func(), error) {
	if cfg.StorageDriver == config.StorageMemory {
		stock := inventory.NewMemoryStore(demoCatalog()...)
		log.Warn("using in-memory storage with the demo catalog")
		return stores{
			stock:     stock,
			products:  stock,
			carts:     cart.NewMemoryRepository(),
			favorites: favorites.NewMemoryRepository(),
		}, func() {}, nil
	}

	db, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDB,
		mongodb.WithConnectTimeout(cfg.MongoConnectTimeout),
		mongodb.WithPoolSize(0, uint64(cfg.MongoMaxPoolSize)),
	)
	if err != nil {
		return stores{}, nil, fmt.Errorf("connect mongo: %w", err)
	}
	closeFn := func() { disconnect(db, log) }
	if err := cart.CreateIndexes(ctx, db); err != nil {
		closeFn()
		return stores{}, nil, err
	}
	if err := favorites.CreateIndexes(ctx, db); err != nil {
		closeFn()
		return stores{}, nil, err
	}
	log.Info("connected to mongo", slog.String("db", cfg.MongoDB))

	stock := inventory.NewMongoStore(db)
	return stores{
		stock:     stock,
		products:  stock,
		carts:     cart.NewMongoRepository(db),
		favorites: favorites.NewMongoRepository(db),
	}, closeFn, nil
}

func disconnect(db *mongo.Database, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.Client().Disconnect(ctx); err != nil {
		log.Warn("mongo disconnect failed", slog.Any("error", err))
	}
}

func demoCatalog() []*domain.Product {
	return []*domain.Product{
		{
			ID: "air-zoom-pegasus", Name: "Air Zoom Pegasus", Brand: "Nike",
			Price:        decimal.NewFromInt(2000),
			SizeQuantity: []domain.SizeQuantity{{Size: 8, Quantity: 5}, {Size: 9, Quantity: 3}, {Size: 10, Quantity: 1}},
		},
		{
			ID: "gel-kayano", Name: "Gel Kayano", Brand: "Asics",
			Price:        decimal.NewFromInt(1500),
			SizeQuantity: []domain.SizeQuantity{{Size: 9, Quantity: 2}},
		},
	}
}
