// @title        iStore API
// @version      1.0
// @description  Catalog, orders and Telegram checkout.
// @BasePath     /api
package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	_ "github.com/MikeMC777/istore/docs"
	"github.com/MikeMC777/istore/internal/checkout"
	"github.com/MikeMC777/istore/internal/config"
	"github.com/MikeMC777/istore/internal/httpx"
	"github.com/MikeMC777/istore/internal/notify"
	ord "github.com/MikeMC777/istore/internal/order"
	"github.com/MikeMC777/istore/internal/payment"
	prod "github.com/MikeMC777/istore/internal/product"
	"github.com/MikeMC777/istore/internal/storage"
	"github.com/MikeMC777/istore/internal/telegram"
)

type routes struct {
	products prod.Repository
	checkout Checkouter
	orders   OrderService
	bot      PreCheckoutAnswerer
	secret   string
}

func newRouter(rt routes) *gin.Engine {
	r := gin.New()
	r.Use(httpx.RequestID(), httpx.Logger(), httpx.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.Group("/api")
	api.GET("/products", listProductsHandler(rt.products))
	api.GET("/products/:id", getProductHandler(rt.products))
	api.POST("/products", createProductHandler(rt.products))
	api.PUT("/products/:id", updateProductHandler(rt.products))
	api.DELETE("/products/:id", deleteProductHandler(rt.products))

	api.POST("/orders", createOrderHandler(rt.checkout))
	api.POST("/create-payment-link", createPaymentLinkHandler(rt.checkout))
	api.GET("/orders/:id", getOrderHandler(rt.orders))
	api.PUT("/orders/:id/status", updateOrderStatusHandler(rt.orders))
	api.GET("/my-orders", listMyOrdersHandler(rt.orders))
	api.GET("/admin/orders", listAllOrdersHandler(rt.orders))

	api.POST("/telegram/webhook", telegramWebhookHandler(rt.orders, rt.bot, rt.secret))
	return r
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := storage.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("[storage] %v", err)
	}
	defer pool.Close()
	if err := storage.Migrate(ctx, pool); err != nil {
		log.Fatalf("[storage] %v", err)
	}

	bot := telegram.NewClient(cfg.TelegramAPIURL, cfg.TelegramBotToken)

	var senders []notify.Sender
	if cfg.TelegramNotifyChatID != "" {
		senders = append(senders, notify.NewTelegramSender(bot, cfg.TelegramNotifyChatID))
	}
	if cfg.RabbitURL != "" {
		pub, err := notify.NewRabbitPublisher(cfg.RabbitURL, cfg.OrdersExchange)
		if err != nil {
			// Notifications are best effort; the store runs without them.
			log.Printf("[notify] rabbitmq disabled: %v", err)
		} else {
			defer pub.Close()
			senders = append(senders, notify.NewRabbitSender(pub))
		}
	}
	dispatcher := notify.NewDispatcher(cfg.NotifyQueueSize, senders...)
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	go dispatcher.Run(dispatchCtx)
	go dispatcher.LogErrors(dispatchCtx)

	var (
		products prod.Repository = prod.NewPGRepo(pool)
		idem     checkout.IdempotencyStore
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("[config] redis ping failed, continuing: %v", err)
		}
		products = prod.NewCachedRepo(products, rdb, cfg.CatalogCacheTTL)
		idem = checkout.NewRedisIdempotency(rdb)
	} else {
		idem = checkout.NewMemoryIdempotency()
	}

	orderRepo := ord.NewPGRepo(pool)
	orders := ord.NewService(orderRepo, dispatcher)
	gateway := payment.NewTelegramGateway(bot, cfg.PaymentProviderToken, cfg.PaymentTimeout)
	coord := checkout.NewCoordinator(products, orderRepo, gateway, idem, dispatcher, checkout.Options{
		Currency: cfg.Currency,
		Window:   cfg.IdempotencyWindow,
	})

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: newRouter(routes{
			products: products,
			checkout: coord,
			orders:   orders,
			bot:      bot,
			secret:   cfg.TelegramWebhookSecret,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	healthSrv := health.NewServer()
	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	reflection.Register(grpcSrv)

	errCh := make(chan error, 2)
	go func() {
		log.Printf("store-service listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		l, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			errCh <- err
			return
		}
		healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		log.Printf("grpc health listening on %s", cfg.GRPCAddr)
		if err := grpcSrv.Serve(l); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Printf("shutting down")
	case err := <-errCh:
		log.Printf("server error: %v", err)
	}

	healthSrv.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	grpcSrv.GracefulStop()
	stopDispatch()
	dispatcher.Wait()
}
