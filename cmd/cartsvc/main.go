package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/Skotchmaster/cart_service/internal/auth"
	"github.com/Skotchmaster/cart_service/internal/catalog"
	"github.com/Skotchmaster/cart_service/internal/config"
	"github.com/Skotchmaster/cart_service/internal/db"
	"github.com/Skotchmaster/cart_service/internal/expiry"
	"github.com/Skotchmaster/cart_service/internal/httpserver"
	"github.com/Skotchmaster/cart_service/internal/logging"
	loggingmw "github.com/Skotchmaster/cart_service/internal/middleware/logging"
	"github.com/Skotchmaster/cart_service/internal/models"
	"github.com/Skotchmaster/cart_service/internal/mykafka"
	"github.com/Skotchmaster/cart_service/internal/pricing"
	"github.com/Skotchmaster/cart_service/internal/repo"
	"github.com/Skotchmaster/cart_service/internal/service"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	cfg := config.Load()
	config.MustNonEmpty(cfg.DatabaseURL, "DATABASE_URL")
	config.MustNonEmpty(cfg.CatalogURL, "CATALOG_URL")
	config.MustNonEmptyBytes(cfg.JWTAccessSecret, "JWT_SECRET")

	logger := logging.New(cfg.LogLevel).With("service", cfg.ServiceName)

	e := echo.New()
	e.HideBanner = true

	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 15 * time.Second
	e.Server.ReadHeaderTimeout = 3 * time.Second

	e.Use(loggingmw.RequestLogger(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	gormDB, err := db.Open(initCtx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.Fatalf("db init error: %v", err)
	}
	if err := gormDB.AutoMigrate(&models.Cart{}, &models.CartItem{}); err != nil {
		log.Fatalf("db migrate error: %v", err)
	}

	cartRepo := &repo.GormRepo{DB: gormDB}

	cartService := &service.CartService{
		Repo:      cartRepo,
		Validator: &pricing.Validator{Catalog: catalog.NewClient(cfg.CatalogURL)},
	}

	var producer *mykafka.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer = mykafka.NewProducer(cfg.KafkaBrokers)
		cartService.Events = producer
	}

	cartHandler := &httpserver.CartHTTP{
		Svc:    cartService,
		Expiry: expiry.Policy{Threshold: cfg.CartTTL},
	}

	httpserver.Register(e, &httpserver.Deps{
		CartHandler: cartHandler,
		Auth:        auth.NewMiddleware(cfg.JWTAccessSecret),
	})

	go func() {
		logger.Info("starting cart service", "port", cfg.ServerPort)
		if err := e.Start(fmt.Sprintf(":%d", cfg.ServerPort)); err != nil && err != http.ErrServerClosed {
			log.Fatalf("echo start: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("echo shutdown", "error", err)
	}

	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Error("kafka close", "error", err)
		}
	}

	sqlDB, err := gormDB.DB()
	if err == nil {
		sqlDB.Close()
	}

	logger.Info("server stopped")
}
