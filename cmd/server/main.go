package main // Entry point package

import (
	"context"
	"log"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/eventix/ticketing/internal/checkout"
	"github.com/eventix/ticketing/internal/config"
	"github.com/eventix/ticketing/internal/database"
	"github.com/eventix/ticketing/internal/handler"
	"github.com/eventix/ticketing/internal/ledger"
	"github.com/eventix/ticketing/internal/payment"
	"github.com/eventix/ticketing/internal/pricing"
	"github.com/eventix/ticketing/internal/queue"
	"github.com/eventix/ticketing/internal/repository"
	"github.com/eventix/ticketing/internal/reservation"
	"github.com/eventix/ticketing/internal/router"
	"github.com/eventix/ticketing/internal/share"
	"github.com/eventix/ticketing/internal/transfer"
)

func main() {
	// .env is optional; container deployments set real env vars.
	_ = godotenv.Load()
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Redis is optional: without it the rate limiter and the webhook
	// idempotency fast path are disabled, correctness is unaffected.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Println("redis unavailable, rate limiting and idempotency fast path disabled")
	}

	inv := ledger.NewMySQLLedger(db)
	resRepo := repository.NewReservationRepo(db)
	orderRepo := repository.NewOrderRepo(db)
	bundleRepo := repository.NewBundleRepo(db)
	transferRepo := repository.NewTransferRepo(db)
	promoRepo := repository.NewPromoRepo(db)

	publisher := queue.NewPublisher()
	gateway := payment.NewGateway(cfg.GatewayKeyID, cfg.GatewaySecret)
	fees := pricing.FeeSchedule{
		PlatformFlatPaise: cfg.FeeFlatPaise,
		PlatformPercent:   int(cfg.FeePercent),
	}

	resman := reservation.NewManager(inv, resRepo, cfg.HoldTTL)

	var idem checkout.Idempotency
	if ri := checkout.NewRedisIdempotency(rdb); ri != nil {
		idem = ri
	}
	orchestrator := checkout.NewOrchestrator(resman, inv, orderRepo, promoRepo, gateway, fees, idem, publisher)

	shareman := share.NewManager(bundleRepo, cfg.BundleTTL)
	transferman := transfer.NewManager(transferRepo, publisher, cfg.TransferTTL, cfg.BcryptCost)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background expiry sweep catches reservations nobody reads again.
	sweeper := reservation.NewSweeper(resman, cfg.SweepInterval, 100)
	go sweeper.Run(ctx)

	// Audit consumer drains the order and transfer event queues.
	go queue.StartAuditConsumer()

	e := echo.New()
	h := router.Handlers{
		Reservations: handler.NewReservationHandler(resman),
		Pricing:      handler.NewPricingHandler(orchestrator),
		Checkout:     handler.NewCheckoutHandler(orchestrator, orderRepo),
		Share:        handler.NewShareHandler(shareman),
		Transfer:     handler.NewTransferHandler(transferman),
	}
	router.RegisterRoutes(e, h)
	router.RegisterProtected(e, h, cfg.JWTSecret, config.LoadRateLimitConfig(), rdb)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
