package main

import (
	"time"

	"app/internal/config"
	"app/internal/domain/model"
	"app/internal/gateway"
	"app/internal/handler"
	"app/internal/infra/cache"
	"app/internal/infra/db"
	infraRepo "app/internal/infra/repository"
	"app/internal/logger"
	"app/internal/notification"
	"app/internal/queue"
	"app/internal/server"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"app/internal/usecase"
)

type uuidGenerator struct{}

func (g *uuidGenerator) NewID() string {
	return uuid.NewString()
}

type realClock struct{}

func (c *realClock) Now() time.Time {
	return time.Now()
}

func main() {
	// .envは無くてもよい（本番は環境変数直渡し）
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger.Init(cfg.GoEnv)

	//DB接続
	gormDB, err := db.Connect(cfg)
	if err != nil {
		panic(err)
	}
	if err := gormDB.AutoMigrate(
		&model.Order{},
		&model.Payment{},
	); err != nil {
		panic(err)
	}

	//Repository（GORM実装）生成
	orderRepo := infraRepo.NewOrderGormRepository(gormDB)
	paymentRepo := infraRepo.NewPaymentGormRepository(gormDB)
	txManager := infraRepo.NewTxManagerGorm(gormDB)

	//Redisは任意。無ければキャッシュも通知キューも無効化して動く
	var statusCache cache.StatusCache = cache.NewNoopStatusCache()
	var dispatcher notification.Dispatcher = notification.NewNoopDispatcher()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		statusCache = cache.NewRedisStatusCache(rdb)

		qc := queue.NewClient(cfg.RedisAddr)
		defer qc.Close()
		dispatcher = notification.NewAsynqDispatcher(qc)
	}

	//外部ゲートウェイも任意。未設定ならモック決済だけになる
	var gw gateway.Adapter
	if cfg.GatewayBaseURL != "" {
		gw = gateway.NewHTTPAdapter(cfg.GatewayBaseURL, cfg.GatewayAPIKey, 5*time.Second)
	}

	idGen := &uuidGenerator{}
	clock := &realClock{}

	window := time.Duration(cfg.PaymentExpireMinutes) * time.Minute

	paymentUC := usecase.NewPaymentUsecase(
		txManager, orderRepo, paymentRepo,
		statusCache, gw, dispatcher,
		clock, idGen, window,
	)
	orderUC := usecase.NewOrderUsecase(
		txManager, orderRepo, paymentRepo,
		gw, dispatcher, clock, idGen,
	)

	//期限切れ掃除（Redis必須）
	if cfg.RedisAddr != "" {
		sweeper := queue.NewSweeper(cfg.RedisAddr, cfg.QueueConcurrency, paymentUC)
		interval := time.Duration(cfg.SweepIntervalMinutes) * time.Minute
		if err := sweeper.Start(interval); err != nil {
			log.Error().Err(err).Msg("sweeper start failed")
		} else {
			defer sweeper.Shutdown()
		}
	}

	orderH := handler.NewOrderHandler(orderUC)
	paymentH := handler.NewPaymentHandler(paymentUC, cfg.GatewayWebhookSecret)

	e := server.New(cfg, orderH, paymentH)
	if err := server.Start(e, cfg.Port); err != nil {
		panic(err)
	}
}
