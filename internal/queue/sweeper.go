package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

// PaymentExpirer 期限切れPENDING支払いの一括失効
type PaymentExpirer interface {
	ExpireOverduePayments(ctx context.Context) (int64, error)
}

// Sweeper 定期的に失効スイープタスクを流す asynq サーバ。
// 読み取り時の遅延失効と役割が重なるが、誰も読まない支払いも
// 期限どおり EXPIRED に落とすためにある。
type Sweeper struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	expirer   PaymentExpirer
}

func NewSweeper(redisAddr string, concurrency int, expirer PaymentExpirer) *Sweeper {
	if concurrency <= 0 {
		concurrency = 2
	}
	opt := asynq.RedisClientOpt{Addr: redisAddr}

	return &Sweeper{
		server: asynq.NewServer(opt, asynq.Config{
			Concurrency: concurrency,
		}),
		scheduler: asynq.NewScheduler(opt, &asynq.SchedulerOpts{
			Location: time.Local,
		}),
		expirer: expirer,
	}
}

// Start サーバとスケジューラを起動する。失敗しても本体は止めない。
func (s *Sweeper) Start(interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypePaymentExpireSweep, s.handleExpireSweep)

	if _, err := s.scheduler.Register(
		"@every "+interval.String(),
		asynq.NewTask(TypePaymentExpireSweep, nil),
	); err != nil {
		return err
	}

	if err := s.server.Start(mux); err != nil {
		return err
	}
	return s.scheduler.Start()
}

func (s *Sweeper) handleExpireSweep(ctx context.Context, t *asynq.Task) error {
	n, err := s.expirer.ExpireOverduePayments(ctx)
	if err != nil {
		log.Error().Err(err).Msg("payment expire sweep failed")
		return err
	}
	if n > 0 {
		log.Info().Int64("expired", n).Msg("payment expire sweep")
	}
	return nil
}

func (s *Sweeper) Shutdown() {
	s.scheduler.Shutdown()
	s.server.Shutdown()
}
