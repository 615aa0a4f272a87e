package notification

import (
	"context"

	"app/internal/queue"

	"github.com/rs/zerolog/log"
)

// Dispatcher 状態変化をユーザーへ知らせる外部コラボレータ。
// 配送自体は通知サービスの仕事で、ここでは起動するだけ。
// 失敗しても状態遷移は巻き戻さない。
type Dispatcher interface {
	OrderStatusChanged(ctx context.Context, orderID, userID int64, status string, reason string)
	PaymentResult(ctx context.Context, paymentID, orderID, userID int64, status string)
}

// AsynqDispatcher 通知タスクをキューに積む実装
type AsynqDispatcher struct {
	client *queue.Client
}

func NewAsynqDispatcher(client *queue.Client) *AsynqDispatcher {
	return &AsynqDispatcher{client: client}
}

func (d *AsynqDispatcher) OrderStatusChanged(ctx context.Context, orderID, userID int64, status string, reason string) {
	err := d.client.EnqueueOrderStatusNotify(queue.OrderStatusNotifyPayload{
		OrderID: orderID,
		UserID:  userID,
		Status:  status,
		Reason:  reason,
	})
	if err != nil {
		log.Warn().Err(err).Int64("order_id", orderID).Str("status", status).
			Msg("enqueue order status notify failed")
	}
}

func (d *AsynqDispatcher) PaymentResult(ctx context.Context, paymentID, orderID, userID int64, status string) {
	err := d.client.EnqueuePaymentResultNotify(queue.PaymentResultNotifyPayload{
		PaymentID: paymentID,
		OrderID:   orderID,
		UserID:    userID,
		Status:    status,
	})
	if err != nil {
		log.Warn().Err(err).Int64("payment_id", paymentID).Str("status", status).
			Msg("enqueue payment result notify failed")
	}
}

// NoopDispatcher キュー未設定のとき用
type NoopDispatcher struct{}

func NewNoopDispatcher() *NoopDispatcher { return &NoopDispatcher{} }

func (NoopDispatcher) OrderStatusChanged(ctx context.Context, orderID, userID int64, status string, reason string) {
}

func (NoopDispatcher) PaymentResult(ctx context.Context, paymentID, orderID, userID int64, status string) {
}
