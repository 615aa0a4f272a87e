package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"app/internal/domain/model"
	"app/internal/gateway"
	"app/internal/notification"
	repo "app/internal/repository"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type OrderUsecase struct {
	tx         repo.TransactionManager
	orders     repo.OrderRepository
	payments   repo.PaymentRepository
	gateway    gateway.Adapter // nil可
	dispatcher notification.Dispatcher
	clock      Clock
	idGen      IDGenerator
}

func NewOrderUsecase(
	tx repo.TransactionManager,
	orders repo.OrderRepository,
	payments repo.PaymentRepository,
	gw gateway.Adapter,
	dispatcher notification.Dispatcher,
	clock Clock,
	idGen IDGenerator,
) *OrderUsecase {
	return &OrderUsecase{
		tx:         tx,
		orders:     orders,
		payments:   payments,
		gateway:    gw,
		dispatcher: dispatcher,
		clock:      clock,
		idGen:      idGen,
	}
}

type CreateOrderInput struct {
	MerchantID     int64
	TotalAmount    decimal.Decimal
	DeliveryFee    decimal.Decimal
	DiscountAmount decimal.Decimal
}

type OrderOutput struct {
	ID             int64           `json:"id"`
	OrderNo        string          `json:"order_no"`
	UserID         int64           `json:"user_id"`
	MerchantID     int64           `json:"merchant_id"`
	Status         string          `json:"status"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	DeliveryFee    decimal.Decimal `json:"delivery_fee"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	PayAmount      decimal.Decimal `json:"pay_amount"`
	CancelReason   string          `json:"cancel_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// CreateOrder 注文作成。支払額は作成時に確定し、以後再計算しない
func (u *OrderUsecase) CreateOrder(ctx context.Context, userID int64, in CreateOrderInput) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if in.MerchantID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, CodeValidationError)
	}
	if in.TotalAmount.LessThanOrEqual(decimal.Zero) ||
		in.DeliveryFee.LessThan(decimal.Zero) ||
		in.DiscountAmount.LessThan(decimal.Zero) {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, CodeValidationError)
	}

	payAmount := in.TotalAmount.Add(in.DeliveryFee).Sub(in.DiscountAmount)
	if payAmount.LessThan(decimal.Zero) {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, CodeValidationError)
	}

	now := u.clock.Now()
	order := model.Order{
		OrderNo:        u.idGen.NewID(),
		UserID:         userID,
		MerchantID:     in.MerchantID,
		Status:         model.OrderStatusPendingPayment,
		TotalAmount:    in.TotalAmount,
		DeliveryFee:    in.DeliveryFee,
		DiscountAmount: in.DiscountAmount,
		PayAmount:      payAmount,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	id, err := u.orders.Create(ctx, order)
	if err != nil {
		return OrderOutput{}, NewHTTPError(http.StatusInternalServerError, CodeInternalError)
	}
	order.ID = id

	log.Info().Int64("order_id", id).Int64("user_id", userID).
		Str("pay_amount", payAmount.StringFixed(2)).Msg("order created")

	return toOrderOutput(order), nil
}

func (u *OrderUsecase) ListMyOrders(ctx context.Context, userID int64) ([]OrderOutput, error) {
	if userID <= 0 {
		return []OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	orders, _, err := u.orders.ListByUserID(ctx, userID, 1, 50)
	if err != nil {
		return []OrderOutput{}, NewHTTPError(http.StatusInternalServerError, CodeInternalError)
	}

	outs := make([]OrderOutput, 0, len(orders))
	for _, o := range orders {
		outs = append(outs, toOrderOutput(o))
	}
	return outs, nil
}

// GetMyOrder 注文詳細。読み取りついでに取り残し修復を走らせる
func (u *OrderUsecase) GetMyOrder(ctx context.Context, userID int64, orderID int64) (OrderOutput, error) {
	order, err := u.loadOwnedOrder(ctx, userID, orderID)
	if err != nil {
		return OrderOutput{}, err
	}

	order = u.repairIfLeftBehind(ctx, order)
	return toOrderOutput(order), nil
}

func (u *OrderUsecase) ListOrderPayments(ctx context.Context, userID int64, orderID int64) ([]model.Payment, error) {
	if _, err := u.loadOwnedOrder(ctx, userID, orderID); err != nil {
		return nil, err
	}

	payments, err := u.payments.ListByOrderID(ctx, orderID)
	if err != nil {
		return nil, NewHTTPError(http.StatusInternalServerError, CodeInternalError)
	}
	return payments, nil
}

type CancelOrderInput struct {
	Reason string
}

// Cancel 未払い注文のユーザー取消。支払い済みになっていたら拒否する
func (u *OrderUsecase) Cancel(ctx context.Context, userID int64, orderID int64, in CancelOrderInput) (OrderOutput, error) {
	order, err := u.loadOwnedOrder(ctx, userID, orderID)
	if err != nil {
		return OrderOutput{}, err
	}
	if order.Status != model.OrderStatusPendingPayment {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, CodeInvalidOrderStatus)
	}

	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		reason = "cancelled by user"
	}

	now := u.clock.Now()
	var abandoned model.Payment
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		ok, err := r.Orders().UpdateStatusFrom(ctx, order.ID,
			model.OrderStatusPendingPayment, model.OrderStatusCancelled,
			map[string]interface{}{
				"cancelled_at":  now,
				"cancel_reason": reason,
			})
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, CodeInternalError)
		}
		if !ok {
			// 取消より先に支払いが確定した
			return NewHTTPError(http.StatusBadRequest, CodeInvalidOrderStatus)
		}

		// 残っている有効な支払いも同じトランザクションで畳む
		payment, found, err := r.Payments().FindActiveByOrderID(ctx, order.ID, now)
		if err != nil {
			// 取消自体は成立させる。残ったPENDINGは失効スイープが畳む
			log.Error().Err(err).Int64("order_id", order.ID).
				Msg("active payment lookup failed during cancel")
			return nil
		}
		if !found {
			return nil
		}
		if _, err := r.Payments().UpdateStatusIfPending(ctx, payment.ID, model.PaymentStatusFailed, map[string]interface{}{
			"failure_reason": "order cancelled",
		}); err != nil {
			return NewHTTPError(http.StatusInternalServerError, CodeInternalError)
		}
		abandoned = payment
		return nil
	})
	if err != nil {
		return OrderOutput{}, err
	}

	// ゲートウェイ側の取消はベストエフォート
	if abandoned.ExternalReference != "" && u.gateway != nil {
		if err := u.gateway.Cancel(ctx, abandoned.ExternalReference); err != nil {
			log.Warn().Err(err).Str("reference", abandoned.ExternalReference).
				Msg("gateway intent cancel failed")
		}
	}

	order.Status = model.OrderStatusCancelled
	order.CancelledAt = &now
	order.CancelReason = reason

	u.dispatcher.OrderStatusChanged(ctx, order.ID, order.UserID, string(model.OrderStatusCancelled), reason)

	log.Info().Int64("order_id", order.ID).Str("reason", reason).Msg("order cancelled by user")
	return toOrderOutput(order), nil
}

type UpdateOrderStatusInput struct {
	Status string
	Reason string
}

// UpdateStatusByMerchant 商家側のステータス更新。遷移テーブルに無い
// エッジは全部 INVALID_ORDER_STATUS で拒否する
func (u *OrderUsecase) UpdateStatusByMerchant(ctx context.Context, merchantID int64, orderID int64, in UpdateOrderStatusInput) (OrderOutput, error) {
	if merchantID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, CodeValidationError)
	}

	target := model.OrderStatus(strings.TrimSpace(in.Status))
	if !model.IsValidOrderStatus(target) {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, CodeValidationError)
	}

	order, err := u.orders.FindByID(ctx, orderID)
	if errors.Is(err, repo.ErrNotFound) {
		return OrderOutput{}, NewHTTPError(http.StatusNotFound, CodeNotFound)
	}
	if err != nil {
		return OrderOutput{}, NewHTTPError(http.StatusInternalServerError, CodeInternalError)
	}
	//他商家の注文は「存在しない扱い」にする
	if order.MerchantID != merchantID {
		return OrderOutput{}, NewHTTPError(http.StatusNotFound, CodeNotFound)
	}

	if !model.CanTransition(order.Status, target) {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, CodeInvalidOrderStatus)
	}

	now := u.clock.Now()
	extra := map[string]interface{}{}
	switch target {
	case model.OrderStatusCancelled:
		reason := strings.TrimSpace(in.Reason)
		if reason == "" {
			reason = "cancelled by merchant"
		}
		extra["cancelled_at"] = now
		extra["cancel_reason"] = reason
		order.CancelledAt = &now
		order.CancelReason = reason
	case model.OrderStatusCompleted:
		extra["completed_at"] = now
		order.CompletedAt = &now
	}

	ok, err := u.orders.UpdateStatusFrom(ctx, order.ID, order.Status, target, extra)
	if err != nil {
		return OrderOutput{}, NewHTTPError(http.StatusInternalServerError, CodeInternalError)
	}
	if !ok {
		// 読み取りから更新までの間に別の遷移が入った
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, CodeInvalidOrderStatus)
	}

	from := order.Status
	order.Status = target

	u.dispatcher.OrderStatusChanged(ctx, order.ID, order.UserID, string(target), order.CancelReason)

	log.Info().Int64("order_id", order.ID).
		Str("from", string(from)).Str("to", string(target)).
		Msg("order status updated by merchant")

	return toOrderOutput(order), nil
}

func (u *OrderUsecase) loadOwnedOrder(ctx context.Context, userID, orderID int64) (model.Order, error) {
	if userID <= 0 {
		return model.Order{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return model.Order{}, NewHTTPError(http.StatusBadRequest, CodeValidationError)
	}

	order, err := u.orders.FindByID(ctx, orderID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Order{}, NewHTTPError(http.StatusNotFound, CodeNotFound)
	}
	if err != nil {
		return model.Order{}, NewHTTPError(http.StatusInternalServerError, CodeInternalError)
	}
	if order.UserID != userID {
		return model.Order{}, NewHTTPError(http.StatusNotFound, CodeNotFound)
	}
	return order, nil
}

// repairIfLeftBehind 支払い成功の記録があるのに注文が未払いのまま
// 取り残されていたら、注文側の遷移だけをやり直す
func (u *OrderUsecase) repairIfLeftBehind(ctx context.Context, order model.Order) model.Order {
	if order.Status != model.OrderStatusPendingPayment {
		return order
	}

	payment, found, err := u.payments.FindSuccessByOrderID(ctx, order.ID)
	if err != nil || !found {
		return order
	}

	paidAt := u.clock.Now()
	if payment.PaidAt != nil {
		paidAt = *payment.PaidAt
	}

	advanced, err := u.orders.UpdateStatusFrom(ctx, order.ID,
		model.OrderStatusPendingPayment, model.OrderStatusPendingConfirm,
		map[string]interface{}{"paid_at": paidAt})
	if err != nil {
		log.Error().Err(err).Int64("order_id", order.ID).Msg("order repair failed")
		return order
	}
	if advanced {
		log.Warn().Int64("order_id", order.ID).Int64("payment_id", payment.ID).
			Msg("repaired order left behind by crashed confirmation")
		order.Status = model.OrderStatusPendingConfirm
		order.PaidAt = &paidAt
	}
	return order
}

func toOrderOutput(o model.Order) OrderOutput {
	return OrderOutput{
		ID:             o.ID,
		OrderNo:        o.OrderNo,
		UserID:         o.UserID,
		MerchantID:     o.MerchantID,
		Status:         string(o.Status),
		TotalAmount:    o.TotalAmount,
		DeliveryFee:    o.DeliveryFee,
		DiscountAmount: o.DiscountAmount,
		PayAmount:      o.PayAmount,
		CancelReason:   o.CancelReason,
		CreatedAt:      o.CreatedAt,
		PaidAt:         o.PaidAt,
		CancelledAt:    o.CancelledAt,
		CompletedAt:    o.CompletedAt,
	}
}
