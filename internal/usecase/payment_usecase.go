package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"app/internal/domain/model"
	"app/internal/gateway"
	"app/internal/infra/cache"
	"app/internal/notification"
	repo "app/internal/repository"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const paymentCurrency = "CNY"

// PaymentUsecase 支払いの作成と、複数経路から届く完了シグナルの照合。
// 冪等性はすべてストレージ層の条件付き更新に依存していて、
// アプリ側のロックは一切当てにしない（複数プロセスで動くため）。
type PaymentUsecase struct {
	tx         repo.TransactionManager
	orders     repo.OrderRepository
	payments   repo.PaymentRepository
	cache      cache.StatusCache
	gateway    gateway.Adapter // nil = プロバイダ未設定
	dispatcher notification.Dispatcher
	clock      Clock
	idGen      IDGenerator
	window     time.Duration
}

func NewPaymentUsecase(
	tx repo.TransactionManager,
	orders repo.OrderRepository,
	payments repo.PaymentRepository,
	statusCache cache.StatusCache,
	gw gateway.Adapter,
	dispatcher notification.Dispatcher,
	clock Clock,
	idGen IDGenerator,
	window time.Duration,
) *PaymentUsecase {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &PaymentUsecase{
		tx:         tx,
		orders:     orders,
		payments:   payments,
		cache:      statusCache,
		gateway:    gw,
		dispatcher: dispatcher,
		clock:      clock,
		idGen:      idGen,
		window:     window,
	}
}

type CreatePaymentInput struct {
	OrderID int64
	Method  string
}

type PaymentOutput struct {
	PaymentID    int64           `json:"payment_id"`
	PaymentNo    string          `json:"payment_no"`
	OrderID      int64           `json:"order_id"`
	Amount       decimal.Decimal `json:"amount"`
	Method       string          `json:"method"`
	Status       string          `json:"status"`
	PaymentURL   string          `json:"payment_url,omitempty"`
	ClientSecret string          `json:"client_secret,omitempty"`
	ExpireAt     time.Time       `json:"expire_at"`
}

type PaymentStatusOutput struct {
	PaymentID int64      `json:"payment_id"`
	OrderID   int64      `json:"order_id"`
	Status    string     `json:"status"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
}

// CreatePayment 支払いを作る。有効な支払いが既にあればそれをそのまま返す
// （二重送信でゲートウェイのインテントが重複しないためのガード）。
func (u *PaymentUsecase) CreatePayment(ctx context.Context, userID int64, in CreatePaymentInput) (PaymentOutput, error) {
	if userID <= 0 {
		return PaymentOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if in.OrderID <= 0 {
		return PaymentOutput{}, NewHTTPError(http.StatusBadRequest, CodeValidationError)
	}
	method := model.PaymentMethod(in.Method)
	if !model.IsValidPaymentMethod(method) {
		return PaymentOutput{}, NewHTTPError(http.StatusBadRequest, CodeValidationError)
	}

	order, err := u.orders.FindByID(ctx, in.OrderID)
	if errors.Is(err, repo.ErrNotFound) {
		return PaymentOutput{}, NewHTTPError(http.StatusNotFound, CodeNotFound)
	}
	if err != nil {
		return PaymentOutput{}, NewHTTPError(http.StatusInternalServerError, CodeInternalError)
	}
	//他人の注文は「存在しない扱い」にする
	if order.UserID != userID {
		return PaymentOutput{}, NewHTTPError(http.StatusNotFound, CodeNotFound)
	}
	if order.Status != model.OrderStatusPendingPayment {
		return PaymentOutput{}, NewHTTPError(http.StatusBadRequest, CodeInvalidOrderStatus)
	}

	now := u.clock.Now()

	payment, reused, err := u.openPaymentAttempt(ctx, order, method, now)
	if errors.Is(err, repo.ErrConflict) {
		// 同時作成に負けた。ユニーク制約が弾いた側は勝者を読み直して返す
		existing, found, ferr := u.payments.FindActiveByOrderID(ctx, order.ID, now)
		if ferr != nil {
			return PaymentOutput{}, NewHTTPError(http.StatusInternalServerError, CodeInternalError)
		}
		if found {
			log.Info().Int64("order_id", order.ID).Int64("payment_id", existing.ID).
				Msg("lost payment create race, reusing winner")
			return u.toPaymentOutput(existing), nil
		}

		// 有効な行が無いのに弾かれた＝期限切れのPENDINGが残っている。
		// 先に失効させてから一度だけ作り直す
		if _, serr := u.payments.ExpireOverdue(ctx, now); serr != nil {
			return PaymentOutput{}, NewHTTPError(http.StatusInternalServerError, CodeInternalError)
		}
		payment, reused, err = u.openPaymentAttempt(ctx, order, method, now)
		if errors.Is(err, repo.ErrConflict) {
			existing, found, ferr = u.payments.FindActiveByOrderID(ctx, order.ID, now)
			if ferr != nil || !found {
				return PaymentOutput{}, NewHTTPError(http.StatusInternalServerError, CodeInternalError)
			}
			return u.toPaymentOutput(existing), nil
		}
	}
	if err != nil {
		return PaymentOutput{}, err
	}

	if reused {
		log.Info().Int64("order_id", order.ID).Int64("payment_id", payment.ID).
			Msg("reusing active payment")
		return u.toPaymentOutput(payment), nil
	}

	// キャッシュは参照用。書けなくても支払いは成立する
	ttl := payment.ExpireAt.Sub(now)
	if err := u.cache.Set(ctx, cache.PaymentStatusEntry{
		PaymentID: payment.ID,
		PaymentNo: payment.PaymentNo,
		OrderID:   payment.OrderID,
		UserID:    payment.UserID,
		Status:    payment.Status,
	}, ttl); err != nil {
		log.Warn().Err(err).Int64("payment_id", payment.ID).Msg("status cache write failed")
	}

	log.Info().Int64("order_id", order.ID).Int64("payment_id", payment.ID).
		Str("method", string(method)).Str("amount", payment.Amount.StringFixed(2)).
		Msg("payment created")

	return u.toPaymentOutput(payment), nil
}

// openPaymentAttempt 有効な支払いの再利用か、なければ新規作成。
// 新規作成は payments の部分ユニーク制約に守られていて、同時に走った
// 作成の片方は repo.ErrConflict で弾かれてここから伝播する。
func (u *PaymentUsecase) openPaymentAttempt(ctx context.Context, order model.Order, method model.PaymentMethod, now time.Time) (model.Payment, bool, error) {
	var payment model.Payment
	reused := false
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		existing, found, err := r.Payments().FindActiveByOrderID(ctx, order.ID, now)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, CodeInternalError)
		}
		if found {
			payment = existing
			reused = true
			return nil
		}

		payment = model.Payment{
			PaymentNo: u.idGen.NewID(),
			OrderID:   order.ID,
			UserID:    order.UserID,
			Status:    model.PaymentStatusPending,
			Method:    method,
			Amount:    order.PayAmount, // 作成時点で固定
			ExpireAt:  now.Add(u.window),
			CreatedAt: now,
			UpdatedAt: now,
		}

		// ゲートウェイのインテントはベストエフォート。失敗しても
		// モック確認経路で支払える状態のまま作成を続行する。
		u.openGatewayIntent(ctx, order, &payment)

		id, err := r.Payments().Create(ctx, payment)
		if errors.Is(err, repo.ErrConflict) {
			return err
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, CodeInternalError)
		}
		payment.ID = id
		return nil
	})
	return payment, reused, err
}

func (u *PaymentUsecase) openGatewayIntent(ctx context.Context, order model.Order, payment *model.Payment) {
	if u.gateway == nil {
		return
	}

	intent, err := u.gateway.CreateIntent(ctx, gateway.CreateIntentInput{
		Amount:   payment.Amount,
		Currency: paymentCurrency,
		Metadata: map[string]string{
			"order_no":   order.OrderNo,
			"payment_no": payment.PaymentNo,
		},
	})
	if err != nil {
		// 作成失敗として伝播させず、モック経路に切り替える
		log.Warn().Err(err).Int64("order_id", order.ID).
			Msg("gateway intent failed, falling back to mock path")
		return
	}

	payment.ExternalReference = intent.Reference
	payment.ClientSecret = intent.ClientSecret
	payment.PaymentURL = intent.PaymentURL
}

func (u *PaymentUsecase) toPaymentOutput(p model.Payment) PaymentOutput {
	out := PaymentOutput{
		PaymentID:    p.ID,
		PaymentNo:    p.PaymentNo,
		OrderID:      p.OrderID,
		Amount:       p.Amount,
		Method:       string(p.Method),
		Status:       string(p.Status),
		PaymentURL:   p.PaymentURL,
		ClientSecret: p.ClientSecret,
		ExpireAt:     p.ExpireAt,
	}
	if out.PaymentURL == "" {
		// プロバイダ無しのモック決済ページ
		out.PaymentURL = fmt.Sprintf("/payments/%d/mock-pay", p.ID)
	}
	return out
}

// GetStatus 現在の支払い状態。PENDINGで期限切れならここでEXPIREDに落とし、
// ゲートウェイ参照があればライブ状態を問い合わせて確定を起動する。
func (u *PaymentUsecase) GetStatus(ctx context.Context, userID int64, paymentID int64) (PaymentStatusOutput, error) {
	if userID <= 0 {
		return PaymentStatusOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	// キャッシュは所有チェックの先読みにだけ使う。権威はあくまでDB側
	if entry, found, err := u.cache.Get(ctx, paymentID); err == nil && found && entry.UserID != userID {
		return PaymentStatusOutput{}, NewHTTPError(http.StatusNotFound, CodeNotFound)
	}

	payment, err := u.loadOwnedPayment(ctx, userID, paymentID)
	if err != nil {
		return PaymentStatusOutput{}, err
	}

	now := u.clock.Now()

	if payment.Status == model.PaymentStatusPending {
		if !payment.ExpireAt.After(now) {
			payment = u.expirePayment(ctx, payment)
			return toStatusOutput(payment), nil
		}

		if payment.ExternalReference != "" && u.gateway != nil {
			payment = u.pollGateway(ctx, payment)
		}
	}

	// 修復パス: 支払いは成功済みなのに注文が取り残されていたら進める
	if payment.Status == model.PaymentStatusSuccess {
		u.ensureOrderAdvanced(ctx, payment)
	}

	return toStatusOutput(payment), nil
}

func (u *PaymentUsecase) loadOwnedPayment(ctx context.Context, userID, paymentID int64) (model.Payment, error) {
	payment, err := u.payments.FindByID(ctx, paymentID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Payment{}, NewHTTPError(http.StatusNotFound, CodeNotFound)
	}
	if err != nil {
		return model.Payment{}, NewHTTPError(http.StatusInternalServerError, CodeInternalError)
	}
	if payment.UserID != userID {
		return model.Payment{}, NewHTTPError(http.StatusNotFound, CodeNotFound)
	}
	return payment, nil
}

// pollGateway ライブ状態を聞いて、確定/失敗を同じチョークポイントへ流す。
// ゲートウェイ障害はPENDINGのまま放置するだけ。
func (u *PaymentUsecase) pollGateway(ctx context.Context, payment model.Payment) model.Payment {
	status, err := u.gateway.RetrieveStatus(ctx, payment.ExternalReference)
	if err != nil {
		log.Warn().Err(err).Int64("payment_id", payment.ID).Msg("gateway status poll failed")
		return payment
	}

	switch status {
	case gateway.IntentStatusSucceeded:
		if p, err := u.ConfirmPayment(ctx, payment.ID); err == nil {
			return p
		}
	case gateway.IntentStatusCanceled:
		if p, err := u.FailPayment(ctx, payment.ID, "canceled by provider"); err == nil {
			return p
		}
	}
	return payment
}

// ConfirmPayment 唯一の確定点。Webhook・モック確認・ポーリングの全部が
// ここを通り、何回・何並列で呼ばれても終端遷移は一度しか起きない。
func (u *PaymentUsecase) ConfirmPayment(ctx context.Context, paymentID int64) (model.Payment, error) {
	payment, err := u.payments.FindByID(ctx, paymentID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Payment{}, NewHTTPError(http.StatusNotFound, CodeNotFound)
	}
	if err != nil {
		return model.Payment{}, NewHTTPError(http.StatusInternalServerError, CodeInternalError)
	}

	// 終端なら何もしない。Webhookの再配送はここで無害になる
	if payment.Status.IsTerminal() {
		return payment, nil
	}

	now := u.clock.Now()

	// 期限切れ後の確定は、失効スイープとの競合順序に関係なく常に拒否
	if !payment.ExpireAt.After(now) {
		return u.expirePayment(ctx, payment), nil
	}

	won := false
	advanced := false
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		ok, err := r.Payments().UpdateStatusIfPending(ctx, payment.ID, model.PaymentStatusSuccess, map[string]interface{}{
			"paid_at": now,
		})
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, CodeInternalError)
		}
		if !ok {
			// 別の呼び出しが先に確定させた。負けた側は現状を返すだけ
			return nil
		}
		won = true

		advanced, err = r.Orders().UpdateStatusFrom(ctx, payment.OrderID,
			model.OrderStatusPendingPayment, model.OrderStatusPendingConfirm,
			map[string]interface{}{"paid_at": now})
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, CodeInternalError)
		}
		if !advanced {
			// 注文が別経路で先に動いていた場合は安全なno-opとして扱う
			log.Info().Int64("order_id", payment.OrderID).Int64("payment_id", payment.ID).
				Msg("order already past pending payment, skipping advance")
		}
		return nil
	})
	if err != nil {
		return model.Payment{}, err
	}

	if !won {
		current, err := u.payments.FindByID(ctx, paymentID)
		if err != nil {
			return model.Payment{}, NewHTTPError(http.StatusInternalServerError, CodeInternalError)
		}
		log.Info().Int64("payment_id", paymentID).Str("status", string(current.Status)).
			Msg("confirm lost race, returning current state")
		return current, nil
	}

	if err := u.cache.Delete(ctx, payment.ID); err != nil {
		log.Warn().Err(err).Int64("payment_id", payment.ID).Msg("status cache delete failed")
	}

	u.dispatcher.PaymentResult(ctx, payment.ID, payment.OrderID, payment.UserID, string(model.PaymentStatusSuccess))
	// 注文が実際に動いたときだけ通知する。別経路で先に動いていた場合は出さない
	if advanced {
		u.dispatcher.OrderStatusChanged(ctx, payment.OrderID, payment.UserID, string(model.OrderStatusPendingConfirm), "")
	}

	log.Info().Int64("payment_id", payment.ID).Int64("order_id", payment.OrderID).
		Msg("payment confirmed")

	payment.Status = model.PaymentStatusSuccess
	payment.PaidAt = &now
	return payment, nil
}

// FailPayment PENDING→FAILEDのみ。確定と同じ条件付き更新の作法
func (u *PaymentUsecase) FailPayment(ctx context.Context, paymentID int64, reason string) (model.Payment, error) {
	payment, err := u.payments.FindByID(ctx, paymentID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Payment{}, NewHTTPError(http.StatusNotFound, CodeNotFound)
	}
	if err != nil {
		return model.Payment{}, NewHTTPError(http.StatusInternalServerError, CodeInternalError)
	}

	if payment.Status.IsTerminal() {
		return payment, nil
	}

	now := u.clock.Now()
	if !payment.ExpireAt.After(now) {
		return u.expirePayment(ctx, payment), nil
	}

	ok, err := u.payments.UpdateStatusIfPending(ctx, payment.ID, model.PaymentStatusFailed, map[string]interface{}{
		"failure_reason": reason,
	})
	if err != nil {
		return model.Payment{}, NewHTTPError(http.StatusInternalServerError, CodeInternalError)
	}
	if !ok {
		current, err := u.payments.FindByID(ctx, paymentID)
		if err != nil {
			return model.Payment{}, NewHTTPError(http.StatusInternalServerError, CodeInternalError)
		}
		return current, nil
	}

	if err := u.cache.Delete(ctx, payment.ID); err != nil {
		log.Warn().Err(err).Int64("payment_id", payment.ID).Msg("status cache delete failed")
	}
	u.dispatcher.PaymentResult(ctx, payment.ID, payment.OrderID, payment.UserID, string(model.PaymentStatusFailed))

	log.Info().Int64("payment_id", payment.ID).Str("reason", reason).Msg("payment failed")

	payment.Status = model.PaymentStatusFailed
	payment.FailureReason = reason
	return payment, nil
}

// MockPay テスト/手動の確認経路。所有チェックだけしてチョークポイントへ
func (u *PaymentUsecase) MockPay(ctx context.Context, userID int64, paymentID int64, success bool) (model.Payment, error) {
	if userID <= 0 {
		return model.Payment{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if _, err := u.loadOwnedPayment(ctx, userID, paymentID); err != nil {
		return model.Payment{}, err
	}

	if success {
		return u.ConfirmPayment(ctx, paymentID)
	}
	return u.FailPayment(ctx, paymentID, "mock payment declined")
}

type CallbackInput struct {
	PaymentID int64 `json:"paymentId"`
	Success   bool  `json:"success"`
}

// HandleCallback Webhook経由の完了イベント。署名検証はゲートウェイ層で
// 済んでいる前提で、ここは検証済みイベントだけを受け取る。
func (u *PaymentUsecase) HandleCallback(ctx context.Context, in CallbackInput) (model.Payment, error) {
	if in.PaymentID <= 0 {
		return model.Payment{}, NewHTTPError(http.StatusBadRequest, CodeValidationError)
	}
	if in.Success {
		return u.ConfirmPayment(ctx, in.PaymentID)
	}
	return u.FailPayment(ctx, in.PaymentID, "provider reported failure")
}

// ExpireOverduePayments 定期スイープ本体
func (u *PaymentUsecase) ExpireOverduePayments(ctx context.Context) (int64, error) {
	return u.payments.ExpireOverdue(ctx, u.clock.Now())
}

// expirePayment 条件付きでEXPIREDへ。負けても現状を読み直して返す
func (u *PaymentUsecase) expirePayment(ctx context.Context, payment model.Payment) model.Payment {
	ok, err := u.payments.UpdateStatusIfPending(ctx, payment.ID, model.PaymentStatusExpired, nil)
	if err != nil {
		log.Error().Err(err).Int64("payment_id", payment.ID).Msg("payment expire failed")
		return payment
	}
	if ok {
		if err := u.cache.Delete(ctx, payment.ID); err != nil {
			log.Warn().Err(err).Int64("payment_id", payment.ID).Msg("status cache delete failed")
		}
		log.Info().Int64("payment_id", payment.ID).Msg("payment expired")
		payment.Status = model.PaymentStatusExpired
		return payment
	}

	current, err := u.payments.FindByID(ctx, payment.ID)
	if err != nil {
		return payment
	}
	return current
}

// ensureOrderAdvanced 支払い成功と注文遷移の間でクラッシュした場合の修復。
// 遷移済みなら条件付き更新が空振りするだけで何度呼んでも安全。
func (u *PaymentUsecase) ensureOrderAdvanced(ctx context.Context, payment model.Payment) {
	paidAt := payment.PaidAt
	if paidAt == nil {
		now := u.clock.Now()
		paidAt = &now
	}

	advanced, err := u.orders.UpdateStatusFrom(ctx, payment.OrderID,
		model.OrderStatusPendingPayment, model.OrderStatusPendingConfirm,
		map[string]interface{}{"paid_at": *paidAt})
	if err != nil {
		log.Error().Err(err).Int64("order_id", payment.OrderID).Msg("order repair failed")
		return
	}
	if advanced {
		log.Warn().Int64("order_id", payment.OrderID).Int64("payment_id", payment.ID).
			Msg("repaired order left behind by crashed confirmation")
	}
}

func toStatusOutput(p model.Payment) PaymentStatusOutput {
	return PaymentStatusOutput{
		PaymentID: p.ID,
		OrderID:   p.OrderID,
		Status:    string(p.Status),
		PaidAt:    p.PaidAt,
	}
}
