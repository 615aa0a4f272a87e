package usecase

import (
	"context"
	"net/http"
	"testing"
	"time"

	"app/internal/domain/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type orderFixture struct {
	tx       *txManagerMock
	orders   *orderRepoMock
	payments *paymentRepoMock
	gw       *gatewayMock
	disp     *dispatcherFake
	uc       *OrderUsecase
}

func newOrderFixture() *orderFixture {
	f := &orderFixture{
		tx:       new(txManagerMock),
		orders:   new(orderRepoMock),
		payments: new(paymentRepoMock),
		gw:       new(gatewayMock),
		disp:     &dispatcherFake{},
	}
	f.tx.Repos = &txReposMock{orders: f.orders, payments: f.payments}
	f.uc = NewOrderUsecase(
		f.tx, f.orders, f.payments,
		f.gw, f.disp,
		fixedClock{now: testNow}, &seqIDGen{},
	)
	return f
}

// =====================
// CreateOrder
// =====================

func TestOrderUsecase_Create_Success(t *testing.T) {
	f := newOrderFixture()

	f.orders.On("Create", mock.Anything, mock.MatchedBy(func(o model.Order) bool {
		return o.UserID == 1 &&
			o.MerchantID == 5 &&
			o.Status == model.OrderStatusPendingPayment &&
			o.PayAmount.Equal(decimal.NewFromFloat(53.00)) &&
			o.OrderNo != ""
	})).Return(int64(10), nil)

	out, err := f.uc.CreateOrder(context.Background(), 1, CreateOrderInput{
		MerchantID:     5,
		TotalAmount:    decimal.NewFromFloat(50.00),
		DeliveryFee:    decimal.NewFromFloat(8.00),
		DiscountAmount: decimal.NewFromFloat(5.00),
	})
	assert.NoError(t, err)
	assert.Equal(t, int64(10), out.ID)
	assert.Equal(t, "PENDING_PAYMENT", out.Status)
	//pay_amount = total + delivery_fee - discount
	assert.True(t, out.PayAmount.Equal(decimal.NewFromFloat(53.00)))

	f.orders.AssertExpectations(t)
}

func TestOrderUsecase_Create_Validation(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()

	cases := []CreateOrderInput{
		{MerchantID: 0, TotalAmount: decimal.NewFromInt(10)},
		{MerchantID: 5, TotalAmount: decimal.Zero},
		{MerchantID: 5, TotalAmount: decimal.NewFromInt(10), DeliveryFee: decimal.NewFromInt(-1)},
		{MerchantID: 5, TotalAmount: decimal.NewFromInt(10), DiscountAmount: decimal.NewFromInt(-1)},
		//割引が総額を超える
		{MerchantID: 5, TotalAmount: decimal.NewFromInt(10), DiscountAmount: decimal.NewFromInt(20)},
	}
	for _, in := range cases {
		_, err := f.uc.CreateOrder(ctx, 1, in)
		assertHTTPError(t, err, http.StatusBadRequest, CodeValidationError)
	}

	f.orders.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

// =====================
// Get / List
// =====================

func TestOrderUsecase_GetMyOrder_OtherUsers_NotFound(t *testing.T) {
	f := newOrderFixture()

	order := model.Order{ID: 10, UserID: 999, Status: model.OrderStatusPreparing}
	f.orders.On("FindByID", mock.Anything, int64(10)).Return(order, nil)

	_, err := f.uc.GetMyOrder(context.Background(), 1, 10)
	assertHTTPError(t, err, http.StatusNotFound, CodeNotFound)
}

// 成功済み支払いがあるのに未払いのまま残っていたら読み取り時に修復する
func TestOrderUsecase_GetMyOrder_RepairsLeftBehind(t *testing.T) {
	f := newOrderFixture()

	order := model.Order{ID: 10, UserID: 1, Status: model.OrderStatusPendingPayment}
	f.orders.On("FindByID", mock.Anything, int64(10)).Return(order, nil)

	paidAt := testNow.Add(-time.Minute)
	f.payments.On("FindSuccessByOrderID", mock.Anything, int64(10)).Return(model.Payment{
		ID: 7, OrderID: 10, Status: model.PaymentStatusSuccess, PaidAt: &paidAt,
	}, true, nil)
	f.orders.On("UpdateStatusFrom", mock.Anything, int64(10),
		model.OrderStatusPendingPayment, model.OrderStatusPendingConfirm,
		map[string]interface{}{"paid_at": paidAt}).Return(true, nil)

	out, err := f.uc.GetMyOrder(context.Background(), 1, 10)
	assert.NoError(t, err)
	assert.Equal(t, "PENDING_CONFIRM", out.Status)

	f.orders.AssertExpectations(t)
}

func TestOrderUsecase_GetMyOrder_NoRepairWhenNotLeftBehind(t *testing.T) {
	f := newOrderFixture()

	order := model.Order{ID: 10, UserID: 1, Status: model.OrderStatusPreparing}
	f.orders.On("FindByID", mock.Anything, int64(10)).Return(order, nil)

	out, err := f.uc.GetMyOrder(context.Background(), 1, 10)
	assert.NoError(t, err)
	assert.Equal(t, "PREPARING", out.Status)

	f.payments.AssertNotCalled(t, "FindSuccessByOrderID", mock.Anything, mock.Anything)
}

func TestOrderUsecase_ListMyOrders(t *testing.T) {
	f := newOrderFixture()

	orders := []model.Order{
		{ID: 10, UserID: 1, Status: model.OrderStatusCompleted},
		{ID: 11, UserID: 1, Status: model.OrderStatusPendingPayment},
	}
	f.orders.On("ListByUserID", mock.Anything, int64(1), 1, 50).Return(orders, int64(2), nil)

	outs, err := f.uc.ListMyOrders(context.Background(), 1)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(outs))
}

// =====================
// Cancel
// =====================

func TestOrderUsecase_Cancel_Success_AbandonsActivePayment(t *testing.T) {
	f := newOrderFixture()

	order := model.Order{ID: 10, UserID: 1, Status: model.OrderStatusPendingPayment}
	f.orders.On("FindByID", mock.Anything, int64(10)).Return(order, nil)
	f.tx.On("WithinTx", mock.Anything).Return(nil)
	f.orders.On("UpdateStatusFrom", mock.Anything, int64(10),
		model.OrderStatusPendingPayment, model.OrderStatusCancelled,
		map[string]interface{}{"cancelled_at": testNow, "cancel_reason": "changed my mind"}).Return(true, nil)

	active := model.Payment{ID: 7, OrderID: 10, UserID: 1, Status: model.PaymentStatusPending,
		ExternalReference: "pi_123", ExpireAt: testNow.Add(5 * time.Minute)}
	f.payments.On("FindActiveByOrderID", mock.Anything, int64(10), testNow).Return(active, true, nil)
	f.payments.On("UpdateStatusIfPending", mock.Anything, int64(7), model.PaymentStatusFailed,
		map[string]interface{}{"failure_reason": "order cancelled"}).Return(true, nil)
	f.gw.On("Cancel", mock.Anything, "pi_123").Return(nil)

	out, err := f.uc.Cancel(context.Background(), 1, 10, CancelOrderInput{Reason: "changed my mind"})
	assert.NoError(t, err)
	assert.Equal(t, "CANCELLED", out.Status)
	assert.Equal(t, "changed my mind", out.CancelReason)
	assert.Equal(t, []string{"10:CANCELLED"}, f.disp.orderEvents)

	f.orders.AssertExpectations(t)
	f.payments.AssertExpectations(t)
	f.gw.AssertExpectations(t)
}

func TestOrderUsecase_Cancel_DefaultReason(t *testing.T) {
	f := newOrderFixture()

	order := model.Order{ID: 10, UserID: 1, Status: model.OrderStatusPendingPayment}
	f.orders.On("FindByID", mock.Anything, int64(10)).Return(order, nil)
	f.tx.On("WithinTx", mock.Anything).Return(nil)
	f.orders.On("UpdateStatusFrom", mock.Anything, int64(10),
		model.OrderStatusPendingPayment, model.OrderStatusCancelled,
		map[string]interface{}{"cancelled_at": testNow, "cancel_reason": "cancelled by user"}).Return(true, nil)
	f.payments.On("FindActiveByOrderID", mock.Anything, int64(10), testNow).Return(model.Payment{}, false, nil)

	out, err := f.uc.Cancel(context.Background(), 1, 10, CancelOrderInput{})
	assert.NoError(t, err)
	assert.Equal(t, "cancelled by user", out.CancelReason)
}

// 支払いの後始末の読み取りが失敗しても取消自体は成立する。
// 残ったPENDINGは失効スイープが畳む
func TestOrderUsecase_Cancel_PaymentLookupFailure_StillCancels(t *testing.T) {
	f := newOrderFixture()

	order := model.Order{ID: 10, UserID: 1, Status: model.OrderStatusPendingPayment}
	f.orders.On("FindByID", mock.Anything, int64(10)).Return(order, nil)
	f.tx.On("WithinTx", mock.Anything).Return(nil)
	f.orders.On("UpdateStatusFrom", mock.Anything, int64(10),
		model.OrderStatusPendingPayment, model.OrderStatusCancelled, mock.Anything).Return(true, nil)
	f.payments.On("FindActiveByOrderID", mock.Anything, int64(10), testNow).
		Return(model.Payment{}, false, assert.AnError)

	out, err := f.uc.Cancel(context.Background(), 1, 10, CancelOrderInput{})
	assert.NoError(t, err)
	assert.Equal(t, "CANCELLED", out.Status)
	assert.Equal(t, []string{"10:CANCELLED"}, f.disp.orderEvents)

	f.payments.AssertNotCalled(t, "UpdateStatusIfPending", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOrderUsecase_Cancel_AlreadyPaid_Rejected(t *testing.T) {
	f := newOrderFixture()

	order := model.Order{ID: 10, UserID: 1, Status: model.OrderStatusPreparing}
	f.orders.On("FindByID", mock.Anything, int64(10)).Return(order, nil)

	_, err := f.uc.Cancel(context.Background(), 1, 10, CancelOrderInput{})
	assertHTTPError(t, err, http.StatusBadRequest, CodeInvalidOrderStatus)
}

// 読み取り時は未払いでも、取消の条件付き更新までに支払いが確定していた場合
func TestOrderUsecase_Cancel_LostRaceToConfirmation(t *testing.T) {
	f := newOrderFixture()

	order := model.Order{ID: 10, UserID: 1, Status: model.OrderStatusPendingPayment}
	f.orders.On("FindByID", mock.Anything, int64(10)).Return(order, nil)
	f.tx.On("WithinTx", mock.Anything).Return(nil)
	f.orders.On("UpdateStatusFrom", mock.Anything, int64(10),
		model.OrderStatusPendingPayment, model.OrderStatusCancelled, mock.Anything).Return(false, nil)

	_, err := f.uc.Cancel(context.Background(), 1, 10, CancelOrderInput{})
	assertHTTPError(t, err, http.StatusBadRequest, CodeInvalidOrderStatus)

	f.payments.AssertNotCalled(t, "UpdateStatusIfPending", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// =====================
// UpdateStatusByMerchant
// =====================

func TestOrderUsecase_MerchantUpdate_LegalEdge(t *testing.T) {
	f := newOrderFixture()

	order := model.Order{ID: 10, UserID: 1, MerchantID: 5, Status: model.OrderStatusPendingConfirm}
	f.orders.On("FindByID", mock.Anything, int64(10)).Return(order, nil)
	f.orders.On("UpdateStatusFrom", mock.Anything, int64(10),
		model.OrderStatusPendingConfirm, model.OrderStatusPreparing,
		map[string]interface{}{}).Return(true, nil)

	out, err := f.uc.UpdateStatusByMerchant(context.Background(), 5, 10, UpdateOrderStatusInput{Status: "PREPARING"})
	assert.NoError(t, err)
	assert.Equal(t, "PREPARING", out.Status)
	assert.Equal(t, []string{"10:PREPARING"}, f.disp.orderEvents)
}

func TestOrderUsecase_MerchantUpdate_IllegalEdge(t *testing.T) {
	f := newOrderFixture()

	order := model.Order{ID: 10, UserID: 1, MerchantID: 5, Status: model.OrderStatusPreparing}
	f.orders.On("FindByID", mock.Anything, int64(10)).Return(order, nil)

	//PREPARING からいきなり COMPLETED は遷移テーブルに無い
	_, err := f.uc.UpdateStatusByMerchant(context.Background(), 5, 10, UpdateOrderStatusInput{Status: "COMPLETED"})
	assertHTTPError(t, err, http.StatusBadRequest, CodeInvalidOrderStatus)

	f.orders.AssertNotCalled(t, "UpdateStatusFrom", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOrderUsecase_MerchantUpdate_UnknownStatus(t *testing.T) {
	f := newOrderFixture()

	_, err := f.uc.UpdateStatusByMerchant(context.Background(), 5, 10, UpdateOrderStatusInput{Status: "SHIPPED"})
	assertHTTPError(t, err, http.StatusBadRequest, CodeValidationError)
}

// 他商家の注文は存在しない扱い
func TestOrderUsecase_MerchantUpdate_OtherMerchant_NotFound(t *testing.T) {
	f := newOrderFixture()

	order := model.Order{ID: 10, UserID: 1, MerchantID: 999, Status: model.OrderStatusPendingConfirm}
	f.orders.On("FindByID", mock.Anything, int64(10)).Return(order, nil)

	_, err := f.uc.UpdateStatusByMerchant(context.Background(), 5, 10, UpdateOrderStatusInput{Status: "PREPARING"})
	assertHTTPError(t, err, http.StatusNotFound, CodeNotFound)
}

func TestOrderUsecase_MerchantUpdate_Complete_SetsCompletedAt(t *testing.T) {
	f := newOrderFixture()

	order := model.Order{ID: 10, UserID: 1, MerchantID: 5, Status: model.OrderStatusDelivering}
	f.orders.On("FindByID", mock.Anything, int64(10)).Return(order, nil)
	f.orders.On("UpdateStatusFrom", mock.Anything, int64(10),
		model.OrderStatusDelivering, model.OrderStatusCompleted,
		map[string]interface{}{"completed_at": testNow}).Return(true, nil)

	out, err := f.uc.UpdateStatusByMerchant(context.Background(), 5, 10, UpdateOrderStatusInput{Status: "COMPLETED"})
	assert.NoError(t, err)
	assert.Equal(t, "COMPLETED", out.Status)
	if assert.NotNil(t, out.CompletedAt) {
		assert.True(t, out.CompletedAt.Equal(testNow))
	}
}

// 読み取りから更新までの間に別の遷移が入った場合
func TestOrderUsecase_MerchantUpdate_LostRace(t *testing.T) {
	f := newOrderFixture()

	order := model.Order{ID: 10, UserID: 1, MerchantID: 5, Status: model.OrderStatusPendingConfirm}
	f.orders.On("FindByID", mock.Anything, int64(10)).Return(order, nil)
	f.orders.On("UpdateStatusFrom", mock.Anything, int64(10),
		model.OrderStatusPendingConfirm, model.OrderStatusPreparing, mock.Anything).Return(false, nil)

	_, err := f.uc.UpdateStatusByMerchant(context.Background(), 5, 10, UpdateOrderStatusInput{Status: "PREPARING"})
	assertHTTPError(t, err, http.StatusBadRequest, CodeInvalidOrderStatus)
}

// =====================
// ListOrderPayments
// =====================

func TestOrderUsecase_ListOrderPayments(t *testing.T) {
	f := newOrderFixture()

	order := model.Order{ID: 10, UserID: 1, Status: model.OrderStatusPendingPayment}
	f.orders.On("FindByID", mock.Anything, int64(10)).Return(order, nil)
	f.payments.On("ListByOrderID", mock.Anything, int64(10)).Return([]model.Payment{
		{ID: 7, OrderID: 10, Status: model.PaymentStatusExpired},
		{ID: 8, OrderID: 10, Status: model.PaymentStatusPending},
	}, nil)

	ps, err := f.uc.ListOrderPayments(context.Background(), 1, 10)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(ps))
}
