package usecase

import (
	"context"
	"strconv"
	"sync"
	"time"

	"app/internal/domain/model"
	"app/internal/gateway"
	"app/internal/infra/cache"
	repo "app/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// =====================
// TxManager / TxRepos mocks
// =====================

// txManagerMock は WithinTx の中で渡す repos を固定して unit テストを回す
type txManagerMock struct {
	mock.Mock
	Repos repo.TxRepos
}

func (m *txManagerMock) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	// 呼ばれた事実だけ記録（ctxの具体値は問わない）
	m.Called(ctx)
	return fn(m.Repos)
}

type txReposMock struct {
	orders   repo.OrderRepository
	payments repo.PaymentRepository
}

func (r *txReposMock) Orders() repo.OrderRepository     { return r.orders }
func (r *txReposMock) Payments() repo.PaymentRepository { return r.payments }

// =====================
// Repository mocks
// =====================

type orderRepoMock struct{ mock.Mock }

func (m *orderRepoMock) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	args := m.Called(ctx, orderID)
	o, _ := args.Get(0).(model.Order)
	return o, args.Error(1)
}

func (m *orderRepoMock) ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error) {
	args := m.Called(ctx, userID, page, limit)
	orders, _ := args.Get(0).([]model.Order)
	return orders, args.Get(1).(int64), args.Error(2)
}

func (m *orderRepoMock) Create(ctx context.Context, order model.Order) (int64, error) {
	args := m.Called(ctx, order)
	return args.Get(0).(int64), args.Error(1)
}

func (m *orderRepoMock) UpdateStatusFrom(ctx context.Context, orderID int64, from, to model.OrderStatus, extra map[string]interface{}) (bool, error) {
	args := m.Called(ctx, orderID, from, to, extra)
	return args.Bool(0), args.Error(1)
}

type paymentRepoMock struct{ mock.Mock }

func (m *paymentRepoMock) FindByID(ctx context.Context, paymentID int64) (model.Payment, error) {
	args := m.Called(ctx, paymentID)
	p, _ := args.Get(0).(model.Payment)
	return p, args.Error(1)
}

func (m *paymentRepoMock) ListByOrderID(ctx context.Context, orderID int64) ([]model.Payment, error) {
	args := m.Called(ctx, orderID)
	ps, _ := args.Get(0).([]model.Payment)
	return ps, args.Error(1)
}

func (m *paymentRepoMock) Create(ctx context.Context, payment model.Payment) (int64, error) {
	args := m.Called(ctx, payment)
	return args.Get(0).(int64), args.Error(1)
}

func (m *paymentRepoMock) FindActiveByOrderID(ctx context.Context, orderID int64, now time.Time) (model.Payment, bool, error) {
	args := m.Called(ctx, orderID, now)
	p, _ := args.Get(0).(model.Payment)
	return p, args.Bool(1), args.Error(2)
}

func (m *paymentRepoMock) FindSuccessByOrderID(ctx context.Context, orderID int64) (model.Payment, bool, error) {
	args := m.Called(ctx, orderID)
	p, _ := args.Get(0).(model.Payment)
	return p, args.Bool(1), args.Error(2)
}

func (m *paymentRepoMock) UpdateStatusIfPending(ctx context.Context, paymentID int64, to model.PaymentStatus, extra map[string]interface{}) (bool, error) {
	args := m.Called(ctx, paymentID, to, extra)
	return args.Bool(0), args.Error(1)
}

func (m *paymentRepoMock) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

// =====================
// Gateway mock
// =====================

type gatewayMock struct{ mock.Mock }

func (m *gatewayMock) CreateIntent(ctx context.Context, in gateway.CreateIntentInput) (gateway.Intent, error) {
	args := m.Called(ctx, in)
	i, _ := args.Get(0).(gateway.Intent)
	return i, args.Error(1)
}

func (m *gatewayMock) RetrieveStatus(ctx context.Context, reference string) (gateway.IntentStatus, error) {
	args := m.Called(ctx, reference)
	s, _ := args.Get(0).(gateway.IntentStatus)
	return s, args.Error(1)
}

func (m *gatewayMock) Cancel(ctx context.Context, reference string) error {
	args := m.Called(ctx, reference)
	return args.Error(0)
}

func (m *gatewayMock) Refund(ctx context.Context, reference string, amount *decimal.Decimal) error {
	args := m.Called(ctx, reference, amount)
	return args.Error(0)
}

// =====================
// Cache / Dispatcher fakes（検証より状態を見たいので mock ではなく map）
// =====================

type cacheFake struct {
	mu      sync.Mutex
	entries map[int64]cache.PaymentStatusEntry
}

func newCacheFake() *cacheFake {
	return &cacheFake{entries: map[int64]cache.PaymentStatusEntry{}}
}

func (c *cacheFake) Set(ctx context.Context, entry cache.PaymentStatusEntry, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.PaymentID] = entry
	return nil
}

func (c *cacheFake) Get(ctx context.Context, paymentID int64) (cache.PaymentStatusEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[paymentID]
	return e, ok, nil
}

func (c *cacheFake) Delete(ctx context.Context, paymentID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, paymentID)
	return nil
}

func (c *cacheFake) has(paymentID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[paymentID]
	return ok
}

type dispatcherFake struct {
	mu            sync.Mutex
	orderEvents   []string // "orderID:status"
	paymentEvents []string // "paymentID:status"
}

func (d *dispatcherFake) OrderStatusChanged(ctx context.Context, orderID, userID int64, status string, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.orderEvents = append(d.orderEvents, strconv.FormatInt(orderID, 10)+":"+status)
}

func (d *dispatcherFake) PaymentResult(ctx context.Context, paymentID, orderID, userID int64, status string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paymentEvents = append(d.paymentEvents, strconv.FormatInt(paymentID, 10)+":"+status)
}

// =====================
// Clock / IDGenerator stubs
// =====================

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDGen) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return "no-" + strconv.Itoa(g.n)
}
