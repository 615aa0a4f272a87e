package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	OrderStatusPendingConfirm OrderStatus = "PENDING_CONFIRM"
	OrderStatusPreparing      OrderStatus = "PREPARING"
	OrderStatusReady          OrderStatus = "READY"
	OrderStatusDelivering     OrderStatus = "DELIVERING"
	OrderStatusCompleted      OrderStatus = "COMPLETED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
	OrderStatusRefunded       OrderStatus = "REFUNDED"
)

// 許可された遷移テーブル。ここに無いエッジは全部拒否する。
// PENDING_PAYMENT からの遷移は支払い確定処理だけが行うので、
// このテーブルには載せない。
var allowedOrderTransitions = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusPendingConfirm: {
		OrderStatusPreparing: true,
		OrderStatusCancelled: true,
	},
	OrderStatusPreparing: {
		OrderStatusReady: true,
	},
	OrderStatusReady: {
		OrderStatusDelivering: true,
	},
	OrderStatusDelivering: {
		OrderStatusCompleted: true,
	},
}

// CanTransition は from → to の遷移がテーブル上で許可されているかを返す
func CanTransition(from, to OrderStatus) bool {
	nexts, ok := allowedOrderTransitions[from]
	if !ok {
		return false
	}
	return nexts[to]
}

// IsTerminalOrderStatus 終端状態かどうか
func IsTerminalOrderStatus(s OrderStatus) bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled || s == OrderStatusRefunded
}

func IsValidOrderStatus(s OrderStatus) bool {
	switch s {
	case OrderStatusPendingPayment, OrderStatusPendingConfirm, OrderStatusPreparing,
		OrderStatusReady, OrderStatusDelivering, OrderStatusCompleted,
		OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

type Order struct {
	ID         int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo    string      `gorm:"type:varchar(64);not null;uniqueIndex" json:"order_no"`
	UserID     int64       `gorm:"not null;index" json:"user_id"`
	MerchantID int64       `gorm:"not null;index" json:"merchant_id"`
	Status     OrderStatus `gorm:"type:varchar(20);not null;index" json:"status"`

	// 金額は作成時に確定し、以後再計算しない
	// pay_amount = total_amount + delivery_fee - discount_amount
	TotalAmount    decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"total_amount"`
	DeliveryFee    decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"delivery_fee"`
	DiscountAmount decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"discount_amount"`
	PayAmount      decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"pay_amount"`

	CancelReason string     `gorm:"type:varchar(255)" json:"cancel_reason,omitempty"`
	CreatedAt    time.Time  `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"not null;autoUpdateTime" json:"updated_at"`
	PaidAt       *time.Time `json:"paid_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}
