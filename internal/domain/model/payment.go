package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusSuccess PaymentStatus = "SUCCESS"
	PaymentStatusFailed  PaymentStatus = "FAILED"
	PaymentStatusExpired PaymentStatus = "EXPIRED"
)

// IsTerminal SUCCESS/FAILED/EXPIRED は不変の終端状態
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusSuccess || s == PaymentStatusFailed || s == PaymentStatusExpired
}

type PaymentMethod string

const (
	PaymentMethodWechat PaymentMethod = "wechat"
	PaymentMethodAlipay PaymentMethod = "alipay"
	PaymentMethodCard   PaymentMethod = "card"
)

func IsValidPaymentMethod(m PaymentMethod) bool {
	return m == PaymentMethodWechat || m == PaymentMethodAlipay || m == PaymentMethodCard
}

// Payment 1回の支払い試行。同じ注文に複数回発生しうるが、
// 有効（PENDING かつ未失効）なものは同時に1件だけ。
type Payment struct {
	ID        int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	PaymentNo string `gorm:"type:varchar(64);not null;uniqueIndex" json:"payment_no"`

	// 部分ユニーク制約で PENDING は注文ごとに1行に抑える。
	// 同時作成の片方はここで弾かれる
	OrderID int64 `gorm:"not null;index;uniqueIndex:udx_payments_pending_order,where:status = 'PENDING'" json:"order_id"`
	UserID    int64         `gorm:"not null;index" json:"user_id"`
	Status    PaymentStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	Method    PaymentMethod `gorm:"type:varchar(20);not null" json:"method"`

	// 作成時点の order.pay_amount をコピーして固定する
	Amount decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`

	// ゲートウェイ側インテントの参照。モック経路では空のまま
	ExternalReference string `gorm:"type:varchar(128)" json:"external_reference,omitempty"`
	ClientSecret      string `gorm:"type:varchar(128)" json:"-"`
	PaymentURL        string `gorm:"type:varchar(255)" json:"payment_url,omitempty"`
	FailureReason     string `gorm:"type:varchar(255)" json:"failure_reason,omitempty"`

	ExpireAt  time.Time  `gorm:"not null;index" json:"expire_at"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
	CreatedAt time.Time  `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// Active PENDING かつ失効前なら true
func (p *Payment) Active(now time.Time) bool {
	return p.Status == PaymentStatusPending && p.ExpireAt.After(now)
}
