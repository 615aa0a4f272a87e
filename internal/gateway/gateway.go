package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// IntentStatus プロバイダ側インテントの状態
type IntentStatus string

const (
	IntentStatusPending   IntentStatus = "pending"
	IntentStatusSucceeded IntentStatus = "succeeded"
	IntentStatusCanceled  IntentStatus = "canceled"
)

// ErrUnavailable プロバイダ呼び出しの失敗。呼び出し側はモック経路に
// フォールバックするだけで、支払い作成の失敗として伝播させない。
var ErrUnavailable = errors.New("payment gateway unavailable")

type CreateIntentInput struct {
	Amount   decimal.Decimal
	Currency string
	Metadata map[string]string
}

type Intent struct {
	Reference    string
	ClientSecret string
	PaymentURL   string
}

// Adapter 決済プロバイダへの能力インターフェース。
// 未設定（nil）でもコアは完全に動く。
type Adapter interface {
	CreateIntent(ctx context.Context, in CreateIntentInput) (Intent, error)
	RetrieveStatus(ctx context.Context, reference string) (IntentStatus, error)
	Cancel(ctx context.Context, reference string) error
	Refund(ctx context.Context, reference string, amount *decimal.Decimal) error
}
