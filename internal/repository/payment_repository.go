package repository

import (
	"context"
	"errors"
	"time"

	"app/internal/domain/model"
)

// ErrConflict 一意制約に弾かれた作成。呼び出し側は勝った行を読み直す
var ErrConflict = errors.New("conflict")

type PaymentRepository interface {
	FindByID(ctx context.Context, paymentID int64) (model.Payment, error)
	ListByOrderID(ctx context.Context, orderID int64) ([]model.Payment, error)
	Create(ctx context.Context, payment model.Payment) (int64, error)

	// FindActiveByOrderID PENDING かつ expire_at > now の支払いを返す
	FindActiveByOrderID(ctx context.Context, orderID int64, now time.Time) (model.Payment, bool, error)

	// FindSuccessByOrderID 成功済みの支払いがあれば返す（修復パス用）
	FindSuccessByOrderID(ctx context.Context, orderID int64) (model.Payment, bool, error)

	// UpdateStatusIfPending は status が PENDING のままのときだけ終端状態へ更新する。
	// UPDATE ... WHERE id = ? AND status = 'PENDING' の affected rows が成否。
	// これが冪等性の根拠になる唯一の書き込みで、read-modify-write にしてはいけない。
	UpdateStatusIfPending(ctx context.Context, paymentID int64, to model.PaymentStatus, extra map[string]interface{}) (bool, error)

	// ExpireOverdue 期限切れの PENDING を一括で EXPIRED にする。件数を返す
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}
