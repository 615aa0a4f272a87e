package repository

import (
	"context"
	"errors"

	"app/internal/domain/model"
)

var ErrNotFound = errors.New("not found")

type OrderRepository interface {
	FindByID(ctx context.Context, orderID int64) (model.Order, error)
	ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error)
	Create(ctx context.Context, order model.Order) (int64, error)

	// UpdateStatusFrom は status が from のときだけ to へ更新する条件付き更新。
	// extra には paid_at / cancelled_at などの追加カラムを渡す。
	// 更新できたら true、既に別の状態なら false を返す（エラーにはしない）。
	UpdateStatusFrom(ctx context.Context, orderID int64, from, to model.OrderStatus, extra map[string]interface{}) (bool, error)
}
