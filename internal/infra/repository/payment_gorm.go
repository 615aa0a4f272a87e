package repository

import (
	"context"
	"errors"
	"time"

	"app/internal/domain/model"
	repo "app/internal/repository"

	"gorm.io/gorm"
)

type PaymentGormRepository struct {
	db *gorm.DB
}

func NewPaymentGormRepository(db *gorm.DB) *PaymentGormRepository {
	return &PaymentGormRepository{db: db}
}

func (r *PaymentGormRepository) FindByID(ctx context.Context, paymentID int64) (model.Payment, error) {
	var p model.Payment
	err := r.db.WithContext(ctx).Where("id = ?", paymentID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Payment{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Payment{}, err
	}
	return p, nil
}

func (r *PaymentGormRepository) ListByOrderID(ctx context.Context, orderID int64) ([]model.Payment, error) {
	var items []model.Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id desc").
		Find(&items).Error
	if err != nil {
		return []model.Payment{}, err
	}
	return items, nil
}

// Create の重複キーは payments の部分ユニーク制約（注文ごとに PENDING は1行）に
// 弾かれたということなので ErrConflict に読み替える
func (r *PaymentGormRepository) Create(ctx context.Context, payment model.Payment) (int64, error) {
	if err := r.db.WithContext(ctx).Create(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return 0, repo.ErrConflict
		}
		return 0, err
	}
	return payment.ID, nil
}

func (r *PaymentGormRepository) FindActiveByOrderID(ctx context.Context, orderID int64, now time.Time) (model.Payment, bool, error) {
	var p model.Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status = ? AND expire_at > ?", orderID, model.PaymentStatusPending, now).
		Order("id desc").
		First(&p).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Payment{}, false, nil
	}
	if err != nil {
		return model.Payment{}, false, err
	}
	return p, true, nil
}

func (r *PaymentGormRepository) FindSuccessByOrderID(ctx context.Context, orderID int64) (model.Payment, bool, error) {
	var p model.Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, model.PaymentStatusSuccess).
		First(&p).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Payment{}, false, nil
	}
	if err != nil {
		return model.Payment{}, false, err
	}
	return p, true, nil
}

// PENDING のときだけ終端状態へ書き換えるCAS。
// 同時に来た確定はここで必ず1回だけ勝つ。
func (r *PaymentGormRepository) UpdateStatusIfPending(ctx context.Context, paymentID int64, to model.PaymentStatus, extra map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}
	for k, v := range extra {
		updates[k] = v
	}

	res := r.db.WithContext(ctx).Model(&model.Payment{}).
		Where("id = ? AND status = ?", paymentID, model.PaymentStatusPending).
		Updates(updates)

	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *PaymentGormRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.Payment{}).
		Where("status = ? AND expire_at <= ?", model.PaymentStatusPending, now).
		Updates(map[string]interface{}{
			"status":     model.PaymentStatusExpired,
			"updated_at": now,
		})

	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
