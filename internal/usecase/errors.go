package usecase

import (
	"errors"
	"fmt"
	"time"
)

type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func NewHTTPError(status int, message string) error {
	return &HTTPError{
		Status:  status,
		Message: message,
	}
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}

// エラーコード。レスポンスのerrorフィールドにそのまま入る
const (
	CodeNotFound           = "NOT_FOUND"
	CodeValidationError    = "VALIDATION_ERROR"
	CodeInvalidOrderStatus = "INVALID_ORDER_STATUS"
	CodeInternalError      = "INTERNAL_ERROR"
)

// Clock テストで時間を固定するための抽象
type Clock interface {
	Now() time.Time
}

// IDGenerator order_no / payment_no 用
type IDGenerator interface {
	NewID() string
}
