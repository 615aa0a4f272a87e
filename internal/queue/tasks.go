package queue

// タスク種別。通知タスクは外部の通知サービスが同じRedisを購読して配送する。
const (
	TypeNotifyOrderStatus   = "notify:order_status"
	TypeNotifyPaymentResult = "notify:payment_result"
	TypePaymentExpireSweep  = "payment:expire_sweep"
)

type OrderStatusNotifyPayload struct {
	OrderID int64  `json:"order_id"`
	UserID  int64  `json:"user_id"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

type PaymentResultNotifyPayload struct {
	PaymentID int64  `json:"payment_id"`
	OrderID   int64  `json:"order_id"`
	UserID    int64  `json:"user_id"`
	Status    string `json:"status"`
}
