package queue

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

type Client struct {
	client *asynq.Client
}

func NewClient(redisAddr string) *Client {
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr}),
	}
}

func (c *Client) EnqueueOrderStatusNotify(p OrderStatusNotifyPayload) error {
	return c.enqueue(TypeNotifyOrderStatus, p)
}

func (c *Client) EnqueuePaymentResultNotify(p PaymentResultNotifyPayload) error {
	return c.enqueue(TypeNotifyPaymentResult, p)
}

func (c *Client) enqueue(taskType string, payload interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = c.client.Enqueue(asynq.NewTask(taskType, b), asynq.MaxRetry(3))
	return err
}

func (c *Client) Close() error {
	return c.client.Close()
}
