package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

const defaultTimeout = 5 * time.Second

// HTTPAdapter プロバイダのREST APIを叩く実装。
// タイムアウトは必ず付け、失敗はErrUnavailableに丸める。
type HTTPAdapter struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPAdapter(baseURL, apiKey string, timeout time.Duration) *HTTPAdapter {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPAdapter{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type intentRequest struct {
	Amount   string            `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type intentResponse struct {
	Reference    string `json:"reference"`
	ClientSecret string `json:"client_secret"`
	PaymentURL   string `json:"payment_url"`
	Status       string `json:"status"`
}

func (a *HTTPAdapter) CreateIntent(ctx context.Context, in CreateIntentInput) (Intent, error) {
	body := intentRequest{
		Amount:   in.Amount.StringFixed(2),
		Currency: in.Currency,
		Metadata: in.Metadata,
	}

	var resp intentResponse
	if err := a.do(ctx, http.MethodPost, "/v1/intents", body, &resp); err != nil {
		return Intent{}, err
	}
	if resp.Reference == "" {
		return Intent{}, fmt.Errorf("%w: empty intent reference", ErrUnavailable)
	}

	return Intent{
		Reference:    resp.Reference,
		ClientSecret: resp.ClientSecret,
		PaymentURL:   resp.PaymentURL,
	}, nil
}

func (a *HTTPAdapter) RetrieveStatus(ctx context.Context, reference string) (IntentStatus, error) {
	var resp intentResponse
	if err := a.do(ctx, http.MethodGet, "/v1/intents/"+reference, nil, &resp); err != nil {
		return "", err
	}

	switch resp.Status {
	case string(IntentStatusSucceeded):
		return IntentStatusSucceeded, nil
	case string(IntentStatusCanceled):
		return IntentStatusCanceled, nil
	default:
		return IntentStatusPending, nil
	}
}

func (a *HTTPAdapter) Cancel(ctx context.Context, reference string) error {
	return a.do(ctx, http.MethodPost, "/v1/intents/"+reference+"/cancel", nil, nil)
}

func (a *HTTPAdapter) Refund(ctx context.Context, reference string, amount *decimal.Decimal) error {
	body := map[string]string{}
	if amount != nil {
		body["amount"] = amount.StringFixed(2)
	}
	return a.do(ctx, http.MethodPost, "/v1/intents/"+reference+"/refund", body, nil)
}

func (a *HTTPAdapter) do(ctx context.Context, method, path string, in, out interface{}) error {
	var reqBody *bytes.Buffer = bytes.NewBuffer(nil)
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return nil
}
