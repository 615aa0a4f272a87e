package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"app/internal/config"
	"app/internal/gateway"
	"app/internal/middleware"
	"app/internal/usecase"

	"github.com/labstack/echo/v4"
)

type PaymentHandler struct {
	uc            *usecase.PaymentUsecase
	webhookSecret string
}

func NewPaymentHandler(uc *usecase.PaymentUsecase, webhookSecret string) *PaymentHandler {
	return &PaymentHandler{uc: uc, webhookSecret: webhookSecret}
}

type PaymentCreateRequest struct {
	OrderID int64  `json:"orderId"`
	Method  string `json:"method"`
}

func (h *PaymentHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	// Webhookは認証なし（署名で真正性を見る）
	e.POST("/payments/callback", h.callback)

	g := e.Group("/payments")
	g.Use(middleware.AuthJWT(cfg))

	g.POST("", h.create)
	g.GET("/:id/status", h.status)
	g.GET("/:id/mock-pay", h.mockPay)
}

func (h *PaymentHandler) create(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	var req PaymentCreateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: usecase.CodeValidationError})
	}

	out, err := h.uc.CreatePayment(c.Request().Context(), userID, usecase.CreatePaymentInput{
		OrderID: req.OrderID,
		Method:  req.Method,
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusCreated, out)
}

func (h *PaymentHandler) status(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: usecase.CodeValidationError})
	}

	out, err := h.uc.GetStatus(c.Request().Context(), userID, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

type MockPayResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (h *PaymentHandler) mockPay(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: usecase.CodeValidationError})
	}

	//指定なしは成功扱い
	success := true
	if v := c.QueryParam("success"); v != "" {
		success, err = strconv.ParseBool(v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: usecase.CodeValidationError})
		}
	}

	payment, err := h.uc.MockPay(c.Request().Context(), userID, id, success)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, MockPayResponse{
		Message: "mock payment processed",
		Status:  string(payment.Status),
	})
}

type CallbackResponse struct {
	Received bool `json:"received"`
}

// callback ゲートウェイからのWebhook。同じイベントが何回届いても
// 結果は変わらない
func (h *PaymentHandler) callback(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: usecase.CodeValidationError})
	}

	signature := c.Request().Header.Get("X-Gateway-Signature")
	if !gateway.VerifyWebhookSignature(h.webhookSecret, body, signature) {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid signature"})
	}

	var in usecase.CallbackInput
	if err := json.Unmarshal(body, &in); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: usecase.CodeValidationError})
	}

	if _, err := h.uc.HandleCallback(c.Request().Context(), in); err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, CallbackResponse{Received: true})
}
