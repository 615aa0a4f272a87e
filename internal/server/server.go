package server

import (
	"net/http"

	"app/internal/config"
	"app/internal/handler"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// New echoを組み立てて全ルートを登録する
func New(cfg config.Config, orderH *handler.OrderHandler, paymentH *handler.PaymentHandler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	orderH.RegisterRoutes(e, cfg)
	paymentH.RegisterRoutes(e, cfg)

	return e
}

func Start(e *echo.Echo, port string) error {
	return e.Start(":" + port)
}
