package monitoring

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewServer serves /metrics on its own port, away from the public API.
func NewServer(port string, mw ...echo.MiddlewareFunc) *http.Server {
	e := echo.New()
	e.Use(middleware.Recover())
	e.Use(mw...)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return &http.Server{
		Addr:              ":" + port,
		Handler:           e,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
