package httpserver

import (
	"net/http"

	"github.com/Skotchmaster/cart_service/internal/auth"
	"github.com/labstack/echo/v4"
)

type Deps struct {
	CartHandler *CartHTTP
	Auth        *auth.Middleware
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	carts := e.Group("/carts")
	carts.Use(d.Auth.OptionalAuth)

	carts.POST("", d.CartHandler.CreateCart)
	carts.GET("/:id", d.CartHandler.GetCart)
	carts.POST("/:id/items", d.CartHandler.AddCartItems)
	carts.DELETE("/:id/items", d.CartHandler.RemoveCartItems)
	carts.PATCH("/:id/items", d.CartHandler.UpdateCartItemsQuantity)
	carts.POST("/:id/reconcile", d.CartHandler.ReconcileCarts, d.Auth.RequireAuth)
}
