package httpserver

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/Skotchmaster/cart_service/internal/auth"
	"github.com/Skotchmaster/cart_service/internal/expiry"
	"github.com/Skotchmaster/cart_service/internal/logging"
	"github.com/Skotchmaster/cart_service/internal/service"
	"github.com/Skotchmaster/cart_service/internal/transport"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type CartHTTP struct {
	Svc    *service.CartService
	Expiry expiry.Policy
}

func cartID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid cart id")
	}
	return id, nil
}

// respondError maps service sentinels onto HTTP statuses. Request-fatal
// errors only: per-item validation failures travel in the payload.
func respondError(c echo.Context, l *slog.Logger, op string, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		l.Warn(op+"_error", "status", 404, "error", err)
		return c.JSON(http.StatusNotFound, "cart not found")
	case errors.Is(err, service.ErrPermission):
		l.Warn(op+"_error", "status", 403, "error", err)
		return c.JSON(http.StatusForbidden, "forbidden")
	case errors.Is(err, service.ErrValidation):
		l.Warn(op+"_error", "status", 400, "error", err)
		return c.JSON(http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrConflict):
		l.Warn(op+"_error", "status", 409, "error", err)
		return c.JSON(http.StatusConflict, "cart is busy, retry")
	default:
		l.Error(op+"_error", "status", 500, "error", err)
		return c.JSON(http.StatusInternalServerError, "internal error")
	}
}

func (h *CartHTTP) CreateCart(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "create.cart")

	var req transport.CreateCartRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("create_cart_error", "status", 400, "error", err)
		return c.JSON(http.StatusBadRequest, "invalid body")
	}
	if req.ShopID == uuid.Nil {
		return c.JSON(http.StatusBadRequest, "shopId required")
	}

	payload, err := h.Svc.CreateCart(ctx, req.ShopID, auth.AccountID(c), transport.Submissions(req.Items))
	if err != nil {
		return respondError(c, l, "create_cart", err)
	}

	l.Info("cart created", "failures",
		len(payload.IncorrectPriceFailures)+len(payload.MinOrderQuantityFailures))
	return c.JSON(http.StatusCreated, transport.NewCartMutationPayload(payload, h.Expiry, req.ClientMutationID))
}

func (h *CartHTTP) GetCart(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "get.cart")

	id, err := cartID(c)
	if err != nil {
		return err
	}

	access := service.Access{
		AccountID: auth.AccountID(c),
		Token:     c.QueryParam("token"),
	}
	cart, err := h.Svc.GetCart(ctx, id, access)
	if err != nil {
		return respondError(c, l, "get_cart", err)
	}
	return c.JSON(http.StatusOK, transport.NewCartView(cart, h.Expiry))
}

func (h *CartHTTP) AddCartItems(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "add.cart.items")

	id, err := cartID(c)
	if err != nil {
		return err
	}
	var req transport.AddCartItemsRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("add_cart_items_error", "status", 400, "error", err)
		return c.JSON(http.StatusBadRequest, "invalid body")
	}

	access := service.Access{AccountID: auth.AccountID(c), Token: req.Token}
	payload, err := h.Svc.AddCartItems(ctx, id, transport.Submissions(req.Items), access)
	if err != nil {
		return respondError(c, l, "add_cart_items", err)
	}

	l.Info("cart items added", "cart_id", id)
	return c.JSON(http.StatusOK, transport.NewCartMutationPayload(payload, h.Expiry, req.ClientMutationID))
}

func (h *CartHTTP) RemoveCartItems(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "remove.cart.items")

	id, err := cartID(c)
	if err != nil {
		return err
	}
	var req transport.RemoveCartItemsRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("remove_cart_items_error", "status", 400, "error", err)
		return c.JSON(http.StatusBadRequest, "invalid body")
	}

	access := service.Access{AccountID: auth.AccountID(c), Token: req.Token}
	cart, err := h.Svc.RemoveCartItems(ctx, id, req.CartItemIDs, access)
	if err != nil {
		return respondError(c, l, "remove_cart_items", err)
	}

	l.Info("cart items removed", "cart_id", id)
	return c.JSON(http.StatusOK, transport.CartPayload{
		Cart:             transport.NewCartView(cart, h.Expiry),
		ClientMutationID: req.ClientMutationID,
	})
}

func (h *CartHTTP) UpdateCartItemsQuantity(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "update.cart.items.quantity")

	id, err := cartID(c)
	if err != nil {
		return err
	}
	var req transport.UpdateCartItemsQuantityRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("update_quantity_error", "status", 400, "error", err)
		return c.JSON(http.StatusBadRequest, "invalid body")
	}

	changes := make([]service.QuantityChange, 0, len(req.Items))
	for _, it := range req.Items {
		changes = append(changes, service.QuantityChange{CartItemID: it.CartItemID, Quantity: it.Quantity})
	}

	access := service.Access{AccountID: auth.AccountID(c), Token: req.Token}
	cart, err := h.Svc.UpdateCartItemsQuantity(ctx, id, changes, access)
	if err != nil {
		return respondError(c, l, "update_quantity", err)
	}

	l.Info("cart quantities updated", "cart_id", id)
	return c.JSON(http.StatusOK, transport.CartPayload{
		Cart:             transport.NewCartView(cart, h.Expiry),
		ClientMutationID: req.ClientMutationID,
	})
}

func (h *CartHTTP) ReconcileCarts(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "reconcile.carts")

	id, err := cartID(c)
	if err != nil {
		return err
	}
	var req transport.ReconcileCartsRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("reconcile_carts_error", "status", 400, "error", err)
		return c.JSON(http.StatusBadRequest, "invalid body")
	}

	accountID := auth.AccountID(c)
	if accountID == nil {
		return c.JSON(http.StatusUnauthorized, "unauthorized")
	}

	cart, err := h.Svc.ReconcileCarts(ctx, id, req.AnonymousCartToken, *accountID, req.ShopID,
		service.ReconciliationMode(req.Mode))
	if err != nil {
		return respondError(c, l, "reconcile_carts", err)
	}

	l.Info("carts reconciled", "anonymous_cart_id", id, "cart_id", cart.ID)
	return c.JSON(http.StatusOK, transport.CartPayload{
		Cart:             transport.NewCartView(cart, h.Expiry),
		ClientMutationID: req.ClientMutationID,
	})
}
