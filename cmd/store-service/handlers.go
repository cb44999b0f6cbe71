package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/MikeMC777/istore/internal/checkout"
	"github.com/MikeMC777/istore/internal/httpx"
	ord "github.com/MikeMC777/istore/internal/order"
	prod "github.com/MikeMC777/istore/internal/product"
)

// Checkouter is the part of *checkout.Coordinator the handlers use.
type Checkouter interface {
	PlaceOrder(ctx context.Context, req checkout.Request) (*checkout.Result, error)
	Checkout(ctx context.Context, req checkout.Request) (*checkout.Result, error)
}

// OrderService is the part of *order.Service the handlers use.
type OrderService interface {
	Get(ctx context.Context, id string) (*ord.Order, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]ord.Order, error)
	ListAll(ctx context.Context, limit, offset int) ([]ord.Order, error)
	UpdateStatus(ctx context.Context, id, status string) (*ord.Order, error)
}

// PlaceOrderResponse acknowledges a stored order.
// swagger:model PlaceOrderResponse
type PlaceOrderResponse struct {
	Status  string `json:"status"  example:"ok"`
	OrderID string `json:"orderId" example:"ORD-1760000000000-1a2b3c4d"`
}

// PaymentLinkResponse carries the link the customer pays through.
// swagger:model PaymentLinkResponse
type PaymentLinkResponse struct {
	URL     string `json:"url"     example:"https://t.me/$abc"`
	OrderID string `json:"orderId" example:"ORD-1760000000000-1a2b3c4d"`
}

// checkoutError maps the checkout error taxonomy onto HTTP.
func checkoutError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, checkout.ErrInvalidCart), errors.Is(err, checkout.ErrProductNotFound):
		httpx.Error(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, checkout.ErrCheckoutInProgress), errors.Is(err, checkout.ErrOrderNotPayable):
		httpx.Error(c, http.StatusConflict, err.Error())
	case errors.Is(err, checkout.ErrPaymentGatewayTimeout):
		httpx.Error(c, http.StatusGatewayTimeout, "payment gateway timeout")
	case errors.Is(err, checkout.ErrPaymentGateway):
		httpx.Error(c, http.StatusBadGateway, err.Error())
	case errors.Is(err, checkout.ErrPersistence), errors.Is(err, checkout.ErrCatalogUnavailable):
		log.Printf("[checkout] %v", err)
		httpx.Error(c, http.StatusInternalServerError, "order could not be saved")
	default:
		log.Printf("[checkout] unexpected: %v", err)
		httpx.Error(c, http.StatusInternalServerError, "internal error")
	}
}

func bindCheckout(c *gin.Context) (checkout.Request, bool) {
	var req checkout.Request
	if err := httpx.BindStrict(c, &req); err != nil {
		httpx.Error(c, http.StatusBadRequest, "invalid cart: "+err.Error())
		return req, false
	}
	if req.UserID == "" {
		req.UserID = httpx.UserID(c)
	}
	if k := c.GetHeader("Idempotency-Key"); k != "" {
		req.IdempotencyKey = k
	}
	return req, true
}

// createOrderHandler godoc
// @Summary      Place an order
// @Description  Prices the cart from the catalog and stores a pending order. No payment is requested.
// @Tags         orders
// @Accept       json
// @Produce      json
// @Param        Idempotency-Key  header  string                 false  "Deduplication key"
// @Param        body             body    checkout.Request       true   "Cart"
// @Success      201  {object}  PlaceOrderResponse
// @Failure      400  {object}  httpx.HTTPError
// @Failure      500  {object}  httpx.HTTPError
// @Router       /orders [post]
func createOrderHandler(svc Checkouter) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindCheckout(c)
		if !ok {
			return
		}
		res, err := svc.PlaceOrder(c.Request.Context(), req)
		if err != nil {
			checkoutError(c, err)
			return
		}
		status := http.StatusCreated
		if res.Replayed {
			status = http.StatusOK
		}
		c.JSON(status, PlaceOrderResponse{Status: "ok", OrderID: res.Order.ID})
	}
}

// createPaymentLinkHandler godoc
// @Summary      Checkout
// @Description  Stores a pending order and returns a payment link for it.
// @Tags         orders
// @Accept       json
// @Produce      json
// @Param        Idempotency-Key  header  string                 false  "Deduplication key"
// @Param        body             body    checkout.Request       true   "Cart"
// @Success      200  {object}  PaymentLinkResponse
// @Failure      400  {object}  httpx.HTTPError
// @Failure      409  {object}  httpx.HTTPError
// @Failure      502  {object}  httpx.HTTPError
// @Failure      504  {object}  httpx.HTTPError
// @Router       /create-payment-link [post]
func createPaymentLinkHandler(svc Checkouter) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindCheckout(c)
		if !ok {
			return
		}
		res, err := svc.Checkout(c.Request.Context(), req)
		if err != nil {
			if res != nil && res.Order != nil {
				c.Header("X-Order-ID", res.Order.ID)
			}
			checkoutError(c, err)
			return
		}
		c.JSON(http.StatusOK, PaymentLinkResponse{URL: res.PaymentURL, OrderID: res.Order.ID})
	}
}

// getOrderHandler godoc
// @Summary  Get an order
// @Tags     orders
// @Produce  json
// @Param    id   path      string  true  "Order ID"
// @Success  200  {object}  order.Order
// @Failure  404  {object}  httpx.HTTPError
// @Router   /orders/{id} [get]
func getOrderHandler(svc OrderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, err := svc.Get(c.Request.Context(), c.Param("id"))
		if errors.Is(err, ord.ErrNotFound) {
			httpx.Error(c, http.StatusNotFound, "order not found")
			return
		}
		if err != nil {
			log.Printf("[ledger] get %s: %v", c.Param("id"), err)
			httpx.Error(c, http.StatusInternalServerError, "internal error")
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

// listMyOrdersHandler godoc
// @Summary  Orders of the calling user
// @Tags     orders
// @Produce  json
// @Param    userid  header  string  false  "User ID (guest when absent)"
// @Param    limit   query   int     false  "Page size"
// @Param    offset  query   int     false  "Offset"
// @Success  200  {array}  order.Order
// @Router   /my-orders [get]
func listMyOrdersHandler(svc OrderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset := httpx.Page(c, 50, 200)
		orders, err := svc.ListByUser(c.Request.Context(), httpx.UserID(c), limit, offset)
		if err != nil {
			log.Printf("[ledger] list by user: %v", err)
			httpx.Error(c, http.StatusInternalServerError, "internal error")
			return
		}
		if orders == nil {
			orders = []ord.Order{}
		}
		c.JSON(http.StatusOK, orders)
	}
}

// listAllOrdersHandler godoc
// @Summary  All orders (admin)
// @Tags     admin
// @Produce  json
// @Param    limit   query  int  false  "Page size"
// @Param    offset  query  int  false  "Offset"
// @Success  200  {array}  order.Order
// @Router   /admin/orders [get]
func listAllOrdersHandler(svc OrderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset := httpx.Page(c, 50, 200)
		orders, err := svc.ListAll(c.Request.Context(), limit, offset)
		if err != nil {
			log.Printf("[ledger] list all: %v", err)
			httpx.Error(c, http.StatusInternalServerError, "internal error")
			return
		}
		if orders == nil {
			orders = []ord.Order{}
		}
		c.JSON(http.StatusOK, orders)
	}
}

// updateOrderStatusHandler godoc
// @Summary  Change order status (admin)
// @Tags     admin
// @Accept   json
// @Produce  json
// @Param    id    path  string                     true  "Order ID"
// @Param    body  body  order.UpdateStatusRequest  true  "New status"
// @Success  200  {object}  order.UpdateStatusResponse
// @Failure  400  {object}  httpx.HTTPError
// @Failure  404  {object}  httpx.HTTPError
// @Failure  409  {object}  httpx.HTTPError
// @Router   /orders/{id}/status [put]
func updateOrderStatusHandler(svc OrderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ord.UpdateStatusRequest
		if err := httpx.BindStrict(c, &req); err != nil {
			httpx.Error(c, http.StatusBadRequest, "status is required")
			return
		}
		o, err := svc.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, ord.UpdateStatusResponse{Success: true, Status: o.Status})
		case errors.Is(err, ord.ErrInvalidStatus):
			httpx.Error(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, ord.ErrNotFound):
			httpx.Error(c, http.StatusNotFound, "order not found")
		case errors.Is(err, ord.ErrTerminalStatus):
			httpx.Error(c, http.StatusConflict, err.Error())
		default:
			log.Printf("[ledger] update status %s: %v", c.Param("id"), err)
			httpx.Error(c, http.StatusInternalServerError, "internal error")
		}
	}
}

func productID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Error(c, http.StatusBadRequest, "invalid product id")
		return 0, false
	}
	return id, true
}

// listProductsHandler godoc
// @Summary  List products
// @Tags     products
// @Produce  json
// @Param    q       query  string  false  "Search in name/specs"
// @Param    limit   query  int     false  "Page size"
// @Param    offset  query  int     false  "Offset"
// @Success  200  {array}  product.Product
// @Router   /products [get]
func listProductsHandler(repo prod.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset := httpx.Page(c, 100, 100)
		items, err := repo.List(c.Request.Context(), prod.Query{
			Q:      strings.TrimSpace(c.Query("q")),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			log.Printf("[catalog] list: %v", err)
			httpx.Error(c, http.StatusInternalServerError, "internal error")
			return
		}
		if items == nil {
			items = []prod.Product{}
		}
		c.JSON(http.StatusOK, items)
	}
}

// getProductHandler godoc
// @Summary  Get a product
// @Tags     products
// @Produce  json
// @Param    id   path      int  true  "Product ID"
// @Success  200  {object}  product.Product
// @Failure  404  {object}  httpx.HTTPError
// @Router   /products/{id} [get]
func getProductHandler(repo prod.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := productID(c)
		if !ok {
			return
		}
		p, err := repo.GetByID(c.Request.Context(), id)
		if errors.Is(err, prod.ErrNotFound) {
			httpx.Error(c, http.StatusNotFound, "product not found")
			return
		}
		if err != nil {
			log.Printf("[catalog] get %d: %v", id, err)
			httpx.Error(c, http.StatusInternalServerError, "internal error")
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// createProductHandler godoc
// @Summary  Create a product (admin)
// @Tags     admin
// @Accept   json
// @Produce  json
// @Param    body  body      product.CreateProductRequest  true  "Product"
// @Success  201   {object}  product.Product
// @Failure  400   {object}  httpx.HTTPError
// @Router   /products [post]
func createProductHandler(repo prod.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in prod.CreateProductRequest
		if err := httpx.BindStrict(c, &in); err != nil {
			httpx.Error(c, http.StatusBadRequest, "invalid json")
			return
		}
		if err := in.Validate(); err != nil {
			httpx.Error(c, http.StatusBadRequest, err.Error())
			return
		}
		p := &prod.Product{
			Name:     strings.TrimSpace(in.Name),
			Price:    in.Price,
			ImageURL: in.ImageURL,
			Specs:    in.Specs,
		}
		if err := repo.Create(c.Request.Context(), p); err != nil {
			log.Printf("[catalog] create: %v", err)
			httpx.Error(c, http.StatusInternalServerError, "internal error")
			return
		}
		c.JSON(http.StatusCreated, p)
	}
}

// updateProductHandler godoc
// @Summary  Update a product (admin)
// @Tags     admin
// @Accept   json
// @Produce  json
// @Param    id    path      int                           true  "Product ID"
// @Param    body  body      product.UpdateProductRequest  true  "Fields to change"
// @Success  200   {object}  product.Product
// @Failure  400   {object}  httpx.HTTPError
// @Failure  404   {object}  httpx.HTTPError
// @Router   /products/{id} [put]
func updateProductHandler(repo prod.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := productID(c)
		if !ok {
			return
		}
		var in prod.UpdateProductRequest
		if err := httpx.BindStrict(c, &in); err != nil {
			httpx.Error(c, http.StatusBadRequest, "invalid json")
			return
		}
		if err := in.Validate(); err != nil {
			httpx.Error(c, http.StatusBadRequest, err.Error())
			return
		}
		p, err := repo.Update(c.Request.Context(), id, in)
		if errors.Is(err, prod.ErrNotFound) {
			httpx.Error(c, http.StatusNotFound, "product not found")
			return
		}
		if err != nil {
			log.Printf("[catalog] update %d: %v", id, err)
			httpx.Error(c, http.StatusInternalServerError, "internal error")
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// deleteProductHandler godoc
// @Summary  Delete a product (admin)
// @Tags     admin
// @Param    id   path  int  true  "Product ID"
// @Success  204
// @Failure  404  {object}  httpx.HTTPError
// @Router   /products/{id} [delete]
func deleteProductHandler(repo prod.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := productID(c)
		if !ok {
			return
		}
		deleted, err := repo.Delete(c.Request.Context(), id)
		if err != nil {
			log.Printf("[catalog] delete %d: %v", id, err)
			httpx.Error(c, http.StatusInternalServerError, "internal error")
			return
		}
		if !deleted {
			httpx.Error(c, http.StatusNotFound, "product not found")
			return
		}
		c.Status(http.StatusNoContent)
	}
}
