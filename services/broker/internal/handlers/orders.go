package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/AfshinJalili/brokerage/libs/auth"
	"github.com/AfshinJalili/brokerage/libs/httpmiddleware"
	"github.com/AfshinJalili/brokerage/services/broker/internal/service"
	"github.com/AfshinJalili/brokerage/services/broker/internal/storage"
	"github.com/AfshinJalili/brokerage/services/broker/internal/validation"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type createOrderRequest struct {
	CustomerID string `json:"customerId"`
	AssetName  string `json:"assetName"`
	Side       string `json:"side"`
	Size       string `json:"size"`
	Price      string `json:"price"`
}

type orderItem struct {
	ID         int64  `json:"id"`
	CustomerID string `json:"customerId"`
	AssetName  string `json:"assetName"`
	OrderSide  string `json:"orderSide"`
	Size       string `json:"size"`
	Price      string `json:"price"`
	Status     string `json:"status"`
	CreateDate string `json:"createDate"`
	UpdatedAt  string `json:"updatedAt"`
}

type cancelOrderResponse struct {
	Message string    `json:"message"`
	Order   orderItem `json:"order"`
}

func (h *Handler) CreateOrder(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil, nil, nil)
		return
	}

	parsed, errs := validation.ValidateOrderRequest(validation.OrderRequest{
		CustomerID: req.CustomerID,
		AssetName:  req.AssetName,
		Side:       req.Side,
		Size:       req.Size,
		Price:      req.Price,
	})
	if len(errs) > 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", errs.Error(), nil, errs, nil)
		return
	}

	order, err := h.Orders.CreateOrder(c.Request.Context(), caller, service.CreateOrderInput{
		CustomerID:    parsed.CustomerID,
		AssetName:     parsed.AssetName,
		Side:          storage.OrderSide(parsed.Side),
		Size:          parsed.Size,
		Price:         parsed.Price,
		CorrelationID: httpmiddleware.RequestIDFrom(c),
	})
	if err != nil {
		h.writeServiceError(c, "create order", "NOT_FOUND", err)
		return
	}
	c.JSON(http.StatusCreated, orderToItem(*order))
}

func (h *Handler) ListOrders(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}

	customerID, ok := customerIDQuery(c, caller)
	if !ok {
		return
	}

	input := service.ListOrdersInput{
		CustomerID: customerID,
		Status:     storage.OrderStatus(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
	}
	startRaw, endRaw := strings.TrimSpace(c.Query("startDate")), strings.TrimSpace(c.Query("endDate"))
	switch {
	case startRaw != "" && endRaw != "":
		start, end, errs := validation.ValidateDateRange(startRaw, endRaw)
		if len(errs) > 0 {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", errs[0].Message, nil, errs, nil)
			return
		}
		input.From, input.To = start, end
	case startRaw != "":
		start, err := validation.ParseTime("startDate", startRaw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil, nil, nil)
			return
		}
		input.From = start
	case endRaw != "":
		end, err := validation.ParseTime("endDate", endRaw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil, nil, nil)
			return
		}
		input.To = end
	}

	orders, err := h.Orders.ListOrders(c.Request.Context(), caller, input)
	if err != nil {
		h.writeServiceError(c, "list orders", "NOT_FOUND", err)
		return
	}

	items := make([]orderItem, 0, len(orders))
	for _, order := range orders {
		items = append(items, orderToItem(order))
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) GetOrder(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}

	orderID, err := parseOrderID(c.Param("orderId"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid orderId", nil, nil, nil)
		return
	}

	order, err := h.Orders.GetOrder(c.Request.Context(), caller, orderID)
	if err != nil {
		h.writeServiceError(c, "get order", "ORDER_NOT_FOUND", err)
		return
	}
	c.JSON(http.StatusOK, orderToItem(*order))
}

func (h *Handler) CancelOrder(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}

	customerID, err := uuid.Parse(strings.TrimSpace(c.Param("customerId")))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid customerId", nil, nil, nil)
		return
	}
	orderID, err := parseOrderID(c.Param("orderId"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid orderId", nil, nil, nil)
		return
	}

	order, err := h.Orders.CancelOrder(c.Request.Context(), caller, service.CancelOrderInput{
		CustomerID:    customerID,
		OrderID:       orderID,
		CorrelationID: httpmiddleware.RequestIDFrom(c),
	})
	if err != nil {
		h.writeServiceError(c, "cancel order", "ORDER_NOT_FOUND", err)
		return
	}
	c.JSON(http.StatusOK, cancelOrderResponse{
		Message: "Order successfully canceled and relevant balances updated.",
		Order:   orderToItem(*order),
	})
}

// customerIDQuery defaults to the caller when customerId is omitted.
func customerIDQuery(c *gin.Context, caller auth.Identity) (uuid.UUID, bool) {
	raw := strings.TrimSpace(c.Query("customerId"))
	if raw == "" {
		if caller.CustomerID == uuid.Nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "customerId is required", nil, nil, nil)
			return uuid.Nil, false
		}
		return caller.CustomerID, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid customerId", nil,
			[]validation.FieldError{{Field: "customerId", Message: "customerId must be a UUID"}}, nil)
		return uuid.Nil, false
	}
	return id, true
}

func parseOrderID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, strconv.ErrRange
	}
	return id, nil
}

func orderToItem(order storage.Order) orderItem {
	return orderItem{
		ID:         order.ID,
		CustomerID: order.CustomerID.String(),
		AssetName:  order.AssetName,
		OrderSide:  string(order.Side),
		Size:       order.Size.StringFixed(storage.Scale),
		Price:      order.Price.StringFixed(storage.Scale),
		Status:     string(order.Status),
		CreateDate: order.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:  order.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}
