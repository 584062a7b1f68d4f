// Package handlers is the HTTP boundary of the broker. It validates request
// shape, resolves the caller identity and maps core errors to status codes.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/AfshinJalili/brokerage/libs/auth"
	"github.com/AfshinJalili/brokerage/libs/httpmiddleware"
	"github.com/AfshinJalili/brokerage/services/broker/internal/ledger"
	"github.com/AfshinJalili/brokerage/services/broker/internal/rate"
	"github.com/AfshinJalili/brokerage/services/broker/internal/reservation"
	"github.com/AfshinJalili/brokerage/services/broker/internal/service"
	"github.com/AfshinJalili/brokerage/services/broker/internal/storage"
	"github.com/AfshinJalili/brokerage/services/broker/internal/validation"
	"github.com/gin-gonic/gin"
)

const accessDenied = "Unauthorized: Access Denied."

type OrderService interface {
	CreateOrder(ctx context.Context, caller auth.Identity, input service.CreateOrderInput) (*storage.Order, error)
	CancelOrder(ctx context.Context, caller auth.Identity, input service.CancelOrderInput) (*storage.Order, error)
	ListOrders(ctx context.Context, caller auth.Identity, input service.ListOrdersInput) ([]storage.Order, error)
	GetOrder(ctx context.Context, caller auth.Identity, orderID int64) (*storage.Order, error)
	MatchPendingOrders(ctx context.Context, caller auth.Identity) (*service.MatchResult, error)
}

type AssetService interface {
	ListAssets(ctx context.Context, caller auth.Identity, input service.ListAssetsInput) ([]storage.Asset, error)
}

type AuthService interface {
	Login(ctx context.Context, username, password string) (*service.LoginResult, error)
}

type Handler struct {
	Orders  OrderService
	Assets  AssetService
	Auth    AuthService
	Limiter rate.Limiter
	Logger  *slog.Logger
}

type errorResponse struct {
	Code    string                  `json:"code"`
	Message string                  `json:"message"`
	Reasons []string                `json:"reasons,omitempty"`
	Fields  []validation.FieldError `json:"fields,omitempty"`
	Details map[string]string       `json:"details,omitempty"`
}

func New(orders OrderService, assets AssetService, authSvc AuthService, limiter rate.Limiter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Orders: orders, Assets: assets, Auth: authSvc, Limiter: limiter, Logger: logger}
}

func (h *Handler) Register(r *gin.Engine, jwtSecret []byte) {
	r.POST("/auth/login", h.Login)

	api := r.Group("/api", auth.Middleware(jwtSecret))
	api.POST("/orders", h.CreateOrder)
	api.GET("/orders", h.ListOrders)
	api.GET("/orders/:orderId", h.GetOrder)
	api.DELETE("/orders/:customerId/orders/:orderId", h.CancelOrder)
	api.GET("/assets", h.ListAssets)

	admin := r.Group("/admin", auth.Middleware(jwtSecret), auth.RequireRole(auth.RoleAdmin))
	admin.POST("/match-orders", h.MatchOrders)
}

func callerFromContext(c *gin.Context) (auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil, nil, nil)
	}
	return identity, ok
}

func writeError(c *gin.Context, status int, code, message string, reasons []string, fields []validation.FieldError, details map[string]string) {
	if status >= http.StatusInternalServerError {
		if id := httpmiddleware.RequestIDFrom(c); id != "" {
			if details == nil {
				details = map[string]string{}
			}
			details["request_id"] = id
		}
	}
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
		Reasons: reasons,
		Fields:  fields,
		Details: details,
	})
}

// writeServiceError maps a core error kind to its HTTP form. notFoundCode
// lets order routes answer ORDER_NOT_FOUND while others answer NOT_FOUND.
func (h *Handler) writeServiceError(c *gin.Context, op, notFoundCode string, err error) {
	var fields validation.ValidationErrors
	switch {
	case errors.As(err, &fields):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", fields.Error(), nil, fields, nil)
	case errors.Is(err, service.ErrInvalidOrder):
		writeError(c, http.StatusBadRequest, "INVALID_ORDER", err.Error(), nil, nil, nil)
	case errors.Is(err, service.ErrInvalidQuery):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil, nil, nil)
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid credentials", nil, nil, nil)
	case errors.Is(err, service.ErrForbidden):
		writeError(c, http.StatusForbidden, "FORBIDDEN", accessDenied, nil, nil, nil)
	case errors.Is(err, storage.ErrNotFound):
		writeError(c, http.StatusNotFound, notFoundCode, err.Error(), nil, nil, nil)
	case errors.Is(err, service.ErrInvalidState), errors.Is(err, storage.ErrInvalidStatus):
		writeError(c, http.StatusConflict, "INVALID_STATE", "Only PENDING orders can be canceled.", nil, nil, nil)
	case errors.Is(err, reservation.ErrInsufficientFunds):
		writeError(c, http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS", err.Error(), []string{"insufficient_funds"}, nil, nil)
	case errors.Is(err, reservation.ErrInsufficientBalance):
		writeError(c, http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE", err.Error(), []string{"insufficient_balance"}, nil, nil)
	case errors.Is(err, storage.ErrUnavailable):
		h.Logger.Warn(op+" unavailable", "error", err)
		writeError(c, http.StatusServiceUnavailable, "UNAVAILABLE", "service temporarily unavailable", nil, nil, nil)
	case errors.Is(err, ledger.ErrInvariantViolation):
		h.Logger.Error(op+" broke a ledger invariant", "error", err)
		writeError(c, http.StatusInternalServerError, "INVARIANT_VIOLATION", "ledger invariant violation", nil, nil, nil)
	default:
		h.Logger.Error(op+" failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil, nil, nil)
	}
}
