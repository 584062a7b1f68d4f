package handlers

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int64  `json:"expiresIn"`
	CustomerID  string `json:"customerId"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil, nil, nil)
		return
	}

	if h.Limiter != nil {
		allowed, retryAfter, err := h.Limiter.Allow(c.Request.Context(), "login:"+c.ClientIP(), time.Now())
		if err != nil {
			h.Logger.Error("rate limiter failed", "error", err)
			writeError(c, http.StatusServiceUnavailable, "UNAVAILABLE", "rate limiter unavailable", nil, nil, nil)
			return
		}
		if !allowed {
			c.Header("Retry-After", strconv.FormatInt(int64(math.Ceil(retryAfter.Seconds())), 10))
			writeError(c, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil, nil, nil)
			return
		}
	}

	result, err := h.Auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.writeServiceError(c, "login", "NOT_FOUND", err)
		return
	}

	c.JSON(http.StatusOK, loginResponse{
		AccessToken: result.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(result.ExpiresAt).Seconds()),
		CustomerID:  result.Customer.ID.String(),
	})
}
