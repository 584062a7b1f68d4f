package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type skippedItem struct {
	OrderID int64  `json:"orderId"`
	Reason  string `json:"reason"`
}

type matchResponse struct {
	Matched []orderItem   `json:"matched"`
	Skipped []skippedItem `json:"skipped"`
}

func (h *Handler) MatchOrders(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}

	result, err := h.Orders.MatchPendingOrders(c.Request.Context(), caller)
	if err != nil {
		h.writeServiceError(c, "match orders", "NOT_FOUND", err)
		return
	}

	resp := matchResponse{
		Matched: make([]orderItem, 0, len(result.Matched)),
		Skipped: make([]skippedItem, 0, len(result.Skipped)),
	}
	for _, order := range result.Matched {
		resp.Matched = append(resp.Matched, orderToItem(order))
	}
	for _, s := range result.Skipped {
		resp.Skipped = append(resp.Skipped, skippedItem{OrderID: s.OrderID, Reason: s.Reason})
	}
	c.JSON(http.StatusOK, resp)
}
