package handlers

import (
	"net/http"
	"strings"

	"github.com/AfshinJalili/brokerage/services/broker/internal/service"
	"github.com/AfshinJalili/brokerage/services/broker/internal/storage"
	"github.com/AfshinJalili/brokerage/services/broker/internal/validation"
	"github.com/gin-gonic/gin"
)

type assetItem struct {
	CustomerID string `json:"customerId"`
	AssetName  string `json:"assetName"`
	Size       string `json:"size"`
	UsableSize string `json:"usableSize"`
}

func (h *Handler) ListAssets(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}
	customerID, ok := customerIDQuery(c, caller)
	if !ok {
		return
	}

	input := service.ListAssetsInput{
		CustomerID: customerID,
		AssetName:  strings.TrimSpace(c.Query("assetName")),
	}
	if raw := strings.TrimSpace(c.Query("minUsableSize")); raw != "" {
		minUsable, err := validation.ParseNonNegative("minUsableSize", raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil,
				[]validation.FieldError{{Field: "minUsableSize", Message: err.Error()}}, nil)
			return
		}
		input.MinUsable = &minUsable
	}

	assets, err := h.Assets.ListAssets(c.Request.Context(), caller, input)
	if err != nil {
		h.writeServiceError(c, "list assets", "NOT_FOUND", err)
		return
	}

	items := make([]assetItem, 0, len(assets))
	for _, asset := range assets {
		items = append(items, assetItem{
			CustomerID: asset.CustomerID.String(),
			AssetName:  asset.Name,
			Size:       asset.Size.StringFixed(storage.Scale),
			UsableSize: asset.Usable.StringFixed(storage.Scale),
		})
	}
	c.JSON(http.StatusOK, items)
}
