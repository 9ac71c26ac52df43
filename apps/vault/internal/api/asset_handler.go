package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/shanmukh0504/onesat/apps/vault/internal/assets"
)

// AssetHandler serves the supported asset list and static service info
type AssetHandler struct {
	assetRegistry *assets.AssetRegistry
	info          InfoResponse
	logger        *zap.Logger
}

func NewAssetHandler(assetRegistry *assets.AssetRegistry, info InfoResponse, logger *zap.Logger) *AssetHandler {
	return &AssetHandler{
		assetRegistry: assetRegistry,
		info:          info,
		logger:        logger,
	}
}

// GetAssets handles GET /api/assets
func (h *AssetHandler) GetAssets(w http.ResponseWriter, r *http.Request) {
	response := []AssetResponse{}
	if h.assetRegistry != nil {
		for _, asset := range h.assetRegistry.GetAllAsArray() {
			response = append(response, AssetResponse{
				Symbol:   asset.Symbol,
				Name:     asset.Name,
				Address:  asset.Address.Hex(),
				Decimals: asset.Decimals,
			})
		}
	}
	writeJSONResponse(w, h.logger, http.StatusOK, response)
}

// GetInfo handles GET /api/info
func (h *AssetHandler) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, h.logger, http.StatusOK, h.info)
}
