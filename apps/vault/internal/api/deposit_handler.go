package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/shanmukh0504/onesat/apps/vault/internal/assets"
	"github.com/shanmukh0504/onesat/apps/vault/internal/chain"
	"github.com/shanmukh0504/onesat/apps/vault/internal/model"
	"github.com/shanmukh0504/onesat/apps/vault/internal/registrar"
)

// DepositRegistrar is the registrar surface exposed over HTTP.
type DepositRegistrar interface {
	CreateDeposit(ctx context.Context, req registrar.Request) (*model.Deposit, error)
	GetDeposit(ctx context.Context, depositID string) (*model.Deposit, error)
	ListDepositsByStatus(ctx context.Context, status model.DepositStatus) ([]model.Deposit, error)
	ListDepositsByUser(ctx context.Context, userAddress string) ([]model.Deposit, error)
}

// DepositHandler handles deposit-related API endpoints
type DepositHandler struct {
	registrar     DepositRegistrar
	balances      chain.TokenBalances
	assetRegistry *assets.AssetRegistry
	rpcTimeout    time.Duration
	logger        *zap.Logger
}

// NewDepositHandler creates a new DepositHandler
func NewDepositHandler(registrar DepositRegistrar, balances chain.TokenBalances, assetRegistry *assets.AssetRegistry, rpcTimeout time.Duration, logger *zap.Logger) *DepositHandler {
	return &DepositHandler{
		registrar:     registrar,
		balances:      balances,
		assetRegistry: assetRegistry,
		rpcTimeout:    rpcTimeout,
		logger:        logger,
	}
}

// CreateDeposit handles POST /api/deposit
func (h *DepositHandler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}

	deposit, err := h.registrar.CreateDeposit(r.Context(), registrar.Request{
		UserAddress:   req.UserAddress,
		Action:        req.Action,
		Amount:        req.Amount,
		TokenAddress:  req.TokenAddress,
		TargetAddress: req.TargetAddress,
	})
	if err != nil {
		h.writeRegistrarError(w, err)
		return
	}

	writeJSONResponse(w, h.logger, http.StatusCreated, h.toResponse(deposit))
}

// GetDeposit handles GET /api/deposit/{deposit_id}
func (h *DepositHandler) GetDeposit(w http.ResponseWriter, r *http.Request) {
	deposit, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, h.toResponse(deposit))
}

// GetBalance handles GET /api/deposit/{deposit_id}/balance
func (h *DepositHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	deposit, ok := h.lookup(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.rpcTimeout)
	defer cancel()

	balance, err := h.balances.BalanceOf(ctx, common.HexToAddress(deposit.TokenAddress), common.HexToAddress(deposit.DepositAddress))
	if err != nil {
		h.logger.Error("Failed to get deposit balance",
			zap.String("deposit_id", deposit.DepositID),
			zap.String("deposit_address", deposit.DepositAddress),
			zap.Error(err))
		writeErrorResponse(w, h.logger, http.StatusBadGateway, "upstream_error", "Failed to read deposit balance")
		return
	}

	writeJSONResponse(w, h.logger, http.StatusOK, BalanceResponse{
		DepositID:      deposit.DepositID,
		DepositAddress: deposit.DepositAddress,
		TokenAddress:   deposit.TokenAddress,
		Balance:        balance.String(),
		Required:       deposit.Amount.String(),
		Funded:         !balance.LessThan(deposit.Amount),
	})
}

// ListByStatus handles GET /api/deposits/{status}
func (h *DepositHandler) ListByStatus(w http.ResponseWriter, r *http.Request) {
	status, err := model.ParseDepositStatus(mux.Vars(r)["status"])
	if err != nil {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid_status", err.Error())
		return
	}

	deposits, err := h.registrar.ListDepositsByStatus(r.Context(), status)
	if err != nil {
		h.writeRegistrarError(w, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, h.toListResponse(deposits))
}

// ListByUser handles GET /api/users/{user_address}/deposits
func (h *DepositHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	deposits, err := h.registrar.ListDepositsByUser(r.Context(), mux.Vars(r)["user_address"])
	if err != nil {
		h.writeRegistrarError(w, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, h.toListResponse(deposits))
}

func (h *DepositHandler) lookup(w http.ResponseWriter, r *http.Request) (*model.Deposit, bool) {
	depositID := mux.Vars(r)["deposit_id"]
	if depositID == "" {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "missing_deposit_id", "Deposit id is required")
		return nil, false
	}

	deposit, err := h.registrar.GetDeposit(r.Context(), depositID)
	if err != nil {
		h.writeRegistrarError(w, err)
		return nil, false
	}
	if deposit == nil {
		writeErrorResponse(w, h.logger, http.StatusNotFound, "deposit_not_found", "Deposit not found")
		return nil, false
	}
	return deposit, true
}

func (h *DepositHandler) writeRegistrarError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registrar.ErrValidation):
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, registrar.ErrUpstream):
		writeErrorResponse(w, h.logger, http.StatusBadGateway, "upstream_error", "Failed to predict deposit address")
	default:
		h.logger.Error("Deposit request failed", zap.Error(err))
		writeErrorResponse(w, h.logger, http.StatusInternalServerError, "database_error", "Failed to process deposit")
	}
}

func (h *DepositHandler) toResponse(d *model.Deposit) DepositResponse {
	var symbol string
	if h.assetRegistry != nil {
		if asset, ok := h.assetRegistry.GetByAddress(common.HexToAddress(d.TokenAddress)); ok {
			symbol = asset.Symbol
		}
	}
	return toDepositResponse(d, symbol)
}

func (h *DepositHandler) toListResponse(deposits []model.Deposit) DepositListResponse {
	response := DepositListResponse{
		Deposits: make([]DepositResponse, 0, len(deposits)),
		Count:    len(deposits),
	}
	for i := range deposits {
		response.Deposits = append(response.Deposits, h.toResponse(&deposits[i]))
	}
	return response
}
