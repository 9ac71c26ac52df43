package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/shanmukh0504/onesat/apps/vault/internal/model"
)

// DepositRequest represents the request body for registering a deposit.
// Amount accepts either a JSON string or a number. It is compared against
// token base units and any fractional part is dropped when it is encoded
// into the settlement transaction.
type DepositRequest struct {
	UserAddress   string          `json:"user_address"`
	Action        uint64          `json:"action"`
	Amount        decimal.Decimal `json:"amount"`
	TokenAddress  string          `json:"token"`
	TargetAddress string          `json:"target_address"`
}

// DepositResponse represents the API response for deposit information
type DepositResponse struct {
	DepositID             string    `json:"deposit_id"`
	UserAddress           string    `json:"user_address"`
	Action                uint64    `json:"action"`
	Amount                string    `json:"amount"`
	TokenAddress          string    `json:"token"`
	TokenSymbol           string    `json:"token_symbol,omitempty"`
	TargetAddress         string    `json:"target_address"`
	DepositAddress        string    `json:"deposit_address"`
	Status                string    `json:"status"`
	SettlementTxHash      *string   `json:"settlement_tx_hash,omitempty"`
	SettlementBlockNumber *uint64   `json:"settlement_block_number,omitempty"`
	SettlementSucceeded   *bool     `json:"settlement_succeeded,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// DepositListResponse wraps a list of deposits
type DepositListResponse struct {
	Deposits []DepositResponse `json:"deposits"`
	Count    int               `json:"count"`
}

// BalanceResponse reports what the deposit address currently holds
type BalanceResponse struct {
	DepositID      string `json:"deposit_id"`
	DepositAddress string `json:"deposit_address"`
	TokenAddress   string `json:"token"`
	Balance        string `json:"balance"`
	Required       string `json:"required"`
	Funded         bool   `json:"funded"`
}

// AssetResponse represents a supported asset
type AssetResponse struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
}

// InfoResponse describes the running service
type InfoResponse struct {
	ChainID         string `json:"chain_id"`
	RegistryAddress string `json:"registry_address"`
	SignerAddress   string `json:"signer_address"`
	DeployAction    uint64 `json:"deploy_action"`
}

// ErrorResponse represents the API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func toDepositResponse(d *model.Deposit, symbol string) DepositResponse {
	return DepositResponse{
		DepositID:             d.DepositID,
		UserAddress:           d.UserAddress,
		Action:                d.Action,
		Amount:                d.Amount.String(),
		TokenAddress:          d.TokenAddress,
		TokenSymbol:           symbol,
		TargetAddress:         d.TargetAddress,
		DepositAddress:        d.DepositAddress,
		Status:                string(d.Status),
		SettlementTxHash:      d.SettlementTxHash,
		SettlementBlockNumber: d.SettlementBlockNumber,
		SettlementSucceeded:   d.SettlementSucceeded,
		CreatedAt:             d.CreatedAt,
		UpdatedAt:             d.UpdatedAt,
	}
}
