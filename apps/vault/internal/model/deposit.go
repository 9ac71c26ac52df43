package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type DepositStatus string

const (
	StatusCreated   DepositStatus = "created"
	StatusInitiated DepositStatus = "initiated"
	StatusDeposited DepositStatus = "deposited"
)

// ParseDepositStatus accepts the lowercase names stored in the deposits table.
func ParseDepositStatus(s string) (DepositStatus, error) {
	switch DepositStatus(s) {
	case StatusCreated, StatusInitiated, StatusDeposited:
		return DepositStatus(s), nil
	default:
		return "", fmt.Errorf("unknown deposit status %q", s)
	}
}

// CanTransitionTo reports whether a deposit in status s may move to next.
// Statuses only move forward; initiated -> initiated is allowed so a dead
// pending settlement can be released without regressing the deposit.
func (s DepositStatus) CanTransitionTo(next DepositStatus) bool {
	switch s {
	case StatusCreated:
		return next == StatusInitiated || next == StatusDeposited
	case StatusInitiated:
		return next == StatusInitiated || next == StatusDeposited
	default:
		return false
	}
}

type Deposit struct {
	DepositID             string          `db:"deposit_id"`
	UserAddress           string          `db:"user_address"`
	Action                uint64          `db:"action"`
	Amount                decimal.Decimal `db:"amount"`
	TokenAddress          string          `db:"token_address"`
	TargetAddress         string          `db:"target_address"`
	DepositAddress        string          `db:"deposit_address"`
	Status                DepositStatus   `db:"status"`
	SettlementTxHash      *string         `db:"settlement_tx_hash"`
	PendingTxHash         *string         `db:"pending_tx_hash"`
	PendingRawTx          *string         `db:"pending_raw_tx"`
	SettlementBlockNumber *uint64         `db:"settlement_block_number"`
	SettlementSucceeded   *bool           `db:"settlement_succeeded"`
	CreatedAt             time.Time       `db:"created_at"`
	UpdatedAt             time.Time       `db:"updated_at"`
}

// HasPendingSettlement reports whether a signed settlement transaction has
// been reserved for the deposit but not yet confirmed.
func (d *Deposit) HasPendingSettlement() bool {
	return d.PendingTxHash != nil && *d.PendingTxHash != ""
}

// NewDeposit carries the fields fixed at registration time.
type NewDeposit struct {
	DepositID      string
	UserAddress    string
	Action         uint64
	Amount         decimal.Decimal
	TokenAddress   string
	TargetAddress  string
	DepositAddress string
}
