package events

import (
	"time"
)

// DepositSettledEvent is published once a deposit's settlement transaction
// has been accepted by the chain.
type DepositSettledEvent struct {
	EventID        string    `json:"event_id"`
	EventType      string    `json:"event_type"`
	DepositID      string    `json:"deposit_id"`
	UserAddress    string    `json:"user_address"`
	DepositAddress string    `json:"deposit_address"`
	TokenAddress   string    `json:"token_address"`
	TargetAddress  string    `json:"target_address"`
	Action         uint64    `json:"action"`
	Amount         string    `json:"amount"`
	TxHash         string    `json:"tx_hash"`
	Timestamp      time.Time `json:"timestamp"`
}
