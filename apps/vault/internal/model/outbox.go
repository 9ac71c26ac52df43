package model

import (
	"encoding/json"
	"time"
)

const EventTypeDepositSettled = "deposit_settled"

type OutboxEvent struct {
	EventID   string          `db:"event_id"`
	EventType string          `db:"event_type"`
	Status    string          `db:"status"`
	DepositID string          `db:"deposit_id"`
	Address   string          `db:"user_address"`
	TxHash    string          `db:"tx_hash"`
	EventBlob json.RawMessage `db:"event_blob"`
	CreatedAt time.Time       `db:"created_at"`
}
