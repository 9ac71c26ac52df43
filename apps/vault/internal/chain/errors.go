package chain

import (
	"errors"
	"strings"
)

var (
	ErrProvider           = errors.New("chain provider error")
	ErrContractCallFailed = errors.New("contract call failed")
	ErrInvalidResponse    = errors.New("invalid contract response")
	ErrInvalidDataFormat  = errors.New("invalid data format")
	ErrTransactionFailed  = errors.New("transaction failed")
	ErrNonceTooLow        = errors.New("nonce too low")
	ErrReceiptNotFound    = errors.New("receipt not found")
)

// Node errors cross the JSON-RPC boundary as plain strings.
func isNonceTooLow(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "nonce too low")
}

func isAlreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}
