package repository

import (
	"errors"

	"github.com/lib/pq"
)

var (
	ErrConflict          = errors.New("deposit already exists")
	ErrDepositNotFound   = errors.New("deposit not found")
	ErrInvalidTransition = errors.New("invalid deposit status transition")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}
