package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shanmukh0504/onesat/apps/vault/internal/events"
	"github.com/shanmukh0504/onesat/apps/vault/internal/model"
)

const depositColumns = `deposit_id, user_address, action, amount, token_address, target_address, deposit_address, status,
		settlement_tx_hash, pending_tx_hash, pending_raw_tx, settlement_block_number, settlement_succeeded, created_at, updated_at`

type DepositRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewDepositRepository(db *sql.DB, logger *zap.Logger) *DepositRepository {
	return &DepositRepository{db: db, logger: logger}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeposit(row rowScanner) (*model.Deposit, error) {
	var d model.Deposit
	var status string
	if err := row.Scan(&d.DepositID, &d.UserAddress, &d.Action, &d.Amount, &d.TokenAddress, &d.TargetAddress,
		&d.DepositAddress, &status, &d.SettlementTxHash, &d.PendingTxHash, &d.PendingRawTx,
		&d.SettlementBlockNumber, &d.SettlementSucceeded, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	parsed, err := model.ParseDepositStatus(status)
	if err != nil {
		return nil, err
	}
	d.Status = parsed
	return &d, nil
}

// CreateDeposit inserts a deposit in status created.
func (r *DepositRepository) CreateDeposit(ctx context.Context, nd model.NewDeposit) (*model.Deposit, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO deposits (deposit_id, user_address, action, amount, token_address, target_address, deposit_address, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+depositColumns,
		nd.DepositID, nd.UserAddress, int64(nd.Action), nd.Amount, nd.TokenAddress, nd.TargetAddress, nd.DepositAddress, string(model.StatusCreated))

	deposit, err := scanDeposit(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrConflict, nd.DepositID)
		}
		return nil, fmt.Errorf("failed to create deposit: %w", err)
	}

	r.logger.Info("Created deposit",
		zap.String("deposit_id", deposit.DepositID),
		zap.String("user_address", deposit.UserAddress),
		zap.String("deposit_address", deposit.DepositAddress),
		zap.String("amount", deposit.Amount.String()))
	return deposit, nil
}

// GetDeposit returns nil, nil when no deposit has the given id.
func (r *DepositRepository) GetDeposit(ctx context.Context, depositID string) (*model.Deposit, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+depositColumns+`
		FROM deposits
		WHERE deposit_id = $1
	`, depositID)

	deposit, err := scanDeposit(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get deposit: %w", err)
	}
	return deposit, nil
}

// ListByStatus returns deposits in the given status, newest first.
func (r *DepositRepository) ListByStatus(ctx context.Context, status model.DepositStatus) ([]model.Deposit, error) {
	return r.list(ctx, `
		SELECT `+depositColumns+`
		FROM deposits
		WHERE status = $1
		ORDER BY created_at DESC, deposit_id
	`, string(status))
}

// ListByUser returns every deposit owned by userAddress, newest first.
func (r *DepositRepository) ListByUser(ctx context.Context, userAddress string) ([]model.Deposit, error) {
	return r.list(ctx, `
		SELECT `+depositColumns+`
		FROM deposits
		WHERE user_address = $1
		ORDER BY created_at DESC, deposit_id
	`, userAddress)
}

// ListPendingSettlements returns initiated deposits holding a reserved
// settlement transaction, oldest first.
func (r *DepositRepository) ListPendingSettlements(ctx context.Context) ([]model.Deposit, error) {
	return r.list(ctx, `
		SELECT `+depositColumns+`
		FROM deposits
		WHERE status = 'initiated' AND pending_tx_hash IS NOT NULL
		ORDER BY created_at, deposit_id
	`)
}

func (r *DepositRepository) list(ctx context.Context, query string, args ...any) ([]model.Deposit, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list deposits: %w", err)
	}
	defer rows.Close()

	deposits := []model.Deposit{}
	for rows.Next() {
		deposit, err := scanDeposit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deposit: %w", err)
		}
		deposits = append(deposits, *deposit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deposits: %w", err)
	}
	return deposits, nil
}

// UpdateStatusAndTxHash sets status and settlement tx hash. The row is locked
// and the move checked against model.DepositStatus.CanTransitionTo inside the
// transaction. Moving to deposited also queues a deposit_settled outbox event
// in the same transaction.
func (r *DepositRepository) UpdateStatusAndTxHash(ctx context.Context, depositID string, status model.DepositStatus, txHash string) error {
	if status == model.StatusCreated {
		return fmt.Errorf("%w: cannot move %s back to created", ErrInvalidTransition, depositID)
	}
	if status == model.StatusDeposited && txHash == "" {
		return fmt.Errorf("%w: deposited requires a settlement tx hash", ErrInvalidTransition)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, _, err := lockDeposit(ctx, tx, depositID)
	if err != nil {
		return err
	}
	if !current.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s is %s, cannot move to %s", ErrInvalidTransition, depositID, current, status)
	}

	var settlementHash sql.NullString
	if txHash != "" {
		settlementHash = sql.NullString{String: txHash, Valid: true}
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE deposits
		SET status = $1, settlement_tx_hash = $2, pending_tx_hash = NULL, pending_raw_tx = NULL, updated_at = NOW()
		WHERE deposit_id = $3
		RETURNING `+depositColumns,
		string(status), settlementHash, depositID)

	deposit, err := scanDeposit(row)
	if err != nil {
		return fmt.Errorf("failed to update deposit status: %w", err)
	}

	if status == model.StatusDeposited {
		if err := insertSettledEvent(ctx, tx, deposit); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deposit status update: %w", err)
	}

	r.logger.Info("Updated deposit status",
		zap.String("deposit_id", depositID),
		zap.String("status", string(status)),
		zap.String("tx_hash", txHash))
	return nil
}

// lockDeposit reads the status of a deposit, and whether it holds a reserved
// transaction, under a row lock held until tx ends.
func lockDeposit(ctx context.Context, tx *sql.Tx, depositID string) (model.DepositStatus, bool, error) {
	var status string
	var pending bool
	err := tx.QueryRowContext(ctx, `
		SELECT status, pending_tx_hash IS NOT NULL FROM deposits WHERE deposit_id = $1 FOR UPDATE
	`, depositID).Scan(&status, &pending)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, fmt.Errorf("%w: %s", ErrDepositNotFound, depositID)
		}
		return "", false, fmt.Errorf("failed to read deposit status: %w", err)
	}

	current, err := model.ParseDepositStatus(status)
	if err != nil {
		return "", false, err
	}
	return current, pending, nil
}

func insertSettledEvent(ctx context.Context, tx *sql.Tx, d *model.Deposit) error {
	txHash := ""
	if d.SettlementTxHash != nil {
		txHash = *d.SettlementTxHash
	}

	eventID := uuid.New().String()
	blob, err := json.Marshal(events.DepositSettledEvent{
		EventID:        eventID,
		EventType:      model.EventTypeDepositSettled,
		DepositID:      d.DepositID,
		UserAddress:    d.UserAddress,
		DepositAddress: d.DepositAddress,
		TokenAddress:   d.TokenAddress,
		TargetAddress:  d.TargetAddress,
		Action:         d.Action,
		Amount:         d.Amount.String(),
		TxHash:         txHash,
		Timestamp:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode settled event: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO event_outbox (event_id, event_type, status, deposit_id, user_address, tx_hash, event_blob)
		VALUES ($1, $2, 'unsent', $3, $4, $5, $6)
	`, eventID, model.EventTypeDepositSettled, d.DepositID, d.UserAddress, txHash, string(blob))
	if err != nil {
		return fmt.Errorf("failed to store outbox event: %w", err)
	}
	return nil
}

// ReservePendingSettlement records a signed, not yet broadcast settlement
// transaction and moves the deposit to initiated. It returns false when the
// deposit is no longer eligible, which means another worker reserved it or
// it was already settled.
func (r *DepositRepository) ReservePendingSettlement(ctx context.Context, depositID, txHash, rawTx string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, pending, err := lockDeposit(ctx, tx, depositID)
	if err != nil {
		if errors.Is(err, ErrDepositNotFound) {
			return false, nil
		}
		return false, err
	}
	if pending || !current.CanTransitionTo(model.StatusInitiated) {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE deposits
		SET status = 'initiated', pending_tx_hash = $2, pending_raw_tx = $3, updated_at = NOW()
		WHERE deposit_id = $1
	`, depositID, txHash, rawTx)
	if err != nil {
		return false, fmt.Errorf("failed to reserve pending settlement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit pending settlement: %w", err)
	}

	r.logger.Info("Reserved pending settlement", zap.String("deposit_id", depositID), zap.String("tx_hash", txHash))
	return true, nil
}

// ReleasePendingSettlement drops a reserved transaction that can never be
// mined. The deposit stays initiated and becomes eligible for a fresh
// settlement.
func (r *DepositRepository) ReleasePendingSettlement(ctx context.Context, depositID, txHash string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE deposits
		SET pending_tx_hash = NULL, pending_raw_tx = NULL, updated_at = NOW()
		WHERE deposit_id = $1 AND status = 'initiated' AND pending_tx_hash = $2
	`, depositID, txHash)
	if err != nil {
		return fmt.Errorf("failed to release pending settlement: %w", err)
	}

	r.logger.Info("Released pending settlement", zap.String("deposit_id", depositID), zap.String("tx_hash", txHash))
	return nil
}

// RecordSettlementReceipt stores the mined block and outcome of a settled
// deposit's transaction.
func (r *DepositRepository) RecordSettlementReceipt(ctx context.Context, depositID string, blockNumber uint64, succeeded bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE deposits
		SET settlement_block_number = $2, settlement_succeeded = $3, updated_at = NOW()
		WHERE deposit_id = $1 AND status = 'deposited'
	`, depositID, int64(blockNumber), succeeded)
	if err != nil {
		return fmt.Errorf("failed to record settlement receipt: %w", err)
	}
	return nil
}
