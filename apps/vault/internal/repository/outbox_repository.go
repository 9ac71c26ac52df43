package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/shanmukh0504/onesat/apps/vault/internal/model"
)

type OutboxRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewOutboxRepository(db *sql.DB, logger *zap.Logger) *OutboxRepository {
	return &OutboxRepository{db: db, logger: logger}
}

// GetUnsentEventsForProcessing claims up to limit unsent events by moving
// them to processing. Rows locked by another publisher are skipped.
func (o *OutboxRepository) GetUnsentEventsForProcessing(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT event_id, event_type, status, deposit_id, user_address, tx_hash, event_blob, created_at
		FROM event_outbox
		WHERE status = 'unsent'
		ORDER BY created_at, event_id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select unsent events: %w", err)
	}
	defer rows.Close()

	var events []model.OutboxEvent
	for rows.Next() {
		var event model.OutboxEvent
		var blob []byte
		if err := rows.Scan(&event.EventID, &event.EventType, &event.Status, &event.DepositID,
			&event.Address, &event.TxHash, &blob, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		event.EventBlob = blob
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbox events: %w", err)
	}
	rows.Close()

	for _, event := range events {
		if _, err := tx.ExecContext(ctx, `
			UPDATE event_outbox
			SET status = 'processing', claimed_at = NOW()
			WHERE event_id = $1 AND status = 'unsent'
		`, event.EventID); err != nil {
			return nil, fmt.Errorf("failed to mark event %s as processing: %w", event.EventID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit outbox claim: %w", err)
	}
	return events, nil
}

func (o *OutboxRepository) MarkEventAsSent(ctx context.Context, eventID string) error {
	_, err := o.db.ExecContext(ctx, `
		UPDATE event_outbox
		SET status = 'sent', sent_at = NOW()
		WHERE event_id = $1
	`, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event as sent: %w", err)
	}
	return nil
}

// MarkEventAsFailed returns a processing event to unsent so the next
// publishing round retries it.
func (o *OutboxRepository) MarkEventAsFailed(ctx context.Context, eventID string) error {
	_, err := o.db.ExecContext(ctx, `
		UPDATE event_outbox
		SET status = 'unsent'
		WHERE event_id = $1 AND status = 'processing'
	`, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}
	return nil
}

// RequeueStaleEvents returns events stuck in processing for longer than
// olderThanSeconds to unsent. A publisher that crashed between claiming and
// marking leaves such rows behind.
func (o *OutboxRepository) RequeueStaleEvents(ctx context.Context, olderThanSeconds int) (int64, error) {
	result, err := o.db.ExecContext(ctx, `
		UPDATE event_outbox
		SET status = 'unsent', claimed_at = NULL
		WHERE status = 'processing' AND claimed_at < NOW() - make_interval(secs => $1)
	`, olderThanSeconds)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale events: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		o.logger.Warn("Requeued stale outbox events", zap.Int64("count", n))
	}
	return n, nil
}
