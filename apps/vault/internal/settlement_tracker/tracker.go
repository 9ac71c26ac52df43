package settlement_tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/shanmukh0504/onesat/apps/vault/internal/chain"
	"github.com/shanmukh0504/onesat/apps/vault/internal/events"
	"github.com/shanmukh0504/onesat/apps/vault/internal/metrics"
	"github.com/shanmukh0504/onesat/apps/vault/internal/model"
)

const readTimeout = time.Second

type ReceiptSource interface {
	Receipt(ctx context.Context, txHash string) (*types.Receipt, error)
}

type ReceiptRecorder interface {
	RecordSettlementReceipt(ctx context.Context, depositID string, blockNumber uint64, succeeded bool) error
}

// messageReader is the subset of *kafka.Consumer used here.
type messageReader interface {
	Subscribe(topic string, rebalanceCb kafka.RebalanceCb) error
	ReadMessage(timeout time.Duration) (*kafka.Message, error)
	Close() error
}

type Config struct {
	RPCTimeout   time.Duration
	DBTimeout    time.Duration
	PollInterval time.Duration
	MaxWait      time.Duration
}

// SettlementTracker consumes deposit_settled events and records the mined
// block and outcome of each settlement transaction.
type SettlementTracker struct {
	logger     *zap.Logger
	consumer   messageReader
	kafkaTopic string
	receipts   ReceiptSource
	store      ReceiptRecorder
	cfg        Config
}

func NewSettlementTracker(kafkaBroker, kafkaTopic, groupID string, receipts ReceiptSource, store ReceiptRecorder, cfg Config, logger *zap.Logger) (*SettlementTracker, error) {
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": kafkaBroker,
		"group.id":          groupID,
		"auto.offset.reset": "earliest",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	return newSettlementTracker(consumer, kafkaTopic, receipts, store, cfg, logger), nil
}

func newSettlementTracker(consumer messageReader, kafkaTopic string, receipts ReceiptSource, store ReceiptRecorder, cfg Config, logger *zap.Logger) *SettlementTracker {
	return &SettlementTracker{
		logger:     logger,
		consumer:   consumer,
		kafkaTopic: kafkaTopic,
		receipts:   receipts,
		store:      store,
		cfg:        cfg,
	}
}

func (st *SettlementTracker) Start(ctx context.Context) error {
	st.logger.Info("Starting settlement tracker...")

	if err := st.consumer.Subscribe(st.kafkaTopic, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", st.kafkaTopic, err)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		msg, err := st.consumer.ReadMessage(readTimeout)
		if err != nil {
			var kafkaErr kafka.Error
			if errors.As(err, &kafkaErr) && kafkaErr.Code() == kafka.ErrTimedOut {
				continue
			}
			st.logger.Error("Error reading message from Kafka", zap.Error(err))
			continue
		}

		if err := st.processMessage(ctx, msg); err != nil {
			st.logger.Error("Error processing message",
				zap.String("topic", *msg.TopicPartition.Topic),
				zap.Int32("partition", msg.TopicPartition.Partition),
				zap.String("key", string(msg.Key)),
				zap.Error(err))
		}
	}
}

func (st *SettlementTracker) processMessage(ctx context.Context, msg *kafka.Message) error {
	var event events.DepositSettledEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal settled event: %w", err)
	}

	if event.EventType != model.EventTypeDepositSettled {
		st.logger.Warn("Unknown event type", zap.String("event_type", event.EventType))
		return nil
	}

	st.logger.Info("Processing settled event",
		zap.String("deposit_id", event.DepositID),
		zap.String("tx_hash", event.TxHash))

	receipt, err := st.waitForReceipt(ctx, event.TxHash)
	if err != nil {
		return err
	}

	succeeded := receipt.Status == types.ReceiptStatusSuccessful
	dbCtx, cancel := context.WithTimeout(ctx, st.cfg.DBTimeout)
	defer cancel()
	if err := st.store.RecordSettlementReceipt(dbCtx, event.DepositID, receipt.BlockNumber.Uint64(), succeeded); err != nil {
		return err
	}

	status := "success"
	if !succeeded {
		// The deposit is already deposited and will not be retried.
		status = "reverted"
		metrics.StrandedDeposits.Inc()
		st.logger.Error("Settlement transaction reverted after deposit was marked deposited, operator action required",
			zap.String("deposit_id", event.DepositID),
			zap.String("tx_hash", event.TxHash),
			zap.Uint64("block_number", receipt.BlockNumber.Uint64()))
	}
	metrics.SettlementReceipts.WithLabelValues(status).Inc()

	st.logger.Info("Recorded settlement receipt",
		zap.String("deposit_id", event.DepositID),
		zap.Uint64("block_number", receipt.BlockNumber.Uint64()),
		zap.Bool("succeeded", succeeded))
	return nil
}

func (st *SettlementTracker) waitForReceipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	deadline := time.Now().Add(st.cfg.MaxWait)
	for {
		rpcCtx, cancel := context.WithTimeout(ctx, st.cfg.RPCTimeout)
		receipt, err := st.receipts.Receipt(rpcCtx, txHash)
		cancel()
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, chain.ErrReceiptNotFound) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("no receipt for %s after %s: %w", txHash, st.cfg.MaxWait, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(st.cfg.PollInterval):
		}
	}
}

func (st *SettlementTracker) Close() error {
	if st.consumer != nil {
		return st.consumer.Close()
	}
	return nil
}
