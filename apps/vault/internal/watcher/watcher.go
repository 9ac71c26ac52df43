package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/shanmukh0504/onesat/apps/vault/internal/amount"
	"github.com/shanmukh0504/onesat/apps/vault/internal/chain"
	"github.com/shanmukh0504/onesat/apps/vault/internal/leader"
	"github.com/shanmukh0504/onesat/apps/vault/internal/metrics"
	"github.com/shanmukh0504/onesat/apps/vault/internal/model"
)

type DepositStore interface {
	ListByStatus(ctx context.Context, status model.DepositStatus) ([]model.Deposit, error)
	ListPendingSettlements(ctx context.Context) ([]model.Deposit, error)
	ReservePendingSettlement(ctx context.Context, depositID, txHash, rawTx string) (bool, error)
	ReleasePendingSettlement(ctx context.Context, depositID, txHash string) error
	UpdateStatusAndTxHash(ctx context.Context, depositID string, status model.DepositStatus, txHash string) error
}

// Settler is the chain side of settlement.
type Settler interface {
	chain.TokenBalances
	PrepareDeployVault(ctx context.Context, p chain.VaultParams) (*types.Transaction, error)
	Broadcast(ctx context.Context, tx *types.Transaction) (string, error)
	Receipt(ctx context.Context, txHash string) (*types.Receipt, error)
	ResetNonce()
}

type Config struct {
	PollingInterval time.Duration
	RPCTimeout      time.Duration
	DBTimeout       time.Duration
	DeployAction    uint64
	// LeaseTTL bounds the sign-reserve-broadcast sequence of one deposit.
	// Zero leaves it unbounded.
	LeaseTTL        time.Duration
}

// errLeaseLost stops a cycle whose instance no longer holds the lease.
var errLeaseLost = errors.New("settlement lease lost")

// Watcher polls unsettled deposits and deploys the vault of every deposit
// whose predicted address holds at least the expected amount.
//
// A settlement transaction is signed and reserved on the deposit before it
// is broadcast. Later cycles only ever rebroadcast the reserved transaction,
// so a deposit never gets two different settlement transactions in flight.
type Watcher struct {
	store   DepositStore
	settler Settler
	lease   leader.Lease
	cfg     Config
	logger  *zap.Logger
}

func New(store DepositStore, settler Settler, lease leader.Lease, cfg Config, logger *zap.Logger) *Watcher {
	if lease == nil {
		lease = leader.Standalone{}
	}
	return &Watcher{
		store:   store,
		settler: settler,
		lease:   lease,
		cfg:     cfg,
		logger:  logger,
	}
}

// Start runs a cycle every polling interval until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.Info("Starting settlement watcher",
		zap.Duration("polling_interval", w.cfg.PollingInterval),
		zap.Uint64("deploy_action", w.cfg.DeployAction))

	ticker := time.NewTicker(w.cfg.PollingInterval)
	defer ticker.Stop()

	for {
		if err := w.RunOnce(ctx); err != nil {
			w.logger.Error("Settlement cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			w.logger.Info("Stopping settlement watcher")
			releaseCtx, cancel := context.WithTimeout(context.Background(), w.cfg.DBTimeout)
			defer cancel()
			if err := w.lease.Release(releaseCtx); err != nil {
				w.logger.Warn("Failed to release settlement lease", zap.Error(err))
			}
			metrics.IsLeader.Set(0)
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs one polling cycle. Failures of individual deposits are
// logged and do not abort the cycle; only a failure to list the batch is
// returned. The lease is renewed before every signing, and a cycle that
// loses it stops before touching the next deposit.
func (w *Watcher) RunOnce(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.WatcherCycleDuration.Observe(time.Since(start).Seconds()) }()

	held, err := w.lease.Acquire(ctx)
	if err != nil {
		w.stepDown()
		metrics.WatcherCycles.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to acquire settlement lease: %w", err)
	}
	if !held {
		w.stepDown()
		metrics.WatcherCycles.WithLabelValues("standby").Inc()
		w.logger.Debug("Another instance holds the settlement lease")
		return nil
	}
	metrics.IsLeader.Set(1)

	if err := w.recoverPending(ctx); err != nil {
		if errors.Is(err, errLeaseLost) {
			return w.abandonCycle(err)
		}
		w.logger.Error("Failed to recover pending settlements", zap.Error(err))
	}

	deposits, err := w.settleable(ctx)
	if err != nil {
		metrics.WatcherCycles.WithLabelValues("error").Inc()
		return err
	}

	for i := range deposits {
		d := &deposits[i]
		if err := w.processDeposit(ctx, d); err != nil {
			if errors.Is(err, errLeaseLost) {
				return w.abandonCycle(err)
			}
			w.logFailure(d, err)
		}
	}

	metrics.WatcherCycles.WithLabelValues("ok").Inc()
	return nil
}

// stepDown forgets the cached nonce, since a new leader may have used it.
func (w *Watcher) stepDown() {
	metrics.IsLeader.Set(0)
	w.settler.ResetNonce()
}

func (w *Watcher) abandonCycle(err error) error {
	w.stepDown()
	metrics.WatcherCycles.WithLabelValues("lease_lost").Inc()
	w.logger.Warn("Settlement lease lost mid-cycle, abandoning remaining deposits", zap.Error(err))
	return nil
}

// renewLease extends the lease before a transaction is signed or resent. The
// returned context expires with the lease.
func (w *Watcher) renewLease(ctx context.Context) (context.Context, context.CancelFunc, error) {
	dbCtx, cancel := context.WithTimeout(ctx, w.cfg.DBTimeout)
	held, err := w.lease.Acquire(dbCtx)
	cancel()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", errLeaseLost, err)
	}
	if !held {
		return nil, nil, errLeaseLost
	}
	if w.cfg.LeaseTTL > 0 {
		leaseCtx, cancel := context.WithTimeout(ctx, w.cfg.LeaseTTL)
		return leaseCtx, cancel, nil
	}
	leaseCtx, cancel := context.WithCancel(ctx)
	return leaseCtx, cancel, nil
}

// settleable returns created deposits, newest first, followed by initiated
// deposits that hold no reserved transaction.
func (w *Watcher) settleable(ctx context.Context) ([]model.Deposit, error) {
	dbCtx, cancel := context.WithTimeout(ctx, w.cfg.DBTimeout)
	defer cancel()

	created, err := w.store.ListByStatus(dbCtx, model.StatusCreated)
	if err != nil {
		return nil, fmt.Errorf("failed to list created deposits: %w", err)
	}

	initiated, err := w.store.ListByStatus(dbCtx, model.StatusInitiated)
	if err != nil {
		return nil, fmt.Errorf("failed to list initiated deposits: %w", err)
	}

	for _, d := range initiated {
		if !d.HasPendingSettlement() {
			created = append(created, d)
		}
	}
	return created, nil
}

func (w *Watcher) logFailure(d *model.Deposit, err error) {
	metrics.DepositOutcomes.WithLabelValues("failed").Inc()
	if errors.Is(err, amount.ErrEncoding) {
		metrics.EncodingFailures.Inc()
		w.logger.Error("Deposit amount cannot be encoded on chain, operator action required",
			zap.String("deposit_id", d.DepositID),
			zap.String("amount", d.Amount.String()),
			zap.Error(err))
		return
	}
	w.logger.Error("Failed to process deposit", zap.String("deposit_id", d.DepositID), zap.Error(err))
}

func vaultParams(d *model.Deposit, action uint64) (chain.VaultParams, error) {
	id, err := hexutil.Decode(d.DepositID)
	if err != nil || len(id) != 32 {
		return chain.VaultParams{}, fmt.Errorf("malformed deposit id %q", d.DepositID)
	}
	for _, addr := range []string{d.UserAddress, d.TokenAddress, d.TargetAddress, d.DepositAddress} {
		if !common.IsHexAddress(addr) {
			return chain.VaultParams{}, fmt.Errorf("malformed address %q", addr)
		}
	}

	p := chain.VaultParams{
		User:   common.HexToAddress(d.UserAddress),
		Action: action,
		Amount: d.Amount,
		Token:  common.HexToAddress(d.TokenAddress),
		Target: common.HexToAddress(d.TargetAddress),
	}
	copy(p.DepositID[:], id)
	return p, nil
}

func (w *Watcher) processDeposit(ctx context.Context, d *model.Deposit) error {
	params, err := vaultParams(d, w.cfg.DeployAction)
	if err != nil {
		return err
	}

	rpcCtx, cancel := context.WithTimeout(ctx, w.cfg.RPCTimeout)
	balance, err := w.settler.BalanceOf(rpcCtx, params.Token, common.HexToAddress(d.DepositAddress))
	cancel()
	if err != nil {
		return fmt.Errorf("failed to read deposit address balance: %w", err)
	}

	if balance.LessThan(d.Amount) {
		metrics.DepositOutcomes.WithLabelValues("unfunded").Inc()
		w.logger.Info("Deposit not yet funded",
			zap.String("deposit_id", d.DepositID),
			zap.String("balance", balance.String()),
			zap.String("amount", d.Amount.String()))
		return nil
	}

	leaseCtx, cancelLease, err := w.renewLease(ctx)
	if err != nil {
		return err
	}
	defer cancelLease()

	rpcCtx, cancel = context.WithTimeout(leaseCtx, w.cfg.RPCTimeout)
	tx, err := w.settler.PrepareDeployVault(rpcCtx, params)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to prepare settlement: %w", err)
	}

	hash := tx.Hash().Hex()
	raw, err := chain.EncodeRawTx(tx)
	if err != nil {
		w.settler.ResetNonce()
		return err
	}

	dbCtx, cancel := context.WithTimeout(leaseCtx, w.cfg.DBTimeout)
	reserved, err := w.store.ReservePendingSettlement(dbCtx, d.DepositID, hash, raw)
	cancel()
	if err != nil {
		w.settler.ResetNonce()
		return err
	}
	if !reserved {
		w.settler.ResetNonce()
		metrics.DepositOutcomes.WithLabelValues("claimed_elsewhere").Inc()
		w.logger.Warn("Deposit already has a settlement in flight", zap.String("deposit_id", d.DepositID))
		return nil
	}

	rpcCtx, cancel = context.WithTimeout(leaseCtx, w.cfg.RPCTimeout)
	_, err = w.settler.Broadcast(rpcCtx, tx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to broadcast settlement %s, will retry: %w", hash, err)
	}

	return w.markDeposited(ctx, d.DepositID, hash, "settled")
}

func (w *Watcher) markDeposited(ctx context.Context, depositID, hash, outcome string) error {
	dbCtx, cancel := context.WithTimeout(ctx, w.cfg.DBTimeout)
	defer cancel()

	if err := w.store.UpdateStatusAndTxHash(dbCtx, depositID, model.StatusDeposited, hash); err != nil {
		return fmt.Errorf("settlement %s submitted but status update failed: %w", hash, err)
	}

	metrics.DepositOutcomes.WithLabelValues(outcome).Inc()
	w.logger.Info("Deposit settled",
		zap.String("deposit_id", depositID),
		zap.String("tx_hash", hash),
		zap.String("outcome", outcome))
	return nil
}

func (w *Watcher) recoverPending(ctx context.Context) error {
	dbCtx, cancel := context.WithTimeout(ctx, w.cfg.DBTimeout)
	pending, err := w.store.ListPendingSettlements(dbCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to list pending settlements: %w", err)
	}
	metrics.PendingSettlements.Set(float64(len(pending)))

	for i := range pending {
		d := &pending[i]
		if err := w.recoverDeposit(ctx, d); err != nil {
			if errors.Is(err, errLeaseLost) {
				return err
			}
			w.logFailure(d, err)
		}
	}
	return nil
}

// recoverDeposit finishes a deposit whose reserved transaction was not
// confirmed as submitted. The reserved transaction is rebroadcast as-is; it
// is only dropped once it can no longer be mined.
func (w *Watcher) recoverDeposit(ctx context.Context, d *model.Deposit) error {
	hash := *d.PendingTxHash

	done, err := w.resolveByReceipt(ctx, d, hash)
	if err != nil || done {
		return err
	}

	if d.PendingRawTx == nil {
		return fmt.Errorf("pending settlement %s has no raw transaction", hash)
	}
	tx, err := chain.DecodeRawTx(*d.PendingRawTx)
	if err != nil {
		return err
	}

	leaseCtx, cancelLease, err := w.renewLease(ctx)
	if err != nil {
		return err
	}
	defer cancelLease()

	rpcCtx, cancel := context.WithTimeout(leaseCtx, w.cfg.RPCTimeout)
	_, err = w.settler.Broadcast(rpcCtx, tx)
	cancel()
	if err != nil {
		if !errors.Is(err, chain.ErrNonceTooLow) {
			return fmt.Errorf("failed to rebroadcast settlement %s: %w", hash, err)
		}
		// The nonce is spent. Unless the spending transaction is this one,
		// the reserved transaction can never be mined.
		done, err := w.resolveByReceipt(ctx, d, hash)
		if err != nil || done {
			return err
		}
		return w.release(ctx, d, hash, "nonce consumed by another transaction")
	}

	return w.markDeposited(ctx, d.DepositID, hash, "recovered")
}

// resolveByReceipt settles or releases d when hash has been mined. It
// reports whether a receipt was found.
func (w *Watcher) resolveByReceipt(ctx context.Context, d *model.Deposit, hash string) (bool, error) {
	rpcCtx, cancel := context.WithTimeout(ctx, w.cfg.RPCTimeout)
	receipt, err := w.settler.Receipt(rpcCtx, hash)
	cancel()
	if err != nil {
		if errors.Is(err, chain.ErrReceiptNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up settlement %s: %w", hash, err)
	}

	if receipt.Status == types.ReceiptStatusSuccessful {
		return true, w.markDeposited(ctx, d.DepositID, hash, "recovered")
	}
	return true, w.release(ctx, d, hash, "settlement transaction reverted")
}

func (w *Watcher) release(ctx context.Context, d *model.Deposit, hash, reason string) error {
	dbCtx, cancel := context.WithTimeout(ctx, w.cfg.DBTimeout)
	defer cancel()

	if err := w.store.ReleasePendingSettlement(dbCtx, d.DepositID, hash); err != nil {
		return err
	}
	metrics.DepositOutcomes.WithLabelValues("released").Inc()
	w.logger.Warn("Released pending settlement",
		zap.String("deposit_id", d.DepositID),
		zap.String("tx_hash", hash),
		zap.String("reason", reason))
	return nil
}
