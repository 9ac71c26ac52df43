package registrar

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shanmukh0504/onesat/apps/vault/internal/amount"
	"github.com/shanmukh0504/onesat/apps/vault/internal/chain"
	"github.com/shanmukh0504/onesat/apps/vault/internal/metrics"
	"github.com/shanmukh0504/onesat/apps/vault/internal/model"
)

var (
	ErrValidation = errors.New("invalid deposit request")
	ErrUpstream   = errors.New("upstream chain error")
	ErrStorage    = errors.New("deposit storage error")
)

type AddressPredictor interface {
	PredictDepositAddress(ctx context.Context, p chain.VaultParams) (common.Address, error)
}

type DepositStore interface {
	CreateDeposit(ctx context.Context, nd model.NewDeposit) (*model.Deposit, error)
	GetDeposit(ctx context.Context, depositID string) (*model.Deposit, error)
	ListByStatus(ctx context.Context, status model.DepositStatus) ([]model.Deposit, error)
	ListByUser(ctx context.Context, userAddress string) ([]model.Deposit, error)
}

type Request struct {
	UserAddress   string
	Action        uint64
	Amount        decimal.Decimal
	TokenAddress  string
	TargetAddress string
}

// Registrar registers new deposits: it predicts the vault address the
// funds must be sent to and records the deposit.
type Registrar struct {
	predictor  AddressPredictor
	store      DepositStore
	rpcTimeout time.Duration
	dbTimeout  time.Duration
	random     io.Reader
	logger     *zap.Logger
}

func New(predictor AddressPredictor, store DepositStore, rpcTimeout, dbTimeout time.Duration, logger *zap.Logger) *Registrar {
	return &Registrar{
		predictor:  predictor,
		store:      store,
		rpcTimeout: rpcTimeout,
		dbTimeout:  dbTimeout,
		random:     rand.Reader,
		logger:     logger,
	}
}

// maxAmountScale is the most fractional digits a Postgres NUMERIC column
// stores exactly.
const maxAmountScale = 16383

func validate(req Request) error {
	if req.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if -int64(req.Amount.Exponent()) > maxAmountScale {
		return fmt.Errorf("%w: amount has more than %d fractional digits", ErrValidation, maxAmountScale)
	}
	onchain, err := amount.OnchainValue(req.Amount)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if onchain.IsZero() {
		return fmt.Errorf("%w: amount is below one base unit", ErrValidation)
	}
	if req.Action > math.MaxInt64 {
		return fmt.Errorf("%w: action %d out of range", ErrValidation, req.Action)
	}
	fields := []struct{ name, value string }{
		{"user_address", req.UserAddress},
		{"token", req.TokenAddress},
		{"target_address", req.TargetAddress},
	}
	for _, f := range fields {
		if !common.IsHexAddress(f.value) {
			return fmt.Errorf("%w: malformed %s %q", ErrValidation, f.name, f.value)
		}
	}
	return nil
}

// CreateDeposit validates req, assigns a fresh random deposit id, predicts
// its deposit address and persists the deposit in status created. Every call
// creates a new deposit.
func (r *Registrar) CreateDeposit(ctx context.Context, req Request) (*model.Deposit, error) {
	if err := validate(req); err != nil {
		metrics.DepositRegistrationFailures.WithLabelValues("validation").Inc()
		return nil, err
	}

	var id [32]byte
	if _, err := io.ReadFull(r.random, id[:]); err != nil {
		return nil, fmt.Errorf("failed to generate deposit id: %w", err)
	}
	depositID := hexutil.Encode(id[:])

	params := chain.VaultParams{
		User:      common.HexToAddress(req.UserAddress),
		DepositID: id,
		Action:    req.Action,
		Amount:    req.Amount,
		Token:     common.HexToAddress(req.TokenAddress),
		Target:    common.HexToAddress(req.TargetAddress),
	}

	rpcCtx, cancel := context.WithTimeout(ctx, r.rpcTimeout)
	depositAddress, err := r.predictor.PredictDepositAddress(rpcCtx, params)
	cancel()
	if err != nil {
		metrics.DepositRegistrationFailures.WithLabelValues("upstream").Inc()
		r.logger.Error("Failed to predict deposit address", zap.String("deposit_id", depositID), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	dbCtx, cancel := context.WithTimeout(ctx, r.dbTimeout)
	defer cancel()
	deposit, err := r.store.CreateDeposit(dbCtx, model.NewDeposit{
		DepositID:      depositID,
		UserAddress:    params.User.Hex(),
		Action:         req.Action,
		Amount:         req.Amount,
		TokenAddress:   params.Token.Hex(),
		TargetAddress:  params.Target.Hex(),
		DepositAddress: depositAddress.Hex(),
	})
	if err != nil {
		metrics.DepositRegistrationFailures.WithLabelValues("storage").Inc()
		r.logger.Error("Failed to store deposit", zap.String("deposit_id", depositID), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	metrics.DepositsCreated.Inc()
	r.logger.Info("Registered deposit",
		zap.String("deposit_id", deposit.DepositID),
		zap.String("deposit_address", deposit.DepositAddress),
		zap.String("user_address", deposit.UserAddress))
	return deposit, nil
}

// GetDeposit returns nil, nil for an unknown id.
func (r *Registrar) GetDeposit(ctx context.Context, depositID string) (*model.Deposit, error) {
	dbCtx, cancel := context.WithTimeout(ctx, r.dbTimeout)
	defer cancel()

	deposit, err := r.store.GetDeposit(dbCtx, depositID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return deposit, nil
}

func (r *Registrar) ListDepositsByStatus(ctx context.Context, status model.DepositStatus) ([]model.Deposit, error) {
	dbCtx, cancel := context.WithTimeout(ctx, r.dbTimeout)
	defer cancel()

	deposits, err := r.store.ListByStatus(dbCtx, status)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return deposits, nil
}

func (r *Registrar) ListDepositsByUser(ctx context.Context, userAddress string) ([]model.Deposit, error) {
	if !common.IsHexAddress(userAddress) {
		return nil, fmt.Errorf("%w: malformed user_address %q", ErrValidation, userAddress)
	}

	dbCtx, cancel := context.WithTimeout(ctx, r.dbTimeout)
	defer cancel()

	deposits, err := r.store.ListByUser(dbCtx, common.HexToAddress(userAddress).Hex())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return deposits, nil
}
