package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shanmukh0504/onesat/apps/vault/internal/amount"
)

const wordSize = 32

// Backend is the part of *ethclient.Client the gateway uses.
type Backend interface {
	ethereum.ContractCaller
	ethereum.GasEstimator
	ethereum.GasPricer
	NonceSource
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// TokenBalances reads token balances held by an account.
type TokenBalances interface {
	BalanceOf(ctx context.Context, token, account common.Address) (decimal.Decimal, error)
}

// VaultParams are the arguments shared by address prediction and vault
// deployment.
type VaultParams struct {
	User      common.Address
	DepositID [32]byte
	Action    uint64
	Amount    decimal.Decimal
	Token     common.Address
	Target    common.Address
}

// Gateway talks to the deposit registry contract and to token contracts.
// It never retries; callers decide what a failure means.
type Gateway struct {
	backend       Backend
	registry      common.Address
	registryABI   abi.ABI
	tokenABI      abi.ABI
	sender        *Sender
	gasMultiplier float64
	logger        *zap.Logger
}

// NewGateway builds a gateway bound to the registry contract. sender may be
// nil, in which case only the read path is usable.
func NewGateway(backend Backend, registry common.Address, sender *Sender, gasMultiplier float64, logger *zap.Logger) (*Gateway, error) {
	if gasMultiplier < 1 {
		return nil, fmt.Errorf("gas multiplier must be at least 1, got %v", gasMultiplier)
	}

	registryABI, err := abi.JSON(strings.NewReader(RegistryABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse registry ABI: %w", err)
	}

	tokenABI, err := abi.JSON(strings.NewReader(TokenABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token ABI: %w", err)
	}

	return &Gateway{
		backend:       backend,
		registry:      registry,
		registryABI:   registryABI,
		tokenABI:      tokenABI,
		sender:        sender,
		gasMultiplier: gasMultiplier,
		logger:        logger,
	}, nil
}

func (g *Gateway) packVaultCall(method string, p VaultParams) ([]byte, error) {
	pair, err := amount.ToOnchainPair(p.Amount)
	if err != nil {
		return nil, err
	}

	data, err := g.registryABI.Pack(method, p.User, p.DepositID, new(big.Int).SetUint64(p.Action), pair.Low, pair.High, p.Token, p.Target)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to pack %s: %w", ErrContractCallFailed, method, err)
	}
	return data, nil
}

// PredictDepositAddress asks the registry which address the vault for p
// will be deployed at.
func (g *Gateway) PredictDepositAddress(ctx context.Context, p VaultParams) (common.Address, error) {
	data, err := g.packVaultCall("predictAddress", p)
	if err != nil {
		return common.Address{}, err
	}

	result, err := g.backend.CallContract(ctx, ethereum.CallMsg{To: &g.registry, Data: data}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: predictAddress call: %w", ErrProvider, err)
	}
	if len(result) < wordSize {
		return common.Address{}, fmt.Errorf("%w: predictAddress returned %d bytes", ErrInvalidResponse, len(result))
	}

	return common.BytesToAddress(result[:wordSize]), nil
}

// PrepareDeployVault builds and signs the deployVault transaction for p
// without sending it.
func (g *Gateway) PrepareDeployVault(ctx context.Context, p VaultParams) (*types.Transaction, error) {
	if g.sender == nil {
		return nil, fmt.Errorf("%w: gateway has no signer", ErrTransactionFailed)
	}

	data, err := g.packVaultCall("deployVault", p)
	if err != nil {
		return nil, err
	}

	gas, err := g.backend.EstimateGas(ctx, ethereum.CallMsg{From: g.sender.Address(), To: &g.registry, Data: data})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to estimate gas: %w", ErrTransactionFailed, err)
	}

	gasPrice, err := g.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get gas price: %w", ErrTransactionFailed, err)
	}

	nonce, err := g.sender.NextNonce(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransactionFailed, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &g.registry,
		Value:    big.NewInt(0),
		Gas:      applyMultiplier(new(big.Int).SetUint64(gas), g.gasMultiplier).Uint64(),
		GasPrice: applyMultiplier(gasPrice, g.gasMultiplier),
		Data:     data,
	})

	signed, err := g.sender.Sign(tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransactionFailed, err)
	}
	return signed, nil
}

// Broadcast submits a signed transaction and returns its hash. A node that
// already has the transaction counts as success.
func (g *Gateway) Broadcast(ctx context.Context, tx *types.Transaction) (string, error) {
	hash := tx.Hash().Hex()

	if err := g.backend.SendTransaction(ctx, tx); err != nil {
		if isAlreadyKnown(err) {
			g.logger.Info("Transaction already known to node", zap.String("tx_hash", hash))
			return hash, nil
		}
		if g.sender != nil {
			g.sender.Reset()
		}
		if isNonceTooLow(err) {
			return "", fmt.Errorf("%w: %w: %w", ErrTransactionFailed, ErrNonceTooLow, err)
		}
		return "", fmt.Errorf("%w: failed to send transaction %s: %w", ErrTransactionFailed, hash, err)
	}

	g.logger.Info("Submitted transaction",
		zap.String("tx_hash", hash),
		zap.Uint64("nonce", tx.Nonce()),
		zap.Uint64("gas", tx.Gas()),
		zap.String("gas_price", tx.GasPrice().String()))
	return hash, nil
}

// ResetNonce makes the next prepared transaction resync its nonce from the
// node. Call it after dropping a signed transaction that was never sent.
func (g *Gateway) ResetNonce() {
	if g.sender != nil {
		g.sender.Reset()
	}
}

// BalanceOf returns the balance of account in token base units.
func (g *Gateway) BalanceOf(ctx context.Context, token, account common.Address) (decimal.Decimal, error) {
	data, err := g.tokenABI.Pack("balanceOf", account)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: failed to pack balanceOf: %w", ErrContractCallFailed, err)
	}

	result, err := g.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: balanceOf call: %w", ErrProvider, err)
	}

	return DecodeBalance(result)
}

// DecodeBalance parses a balanceOf reply, which must be exactly two words.
func DecodeBalance(result []byte) (decimal.Decimal, error) {
	if len(result) != 2*wordSize {
		return decimal.Zero, fmt.Errorf("%w: balanceOf returned %d bytes, expected 2 words", ErrInvalidResponse, len(result))
	}

	low := new(big.Int).SetBytes(result[:wordSize])
	high := new(big.Int).SetBytes(result[wordSize:])

	balance, err := amount.FromU256Words(low, high)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %w", ErrInvalidDataFormat, err)
	}
	return balance, nil
}

// Receipt returns the receipt of a mined transaction.
func (g *Gateway) Receipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	receipt, err := g.backend.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, ErrReceiptNotFound
		}
		return nil, fmt.Errorf("%w: failed to get receipt for %s: %w", ErrProvider, txHash, err)
	}
	return receipt, nil
}

// EncodeRawTx returns the hex encoding of a signed transaction.
func EncodeRawTx(tx *types.Transaction) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to encode transaction: %w", err)
	}
	return hexutil.Encode(raw), nil
}

func DecodeRawTx(raw string) (*types.Transaction, error) {
	b, err := hexutil.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode raw transaction: %w", err)
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("failed to decode raw transaction: %w", err)
	}
	return tx, nil
}

func applyMultiplier(v *big.Int, multiplier float64) *big.Int {
	f := new(big.Float).SetInt(v)
	f.Mul(f, big.NewFloat(multiplier))
	out, _ := f.Int(nil)
	return out
}
