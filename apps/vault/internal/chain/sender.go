package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// Sender owns the signing key and the nonce sequence of one account. The
// nonce is read from the node once and then advanced locally, so concurrent
// callers in this process never sign two transactions with the same nonce.
type Sender struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	nonces  NonceSource

	mu     sync.Mutex
	nonce  uint64
	synced bool
}

func NewSender(privateKeyHex string, chainID *big.Int, nonces NonceSource) (*Sender, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse signer private key: %w", err)
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("invalid chain id %v", chainID)
	}

	return &Sender{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: new(big.Int).Set(chainID),
		nonces:  nonces,
	}, nil
}

func (s *Sender) Address() common.Address {
	return s.address
}

// NextNonce hands out the next unused nonce.
func (s *Sender) NextNonce(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.synced {
		pending, err := s.nonces.PendingNonceAt(ctx, s.address)
		if err != nil {
			return 0, fmt.Errorf("%w: failed to get pending nonce: %w", ErrProvider, err)
		}
		s.nonce = pending
		s.synced = true
	}

	n := s.nonce
	s.nonce++
	return n, nil
}

// Reset forces the next NextNonce call to resync from the node.
func (s *Sender) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synced = false
}

func (s *Sender) Sign(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}
