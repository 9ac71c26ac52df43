package watcher

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/shanmukh0504/onesat/apps/vault/internal/chain"
	"github.com/shanmukh0504/onesat/apps/vault/internal/model"
	"github.com/shanmukh0504/onesat/apps/vault/internal/repository"
)

type fakeStore struct {
	mu         sync.Mutex
	deposits   map[string]*model.Deposit
	listErr    error
	failUpdate int
	calls      int
}

func newFakeStore(deposits ...*model.Deposit) *fakeStore {
	s := &fakeStore{deposits: map[string]*model.Deposit{}}
	for _, d := range deposits {
		s.deposits[d.DepositID] = d
	}
	return s
}

func (s *fakeStore) get(id string) model.Deposit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.deposits[id]
}

func (s *fakeStore) sorted(filter func(*model.Deposit) bool) []model.Deposit {
	var out []model.Deposit
	for _, d := range s.deposits {
		if filter(d) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *fakeStore) ListByStatus(_ context.Context, status model.DepositStatus) ([]model.Deposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.sorted(func(d *model.Deposit) bool { return d.Status == status }), nil
}

func (s *fakeStore) ListPendingSettlements(context.Context) ([]model.Deposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.sorted(func(d *model.Deposit) bool {
		return d.Status == model.StatusInitiated && d.HasPendingSettlement()
	}), nil
}

func (s *fakeStore) ReservePendingSettlement(_ context.Context, id, txHash, rawTx string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	d, ok := s.deposits[id]
	if !ok || !d.Status.CanTransitionTo(model.StatusInitiated) || d.HasPendingSettlement() {
		return false, nil
	}
	d.Status = model.StatusInitiated
	d.PendingTxHash = &txHash
	d.PendingRawTx = &rawTx
	return true, nil
}

func (s *fakeStore) ReleasePendingSettlement(_ context.Context, id, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	d := s.deposits[id]
	if d.Status == model.StatusInitiated && d.PendingTxHash != nil && *d.PendingTxHash == txHash {
		d.PendingTxHash = nil
		d.PendingRawTx = nil
	}
	return nil
}

func (s *fakeStore) UpdateStatusAndTxHash(_ context.Context, id string, status model.DepositStatus, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failUpdate > 0 {
		s.failUpdate--
		return errors.New("connection reset by peer")
	}
	d, ok := s.deposits[id]
	if !ok {
		return repository.ErrDepositNotFound
	}
	if !d.Status.CanTransitionTo(status) {
		return repository.ErrInvalidTransition
	}
	d.Status = status
	d.SettlementTxHash = &txHash
	d.PendingTxHash = nil
	d.PendingRawTx = nil
	return nil
}

type fakeSettler struct {
	mu           sync.Mutex
	key          *ecdsa.PrivateKey
	nonce        uint64
	balances     map[common.Address]decimal.Decimal
	balanceErr   map[common.Address]error
	prepareErr   error
	prepared     []*types.Transaction
	broadcastErr []error
	broadcasts   []string
	receipts     map[string]*types.Receipt
	resets       int
	onBalance    func()
}

func newFakeSettler(t *testing.T) *fakeSettler {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &fakeSettler{
		key:        key,
		balances:   map[common.Address]decimal.Decimal{},
		balanceErr: map[common.Address]error{},
		receipts:   map[string]*types.Receipt{},
	}
}

func (f *fakeSettler) BalanceOf(_ context.Context, _, account common.Address) (decimal.Decimal, error) {
	if f.onBalance != nil {
		f.onBalance()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.balanceErr[account]; ok {
		return decimal.Zero, err
	}
	return f.balances[account], nil
}

func (f *fakeSettler) PrepareDeployVault(_ context.Context, p chain.VaultParams) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prepareErr != nil {
		return nil, f.prepareErr
	}
	to := common.HexToAddress("0x4e8f5128f473c6948127f9cbca474a6700f99bab")
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    f.nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      300_000,
		GasPrice: big.NewInt(1),
		Data:     p.DepositID[:],
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(1337)), f.key)
	if err != nil {
		return nil, err
	}
	f.nonce++
	f.prepared = append(f.prepared, signed)
	return signed, nil
}

func (f *fakeSettler) Broadcast(_ context.Context, tx *types.Transaction) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, tx.Hash().Hex())
	if len(f.broadcastErr) > 0 {
		err := f.broadcastErr[0]
		f.broadcastErr = f.broadcastErr[1:]
		if err != nil {
			return "", err
		}
	}
	return tx.Hash().Hex(), nil
}

func (f *fakeSettler) Receipt(_ context.Context, txHash string) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.receipts[txHash]; ok {
		return r, nil
	}
	return nil, chain.ErrReceiptNotFound
}

func (f *fakeSettler) ResetNonce() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

// fakeLease reports held for the first keepFor acquisitions when keepFor is
// set, and lost afterwards.
type fakeLease struct {
	held     bool
	err      error
	keepFor  int
	acquired int
}

func (l *fakeLease) Acquire(context.Context) (bool, error) {
	l.acquired++
	if l.keepFor > 0 && l.acquired > l.keepFor {
		return false, nil
	}
	return l.held, l.err
}

func (l *fakeLease) Release(context.Context) error { return nil }

func newDeposit(id byte, depositAddress string, amount int64, age time.Duration) *model.Deposit {
	var raw [32]byte
	raw[31] = id
	return &model.Deposit{
		DepositID:      "0x" + common.Bytes2Hex(raw[:]),
		UserAddress:    "0x0B8fA6F76eB75ae3a4ca28eb3020DFC4503F2136",
		Action:         1,
		Amount:         decimal.NewFromInt(amount),
		TokenAddress:   "0x8236a87084f8b84306f72007f36f2618a5634494",
		TargetAddress:  "0x5401b8620E5FB570064CA9114fd1e135fd77D57c",
		DepositAddress: depositAddress,
		Status:         model.StatusCreated,
		CreatedAt:      time.Now().Add(-age),
	}
}
