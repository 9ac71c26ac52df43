package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shanmukh0504/onesat/apps/vault/internal/assets"
	"github.com/shanmukh0504/onesat/apps/vault/internal/chain"
	"github.com/shanmukh0504/onesat/apps/vault/internal/model"
	"github.com/shanmukh0504/onesat/apps/vault/internal/registrar"
)

const (
	testDepositID = "0x6f0a2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f9"
	testUser      = "0x0B8fA6F76eB75aE3a4cA28EB3020Dfc4503F2136"
	testToken     = "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599"
	testTarget    = "0x5401b8620E5FB570064CA9114fd1e135fd77D57c"
	testVault     = "0x8236a87084F8b84306F72007F36F2618A5634494"
)

type mockRegistrar struct {
	mock.Mock
}

func (m *mockRegistrar) CreateDeposit(ctx context.Context, req registrar.Request) (*model.Deposit, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Deposit), args.Error(1)
}

func (m *mockRegistrar) GetDeposit(ctx context.Context, depositID string) (*model.Deposit, error) {
	args := m.Called(ctx, depositID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Deposit), args.Error(1)
}

func (m *mockRegistrar) ListDepositsByStatus(ctx context.Context, status model.DepositStatus) ([]model.Deposit, error) {
	args := m.Called(ctx, status)
	return args.Get(0).([]model.Deposit), args.Error(1)
}

func (m *mockRegistrar) ListDepositsByUser(ctx context.Context, userAddress string) ([]model.Deposit, error) {
	args := m.Called(ctx, userAddress)
	return args.Get(0).([]model.Deposit), args.Error(1)
}

type fakeBalances struct {
	balance decimal.Decimal
	err     error
}

func (f *fakeBalances) BalanceOf(ctx context.Context, token, account common.Address) (decimal.Decimal, error) {
	return f.balance, f.err
}

var _ chain.TokenBalances = (*fakeBalances)(nil)

func sampleDeposit() *model.Deposit {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &model.Deposit{
		DepositID:      testDepositID,
		UserAddress:    testUser,
		Action:         1,
		Amount:         decimal.RequireFromString("1.5"),
		TokenAddress:   testToken,
		TargetAddress:  testTarget,
		DepositAddress: testVault,
		Status:         model.StatusCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func newTestServer(t *testing.T, reg *mockRegistrar, balances *fakeBalances) http.Handler {
	t.Helper()
	registry, err := assets.NewAssetRegistry([]*assets.Asset{
		{Symbol: "WBTC", Name: "Wrapped BTC", Address: common.HexToAddress(testToken), Decimals: 8},
	})
	require.NoError(t, err)

	logger := zap.NewNop()
	depositHandler := NewDepositHandler(reg, balances, registry, time.Second, logger)
	assetHandler := NewAssetHandler(registry, InfoResponse{ChainID: "1", DeployAction: 1}, logger)
	return NewServer(0, depositHandler, assetHandler, logger).Handler()
}

func doRequest(handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateDeposit(t *testing.T) {
	reg := &mockRegistrar{}
	reg.On("CreateDeposit", mock.Anything, mock.MatchedBy(func(req registrar.Request) bool {
		return req.UserAddress == testUser && req.Action == 1 && req.Amount.Equal(decimal.RequireFromString("1.5")) &&
			req.TokenAddress == testToken && req.TargetAddress == testTarget
	})).Return(sampleDeposit(), nil)
	handler := newTestServer(t, reg, &fakeBalances{})

	body := fmt.Sprintf(`{"user_address":%q,"action":1,"amount":"1.5","token":%q,"target_address":%q}`, testUser, testToken, testTarget)
	rec := doRequest(handler, http.MethodPost, "/api/deposit", body)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp DepositResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, testDepositID, resp.DepositID)
	assert.Equal(t, testVault, resp.DepositAddress)
	assert.Equal(t, "1.5", resp.Amount)
	assert.Equal(t, "WBTC", resp.TokenSymbol)
	assert.Equal(t, "created", resp.Status)
	assert.Nil(t, resp.SettlementTxHash)
	reg.AssertExpectations(t)
}

func TestCreateDeposit_NumericAmount(t *testing.T) {
	reg := &mockRegistrar{}
	reg.On("CreateDeposit", mock.Anything, mock.MatchedBy(func(req registrar.Request) bool {
		return req.Amount.Equal(decimal.NewFromInt(2))
	})).Return(sampleDeposit(), nil)
	handler := newTestServer(t, reg, &fakeBalances{})

	body := fmt.Sprintf(`{"user_address":%q,"action":1,"amount":2,"token":%q,"target_address":%q}`, testUser, testToken, testTarget)
	rec := doRequest(handler, http.MethodPost, "/api/deposit", body)

	assert.Equal(t, http.StatusCreated, rec.Code)
	reg.AssertExpectations(t)
}

func TestCreateDeposit_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", fmt.Errorf("%w: amount must be positive", registrar.ErrValidation), http.StatusBadRequest, "validation_error"},
		{"upstream", fmt.Errorf("%w: rpc down", registrar.ErrUpstream), http.StatusBadGateway, "upstream_error"},
		{"storage", fmt.Errorf("%w: connection refused", registrar.ErrStorage), http.StatusInternalServerError, "database_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := &mockRegistrar{}
			reg.On("CreateDeposit", mock.Anything, mock.Anything).Return(nil, tt.err)
			handler := newTestServer(t, reg, &fakeBalances{})

			rec := doRequest(handler, http.MethodPost, "/api/deposit", `{"amount":"1"}`)

			assert.Equal(t, tt.status, rec.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Error)
		})
	}
}

func TestCreateDeposit_MalformedBody(t *testing.T) {
	reg := &mockRegistrar{}
	handler := newTestServer(t, reg, &fakeBalances{})

	rec := doRequest(handler, http.MethodPost, "/api/deposit", `{"amount":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	reg.AssertNotCalled(t, "CreateDeposit", mock.Anything, mock.Anything)
}

func TestGetDeposit(t *testing.T) {
	settled := sampleDeposit()
	txHash := "0xabc"
	settled.Status = model.StatusDeposited
	settled.SettlementTxHash = &txHash

	reg := &mockRegistrar{}
	reg.On("GetDeposit", mock.Anything, testDepositID).Return(settled, nil)
	reg.On("GetDeposit", mock.Anything, "0xmissing").Return(nil, nil)
	handler := newTestServer(t, reg, &fakeBalances{})

	rec := doRequest(handler, http.MethodGet, "/api/deposit/"+testDepositID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp DepositResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "deposited", resp.Status)
	require.NotNil(t, resp.SettlementTxHash)
	assert.Equal(t, txHash, *resp.SettlementTxHash)

	rec = doRequest(handler, http.MethodGet, "/api/deposit/0xmissing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetBalance(t *testing.T) {
	reg := &mockRegistrar{}
	reg.On("GetDeposit", mock.Anything, testDepositID).Return(sampleDeposit(), nil)

	handler := newTestServer(t, reg, &fakeBalances{balance: decimal.RequireFromString("2")})
	rec := doRequest(handler, http.MethodGet, "/api/deposit/"+testDepositID+"/balance", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp BalanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Funded)
	assert.Equal(t, "2", resp.Balance)
	assert.Equal(t, "1.5", resp.Required)

	handler = newTestServer(t, reg, &fakeBalances{err: errors.New("rpc down")})
	rec = doRequest(handler, http.MethodGet, "/api/deposit/"+testDepositID+"/balance", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestListByStatus(t *testing.T) {
	reg := &mockRegistrar{}
	reg.On("ListDepositsByStatus", mock.Anything, model.StatusCreated).Return([]model.Deposit{*sampleDeposit()}, nil)
	handler := newTestServer(t, reg, &fakeBalances{})

	rec := doRequest(handler, http.MethodGet, "/api/deposits/created", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp DepositListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, testDepositID, resp.Deposits[0].DepositID)

	rec = doRequest(handler, http.MethodGet, "/api/deposits/pending", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListByUser(t *testing.T) {
	reg := &mockRegistrar{}
	reg.On("ListDepositsByUser", mock.Anything, testUser).Return([]model.Deposit{}, nil)
	reg.On("ListDepositsByUser", mock.Anything, "nope").Return([]model.Deposit(nil), fmt.Errorf("%w: malformed user_address", registrar.ErrValidation))
	handler := newTestServer(t, reg, &fakeBalances{})

	rec := doRequest(handler, http.MethodGet, "/api/users/"+testUser+"/deposits", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deposits":[],"count":0}`, rec.Body.String())

	rec = doRequest(handler, http.MethodGet, "/api/users/nope/deposits", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAssets(t *testing.T) {
	handler := newTestServer(t, &mockRegistrar{}, &fakeBalances{})

	rec := doRequest(handler, http.MethodGet, "/api/assets", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp []AssetResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "WBTC", resp[0].Symbol)
	assert.Equal(t, testToken, resp[0].Address)
}

func TestHealthAndCORS(t *testing.T) {
	handler := newTestServer(t, &mockRegistrar{}, &fakeBalances{})

	rec := doRequest(handler, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = doRequest(handler, http.MethodOptions, "/api/deposit", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	handler := newTestServer(t, &mockRegistrar{}, &fakeBalances{})

	rec := doRequest(handler, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vault_")
}
