package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"PretzelMint/internal/contract"
	xerrors "PretzelMint/internal/errors"
	"PretzelMint/internal/storage/mysql"
	"PretzelMint/internal/web3"

	"github.com/ethereum/go-ethereum/common"
)

type stubContract struct {
	state    contract.State
	attempt  contract.Attempt
	actions  []contract.Action
	supply   *big.Int
	balances map[common.Address]*big.Int
	chain    web3.ChainSnapshot
	readErr  error
}

func (s *stubContract) State() contract.State { return s.state }

func (s *stubContract) TotalSupply(context.Context) (*big.Int, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	if s.supply == nil {
		return new(big.Int), nil
	}
	return s.supply, nil
}

func (s *stubContract) BalanceOf(_ context.Context, owner common.Address) (*big.Int, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	if balance, ok := s.balances[owner]; ok {
		return balance, nil
	}
	return new(big.Int), nil
}

func (s *stubContract) Chain(context.Context) (web3.ChainSnapshot, error) {
	if s.readErr != nil {
		return web3.ChainSnapshot{}, s.readErr
	}
	return s.chain, nil
}

func (s *stubContract) Mint(_ context.Context, action contract.Action) contract.Attempt {
	s.actions = append(s.actions, action)
	attempt := s.attempt
	attempt.Action = action
	return attempt
}

type stubHistory struct {
	records []mysql.MintRecord
	limit   int
	err     error
}

func (s *stubHistory) ListLatest(_ context.Context, limit int) ([]mysql.MintRecord, error) {
	s.limit = limit
	return s.records, s.err
}

func serve(t *testing.T, server *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHandleContractState(t *testing.T) {
	hash := common.HexToHash("0xabc")
	block := uint64(42)
	svc := &stubContract{state: contract.State{
		ReadAvailable:          true,
		StandardWriteAvailable: true,
		Outcome:                contract.Outcome{TxHash: &hash, BlockNumber: &block},
	}}
	server := NewServer(":0", svc)

	rec := serve(t, server, http.MethodGet, "/api/v1/contract")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var got contract.State
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !got.ReadAvailable || got.GaslessWriteAvailable {
		t.Fatalf("unexpected availability %+v", got)
	}
	if got.Outcome.TxHash == nil || *got.Outcome.TxHash != hash || got.Outcome.BlockNumber == nil || *got.Outcome.BlockNumber != block {
		t.Fatalf("unexpected outcome %+v", got.Outcome)
	}
	if got.Outcome.ErrorMessage != nil {
		t.Fatalf("absent error message must stay absent")
	}

	if rec := serve(t, server, http.MethodPost, "/api/v1/contract"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHandleContractIncludesChainReads(t *testing.T) {
	svc := &stubContract{
		state:  contract.State{ReadAvailable: true},
		supply: big.NewInt(7),
		chain:  web3.ChainSnapshot{ChainID: "0x539", BlockNumber: "0x2"},
	}
	rec := serve(t, NewServer(":0", svc), http.MethodGet, "/api/v1/contract")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var got ContractResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.TotalSupply != "7" {
		t.Fatalf("expected total supply 7, got %q", got.TotalSupply)
	}
	if got.Chain == nil || got.Chain.ChainID != "0x539" {
		t.Fatalf("unexpected chain %+v", got.Chain)
	}

	t.Run("read failure omits chain data", func(t *testing.T) {
		svc.readErr = xerrors.New(xerrors.CodeChainFailure, "node down")
		rec := serve(t, NewServer(":0", svc), http.MethodGet, "/api/v1/contract")
		if rec.Code != http.StatusOK {
			t.Fatalf("unexpected status %d", rec.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if _, ok := body["total_supply"]; ok {
			t.Fatalf("total_supply must be omitted: %v", body)
		}
		if _, ok := body["chain"]; ok {
			t.Fatalf("chain must be omitted: %v", body)
		}
	})

	t.Run("no read binding skips reads", func(t *testing.T) {
		svc := &stubContract{supply: big.NewInt(7)}
		rec := serve(t, NewServer(":0", svc), http.MethodGet, "/api/v1/contract")
		var got ContractResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if got.TotalSupply != "" || got.Chain != nil {
			t.Fatalf("unexpected chain reads %+v", got)
		}
	})
}

func TestHandleBalance(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	svc := &stubContract{balances: map[common.Address]*big.Int{owner: big.NewInt(3)}}
	server := NewServer(":0", svc)

	rec := serve(t, server, http.MethodGet, "/api/v1/balance/"+owner.Hex())
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var got BalanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Address != owner.Hex() || got.Balance != "3" {
		t.Fatalf("unexpected balance %+v", got)
	}

	if rec := serve(t, server, http.MethodGet, "/api/v1/balance/not-an-address"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if rec := serve(t, server, http.MethodPost, "/api/v1/balance/"+owner.Hex()); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}

	tests := []struct {
		name      string
		err       error
		code      int
		retryable bool
	}{
		{"no read binding", xerrors.New(xerrors.CodeBindingUnavailable, "read binding is not available"), http.StatusServiceUnavailable, false},
		{"chain failure", xerrors.Wrap(xerrors.CodeChainFailure, errors.New("dial tcp"), "call balanceOf"), http.StatusBadGateway, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc.readErr = tt.err
			rec := serve(t, server, http.MethodGet, "/api/v1/balance/"+owner.Hex())
			if rec.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, rec.Code)
			}
			var body errorBody
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode error: %v", err)
			}
			if body.Error.Code != xerrors.CodeOf(tt.err) || body.Error.Retryable != tt.retryable {
				t.Fatalf("unexpected error detail %+v", body.Error)
			}
		})
	}
}

func TestBalanceReadsThroughProvider(t *testing.T) {
	meta, err := contract.LoadMeta("0x00000000000000000000000000000000C0FFEE01")
	if err != nil {
		t.Fatalf("load meta: %v", err)
	}
	rec := serve(t, NewServer(":0", contract.NewProvider(meta)), http.MethodGet,
		"/api/v1/balance/0x00000000000000000000000000000000000000aa")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without read binding, got %d", rec.Code)
	}
}

func TestMintStatusMapping(t *testing.T) {
	tests := []struct {
		status contract.AttemptStatus
		code   int
	}{
		{contract.StatusConfirmed, http.StatusOK},
		{contract.StatusReverted, http.StatusOK},
		{contract.StatusFailed, http.StatusOK},
		{contract.StatusBusy, http.StatusConflict},
		{contract.StatusSkipped, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			svc := &stubContract{attempt: contract.Attempt{ID: "a-1", Status: tt.status}}
			rec := serve(t, NewServer(":0", svc), http.MethodPost, "/api/v1/mint/gasless")
			if rec.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, rec.Code)
			}
			if len(svc.actions) != 1 || svc.actions[0] != contract.ActionGasless {
				t.Fatalf("unexpected actions %v", svc.actions)
			}
		})
	}
}

func TestMintResponseCarriesReason(t *testing.T) {
	svc := &stubContract{attempt: contract.Attempt{
		ID:     "a-2",
		Status: contract.StatusReverted,
		TxHash: "",
		Reason: "Insufficient balance",
		Err:    xerrors.Wrap(xerrors.CodeExecutionReverted, errors.New("rpc"), "Insufficient balance"),
	}}
	rec := serve(t, NewServer(":0", svc), http.MethodPost, "/api/v1/mint/standard")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}

	var got MintResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Action != contract.ActionStandard || got.Reason != "Insufficient balance" {
		t.Fatalf("unexpected attempt %+v", got.Attempt)
	}
	if !strings.Contains(got.Error, "EXECUTION_REVERTED") {
		t.Fatalf("expected coded error text, got %q", got.Error)
	}

	if rec := serve(t, NewServer(":0", svc), http.MethodGet, "/api/v1/mint/standard"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestMintWithoutBindingIsUnavailable(t *testing.T) {
	meta, err := contract.LoadMeta("0x00000000000000000000000000000000C0FFEE01")
	if err != nil {
		t.Fatalf("load meta: %v", err)
	}
	provider := contract.NewProvider(meta)

	rec := serve(t, NewServer(":0", provider), http.MethodPost, "/api/v1/mint/standard")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var got MintResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Status != contract.StatusSkipped || got.ID == "" {
		t.Fatalf("unexpected attempt %+v", got.Attempt)
	}
}

func TestHandleListMints(t *testing.T) {
	history := &stubHistory{records: []mysql.MintRecord{{AttemptID: "a-1", Status: "confirmed"}}}
	server := NewServer(":0", &stubContract{}, WithHistory(history))

	rec := serve(t, server, http.MethodGet, "/api/v1/mints?limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if history.limit != 5 {
		t.Fatalf("expected limit 5, got %d", history.limit)
	}
	var got []mysql.MintRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got) != 1 || got[0].AttemptID != "a-1" {
		t.Fatalf("unexpected records %+v", got)
	}

	t.Run("invalid limit", func(t *testing.T) {
		rec := serve(t, server, http.MethodGet, "/api/v1/mints?limit=-1")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		var body errorBody
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode error: %v", err)
		}
		if body.Error.Code != xerrors.CodeInvalidArgument {
			t.Fatalf("unexpected code %s", body.Error.Code)
		}
	})

	t.Run("storage failure", func(t *testing.T) {
		history.err = errors.New("disk full")
		rec := serve(t, server, http.MethodGet, "/api/v1/mints")
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rec.Code)
		}
		if history.limit != 20 {
			t.Fatalf("expected default limit 20, got %d", history.limit)
		}
	})

	t.Run("ledger disabled", func(t *testing.T) {
		rec := serve(t, NewServer(":0", &stubContract{}), http.MethodGet, "/api/v1/mints")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	server := NewServer(":0", &stubContract{})
	serve(t, server, http.MethodGet, "/api/v1/contract")

	rec := serve(t, server, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `pretzel_http_requests_total{handler="contract",method="GET",code="200"}`) {
		t.Fatalf("expected contract request metric, got:\n%s", rec.Body.String())
	}
}

func TestWithContextRejectsAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	handler := withContext(ctx, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run after shutdown")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/contract", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
