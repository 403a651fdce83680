package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"PretzelMint/internal/contract"
	xerrors "PretzelMint/internal/errors"
	"PretzelMint/internal/observability/metrics"
	"PretzelMint/internal/storage/mysql"
	"PretzelMint/internal/web3"
	"PretzelMint/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// ContractService 是 API 依赖的合约能力，由 contract.Provider 实现。
type ContractService interface {
	State() contract.State
	Mint(ctx context.Context, action contract.Action) contract.Attempt
	TotalSupply(ctx context.Context) (*big.Int, error)
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	Chain(ctx context.Context) (web3.ChainSnapshot, error)
}

// MintHistory 提供 mint 账本查询。
type MintHistory interface {
	ListLatest(ctx context.Context, limit int) ([]mysql.MintRecord, error)
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr            string
	contract        ContractService
	history         MintHistory
	shutdownTimeout time.Duration
	log             *slog.Logger
}

// Option 定制 Server。
type Option func(*Server)

// WithHistory 启用 /api/v1/mints 查询。
func WithHistory(history MintHistory) Option {
	return func(s *Server) {
		s.history = history
	}
}

// WithShutdownTimeout 设置优雅关闭的等待时间。
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		if timeout > 0 {
			s.shutdownTimeout = timeout
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, svc ContractService, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		contract:        svc,
		shutdownTimeout: 5 * time.Second,
		log:             logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回挂载全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/contract", metrics.Middleware("contract", http.HandlerFunc(s.handleContract)))
	mux.Handle("/api/v1/mint/standard", metrics.Middleware("mint_standard", s.mintHandler(contract.ActionStandard)))
	mux.Handle("/api/v1/mint/gasless", metrics.Middleware("mint_gasless", s.mintHandler(contract.ActionGasless)))
	mux.Handle("/api/v1/mints", metrics.Middleware("mints", http.HandlerFunc(s.handleListMints)))
	mux.Handle("/api/v1/balance/", metrics.Middleware("balance", http.HandlerFunc(s.handleBalance)))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("api listening", slog.String("address", s.addr))

	select {
	case <-ctx.Done():
		// 进行中的 mint 不随请求取消，关闭时给它们留出完成时间。
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleContract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.New(xerrors.CodeInvalidArgument, "仅支持 GET"))
		return
	}
	if s.contract == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeBindingUnavailable, "合约服务未初始化"))
		return
	}

	resp := ContractResponse{State: s.contract.State()}
	if resp.ReadAvailable {
		if supply, err := s.contract.TotalSupply(r.Context()); err != nil {
			s.log.Warn("read total supply failed", slog.Any("error", err))
		} else {
			resp.TotalSupply = supply.String()
		}
		if chain, err := s.contract.Chain(r.Context()); err != nil {
			s.log.Warn("read chain snapshot failed", slog.Any("error", err))
		} else {
			resp.Chain = &chain
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ContractResponse 在状态之外附带只读绑定读到的链上数据，读取失败时省略。
type ContractResponse struct {
	contract.State
	TotalSupply string              `json:"total_supply,omitempty"`
	Chain       *web3.ChainSnapshot `json:"chain,omitempty"`
}

// BalanceResponse 是余额查询的响应体。
type BalanceResponse struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.New(xerrors.CodeInvalidArgument, "仅支持 GET"))
		return
	}
	if s.contract == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeBindingUnavailable, "合约服务未初始化"))
		return
	}
	raw := strings.TrimPrefix(r.URL.Path, "/api/v1/balance/")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, xerrors.New(xerrors.CodeInvalidArgument, "地址格式无效"))
		return
	}
	owner := common.HexToAddress(raw)

	balance, err := s.contract.BalanceOf(r.Context(), owner)
	if err != nil {
		status := http.StatusBadGateway
		if xerrors.CodeOf(err) == xerrors.CodeBindingUnavailable {
			status = http.StatusServiceUnavailable
		}
		s.log.Warn("read balance failed", slog.String("owner", owner.Hex()), slog.Any("error", err))
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Address: owner.Hex(), Balance: balance.String()})
}

// MintResponse 是 mint 接口的响应体。
type MintResponse struct {
	contract.Attempt
	Error string `json:"error,omitempty"`
}

func (s *Server) mintHandler(action contract.Action) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, xerrors.New(xerrors.CodeInvalidArgument, "仅支持 POST"))
			return
		}
		if s.contract == nil {
			writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeBindingUnavailable, "合约服务未初始化"))
			return
		}

		attempt := s.contract.Mint(r.Context(), action)
		resp := MintResponse{Attempt: attempt}
		if attempt.Err != nil {
			resp.Error = attempt.Err.Error()
		}
		writeJSON(w, statusForAttempt(attempt.Status), resp)
	})
}

func statusForAttempt(status contract.AttemptStatus) int {
	switch status {
	case contract.StatusSkipped:
		return http.StatusServiceUnavailable
	case contract.StatusBusy:
		return http.StatusConflict
	default:
		return http.StatusOK
	}
}

func (s *Server) handleListMints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.New(xerrors.CodeInvalidArgument, "仅支持 GET"))
		return
	}
	if s.history == nil {
		writeError(w, http.StatusNotFound, xerrors.New(xerrors.CodeNotFound, "未启用 mint 账本"))
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, xerrors.New(xerrors.CodeInvalidArgument, "limit 必须是正整数"))
			return
		}
		limit = parsed
	}

	records, err := s.history.ListLatest(r.Context(), limit)
	if err != nil {
		s.log.Error("list mints failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, xerrors.Wrap(xerrors.CodeStorageFailure, err, ""))
		return
	}
	if records == nil {
		records = []mysql.MintRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      xerrors.Code `json:"code"`
	Message   string       `json:"message"`
	Retryable bool         `json:"retryable"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	detail := errorDetail{Code: xerrors.CodeOf(err), Message: err.Error()}
	if coded, ok := xerrors.From(err); ok {
		detail.Message = coded.Message()
		detail.Retryable = coded.Retryable()
	}
	writeJSON(w, status, errorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeUnknown, "服务已关闭"))
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
