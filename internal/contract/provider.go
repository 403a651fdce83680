package contract

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	xerrors "PretzelMint/internal/errors"
	"PretzelMint/internal/observability/metrics"
	"PretzelMint/internal/storage/mysql"
	"PretzelMint/internal/web3"
	"PretzelMint/pkg/logger"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
)

// Action names one of the two mint pathways.
type Action string

const (
	ActionStandard Action = "standard"
	ActionGasless  Action = "gasless"
)

// Method returns the contract method the action invokes.
func (a Action) Method() string {
	if a == ActionGasless {
		return MethodMintWithoutGas
	}
	return MethodMint
}

// AttemptStatus is the terminal state of one mint invocation.
type AttemptStatus string

const (
	// StatusSkipped means the write binding was absent; nothing changed.
	StatusSkipped AttemptStatus = "skipped"
	// StatusBusy means the same action was already in flight; nothing changed.
	StatusBusy      AttemptStatus = "busy"
	StatusConfirmed AttemptStatus = "confirmed"
	StatusReverted  AttemptStatus = "reverted"
	StatusFailed    AttemptStatus = "failed"
)

// Attempt reports what a single mint invocation did.
type Attempt struct {
	ID            string        `json:"id"`
	Action        Action        `json:"action"`
	Status        AttemptStatus `json:"status"`
	Signer        string        `json:"signer,omitempty"`
	TxHash        string        `json:"tx_hash,omitempty"`
	BlockNumber   uint64        `json:"block_number,omitempty"`
	ReceiptStatus uint64        `json:"receipt_status,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
	Err           error         `json:"-"`
}

// Outcome is the last observed mint result. Every field is absent until the
// first attempt that sets it and is only ever overwritten, never cleared.
type Outcome struct {
	TxHash       *common.Hash `json:"tx_hash,omitempty"`
	BlockNumber  *uint64      `json:"block_number,omitempty"`
	ErrorMessage *string      `json:"error_message,omitempty"`
}

// State is a point-in-time view of the provider delivered to subscribers.
type State struct {
	ReadAvailable          bool    `json:"read_available"`
	StandardWriteAvailable bool    `json:"standard_write_available"`
	GaslessWriteAvailable  bool    `json:"gasless_write_available"`
	ContractAddress        string  `json:"contract_address"`
	Outcome                Outcome `json:"outcome"`
}

type outcome struct {
	txHash       common.Hash
	hasTxHash    bool
	blockNumber  uint64
	hasBlock     bool
	errorMessage string
	hasError     bool
}

func (o outcome) export() Outcome {
	var out Outcome
	if o.hasTxHash {
		hash := o.txHash
		out.TxHash = &hash
	}
	if o.hasBlock {
		block := o.blockNumber
		out.BlockNumber = &block
	}
	if o.hasError {
		msg := o.errorMessage
		out.ErrorMessage = &msg
	}
	return out
}

// Option configures a Provider.
type Option func(*Provider)

// WithLedger journals every attempt that reached the chain.
func WithLedger(ledger mysql.LedgerRepository) Option {
	return func(p *Provider) {
		p.ledger = ledger
	}
}

// WithLogger overrides the component logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Provider) {
		if log != nil {
			p.log = log
		}
	}
}

// Provider derives contract bindings from session handles and runs the two
// mint actions against them.
type Provider struct {
	meta   Meta
	log    *slog.Logger
	ledger mysql.LedgerRepository

	// notifyMu serialises mutation+delivery so subscribers observe state
	// changes in the order they happened.
	notifyMu sync.Mutex
	mu       sync.RWMutex
	bindings Bindings
	outcome  outcome

	standardBusy atomic.Bool
	gaslessBusy  atomic.Bool

	subMu   sync.Mutex
	subs    map[int]func(State)
	nextSub int
}

// NewProvider returns a provider with no bindings.
func NewProvider(meta Meta, opts ...Option) *Provider {
	p := &Provider{
		meta: meta,
		log:  logger.Named("contract"),
		subs: make(map[int]func(State)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Bindings returns the current contract handles.
func (p *Provider) Bindings() Bindings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bindings
}

// State returns a snapshot of bindings availability and the last outcome.
func (p *Provider) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotLocked()
}

func (p *Provider) snapshotLocked() State {
	return State{
		ReadAvailable:          p.bindings.Read != nil,
		StandardWriteAvailable: p.bindings.StandardWrite != nil,
		GaslessWriteAvailable:  p.bindings.GaslessWrite != nil,
		ContractAddress:        p.meta.Address.Hex(),
		Outcome:                p.outcome.export(),
	}
}

// Subscribe registers fn to receive a State after every mutation. fn runs on
// the mutating goroutine and must not call Sync or the mint actions.
func (p *Provider) Subscribe(fn func(State)) (unsubscribe func()) {
	p.subMu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.subMu.Unlock()

	return func() {
		p.subMu.Lock()
		delete(p.subs, id)
		p.subMu.Unlock()
	}
}

func (p *Provider) mutate(fn func()) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	fn()
	state := p.snapshotLocked()
	p.mu.Unlock()

	p.subMu.Lock()
	subs := make([]func(State), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.subMu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
}

// Sync re-derives the bindings from session.
func (p *Provider) Sync(session web3.Session) {
	var prev, next Bindings
	p.mutate(func() {
		prev = p.bindings
		next = DeriveBindings(prev, session, p.meta)
		p.bindings = next
	})
	logTransition(p.log, "read", prev.Read, next.Read)
	logTransition(p.log, "standard_write", prev.StandardWrite, next.StandardWrite)
	logTransition(p.log, "gasless_write", prev.GaslessWrite, next.GaslessWrite)
}

func logTransition(log *slog.Logger, slot string, prev, next *Handle) {
	switch {
	case prev == next:
	case next == nil:
		log.Info("binding dropped", slog.String("slot", slot))
	default:
		log.Info("binding derived", slog.String("slot", slot))
	}
}

// Watch applies every session received on sessions until the channel closes
// or ctx is done.
func (p *Provider) Watch(ctx context.Context, sessions <-chan web3.Session) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case session, ok := <-sessions:
			if !ok {
				return nil
			}
			p.Sync(session)
		}
	}
}

// MintStandard invokes mint through the standard-write binding.
func (p *Provider) MintStandard(ctx context.Context) Attempt {
	return p.mint(ctx, ActionStandard)
}

// MintGasless invokes mintWithoutGas through the gasless-write binding.
func (p *Provider) MintGasless(ctx context.Context) Attempt {
	return p.mint(ctx, ActionGasless)
}

// Mint dispatches to the action's mint method.
func (p *Provider) Mint(ctx context.Context, action Action) Attempt {
	return p.mint(ctx, action)
}

func (p *Provider) writeHandle(action Action) (*Handle, *atomic.Bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if action == ActionGasless {
		return p.bindings.GaslessWrite, &p.gaslessBusy
	}
	return p.bindings.StandardWrite, &p.standardBusy
}

// mint submits the action's transaction, records its hash, waits for the
// receipt and records the block number. Once submission starts the caller's
// cancellation is ignored; the attempt always runs to completion or failure.
func (p *Provider) mint(ctx context.Context, action Action) Attempt {
	attempt := Attempt{ID: uuid.NewString(), Action: action, StartedAt: time.Now()}
	log := p.log.With(slog.String("action", string(action)), slog.String("attempt_id", attempt.ID))

	handle, busy := p.writeHandle(action)
	if handle == nil {
		log.Debug("write binding absent, mint skipped")
		return p.finish(ctx, log, attempt, StatusSkipped)
	}
	if !busy.CompareAndSwap(false, true) {
		attempt.Err = xerrors.New(xerrors.CodeMintInFlight, "")
		log.Info("mint already in flight")
		return p.finish(ctx, log, attempt, StatusBusy)
	}
	defer busy.Store(false)

	ctx = context.WithoutCancel(ctx)
	attempt.Signer = handle.opts.From.Hex()

	tx, err := handle.transact(ctx, action.Method())
	if err != nil {
		return p.fail(ctx, log, attempt, err)
	}
	hash := tx.Hash()
	attempt.TxHash = hash.Hex()
	p.mutate(func() {
		p.outcome.txHash, p.outcome.hasTxHash = hash, true
	})
	log.Info("mint submitted", slog.String("tx_hash", attempt.TxHash))

	receipt, err := bind.WaitMined(ctx, handle.backend, tx)
	if err != nil {
		return p.fail(ctx, log, attempt, err)
	}
	block := blockNumberOf(receipt.BlockNumber)
	attempt.BlockNumber = block
	attempt.ReceiptStatus = receipt.Status
	if receipt.Status != types.ReceiptStatusSuccessful {
		// Mined but reverted: the block is reported on the attempt only.
		return p.fail(ctx, log, attempt, xerrors.New(xerrors.CodeChainFailure, "transaction reverted on chain",
			xerrors.WithMetadata("tx_hash", attempt.TxHash)))
	}
	p.mutate(func() {
		p.outcome.blockNumber, p.outcome.hasBlock = block, true
	})
	log.Info("mint confirmed", slog.String("tx_hash", attempt.TxHash), slog.Uint64("block_number", block))
	return p.finish(ctx, log, attempt, StatusConfirmed)
}

func (p *Provider) fail(ctx context.Context, log *slog.Logger, attempt Attempt, err error) Attempt {
	attempt.Err = err
	if reverted, ok := DecodeRevert(err); ok {
		attempt.Reason = reverted.Message()
		attempt.Err = reverted
		p.mutate(func() {
			p.outcome.errorMessage, p.outcome.hasError = attempt.Reason, true
		})
		log.Warn("mint reverted", slog.String("reason", attempt.Reason))
		return p.finish(ctx, log, attempt, StatusReverted)
	}
	log.Warn("mint failed", slog.Any("error", err))
	return p.finish(ctx, log, attempt, StatusFailed)
}

func (p *Provider) finish(ctx context.Context, log *slog.Logger, attempt Attempt, status AttemptStatus) Attempt {
	attempt.Status = status
	attempt.FinishedAt = time.Now()
	if status == StatusSkipped || status == StatusBusy {
		return attempt
	}

	metrics.ObserveMint(string(attempt.Action), string(status), attempt.FinishedAt.Sub(attempt.StartedAt))
	logger.Audit().Info("mint attempt",
		slog.String("attempt_id", attempt.ID),
		slog.String("action", string(attempt.Action)),
		slog.String("status", string(status)),
		slog.String("signer", attempt.Signer),
		slog.String("tx_hash", attempt.TxHash),
		slog.Uint64("block_number", attempt.BlockNumber),
		slog.String("reason", attempt.Reason),
	)

	if p.ledger != nil {
		if err := p.ledger.Save(context.WithoutCancel(ctx), recordOf(attempt)); err != nil {
			log.Warn("mint ledger write failed", slog.Any("error", xerrors.Wrap(xerrors.CodeStorageFailure, err, "")))
		}
	}
	return attempt
}

func recordOf(attempt Attempt) mysql.MintRecord {
	return mysql.MintRecord{
		AttemptID:   attempt.ID,
		Action:      string(attempt.Action),
		Status:      string(attempt.Status),
		Signer:      attempt.Signer,
		TxHash:      attempt.TxHash,
		BlockNumber: attempt.BlockNumber,
		Reason:      attempt.Reason,
		StartedAt:   attempt.StartedAt.Unix(),
		FinishedAt:  attempt.FinishedAt.Unix(),
	}
}

func blockNumberOf(n *big.Int) uint64 {
	if n == nil {
		return 0
	}
	return n.Uint64()
}

// TotalSupply reads the minted supply through the read binding.
func (p *Provider) TotalSupply(ctx context.Context) (*big.Int, error) {
	return p.Bindings().Read.callUint(ctx, "totalSupply")
}

// BalanceOf reads how many tokens owner holds through the read binding.
func (p *Provider) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	return p.Bindings().Read.callUint(ctx, "balanceOf", owner)
}

// Chain summarises the network behind the read connection.
func (p *Provider) Chain(ctx context.Context) (web3.ChainSnapshot, error) {
	conn := p.Bindings().conn
	if conn == nil {
		return web3.ChainSnapshot{}, xerrors.New(xerrors.CodeBindingUnavailable, "read binding is not available")
	}
	snapshot, err := conn.Snapshot(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "")
	}
	return snapshot, nil
}
