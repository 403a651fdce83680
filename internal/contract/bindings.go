package contract

import (
	"context"
	"math/big"

	xerrors "PretzelMint/internal/errors"
	"PretzelMint/internal/web3"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Handle is a contract binding: the fixed address and interface bound to one
// connectivity or signing context.
type Handle struct {
	contract *bind.BoundContract
	address  common.Address
	backend  web3.Backend
	opts     *bind.TransactOpts
}

func newHandle(meta Meta, backend web3.Backend, opts *bind.TransactOpts) *Handle {
	return &Handle{
		contract: bind.NewBoundContract(meta.Address, meta.ABI, backend, backend, backend),
		address:  meta.Address,
		backend:  backend,
		opts:     opts,
	}
}

// Address returns the contract address.
func (h *Handle) Address() common.Address {
	if h == nil {
		return common.Address{}
	}
	return h.address
}

// Writable reports whether the handle carries a signer.
func (h *Handle) Writable() bool {
	return h != nil && h.opts != nil
}

func (h *Handle) transact(ctx context.Context, method string) (*types.Transaction, error) {
	opts := *h.opts
	opts.Context = ctx
	return h.contract.Transact(&opts, method)
}

func (h *Handle) callUint(ctx context.Context, method string, args ...any) (*big.Int, error) {
	if h == nil {
		return nil, xerrors.New(xerrors.CodeBindingUnavailable, "read binding is not available")
	}
	var out []any
	if err := h.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "call "+method)
	}
	if len(out) == 0 {
		return nil, xerrors.New(xerrors.CodeChainFailure, method+" returned no values")
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

// Bindings holds the three derived contract handles. Any of them may be nil.
type Bindings struct {
	Read          *Handle
	StandardWrite *Handle
	GaslessWrite  *Handle

	conn     *web3.Connection
	standard *web3.Signer
	gasless  *web3.Signer
}

// DeriveBindings recomputes the bindings for session. A handle whose source
// (connection or signer) is unchanged since prev is reused as is; an absent
// source yields an absent handle.
func DeriveBindings(prev Bindings, session web3.Session, meta Meta) Bindings {
	var next Bindings
	if session.Connected() {
		next.conn = session.Connection
		if prev.Read != nil && prev.conn == session.Connection {
			next.Read = prev.Read
		} else {
			next.Read = newHandle(meta, session.Connection.Backend, nil)
		}
	}
	next.StandardWrite, next.standard = deriveWrite(prev.StandardWrite, prev.standard, session.Signer(web3.SignerStandard), meta)
	next.GaslessWrite, next.gasless = deriveWrite(prev.GaslessWrite, prev.gasless, session.Signer(web3.SignerGasless), meta)
	return next
}

func deriveWrite(prevHandle *Handle, prevSigner, signer *web3.Signer, meta Meta) (*Handle, *web3.Signer) {
	if signer == nil {
		return nil, nil
	}
	if prevHandle != nil && prevSigner == signer {
		return prevHandle, signer
	}
	return newHandle(meta, signer.Backend, signer.Opts), signer
}
