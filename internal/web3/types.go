package web3

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Backend is the chain access surface contract bindings need: calls,
// transactions, log filtering and receipt lookups for WaitMined.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ChainSnapshot represents summarized network metadata for UI/reporting.
type ChainSnapshot struct {
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// Connection is the read-only chain handle. Its identity is the pointer:
// bindings derived from it are reused until a different Connection arrives.
type Connection struct {
	Name    string
	ChainID *big.Int
	Backend Backend
	Notes   string
}

// Snapshot gathers lightweight metadata from the chain.
func (c *Connection) Snapshot(ctx context.Context) (ChainSnapshot, error) {
	if c == nil || c.Backend == nil {
		return ChainSnapshot{}, errors.New("connection is not established")
	}
	header, err := c.Backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return ChainSnapshot{}, fmt.Errorf("fetch latest header: %w", err)
	}
	return ChainSnapshot{
		ChainID:     toHexBig(c.ChainID),
		BlockNumber: toHexBig(header.Number),
		Notes:       c.Notes,
	}, nil
}

// SignerKind distinguishes the two transaction-signing pathways.
type SignerKind string

const (
	SignerStandard SignerKind = "standard"
	// SignerGasless submits through a relay that sponsors the transaction fee.
	SignerGasless SignerKind = "gasless"
)

// Signer pairs transaction options with the backend signed transactions are
// submitted through.
type Signer struct {
	Kind    SignerKind
	Opts    *bind.TransactOpts
	Backend Backend
}

// Address returns the signing account, or the zero address for a nil signer.
func (s *Signer) Address() common.Address {
	if s == nil || s.Opts == nil {
		return common.Address{}
	}
	return s.Opts.From
}

// Session is the set of externally owned handles the contract provider derives
// its bindings from. Each field may be nil and advances independently.
type Session struct {
	Connection *Connection
	Standard   *Signer
	Gasless    *Signer
}

// Connected reports whether read access is available.
func (s Session) Connected() bool {
	return s.Connection != nil && s.Connection.Backend != nil
}

// Signer returns the signer of the given kind, or nil when it is not available.
func (s Session) Signer(kind SignerKind) *Signer {
	var signer *Signer
	switch kind {
	case SignerStandard:
		signer = s.Standard
	case SignerGasless:
		signer = s.Gasless
	}
	if signer == nil || signer.Opts == nil || signer.Backend == nil {
		return nil
	}
	return signer
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
