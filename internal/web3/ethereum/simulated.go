package ethereum

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"PretzelMint/internal/web3"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
)

// SimulatedChain wraps a go-ethereum simulated backend that seals a block for
// every submitted transaction, so WaitMined returns without a miner loop.
type SimulatedChain struct {
	backend *simulated.Backend
	sealing *sealingBackend
	chainID *big.Int
}

type sealingBackend struct {
	simulated.Client
	commit func() common.Hash
}

func (b *sealingBackend) SendTransaction(ctx context.Context, tx *coretypes.Transaction) error {
	if err := b.Client.SendTransaction(ctx, tx); err != nil {
		return err
	}
	b.commit()
	return nil
}

// NewSimulatedChain starts an in-process chain seeded with alloc.
func NewSimulatedChain(alloc coretypes.GenesisAlloc) (*SimulatedChain, error) {
	backend := simulated.NewBackend(alloc)
	client := backend.Client()
	chainID, err := client.ChainID(context.Background())
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("query simulated chain id: %w", err)
	}
	return &SimulatedChain{
		backend: backend,
		sealing: &sealingBackend{Client: client, commit: backend.Commit},
		chainID: chainID,
	}, nil
}

// ChainID returns the simulated chain identifier.
func (s *SimulatedChain) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// Backend exposes the sealing backend.
func (s *SimulatedChain) Backend() web3.Backend {
	return s.sealing
}

// Connection returns a fresh connection handle over the simulated backend.
func (s *SimulatedChain) Connection() *web3.Connection {
	return &web3.Connection{Name: "simulated", ChainID: s.ChainID(), Backend: s.sealing, Notes: "simulated backend"}
}

// Signer returns a fresh signer of the given kind for key.
func (s *SimulatedChain) Signer(kind web3.SignerKind, key *ecdsa.PrivateKey) (*web3.Signer, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(key, s.chainID)
	if err != nil {
		return nil, err
	}
	return &web3.Signer{Kind: kind, Opts: opts, Backend: s.sealing}, nil
}

// Commit seals pending transactions into a new block.
func (s *SimulatedChain) Commit() common.Hash {
	return s.backend.Commit()
}

// Close shuts down the simulated node.
func (s *SimulatedChain) Close() {
	_ = s.backend.Close()
}
