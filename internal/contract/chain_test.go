package contract

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"

	"PretzelMint/internal/web3"
	"PretzelMint/internal/web3/ethereum"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	contractAddress = common.HexToAddress("0x00000000000000000000000000000000C0FFEE01")
	// Returns uint256(7) for every call.
	returnSevenCode = common.FromHex("0x600760005260206000f3")

	revertingAddress = common.HexToAddress("0x00000000000000000000000000000000C0FFEE02")
	// Reverts every call with empty data.
	revertCode = common.FromHex("0x60006000fd")
)

type testChain struct {
	*ethereum.SimulatedChain
	meta        Meta
	standardKey *ecdsa.PrivateKey
	gaslessKey  *ecdsa.PrivateKey
}

func newTestChain(t *testing.T) *testChain {
	t.Helper()

	standardKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	gaslessKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	funds := new(big.Int).Mul(big.NewInt(1_000_000_000_000_000_000), big.NewInt(100))
	chain, err := ethereum.NewSimulatedChain(types.GenesisAlloc{
		crypto.PubkeyToAddress(standardKey.PublicKey): {Balance: funds},
		crypto.PubkeyToAddress(gaslessKey.PublicKey):  {Balance: funds},
		contractAddress:                               {Code: returnSevenCode, Balance: big.NewInt(0)},
		revertingAddress:                              {Code: revertCode, Balance: big.NewInt(0)},
	})
	if err != nil {
		t.Fatalf("start simulated chain: %v", err)
	}
	t.Cleanup(chain.Close)

	meta, err := LoadMeta(contractAddress.Hex())
	if err != nil {
		t.Fatalf("load meta: %v", err)
	}
	return &testChain{SimulatedChain: chain, meta: meta, standardKey: standardKey, gaslessKey: gaslessKey}
}

func (c *testChain) signer(t *testing.T, kind web3.SignerKind) *web3.Signer {
	t.Helper()

	key := c.standardKey
	if kind == web3.SignerGasless {
		key = c.gaslessKey
	}
	signer, err := c.Signer(kind, key)
	if err != nil {
		t.Fatalf("create %s signer: %v", kind, err)
	}
	return signer
}

// fullSession returns a session with a connection and both signers.
func (c *testChain) fullSession(t *testing.T) web3.Session {
	return web3.Session{
		Connection: c.Connection(),
		Standard:   c.signer(t, web3.SignerStandard),
		Gasless:    c.signer(t, web3.SignerGasless),
	}
}

// recordingBackend counts submissions and remembers the called selectors.
type recordingBackend struct {
	web3.Backend
	mu        sync.Mutex
	selectors [][]byte
	sends     atomic.Int32
}

func (b *recordingBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.sends.Add(1)
	b.mu.Lock()
	b.selectors = append(b.selectors, common.CopyBytes(tx.Data()[:4]))
	b.mu.Unlock()
	return b.Backend.SendTransaction(ctx, tx)
}

func (b *recordingBackend) calls() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.selectors...)
}

// failingBackend rejects every submission with err.
type failingBackend struct {
	web3.Backend
	err error
}

func (b *failingBackend) SendTransaction(context.Context, *types.Transaction) error {
	return b.err
}

// blockingBackend holds submissions until release is closed.
type blockingBackend struct {
	web3.Backend
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.Backend.SendTransaction(ctx, tx)
}

// rpcError mimics a JSON-RPC error carrying a code and data payload.
type rpcError struct {
	code    int
	message string
	data    any
}

func (e *rpcError) Error() string          { return e.message }
func (e *rpcError) ErrorCode() int         { return e.code }
func (e *rpcError) ErrorData() interface{} { return e.data }

func revertError(message string) *rpcError {
	return &rpcError{
		code:    codeInternalRPCError,
		message: "Internal JSON-RPC error.",
		data:    map[string]any{"code": 3, "message": message},
	}
}

// withGasLimit skips estimation so a reverting call is still mined.
func withGasLimit(signer *web3.Signer, limit uint64) *web3.Signer {
	opts := *signer.Opts
	opts.GasLimit = limit
	clone := *signer
	clone.Opts = &opts
	return &clone
}

func withBackend(signer *web3.Signer, backend web3.Backend) *web3.Signer {
	clone := *signer
	clone.Backend = backend
	return &clone
}
