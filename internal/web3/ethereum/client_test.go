package ethereum

import (
	"context"
	"encoding/hex"
	"math/big"
	"testing"
	"time"

	"PretzelMint/internal/web3"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestNewKeyedSigner(t *testing.T) {
	t.Parallel()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	chain, err := NewSimulatedChain(coretypes.GenesisAlloc{})
	if err != nil {
		t.Fatalf("simulated chain: %v", err)
	}
	t.Cleanup(chain.Close)

	hexKey := "0x" + hex.EncodeToString(crypto.FromECDSA(key))
	signer, err := NewKeyedSigner(web3.SignerGasless, hexKey, chain.ChainID(), chain.Backend())
	if err != nil {
		t.Fatalf("new keyed signer: %v", err)
	}
	if signer.Kind != web3.SignerGasless {
		t.Fatalf("unexpected kind %s", signer.Kind)
	}
	if signer.Address() != crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatalf("unexpected signer address %s", signer.Address().Hex())
	}

	if _, err := NewKeyedSigner(web3.SignerStandard, "zz", chain.ChainID(), chain.Backend()); err == nil {
		t.Fatal("expected malformed key to be rejected")
	}
	if _, err := NewKeyedSigner(web3.SignerStandard, hexKey, nil, chain.Backend()); err == nil {
		t.Fatal("expected missing chain id to be rejected")
	}
}

func TestSimulatedChainSealsOnSend(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	chain, err := NewSimulatedChain(coretypes.GenesisAlloc{
		from: {Balance: big.NewInt(1_000_000_000_000_000_000)},
	})
	if err != nil {
		t.Fatalf("simulated chain: %v", err)
	}
	t.Cleanup(chain.Close)

	conn := chain.Connection()
	before, err := conn.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if before.ChainID != "0x"+chain.ChainID().Text(16) {
		t.Fatalf("unexpected chain id %s", before.ChainID)
	}

	backend := chain.Backend()
	nonce, err := backend.PendingNonceAt(ctx, from)
	if err != nil {
		t.Fatalf("pending nonce: %v", err)
	}
	head, err := backend.HeaderByNumber(ctx, nil)
	if err != nil {
		t.Fatalf("latest header: %v", err)
	}
	tip := big.NewInt(1_000_000_000)
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   chain.ChainID(),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: new(big.Int).Add(head.BaseFee, tip),
		Gas:       21_000,
		To:        &to,
		Value:     big.NewInt(1),
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chain.ChainID()), key)
	if err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	if err := backend.SendTransaction(ctx, signed); err != nil {
		t.Fatalf("send tx: %v", err)
	}

	receipt, err := backend.TransactionReceipt(ctx, signed.Hash())
	if err != nil {
		t.Fatalf("expected receipt right after send: %v", err)
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		t.Fatalf("unexpected receipt status %d", receipt.Status)
	}

	after, err := conn.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if after.BlockNumber == before.BlockNumber {
		t.Fatal("expected block number to advance after send")
	}
}

func TestConnectRequiresRPCURL(t *testing.T) {
	t.Parallel()

	connector := NewConnector(Config{})
	defer connector.Close()

	out := make(chan web3.Session, 3)
	if err := connector.Connect(context.Background(), out); err == nil {
		t.Fatal("expected missing rpc url error")
	}
	if len(out) != 0 {
		t.Fatalf("expected no sessions to be published, got %d", len(out))
	}
}
