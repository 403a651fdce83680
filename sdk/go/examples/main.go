package main

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"net/http/httptest"
	"time"

	"PretzelMint/internal/api"
	"PretzelMint/internal/contract"
	"PretzelMint/internal/web3"
	"PretzelMint/internal/web3/ethereum"
	"PretzelMint/sdk/go/pretzel"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// 在内存链上部署一个总是返回 7 的占位合约，通过 SDK 走完一次 mint。
func main() {
	key, err := crypto.GenerateKey()
	if err != nil {
		log.Fatalf("generate key: %v", err)
	}
	address := common.HexToAddress("0x00000000000000000000000000000000C0FFEE01")
	chain, err := ethereum.NewSimulatedChain(types.GenesisAlloc{
		crypto.PubkeyToAddress(key.PublicKey): {Balance: new(big.Int).Lsh(big.NewInt(1), 70)},
		address:                               {Code: common.FromHex("0x600760005260206000f3"), Balance: big.NewInt(0)},
	})
	if err != nil {
		log.Fatalf("start chain: %v", err)
	}
	defer chain.Close()

	meta, err := contract.LoadMeta(address.Hex())
	if err != nil {
		log.Fatalf("load meta: %v", err)
	}
	provider := contract.NewProvider(meta)

	standard, err := chain.Signer(web3.SignerStandard, key)
	if err != nil {
		log.Fatalf("signer: %v", err)
	}
	provider.Sync(web3.Session{Connection: chain.Connection(), Standard: standard})

	srv := httptest.NewServer(api.NewServer(":0", provider).Handler())
	defer srv.Close()

	client, err := pretzel.NewClient(srv.URL, srv.Client())
	if err != nil {
		log.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	attempt, err := client.MintStandard(ctx)
	if err != nil {
		log.Fatalf("mint standard: %v", err)
	}
	fmt.Printf("standard mint %s: tx=%s block=%d\n", attempt.Status, attempt.TxHash, attempt.BlockNumber)

	gasless, err := client.MintGasless(ctx)
	if err != nil {
		log.Fatalf("mint gasless: %v", err)
	}
	fmt.Printf("gasless mint %s (no gasless signer configured)\n", gasless.Status)

	state, err := client.State(ctx)
	if err != nil {
		log.Fatalf("state: %v", err)
	}
	fmt.Printf("read=%v standard=%v gasless=%v tx=%s\n",
		state.ReadAvailable, state.StandardWriteAvailable, state.GaslessWriteAvailable, *state.Outcome.TxHash)
	if state.Chain != nil {
		fmt.Printf("chain=%s head=%s total_supply=%s\n", state.Chain.ChainID, state.Chain.BlockNumber, state.TotalSupply)
	}

	balance, err := client.BalanceOf(ctx, standard.Address().Hex())
	if err != nil {
		log.Fatalf("balance: %v", err)
	}
	fmt.Printf("balance of %s: %s\n", standard.Address().Hex(), balance)
}
