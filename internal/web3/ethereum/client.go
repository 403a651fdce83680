package ethereum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"PretzelMint/internal/web3"
	"PretzelMint/pkg/logger"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to reach an EVM chain and which keys sign for it.
// ChainID is queried from the node when zero; GaslessKey falls back to
// StandardKey when empty.
type Config struct {
	Name        string
	RPCURL      string
	RelayRPCURL string
	ChainID     int64
	StandardKey string
	GaslessKey  string
	Notes       string
}

// Connector dials the configured endpoints and publishes sessions as each
// handle becomes available.
type Connector struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	clients []*gethrpc.Client
}

// NewConnector returns a connector for the given configuration.
func NewConnector(cfg Config) *Connector {
	return &Connector{cfg: cfg, log: logger.Named("web3")}
}

// Connect dials the read connection, then the standard signer, then the
// gasless signer, publishing a session after each step that succeeds. A
// failing signer step is logged and skipped; only a failed connection is
// returned as an error.
func (c *Connector) Connect(ctx context.Context, out chan<- web3.Session) error {
	conn, err := c.dialConnection(ctx)
	if err != nil {
		return err
	}
	session := web3.Session{Connection: conn}
	if err := publish(ctx, out, session); err != nil {
		return err
	}
	c.log.Info("connection established", slog.String("network", conn.Name), slog.String("chain_id", conn.ChainID.String()))

	if key := strings.TrimSpace(c.cfg.StandardKey); key != "" {
		signer, err := NewKeyedSigner(web3.SignerStandard, key, conn.ChainID, conn.Backend)
		if err != nil {
			c.log.Warn("standard signer unavailable", slog.Any("error", err))
		} else {
			session.Standard = signer
			if err := publish(ctx, out, session); err != nil {
				return err
			}
			c.log.Info("standard signer ready", slog.String("address", signer.Address().Hex()))
		}
	}

	if relayURL := strings.TrimSpace(c.cfg.RelayRPCURL); relayURL != "" {
		signer, err := c.dialGasless(ctx, relayURL, conn.ChainID)
		if err != nil {
			c.log.Warn("gasless signer unavailable", slog.Any("error", err))
			return nil
		}
		session.Gasless = signer
		if err := publish(ctx, out, session); err != nil {
			return err
		}
		c.log.Info("gasless signer ready", slog.String("address", signer.Address().Hex()))
	}
	return nil
}

func (c *Connector) dialConnection(ctx context.Context) (*web3.Connection, error) {
	rpcURL := strings.TrimSpace(c.cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置 RPC 地址")
	}
	client, err := c.dial(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接节点失败: %w", err)
	}
	eth := ethclient.NewClient(client)

	chainID := big.NewInt(c.cfg.ChainID)
	if c.cfg.ChainID == 0 {
		chainID, err = eth.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("获取链 ID 失败: %w", err)
		}
	}
	return &web3.Connection{Name: c.cfg.Name, ChainID: chainID, Backend: eth, Notes: c.cfg.Notes}, nil
}

func (c *Connector) dialGasless(ctx context.Context, relayURL string, chainID *big.Int) (*web3.Signer, error) {
	key := strings.TrimSpace(c.cfg.GaslessKey)
	if key == "" {
		key = strings.TrimSpace(c.cfg.StandardKey)
	}
	if key == "" {
		return nil, errors.New("未配置免 gas 签名私钥")
	}
	client, err := c.dial(ctx, relayURL)
	if err != nil {
		return nil, fmt.Errorf("连接中继节点失败: %w", err)
	}
	return NewKeyedSigner(web3.SignerGasless, key, chainID, ethclient.NewClient(client))
}

func (c *Connector) dial(ctx context.Context, url string) (*gethrpc.Client, error) {
	client, err := gethrpc.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.clients = append(c.clients, client)
	c.mu.Unlock()
	return client, nil
}

// Close releases every RPC connection opened by Connect.
func (c *Connector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, client := range c.clients {
		client.Close()
	}
	c.clients = nil
}

// NewKeyedSigner builds a signer from a hex encoded secp256k1 private key.
func NewKeyedSigner(kind web3.SignerKind, hexKey string, chainID *big.Int, backend web3.Backend) (*web3.Signer, error) {
	if backend == nil {
		return nil, errors.New("签名器缺少链访问后端")
	}
	if chainID == nil {
		return nil, errors.New("未配置链 ID")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("解析私钥失败: %w", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("创建交易签名器失败: %w", err)
	}
	return &web3.Signer{Kind: kind, Opts: opts, Backend: backend}, nil
}

func publish(ctx context.Context, out chan<- web3.Session, session web3.Session) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- session:
		return nil
	}
}
