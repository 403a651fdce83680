package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"PretzelMint/internal/web3"
	"PretzelMint/pkg/logger"
)

// 配置文件路径的环境变量与默认值。
const (
	EnvConfigPath     = "PRETZEL_CONFIG"
	DefaultConfigPath = "configs/pretzel.json"
)

// Config 描述了 pretzeld 在启动阶段需要加载的核心配置。
type Config struct {
	Server  ServerConfig  `json:"server"`
	Web3    Web3Config    `json:"web3"`
	Ledger  LedgerConfig  `json:"ledger"`
	Events  EventsConfig  `json:"events"`
	Logging logger.Config `json:"logging"`
	Runtime RuntimeConfig `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address                string `json:"address"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds"`
}

// Web3Config 描述链接入点、合约地址以及私钥所在的环境变量名。
type Web3Config struct {
	NetworkFile     string `json:"network_file"`
	Name            string `json:"name"`
	RPCURL          string `json:"rpc_url"`
	RelayRPCURL     string `json:"relay_rpc_url"`
	ChainID         int64  `json:"chain_id"`
	ContractAddress string `json:"contract_address"`
	StandardKeyEnv  string `json:"standard_key_env"`
	GaslessKeyEnv   string `json:"gasless_key_env"`
}

// LedgerConfig 选择 mint 账本的存储驱动。
type LedgerConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// EventsConfig 选择状态快照的发布驱动。
type EventsConfig struct {
	Driver           string         `json:"driver"`
	Buffer           int            `json:"buffer"`
	PublishTimeoutMS int            `json:"publish_timeout_ms"`
	Redis            RedisConfig    `json:"redis"`
	RabbitMQ         RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis pub/sub 的连接参数。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Channel  string `json:"channel"`
}

// RabbitMQConfig 描述 RabbitMQ 的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Exchange   string `json:"exchange"`
	Queue      string `json:"queue"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// PathFromEnv 返回配置文件路径，未设置环境变量时使用默认路径。
func PathFromEnv() string {
	if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
		return path
	}
	return DefaultConfigPath
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	if err := cfg.mergeNetwork(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 5
	}

	if c.Web3.NetworkFile != "" && !filepath.IsAbs(c.Web3.NetworkFile) {
		c.Web3.NetworkFile = filepath.Join(baseDir, c.Web3.NetworkFile)
	}
	if c.Web3.StandardKeyEnv == "" {
		c.Web3.StandardKeyEnv = "PRETZEL_STANDARD_KEY"
	}
	if c.Web3.GaslessKeyEnv == "" {
		c.Web3.GaslessKeyEnv = "PRETZEL_GASLESS_KEY"
	}

	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "memory"
	}
	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Events.PublishTimeoutMS <= 0 {
		c.Events.PublishTimeoutMS = 2000
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}
}

// mergeNetwork 读取 YAML 网络定义，只填充 JSON 中留空的字段。
func (c *Config) mergeNetwork() error {
	network, err := web3.LoadNetwork(c.Web3.NetworkFile)
	if err != nil {
		return err
	}
	if c.Web3.Name == "" {
		c.Web3.Name = network.Name
	}
	if c.Web3.RPCURL == "" {
		c.Web3.RPCURL = network.RPCURL
	}
	if c.Web3.RelayRPCURL == "" {
		c.Web3.RelayRPCURL = network.RelayRPCURL
	}
	if c.Web3.ChainID == 0 {
		c.Web3.ChainID = network.ChainID
	}
	if c.Web3.ContractAddress == "" {
		c.Web3.ContractAddress = network.ContractAddress
	}
	return nil
}

// Keys 从配置指定的环境变量读取签名私钥，gasless 私钥缺省时沿用 standard 私钥。
func (w Web3Config) Keys() (standard, gasless string) {
	standard = strings.TrimSpace(os.Getenv(w.StandardKeyEnv))
	gasless = strings.TrimSpace(os.Getenv(w.GaslessKeyEnv))
	if gasless == "" {
		gasless = standard
	}
	return standard, gasless
}
