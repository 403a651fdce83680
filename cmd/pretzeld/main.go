package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"PretzelMint/internal/api"
	"PretzelMint/internal/config"
	"PretzelMint/internal/contract"
	"PretzelMint/internal/events"
	"PretzelMint/internal/storage/mysql"
	"PretzelMint/internal/web3"
	"PretzelMint/internal/web3/ethereum"
	"PretzelMint/pkg/logger"
)

// main 是 pretzeld 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("pretzeld 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()
	appLog := logger.Named("pretzeld")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	meta, err := contract.LoadMeta(cfg.Web3.ContractAddress)
	if err != nil {
		return err
	}

	ledger, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer ledger.Close()

	publisher, err := openPublisher(cfg.Events)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			appLog.Warn("关闭事件发布器失败", slog.Any("error", err))
		}
	}()
	if mem, ok := publisher.(*events.MemoryPublisher); ok {
		go drainMemory(mem)
	}

	provider := contract.NewProvider(meta, contract.WithLedger(ledger))
	unsubscribe := provider.Subscribe(events.Forward(publisher, time.Duration(cfg.Events.PublishTimeoutMS)*time.Millisecond))
	defer unsubscribe()

	standardKey, gaslessKey := cfg.Web3.Keys()
	connector := ethereum.NewConnector(ethereum.Config{
		Name:        cfg.Web3.Name,
		RPCURL:      cfg.Web3.RPCURL,
		RelayRPCURL: cfg.Web3.RelayRPCURL,
		ChainID:     cfg.Web3.ChainID,
		StandardKey: standardKey,
		GaslessKey:  gaslessKey,
	})
	defer connector.Close()

	sessions := make(chan web3.Session, 3)
	go func() {
		defer close(sessions)
		if err := connector.Connect(ctx, sessions); err != nil && !errors.Is(err, context.Canceled) {
			// 没有链连接时服务仍然可用，所有 mint 都会被跳过。
			appLog.Error("链连接失败", slog.Any("error", err))
		}
	}()
	go func() {
		if err := provider.Watch(ctx, sessions); err != nil && !errors.Is(err, context.Canceled) {
			appLog.Error("会话监听退出", slog.Any("error", err))
		}
	}()

	server := api.NewServer(cfg.Server.Address, provider,
		api.WithHistory(ledger),
		api.WithShutdownTimeout(time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second),
	)
	appLog.Info("pretzeld 启动",
		slog.String("address", cfg.Server.Address),
		slog.String("contract", meta.Address.Hex()),
		slog.String("ledger", cfg.Ledger.Driver),
		slog.String("events", cfg.Events.Driver),
	)
	return server.Start(ctx)
}

func openLedger(ctx context.Context, cfg *config.Config) (mysql.LedgerRepository, error) {
	switch strings.ToLower(cfg.Ledger.Driver) {
	case "memory", "":
		return mysql.NewMemoryLedger(cfg.Runtime.DataDir)
	case "mysql":
		return mysql.NewSQLLedger(ctx, mysql.Config{
			DSN:             cfg.Ledger.DSN,
			MaxOpenConns:    cfg.Ledger.MaxOpenConns,
			MaxIdleConns:    cfg.Ledger.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Ledger.ConnMaxLifetimeSeconds) * time.Second,
		})
	default:
		return nil, mysql.ErrUnsupportedDriver
	}
}

func openPublisher(cfg config.EventsConfig) (events.Publisher, error) {
	return events.New(events.Config{
		Driver: cfg.Driver,
		Buffer: cfg.Buffer,
		Redis: events.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		},
		RabbitMQ: events.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			Queue:      cfg.RabbitMQ.Queue,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		},
	})
}

// drainMemory 把内存发布器中的快照写入日志，避免缓冲区写满。
func drainMemory(pub *events.MemoryPublisher) {
	eventLog := logger.Named("events")
	for state := range pub.Events() {
		eventLog.Debug("contract state",
			slog.Bool("read", state.ReadAvailable),
			slog.Bool("standard_write", state.StandardWriteAvailable),
			slog.Bool("gasless_write", state.GaslessWriteAvailable),
		)
	}
}
