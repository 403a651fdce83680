package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"PretzelMint/internal/contract"
	xerrors "PretzelMint/internal/errors"
	"PretzelMint/pkg/logger"
)

// Publisher 负责投递合约状态快照。
type Publisher interface {
	Publish(ctx context.Context, state contract.State) error
	Close() error
}

// Config 描述事件发布的驱动选择与连接参数。
type Config struct {
	Driver   string         `json:"driver"`
	Buffer   int            `json:"buffer"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// New 根据配置创建发布器，driver 为空时使用内存实现。
func New(cfg Config) (Publisher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemoryPublisher(cfg.Buffer), nil
	case "redis":
		return NewRedisPublisher(cfg.Redis)
	case "rabbitmq", "amqp":
		return NewRabbitMQPublisher(cfg.RabbitMQ)
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的事件驱动: %s", cfg.Driver))
	}
}

// Envelope 是写入消息系统的 JSON 载荷。
type Envelope struct {
	Type      string         `json:"type"`
	EmittedAt time.Time      `json:"emitted_at"`
	State     contract.State `json:"state"`
}

const envelopeType = "contract.state"

func encodeState(state contract.State) ([]byte, error) {
	payload, err := json.Marshal(Envelope{Type: envelopeType, EmittedAt: time.Now().UTC(), State: state})
	if err != nil {
		return nil, fmt.Errorf("序列化状态快照失败: %w", err)
	}
	return payload, nil
}

// Forward 返回一个可直接传给 Provider.Subscribe 的回调。每次投递最多等待
// timeout，失败只记录日志，不影响状态变更本身。
func Forward(pub Publisher, timeout time.Duration) func(contract.State) {
	log := logger.Named("events")
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return func(state contract.State) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := pub.Publish(ctx, state); err != nil {
			log.Warn("state publish failed", slog.Any("error", xerrors.Wrap(xerrors.CodePublishFailure, err, "")))
		}
	}
}
