package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 事件类型
const (
	TypeChangeRequest  = "change_request"
	TypePart           = "part"
	TypePartValidation = "part_validation"
)

// Event 已提交的生命周期事件
type Event struct {
	Type       string    `json:"type"`
	Action     string    `json:"action"`
	SubjectID  string    `json:"subject_id"`
	Name       string    `json:"name,omitempty"`
	State      string    `json:"state,omitempty"`
	UserID     string    `json:"user_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher 事件发布者，只在事务提交后调用
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Nop 丢弃所有事件
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi 依次发布到多个发布者，汇总错误
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RedisClient redis 发布接口，*redis.Client 满足
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher 通过 redis pub/sub 广播事件
type RedisPublisher struct {
	client  RedisClient
	channel string
}

// NewRedisPublisher 创建 redis 发布者
func NewRedisPublisher(client RedisClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = "plm:events"
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Publish 发布事件
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", p.channel, err)
	}
	return nil
}

// Dispatcher 发布事件并记录失败，发布失败不影响已提交的操作
type Dispatcher struct {
	publisher Publisher
	logger    *zap.Logger
}

// NewDispatcher 创建事件分发器
func NewDispatcher(publisher Publisher, logger *zap.Logger) *Dispatcher {
	if publisher == nil {
		publisher = Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{publisher: publisher, logger: logger}
}

// Dispatch 发布事件
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	if err := d.publisher.Publish(ctx, event); err != nil {
		d.logger.Warn("publish event failed",
			zap.String("type", event.Type),
			zap.String("action", event.Action),
			zap.String("subject_id", event.SubjectID),
			zap.Error(err),
		)
	}
}
