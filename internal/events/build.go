package events

import (
	"context"
	"fmt"
	"strings"

	"gasless-agent/internal/config"
)

// FromConfig 根据配置的驱动列表组装广播器。任一驱动初始化失败时关闭已创建的发布者。
func FromConfig(ctx context.Context, cfg config.EventsConfig) (*Fanout, error) {
	var publishers []Publisher
	closeAll := func() {
		_ = NewFanout(publishers...).Close()
	}
	for _, driver := range cfg.Drivers {
		switch strings.ToLower(strings.TrimSpace(driver)) {
		case "", "none":
			continue
		case "log":
			publishers = append(publishers, NewLogPublisher(nil))
		case "redis":
			p, err := NewRedisPublisher(ctx, RedisConfig{
				Address:  cfg.Redis.Address,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
				Channel:  cfg.Redis.Channel,
			})
			if err != nil {
				closeAll()
				return nil, err
			}
			publishers = append(publishers, p)
		case "rabbitmq":
			p, err := NewRabbitMQPublisher(RabbitMQConfig{
				URL:     cfg.RabbitMQ.URL,
				Queue:   cfg.RabbitMQ.Queue,
				Durable: cfg.RabbitMQ.Durable,
			})
			if err != nil {
				closeAll()
				return nil, err
			}
			publishers = append(publishers, p)
		default:
			closeAll()
			return nil, fmt.Errorf("不支持的事件驱动: %s", driver)
		}
	}
	return NewFanout(publishers...), nil
}
