package fabric

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisBackbone 骨干网的redis pub/sub实现
// redis对单频道保证发布顺序，正好满足织网的每频道保序要求
type RedisBackbone struct {
	rdb *redis.Client
}

func NewRedisBackbone(rdb *redis.Client) *RedisBackbone {
	return &RedisBackbone{rdb: rdb}
}

func (b *RedisBackbone) Publish(ctx context.Context, channel string, data []byte) error {
	return b.rdb.Publish(ctx, channel, data).Err()
}

func (b *RedisBackbone) PSubscribe(ctx context.Context, patterns ...string) (<-chan Message, func() error, error) {
	ps := b.rdb.PSubscribe(ctx, patterns...)
	// 先确认订阅建立，避免启动窗口丢消息
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, err
	}

	out := make(chan Message, 256)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			out <- Message{Channel: msg.Channel, Data: []byte(msg.Payload)}
		}
	}()

	return out, ps.Close, nil
}
