package kafka

import (
	"context"

	"alertflow/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
)

// Kafka 生产者服务
// 定义接口，方便测试和替换
type ProducerService interface {
	Produce(ctx context.Context, key string, v interface{}) error
	Close()
}

type auditProducer struct {
	writer *kafka.Writer
}

// NewAuditProducer 触发事件审计流的生产者
// 审计流是尽力而为的旁路，下游对账和回溯用，不在投递主链路上
func NewAuditProducer(brokerURL, topic string) ProducerService {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokerURL),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{}, // 保证写入负载均衡
	}
	return &auditProducer{writer: writer}
}

// Produce 序列化为JSON并写入
// key 用 alertID，相同提醒的事件进入同一个 Partition 保证有序
func (p *auditProducer) Produce(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
	})
}

func (p *auditProducer) Close() {
	if err := p.writer.Close(); err != nil {
		logger.Errorf("Error closing audit writer: %v", err)
	}
}
