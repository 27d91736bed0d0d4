package mq

import (
	"encoding/json"
	"log"

	"txpipeline/internal/config"

	"github.com/IBM/sarama"
)

// InitKafka 初始化 Kafka 生产者
func InitKafka(cfg *config.KafkaConfig) sarama.SyncProducer {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll // 等待所有副本确认
	kafkaConfig.Producer.Retry.Max = 3                    // 重试次数
	kafkaConfig.Producer.Return.Successes = true          // 返回成功消息

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		log.Fatalf("创建 Kafka 生产者失败: %v", err)
	}

	log.Println("Kafka 生产者创建成功")
	return producer
}

// ============================================================================
// 告警通知
// ============================================================================

// KafkaNotificationSink 将结构化告警发布到 Kafka 告警主题
//
// 【语义】发布即忘：告警发布失败只记日志，绝不向上传播 ——
// 告警通道的故障不能拖垮流水线本身。
type KafkaNotificationSink struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaNotificationSink(producer sarama.SyncProducer, topic string) *KafkaNotificationSink {
	return &KafkaNotificationSink{
		producer: producer,
		topic:    topic,
	}
}

// Publish 发布一条告警
func (s *KafkaNotificationSink) Publish(subject string, message map[string]interface{}) {
	payload := map[string]interface{}{
		"subject": subject,
		"detail":  message,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[NotificationSink] 序列化告警失败: subject=%s, err=%v", subject, err)
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(subject),
		Value: sarama.ByteEncoder(data),
	}
	if _, _, err := s.producer.SendMessage(msg); err != nil {
		log.Printf("[NotificationSink] 发布告警失败: subject=%s, err=%v", subject, err)
		return
	}
	log.Printf("[NotificationSink] 告警已发布: subject=%s", subject)
}
