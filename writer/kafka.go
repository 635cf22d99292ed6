package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"

	appconfig "hivetax/config"
	"hivetax/internal"
	"hivetax/logger"
)

// KafkaWriter mirrors every exported ledger row onto a Kafka topic for
// downstream consumers. It is only constructed when Kafka storage is
// enabled; delivery failures are logged and skipped so the CSV export is
// never blocked by the broker.
type KafkaWriter struct {
	config   *appconfig.Config
	channels *internal.Channels
	writer   *kafka.Writer

	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.Mutex
	running bool
	log     *logger.Log
}

func NewKafkaWriter(cfg *appconfig.Config, channels *internal.Channels) (*KafkaWriter, error) {
	if len(cfg.Storage.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if channels.KafkaRows == nil {
		return nil, fmt.Errorf("kafka row channel not allocated")
	}

	kw := &KafkaWriter{
		config:   cfg,
		channels: channels,
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Storage.Kafka.Brokers...),
			Topic:    cfg.Storage.Kafka.Topic,
			Balancer: &kafka.LeastBytes{},
		},
		wg:  &sync.WaitGroup{},
		log: logger.GetLogger(),
	}

	kw.log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"brokers": cfg.Storage.Kafka.Brokers,
		"topic":   cfg.Storage.Kafka.Topic,
	}).Debug("kafka writer initialized")

	return kw, nil
}

func (kw *KafkaWriter) Start(ctx context.Context) error {
	kw.mu.Lock()
	if kw.running {
		kw.mu.Unlock()
		return fmt.Errorf("kafka writer already running")
	}
	kw.running = true
	kw.ctx = ctx
	kw.mu.Unlock()

	kw.log.WithComponent("kafka_writer").Debug("starting kafka writer")

	kw.wg.Add(1)
	go kw.run()

	return nil
}

func (kw *KafkaWriter) run() {
	defer kw.wg.Done()

	for {
		select {
		case <-kw.ctx.Done():
			return
		case row, ok := <-kw.channels.KafkaRows:
			if !ok {
				return
			}
			data, err := json.Marshal(row)
			if err != nil {
				kw.log.WithComponent("kafka_writer").WithError(err).Warn("failed to marshal row")
				continue
			}
			msg := kafka.Message{
				Key:   []byte(kw.config.Export.Account),
				Value: data,
			}
			if err := kw.writer.WriteMessages(kw.ctx, msg); err != nil {
				kw.log.WithComponent("kafka_writer").WithError(err).Warn("failed to write message")
			} else {
				kw.log.WithComponent("kafka_writer").WithFields(logger.Fields{
					"time": row.Time,
					"type": row.Type,
				}).Debug("row written to kafka")
			}
		}
	}
}

func (kw *KafkaWriter) Stop() {
	kw.mu.Lock()
	kw.running = false
	kw.mu.Unlock()

	kw.log.WithComponent("kafka_writer").Debug("stopping kafka writer")
	kw.writer.Close()
	kw.wg.Wait()
	kw.log.WithComponent("kafka_writer").Debug("kafka writer stopped")
}
