// Package events publishes workflow decision events to Kafka. Publishing is
// fire-and-forget: a broker outage is logged and counted but never fails or
// delays the review operation that triggered it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/metapharm/rxgate/pkg/metrics"
)

type EventType string

const (
	EventPrescriptionApproved EventType = "prescription.approved"
	EventPrescriptionRejected EventType = "prescription.rejected"
	EventPrescriptionExpired  EventType = "prescription.expired"
)

// DecisionEvent announces that a prescription reached a terminal status. The
// treatment-plan generator consumes approved events; rejected and expired
// events feed patient notification.
type DecisionEvent struct {
	EventType      EventType `json:"event_type"`
	PrescriptionID uuid.UUID `json:"prescription_id"`
	PatientID      uuid.UUID `json:"patient_id"`
	ActorID        uuid.UUID `json:"actor_id"`
	Reason         string    `json:"reason,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type Publisher interface {
	PublishDecision(ctx context.Context, ev DecisionEvent)
	Close() error
}

type Config struct {
	Brokers  []string
	Topic    string
	ClientID string
	SASL     SASLConfig
}

type SASLConfig struct {
	Enabled   bool
	Mechanism string // "scram-sha-256" or "scram-sha-512"
	Username  string
	Password  string
}

type KafkaPublisher struct {
	producer sarama.AsyncProducer
	topic    string
	log      *zap.Logger
	metrics  *metrics.Collector
	wg       sync.WaitGroup
}

func NewKafkaPublisher(cfg Config, log *zap.Logger, collector *metrics.Collector) (*KafkaPublisher, error) {
	saramaCfg, err := buildSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}
	return newKafkaPublisher(producer, cfg.Topic, log, collector), nil
}

func newKafkaPublisher(producer sarama.AsyncProducer, topic string, log *zap.Logger, collector *metrics.Collector) *KafkaPublisher {
	p := &KafkaPublisher{
		producer: producer,
		topic:    topic,
		log:      log,
		metrics:  collector,
	}
	p.wg.Add(1)
	go p.drainErrors()
	return p
}

func buildSaramaConfig(cfg Config) (*sarama.Config, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.ClientID = cfg.ClientID
	saramaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	saramaCfg.Producer.Compression = sarama.CompressionSnappy
	saramaCfg.Producer.Flush.Frequency = 500 * time.Millisecond
	saramaCfg.Producer.Return.Errors = true

	if cfg.SASL.Enabled {
		saramaCfg.Net.SASL.Enable = true
		saramaCfg.Net.SASL.User = cfg.SASL.Username
		saramaCfg.Net.SASL.Password = cfg.SASL.Password
		switch cfg.SASL.Mechanism {
		case "scram-sha-512":
			saramaCfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			saramaCfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{HashGeneratorFcn: sha512Generator}
			}
		case "scram-sha-256", "":
			saramaCfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			saramaCfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{HashGeneratorFcn: sha256Generator}
			}
		default:
			return nil, fmt.Errorf("unsupported SASL mechanism %q", cfg.SASL.Mechanism)
		}
	}
	return saramaCfg, nil
}

// PublishDecision hands the event to the async producer, keyed by
// prescription ID so every record's events stay ordered within a partition.
func (p *KafkaPublisher) PublishDecision(_ context.Context, ev DecisionEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("failed to encode decision event", zap.Error(err),
			zap.String("prescription_id", ev.PrescriptionID.String()))
		return
	}

	p.producer.Input() <- &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.PrescriptionID.String()),
		Value: sarama.ByteEncoder(payload),
	}
	p.metrics.EventsPublished.WithLabelValues(string(ev.EventType)).Inc()
}

func (p *KafkaPublisher) drainErrors() {
	defer p.wg.Done()
	for perr := range p.producer.Errors() {
		p.log.Error("failed to publish decision event",
			zap.Error(perr.Err),
			zap.String("topic", perr.Msg.Topic),
		)
		p.metrics.EventPublishFailures.Inc()
	}
}

func (p *KafkaPublisher) Close() error {
	p.producer.AsyncClose()
	p.wg.Wait()
	return nil
}

// NoopPublisher stands in when Kafka is disabled.
type NoopPublisher struct{}

func (NoopPublisher) PublishDecision(context.Context, DecisionEvent) {}

func (NoopPublisher) Close() error { return nil }
