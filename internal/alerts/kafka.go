// Package alerts publishes confirmed PPE violations to Kafka so downstream
// consumers (paging, dashboards) see them without polling the monitor.
package alerts

import (
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/sitewatch-data/ppe.report/internal/monitoring"
	"github.com/sitewatch-data/ppe.report/internal/vision"
)

// KafkaConfig holds broker connection settings for the alert publisher.
type KafkaConfig struct {
	BootstrapServers string
	Topic            string
	SecurityProtocol string
	SASLMechanism    string
	SASLUsername     string
	SASLPassword     string
}

// ConfigFromEnv reads broker settings from PPE_KAFKA_* environment
// variables. The publisher is disabled when PPE_KAFKA_BROKERS is unset.
func ConfigFromEnv() KafkaConfig {
	cfg := KafkaConfig{
		BootstrapServers: os.Getenv("PPE_KAFKA_BROKERS"),
		Topic:            os.Getenv("PPE_KAFKA_TOPIC"),
		SecurityProtocol: os.Getenv("PPE_KAFKA_SECURITY_PROTOCOL"),
		SASLMechanism:    os.Getenv("PPE_KAFKA_SASL_MECHANISM"),
		SASLUsername:     os.Getenv("PPE_KAFKA_SASL_USERNAME"),
		SASLPassword:     os.Getenv("PPE_KAFKA_SASL_PASSWORD"),
	}
	if cfg.Topic == "" {
		cfg.Topic = "ppe.violations"
	}
	return cfg
}

// Enabled reports whether broker settings are present.
func (c KafkaConfig) Enabled() bool { return c.BootstrapServers != "" }

// ViolationAlert is the message published per violating person per tick.
type ViolationAlert struct {
	SessionID       string    `json:"session_id"`
	Tick            int64     `json:"tick"`
	FusedID         string    `json:"fused_id"`
	CameraSource    string    `json:"camera_source"`
	MatchConfidence float64   `json:"match_confidence"`
	Confidence      float64   `json:"confidence"`
	ViolationRatio  float64   `json:"violation_ratio"`
	DetectedPPE     []string  `json:"detected_ppe"`
	MissingPPE      []string  `json:"missing_ppe"`
	Timestamp       time.Time `json:"timestamp"`
}

// producer is the slice of *kafka.Producer the publisher needs; tests
// substitute a recording fake.
type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

// Publisher sends violation alerts for one session to a Kafka topic.
type Publisher struct {
	producer  producer
	topic     string
	sessionID string

	sent   atomic.Int64
	failed atomic.Int64
}

// NewPublisher connects to the configured brokers. Call Close to flush and
// release the connection.
func NewPublisher(cfg KafkaConfig, sessionID string) (*Publisher, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("kafka alerts not configured (PPE_KAFKA_BROKERS unset)")
	}

	kafkaConfig := &kafka.ConfigMap{
		"bootstrap.servers": cfg.BootstrapServers,
		"acks":              "all",
		"linger.ms":         50,
	}
	if cfg.SecurityProtocol != "" {
		kafkaConfig.SetKey("security.protocol", cfg.SecurityProtocol)
		kafkaConfig.SetKey("sasl.mechanism", cfg.SASLMechanism)
		kafkaConfig.SetKey("sasl.username", cfg.SASLUsername)
		kafkaConfig.SetKey("sasl.password", cfg.SASLPassword)
	}

	p, err := kafka.NewProducer(kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	monitoring.Logf("kafka alerts enabled: topic=%s brokers=%s", cfg.Topic, cfg.BootstrapServers)
	return &Publisher{producer: p, topic: cfg.Topic, sessionID: sessionID}, nil
}

// PublishViolations sends one alert per violating person in the result.
// Produce errors are counted and logged; a tick is never aborted because
// the broker is slow.
func (p *Publisher) PublishViolations(tick int64, result *vision.FusedResult) {
	for i := range result.Violations {
		v := &result.Violations[i]
		alert := ViolationAlert{
			SessionID:       p.sessionID,
			Tick:            tick,
			FusedID:         v.FusedID,
			CameraSource:    v.CameraSource,
			MatchConfidence: v.MatchConfidence,
			Confidence:      v.Filtered.Confidence,
			ViolationRatio:  v.Filtered.ViolationRatio,
			DetectedPPE:     v.Filtered.DetectedPPE,
			MissingPPE:      v.Filtered.MissingPPE,
			Timestamp:       time.Now().UTC(),
		}

		payload, err := json.Marshal(alert)
		if err != nil {
			p.failed.Add(1)
			monitoring.Logf("alert marshal failed for %s: %v", v.FusedID, err)
			continue
		}

		msg := &kafka.Message{
			TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
			Key:            []byte(v.FusedID),
			Value:          payload,
			Headers: []kafka.Header{
				{Key: "session_id", Value: []byte(p.sessionID)},
				{Key: "camera_source", Value: []byte(v.CameraSource)},
			},
		}
		if err := p.producer.Produce(msg, nil); err != nil {
			p.failed.Add(1)
			monitoring.Logf("alert produce failed for %s: %v", v.FusedID, err)
			continue
		}
		p.sent.Add(1)
	}
}

// Counters returns sent and failed alert counts.
func (p *Publisher) Counters() (sent, failed int64) {
	return p.sent.Load(), p.failed.Load()
}

// Close flushes pending alerts and closes the producer.
func (p *Publisher) Close() {
	if remaining := p.producer.Flush(int((5 * time.Second).Milliseconds())); remaining > 0 {
		monitoring.Logf("kafka close: %d alerts still queued", remaining)
	}
	p.producer.Close()
	sent, failed := p.Counters()
	monitoring.Logf("kafka alerts closed: %d sent, %d failed", sent, failed)
}
