package alerts

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/sitewatch-data/ppe.report/internal/vision"
)

type fakeProducer struct {
	messages []*kafka.Message
	err      error
	flushed  bool
	closed   bool
}

func (f *fakeProducer) Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeProducer) Flush(timeoutMs int) int { f.flushed = true; return 0 }
func (f *fakeProducer) Close()                  { f.closed = true }

func violationResult() *vision.FusedResult {
	return &vision.FusedResult{
		Violations: []vision.FusedPerson{
			{
				FusedID:         "fused_1_2",
				CameraSource:    "fused",
				MatchConfidence: 0.8,
				Filtered: vision.FilteredStatus{
					IsViolation:    true,
					Confidence:     0.9,
					ViolationRatio: 1.0,
					DetectedPPE:    []string{"vest"},
					MissingPPE:     []string{"helmet"},
				},
			},
			{
				FusedID:      "camera1_3",
				CameraSource: "camera1",
				Filtered: vision.FilteredStatus{
					IsViolation: true,
					MissingPPE:  []string{"vest"},
				},
			},
		},
	}
}

func TestPublishViolations(t *testing.T) {
	fake := &fakeProducer{}
	p := &Publisher{producer: fake, topic: "ppe.violations", sessionID: "session-1"}

	p.PublishViolations(7, violationResult())

	if len(fake.messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(fake.messages))
	}

	msg := fake.messages[0]
	if string(msg.Key) != "fused_1_2" {
		t.Errorf("key = %q, want fused_1_2", msg.Key)
	}
	if *msg.TopicPartition.Topic != "ppe.violations" {
		t.Errorf("topic = %q", *msg.TopicPartition.Topic)
	}

	var alert ViolationAlert
	if err := json.Unmarshal(msg.Value, &alert); err != nil {
		t.Fatalf("unmarshal alert: %v", err)
	}
	if alert.SessionID != "session-1" || alert.Tick != 7 {
		t.Errorf("alert header = %+v", alert)
	}
	if len(alert.MissingPPE) != 1 || alert.MissingPPE[0] != "helmet" {
		t.Errorf("missing_ppe = %v, want [helmet]", alert.MissingPPE)
	}

	sent, failed := p.Counters()
	if sent != 2 || failed != 0 {
		t.Errorf("counters = (%d, %d), want (2, 0)", sent, failed)
	}
}

func TestPublishViolations_ProduceErrorDoesNotAbort(t *testing.T) {
	fake := &fakeProducer{err: errors.New("broker down")}
	p := &Publisher{producer: fake, topic: "ppe.violations", sessionID: "session-1"}

	p.PublishViolations(1, violationResult())

	sent, failed := p.Counters()
	if sent != 0 || failed != 2 {
		t.Errorf("counters = (%d, %d), want (0, 2)", sent, failed)
	}
}

func TestPublishViolations_NoViolations(t *testing.T) {
	fake := &fakeProducer{}
	p := &Publisher{producer: fake, topic: "ppe.violations", sessionID: "session-1"}

	p.PublishViolations(1, &vision.FusedResult{})
	if len(fake.messages) != 0 {
		t.Errorf("published %d messages for a clean tick", len(fake.messages))
	}
}

func TestClose_Flushes(t *testing.T) {
	fake := &fakeProducer{}
	p := &Publisher{producer: fake, topic: "ppe.violations", sessionID: "session-1"}

	p.Close()
	if !fake.flushed || !fake.closed {
		t.Errorf("flushed=%v closed=%v, want both", fake.flushed, fake.closed)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("PPE_KAFKA_BROKERS", "broker:9092")
	t.Setenv("PPE_KAFKA_TOPIC", "")

	cfg := ConfigFromEnv()
	if !cfg.Enabled() {
		t.Error("config with brokers should be enabled")
	}
	if cfg.Topic != "ppe.violations" {
		t.Errorf("topic = %q, want default", cfg.Topic)
	}

	t.Setenv("PPE_KAFKA_BROKERS", "")
	if ConfigFromEnv().Enabled() {
		t.Error("config without brokers should be disabled")
	}
}
