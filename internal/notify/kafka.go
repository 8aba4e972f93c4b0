package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/hackgods/resource-scheduling-engine/internal/appointment"
)

// KafkaSink publishes each intent to the topic prefix+kind, keyed by target so one
// subject's intents stay ordered within a partition.
type KafkaSink struct {
	writer *kafka.Writer
	prefix string
}

func NewKafkaSink(brokers []string, topicPrefix string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		},
		prefix: topicPrefix,
	}
}

type intentPayload struct {
	IntentID      string  `json:"intent_id"`
	Kind          string  `json:"kind"`
	AppointmentID *string `json:"appointment_id,omitempty"`
	TargetID      string  `json:"target_id"`
	Channel       string  `json:"channel,omitempty"`
	ScheduledFor  string  `json:"scheduled_for"`
	Message       string  `json:"message"`
}

func (s *KafkaSink) Emit(ctx context.Context, intent appointment.Intent) error {
	msg, err := intentMessage(s.prefix, intent)
	if err != nil {
		return err
	}
	msg.Headers = injectTraceHeaders(ctx, msg.Headers)
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish intent %s: %w", intent.Kind, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

func intentMessage(prefix string, intent appointment.Intent) (kafka.Message, error) {
	p := intentPayload{
		IntentID:     intent.ID.String(),
		Kind:         string(intent.Kind),
		TargetID:     intent.TargetID.String(),
		Channel:      intent.Channel,
		ScheduledFor: intent.ScheduledFor.UTC().Format(time.RFC3339),
		Message:      intent.Message,
	}
	if intent.AppointmentID != nil {
		id := intent.AppointmentID.String()
		p.AppointmentID = &id
	}
	value, err := json.Marshal(p)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal intent: %w", err)
	}

	topic := prefix + string(intent.Kind)
	return kafka.Message{
		Topic: topic,
		Key:   []byte(intent.TargetID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(p.IntentID)},
			{Key: "event_type", Value: []byte(topic)},
		},
	}, nil
}

// injectTraceHeaders appends W3C trace context so consumers can continue the request's trace.
func injectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := &headerCarrier{headers: headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier.headers
}

type headerCarrier struct {
	headers []kafka.Header
}

func (c *headerCarrier) Get(key string) string {
	for _, h := range c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

func (c *headerCarrier) Set(key, value string) {
	for i := range c.headers {
		if c.headers[i].Key == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)
