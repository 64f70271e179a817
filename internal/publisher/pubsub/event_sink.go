// Package pubsub forwards analytics events to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"google.golang.org/api/option"

	"github.com/JakeFAU/linkgate/internal/analytics"
)

const tracerName = "github.com/JakeFAU/linkgate/internal/publisher/pubsub"

// Config names the topic events are published to.
type Config struct {
	ProjectID string
	TopicName string
}

// EventSink publishes each analytics event as one JSON message.
type EventSink struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewEventSink dials Pub/Sub and verifies the topic exists.
func NewEventSink(ctx context.Context, cfg Config, opts ...option.ClientOption) (*EventSink, error) {
	if cfg.ProjectID == "" || cfg.TopicName == "" {
		return nil, errors.New("pubsub project id and topic name are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(cfg.TopicName)
	ok, err := topic.Exists(ctx)
	if err == nil && !ok {
		err = fmt.Errorf("topic %q not found", cfg.TopicName)
	}
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		return nil, fmt.Errorf("check pubsub topic: %w", err)
	}
	return &EventSink{client: client, topic: topic}, nil
}

// Name implements analytics.Sink.
func (*EventSink) Name() string { return "pubsub" }

// InsertEvent publishes evt and waits for the server-assigned ID.
func (s *EventSink) InsertEvent(ctx context.Context, evt analytics.Event) error {
	if s == nil || s.topic == nil {
		return errors.New("pubsub sink is not configured")
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "analytics.publish")
	defer span.End()

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"page": evt.Page},
	}
	if evt.ClickType != "" {
		msg.Attributes["click_type"] = evt.ClickType
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(msg.Attributes))

	if _, err := s.topic.Publish(ctx, msg).Get(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close flushes pending publishes and releases the client.
func (s *EventSink) Close(context.Context) error {
	if s == nil || s.topic == nil {
		return nil
	}
	s.topic.Stop()
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
