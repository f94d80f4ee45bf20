// Package pubsub publishes each record to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/gather-vision/internal/crawler"
	"github.com/JakeFAU/gather-vision/internal/metrics"
	"github.com/JakeFAU/gather-vision/internal/sink"
)

// Config names the topic.
type Config struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Publisher sends one message and returns the server-assigned ID.
type Publisher interface {
	Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error)
}

// Sink publishes JSON-encoded records with source, kind and hash attributes.
type Sink struct {
	publisher Publisher
	encoder   *sink.Encoder
}

// New builds a Sink over publisher.
func New(publisher Publisher, encoder *sink.Encoder) (*Sink, error) {
	if publisher == nil {
		return nil, fmt.Errorf("pubsub publisher is not configured")
	}
	if encoder == nil {
		encoder = sink.NewEncoder(nil, nil)
	}
	return &Sink{publisher: publisher, encoder: encoder}, nil
}

// Accept implements crawler.Sink.
func (s *Sink) Accept(ctx context.Context, source string, item crawler.Item) error {
	rec, err := s.encoder.Encode(source, item)
	if err != nil {
		metrics.ObserveSinkWrite("pubsub", err)
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		metrics.ObserveSinkWrite("pubsub", err)
		return fmt.Errorf("marshal record: %w", err)
	}
	_, err = s.publisher.Publish(ctx, data, map[string]string{
		"source": rec.Source,
		"kind":   rec.Kind,
		"hash":   rec.Hash,
	})
	metrics.ObserveSinkWrite("pubsub", err)
	if err != nil {
		return fmt.Errorf("publish record: %w", err)
	}
	return nil
}

// TopicPublisher adapts a Pub/Sub topic to Publisher.
type TopicPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// Dial connects to Pub/Sub with Application Default Credentials.
func Dial(ctx context.Context, cfg Config) (*TopicPublisher, error) {
	if cfg.ProjectID == "" || cfg.Topic == "" {
		return nil, fmt.Errorf("pubsub project_id and topic are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &TopicPublisher{client: client, topic: client.Topic(cfg.Topic)}, nil
}

// Publish implements Publisher and waits for the server acknowledgement.
func (p *TopicPublisher) Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
	id, err := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and closes the client.
func (p *TopicPublisher) Close() error {
	p.topic.Stop()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
