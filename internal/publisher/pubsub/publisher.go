// Package pubsub publishes change notifications to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"go.uber.org/zap"
)

// Config names the project and default topic.
type Config struct {
	ProjectID string
	TopicName string
}

// Publisher publishes JSON payloads, keeping one batching publisher per topic.
type Publisher struct {
	client     *pubsub.Client
	cfg        Config
	logger     *zap.Logger
	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// Open dials Pub/Sub and verifies the default topic is active.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Publisher, error) {
	if cfg.ProjectID == "" || cfg.TopicName == "" {
		return nil, errors.New("pubsub project_id and topic_name are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	p := New(client, cfg, logger)
	if err := p.checkTopic(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			p.logger.Warn("close pubsub client after topic check", zap.Error(closeErr))
		}
		return nil, err
	}
	return p, nil
}

// New wraps an existing client.
func New(client *pubsub.Client, cfg Config, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		client:     client,
		cfg:        cfg,
		logger:     logger,
		publishers: make(map[string]*pubsub.Publisher),
	}
}

func (p *Publisher) checkTopic(ctx context.Context) error {
	topic, err := p.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{
		Topic: p.topicName(p.cfg.TopicName),
	})
	if err != nil {
		return fmt.Errorf("get pubsub topic %q: %w", p.cfg.TopicName, err)
	}
	if topic.State != pubsubpb.Topic_ACTIVE {
		return fmt.Errorf("pubsub topic %q is not active in project %q", p.cfg.TopicName, p.cfg.ProjectID)
	}
	return nil
}

// topicName expands a bare topic id into its resource name.
func (p *Publisher) topicName(topic string) string {
	if strings.HasPrefix(topic, "projects/") {
		return topic
	}
	return fmt.Sprintf("projects/%s/topics/%s", p.cfg.ProjectID, topic)
}

func (p *Publisher) publisher(topic string) *pubsub.Publisher {
	p.mu.Lock()
	defer p.mu.Unlock()
	name := p.topicName(topic)
	if pub, ok := p.publishers[name]; ok {
		return pub
	}
	pub := p.client.Publisher(name)
	p.publishers[name] = pub
	return pub
}

// Publish marshals payload to JSON and waits for the server id. An empty topic uses the default.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.client == nil {
		return "", errors.New("pubsub publisher is not configured")
	}
	if topic == "" {
		topic = p.cfg.TopicName
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"content_type": "application/json"},
	}
	if m, ok := payload.(map[string]any); ok {
		for _, key := range []string{"change_type", "severity"} {
			if v, ok := m[key]; ok {
				msg.Attributes[key] = fmt.Sprint(v)
			}
		}
	}

	id, err := p.publisher(topic).Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes every publisher and closes the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for _, pub := range p.publishers {
		pub.Stop()
	}
	p.publishers = map[string]*pubsub.Publisher{}
	p.mu.Unlock()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
