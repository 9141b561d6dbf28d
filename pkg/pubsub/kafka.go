package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"
	"github.com/weiawesome/friendlychat/pkg/log"
)

var topicUnsafe = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// topicFor maps a bus channel onto a Kafka topic:
//
//	"chat:collection:messages:changes" → "chat.collection.messages.changes"
func topicFor(channel string) (string, error) {
	if channel == "" {
		return "", errors.New("empty channel")
	}
	topic := topicUnsafe.ReplaceAllString(channel, ".")
	if len(topic) > 249 {
		return "", fmt.Errorf("channel too long for a kafka topic: %s", channel)
	}
	return topic, nil
}

// KafkaPubSub carries collection changes over Kafka. Events are keyed by
// document so every change of one message lands on one partition and is
// consumed in commit order. Each process reads through its own consumer
// group, so every instance sees every change.
type KafkaPubSub struct {
	producer   *kafka.Producer
	config     KafkaConfig
	instanceID string

	mu     sync.Mutex
	topics map[string]bool
	subs   map[string]*kafkaSubscription
	closed bool

	reportsDone chan struct{}
}

type kafkaSubscription struct {
	consumer *kafka.Consumer
	cancel   context.CancelFunc
	done     chan struct{}
}

func (s *kafkaSubscription) stop() {
	s.cancel()
	<-s.done
}

// NewKafkaPubSub connects a producer to cfg.Brokers. Topics are created on
// first use.
func NewKafkaPubSub(cfg KafkaConfig) (*KafkaPubSub, error) {
	if cfg.Brokers == "" {
		return nil, errors.New("kafka pubsub: brokers are required")
	}
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Brokers,
		"acks":               "all",
		"enable.idempotence": true,
		"linger.ms":          2,
		"compression.type":   "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	k := &KafkaPubSub{
		producer:    p,
		config:      cfg,
		instanceID:  uuid.NewString(),
		topics:      make(map[string]bool),
		subs:        make(map[string]*kafkaSubscription),
		reportsDone: make(chan struct{}),
	}
	go k.logProducerErrors()
	return k, nil
}

// logProducerErrors drains client-level events. Per-message delivery
// reports go to the channel passed to Produce.
func (k *KafkaPubSub) logProducerErrors() {
	defer close(k.reportsDone)
	for e := range k.producer.Events() {
		if kerr, ok := e.(kafka.Error); ok {
			logger := log.L()
			logger.Error().Err(kerr).Bool("fatal", kerr.IsFatal()).Msg("kafka producer error")
		}
	}
}

// ensureTopic creates topic once per process. An existing topic is fine.
func (k *KafkaPubSub) ensureTopic(ctx context.Context, topic string) error {
	k.mu.Lock()
	known := k.topics[topic]
	k.mu.Unlock()
	if known {
		return nil
	}

	admin, err := kafka.NewAdminClientFromProducer(k.producer)
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	partitions := k.config.Partitions
	if partitions <= 0 {
		partitions = 1
	}
	actx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(actx, []kafka.TopicSpecification{{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	}})
	if err != nil {
		return fmt.Errorf("failed to create topic %s: %w", topic, err)
	}
	for _, r := range results {
		if code := r.Error.Code(); code != kafka.ErrNoError && code != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("failed to create topic %s: %w", topic, r.Error)
		}
	}

	k.mu.Lock()
	k.topics[topic] = true
	k.mu.Unlock()
	return nil
}

// Publish produces event keyed by event.Key and waits for the broker to
// acknowledge it, so a returned nil means the change is durable on the bus.
func (k *KafkaPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	k.mu.Lock()
	closed := k.closed
	k.mu.Unlock()
	if closed {
		return ErrClosed
	}

	topic, err := topicFor(channel)
	if err != nil {
		return err
	}
	if err := k.ensureTopic(ctx, topic); err != nil {
		logger := log.Ctx(ctx)
		logger.Warn().Err(err).Str("topic", topic).Msg("could not ensure kafka topic")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	report := make(chan kafka.Event, 1)
	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(event.Key),
		Value:          data,
		Headers:        []kafka.Header{{Key: "type", Value: []byte(event.Type)}},
		Timestamp:      event.Timestamp,
	}, report)
	if err != nil {
		return fmt.Errorf("failed to produce to %s: %w", topic, err)
	}

	select {
	case e := <-report:
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			return fmt.Errorf("kafka delivery to %s failed: %w", topic, m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe starts a consumer on the channel's topic. It reads from the
// latest offset: earlier changes are already reflected in the store.
func (k *KafkaPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	topic, err := topicFor(channel)
	if err != nil {
		return nil, err
	}
	if err := k.ensureTopic(ctx, topic); err != nil {
		logger := log.Ctx(ctx)
		logger.Warn().Err(err).Str("topic", topic).Msg("could not ensure kafka topic")
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil, ErrClosed
	}
	if existing, ok := k.subs[channel]; ok {
		existing.stop()
		delete(k.subs, channel)
	}

	group := k.config.GroupID
	if group == "" {
		group = "friendlychat"
	}
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  k.config.Brokers,
		"group.id":           group + "." + topic + "." + k.instanceID,
		"auto.offset.reset":  "latest",
		"enable.auto.commit": false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	if err := c.Subscribe(topic, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &kafkaSubscription{consumer: c, cancel: cancel, done: make(chan struct{})}
	k.subs[channel] = sub

	out := make(chan *Event, 100)
	go k.consume(subCtx, sub, topic, out)
	return out, nil
}

// consume polls until ctx is done. Delivery into out blocks rather than
// drops: a skipped change would leave live queries silently stale.
func (k *KafkaPubSub) consume(ctx context.Context, sub *kafkaSubscription, topic string, out chan<- *Event) {
	defer close(sub.done)
	defer close(out)
	defer sub.consumer.Close()

	l := log.L().With().Str("topic", topic).Logger()
	for ctx.Err() == nil {
		switch e := sub.consumer.Poll(250).(type) {
		case nil:
		case *kafka.Message:
			var event Event
			if err := json.Unmarshal(e.Value, &event); err != nil {
				l.Warn().Err(err).Str("offset", e.TopicPartition.Offset.String()).Msg("dropping malformed kafka event")
				continue
			}
			select {
			case out <- &event:
			case <-ctx.Done():
				return
			}
		case kafka.Error:
			l.Error().Err(e).Bool("fatal", e.IsFatal()).Msg("kafka consumer error")
			if e.IsFatal() {
				return
			}
		}
	}
}

// Unsubscribe stops the consumer of channel.
func (k *KafkaPubSub) Unsubscribe(ctx context.Context, channel string) error {
	k.mu.Lock()
	sub, ok := k.subs[channel]
	delete(k.subs, channel)
	k.mu.Unlock()

	if ok {
		sub.stop()
	}
	return nil
}

// Close stops every consumer, flushes pending produces and closes the
// producer.
func (k *KafkaPubSub) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	subs := k.subs
	k.subs = make(map[string]*kafkaSubscription)
	k.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}

	var err error
	if left := k.producer.Flush(5000); left > 0 {
		err = fmt.Errorf("kafka pubsub: %d events not delivered before close", left)
	}
	k.producer.Close()
	<-k.reportsDone
	return err
}
