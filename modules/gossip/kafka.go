package gossip

// kafka.go adapts a Kafka cluster to the Broker interface for multi-site
// deployments. Messages are produced with at-least-once semantics; the Seq
// carried inside each message lets subscribers detect loss or duplication and
// fall back to pull RPC.

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Shopify/sarama"

	"github.com/oib/AITBC-sub002/metrics"
	"github.com/oib/AITBC-sub002/modules"
	"github.com/oib/AITBC-sub002/persist"
)

// A KafkaBroker publishes gossip messages to Kafka topics and feeds
// subscribers from a consumer group.
type KafkaBroker struct {
	producer    sarama.SyncProducer
	brokers     []string
	groupID     string
	topicPrefix string
	log         *persist.Logger

	mu     sync.Mutex
	seqs   map[string]uint64
	cancel []context.CancelFunc
	closed bool
}

// NewKafkaBroker connects to the given brokers. The topic prefix namespaces
// topics so that multiple chains can share a cluster.
func NewKafkaBroker(brokers []string, groupID, topicPrefix string, log *persist.Logger) (*KafkaBroker, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Return.Successes = true
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	return &KafkaBroker{
		producer:    producer,
		brokers:     brokers,
		groupID:     groupID,
		topicPrefix: topicPrefix,
		log:         log,
		seqs:        make(map[string]uint64),
	}, nil
}

func (b *KafkaBroker) topicName(topic string) string {
	return b.topicPrefix + "." + topic
}

// Publish implements modules.Broker.
func (b *KafkaBroker) Publish(topic string, payload []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBrokerClosed
	}
	b.seqs[topic]++
	msg := modules.GossipMessage{
		Topic:   topic,
		Seq:     b.seqs[topic],
		Payload: payload,
	}
	b.mu.Unlock()

	value, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, _, err = b.producer.SendMessage(&sarama.ProducerMessage{
		Topic: b.topicName(topic),
		Key:   sarama.StringEncoder(topic),
		Value: sarama.ByteEncoder(value),
	})
	return err
}

// Subscribe implements modules.Broker. Each subscription joins its own
// consumer group session so that every subscriber sees every message.
func (b *KafkaBroker) Subscribe(topic string) (<-chan modules.GossipMessage, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, ErrBrokerClosed
	}

	config := sarama.NewConfig()
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	group, err := sarama.NewConsumerGroup(b.brokers, b.groupID, config)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan modules.GossipMessage, subscriberQueueLen)
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = append(b.cancel, cancel)

	handler := &groupHandler{ch: ch, topic: topic}
	go func() {
		defer close(ch)
		defer group.Close()
		for ctx.Err() == nil {
			// Consume returns on rebalance; re-enter until cancelled.
			if err := group.Consume(ctx, []string{b.topicName(topic)}, handler); err != nil && ctx.Err() == nil {
				b.log.Println("WARN: kafka consume error:", err)
				time.Sleep(time.Second)
			}
		}
	}()
	return ch, cancel, nil
}

// Close implements modules.Broker.
func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	b.closed = true
	for _, cancel := range b.cancel {
		cancel()
	}
	return b.producer.Close()
}

// groupHandler forwards consumed messages into a subscriber channel.
type groupHandler struct {
	ch    chan modules.GossipMessage
	topic string
}

// Setup implements sarama.ConsumerGroupHandler.
func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup implements sarama.ConsumerGroupHandler.
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim implements sarama.ConsumerGroupHandler.
func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for kmsg := range claim.Messages() {
		var msg modules.GossipMessage
		if err := json.Unmarshal(kmsg.Value, &msg); err != nil {
			session.MarkMessage(kmsg, "")
			continue
		}
		select {
		case h.ch <- msg:
		default:
			metrics.GossipDropped.WithLabelValues(h.topic).Inc()
		}
		session.MarkMessage(kmsg, "")
	}
	return nil
}
