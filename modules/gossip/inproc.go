// Package gossip implements block and transaction propagation: an in-process
// pub/sub broker for single-binary deployments, a Kafka-backed broker for
// multi-site deployments, and the cross-site sync worker that reconciles the
// local chain against remote peers with a longest-chain rule.
package gossip

import (
	"errors"
	"sync"

	"github.com/oib/AITBC-sub002/metrics"
	"github.com/oib/AITBC-sub002/modules"
)

const (
	// subscriberQueueLen is the per-subscriber buffer of the in-process
	// broker. Overflow drops the message for that subscriber and
	// increments a counter; the subscriber notices the gap through Seq
	// and resyncs over pull RPC.
	subscriberQueueLen = 64
)

var (
	// ErrBrokerClosed is returned for operations on a closed broker.
	ErrBrokerClosed = errors.New("broker has been closed")
)

type subscriber struct {
	ch     chan modules.GossipMessage
	cancel chan struct{}
}

// An InprocBroker is a process-local pub/sub topic table with non-blocking
// per-subscriber queues.
type InprocBroker struct {
	mu     sync.Mutex
	subs   map[string][]*subscriber
	seqs   map[string]uint64
	closed bool
}

// NewInprocBroker returns an empty in-process broker.
func NewInprocBroker() *InprocBroker {
	return &InprocBroker{
		subs: make(map[string][]*subscriber),
		seqs: make(map[string]uint64),
	}
}

// Publish implements modules.Broker. Delivery is non-blocking: a subscriber
// with a full queue loses the message.
func (b *InprocBroker) Publish(topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	b.seqs[topic]++
	msg := modules.GossipMessage{
		Topic:   topic,
		Seq:     b.seqs[topic],
		Payload: payload,
	}
	for _, sub := range b.subs[topic] {
		select {
		case sub.ch <- msg:
		default:
			metrics.GossipDropped.WithLabelValues(topic).Inc()
		}
	}
	return nil
}

// Subscribe implements modules.Broker.
func (b *InprocBroker) Subscribe(topic string) (<-chan modules.GossipMessage, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, ErrBrokerClosed
	}
	sub := &subscriber{
		ch:     make(chan modules.GossipMessage, subscriberQueueLen),
		cancel: make(chan struct{}),
	}
	b.subs[topic] = append(b.subs[topic], sub)
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.removeLocked(topic, sub)
	}
	return sub.ch, cancel, nil
}

// removeLocked detaches a subscriber and closes its channel. The caller must
// hold b.mu.
func (b *InprocBroker) removeLocked(topic string, sub *subscriber) {
	subs := b.subs[topic]
	for i, s := range subs {
		if s == sub {
			b.subs[topic] = append(subs[:i], subs[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// Close implements modules.Broker.
func (b *InprocBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	b.closed = true
	for topic, subs := range b.subs {
		for _, sub := range subs {
			close(sub.ch)
		}
		delete(b.subs, topic)
	}
	return nil
}
