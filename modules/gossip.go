package modules

import (
	"github.com/oib/AITBC-sub002/types"
)

// Gossip topics. Blocks are delivered in height order per source;
// transactions have no ordering guarantee.
const (
	// TopicBlock carries sealed blocks.
	TopicBlock = "block"
	// TopicTx carries mempool transactions.
	TopicTx = "tx"
	// TopicJobEvent carries coordinator job lifecycle events.
	TopicJobEvent = "job_event"
)

type (
	// A GossipMessage is one published payload. Seq increases by one per
	// topic per publisher, letting subscribers detect loss and trigger a
	// resync through the pull RPC.
	GossipMessage struct {
		Topic   string `json:"topic"`
		Seq     uint64 `json:"seq"`
		Payload []byte `json:"payload"`
	}

	// A Broker is a pub/sub transport for gossip messages. Publishing
	// never blocks on slow subscribers; whether a slow subscriber loses
	// messages or the broker buffers them is implementation-defined, but
	// loss must be detectable via Seq.
	Broker interface {
		// Publish sends payload to every subscriber of topic.
		Publish(topic string, payload []byte) error

		// Subscribe returns a channel of messages for topic and a
		// cancel function. The channel is closed after cancellation or
		// broker shutdown.
		Subscribe(topic string) (<-chan GossipMessage, func(), error)

		// Close shuts the broker down and closes all subscriptions.
		Close() error
	}

	// A RemoteChain is the pull-side view of a peer node, used by the
	// cross-site sync worker to bootstrap and reconcile.
	RemoteChain interface {
		// Head returns the peer's canonical head.
		Head() (ChainInfo, error)

		// BlocksRange returns the peer's canonical blocks in
		// [from, to], inclusive, in height order.
		BlocksRange(from, to types.BlockHeight) ([]types.Block, error)
	}
)
