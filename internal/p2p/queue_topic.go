package p2p

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anonsend/inode/internal/config"
	"github.com/anonsend/inode/internal/mixing"
	"github.com/anonsend/inode/pkg/logging"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
)

// queueTopicName returns the GossipSub topic DSQueue advertisements ride,
// namespaced by network the same way the teacher's SwapTopic constant is
// namespaced, mirroring config.NetworkType's DHT-prefix split.
func queueTopicName(network config.NetworkType) string {
	return fmt.Sprintf("/anonsend/%s/dsq/1.0.0", network)
}

// wireDSQueue is the JSON wire shape of a DSQueue; mixing.DSQueue's fields
// are all exported, but Outpoint's [32]byte array marshals awkwardly, so a
// small adapter keeps the gossip payload human-debuggable (hex vin hash).
type wireDSQueue struct {
	VinHash   string `json:"vin_hash"`
	VinIndex  uint32 `json:"vin_index"`
	DenomMask uint8  `json:"denom_mask"`
	Time      int64  `json:"time"`
	Ready     bool   `json:"ready"`
	Sig       []byte `json:"sig"`
}

func toWire(q *mixing.DSQueue) wireDSQueue {
	return wireDSQueue{
		VinHash:   fmt.Sprintf("%x", q.Vin.Hash[:]),
		VinIndex:  q.Vin.Index,
		DenomMask: q.DenomMask,
		Time:      q.Time,
		Ready:     q.Ready,
		Sig:       q.Sig,
	}
}

func fromWire(w wireDSQueue) (*mixing.DSQueue, error) {
	var hash [32]byte
	n, err := fmt.Sscanf(w.VinHash, "%x", &hash)
	if err != nil || n != 1 {
		return nil, fmt.Errorf("queue_topic: malformed vin hash: %w", err)
	}
	return &mixing.DSQueue{
		Vin:       mixing.Outpoint{Hash: hash, Index: w.VinIndex},
		DenomMask: w.DenomMask,
		Time:      w.Time,
		Ready:     w.Ready,
		Sig:       w.Sig,
	}, nil
}

// QueueTopic wraps a pubsub.Topic carrying DSQueue gossip, mirroring the
// teacher's swap_handler.go Start()'s join/subscribe pattern.
type QueueTopic struct {
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	log   *logging.Logger
}

// JoinQueueTopic joins and subscribes to the DSQueue gossip topic.
func JoinQueueTopic(ps *pubsub.PubSub, network config.NetworkType, log *logging.Logger) (*QueueTopic, error) {
	if log == nil {
		log = logging.GetDefault().Component("p2p")
	}
	topic, err := ps.Join(queueTopicName(network))
	if err != nil {
		return nil, fmt.Errorf("queue_topic: join: %w", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		topic.Close()
		return nil, fmt.Errorf("queue_topic: subscribe: %w", err)
	}
	return &QueueTopic{topic: topic, sub: sub, log: log}, nil
}

// Publish relays a DSQueue to the topic (§4.2 relay(peers), implemented
// here as Broadcaster for DSQueue.Relay).
func (qt *QueueTopic) Publish(ctx context.Context, q *mixing.DSQueue) error {
	data, err := json.Marshal(toWire(q))
	if err != nil {
		return fmt.Errorf("queue_topic: marshal: %w", err)
	}
	return qt.topic.Publish(ctx, data)
}

// Broadcast implements mixing.Broadcaster, so a *QueueTopic can be passed
// directly to DSQueue.Relay.
func (qt *QueueTopic) Broadcast(msg interface{}) {
	q, ok := msg.(*mixing.DSQueue)
	if !ok {
		qt.log.Warnf("queue_topic: Broadcast called with non-DSQueue message")
		return
	}
	if err := qt.Publish(context.Background(), q); err != nil {
		qt.log.Errorf("queue_topic: publish failed: %v", err)
	}
}

// Loop delivers every incoming queue message to handle until ctx is
// cancelled, mirroring the teacher's pubsub read-loop pattern.
func (qt *QueueTopic) Loop(ctx context.Context, selfID string, handle func(fromPeer string, q *mixing.DSQueue)) {
	for {
		msg, err := qt.sub.Next(ctx)
		if err != nil {
			return // ctx cancelled or subscription closed
		}
		if msg.ReceivedFrom.String() == selfID {
			continue
		}
		var w wireDSQueue
		if err := json.Unmarshal(msg.Data, &w); err != nil {
			qt.log.Warnf("queue_topic: malformed message from %s: %v", msg.ReceivedFrom, err)
			continue
		}
		q, err := fromWire(w)
		if err != nil {
			qt.log.Warnf("queue_topic: %v", err)
			continue
		}
		handle(msg.ReceivedFrom.String(), q)
	}
}

// Close tears down the subscription and topic.
func (qt *QueueTopic) Close() {
	qt.sub.Cancel()
	qt.topic.Close()
}
