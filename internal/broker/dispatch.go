package broker

import "github.com/nullbyte-labs/mqttbroker/internal/mqtt"

// topicMatches reports whether a subscription topic matches a publish
// topic. The baseline is string equality: SUBSCRIBE still accepts filters
// containing '+' and '#', but here they are treated as literal topic names,
// not wildcards. Swapping in a real filter-tree matcher would only touch
// this function; no other contract in this package depends on equality.
func topicMatches(subscriptionTopic, publishTopic string) bool {
	return subscriptionTopic == publishTopic
}

// Publish runs the fan-out algorithm from spec §4.5: collect every
// registered, connected subscriber whose topic matches, excluding the
// sender, and enqueue one encoded PUBLISH packet onto each subscriber's
// outbound sink. It snapshots candidates under the broker's lock and
// performs no socket I/O while holding it.
func (b *Broker) Publish(senderID, topic string, payload []byte, qos byte) {
	if qos > 1 {
		qos = 1
	}

	b.mu.Lock()
	seen := make(map[string]struct{})
	var targets []*ClientRecord
	for t, ids := range b.index {
		if !topicMatches(t, topic) {
			continue
		}
		for _, id := range ids {
			if id == senderID {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if rec, ok := b.clients[id]; ok && rec.Connected {
				targets = append(targets, rec)
			}
		}
	}
	b.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	pkt := &mqtt.PublishPacket{QoS: qos, Topic: topic, Payload: payload}
	if qos > 0 {
		pkt.HasID = true
		pkt.PacketID = 1 // constant for all QoS-1 fan-out; no per-connection id allocation
	}
	data, err := pkt.Encode()
	if err != nil {
		b.logger.Printf("broker: failed to encode PUBLISH for dispatch on %s: %v", topic, err)
		return
	}

	for _, rec := range targets {
		select {
		case rec.outbound <- data:
			b.metrics.PacketSent(mqtt.PUBLISH.String(), len(data))
		default:
			b.logger.Printf("broker: dispatch to %s on %s failed, outbound queue full", rec.ClientID, topic)
			b.markDisconnected(rec)
			b.metrics.DispatchFailed()
		}
	}
}

// InjectPublish routes a message as if published by senderID, without
// requiring a live connection for the sender. Used by the admin surface.
func (b *Broker) InjectPublish(senderID, topic string, payload []byte, qos byte) {
	b.Publish(senderID, topic, payload, qos)
}

func (b *Broker) markDisconnected(rec *ClientRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.markConnectedFalseLocked(rec)
}
