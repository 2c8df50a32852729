package broker

import (
	"bufio"
	"bytes"
	"io"
	"net"

	"github.com/nullbyte-labs/mqttbroker/internal/mqtt"
)

// connState is the per-connection state machine from spec §4.3.
type connState int

const (
	stateAwaitConnect connState = iota
	stateConnected
	stateClosed
)

// HandleConnection drives one accepted TCP connection through
// AwaitConnect -> Connected -> Closed. It blocks until the connection
// closes for any reason and runs the Closed-transition cleanup exactly
// once before returning, regardless of which path triggered the close.
func (b *Broker) HandleConnection(conn net.Conn) {
	reader := bufio.NewReader(conn)
	state := stateAwaitConnect

	var rec *ClientRecord
	var stopWriter chan struct{}

	defer func() {
		if stopWriter != nil {
			close(stopWriter)
		}
		if rec != nil {
			b.Disconnect(rec)
		}
		conn.Close()
	}()

	for state != stateClosed {
		header, err := mqtt.ReadFixedHeader(reader)
		if err != nil {
			if rec != nil {
				b.logger.Printf("broker: %s closed: %v", rec.ClientID, err)
			} else {
				b.logger.Printf("broker: connection from %s closed: %v", conn.RemoteAddr(), err)
			}
			return
		}

		body := make([]byte, header.RemainingLen)
		if header.RemainingLen > 0 {
			if _, err := io.ReadFull(reader, body); err != nil {
				b.logger.Printf("broker: connection from %s closed mid-packet: %v", conn.RemoteAddr(), err)
				return
			}
		}
		lenField, _ := mqtt.EncodeRemainingLength(header.RemainingLen)
		b.metrics.PacketReceived(header.PacketType.String(), 1+len(lenField)+header.RemainingLen)

		switch state {
		case stateAwaitConnect:
			if header.PacketType != mqtt.CONNECT {
				b.logger.Printf("broker: protocol violation from %s: expected CONNECT, got %s", conn.RemoteAddr(), header.PacketType)
				return
			}
			newRec, stop, ok := b.handleConnect(conn, body)
			if !ok {
				return
			}
			rec, stopWriter = newRec, stop
			state = stateConnected

		case stateConnected:
			switch header.PacketType {
			case mqtt.CONNECT:
				b.logger.Printf("broker: protocol violation from %s: duplicate CONNECT", rec.ClientID)
				return
			case mqtt.PUBLISH:
				if !b.handlePublish(rec, header, body) {
					return
				}
			case mqtt.SUBSCRIBE:
				if !b.handleSubscribe(rec, header.RemainingLen, body) {
					return
				}
			case mqtt.UNSUBSCRIBE:
				if !b.handleUnsubscribe(rec, header.RemainingLen, body) {
					return
				}
			case mqtt.PINGREQ:
				b.enqueueSelf(rec, &mqtt.PingRespPacket{})
			case mqtt.DISCONNECT:
				b.logger.Printf("broker: %s disconnected gracefully", rec.ClientID)
				return
			default:
				b.logger.Printf("broker: protocol violation from %s: unexpected %s", rec.ClientID, header.PacketType)
				return
			}
		}
	}
}

// handleConnect decodes and applies a CONNECT packet. On acceptance it
// installs the client record, starts the writer goroutine, and enqueues the
// CONNACK as that connection's first outbound packet. On rejection it
// writes the CONNACK directly (there is no writer goroutine yet) and
// reports failure so the caller closes the socket.
func (b *Broker) handleConnect(conn net.Conn, body []byte) (*ClientRecord, chan struct{}, bool) {
	pkt, err := mqtt.DecodeConnectPacket(bytes.NewReader(body))
	if err != nil {
		b.logger.Printf("broker: malformed CONNECT from %s: %v", conn.RemoteAddr(), err)
		return nil, nil, false
	}

	password := ""
	if pkt.HasPassword {
		password = string(pkt.Password)
	}
	result := b.tryConnect(pkt.ClientID, pkt.Username, pkt.HasUsername, password, pkt.HasPassword, conn)

	if result.evicted != nil {
		b.logger.Printf("broker: evicting prior connection for %s", pkt.ClientID)
		result.evicted.Close()
	}

	connack := &mqtt.ConnAckPacket{SessionPresent: false, ReturnCode: result.code}
	data, err := connack.Encode()
	if err != nil {
		b.logger.Printf("broker: failed to encode CONNACK: %v", err)
		return nil, nil, false
	}

	if result.code != mqtt.Accepted {
		conn.Write(data)
		b.logger.Printf("broker: rejected CONNECT from %s: code %d", pkt.ClientID, result.code)
		return nil, nil, false
	}

	b.metrics.ClientConnected()
	b.logger.Printf("broker: %s connected", pkt.ClientID)

	stop := make(chan struct{})
	go b.runWriter(conn, result.rec, stop)
	result.rec.outbound <- data
	b.metrics.PacketSent(mqtt.CONNACK.String(), len(data))
	return result.rec, stop, true
}

// handlePublish decodes and applies a PUBLISH packet, returning false if a
// malformed body should close the connection.
func (b *Broker) handlePublish(rec *ClientRecord, header *mqtt.FixedHeader, body []byte) bool {
	pkt, err := mqtt.DecodePublishPacket(bytes.NewReader(body), header)
	if err != nil {
		b.logger.Printf("broker: malformed PUBLISH from %s: %v", rec.ClientID, err)
		return false
	}

	b.Publish(rec.ClientID, pkt.Topic, pkt.Payload, pkt.QoS)

	if pkt.QoS == 1 {
		b.enqueueSelf(rec, &mqtt.PubAckPacket{PacketID: pkt.PacketID})
	}
	return true
}

// handleSubscribe decodes and applies a SUBSCRIBE packet.
func (b *Broker) handleSubscribe(rec *ClientRecord, remainingLen int, body []byte) bool {
	pkt, err := mqtt.DecodeSubscribePacket(bytes.NewReader(body), remainingLen)
	if err != nil {
		b.logger.Printf("broker: malformed SUBSCRIBE from %s: %v", rec.ClientID, err)
		return false
	}
	granted := b.Subscribe(rec, pkt.Filters)
	b.enqueueSelf(rec, &mqtt.SubAckPacket{PacketID: pkt.PacketID, GrantedQoS: granted})
	return true
}

// handleUnsubscribe decodes and applies an UNSUBSCRIBE packet.
func (b *Broker) handleUnsubscribe(rec *ClientRecord, remainingLen int, body []byte) bool {
	pkt, err := mqtt.DecodeUnsubscribePacket(bytes.NewReader(body), remainingLen)
	if err != nil {
		b.logger.Printf("broker: malformed UNSUBSCRIBE from %s: %v", rec.ClientID, err)
		return false
	}
	b.Unsubscribe(rec, pkt.Topics)
	b.enqueueSelf(rec, &mqtt.UnsubAckPacket{PacketID: pkt.PacketID})
	return true
}

// enqueueSelf encodes and enqueues one of the handler's own reply packets
// onto its connection's outbound sink, the same path the dispatcher uses,
// so neither ever contends directly on the socket (spec §9). A full queue
// is treated the same as any other delivery failure.
func (b *Broker) enqueueSelf(rec *ClientRecord, pkt mqtt.Packet) {
	data, err := pkt.Encode()
	if err != nil {
		b.logger.Printf("broker: failed to encode %s for %s: %v", pkt.Type(), rec.ClientID, err)
		return
	}
	select {
	case rec.outbound <- data:
		b.metrics.PacketSent(pkt.Type().String(), len(data))
	default:
		b.logger.Printf("broker: outbound queue full for %s, dropping %s", rec.ClientID, pkt.Type())
		b.markDisconnected(rec)
	}
}

// runWriter drains rec's outbound sink to the socket until stop is closed
// or a write fails. It is the only goroutine that ever writes to conn.
func (b *Broker) runWriter(conn net.Conn, rec *ClientRecord, stop <-chan struct{}) {
	for {
		select {
		case data := <-rec.outbound:
			if _, err := conn.Write(data); err != nil {
				b.logger.Printf("broker: write to %s failed: %v", rec.ClientID, err)
				b.markDisconnected(rec)
				return
			}
		case <-stop:
			return
		}
	}
}
