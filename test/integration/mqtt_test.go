// Package integration exercises the broker engine end-to-end over real TCP
// sockets using the paho MQTT client, covering exactly the literal
// scenarios in the core contract: basic pub/sub, QoS 1 acknowledgment,
// authentication rejection, connection capacity, duplicate client id
// eviction, and disconnect cleanup. Retained messages, wildcard matching,
// and QoS 2 are non-goals and are intentionally not exercised here.
package integration

import (
	"fmt"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/nullbyte-labs/mqttbroker/internal/broker"
	"github.com/nullbyte-labs/mqttbroker/internal/config"
)

var testPort = 18830

func nextPort() int {
	testPort++
	return testPort
}

func startTestBroker(t *testing.T, cfg config.Config) (addr string, cleanup func()) {
	t.Helper()
	return startTestBrokerWithUsers(t, cfg, nil)
}

func startTestBrokerWithUsers(t *testing.T, cfg config.Config, users config.Users) (addr string, cleanup func()) {
	t.Helper()
	cfg.SetDefaults()
	port := nextPort()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = port

	b := broker.New(cfg, users, nil, nil)
	ln, err := broker.Listen(b, cfg.Server.Host, cfg.Server.Port)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go ln.Serve()

	return fmt.Sprintf("tcp://127.0.0.1:%d", port), func() { ln.Close() }
}

func newPahoClient(t *testing.T, addr, clientID, username, password string) paho.Client {
	t.Helper()
	opts := paho.NewClientOptions().
		AddBroker(addr).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectTimeout(5 * time.Second)
	if username != "" {
		opts.SetUsername(username)
		opts.SetPassword(password)
	}
	return paho.NewClient(opts)
}

func connectExpecting(t *testing.T, client paho.Client, wantErr bool) {
	t.Helper()
	token := client.Connect()
	token.WaitTimeout(5 * time.Second)
	if wantErr && token.Error() == nil {
		t.Fatal("expected connect error, got none")
	}
	if !wantErr && token.Error() != nil {
		t.Fatalf("unexpected connect error: %v", token.Error())
	}
}

// Scenario 1: basic pub/sub.
func TestBasicPubSub(t *testing.T) {
	addr, cleanup := startTestBroker(t, config.Config{Auth: config.AuthConfig{AllowAnonymous: true}})
	defer cleanup()

	a := newPahoClient(t, addr, "A", "", "")
	connectExpecting(t, a, false)
	defer a.Disconnect(250)

	received := make(chan paho.Message, 1)
	subTok := a.Subscribe("sensors/temp", 0, func(c paho.Client, m paho.Message) {
		received <- m
	})
	subTok.WaitTimeout(5 * time.Second)
	if subTok.Error() != nil {
		t.Fatalf("subscribe: %v", subTok.Error())
	}

	b := newPahoClient(t, addr, "B", "", "")
	connectExpecting(t, b, false)
	defer b.Disconnect(250)

	pubTok := b.Publish("sensors/temp", 0, false, "22.5")
	pubTok.WaitTimeout(5 * time.Second)
	if pubTok.Error() != nil {
		t.Fatalf("publish: %v", pubTok.Error())
	}

	select {
	case msg := <-received:
		if string(msg.Payload()) != "22.5" {
			t.Fatalf("got payload %q, want 22.5", msg.Payload())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for PUBLISH")
	}
}

// Scenario 2: QoS 1 ack.
func TestQoS1Ack(t *testing.T) {
	addr, cleanup := startTestBroker(t, config.Config{Auth: config.AuthConfig{AllowAnonymous: true}})
	defer cleanup()

	a := newPahoClient(t, addr, "A", "", "")
	connectExpecting(t, a, false)
	defer a.Disconnect(250)

	received := make(chan paho.Message, 1)
	subTok := a.Subscribe("sensors/temp", 1, func(c paho.Client, m paho.Message) {
		received <- m
	})
	subTok.WaitTimeout(5 * time.Second)
	if subTok.Error() != nil {
		t.Fatalf("subscribe: %v", subTok.Error())
	}

	b := newPahoClient(t, addr, "B", "", "")
	connectExpecting(t, b, false)
	defer b.Disconnect(250)

	pubTok := b.Publish("sensors/temp", 1, false, "22.5")
	if !pubTok.WaitTimeout(5 * time.Second) {
		t.Fatal("timed out waiting for PUBACK")
	}
	if pubTok.Error() != nil {
		t.Fatalf("publish: %v", pubTok.Error())
	}

	select {
	case msg := <-received:
		if msg.Qos() != 1 {
			t.Fatalf("got QoS %d, want 1", msg.Qos())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for PUBLISH")
	}
}

// Scenario 3: auth reject.
func TestAuthReject(t *testing.T) {
	cfg := config.Config{Auth: config.AuthConfig{AllowAnonymous: false}}
	addr, cleanup := startTestBrokerWithUsers(t, cfg, config.Users{"alice": "s3cret"})
	defer cleanup()

	client := newPahoClient(t, addr, "dev-1", "alice", "wrong")
	connectExpecting(t, client, true)
}

// Scenario 4: capacity.
func TestCapacity(t *testing.T) {
	cfg := config.Config{
		Auth:   config.AuthConfig{AllowAnonymous: true},
		Limits: config.LimitsConfig{MaxConnections: 2, MaxKeepAliveSeconds: 60},
	}
	addr, cleanup := startTestBroker(t, cfg)
	defer cleanup()

	c1 := newPahoClient(t, addr, "C1", "", "")
	connectExpecting(t, c1, false)
	defer c1.Disconnect(250)

	c2 := newPahoClient(t, addr, "C2", "", "")
	connectExpecting(t, c2, false)
	defer c2.Disconnect(250)

	c3 := newPahoClient(t, addr, "C3", "", "")
	connectExpecting(t, c3, true)
}

// Scenario 5: duplicate client id evicts the prior connection.
func TestDuplicateClientIDEviction(t *testing.T) {
	addr, cleanup := startTestBroker(t, config.Config{Auth: config.AuthConfig{AllowAnonymous: true}})
	defer cleanup()

	first := newPahoClient(t, addr, "dev-1", "", "")
	connectExpecting(t, first, false)

	subTok := first.Subscribe("a/b", 0, nil)
	subTok.WaitTimeout(5 * time.Second)

	second := newPahoClient(t, addr, "dev-1", "", "")
	connectExpecting(t, second, false)
	defer second.Disconnect(250)

	deadline := time.After(5 * time.Second)
	for first.IsConnected() {
		select {
		case <-deadline:
			t.Fatal("expected first connection to be disconnected after eviction")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Scenario 6: disconnect cleanup — publishing to a topic after its only
// subscriber cleanly disconnects delivers to nobody (no hang, no crash).
func TestDisconnectCleanup(t *testing.T) {
	addr, cleanup := startTestBroker(t, config.Config{Auth: config.AuthConfig{AllowAnonymous: true}})
	defer cleanup()

	c1 := newPahoClient(t, addr, "C1", "", "")
	connectExpecting(t, c1, false)

	for _, topic := range []string{"a", "b", "c"} {
		tok := c1.Subscribe(topic, 0, nil)
		tok.WaitTimeout(5 * time.Second)
	}
	c1.Disconnect(250)
	time.Sleep(100 * time.Millisecond)

	other := newPahoClient(t, addr, "other", "", "")
	connectExpecting(t, other, false)
	defer other.Disconnect(250)

	pubTok := other.Publish("a", 0, false, "hello")
	pubTok.WaitTimeout(5 * time.Second)
	if pubTok.Error() != nil {
		t.Fatalf("publish after subscriber disconnect should not error: %v", pubTok.Error())
	}
}
