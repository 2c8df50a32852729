// Package broker implements the broker engine: the per-connection MQTT
// state machine, the subscription index, the client registry, and the
// publish dispatcher, all guarded by one shared exclusion boundary.
package broker

import (
	"log"
	"net"
	"sync"

	"github.com/nullbyte-labs/mqttbroker/internal/config"
	"github.com/nullbyte-labs/mqttbroker/internal/metrics"
	"github.com/nullbyte-labs/mqttbroker/internal/mqtt"
)

// outboundCapacity bounds each client's outbound packet queue. A full queue
// is treated as a delivery failure, not as backpressure on the sender.
const outboundCapacity = 64

// ClientRecord is the registry's view of one connected client. Every field
// except Connected and membership in a Broker's maps is owned exclusively
// by the connection handler that created it.
type ClientRecord struct {
	ClientID      string
	Username      string
	HasUsername   bool
	Connected     bool
	Subscriptions map[string]struct{}

	conn     net.Conn
	outbound chan []byte
}

// ClientInfo is the read-only snapshot returned by ListClients.
type ClientInfo struct {
	Username      string
	HasUsername   bool
	Connected     bool
	Subscriptions []string
}

// Broker is the shared mutable state described in spec §5: subscription
// index, client registry, configuration, and user directory, all behind a
// single mutex. No method here ever blocks on socket I/O while holding it.
type Broker struct {
	mu sync.Mutex

	cfg   config.Config
	users config.Users

	clients map[string]*ClientRecord
	index   map[string][]string // topic -> ordered client ids, no duplicates

	metrics *metrics.Collectors
	logger  *log.Logger
}

// New constructs a Broker seeded with the given configuration and user
// directory. m may be nil (metrics become no-ops); logger may be nil (a
// package-default logger writing to stderr is used).
func New(cfg config.Config, users config.Users, m *metrics.Collectors, logger *log.Logger) *Broker {
	if users == nil {
		users = config.Users{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Broker{
		cfg:     cfg,
		users:   config.CloneUsers(users),
		clients: make(map[string]*ClientRecord),
		index:   make(map[string][]string),
		metrics: m,
		logger:  logger,
	}
}

// GetConfig returns a copy of the current configuration.
func (b *Broker) GetConfig() config.Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// UpdateConfig replaces the configuration record. Per spec §3, changes to
// Host/Port do not re-bind the listener; the caller is responsible for
// restarting it if that is desired.
func (b *Broker) UpdateConfig(cfg config.Config) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg = cfg
}

// ListUsers returns every username in the directory, in no particular order.
func (b *Broker) ListUsers() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.users))
	for u := range b.users {
		out = append(out, u)
	}
	return out
}

// AddUser inserts or overwrites a username/password entry.
func (b *Broker) AddUser(username, password string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users[username] = password
}

// RemoveUser deletes a username from the directory. It returns
// ErrUserNotFound if the username was not present.
func (b *Broker) RemoveUser(username string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.users[username]; !ok {
		return ErrUserNotFound
	}
	delete(b.users, username)
	return nil
}

// ListClients snapshots the registry for introspection.
func (b *Broker) ListClients() map[string]ClientInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]ClientInfo, len(b.clients))
	for id, rec := range b.clients {
		subs := make([]string, 0, len(rec.Subscriptions))
		for t := range rec.Subscriptions {
			subs = append(subs, t)
		}
		out[id] = ClientInfo{
			Username:      rec.Username,
			HasUsername:   rec.HasUsername,
			Connected:     rec.Connected,
			Subscriptions: subs,
		}
	}
	return out
}

// ListTopics snapshots the subscription index for introspection.
func (b *Broker) ListTopics() map[string][]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string][]string, len(b.index))
	for t, ids := range b.index {
		cp := make([]string, len(ids))
		copy(cp, ids)
		out[t] = cp
	}
	return out
}

// connectResult is returned by tryConnect to the connection handler: the
// CONNACK return code to send, the installed record on acceptance, and the
// socket of any evicted prior connection that must now be closed.
type connectResult struct {
	code    byte
	rec     *ClientRecord
	evicted net.Conn
}

// tryConnect applies the CONNECT admission algorithm from spec §4.3 under
// the broker's single exclusion boundary. On acceptance, any existing
// client with the same id is evicted (its liveness cleared and its
// identifiers purged from the index) before the new record is installed.
// The evicted socket is returned for the caller to close after the lock is
// released, since socket I/O must never happen while the lock is held.
func (b *Broker) tryConnect(clientID, username string, hasUsername bool, password string, hasPassword bool, conn net.Conn) connectResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.clients) >= b.cfg.Limits.MaxConnections {
		return connectResult{code: mqtt.RefusedServerUnavailable}
	}
	if !hasUsername {
		if !b.cfg.Auth.AllowAnonymous {
			return connectResult{code: mqtt.RefusedNotAuthorized}
		}
	} else {
		stored, ok := b.users[username]
		if !ok || stored != password {
			return connectResult{code: mqtt.RefusedNotAuthorized}
		}
	}

	var evictedConn net.Conn
	if old, ok := b.clients[clientID]; ok {
		b.markConnectedFalseLocked(old)
		evictedConn = old.conn
		b.purgeFromIndexLocked(clientID)
		delete(b.clients, clientID)
	}

	rec := &ClientRecord{
		ClientID:      clientID,
		Username:      username,
		HasUsername:   hasUsername,
		Connected:     true,
		Subscriptions: make(map[string]struct{}),
		conn:          conn,
		outbound:      make(chan []byte, outboundCapacity),
	}
	b.clients[clientID] = rec
	return connectResult{code: mqtt.Accepted, rec: rec, evicted: evictedConn}
}

// purgeFromIndexLocked removes clientID from every topic list, dropping any
// topic whose list becomes empty. Caller must hold b.mu.
func (b *Broker) purgeFromIndexLocked(clientID string) {
	for topic, ids := range b.index {
		for i, id := range ids {
			if id == clientID {
				ids = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		if len(ids) == 0 {
			delete(b.index, topic)
		} else {
			b.index[topic] = ids
		}
	}
}

// addSubscriptionLocked appends clientID to index[topic] if not already
// present, and marks topic as subscribed on rec. Caller must hold b.mu.
func (b *Broker) addSubscriptionLocked(rec *ClientRecord, topic string) {
	rec.Subscriptions[topic] = struct{}{}
	for _, id := range b.index[topic] {
		if id == rec.ClientID {
			return
		}
	}
	b.index[topic] = append(b.index[topic], rec.ClientID)
}

// removeSubscriptionLocked is the inverse of addSubscriptionLocked.
func (b *Broker) removeSubscriptionLocked(rec *ClientRecord, topic string) {
	delete(rec.Subscriptions, topic)
	ids := b.index[topic]
	for i, id := range ids {
		if id == rec.ClientID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(b.index, topic)
	} else {
		b.index[topic] = ids
	}
}

// Subscribe applies a SUBSCRIBE packet's filters, returning the granted QoS
// for each filter in the same order.
func (b *Broker) Subscribe(rec *ClientRecord, filters []mqtt.TopicFilter) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	granted := make([]byte, len(filters))
	for i, f := range filters {
		b.addSubscriptionLocked(rec, f.Topic)
		granted[i] = f.RequestedQoS
		if granted[i] > 1 {
			granted[i] = 1
		}
	}
	b.metrics.SetSubscriptionsActive(b.countSubscriptionsLocked())
	return granted
}

// Unsubscribe removes each listed topic from rec's subscriptions.
func (b *Broker) Unsubscribe(rec *ClientRecord, topics []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		b.removeSubscriptionLocked(rec, t)
	}
	b.metrics.SetSubscriptionsActive(b.countSubscriptionsLocked())
}

func (b *Broker) countSubscriptionsLocked() int {
	n := 0
	for _, ids := range b.index {
		n += len(ids)
	}
	return n
}

// Disconnect runs the Closed-transition cleanup from spec §4.3: clear
// liveness, purge the index, remove the registry entry. It is idempotent
// and safe to call from both the graceful DISCONNECT path and any abrupt
// termination path. The index purge and registry removal apply only while
// rec is still the registered record for its client id; an evicted record
// was already purged by tryConnect, and its id may now belong to a newer
// connection.
func (b *Broker) Disconnect(rec *ClientRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.markConnectedFalseLocked(rec)
	if current, ok := b.clients[rec.ClientID]; ok && current == rec {
		b.purgeFromIndexLocked(rec.ClientID)
		delete(b.clients, rec.ClientID)
	}
	b.metrics.SetSubscriptionsActive(b.countSubscriptionsLocked())
}

// markConnectedFalseLocked clears a record's liveness flag and reports the
// disconnect to metrics exactly once, regardless of which path (eviction,
// graceful disconnect, or dispatch failure) observes it first. Caller must
// hold b.mu.
func (b *Broker) markConnectedFalseLocked(rec *ClientRecord) {
	if rec.Connected {
		rec.Connected = false
		b.metrics.ClientDisconnected()
	}
}
