package relay

import (
	"encoding/json"
	"net/http"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/emrgen/docsync/internal/model"
	"github.com/emrgen/docsync/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const sendBufferSize = 256

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// Option configures a Relay.
type Option func(*Relay)

// WithoutAcks makes the relay store events without answering OK.
func WithoutAcks() Option {
	return func(r *Relay) {
		r.dropAcks = true
	}
}

// WithRejection makes the relay refuse events for which reject returns a non-empty reason.
func WithRejection(reject func(ev *model.Event) string) Option {
	return func(r *Relay) {
		r.reject = reject
	}
}

// Relay is an in-memory relay speaking the sync wire protocol.
// Every accepted event gets the next sequence number of the changes feed.
type Relay struct {
	mu       sync.Mutex
	log      []model.ChangeEntry
	seen     mapset.Set[string]
	conns    map[*relayConn]struct{}
	dropAcks bool
	reject   func(ev *model.Event) string
}

// New creates an empty relay. Serve it with any http server.
func New(opts ...Option) *Relay {
	r := &Relay{
		seen:  mapset.NewSet[string](),
		conns: make(map[*relayConn]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// DisconnectAll drops every client connection.
func (r *Relay) DisconnectAll() {
	r.mu.Lock()
	conns := make([]*relayConn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.conn.Close()
	}
}

// SetDropAcks toggles answering OK for published events.
func (r *Relay) SetDropAcks(drop bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropAcks = drop
}

// Inject stores ev as if another writer had published it.
func (r *Relay) Inject(ev *model.Event) int64 {
	seq, _ := r.store(ev)
	return seq
}

// Events returns the stored events in sequence order.
func (r *Relay) Events() []*model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := make([]*model.Event, len(r.log))
	for i, entry := range r.log {
		events[i] = entry.Event
	}
	return events
}

func (r *Relay) LastSeq() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.log))
}

// ConnCount returns the number of open client connections.
func (r *Relay) ConnCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		logrus.Errorf("relay: websocket upgrade failed: %v", err)
		return
	}

	c := &relayConn{
		relay:       r,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
		subs:        make(map[string][]model.Filter),
		changesSubs: make(map[string]model.ChangesQuery),
	}

	r.mu.Lock()
	r.conns[c] = struct{}{}
	r.mu.Unlock()

	go c.writeLoop()
	c.readLoop()

	r.mu.Lock()
	delete(r.conns, c)
	r.mu.Unlock()
	close(c.done)
	_ = conn.Close()
}

// store appends ev to the log and fans it out. It reports false for an event it already has.
func (r *Relay) store(ev *model.Event) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.seen.Add(ev.ID) {
		return 0, false
	}

	entry := model.ChangeEntry{Seq: int64(len(r.log)) + 1, Event: ev}
	r.log = append(r.log, entry)

	for c := range r.conns {
		c.broadcast(entry)
	}

	return entry.Seq, true
}

func (r *Relay) changesSince(query model.ChangesQuery) model.ChangesResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changesSinceLocked(query)
}

func (r *Relay) changesSinceLocked(query model.ChangesQuery) model.ChangesResult {
	result := model.ChangesResult{Changes: []model.ChangeEntry{}, LastSeq: int64(len(r.log))}
	for _, entry := range r.log {
		if entry.Seq <= query.Since || !query.Matches(entry.Event) {
			continue
		}
		if query.Limit > 0 && len(result.Changes) >= query.Limit {
			break
		}
		result.Changes = append(result.Changes, entry)
	}

	return result
}

func (r *Relay) matchingLocked(filters []model.Filter) []*model.Event {
	var events []*model.Event
	for _, entry := range r.log {
		if matchesAny(filters, entry.Event) {
			events = append(events, entry.Event)
		}
	}
	return events
}

func matchesAny(filters []model.Filter, ev *model.Event) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if f.Matches(ev) {
			return true
		}
	}
	return false
}

type relayConn struct {
	relay *Relay
	conn  *websocket.Conn
	send  chan []byte
	// done stops the write loop, stopped is closed once it has returned
	done    chan struct{}
	stopped chan struct{}

	// guarded by relay.mu
	subs        map[string][]model.Filter
	changesSubs map[string]model.ChangesQuery
}

func (c *relayConn) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		msg, err := protocol.ParseClientMessage(data)
		if err != nil {
			c.write(protocol.NoticeMessage{Message: err.Error()})
			continue
		}

		c.handle(msg)
	}
}

func (c *relayConn) writeLoop() {
	defer close(c.stopped)
	for {
		select {
		case data := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logrus.Debugf("relay: write failed: %v", err)
				_ = c.conn.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *relayConn) handle(msg protocol.Message) {
	r := c.relay

	switch m := msg.(type) {
	case protocol.PublishMessage:
		r.mu.Lock()
		dropAcks, reject := r.dropAcks, r.reject
		r.mu.Unlock()

		if reject != nil {
			if reason := reject(m.Event); reason != "" {
				if !dropAcks {
					c.write(protocol.OKMessage{EventID: m.Event.ID, Success: false, Message: reason})
				}
				return
			}
		}

		_, stored := r.store(m.Event)
		if dropAcks {
			return
		}
		ack := protocol.OKMessage{EventID: m.Event.ID, Success: true}
		if !stored {
			ack.Message = "duplicate: already have this event"
		}
		c.write(ack)
	case protocol.ReqMessage:
		// replay and registration happen under one lock so no event is missed or doubled
		r.mu.Lock()
		for _, ev := range r.matchingLocked(m.Filters) {
			c.write(protocol.EventMessage{SubscriptionID: m.SubscriptionID, Event: ev})
		}
		c.write(protocol.EOSEMessage{SubscriptionID: m.SubscriptionID})
		c.subs[m.SubscriptionID] = m.Filters
		r.mu.Unlock()
	case protocol.CloseMessage:
		r.mu.Lock()
		delete(c.subs, m.SubscriptionID)
		r.mu.Unlock()
	case protocol.ChangesRequest:
		c.write(protocol.ChangesMessage{Result: r.changesSince(m.Query)})
	case protocol.LastSeqRequest:
		c.write(protocol.LastSeqMessage{Seq: r.LastSeq()})
	case protocol.ChangesSubMessage:
		r.mu.Lock()
		result := r.changesSinceLocked(model.ChangesQuery{Since: m.Query.Since, Kinds: m.Query.Kinds, Authors: m.Query.Authors})
		for _, entry := range result.Changes {
			c.write(protocol.ChangesEventMessage{SubscriptionID: m.SubscriptionID, Entry: entry})
		}
		c.write(protocol.ChangesEOSEMessage{SubscriptionID: m.SubscriptionID, LastSeq: result.LastSeq})
		c.changesSubs[m.SubscriptionID] = m.Query
		r.mu.Unlock()
	case protocol.ChangesUnsubMessage:
		r.mu.Lock()
		delete(c.changesSubs, m.SubscriptionID)
		r.mu.Unlock()
	}
}

// broadcast runs with relay.mu held.
func (c *relayConn) broadcast(entry model.ChangeEntry) {
	for id, filters := range c.subs {
		if matchesAny(filters, entry.Event) {
			c.write(protocol.EventMessage{SubscriptionID: id, Event: entry.Event})
		}
	}
	for id, query := range c.changesSubs {
		if entry.Seq > query.Since && query.Matches(entry.Event) {
			c.write(protocol.ChangesEventMessage{SubscriptionID: id, Entry: entry})
		}
	}
}

func (c *relayConn) write(msg protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		logrus.Errorf("relay: failed to encode %s: %v", msg.Label(), err)
		return
	}

	// a slow reader holds back the relay instead of losing frames
	select {
	case c.send <- data:
	case <-c.stopped:
	}
}
