package protocol

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/emrgen/docsync/internal/model"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// State is the connection state of a Client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Signer turns event templates into signed envelopes.
type Signer interface {
	PublicKey() string
	Sign(ctx context.Context, tmpl model.EventTemplate) (*model.Event, error)
}

// Client speaks the relay protocol over a single websocket connection.
// Reconnecting is left to the caller; live subscriptions are re-issued on every Connect.
//
// Handlers run on the read loop. They must not wait on requests of the same client.
type Client struct {
	url      string
	signer   Signer
	settings *Settings

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	listeners []func(State)

	subMu       sync.Mutex
	subs        map[string]*Subscription
	changesSubs map[string]*Subscription

	pendMu  sync.Mutex
	pending pendingTable
}

// NewClient creates a disconnected client. signer may be nil for a read-only client.
func NewClient(url string, signer Signer, settings *Settings) *Client {
	if settings == nil {
		settings = DefaultSettings()
	}

	return &Client{
		url:         url,
		signer:      signer,
		settings:    settings,
		subs:        make(map[string]*Subscription),
		changesSubs: make(map[string]*Subscription),
		pending:     newPendingTable(),
	}
}

func (c *Client) URL() string {
	return c.url
}

// PublicKey returns the key of the configured signer, or "" when there is none.
func (c *Client) PublicKey() string {
	if c.signer == nil {
		return ""
	}
	return c.signer.PublicKey()
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange registers fn to be called after every state transition.
func (c *Client) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Connect dials the relay and re-issues every live subscription.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.mu.Unlock()
	c.emitState(StateConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: c.settings.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.emitState(StateDisconnected)
		logrus.Errorf("failed to connect to relay %s: %v", c.url, err)
		return err
	}

	send := make(chan []byte, c.settings.SendBufferSize)
	done := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.send = send
	c.done = done
	c.state = StateConnected
	c.mu.Unlock()

	go c.writeLoop(conn, send, done)
	go c.readLoop(conn)

	logrus.Infof("connected to relay %s", c.url)
	c.emitState(StateConnected)
	c.reissue()

	return nil
}

// Close drops the connection. Pending requests fail with ErrConnectionClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.settings.WriteTimeout))
	c.teardown(conn, nil)

	return nil
}

// Subscribe registers a live subscription. It is sent immediately when connected
// and re-issued on every later Connect.
func (c *Client) Subscribe(filters []model.Filter, handler SubscriptionHandler) *Subscription {
	sub := &Subscription{
		ID:      uuid.New().String(),
		client:  c,
		filters: filters,
		handler: handler,
	}

	c.subMu.Lock()
	c.subs[sub.ID] = sub
	c.subMu.Unlock()

	if c.State() == StateConnected {
		if err := c.enqueue(sub.request()); err != nil {
			logrus.Warnf("failed to send subscription %s: %v", sub.ID, err)
		}
	}

	return sub
}

// SubscribeChanges registers a continuous changes subscription starting after query.Since.
func (c *Client) SubscribeChanges(query model.ChangesQuery, handler ChangesHandler) *Subscription {
	sub := &Subscription{
		ID:             uuid.New().String(),
		client:         c,
		changes:        true,
		query:          query,
		changesHandler: handler,
	}

	c.subMu.Lock()
	c.changesSubs[sub.ID] = sub
	c.subMu.Unlock()

	if c.State() == StateConnected {
		if err := c.enqueue(sub.request()); err != nil {
			logrus.Warnf("failed to send changes subscription %s: %v", sub.ID, err)
		}
	}

	return sub
}

// Publish signs tmpl, sends it and waits for the relay's acknowledgement.
func (c *Client) Publish(ctx context.Context, tmpl model.EventTemplate) (*model.Event, error) {
	if c.signer == nil {
		return nil, ErrNoIdentity
	}
	if c.State() != StateConnected {
		return nil, ErrNotConnected
	}

	ev, err := c.signer.Sign(ctx, tmpl)
	if err != nil {
		return nil, err
	}

	ch := make(chan result[OKMessage], 1)
	c.pendMu.Lock()
	if _, ok := c.pending.publishes[ev.ID]; ok {
		c.pendMu.Unlock()
		return nil, ErrRequestPending
	}
	c.pending.publishes[ev.ID] = ch
	c.pendMu.Unlock()

	remove := func() bool {
		c.pendMu.Lock()
		defer c.pendMu.Unlock()
		if c.pending.publishes[ev.ID] != ch {
			return false
		}
		delete(c.pending.publishes, ev.ID)
		return true
	}

	if err := c.enqueue(PublishMessage{Event: ev}); err != nil {
		remove()
		return nil, err
	}

	ack, err := await(ctx, c.settings.PublishTimeout, ch, remove)
	if err != nil {
		return nil, err
	}
	if !ack.Success {
		return nil, &PublishError{EventID: ev.ID, Message: ack.Message}
	}

	return ev, nil
}

// QueryChanges asks the relay for the changes matching query.
func (c *Client) QueryChanges(ctx context.Context, query model.ChangesQuery) (*model.ChangesResult, error) {
	if c.State() != StateConnected {
		return nil, ErrNotConnected
	}

	ch := make(chan result[model.ChangesResult], 1)
	c.pendMu.Lock()
	if c.pending.changes != nil {
		c.pendMu.Unlock()
		return nil, ErrRequestPending
	}
	c.pending.changes = ch
	c.pendMu.Unlock()

	remove := func() bool {
		c.pendMu.Lock()
		defer c.pendMu.Unlock()
		if c.pending.changes != ch {
			return false
		}
		c.pending.changes = nil
		return true
	}

	if err := c.enqueue(ChangesRequest{Query: query}); err != nil {
		remove()
		return nil, err
	}

	res, err := await(ctx, c.settings.ChangesTimeout, ch, remove)
	if err != nil {
		return nil, err
	}

	return &res, nil
}

// LastSeq asks the relay for its highest sequence number.
func (c *Client) LastSeq(ctx context.Context) (int64, error) {
	if c.State() != StateConnected {
		return 0, ErrNotConnected
	}

	ch := make(chan result[int64], 1)
	c.pendMu.Lock()
	if c.pending.lastSeq != nil {
		c.pendMu.Unlock()
		return 0, ErrRequestPending
	}
	c.pending.lastSeq = ch
	c.pendMu.Unlock()

	remove := func() bool {
		c.pendMu.Lock()
		defer c.pendMu.Unlock()
		if c.pending.lastSeq != ch {
			return false
		}
		c.pending.lastSeq = nil
		return true
	}

	if err := c.enqueue(LastSeqRequest{}); err != nil {
		remove()
		return 0, err
	}

	return await(ctx, c.settings.LastSeqTimeout, ch, remove)
}

func (c *Client) enqueue(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	send, done := c.send, c.done
	c.mu.Unlock()

	select {
	case send <- data:
		return nil
	case <-done:
		return ErrConnectionClosed
	}
}

func (c *Client) writeLoop(conn *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	for {
		select {
		case data := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.teardown(conn, err)
				return
			}
		case <-done:
			return
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.teardown(conn, err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	msg, err := ParseRelayMessage(data)
	if err != nil {
		logrus.Warnf("dropping relay message: %v", err)
		return
	}

	switch m := msg.(type) {
	case EventMessage:
		if sub := c.lookup(c.subs, m.SubscriptionID); sub != nil && sub.handler.OnEvent != nil {
			sub.handler.OnEvent(m.Event)
		}
	case EOSEMessage:
		if sub := c.lookup(c.subs, m.SubscriptionID); sub != nil {
			sub.endOfStored(0)
		}
	case ClosedMessage:
		logrus.Warnf("relay closed subscription %s: %s", m.SubscriptionID, m.Message)
		c.subMu.Lock()
		delete(c.subs, m.SubscriptionID)
		delete(c.changesSubs, m.SubscriptionID)
		c.subMu.Unlock()
	case NoticeMessage:
		logrus.Infof("relay notice: %s", m.Message)
	case OKMessage:
		c.pendMu.Lock()
		if ch, ok := c.pending.publishes[m.EventID]; ok {
			delete(c.pending.publishes, m.EventID)
			ch <- result[OKMessage]{value: m}
		}
		c.pendMu.Unlock()
	case ChangesMessage:
		c.pendMu.Lock()
		if ch := c.pending.changes; ch != nil {
			c.pending.changes = nil
			ch <- result[model.ChangesResult]{value: m.Result}
		}
		c.pendMu.Unlock()
	case LastSeqMessage:
		c.pendMu.Lock()
		if ch := c.pending.lastSeq; ch != nil {
			c.pending.lastSeq = nil
			ch <- result[int64]{value: m.Seq}
		}
		c.pendMu.Unlock()
	case ChangesEventMessage:
		if sub := c.lookup(c.changesSubs, m.SubscriptionID); sub != nil && sub.changesHandler.OnChange != nil {
			sub.changesHandler.OnChange(m.Entry)
		}
	case ChangesEOSEMessage:
		if sub := c.lookup(c.changesSubs, m.SubscriptionID); sub != nil {
			sub.endOfStored(m.LastSeq)
		}
	default:
		logrus.Debugf("ignoring relay message %s", msg.Label())
	}
}

func (c *Client) lookup(table map[string]*Subscription, id string) *Subscription {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return table[id]
}

func (c *Client) reissue() {
	c.subMu.Lock()
	subs := make([]*Subscription, 0, len(c.subs)+len(c.changesSubs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	for _, sub := range c.changesSubs {
		subs = append(subs, sub)
	}
	c.subMu.Unlock()

	for _, sub := range subs {
		if err := c.enqueue(sub.request()); err != nil {
			logrus.Warnf("failed to re-issue subscription %s: %v", sub.ID, err)
			return
		}
	}
}

func (c *Client) unsubscribe(sub *Subscription) {
	c.subMu.Lock()
	var ok bool
	if sub.changes {
		_, ok = c.changesSubs[sub.ID]
		delete(c.changesSubs, sub.ID)
	} else {
		_, ok = c.subs[sub.ID]
		delete(c.subs, sub.ID)
	}
	c.subMu.Unlock()

	if !ok || c.State() != StateConnected {
		return
	}

	var msg Message = CloseMessage{SubscriptionID: sub.ID}
	if sub.changes {
		msg = ChangesUnsubMessage{SubscriptionID: sub.ID}
	}
	if err := c.enqueue(msg); err != nil {
		logrus.Debugf("failed to notify relay of unsubscribe %s: %v", sub.ID, err)
	}
}

// teardown releases conn if it is still the active connection.
func (c *Client) teardown(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = StateDisconnected
	close(c.done)
	c.mu.Unlock()

	_ = conn.Close()
	if cause != nil && !websocket.IsCloseError(cause, websocket.CloseNormalClosure) {
		logrus.Errorf("relay connection %s lost: %v", c.url, cause)
	} else {
		logrus.Infof("disconnected from relay %s", c.url)
	}

	c.failPending(ErrConnectionClosed)
	c.emitState(StateDisconnected)
}

func (c *Client) failPending(err error) {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()

	for id, ch := range c.pending.publishes {
		delete(c.pending.publishes, id)
		ch <- result[OKMessage]{err: err}
	}
	if ch := c.pending.changes; ch != nil {
		c.pending.changes = nil
		ch <- result[model.ChangesResult]{err: err}
	}
	if ch := c.pending.lastSeq; ch != nil {
		c.pending.lastSeq = nil
		ch <- result[int64]{err: err}
	}
}

func (c *Client) emitState(state State) {
	c.mu.Lock()
	listeners := make([]func(State), len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
}
