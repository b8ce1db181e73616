package progress

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/timmy/outreach/internal/logger"
)

// ErrClosed is returned by operations on a client after Close.
var ErrClosed = errors.New("progress client closed")

// State is the connection state of a Client.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateOffline
	StateClosed
)

var stateNames = [...]string{"idle", "connecting", "open", "reconnecting", "offline", "closed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Conn is the subset of *websocket.Conn the client uses.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

// DialFunc opens a connection to rawURL.
type DialFunc func(ctx context.Context, rawURL string) (Conn, error)

// Callback receives events for a subscribed topic.
type Callback func(Event)

// ClientOptions configures a Client.
type ClientOptions struct {
	URL         string
	BaseDelay   time.Duration
	MaxAttempts int
	Dial        DialFunc
	Logger      *logger.Logger
}

// Client is a multiplexed, reconnecting consumer of the progress channel.
// One Client owns at most one physical connection at a time.
type Client struct {
	id          string
	url         string
	baseDelay   time.Duration
	maxAttempts int
	dial        DialFunc
	log         *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	attempt   int
	gen       int
	conn      Conn
	timer     *time.Timer
	subs      map[string][]Callback
	observers []func(State)

	writeMu sync.Mutex
}

// NewClient creates an idle client. Nothing is dialled until Open.
func NewClient(opts ClientOptions) *Client {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Dial == nil {
		opts.Dial = dialWebsocket
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetDefault()
	}

	id := newClientID()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:          id,
		url:         opts.URL,
		baseDelay:   opts.BaseDelay,
		maxAttempts: opts.MaxAttempts,
		dial:        opts.Dial,
		log:         opts.Logger.WithField(logger.FieldClientID, id),
		ctx:         ctx,
		cancel:      cancel,
		subs:        make(map[string][]Callback),
	}
}

func newClientID() string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 9)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return fmt.Sprintf("client_%d_%s", time.Now().UnixMilli(), b)
}

func dialWebsocket(ctx context.Context, rawURL string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ID returns the client identifier sent to the server.
func (c *Client) ID() string {
	return c.id
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange registers an observer for state transitions.
// Observers run on the goroutine that caused the transition.
func (c *Client) OnStateChange(fn func(State)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// Open connects to the server. If the first dial fails the error is
// returned and reconnection continues in the background. Calling Open on
// an offline client resets the attempt counter.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return ErrClosed
	case StateConnecting, StateOpen, StateReconnecting:
		c.mu.Unlock()
		return nil
	}
	c.attempt = 0
	changed := c.setStateLocked(StateConnecting)
	c.mu.Unlock()
	if changed {
		c.notify(StateConnecting)
	}

	return c.connect(ctx)
}

// Close tears the connection down and stops reconnecting. A closed client
// cannot be reopened.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	c.setStateLocked(StateClosed)
	c.mu.Unlock()

	c.cancel()
	c.notify(StateClosed)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Subscribe registers cb for topic. When the connection is open and this
// is the first callback for topic, a subscribe intent is sent upstream.
func (c *Client) Subscribe(topic string, cb Callback) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	first := len(c.subs[topic]) == 0
	c.subs[topic] = append(c.subs[topic], cb)
	open := c.state == StateOpen
	c.mu.Unlock()

	if first && open {
		return c.send(Intent{Action: ActionSubscribe, Topic: topic})
	}
	return nil
}

// Unsubscribe drops every callback for topic and tells the server.
func (c *Client) Unsubscribe(topic string) error {
	c.mu.Lock()
	_, had := c.subs[topic]
	delete(c.subs, topic)
	open := c.state == StateOpen
	c.mu.Unlock()

	if had && open {
		return c.send(Intent{Action: ActionUnsubscribe, Topic: topic})
	}
	return nil
}

func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	conn, err := c.dial(ctx, c.dialURL())

	c.mu.Lock()
	if c.state == StateClosed || gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrClosed
	}
	if err != nil {
		changed, next := c.scheduleLocked(true)
		c.mu.Unlock()
		if changed {
			c.notify(next)
		}
		c.log.WithError(err).WithField(logger.FieldAttempt, c.Attempt()).Warn("Progress channel connection failed")
		return err
	}

	c.gen++
	gen = c.gen
	c.conn = conn
	c.attempt = 0
	changed := c.setStateLocked(StateOpen)
	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	c.mu.Unlock()

	if changed {
		c.notify(StateOpen)
	}
	for _, topic := range topics {
		if err := c.send(Intent{Action: ActionSubscribe, Topic: topic}); err != nil {
			c.log.WithError(err).WithField("topic", topic).Warn("Failed to re-announce subscription")
		}
	}

	go c.readLoop(conn, gen)
	return nil
}

// Attempt returns the number of consecutive failed dials since the last
// successful connection.
func (c *Client) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// scheduleLocked arms the single reconnect timer, or goes offline once
// maxAttempts consecutive dials have failed. The initial dial counts.
// Caller holds c.mu.
func (c *Client) scheduleLocked(dialFailed bool) (bool, State) {
	c.conn = nil
	if c.timer != nil {
		return false, c.state
	}
	if dialFailed {
		c.attempt++
	}
	if c.attempt >= c.maxAttempts {
		return c.setStateLocked(StateOffline), StateOffline
	}

	delay := c.baseDelay * time.Duration(c.attempt+1)
	c.timer = time.AfterFunc(delay, c.reconnect)
	return c.setStateLocked(StateReconnecting), StateReconnecting
}

func (c *Client) reconnect() {
	c.mu.Lock()
	c.timer = nil
	if c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	changed := c.setStateLocked(StateConnecting)
	c.mu.Unlock()
	if changed {
		c.notify(StateConnecting)
	}

	_ = c.connect(c.ctx)
}

func (c *Client) readLoop(conn Conn, gen int) {
	for {
		var evt Event
		if err := conn.ReadJSON(&evt); err != nil {
			c.connectionLost(gen, err)
			return
		}
		c.dispatch(evt)
	}
}

func (c *Client) connectionLost(gen int, err error) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateOpen {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	changed, next := c.scheduleLocked(false)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.log.WithError(err).Warn("Progress channel disconnected")
	if changed {
		c.notify(next)
	}
}

// dispatch runs the callbacks of the event's topic in registration order.
func (c *Client) dispatch(evt Event) {
	topic := evt.Topic()
	if topic == "" {
		return
	}

	c.mu.Lock()
	cbs := append([]Callback(nil), c.subs[topic]...)
	c.mu.Unlock()

	for _, cb := range cbs {
		cb(evt)
	}
}

func (c *Client) send(intent Intent) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(intent)
}

func (c *Client) setStateLocked(s State) bool {
	if c.state == s {
		return false
	}
	c.state = s
	return true
}

func (c *Client) notify(s State) {
	c.mu.Lock()
	observers := slices.Clone(c.observers)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(s)
	}
}

func (c *Client) dialURL() string {
	u, err := url.Parse(c.url)
	if err != nil {
		return c.url
	}
	q := u.Query()
	q.Set("client_id", c.id)
	u.RawQuery = q.Encode()
	return u.String()
}
