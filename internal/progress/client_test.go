package progress

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/timmy/outreach/internal/logger"
)

type fakeConn struct {
	incoming chan Event
	closed   chan struct{}
	once     sync.Once

	mu      sync.Mutex
	written []Intent
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan Event, 16), closed: make(chan struct{})}
}

func (f *fakeConn) ReadJSON(v interface{}) error {
	select {
	case evt := <-f.incoming:
		*(v.(*Event)) = evt
		return nil
	case <-f.closed:
		return errors.New("connection closed")
	}
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, v.(Intent))
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) intents() []Intent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Intent(nil), f.written...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestClientDispatchesInRegistrationOrder(t *testing.T) {
	conn := newFakeConn()
	c := NewClient(ClientOptions{
		URL:    "ws://example.invalid/ws",
		Dial:   func(context.Context, string) (Conn, error) { return conn, nil },
		Logger: logger.Discard(),
	})
	defer c.Close()

	var mu sync.Mutex
	var order []string
	record := func(tag string) Callback {
		return func(Event) {
			mu.Lock()
			order = append(order, tag)
			mu.Unlock()
		}
	}

	topic := Topic(KindFileUpload, "U1")
	_ = c.Subscribe(topic, record("first"))
	_ = c.Subscribe(topic, record("second"))
	_ = c.Subscribe(Topic(KindFileUpload, "U2"), record("other"))

	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	conn.incoming <- UploadProgress("U1", 1, 2, 50, 0)
	conn.incoming <- Event{Type: "unknown_kind", Data: map[string]interface{}{}}

	waitFor(t, "dispatch", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if order[0] != "first" || order[1] != "second" {
		t.Errorf("dispatch order = %v", order)
	}
}

func TestClientAnnouncesAndWithdrawsSubscriptions(t *testing.T) {
	conn := newFakeConn()
	c := NewClient(ClientOptions{
		URL:    "ws://example.invalid/ws",
		Dial:   func(context.Context, string) (Conn, error) { return conn, nil },
		Logger: logger.Discard(),
	})
	defer c.Close()

	_ = c.Subscribe("chunk_progress_C1", func(Event) {})
	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = c.Subscribe("chunk_progress_C2", func(Event) {})
	_ = c.Subscribe("chunk_progress_C2", func(Event) {})
	_ = c.Unsubscribe("chunk_progress_C1")
	_ = c.Unsubscribe("chunk_progress_missing")

	want := []Intent{
		{Action: ActionSubscribe, Topic: "chunk_progress_C1"},
		{Action: ActionSubscribe, Topic: "chunk_progress_C2"},
		{Action: ActionUnsubscribe, Topic: "chunk_progress_C1"},
	}
	got := conn.intents()
	if len(got) != len(want) {
		t.Fatalf("intents = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("intent[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	// the intent's topic carries the entity id
	if kind, entityID, ok := SplitTopic(got[1].Topic); !ok || kind != KindChunk || entityID != "C2" {
		t.Errorf("SplitTopic(%q) = %q, %q, %v", got[1].Topic, kind, entityID, ok)
	}
}

func TestClientReconnectBound(t *testing.T) {
	var dials atomic.Int32
	c := NewClient(ClientOptions{
		URL:         "ws://example.invalid/ws",
		BaseDelay:   2 * time.Millisecond,
		MaxAttempts: 3,
		Dial: func(context.Context, string) (Conn, error) {
			dials.Add(1)
			return nil, errors.New("connection refused")
		},
		Logger: logger.Discard(),
	})
	defer c.Close()

	offline := make(chan struct{}, 1)
	c.OnStateChange(func(s State) {
		if s == StateOffline {
			offline <- struct{}{}
		}
	})

	if err := c.Open(context.Background()); err == nil {
		t.Fatal("expected first dial to fail")
	}

	select {
	case <-offline:
	case <-time.After(2 * time.Second):
		t.Fatalf("client never went offline, state %s", c.State())
	}

	// the initial dial is the first of the three failures
	if got := dials.Load(); got != 3 {
		t.Errorf("dials = %d, want 3", got)
	}
	if got := c.Attempt(); got != 3 {
		t.Errorf("attempt = %d, want 3", got)
	}

	time.Sleep(50 * time.Millisecond)
	if got := dials.Load(); got != 3 {
		t.Errorf("reconnect scheduled after going offline: dials = %d", got)
	}
	if c.State() != StateOffline {
		t.Errorf("state = %s, want offline", c.State())
	}
}

func TestClientReconnectsAndReannounces(t *testing.T) {
	conns := make(chan *fakeConn, 4)
	c := NewClient(ClientOptions{
		URL:       "ws://example.invalid/ws",
		BaseDelay: time.Millisecond,
		Dial: func(context.Context, string) (Conn, error) {
			conn := newFakeConn()
			conns <- conn
			return conn, nil
		},
		Logger: logger.Discard(),
	})
	defer c.Close()

	_ = c.Subscribe("file_upload_progress_U1", func(Event) {})
	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	first := <-conns
	_ = first.Close()

	var second *fakeConn
	select {
	case second = <-conns:
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnect after connection loss")
	}

	waitFor(t, "re-announce", func() bool { return len(second.intents()) == 1 })
	if got := second.intents()[0]; got.Topic != "file_upload_progress_U1" || got.Action != ActionSubscribe {
		t.Errorf("re-announced intent = %v", got)
	}
	waitFor(t, "open state", func() bool { return c.State() == StateOpen })
	if c.Attempt() != 0 {
		t.Errorf("attempt = %d after successful reconnect, want 0", c.Attempt())
	}
}

func TestClientClosedRejectsOperations(t *testing.T) {
	c := NewClient(ClientOptions{URL: "ws://example.invalid/ws", Logger: logger.Discard()})
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Open(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Open after Close = %v, want ErrClosed", err)
	}
	if err := c.Subscribe("x", func(Event) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe after Close = %v, want ErrClosed", err)
	}
}

func TestNewClientID(t *testing.T) {
	a := NewClient(ClientOptions{})
	b := NewClient(ClientOptions{})
	if a.ID() == b.ID() {
		t.Error("client ids should differ")
	}
	if len(a.ID()) < len("client_0_") {
		t.Errorf("unexpected id %q", a.ID())
	}
}
