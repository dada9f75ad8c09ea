package conn

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransportClosed = errors.New("transport closed")

type fakeTransport struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
	closes atomic.Int32
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case d := <-f.in:
		return d, nil
	case <-f.closed:
		return nil, errTransportClosed
	}
}

func (f *fakeTransport) WriteMessage(data []byte) error {
	select {
	case <-f.closed:
		return errTransportClosed
	default:
	}
	f.out <- data
	return nil
}

func (f *fakeTransport) Close() error {
	f.closes.Add(1)
	f.drop()
	return nil
}

// drop simulates the server or the network closing the socket.
func (f *fakeTransport) drop() {
	f.once.Do(func() { close(f.closed) })
}

type fakeDialer struct {
	t     *fakeTransport
	err   error
	block bool
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Transport, error) {
	if d.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.t, nil
}

type switchMonitor struct{ online atomic.Bool }

func (m *switchMonitor) Online() bool { return m.online.Load() }

var ping = []byte(`{"type":"PING"}`)

func recvEvent(t *testing.T, ch <-chan Event, within time.Duration) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(within):
		t.Fatalf("timed out waiting for connection event")
		return nil
	}
}

func recvNoEvent(t *testing.T, ch <-chan Event, within time.Duration) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("expected no event within %v, got %#v", within, ev)
	case <-time.After(within):
	}
}

func newTestManager(t *testing.T, d Dialer, mon NetworkMonitor, cfg Config) (*Manager, clockwork.Clock, func(time.Duration)) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	m := NewManager(d, mon, clock, cfg)
	t.Cleanup(func() { _ = m.Close() })
	return m, clock, clock.Advance
}

func TestManager_OpensAndForwardsFramesInOrder(t *testing.T) {
	ft := newFakeTransport()
	m, _, _ := newTestManager(t, &fakeDialer{t: ft}, nil, DefaultConfig(ping))

	require.NoError(t, m.Connect(context.Background(), "ws://example/parrot-socket"))
	assert.IsType(t, Opened{}, recvEvent(t, m.Events(), time.Second))
	assert.Equal(t, StateOpen, m.State())

	for _, f := range []string{"one", "two", "three"} {
		ft.in <- []byte(f)
	}
	for _, want := range []string{"one", "two", "three"} {
		ev := recvEvent(t, m.Events(), time.Second)
		require.IsType(t, Frame{}, ev)
		assert.Equal(t, want, string(ev.(Frame).Data))
	}

	assert.ErrorIs(t, m.Connect(context.Background(), "ws://example"), ErrAlreadyConnected)
}

func TestManager_SendsHeartbeatOnInterval(t *testing.T) {
	ft := newFakeTransport()
	cfg := DefaultConfig(ping)
	cfg.HeartbeatInterval = 20 * time.Second
	m, _, advance := newTestManager(t, &fakeDialer{t: ft}, nil, cfg)

	require.NoError(t, m.Connect(context.Background(), "ws://example/vote-socket"))
	recvEvent(t, m.Events(), time.Second)

	require.Eventually(t, func() bool {
		advance(20 * time.Second)
		select {
		case got := <-ft.out:
			return string(got) == string(ping)
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return !m.LastHeartbeat().IsZero() }, time.Second, 10*time.Millisecond)
}

func TestManager_ServerCloseRaisesStaleOnce(t *testing.T) {
	ft := newFakeTransport()
	m, _, _ := newTestManager(t, &fakeDialer{t: ft}, nil, DefaultConfig(ping))

	require.NoError(t, m.Connect(context.Background(), "ws://example"))
	recvEvent(t, m.Events(), time.Second)

	ft.drop()
	ev := recvEvent(t, m.Events(), time.Second)
	require.IsType(t, Stale{}, ev)
	assert.Equal(t, ReasonClosed, ev.(Stale).Reason)
	assert.Equal(t, StateClosed, m.State())

	m.GoOffline()
	recvNoEvent(t, m.Events(), 100*time.Millisecond)

	assert.False(t, m.Send([]byte("late")))
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Equal(t, int32(1), ft.closes.Load())
}

func TestManager_CleanCloseIsSilentAndIdempotent(t *testing.T) {
	ft := newFakeTransport()
	m, _, _ := newTestManager(t, &fakeDialer{t: ft}, nil, DefaultConfig(ping))

	require.NoError(t, m.Connect(context.Background(), "ws://example"))
	recvEvent(t, m.Events(), time.Second)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("manager goroutines did not exit")
	}
	recvNoEvent(t, m.Events(), 50*time.Millisecond)
	assert.Equal(t, StateClosed, m.State())
	assert.Equal(t, int32(1), ft.closes.Load())
}

func TestManager_DialFailureStaysConnecting(t *testing.T) {
	boom := errors.New("connection refused")
	m, _, _ := newTestManager(t, &fakeDialer{err: boom}, nil, DefaultConfig(ping))

	require.NoError(t, m.Connect(context.Background(), "ws://example"))
	ev := recvEvent(t, m.Events(), time.Second)
	require.IsType(t, Failed{}, ev)
	assert.ErrorIs(t, ev.(Failed).Err, boom)
	assert.Equal(t, StateConnecting, m.State())

	m.GoOffline()
	recvNoEvent(t, m.Events(), 100*time.Millisecond)
	assert.False(t, m.Send([]byte("x")))
}

func TestManager_CloseCancelsPendingDial(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeDialer{block: true}, nil, DefaultConfig(ping))
	require.NoError(t, m.Connect(context.Background(), "ws://example"))

	done := make(chan struct{})
	go func() {
		_ = m.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on a pending dial")
	}
	recvNoEvent(t, m.Events(), 50*time.Millisecond)
}

func TestManager_OfflinePollRaisesStale(t *testing.T) {
	ft := newFakeTransport()
	mon := &switchMonitor{}
	mon.online.Store(true)
	cfg := DefaultConfig(ping)
	cfg.OfflinePollInterval = 3 * time.Second
	m, _, advance := newTestManager(t, &fakeDialer{t: ft}, mon, cfg)

	require.NoError(t, m.Connect(context.Background(), "ws://example"))
	recvEvent(t, m.Events(), time.Second)

	mon.online.Store(false)
	var got Event
	require.Eventually(t, func() bool {
		advance(3 * time.Second)
		select {
		case got = <-m.Events():
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	require.IsType(t, Stale{}, got)
	assert.Equal(t, ReasonOffline, got.(Stale).Reason)

	// the transport close that follows must not raise a second signal
	recvNoEvent(t, m.Events(), 100*time.Millisecond)
}

func TestManager_ExplicitOfflineRaisesStale(t *testing.T) {
	ft := newFakeTransport()
	m, _, _ := newTestManager(t, &fakeDialer{t: ft}, nil, DefaultConfig(ping))

	require.NoError(t, m.Connect(context.Background(), "ws://example"))
	recvEvent(t, m.Events(), time.Second)

	m.GoOffline()
	ev := recvEvent(t, m.Events(), time.Second)
	require.IsType(t, Stale{}, ev)
	assert.Equal(t, ReasonOffline, ev.(Stale).Reason)
}

func TestManager_WebsocketEndToEnd(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	received := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"type":"WELCOME","sessionId":"abc"}`))
		_, data, err := c.ReadMessage()
		if err == nil {
			received <- string(data)
		}
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"))
		_ = c.Close()
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/parrot-socket"
	m := NewManager(NewWebsocketDialer(), nil, nil, DefaultConfig(ping))
	defer m.Close()

	require.NoError(t, m.Connect(context.Background(), url))
	assert.IsType(t, Opened{}, recvEvent(t, m.Events(), 2*time.Second))

	ev := recvEvent(t, m.Events(), 2*time.Second)
	require.IsType(t, Frame{}, ev)
	assert.JSONEq(t, `{"type":"WELCOME","sessionId":"abc"}`, string(ev.(Frame).Data))

	require.True(t, m.Send([]byte(`{"type":"JOIN","role":"GENERAL"}`)))
	select {
	case got := <-received:
		assert.JSONEq(t, `{"type":"JOIN","role":"GENERAL"}`, got)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the frame")
	}

	stale := recvEvent(t, m.Events(), 2*time.Second)
	require.IsType(t, Stale{}, stale)
	assert.Equal(t, ReasonClosed, stale.(Stale).Reason)
}

func TestSocketURL(t *testing.T) {
	cases := []struct {
		origin string
		path   string
		want   string
	}{
		{"https://joyopi.example", "/vote-socket", "wss://joyopi.example/vote-socket"},
		{"http://localhost:5173", "/parrot-socket", "ws://localhost:5173/parrot-socket"},
	}
	for _, tc := range cases {
		got, err := SocketURL(tc.origin, tc.path)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	_, err := SocketURL("not a url", "/x")
	assert.Error(t, err)
}

func TestProbeAddress(t *testing.T) {
	addr, err := ProbeAddress("wss://joyopi.example/vote-socket")
	require.NoError(t, err)
	assert.Equal(t, "joyopi.example:443", addr)

	addr, err = ProbeAddress("ws://localhost:8080/parrot-socket")
	require.NoError(t, err)
	assert.Equal(t, "localhost:8080", addr)
}
