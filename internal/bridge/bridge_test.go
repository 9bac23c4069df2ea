package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/clinicdesk/internal/consumer"
	"github.com/phrazzld/clinicdesk/internal/domain"
	"github.com/phrazzld/clinicdesk/internal/events"
	"github.com/phrazzld/clinicdesk/internal/platform/logger"
)

type testBridge struct {
	bus         *events.Bus
	loop        *consumer.Loop
	broadcaster *Broadcaster
	server      *httptest.Server
}

func newTestBridge(t *testing.T, cfg Config) *testBridge {
	t.Helper()
	log, _ := logger.NewTestLogger(t)

	loop := consumer.New(log)
	go func() { _ = loop.Run(context.Background()) }()
	t.Cleanup(loop.Stop)

	bus, err := events.NewBus(loop, log, events.Channels()...)
	require.NoError(t, err)

	b, err := NewBroadcaster(bus, cfg, log)
	require.NoError(t, err)
	t.Cleanup(b.Close)

	server := httptest.NewServer(NewRouter(b, bus, log))
	t.Cleanup(server.Close)

	return &testBridge{bus: bus, loop: loop, broadcaster: b, server: server}
}

func (tb *testBridge) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tb.loop.Flush(ctx))
}

// dialTestWS connects to the bridge and waits until the server has
// registered the connection.
func dialTestWS(t *testing.T, tb *testBridge, want int) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(tb.server.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool {
		return tb.broadcaster.ClientCount() == want
	}, 2*time.Second, 10*time.Millisecond)
	return conn
}

func dialWithOrigin(t *testing.T, tb *testBridge, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(tb.server.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{origin}})
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

func readEnvelope(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var env struct {
		Channel string          `json:"channel"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &env))
	return env.Channel, env.Payload
}

func TestBroadcastFansOutToEveryClient(t *testing.T) {
	t.Parallel()
	tb := newTestBridge(t, DefaultConfig())

	first := dialTestWS(t, tb, 1)
	second := dialTestWS(t, tb, 2)

	diseases := []domain.Disease{{ID: 1, Name: "Influenza"}}
	require.NoError(t, events.Publish(context.Background(), tb.bus, events.Diseases, diseases))
	tb.flush(t)

	for _, conn := range []*websocket.Conn{first, second} {
		channel, payload := readEnvelope(t, conn)
		assert.Equal(t, "diseases", channel)

		var got []domain.Disease
		require.NoError(t, json.Unmarshal(payload, &got))
		assert.Equal(t, diseases, got)
	}
}

func TestBroadcastPreservesPublishOrder(t *testing.T) {
	t.Parallel()
	tb := newTestBridge(t, DefaultConfig())
	conn := dialTestWS(t, tb, 1)

	ctx := context.Background()
	require.NoError(t, events.Publish(ctx, tb.bus, events.Diseases, []domain.Disease{}))
	require.NoError(t, events.Publish(ctx, tb.bus, events.Patients, domain.PatientList{}))
	require.NoError(t, events.Publish(ctx, tb.bus, events.TaskFailures, domain.TaskFailure{TaskName: "seed"}))
	tb.flush(t)

	var channels []string
	for range 3 {
		channel, _ := readEnvelope(t, conn)
		channels = append(channels, channel)
	}
	assert.Equal(t, []string{"diseases", "patients", "task_failures"}, channels)
}

func TestConnectionCap(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.MaxClients = 1
	tb := newTestBridge(t, cfg)

	dialTestWS(t, tb, 1)
	assert.True(t, tb.broadcaster.Full())

	url := "ws" + strings.TrimPrefix(tb.server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, ErrTooManyConnections.Error(), body.Error)
	assert.NotEmpty(t, body.TraceID)
}

func TestAddClientRejectsBeyondCap(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.MaxClients = 1
	tb := newTestBridge(t, cfg)
	conn := dialTestWS(t, tb, 1)

	_, err := tb.broadcaster.AddClient(conn)
	assert.ErrorIs(t, err, ErrTooManyConnections)
}

func TestClientDisconnectIsRemoved(t *testing.T) {
	t.Parallel()
	tb := newTestBridge(t, DefaultConfig())
	conn := dialTestWS(t, tb, 1)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		return tb.broadcaster.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSlowClientIsDropped(t *testing.T) {
	t.Parallel()
	log, buf := logger.NewTestLogger(t)
	b := &Broadcaster{
		clients: make(map[*Client]struct{}),
		cfg:     Config{SendBuffer: 1},
		logger:  log,
	}

	// No write pump drains this client.
	slow := &Client{send: make(chan []byte, 1), done: make(chan struct{})}
	b.clients[slow] = struct{}{}

	b.broadcast([]byte(`{"n":1}`))
	assert.Equal(t, 1, b.ClientCount())

	b.broadcast([]byte(`{"n":2}`))
	assert.Equal(t, 0, b.ClientCount())

	got, ok := <-slow.send
	assert.True(t, ok)
	assert.JSONEq(t, `{"n":1}`, string(got))
	_, ok = <-slow.send
	assert.False(t, ok, "send channel should be closed")

	assert.Len(t, buf.EntriesWithMessage("websocket client too slow, disconnecting"), 1)
}

func TestCloseDisconnectsClients(t *testing.T) {
	t.Parallel()
	tb := newTestBridge(t, DefaultConfig())
	conn := dialTestWS(t, tb, 1)

	tb.broadcaster.Close()
	assert.Equal(t, 0, tb.broadcaster.ClientCount())
	assert.Equal(t, 0, tb.bus.SubscriberCount("diseases"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	_, err = tb.broadcaster.AddClient(conn)
	assert.Error(t, err)
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	tb := newTestBridge(t, DefaultConfig())
	dialTestWS(t, tb, 1)

	resp, err := http.Get(tb.server.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, HealthResponse{Status: "ok", Clients: 1}, body)
}

func TestChannelsEndpoint(t *testing.T) {
	t.Parallel()
	tb := newTestBridge(t, DefaultConfig())

	resp, err := http.Get(tb.server.URL + "/channels")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var table events.ChannelTable
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&table))
	assert.Equal(t, tb.bus.Describe(), table)
}

func TestUnknownRoute(t *testing.T) {
	t.Parallel()
	tb := newTestBridge(t, DefaultConfig())

	resp, err := http.Get(tb.server.URL + "/nope")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestForeignOriginIsRejected(t *testing.T) {
	t.Parallel()
	tb := newTestBridge(t, DefaultConfig())

	_, resp, err := dialWithOrigin(t, tb, "https://evil.example")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Nothing published afterwards can reach the foreign page.
	require.NoError(t, events.Publish(context.Background(), tb.bus, events.Patients, domain.PatientList{
		Patients: []domain.NamedPatient{{FirstName: "Jane", LastName: "Doe"}},
	}))
	tb.flush(t)
	assert.Equal(t, 0, tb.broadcaster.ClientCount())
}

func TestOriginPolicy(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.AllowedOrigins = []string{"https://Desk.example/"}
	tb := newTestBridge(t, cfg)

	tests := []struct {
		name   string
		origin string
		allow  bool
	}{
		{name: "same origin", origin: tb.server.URL, allow: true},
		{name: "listed origin", origin: "https://desk.example", allow: true},
		{name: "listed host over another scheme", origin: "http://desk.example", allow: false},
		{name: "unlisted origin", origin: "http://localhost:3000", allow: false},
		{name: "malformed origin", origin: "://nope", allow: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := dialWithOrigin(t, tb, tt.origin)
			if tt.allow {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
}
