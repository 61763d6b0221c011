package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adcondev/pos-printer/internal/auth"
	"github.com/adcondev/pos-printer/internal/printer"
)

type mockPrinterStatus struct{}

func (m *mockPrinterStatus) Summary() printer.Summary {
	return printer.Summary{Status: "ok", DetectedCount: 2, AvailableCount: 1, ThermalCount: 1, DefaultName: "58mm PT-210"}
}

func startServer(t *testing.T, cfg Config) (*Server, string) {
	t.Helper()
	srv := NewServer(cfg, &mockPrinterStatus{})
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
	t.Cleanup(func() {
		srv.Shutdown()
		ts.Close()
	})
	return srv, "ws" + ts.URL[4:]
}

// dial connects and consumes the welcome message.
func dial(t *testing.T, ctx context.Context, u string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.Dial(ctx, u, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	var welcome Response
	require.NoError(t, wsjson.Read(ctx, conn, &welcome))
	require.Equal(t, "info", welcome.Tipo)
	require.Equal(t, "connected", welcome.Status)
	return conn
}

func roundTrip(t *testing.T, ctx context.Context, conn *websocket.Conn, msg Message) Response {
	t.Helper()
	require.NoError(t, wsjson.Write(ctx, conn, msg))
	var resp Response
	require.NoError(t, wsjson.Read(ctx, conn, &resp))
	return resp
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestWebSocketOrigin(t *testing.T) {
	// 1. Test Restricted Origin (Explicit Allow)
	t.Run("Restricted Origin", func(t *testing.T) {
		_, u := startServer(t, Config{
			QueueSize:      10,
			AllowedOrigins: []string{"http://good.com"},
		})
		ctx := testContext(t)

		// Case A: Connection from Allowed Origin
		opts := &websocket.DialOptions{
			HTTPHeader: http.Header{
				"Origin": []string{"http://good.com"},
			},
		}
		conn, resp, err := websocket.Dial(ctx, u, opts)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		require.NoError(t, err, "connection from good.com failed")
		_ = conn.Close(websocket.StatusNormalClosure, "")

		// Case B: Connection from Disallowed Origin
		optsBad := &websocket.DialOptions{
			HTTPHeader: http.Header{
				"Origin": []string{"http://evil.com"},
			},
		}
		_, respBad, err := websocket.Dial(ctx, u, optsBad)
		if respBad != nil && respBad.Body != nil {
			_ = respBad.Body.Close()
		}
		assert.Error(t, err, "connection from evil.com should fail")
	})

	// 2. Test Same Origin Enforcement (When AllowedOrigins is empty/nil)
	t.Run("Same Origin Enforcement", func(t *testing.T) {
		_, u := startServer(t, Config{QueueSize: 10})
		ctx := testContext(t)

		conn, resp, err := websocket.Dial(ctx, u, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		require.NoError(t, err, "connection without Origin failed")
		_ = conn.Close(websocket.StatusNormalClosure, "")

		optsBad := &websocket.DialOptions{
			HTTPHeader: http.Header{
				"Origin": []string{"http://external-site.com"},
			},
		}
		_, respBad, err := websocket.Dial(ctx, u, optsBad)
		if respBad != nil && respBad.Body != nil {
			_ = respBad.Body.Close()
		}
		assert.Error(t, err, "connection from external-site.com should fail")
	})
}

func TestHostPatterns(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{name: "nil", in: nil, want: nil},
		{name: "scheme stripped", in: []string{"http://localhost:*", "https://pos.example.com/"}, want: []string{"localhost:*", "pos.example.com"}},
		{name: "bare host kept", in: []string{" 127.0.0.1:* "}, want: []string{"127.0.0.1:*"}},
		{name: "empty entries dropped", in: []string{"", "http://"}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hostPatterns(tt.in))
		})
	}
}

func TestPingAndStatus(t *testing.T) {
	_, u := startServer(t, Config{QueueSize: 10})
	ctx := testContext(t)
	conn := dial(t, ctx, u)

	pong := roundTrip(t, ctx, conn, Message{Tipo: TipoPing, ID: "p1"})
	assert.Equal(t, "pong", pong.Tipo)
	assert.Equal(t, "p1", pong.ID)

	status := roundTrip(t, ctx, conn, Message{Tipo: TipoStatus})
	assert.Equal(t, "status", status.Tipo)
	assert.Equal(t, 10, status.Capacity)
	assert.Equal(t, "Queue: 0/10", status.Mensaje)
	require.NotNil(t, status.Printers)
	assert.Equal(t, "58mm PT-210", status.Printers.DefaultName)
}

func TestMissingTipo(t *testing.T) {
	_, u := startServer(t, Config{QueueSize: 10})
	ctx := testContext(t)
	conn := dial(t, ctx, u)

	resp := roundTrip(t, ctx, conn, Message{ID: "x"})
	assert.Equal(t, "error", resp.Tipo)
	assert.Equal(t, "x", resp.ID)
}

func TestCallIsQueued(t *testing.T) {
	srv, u := startServer(t, Config{QueueSize: 10})
	ctx := testContext(t)
	conn := dial(t, ctx, u)

	ack := roundTrip(t, ctx, conn, Message{
		Tipo:  "printBytes",
		ID:    "job-1",
		Datos: []byte(`{"bytes":[27,64]}`),
	})
	assert.Equal(t, "ack", ack.Tipo)
	assert.Equal(t, "queued", ack.Status)
	assert.Equal(t, "job-1", ack.ID)
	assert.Equal(t, 1, ack.Current)
	assert.Equal(t, 10, ack.Capacity)

	select {
	case job := <-srv.JobQueue():
		assert.Equal(t, "job-1", job.ID)
		assert.Equal(t, "printBytes", job.Method)
		assert.JSONEq(t, `{"bytes":[27,64]}`, string(job.Args))
		assert.NotNil(t, job.ClientConn)
	default:
		t.Fatal("job was not queued")
	}
}

func TestUnknownCallIsQueued(t *testing.T) {
	srv, u := startServer(t, Config{QueueSize: 10})
	ctx := testContext(t)
	conn := dial(t, ctx, u)

	ack := roundTrip(t, ctx, conn, Message{Tipo: "openCashDrawer"})
	assert.Equal(t, "ack", ack.Tipo)
	assert.NotEmpty(t, ack.ID, "an id is assigned when absent")

	job := <-srv.JobQueue()
	assert.Equal(t, ack.ID, job.ID)
	assert.Equal(t, "openCashDrawer", job.Method)
}

func TestQueueFull(t *testing.T) {
	_, u := startServer(t, Config{QueueSize: 1})
	ctx := testContext(t)
	conn := dial(t, ctx, u)

	first := roundTrip(t, ctx, conn, Message{Tipo: "getList", ID: "a"})
	assert.Equal(t, "ack", first.Tipo)

	second := roundTrip(t, ctx, conn, Message{Tipo: "getList", ID: "b"})
	assert.Equal(t, "error", second.Tipo)
	assert.Equal(t, "b", second.ID)
	assert.Contains(t, second.Mensaje, "Queue full")
}

func TestTokenRequired(t *testing.T) {
	authCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, u := startServer(t, Config{
		QueueSize: 10,
		Auth:      auth.NewManager(authCtx, "", "s3cret"),
	})
	ctx := testContext(t)
	conn := dial(t, ctx, u)

	denied := roundTrip(t, ctx, conn, Message{Tipo: "getList", ID: "a"})
	assert.Equal(t, "error", denied.Tipo)

	denied = roundTrip(t, ctx, conn, Message{Tipo: "getList", ID: "b", Token: "wrong"})
	assert.Equal(t, "error", denied.Tipo)

	// Inline messages need no token
	pong := roundTrip(t, ctx, conn, Message{Tipo: TipoPing})
	assert.Equal(t, "pong", pong.Tipo)

	ok := roundTrip(t, ctx, conn, Message{Tipo: "getList", ID: "c", Token: "s3cret"})
	assert.Equal(t, "ack", ok.Tipo)

	job := <-srv.JobQueue()
	assert.Equal(t, "c", job.ID)
}

func TestTokenLockout(t *testing.T) {
	authCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, u := startServer(t, Config{
		QueueSize: 10,
		Auth:      auth.NewManager(authCtx, "", "s3cret"),
	})
	ctx := testContext(t)
	conn := dial(t, ctx, u)

	for i := 0; i < auth.MaxFailedAttempts; i++ {
		resp := roundTrip(t, ctx, conn, Message{Tipo: "getList", Token: "wrong"})
		require.Equal(t, "error", resp.Tipo)
	}

	locked := roundTrip(t, ctx, conn, Message{Tipo: "getList", Token: "s3cret"})
	assert.Equal(t, "error", locked.Tipo, "valid token is refused while locked out")
}

func TestPrintRateLimit(t *testing.T) {
	_, u := startServer(t, Config{QueueSize: 10, CallLimits: map[string]int{"printBytes": 1, "connectPrinter": 1}})
	ctx := testContext(t)
	conn := dial(t, ctx, u)

	first := roundTrip(t, ctx, conn, Message{Tipo: "printBytes", Datos: []byte(`{"bytes":[1]}`)})
	assert.Equal(t, "ack", first.Tipo)

	second := roundTrip(t, ctx, conn, Message{Tipo: "printBytes", Datos: []byte(`{"bytes":[1]}`)})
	assert.Equal(t, "error", second.Tipo)
	assert.Contains(t, second.Mensaje, "Too many")

	connect := roundTrip(t, ctx, conn, Message{Tipo: "connectPrinter", Datos: []byte(`{"name":"A"}`)})
	assert.Equal(t, "ack", connect.Tipo, "each call has its own window")

	again := roundTrip(t, ctx, conn, Message{Tipo: "connectPrinter", Datos: []byte(`{"name":"A"}`)})
	assert.Equal(t, "error", again.Tipo)
	assert.Contains(t, again.Mensaje, "connectPrinter")

	other := roundTrip(t, ctx, conn, Message{Tipo: "getList"})
	assert.Equal(t, "ack", other.Tipo, "calls without a limit are not throttled")
}

func TestNotifyClient(t *testing.T) {
	srv, u := startServer(t, Config{QueueSize: 10})
	ctx := testContext(t)
	conn := dial(t, ctx, u)

	require.NoError(t, wsjson.Write(ctx, conn, Message{Tipo: "close", ID: "n1"}))
	var ack Response
	require.NoError(t, wsjson.Read(ctx, conn, &ack))
	job := <-srv.JobQueue()

	require.NoError(t, srv.NotifyClient(job.ClientConn, Response{
		Tipo:      "result",
		ID:        job.ID,
		Status:    "success",
		Resultado: 1,
	}))

	var result Response
	require.NoError(t, wsjson.Read(ctx, conn, &result))
	assert.Equal(t, "result", result.Tipo)
	assert.Equal(t, "n1", result.ID)
	assert.EqualValues(t, 1, result.Resultado)

	assert.NoError(t, srv.NotifyClient(nil, Response{}))
}

func TestCallRateLimiterWindow(t *testing.T) {
	rl := NewCallRateLimiter(map[string]int{"printBytes": 2, "close": 0})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("printBytes", "a"))
	assert.True(t, rl.Allow("printBytes", "a"))
	assert.False(t, rl.Allow("printBytes", "a"))
	assert.True(t, rl.Allow("printBytes", "b"), "limits are per client")
	assert.True(t, rl.Allow("getList", "a"), "unlimited call")

	_, ok := rl.Limit("close")
	assert.False(t, ok, "non-positive limits are ignored")
	assert.True(t, rl.Allow("close", "a"))

	now = now.Add(time.Minute + time.Second)
	assert.True(t, rl.Allow("printBytes", "a"), "window slides")
}

func TestClientRegistry(t *testing.T) {
	reg := NewClientRegistry()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }

	a, b := &websocket.Conn{}, &websocket.Conn{}
	assert.Equal(t, 1, reg.Add(a, "192.168.1.20"))
	assert.Equal(t, 2, reg.Add(b, "192.168.1.21"))

	seen := map[string]bool{}
	reg.ForEach(func(conn *websocket.Conn, info ClientInfo) {
		seen[info.Addr] = true
		assert.Equal(t, now, info.ConnectedAt)
		reg.Remove(conn) // allowed while iterating
	})
	assert.Equal(t, map[string]bool{"192.168.1.20": true, "192.168.1.21": true}, seen)
	assert.Zero(t, reg.Count())

	reg.Add(a, "192.168.1.20")
	now = now.Add(90 * time.Second)
	connected, ok := reg.Remove(a)
	assert.True(t, ok)
	assert.Equal(t, 90*time.Second, connected)

	_, ok = reg.Remove(a)
	assert.False(t, ok, "already removed")
}
