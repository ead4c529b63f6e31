package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"planview/pkg/model"
)

var upgrader = websocket.Upgrader{}

// wsServer runs handle for every accepted connection and returns the ws:// URL.
func wsServer(t *testing.T, handle func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func fastOptions() Options {
	return Options{
		HeartbeatInterval: 10 * time.Millisecond,
		BackoffBase:       time.Millisecond,
		BackoffCap:        4 * time.Millisecond,
		MaxReconnects:     5,
		DialTimeout:       time.Second,
	}
}

func TestDispatchTaxonomy(t *testing.T) {
	events := []string{
		`{"type":"connection-ack"}`,
		`{"type":"current-status-snapshot","items":{"c1":"completed","c2":"weird"},"task_status":"running","step":"module_build"}`,
		`{"type":"progress","step":"concept_build","message":"building"}`,
		`{"type":"item-start","item_id":"c3"}`,
		`{"type":"item-failed","item_id":"c3","error":"boom"}`,
		`{"type":"batch-start","batch_id":"b1"}`,
		`{"type":"batch-complete","batch_id":"b1"}`,
		`{"type":"task-completed","task_status":"completed_with_failures"}`,
		`{"type":"closing-notice","message":"bye"}`,
	}
	srv := wsServer(t, func(conn *websocket.Conn) {
		for _, e := range events {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(e)); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	got := make(chan string, 32)
	done := make(chan struct{})
	cb := Callbacks{
		OnOpen: func() { got <- "open" },
		OnSnapshot: func(s Snapshot) {
			if s.Items["c1"] != model.StatusCompleted {
				t.Errorf("snapshot c1 = %s", s.Items["c1"])
			}
			if s.Items["c2"] != model.StatusPending {
				t.Errorf("unknown snapshot status normalized to %s, want pending", s.Items["c2"])
			}
			got <- "snapshot"
		},
		OnPhase: func(step, editSource, msg string) { got <- "phase:" + step },
		OnItem: func(id string, st model.Status, errMsg string) {
			got <- "item:" + id + ":" + string(st)
		},
		OnBatch: func(id string, doneFlag bool) {
			if doneFlag {
				got <- "batch-done:" + id
			} else {
				got <- "batch:" + id
			}
		},
		OnTask: func(st model.TaskStatus) { got <- "task:" + string(st) },
		OnClosing: func(msg string) {
			got <- "closing:" + msg
			close(done)
		},
	}

	ch := New(wsURL(srv), "t1", cb, fastOptions())
	if err := ch.Connect(context.Background(), true); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer ch.Disconnect()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for events")
	}

	want := []string{
		"open",
		"snapshot",
		"phase:concept_build",
		"item:c3:loading",
		"item:c3:failed",
		"batch:b1",
		"batch-done:b1",
		"task:completed_with_failures",
		"closing:bye",
	}
	for i, w := range want {
		select {
		case g := <-got:
			if g != w {
				t.Errorf("event %d = %q, want %q (wire order must be preserved)", i, g, w)
			}
		default:
			t.Fatalf("missing event %d (%q)", i, w)
		}
	}
}

func TestMalformedMessageDropped(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"no_type":true}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"progress","step":"after"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	phase := make(chan string, 1)
	var errCount atomic.Int32
	ch := New(wsURL(srv), "t1", Callbacks{
		OnPhase: func(step, _, _ string) { phase <- step },
		OnError: func(error) { errCount.Add(1) },
	}, fastOptions())
	if err := ch.Connect(context.Background(), false); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer ch.Disconnect()

	select {
	case step := <-phase:
		if step != "after" {
			t.Errorf("step = %q", step)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not survive malformed messages")
	}
	if n := errCount.Load(); n != 0 {
		t.Errorf("per-message protocol errors reached OnError %d times", n)
	}
}

func TestReconnectExhausted(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		if n > 1 {
			// Every reconnect attempt is refused before the upgrade.
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close() // immediate abnormal close
	}))
	defer srv.Close()

	errs := make(chan error, 4)
	ch := New(wsURL(srv), "t1", Callbacks{
		OnError: func(err error) { errs <- err },
	}, fastOptions())
	if err := ch.Connect(context.Background(), false); err != nil {
		t.Fatalf("connect: %v", err)
	}

	select {
	case err := <-errs:
		if !errors.Is(err, ErrReconnectExhausted) {
			t.Fatalf("error = %v, want ErrReconnectExhausted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("exhaustion never reported")
	}

	// Budget spent: no further attempts, no second error.
	time.Sleep(50 * time.Millisecond)
	select {
	case err := <-errs:
		t.Fatalf("error callback fired again: %v", err)
	default:
	}
	if n := requests.Load(); n != 6 {
		t.Errorf("server saw %d requests, want 1 connect + 5 reconnect attempts", n)
	}
	if st := ch.State(); st != StateClosed {
		t.Errorf("state after exhaustion = %s, want closed", st)
	}
}

func TestDisconnectCancelsReconnect(t *testing.T) {
	var requests atomic.Int32
	srv := wsServer(t, func(conn *websocket.Conn) {
		requests.Add(1)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	var errCount atomic.Int32
	ch := New(wsURL(srv), "t1", Callbacks{
		OnError: func(error) { errCount.Add(1) },
	}, fastOptions())
	if err := ch.Connect(context.Background(), false); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ch.Disconnect()

	time.Sleep(50 * time.Millisecond)
	if n := requests.Load(); n != 1 {
		t.Errorf("deliberate disconnect triggered reconnection: %d requests", n)
	}
	if n := errCount.Load(); n != 0 {
		t.Errorf("deliberate disconnect surfaced %d errors", n)
	}
	if st := ch.State(); st != StateClosed {
		t.Errorf("state = %s, want closed", st)
	}
}

func TestDisconnectDuringDial(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Hold the handshake until the client has already torn down.
		<-release
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ch := New(wsURL(srv), "t1", Callbacks{}, fastOptions())

	connected := make(chan error, 1)
	go func() { connected <- ch.Connect(context.Background(), false) }()

	// Let the dial reach the server, then tear down while it is in flight.
	time.Sleep(20 * time.Millisecond)
	ch.Disconnect()
	close(release)

	select {
	case err := <-connected:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("connect racing disconnect returned %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connect never returned")
	}

	// The late handshake must not resurrect the channel.
	time.Sleep(50 * time.Millisecond)
	if st := ch.State(); st != StateClosed {
		t.Errorf("state after disconnect = %s, want closed (late dial was adopted)", st)
	}
}

func TestReconnectBudgetRearmsOnFreshConnect(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		// The first request of each round connects then drops abnormally;
		// every reconnect attempt is refused before the upgrade.
		if n == 1 || n == 7 {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			conn.Close()
			return
		}
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	errs := make(chan error, 4)
	ch := New(wsURL(srv), "t1", Callbacks{
		OnError: func(err error) { errs <- err },
	}, fastOptions())

	for round := 1; round <= 2; round++ {
		if err := ch.Connect(context.Background(), false); err != nil {
			t.Fatalf("connect round %d: %v", round, err)
		}
		select {
		case err := <-errs:
			if !errors.Is(err, ErrReconnectExhausted) {
				t.Fatalf("round %d error = %v, want ErrReconnectExhausted", round, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("round %d exhaustion never reported", round)
		}
	}

	if n := requests.Load(); n != 12 {
		t.Errorf("server saw %d requests, want two full budgets of 6", n)
	}
}

func TestReconnectingSubState(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) > 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Stay open long enough for the client to observe the open state.
		time.Sleep(20 * time.Millisecond)
		conn.Close()
	}))
	defer srv.Close()

	opts := fastOptions()
	opts.BackoffBase = 100 * time.Millisecond
	opts.BackoffCap = time.Second
	ch := New(wsURL(srv), "t1", Callbacks{}, opts)
	if err := ch.Connect(context.Background(), false); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer ch.Disconnect()

	if ch.Reconnecting() {
		t.Error("freshly opened channel reports reconnecting")
	}

	deadline := time.After(2 * time.Second)
	for !ch.Reconnecting() {
		select {
		case <-deadline:
			t.Fatal("reconnecting sub-state never observed after abnormal close")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if st := ch.State(); st != StateConnecting {
		t.Errorf("state during reconnect backoff = %s, want connecting", st)
	}
}

func TestHeartbeatPing(t *testing.T) {
	pings := make(chan string, 8)
	srv := wsServer(t, func(conn *websocket.Conn) {
		for {
			var msg map[string]string
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			pings <- msg["type"]
		}
	})

	ch := New(wsURL(srv), "t1", Callbacks{}, fastOptions())
	if err := ch.Connect(context.Background(), false); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer ch.Disconnect()

	select {
	case typ := <-pings:
		if typ != ControlHeartbeatPing {
			t.Errorf("first client message = %q, want heartbeat-ping", typ)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat observed")
	}
}

func TestBackoffDelay(t *testing.T) {
	base, limit := time.Second, 30*time.Second
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := backoffDelay(base, limit, tc.attempt); got != tc.want {
			t.Errorf("backoffDelay(attempt=%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}
