package stream

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"planview/pkg/model"
)

// State is the connection lifecycle state.
type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
)

// Default timing. Heartbeat exists only to defeat idle-connection reaping by
// intermediaries, so no timeout is armed on the reply.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultBackoffBase       = 1 * time.Second
	DefaultBackoffCap        = 30 * time.Second
	DefaultMaxReconnects     = 5
	DefaultDialTimeout       = 10 * time.Second
)

// Options tunes a channel. Zero values take the defaults above.
type Options struct {
	HeartbeatInterval time.Duration
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	MaxReconnects     int
	DialTimeout       time.Duration
	Logger            *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = DefaultBackoffCap
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = DefaultMaxReconnects
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Channel is a duplex event connection for a single task id. It is created
// and destroyed with its observer's lifecycle; there is no global registry of
// connections.
type Channel struct {
	endpoint string
	taskID   string
	cb       Callbacks
	opts     Options
	log      *zap.Logger

	mu             sync.Mutex
	conn           *websocket.Conn
	state          State
	deliberate     bool
	attempts       int
	heartbeatStop  chan struct{}
	reconnectTimer *time.Timer
	replay         bool

	writeMu sync.Mutex

	// exhausted latches the one ErrReconnectExhausted delivery per reconnect
	// episode. A fresh Connect re-arms it.
	exhausted bool
}

// New creates a channel for the given websocket endpoint and task id.
// Callbacks may be partially populated; nil entries are skipped.
func New(endpoint, taskID string, cb Callbacks, opts Options) *Channel {
	o := opts.withDefaults()
	return &Channel{
		endpoint: endpoint,
		taskID:   taskID,
		cb:       cb,
		opts:     o,
		log: o.Logger.With(
			zap.String("task_id", taskID),
			zap.String("conn_id", uuid.NewString()),
		),
		state: StateClosed,
	}
}

// State reports the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reconnecting reports the reconnecting sub-state: the channel is connecting
// again after an abnormal close rather than for the first time.
func (c *Channel) Reconnecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnecting && c.attempts > 0
}

// Connect establishes the connection. When replayBacklog is true the server
// emits a full current-status snapshot before resuming live events, so a
// freshly mounted observer reconstructs state without racing in-flight
// events. A dial failure is returned as a *ConnectionError; once connected,
// later failures flow through the reconnect policy instead.
func (c *Channel) Connect(ctx context.Context, replayBacklog bool) error {
	c.mu.Lock()
	if c.state == StateOpen || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.deliberate = false
	c.replay = replayBacklog
	c.state = StateConnecting
	c.attempts = 0
	c.exhausted = false
	c.mu.Unlock()

	conn, err := c.dial(ctx, replayBacklog)
	if err != nil {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		return &ConnectionError{Op: "dial", Err: err}
	}

	if !c.adopt(conn) {
		return ErrClosed
	}
	return nil
}

// Disconnect tears the channel down deliberately: it cancels the heartbeat
// and any pending reconnect timer before closing the transport, and never
// triggers reconnection.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.deliberate = true
	c.state = StateClosing
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.stopHeartbeatLocked()
	conn := c.conn
	c.conn = nil
	c.state = StateClosed
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		conn.Close()
	}
	c.log.Debug("channel disconnected")
}

// RequestCurrentStatus asks the server for a fresh current-status snapshot.
func (c *Channel) RequestCurrentStatus() error {
	return c.send(map[string]string{"type": ControlRequestCurrentStatus, "task_id": c.taskID})
}

func (c *Channel) dial(ctx context.Context, replay bool) (*websocket.Conn, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("task_id", c.taskID)
	if replay {
		q.Set("replay", "true")
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: c.opts.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	return conn, err
}

// adopt installs a freshly dialed connection and starts its heartbeat and
// read loop. A connection that lands after Disconnect raced the dial is
// closed and discarded instead, so teardown can never be resurrected by a
// late handshake.
func (c *Channel) adopt(conn *websocket.Conn) bool {
	c.mu.Lock()
	if c.deliberate || c.state == StateClosed || c.state == StateClosing {
		c.mu.Unlock()
		conn.Close()
		c.log.Debug("late connection discarded")
		return false
	}
	c.conn = conn
	c.state = StateOpen
	stop := make(chan struct{})
	c.heartbeatStop = stop
	c.mu.Unlock()

	go c.heartbeatLoop(stop)
	go c.readLoop(conn)
	c.log.Debug("channel open")
	return true
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(err)
			return
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			// Protocol error on a single message: log, drop, keep reading.
			c.log.Warn("malformed message dropped", zap.Error(&ProtocolError{Err: err}))
			continue
		}
		if ev.Type == "" {
			c.log.Warn("message without type dropped")
			continue
		}

		// Any successfully received message proves the connection is live
		// again; the reconnect budget starts over.
		c.mu.Lock()
		c.attempts = 0
		c.mu.Unlock()

		c.dispatch(ev)
	}
}

// dispatch routes one event to exactly one slice of caller state, in
// wire-receipt order with no client-side reordering.
func (c *Channel) dispatch(ev Event) {
	switch ev.Type {
	case EventHeartbeatAck:
		return // keep-alive bookkeeping only, not caller-visible
	case EventConnectionAck:
		if c.cb.OnOpen != nil {
			c.cb.OnOpen()
		}
	case EventStatusSnapshot:
		if c.cb.OnSnapshot != nil {
			c.cb.OnSnapshot(decodeSnapshot(ev))
		}
	case EventProgress:
		if c.cb.OnPhase != nil {
			c.cb.OnPhase(ev.Step, ev.EditSource, ev.Message)
		}
	case EventItemStart, EventItemComplete, EventItemFailed:
		if c.cb.OnItem != nil {
			c.cb.OnItem(ev.ItemID, ev.ItemStatus(), ev.Error)
		}
	case EventBatchStart:
		if c.cb.OnBatch != nil {
			c.cb.OnBatch(ev.BatchID, false)
		}
	case EventBatchComplete:
		if c.cb.OnBatch != nil {
			c.cb.OnBatch(ev.BatchID, true)
		}
	case EventTaskCompleted:
		if c.cb.OnTask != nil {
			c.cb.OnTask(decodeTaskStatus(ev.TaskStatus, model.TaskCompleted))
		}
	case EventTaskFailed:
		if c.cb.OnTask != nil {
			c.cb.OnTask(model.TaskFailed)
		}
	case EventHumanReview:
		if c.cb.OnReview != nil && ev.Review != nil {
			c.cb.OnReview(*ev.Review)
		}
	case EventClosingNotice:
		if c.cb.OnClosing != nil {
			c.cb.OnClosing(ev.Message)
		}
	case EventError:
		if c.cb.OnError != nil {
			c.cb.OnError(&ConnectionError{Op: "server", Err: serverError(ev)})
		}
	default:
		c.log.Warn("unknown event type dropped", zap.String("type", string(ev.Type)))
		return
	}

	if c.cb.OnEvent != nil {
		c.cb.OnEvent(ev)
	}
}

// handleClose reacts to a failed read. Deliberate disconnects end here
// quietly; anything else enters the reconnecting sub-state.
func (c *Channel) handleClose(err error) {
	c.mu.Lock()
	if c.deliberate || c.state == StateClosed || c.state == StateClosing {
		c.mu.Unlock()
		return
	}
	c.log.Debug("abnormal close", zap.Error(err))
	c.stopHeartbeatLocked()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateConnecting
	c.scheduleReconnectLocked()
	c.mu.Unlock()
}

// scheduleReconnectLocked arms the next backoff attempt, or gives up when the
// budget is spent. Caller holds c.mu.
func (c *Channel) scheduleReconnectLocked() {
	if c.attempts >= c.opts.MaxReconnects {
		c.state = StateClosed
		if !c.exhausted {
			c.exhausted = true
			c.log.Warn("reconnect budget exhausted")
			if c.cb.OnError != nil {
				go c.cb.OnError(ErrReconnectExhausted)
			}
		}
		return
	}
	c.attempts++
	delay := backoffDelay(c.opts.BackoffBase, c.opts.BackoffCap, c.attempts)
	c.log.Debug("scheduling reconnect",
		zap.Int("attempt", c.attempts),
		zap.Duration("delay", delay))
	c.reconnectTimer = time.AfterFunc(delay, c.redial)
}

// redial performs one reconnect attempt. Reconnects always request backlog
// replay: events were missed while the transport was down, and replay plus
// idempotent application is how the observer resynchronizes.
func (c *Channel) redial() {
	c.mu.Lock()
	if c.deliberate || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.DialTimeout)
	conn, err := c.dial(ctx, true)
	cancel()
	if err != nil {
		c.mu.Lock()
		if !c.deliberate && c.state != StateClosed {
			c.scheduleReconnectLocked()
		}
		c.mu.Unlock()
		return
	}
	c.adopt(conn)
}

// backoffDelay doubles from base per attempt, capped. Attempt is 1-based.
func backoffDelay(base, limit time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}

func (c *Channel) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// Absence of a reply is not a failure signal; nothing is armed
			// on the response.
			if err := c.send(map[string]string{"type": ControlHeartbeatPing, "task_id": c.taskID}); err != nil {
				return
			}
		}
	}
}

func (c *Channel) stopHeartbeatLocked() {
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
}

func (c *Channel) send(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func decodeSnapshot(ev Event) Snapshot {
	snap := Snapshot{
		Items:      make(map[string]model.Status, len(ev.Items)),
		TaskStatus: decodeTaskStatus(ev.TaskStatus, model.TaskRunning),
		Step:       ev.Step,
		EditSource: ev.EditSource,
	}
	for id, s := range ev.Items {
		snap.Items[id] = model.Status(s).Normalize()
	}
	return snap
}

func decodeTaskStatus(s string, fallback model.TaskStatus) model.TaskStatus {
	switch model.TaskStatus(s) {
	case model.TaskPending, model.TaskRunning, model.TaskCompleted, model.TaskCompletedPartial, model.TaskFailed:
		return model.TaskStatus(s)
	}
	return fallback
}

func serverError(ev Event) error {
	if ev.Error != "" {
		return errorString(ev.Error)
	}
	return errorString("unspecified server error")
}

type errorString string

func (e errorString) Error() string { return string(e) }
