package channel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jwalitptl/restaurant-notify/internal/model"
)

type fakeTimer struct {
	clock   *fakeClock
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// fakeClock records every scheduled callback; tests fire them by hand.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, delay: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) pending(d time.Duration) []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && (d == 0 || t.delay == d) {
			out = append(out, t)
		}
	}
	return out
}

// delaysExcept lists every delay ever scheduled, skipping the heartbeat.
func (c *fakeClock) delaysExcept(heartbeat time.Duration) []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, t := range c.timers {
		if t.delay != heartbeat {
			out = append(out, t.delay)
		}
	}
	return out
}

func (c *fakeClock) fire(t *fakeTimer) {
	c.mu.Lock()
	if t.stopped || t.fired {
		c.mu.Unlock()
		return
	}
	t.fired = true
	c.mu.Unlock()
	t.fn()
}

var errConnClosed = errors.New("use of closed connection")

type fakeConn struct {
	incoming chan []byte
	readErr  chan error
	done     chan struct{}
	once     sync.Once

	mu      sync.Mutex
	written [][]byte
	types   []int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan []byte, 16),
		readErr:  make(chan error, 1),
		done:     make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-c.incoming:
		return websocket.TextMessage, msg, nil
	case err := <-c.readErr:
		return 0, nil, err
	case <-c.done:
		return 0, nil, errConnClosed
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
	c.types = append(c.types, messageType)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) push(frame string) {
	c.incoming <- []byte(frame)
}

// serverClose simulates the peer closing with code.
func (c *fakeConn) serverClose(code int) {
	c.readErr <- &websocket.CloseError{Code: code}
}

func (c *fakeConn) textFrames() []model.ClientFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.ClientFrame
	for i, data := range c.written {
		if c.types[i] != websocket.TextMessage {
			continue
		}
		var f model.ClientFrame
		if json.Unmarshal(data, &f) == nil {
			out = append(out, f)
		}
	}
	return out
}

func (c *fakeConn) sentClose() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.types {
		if t == websocket.CloseMessage {
			return true
		}
	}
	return false
}

// fakeDialer hands out queued connections, or fails when err is set.
type fakeDialer struct {
	mu    sync.Mutex
	urls  []string
	conns []*fakeConn
	err   error
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if d.err != nil {
		return nil, d.err
	}
	if len(d.conns) == 0 {
		return nil, errors.New("no connection queued")
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	return conn, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

// recorder collects listener callbacks on channels so tests can wait on the
// read goroutine.
type recorder struct {
	connects      chan struct{}
	disconnects   chan int
	notifications chan model.NotificationRecord
	errs          chan error
}

func newRecorder() *recorder {
	return &recorder{
		connects:      make(chan struct{}, 16),
		disconnects:   make(chan int, 16),
		notifications: make(chan model.NotificationRecord, 16),
		errs:          make(chan error, 16),
	}
}

func (r *recorder) OnConnect()                                  { r.connects <- struct{}{} }
func (r *recorder) OnDisconnect(code int)                       { r.disconnects <- code }
func (r *recorder) OnNotification(rec model.NotificationRecord) { r.notifications <- rec }
func (r *recorder) OnError(err error)                           { r.errs <- err }

// hangingDialer never completes a handshake; it returns once ctx expires.
type hangingDialer struct{}

func (hangingDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
