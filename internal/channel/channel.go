// Package channel fans canonical events out to connected viewers.
//
// Each connection has its own FIFO and writer goroutine, so a slow or broken
// viewer never delays the others. A connection whose queue fills up or whose
// write fails is dropped; it recovers by reconnecting and bootstrapping again.
package channel

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/leapstack-labs/leapreport/internal/metrics"
	"github.com/leapstack-labs/leapreport/pkg/core"
)

// DefaultBuffer is the per-connection queue length used when none is set.
const DefaultBuffer = 256

// Conn is one viewer connection.
type Conn interface {
	Send(f core.Frame) error
	Close() error
}

// Transporter is implemented by connections that report their transport name
// for metrics.
type Transporter interface {
	Transport() string
}

// Channel broadcasts frames to all registered connections.
type Channel struct {
	mu     sync.RWMutex
	conns  map[string]*subscriber
	buffer int
	logger *slog.Logger
}

type subscriber struct {
	id        string
	transport string
	conn      Conn
	initial   []core.Frame
	queue     chan core.Frame
	stop      chan struct{}
	done      chan struct{}
	once      sync.Once
}

// New creates a channel. buffer <= 0 selects DefaultBuffer.
func New(buffer int, logger *slog.Logger) *Channel {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Channel{
		conns:  make(map[string]*subscriber),
		buffer: buffer,
		logger: logger,
	}
}

// AddConnection registers conn and starts its writer. initial frames are
// written before anything emitted after the call. The returned channel is
// closed once the connection has been removed and its writer has stopped.
func (c *Channel) AddConnection(conn Conn, initial ...core.Frame) (string, <-chan struct{}) {
	s := &subscriber{
		id:        uuid.NewString(),
		transport: transportOf(conn),
		conn:      conn,
		initial:   initial,
		queue:     make(chan core.Frame, c.buffer),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	c.mu.Lock()
	c.conns[s.id] = s
	c.mu.Unlock()

	metrics.ConnectionOpened(s.transport)
	c.logger.Debug("connection added", "conn", s.id, "transport", s.transport)

	go c.write(s)
	return s.id, s.done
}

// Remove drops the connection and waits for its writer to stop.
func (c *Channel) Remove(id string) {
	c.mu.RLock()
	s, ok := c.conns[id]
	c.mu.RUnlock()
	if !ok {
		return
	}
	c.drop(s, metrics.DropClosed)
	<-s.done
}

// Len returns the number of live connections.
func (c *Channel) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.conns)
}

// Emit serializes e once and enqueues it on every connection. Connections
// whose queue is full are dropped.
func (c *Channel) Emit(e core.Event) error {
	f, err := e.Frame()
	if err != nil {
		return err
	}
	metrics.FrameEmitted(e.Name)

	var stalled []*subscriber
	c.mu.RLock()
	for _, s := range c.conns {
		select {
		case s.queue <- f:
		default:
			stalled = append(stalled, s)
		}
	}
	c.mu.RUnlock()

	for _, s := range stalled {
		c.logger.Warn("dropping stalled connection", "conn", s.id, "event", e.Name, "seq", e.Seq)
		c.drop(s, metrics.DropStalled)
	}
	return nil
}

// Close drops every connection and waits for all writers.
func (c *Channel) Close() {
	c.mu.RLock()
	subs := make([]*subscriber, 0, len(c.conns))
	for _, s := range c.conns {
		subs = append(subs, s)
	}
	c.mu.RUnlock()

	for _, s := range subs {
		c.drop(s, metrics.DropClosed)
	}
	for _, s := range subs {
		<-s.done
	}
}

func (c *Channel) write(s *subscriber) {
	defer close(s.done)
	for _, f := range s.initial {
		if !c.send(s, f) {
			return
		}
	}
	s.initial = nil
	for {
		select {
		case <-s.stop:
			return
		case f := <-s.queue:
			if !c.send(s, f) {
				return
			}
		}
	}
}

func (c *Channel) send(s *subscriber, f core.Frame) bool {
	if err := s.conn.Send(f); err != nil {
		werr := &core.ChannelWriteError{ConnID: s.id, Event: f.Event, Err: err}
		c.logger.Warn("dropping connection", "error", werr)
		c.drop(s, metrics.DropWriteError)
		return false
	}
	return true
}

// drop unregisters s and closes its connection. It never waits for the
// writer, so the writer itself may call it.
func (c *Channel) drop(s *subscriber, reason string) {
	c.mu.Lock()
	delete(c.conns, s.id)
	c.mu.Unlock()

	s.once.Do(func() {
		close(s.stop)
		if err := s.conn.Close(); err != nil {
			c.logger.Debug("close connection", "conn", s.id, "error", err)
		}
		metrics.ConnectionClosed(s.transport, reason)
	})
}

func transportOf(conn Conn) string {
	if t, ok := conn.(Transporter); ok {
		return t.Transport()
	}
	return "other"
}
