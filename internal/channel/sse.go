package channel

import (
	"context"
	"strconv"

	"github.com/leapstack-labs/leapreport/pkg/core"
	"github.com/starfederation/datastar-go/datastar"
)

// SSEConn writes frames as server-sent events: the event name is the
// canonical event, the id is the sequence number and the data is the JSON
// payload.
type SSEConn struct {
	sse    *datastar.ServerSentEventGenerator
	cancel context.CancelFunc
}

// NewSSEConn wraps sse. cancel is called on Close to end the request that
// owns the stream.
func NewSSEConn(sse *datastar.ServerSentEventGenerator, cancel context.CancelFunc) *SSEConn {
	return &SSEConn{sse: sse, cancel: cancel}
}

func (c *SSEConn) Send(f core.Frame) error {
	return c.sse.Send(
		datastar.EventType(f.Event),
		[]string{string(f.Data)},
		datastar.WithSSEEventId(strconv.FormatUint(f.Seq, 10)),
	)
}

func (c *SSEConn) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *SSEConn) Transport() string { return "sse" }
