// Package primitives implements the cooperative synchronization types
// built directly on coop.Suspend/coop.Current: Channel, Mutex, WaitGroup,
// Timer, and Ticker.
package primitives

import (
	"fmt"

	"github.com/coopkernel/coop"
)

// waitingSender is one entry in a Channel's waiting-senders queue: a task
// parked in Send, together with the value it is trying to hand off.
type waitingSender struct {
	task  *coop.Task
	value any
}

// Channel is a bounded FIFO with rendezvous semantics at capacity 0,
// exactly per spec §4.3. A capacity-N channel never holds more than N
// buffered values; waiting senders and waiting receivers are never both
// non-empty at once.
type Channel struct {
	capacity int
	buffer   []any
	closed   bool

	waitingSenders   []waitingSender
	waitingReceivers []*coop.Task
}

// NewChannel constructs a channel of the given capacity. Capacity 0
// yields pure rendezvous: every Send blocks until a Receive is waiting to
// take the value, and vice versa.
func NewChannel(capacity int) *Channel {
	if capacity < 0 {
		panic(fmt.Sprintf("primitives: negative channel capacity %d", capacity))
	}
	return &Channel{capacity: capacity}
}

// Send delivers v to the channel, suspending the calling task if no
// receiver is waiting and the buffer is full. Returns coop.ErrChannelClosed
// if the channel is closed, either immediately or upon being woken by a
// concurrent Close while suspended.
func (c *Channel) Send(v any) error {
	if c.closed {
		return coop.ErrChannelClosed
	}
	if len(c.waitingReceivers) > 0 {
		r := c.waitingReceivers[0]
		c.waitingReceivers = c.waitingReceivers[1:]
		r.Resume(v)
		return nil
	}
	if len(c.buffer) < c.capacity {
		c.buffer = append(c.buffer, v)
		return nil
	}

	t := requireCurrent("Channel.Send")
	c.waitingSenders = append(c.waitingSenders, waitingSender{task: t, value: v})
	res := coop.Suspend()
	if res == nil {
		return nil
	}
	if err, ok := res.(error); ok {
		return err
	}
	return nil
}

// Receive takes the next value, suspending the calling task if the
// channel is empty and open. Returns the zero value (nil) once the
// channel is closed and drained; callers that need to distinguish "closed"
// from "received nil" should use TryReceive or check Closed() first.
func (c *Channel) Receive() any {
	if len(c.buffer) > 0 {
		v := c.buffer[0]
		c.buffer = c.buffer[1:]
		c.admitOneSender()
		return v
	}
	if len(c.waitingSenders) > 0 {
		// Unbuffered case: a sender is parked with no room to have
		// enqueued into the buffer (capacity 0, or buffer momentarily
		// full between this Receive and the sender's own enqueue).
		ws := c.waitingSenders[0]
		c.waitingSenders = c.waitingSenders[1:]
		ws.task.Resume(nil)
		return ws.value
	}
	if c.closed {
		return nil
	}

	t := requireCurrent("Channel.Receive")
	c.waitingReceivers = append(c.waitingReceivers, t)
	return coop.Suspend()
}

// admitOneSender moves one waiting sender's value into the now-vacated
// buffer slot and wakes it, per spec §4.3's receive algorithm.
func (c *Channel) admitOneSender() {
	if len(c.waitingSenders) == 0 {
		return
	}
	ws := c.waitingSenders[0]
	c.waitingSenders = c.waitingSenders[1:]
	c.buffer = append(c.buffer, ws.value)
	ws.task.Resume(nil)
}

// TrySend is the non-suspending variant of Send: it returns false instead
// of blocking when Send would have suspended the caller. It never
// suspends, so it may be called from outside a task.
func (c *Channel) TrySend(v any) (ok bool, err error) {
	if c.closed {
		return false, coop.ErrChannelClosed
	}
	if len(c.waitingReceivers) > 0 {
		r := c.waitingReceivers[0]
		c.waitingReceivers = c.waitingReceivers[1:]
		r.Resume(v)
		return true, nil
	}
	if len(c.buffer) < c.capacity {
		c.buffer = append(c.buffer, v)
		return true, nil
	}
	return false, nil
}

// TryReceive is the non-suspending variant of Receive: it returns
// ok=false instead of blocking when Receive would have suspended the
// caller. It never suspends, so it may be called from outside a task.
func (c *Channel) TryReceive() (value any, ok bool) {
	if len(c.buffer) > 0 {
		v := c.buffer[0]
		c.buffer = c.buffer[1:]
		c.admitOneSender()
		return v, true
	}
	if len(c.waitingSenders) > 0 {
		ws := c.waitingSenders[0]
		c.waitingSenders = c.waitingSenders[1:]
		ws.task.Resume(nil)
		return ws.value, true
	}
	return nil, false
}

// Close marks the channel closed: every waiting receiver is woken with
// the zero value, every waiting sender is woken with ErrChannelClosed.
// Closing an already-closed channel is a no-op.
func (c *Channel) Close() {
	if c.closed {
		return
	}
	c.closed = true
	receivers := c.waitingReceivers
	c.waitingReceivers = nil
	senders := c.waitingSenders
	c.waitingSenders = nil
	for _, r := range receivers {
		r.Resume(nil)
	}
	for _, s := range senders {
		// Resumed (not thrown): Send reports this as a returned error, not
		// a panic, matching the non-suspended closed-channel error path.
		s.task.Resume(coop.ErrChannelClosed)
	}
}

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool { return c.closed }

// Len reports the number of buffered values currently held.
func (c *Channel) Len() int { return len(c.buffer) }

// Cap reports the channel's configured capacity.
func (c *Channel) Cap() int { return c.capacity }

func requireCurrent(op string) *coop.Task {
	t := coop.Current()
	if t == nil {
		panic("primitives: " + op + " called outside a task")
	}
	return t
}
