// Package queue is the bounded hand-off between the producers of outbound
// messages (poller, command executor, connection handlers) and the single
// dispatcher that fans them out to clients.
package queue

import (
	"context"
	"fmt"

	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/state"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 100

// Kind tags a Message.
type Kind int

const (
	// KindData carries a line for every connected client.
	KindData Kind = iota
	// KindShutdown stops the dispatcher and the accept loop.
	KindShutdown
	// KindRestart asks the supervisor to rebuild the relay.
	KindRestart
	// KindProbe checks that the queue is still being drained.
	KindProbe
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindShutdown:
		return "shutdown"
	case KindRestart:
		return "restart"
	case KindProbe:
		return "probe"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Message is one queue entry. Line is set for KindData; Event is set when
// the line was rendered from a change event.
type Message struct {
	Kind  Kind
	Line  string
	Event *state.ChangeEvent
}

// Data wraps a pre-rendered line.
func Data(line string) Message {
	return Message{Kind: KindData, Line: line}
}

// Notify renders a change event as a '#'-prefixed line.
func Notify(evt state.ChangeEvent) (Message, error) {
	line, err := evt.Notification()
	if err != nil {
		return Message{}, err
	}
	return Message{Kind: KindData, Line: line, Event: &evt}, nil
}

// Shutdown returns the terminal shutdown message.
func Shutdown() Message { return Message{Kind: KindShutdown} }

// Restart returns a restart request.
func Restart() Message { return Message{Kind: KindRestart} }

// Probe returns a liveness probe.
func Probe() Message { return Message{Kind: KindProbe} }

// Queue is a bounded FIFO. Put blocks while the queue is full.
type Queue struct {
	ch chan Message
}

// New creates a queue holding at most capacity messages.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{ch: make(chan Message, capacity)}
}

// Put enqueues msg, waiting for space until ctx is done.
func (q *Queue) Put(ctx context.Context, msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue: put %s: %w", msg.Kind, ctx.Err())
	}
}

// TryPut enqueues msg only if there is space.
func (q *Queue) TryPut(msg Message) bool {
	select {
	case q.ch <- msg:
		return true
	default:
		return false
	}
}

// Get dequeues the oldest message, waiting until one arrives or ctx is done.
func (q *Queue) Get(ctx context.Context) (Message, error) {
	select {
	case msg := <-q.ch:
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Len returns the number of queued messages.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }
