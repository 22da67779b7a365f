// internal/transport/stdio.go
// The stdio transport speaks the external line-delimited protocol: inbound
// goal messages one per line on the reader, outbound events one JSON object
// per line on the writer. stdout is the wire, so nothing else in the process
// may write to it.

package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxLineBytes bounds one inbound protocol line.
const maxLineBytes = 1 << 20

// Stdio pumps messages in and events out over a reader/writer pair. Events
// are delivered FIFO; the first write error poisons the transport, after
// which Done is closed and Err reports the cause. A poisoned transport never
// reorders or silently drops an event it already wrote.
type Stdio struct {
	reader io.Reader
	writer io.Writer
	logger *zap.Logger

	messages chan schemas.InboundMessage
	events   chan schemas.Event

	done     chan struct{}
	poisonMu sync.Mutex
	err      error

	wg sync.WaitGroup
}

// NewStdio creates a transport over the given streams. bufferSize bounds the
// outbound event queue; the session controller blocks (or fails over to
// Done) once it fills.
func NewStdio(r io.Reader, w io.Writer, bufferSize int, logger *zap.Logger) *Stdio {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Stdio{
		reader:   r,
		writer:   w,
		logger:   logger.Named("transport"),
		messages: make(chan schemas.InboundMessage, bufferSize),
		events:   make(chan schemas.Event, bufferSize),
		done:     make(chan struct{}),
	}
}

// Start launches the read and write pumps. The read pump stops at EOF and
// closes Messages; the write pump stops on context cancellation (after
// draining queued events) or on the first write error.
func (t *Stdio) Start(ctx context.Context) {
	t.wg.Add(2)
	go t.readLoop()
	go t.writeLoop(ctx)
}

// Wait blocks until both pumps have stopped. The read pump stops only when
// the reader reaches EOF or fails, matching process-stdin lifetime.
func (t *Stdio) Wait() {
	t.wg.Wait()
}

// Messages is the inbound stream; closed when the reader ends.
func (t *Stdio) Messages() <-chan schemas.InboundMessage {
	return t.messages
}

// Events is the outbound sink drained by the write pump.
func (t *Stdio) Events() chan<- schemas.Event {
	return t.events
}

// Done is closed once the transport can no longer deliver events.
func (t *Stdio) Done() <-chan struct{} {
	return t.done
}

// Err reports why the transport was poisoned, nil while healthy.
func (t *Stdio) Err() error {
	t.poisonMu.Lock()
	defer t.poisonMu.Unlock()
	return t.err
}

func (t *Stdio) poison(err error) {
	t.poisonMu.Lock()
	defer t.poisonMu.Unlock()
	if t.err != nil {
		return
	}
	t.err = err
	close(t.done)
}

func (t *Stdio) readLoop() {
	defer t.wg.Done()
	defer close(t.messages)

	scanner := bufio.NewScanner(t.reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		msg, err := schemas.ParseInbound(line)
		if err != nil {
			// The event stream is the only observer; a rejected line must
			// be answered there, never just logged.
			t.logger.Warn("Rejecting unparseable inbound line", zap.Error(err))
			t.reply(schemas.Event{
				ActionLog: "Invalid message",
				Status:    schemas.StatusError,
				Response:  fmt.Sprintf("Could not parse the message: %v", err),
			})
			continue
		}
		t.messages <- msg
	}
	if err := scanner.Err(); err != nil {
		t.logger.Error("Inbound stream read failed", zap.Error(err))
		return
	}
	t.logger.Info("Inbound stream reached EOF")
}

// reply enqueues a transport-originated event, giving up if the transport is
// already poisoned.
func (t *Stdio) reply(ev schemas.Event) {
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

func (t *Stdio) writeLoop(ctx context.Context) {
	defer t.wg.Done()

	for {
		select {
		case <-ctx.Done():
			t.drain()
			return
		case ev := <-t.events:
			if !t.writeEvent(ev) {
				return
			}
		}
	}
}

// drain flushes events already accepted before shutdown.
func (t *Stdio) drain() {
	for {
		select {
		case ev := <-t.events:
			if !t.writeEvent(ev) {
				return
			}
		default:
			return
		}
	}
}

func (t *Stdio) writeEvent(ev schemas.Event) bool {
	payload, err := json.Marshal(ev)
	if err != nil {
		// Events are plain structs; a marshal failure is a programming
		// error, not a transport fault.
		t.logger.Error("Dropping unmarshalable event", zap.Error(err))
		return true
	}
	payload = append(payload, '\n')
	if _, err := t.writer.Write(payload); err != nil {
		t.logger.Error("Outbound write failed, poisoning transport", zap.Error(err))
		t.poison(err)
		return false
	}
	return true
}
