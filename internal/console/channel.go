package console

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/loykin/mcconsole/internal/scrollback"
)

var (
	// ErrChannelUnavailable means the subprocess never produced usable pipes.
	ErrChannelUnavailable = errors.New("console channel unavailable: subprocess failed to spawn")
	// ErrChannelClosed means the subprocess has exited and stdin is gone.
	ErrChannelClosed = errors.New("console channel closed: subprocess has exited")
)

// StreamFunc receives every console line until its registration is removed.
// Dispatch is fire-and-forget; implementations must be quick or offload.
type StreamFunc func(scrollback.Line)

// Channel bridges a subprocess's byte pipes to line-based consumers and
// accepts outbound commands. Raw stdout/stderr bytes are split into lines,
// timestamped, appended to the scrollback buffer, and then dispatched:
// every streaming consumer sees the line, then the oldest pending one-shot
// waiter (if any) is resolved with it and removed. One-shot resolution is
// FIFO by registration order; console output carries no request id, so
// submission order is the only correlation the protocol offers.
type Channel struct {
	mu        sync.Mutex
	buf       *scrollback.Buffer
	stdin     io.Writer
	closed    bool
	streaming map[int]StreamFunc
	nextID    int
	oneShots  []chan scrollback.Line
	readersWG sync.WaitGroup
}

// New returns a Channel appending lines to buf.
func New(buf *scrollback.Buffer) *Channel {
	return &Channel{buf: buf, streaming: make(map[int]StreamFunc)}
}

// Connect binds the channel to subprocess pipes and starts the reader
// goroutines. Any nil pipe means the spawn failed.
func (c *Channel) Connect(stdin io.Writer, stdout, stderr io.Reader) error {
	if stdin == nil || stdout == nil || stderr == nil {
		return ErrChannelUnavailable
	}
	c.mu.Lock()
	c.stdin = stdin
	c.closed = false
	c.mu.Unlock()
	c.readersWG.Add(2)
	go c.readPipe(stdout)
	go c.readPipe(stderr)
	return nil
}

func (c *Channel) readPipe(r io.Reader) {
	defer c.readersWG.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		text := strings.TrimRight(sc.Text(), "\r\n")
		c.dispatch(text, time.Now())
	}
	// scanner errors (including decode problems) are tolerated; the pipe
	// closing on process exit ends the loop.
}

// dispatch records the line and fans it out to consumers.
func (c *Channel) dispatch(text string, ts time.Time) {
	c.buf.Append(text, ts)
	line := scrollback.Line{Text: text, Timestamp: ts}

	c.mu.Lock()
	fns := make([]StreamFunc, 0, len(c.streaming))
	for _, fn := range c.streaming {
		fns = append(fns, fn)
	}
	var waiter chan scrollback.Line
	if len(c.oneShots) > 0 {
		waiter = c.oneShots[0]
		c.oneShots = c.oneShots[1:]
	}
	c.mu.Unlock()

	for _, fn := range fns {
		go fn(line)
	}
	if waiter != nil {
		// buffered with capacity 1: never blocks, exactly one delivery
		waiter <- line
	}
}

// AddStreaming registers a persistent consumer and returns its id.
func (c *Channel) AddStreaming(fn StreamFunc) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.streaming[c.nextID] = fn
	return c.nextID
}

// RemoveStreaming unregisters a persistent consumer.
func (c *Channel) RemoveStreaming(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.streaming, id)
}

// Expect registers a one-shot waiter immediately and returns a wait
// function. Registering before writing the command closes the window where
// a fast response could arrive with no waiter queued. The wait function
// blocks until the next console line or ctx is done; a waiter cancelled by
// ctx is removed from the pending queue so it cannot consume a later line.
func (c *Channel) Expect() func(ctx context.Context) (scrollback.Line, error) {
	ch := make(chan scrollback.Line, 1)
	c.mu.Lock()
	c.oneShots = append(c.oneShots, ch)
	c.mu.Unlock()

	return func(ctx context.Context) (scrollback.Line, error) {
		select {
		case line := <-ch:
			return line, nil
		case <-ctx.Done():
			c.removeWaiter(ch)
			// the line may have been delivered while we were cancelling
			select {
			case line := <-ch:
				return line, nil
			default:
			}
			return scrollback.Line{}, ctx.Err()
		}
	}
}

// AwaitLine blocks until the next console line is produced or ctx is done.
func (c *Channel) AwaitLine(ctx context.Context) (scrollback.Line, error) {
	return c.Expect()(ctx)
}

func (c *Channel) removeWaiter(ch chan scrollback.Line) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.oneShots {
		if w == ch {
			c.oneShots = append(c.oneShots[:i], c.oneShots[i+1:]...)
			return
		}
	}
}

// Write encodes the command, appends the line terminator, and writes it to
// the subprocess stdin.
func (c *Channel) Write(command string) error {
	c.mu.Lock()
	w := c.stdin
	closed := c.closed
	c.mu.Unlock()
	if w == nil {
		return ErrChannelUnavailable
	}
	if closed {
		return ErrChannelClosed
	}
	_, err := io.WriteString(w, command+"\n")
	return err
}

// MarkClosed flags the channel as dead after subprocess exit. Pending
// one-shot waiters are not resolved; their contexts time them out.
func (c *Channel) MarkClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// WaitReaders blocks until both pipe readers have drained, which happens
// once the subprocess exits and its pipes are closed.
func (c *Channel) WaitReaders() { c.readersWG.Wait() }
