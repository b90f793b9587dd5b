package console

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loykin/mcconsole/internal/scrollback"
)

func newConnected(t *testing.T) (*Channel, *io.PipeWriter, *bytes.Buffer, *scrollback.Buffer) {
	t.Helper()
	buf := scrollback.New(0)
	c := New(buf)
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	var stdin bytes.Buffer
	if err := c.Connect(&stdin, outR, errR); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		_ = outW.Close()
		_ = errW.Close()
	})
	return c, outW, &stdin, buf
}

func TestConnectRejectsNilPipes(t *testing.T) {
	c := New(scrollback.New(0))
	if err := c.Connect(nil, nil, nil); err != ErrChannelUnavailable {
		t.Fatalf("expected ErrChannelUnavailable, got %v", err)
	}
}

func TestWriteAppendsNewline(t *testing.T) {
	c, _, stdin, _ := newConnected(t)
	if err := c.Write("stop"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := stdin.String(); got != "stop\n" {
		t.Fatalf("expected %q, got %q", "stop\n", got)
	}
}

func TestWriteAfterCloseFails(t *testing.T) {
	c, _, _, _ := newConnected(t)
	c.MarkClosed()
	if err := c.Write("stop"); err != ErrChannelClosed {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}
}

func TestLinesReachScrollbackAndStreaming(t *testing.T) {
	c, outW, _, buf := newConnected(t)

	var mu sync.Mutex
	var seen []string
	done := make(chan struct{}, 2)
	c.AddStreaming(func(ln scrollback.Line) {
		mu.Lock()
		seen = append(seen, ln.Text)
		mu.Unlock()
		done <- struct{}{}
	})

	if _, err := io.WriteString(outW, "hello\nworld\n"); err != nil {
		t.Fatalf("pipe write: %v", err)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for streaming dispatch")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("expected 2 lines, got %v", seen)
	}
	if buf.Len() != 2 {
		t.Fatalf("expected scrollback len 2, got %d", buf.Len())
	}
	lines := buf.Snapshot()
	if lines[0].Text != "hello" || lines[1].Text != "world" {
		t.Fatalf("unexpected scrollback order: %+v", lines)
	}
}

func TestAwaitLineResolvesOnceFIFO(t *testing.T) {
	c, outW, _, _ := newConnected(t)

	type result struct {
		text string
		err  error
	}
	first := make(chan result, 1)
	second := make(chan result, 1)
	ready := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		close(ready)
		ln, err := c.AwaitLine(ctx)
		first <- result{ln.Text, err}
	}()
	<-ready
	// ensure the first waiter is registered before the second
	waitForWaiters(t, c, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ln, err := c.AwaitLine(ctx)
		second <- result{ln.Text, err}
	}()
	waitForWaiters(t, c, 2)

	if _, err := io.WriteString(outW, "one\ntwo\n"); err != nil {
		t.Fatalf("pipe write: %v", err)
	}

	r1 := <-first
	r2 := <-second
	if r1.err != nil || r2.err != nil {
		t.Fatalf("await errors: %v %v", r1.err, r2.err)
	}
	if r1.text != "one" || r2.text != "two" {
		t.Fatalf("expected FIFO resolution (one, two), got (%s, %s)", r1.text, r2.text)
	}
	// both waiters consumed; queue empty
	waitForWaiters(t, c, 0)
}

func TestAwaitLineCancelRemovesWaiter(t *testing.T) {
	c, outW, _, _ := newConnected(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.AwaitLine(ctx); err == nil {
		t.Fatalf("expected context error")
	}
	waitForWaiters(t, c, 0)

	// a later line must go to a live waiter, not the cancelled one
	got := make(chan string, 1)
	go func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		ln, _ := c.AwaitLine(ctx2)
		got <- ln.Text
	}()
	waitForWaiters(t, c, 1)
	if _, err := io.WriteString(outW, "later\n"); err != nil {
		t.Fatalf("pipe write: %v", err)
	}
	if text := <-got; text != "later" {
		t.Fatalf("expected %q, got %q", "later", text)
	}
}

func waitForWaiters(t *testing.T, c *Channel, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		cur := len(c.oneShots)
		c.mu.Unlock()
		if cur == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d pending waiters", n)
}

func TestCarriageReturnTrimmed(t *testing.T) {
	c, outW, _, buf := newConnected(t)
	if _, err := io.WriteString(outW, "windows line\r\n"); err != nil {
		t.Fatalf("pipe write: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for buf.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	lines := buf.Snapshot()
	if len(lines) != 1 || strings.ContainsRune(lines[0].Text, '\r') {
		t.Fatalf("expected trimmed line, got %+v", lines)
	}
	_ = c
}
