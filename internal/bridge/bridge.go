// Package bridge implements the per-session bidirectional pump coupling an
// SSH channel to the client-facing frame transport: one goroutine drives
// the blocking, non-thread-safe SSH side, cooperating with a separate
// output-emission task and an externally driven input receiver through
// FIFO queues.
package bridge

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/webssh/gateway/internal/frame"
	"github.com/webssh/gateway/internal/sshsession"
)

// SSHChannel is the subset of the SSH session object the bridge drives.
// golang.org/x/crypto/ssh's Channel has no WouldBlock-style non-blocking
// read; the bridge approximates it with a dedicated reader goroutine
// feeding a buffered channel, polled non-blockingly by the SSH loop (see
// readPump below).
type SSHChannel interface {
	io.Reader
	io.Writer
	ResizePTY(rows, cols uint32) error
	SendKeepalive() error
	IsShutdown() bool
	Close() error
}

// Transport is the subset of the upgraded client connection the bridge
// needs: emit a frame, tear the connection down, or fail.
type Transport interface {
	WriteMessage(data []byte, binary bool) error
	Close() error
}

const (
	readChunkSize    = 4096
	pollInterval     = 10 * time.Millisecond
	defaultKeepalive = 30 * time.Second

	// errorFlushPause is how long the bridge waits after enqueuing a fatal
	// error frame before closing the transport, giving the write a chance
	// to actually reach the client before the connection drops.
	errorFlushPause = 100 * time.Millisecond
)

// Bridge owns one session's three event streams: client input, SSH output,
// and resize events.
type Bridge struct {
	ssh       SSHChannel
	transport Transport

	input  chan []byte
	resize chan [2]uint32
	output chan []byte

	// closed is closed exactly once, by sshLoop on exit, to signal that
	// nothing is draining b.input any more: EnqueueInput selects against it
	// instead of blocking forever on an abandoned queue.
	closed chan struct{}

	keepaliveInterval time.Duration
	fullscreen        bool
	log               zerolog.Logger
}

// New constructs a bridge over an already-open SSH channel and a transport
// to emit frames on.
func New(ch SSHChannel, transport Transport, keepaliveInterval time.Duration, log zerolog.Logger) *Bridge {
	if keepaliveInterval <= 0 {
		keepaliveInterval = defaultKeepalive
	}
	return &Bridge{
		ssh:               ch,
		transport:         transport,
		input:             make(chan []byte, 256),
		resize:            make(chan [2]uint32, 32),
		output:            make(chan []byte, 256),
		closed:            make(chan struct{}),
		keepaliveInterval: keepaliveInterval,
		log:               log,
	}
}

// EnqueueInput offers client-originated bytes to the SSH writer. The input
// queue is single-producer: the caller (the gateway's receiver task) must
// be the only goroutine invoking this for a given bridge. If the SSH-owning
// goroutine has already exited, nothing will ever drain the queue; rather
// than block forever, the input side reports the session as gone and tears
// the transport down.
func (b *Bridge) EnqueueInput(p []byte) {
	// Check closed first: b.input is buffered, so a single select could
	// otherwise pick the buffered send over an already-closed signal and
	// mask an abandoned queue until the buffer finally fills.
	select {
	case <-b.closed:
		b.emitErrorAndClose("SSH input side is no longer available. Please reconnect.")
		return
	default:
	}
	cp := append([]byte(nil), p...)
	select {
	case b.input <- cp:
	case <-b.closed:
		b.emitErrorAndClose("SSH input side is no longer available. Please reconnect.")
	}
}

// emitErrorAndClose sends a fatal error frame, gives it a moment to reach
// the client, then closes the transport.
func (b *Bridge) emitErrorAndClose(message string) {
	b.transport.WriteMessage(frame.EncodeError(message), false)
	time.Sleep(errorFlushPause)
	b.transport.Close()
}

// EnqueueResize offers a clamped (rows, cols) event to the resize queue,
// consumed on the SSH-owning goroutine so PTY resize calls stay serialized.
func (b *Bridge) EnqueueResize(rows, cols uint32) {
	b.resize <- [2]uint32{rows, cols}
}

// HandleClientMessage is the input receiver task's entry point: it parses
// one client-originated message (a JSON text control frame, or raw binary
// data) and reacts per the frame protocol. Binary messages are forwarded
// verbatim; text messages are decoded per internal/frame and dispatched.
func (b *Bridge) HandleClientMessage(data []byte, isBinary bool) {
	if isBinary {
		b.EnqueueInput(data)
		return
	}
	cmd := frame.DecodeCommand(data)
	switch {
	case cmd.Input != nil:
		b.EnqueueInput([]byte(cmd.Input.Data))
	case cmd.Resize != nil:
		b.EnqueueResize(cmd.Resize.Rows, cmd.Resize.Cols)
		b.transport.WriteMessage(frame.EncodeInfo(resizeMessage(cmd.Resize.Rows, cmd.Resize.Cols)), false)
	case cmd.Ping != nil:
		b.transport.WriteMessage(frame.EncodePong(), false)
	default:
		// Malformed JSON or an unrecognized type: logged, never fatal to
		// the session.
		b.log.Warn().
			Err(sshsession.NewProtocolError("bridge.HandleClientMessage", string(data))).
			Bool("malformed", cmd.Malformed).
			Msg("dropped unrecognized client frame")
	}
}

func resizeMessage(rows, cols uint32) string {
	return "Terminal resized to " + itoa(cols) + "x" + itoa(rows)
}

func itoa(n uint32) string {
	if n == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Run drives the bridge until ctx is canceled, the SSH side reaches EOF or
// an unrecoverable error, or the input side closes. The SSH loop and the
// output-emission task are supervised by an errgroup: either finishing
// tears the other down. The caller is responsible for closing the
// underlying transport once Run returns.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reads := make(chan readResult, 1)
	go b.readPump(ctx, reads)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.sshLoop(gctx, reads) })
	g.Go(func() error { return b.outputPump(gctx) })
	return g.Wait()
}

type readResult struct {
	data []byte
	err  error
}

// readPump performs the blocking SSH channel reads on a dedicated
// goroutine, translating them into a buffered channel the SSH loop can
// poll non-blockingly — this bridge's emulation of the WouldBlock polling
// the design assumes of the underlying SSH library.
func (b *Bridge) readPump(ctx context.Context, out chan<- readResult) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := b.ssh.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case out <- readResult{data: chunk}:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			select {
			case out <- readResult{err: err}:
			case <-ctx.Done():
			}
			return
		}
	}
}

// sshLoop is the main loop driving the SSH thread: keepalive, resize
// drain, non-blocking-emulated read (forwarding chunks to the output
// queue), non-blocking-emulated input drain.
func (b *Bridge) sshLoop(ctx context.Context, reads <-chan readResult) error {
	defer close(b.output)
	defer close(b.closed)
	lastKeepalive := time.Now()
	for {
		if b.ssh.IsShutdown() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if time.Since(lastKeepalive) >= b.keepaliveInterval {
			if err := b.ssh.SendKeepalive(); err != nil {
				return err
			}
			lastKeepalive = time.Now()
		}

		b.drainResize()

		if done, err := b.drainRead(reads); done {
			return err
		}

		if err := b.drainInput(); err != nil {
			return err
		}

		time.Sleep(pollInterval)
	}
}

func (b *Bridge) drainResize() {
	for {
		select {
		case rc := <-b.resize:
			b.ssh.ResizePTY(rc[0], rc[1])
		default:
			return
		}
	}
}

// drainRead polls for an already-arrived chunk from the read pump. Returns
// done=true when the SSH loop must stop (EOF or a hard error).
func (b *Bridge) drainRead(reads <-chan readResult) (done bool, err error) {
	select {
	case r := <-reads:
		if r.err != nil {
			if r.err == io.EOF {
				b.output <- []byte(frame.FarewellMessage)
				b.ssh.Close()
				return true, nil
			}
			return true, r.err
		}
		b.output <- r.data
		return false, nil
	default:
		return false, nil
	}
}

func (b *Bridge) drainInput() error {
	for {
		select {
		case chunk := <-b.input:
			if _, err := b.ssh.Write(chunk); err != nil {
				if isClosedClassError(err) {
					b.ssh.Close()
					b.emitErrorAndClose("SSH connection has been closed. Please reconnect.")
					return nil
				}
				return err
			}
		default:
			return nil
		}
	}
}

// outputPump is the output-frame-emission runtime task: it reads the
// output queue and emits a binary frame per chunk, with the optional
// full-screen-application detection latch.
func (b *Bridge) outputPump(ctx context.Context) error {
	for {
		select {
		case chunk, ok := <-b.output:
			if !ok {
				return nil
			}
			if err := b.transport.WriteMessage(chunk, true); err != nil {
				return err
			}
			if !b.fullscreen && looksFullScreen(chunk) {
				b.fullscreen = true
			}
			if b.fullscreen {
				time.Sleep(10 * time.Millisecond)
				b.transport.WriteMessage(frame.EncodeRefresh(true), false)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

var fullScreenMarkers = [][]byte{
	[]byte("\x1b[H"),
	[]byte("\x1b[2J"),
	[]byte("top -"),
	[]byte("Tasks:"),
	[]byte("Cpu(s):"),
}

func looksFullScreen(chunk []byte) bool {
	for _, marker := range fullScreenMarkers {
		if bytes.Contains(chunk, marker) {
			return true
		}
	}
	return false
}

func isClosedClassError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, needle := range []string{"broken pipe", "connection reset", "closed", "EOF"} {
		if bytes.Contains([]byte(msg), []byte(needle)) {
			return true
		}
	}
	return false
}
