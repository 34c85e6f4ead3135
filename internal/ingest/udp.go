// Package ingest owns the telemetry datagram socket.
//
// A Listener moves through Stopped → Starting → Running → Stopping → Stopped.
// One goroutine receives datagrams and hands each to the Handler before reading
// the next, so processing order equals socket arrival order. Stop closes the
// socket to unblock the pending read; the error that read returns is expected
// and not reported. Datagrams longer than the read buffer are dropped whole,
// never passed on truncated.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"airdetect/internal/metrics"
)

var (
	// ErrBind is returned by Start when the socket cannot be opened.
	ErrBind = errors.New("udp bind failed")
	// ErrAlreadyStarted is returned by Start unless the listener is Stopped.
	ErrAlreadyStarted = errors.New("udp listener already started")
)

const (
	DefaultReadBufferSize = 2048
	defaultStopTimeout    = 5 * time.Second

	receiveBackoffMin = 5 * time.Millisecond
	receiveBackoffMax = time.Second
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// Handler processes one datagram. payload is only valid for the duration of
// the call.
type Handler interface {
	HandleDatagram(payload []byte, from net.Addr)
}

type HandlerFunc func(payload []byte, from net.Addr)

func (f HandlerFunc) HandleDatagram(payload []byte, from net.Addr) { f(payload, from) }

// Recorder receives socket accounting. *metrics.Metrics implements it.
type Recorder interface {
	DatagramReceived(n int)
	ReceiveError()
	ReadingRejected(reason string)
}

type noopRecorder struct{}

func (noopRecorder) DatagramReceived(int)   {}
func (noopRecorder) ReceiveError()          {}
func (noopRecorder) ReadingRejected(string) {}

// datagramConn is the part of *net.UDPConn the receive loop uses.
type datagramConn interface {
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	LocalAddr() net.Addr
	Close() error
}

type Config struct {
	Bind string
	// Port 0 lets the OS pick a port; see Addr.
	Port int
	// ReadBufferSize bounds the accepted payload; longer datagrams are dropped
	// and counted as malformed input.
	ReadBufferSize int
}

type Listener struct {
	cfg      Config
	handler  Handler
	logger   *slog.Logger
	recorder Recorder

	state    atomic.Int32
	stopping atomic.Bool

	mu        sync.Mutex
	conn      datagramConn
	done      chan struct{}
	quit      chan struct{}
	stopWatch func() bool

	bind func(hostPort string) (datagramConn, error)
}

func NewListener(cfg Config, handler Handler, logger *slog.Logger, recorder Recorder) *Listener {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = DefaultReadBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Listener{
		cfg:      cfg,
		handler:  handler,
		logger:   logger.With("component", "udp-ingest"),
		recorder: recorder,
		bind:     bindUDP,
	}
}

func (l *Listener) State() State {
	return State(l.state.Load())
}

func (l *Listener) setState(s State) {
	prev := State(l.state.Swap(int32(s)))
	if prev != s {
		l.logger.Debug("state change", "from", prev.String(), "to", s.String())
	}
}

// Addr returns the bound local address, or nil when not running.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Start binds the socket and launches the receive loop. A bind failure is
// returned wrapped in ErrBind and leaves the listener Stopped; it is not
// retried. Cancelling ctx stops the listener.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.State() != StateStopped {
		return ErrAlreadyStarted
	}
	l.setState(StateStarting)

	hostPort := net.JoinHostPort(l.cfg.Bind, strconv.Itoa(l.cfg.Port))
	conn, err := l.bind(hostPort)
	if err != nil {
		l.setState(StateStopped)
		l.logger.Error("udp listener failed to start", "addr", hostPort, "error", err)
		return fmt.Errorf("%w: %s: %v", ErrBind, hostPort, err)
	}

	l.conn = conn
	l.done = make(chan struct{})
	l.quit = make(chan struct{})
	l.stopping.Store(false)
	l.setState(StateRunning)

	go l.readLoop(conn, l.done, l.quit)

	l.stopWatch = context.AfterFunc(ctx, func() {
		if err := l.Stop(defaultStopTimeout); err != nil {
			l.logger.Error("udp listener stop on cancel", "error", err)
		}
	})

	l.logger.Info("udp listener started", "addr", conn.LocalAddr().String())
	return nil
}

func bindUDP(hostPort string) (datagramConn, error) {
	addr, err := net.ResolveUDPAddr("udp", hostPort)
	if err != nil {
		return nil, fmt.Errorf("resolve: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	return conn, nil
}

// Stop closes the socket and waits up to timeout for the receive loop to
// finish the datagram it is processing. Stopping a listener that is not
// running is a no-op.
func (l *Listener) Stop(timeout time.Duration) error {
	l.mu.Lock()
	if l.State() != StateRunning {
		done := l.done
		l.mu.Unlock()
		if done != nil && l.State() == StateStopping {
			return waitDone(done, timeout)
		}
		return nil
	}
	l.setState(StateStopping)
	l.stopping.Store(true)
	conn, done := l.conn, l.done
	close(l.quit)
	if l.stopWatch != nil {
		l.stopWatch()
		l.stopWatch = nil
	}
	l.mu.Unlock()

	if err := conn.Close(); err != nil {
		l.logger.Debug("udp close", "error", err)
	}
	if err := waitDone(done, timeout); err != nil {
		return err
	}
	l.logger.Info("udp listener stopped")
	return nil
}

func waitDone(done <-chan struct{}, timeout time.Duration) error {
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("udp listener stop timeout after %v", timeout)
	}
}

func (l *Listener) readLoop(conn datagramConn, done, quit chan struct{}) {
	defer func() {
		l.mu.Lock()
		if l.conn == conn {
			l.conn = nil
		}
		if l.stopWatch != nil {
			l.stopWatch()
			l.stopWatch = nil
		}
		l.setState(StateStopped)
		l.mu.Unlock()
		close(done)
	}()

	// One spare byte tells an exactly full datagram from a longer one.
	limit := l.cfg.ReadBufferSize
	buf := make([]byte, limit+1)
	backoff := time.Duration(0)
	failures := 0
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if l.stopping.Load() {
				return
			}
			if errors.Is(err, net.ErrClosed) {
				l.logger.Error("udp socket closed unexpectedly", "error", err)
				return
			}
			l.recorder.ReceiveError()
			failures++
			if failures == 1 {
				l.logger.Error("udp receive failed", "error", err)
			} else {
				l.logger.Debug("udp receive failed", "consecutive", failures, "error", err)
			}
			backoff = nextBackoff(backoff)
			select {
			case <-quit:
				return
			case <-time.After(backoff):
			}
			continue
		}
		if failures > 0 {
			l.logger.Warn("udp receive recovered", "failed_reads", failures)
			failures, backoff = 0, 0
		}

		l.recorder.DatagramReceived(n)
		if n > limit {
			l.recorder.ReadingRejected(metrics.ReasonMalformedInput)
			l.logger.Warn("datagram exceeds read buffer, dropped", "from", from.String(), "limit", limit)
			continue
		}
		l.logger.Debug("datagram received", "from", from.String(), "size", n)
		l.dispatch(buf[:n], from)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return receiveBackoffMin
	}
	return min(2*d, receiveBackoffMax)
}

// dispatch runs the handler and turns a panic into a logged error so one bad
// datagram cannot end the loop.
func (l *Listener) dispatch(payload []byte, from *net.UDPAddr) {
	defer func() {
		if rec := recover(); rec != nil {
			l.recorder.ReceiveError()
			l.logger.Error("datagram handler panicked", "from", from.String(), "panic", fmt.Sprint(rec))
		}
	}()
	l.handler.HandleDatagram(payload, from)
}
