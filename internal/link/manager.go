// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package link keeps a line-oriented channel alive over a serial endpoint
// that may come and go.
package link

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrNoData means one read timeout elapsed without a line. Recoverable.
	ErrNoData = errors.New("link: no data")
	// ErrLinkDown means the connection was dropped and must be reopened.
	ErrLinkDown = errors.New("link: down")
	// ErrLinkUnavailable means no endpoint could be found or opened.
	ErrLinkUnavailable = errors.New("link: unavailable")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("link: closed")
)

const (
	lineQueue   = 16
	maxLineLen  = 256
	idleBackoff = 10 * time.Millisecond
)

// Options configures a Manager.
type Options struct {
	BaudRate         int
	ConnectTimeout   time.Duration // bounds discovery, open and the reset delay together
	ResetDelay       time.Duration // bytes received this long after open are discarded
	ReadTimeout      time.Duration
	TimeoutThreshold int // read windows without a valid frame before the link is declared down

	Discoverer Discoverer
	Opener     Opener

	Logger        zerolog.Logger
	OnStateChange func(LinkState)
}

// Manager owns the serial connection lifecycle.
//
// Open and ReadLine are meant to be driven by a single goroutine.
// State and Close may be called from anywhere.
type Manager struct {
	opts Options
	log  zerolog.Logger

	mu          sync.Mutex
	state       LinkState
	conn        *conn
	timeouts    int
	unconfirmed bool      // a line was handed out and FrameOK has not been called since
	lastValid   time.Time // last FrameOK, or the moment the link came up
	closed      bool
}

// NewManager returns a Manager in the Disconnected state.
func NewManager(opts Options) *Manager {
	if opts.Opener == nil {
		opts.Opener = SerialOpener
	}
	if opts.TimeoutThreshold < 1 {
		opts.TimeoutThreshold = 1
	}
	return &Manager{
		opts:  opts,
		log:   opts.Logger,
		state: LinkState{State: Disconnected},
	}
}

// State returns the current link state.
func (m *Manager) State() LinkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Open discovers and opens the endpoint. It returns nil once the link is
// Connected, or an error wrapping ErrLinkUnavailable with the state back at
// Disconnected. Calling Open while Connected is a no-op.
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state.State == Connected {
		m.mu.Unlock()
		return nil
	}
	stale := m.conn
	m.conn = nil
	m.resetWindowLocked()
	// Connecting is entered under the same lock as the closed check so a
	// concurrent Close cannot be overwritten.
	prev := m.state
	m.state = LinkState{State: Connecting}
	m.mu.Unlock()

	if stale != nil {
		stale.close()
	}
	m.notify(prev, LinkState{State: Connecting})

	c, path, err := m.connect(ctx)
	if err != nil {
		if m.transitionUnlessClosed(LinkState{State: Disconnected}) {
			return ErrClosed
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrLinkUnavailable, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		c.close()
		return ErrClosed
	}
	m.conn = c
	m.resetWindowLocked()
	prev = m.state
	m.state = LinkState{State: Connected, Port: path}
	m.mu.Unlock()

	m.notify(prev, LinkState{State: Connected, Port: path})
	return nil
}

// FrameOK tells the manager the last line decoded into a valid frame. Only
// valid frames reset the degrade count; undecodable lines do not.
func (m *Manager) FrameOK() {
	m.mu.Lock()
	m.resetWindowLocked()
	m.mu.Unlock()
}

func (m *Manager) resetWindowLocked() {
	m.timeouts = 0
	m.unconfirmed = false
	m.lastValid = time.Now()
}

func (m *Manager) connect(ctx context.Context) (*conn, string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	if m.opts.Discoverer == nil {
		return nil, "", errors.New("no discoverer configured")
	}
	path, err := m.opts.Discoverer.Discover(ctx)
	if err != nil {
		return nil, "", err
	}

	port, err := m.openPort(ctx, path)
	if err != nil {
		return nil, path, err
	}
	m.log.Debug().Str("port", path).Int("baud", m.opts.BaudRate).Msg("serial port opened")

	c := newConn(port)
	go c.readLoop()

	// the peripheral reboots when the port opens; drop whatever it printed meanwhile
	if m.opts.ResetDelay > 0 {
		select {
		case <-time.After(m.opts.ResetDelay):
		case <-ctx.Done():
			c.close()
			return nil, path, fmt.Errorf("waiting for %s to reset: %w", path, ctx.Err())
		}
	}
	c.drain()

	return c, path, nil
}

// openPort runs the opener in its own goroutine so a hung driver cannot
// outlive the connect timeout.
func (m *Manager) openPort(ctx context.Context, path string) (Port, error) {
	type result struct {
		port Port
		err  error
	}
	done := make(chan result, 1)
	go func() {
		p, err := m.opts.Opener(ctx, path, m.opts.BaudRate)
		done <- result{p, err}
	}()

	select {
	case r := <-done:
		return r.port, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.port != nil {
				_ = r.port.Close()
			}
		}()
		return nil, fmt.Errorf("opening %s: %w", path, ctx.Err())
	}
}

// ReadLine returns the newest complete line received since the last call,
// without its terminator. It blocks for at most the read timeout and fails
// with ErrNoData on timeout. The handle is closed, the state becomes Degraded
// and ErrLinkDown is returned on a read error, after TimeoutThreshold
// consecutive timeouts, or when lines keep arriving but none was confirmed
// with FrameOK for TimeoutThreshold read timeouts. Call Open to reconnect.
func (m *Manager) ReadLine(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrClosed
	}
	c := m.conn
	st := m.state
	window := m.opts.ReadTimeout * time.Duration(m.opts.TimeoutThreshold)
	noise := m.unconfirmed && time.Since(m.lastValid) >= window
	m.mu.Unlock()

	if c == nil || st.State != Connected {
		return "", fmt.Errorf("%w: %s", ErrLinkDown, st)
	}
	if noise {
		reason := fmt.Sprintf("no valid frame for %s", window)
		m.degrade(c, reason)
		return "", fmt.Errorf("%w: %s", ErrLinkDown, reason)
	}

	timer := time.NewTimer(m.opts.ReadTimeout)
	defer timer.Stop()

	select {
	case line := <-c.lines:
		// only the latest sample matters
		for more := true; more; {
			select {
			case l := <-c.lines:
				line = l
			default:
				more = false
			}
		}
		m.mu.Lock()
		m.unconfirmed = true
		m.mu.Unlock()
		return line, nil

	case err := <-c.errs:
		reason := fmt.Sprintf("read error: %v", err)
		m.degrade(c, reason)
		return "", fmt.Errorf("%w: %s", ErrLinkDown, reason)

	case <-timer.C:
		m.mu.Lock()
		m.timeouts++
		n := m.timeouts
		m.mu.Unlock()
		if n < m.opts.TimeoutThreshold {
			return "", ErrNoData
		}
		reason := fmt.Sprintf("no data for %d reads", n)
		m.degrade(c, reason)
		return "", fmt.Errorf("%w: %s", ErrLinkDown, reason)

	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *Manager) degrade(c *conn, reason string) {
	m.mu.Lock()
	if m.conn != c {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.timeouts = 0
	m.unconfirmed = false
	m.mu.Unlock()

	c.close()
	m.transitionUnlessClosed(LinkState{State: Degraded, Reason: reason})
}

// Close drops the connection and makes every later call fail with ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	c := m.conn
	m.conn = nil
	m.mu.Unlock()

	var err error
	if c != nil {
		err = c.close()
	}
	m.transition(LinkState{State: Disconnected})
	return err
}

func (m *Manager) transition(ls LinkState) {
	m.mu.Lock()
	prev := m.state
	m.state = ls
	m.mu.Unlock()
	m.notify(prev, ls)
}

// transitionUnlessClosed reports true, leaving the state alone, when Close
// already ran.
func (m *Manager) transitionUnlessClosed(ls LinkState) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return true
	}
	prev := m.state
	m.state = ls
	m.mu.Unlock()
	m.notify(prev, ls)
	return false
}

func (m *Manager) notify(prev, ls LinkState) {
	if prev == ls {
		return
	}

	ev := m.log.Info()
	if ls.State == Degraded {
		ev = m.log.Warn()
	}
	ev.Stringer("from", prev).Stringer("to", ls).Msg("link state changed")

	if m.opts.OnStateChange != nil {
		m.opts.OnStateChange(ls)
	}
}

// conn is one open handle plus the goroutine splitting its bytes into lines.
type conn struct {
	port  Port
	lines chan string
	errs  chan error
	done  chan struct{}
	once  sync.Once
	err   error
}

func newConn(p Port) *conn {
	return &conn{
		port:  p,
		lines: make(chan string, lineQueue),
		errs:  make(chan error, 1),
		done:  make(chan struct{}),
	}
}

func (c *conn) readLoop() {
	buf := make([]byte, 128)
	var pending []byte

	for {
		n, err := c.port.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				i := bytes.IndexByte(pending, '\n')
				if i < 0 {
					break
				}
				c.push(strings.TrimRight(string(pending[:i]), "\r"))
				pending = pending[i+1:]
			}
			// garbage without terminators; the decoder would reject it anyway
			if len(pending) > maxLineLen {
				pending = pending[:0]
			}
		}

		select {
		case <-c.done:
			return
		default:
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			if n == 0 {
				select {
				case <-c.done:
					return
				case <-time.After(idleBackoff):
				}
			}
		default:
			c.errs <- err
			return
		}
	}
}

// push enqueues a line, dropping the oldest when the queue is full.
func (c *conn) push(line string) {
	for {
		select {
		case c.lines <- line:
			return
		default:
		}
		select {
		case <-c.lines:
		default:
		}
	}
}

func (c *conn) drain() {
	for {
		select {
		case <-c.lines:
		default:
			return
		}
	}
}

func (c *conn) close() error {
	c.once.Do(func() {
		close(c.done)
		c.err = c.port.Close()
	})
	return c.err
}
