// FILE: lixenwraith/funnel/router/client.go
package router

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lixenwraith/funnel"
)

var errEmptyFrame = errors.New("router: empty frame")

// Client is the source-process side of the router. Send is
// fire-and-forget: records are framed and buffered locally, a single
// background goroutine delivers them in order once the authoritative
// side is reachable. The buffer is bounded and drops oldest-first on
// overflow. Delivery is at-most-once: a frame lost to a mid-send
// disconnect is dropped and reported, never retransmitted.
type Client struct {
	network string
	address string

	queue chan []byte
	done  chan struct{}
	wg    sync.WaitGroup

	readyTimeout  time.Duration
	retryInterval time.Duration
	dialTimeout   time.Duration
	reporter      funnel.ErrorReporter

	id       string
	started  atomic.Bool
	closed   atomic.Bool
	dropped  atomic.Uint64
	windowUp atomic.Bool // readiness window expired without a connection
}

// ClientOption customizes client behavior
type ClientOption func(*Client)

// WithReadyTimeout bounds the wait for the authoritative side to become
// reachable; records buffered past it are dropped with a reported warning
func WithReadyTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.readyTimeout = d
	}
}

// WithRetryInterval sets the reconnect backoff
func WithRetryInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryInterval = d
	}
}

// WithBufferSize sets the local pre-readiness buffer capacity
func WithBufferSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.queue = make(chan []byte, n)
		}
	}
}

// WithClientReporter sets the side-channel failure reporter
func WithClientReporter(reporter funnel.ErrorReporter) ClientOption {
	return func(c *Client) {
		c.reporter = reporter
	}
}

// NewClient creates and starts a router client for the given address.
// Address forms: "tcp://host:port", "unix:///path/to.sock", or a bare
// "host:port" which is treated as tcp.
func NewClient(addr string, opts ...ClientOption) (*Client, error) {
	network, address, err := parseAddr(addr)
	if err != nil {
		return nil, err
	}

	c := &Client{
		network:       network,
		address:       address,
		queue:         make(chan []byte, 1024),
		done:          make(chan struct{}),
		readyTimeout:  10 * time.Second,
		retryInterval: 250 * time.Millisecond,
		dialTimeout:   2 * time.Second,
		id:            uuid.NewString(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.started.Store(true)
	c.wg.Add(1)
	go c.run()

	return c, nil
}

// ID returns the client's instance identifier
func (c *Client) ID() string {
	return c.id
}

// Dropped returns the number of frames dropped so far
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// Send implements funnel.Forwarder. It never blocks the caller.
func (c *Client) Send(r *funnel.Record) {
	if r == nil || c.closed.Load() {
		return
	}

	// Records emitted after the readiness window elapsed without a
	// connection are dropped immediately rather than buffered forever
	if c.windowUp.Load() {
		c.dropped.Add(1)
		return
	}

	data, err := encodeRecord(r)
	if err != nil {
		c.report(funnel.ErrTransportDisconnected, err)
		c.dropped.Add(1)
		return
	}

	select {
	case c.queue <- data:
	default:
		// Overflow: displace the oldest buffered frame
		select {
		case <-c.queue:
			c.dropped.Add(1)
		default:
		}
		select {
		case c.queue <- data:
		default:
			c.dropped.Add(1)
		}
	}
}

// Close stops the delivery goroutine after a final drain attempt
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)
	c.wg.Wait()
	return nil
}

// run is the single delivery goroutine: dial, flush in order, reconnect
func (c *Client) run() {
	defer c.wg.Done()

	var conn net.Conn
	connected := false
	deadline := time.Now().Add(c.readyTimeout)

	defer func() {
		if conn != nil {
			_ = conn.Close()
		}
	}()

	for {
		if conn == nil {
			var err error
			conn, err = net.DialTimeout(c.network, c.address, c.dialTimeout)
			if err != nil {
				if !connected && !c.windowUp.Load() && time.Now().After(deadline) {
					c.expireWindow()
				}
				select {
				case <-c.done:
					return
				case <-time.After(c.retryInterval):
					continue
				}
			}
			connected = true
			c.windowUp.Store(false)
		}

		select {
		case data := <-c.queue:
			if _, err := conn.Write(data); err != nil {
				// At-most-once: the frame is lost, not retransmitted
				c.report(funnel.ErrTransportDisconnected, err)
				c.dropped.Add(1)
				_ = conn.Close()
				conn = nil
			}
		case <-c.done:
			c.drainTo(conn)
			return
		}
	}
}

// drainTo makes a final best-effort flush of buffered frames on close
func (c *Client) drainTo(conn net.Conn) {
	if conn == nil {
		c.dropQueued()
		return
	}
	for {
		select {
		case data := <-c.queue:
			if _, err := conn.Write(data); err != nil {
				c.dropped.Add(1)
				c.dropQueued()
				return
			}
		default:
			return
		}
	}
}

// expireWindow drops everything buffered and reports once
func (c *Client) expireWindow() {
	c.windowUp.Store(true)
	n := c.dropQueued()
	c.report(funnel.ErrTransportDisconnected,
		fmt.Errorf("router: authoritative side unreachable within readiness window (%v) on %s://%s, dropped %d buffered records",
			c.readyTimeout, c.network, c.address, n))
}

func (c *Client) dropQueued() uint64 {
	var n uint64
	for {
		select {
		case <-c.queue:
			n++
		default:
			c.dropped.Add(n)
			return n
		}
	}
}

func (c *Client) report(kind error, cause error) {
	if c.reporter == nil {
		return
	}
	func() {
		defer func() { _ = recover() }()
		c.reporter(errors.Join(kind, cause))
	}()
}

// parseAddr splits a scheme-prefixed address into network and address
func parseAddr(addr string) (string, string, error) {
	switch {
	case strings.HasPrefix(addr, "tcp://"):
		return "tcp", strings.TrimPrefix(addr, "tcp://"), nil
	case strings.HasPrefix(addr, "unix://"):
		return "unix", strings.TrimPrefix(addr, "unix://"), nil
	case strings.Contains(addr, "://"):
		return "", "", errors.New("router: unsupported address scheme: " + addr)
	case addr == "":
		return "", "", errors.New("router: address cannot be empty")
	default:
		return "tcp", addr, nil
	}
}
