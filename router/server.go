// FILE: lixenwraith/funnel/router/server.go
package router

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lixenwraith/funnel"
	"github.com/panjf2000/gnet/v2"
	"github.com/panjf2000/gnet/v2/pkg/logging"
)

// Sink receives routed records on the authoritative side.
// *funnel.Logger satisfies it through its Ingest method.
type Sink interface {
	Ingest(r *funnel.Record)
}

// Server is the authoritative receiving side of the router. One gnet
// event loop accepts source connections, reassembles newline-delimited
// frames per connection and hands decoded records to the sink. Frames
// within one connection are delivered in arrival order; no cross-source
// order is imposed.
type Server struct {
	gnet.BuiltinEventEngine

	addr      string
	sink      Sink
	reporter  funnel.ErrorReporter
	engLogger logging.Logger

	eng     gnet.Engine
	booted  atomic.Bool
	stopped atomic.Bool

	received atomic.Uint64
	rejected atomic.Uint64
}

// connState buffers the partial frame of one source connection
type connState struct {
	buf []byte
}

// ServerOption customizes server behavior
type ServerOption func(*Server)

// WithServerReporter sets the side-channel failure reporter
func WithServerReporter(reporter funnel.ErrorReporter) ServerOption {
	return func(s *Server) {
		s.reporter = reporter
	}
}

// WithEngineLogger routes gnet's own diagnostics through the given logger
func WithEngineLogger(l logging.Logger) ServerOption {
	return func(s *Server) {
		s.engLogger = l
	}
}

// NewServer creates a router server listening on addr once Run is called.
// Address forms match gnet: "tcp://host:port" or "unix:///path/to.sock".
func NewServer(addr string, sink Sink, opts ...ServerOption) (*Server, error) {
	if sink == nil {
		return nil, errors.New("router: sink cannot be nil")
	}
	if _, _, err := parseAddr(addr); err != nil {
		return nil, err
	}

	s := &Server{
		addr: addr,
		sink: sink,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run starts the event loop and blocks until the server stops.
// Activating the server is what makes the router exist: clients buffer
// locally until this side is reachable.
func (s *Server) Run() error {
	opts := []gnet.Option{
		gnet.WithMulticore(false),
		gnet.WithReuseAddr(true),
	}
	if s.engLogger != nil {
		opts = append(opts, gnet.WithLogger(s.engLogger))
	}

	addr := s.addr
	if !strings.Contains(addr, "://") {
		addr = "tcp://" + addr
	}

	return gnet.Run(s, addr, opts...)
}

// Stop shuts the event loop down
func (s *Server) Stop(ctx context.Context) error {
	if !s.booted.Load() || !s.stopped.CompareAndSwap(false, true) {
		return nil
	}
	return s.eng.Stop(ctx)
}

// WaitReady blocks until the event loop has booted or the timeout elapses
func (s *Server) WaitReady(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.booted.Load() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return s.booted.Load()
}

// Received returns the number of records delivered to the sink
func (s *Server) Received() uint64 {
	return s.received.Load()
}

// OnBoot captures the engine for Stop
func (s *Server) OnBoot(eng gnet.Engine) gnet.Action {
	s.eng = eng
	s.booted.Store(true)
	return gnet.None
}

// OnOpen attaches per-connection frame state
func (s *Server) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	c.SetContext(&connState{})
	return nil, gnet.None
}

// OnClose reports any abnormal source disconnect
func (s *Server) OnClose(c gnet.Conn, err error) gnet.Action {
	if err != nil {
		s.report(funnel.ErrTransportDisconnected, err)
	}
	return gnet.None
}

// OnTraffic reassembles frames and feeds complete records to the sink
func (s *Server) OnTraffic(c gnet.Conn) gnet.Action {
	data, err := c.Next(-1)
	if err != nil {
		s.report(funnel.ErrTransportDisconnected, err)
		return gnet.Close
	}

	st, _ := c.Context().(*connState)
	if st == nil {
		st = &connState{}
		c.SetContext(st)
	}

	// gnet reuses the buffer returned by Next; frames must be copied out
	st.buf = append(st.buf, data...)

	for {
		idx := bytes.IndexByte(st.buf, '\n')
		if idx < 0 {
			break
		}
		line := st.buf[:idx]
		rec, decErr := decodeRecord(line)
		st.buf = st.buf[idx+1:]
		if decErr != nil {
			if !errors.Is(decErr, errEmptyFrame) {
				s.rejected.Add(1)
				s.report(funnel.ErrTransportDisconnected, decErr)
			}
			continue
		}
		s.sink.Ingest(rec)
		s.received.Add(1)
	}

	// Compact the remainder so the slice does not grow unbounded
	if len(st.buf) == 0 {
		st.buf = nil
	} else {
		st.buf = append([]byte(nil), st.buf...)
	}

	return gnet.None
}

func (s *Server) report(kind error, cause error) {
	if s.reporter == nil {
		return
	}
	func() {
		defer func() { _ = recover() }()
		s.reporter(errors.Join(kind, cause))
	}()
}
