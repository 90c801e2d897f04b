// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of ssh-agentd.
//
// ssh-agentd is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package agentlisten implements the Listener: it accepts connections
// on a Unix domain socket and constructs a ConnectionFSM, ResponseQueue
// and ClientRegistry entry per client.
package agentlisten

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/jeremyhahn/ssh-agentd/internal/agentclients"
	"github.com/jeremyhahn/ssh-agentd/internal/agentconn"
	"github.com/jeremyhahn/ssh-agentd/internal/agentlog"
	"github.com/jeremyhahn/ssh-agentd/internal/agentqueue"
	"github.com/jeremyhahn/ssh-agentd/pkg/agentdispatch"
	"github.com/jeremyhahn/ssh-agentd/pkg/agentwire"
	"github.com/jeremyhahn/ssh-agentd/pkg/correlation"
	"github.com/jeremyhahn/ssh-agentd/pkg/metrics"
	"github.com/jeremyhahn/ssh-agentd/pkg/ratelimit"
)

// Config configures the Listener's transport.
type Config struct {
	// SocketPath is the Unix domain socket path to bind. This is the
	// only concrete transport wired here; named-endpoint and
	// inherited-socket transports are out of scope (see SPEC_FULL.md).
	SocketPath string
	// SocketMode is the file mode applied to the socket after bind.
	SocketMode os.FileMode
	// MaxMessageLength bounds a single frame's payload (AGENT_MAX_MSGLEN
	// unless overridden).
	MaxMessageLength uint32
}

// Listener accepts connections and drives each one's ConnectionFSM,
// ResponseQueue and ClientRegistry entry. One goroutine is spawned per
// accepted connection; each goroutine itself behaves like the
// single-threaded event loop the protocol assumes (exactly one
// handler executing at a time, in FIFO reply order), matching the
// design note that a cooperative async task per connection is an
// acceptable rendering of the source's single-threaded scheduler.
type Listener struct {
	cfg      Config
	handler  *agentdispatch.Handler
	registry *agentclients.Registry
	limiter  *ratelimit.Limiter
	logger   agentlog.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// New returns a Listener that dispatches accepted connections' requests
// through handler, rate-limited per-connection by limiter (nil
// disables rate limiting).
func New(cfg Config, handler *agentdispatch.Handler, limiter *ratelimit.Limiter, logger agentlog.Logger) *Listener {
	if cfg.SocketMode == 0 {
		cfg.SocketMode = 0600
	}
	if cfg.MaxMessageLength == 0 {
		cfg.MaxMessageLength = agentwire.AgentMaxMsgLen
	}
	return &Listener{
		cfg:      cfg,
		handler:  handler,
		registry: agentclients.NewRegistry(),
		limiter:  limiter,
		logger:   logger,
	}
}

// Serve binds the Unix domain socket and accepts connections until
// Stop is called or the listener errors. It blocks.
func (l *Listener) Serve() error {
	socketDir := filepath.Dir(l.cfg.SocketPath)
	if err := os.MkdirAll(socketDir, 0750); err != nil {
		return fmt.Errorf("agentlisten: create socket directory: %w", err)
	}
	if err := os.Remove(l.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("agentlisten: remove existing socket: %w", err)
	}

	ln, err := net.Listen("unix", l.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("agentlisten: listen: %w", err)
	}
	if err := os.Chmod(l.cfg.SocketPath, l.cfg.SocketMode); err != nil {
		_ = ln.Close()
		return fmt.Errorf("agentlisten: chmod socket: %w", err)
	}

	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()

	if l.logger != nil {
		l.logger.Info("listening", agentlog.String("socket", l.cfg.SocketPath))
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			if l.isClosing() {
				return nil
			}
			return fmt.Errorf("agentlisten: accept: %w", err)
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handleConn(conn)
		}()
	}
}

func (l *Listener) isClosing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.listener == nil
}

// Stop closes the listener and waits for in-flight connections to
// drain (or ctx to expire) before returning.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	ln := l.listener
	l.listener = nil
	l.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	if err := os.Remove(l.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		if l.logger != nil {
			l.logger.Warn("failed to remove socket file", agentlog.Error(err))
		}
	}
	return ctx.Err()
}

// ClientCount returns the number of currently-connected clients.
func (l *Listener) ClientCount() int {
	return l.registry.Count()
}

func (l *Listener) handleConn(conn net.Conn) {
	defer conn.Close()

	client := l.registry.Register()
	defer l.registry.Unregister(client)

	metrics.IncrementActiveConnections()
	defer metrics.DecrementActiveConnections()

	fsm := agentconn.New(l.cfg.MaxMessageLength)
	queue := agentqueue.New()

	buf := make([]byte, 32*1024)
	for {
		if l.limiter != nil {
			if err := l.limiter.WaitConn(context.Background(), conn); err != nil {
				return
			}
		}

		n, err := conn.Read(buf)
		if n > 0 {
			frames := fsm.Feed(buf[:n])
			for _, frame := range frames {
				l.dispatchFrame(conn, client, queue, frame)
			}
		}
		if err != nil {
			return
		}
	}
}

func (l *Listener) dispatchFrame(conn net.Conn, client *agentclients.Client, queue *agentqueue.Queue, frame agentconn.Frame) {
	slot := queue.Enqueue()

	if frame.Kind == agentconn.FrameOverlong {
		metrics.RecordFailure(metrics.ReasonOverlongFrame)
		l.writeReplies(conn, queue.Complete(slot, []byte{agentwire.SSHAgentFailure}))
		return
	}

	reqID := correlation.NewID()
	ctx := correlation.WithCorrelationID(context.Background(), reqID)

	op := &agentclients.PendingOp{RequestID: reqID, Slot: slot}
	client.Track(op)
	reply := l.handler.Handle(ctx, frame.Payload, agentdispatch.Opts{})
	client.Untrack(op)

	// A suspended handler that resumes after its client vanished must
	// produce no output (§4.6); since every handler here runs to
	// completion synchronously, the only way op.Client() reads nil by
	// this point is that the client was already unregistered, in which
	// case the reply is dropped without writing anything.
	if op.Client() == nil {
		return
	}
	l.writeReplies(conn, queue.Complete(slot, reply))
}

func (l *Listener) writeReplies(conn net.Conn, replies [][]byte) {
	for _, reply := range replies {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(reply)))
		if _, err := conn.Write(lenBuf[:]); err != nil {
			return
		}
		if _, err := conn.Write(reply); err != nil {
			return
		}
	}
}
