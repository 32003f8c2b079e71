// Package server runs the WebSocket listener and its single-goroutine event
// loop. One goroutine owns every connection: each tick accepts pending
// sockets, gives every connection a short read window, then runs the
// per-connection database polls. No connection state is ever touched from
// another goroutine, so none of it is locked.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"signoffws/internal/config"
	"signoffws/internal/metrics"
	"signoffws/internal/poller"
	"signoffws/internal/registry"
	"signoffws/internal/session"
	"signoffws/internal/wire"
	"signoffws/pkg/types"
)

// Server is the event loop and the state it owns.
type Server struct {
	cfg      *config.Config
	registry *registry.Registry
	sessions session.Store
	changes  *poller.ChangeLogPoller
	ta       *poller.TAPoller
	metrics  *metrics.Metrics
	log      *zap.Logger

	ln      *net.TCPListener
	readBuf []byte
}

// New wires the loop's collaborators. Listen must be called before Run.
func New(
	cfg *config.Config,
	reg *registry.Registry,
	sessions session.Store,
	changes *poller.ChangeLogPoller,
	ta *poller.TAPoller,
	m *metrics.Metrics,
	log *zap.Logger,
) *Server {
	return &Server{
		cfg:      cfg,
		registry: reg,
		sessions: sessions,
		changes:  changes,
		ta:       ta,
		metrics:  m,
		log:      log,
		readBuf:  make([]byte, cfg.Server.ReadBufferSize),
	}
}

// Listen binds the WebSocket listener. A bind failure is fatal to startup.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.cfg.ListenAddr(), err)
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return fmt.Errorf("listener on %s is not TCP", s.cfg.ListenAddr())
	}
	s.ln = tcpLn
	s.log.Info("websocket listener bound", zap.String("addr", tcpLn.Addr().String()))
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Run drives the event loop until ctx is cancelled, then closes every
// connection and the listener.
func (s *Server) Run(ctx context.Context) {
	defer s.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.acceptPending()
		s.readPhase(ctx)
		s.pollPhase(ctx)
	}
}

func (s *Server) shutdown() {
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.registry.CloseAll()
	s.metrics.ConnectionsActive.Set(0)
	s.log.Info("event loop stopped")
}

// acceptPending drains the accept queue, waiting at most one tick interval.
// The deadline bounds the wait so polling still runs on an idle listener.
func (s *Server) acceptPending() {
	_ = s.ln.SetDeadline(time.Now().Add(s.cfg.Server.TickInterval))
	for {
		sock, err := s.ln.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); !ok || !netErr.Timeout() {
				s.log.Debug("accept failed", zap.Error(err))
			}
			return
		}
		c := registry.NewConn(sock)
		s.registry.Add(c)
		s.metrics.ConnectionsActive.Set(float64(s.registry.Len()))
		s.log.Debug("connection accepted",
			zap.String("conn_id", c.ID),
			zap.String("remote", sock.RemoteAddr().String()))
	}
}

// readPhase gives every connection one short, non-blocking-in-spirit read
// window, then advances its protocol state: pre-handshake connections wait
// for a complete header block, post-handshake connections drain control
// frames.
func (s *Server) readPhase(ctx context.Context) {
	now := time.Now()
	for _, c := range s.registry.Snapshot() {
		if !s.registry.Has(c.ID) {
			continue
		}

		sock := c.Socket()
		_ = sock.SetReadDeadline(now.Add(s.cfg.Server.ReadWait))
		n, err := sock.Read(s.readBuf)
		if n > 0 {
			c.Append(s.readBuf[:n])
		}
		if err != nil {
			if netErr, ok := err.(net.Error); !ok || !netErr.Timeout() {
				s.log.Debug("connection read failed", zap.String("conn_id", c.ID), zap.Error(err))
				s.removeConn(c.ID)
				continue
			}
		}

		if !c.Handshaked {
			if wire.HasHeaderBlock(c.Buf) {
				s.performHandshake(ctx, c)
			} else if now.Sub(c.AcceptedAt) > s.cfg.Server.HandshakeTimeout {
				s.log.Debug("handshake deadline exceeded", zap.String("conn_id", c.ID))
				s.removeConn(c.ID)
			}
			continue
		}

		s.drainFrames(c)
	}
}

// drainFrames consumes every complete frame buffered on the connection.
// Clients never send application data on this protocol; only close and ping
// get a response.
func (s *Server) drainFrames(c *registry.Conn) {
	for {
		frame, consumed, ok := wire.ParseFrame(c.Buf)
		if !ok {
			return
		}
		c.Discard(consumed)

		switch frame.Opcode {
		case wire.OpClose:
			_ = s.writeRaw(c, wire.EncodeClose(wire.CloseNormal, ""))
			s.log.Debug("client closed", zap.String("conn_id", c.ID))
			s.removeConn(c.ID)
			return
		case wire.OpPing:
			if err := s.writeRaw(c, wire.EncodeFrame(frame.Payload, wire.OpPong)); err != nil {
				s.removeConn(c.ID)
				return
			}
		}
	}
}

// pollPhase runs the per-connection database polls whose intervals have
// elapsed. A poll error is logged and retried on a later tick; the cursor
// does not move past undelivered rows.
func (s *Server) pollPhase(ctx context.Context) {
	now := time.Now()
	for _, c := range s.registry.Snapshot() {
		if !s.registry.Has(c.ID) || !c.Handshaked {
			continue
		}

		if len(c.ChangeChannels) > 0 && now.Sub(c.LastChangePoll) >= s.cfg.Poll.ChangeInterval {
			c.LastChangePoll = now
			s.pollChangeLog(ctx, c)
		}
		if s.registry.Has(c.ID) && c.TAEnabled && now.Sub(c.LastTAPoll) >= s.cfg.Poll.TAInterval {
			c.LastTAPoll = now
			s.pollTA(ctx, c)
		}
	}
}

func (s *Server) pollChangeLog(ctx context.Context, c *registry.Conn) {
	events, err := s.changes.Fetch(ctx, poller.ChangeQuery{
		Cursor:   c.ChangeCursor,
		Channels: c.ChangeChannels,
		CourseID: c.CourseID,
		RoomID:   c.RoomID,
		QueueIDs: c.QueueIDs,
	})
	if err != nil {
		s.metrics.PollErrors.WithLabelValues(metrics.SourceChangeLog).Inc()
		s.log.Debug("change log poll failed", zap.String("conn_id", c.ID), zap.Error(err))
		return
	}

	for _, ev := range events {
		if ev.ID <= c.ChangeCursor {
			continue
		}
		c.ChangeCursor = ev.ID
		if !s.push(c, ev.Channel, ev, metrics.SourceChangeLog) {
			return
		}
	}
}

func (s *Server) pollTA(ctx context.Context, c *registry.Conn) {
	events, next, err := s.ta.Fetch(ctx, c.User.ID, c.TACursor)
	if err != nil {
		s.metrics.PollErrors.WithLabelValues(metrics.SourceTA).Inc()
		s.log.Debug("ta assignment poll failed", zap.String("conn_id", c.ID), zap.Error(err))
		return
	}

	c.TACursor = next
	for _, ev := range events {
		if !s.push(c, types.ChannelTAAccept, ev, metrics.SourceTA) {
			return
		}
	}
}

// push sends one event envelope as a text frame. A write failure removes
// the connection and reports false so the caller stops its delivery run.
func (s *Server) push(c *registry.Conn, event string, data any, source string) bool {
	payload, err := json.Marshal(types.NewEvent(event, data))
	if err != nil {
		s.log.Error("event marshal failed", zap.String("event", event), zap.Error(err))
		return true
	}
	if err := s.writeRaw(c, wire.EncodeFrame(payload, wire.OpText)); err != nil {
		s.log.Debug("event write failed", zap.String("conn_id", c.ID), zap.Error(err))
		s.removeConn(c.ID)
		return false
	}
	s.metrics.EventsDelivered.WithLabelValues(source).Inc()
	return true
}

func (s *Server) writeRaw(c *registry.Conn, data []byte) error {
	sock := c.Socket()
	_ = sock.SetWriteDeadline(time.Now().Add(s.cfg.Server.WriteTimeout))
	_, err := sock.Write(data)
	return err
}

func (s *Server) removeConn(id string) {
	s.registry.Remove(id)
	s.metrics.ConnectionsActive.Set(float64(s.registry.Len()))
}
