package server

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"signoffws/internal/metrics"
	"signoffws/internal/registry"
	"signoffws/internal/session"
	"signoffws/internal/wire"
	"signoffws/pkg/types"
)

// performHandshake runs once the receive buffer holds a complete header
// block. Validation order matters: request shape first, then the upgrade
// key, then authentication. Any rejection writes a plain HTTP error and
// tears the connection down.
func (s *Server) performHandshake(ctx context.Context, c *registry.Conn) {
	req, err := wire.ParseUpgrade(c.Buf)
	if err != nil {
		s.rejectHandshake(c, metrics.ReasonBadRequest, 400, "Bad Request", "Invalid request.")
		return
	}

	key := req.WebSocketKey()
	if key == "" {
		s.rejectHandshake(c, metrics.ReasonBadRequest, 400, "Bad Request", "Missing Sec-WebSocket-Key header.")
		return
	}

	sessionID := req.Cookie(s.cfg.Session.CookieName)
	user, err := s.lookupUser(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, session.ErrNoSession) {
			s.log.Warn("session lookup failed", zap.String("conn_id", c.ID), zap.Error(err))
		}
		s.rejectHandshake(c, metrics.ReasonUnauthorized, 401, "Unauthorized", "Authentication required.")
		return
	}

	if err := s.writeRaw(c, wire.SwitchingProtocols(wire.AcceptKey(key))); err != nil {
		s.removeConn(c.ID)
		return
	}

	s.configureConn(c, req, user)
	s.metrics.HandshakesAccepted.Inc()
	s.log.Info("client connected",
		zap.String("conn_id", c.ID),
		zap.Int64("user_id", user.ID),
		zap.Strings("channels", c.Channels))
}

func (s *Server) lookupUser(ctx context.Context, sessionID string) (*types.User, error) {
	if sessionID == "" {
		return nil, session.ErrNoSession
	}
	return s.sessions.Lookup(ctx, sessionID)
}

// configureConn fixes the connection's identity, subscriptions and cursors
// for its remaining lifetime. Residual bytes pipelined behind the header
// block are dropped with the buffer reset.
func (s *Server) configureConn(c *registry.Conn, req *wire.UpgradeRequest, user *types.User) {
	c.Handshaked = true
	c.User = user
	c.ResetBuffer()

	c.Channels = types.ResolveChannels(req.Query["channels"])
	c.ChangeChannels = types.ChangeChannels(c.Channels)
	c.TAEnabled = types.HasChannel(c.Channels, types.ChannelTAAccept)

	c.CourseID = types.ParseID(req.Query.Get("course_id"))
	c.RoomID = types.ParseID(req.Query.Get("room_id"))
	c.QueueIDs = types.ParseIDList(req.Query["queue_id"])

	since := types.ParseID(req.Query.Get("since"))
	c.ChangeCursor = since
	if req.Query.Has("ta_since") {
		c.TACursor = types.ParseID(req.Query.Get("ta_since"))
	} else {
		c.TACursor = since
	}

	now := time.Now()
	c.LastChangePoll = now
	c.LastTAPoll = now
}

func (s *Server) rejectHandshake(c *registry.Conn, reason string, status int, title, body string) {
	s.metrics.HandshakesRejected.WithLabelValues(reason).Inc()
	_ = s.writeRaw(c, wire.HTTPError(status, title, body))
	s.removeConn(c.ID)
}
