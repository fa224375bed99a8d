package core

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/Dyastin-0/gocp/logger"
	"github.com/google/uuid"
)

// Server receives one datagram at a time and dispatches it by message type.
// Handlers run to completion before the next read.
type Server struct {
	addr    string
	proto   *Proto
	tracker *Tracker
	state   *StateMachine
	log     logger.Logger

	// OnText, if set, sees every text message before it is echoed.
	OnText func(from net.Addr, text string)
}

func NewServer(addr string, tracker *Tracker, log logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}

	log = log.WithStr("server", uuid.NewString())

	return &Server{
		addr:    addr,
		proto:   NewProto(),
		tracker: tracker,
		state:   NewStateMachine(log),
		log:     log,
	}
}

func (s *Server) State() *StateMachine {
	return s.state
}

func (s *Server) Tracker() *Tracker {
	return s.tracker
}

// ListenAndServe binds addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.state.Transition(StateConnecting)

	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", s.addr)
	if err != nil {
		return s.state.Fail(fmt.Errorf("%w: %w", ErrTransport, err))
	}

	return s.Serve(ctx, conn)
}

// Serve runs the dispatch loop on conn. conn is closed when ctx is done, at
// which point Serve releases unfinished transfers and returns nil.
func (s *Server) Serve(ctx context.Context, conn net.PacketConn) error {
	s.state.Transition(StateConnected)
	s.log.WithStr("addr", conn.LocalAddr().String()).Info("server listening")

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	buf := make([]byte, MaxDatagramSize)

	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return s.shutdown(conn)
			}

			s.state.Fail(fmt.Errorf("%w: %w", ErrTransport, err))
			continue
		}

		if n == 0 {
			s.state.Fail(fmt.Errorf("%w: empty read", ErrTransport))
			continue
		}

		s.handle(conn, buf[:n], addr)
	}
}

func (s *Server) shutdown(conn net.PacketConn) error {
	s.state.Transition(StateDisconnecting)

	conn.Close()

	err := s.tracker.Close()
	if err != nil {
		s.log.WithErr(err).Warn("failed to close transfers")
	}

	s.state.Transition(StateDisconnected)
	s.log.Info("server stopped")

	return nil
}

func (s *Server) handle(w net.PacketConn, data []byte, addr net.Addr) {
	log := s.log.WithStr("peer", addr.String())
	log.WithInt("bytes", len(data)).Debug("datagram received")

	msgType, err := s.proto.PeekType(data)
	if err != nil {
		s.reject(w, addr, err)
		return
	}

	switch msgType {
	case TypeText:
		err = s.handleText(w, data, addr, log)
	case TypeFileTransferRequest:
		err = s.handleFileTransferRequest(w, data, addr, log)
	case TypeFileSegment:
		err = s.handleFileSegment(w, data, addr, log)
	case TypeFileSegmentAck:
		err = s.handleFileSegmentAck(data, log)
	case TypeFileTransferComplete:
		err = s.handleFileTransferComplete(data, log)
	default:
		err = fmt.Errorf("%w: %d", ErrUnknownType, msgType)
	}

	if err != nil {
		s.reject(w, addr, err)
		return
	}

	s.state.Recover()
}

// reject routes err through the Error state and tells the peer about it.
func (s *Server) reject(w net.PacketConn, addr net.Addr, err error) {
	s.state.Fail(err)

	if errors.Is(err, ErrTransport) {
		return
	}

	out, serr := s.proto.SerializeError(&ErrorMessage{
		Code:   CodeOf(err),
		FileID: fileIDOf(err),
	})
	if serr != nil {
		s.log.WithErr(serr).Error("failed to encode error reply")
		return
	}

	if _, werr := w.WriteTo(out, addr); werr != nil {
		s.state.Fail(fmt.Errorf("%w: %w", ErrTransport, werr))
	}
}

func (s *Server) reply(w net.PacketConn, addr net.Addr, out []byte) error {
	if _, err := w.WriteTo(out, addr); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}
