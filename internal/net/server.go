// Package net is the remote console transport: a TCP listener whose
// sessions exchange length-prefixed text frames.
package net

import (
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Server accepts TCP connections and creates Sessions.
// New sessions reach the scheduler through a channel; the Hub notices
// closed ones itself.
type Server struct {
	listener  net.Listener
	nextID    atomic.Uint64
	newConns  chan *Session
	inSize    int
	outSize   int
	cmdPerSec int
	log       *zap.Logger
	closeCh   chan struct{}
	closeOnce sync.Once
}

// Options sizes the per-session queues.
type Options struct {
	InQueueSize  int
	OutQueueSize int
	CmdPerSec    int
}

func NewServer(bindAddr string, opts Options, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	if opts.InQueueSize <= 0 {
		opts.InQueueSize = 16
	}
	if opts.OutQueueSize <= 0 {
		opts.OutQueueSize = 64
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		listener:  ln,
		newConns:  make(chan *Session, 64),
		inSize:    opts.InQueueSize,
		outSize:   opts.OutQueueSize,
		cmdPerSec: opts.CmdPerSec,
		log:       log,
		closeCh:   make(chan struct{}),
	}
	return s, nil
}

// AcceptLoop runs in its own goroutine. It accepts connections, starts
// sessions and pushes them onto the newConns channel.
func (s *Server) AcceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closeCh:
				return // server shutting down
			default:
			}
			s.log.Error("連線接受失敗", zap.Error(err))
			continue
		}

		id := s.nextID.Add(1)
		sess := NewSession(conn, id, s.inSize, s.outSize, s.cmdPerSec, s.log)
		sess.Start()

		s.log.Info("控制台連線", zap.Uint64("session", id), zap.String("ip", sess.IP))

		select {
		case s.newConns <- sess:
		default:
			s.log.Warn("連線佇列已滿，拒絕新連線")
			sess.Close()
		}
	}
}

// NewSessions returns the channel of newly connected sessions.
func (s *Server) NewSessions() <-chan *Session {
	return s.newConns
}

// Shutdown stops accepting new connections. Idempotent.
func (s *Server) Shutdown() {
	s.closeOnce.Do(func() {
		close(s.closeCh)
		s.listener.Close()
	})
}

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
