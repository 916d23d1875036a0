package net

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// writeTimeout bounds a single frame write to a console client.
const writeTimeout = 10 * time.Second

// Session is one console connection. Network I/O runs in dedicated
// goroutines; commands are consumed and replies produced only on the
// scheduler goroutine.
type Session struct {
	ID   uint64
	conn net.Conn

	InQueue  chan string // scheduler reads command lines from here
	OutQueue chan []byte // writer goroutine reads from here

	IP string

	outBuf [][]byte // buffered replies, flushed once per frame (scheduler only)

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	// Per-second command rate limiter (readLoop goroutine only, no lock needed)
	cmdPerSec  int   // max commands/sec (0 = unlimited)
	cmdCount   int   // commands received this second
	cmdResetAt int64 // unix second of last counter reset

	log *zap.Logger
}

func NewSession(conn net.Conn, id uint64, inSize, outSize, cmdPerSec int, log *zap.Logger) *Session {
	return &Session{
		ID:        id,
		conn:      conn,
		InQueue:   make(chan string, inSize),
		OutQueue:  make(chan []byte, outSize),
		IP:        conn.RemoteAddr().String(),
		closeCh:   make(chan struct{}),
		cmdPerSec: cmdPerSec,
		log:       log.With(zap.Uint64("session", id)),
	}
}

// Start launches the reader and writer goroutines.
func (s *Session) Start() {
	go s.readLoop()
	go s.writeLoop()
}

// Send buffers a reply. Nothing is written until FlushOutput.
// Called only from the scheduler goroutine; outBuf needs no lock.
func (s *Session) Send(line string) {
	if s.closed.Load() {
		return
	}
	s.outBuf = append(s.outBuf, []byte(line))
}

// FlushOutput drains the reply buffer to OutQueue for the writeLoop goroutine.
// Non-blocking: if OutQueue is full, the session is disconnected (backpressure).
func (s *Session) FlushOutput() {
	for _, data := range s.outBuf {
		select {
		case s.OutQueue <- data:
		default:
			s.log.Warn("輸出佇列已滿，斷開慢速連線")
			s.Close()
			clear(s.outBuf)
			s.outBuf = s.outBuf[:0]
			return
		}
	}
	clear(s.outBuf)
	s.outBuf = s.outBuf[:0]
}

// Close shuts the session down. Safe from any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.closeCh)
		s.conn.Close()
	})
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.closeCh
}

// readLoop reads frames from the connection and pushes trimmed command lines
// onto InQueue. Empty frames are keep-alives.
func (s *Session) readLoop() {
	defer s.Close()

	for {
		payload, err := ReadFrame(s.conn)
		if err != nil {
			if !s.closed.Load() {
				s.log.Debug("讀取錯誤", zap.Error(err))
			}
			return
		}
		line := strings.TrimSpace(string(payload))
		if line == "" {
			continue
		}

		if s.cmdPerSec > 0 {
			now := time.Now().Unix()
			if now != s.cmdResetAt {
				s.cmdCount = 0
				s.cmdResetAt = now
			}
			s.cmdCount++
			if s.cmdCount > s.cmdPerSec {
				s.log.Warn("指令速率超限，斷開連線", zap.Int("cps", s.cmdCount))
				return
			}
		}

		// Block until InQueue has space: backpressure lands on this client only.
		select {
		case s.InQueue <- line:
		case <-s.closeCh:
			return
		}
	}
}

// writeLoop writes queued replies as frames.
func (s *Session) writeLoop() {
	defer s.Close()

	for {
		select {
		case data := <-s.OutQueue:
			if !s.writeOne(data) {
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

func (s *Session) writeOne(data []byte) bool {
	s.log.Debug("TX", zap.Int("len", len(data)))

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := WriteFrame(s.conn, data); err != nil {
		if !s.closed.Load() {
			s.log.Debug("寫入錯誤", zap.Error(err))
		}
		return false
	}
	return true
}

func (s *Session) String() string {
	return fmt.Sprintf("session=%d ip=%s", s.ID, s.IP)
}
