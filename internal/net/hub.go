package net

import "go.uber.org/zap"

// Hub tracks live console sessions on the scheduler goroutine. Poll and
// Flush are meant to be called once per frame.
type Hub struct {
	srv         *Server
	sessions    map[uint64]*Session
	order       []uint64
	maxPerFrame int
	log         *zap.Logger
}

// NewHub wraps srv. At most maxPerFrame commands are taken per Poll
// (unlimited when <= 0); the rest wait in the session queues.
func NewHub(srv *Server, maxPerFrame int, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		srv:         srv,
		sessions:    make(map[uint64]*Session),
		maxPerFrame: maxPerFrame,
		log:         log,
	}
}

// Poll registers new sessions, drops closed ones and hands queued command
// lines to fn in session order. Returns the number of commands delivered.
func (h *Hub) Poll(fn func(sess *Session, line string)) int {
	h.accept()

	n := 0
	for _, id := range h.order {
		sess := h.sessions[id]
	drain:
		for h.maxPerFrame <= 0 || n < h.maxPerFrame {
			select {
			case line := <-sess.InQueue:
				fn(sess, line)
				n++
			default:
				break drain
			}
		}
	}
	h.reap()
	return n
}

// Flush pushes buffered replies to the writer goroutines.
func (h *Hub) Flush() {
	for _, id := range h.order {
		h.sessions[id].FlushOutput()
	}
}

// Broadcast queues line for every live session.
func (h *Hub) Broadcast(line string) {
	for _, id := range h.order {
		h.sessions[id].Send(line)
	}
}

// Has reports whether session id is still live.
func (h *Hub) Has(id uint64) bool {
	_, ok := h.sessions[id]
	return ok
}

// Len returns the number of live sessions.
func (h *Hub) Len() int { return len(h.sessions) }

// Close stops the server and closes every session.
func (h *Hub) Close() {
	h.srv.Shutdown()
	h.accept()
	for _, id := range h.order {
		h.sessions[id].Close()
	}
	clear(h.sessions)
	h.order = h.order[:0]
}

func (h *Hub) accept() {
	for {
		select {
		case sess := <-h.srv.NewSessions():
			h.sessions[sess.ID] = sess
			h.order = append(h.order, sess.ID)
		default:
			return
		}
	}
}

func (h *Hub) reap() {
	live := h.order[:0]
	for _, id := range h.order {
		sess := h.sessions[id]
		if sess.IsClosed() {
			delete(h.sessions, id)
			h.log.Info("控制台斷線", zap.Uint64("session", id))
			continue
		}
		live = append(live, id)
	}
	h.order = live
}
