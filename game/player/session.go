package player

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendChanBuf   = 256
	writeDeadline = 10 * time.Second
	readDeadline  = 60 * time.Second
	pingInterval  = 30 * time.Second
)

// Transport names.
const (
	TransportWS  = "ws"
	TransportSSE = "sse"
)

// Packet is the unified push envelope for both transports.
type Packet struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Session is one open stream to a player. Outbound packets go through
// SendChan; a WebSocket session drains it in writePump, an SSE handler
// drains it itself.
type Session struct {
	UserID    int64
	Name      string
	Transport string
	TraceID   string
	Conn      *websocket.Conn
	// LastSeq is the highest client sequence seen; only the reader touches it.
	LastSeq uint64

	SendChan chan []byte
	Done     chan struct{}

	mu     sync.Mutex
	seq    uint64
	x, y   int
	logger *zap.Logger
}

// NewSession creates a session without a socket, used for SSE.
func NewSession(userID int64, name, transport string, logger *zap.Logger) *Session {
	return &Session{
		UserID:    userID,
		Name:      name,
		Transport: transport,
		SendChan:  make(chan []byte, sendChanBuf),
		Done:      make(chan struct{}),
		logger:    logger,
	}
}

// NewWSSession creates a WebSocket session with its write goroutine started.
func NewWSSession(userID int64, name string, conn *websocket.Conn, logger *zap.Logger) *Session {
	s := NewSession(userID, name, TransportWS, logger)
	s.Conn = conn
	go s.writePump()
	return s
}

// writePump drains SendChan to the socket and pings on an interval so
// dead connections are noticed.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer s.Conn.Close()
	for {
		select {
		case data := <-s.SendChan:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Warn("ws write error", zap.Int64("user_id", s.UserID), zap.Error(err))
				s.Close()
				return
			}
		case <-ticker.C:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		case <-s.Done:
			_ = s.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send stamps pkt with the next sequence number and queues it without
// blocking. Packets are dropped when the queue is full or the session is
// closed.
func (s *Session) Send(pkt *Packet) {
	if s.IsClosed() {
		return
	}
	s.mu.Lock()
	s.seq++
	pkt.Seq = s.seq
	s.mu.Unlock()
	data, err := json.Marshal(pkt)
	if err != nil {
		s.logger.Error("packet encode failed", zap.String("type", pkt.Type), zap.Error(err))
		return
	}
	s.SendRaw(data)
}

// SendRaw queues pre-encoded bytes without blocking.
func (s *Session) SendRaw(data []byte) {
	if s.IsClosed() {
		return
	}
	select {
	case s.SendChan <- data:
	case <-s.Done:
	default:
		s.logger.Warn("send channel full, dropping packet", zap.Int64("user_id", s.UserID))
	}
}

// Close signals the writer to shut down. It is safe to call repeatedly.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.Done:
	default:
		close(s.Done)
	}
}

func (s *Session) IsClosed() bool {
	select {
	case <-s.Done:
		return true
	default:
		return false
	}
}

// SetPosition records the tile the push loop last rendered for.
func (s *Session) SetPosition(x, y int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.x, s.y = x, y
}

func (s *Session) Position() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.x, s.y
}

// SendHeartbeatPong answers a client ping.
func (s *Session) SendHeartbeatPong(clientTS int64) {
	payload, _ := json.Marshal(struct {
		ClientTS int64 `json:"client_ts"`
		ServerTS int64 `json:"server_ts"`
	}{clientTS, time.Now().UnixMilli()})
	s.Send(&Packet{Type: "pong", Payload: payload})
}

// SetReadDeadline pushes the socket read deadline forward.
func (s *Session) SetReadDeadline() {
	if s.Conn != nil {
		_ = s.Conn.SetReadDeadline(time.Now().Add(readDeadline))
	}
}
